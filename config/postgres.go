package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// PostgresConfig configures the optional bar mirror database.
type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`

	// SSMPrefix is the Parameter Store path holding host, user and password in prod.
	SSMPrefix string `mapstructure:"ssm_prefix"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ParameterGetter reads one Parameter Store value.
type ParameterGetter func(ctx context.Context, name string, decrypt bool) (string, error)

// DSN builds the connection string. In prod, host and credentials come from
// AWS SSM Parameter Store under SSMPrefix.
func (cfg *PostgresConfig) DSN(env string) string {
	if env == "prod" {
		return cfg.dsnFromParameters(getParameterStoreValue)
	}
	return cfg.dsn(cfg.Host, cfg.User, cfg.Password, cfg.DBName)
}

// AdminDSN points at the maintenance "postgres" database, used to create DBName.
func (cfg *PostgresConfig) AdminDSN() string {
	return cfg.dsn(cfg.Host, cfg.User, cfg.Password, "postgres")
}

func (cfg *PostgresConfig) dsnFromParameters(get ParameterGetter) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lookup := func(key string, fallback string) string {
		v, err := get(ctx, cfg.SSMPrefix+"/"+key, true)
		if err != nil || v == "" {
			return fallback
		}
		return v
	}
	return cfg.dsn(lookup("host", cfg.Host), lookup("user", cfg.User), lookup("password", cfg.Password), cfg.DBName)
}

func (cfg *PostgresConfig) dsn(host, user, password, dbname string) string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, cfg.Port, user, password, dbname, cfg.SSLMode,
	)
	if cfg.TimeZone != "" {
		dsn += fmt.Sprintf(" TimeZone=%s", cfg.TimeZone)
	}
	return dsn
}

func getParameterStoreValue(ctx context.Context, parameterName string, decrypt bool) (string, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}

	client := ssm.NewFromConfig(awsCfg)
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &parameterName,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", parameterName, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", nil
	}
	return *result.Parameter.Value, nil
}
