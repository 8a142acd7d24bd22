package app

import (
	"context"
	"fmt"
	"strconv"

	"barsync/config"
	"barsync/internal/barsync/contracts"
	"barsync/internal/barsync/engine"
	"barsync/internal/barsync/runner"
	"barsync/internal/barsync/schedule"
	"barsync/pkg/ibkr"
	"barsync/pkg/storage/postgres"

	"go.uber.org/zap"
)

// Args are the command-line inputs. Either Symbol is set (single contract
// mode) or the symbol list from the config is used.
type Args struct {
	ClientID    int
	Symbol      string
	Exchange    string
	SymbolsFile string
}

// ParsePositional reads the "clientID symbol exchange" triple.
func ParsePositional(args []string) (Args, error) {
	if len(args) == 0 {
		return Args{}, nil
	}
	if len(args) != 3 {
		return Args{}, fmt.Errorf("expected clientID symbol exchange, got %d arguments", len(args))
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return Args{}, fmt.Errorf("invalid client id %q: %w", args[0], err)
	}
	return Args{ClientID: id, Symbol: args[1], Exchange: args[2]}, nil
}

// Start wires the pipeline and runs it: once, or on cfg.Sync.Schedule until
// ctx is done. A single-contract invocation always runs once.
func Start(ctx context.Context, cfg *config.Config, args Args, logger *zap.Logger) error {
	if args.Symbol != "" {
		cfg.Gateway.ClientID = args.ClientID
	}

	opts, err := EngineOptions(cfg)
	if err != nil {
		return err
	}

	if cfg.Postgres.Enabled {
		mirror, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, true)
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		defer mirror.Close()
		opts.Sink = mirror
		opts.Reporter = mirror
		logger.Info("postgres mirror enabled", zap.String("dbname", cfg.Postgres.DBName))
	}

	eng, err := engine.New(opts, logger)
	if err != nil {
		return err
	}
	r := &runner.Runner{
		Syncer:          eng,
		Dial:            NewDialer(cfg.Gateway, logger),
		ClientID:        cfg.Gateway.ClientID,
		ContinueOnError: cfg.Sync.ContinueOnError,
		Logger:          logger,
	}

	runOnce := func(ctx context.Context) error {
		list, err := ResolveContracts(cfg, args)
		if err != nil {
			return err
		}
		sum, err := r.Run(ctx, list)
		if err != nil {
			return err
		}
		if len(sum.Failures) > 0 {
			logger.Warn("finished with errors", zap.Int("failed", len(sum.Failures)))
		}
		return nil
	}

	if err := runOnce(ctx); err != nil {
		return err
	}
	if args.Symbol != "" || cfg.Sync.Schedule == "" {
		return nil
	}

	sched, err := schedule.New(cfg.Sync.Schedule, nil, func(ctx context.Context) {
		if err := runOnce(ctx); err != nil {
			logger.Error("scheduled sync failed", zap.Error(err))
		}
	}, logger)
	if err != nil {
		return err
	}
	sched.Run(ctx)
	return nil
}

// EngineOptions maps configuration onto the engine.
func EngineOptions(cfg *config.Config) (engine.Options, error) {
	floor, err := ibkr.ParseTimestamp(cfg.Sync.Floor)
	if err != nil {
		return engine.Options{}, fmt.Errorf("invalid sync.floor: %w", err)
	}
	return engine.Options{
		DataDir:           cfg.Sync.DataDir,
		BarSize:           cfg.Sync.BarSize,
		WindowMonths:      cfg.Sync.WindowMonths,
		Floor:             floor,
		ClientID:          cfg.Gateway.ClientID,
		StartFromEarliest: cfg.Sync.StartFromEarliest,
	}, nil
}

// ResolveContracts returns the single contract named by args, or the symbol list.
func ResolveContracts(cfg *config.Config, args Args) ([]ibkr.Contract, error) {
	if args.Symbol != "" {
		return []ibkr.Contract{contracts.New(args.Symbol, args.Exchange)}, nil
	}
	path := cfg.Sync.SymbolsFile
	if args.SymbolsFile != "" {
		path = args.SymbolsFile
	}
	resolver := contracts.Resolver{
		SymbolColumn: cfg.Sync.SymbolColumn,
		PrefixLen:    cfg.Sync.SymbolPrefixLen,
		Exchange:     cfg.Sync.Exchange,
	}
	return resolver.Load(path)
}

// NewDialer opens sessions over the configured transport.
func NewDialer(cfg config.GatewayConfig, logger *zap.Logger) runner.Dialer {
	return func(ctx context.Context, clientID int) (engine.Client, error) {
		switch cfg.Transport {
		case "rest":
			return ibkr.NewRESTClient(cfg.RESTURL, cfg.Timeout), nil
		default:
			c := ibkr.NewWSClient(cfg.WSURL, clientID, cfg.Timeout, logger)
			if err := c.Connect(ctx); err != nil {
				return nil, err
			}
			return c, nil
		}
	}
}
