package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"barsync/config"
	"barsync/internal/barsync/app"
	"barsync/logger"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.String("config", "", "path to config file")
	symbols := pflag.String("symbols", "", "symbol list CSV (overrides sync.symbols_file)")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: barsync [flags] [clientID symbol exchange]\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	args, err := app.ParsePositional(pflag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		pflag.Usage()
		os.Exit(2)
	}
	args.SymbolsFile = *symbols

	// viper config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx, cfg, args, log); err != nil {
		log.Fatal("sync failed", zap.Error(err))
	}
}
