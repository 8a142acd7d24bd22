package runner

import (
	"context"
	"fmt"

	"barsync/internal/barsync/engine"
	"barsync/pkg/ibkr"

	"go.uber.org/zap"
)

// Dialer opens a gateway session for clientID.
type Dialer func(ctx context.Context, clientID int) (engine.Client, error)

// Syncer runs one contract through the pagination loop.
type Syncer interface {
	Sync(ctx context.Context, client engine.Client, contract ibkr.Contract) (engine.Result, error)
}

// Failure records a contract whose sync aborted.
type Failure struct {
	Contract ibkr.Contract
	Err      error
}

// Summary is the outcome of one Run.
type Summary struct {
	Results  []engine.Result
	Failures []Failure
}

// Runner synchronizes contracts one after another, each over its own session.
type Runner struct {
	Syncer          Syncer
	Dial            Dialer
	ClientID        int
	ContinueOnError bool
	Logger          *zap.Logger
}

// Run syncs contracts sequentially in order. With ContinueOnError a failed
// contract is recorded and the next one starts; otherwise Run stops at the
// first failure and returns it.
func (r *Runner) Run(ctx context.Context, contracts []ibkr.Contract) (Summary, error) {
	var sum Summary
	if len(contracts) == 0 {
		r.Logger.Info("no contracts to sync")
		return sum, nil
	}
	r.Logger.Info("sync run started", zap.Int("contracts", len(contracts)))

	for i, contract := range contracts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		log := r.Logger.With(zap.String("symbol", contract.Symbol), zap.Int("index", i))

		res, err := r.syncOne(ctx, contract)
		if err != nil {
			log.Error("sync failed", zap.Error(err))
			sum.Failures = append(sum.Failures, Failure{Contract: contract, Err: err})
			if !r.ContinueOnError {
				return sum, err
			}
			continue
		}
		log.Info("completed successfully for symbol",
			zap.Int("bars", res.Bars), zap.Int("days", res.Days), zap.Int("pages", res.Pages))
		sum.Results = append(sum.Results, res)
	}

	r.Logger.Info("sync run finished",
		zap.Int("succeeded", len(sum.Results)), zap.Int("failed", len(sum.Failures)))
	return sum, nil
}

func (r *Runner) syncOne(ctx context.Context, contract ibkr.Contract) (engine.Result, error) {
	client, err := r.Dial(ctx, r.ClientID)
	if err != nil {
		return engine.Result{}, fmt.Errorf("connect gateway for %s: %w", contract.Symbol, err)
	}
	return r.Syncer.Sync(ctx, client, contract)
}
