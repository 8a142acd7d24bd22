// Package engine walks a gateway's historical-data endpoint window by window
// and persists every bar into per-day logs.
package engine

import (
	"context"
	"fmt"
	"time"

	"barsync/internal/barsync/checkpoint"
	"barsync/internal/barsync/daylog"
	"barsync/pkg/ibkr"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Client is one gateway session. Requests are issued strictly one at a time.
type Client interface {
	EarliestAvailable(ctx context.Context, contract ibkr.Contract) (string, error)
	HistoricalBars(ctx context.Context, reqID int, contract ibkr.Contract,
		start, duration, barSize string) ([]ibkr.Response, error)
	Disconnect() error
}

// BarSink receives every page of bars after it has been written to the Day Logs.
type BarSink interface {
	WriteBars(ctx context.Context, contract ibkr.Contract, barSize string, bars []ibkr.Bar) error
}

// StatusReporter receives progress of a contract's sync.
type StatusReporter interface {
	ReportStatus(ctx context.Context, status Status) error
}

const (
	StatusSyncing   = "syncing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Status is a progress snapshot of one contract's sync.
type Status struct {
	Symbol string
	State  string
	Cursor time.Time
	Pages  int
	Bars   int
	Error  string
}

// Options configure an Engine.
type Options struct {
	DataDir           string
	BarSize           string // gateway bar size, e.g. "1 min"
	WindowMonths      int
	Floor             time.Time
	ClientID          int  // first request id of a run
	StartFromEarliest bool // without a checkpoint, start from the gateway's earliest data
	Sink              BarSink
	Reporter          StatusReporter
	Now               func() time.Time
}

// Engine synchronizes one contract at a time.
type Engine struct {
	opts        Options
	tag         string
	duration    string
	checkpoints *checkpoint.Store
	logger      *zap.Logger
}

// Result summarises one Sync call.
type Result struct {
	Contract  ibkr.Contract
	Start     time.Time // cursor after INIT
	Cursor    time.Time // cursor at exit
	Pages     int       // requests issued
	Bars      int
	Days      int // day logs touched
	NextReqID int
}

func New(opts Options, logger *zap.Logger) (*Engine, error) {
	meta, err := ibkr.ParseBarSize(opts.BarSize)
	if err != nil {
		return nil, err
	}
	if opts.WindowMonths <= 0 {
		return nil, fmt.Errorf("window must be at least one month, got %d", opts.WindowMonths)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		opts:        opts,
		tag:         meta.FileTag,
		duration:    ibkr.MonthsDuration(opts.WindowMonths),
		checkpoints: checkpoint.NewStore(opts.DataDir, meta.FileTag),
		logger:      logger,
	}, nil
}

// Sync pages through the contract's history until the gateway returns an
// empty page. Day Logs are closed and the session is disconnected on every
// exit path. A gateway failure aborts the contract without retry; progress
// already flushed to disk is picked up by the next run.
func (e *Engine) Sync(ctx context.Context, client Client, contract ibkr.Contract) (res Result, err error) {
	res = Result{Contract: contract, NextReqID: e.opts.ClientID}
	log := e.logger.With(zap.String("symbol", contract.Symbol))

	logs := daylog.NewSet(e.opts.DataDir, e.tag)
	days := make(map[string]struct{})
	defer func() {
		err = multierr.Combine(err, logs.Close(), client.Disconnect())
		res.Days = len(days)
		state := StatusCompleted
		if err != nil {
			state = StatusFailed
		}
		e.report(ctx, log, res, state, err)
	}()

	// INIT
	cursor, err := e.startCursor(ctx, client, contract)
	if err != nil {
		return res, err
	}
	res.Start, res.Cursor = cursor, cursor
	log.Info("sync started", zap.String("cursor", ibkr.FormatTimestamp(cursor)), zap.Int("req_id", res.NextReqID))

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		// REQUESTING
		reqID := res.NextReqID
		page, err := client.HistoricalBars(ctx, reqID, contract, ibkr.FormatTimestamp(res.Cursor), e.duration, e.opts.BarSize)
		res.NextReqID++
		res.Pages++
		if err != nil {
			return res, fmt.Errorf("historical bars %s from %s: %w", contract.Symbol, ibkr.FormatTimestamp(res.Cursor), err)
		}

		// DONE
		if len(page) == 0 {
			log.Info("sync completed",
				zap.Int("pages", res.Pages), zap.Int("bars", res.Bars),
				zap.String("cursor", ibkr.FormatTimestamp(res.Cursor)))
			return res, nil
		}

		// WRITING
		var bars []ibkr.Bar
		var end *ibkr.EndOfBatch
		for _, r := range page {
			switch r := r.(type) {
			case ibkr.BarData:
				day, err := logs.Append(contract.Symbol, r.Bar)
				if err != nil {
					return res, err
				}
				days[day] = struct{}{}
				bars = append(bars, r.Bar)
			case ibkr.EndOfBatch:
				end = &r
			case *ibkr.APIError:
				return res, fmt.Errorf("historical bars %s: %w", contract.Symbol, r)
			}
		}
		res.Bars += len(bars)
		if e.opts.Sink != nil && len(bars) > 0 {
			if err := e.opts.Sink.WriteBars(ctx, contract, e.opts.BarSize, bars); err != nil {
				return res, fmt.Errorf("mirror bars: %w", err)
			}
		}

		// ADVANCING
		if end != nil {
			res.Cursor = e.advance(log, res.Cursor, *end)
		}
		log.Debug("page synced",
			zap.Int("req_id", reqID), zap.Int("bars", len(bars)),
			zap.String("cursor", ibkr.FormatTimestamp(res.Cursor)))
		e.report(ctx, log, res, StatusSyncing, nil)
	}
}

// advance moves the cursor to the batch end. The cursor never moves backward.
func (e *Engine) advance(log *zap.Logger, cursor time.Time, end ibkr.EndOfBatch) time.Time {
	next, err := ibkr.ParseTimestamp(end.End)
	if err != nil {
		log.Warn("ignoring unparsable batch end", zap.String("end", end.End), zap.Error(err))
		return cursor
	}
	if next.Before(cursor) {
		log.Warn("ignoring batch end behind cursor",
			zap.String("end", end.End), zap.String("cursor", ibkr.FormatTimestamp(cursor)))
		return cursor
	}
	return next
}

func (e *Engine) startCursor(ctx context.Context, client Client, contract ibkr.Contract) (time.Time, error) {
	resume, ok, err := e.checkpoints.Resume(contract.Symbol)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return e.floor(resume), nil
	}
	if e.opts.StartFromEarliest {
		return e.EarliestStart(ctx, client, contract)
	}
	return e.floor(ibkr.Midnight(e.opts.Now())), nil
}

// EarliestStart returns midnight of the gateway's earliest day for contract
// moved one window forward, bounded below by the floor.
func (e *Engine) EarliestStart(ctx context.Context, client Client, contract ibkr.Contract) (time.Time, error) {
	head, err := client.EarliestAvailable(ctx, contract)
	if err != nil {
		return time.Time{}, fmt.Errorf("earliest available %s: %w", contract.Symbol, err)
	}
	t, err := ibkr.ParseTimestamp(head)
	if err != nil {
		return time.Time{}, fmt.Errorf("earliest available %s: %w", contract.Symbol, err)
	}
	return e.floor(ibkr.Midnight(t).AddDate(0, e.opts.WindowMonths, 0)), nil
}

func (e *Engine) floor(t time.Time) time.Time {
	if t.Before(e.opts.Floor) {
		return e.opts.Floor
	}
	return t
}

func (e *Engine) report(ctx context.Context, log *zap.Logger, res Result, state string, err error) {
	if e.opts.Reporter == nil {
		return
	}
	status := Status{
		Symbol: res.Contract.Symbol,
		State:  state,
		Cursor: res.Cursor,
		Pages:  res.Pages,
		Bars:   res.Bars,
	}
	if err != nil {
		status.Error = err.Error()
	}
	if rerr := e.opts.Reporter.ReportStatus(context.WithoutCancel(ctx), status); rerr != nil {
		log.Warn("failed to report sync status", zap.Error(rerr))
	}
}
