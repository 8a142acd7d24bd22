package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler reruns a sync job on a cron schedule. A run that is still going
// when the next tick fires makes that tick skip, so runs never overlap.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	logger *zap.Logger
}

// New parses spec (standard five-field cron syntax, or descriptors such as
// "@daily") and registers job. loc defaults to UTC.
func New(spec string, loc *time.Location, job func(ctx context.Context), logger *zap.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{ctx: context.Background(), logger: logger}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger), cron.Recover(cron.DiscardLogger)),
	)
	_, err := s.cron.AddFunc(spec, func() {
		logger.Info("scheduled sync triggered", zap.String("spec", spec))
		job(s.ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Next reports when the job fires next. Zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running job to finish. Jobs receive ctx.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Time("next", s.Next()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
