package refresh

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/FranksOps/newsthumb/internal/storage"
)

// parser accepts standard five-field expressions and descriptors such as
// "@hourly" or "@every 30m".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a usable schedule.
func ValidateSchedule(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("refresh: schedule %q: %w", expr, err)
	}
	return nil
}

// Scheduler runs a Refresher on a cron schedule. A run still in progress
// when the next one is due causes that tick to be skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler registers r to run with filter on expr. Runs use ctx, so
// cancelling it aborts an in-flight refresh.
func NewScheduler(ctx context.Context, expr string, r *Refresher, filter storage.Filter, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	_, err := c.AddFunc(expr, func() {
		sum, err := r.Run(ctx, filter)
		if err != nil {
			logger.Error("scheduled refresh failed", "run_id", sum.RunID, "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("refresh: schedule %q: %w", expr, err)
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins running scheduled refreshes in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running refresh to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
