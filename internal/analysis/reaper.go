package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/joseph-ayodele/procedo/constants"
	"github.com/joseph-ayodele/procedo/internal/repository"
)

// InterruptedMessage is stored on cases the reaper gives up on.
const InterruptedMessage = "analysis interrupted"

// Reaper fails cases that stopped making progress.
type Reaper struct {
	cases      repository.CaseRepository
	staleAfter time.Duration
	logger     *slog.Logger
	cron       *cron.Cron
	now        func() time.Time
}

func NewReaper(cases repository.CaseRepository, staleAfter time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Reaper{
		cases:      cases,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// Start runs Sweep on schedule, e.g. "@every 5m" or a five-field cron spec.
func (r *Reaper) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("reaper.sweep.failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("reaper schedule %q: %w", schedule, err)
	}
	r.cron = c
	c.Start()
	r.logger.Info("reaper.start", "schedule", schedule, "stale_after", r.staleAfter.String())
	return nil
}

// Stop waits for a running sweep, up to ctx.
func (r *Reaper) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
		r.logger.Warn("reaper.stop.interrupted")
	}
}

// Sweep marks stale processing cases as failed. Pending cases only wait on
// the queue; the startup requeue picks them up after a restart.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	stale, err := r.cases.ListUnfinished(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range stale {
		if c.Status != string(constants.CaseStatusProcessing) {
			continue
		}
		if err := r.cases.MarkFailed(ctx, c.ID, InterruptedMessage); err != nil {
			r.logger.Warn("reaper.mark_failed", "case_id", c.ID, "err", err)
			continue
		}
		n++
	}
	if n > 0 {
		r.logger.Warn("reaper.sweep.ok", "reaped", n, "cutoff", cutoff)
	}
	return n, nil
}
