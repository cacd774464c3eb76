package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Reaper periodically re-pends processing jobs whose lease is older than the
// configured timeout. It is disabled by default: abandoned jobs otherwise
// stay processing until an operator retries them.
type Reaper struct {
	repos   map[string]interfaces.StaleReaper
	cfg     common.ReaperConfig
	cron    *cron.Cron
	entryID cron.EntryID
	logger  arbor.ILogger
}

// New creates a reaper over the per-queue repositories that support reaping.
func New(repos map[string]interfaces.StaleReaper, cfg common.ReaperConfig, logger arbor.ILogger) *Reaper {
	return &Reaper{
		repos:  repos,
		cfg:    cfg,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
}

// Start registers the cron entry and begins the schedule. A no-op when the
// reaper is disabled by configuration.
func (r *Reaper) Start() error {
	if !r.cfg.Enabled {
		r.logger.Debug().Msg("Reaper disabled")
		return nil
	}

	schedule := r.cfg.Schedule
	if schedule == "" {
		schedule = "0 * * * * *"
	}

	entryID, err := r.cron.AddFunc(schedule, r.runOnce)
	if err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}
	r.entryID = entryID
	r.cron.Start()

	r.logger.Info().
		Str("schedule", schedule).
		Str("lease_timeout", r.cfg.LeaseTimeoutDuration().String()).
		Msg("Reaper started")
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Reaper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	leaseTimeout := r.cfg.LeaseTimeoutDuration()
	for queue, repo := range r.repos {
		n, err := repo.ReapStale(ctx, leaseTimeout)
		if err != nil {
			r.logger.Warn().Err(err).Str("queue", queue).Msg("Reap pass failed")
			continue
		}
		if n > 0 {
			r.logger.Info().Str("queue", queue).Int("reaped", n).Msg("Re-pended stale jobs")
		}
	}
}
