// Package retention removes short-lived agent state once it can no longer be
// used. Today that is pending destructive actions: a confirmation token past
// its expiry can never be claimed, so the janitor deletes it instead of
// leaving it to accumulate in the store.
//
// The janitor runs as a background goroutine and stops when its context is
// cancelled. A failed sweep is logged and retried on the next tick.
package retention

import (
	"context"
	"time"

	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = time.Minute

// Sweeper is the part of the store the janitor needs.
type Sweeper interface {
	PurgeExpiredPendingActions(ctx context.Context, now time.Time) (int, error)
}

var _ Sweeper = (store.PendingActionStore)(nil)

// Janitor periodically purges expired pending actions.
type Janitor struct {
	store    Sweeper
	interval time.Duration
	now      func() time.Time
}

// NewJanitor creates a janitor that sweeps every interval. Intervals under
// a second select DefaultInterval.
func NewJanitor(s Sweeper, interval time.Duration) *Janitor {
	if interval < time.Second {
		interval = DefaultInterval
	}
	return &Janitor{store: s, interval: interval, now: time.Now}
}

// Start runs the janitor until ctx is cancelled. It blocks.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().Dur("interval", j.interval).Msg("🧹 Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep performs one purge and returns the number of actions removed.
func (j *Janitor) Sweep(ctx context.Context) int {
	start := time.Now()
	n, err := j.store.PurgeExpiredPendingActions(ctx, j.now())
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("Retention janitor: failed to purge pending actions")
		}
		return 0
	}
	telemetry.RecordPendingPurged(n)
	if n > 0 {
		log.Info().
			Int("purged_pending", n).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return n
}
