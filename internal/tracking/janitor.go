package tracking

import (
	"context"
	"log"
	"time"

	"github.com/banshee-data/trajectory.report/internal/geofence"
	"github.com/banshee-data/trajectory.report/internal/timeutil"
)

// Janitor periodically removes geofence memberships that have not been
// evaluated within the TTL. A pruned pair starts outside again on its next
// evaluation.
type Janitor struct {
	store    *geofence.MembershipStore
	ttl      time.Duration
	interval time.Duration
	clock    timeutil.Clock
	logger   *log.Logger
}

// NewJanitor returns a Janitor over store. Nil clock and logger fall back to
// the wall clock and log.Default().
func NewJanitor(store *geofence.MembershipStore, ttl, interval time.Duration, clock timeutil.Clock, logger *log.Logger) *Janitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Janitor{store: store, ttl: ttl, interval: interval, clock: clock, logger: logger}
}

// Sweep prunes stale memberships once and returns how many were removed.
func (j *Janitor) Sweep() int {
	if j.ttl <= 0 {
		return 0
	}
	n := j.store.Prune(j.clock.Now().Add(-j.ttl))
	if n > 0 {
		j.logger.Printf("janitor: pruned %d memberships idle for more than %v", n, j.ttl)
	}
	return n
}

// Run sweeps every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	if j.interval <= 0 || j.ttl <= 0 {
		j.logger.Printf("janitor: disabled (interval=%v ttl=%v)", j.interval, j.ttl)
		return nil
	}
	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			j.Sweep()
		}
	}
}
