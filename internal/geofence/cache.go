package geofence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/banshee-data/trajectory.report/internal/monitoring"
	"github.com/banshee-data/trajectory.report/internal/timeutil"
)

// Source provides the configured fences, for example the sqlite store.
type Source interface {
	Geofences(ctx context.Context) ([]Geofence, error)
}

// StaticSource is a fixed in-memory fence list.
type StaticSource []Geofence

func (s StaticSource) Geofences(context.Context) ([]Geofence, error) {
	out := make([]Geofence, len(s))
	copy(out, s)
	return out, nil
}

// Cache memoizes a Source for a refresh interval. When a refresh fails and
// a previous list exists, the stale list keeps being served.
type Cache struct {
	src     Source
	refresh time.Duration
	clock   timeutil.Clock

	mu       sync.Mutex
	fences   []Geofence
	loadedAt time.Time
	loaded   bool
}

// NewCache wraps src. A nil clock uses the wall clock.
func NewCache(src Source, refresh time.Duration, clock timeutil.Clock) *Cache {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Cache{src: src, refresh: refresh, clock: clock}
}

// Geofences returns a copy of the cached list, reloading it when older than
// the refresh interval.
func (c *Cache) Geofences(ctx context.Context) ([]Geofence, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.loaded && now.Sub(c.loadedAt) < c.refresh {
		return slices.Clone(c.fences), nil
	}
	fences, err := c.src.Geofences(ctx)
	if err != nil {
		if c.loaded {
			monitoring.Logf("geofence: refresh failed, serving %d cached fences: %v", len(c.fences), err)
			return slices.Clone(c.fences), nil
		}
		return nil, err
	}
	c.fences, c.loadedAt, c.loaded = fences, now, true
	return slices.Clone(fences), nil
}

// Invalidate forces the next call to reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}
