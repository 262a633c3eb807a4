// Package tracking wires the admission, classification, geofence and
// analytics stages into a per-device ingest service.
package tracking

import (
	"context"
	"sort"
	"sync"

	"github.com/banshee-data/trajectory.report/internal/geofence"
	"github.com/banshee-data/trajectory.report/internal/route"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

// Store persists accepted samples. Implementations must be safe for
// concurrent use.
type Store interface {
	AppendSamples(ctx context.Context, samples []trajectory.Sample) error
	// ReadSamples returns the device's samples with fromMs <= ts <= toMs in
	// ascending timestamp order. A zero toMs means no upper bound.
	ReadSamples(ctx context.Context, deviceID string, fromMs, toMs int64) ([]trajectory.Sample, error)
}

// EventSink receives geofence transitions after they are emitted.
type EventSink interface {
	RecordEvents(ctx context.Context, events []geofence.Event) error
}

// MemoryStore is an in-process Store, used when no database is configured
// and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	samples map[string][]trajectory.Sample
	events  []geofence.Event
	routes  []route.Route
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{samples: make(map[string][]trajectory.Sample)}
}

func (m *MemoryStore) AppendSamples(_ context.Context, samples []trajectory.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	touched := make(map[string]bool)
	for _, s := range samples {
		m.samples[s.DeviceID] = append(m.samples[s.DeviceID], s)
		touched[s.DeviceID] = true
	}
	for id := range touched {
		list := m.samples[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].TimestampMs < list[j].TimestampMs })
	}
	return nil
}

func (m *MemoryStore) ReadSamples(_ context.Context, deviceID string, fromMs, toMs int64) ([]trajectory.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []trajectory.Sample
	for _, s := range m.samples[deviceID] {
		if s.TimestampMs < fromMs || (toMs > 0 && s.TimestampMs > toMs) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) RecordEvents(_ context.Context, events []geofence.Event) error {
	m.mu.Lock()
	m.events = append(m.events, events...)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded geofence events.
func (m *MemoryStore) Events() []geofence.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]geofence.Event(nil), m.events...)
}

func (m *MemoryStore) SaveRoute(_ context.Context, r route.Route) error {
	m.mu.Lock()
	m.routes = append(m.routes, r)
	m.mu.Unlock()
	return nil
}

// Routes returns the saved routes.
func (m *MemoryStore) Routes() []route.Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]route.Route(nil), m.routes...)
}

// Len returns the number of stored samples across all devices.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, list := range m.samples {
		n += len(list)
	}
	return n
}
