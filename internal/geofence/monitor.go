package geofence

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/trajectory.report/internal/monitoring"
	"github.com/banshee-data/trajectory.report/internal/timeutil"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

// Monitor evaluates samples against a set of fences using a shared
// MembershipStore.
type Monitor struct {
	store *MembershipStore
	clock timeutil.Clock
}

// NewMonitor returns a Monitor over store. A nil clock uses the wall clock.
func NewMonitor(store *MembershipStore, clock timeutil.Clock) *Monitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Monitor{store: store, clock: clock}
}

// Store returns the membership store backing m.
func (m *Monitor) Store() *MembershipStore { return m.store }

// EvaluateAll evaluates s against every fence. A failing fence is reported
// in the joined error and does not stop evaluation of the others, so the
// returned events are valid even when err is non-nil.
func (m *Monitor) EvaluateAll(s trajectory.Sample, fences []Geofence) ([]Event, error) {
	var events []Event
	var errs []error
	now := m.clock.Now()
	for _, g := range fences {
		if !g.Enabled {
			continue
		}
		ev, err := m.evaluateOne(s, g, now)
		if err != nil {
			monitoring.Logf("geofence: evaluate fence=%s device=%s: %v", g.ID, s.DeviceID, err)
			errs = append(errs, fmt.Errorf("geofence %s: %w", g.ID, err))
			continue
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, errors.Join(errs...)
}

func (m *Monitor) evaluateOne(s trajectory.Sample, g Geofence, now time.Time) (ev *Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			ev, err = nil, fmt.Errorf("panic during evaluation: %v", r)
		}
	}()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	m.store.Update(Key{GeofenceID: g.ID, DeviceID: s.DeviceID}, func(mem *Membership) {
		ev, err = Evaluate(s, g, mem, now)
	})
	return ev, err
}
