// Package geofence tracks, per (geofence, device) pair, whether a device is
// inside a circular area and emits enter/exit events on crossings.
package geofence

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

// ErrInvalidGeofence is returned for fences with a bad center or radius.
var ErrInvalidGeofence = errors.New("invalid geofence")

// Geofence is a circular area configured outside the pipeline.
type Geofence struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	CenterLat     float64 `json:"center_lat"`
	CenterLng     float64 `json:"center_lng"`
	RadiusM       float64 `json:"radius_m"`
	Enabled       bool    `json:"enabled"`
	NotifyOnEnter bool    `json:"notify_on_enter"`
	NotifyOnExit  bool    `json:"notify_on_exit"`
}

// Validate checks the fence geometry.
func (g Geofence) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidGeofence)
	}
	if math.IsNaN(g.CenterLat) || g.CenterLat < -90 || g.CenterLat > 90 ||
		math.IsNaN(g.CenterLng) || g.CenterLng < -180 || g.CenterLng > 180 {
		return fmt.Errorf("%w: center (%v, %v)", ErrInvalidGeofence, g.CenterLat, g.CenterLng)
	}
	if !(g.RadiusM > 0) || math.IsInf(g.RadiusM, 0) {
		return fmt.Errorf("%w: radius %v", ErrInvalidGeofence, g.RadiusM)
	}
	return nil
}

// DistanceM returns the distance from the fence center to (lat, lng).
func (g Geofence) DistanceM(lat, lng float64) float64 {
	return geo.HaversineMeters(g.CenterLat, g.CenterLng, lat, lng)
}

// Contains reports whether (lat, lng) lies within the radius, boundary
// included. There is no dead-band around the boundary.
func (g Geofence) Contains(lat, lng float64) bool {
	return g.DistanceM(lat, lng) <= g.RadiusM
}

// State is the membership state of a device relative to one fence.
type State uint8

const (
	// StateOutside is the zero value, so a pair seen for the first time
	// inside the fence produces an enter event.
	StateOutside State = iota
	StateInside
)

func (s State) String() string {
	if s == StateInside {
		return "inside"
	}
	return "outside"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes "inside" or "outside".
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "inside":
		*s = StateInside
	case "outside":
		*s = StateOutside
	default:
		return fmt.Errorf("unknown membership state %q", text)
	}
	return nil
}

// Membership is the state of one (geofence, device) pair.
type Membership struct {
	State         State     `json:"state"`
	LastEvaluated time.Time `json:"last_evaluated"`
}

// EventType distinguishes entries from exits.
type EventType string

const (
	EventEnter EventType = "enter"
	EventExit  EventType = "exit"
)

// Event is emitted on a membership transition.
type Event struct {
	Type         EventType `json:"type"`
	GeofenceID   string    `json:"geofence_id"`
	GeofenceName string    `json:"geofence_name"`
	DeviceID     string    `json:"device_id"`
	TimestampMs  int64     `json:"timestamp_ms"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	DistanceM    float64   `json:"distance_m"`
}

// Evaluate updates m for sample s against fence g and returns an event when
// the state changed and the fence asks to be notified of that direction.
// The state changes whether or not an event is returned. Disabled fences
// return nil and leave m untouched.
func Evaluate(s trajectory.Sample, g Geofence, m *Membership, now time.Time) (*Event, error) {
	if !g.Enabled {
		return nil, nil
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	dist := g.DistanceM(s.Latitude, s.Longitude)
	next := StateOutside
	if dist <= g.RadiusM {
		next = StateInside
	}
	prev := m.State
	m.State = next
	m.LastEvaluated = now
	if prev == next {
		return nil, nil
	}

	ev := &Event{
		GeofenceID:   g.ID,
		GeofenceName: g.Name,
		DeviceID:     s.DeviceID,
		TimestampMs:  s.TimestampMs,
		Latitude:     s.Latitude,
		Longitude:    s.Longitude,
		DistanceM:    dist,
	}
	switch {
	case next == StateInside && g.NotifyOnEnter:
		ev.Type = EventEnter
	case next == StateOutside && g.NotifyOnExit:
		ev.Type = EventExit
	default:
		return nil, nil
	}
	return ev, nil
}

// InsideAny returns the enabled fences that contain s.
func InsideAny(s trajectory.Sample, fences []Geofence) []Geofence {
	var out []Geofence
	for _, g := range fences {
		if g.Enabled && g.Validate() == nil && g.Contains(s.Latitude, s.Longitude) {
			out = append(out, g)
		}
	}
	return out
}
