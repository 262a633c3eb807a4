// Package route assembles accepted samples into immutable recorded routes
// and exports them as GeoJSON.
package route

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/trajectory.report/internal/activity"
	"github.com/banshee-data/trajectory.report/internal/analytics"
	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
	"github.com/banshee-data/trajectory.report/internal/units"
)

var (
	ErrFinished       = errors.New("route already finished")
	ErrRouteFull      = errors.New("route point limit reached")
	ErrOutOfOrder     = errors.New("point not after previous point")
	ErrDeviceMismatch = errors.New("point belongs to a different device")
	ErrEmptyRoute     = errors.New("route has no points")
)

// Point is a sample with the activity it was classified as, if any.
type Point struct {
	trajectory.Sample
	Activity *activity.Classification `json:"activity,omitempty"`
}

// Route is a finished recording. Values returned by Build and
// Recorder.Finish own their slices and maps; treat them as read-only.
type Route struct {
	ID                string                    `json:"id"`
	DeviceID          string                    `json:"device_id"`
	Name              string                    `json:"name"`
	StartTime         time.Time                 `json:"start_time"`
	EndTime           time.Time                 `json:"end_time"`
	Points            []Point                   `json:"points"`
	TotalDistanceM    float64                   `json:"total_distance_m"`
	TotalDurationS    float64                   `json:"total_duration_s"`
	AvgSpeedKmh       float64                   `json:"avg_speed_kmh"`
	MaxSpeedKmh       float64                   `json:"max_speed_kmh"`
	ActivityDurations map[activity.Type]float64 `json:"activity_durations"` // seconds
}

// Samples returns the route's samples without activity annotations.
func (r Route) Samples() []trajectory.Sample {
	out := make([]trajectory.Sample, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Sample
	}
	return out
}

// Build computes route statistics over points. Each segment's duration is
// attributed to the activity of the point that starts it; unclassified
// points count as unknown. The maximum speed is the larger of the fastest
// segment and the fastest reported device speed.
func Build(id, deviceID, name string, points []Point, start, end time.Time) Route {
	r := Route{
		ID:                id,
		DeviceID:          deviceID,
		Name:              name,
		StartTime:         start,
		EndTime:           end,
		Points:            append([]Point(nil), points...),
		ActivityDurations: make(map[activity.Type]float64),
	}
	if len(points) == 0 {
		return r
	}

	samples := r.Samples()
	sum := analytics.Summarize(samples, analytics.DefaultSummaryConfig())
	r.TotalDistanceM = sum.TotalDistanceM
	r.TotalDurationS = float64(points[len(points)-1].TimestampMs-points[0].TimestampMs) / 1000
	r.AvgSpeedKmh = geo.SpeedKmh(r.TotalDistanceM, r.TotalDurationS)
	r.MaxSpeedKmh = sum.MaxSpeedKmh
	for _, p := range points {
		if p.SpeedMps != nil {
			r.MaxSpeedKmh = math.Max(r.MaxSpeedKmh, units.MpsToKmh(*p.SpeedMps))
		}
	}

	for i := 1; i < len(points); i++ {
		dt := float64(points[i].TimestampMs-points[i-1].TimestampMs) / 1000
		if dt <= 0 {
			continue
		}
		t := activity.TypeUnknown
		if a := points[i-1].Activity; a != nil {
			t = a.Type
		}
		r.ActivityDurations[t] += dt
	}
	return r
}

// Recorder accumulates points for one device until Finish. It is safe for
// concurrent use.
type Recorder struct {
	mu        sync.Mutex
	id        string
	deviceID  string
	name      string
	start     time.Time
	maxPoints int
	points    []Point
	finished  bool
}

// NewRecorder starts a recording. maxPoints bounds memory; values below 2
// are raised to 2.
func NewRecorder(deviceID, name string, maxPoints int, start time.Time) *Recorder {
	return &Recorder{
		id:        uuid.NewString(),
		deviceID:  deviceID,
		name:      name,
		start:     start,
		maxPoints: max(maxPoints, 2),
	}
}

// ID returns the route id assigned at start.
func (r *Recorder) ID() string { return r.id }

// Len returns the number of recorded points.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

// Add appends a point. Points must belong to the recorder's device and
// arrive in strictly increasing timestamp order.
func (r *Recorder) Add(s trajectory.Sample, c *activity.Classification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.finished:
		return ErrFinished
	case s.DeviceID != r.deviceID:
		return fmt.Errorf("%w: %q", ErrDeviceMismatch, s.DeviceID)
	case len(r.points) >= r.maxPoints:
		return ErrRouteFull
	case len(r.points) > 0 && s.TimestampMs <= r.points[len(r.points)-1].TimestampMs:
		return ErrOutOfOrder
	}
	r.points = append(r.points, Point{Sample: s, Activity: c})
	return nil
}

// Finish closes the recording and returns the immutable route. Further Adds
// fail with ErrFinished.
func (r *Recorder) Finish(end time.Time) (Route, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return Route{}, ErrFinished
	}
	if len(r.points) == 0 {
		return Route{}, ErrEmptyRoute
	}
	r.finished = true
	return Build(r.id, r.deviceID, r.name, r.points, r.start, end), nil
}
