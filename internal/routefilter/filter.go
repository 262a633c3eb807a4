// Package routefilter cleans a recorded point sequence before it is stored as
// a route: near-duplicate removal, Kalman smoothing and Douglas-Peucker
// simplification, always in that order.
package routefilter

import (
	"math"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

// Config parameterizes Process.
type Config struct {
	DedupeThresholdM float64
	DedupeMaxGapMs   int64   // keep a point after this gap regardless of distance; 0 disables
	ProcessNoise     float64 // Kalman Q
	MeasurementNoise float64 // Kalman R
	EpsilonDeg       float64
}

// DefaultConfig returns the stock pipeline parameters.
func DefaultConfig() Config {
	return Config{
		DedupeThresholdM: 5,
		ProcessNoise:     0.01,
		MeasurementNoise: 0.25,
		EpsilonDeg:       0.0001,
	}
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(t *config.TuningConfig) Config {
	return Config{
		DedupeThresholdM: t.GetDedupeThresholdM(),
		DedupeMaxGapMs:   t.GetDedupeMaxGapMs(),
		ProcessNoise:     t.GetKalmanQ(),
		MeasurementNoise: t.GetKalmanR(),
		EpsilonDeg:       t.GetSimplifyEpsilonDeg(),
	}
}

// Process runs dedupe, smooth and simplify. The input is not modified.
func Process(points []trajectory.Sample, cfg Config) []trajectory.Sample {
	out := DedupeWithGap(points, cfg.DedupeThresholdM, cfg.DedupeMaxGapMs)
	out = Smooth(out, cfg.ProcessNoise, cfg.MeasurementNoise)
	return Simplify(out, cfg.EpsilonDeg)
}

// Dedupe drops every point closer than thresholdM to the last kept point.
// The first point is always kept.
func Dedupe(points []trajectory.Sample, thresholdM float64) []trajectory.Sample {
	return DedupeWithGap(points, thresholdM, 0)
}

// DedupeWithGap is Dedupe with an additional time rule: a point at least
// maxGapMs after the last kept point is kept even if it has not moved.
func DedupeWithGap(points []trajectory.Sample, thresholdM float64, maxGapMs int64) []trajectory.Sample {
	if len(points) == 0 {
		return nil
	}
	out := make([]trajectory.Sample, 0, len(points))
	out = append(out, points[0])
	for _, p := range points[1:] {
		last := out[len(out)-1]
		d := geo.HaversineMeters(last.Latitude, last.Longitude, p.Latitude, p.Longitude)
		if d >= thresholdM || (maxGapMs > 0 && p.TimestampMs-last.TimestampMs >= maxGapMs) {
			out = append(out, p)
		}
	}
	return out
}

// Kalman is a scalar Kalman filter with a constant-position model.
type Kalman struct {
	q, r float64
	x, p float64
}

// NewKalman returns a filter seeded at x0 with unit error covariance.
func NewKalman(q, r, x0 float64) *Kalman {
	return &Kalman{q: q, r: r, x: x0, p: 1}
}

// Update folds in measurement z and returns the new estimate.
func (k *Kalman) Update(z float64) float64 {
	k.p += k.q
	gain := k.p / (k.p + k.r)
	k.x += gain * (z - k.x)
	k.p *= 1 - gain
	return k.x
}

// Smooth runs independent filters over latitude and longitude. The first and
// last points are returned untouched; fewer than three points are returned
// as-is. Non-coordinate fields of interior points are preserved.
func Smooth(points []trajectory.Sample, q, r float64) []trajectory.Sample {
	out := make([]trajectory.Sample, len(points))
	copy(out, points)
	if len(points) < 3 {
		return out
	}
	latF := NewKalman(q, r, points[0].Latitude)
	lngF := NewKalman(q, r, points[0].Longitude)
	for i := 1; i < len(points)-1; i++ {
		out[i].Latitude = latF.Update(points[i].Latitude)
		out[i].Longitude = lngF.Update(points[i].Longitude)
	}
	return out
}

type span struct{ first, last int }

// Simplify applies Douglas-Peucker with tolerance epsilonDeg measured in
// degree space. It uses an explicit stack, so route length does not bound
// recursion depth. epsilonDeg <= 0 returns a copy of the input.
func Simplify(points []trajectory.Sample, epsilonDeg float64) []trajectory.Sample {
	if len(points) < 3 || epsilonDeg <= 0 || math.IsNaN(epsilonDeg) {
		out := make([]trajectory.Sample, len(points))
		copy(out, points)
		return out
	}

	keep := make([]bool, len(points))
	keep[0], keep[len(points)-1] = true, true

	stack := []span{{0, len(points) - 1}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s.last-s.first < 2 {
			continue
		}

		a, b := points[s.first], points[s.last]
		maxDist, index := -1.0, -1
		for i := s.first + 1; i < s.last; i++ {
			p := points[i]
			d := geo.ChordDistanceDeg(p.Latitude, p.Longitude, a.Latitude, a.Longitude, b.Latitude, b.Longitude)
			if d > maxDist {
				maxDist, index = d, i
			}
		}
		if maxDist > epsilonDeg {
			keep[index] = true
			stack = append(stack, span{s.first, index}, span{index, s.last})
		}
	}

	out := make([]trajectory.Sample, 0, len(points))
	for i, k := range keep {
		if k {
			out = append(out, points[i])
		}
	}
	return out
}
