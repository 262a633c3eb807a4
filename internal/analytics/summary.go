// Package analytics computes summaries over an explicit, time-ordered point
// sequence: distance and speed totals, active versus stopped time, heatmaps,
// route efficiency and speed zones. All functions are pure.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

// SummaryConfig controls stop detection.
type SummaryConfig struct {
	StopWindow  time.Duration
	StopRadiusM float64
}

// DefaultSummaryConfig returns the stock stop detection window.
func DefaultSummaryConfig() SummaryConfig {
	return SummaryConfig{StopWindow: 5 * time.Minute, StopRadiusM: 50}
}

// SummaryConfigFromTuning builds a SummaryConfig from the tuning file.
func SummaryConfigFromTuning(t *config.TuningConfig) SummaryConfig {
	return SummaryConfig{StopWindow: t.GetStopWindow(), StopRadiusM: t.GetStopRadiusM()}
}

// Summary aggregates a point sequence.
type Summary struct {
	PointCount     int     `json:"point_count"`
	TotalDistanceM float64 `json:"total_distance_m"`
	DurationS      float64 `json:"duration_s"`
	AvgSpeedKmh    float64 `json:"avg_speed_kmh"`
	MaxSpeedKmh    float64 `json:"max_speed_kmh"`
	ActiveTimeS    float64 `json:"active_time_s"`
	StoppedTimeS   float64 `json:"stopped_time_s"`
}

// Summarize aggregates points, which must be ordered by timestamp.
//
// The interval ending at point i counts as stopped when the displacement
// from the window anchor to point i is below StopRadiusM. The anchor is the
// latest point at or before t_i - StopWindow, or the first point when the
// sequence is shorter than the window.
func Summarize(points []trajectory.Sample, cfg SummaryConfig) Summary {
	s := Summary{PointCount: len(points)}
	if len(points) < 2 {
		return s
	}

	windowMs := cfg.StopWindow.Milliseconds()
	anchor := 0
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		d := geo.HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
		s.TotalDistanceM += d

		dt := float64(b.TimestampMs-a.TimestampMs) / 1000
		if dt <= 0 {
			continue
		}
		s.DurationS += dt
		s.MaxSpeedKmh = math.Max(s.MaxSpeedKmh, geo.SpeedKmh(d, dt))

		for anchor+1 < i && points[anchor+1].TimestampMs <= b.TimestampMs-windowMs {
			anchor++
		}
		p := points[anchor]
		if geo.HaversineMeters(p.Latitude, p.Longitude, b.Latitude, b.Longitude) < cfg.StopRadiusM {
			s.StoppedTimeS += dt
		} else {
			s.ActiveTimeS += dt
		}
	}
	s.AvgSpeedKmh = geo.SpeedKmh(s.TotalDistanceM, s.DurationS)
	return s
}

// TotalDistanceM sums consecutive haversine distances.
func TotalDistanceM(points []trajectory.Sample) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		total += geo.HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	}
	return total
}

// Efficiency describes how direct a path was.
type Efficiency struct {
	TotalDistanceM    float64 `json:"total_distance_m"`
	StraightDistanceM float64 `json:"straight_distance_m"`
	EfficiencyPct     float64 `json:"efficiency_pct"`
	Waypoints         int     `json:"waypoints"`
}

// RouteEfficiency returns straight-line distance over travelled distance as a
// percentage. A path with no travelled distance reports 100.
func RouteEfficiency(points []trajectory.Sample) Efficiency {
	e := Efficiency{Waypoints: len(points), EfficiencyPct: 100}
	if len(points) < 2 {
		return e
	}
	first, last := points[0], points[len(points)-1]
	e.TotalDistanceM = TotalDistanceM(points)
	e.StraightDistanceM = geo.HaversineMeters(first.Latitude, first.Longitude, last.Latitude, last.Longitude)
	if e.TotalDistanceM > 0 {
		e.EfficiencyPct = math.Min(100, e.StraightDistanceM/e.TotalDistanceM*100)
	}
	return e
}

// Cell is one heatmap bucket. Lat and Lng are the cell's south-west corner.
type Cell struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Intensity int     `json:"intensity"`
	Weight    float64 `json:"weight"` // Intensity as a fraction of all points
}

// MinGridDeg is the smallest cell size callers should request, about 1 cm.
// Heatmap itself stays exact below it.
const MinGridDeg = 1e-7

// cellKey holds floor(coord/grid) as float64 so tiny grids cannot overflow an
// integer conversion.
type cellKey struct{ lat, lng float64 }

// Heatmap buckets points into gridSizeDeg square cells keyed by
// floor(coord/gridSizeDeg). Cells are ordered by intensity, descending, then
// by key, so identical input always yields identical output.
func Heatmap(points []trajectory.Sample, gridSizeDeg float64) []Cell {
	if len(points) == 0 || !(gridSizeDeg > 0) {
		return nil
	}
	counts := make(map[cellKey]int)
	for _, p := range points {
		k := cellKey{
			lat: math.Floor(p.Latitude / gridSizeDeg),
			lng: math.Floor(p.Longitude / gridSizeDeg),
		}
		counts[k]++
	}

	keys := make([]cellKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		if a.lat != b.lat {
			return a.lat < b.lat
		}
		return a.lng < b.lng
	})

	cells := make([]Cell, len(keys))
	for i, k := range keys {
		cells[i] = Cell{
			Lat:       k.lat * gridSizeDeg,
			Lng:       k.lng * gridSizeDeg,
			Intensity: counts[k],
			Weight:    float64(counts[k]) / float64(len(points)),
		}
	}
	return cells
}
