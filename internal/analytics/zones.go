package analytics

import (
	"math"

	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

// SpeedZone is a named speed range in km/h, [MinKmh, MaxKmh).
type SpeedZone struct {
	Name   string  `json:"name"`
	MinKmh float64 `json:"min_kmh"`
	MaxKmh float64 `json:"max_kmh"`
}

// DefaultSpeedZones covers every speed.
var DefaultSpeedZones = []SpeedZone{
	{"stationary", 0, 5},
	{"slow", 5, 30},
	{"moderate", 30, 60},
	{"fast", 60, 100},
	{"very_fast", 100, math.Inf(1)},
}

// ZoneTime is the time and distance spent in one zone.
type ZoneTime struct {
	SpeedZone
	DurationS float64 `json:"duration_s"`
	DistanceM float64 `json:"distance_m"`
	Percent   float64 `json:"percent"`
}

// SpeedZones attributes each segment's duration and distance to the zone
// containing its speed.
func SpeedZones(points []trajectory.Sample, zones []SpeedZone) []ZoneTime {
	out := make([]ZoneTime, len(zones))
	for i, z := range zones {
		out[i].SpeedZone = z
	}
	var total float64
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		dt := float64(b.TimestampMs-a.TimestampMs) / 1000
		if dt <= 0 {
			continue
		}
		d := geo.HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
		v := geo.SpeedKmh(d, dt)
		for j := range out {
			if v >= out[j].MinKmh && v < out[j].MaxKmh {
				out[j].DurationS += dt
				out[j].DistanceM += d
				total += dt
				break
			}
		}
	}
	if total > 0 {
		for j := range out {
			out[j].Percent = out[j].DurationS / total * 100
		}
	}
	return out
}

// Quality scores a sequence from 0 to 100 by fix accuracy and sampling
// regularity. Points without accuracy count as 50 m fixes.
type Quality struct {
	Score          float64 `json:"score"`
	MeanAccuracyM  float64 `json:"mean_accuracy_m"`
	MaxGapS        float64 `json:"max_gap_s"`
	GapsOverMinute int     `json:"gaps_over_minute"`
}

// LocationQuality computes a Quality for points.
func LocationQuality(points []trajectory.Sample) Quality {
	var q Quality
	if len(points) == 0 {
		return q
	}
	var accSum float64
	for _, p := range points {
		acc, ok := p.Accuracy()
		if !ok {
			acc = 50
		}
		accSum += acc
	}
	q.MeanAccuracyM = accSum / float64(len(points))
	for i := 1; i < len(points); i++ {
		gap := float64(points[i].TimestampMs-points[i-1].TimestampMs) / 1000
		q.MaxGapS = math.Max(q.MaxGapS, gap)
		if gap > 60 {
			q.GapsOverMinute++
		}
	}

	// Accuracy contributes up to 70 points, linearly down to zero at 100 m.
	accScore := 70 * math.Max(0, 1-q.MeanAccuracyM/100)
	gapScore := 30.0
	if len(points) > 1 {
		gapScore *= 1 - float64(q.GapsOverMinute)/float64(len(points)-1)
	}
	q.Score = math.Round((accScore+gapScore)*10) / 10
	return q
}
