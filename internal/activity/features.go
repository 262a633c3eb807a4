package activity

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

// Features summarizes a window of samples.
type Features struct {
	AvgSpeedKmh   float64 `json:"avg_speed_kmh"`
	AvgAccelMps2  float64 `json:"avg_accel_mps2"`
	AccelVariance float64 `json:"accel_variance"`
	MaxAccelMps2  float64 `json:"max_accel_mps2"`
	MeanAccuracyM float64 `json:"mean_accuracy_m,omitempty"` // 0 when no sample reported accuracy
	DurationS     float64 `json:"duration_s"`
	SampleCount   int     `json:"sample_count"`
}

// ComputeFeatures derives window features. Average speed is total distance
// over total time; acceleration statistics come from the change in speed
// between consecutive pairs. Pairs with non-increasing timestamps are skipped.
func ComputeFeatures(window []trajectory.Sample) Features {
	f := Features{SampleCount: len(window)}
	if len(window) == 0 {
		return f
	}

	var accSum float64
	var accN int
	for _, s := range window {
		if acc, ok := s.Accuracy(); ok {
			accSum += acc
			accN++
		}
	}
	if accN > 0 {
		f.MeanAccuracyM = accSum / float64(accN)
	}
	f.DurationS = float64(window[len(window)-1].TimestampMs-window[0].TimestampMs) / 1000

	var totalDist, totalTime float64
	var accels []float64
	prevSpeed := math.NaN()
	for i := 1; i < len(window); i++ {
		a, b := window[i-1], window[i]
		dt := float64(b.TimestampMs-a.TimestampMs) / 1000
		if dt <= 0 {
			continue
		}
		d := geo.HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
		totalDist += d
		totalTime += dt
		v := d / dt
		if !math.IsNaN(prevSpeed) {
			accels = append(accels, math.Abs(v-prevSpeed)/dt)
		}
		prevSpeed = v
	}
	f.AvgSpeedKmh = geo.SpeedKmh(totalDist, totalTime)

	if len(accels) > 0 {
		f.AvgAccelMps2, f.AccelVariance = stat.PopMeanVariance(accels, nil)
		for _, a := range accels {
			f.MaxAccelMps2 = math.Max(f.MaxAccelMps2, a)
		}
	}
	return f
}
