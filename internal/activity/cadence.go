package activity

import "gonum.org/v1/gonum/stat"

// StepPeakThreshold is the accelerometer magnitude (in g) a local maximum
// must exceed to count as a step.
const StepPeakThreshold = 1.2

// cadenceSamples bounds how much accelerometer history is examined.
const cadenceSamples = 30

// minCadenceSamples is the shortest history a step rate is derived from.
// Shorter bursts extrapolate one or two peaks into implausible rates.
const minCadenceSamples = 10

// Cadence is a step-rate signal from a motion sensor.
type Cadence struct {
	StepsPerMinute float64 `json:"steps_per_minute"`
	// Regularity is 1 for perfectly even step intervals, falling toward 0
	// as the intervals vary.
	Regularity float64 `json:"regularity"`
}

// CadenceFromAccelerometer detects steps as local maxima above
// StepPeakThreshold in the most recent magnitudes, sampled at sampleRateHz.
// It returns nil when there is too little data to say anything.
func CadenceFromAccelerometer(magnitudes []float64, sampleRateHz float64) *Cadence {
	if sampleRateHz <= 0 || len(magnitudes) < minCadenceSamples {
		return nil
	}
	if len(magnitudes) > cadenceSamples {
		magnitudes = magnitudes[len(magnitudes)-cadenceSamples:]
	}

	var peaks []int
	for i := 1; i < len(magnitudes)-1; i++ {
		m := magnitudes[i]
		if m > StepPeakThreshold && m > magnitudes[i-1] && m > magnitudes[i+1] {
			peaks = append(peaks, i)
		}
	}

	minutes := float64(len(magnitudes)) / sampleRateHz / 60
	c := &Cadence{StepsPerMinute: float64(len(peaks)) / minutes}
	if len(peaks) < 3 {
		return c
	}

	intervals := make([]float64, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		intervals[i-1] = float64(peaks[i]-peaks[i-1]) / sampleRateHz
	}
	mean, variance := stat.PopMeanVariance(intervals, nil)
	if mean > 0 {
		c.Regularity = 1 - min(variance/mean, 1)
	}
	return c
}
