// Package sampling recommends how often a device should acquire GPS fixes
// given its motion, battery and screen state. Recommendations are pure and
// may be recomputed at any time.
package sampling

import (
	"fmt"
	"math"
)

// Accuracy is the requested GPS accuracy tier, ordered from coarsest to
// finest.
type Accuracy int

const (
	AccuracyLowest Accuracy = iota
	AccuracyLow
	AccuracyBalanced
	AccuracyHigh
	AccuracyHighest
)

var accuracyNames = [...]string{"lowest", "low", "balanced", "high", "highest"}

func (a Accuracy) String() string {
	if a >= AccuracyLowest && a <= AccuracyHighest {
		return accuracyNames[a]
	}
	return fmt.Sprintf("Accuracy(%d)", int(a))
}

// MarshalText encodes the tier by name.
func (a Accuracy) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText decodes a tier name.
func (a *Accuracy) UnmarshalText(text []byte) error {
	for i, name := range accuracyNames {
		if name == string(text) {
			*a = Accuracy(i)
			return nil
		}
	}
	return fmt.Errorf("unknown accuracy %q", text)
}

func (a Accuracy) up() Accuracy   { return min(a+1, AccuracyHighest) }
func (a Accuracy) down() Accuracy { return max(a-1, AccuracyLowest) }

// Bounds on every recommendation.
const (
	MinIntervalMs = 5_000
	MaxIntervalMs = 120_000
	MinDistanceM  = 5.0
	MaxDistanceM  = 100.0
)

// Input describes the device state. Optional fields are nil when unknown.
type Input struct {
	SpeedKmh     float64  `json:"speed_kmh"`
	AccelMps2    float64  `json:"accel_mps2"`
	IsMoving     bool     `json:"is_moving"`
	BatteryLevel *float64 `json:"battery_level,omitempty"` // 0..1
	IsCharging   *bool    `json:"is_charging,omitempty"`
	ScreenOn     *bool    `json:"screen_on,omitempty"`
}

// TrackingConfig is the recommendation sent back to the client.
type TrackingConfig struct {
	TimeIntervalMs    int64    `json:"time_interval_ms"`
	DistanceIntervalM float64  `json:"distance_interval_m"`
	Accuracy          Accuracy `json:"accuracy"`
}

type band struct {
	minKmh     float64 // exclusive lower bound
	intervalMs float64
	distanceM  float64
	accuracy   Accuracy
}

// Speed bands, fastest first.
var bands = []band{
	{50, 5_000, 50, AccuracyHighest},
	{20, 10_000, 20, AccuracyHigh},
	{5, 15_000, 10, AccuracyBalanced},
	{1, 20_000, 10, AccuracyBalanced},
}

var stillBand = band{intervalMs: 60_000, distanceM: 5, accuracy: AccuracyLow}

// Advisor computes polling recommendations. The zero value serves Recommend;
// plan advice needs a tier lookup from NewAdvisor.
type Advisor struct {
	tiers TierLookup
}

// NewAdvisor returns an Advisor that resolves plan names through tiers.
func NewAdvisor(tiers TierLookup) *Advisor {
	return &Advisor{tiers: tiers}
}

// Recommend returns the polling cadence for in. For a fixed device state the
// interval never increases and accuracy never decreases as speed rises.
func (a *Advisor) Recommend(in Input) TrackingConfig {
	b := stillBand
	for _, candidate := range bands {
		if in.SpeedKmh > candidate.minKmh {
			b = candidate
			break
		}
	}
	interval, distance, acc := b.intervalMs, b.distanceM, b.accuracy

	switch {
	case in.AccelMps2 > 2:
		interval *= 0.7
	case in.AccelMps2 < 0.1:
		interval *= 1.5
	}

	if !in.IsMoving {
		interval = math.Max(60_000, interval*2)
		distance = math.Max(MinDistanceM, distance*0.5)
		acc = AccuracyLow
	}

	charging := in.IsCharging != nil && *in.IsCharging
	if in.BatteryLevel != nil && !charging {
		switch level := *in.BatteryLevel; {
		case level < 0.2:
			interval *= 2
			distance = math.Max(20, distance*1.5)
			acc = acc.down()
		case level < 0.5:
			interval *= 1.3
		}
	}
	if charging {
		acc = acc.up()
	}

	if in.ScreenOn != nil && !*in.ScreenOn {
		interval *= 1.5
	}

	return TrackingConfig{
		TimeIntervalMs:    int64(math.Round(clamp(interval, MinIntervalMs, MaxIntervalMs))),
		DistanceIntervalM: clamp(distance, MinDistanceM, MaxDistanceM),
		Accuracy:          acc,
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}

// IsMoving reports whether a speed in km/h counts as movement.
func IsMoving(speedKmh float64) bool { return speedKmh >= 1 }

// Acceleration returns the change in speed between two readings in m/s².
// Non-positive intervals yield 0.
func Acceleration(prevSpeedMps, speedMps, dtSeconds float64) float64 {
	if dtSeconds <= 0 {
		return 0
	}
	return (speedMps - prevSpeedMps) / dtSeconds
}
