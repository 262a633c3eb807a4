package admission

import (
	"fmt"

	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

// MovementPattern is the coarse movement class derived from recent accepted
// samples. It is a closed set; switch statements over it must be exhaustive.
type MovementPattern uint8

const (
	PatternStationary MovementPattern = iota
	PatternWalking
	PatternDriving
	PatternFastMoving
)

func (p MovementPattern) String() string {
	switch p {
	case PatternStationary:
		return "stationary"
	case PatternWalking:
		return "walking"
	case PatternDriving:
		return "driving"
	case PatternFastMoving:
		return "fast_moving"
	}
	return fmt.Sprintf("MovementPattern(%d)", uint8(p))
}

// MarshalText encodes the pattern by name.
func (p MovementPattern) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a pattern name.
func (p *MovementPattern) UnmarshalText(text []byte) error {
	for c := PatternStationary; c <= PatternFastMoving; c++ {
		if c.String() == string(text) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown movement pattern %q", text)
}

// PatternForSpeed maps an average speed in km/h onto a pattern.
func PatternForSpeed(avgKmh float64) MovementPattern {
	switch {
	case avgKmh < 1:
		return PatternStationary
	case avgKmh < 10:
		return PatternWalking
	case avgKmh < 50:
		return PatternDriving
	default:
		return PatternFastMoving
	}
}

// AveragePairSpeedKmh averages the speeds of consecutive pairs in samples.
// Fewer than two samples yield 0.
func AveragePairSpeedKmh(samples []trajectory.Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(samples); i++ {
		a, b := samples[i-1], samples[i]
		d := geo.HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
		total += geo.SpeedKmh(d, float64(b.TimestampMs-a.TimestampMs)/1000)
	}
	return total / float64(len(samples)-1)
}
