package sampling

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownPlan is returned when a plan name has no tier.
var ErrUnknownPlan = errors.New("sampling: unknown plan")

// TierLookup resolves a plan name to its bounds.
type TierLookup func(plan string) (PlanBounds, bool)

// PlanBounds are the interval and distance limits a subscription plan allows.
type PlanBounds struct {
	MinIntervalMs        int64
	MaxIntervalMs        int64
	MinDistanceIntervalM float64
	MaxDistanceIntervalM float64
}

// Interval and distance advice saturate at these speeds.
const (
	planIntervalSaturationKmh = 80.0
	planDistanceSaturationKmh = 60.0
	stationarySpeedKmh        = 1.0
)

// PlanAdvice is the per-plan recommendation.
type PlanAdvice struct {
	IntervalMs        int64   `json:"interval_ms"`
	DistanceIntervalM float64 `json:"distance_interval_m"`
}

// AdviseForPlan interpolates linearly between the plan's bounds. Devices
// below stationarySpeedKmh get the longest interval and largest distance
// step; devices at or above the saturation speeds get the shortest of both.
// The distance step is rounded to whole metres.
func AdviseForPlan(speedKmh float64, b PlanBounds) PlanAdvice {
	if math.IsNaN(speedKmh) || speedKmh < stationarySpeedKmh {
		return PlanAdvice{IntervalMs: b.MaxIntervalMs, DistanceIntervalM: b.MaxDistanceIntervalM}
	}
	ti := saturate(speedKmh / planIntervalSaturationKmh)
	di := saturate(speedKmh / planDistanceSaturationKmh)
	interval := float64(b.MaxIntervalMs) - ti*float64(b.MaxIntervalMs-b.MinIntervalMs)
	distance := b.MaxDistanceIntervalM - di*(b.MaxDistanceIntervalM-b.MinDistanceIntervalM)
	return PlanAdvice{
		IntervalMs:        int64(math.Round(interval)),
		DistanceIntervalM: math.Round(distance),
	}
}

func saturate(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	return math.Min(1, f)
}

// ForPlan returns the plan-bounded advice for a device moving at speedKmh.
func (a *Advisor) ForPlan(plan string, speedKmh float64) (PlanAdvice, error) {
	if a == nil || a.tiers == nil {
		return PlanAdvice{}, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	b, ok := a.tiers(plan)
	if !ok {
		return PlanAdvice{}, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	return AdviseForPlan(speedKmh, b), nil
}
