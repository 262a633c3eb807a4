package sampling

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var freeBounds = PlanBounds{
	MinIntervalMs:        5_000,
	MaxIntervalMs:        30_000,
	MinDistanceIntervalM: 10,
	MaxDistanceIntervalM: 50,
}

func TestAdviseForPlan(t *testing.T) {
	t.Parallel()
	tests := []struct {
		speed    float64
		interval int64
		distance float64
	}{
		{-3, 30_000, 50},
		{0, 30_000, 50},
		{0.5, 30_000, 50},
		{1, 29_688, 49},
		{40, 17_500, 23},
		{60, 11_250, 10},
		{80, 5_000, 10},
		{200, 5_000, 10},
	}
	for _, tt := range tests {
		got := AdviseForPlan(tt.speed, freeBounds)
		assert.Equal(t, tt.interval, got.IntervalMs, "speed %v", tt.speed)
		assert.InDelta(t, tt.distance, got.DistanceIntervalM, 1e-9, "speed %v", tt.speed)
	}
}

func TestAdvisorForPlan(t *testing.T) {
	t.Parallel()
	a := NewAdvisor(func(plan string) (PlanBounds, bool) {
		if plan == "free" {
			return freeBounds, true
		}
		return PlanBounds{}, false
	})

	got, err := a.ForPlan("free", 0)
	require.NoError(t, err)
	assert.Equal(t, PlanAdvice{IntervalMs: 30_000, DistanceIntervalM: 50}, got)

	got, err = a.ForPlan("free", 100)
	require.NoError(t, err)
	assert.Equal(t, PlanAdvice{IntervalMs: 5_000, DistanceIntervalM: 10}, got)

	_, err = a.ForPlan("enterprise", 10)
	assert.True(t, errors.Is(err, ErrUnknownPlan))

	var zero Advisor
	_, err = zero.ForPlan("free", 10)
	assert.ErrorIs(t, err, ErrUnknownPlan)
}
