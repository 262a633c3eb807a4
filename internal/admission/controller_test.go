package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trajectory.report/internal/testutil"
	"github.com/banshee-data/trajectory.report/internal/timeutil"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

var (
	freeTier     = Tier{Name: "free", MinDistanceM: 10, MinTimeMs: 3000}
	businessTier = Tier{Name: "business", MinDistanceM: 3, MinTimeMs: 500}
	start        = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
)

func newController() (*Controller, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(start)
	return NewController(DefaultConfig(), clock), clock
}

// walkingProfile admits five fixes 14m/10s apart (about 5 km/h) and returns
// the resulting profile along with the fixes.
func walkingProfile(t *testing.T, c *Controller) (*Profile, []trajectory.Sample) {
	t.Helper()
	fixes := testutil.Line("dev", testutil.Istanbul.Lat, testutil.Istanbul.Lng, 45, 14, 10_000, 5, testutil.BaseTimeMs)
	var p *Profile
	for i, s := range fixes {
		var d Decision
		d, p = c.Decide(s, p, businessTier)
		require.Truef(t, d.Accept, "fix %d rejected: %v", i, d.Reason)
	}
	require.Equal(t, PatternWalking, PatternForSpeed(AveragePairSpeedKmh(p.Recent())))
	return p, fixes
}

func TestFirstFixCreatesProfile(t *testing.T) {
	c, _ := newController()
	s := testutil.Fix("dev", testutil.BaseTimeMs, 41.0082, 28.9784)

	d, p := c.Decide(s, nil, freeTier)

	assert.True(t, d.Accept)
	assert.Equal(t, ReasonFirstFix, d.Reason)
	require.NotNil(t, p)
	assert.Equal(t, "dev", p.DeviceID)
	assert.Equal(t, s, p.LastAccepted)
	assert.Equal(t, 1, p.UpdateCount)
	assert.Equal(t, start, p.LastUpdateAt)
	assert.Equal(t, PatternStationary, p.Pattern)
}

func TestIdenticalSampleTwice(t *testing.T) {
	c, _ := newController()
	s := testutil.Fix("dev", testutil.BaseTimeMs, 41.0082, 28.9784)

	d1, p := c.Decide(s, nil, freeTier)
	d2, _ := c.Decide(s, p, freeTier)

	assert.True(t, d1.Accept)
	assert.False(t, d2.Accept)
	assert.Equal(t, ReasonStaleOrDuplicate, d2.Reason)
}

func TestReplayOfAcceptedSampleRejected(t *testing.T) {
	c, _ := newController()
	p, fixes := walkingProfile(t, c)

	for _, s := range fixes {
		d, _ := c.Decide(s, p, businessTier)
		if d.Reason != ReasonStaleOrDuplicate {
			t.Errorf("replay of ts=%d: got %v, want stale_or_duplicate", s.TimestampMs, d.Reason)
		}
	}
}

func TestStationaryNoChange(t *testing.T) {
	c, _ := newController()
	first := testutil.Fix("dev", testutil.BaseTimeMs, 41.0082, 28.9784)
	_, p := c.Decide(first, nil, freeTier)

	lat, lng := testutil.Offset(first.Latitude, first.Longitude, 15, 0)
	d, _ := c.Decide(testutil.Fix("dev", first.TimestampMs+10_000, lat, lng), p, freeTier)

	assert.False(t, d.Accept)
	assert.Equal(t, ReasonStationaryNoChange, d.Reason)
	assert.InDelta(t, 15, d.DistanceM, 0.1)
	assert.Equal(t, 1, p.UpdateCount, "rejection must not mutate the profile")

	// Twice the minimum distance is enough to leave the stationary gate.
	lat, lng = testutil.Offset(first.Latitude, first.Longitude, 25, 0)
	d, _ = c.Decide(testutil.Fix("dev", first.TimestampMs+10_000, lat, lng), p, freeTier)
	assert.True(t, d.Accept, "got %v", d.Reason)
}

func TestInsufficientChange(t *testing.T) {
	c, _ := newController()
	p, fixes := walkingProfile(t, c)
	last := fixes[len(fixes)-1]

	lat, lng := testutil.Offset(last.Latitude, last.Longitude, 5, 0)
	d, _ := c.Decide(testutil.Fix("dev", last.TimestampMs+1000, lat, lng), p, freeTier)

	assert.False(t, d.Accept)
	assert.Equal(t, ReasonInsufficientChange, d.Reason)
	assert.Equal(t, PatternWalking, d.Pattern)

	// Same distance after the minimum time passes is accepted.
	d, _ = c.Decide(testutil.Fix("dev", last.TimestampMs+3000, lat, lng), p, freeTier)
	assert.True(t, d.Accept, "got %v", d.Reason)
}

func TestJumpFromWalkingProfile(t *testing.T) {
	c, _ := newController()
	p, fixes := walkingProfile(t, c)
	last := fixes[len(fixes)-1]
	before := *p

	lat, lng := testutil.Offset(last.Latitude, last.Longitude, 2000, 0)
	d, _ := c.Decide(testutil.Fix("dev", last.TimestampMs+1000, lat, lng), p, freeTier)

	assert.False(t, d.Accept)
	assert.Contains(t, []Reason{ReasonJumpDetected, ReasonExcessiveSpeed}, d.Reason)
	assert.True(t, d.Reason.IsAnomaly())
	assert.Equal(t, before.UpdateCount, p.UpdateCount)
	assert.Equal(t, before.LastAccepted, p.LastAccepted)
}

func TestAnomalyReasons(t *testing.T) {
	tests := []struct {
		name    string
		northM  float64
		dtMs    int64
		want    Reason
		wantAcc bool
	}{
		{"excessive speed", 600, 10_000, ReasonExcessiveSpeed, false},  // 216 km/h
		{"jump", 1500, 60_000, ReasonJumpDetected, false},              // 90 km/h
		{"excessive acceleration", 27, 500, ReasonExcessiveAcceleration, false},
		{"plausible sprint", 40, 10_000, ReasonValidUpdate, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newController()
			p, fixes := walkingProfile(t, c)
			last := fixes[len(fixes)-1]

			lat, lng := testutil.Offset(last.Latitude, last.Longitude, tt.northM, 0)
			d, _ := c.Decide(testutil.Fix("dev", last.TimestampMs+tt.dtMs, lat, lng), p, businessTier)

			if d.Reason != tt.want {
				t.Errorf("expected %v, got %v (speed=%.1f dist=%.1f)", tt.want, d.Reason, d.SpeedKmh, d.DistanceM)
			}
			if d.Accept != tt.wantAcc {
				t.Errorf("expected accept=%v, got %v", tt.wantAcc, d.Accept)
			}
		})
	}
}

func TestAcceptMutatesProfile(t *testing.T) {
	c, clock := newController()
	first := testutil.Fix("dev", testutil.BaseTimeMs, 41.0082, 28.9784)
	_, p := c.Decide(first, nil, freeTier)

	clock.Advance(30 * time.Second)
	lat, lng := testutil.Offset(first.Latitude, first.Longitude, 100, 0)
	next := testutil.Fix("dev", first.TimestampMs+30_000, lat, lng)
	d, p2 := c.Decide(next, p, freeTier)

	require.True(t, d.Accept)
	assert.Same(t, p, p2)
	assert.Equal(t, ReasonValidUpdate, d.Reason)
	assert.Equal(t, next, p.LastAccepted)
	assert.Equal(t, 2, p.UpdateCount)
	assert.InDelta(t, 12, p.LastSpeedKmh, 0.05)
	assert.Equal(t, start.Add(30*time.Second), p.LastUpdateAt)
	assert.Equal(t, int64(30_000), d.ElapsedMs)
}

func TestRecentWindowBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PatternWindow = 4
	c := NewController(cfg, timeutil.NewMockClock(start))

	fixes := testutil.Line("dev", 41, 29, 0, 50, 10_000, 9, testutil.BaseTimeMs)
	var p *Profile
	for _, s := range fixes {
		_, p = c.Decide(s, p, freeTier)
	}
	recent := p.Recent()
	require.Len(t, recent, 4)
	assert.Equal(t, fixes[len(fixes)-1], recent[3])
	assert.Equal(t, fixes[len(fixes)-4], recent[0])
}

func TestPatternForSpeed(t *testing.T) {
	tests := []struct {
		kmh  float64
		want MovementPattern
	}{
		{0, PatternStationary},
		{0.99, PatternStationary},
		{1, PatternWalking},
		{9.99, PatternWalking},
		{10, PatternDriving},
		{49.9, PatternDriving},
		{50, PatternFastMoving},
		{300, PatternFastMoving},
	}
	for _, tt := range tests {
		if got := PatternForSpeed(tt.kmh); got != tt.want {
			t.Errorf("PatternForSpeed(%v) = %v, want %v", tt.kmh, got, tt.want)
		}
	}
}

func TestReasonNames(t *testing.T) {
	assert.Equal(t, "stale_or_duplicate", ReasonStaleOrDuplicate.String())
	assert.Equal(t, "excessive_acceleration", ReasonExcessiveAcceleration.String())
	assert.Equal(t, "fast_moving", PatternFastMoving.String())

	for _, r := range []Reason{ReasonFirstFix, ReasonValidUpdate} {
		assert.True(t, r.Accepted())
		assert.False(t, r.IsAnomaly())
	}
	for _, r := range []Reason{ReasonStaleOrDuplicate, ReasonStationaryNoChange, ReasonInsufficientChange} {
		assert.False(t, r.Accepted())
		assert.False(t, r.IsAnomaly(), "%v is noise, not an anomaly", r)
	}

	text, err := ReasonJumpDetected.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "jump_detected", string(text))

	var r Reason
	require.NoError(t, r.UnmarshalText([]byte("excessive_acceleration")))
	assert.Equal(t, ReasonExcessiveAcceleration, r)
	assert.Error(t, r.UnmarshalText([]byte("nope")))

	var p MovementPattern
	require.NoError(t, p.UnmarshalText([]byte("walking")))
	assert.Equal(t, PatternWalking, p)
	assert.Error(t, p.UnmarshalText([]byte("flying")))
}
