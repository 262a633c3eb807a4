package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trajectory.report/internal/testutil"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

func TestSummarizeDriving(t *testing.T) {
	// 200m every 10s: 72 km/h.
	pts := testutil.Line("d", 41, 29, 0, 200, 10_000, 31, testutil.BaseTimeMs)

	s := Summarize(pts, DefaultSummaryConfig())

	assert.Equal(t, 31, s.PointCount)
	assert.InDelta(t, 6000, s.TotalDistanceM, 0.5)
	assert.InDelta(t, 300, s.DurationS, 1e-9)
	assert.InDelta(t, 72, s.AvgSpeedKmh, 0.01)
	assert.InDelta(t, 72, s.MaxSpeedKmh, 0.01)
	assert.InDelta(t, 300, s.ActiveTimeS, 1e-9)
	assert.Zero(t, s.StoppedTimeS)
}

func TestSummarizeStopThenGo(t *testing.T) {
	// Ten minutes parked with GPS jitter, then ten minutes walking.
	parked := testutil.Stationary("d", 41, 29, 5, 30_000, 21, testutil.BaseTimeMs)
	last := parked[len(parked)-1]
	walk := testutil.Line("d", last.Latitude, last.Longitude, 90, 40, 30_000, 21, last.TimestampMs)[1:]
	pts := append(parked, walk...)

	s := Summarize(pts, DefaultSummaryConfig())

	assert.InDelta(t, 1200, s.ActiveTimeS+s.StoppedTimeS, 1e-9, "active+stopped covers the duration")
	assert.InDelta(t, 600, s.StoppedTimeS, 30.0+1e-9, "parked segment is stopped")
	assert.Greater(t, s.ActiveTimeS, 500.0)
}

func TestSummarizeConfigurableWindow(t *testing.T) {
	// Slow drift: 10m per minute.
	pts := testutil.Line("d", 41, 29, 0, 10, 60_000, 11, testutil.BaseTimeMs)

	fiveMin := Summarize(pts, SummaryConfig{StopWindow: 5 * time.Minute, StopRadiusM: 100})
	assert.InDelta(t, 600, fiveMin.StoppedTimeS, 1e-9, "50m per 5 minutes is under a 100m radius")

	tight := Summarize(pts, SummaryConfig{StopWindow: 5 * time.Minute, StopRadiusM: 30})
	assert.Less(t, tight.StoppedTimeS, 600.0)
	assert.Greater(t, tight.ActiveTimeS, 0.0)
}

func TestSummarizeDegenerate(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil, DefaultSummaryConfig()))

	one := Summarize([]trajectory.Sample{testutil.Fix("d", 1, 1, 1)}, DefaultSummaryConfig())
	assert.Equal(t, 1, one.PointCount)
	assert.Zero(t, one.AvgSpeedKmh)

	// Duplicate timestamps contribute distance but no time or speed.
	dup := []trajectory.Sample{testutil.Fix("d", 1000, 41, 29), testutil.Fix("d", 1000, 41.001, 29)}
	s := Summarize(dup, DefaultSummaryConfig())
	assert.Greater(t, s.TotalDistanceM, 100.0)
	assert.Zero(t, s.DurationS)
	assert.Zero(t, s.AvgSpeedKmh)
	assert.False(t, math.IsNaN(s.MaxSpeedKmh))
}

func TestRouteEfficiency(t *testing.T) {
	straight := testutil.Line("d", 41, 29, 45, 500, 60_000, 2, testutil.BaseTimeMs)
	e := RouteEfficiency(straight)
	assert.InDelta(t, 100, e.EfficiencyPct, 1e-9)
	assert.Equal(t, 2, e.Waypoints)

	out := testutil.Line("d", 41, 29, 0, 100, 60_000, 6, testutil.BaseTimeMs)
	back := make([]trajectory.Sample, 0, len(out))
	for i := len(out) - 2; i >= 0; i-- {
		p := out[i]
		p.TimestampMs = out[len(out)-1].TimestampMs + int64(len(out)-1-i)*60_000
		back = append(back, p)
	}
	roundTrip := append(out, back...)
	e = RouteEfficiency(roundTrip)
	assert.Greater(t, e.TotalDistanceM, 0.0)
	assert.InDelta(t, 0, e.EfficiencyPct, 1e-9)

	still := []trajectory.Sample{testutil.Fix("d", 1, 41, 29), testutil.Fix("d", 2, 41, 29)}
	assert.Equal(t, 100.0, RouteEfficiency(still).EfficiencyPct)
	assert.Equal(t, 100.0, RouteEfficiency(nil).EfficiencyPct)
}

func TestHeatmapMerging(t *testing.T) {
	pts := []trajectory.Sample{
		testutil.Fix("d", 1, 41.0012, 28.9731),
		testutil.Fix("d", 2, 41.0087, 28.9799), // same 0.01 cell as above
		testutil.Fix("d", 3, 41.0112, 28.9731), // cell to the north
	}

	cells := Heatmap(pts, 0.01)

	require.Len(t, cells, 2)
	assert.Equal(t, 2, cells[0].Intensity)
	assert.InDelta(t, 41.00, cells[0].Lat, 1e-9)
	assert.InDelta(t, 28.97, cells[0].Lng, 1e-9)
	assert.InDelta(t, 2.0/3, cells[0].Weight, 1e-9)
	assert.Equal(t, 1, cells[1].Intensity)
	assert.InDelta(t, 41.01, cells[1].Lat, 1e-9)
}

func TestHeatmapNegativeCoordinatesFloor(t *testing.T) {
	pts := []trajectory.Sample{
		testutil.Fix("d", 1, -0.005, -0.005),
		testutil.Fix("d", 2, 0.005, 0.005),
	}
	cells := Heatmap(pts, 0.01)
	require.Len(t, cells, 2, "points either side of zero never share a cell")
	assert.InDelta(t, -0.01, cells[0].Lat, 1e-12)
	assert.InDelta(t, 0, cells[1].Lat, 1e-12)
}

func TestHeatmapTinyGridKeepsCellsApart(t *testing.T) {
	pts := []trajectory.Sample{
		testutil.Fix("d", 1, 41.0082, 28.9784),
		testutil.Fix("d", 2, -33.8688, 151.2093),
	}
	for _, grid := range []float64{1e-20, 1e-12, MinGridDeg} {
		cells := Heatmap(pts, grid)
		require.Len(t, cells, 2, "grid %g", grid)
		assert.Equal(t, 1, cells[0].Intensity)
		assert.InDelta(t, -33.8688, cells[0].Lat, 1e-6, "grid %g", grid)
		assert.InDelta(t, 41.0082, cells[1].Lat, 1e-6, "grid %g", grid)
	}
}

func TestHeatmapDeterministic(t *testing.T) {
	pts := testutil.Line("d", 41, 29, 30, 150, 10_000, 60, testutil.BaseTimeMs)
	reversed := make([]trajectory.Sample, len(pts))
	for i, p := range pts {
		reversed[len(pts)-1-i] = p
	}

	a := Heatmap(pts, 0.001)
	b := Heatmap(reversed, 0.001)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("heatmap depends on input order (-a +b):\n%s", diff)
	}
	for i := 1; i < len(a); i++ {
		if a[i].Intensity > a[i-1].Intensity {
			t.Fatalf("cells not sorted by intensity at %d", i)
		}
	}
	assert.Nil(t, Heatmap(pts, 0))
}
