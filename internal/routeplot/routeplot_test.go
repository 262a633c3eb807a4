package routeplot

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trajectory.report/internal/activity"
	"github.com/banshee-data/trajectory.report/internal/analytics"
	"github.com/banshee-data/trajectory.report/internal/route"
	"github.com/banshee-data/trajectory.report/internal/testutil"
)

func testRoute() route.Route {
	samples := testutil.Line("car", testutil.Istanbul.Lat, testutil.Istanbul.Lng, 45, 100, 10_000, 6, testutil.BaseTimeMs)
	points := make([]route.Point, len(samples))
	for i, s := range samples {
		typ := activity.TypeWalking
		if i >= 3 {
			typ = activity.TypeDriving
		}
		points[i] = route.Point{Sample: s, Activity: &activity.Classification{Type: typ}}
	}
	return route.Build("r1", "car", "commute", points, samples[0].Time(), samples[len(samples)-1].Time())
}

func TestSegmentsShareBoundaries(t *testing.T) {
	r := testRoute()
	r.Points[5].Activity = nil
	segs := segments(r.Points)
	require.Len(t, segs, 3)
	assert.Equal(t, activity.TypeWalking, segs[0].typ)
	assert.Len(t, segs[0].xys, 3)
	assert.Equal(t, activity.TypeDriving, segs[1].typ)
	assert.Len(t, segs[1].xys, 3)
	assert.Equal(t, segs[0].xys[2], segs[1].xys[0])
	assert.Equal(t, activity.TypeUnknown, segs[2].typ)
	assert.Len(t, segs[2].xys, 2)
}

func TestRoutePlotPNG(t *testing.T) {
	p, err := RoutePlot(testRoute())
	require.NoError(t, err)
	assert.Contains(t, p.Title.Text, "commute")

	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, p, 4*72, 4*72))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
}

func TestRoutePlotEmpty(t *testing.T) {
	_, err := RoutePlot(route.Route{ID: "empty", StartTime: time.Unix(0, 0)})
	assert.Error(t, err)
}

func TestHeatmapPlot(t *testing.T) {
	samples := testutil.Stationary("phone", testutil.Istanbul.Lat, testutil.Istanbul.Lng, 200, 1000, 50, testutil.BaseTimeMs)
	cells := analytics.Heatmap(samples, 0.001)
	require.NotEmpty(t, cells)

	p, err := HeatmapPlot("phone", cells, 0.001)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, p, Width, Height))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))

	_, err = HeatmapPlot("none", nil, 0.001)
	assert.Error(t, err)
}

func TestEqualAspect(t *testing.T) {
	p, err := RoutePlot(testRoute())
	require.NoError(t, err)
	lngScale := 0.7547 // cos(41°)
	w := (p.X.Max - p.X.Min) * lngScale
	h := p.Y.Max - p.Y.Min
	assert.InDelta(t, 1, w/h, 0.01)
}

func TestRamp(t *testing.T) {
	assert.NotEqual(t, ramp(0), ramp(1))
	assert.Equal(t, ramp(1), ramp(2))
}
