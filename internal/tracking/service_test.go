package tracking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trajectory.report/internal/activity"
	"github.com/banshee-data/trajectory.report/internal/admission"
	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/geofence"
	"github.com/banshee-data/trajectory.report/internal/sampling"
	"github.com/banshee-data/trajectory.report/internal/testutil"
	"github.com/banshee-data/trajectory.report/internal/timeutil"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

func newTestService(t *testing.T, fences ...geofence.Geofence) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(Options{
		Tuning:    config.MustLoadDefaultConfig(),
		Store:     store,
		Events:    store,
		Routes:    store,
		Geofences: geofence.StaticSource(fences),
		Clock:     timeutil.NewMockClock(time.UnixMilli(testutil.BaseTimeMs)),
		Logger:    quietLogger,
	})
	require.NoError(t, err)
	return svc, store
}

// drive returns n samples heading north at 36 km/h, starting southM metres
// south of Istanbul.
func drive(device string, southM float64, n int) []trajectory.Sample {
	lat, lng := testutil.Offset(testutil.Istanbul.Lat, testutil.Istanbul.Lng, -southM, 0)
	return testutil.Line(device, lat, lng, 0, 100, 10_000, n, testutil.BaseTimeMs)
}

func ingestAll(t *testing.T, svc *Service, pts []trajectory.Sample) []Result {
	t.Helper()
	out := make([]Result, 0, len(pts))
	for _, p := range pts {
		res, err := svc.Ingest(context.Background(), Request{Sample: p})
		require.NoError(t, err)
		out = append(out, res)
	}
	return out
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}

func TestIngestAcceptsAndClassifies(t *testing.T) {
	svc, store := newTestService(t)
	results := ingestAll(t, svc, drive("car", 0, 6))

	assert.Equal(t, admission.ReasonFirstFix, results[0].Decision.Reason)
	for i, r := range results {
		require.True(t, r.Decision.Accept, "sample %d: %v", i, r.Decision.Reason)
		require.NotNil(t, r.Activity)
	}
	last := results[len(results)-1]
	assert.Equal(t, activity.TypeDriving, last.Activity.Type)
	assert.Equal(t, admission.PatternDriving, last.Decision.Pattern)

	c, err := svc.Classify("car")
	require.NoError(t, err)
	assert.Equal(t, *last.Activity, c)

	// Accepted samples reach the store once flushed.
	require.NoError(t, svc.Flusher().FlushNow(context.Background()))
	assert.Equal(t, 6, store.Len())
}

func TestIngestRejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	jitter := testutil.Stationary("phone", testutil.Istanbul.Lat, testutil.Istanbul.Lng, 3, 60_000, 3, testutil.BaseTimeMs)
	results := ingestAll(t, svc, jitter)
	assert.True(t, results[0].Decision.Accept)
	assert.Equal(t, admission.ReasonStationaryNoChange, results[1].Decision.Reason)
	assert.Nil(t, results[1].Activity)

	res, err := svc.Ingest(ctx, Request{Sample: jitter[0]})
	require.NoError(t, err)
	assert.Equal(t, admission.ReasonStaleOrDuplicate, res.Decision.Reason)

	_, err = svc.Ingest(ctx, Request{Sample: testutil.Fix("phone", testutil.BaseTimeMs, 95, 0)})
	assert.ErrorIs(t, err, trajectory.ErrInvalidCoordinates)
	_, err = svc.Ingest(ctx, Request{Sample: testutil.Fix("", testutil.BaseTimeMs, 41, 29)})
	assert.ErrorIs(t, err, trajectory.ErrMissingDevice)
}

func TestIngestBatchOrdersPerDevice(t *testing.T) {
	svc, _ := newTestService(t)
	a := drive("a", 0, 5)
	b := drive("b", 2000, 5)

	// Interleave devices and reverse each device's order.
	var reqs []Request
	for i := 4; i >= 0; i-- {
		reqs = append(reqs, Request{Sample: a[i]}, Request{Sample: b[i]})
	}
	reqs = append(reqs, Request{Sample: testutil.Fix("a", testutil.BaseTimeMs, 123, 0)})

	results, err := svc.IngestBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, len(reqs))

	for i, r := range results[:10] {
		assert.NoError(t, r.Err)
		assert.True(t, r.Decision.Accept, "request %d: %v", i, r.Decision.Reason)
	}
	// a[0] and b[0] come last in request order but are admitted first.
	assert.Equal(t, admission.ReasonFirstFix, results[8].Decision.Reason)
	assert.Equal(t, admission.ReasonFirstFix, results[9].Decision.Reason)
	assert.ErrorIs(t, results[10].Err, trajectory.ErrInvalidCoordinates)

	p, err := svc.Profile("a")
	require.NoError(t, err)
	assert.Equal(t, 5, p.UpdateCount)
	assert.Equal(t, a[4], p.LastAccepted)
}

func TestIngestBatchCancelled(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var reqs []Request
	for _, s := range drive("a", 0, 3) {
		reqs = append(reqs, Request{Sample: s})
	}
	_, err := svc.IngestBatch(ctx, reqs)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestGeofenceTransitions(t *testing.T) {
	home := geofence.Geofence{
		ID: "home", Name: "Home", CenterLat: testutil.Istanbul.Lat, CenterLng: testutil.Istanbul.Lng,
		RadiusM: 100, Enabled: true, NotifyOnEnter: true, NotifyOnExit: true,
	}
	svc, store := newTestService(t, home)

	// Positions -450, -350, ..., +150 metres from the centre.
	results := ingestAll(t, svc, drive("car", 450, 7))

	var events []geofence.Event
	for i, r := range results {
		require.True(t, r.Decision.Accept, "sample %d", i)
		events = append(events, r.Events...)
	}
	require.Len(t, events, 2)
	assert.Equal(t, geofence.EventEnter, events[0].Type)
	assert.Equal(t, results[4].Events[0], events[0])
	assert.Equal(t, geofence.EventExit, events[1].Type)
	assert.Len(t, results[6].Events, 1)

	assert.Equal(t, events, store.Events())
	assert.Equal(t, 1, svc.Stats().Memberships)
}

func TestEvaluateGeofencesWithoutAdmission(t *testing.T) {
	home := geofence.Geofence{
		ID: "home", CenterLat: testutil.Istanbul.Lat, CenterLng: testutil.Istanbul.Lng,
		RadiusM: 100, Enabled: true, NotifyOnEnter: true,
	}
	svc, _ := newTestService(t, home)
	ctx := context.Background()

	s := testutil.Fix("walker", testutil.BaseTimeMs, testutil.Istanbul.Lat, testutil.Istanbul.Lng)
	events, err := svc.EvaluateGeofences(ctx, s)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, geofence.EventEnter, events[0].Type)

	events, err = svc.EvaluateGeofences(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = svc.Profile("walker")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestResetDevice(t *testing.T) {
	home := geofence.Geofence{
		ID: "home", CenterLat: testutil.Istanbul.Lat, CenterLng: testutil.Istanbul.Lng,
		RadiusM: 1000, Enabled: true, NotifyOnEnter: true,
	}
	svc, _ := newTestService(t, home)
	pts := drive("car", 0, 3)
	ingestAll(t, svc, pts)
	assert.Equal(t, 1, svc.Stats().Memberships)

	assert.True(t, svc.ResetDevice("car"))
	_, err := svc.Classify("car")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Equal(t, 0, svc.Stats().Memberships)
	assert.False(t, svc.ResetDevice("car"))

	// An old sample is a first fix again after the reset.
	res, err := svc.Ingest(context.Background(), Request{Sample: pts[0]})
	require.NoError(t, err)
	assert.Equal(t, admission.ReasonFirstFix, res.Decision.Reason)
	require.Len(t, res.Events, 1)
}

func TestRecommendations(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Recommendations("car", "free", DeviceHints{})
	assert.ErrorIs(t, err, ErrUnknownDevice)

	ingestAll(t, svc, drive("car", 0, 5))
	rec, err := svc.Recommendations("car", "", DeviceHints{})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPlan, rec.Plan)
	assert.InDelta(t, 36, rec.SpeedKmh, 0.01)
	assert.InDelta(t, 0, rec.AccelMps2, 1e-6)
	assert.Equal(t, admission.PatternDriving, rec.Pattern)
	// 10 s band stretched by 1.5 for steady speed.
	assert.Equal(t, sampling.TrackingConfig{TimeIntervalMs: 15_000, DistanceIntervalM: 20, Accuracy: sampling.AccuracyHigh}, rec.Tracking)
	assert.InDelta(t, 18_750, rec.PlanAdvice.IntervalMs, 2)
	assert.InDelta(t, 26, rec.PlanAdvice.DistanceIntervalM, 0.01)

	low := 0.1
	rec, err = svc.Recommendations("car", "business", DeviceHints{BatteryLevel: &low})
	require.NoError(t, err)
	assert.Equal(t, int64(30_000), rec.Tracking.TimeIntervalMs)
	assert.Equal(t, sampling.AccuracyBalanced, rec.Tracking.Accuracy)
	assert.Less(t, rec.PlanAdvice.IntervalMs, int64(10_000))

	direct := svc.Recommend(sampling.Input{SpeedKmh: 60, AccelMps2: 1, IsMoving: true})
	assert.Equal(t, int64(5_000), direct.TimeIntervalMs)
}

func TestRangeQueries(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	pts := drive("car", 0, 7)
	ingestAll(t, svc, pts)

	sum, err := svc.Summarize(ctx, "car", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, sum.PointCount)
	assert.InDelta(t, 600, sum.TotalDistanceM, 0.5)
	assert.InDelta(t, 60, sum.DurationS, 1e-9)

	sub, err := svc.Summarize(ctx, "car", pts[1].TimestampMs, pts[3].TimestampMs)
	require.NoError(t, err)
	assert.Equal(t, 3, sub.PointCount)

	eff, err := svc.Efficiency(ctx, "car", 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 100, eff.EfficiencyPct, 0.01)

	cells, err := svc.Heatmap(ctx, "car", 0, 0, 0.01)
	require.NoError(t, err)
	total := 0
	for _, c := range cells {
		total += c.Intensity
	}
	assert.Equal(t, 7, total)

	zones, err := svc.SpeedZones(ctx, "car", 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, zones)

	q, err := svc.Quality(ctx, "car", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, q.GapsOverMinute)

	r, err := svc.BuildRoute(ctx, "car", "commute", 0, 0)
	require.NoError(t, err)
	assert.Len(t, r.Points, 2, "collinear points simplify to the endpoints")
	assert.InDelta(t, 600, r.TotalDistanceM, 1)
	assert.Equal(t, "commute", r.Name)
	require.Len(t, store.Routes(), 1)
	assert.Equal(t, r.ID, store.Routes()[0].ID)

	_, err = svc.BuildRoute(ctx, "ghost", "", 0, 0)
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestBuildRouteSkipsOutOfOrderPoints(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	pts := drive("car", 0, 6)
	// A fix replayed after a reset: older than the last stored one and far off the line.
	lat, lng := testutil.Offset(pts[2].Latitude, pts[2].Longitude, 0, 1000)
	stale := testutil.Fix("car", pts[2].TimestampMs, lat, lng)
	require.NoError(t, store.AppendSamples(ctx, append(pts, stale)))

	r, err := svc.BuildRoute(ctx, "car", "replayed", 0, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(r.Points), 2)
	for i := 1; i < len(r.Points); i++ {
		assert.Greater(t, r.Points[i].TimestampMs, r.Points[i-1].TimestampMs)
	}
	last := r.Points[len(r.Points)-1]
	assert.Equal(t, pts[5].TimestampMs, last.TimestampMs)
	assert.Equal(t, pts[5].Time(), r.EndTime)
}

func TestConcurrentDevices(t *testing.T) {
	svc, store := newTestService(t)
	const devices, perDevice = 20, 30

	var wg sync.WaitGroup
	for d := 0; d < devices; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			id := fmt.Sprintf("dev-%02d", d)
			for _, s := range drive(id, float64(d)*10, perDevice) {
				res, err := svc.Ingest(context.Background(), Request{Sample: s})
				assert.NoError(t, err)
				assert.True(t, res.Decision.Accept)
			}
		}(d)
	}
	wg.Wait()

	require.NoError(t, svc.Flusher().FlushNow(context.Background()))
	assert.Equal(t, devices*perDevice, store.Len())
	assert.Equal(t, devices, svc.Stats().Devices)
}

func TestRunStopsOnCancel(t *testing.T) {
	svc, store := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	require.Eventually(t, svc.Flusher().IsRunning, time.Second, time.Millisecond)

	ingestAll(t, svc, drive("car", 0, 3))
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 3, store.Len())
}
