package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/trajectory.report/internal/activity"
	"github.com/banshee-data/trajectory.report/internal/admission"
	"github.com/banshee-data/trajectory.report/internal/analytics"
	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/geofence"
	"github.com/banshee-data/trajectory.report/internal/monitoring"
	"github.com/banshee-data/trajectory.report/internal/route"
	"github.com/banshee-data/trajectory.report/internal/routefilter"
	"github.com/banshee-data/trajectory.report/internal/sampling"
	"github.com/banshee-data/trajectory.report/internal/timeutil"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
	"github.com/banshee-data/trajectory.report/internal/units"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrNoSamples     = errors.New("no samples in range")
)

// RouteSink persists finished routes.
type RouteSink interface {
	SaveRoute(ctx context.Context, r route.Route) error
}

// Options configures a Service. Store is required; everything else is
// optional.
type Options struct {
	Tuning    *config.TuningConfig
	Store     Store
	Geofences geofence.Source
	Events    EventSink
	Routes    RouteSink
	Clock     timeutil.Clock
	Logger    *log.Logger
}

// Request is one sample submitted for ingest.
type Request struct {
	Sample trajectory.Sample `json:"sample"`
	// Plan selects the admission tier. Unknown or empty plans use the
	// default tier.
	Plan string `json:"plan,omitempty"`
	// Accelerometer holds recent acceleration magnitudes in g, oldest
	// first. When present, step cadence feeds the classifier.
	Accelerometer   []float64 `json:"accelerometer,omitempty"`
	AccelerometerHz float64   `json:"accelerometer_hz,omitempty"`
}

// Result is the outcome of ingesting one Request. Activity and Events are
// only set for accepted samples.
type Result struct {
	Decision admission.Decision       `json:"decision"`
	Activity *activity.Classification `json:"activity,omitempty"`
	Events   []geofence.Event         `json:"events,omitempty"`
	// Err is set by IngestBatch for samples that failed validation.
	Err error `json:"-"`
}

// DeviceHints are optional client-reported device conditions.
type DeviceHints struct {
	BatteryLevel *float64 `json:"battery_level,omitempty"`
	IsCharging   *bool    `json:"is_charging,omitempty"`
	ScreenOn     *bool    `json:"screen_on,omitempty"`
}

// Recommendation combines the adaptive polling advice with the plan bounds.
type Recommendation struct {
	DeviceID   string                    `json:"device_id"`
	Plan       string                    `json:"plan"`
	SpeedKmh   float64                   `json:"speed_kmh"`
	AccelMps2  float64                   `json:"accel_mps2"`
	Pattern    admission.MovementPattern `json:"pattern"`
	Tracking   sampling.TrackingConfig   `json:"tracking"`
	PlanAdvice sampling.PlanAdvice       `json:"plan_advice"`
}

// Stats is a point-in-time view of service state.
type Stats struct {
	Devices     int          `json:"devices"`
	Memberships int          `json:"memberships"`
	Flusher     FlusherStats `json:"flusher"`
}

// Service is the ingest and query facade. All methods are safe for
// concurrent use; work for one device is serialized, work for different
// devices runs in parallel.
type Service struct {
	tuning     *config.TuningConfig
	store      Store
	events     EventSink
	routes     RouteSink
	clock      timeutil.Clock
	logger     *log.Logger
	controller *admission.Controller
	classifier *activity.Classifier
	monitor    *geofence.Monitor
	fences     *geofence.Cache
	flusher    *Flusher
	janitor    *Janitor
	advisor    *sampling.Advisor
	filterCfg  routefilter.Config
	summaryCfg analytics.SummaryConfig
	devices    *deviceMap
}

// NewService builds a Service from opts.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("tracking: store is required")
	}
	tuning := opts.Tuning
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("tracking: invalid tuning: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = monitoring.ComponentLogger("tracking")
	}

	fcfg := FlusherConfigFromTuning(tuning, opts.Store)
	fcfg.Clock = clock
	fcfg.Logger = logger

	memberships := geofence.NewMembershipStore()
	s := &Service{
		tuning:     tuning,
		store:      opts.Store,
		events:     opts.Events,
		routes:     opts.Routes,
		clock:      clock,
		logger:     logger,
		controller: admission.NewController(admission.ConfigFromTuning(tuning), clock),
		classifier: activity.NewClassifier(activity.ConfigFromTuning(tuning)),
		monitor:    geofence.NewMonitor(memberships, clock),
		flusher:    NewFlusher(fcfg),
		janitor:    NewJanitor(memberships, tuning.GetMembershipTTL(), tuning.GetJanitorInterval(), clock, logger),
		filterCfg:  routefilter.ConfigFromTuning(tuning),
		summaryCfg: analytics.SummaryConfigFromTuning(tuning),
		devices:    newDeviceMap(),
	}
	if opts.Geofences != nil {
		s.fences = geofence.NewCache(opts.Geofences, tuning.GetGeofenceRefresh(), clock)
	}
	s.advisor = sampling.NewAdvisor(func(plan string) (sampling.PlanBounds, bool) {
		t, _ := tuning.Tier(plan)
		return sampling.PlanBounds{
			MinIntervalMs:        t.MinIntervalMs,
			MaxIntervalMs:        t.MaxIntervalMs,
			MinDistanceIntervalM: t.MinDistanceIntervalM,
			MaxDistanceIntervalM: t.MaxDistanceIntervalM,
		}, true
	})
	return s, nil
}

// Run drives the background flusher and membership janitor until ctx is
// cancelled. Buffered samples are flushed before it returns.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.flusher.Run(ctx) })
	g.Go(func() error { return s.janitor.Run(ctx) })
	return g.Wait()
}

// Flusher exposes the sample flusher, mainly for shutdown and stats.
func (s *Service) Flusher() *Flusher { return s.flusher }

// Janitor exposes the membership janitor.
func (s *Service) Janitor() *Janitor { return s.janitor }

// Memberships exposes the geofence membership store.
func (s *Service) Memberships() *geofence.MembershipStore { return s.monitor.Store() }

// InvalidateGeofences forces the next sample to reload fences from the source.
func (s *Service) InvalidateGeofences() {
	if s.fences != nil {
		s.fences.Invalidate()
	}
}

// Stats reports current service state.
func (s *Service) Stats() Stats {
	return Stats{
		Devices:     s.devices.len(),
		Memberships: s.monitor.Store().Len(),
		Flusher:     s.flusher.Stats(),
	}
}

// Ingest admits one sample. Validation failures are returned as errors;
// admission rejections are reported in Result.Decision.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	if err := req.Sample.Validate(); err != nil {
		return Result{}, fmt.Errorf("ingest: %w", err)
	}
	fences := s.activeFences(ctx)
	st := s.devices.lock(req.Sample.DeviceID)
	defer st.mu.Unlock()
	return s.admit(ctx, st, req, fences), nil
}

// IngestBatch admits a batch that may mix devices. Samples of each device
// are admitted in ascending timestamp order; devices are processed in
// parallel. Results are returned in request order. Invalid samples get
// Result.Err and do not fail the batch; the returned error is only set when
// ctx is cancelled.
func (s *Service) IngestBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	groups := make(map[string][]int)
	var order []string
	for i, r := range reqs {
		id := r.Sample.DeviceID
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], i)
	}

	fences := s.activeFences(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, id := range order {
		idx := groups[id]
		sort.SliceStable(idx, func(a, b int) bool {
			return reqs[idx[a]].Sample.TimestampMs < reqs[idx[b]].Sample.TimestampMs
		})
		g.Go(func() error {
			var valid []int
			for _, i := range idx {
				if err := reqs[i].Sample.Validate(); err != nil {
					results[i].Err = fmt.Errorf("ingest: %w", err)
					continue
				}
				valid = append(valid, i)
			}
			if len(valid) == 0 {
				return nil
			}
			st := s.devices.lock(id)
			defer st.mu.Unlock()
			for _, i := range valid {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = s.admit(gctx, st, reqs[i], fences)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// admit runs one validated sample through the pipeline. st.mu must be held.
func (s *Service) admit(ctx context.Context, st *deviceState, req Request, fences []geofence.Geofence) Result {
	d, p := s.controller.Decide(req.Sample, st.profile, s.tier(req.Plan))
	st.profile = p
	res := Result{Decision: d}
	if !d.Accept {
		return res
	}

	st.push(req.Sample, s.classifier.WindowSize())
	var cadence *activity.Cadence
	if len(req.Accelerometer) > 0 {
		cadence = activity.CadenceFromAccelerometer(req.Accelerometer, req.AccelerometerHz)
	}
	c := s.classifier.Classify(st.window, cadence)
	st.activity = &c
	res.Activity = &c

	s.flusher.Append(req.Sample)
	res.Events = s.evaluate(ctx, req.Sample, fences)
	return res
}

func (s *Service) tier(plan string) admission.Tier {
	if plan == "" {
		plan = config.DefaultPlan
	}
	t, ok := s.tuning.Tier(plan)
	if !ok {
		plan = config.DefaultPlan
	}
	return admission.Tier{Name: plan, MinDistanceM: t.MinDistanceM, MinTimeMs: t.MinTimeMs}
}

func (s *Service) activeFences(ctx context.Context) []geofence.Geofence {
	if s.fences == nil {
		return nil
	}
	fences, err := s.fences.Geofences(ctx)
	if err != nil {
		s.logger.Printf("geofence source unavailable, skipping evaluation: %v", err)
		return nil
	}
	return fences
}

func (s *Service) evaluate(ctx context.Context, sample trajectory.Sample, fences []geofence.Geofence) []geofence.Event {
	if len(fences) == 0 {
		return nil
	}
	events, err := s.monitor.EvaluateAll(sample, fences)
	if err != nil {
		s.logger.Printf("geofence evaluation device=%s: %v", sample.DeviceID, err)
	}
	if len(events) > 0 && s.events != nil {
		if err := s.events.RecordEvents(ctx, events); err != nil {
			s.logger.Printf("record %d geofence events device=%s: %v", len(events), sample.DeviceID, err)
		}
	}
	return events
}

// EvaluateGeofences checks a sample against the active fences without
// admitting it. Membership state is updated exactly as during ingest.
func (s *Service) EvaluateGeofences(ctx context.Context, sample trajectory.Sample) ([]geofence.Event, error) {
	if err := sample.Validate(); err != nil {
		return nil, fmt.Errorf("evaluate geofences: %w", err)
	}
	fences := s.activeFences(ctx)
	st := s.devices.lock(sample.DeviceID)
	defer st.mu.Unlock()
	return s.evaluate(ctx, sample, fences), nil
}

// Classify returns the most recent classification for a device.
func (s *Service) Classify(deviceID string) (activity.Classification, error) {
	st := s.devices.peek(deviceID)
	if st == nil {
		return activity.Classification{}, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	defer st.mu.Unlock()
	if st.activity == nil {
		return s.classifier.Classify(st.window, nil), nil
	}
	return *st.activity, nil
}

// Profile returns a copy of the device's admission profile.
func (s *Service) Profile(deviceID string) (admission.Profile, error) {
	st := s.devices.peek(deviceID)
	if st == nil || st.profile == nil {
		if st != nil {
			st.mu.Unlock()
		}
		return admission.Profile{}, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	defer st.mu.Unlock()
	return *st.profile, nil
}

// ResetDevice forgets the device's profile, classification window and
// geofence memberships. It reports whether the device was known.
func (s *Service) ResetDevice(deviceID string) bool {
	known := s.devices.remove(deviceID)
	if n := s.monitor.Store().DeleteDevice(deviceID); n > 0 {
		known = true
	}
	if known {
		s.logger.Printf("device %s reset", deviceID)
	}
	return known
}

// Recommend returns polling advice for an explicit device state.
func (s *Service) Recommend(in sampling.Input) sampling.TrackingConfig {
	return s.advisor.Recommend(in)
}

// Recommendations derives polling advice from the device's admitted history
// and the plan's bounds.
func (s *Service) Recommendations(deviceID, plan string, hints DeviceHints) (Recommendation, error) {
	st := s.devices.peek(deviceID)
	if st == nil || st.profile == nil {
		if st != nil {
			st.mu.Unlock()
		}
		return Recommendation{}, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	speed := st.profile.LastSpeedKmh
	accel := recentAcceleration(st.profile.Recent())
	pattern := st.profile.Pattern
	st.mu.Unlock()

	if plan == "" {
		plan = config.DefaultPlan
	}
	advice, err := s.advisor.ForPlan(plan, speed)
	if err != nil {
		return Recommendation{}, err
	}
	tracking := s.advisor.Recommend(sampling.Input{
		SpeedKmh:     speed,
		AccelMps2:    accel,
		IsMoving:     sampling.IsMoving(speed),
		BatteryLevel: hints.BatteryLevel,
		IsCharging:   hints.IsCharging,
		ScreenOn:     hints.ScreenOn,
	})
	return Recommendation{
		DeviceID:   deviceID,
		Plan:       plan,
		SpeedKmh:   speed,
		AccelMps2:  accel,
		Pattern:    pattern,
		Tracking:   tracking,
		PlanAdvice: advice,
	}, nil
}

// recentAcceleration is the speed change across the last three accepted
// samples, in m/s².
func recentAcceleration(recent []trajectory.Sample) float64 {
	n := len(recent)
	if n < 3 {
		return 0
	}
	a, b, c := recent[n-3], recent[n-2], recent[n-1]
	prev := pairSpeedMps(a, b)
	last := pairSpeedMps(b, c)
	dt := float64(c.TimestampMs-b.TimestampMs) / 1000
	return sampling.Acceleration(prev, last, dt)
}

func pairSpeedMps(a, b trajectory.Sample) float64 {
	d := geo.HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	return units.KmhToMps(geo.SpeedKmh(d, float64(b.TimestampMs-a.TimestampMs)/1000))
}

// samples flushes pending writes so reads observe every accepted sample,
// then reads the range from the store.
func (s *Service) samples(ctx context.Context, deviceID string, fromMs, toMs int64) ([]trajectory.Sample, error) {
	if err := s.flusher.FlushNow(ctx); err != nil {
		s.logger.Printf("flush before read device=%s: %v", deviceID, err)
	}
	pts, err := s.store.ReadSamples(ctx, deviceID, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("read samples device=%s: %w", deviceID, err)
	}
	return pts, nil
}

// Samples returns the stored samples of a device within [fromMs, toMs].
func (s *Service) Samples(ctx context.Context, deviceID string, fromMs, toMs int64) ([]trajectory.Sample, error) {
	return s.samples(ctx, deviceID, fromMs, toMs)
}

// Summarize aggregates a stored range.
func (s *Service) Summarize(ctx context.Context, deviceID string, fromMs, toMs int64) (analytics.Summary, error) {
	pts, err := s.samples(ctx, deviceID, fromMs, toMs)
	if err != nil {
		return analytics.Summary{}, err
	}
	return analytics.Summarize(pts, s.summaryCfg), nil
}

// Heatmap buckets a stored range into the configured grid. A gridDeg of
// zero uses the tuning default.
func (s *Service) Heatmap(ctx context.Context, deviceID string, fromMs, toMs int64, gridDeg float64) ([]analytics.Cell, error) {
	pts, err := s.samples(ctx, deviceID, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	if gridDeg <= 0 {
		gridDeg = s.tuning.GetHeatmapGridDeg()
	}
	return analytics.Heatmap(pts, gridDeg), nil
}

// Efficiency compares travelled and straight-line distance over a range.
func (s *Service) Efficiency(ctx context.Context, deviceID string, fromMs, toMs int64) (analytics.Efficiency, error) {
	pts, err := s.samples(ctx, deviceID, fromMs, toMs)
	if err != nil {
		return analytics.Efficiency{}, err
	}
	return analytics.RouteEfficiency(pts), nil
}

// SpeedZones reports time and distance per speed zone over a range.
func (s *Service) SpeedZones(ctx context.Context, deviceID string, fromMs, toMs int64) ([]analytics.ZoneTime, error) {
	pts, err := s.samples(ctx, deviceID, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	return analytics.SpeedZones(pts, analytics.DefaultSpeedZones), nil
}

// Quality scores the fix quality of a range.
func (s *Service) Quality(ctx context.Context, deviceID string, fromMs, toMs int64) (analytics.Quality, error) {
	pts, err := s.samples(ctx, deviceID, fromMs, toMs)
	if err != nil {
		return analytics.Quality{}, err
	}
	return analytics.LocationQuality(pts), nil
}

// BuildRoute filters a stored range, classifies each remaining point from
// its preceding window and records the result as a route. The route is
// saved when a RouteSink is configured.
func (s *Service) BuildRoute(ctx context.Context, deviceID, name string, fromMs, toMs int64) (route.Route, error) {
	raw, err := s.samples(ctx, deviceID, fromMs, toMs)
	if err != nil {
		return route.Route{}, err
	}
	if len(raw) == 0 {
		return route.Route{}, fmt.Errorf("%w: device=%s", ErrNoSamples, deviceID)
	}
	pts := routefilter.Process(raw, s.filterCfg)

	rec := route.NewRecorder(deviceID, name, s.tuning.GetMaxRoutePoints(), pts[0].Time())
	window := s.classifier.WindowSize()
	kept := make([]trajectory.Sample, 0, len(pts))
	for _, p := range pts {
		kept = append(kept, p)
		c := s.classifier.Classify(kept[max(0, len(kept)-window):], nil)
		err := rec.Add(p, &c)
		switch {
		case err == nil:
			continue
		case errors.Is(err, route.ErrOutOfOrder):
			// Replays after a reset can store fixes older than ones already kept.
			kept = kept[:len(kept)-1]
			s.logger.Printf("route %s: skipping out of order point device=%s ts=%d", rec.ID(), deviceID, p.TimestampMs)
			continue
		case errors.Is(err, route.ErrRouteFull):
			kept = kept[:len(kept)-1]
			s.logger.Printf("route %s truncated at %d points", rec.ID(), rec.Len())
		default:
			return route.Route{}, err
		}
		break
	}
	if len(kept) == 0 {
		return route.Route{}, route.ErrEmptyRoute
	}
	r, err := rec.Finish(kept[len(kept)-1].Time())
	if err != nil {
		return route.Route{}, err
	}
	if s.routes != nil {
		if err := s.routes.SaveRoute(ctx, r); err != nil {
			return r, fmt.Errorf("save route %s: %w", r.ID, err)
		}
	}
	return r, nil
}
