// Package admission decides which incoming location samples are worth keeping
// for a device and tracks the per-device profile those decisions depend on.
package admission

import (
	"math"
	"time"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/timeutil"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
	"github.com/banshee-data/trajectory.report/internal/units"
)

// Tier is the plan-specific admission gate, injected per call.
type Tier struct {
	Name         string
	MinDistanceM float64
	MinTimeMs    int64
}

// Config holds the plan-independent anomaly thresholds.
type Config struct {
	MaxSpeedKmh   float64
	MaxJumpM      float64
	MaxAccelMps2  float64
	PatternWindow int // accepted samples kept for pattern derivation
}

// DefaultConfig returns the stock anomaly thresholds.
func DefaultConfig() Config {
	return Config{
		MaxSpeedKmh:   200,
		MaxJumpM:      1000,
		MaxAccelMps2:  50,
		PatternWindow: 10,
	}
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(t *config.TuningConfig) Config {
	return Config{
		MaxSpeedKmh:   t.GetMaxSpeedKmh(),
		MaxJumpM:      t.GetMaxJumpM(),
		MaxAccelMps2:  t.GetMaxAccelMps2(),
		PatternWindow: t.GetPatternWindow(),
	}
}

// Profile is the per-device admission state. It is not safe for concurrent
// use; callers serialize access per device.
type Profile struct {
	DeviceID     string
	LastAccepted trajectory.Sample
	LastSpeedKmh float64
	UpdateCount  int
	Pattern      MovementPattern
	LastUpdateAt time.Time

	recent []trajectory.Sample
}

// Recent returns a copy of the accepted samples retained for pattern
// derivation, oldest first.
func (p *Profile) Recent() []trajectory.Sample {
	out := make([]trajectory.Sample, len(p.recent))
	copy(out, p.recent)
	return out
}

func (p *Profile) record(s trajectory.Sample, speedKmh float64, now time.Time, window int) {
	p.LastAccepted = s
	p.LastSpeedKmh = speedKmh
	p.UpdateCount++
	p.LastUpdateAt = now
	p.recent = append(p.recent, s)
	if over := len(p.recent) - window; over > 0 {
		p.recent = append(p.recent[:0], p.recent[over:]...)
	}
}

// Decision is the outcome of one admission check. Distance, elapsed time and
// speed are zero for first fixes and stale samples.
type Decision struct {
	Accept    bool            `json:"accept"`
	Reason    Reason          `json:"reason"`
	DistanceM float64         `json:"distance_m,omitempty"`
	ElapsedMs int64           `json:"elapsed_ms,omitempty"`
	SpeedKmh  float64         `json:"speed_kmh,omitempty"`
	Pattern   MovementPattern `json:"pattern"`
}

// Controller applies the admission rules. It holds no per-device state.
type Controller struct {
	cfg   Config
	clock timeutil.Clock
}

// NewController returns a Controller. A nil clock uses the wall clock.
func NewController(cfg Config, clock timeutil.Clock) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.PatternWindow < 2 {
		cfg.PatternWindow = DefaultConfig().PatternWindow
	}
	return &Controller{cfg: cfg, clock: clock}
}

// Decide checks s against the device profile p under tier. When p is nil the
// sample is accepted as a first fix and a new profile is returned; otherwise
// the returned profile is p, mutated only if the sample was accepted.
// s must already have passed trajectory.Sample.Validate.
func (c *Controller) Decide(s trajectory.Sample, p *Profile, tier Tier) (Decision, *Profile) {
	now := c.clock.Now()
	if p == nil {
		p = &Profile{DeviceID: s.DeviceID, Pattern: PatternStationary}
		p.record(s, 0, now, c.cfg.PatternWindow)
		return Decision{Accept: true, Reason: ReasonFirstFix, Pattern: p.Pattern}, p
	}

	last := p.LastAccepted
	if s.TimestampMs <= last.TimestampMs {
		return Decision{Reason: ReasonStaleOrDuplicate, Pattern: p.Pattern}, p
	}

	d := Decision{
		DistanceM: geo.HaversineMeters(last.Latitude, last.Longitude, s.Latitude, s.Longitude),
		ElapsedMs: s.TimestampMs - last.TimestampMs,
	}
	elapsedS := float64(d.ElapsedMs) / 1000
	d.SpeedKmh = geo.SpeedKmh(d.DistanceM, elapsedS)

	p.Pattern = PatternForSpeed(AveragePairSpeedKmh(p.recent))
	d.Pattern = p.Pattern

	switch {
	case p.Pattern == PatternStationary && d.DistanceM < 2*tier.MinDistanceM:
		d.Reason = ReasonStationaryNoChange
		return d, p
	case d.DistanceM < tier.MinDistanceM && d.ElapsedMs < tier.MinTimeMs:
		d.Reason = ReasonInsufficientChange
		return d, p
	}

	if reason, bad := c.anomaly(d, p, elapsedS); bad {
		d.Reason = reason
		return d, p
	}

	d.Accept = true
	d.Reason = ReasonValidUpdate
	p.record(s, d.SpeedKmh, now, c.cfg.PatternWindow)
	return d, p
}

func (c *Controller) anomaly(d Decision, p *Profile, elapsedS float64) (Reason, bool) {
	if d.SpeedKmh > c.cfg.MaxSpeedKmh {
		return ReasonExcessiveSpeed, true
	}
	if d.DistanceM > c.cfg.MaxJumpM {
		return ReasonJumpDetected, true
	}
	// No baseline speed exists until the second accepted fix.
	if p.LastSpeedKmh > 0 && elapsedS > 0 {
		accel := math.Abs(units.KmhToMps(d.SpeedKmh)-units.KmhToMps(p.LastSpeedKmh)) / elapsedS
		if accel > c.cfg.MaxAccelMps2 {
			return ReasonExcessiveAcceleration, true
		}
	}
	return 0, false
}
