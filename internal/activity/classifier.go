package activity

import (
	"time"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
	"github.com/banshee-data/trajectory.report/internal/units"
)

// Speed bands in km/h.
const (
	StationarySpeedMax = 2.0
	WalkingSpeedMax    = 8.0
	RunningSpeedMax    = 15.0
	CyclingSpeedMax    = 30.0
	MotorcycleSpeedMax = 60.0 // above this a high-variance vehicle is still a car
)

// Secondary feature thresholds.
const (
	WalkingCadenceMin    = 80.0  // steps/min
	WalkingCadenceMax    = 140.0 // steps/min
	RunningCadenceMin    = 140.0 // steps/min
	RunningRegularityMin = 0.7

	CyclingVarianceMin = 0.5
	CyclingVarianceMax = 2.0
	CyclingAccelMax    = 1.5 // m/s², mean
	RunningVarianceMin = 2.0
	RunningAccelPeak   = 3.0 // m/s², max
	SmoothVarianceMax  = 1.0
	SmoothAccelMax     = 1.0 // m/s², mean
	MotorVarianceMin   = 2.0
)

// ModelVersion identifies the rule set in emitted classifications.
const ModelVersion = "rule-based-v1.0"

// Config tunes the classifier.
type Config struct {
	WindowSize       int
	HomeMinAccuracyM float64
	HomeMinStay      time.Duration
}

// DefaultConfig returns the stock classifier settings.
func DefaultConfig() Config {
	return Config{WindowSize: 10, HomeMinAccuracyM: 50, HomeMinStay: 10 * time.Minute}
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(t *config.TuningConfig) Config {
	return Config{
		WindowSize:       t.GetActivityWindow(),
		HomeMinAccuracyM: t.GetHomeMinAccuracyM(),
		HomeMinStay:      t.GetHomeMinStay(),
	}
}

// Classifier performs rule-based activity classification.
type Classifier struct {
	cfg Config
}

// NewClassifier creates a Classifier.
func NewClassifier(cfg Config) *Classifier {
	if cfg.WindowSize < 2 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	return &Classifier{cfg: cfg}
}

// WindowSize is the number of accepted samples the classifier looks at.
func (c *Classifier) WindowSize() int { return c.cfg.WindowSize }

// Classify labels the most recent sample of window. Only the last WindowSize
// samples are considered. cadence may be nil.
func (c *Classifier) Classify(window []trajectory.Sample, cadence *Cadence) Classification {
	if len(window) > c.cfg.WindowSize {
		window = window[len(window)-c.cfg.WindowSize:]
	}
	switch len(window) {
	case 0:
		return Classification{Type: TypeUnknown, Model: ModelVersion}
	case 1:
		return c.firstFix(window[0], cadence)
	}

	f := ComputeFeatures(window)
	result := Classification{
		SpeedKmh: f.AvgSpeedKmh,
		Model:    ModelVersion,
		Metadata: &Metadata{Features: f, Cadence: cadence},
	}

	speed := f.AvgSpeedKmh
	switch {
	case speed < StationarySpeedMax:
		result.Type = TypeStationary
		result.Confidence = 0.95
		if c.isHome(f) {
			result.Variant = VariantHome
		}
	case speed < WalkingSpeedMax:
		result.Type = TypeWalking
		result.Confidence = MediumConfidence
		if cadence != nil && cadence.StepsPerMinute >= WalkingCadenceMin && cadence.StepsPerMinute <= WalkingCadenceMax {
			result.Confidence = HighConfidence
		}
	case speed < RunningSpeedMax:
		c.classifyRunningBand(&result, f, cadence)
	case speed < CyclingSpeedMax:
		c.classifyCyclingBand(&result, f)
	default:
		c.classifyVehicleBand(&result, f)
	}

	result.Confidence = clampConfidence(result.Confidence)
	return result
}

func (c *Classifier) isHome(f Features) bool {
	return f.MeanAccuracyM >= c.cfg.HomeMinAccuracyM &&
		f.DurationS >= c.cfg.HomeMinStay.Seconds()
}

func (c *Classifier) classifyRunningBand(r *Classification, f Features, cadence *Cadence) {
	switch {
	case cadence != nil && cadence.StepsPerMinute > RunningCadenceMin && cadence.Regularity > RunningRegularityMin:
		r.Type, r.Confidence = TypeRunning, 0.92
	case f.AccelVariance > RunningVarianceMin && f.MaxAccelMps2 > RunningAccelPeak:
		r.Type, r.Confidence = TypeRunning, 0.80
	default:
		r.Type, r.Variant, r.Confidence = TypeWalking, VariantBrisk, 0.60
	}
}

func (c *Classifier) classifyCyclingBand(r *Classification, f Features) {
	switch {
	case f.AccelVariance > CyclingVarianceMin && f.AccelVariance < CyclingVarianceMax && f.AvgAccelMps2 < CyclingAccelMax:
		r.Type, r.Confidence = TypeCycling, 0.85
	case f.AccelVariance >= MotorVarianceMin:
		r.Type, r.Variant, r.Confidence = TypeDriving, VariantMotorcycle, MediumConfidence
	default:
		r.Type, r.Variant, r.Confidence = TypeDriving, VariantCar, 0.70
	}
}

func (c *Classifier) classifyVehicleBand(r *Classification, f Features) {
	r.Type = TypeDriving
	switch {
	case f.AccelVariance < SmoothVarianceMax && f.AvgAccelMps2 < SmoothAccelMax:
		r.Variant, r.Confidence = VariantCar, 0.95
	case f.AvgSpeedKmh < MotorcycleSpeedMax && f.AccelVariance >= MotorVarianceMin:
		r.Variant, r.Confidence = VariantMotorcycle, 0.85
	default:
		r.Variant, r.Confidence = VariantCar, 0.85
	}
}

// firstFix labels a device with no history from the reported instantaneous
// speed alone, at reduced confidence.
func (c *Classifier) firstFix(s trajectory.Sample, cadence *Cadence) Classification {
	speed := units.MpsToKmh(s.Speed())
	result := Classification{
		SpeedKmh: speed,
		Model:    ModelVersion,
		Metadata: &Metadata{Features: Features{AvgSpeedKmh: speed, SampleCount: 1}, Cadence: cadence},
	}
	switch {
	case speed < StationarySpeedMax:
		result.Type, result.Confidence = TypeStationary, LowConfidence
		return result
	case speed < WalkingSpeedMax:
		result.Type = TypeWalking
	case speed < RunningSpeedMax:
		result.Type, result.Variant = TypeWalking, VariantBrisk
	case speed < CyclingSpeedMax:
		result.Type = TypeCycling
	default:
		result.Type = TypeDriving
	}
	result.Confidence = LowConfidence * 0.8
	return result
}
