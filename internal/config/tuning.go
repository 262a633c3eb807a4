// Package config loads the tracking pipeline tuning file: admission anomaly
// thresholds, filter constants, worker schedules and the plan tier table.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// DefaultPlan is used when a sample arrives for an unknown plan id.
const DefaultPlan = "free"

// PlanTier holds the admission gate and sampling bounds for one plan.
type PlanTier struct {
	MinDistanceM float64 `json:"min_distance_m" yaml:"min_distance_m" validate:"gt=0"`
	MinTimeMs    int64   `json:"min_time_ms" yaml:"min_time_ms" validate:"gte=0"`

	// Bounds for per-plan interval advice.
	MinIntervalMs        int64   `json:"min_interval_ms" yaml:"min_interval_ms" validate:"gt=0"`
	MaxIntervalMs        int64   `json:"max_interval_ms" yaml:"max_interval_ms" validate:"gtfield=MinIntervalMs"`
	MinDistanceIntervalM float64 `json:"min_distance_interval_m" yaml:"min_distance_interval_m" validate:"gt=0"`
	MaxDistanceIntervalM float64 `json:"max_distance_interval_m" yaml:"max_distance_interval_m" validate:"gtfield=MinDistanceIntervalM"`
}

// TuningConfig is the root configuration. Every scalar is optional; Get*
// methods supply defaults for omitted fields so partial files are safe.
type TuningConfig struct {
	// Admission anomaly thresholds.
	MaxSpeedKmh   *float64 `json:"max_speed_kmh,omitempty" yaml:"max_speed_kmh,omitempty" validate:"omitempty,gt=0"`
	MaxJumpM      *float64 `json:"max_jump_m,omitempty" yaml:"max_jump_m,omitempty" validate:"omitempty,gt=0"`
	MaxAccelMps2  *float64 `json:"max_accel_mps2,omitempty" yaml:"max_accel_mps2,omitempty" validate:"omitempty,gt=0"`
	PatternWindow *int     `json:"pattern_window,omitempty" yaml:"pattern_window,omitempty" validate:"omitempty,gte=2,lte=100"`

	// Route filter.
	DedupeThresholdM   *float64 `json:"dedupe_threshold_m,omitempty" yaml:"dedupe_threshold_m,omitempty" validate:"omitempty,gte=0"`
	DedupeMaxGapMs     *int64   `json:"dedupe_max_gap_ms,omitempty" yaml:"dedupe_max_gap_ms,omitempty" validate:"omitempty,gte=0"`
	KalmanQ            *float64 `json:"kalman_q,omitempty" yaml:"kalman_q,omitempty" validate:"omitempty,gt=0"`
	KalmanR            *float64 `json:"kalman_r,omitempty" yaml:"kalman_r,omitempty" validate:"omitempty,gt=0"`
	SimplifyEpsilonDeg *float64 `json:"simplify_epsilon_deg,omitempty" yaml:"simplify_epsilon_deg,omitempty" validate:"omitempty,gte=0"`

	// Activity classifier.
	ActivityWindow   *int     `json:"activity_window,omitempty" yaml:"activity_window,omitempty" validate:"omitempty,gte=2,lte=100"`
	HomeMinAccuracyM *float64 `json:"home_min_accuracy_m,omitempty" yaml:"home_min_accuracy_m,omitempty" validate:"omitempty,gt=0"`
	HomeMinStay      *string  `json:"home_min_stay,omitempty" yaml:"home_min_stay,omitempty"` // duration string like "10m"

	// Aggregator.
	StopWindow     *string  `json:"stop_window,omitempty" yaml:"stop_window,omitempty"`
	StopRadiusM    *float64 `json:"stop_radius_m,omitempty" yaml:"stop_radius_m,omitempty" validate:"omitempty,gt=0"`
	HeatmapGridDeg *float64 `json:"heatmap_grid_deg,omitempty" yaml:"heatmap_grid_deg,omitempty" validate:"omitempty,gt=0"`
	MaxRoutePoints *int     `json:"max_route_points,omitempty" yaml:"max_route_points,omitempty" validate:"omitempty,gt=1"`

	// Geofence membership maintenance.
	MembershipTTL   *string `json:"membership_ttl,omitempty" yaml:"membership_ttl,omitempty"`
	JanitorInterval *string `json:"janitor_interval,omitempty" yaml:"janitor_interval,omitempty"`
	GeofenceRefresh *string `json:"geofence_refresh,omitempty" yaml:"geofence_refresh,omitempty"`

	// Sample flusher.
	FlushInterval     *string `json:"flush_interval,omitempty" yaml:"flush_interval,omitempty"`
	FlushBatchSize    *int    `json:"flush_batch_size,omitempty" yaml:"flush_batch_size,omitempty" validate:"omitempty,gt=0"`
	FlushMaxRetries   *int    `json:"flush_max_retries,omitempty" yaml:"flush_max_retries,omitempty" validate:"omitempty,gte=0"`
	FlushRetryBackoff *string `json:"flush_retry_backoff,omitempty" yaml:"flush_retry_backoff,omitempty"`
	FlushMaxBuffered  *int    `json:"flush_max_buffered,omitempty" yaml:"flush_max_buffered,omitempty" validate:"omitempty,gt=0"`

	Plans map[string]PlanTier `json:"plans,omitempty" yaml:"plans,omitempty" validate:"omitempty,dive"`
}

// EmptyTuningConfig returns a TuningConfig with every field unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a .json, .yaml or .yml file and
// validates it.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

var validate = validator.New()

// Validate checks struct-tag constraints and duration strings.
func (c *TuningConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	durations := map[string]*string{
		"home_min_stay":       c.HomeMinStay,
		"stop_window":         c.StopWindow,
		"membership_ttl":      c.MembershipTTL,
		"janitor_interval":    c.JanitorInterval,
		"geofence_refresh":    c.GeofenceRefresh,
		"flush_interval":      c.FlushInterval,
		"flush_retry_backoff": c.FlushRetryBackoff,
	}
	names := make([]string, 0, len(durations))
	for name := range durations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := durations[name]
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}
	if len(c.Plans) > 0 {
		if _, ok := c.Plans[DefaultPlan]; !ok {
			return fmt.Errorf("plans must define the %q tier", DefaultPlan)
		}
	}
	return nil
}

// Tier returns the tier for plan, falling back to DefaultPlan. The boolean is
// false when plan was not found.
func (c *TuningConfig) Tier(plan string) (PlanTier, bool) {
	if t, ok := c.Plans[plan]; ok {
		return t, true
	}
	if t, ok := c.Plans[DefaultPlan]; ok {
		return t, false
	}
	return PlanTier{
		MinDistanceM:         10,
		MinTimeMs:            3000,
		MinIntervalMs:        5000,
		MaxIntervalMs:        30000,
		MinDistanceIntervalM: 10,
		MaxDistanceIntervalM: 50,
	}, false
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func (c *TuningConfig) GetMaxSpeedKmh() float64  { return floatOr(c.MaxSpeedKmh, 200) }
func (c *TuningConfig) GetMaxJumpM() float64     { return floatOr(c.MaxJumpM, 1000) }
func (c *TuningConfig) GetMaxAccelMps2() float64 { return floatOr(c.MaxAccelMps2, 50) }
func (c *TuningConfig) GetPatternWindow() int    { return intOr(c.PatternWindow, 10) }

func (c *TuningConfig) GetDedupeThresholdM() float64 { return floatOr(c.DedupeThresholdM, 5) }

// GetDedupeMaxGapMs returns the time gap after which dedupe keeps a point
// regardless of distance. 0 disables the rule.
func (c *TuningConfig) GetDedupeMaxGapMs() int64 {
	if c.DedupeMaxGapMs == nil {
		return 0
	}
	return *c.DedupeMaxGapMs
}

func (c *TuningConfig) GetKalmanQ() float64            { return floatOr(c.KalmanQ, 0.01) }
func (c *TuningConfig) GetKalmanR() float64            { return floatOr(c.KalmanR, 0.25) }
func (c *TuningConfig) GetSimplifyEpsilonDeg() float64 { return floatOr(c.SimplifyEpsilonDeg, 0.0001) }

func (c *TuningConfig) GetActivityWindow() int        { return intOr(c.ActivityWindow, 10) }
func (c *TuningConfig) GetHomeMinAccuracyM() float64  { return floatOr(c.HomeMinAccuracyM, 50) }
func (c *TuningConfig) GetHomeMinStay() time.Duration { return durationOr(c.HomeMinStay, 10*time.Minute) }

func (c *TuningConfig) GetStopWindow() time.Duration { return durationOr(c.StopWindow, 5*time.Minute) }
func (c *TuningConfig) GetStopRadiusM() float64      { return floatOr(c.StopRadiusM, 50) }
func (c *TuningConfig) GetHeatmapGridDeg() float64   { return floatOr(c.HeatmapGridDeg, 0.001) }
func (c *TuningConfig) GetMaxRoutePoints() int       { return intOr(c.MaxRoutePoints, 20000) }

func (c *TuningConfig) GetMembershipTTL() time.Duration {
	return durationOr(c.MembershipTTL, 24*time.Hour)
}

func (c *TuningConfig) GetJanitorInterval() time.Duration {
	return durationOr(c.JanitorInterval, 10*time.Minute)
}

func (c *TuningConfig) GetGeofenceRefresh() time.Duration {
	return durationOr(c.GeofenceRefresh, 30*time.Second)
}

func (c *TuningConfig) GetFlushInterval() time.Duration {
	return durationOr(c.FlushInterval, 5*time.Second)
}

func (c *TuningConfig) GetFlushBatchSize() int  { return intOr(c.FlushBatchSize, 200) }
func (c *TuningConfig) GetFlushMaxRetries() int { return intOr(c.FlushMaxRetries, 3) }

func (c *TuningConfig) GetFlushRetryBackoff() time.Duration {
	return durationOr(c.FlushRetryBackoff, 200*time.Millisecond)
}

func (c *TuningConfig) GetFlushMaxBuffered() int { return intOr(c.FlushMaxBuffered, 10000) }
