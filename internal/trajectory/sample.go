// Package trajectory defines the location sample shared by every stage of the
// tracking pipeline.
package trajectory

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidCoordinates is returned for non-finite or out-of-range fixes.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrMissingDevice is returned when a sample carries no device id.
	ErrMissingDevice = errors.New("missing device id")
)

// Sample is a single GPS fix reported by a device. Optional fields are nil
// when the device did not report them.
type Sample struct {
	DeviceID    string   `json:"device_id"`
	TimestampMs int64    `json:"timestamp_ms"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	AccuracyM   *float64 `json:"accuracy_m,omitempty"`
	HeadingDeg  *float64 `json:"heading_deg,omitempty"`
	SpeedMps    *float64 `json:"speed_mps,omitempty"`
	AltitudeM   *float64 `json:"altitude_m,omitempty"`
}

// Validate checks the coordinate invariants. Values are never coerced.
func (s Sample) Validate() error {
	if s.DeviceID == "" {
		return ErrMissingDevice
	}
	if math.IsNaN(s.Latitude) || math.IsInf(s.Latitude, 0) || s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinates, s.Latitude)
	}
	if math.IsNaN(s.Longitude) || math.IsInf(s.Longitude, 0) || s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinates, s.Longitude)
	}
	return nil
}

// Time returns the sample timestamp as a time.Time in UTC.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.TimestampMs).UTC()
}

// Speed returns the reported speed in m/s, or 0 when absent.
func (s Sample) Speed() float64 {
	if s.SpeedMps == nil {
		return 0
	}
	return *s.SpeedMps
}

// Accuracy returns the reported horizontal accuracy and whether it was set.
func (s Sample) Accuracy() (float64, bool) {
	if s.AccuracyM == nil {
		return 0, false
	}
	return *s.AccuracyM, true
}

// Float returns a pointer to v, for building samples with optional fields.
func Float(v float64) *float64 { return &v }
