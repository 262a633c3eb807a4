// Package testutil provides shared fixtures for building synthetic device
// tracks in tests.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

// BaseTimeMs is a fixed epoch (2025-03-01T08:00:00Z) used by fixtures.
const BaseTimeMs int64 = 1740816000000

// Istanbul is a convenient origin for synthetic tracks.
var Istanbul = struct{ Lat, Lng float64 }{41.0082, 28.9784}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Fix builds a sample for device at tsMs.
func Fix(device string, tsMs int64, lat, lng float64) trajectory.Sample {
	return trajectory.Sample{DeviceID: device, TimestampMs: tsMs, Latitude: lat, Longitude: lng}
}

// Offset moves (lat, lng) by northM metres north and eastM metres east on
// the spherical earth used by geo.
func Offset(lat, lng, northM, eastM float64) (float64, float64) {
	dLat := northM / geo.EarthRadiusM * 180 / math.Pi
	dLng := eastM / (geo.EarthRadiusM * math.Cos(lat*math.Pi/180)) * 180 / math.Pi
	return lat + dLat, lng + dLng
}

// Line returns n samples starting at (lat, lng) at startMs, each stepM metres
// further along bearingDeg and stepMs later.
func Line(device string, lat, lng, bearingDeg, stepM float64, stepMs int64, n int, startMs int64) []trajectory.Sample {
	out := make([]trajectory.Sample, 0, n)
	rad := bearingDeg * math.Pi / 180
	for i := 0; i < n; i++ {
		dist := stepM * float64(i)
		pLat, pLng := Offset(lat, lng, dist*math.Cos(rad), dist*math.Sin(rad))
		out = append(out, Fix(device, startMs+int64(i)*stepMs, pLat, pLng))
	}
	return out
}

// Stationary returns n samples at (lat, lng) jittered by up to jitterM metres
// in a deterministic pattern, stepMs apart.
func Stationary(device string, lat, lng, jitterM float64, stepMs int64, n int, startMs int64) []trajectory.Sample {
	out := make([]trajectory.Sample, 0, n)
	for i := 0; i < n; i++ {
		angle := float64(i) * 2.399963 // golden angle keeps points spread
		r := jitterM * float64(i%4) / 3
		pLat, pLng := Offset(lat, lng, r*math.Cos(angle), r*math.Sin(angle))
		out = append(out, Fix(device, startMs+int64(i)*stepMs, pLat, pLng))
	}
	return out
}
