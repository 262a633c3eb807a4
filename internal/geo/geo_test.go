package geo

import (
	"math"
	"math/rand"
	"testing"
)

func TestHaversineIdentityAndSymmetry(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		lat1, lon1 := r.Float64()*180-90, r.Float64()*360-180
		lat2, lon2 := r.Float64()*180-90, r.Float64()*360-180

		if d := HaversineMeters(lat1, lon1, lat1, lon1); d != 0 {
			t.Fatalf("haversine(a,a) = %v, want 0", d)
		}
		ab := HaversineMeters(lat1, lon1, lat2, lon2)
		ba := HaversineMeters(lat2, lon2, lat1, lon1)
		if math.Abs(ab-ba) > 1e-6 {
			t.Fatalf("asymmetric: %v vs %v", ab, ba)
		}
		if ab < 0 || math.IsNaN(ab) {
			t.Fatalf("invalid distance %v", ab)
		}
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	d := HaversineMeters(41.0082, 28.9784, 41.0083, 28.9785)
	if d < 12 || d > 15 {
		t.Errorf("expected ~13.9m, got %v", d)
	}
	// One degree of latitude is ~111.2 km on this sphere.
	d = HaversineMeters(0, 0, 1, 0)
	if math.Abs(d-111195) > 5 {
		t.Errorf("expected ~111195m, got %v", d)
	}
	// Antipodes stay finite.
	d = HaversineMeters(0, 0, 0, 180)
	if math.Abs(d-math.Pi*EarthRadiusM) > 1 {
		t.Errorf("expected half circumference, got %v", d)
	}
}

func TestSpeedKmh(t *testing.T) {
	tests := []struct {
		name string
		dist float64
		dt   float64
		want float64
	}{
		{"walking", 13, 10, 4.68},
		{"zero dt", 100, 0, 0},
		{"negative dt", 100, -5, 0},
		{"nan dt", 100, math.NaN(), 0},
		{"stationary", 0, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SpeedKmh(tt.dist, tt.dt)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("SpeedKmh(%v, %v) = %v, want %v", tt.dist, tt.dt, got, tt.want)
			}
		})
	}
}

func TestBearingDeg(t *testing.T) {
	if b := BearingDeg(0, 0, 1, 0); math.Abs(b) > 1e-9 {
		t.Errorf("due north: got %v", b)
	}
	if b := BearingDeg(0, 0, 0, 1); math.Abs(b-90) > 1e-9 {
		t.Errorf("due east: got %v", b)
	}
	if b := BearingDeg(0, 0, -1, 0); math.Abs(b-180) > 1e-9 {
		t.Errorf("due south: got %v", b)
	}
}

func TestChordDistanceDeg(t *testing.T) {
	// Point 0.001 deg north of the midpoint of an east-west segment.
	d := ChordDistanceDeg(0.001, 0.5, 0, 0, 0, 1)
	if math.Abs(d-0.001) > 1e-12 {
		t.Errorf("expected 0.001, got %v", d)
	}
	// Collinear points beyond the chord end lie on the line.
	d = ChordDistanceDeg(0, 2, 0, 0, 0, 1)
	if d > 1e-12 {
		t.Errorf("expected 0, got %v", d)
	}
	// Offset from the line, not from the nearest endpoint.
	d = ChordDistanceDeg(0.5, 3, 0, 0, 0, 1)
	if math.Abs(d-0.5) > 1e-12 {
		t.Errorf("expected 0.5, got %v", d)
	}
	// A zero-length chord measures to the point.
	d = ChordDistanceDeg(3, 4, 0, 0, 0, 0)
	if math.Abs(d-5) > 1e-12 {
		t.Errorf("expected 5, got %v", d)
	}
}
