package routefilter

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/testutil"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

func randomWalk(r *rand.Rand, n int) []trajectory.Sample {
	pts := make([]trajectory.Sample, n)
	lat, lng := testutil.Istanbul.Lat, testutil.Istanbul.Lng
	for i := range pts {
		lat += (r.Float64() - 0.5) * 0.002
		lng += (r.Float64() - 0.5) * 0.002
		pts[i] = testutil.Fix("d", testutil.BaseTimeMs+int64(i)*5000, lat, lng)
	}
	return pts
}

func TestDedupeKeepsFirstAndComparesToLastKept(t *testing.T) {
	// 3m steps: 0, 3, 6, 9, 12 metres north.
	pts := testutil.Line("d", 41, 29, 0, 3, 1000, 5, testutil.BaseTimeMs)

	got := Dedupe(pts, 5)

	want := []trajectory.Sample{pts[0], pts[2], pts[4]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Dedupe mismatch (-want +got):\n%s", diff)
	}
	if len(Dedupe(nil, 5)) != 0 {
		t.Error("expected empty result for empty input")
	}
}

func TestDedupeWithGapKeepsStalePositions(t *testing.T) {
	pts := testutil.Stationary("d", 41, 29, 1, 10_000, 7, testutil.BaseTimeMs)

	if got := Dedupe(pts, 5); len(got) != 1 {
		t.Fatalf("expected only the first point without gap rule, got %d", len(got))
	}
	got := DedupeWithGap(pts, 5, 30_000)
	// Kept at t=0, 30s, 60s.
	if len(got) != 3 {
		t.Fatalf("expected 3 points with a 30s gap rule, got %d", len(got))
	}
	for i, p := range got {
		if want := testutil.BaseTimeMs + int64(i)*30_000; p.TimestampMs != want {
			t.Errorf("point %d: ts=%d, want %d", i, p.TimestampMs, want)
		}
	}
}

func TestSmoothPreservesAnchors(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	pts := randomWalk(r, 50)
	orig := append([]trajectory.Sample(nil), pts...)

	got := Smooth(pts, 0.01, 0.25)

	if len(got) != len(pts) {
		t.Fatalf("expected %d points, got %d", len(pts), len(got))
	}
	if got[0] != pts[0] || got[len(got)-1] != pts[len(pts)-1] {
		t.Error("first and last points must pass through unmodified")
	}
	if diff := cmp.Diff(orig, pts); diff != "" {
		t.Errorf("input mutated:\n%s", diff)
	}
	for i := 1; i < len(got)-1; i++ {
		if got[i].TimestampMs != pts[i].TimestampMs || got[i].DeviceID != pts[i].DeviceID {
			t.Fatalf("point %d lost metadata", i)
		}
	}
}

func TestSmoothShortSequencesUnchanged(t *testing.T) {
	pts := []trajectory.Sample{testutil.Fix("d", 1, 1, 1), testutil.Fix("d", 2, 2, 2)}
	if diff := cmp.Diff(pts, Smooth(pts, 0.01, 0.25)); diff != "" {
		t.Errorf("two points should be unchanged:\n%s", diff)
	}
}

func TestSmoothReducesJitter(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	n := 200
	pts := make([]trajectory.Sample, n)
	for i := range pts {
		noise := (r.Float64() - 0.5) * 0.0004
		pts[i] = testutil.Fix("d", int64(i)*1000, 41+noise, 29+float64(i)*0.00001)
	}
	got := Smooth(pts, 0.01, 0.25)

	var rawDev, smoothDev float64
	for i := 1; i < n-1; i++ {
		rawDev += math.Abs(pts[i].Latitude - 41)
		smoothDev += math.Abs(got[i].Latitude - 41)
	}
	if smoothDev >= rawDev {
		t.Errorf("expected smoothing to reduce deviation: raw=%v smooth=%v", rawDev, smoothDev)
	}
}

func TestKalmanConverges(t *testing.T) {
	k := NewKalman(0.01, 0.25, 0)
	var x float64
	for i := 0; i < 200; i++ {
		x = k.Update(10)
	}
	if math.Abs(x-10) > 1e-3 {
		t.Errorf("expected estimate near 10, got %v", x)
	}
}

func TestSimplifyProperties(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for trial := 0; trial < 50; trial++ {
		pts := randomWalk(r, 3+r.Intn(200))
		eps := r.Float64() * 0.002

		got := Simplify(pts, eps)
		if got[0] != pts[0] || got[len(got)-1] != pts[len(pts)-1] {
			t.Fatalf("trial %d: endpoints not retained", trial)
		}
		if len(got) > len(pts) {
			t.Fatalf("trial %d: simplify grew the sequence", trial)
		}
		for i := 1; i < len(got); i++ {
			if got[i].TimestampMs <= got[i-1].TimestampMs {
				t.Fatalf("trial %d: order not preserved", trial)
			}
		}

		collapsed := Simplify(pts, math.Inf(1))
		if diff := cmp.Diff([]trajectory.Sample{pts[0], pts[len(pts)-1]}, collapsed); diff != "" {
			t.Fatalf("trial %d: +Inf should collapse to endpoints:\n%s", trial, diff)
		}

		if diff := cmp.Diff(pts, Simplify(pts, 0)); diff != "" {
			t.Fatalf("trial %d: epsilon=0 should be identity:\n%s", trial, diff)
		}
	}
}

func TestSimplifyKeepsPeak(t *testing.T) {
	pts := []trajectory.Sample{
		testutil.Fix("d", 0, 0, 0),
		testutil.Fix("d", 1, 0.5, 1),
		testutil.Fix("d", 2, 1, 2),
		testutil.Fix("d", 3, 0.5, 3),
		testutil.Fix("d", 4, 0, 4),
	}
	got := Simplify(pts, 0.01)
	want := []trajectory.Sample{pts[0], pts[2], pts[4]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSimplifyDropsCollinearOvershoot(t *testing.T) {
	// Out and back along one meridian: the middle point is on the chord's
	// line even though it lies past the chord's far end.
	pts := []trajectory.Sample{
		testutil.Fix("d", 0, 41.000, 29),
		testutil.Fix("d", 1, 41.010, 29),
		testutil.Fix("d", 2, 41.005, 29),
	}
	got := Simplify(pts, 0.0001)
	want := []trajectory.Sample{pts[0], pts[2]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSimplifyShortInputUnchanged(t *testing.T) {
	for n := 0; n < 3; n++ {
		pts := randomWalk(rand.New(rand.NewSource(int64(n))), n)
		if got := Simplify(pts, 1); len(got) != n {
			t.Errorf("n=%d: got %d points", n, len(got))
		}
	}
}

func TestSimplifyLongRoute(t *testing.T) {
	n := 20000
	pts := make([]trajectory.Sample, n)
	for i := range pts {
		x := float64(i) * 0.0001
		pts[i] = testutil.Fix("d", int64(i)*1000, 41+0.01*math.Sin(x*50), 29+x)
	}
	got := Simplify(pts, 0.00005)
	if len(got) < 3 || len(got) >= n {
		t.Errorf("expected a meaningful reduction, got %d of %d", len(got), n)
	}
}

func TestProcessPipeline(t *testing.T) {
	// A 20m-step line with a duplicate burst in the middle.
	line := testutil.Line("d", 41, 29, 60, 20, 5000, 30, testutil.BaseTimeMs)
	var pts []trajectory.Sample
	for i, p := range line {
		pts = append(pts, p)
		if i == 15 {
			dup := p
			dup.TimestampMs += 1000
			pts = append(pts, dup)
		}
	}

	got := Process(pts, DefaultConfig())

	if got[0] != pts[0] {
		t.Error("first point must survive the pipeline")
	}
	if got[len(got)-1] != pts[len(pts)-1] {
		t.Error("last point of a non-duplicate tail must survive the pipeline")
	}
	if len(got) >= len(line) {
		t.Errorf("expected a straight line to simplify, got %d points", len(got))
	}
	for i := 1; i < len(got); i++ {
		d := geo.HaversineMeters(got[i-1].Latitude, got[i-1].Longitude, got[i].Latitude, got[i].Longitude)
		if d < 5 {
			t.Errorf("points %d-%d closer than dedupe threshold: %v", i-1, i, d)
		}
	}
}
