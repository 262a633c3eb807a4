// Package geo provides the distance and speed primitives used across the
// pipeline. All functions are pure.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// EarthRadiusM is the mean earth radius used by the spherical approximation.
const EarthRadiusM = 6371000.0

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// HaversineMeters returns the great-circle distance between two coordinates.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push a fractionally above 1 for antipodal points.
	a = math.Min(1, a)
	return 2 * EarthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// SpeedKmh converts a distance covered in dtSeconds to km/h. Non-positive
// durations yield 0.
func SpeedKmh(distanceM, dtSeconds float64) float64 {
	if dtSeconds <= 0 || math.IsNaN(dtSeconds) || math.IsNaN(distanceM) || distanceM < 0 {
		return 0
	}
	return distanceM / dtSeconds * 3.6
}

// BearingDeg returns the initial bearing from point 1 to point 2 in [0, 360).
func BearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := toRad(lat1), toRad(lat2)
	dLon := toRad(lon2 - lon1)
	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)
	b := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(b+360, 360)
}

// ChordDistanceDeg is the planar perpendicular distance, in degrees, from
// (lat, lng) to the infinite line through (lat1, lng1) and (lat2, lng2). A
// zero-length chord degrades to point distance. Used by the route simplifier.
func ChordDistanceDeg(lat, lng, lat1, lng1, lat2, lng2 float64) float64 {
	a, b, p := orb.Point{lng1, lat1}, orb.Point{lng2, lat2}, orb.Point{lng, lat}
	length := planar.Distance(a, b)
	if length == 0 {
		return planar.Distance(a, p)
	}
	dx, dy := b[0]-a[0], b[1]-a[1]
	return math.Abs(dx*(p[1]-a[1])-dy*(p[0]-a[0])) / length
}
