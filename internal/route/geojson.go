package route

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LineString returns the route geometry in (lng, lat) order.
func (r Route) LineString() orb.LineString {
	ls := make(orb.LineString, len(r.Points))
	for i, p := range r.Points {
		ls[i] = orb.Point{p.Longitude, p.Latitude}
	}
	return ls
}

// FeatureCollection exports the route as a line feature plus start and end
// point features.
func (r Route) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	line := geojson.NewFeature(r.LineString())
	line.ID = r.ID
	line.Properties["kind"] = "route"
	line.Properties["device_id"] = r.DeviceID
	line.Properties["name"] = r.Name
	line.Properties["start_time"] = r.StartTime.UTC().Format(time.RFC3339)
	line.Properties["end_time"] = r.EndTime.UTC().Format(time.RFC3339)
	line.Properties["total_distance_m"] = r.TotalDistanceM
	line.Properties["total_duration_s"] = r.TotalDurationS
	line.Properties["avg_speed_kmh"] = r.AvgSpeedKmh
	line.Properties["max_speed_kmh"] = r.MaxSpeedKmh
	durations := make(map[string]float64, len(r.ActivityDurations))
	for t, s := range r.ActivityDurations {
		durations[string(t)] = s
	}
	line.Properties["activity_durations"] = durations
	fc.Append(line)

	if len(r.Points) > 0 {
		for _, end := range []struct {
			kind string
			p    Point
		}{{"start", r.Points[0]}, {"end", r.Points[len(r.Points)-1]}} {
			f := geojson.NewFeature(orb.Point{end.p.Longitude, end.p.Latitude})
			f.Properties["kind"] = end.kind
			f.Properties["timestamp_ms"] = end.p.TimestampMs
			fc.Append(f)
		}
	}
	return fc
}

// GeoJSON marshals FeatureCollection.
func (r Route) GeoJSON() ([]byte, error) {
	return r.FeatureCollection().MarshalJSON()
}
