package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/trajectory.report/internal/analytics"
	"github.com/banshee-data/trajectory.report/internal/db"
	"github.com/banshee-data/trajectory.report/internal/geofence"
	"github.com/banshee-data/trajectory.report/internal/sampling"
	"github.com/banshee-data/trajectory.report/internal/tracking"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

const defaultEventLimit = 100

type batchRequest struct {
	Requests []tracking.Request `json:"requests"`
}

// batchResult carries the per-sample error as text, which tracking.Result
// leaves out of its JSON form.
type batchResult struct {
	tracking.Result
	Error string `json:"error,omitempty"`
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	var req tracking.Request
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.Ingest(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if !s.decode(w, r, &body) {
		return
	}
	results, err := s.svc.IngestBatch(r.Context(), body.Requests)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]batchResult, len(results))
	for i, res := range results {
		out[i] = batchResult{Result: res}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) recommend(w http.ResponseWriter, r *http.Request) {
	var in sampling.Input
	if !s.decode(w, r, &in) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.svc.Recommend(in))
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.catalog.Devices(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, devices)
}

func (s *Server) resetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.svc.ResetDevice(id) {
		s.writeError(w, tracking.ErrUnknownDevice)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deviceActivity(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Classify(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

// rangeQuery runs fn over the device and time range named in r, and writes
// its result as JSON.
func rangeQuery[T any](s *Server, w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, deviceID string, from, to int64) (T, error)) {
	from, to, err := timeRange(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := fn(r.Context(), r.PathValue("id"), from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) deviceSamples(w http.ResponseWriter, r *http.Request) {
	rangeQuery(s, w, r, s.svc.Samples)
}

func (s *Server) deviceSummary(w http.ResponseWriter, r *http.Request) {
	rangeQuery(s, w, r, s.svc.Summarize)
}

func (s *Server) deviceEfficiency(w http.ResponseWriter, r *http.Request) {
	rangeQuery(s, w, r, s.svc.Efficiency)
}

func (s *Server) deviceZones(w http.ResponseWriter, r *http.Request) {
	rangeQuery(s, w, r, s.svc.SpeedZones)
}

func (s *Server) deviceQuality(w http.ResponseWriter, r *http.Request) {
	rangeQuery(s, w, r, s.svc.Quality)
}

func (s *Server) deviceHeatmap(w http.ResponseWriter, r *http.Request) {
	grid, err := gridParam(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rangeQuery(s, w, r, func(ctx context.Context, id string, from, to int64) (any, error) {
		return s.svc.Heatmap(ctx, id, from, to, grid)
	})
}

func gridParam(r *http.Request) (float64, error) {
	v := r.URL.Query().Get("grid")
	if v == "" {
		return 0, nil
	}
	grid, err := strconv.ParseFloat(v, 64)
	if err != nil || grid < 0 {
		return 0, errors.New("invalid 'grid' parameter")
	}
	if grid > 0 && grid < analytics.MinGridDeg {
		return 0, fmt.Errorf("'grid' must be at least %g degrees", analytics.MinGridDeg)
	}
	return grid, nil
}

func (s *Server) deviceRecommendation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var hints tracking.DeviceHints
	if v := q.Get("battery"); v != "" {
		b, err := strconv.ParseFloat(v, 64)
		if err != nil || b < 0 || b > 1 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid 'battery' parameter")
			return
		}
		hints.BatteryLevel = &b
	}
	for name, dst := range map[string]**bool{"charging": &hints.IsCharging, "screen_on": &hints.ScreenOn} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid '"+name+"' parameter")
			return
		}
		*dst = &b
	}
	rec, err := s.svc.Recommendations(r.PathValue("id"), q.Get("plan"), hints)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

type buildRouteRequest struct {
	Name   string `json:"name"`
	FromMs int64  `json:"from_ms"`
	ToMs   int64  `json:"to_ms"`
}

func (s *Server) buildRoute(w http.ResponseWriter, r *http.Request) {
	var req buildRouteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ToMs != 0 && req.ToMs < req.FromMs {
		s.writeJSONError(w, http.StatusBadRequest, "'to_ms' must not be before 'from_ms'")
		return
	}
	rt, err := s.svc.BuildRoute(r.Context(), r.PathValue("id"), req.Name, req.FromMs, req.ToMs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rt)
}

// geofenceRequest mirrors geofence.Geofence but lets the flags default to
// true when omitted.
type geofenceRequest struct {
	Name          string  `json:"name"`
	CenterLat     float64 `json:"center_lat"`
	CenterLng     float64 `json:"center_lng"`
	RadiusM       float64 `json:"radius_m"`
	Enabled       *bool   `json:"enabled,omitempty"`
	NotifyOnEnter *bool   `json:"notify_on_enter,omitempty"`
	NotifyOnExit  *bool   `json:"notify_on_exit,omitempty"`
}

func (req geofenceRequest) geofence(id string) geofence.Geofence {
	flag := func(b *bool) bool { return b == nil || *b }
	return geofence.Geofence{
		ID:            id,
		Name:          req.Name,
		CenterLat:     req.CenterLat,
		CenterLng:     req.CenterLng,
		RadiusM:       req.RadiusM,
		Enabled:       flag(req.Enabled),
		NotifyOnEnter: flag(req.NotifyOnEnter),
		NotifyOnExit:  flag(req.NotifyOnExit),
	}
}

func (s *Server) listGeofences(w http.ResponseWriter, r *http.Request) {
	fences, err := s.catalog.Geofences(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if fences == nil {
		fences = []geofence.Geofence{}
	}
	s.writeJSON(w, http.StatusOK, fences)
}

func (s *Server) createGeofence(w http.ResponseWriter, r *http.Request) {
	var req geofenceRequest
	if !s.decode(w, r, &req) {
		return
	}
	g, err := s.catalog.CreateGeofence(r.Context(), req.geofence(""))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.svc.InvalidateGeofences()
	s.writeJSON(w, http.StatusCreated, g)
}

func (s *Server) getGeofence(w http.ResponseWriter, r *http.Request) {
	g, err := s.catalog.GetGeofence(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) updateGeofence(w http.ResponseWriter, r *http.Request) {
	var req geofenceRequest
	if !s.decode(w, r, &req) {
		return
	}
	g := req.geofence(r.PathValue("id"))
	if err := s.catalog.UpdateGeofence(r.Context(), g); err != nil {
		s.writeError(w, err)
		return
	}
	s.svc.InvalidateGeofences()
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) deleteGeofence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.catalog.DeleteGeofence(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.svc.Memberships().DeleteGeofence(id)
	s.svc.InvalidateGeofences()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) evaluateGeofences(w http.ResponseWriter, r *http.Request) {
	var sample trajectory.Sample
	if !s.decode(w, r, &sample) {
		return
	}
	events, err := s.svc.EvaluateGeofences(r.Context(), sample)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []geofence.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	events, err := s.catalog.ListEvents(r.Context(), r.URL.Query().Get("device_id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []geofence.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := s.catalog.ListRoutes(r.Context(), r.URL.Query().Get("device_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if routes == nil {
		routes = []db.RouteInfo{}
	}
	s.writeJSON(w, http.StatusOK, routes)
}

func (s *Server) getRoute(w http.ResponseWriter, r *http.Request) {
	rt, err := s.catalog.GetRoute(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rt)
}

func (s *Server) getRouteGeoJSON(w http.ResponseWriter, r *http.Request) {
	rt, err := s.catalog.GetRoute(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := rt.GeoJSON()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
