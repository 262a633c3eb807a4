// Package api exposes the tracking service over HTTP as JSON endpoints, plus
// a few go-echarts debug pages.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/trajectory.report/internal/db"
	"github.com/banshee-data/trajectory.report/internal/geofence"
	"github.com/banshee-data/trajectory.report/internal/route"
	"github.com/banshee-data/trajectory.report/internal/tracking"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
	"github.com/banshee-data/trajectory.report/internal/units"
	"github.com/banshee-data/trajectory.report/internal/version"
)

// ANSI escape codes for request logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

const maxBodyBytes = 4 << 20

// Catalog is the persisted configuration and history the API serves next to
// the live service. *db.DB implements it.
type Catalog interface {
	Devices(ctx context.Context) ([]db.DeviceInfo, error)
	CreateGeofence(ctx context.Context, g geofence.Geofence) (geofence.Geofence, error)
	GetGeofence(ctx context.Context, id string) (geofence.Geofence, error)
	UpdateGeofence(ctx context.Context, g geofence.Geofence) error
	DeleteGeofence(ctx context.Context, id string) error
	Geofences(ctx context.Context) ([]geofence.Geofence, error)
	ListEvents(ctx context.Context, deviceID string, limit int) ([]geofence.Event, error)
	GetRoute(ctx context.Context, id string) (route.Route, error)
	ListRoutes(ctx context.Context, deviceID string) ([]db.RouteInfo, error)
}

type Server struct {
	svc     *tracking.Service
	catalog Catalog
	units   string
}

// NewServer returns a Server. speedUnits selects the units used by the
// chart pages; invalid values fall back to km/h.
func NewServer(svc *tracking.Service, catalog Catalog, speedUnits string) *Server {
	if !units.IsValid(speedUnits) {
		speedUnits = units.KMPH
	}
	return &Server{svc: svc, catalog: catalog, units: speedUnits}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/version", s.showVersion)
	mux.HandleFunc("GET /api/v1/stats", s.showStats)

	mux.HandleFunc("POST /api/v1/ingest", s.ingest)
	mux.HandleFunc("POST /api/v1/ingest/batch", s.ingestBatch)
	mux.HandleFunc("POST /api/v1/recommend", s.recommend)

	mux.HandleFunc("GET /api/v1/devices", s.listDevices)
	mux.HandleFunc("DELETE /api/v1/devices/{id}", s.resetDevice)
	mux.HandleFunc("GET /api/v1/devices/{id}/activity", s.deviceActivity)
	mux.HandleFunc("GET /api/v1/devices/{id}/samples", s.deviceSamples)
	mux.HandleFunc("GET /api/v1/devices/{id}/summary", s.deviceSummary)
	mux.HandleFunc("GET /api/v1/devices/{id}/heatmap", s.deviceHeatmap)
	mux.HandleFunc("GET /api/v1/devices/{id}/efficiency", s.deviceEfficiency)
	mux.HandleFunc("GET /api/v1/devices/{id}/zones", s.deviceZones)
	mux.HandleFunc("GET /api/v1/devices/{id}/quality", s.deviceQuality)
	mux.HandleFunc("GET /api/v1/devices/{id}/recommendation", s.deviceRecommendation)
	mux.HandleFunc("POST /api/v1/devices/{id}/routes", s.buildRoute)

	mux.HandleFunc("GET /api/v1/geofences", s.listGeofences)
	mux.HandleFunc("POST /api/v1/geofences", s.createGeofence)
	mux.HandleFunc("POST /api/v1/geofences/evaluate", s.evaluateGeofences)
	mux.HandleFunc("GET /api/v1/geofences/{id}", s.getGeofence)
	mux.HandleFunc("PUT /api/v1/geofences/{id}", s.updateGeofence)
	mux.HandleFunc("DELETE /api/v1/geofences/{id}", s.deleteGeofence)
	mux.HandleFunc("GET /api/v1/events", s.listEvents)

	mux.HandleFunc("GET /api/v1/routes", s.listRoutes)
	mux.HandleFunc("GET /api/v1/routes/{id}", s.getRoute)
	mux.HandleFunc("GET /api/v1/routes/{id}/geojson", s.getRouteGeoJSON)

	mux.HandleFunc("GET /debug/charts/heatmap", s.heatmapChart)
	mux.HandleFunc("GET /debug/charts/speed", s.speedChart)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound),
		errors.Is(err, tracking.ErrUnknownDevice),
		errors.Is(err, tracking.ErrNoSamples):
		status = http.StatusNotFound
	case errors.Is(err, trajectory.ErrInvalidCoordinates),
		errors.Is(err, trajectory.ErrMissingDevice),
		errors.Is(err, geofence.ErrInvalidGeofence):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	s.writeJSONError(w, status, err.Error())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// timeRange parses the optional from/to query parameters (unix ms).
func timeRange(r *http.Request) (from, to int64, err error) {
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if from, err = strconv.ParseInt(v, 10, 64); err != nil {
			return 0, 0, errors.New("invalid 'from' parameter")
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = strconv.ParseInt(v, 10, 64); err != nil {
			return 0, 0, errors.New("invalid 'to' parameter")
		}
	}
	if to != 0 && to < from {
		return 0, 0, errors.New("'to' must not be before 'from'")
	}
	return from, to, nil
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Stats())
}
