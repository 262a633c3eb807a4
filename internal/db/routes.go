package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/trajectory.report/internal/route"
)

// RouteInfo is the listing row for a stored route.
type RouteInfo struct {
	ID             string  `json:"id"`
	DeviceID       string  `json:"device_id"`
	Name           string  `json:"name"`
	StartMs        int64   `json:"start_ms"`
	EndMs          int64   `json:"end_ms"`
	PointCount     int     `json:"point_count"`
	TotalDistanceM float64 `json:"total_distance_m"`
	TotalDurationS float64 `json:"total_duration_s"`
	AvgSpeedKmh    float64 `json:"avg_speed_kmh"`
	MaxSpeedKmh    float64 `json:"max_speed_kmh"`
}

// SaveRoute stores a finished route. Saving the same id twice replaces it.
func (db *DB) SaveRoute(ctx context.Context, r route.Route) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode route %s: %w", r.ID, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO routes (
			route_id, device_id, name, start_ms, end_ms, point_count,
			total_distance_m, total_duration_s, avg_speed_kmh, max_speed_kmh, route_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DeviceID, r.Name, r.StartTime.UnixMilli(), r.EndTime.UnixMilli(), len(r.Points),
		r.TotalDistanceM, r.TotalDurationS, r.AvgSpeedKmh, r.MaxSpeedKmh, string(body))
	if err != nil {
		return fmt.Errorf("insert route %s: %w", r.ID, err)
	}
	return nil
}

// GetRoute loads a stored route or returns ErrNotFound.
func (db *DB) GetRoute(ctx context.Context, id string) (route.Route, error) {
	var body string
	err := db.QueryRowContext(ctx, `SELECT route_json FROM routes WHERE route_id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return route.Route{}, fmt.Errorf("route %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return route.Route{}, err
	}
	var r route.Route
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return route.Route{}, fmt.Errorf("decode route %s: %w", id, err)
	}
	return r, nil
}

// ListRoutes returns route metadata, newest first, optionally for one device.
func (db *DB) ListRoutes(ctx context.Context, deviceID string) ([]RouteInfo, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT route_id, device_id, name, start_ms, end_ms, point_count,
		       total_distance_m, total_duration_s, avg_speed_kmh, max_speed_kmh
		FROM routes
		WHERE (? = '' OR device_id = ?)
		ORDER BY start_ms DESC`, deviceID, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RouteInfo
	for rows.Next() {
		var ri RouteInfo
		if err := rows.Scan(&ri.ID, &ri.DeviceID, &ri.Name, &ri.StartMs, &ri.EndMs, &ri.PointCount,
			&ri.TotalDistanceM, &ri.TotalDurationS, &ri.AvgSpeedKmh, &ri.MaxSpeedKmh); err != nil {
			return nil, err
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

// DeleteRoute removes a stored route.
func (db *DB) DeleteRoute(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM routes WHERE route_id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res, "route "+id)
}
