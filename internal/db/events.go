package db

import (
	"context"
	"fmt"

	"github.com/banshee-data/trajectory.report/internal/geofence"
)

// RecordEvents appends geofence transitions.
func (db *DB) RecordEvents(ctx context.Context, events []geofence.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, ev := range events {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO geofence_events (
				geofence_id, device_id, event_type, timestamp_ms, latitude, longitude, distance_m
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.GeofenceID, ev.DeviceID, string(ev.Type), ev.TimestampMs,
			ev.Latitude, ev.Longitude, ev.DistanceM); err != nil {
			return fmt.Errorf("insert %s event fence=%s device=%s: %w", ev.Type, ev.GeofenceID, ev.DeviceID, err)
		}
	}
	return tx.Commit()
}

// ListEvents returns the newest events, optionally filtered by device. The
// fence name is resolved from the current fence configuration.
func (db *DB) ListEvents(ctx context.Context, deviceID string, limit int) ([]geofence.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT e.event_type, e.geofence_id, COALESCE(g.name, ''), e.device_id,
		       e.timestamp_ms, e.latitude, e.longitude, e.distance_m
		FROM geofence_events e
		LEFT JOIN geofences g ON g.geofence_id = e.geofence_id
		WHERE (? = '' OR e.device_id = ?)
		ORDER BY e.timestamp_ms DESC, e.event_id DESC
		LIMIT ?`, deviceID, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []geofence.Event
	for rows.Next() {
		var ev geofence.Event
		var typ string
		if err := rows.Scan(&typ, &ev.GeofenceID, &ev.GeofenceName, &ev.DeviceID,
			&ev.TimestampMs, &ev.Latitude, &ev.Longitude, &ev.DistanceM); err != nil {
			return nil, err
		}
		ev.Type = geofence.EventType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}
