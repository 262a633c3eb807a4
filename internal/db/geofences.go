package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/trajectory.report/internal/geofence"
)

const geofenceColumns = `geofence_id, name, center_lat, center_lng, radius_m,
	enabled, notify_on_enter, notify_on_exit`

func scanGeofence(row interface{ Scan(...any) error }) (geofence.Geofence, error) {
	var g geofence.Geofence
	var enabled, onEnter, onExit int
	err := row.Scan(&g.ID, &g.Name, &g.CenterLat, &g.CenterLng, &g.RadiusM, &enabled, &onEnter, &onExit)
	g.Enabled, g.NotifyOnEnter, g.NotifyOnExit = enabled != 0, onEnter != 0, onExit != 0
	return g, err
}

// CreateGeofence validates and inserts g. An empty ID is replaced by a new
// UUID; the stored fence is returned.
func (db *DB) CreateGeofence(ctx context.Context, g geofence.Geofence) (geofence.Geofence, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if err := g.Validate(); err != nil {
		return geofence.Geofence{}, err
	}
	now := time.Now().UnixNano()
	_, err := db.ExecContext(ctx, `
		INSERT INTO geofences (`+geofenceColumns+`, created_unix_nanos, updated_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.CenterLat, g.CenterLng, g.RadiusM,
		boolInt(g.Enabled), boolInt(g.NotifyOnEnter), boolInt(g.NotifyOnExit), now, now)
	if err != nil {
		return geofence.Geofence{}, fmt.Errorf("insert geofence %s: %w", g.ID, err)
	}
	return g, nil
}

// GetGeofence returns one fence or ErrNotFound.
func (db *DB) GetGeofence(ctx context.Context, id string) (geofence.Geofence, error) {
	row := db.QueryRowContext(ctx, `SELECT `+geofenceColumns+` FROM geofences WHERE geofence_id = ?`, id)
	g, err := scanGeofence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return geofence.Geofence{}, fmt.Errorf("geofence %s: %w", id, ErrNotFound)
	}
	return g, err
}

// UpdateGeofence replaces every field of an existing fence.
func (db *DB) UpdateGeofence(ctx context.Context, g geofence.Geofence) error {
	if err := g.Validate(); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE geofences SET name = ?, center_lat = ?, center_lng = ?, radius_m = ?,
			enabled = ?, notify_on_enter = ?, notify_on_exit = ?, updated_unix_nanos = ?
		WHERE geofence_id = ?`,
		g.Name, g.CenterLat, g.CenterLng, g.RadiusM,
		boolInt(g.Enabled), boolInt(g.NotifyOnEnter), boolInt(g.NotifyOnExit),
		time.Now().UnixNano(), g.ID)
	if err != nil {
		return fmt.Errorf("update geofence %s: %w", g.ID, err)
	}
	return expectOne(res, "geofence "+g.ID)
}

// DeleteGeofence removes a fence along with its persisted memberships.
func (db *DB) DeleteGeofence(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM geofence_memberships WHERE geofence_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM geofences WHERE geofence_id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectOne(res, "geofence "+id); err != nil {
		return err
	}
	return tx.Commit()
}

// Geofences returns every configured fence ordered by name. It satisfies
// geofence.Source.
func (db *DB) Geofences(ctx context.Context) ([]geofence.Geofence, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+geofenceColumns+` FROM geofences ORDER BY name, geofence_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []geofence.Geofence
	for rows.Next() {
		g, err := scanGeofence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
