package db

import (
	"context"
	"time"

	"github.com/banshee-data/trajectory.report/internal/geofence"
)

// SaveMemberships replaces the persisted membership snapshot.
func (db *DB) SaveMemberships(ctx context.Context, snapshot map[geofence.Key]geofence.Membership) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM geofence_memberships`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO geofence_memberships (geofence_id, device_id, state, last_evaluated_nanos)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for k, m := range snapshot {
		if _, err := stmt.ExecContext(ctx, k.GeofenceID, k.DeviceID, m.State.String(), m.LastEvaluated.UnixNano()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadMemberships reads the persisted snapshot.
func (db *DB) LoadMemberships(ctx context.Context) (map[geofence.Key]geofence.Membership, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT geofence_id, device_id, state, last_evaluated_nanos FROM geofence_memberships`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[geofence.Key]geofence.Membership)
	for rows.Next() {
		var k geofence.Key
		var state string
		var nanos int64
		if err := rows.Scan(&k.GeofenceID, &k.DeviceID, &state, &nanos); err != nil {
			return nil, err
		}
		m := geofence.Membership{LastEvaluated: time.Unix(0, nanos)}
		if state == geofence.StateInside.String() {
			m.State = geofence.StateInside
		}
		out[k] = m
	}
	return out, rows.Err()
}
