package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

// AppendSamples inserts samples in one transaction. A sample whose
// (device, timestamp) already exists is ignored.
func (db *DB) AppendSamples(ctx context.Context, samples []trajectory.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO samples (
			device_id, timestamp_ms, latitude, longitude,
			accuracy_m, heading_deg, speed_mps, altitude_m
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.ExecContext(ctx,
			s.DeviceID, s.TimestampMs, s.Latitude, s.Longitude,
			nullFloat(s.AccuracyM), nullFloat(s.HeadingDeg), nullFloat(s.SpeedMps), nullFloat(s.AltitudeM),
		); err != nil {
			return fmt.Errorf("insert sample device=%s ts=%d: %w", s.DeviceID, s.TimestampMs, err)
		}
	}
	return tx.Commit()
}

// ReadSamples returns a device's samples with fromMs <= ts <= toMs in
// timestamp order. A zero toMs means no upper bound.
func (db *DB) ReadSamples(ctx context.Context, deviceID string, fromMs, toMs int64) ([]trajectory.Sample, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT device_id, timestamp_ms, latitude, longitude,
		       accuracy_m, heading_deg, speed_mps, altitude_m
		FROM samples
		WHERE device_id = ? AND timestamp_ms >= ? AND (? = 0 OR timestamp_ms <= ?)
		ORDER BY timestamp_ms`,
		deviceID, fromMs, toMs, toMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trajectory.Sample
	for rows.Next() {
		var s trajectory.Sample
		var acc, heading, speed, alt sql.NullFloat64
		if err := rows.Scan(&s.DeviceID, &s.TimestampMs, &s.Latitude, &s.Longitude,
			&acc, &heading, &speed, &alt); err != nil {
			return nil, err
		}
		s.AccuracyM = floatPtr(acc)
		s.HeadingDeg = floatPtr(heading)
		s.SpeedMps = floatPtr(speed)
		s.AltitudeM = floatPtr(alt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeviceInfo summarizes the stored samples of one device.
type DeviceInfo struct {
	DeviceID    string `json:"device_id"`
	SampleCount int64  `json:"sample_count"`
	FirstMs     int64  `json:"first_ms"`
	LastMs      int64  `json:"last_ms"`
}

// Devices lists every device with stored samples, most recently seen first.
func (db *DB) Devices(ctx context.Context) ([]DeviceInfo, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT device_id, COUNT(*), MIN(timestamp_ms), MAX(timestamp_ms)
		FROM samples
		GROUP BY device_id
		ORDER BY MAX(timestamp_ms) DESC, device_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeviceInfo
	for rows.Next() {
		var d DeviceInfo
		if err := rows.Scan(&d.DeviceID, &d.SampleCount, &d.FirstMs, &d.LastMs); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDeviceSamples removes every stored sample of a device.
func (db *DB) DeleteDeviceSamples(ctx context.Context, deviceID string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM samples WHERE device_id = ?`, deviceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
