package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/technosupport/ts-telematics/internal/telemetry"
)

// SignalModel persists telemetry signals. Value and metadata are stored
// as jsonb; the scan/marshal pair here is the only mapping between the
// domain signal and its storage shape.
type SignalModel struct {
	DB DBTX
}

func (m SignalModel) Save(ctx context.Context, s *telemetry.Signal) error {
	valueJSON, err := json.Marshal(s.Value)
	if err != nil {
		return fmt.Errorf("encode signal value: %w", err)
	}
	metaJSON, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("encode signal metadata: %w", err)
	}

	query := `
		INSERT INTO telemetry_signals (id, vehicle_id, kind, value, ts, latitude, longitude, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = m.DB.ExecContext(ctx, query,
		s.ID, s.VehicleID, string(s.Kind), valueJSON, s.Timestamp, s.Latitude, s.Longitude, metaJSON,
	)
	return err
}

func (m SignalModel) FindByVehicleID(ctx context.Context, vehicleID string, limit int) ([]*telemetry.Signal, error) {
	query := `
		SELECT id, vehicle_id, kind, value, ts, latitude, longitude, metadata
		FROM telemetry_signals
		WHERE vehicle_id = $1
		ORDER BY ts DESC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, vehicleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*telemetry.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

func scanSignal(rows *sql.Rows) (*telemetry.Signal, error) {
	var s telemetry.Signal
	var kind string
	var valueJSON, metaJSON []byte
	var lat, lon sql.NullFloat64

	err := rows.Scan(&s.ID, &s.VehicleID, &kind, &valueJSON, &s.Timestamp, &lat, &lon, &metaJSON)
	if err != nil {
		return nil, err
	}

	s.Kind = telemetry.SignalKind(kind)
	if lat.Valid {
		s.Latitude = &lat.Float64
	}
	if lon.Valid {
		s.Longitude = &lon.Float64
	}
	if len(valueJSON) > 0 {
		if err := json.Unmarshal(valueJSON, &s.Value); err != nil {
			return nil, fmt.Errorf("decode signal value: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &s.Metadata); err != nil {
			return nil, fmt.Errorf("decode signal metadata: %w", err)
		}
	}
	return &s, nil
}
