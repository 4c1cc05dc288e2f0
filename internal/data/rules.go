package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/technosupport/ts-telematics/internal/rules"
	"github.com/technosupport/ts-telematics/internal/telemetry"
)

// RuleModel persists threshold rules. FindByVehicleID returns enabled
// rules only, ordered by descending priority, which is the order the
// cache and evaluator both rely on.
type RuleModel struct {
	DB DBTX
}

const ruleColumns = `id, vehicle_id, signal_kind, operator, threshold, action, priority, enabled, metadata, created_at, updated_at`

func (m RuleModel) FindByVehicleID(ctx context.Context, vehicleID string) ([]*rules.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM rules
		WHERE vehicle_id = $1 AND enabled = true
		ORDER BY priority DESC, created_at ASC`

	rows, err := m.DB.QueryContext(ctx, query, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*rules.Rule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (m RuleModel) GetByID(ctx context.Context, id string) (*rules.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM rules
		WHERE id = $1`

	r, err := scanRule(m.DB.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (m RuleModel) Save(ctx context.Context, r *rules.Rule) error {
	thresholdJSON, metaJSON, err := encodeRule(r)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	query := `
		INSERT INTO rules (id, vehicle_id, signal_kind, operator, threshold, action, priority, enabled, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = m.DB.ExecContext(ctx, query,
		r.ID, r.VehicleID, string(r.SignalKind), string(r.Operator), thresholdJSON,
		string(r.Action), r.Priority, r.Enabled, metaJSON, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (m RuleModel) Update(ctx context.Context, r *rules.Rule) error {
	thresholdJSON, metaJSON, err := encodeRule(r)
	if err != nil {
		return err
	}

	r.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE rules
		SET signal_kind = $1, operator = $2, threshold = $3, action = $4,
		    priority = $5, enabled = $6, metadata = $7, updated_at = $8
		WHERE id = $9`

	res, err := m.DB.ExecContext(ctx, query,
		string(r.SignalKind), string(r.Operator), thresholdJSON, string(r.Action),
		r.Priority, r.Enabled, metaJSON, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func encodeRule(r *rules.Rule) ([]byte, []byte, error) {
	thresholdJSON, err := json.Marshal(r.Threshold)
	if err != nil {
		return nil, nil, fmt.Errorf("encode rule threshold: %w", err)
	}
	metaJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("encode rule metadata: %w", err)
	}
	return thresholdJSON, metaJSON, nil
}

func scanRule(scan func(dest ...any) error) (*rules.Rule, error) {
	var r rules.Rule
	var kind, operator, action string
	var thresholdJSON, metaJSON []byte

	err := scan(&r.ID, &r.VehicleID, &kind, &operator, &thresholdJSON,
		&action, &r.Priority, &r.Enabled, &metaJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.SignalKind = telemetry.SignalKind(kind)
	r.Operator = rules.Operator(operator)
	r.Action = rules.Action(action)
	if len(thresholdJSON) > 0 {
		if err := json.Unmarshal(thresholdJSON, &r.Threshold); err != nil {
			return nil, fmt.Errorf("decode rule threshold: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode rule metadata: %w", err)
		}
	}
	return &r, nil
}
