package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/technosupport/ts-telematics/internal/notify"
)

// NotificationModel persists notification delivery records. Terminal
// states are guarded in SQL: UpdateStatus only moves rows still in
// pending or retry, so concurrent delivery attempts cannot resurrect a
// finished notification.
type NotificationModel struct {
	DB DBTX
}

const notificationColumns = `id, vehicle_id, rule_id, channel, recipient, subject, message, status, attempts, max_attempts, created_at, sent_at, metadata`

func (m NotificationModel) Save(ctx context.Context, n *notify.Notification) error {
	metaJSON, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("encode notification metadata: %w", err)
	}

	query := `
		INSERT INTO notifications (id, vehicle_id, rule_id, channel, recipient, subject, message, status, attempts, max_attempts, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = m.DB.ExecContext(ctx, query,
		n.ID, n.VehicleID, n.RuleID, string(n.Channel), n.Recipient, n.Subject,
		n.Message, string(n.Status), n.Attempts, n.MaxAttempts, n.CreatedAt, metaJSON,
	)
	return err
}

// UpdateStatus applies a state transition. Moves into terminal states are
// conditional on the row still being in flight; updating a missing or
// already-terminal notification returns ErrRecordNotFound.
func (m NotificationModel) UpdateStatus(ctx context.Context, id string, status notify.Status, sentAt *time.Time) error {
	query := `
		UPDATE notifications
		SET status = $1, sent_at = COALESCE($2, sent_at)
		WHERE id = $3 AND status IN ('pending', 'retry')`

	res, err := m.DB.ExecContext(ctx, query, string(status), sentAt, id)
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

func (m NotificationModel) IncrementAttempts(ctx context.Context, id string) (*notify.Notification, error) {
	query := `
		UPDATE notifications
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING ` + notificationColumns

	n, err := scanNotification(m.DB.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (m NotificationModel) FindByStatus(ctx context.Context, status notify.Status) ([]*notify.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = $1
		ORDER BY created_at ASC`

	rows, err := m.DB.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func scanNotification(scan func(dest ...any) error) (*notify.Notification, error) {
	var n notify.Notification
	var channel, status string
	var subject sql.NullString
	var sentAt sql.NullTime
	var metaJSON []byte

	err := scan(&n.ID, &n.VehicleID, &n.RuleID, &channel, &n.Recipient, &subject,
		&n.Message, &status, &n.Attempts, &n.MaxAttempts, &n.CreatedAt, &sentAt, &metaJSON)
	if err != nil {
		return nil, err
	}

	n.Channel = notify.ChannelType(channel)
	n.Status = notify.Status(status)
	if subject.Valid {
		n.Subject = subject.String
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode notification metadata: %w", err)
		}
	}
	return &n, nil
}
