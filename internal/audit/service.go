package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// Record appends one event to the trail. A database failure is not fatal:
// the event is spooled to disk and replayed later, so the trail survives
// a store outage without blocking the request that produced it.
func (s *Service) Record(ctx context.Context, evt Event) error {
	if evt.EventID == uuid.Nil {
		evt.EventID = uuid.New()
	}

	query := `
		INSERT INTO audit_events (event_id, actor_id, action, target_type, target_id, result, request_id, client_ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING`

	_, err := s.DB.ExecContext(ctx, query,
		evt.EventID, evt.ActorID, evt.Action, evt.TargetType, evt.TargetID,
		evt.Result, evt.RequestID, evt.ClientIP, []byte(evt.Metadata), evt.CreatedAt,
	)
	if err != nil {
		log.Printf("[WARN] Audit: store write failed, spooling event %s: %v", evt.EventID, err)
		if spoolErr := Spool(evt); spoolErr != nil {
			log.Printf("[ERROR] Audit: spool failed for event %s: %v", evt.EventID, spoolErr)
			return fmt.Errorf("audit event %s lost: %w", evt.EventID, spoolErr)
		}
		return nil
	}

	return nil
}

// Query returns a page of the trail, newest first, plus the cursor for
// the next page.
func (s *Service) Query(ctx context.Context, f Filter) ([]Event, string, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}

	q := `
		SELECT id, event_id, actor_id, action, target_type, target_id, result, request_id, client_ip, metadata, created_at
		FROM audit_events
		WHERE 1=1`
	var args []any
	idx := 1

	if f.ActorID != "" {
		q += fmt.Sprintf(" AND actor_id = $%d", idx)
		args = append(args, f.ActorID)
		idx++
	}
	if f.Result != "" {
		q += fmt.Sprintf(" AND result = $%d", idx)
		args = append(args, f.Result)
		idx++
	}
	if f.Cursor != "" {
		q += fmt.Sprintf(" AND id < $%d", idx)
		args = append(args, f.Cursor)
		idx++
	}

	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", idx)
	args = append(args, f.Limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var events []Event
	var lastID string
	for rows.Next() {
		var evt Event
		var meta []byte
		err := rows.Scan(&evt.ID, &evt.EventID, &evt.ActorID, &evt.Action, &evt.TargetType,
			&evt.TargetID, &evt.Result, &evt.RequestID, &evt.ClientIP, &meta, &evt.CreatedAt)
		if err != nil {
			return nil, "", err
		}
		evt.Metadata = json.RawMessage(meta)
		events = append(events, evt)
		lastID = evt.ID
	}

	return events, lastID, rows.Err()
}
