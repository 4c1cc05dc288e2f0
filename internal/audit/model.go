package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-telematics/internal/data"
)

// Event is one append-only record of an operator action on the
// management API. EventID is the idempotency key: replaying a spooled
// event after a database outage must not produce a second row.
type Event struct {
	ID         string          `json:"id"`
	EventID    uuid.UUID       `json:"event_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type,omitempty"`
	TargetID   string          `json:"target_id,omitempty"`
	Result     string          `json:"result"` // success or failure
	RequestID  string          `json:"request_id,omitempty"`
	ClientIP   string          `json:"client_ip,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// spoolEntry wraps an event for the JSONL spool file.
type spoolEntry struct {
	EventID   string    `json:"event_id"`
	Payload   Event     `json:"payload"`
	SpooledAt time.Time `json:"spooled_at"`
}

// Filter narrows a trail query. Cursor is the id of the last event the
// previous page returned.
type Filter struct {
	ActorID string
	Result  string
	Limit   int
	Cursor  string
}

// Service writes and queries the audit trail. There are deliberately no
// update or delete methods.
type Service struct {
	DB data.DBTX
}

func NewService(db data.DBTX) *Service {
	return &Service{DB: db}
}
