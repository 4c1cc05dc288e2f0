package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/technosupport/ts-telematics/internal/audit"
)

type AuditHandler struct {
	Trail *audit.Service
}

func NewAuditHandler(trail *audit.Service) *AuditHandler {
	return &AuditHandler{Trail: trail}
}

// ListEvents handles GET /api/v1/audit/events with cursor pagination.
func (h *AuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 100
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}

	events, cursor, err := h.Trail.Query(r.Context(), audit.Filter{
		ActorID: q.Get("actor_id"),
		Result:  q.Get("result"),
		Cursor:  q.Get("cursor"),
		Limit:   limit,
	})
	if err != nil {
		http.Error(w, "failed to query audit trail", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"events":      events,
		"next_cursor": cursor,
	})
}
