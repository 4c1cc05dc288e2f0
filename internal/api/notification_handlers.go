package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/technosupport/ts-telematics/internal/notify"
)

type NotificationHandler struct {
	Dispatcher *notify.Dispatcher
}

func NewNotificationHandler(d *notify.Dispatcher) *NotificationHandler {
	return &NotificationHandler{Dispatcher: d}
}

// ListNotifications handles GET /api/v1/notifications?status=
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	status := notify.Status(r.URL.Query().Get("status"))
	switch status {
	case notify.StatusPending, notify.StatusSent, notify.StatusFailed, notify.StatusRetry:
	default:
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	list, err := h.Dispatcher.Repo.FindByStatus(r.Context(), status)
	if err != nil {
		http.Error(w, "failed to list notifications", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// SendBulk handles POST /api/v1/notifications/bulk
func (h *NotificationHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var reqs []notify.Request
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	results := h.Dispatcher.SendBulk(r.Context(), reqs)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"requested":     len(reqs),
		"notifications": results,
	})
}

// RetryPending handles POST /api/v1/notifications/retry. The sweep also
// runs on a schedule; this endpoint exists for operators who do not want
// to wait for the next tick.
func (h *NotificationHandler) RetryPending(w http.ResponseWriter, r *http.Request) {
	// Detached context: the sweep outlives this request.
	go h.Dispatcher.RetryPending(context.Background())
	w.WriteHeader(http.StatusAccepted)
}
