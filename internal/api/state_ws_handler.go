package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-telematics/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards connect cross-origin; auth happens before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StateFeedHandler streams a vehicle's cached state over a websocket,
// pushing the current snapshot once per second until the client leaves.
// The feed reads only the cache: it inherits the cache's staleness.
type StateFeedHandler struct {
	Service *telemetry.Service
}

func NewStateFeedHandler(svc *telemetry.Service) *StateFeedHandler {
	return &StateFeedHandler{Service: svc}
}

// Live handles GET /api/v1/vehicles/{id}/state/live
func (h *StateFeedHandler) Live(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "id")
	if vehicleID == "" {
		http.Error(w, "invalid vehicle id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ERROR] State Feed: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Reader goroutine only exists to detect the client closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			state, err := h.Service.State(r.Context(), vehicleID)
			if err != nil {
				log.Printf("[WARN] State Feed: reading state for %s: %v", vehicleID, err)
				continue
			}
			if state == nil {
				continue
			}
			if err := conn.WriteJSON(state); err != nil {
				return
			}
		}
	}
}
