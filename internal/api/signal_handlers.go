package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-telematics/internal/telemetry"
)

type SignalHandler struct {
	Service *telemetry.Service
}

func NewSignalHandler(svc *telemetry.Service) *SignalHandler {
	return &SignalHandler{Service: svc}
}

// IngestSignal handles POST /api/v1/signals
func (h *SignalHandler) IngestSignal(w http.ResponseWriter, r *http.Request) {
	var sig telemetry.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	saved, err := h.Service.Ingest(r.Context(), &sig)
	if err != nil {
		var verr *telemetry.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to ingest signal", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(saved)
}

// IngestBatch handles POST /api/v1/signals/batch
func (h *SignalHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var sigs []*telemetry.Signal
	if err := json.NewDecoder(r.Body).Decode(&sigs); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	processed := h.Service.IngestBatch(r.Context(), sigs)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"received":  len(sigs),
		"processed": len(processed),
		"signals":   processed,
	})
}

// GetSignals handles GET /api/v1/vehicles/{id}/signals
func (h *SignalHandler) GetSignals(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "id")
	if vehicleID == "" {
		http.Error(w, "invalid vehicle id", http.StatusBadRequest)
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}

	signals, err := h.Service.Signals(r.Context(), vehicleID, limit)
	if err != nil {
		http.Error(w, "failed to list signals", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(signals)
}

// GetState handles GET /api/v1/vehicles/{id}/state
func (h *SignalHandler) GetState(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "id")
	if vehicleID == "" {
		http.Error(w, "invalid vehicle id", http.StatusBadRequest)
		return
	}

	state, err := h.Service.State(r.Context(), vehicleID)
	if err != nil {
		http.Error(w, "failed to read state", http.StatusInternalServerError)
		return
	}
	if state == nil {
		http.Error(w, "no state for vehicle", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}
