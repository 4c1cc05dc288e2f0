package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/technosupport/ts-telematics/internal/data"
	"github.com/technosupport/ts-telematics/internal/rules"
)

type RuleHandler struct {
	Service *rules.Service
}

func NewRuleHandler(svc *rules.Service) *RuleHandler {
	return &RuleHandler{Service: svc}
}

// ListRules handles GET /api/v1/vehicles/{id}/rules
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "id")
	if vehicleID == "" {
		http.Error(w, "invalid vehicle id", http.StatusBadRequest)
		return
	}

	resolved, err := h.Service.ResolveRules(r.Context(), vehicleID)
	if err != nil {
		http.Error(w, "failed to list rules", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resolved)
}

// CreateRule handles POST /api/v1/vehicles/{id}/rules
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "id")
	if vehicleID == "" {
		http.Error(w, "invalid vehicle id", http.StatusBadRequest)
		return
	}

	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rule.VehicleID = vehicleID
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if err := validateRule(&rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Service.SaveRule(r.Context(), &rule, true); err != nil {
		http.Error(w, "failed to create rule", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rule)
}

// UpdateRule handles PUT /api/v1/rules/{id}
func (h *RuleHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rule.ID = id

	existing, err := h.Service.Repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			http.Error(w, "rule not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load rule", http.StatusInternalServerError)
		return
	}
	rule.VehicleID = existing.VehicleID
	if err := validateRule(&rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Service.SaveRule(r.Context(), &rule, false); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			http.Error(w, "rule not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update rule", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rule)
}

// WarmupCache handles POST /api/v1/rules/warmup
func (h *RuleHandler) WarmupCache(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VehicleIDs []string `json:"vehicle_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.Service.Warmup(r.Context(), body.VehicleIDs, h.Service.Repo.FindByVehicleID)

	w.WriteHeader(http.StatusAccepted)
}

// validateRule enforces the operator/threshold invariants before anything
// touches the store.
func validateRule(rule *rules.Rule) error {
	if rule.SignalKind == "" {
		return errors.New("signal_kind is required")
	}
	switch rule.Operator {
	case rules.OpGreaterThan, rules.OpLessThan, rules.OpEquals:
	case rules.OpInRange, rules.OpOutOfRange:
		m, ok := rule.Threshold.(map[string]any)
		if !ok {
			return errors.New("range operators require a {min,max} threshold")
		}
		if _, ok := m["min"]; !ok {
			return errors.New("range threshold missing min")
		}
		if _, ok := m["max"]; !ok {
			return errors.New("range threshold missing max")
		}
	default:
		return errors.New("unknown operator")
	}
	return nil
}
