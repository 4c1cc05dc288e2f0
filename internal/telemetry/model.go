package telemetry

import (
	"fmt"
	"time"
)

type SignalKind string

const (
	KindPosition    SignalKind = "position"
	KindSpeed       SignalKind = "speed"
	KindHeading     SignalKind = "heading"
	KindLoad        SignalKind = "load"
	KindTemperature SignalKind = "temperature"
	KindImaging     SignalKind = "imaging"
	KindPanicButton SignalKind = "panic_button"
	KindCollision   SignalKind = "collision"
	KindEmergency   SignalKind = "emergency"
)

// Signal is a single telemetry reading reported by a vehicle.
// Value is kind-dependent and opaque to most of the pipeline; the rules
// evaluator extracts numeric content from it when needed.
type Signal struct {
	ID        string         `json:"id"`
	VehicleID string         `json:"vehicle_id"`
	Kind      SignalKind     `json:"kind"`
	Value     any            `json:"value,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Latitude  *float64       `json:"latitude,omitempty"`
	Longitude *float64       `json:"longitude,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// VehicleState is the cached last-known state of a vehicle. It is a
// best-effort projection: stale or absent entries are normal.
type VehicleState struct {
	LastSignalTime time.Time  `json:"last_signal_time"`
	LastSignalKind SignalKind `json:"last_signal_kind"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	Speed          *float64   `json:"speed,omitempty"`
	LastUpdate     time.Time  `json:"last_update"`
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: %s %s", e.Field, e.Reason)
}

// Validate checks the invariants a signal must satisfy before any side
// effect runs: non-empty vehicle id and kind, and both coordinates for
// position signals.
func Validate(s *Signal) error {
	if s.VehicleID == "" {
		return &ValidationError{Field: "vehicle_id", Reason: "is required"}
	}
	if s.Kind == "" {
		return &ValidationError{Field: "kind", Reason: "is required"}
	}
	if s.Kind == KindPosition && (s.Latitude == nil || s.Longitude == nil) {
		return &ValidationError{Field: "coordinates", Reason: "are required for position signals"}
	}
	return nil
}

// IsCritical reports whether a signal must take the priority channel.
// Panic, collision and emergency kinds are always critical; metadata can
// also escalate an otherwise normal signal.
func IsCritical(s *Signal) bool {
	switch s.Kind {
	case KindPanicButton, KindCollision, KindEmergency:
		return true
	}
	if v, ok := s.Metadata["emergency"]; ok {
		if b, ok := v.(bool); ok && b {
			return true
		}
	}
	if v, ok := s.Metadata["eventTrigger"]; ok {
		if str, ok := v.(string); ok && str == "PANIC_BUTTON" {
			return true
		}
	}
	return false
}
