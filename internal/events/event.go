package events

import (
	"time"
)

// SignalMessage is the bus envelope for an ingested telemetry signal.
// Coordinates ride along only on the normal stream; the priority stream
// carries the minimum needed to react fast.
type SignalMessage struct {
	SignalID  string         `json:"signal_id"`
	VehicleID string         `json:"vehicle_id"`
	Kind      string         `json:"kind"`
	Value     any            `json:"value,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Latitude  *float64       `json:"latitude,omitempty"`
	Longitude *float64       `json:"longitude,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TriggeredEvent is the bus envelope for a rule that fired.
type TriggeredEvent struct {
	VehicleID   string         `json:"vehicle_id"`
	RuleID      string         `json:"rule_id"`
	Action      string         `json:"action"`
	Priority    int            `json:"priority"`
	SignalValue any            `json:"signal_value,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CriticalPriority is the threshold at or above which a triggered event
// takes the priority channel.
const CriticalPriority = 8
