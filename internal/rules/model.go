package rules

import (
	"time"

	"github.com/technosupport/ts-telematics/internal/telemetry"
)

type Operator string

const (
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpEquals      Operator = "equals"
	OpInRange     Operator = "in_range"
	OpOutOfRange  Operator = "out_of_range"
)

type Action string

const (
	ActionSendEmail     Action = "send_email"
	ActionSendSMS       Action = "send_sms"
	ActionSendPush      Action = "send_push"
	ActionTriggerAlarm  Action = "trigger_alarm"
	ActionCallEmergency Action = "call_emergency"
)

// Rule is a threshold condition a vehicle owner configured. Priority 8 or
// above marks the rule critical and its triggered events take the
// priority channel.
type Rule struct {
	ID         string                `json:"id"`
	VehicleID  string                `json:"vehicle_id"`
	SignalKind telemetry.SignalKind  `json:"signal_kind"`
	Operator   Operator              `json:"operator"`
	Threshold  any                   `json:"threshold"`
	Action     Action                `json:"action"`
	Priority   int                   `json:"priority"`
	Enabled    bool                  `json:"enabled"`
	Metadata   map[string]any        `json:"metadata,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// Evaluation is the per-rule audit record an evaluation call produces,
// recorded whether or not the rule fired.
type Evaluation struct {
	RuleID        string `json:"rule_id"`
	RuleName      string `json:"rule_name"`
	Triggered     bool   `json:"triggered"`
	ObservedValue any    `json:"observed_value"`
	Threshold     any    `json:"threshold"`
	Priority      int    `json:"priority"`
}

// Result aggregates one evaluation pass over a vehicle's rules.
type Result struct {
	Triggered   bool         `json:"triggered"`
	Rules       []*Rule      `json:"rules"`
	Evaluations []Evaluation `json:"evaluations"`
}

// Name returns the display name from metadata, or a fallback derived from
// the rule id.
func (r *Rule) Name() string {
	if v, ok := r.Metadata["name"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "Rule " + r.ID
}
