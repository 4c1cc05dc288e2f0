package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-telematics/internal/events"
	"github.com/technosupport/ts-telematics/internal/notify"
	"github.com/technosupport/ts-telematics/internal/rules"
	"github.com/technosupport/ts-telematics/internal/telemetry"
)

// The priority subject carries both critical raw signals and critical
// triggered events. Each consumer recognizes its own envelope by shape
// (signal_id vs rule_id) and quietly skips the rest.

// EvalConsumer feeds ingested signals into rule evaluation.
type EvalConsumer struct {
	Rules *rules.Service
}

func NewEvalConsumer(svc *rules.Service) *EvalConsumer {
	return &EvalConsumer{Rules: svc}
}

// Start subscribes to the telemetry and priority subjects with a shared
// queue group so horizontally scaled evaluators split the work.
func (c *EvalConsumer) Start(conn *nats.Conn, channels events.Channels) error {
	handler := func(msg *nats.Msg) {
		c.Handle(context.Background(), msg.Data)
	}

	for _, subject := range []string{channels.Telemetry, channels.Priority} {
		if _, err := conn.QueueSubscribe(subject, "rule-evaluators", handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
	}
	return nil
}

func (c *EvalConsumer) Handle(ctx context.Context, raw []byte) {
	var msg events.SignalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[ERROR] Eval Consumer: undecodable message: %v", err)
		return
	}
	if msg.SignalID == "" {
		// Not a signal envelope; a triggered event sharing the priority subject.
		return
	}

	if _, err := c.Rules.Evaluate(ctx, msg.VehicleID, telemetry.SignalKind(msg.Kind), msg.Value); err != nil {
		log.Printf("[ERROR] Eval Consumer: evaluating signal %s for vehicle %s: %v",
			msg.SignalID, msg.VehicleID, err)
	}
}

// NotifyConsumer turns triggered-rule events into notification dispatches.
type NotifyConsumer struct {
	Dispatcher *notify.Dispatcher
	Dedup      *events.Dedup

	// Fallback recipients when the rule metadata names none.
	DefaultRecipient string
	EmergencyNumber  string
	AlarmWebhookURL  string
}

// Start subscribes to the events and priority subjects.
func (c *NotifyConsumer) Start(conn *nats.Conn, channels events.Channels) error {
	handler := func(msg *nats.Msg) {
		c.Handle(context.Background(), msg.Data)
	}

	for _, subject := range []string{channels.Events, channels.Priority} {
		if _, err := conn.QueueSubscribe(subject, "notifiers", handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
	}
	return nil
}

func (c *NotifyConsumer) Handle(ctx context.Context, raw []byte) {
	var evt events.TriggeredEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		log.Printf("[ERROR] Notify Consumer: undecodable message: %v", err)
		return
	}
	if evt.RuleID == "" || evt.Action == "" {
		// A raw signal sharing the priority subject.
		return
	}

	if c.Dedup != nil && evt.Priority >= events.CriticalPriority {
		if c.Dedup.IsDuplicate(events.DedupKey(evt.VehicleID, evt.RuleID, evt.Timestamp)) {
			log.Printf("[DEBUG] Notify Consumer: duplicate critical event for vehicle %s rule %s suppressed",
				evt.VehicleID, evt.RuleID)
			return
		}
	}

	req, err := c.buildRequest(&evt)
	if err != nil {
		log.Printf("[ERROR] Notify Consumer: cannot build notification for rule %s: %v", evt.RuleID, err)
		return
	}

	if _, err := c.Dispatcher.Send(ctx, req); err != nil {
		log.Printf("[ERROR] Notify Consumer: dispatch for vehicle %s rule %s: %v",
			evt.VehicleID, evt.RuleID, err)
	}
}

// buildRequest maps the rule action onto a delivery channel and resolves
// the recipient: rule metadata first, configured fallbacks second.
func (c *NotifyConsumer) buildRequest(evt *events.TriggeredEvent) (notify.Request, error) {
	var channel notify.ChannelType
	recipient := metadataString(evt.Metadata, "recipient")

	switch rules.Action(evt.Action) {
	case rules.ActionSendEmail:
		channel = notify.ChannelEmail
		if recipient == "" {
			recipient = c.DefaultRecipient
		}
	case rules.ActionSendSMS:
		channel = notify.ChannelSMS
		if recipient == "" {
			recipient = c.DefaultRecipient
		}
	case rules.ActionSendPush:
		channel = notify.ChannelPush
		if recipient == "" {
			recipient = c.DefaultRecipient
		}
	case rules.ActionTriggerAlarm:
		channel = notify.ChannelWebhook
		if recipient == "" {
			recipient = c.AlarmWebhookURL
		}
	case rules.ActionCallEmergency:
		channel = notify.ChannelSMS
		if recipient == "" {
			recipient = c.EmergencyNumber
		}
	default:
		return notify.Request{}, fmt.Errorf("unknown rule action %q", evt.Action)
	}

	if recipient == "" {
		return notify.Request{}, fmt.Errorf("no recipient for action %q", evt.Action)
	}

	return notify.Request{
		VehicleID: evt.VehicleID,
		RuleID:    evt.RuleID,
		Channel:   channel,
		Recipient: recipient,
		Subject:   fmt.Sprintf("Vehicle %s alert", evt.VehicleID),
		Message: fmt.Sprintf("Rule %s triggered for vehicle %s (observed value %v)",
			evt.RuleID, evt.VehicleID, evt.SignalValue),
		Metadata: evt.Metadata,
	}, nil
}

func metadataString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
