package notify

import (
	"time"
)

type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSMS     ChannelType = "sms"
	ChannelPush    ChannelType = "push"
	ChannelWebhook ChannelType = "webhook"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusRetry   Status = "retry"
)

// Notification is one delivery the dispatcher owns until it reaches a
// terminal state. Attempts count failures only: a notification sent on
// the third try finishes with Attempts == 2.
type Notification struct {
	ID          string         `json:"id"`
	VehicleID   string         `json:"vehicle_id"`
	RuleID      string         `json:"rule_id"`
	Channel     ChannelType    `json:"channel"`
	Recipient   string         `json:"recipient"`
	Subject     string         `json:"subject,omitempty"`
	Message     string         `json:"message"`
	Status      Status         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	CreatedAt   time.Time      `json:"created_at"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Request describes a notification to create and send.
type Request struct {
	VehicleID string         `json:"vehicle_id"`
	RuleID    string         `json:"rule_id"`
	Channel   ChannelType    `json:"channel"`
	Recipient string         `json:"recipient"`
	Subject   string         `json:"subject,omitempty"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
