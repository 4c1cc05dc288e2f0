package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// Sender delivers one notification over a single channel. A nil return
// means delivered; any error drives the retry state machine. Senders are
// the pluggable edge of the pipeline: tests inject scripted fakes.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// EmailSender delivers over plain SMTP.
type EmailSender struct {
	Addr string // host:port
	From string
}

func (s *EmailSender) Send(ctx context.Context, n *Notification) error {
	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", s.From)
	fmt.Fprintf(&body, "To: %s\r\n", n.Recipient)
	fmt.Fprintf(&body, "Subject: %s\r\n\r\n", n.Subject)
	body.WriteString(n.Message)

	if err := smtp.SendMail(s.Addr, nil, s.From, []string{n.Recipient}, []byte(body.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", n.Recipient, err)
	}
	return nil
}

// SMSSender posts to an SMS gateway.
type SMSSender struct {
	GatewayURL string
	Client     *http.Client
}

func (s *SMSSender) Send(ctx context.Context, n *Notification) error {
	payload := map[string]any{
		"to":      n.Recipient,
		"message": n.Message,
	}
	return postJSON(ctx, s.client(), s.GatewayURL, payload)
}

func (s *SMSSender) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

// PushSender posts to a push gateway (FCM-style device token target).
type PushSender struct {
	GatewayURL string
	Client     *http.Client
}

func (s *PushSender) Send(ctx context.Context, n *Notification) error {
	payload := map[string]any{
		"token": n.Recipient,
		"title": n.Subject,
		"body":  n.Message,
	}
	return postJSON(ctx, s.client(), s.GatewayURL, payload)
}

func (s *PushSender) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

// WebhookSender posts the full event context to the recipient URL. The
// payload carries vehicle and rule identifiers plus metadata so the
// receiving system can correlate without a follow-up query.
type WebhookSender struct {
	Client *http.Client
}

func (s *WebhookSender) Send(ctx context.Context, n *Notification) error {
	payload := map[string]any{
		"vehicle_id": n.VehicleID,
		"rule_id":    n.RuleID,
		"message":    n.Message,
		"metadata":   n.Metadata,
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return postJSON(ctx, client, n.Recipient, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}
