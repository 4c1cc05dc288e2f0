package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telematics_notifications_total",
		Help: "Notification state transitions by channel and outcome",
	}, []string{"channel", "outcome"})
)

var (
	// ErrUnknownChannel means no sender is registered for the channel type.
	ErrUnknownChannel = errors.New("unknown notification channel")
)

// Repository is the durable notification store. UpdateStatus must be
// conditional: it only moves notifications still in a non-terminal state,
// so a racing attempt cannot resurrect one that already finished.
type Repository interface {
	Save(ctx context.Context, n *Notification) error
	UpdateStatus(ctx context.Context, id string, status Status, sentAt *time.Time) error
	IncrementAttempts(ctx context.Context, id string) (*Notification, error)
	FindByStatus(ctx context.Context, status Status) ([]*Notification, error)
}

// Dispatcher owns every notification from creation to terminal state. It
// drives the bounded-retry machine: pending -> sent, or pending -> retry
// (repeated) -> failed once attempts reach the cap.
type Dispatcher struct {
	Repo    Repository
	Senders map[ChannelType]Sender

	maxAttempts int
	retryDelay  time.Duration
	bulkDelay   time.Duration
}

func NewDispatcher(repo Repository, senders map[ChannelType]Sender, maxAttempts int, retryDelay, bulkDelay time.Duration) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Dispatcher{
		Repo:        repo,
		Senders:     senders,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		bulkDelay:   bulkDelay,
	}
}

// Send creates the notification record and makes the first delivery
// attempt. The returned notification reflects the state after that
// attempt. Persistence errors on the initial save are fatal; delivery
// failures are not, they just park the record for retry.
func (d *Dispatcher) Send(ctx context.Context, req Request) (*Notification, error) {
	n := &Notification{
		ID:          uuid.New().String(),
		VehicleID:   req.VehicleID,
		RuleID:      req.RuleID,
		Channel:     req.Channel,
		Recipient:   req.Recipient,
		Subject:     req.Subject,
		Message:     req.Message,
		Status:      StatusPending,
		Attempts:    0,
		MaxAttempts: d.maxAttempts,
		CreatedAt:   time.Now().UTC(),
		Metadata:    req.Metadata,
	}

	if err := d.Repo.Save(ctx, n); err != nil {
		log.Printf("[ERROR] Dispatcher: saving notification for vehicle %s: %v", req.VehicleID, err)
		return nil, fmt.Errorf("save notification: %w", err)
	}

	d.AttemptSend(ctx, n)
	return n, nil
}

// AttemptSend makes one delivery attempt and applies the resulting state
// transition. Sender panics or errors never propagate; they count as a
// failed attempt. Returns true when the notification was delivered.
func (d *Dispatcher) AttemptSend(ctx context.Context, n *Notification) bool {
	log.Printf("Dispatcher: sending %s notification %s (attempt %d/%d)",
		n.Channel, n.ID, n.Attempts+1, n.MaxAttempts)

	sender, ok := d.Senders[n.Channel]
	var err error
	if !ok {
		log.Printf("[WARN] Dispatcher: %v: %s", ErrUnknownChannel, n.Channel)
		err = ErrUnknownChannel
	} else {
		err = d.deliver(ctx, sender, n)
	}

	if err == nil {
		now := time.Now().UTC()
		if uerr := d.Repo.UpdateStatus(ctx, n.ID, StatusSent, &now); uerr != nil {
			log.Printf("[ERROR] Dispatcher: marking notification %s sent: %v", n.ID, uerr)
			return false
		}
		n.Status = StatusSent
		n.SentAt = &now
		metricNotifications.WithLabelValues(string(n.Channel), "sent").Inc()
		log.Printf("Dispatcher: notification %s sent", n.ID)
		return true
	}

	log.Printf("[WARN] Dispatcher: notification %s delivery failed: %v", n.ID, err)
	d.handleFailedAttempt(ctx, n)
	return false
}

// deliver isolates the sender call so a panicking sender is just another
// failed attempt.
func (d *Dispatcher) deliver(ctx context.Context, sender Sender, n *Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return sender.Send(ctx, n)
}

func (d *Dispatcher) handleFailedAttempt(ctx context.Context, n *Notification) {
	updated, err := d.Repo.IncrementAttempts(ctx, n.ID)
	if err != nil {
		log.Printf("[ERROR] Dispatcher: incrementing attempts for %s: %v", n.ID, err)
		return
	}
	n.Attempts = updated.Attempts

	if updated.Attempts >= updated.MaxAttempts {
		if err := d.Repo.UpdateStatus(ctx, n.ID, StatusFailed, nil); err != nil {
			log.Printf("[ERROR] Dispatcher: marking notification %s failed: %v", n.ID, err)
			return
		}
		n.Status = StatusFailed
		metricNotifications.WithLabelValues(string(n.Channel), "failed").Inc()
		log.Printf("[ERROR] Dispatcher: notification %s failed after %d attempts", n.ID, updated.MaxAttempts)
		return
	}

	if err := d.Repo.UpdateStatus(ctx, n.ID, StatusRetry, nil); err != nil {
		log.Printf("[ERROR] Dispatcher: marking notification %s for retry: %v", n.ID, err)
		return
	}
	n.Status = StatusRetry
	metricNotifications.WithLabelValues(string(n.Channel), "retry").Inc()
	log.Printf("[WARN] Dispatcher: notification %s will retry (%d/%d)", n.ID, updated.Attempts, updated.MaxAttempts)
}

// RetryPending re-attempts every notification still in pending or retry
// with attempts left, pacing deliveries with a fixed delay so external
// channel quotas survive the sweep. Store errors abort the pass with a
// log; individual delivery failures do not.
func (d *Dispatcher) RetryPending(ctx context.Context) {
	log.Printf("Dispatcher: checking for pending notifications to retry")

	pending, err := d.Repo.FindByStatus(ctx, StatusPending)
	if err != nil {
		log.Printf("[ERROR] Dispatcher: listing pending notifications: %v", err)
		return
	}
	retrying, err := d.Repo.FindByStatus(ctx, StatusRetry)
	if err != nil {
		log.Printf("[ERROR] Dispatcher: listing retry notifications: %v", err)
		return
	}

	all := append(pending, retrying...)
	log.Printf("Dispatcher: found %d notifications to process", len(all))

	for _, n := range all {
		if n.Attempts >= n.MaxAttempts {
			continue
		}
		d.AttemptSend(ctx, n)
		select {
		case <-time.After(d.retryDelay):
		case <-ctx.Done():
			return
		}
	}
}

// SendBulk creates and sends each request sequentially with a small
// pacing delay. A failed request is logged and dropped from the returned
// slice rather than aborting the batch.
func (d *Dispatcher) SendBulk(ctx context.Context, reqs []Request) []*Notification {
	log.Printf("Dispatcher: sending %d bulk notifications", len(reqs))

	results := make([]*Notification, 0, len(reqs))
	for _, req := range reqs {
		n, err := d.Send(ctx, req)
		if err != nil {
			log.Printf("[ERROR] Dispatcher: bulk send for vehicle %s failed: %v", req.VehicleID, err)
		} else {
			results = append(results, n)
		}

		select {
		case <-time.After(d.bulkDelay):
		case <-ctx.Done():
			return results
		}
	}
	return results
}
