package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory Repository with the same conditional-update
// semantics as the SQL implementation.
type memRepo struct {
	mu            sync.Mutex
	notifications map[string]*Notification
	saveErr       error
	findErr       error
}

func newMemRepo() *memRepo {
	return &memRepo{notifications: map[string]*Notification{}}
}

func (m *memRepo) Save(ctx context.Context, n *Notification) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *memRepo) UpdateStatus(ctx context.Context, id string, status Status, sentAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return errors.New("record not found")
	}
	// Terminal states stay terminal, matching the conditional UPDATE.
	if n.Status != StatusPending && n.Status != StatusRetry {
		return errors.New("record not found")
	}
	n.Status = status
	if sentAt != nil {
		n.SentAt = sentAt
	}
	return nil
}

func (m *memRepo) IncrementAttempts(ctx context.Context, id string) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	n.Attempts++
	cp := *n
	return &cp, nil
}

func (m *memRepo) FindByStatus(ctx context.Context, status Status) ([]*Notification, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.notifications {
		if n.Status == status {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRepo) get(id string) *Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifications[id]
}

// scriptedSender returns the configured outcomes in order, then succeeds.
type scriptedSender struct {
	mu       sync.Mutex
	outcomes []error
	calls    int
}

func (s *scriptedSender) Send(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.outcomes) == 0 {
		return nil
	}
	next := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return next
}

type panicSender struct{}

func (panicSender) Send(ctx context.Context, n *Notification) error {
	panic("gateway exploded")
}

func newTestDispatcher(repo Repository, sender Sender) *Dispatcher {
	senders := map[ChannelType]Sender{ChannelEmail: sender}
	return NewDispatcher(repo, senders, 3, time.Millisecond, time.Millisecond)
}

func emailRequest() Request {
	return Request{
		VehicleID: "veh-1",
		RuleID:    "rule-1",
		Channel:   ChannelEmail,
		Recipient: "ops@example.com",
		Subject:   "Speed limit exceeded",
		Message:   "vehicle veh-1 at 132 km/h",
	}
}

func TestSend_FirstAttemptSucceeds(t *testing.T) {
	repo := newMemRepo()
	d := newTestDispatcher(repo, &scriptedSender{})

	n, err := d.Send(context.Background(), emailRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusSent, n.Status)
	assert.Equal(t, 0, n.Attempts)
	require.NotNil(t, n.SentAt)

	stored := repo.get(n.ID)
	require.NotNil(t, stored)
	assert.Equal(t, StatusSent, stored.Status)
}

func TestSend_FailureParksForRetry(t *testing.T) {
	repo := newMemRepo()
	d := newTestDispatcher(repo, &scriptedSender{outcomes: []error{errors.New("smtp timeout")}})

	n, err := d.Send(context.Background(), emailRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusRetry, n.Status)
	assert.Equal(t, 1, n.Attempts)
	assert.Nil(t, n.SentAt)
}

func TestSend_SaveErrorIsFatal(t *testing.T) {
	repo := newMemRepo()
	repo.saveErr = errors.New("db down")
	sender := &scriptedSender{}
	d := newTestDispatcher(repo, sender)

	_, err := d.Send(context.Background(), emailRequest())
	assert.Error(t, err)
	assert.Equal(t, 0, sender.calls)
}

func TestSend_UnknownChannelCountsAsFailure(t *testing.T) {
	repo := newMemRepo()
	d := NewDispatcher(repo, map[ChannelType]Sender{}, 3, time.Millisecond, time.Millisecond)

	n, err := d.Send(context.Background(), emailRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusRetry, n.Status)
	assert.Equal(t, 1, n.Attempts)
}

func TestRetry_FailsTwiceThenSucceeds(t *testing.T) {
	repo := newMemRepo()
	sender := &scriptedSender{outcomes: []error{
		errors.New("timeout"),
		errors.New("timeout"),
	}}
	d := newTestDispatcher(repo, sender)
	ctx := context.Background()

	n, err := d.Send(ctx, emailRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusRetry, n.Status)

	d.RetryPending(ctx)
	assert.Equal(t, StatusRetry, repo.get(n.ID).Status)
	assert.Equal(t, 2, repo.get(n.ID).Attempts)

	d.RetryPending(ctx)
	final := repo.get(n.ID)
	assert.Equal(t, StatusSent, final.Status)
	assert.Equal(t, 2, final.Attempts)
	assert.NotNil(t, final.SentAt)
}

func TestRetry_ExhaustedAttemptsEndFailed(t *testing.T) {
	repo := newMemRepo()
	sender := &scriptedSender{outcomes: []error{
		errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down"),
	}}
	d := newTestDispatcher(repo, sender)
	ctx := context.Background()

	n, err := d.Send(ctx, emailRequest())
	require.NoError(t, err)

	d.RetryPending(ctx)
	d.RetryPending(ctx)

	final := repo.get(n.ID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, 3, final.Attempts)

	// A failed notification never re-enters the sweep.
	calls := sender.calls
	d.RetryPending(ctx)
	assert.Equal(t, calls, sender.calls)
	assert.Equal(t, 3, repo.get(n.ID).Attempts)
}

func TestRetry_SkipsRecordsAtAttemptCap(t *testing.T) {
	repo := newMemRepo()
	// Stale row: still marked retry but already at the cap.
	repo.notifications["n1"] = &Notification{
		ID: "n1", Channel: ChannelEmail, Status: StatusRetry,
		Attempts: 3, MaxAttempts: 3,
	}
	sender := &scriptedSender{}
	d := newTestDispatcher(repo, sender)

	d.RetryPending(context.Background())
	assert.Equal(t, 0, sender.calls)
}

func TestRetry_StoreErrorAbortsPass(t *testing.T) {
	repo := newMemRepo()
	repo.findErr = errors.New("db down")
	sender := &scriptedSender{}
	d := newTestDispatcher(repo, sender)

	d.RetryPending(context.Background())
	assert.Equal(t, 0, sender.calls)
}

func TestAttemptSend_SenderPanicCountsAsFailure(t *testing.T) {
	repo := newMemRepo()
	d := newTestDispatcher(repo, panicSender{})

	n, err := d.Send(context.Background(), emailRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusRetry, n.Status)
	assert.Equal(t, 1, n.Attempts)
}

func TestSendBulk_IsolatesFailures(t *testing.T) {
	repo := newMemRepo()
	sender := &scriptedSender{outcomes: []error{errors.New("timeout")}}
	d := newTestDispatcher(repo, sender)

	results := d.SendBulk(context.Background(), []Request{
		emailRequest(), emailRequest(), emailRequest(),
	})

	// All three are created; the first delivery fails but stays in the batch.
	require.Len(t, results, 3)
	assert.Equal(t, StatusRetry, results[0].Status)
	assert.Equal(t, StatusSent, results[1].Status)
	assert.Equal(t, StatusSent, results[2].Status)
}

func TestSendBulk_StopsOnContextCancel(t *testing.T) {
	repo := newMemRepo()
	d := newTestDispatcher(repo, &scriptedSender{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := d.SendBulk(ctx, []Request{emailRequest(), emailRequest()})
	assert.Len(t, results, 1)
}

func TestTerminalStateCannotBeResurrected(t *testing.T) {
	repo := newMemRepo()
	d := newTestDispatcher(repo, &scriptedSender{})

	n, err := d.Send(context.Background(), emailRequest())
	require.NoError(t, err)
	require.Equal(t, StatusSent, n.Status)

	err = repo.UpdateStatus(context.Background(), n.ID, StatusRetry, nil)
	assert.Error(t, err)
	assert.Equal(t, StatusSent, repo.get(n.ID).Status)
}
