package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	subject string
	payload any
}

type fakePublisher struct {
	calls   []publishCall
	failFor map[string]error // keyed by TriggeredEvent.RuleID
}

func (f *fakePublisher) Publish(ctx context.Context, subject string, payload any) error {
	if evt, ok := payload.(TriggeredEvent); ok {
		if err, failed := f.failFor[evt.RuleID]; failed {
			return err
		}
	}
	f.calls = append(f.calls, publishCall{subject: subject, payload: payload})
	return nil
}

var testChannels = Channels{
	Priority:  "telematics.priority",
	Telemetry: "telematics.telemetry",
	Events:    "telematics.events",
}

func evt(ruleID string, priority int) TriggeredEvent {
	return TriggeredEvent{VehicleID: "veh-1", RuleID: ruleID, Action: "send_email", Priority: priority}
}

func TestRouteSignal_ChannelSelection(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRouter(pub, testChannels)
	ctx := context.Background()

	require.NoError(t, r.RouteSignal(ctx, &SignalMessage{SignalID: "s1"}, false))
	require.NoError(t, r.RouteSignal(ctx, &SignalMessage{SignalID: "s2"}, true))

	require.Len(t, pub.calls, 2)
	assert.Equal(t, "telematics.telemetry", pub.calls[0].subject)
	assert.Equal(t, "telematics.priority", pub.calls[1].subject)
}

func TestRouteSignal_PublishError(t *testing.T) {
	wantErr := errors.New("nats gone")
	r := NewRouter(failingPublisher{err: wantErr}, testChannels)

	err := r.RouteSignal(context.Background(), &SignalMessage{SignalID: "s1"}, false)
	assert.ErrorIs(t, err, wantErr)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(ctx context.Context, subject string, payload any) error {
	return f.err
}

func TestRouteTriggered_CriticalBeforeNormal(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRouter(pub, testChannels)

	err := r.RouteTriggered(context.Background(), []TriggeredEvent{
		evt("normal-low", 2),
		evt("critical-a", 9),
		evt("normal-high", 6),
		evt("critical-b", 8),
	})
	require.NoError(t, err)

	require.Len(t, pub.calls, 4)

	// All critical publishes precede all normal ones.
	assert.Equal(t, "telematics.priority", pub.calls[0].subject)
	assert.Equal(t, "telematics.priority", pub.calls[1].subject)
	assert.Equal(t, "telematics.events", pub.calls[2].subject)
	assert.Equal(t, "telematics.events", pub.calls[3].subject)

	// Priority descending within each class.
	assert.Equal(t, "critical-a", pub.calls[0].payload.(TriggeredEvent).RuleID)
	assert.Equal(t, "critical-b", pub.calls[1].payload.(TriggeredEvent).RuleID)
	assert.Equal(t, "normal-high", pub.calls[2].payload.(TriggeredEvent).RuleID)
	assert.Equal(t, "normal-low", pub.calls[3].payload.(TriggeredEvent).RuleID)
}

func TestRouteTriggered_NeverBothChannels(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRouter(pub, testChannels)

	err := r.RouteTriggered(context.Background(), []TriggeredEvent{
		evt("boundary", 8),
		evt("below", 7),
	})
	require.NoError(t, err)

	seen := map[string]string{}
	for _, c := range pub.calls {
		id := c.payload.(TriggeredEvent).RuleID
		_, dup := seen[id]
		assert.False(t, dup, "event %s published twice", id)
		seen[id] = c.subject
	}
	assert.Equal(t, "telematics.priority", seen["boundary"])
	assert.Equal(t, "telematics.events", seen["below"])
}

func TestRouteTriggered_StableOrderOnTies(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRouter(pub, testChannels)

	err := r.RouteTriggered(context.Background(), []TriggeredEvent{
		evt("first", 5),
		evt("second", 5),
		evt("third", 5),
	})
	require.NoError(t, err)

	require.Len(t, pub.calls, 3)
	assert.Equal(t, "first", pub.calls[0].payload.(TriggeredEvent).RuleID)
	assert.Equal(t, "second", pub.calls[1].payload.(TriggeredEvent).RuleID)
	assert.Equal(t, "third", pub.calls[2].payload.(TriggeredEvent).RuleID)
}

func TestRouteTriggered_FailureIsolation(t *testing.T) {
	wantErr := errors.New("timeout")
	pub := &fakePublisher{failFor: map[string]error{"critical-bad": wantErr}}
	r := NewRouter(pub, testChannels)

	err := r.RouteTriggered(context.Background(), []TriggeredEvent{
		evt("critical-bad", 9),
		evt("critical-ok", 8),
		evt("normal-ok", 3),
	})

	// The two healthy events still went out.
	require.Len(t, pub.calls, 2)
	assert.Equal(t, "critical-ok", pub.calls[0].payload.(TriggeredEvent).RuleID)
	assert.Equal(t, "normal-ok", pub.calls[1].payload.(TriggeredEvent).RuleID)

	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.Contains(t, err.Error(), "critical-bad")
}

func TestRouteTriggered_EmptyInput(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRouter(pub, testChannels)

	require.NoError(t, r.RouteTriggered(context.Background(), nil))
	assert.Empty(t, pub.calls)
}
