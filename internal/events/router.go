package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telematics_events_published_total",
		Help: "Events published to the bus by channel class",
	}, []string{"channel"})

	metricPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telematics_events_publish_failures_total",
		Help: "Publish failures by channel class",
	}, []string{"channel"})
)

// Publisher is the physical bus write. The NATS implementation lives in
// nats.go; tests inject a fake.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Channels holds the three subject names the router writes to.
type Channels struct {
	Priority  string
	Telemetry string
	Events    string
}

// Router classifies outgoing traffic and fans it out to the priority or
// normal channel. It never publishes the same event to both.
type Router struct {
	pub      Publisher
	channels Channels
}

func NewRouter(pub Publisher, channels Channels) *Router {
	return &Router{pub: pub, channels: channels}
}

// RouteSignal publishes an ingested signal: critical ones go to the
// priority subject, everything else to the telemetry stream.
func (r *Router) RouteSignal(ctx context.Context, msg *SignalMessage, critical bool) error {
	subject := r.channels.Telemetry
	class := "telemetry"
	if critical {
		subject = r.channels.Priority
		class = "priority"
	}

	if err := r.pub.Publish(ctx, subject, msg); err != nil {
		metricPublishFailures.WithLabelValues(class).Inc()
		return fmt.Errorf("publish signal %s to %s: %w", msg.SignalID, subject, err)
	}
	metricPublished.WithLabelValues(class).Inc()
	return nil
}

// RouteTriggered partitions triggered events into critical (priority >= 8)
// and normal, then publishes all critical events before any normal one.
// Within each class events go out in priority-descending order, ties kept
// in their original order. A failed publish is logged and the remaining
// events are still attempted; the joined error reports every failure so
// callers can surface partial delivery if they care.
func (r *Router) RouteTriggered(ctx context.Context, evts []TriggeredEvent) error {
	if len(evts) == 0 {
		return nil
	}

	sorted := make([]TriggeredEvent, len(evts))
	copy(sorted, evts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	var critical, normal []TriggeredEvent
	for _, e := range sorted {
		if e.Priority >= CriticalPriority {
			critical = append(critical, e)
		} else {
			normal = append(normal, e)
		}
	}

	var errs []error
	publish := func(batch []TriggeredEvent, subject, class string) {
		for _, e := range batch {
			if err := r.pub.Publish(ctx, subject, e); err != nil {
				metricPublishFailures.WithLabelValues(class).Inc()
				log.Printf("[ERROR] Event Router: publish rule %s for vehicle %s to %s failed: %v",
					e.RuleID, e.VehicleID, subject, err)
				errs = append(errs, fmt.Errorf("rule %s: %w", e.RuleID, err))
				continue
			}
			metricPublished.WithLabelValues(class).Inc()
		}
	}

	publish(critical, r.channels.Priority, "priority")
	publish(normal, r.channels.Events, "events")

	if len(critical) > 0 {
		log.Printf("[WARN] Event Router: %d critical events published for vehicle %s",
			len(critical), critical[0].VehicleID)
	}

	return errors.Join(errs...)
}
