package rules

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/technosupport/ts-telematics/internal/cache"
	"github.com/technosupport/ts-telematics/internal/events"
	"github.com/technosupport/ts-telematics/internal/telemetry"
)

var (
	metricCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telematics_rule_cache_hits_total",
		Help: "Rule resolutions served from cache",
	})

	metricCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telematics_rule_cache_misses_total",
		Help: "Rule resolutions that fell back to the durable store",
	})

	metricEvaluations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "telematics_rule_evaluation_duration_ms",
		Help:    "Full rule evaluation pass duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000},
	})

	metricTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telematics_rules_triggered_total",
		Help: "Rules that fired across all evaluations",
	})
)

// Repository is the durable rule store. FindByVehicleID returns only
// enabled rules, ordered by descending priority.
type Repository interface {
	FindByVehicleID(ctx context.Context, vehicleID string) ([]*Rule, error)
	GetByID(ctx context.Context, id string) (*Rule, error)
	Save(ctx context.Context, r *Rule) error
	Update(ctx context.Context, r *Rule) error
}

// EventRouter fans triggered events out to the bus.
type EventRouter interface {
	RouteTriggered(ctx context.Context, evts []events.TriggeredEvent) error
}

// Service resolves a vehicle's rules cache-aside and evaluates them
// against incoming signals.
type Service struct {
	Repo   Repository
	Store  *cache.Store
	Router EventRouter

	ruleTTL   time.Duration
	warmupTTL time.Duration
}

func NewService(repo Repository, store *cache.Store, router EventRouter, ruleTTL, warmupTTL time.Duration) *Service {
	return &Service{
		Repo:      repo,
		Store:     store,
		Router:    router,
		ruleTTL:   ruleTTL,
		warmupTTL: warmupTTL,
	}
}

// ResolveRules returns the vehicle's active rules, cache first. A cache
// error is treated as a miss and never fails the call: the durable store
// is the fallback of record. Non-empty store results are written back
// with the rule TTL.
func (s *Service) ResolveRules(ctx context.Context, vehicleID string) ([]*Rule, error) {
	key := cache.RuleKey(vehicleID)

	var cached []*Rule
	hit, err := s.Store.Get(ctx, key, &cached)
	if err != nil {
		log.Printf("[WARN] Rule Cache: read for vehicle %s failed, querying store: %v", vehicleID, err)
	}
	if hit && len(cached) > 0 {
		metricCacheHits.Inc()
		return cached, nil
	}
	metricCacheMisses.Inc()

	found, err := s.Repo.FindByVehicleID(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("resolve rules for vehicle %s: %w", vehicleID, err)
	}

	if len(found) > 0 {
		if err := s.Store.Set(ctx, key, found, s.ruleTTL); err != nil {
			log.Printf("[WARN] Rule Cache: write for vehicle %s failed: %v", vehicleID, err)
		}
	}

	return found, nil
}

// Evaluate runs every enabled rule matching the signal kind against the
// observed value. The result always carries the full per-rule audit list;
// triggered rules are additionally routed to the bus. Errors here are not
// best-effort because this step gates notification dispatch.
func (s *Service) Evaluate(ctx context.Context, vehicleID string, kind telemetry.SignalKind, value any) (*Result, error) {
	start := time.Now()
	defer func() {
		metricEvaluations.Observe(float64(time.Since(start).Milliseconds()))
	}()

	resolved, err := s.ResolveRules(ctx, vehicleID)
	if err != nil {
		log.Printf("[ERROR] Rule Service: resolving rules for vehicle %s: %v", vehicleID, err)
		return nil, err
	}
	if len(resolved) == 0 {
		return &Result{Rules: []*Rule{}, Evaluations: []Evaluation{}}, nil
	}

	result := &Result{Rules: []*Rule{}, Evaluations: []Evaluation{}}
	for _, r := range resolved {
		if !r.Enabled || r.SignalKind != kind {
			continue
		}

		triggered := EvaluateCondition(r.Operator, value, r.Threshold)
		result.Evaluations = append(result.Evaluations, Evaluation{
			RuleID:        r.ID,
			RuleName:      r.Name(),
			Triggered:     triggered,
			ObservedValue: value,
			Threshold:     r.Threshold,
			Priority:      r.Priority,
		})

		if triggered {
			result.Rules = append(result.Rules, r)
			metricTriggered.Inc()
			log.Printf("[WARN] Rule Service: rule %s triggered for vehicle %s (priority %d)",
				r.ID, vehicleID, r.Priority)
		}
	}

	result.Triggered = len(result.Rules) > 0
	if !result.Triggered {
		return result, nil
	}

	evts := make([]events.TriggeredEvent, 0, len(result.Rules))
	now := time.Now().UTC()
	for _, r := range result.Rules {
		evts = append(evts, events.TriggeredEvent{
			VehicleID:   vehicleID,
			RuleID:      r.ID,
			Action:      string(r.Action),
			Priority:    r.Priority,
			SignalValue: value,
			Timestamp:   now,
			Metadata:    r.Metadata,
		})
	}

	if err := s.Router.RouteTriggered(ctx, evts); err != nil {
		log.Printf("[ERROR] Rule Service: routing triggered events for vehicle %s: %v", vehicleID, err)
		return result, fmt.Errorf("route triggered events: %w", err)
	}

	return result, nil
}

// Invalidate drops both cache entries for the vehicle. Called whenever a
// rule is created or updated so the next evaluation sees fresh state.
func (s *Service) Invalidate(ctx context.Context, vehicleID string) error {
	return s.Store.Delete(ctx, cache.RuleKey(vehicleID), cache.StateKey(vehicleID))
}

// Warmup pre-populates the rule cache for the given vehicles with the
// shorter warm-up TTL. Runs fully concurrent; a failed vehicle is logged
// and does not disturb the others.
func (s *Service) Warmup(ctx context.Context, vehicleIDs []string, supplier func(ctx context.Context, vehicleID string) ([]*Rule, error)) {
	log.Printf("Rule Cache: warming up %d vehicles", len(vehicleIDs))

	var wg sync.WaitGroup
	for _, id := range vehicleIDs {
		wg.Add(1)
		go func(vehicleID string) {
			defer wg.Done()
			found, err := supplier(ctx, vehicleID)
			if err != nil {
				log.Printf("[ERROR] Rule Cache: warmup for vehicle %s failed: %v", vehicleID, err)
				return
			}
			if err := s.Store.Set(ctx, cache.RuleKey(vehicleID), found, s.warmupTTL); err != nil {
				log.Printf("[ERROR] Rule Cache: warmup write for vehicle %s failed: %v", vehicleID, err)
			}
		}(id)
	}
	wg.Wait()

	log.Printf("Rule Cache: warmup completed")
}

// SaveRule persists a new or updated rule and invalidates the vehicle's
// cache entries so stale rules never outlive an edit by more than one
// read.
func (s *Service) SaveRule(ctx context.Context, r *Rule, isNew bool) error {
	var err error
	if isNew {
		err = s.Repo.Save(ctx, r)
	} else {
		err = s.Repo.Update(ctx, r)
	}
	if err != nil {
		return err
	}

	if err := s.Invalidate(ctx, r.VehicleID); err != nil {
		log.Printf("[WARN] Rule Service: cache invalidation for vehicle %s failed: %v", r.VehicleID, err)
	}
	return nil
}
