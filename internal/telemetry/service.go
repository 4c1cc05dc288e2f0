package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/technosupport/ts-telematics/internal/cache"
	"github.com/technosupport/ts-telematics/internal/events"
)

var (
	metricIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telematics_signals_ingested_total",
		Help: "Signals accepted by the ingestion front-end, by kind",
	}, []string{"kind", "critical"})

	metricRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telematics_signals_rejected_total",
		Help: "Signals rejected by validation",
	})

	metricSideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telematics_ingest_side_effect_failures_total",
		Help: "Best-effort side effect failures by stage",
	}, []string{"stage"})
)

// SignalStore is the durable signal store.
type SignalStore interface {
	Save(ctx context.Context, s *Signal) error
	FindByVehicleID(ctx context.Context, vehicleID string, limit int) ([]*Signal, error)
}

// SignalRouter publishes an ingested signal to the bus.
type SignalRouter interface {
	RouteSignal(ctx context.Context, msg *events.SignalMessage, critical bool) error
}

// Service validates and persists inbound signals, then kicks off the two
// best-effort side effects: vehicle-state cache merge and bus routing.
type Service struct {
	Repo   SignalStore
	Store  *cache.Store
	Router SignalRouter

	stateTTL  time.Duration
	chunkSize int

	sideEffects sync.WaitGroup
}

func NewService(repo SignalStore, store *cache.Store, router SignalRouter, stateTTL time.Duration, chunkSize int) *Service {
	if chunkSize <= 0 {
		chunkSize = 50
	}
	return &Service{
		Repo:      repo,
		Store:     store,
		Router:    router,
		stateTTL:  stateTTL,
		chunkSize: chunkSize,
	}
}

// Ingest validates the signal, fills identity and timestamp defaults, and
// persists it. Persistence errors are fatal for the call; the cache merge
// and the bus publish run detached afterwards and can only ever show up
// in logs. The caller gets the persisted signal back as soon as the write
// lands.
func (s *Service) Ingest(ctx context.Context, sig *Signal) (*Signal, error) {
	if err := Validate(sig); err != nil {
		metricRejected.Inc()
		return nil, err
	}

	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}
	if sig.Metadata == nil {
		sig.Metadata = map[string]any{}
	}

	if err := s.Repo.Save(ctx, sig); err != nil {
		log.Printf("[ERROR] Ingest: persisting signal for vehicle %s: %v", sig.VehicleID, err)
		return nil, fmt.Errorf("persist signal: %w", err)
	}

	critical := IsCritical(sig)
	metricIngested.WithLabelValues(string(sig.Kind), fmt.Sprintf("%t", critical)).Inc()

	// Side effects run off the request path on a fresh context so a
	// cancelled caller cannot abort them, and their failures stay local.
	saved := *sig
	s.async(func() { s.updateVehicleState(context.Background(), &saved) })
	s.async(func() { s.routeSignal(context.Background(), &saved, critical) })

	return sig, nil
}

func (s *Service) async(fn func()) {
	s.sideEffects.Add(1)
	go func() {
		defer s.sideEffects.Done()
		fn()
	}()
}

// Flush blocks until every in-flight side effect has finished. Shutdown
// calls it so the last cache writes and publishes land; tests use it to
// observe the asynchronous half of Ingest.
func (s *Service) Flush() {
	s.sideEffects.Wait()
}

// IngestBatch processes signals in fixed-size chunks with bounded
// parallelism inside each chunk. Failed items are logged and skipped; the
// returned slice holds only the signals that persisted.
func (s *Service) IngestBatch(ctx context.Context, sigs []*Signal) []*Signal {
	log.Printf("Ingest: processing batch of %d signals", len(sigs))

	processed := make([]*Signal, 0, len(sigs))
	var mu sync.Mutex

	for start := 0; start < len(sigs); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(sigs) {
			end = len(sigs)
		}

		var wg sync.WaitGroup
		for _, sig := range sigs[start:end] {
			wg.Add(1)
			go func(sig *Signal) {
				defer wg.Done()
				saved, err := s.Ingest(ctx, sig)
				if err != nil {
					log.Printf("[ERROR] Ingest: batch item failed: %v", err)
					return
				}
				mu.Lock()
				processed = append(processed, saved)
				mu.Unlock()
			}(sig)
		}
		wg.Wait()
	}

	return processed
}

// Signals returns the most recent persisted signals for a vehicle.
func (s *Service) Signals(ctx context.Context, vehicleID string, limit int) ([]*Signal, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.Repo.FindByVehicleID(ctx, vehicleID, limit)
}

// State reads the cached vehicle state. A miss returns nil without error.
func (s *Service) State(ctx context.Context, vehicleID string) (*VehicleState, error) {
	var state VehicleState
	hit, err := s.Store.Get(ctx, cache.StateKey(vehicleID), &state)
	if err != nil {
		return nil, err
	}
	if !hit {
		return nil, nil
	}
	return &state, nil
}

// updateVehicleState merges the signal into the cached state. Fields absent
// from this signal keep their previous value.
func (s *Service) updateVehicleState(ctx context.Context, sig *Signal) {
	key := cache.StateKey(sig.VehicleID)

	var state VehicleState
	if _, err := s.Store.Get(ctx, key, &state); err != nil {
		log.Printf("[WARN] Ingest: could not read vehicle state for %s: %v", sig.VehicleID, err)
	}

	state.LastSignalTime = sig.Timestamp
	state.LastSignalKind = sig.Kind
	if sig.Latitude != nil {
		state.Latitude = sig.Latitude
	}
	if sig.Longitude != nil {
		state.Longitude = sig.Longitude
	}
	if speed, ok := extractSpeed(sig.Value); ok {
		state.Speed = &speed
	}
	state.LastUpdate = time.Now().UTC()

	if err := s.Store.Set(ctx, key, &state, s.stateTTL); err != nil {
		metricSideEffectFailures.WithLabelValues("state_cache").Inc()
		log.Printf("[WARN] Ingest: could not update vehicle state for %s: %v", sig.VehicleID, err)
	}
}

func (s *Service) routeSignal(ctx context.Context, sig *Signal, critical bool) {
	msg := &events.SignalMessage{
		SignalID:  sig.ID,
		VehicleID: sig.VehicleID,
		Kind:      string(sig.Kind),
		Value:     sig.Value,
		Timestamp: sig.Timestamp,
		Metadata:  sig.Metadata,
	}
	if !critical {
		// Coordinates only ride the normal stream.
		msg.Latitude = sig.Latitude
		msg.Longitude = sig.Longitude
	}

	if err := s.Router.RouteSignal(ctx, msg, critical); err != nil {
		metricSideEffectFailures.WithLabelValues("route").Inc()
		log.Printf("[WARN] Ingest: could not publish signal %s: %v", sig.ID, err)
		return
	}

	if critical {
		log.Printf("[WARN] Ingest: CRITICAL signal published to priority channel for vehicle %s", sig.VehicleID)
	}
}

func extractSpeed(v any) (float64, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	switch n := m["speed"].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
