package pipeline

import (
	"context"
	"math/rand"
	"time"

	"github.com/technosupport/ts-telematics/internal/notify"
)

// RetryScheduler periodically reconciles notifications stuck in pending
// or retry.
type RetryScheduler struct {
	Dispatcher *notify.Dispatcher
	Interval   time.Duration
}

// Start runs the reconciliation loop until ctx is cancelled. Startup is
// jittered so a fleet of restarted instances does not sweep the store in
// lockstep.
func (s *RetryScheduler) Start(ctx context.Context) {
	go func() {
		select {
		case <-time.After(time.Duration(rand.Intn(10)) * time.Second):
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		s.Dispatcher.RetryPending(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Dispatcher.RetryPending(ctx)
			}
		}
	}()
}
