package events

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup suppresses repeated critical events inside a short window so a
// stuck panic button does not turn into a notification storm. Keys fall
// out of the LRU under memory pressure, which only means a duplicate
// might slip through; that is acceptable for an at-least-once pipeline.
type Dedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewDedup(maxKeys int, ttl time.Duration) *Dedup {
	c, _ := lru.New[string, time.Time](maxKeys)
	return &Dedup{cache: c, ttl: ttl}
}

// IsDuplicate reports whether key was seen inside the window, and records
// it either way.
func (d *Dedup) IsDuplicate(key string) bool {
	if seenAt, ok := d.cache.Get(key); ok {
		if time.Since(seenAt) < d.ttl {
			return true
		}
	}
	d.cache.Add(key, time.Now())
	return false
}

// DedupKey buckets occurrence time to one second to absorb micro-timing
// differences between duplicate publishes.
func DedupKey(vehicleID, ruleID string, occurredAt time.Time) string {
	return fmt.Sprintf("%s|%s|%d", vehicleID, ruleID, occurredAt.Truncate(time.Second).Unix())
}
