package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a thin JSON layer over Redis shared by the rule cache and the
// vehicle-state cache. Entries are disposable projections: every write
// carries a TTL and callers must tolerate misses.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func RuleKey(vehicleID string) string {
	return fmt.Sprintf("rules:vehicle:%s", vehicleID)
}

func StateKey(vehicleID string) string {
	return fmt.Sprintf("vehicle:state:%s", vehicleID)
}

// Get unmarshals the entry at key into dest. Returns false on miss.
func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return s.rdb.Set(ctx, key, raw, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.rdb.Del(ctx, keys...).Err()
}
