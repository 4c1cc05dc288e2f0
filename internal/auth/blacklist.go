package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker checks and records revoked operator tokens by jti.
type TokenRevoker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

// RedisRevoker stores revocations with a TTL matching the token's
// remaining lifetime, so entries clean themselves up at expiry.
type RedisRevoker struct {
	client *redis.Client
}

func NewRedisRevoker(client *redis.Client) *RedisRevoker {
	return &RedisRevoker{client: client}
}

func revocationKey(jti string) string {
	return "revoked:token:" + jti
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := r.client.Exists(ctx, revocationKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (r *RedisRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return r.client.Set(ctx, revocationKey(jti), "revoked", ttl).Err()
}
