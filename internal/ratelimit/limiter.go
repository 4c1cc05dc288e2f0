package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limit is one window configuration.
type Limit struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

// Decision is the outcome of one check, shaped for RateLimit headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int // seconds
}

// incrScript counts atomically and starts the window on first hit.
var incrScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// Limiter throttles the device ingest surface with per-client counters
// in Redis. Counters live in a fixed window anchored at the client's
// first request.
type Limiter struct {
	client *redis.Client
	salt   string
}

func NewLimiter(client *redis.Client, salt string) *Limiter {
	if salt == "" {
		salt = "telematics-rl"
	}
	return &Limiter{client: client, salt: salt}
}

// ClientKey derives a stable, privacy-safe counter key from the caller's
// API key when present, falling back to the source IP.
func (l *Limiter) ClientKey(r *http.Request) string {
	id := r.Header.Get("X-API-Key")
	if id == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		id = host
	}
	sum := sha256.Sum256([]byte(id + l.salt))
	return "rl:ingest:" + hex.EncodeToString(sum[:16])
}

// Check counts this request against the client's window.
func (l *Limiter) Check(ctx context.Context, key string, limit Limit) (*Decision, error) {
	count, err := incrScript.Run(ctx, l.client, []string{key}, limit.Window.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}

	remaining := limit.Rate - count
	if remaining < 0 {
		remaining = 0
	}

	return &Decision{
		Allowed:    count <= limit.Rate,
		Limit:      limit.Rate,
		Remaining:  remaining,
		RetryAfter: int(limit.Window.Seconds()),
	}, nil
}

// Middleware rejects clients over their window with 429. A Redis failure
// fails open: dropping telemetry to protect a throttle is the wrong
// trade.
func (l *Limiter) Middleware(limit Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit.Rate <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := l.Check(r.Context(), l.ClientKey(r), limit)
			if err != nil {
				log.Printf("[WARN] Rate Limit: check failed, allowing request: %v", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
