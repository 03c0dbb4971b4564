package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	logpkg "github.com/genesis-music/auth-service/internal/logger"
	"github.com/genesis-music/auth-service/internal/request"
)

const (
	// DefaultStoreTimeout bounds each counter round-trip. A slow store is
	// treated the same as an unreachable one: the request is allowed.
	DefaultStoreTimeout = 500 * time.Millisecond

	rateLimitKeyPrefix = "ratelimit:"
)

// incrWindowScript atomically increments the window counter and, only on the
// 0→1 transition, arms the window expiry. Running both steps in one script
// closes the race where concurrent first-requests re-arm the window, or a
// crash between INCR and EXPIRE leaves a counter that never resets.
var incrWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Policy configures one rate-limit tier.
type Policy struct {
	// Window is the fixed counting window. The window boundary is set by the
	// first request and is never extended by later hits.
	Window time.Duration
	// Max is the number of requests allowed inside one window.
	Max int
	// Message is the client-facing rejection text for 429 responses.
	Message string
}

// Store wraps the shared Redis client used for rate-limit counters.
type Store struct {
	client  *redis.Client
	timeout time.Duration
}

// NewStore connects to Redis and verifies reachability. The returned store is
// constructed once at startup and closed once at shutdown.
func NewStore(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	return &Store{client: client, timeout: DefaultStoreTimeout}, nil
}

// NewStoreWithClient wraps an existing client; used by tests and by callers
// sharing one connection between the limiter and the refresh ledger.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client, timeout: DefaultStoreTimeout}
}

// Client exposes the underlying Redis client for components that share it.
func (s *Store) Client() *redis.Client { return s.client }

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// incr bumps the fixed-window counter for key and returns the new count.
func (s *Store) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return incrWindowScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64()
}

// Inspect returns the current count and remaining window for a rate key.
// Used by the admin CLI; a missing key reports zero count.
func (s *Store) Inspect(ctx context.Context, client, route string) (int64, time.Duration, error) {
	key := rateLimitKey(client, route)
	count, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("get rate counter: %w", err)
	}
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("get rate counter ttl: %w", err)
	}
	return count, ttl, nil
}

// RateLimit creates a fixed-window rate limiting gate keyed by
// (client, route). When the store is unreachable or slow the gate fails
// OPEN: losing the limiter must not become a full outage of the service.
func RateLimit(store *Store, policy Policy, logger *zap.Logger) func(http.Handler) http.Handler {
	if policy.Max <= 0 {
		policy.Max = 100
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	if policy.Message == "" {
		policy.Message = "Too many requests, please try again later"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(clientKey(r), routeKey(r))

			count, err := store.incr(r.Context(), key, policy.Window)
			if err != nil {
				logger.Warn("rate_limit_store_unavailable",
					zap.String("path", logpkg.SanitizePath(r.URL.Path)),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			remaining := int64(policy.Max) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", policy.Max))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

			if count > int64(policy.Max) {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(policy.Window.Seconds())))
				respondError(w, http.StatusTooManyRequests, policy.Message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the caller: the authenticated user when the auth gate
// already ran, otherwise the client IP.
func clientKey(r *http.Request) string {
	if id := request.IdentityFromContext(r); id != nil {
		return id.UserID.String()
	}
	return request.ClientIP(r)
}

// routeKey identifies the gated route by its registered path template, so
// /songs/{id} counts as one route rather than one key per song.
func routeKey(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

func rateLimitKey(client, route string) string {
	return rateLimitKeyPrefix + client + ":" + route
}
