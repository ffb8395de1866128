// Package ratelimit implements the per-agent fixed-window request limiter
// described in spec.md §4.3: a counter that increments on every check and
// resets on a fixed wall-clock window, not a sliding one.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sentinel:ratelimit:"

// Config holds the limiter's tunables.
type Config struct {
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
}

// DefaultConfig matches the reference settings (1000 requests / 60s window).
func DefaultConfig() Config {
	return Config{RequestsPerWindow: 1000, Window: 60 * time.Second}
}

// Result is the outcome of a Check call.
type Result struct {
	Allowed   bool
	Remaining int
}

// Info is the introspection payload returned by Info, mirroring the
// reference client's get_rate_limit_info -- a supplemental read-only
// operation, not part of the enforcement path itself.
type Info struct {
	AgentID         string
	CurrentRequests int
	Limit           int
	Remaining       int
	ResetInSeconds  int
	WindowSeconds   int
}

// Limiter enforces a fixed-window request count per agent, backed by redis
// INCR + conditional EXPIRE exactly as the reference check_rate_limit does:
// the window timer starts on the first increment (TTL == -1) and every
// subsequent increment within that window shares its expiry.
type Limiter struct {
	client *redis.Client
	config Config
	logger *slog.Logger
}

// NewLimiter constructs a Limiter. A nil logger defaults to slog.Default().
func NewLimiter(client *redis.Client, cfg Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestsPerWindow <= 0 || cfg.Window <= 0 {
		cfg = DefaultConfig()
	}
	return &Limiter{
		client: client,
		config: cfg,
		logger: logger.With("component", "ratelimit.Limiter"),
	}
}

// Check increments agentID's counter and reports whether the request is
// allowed. On any redis failure it fails open: the request is allowed and
// remaining is reported as the full configured limit, matching the
// reference implementation's fail-open behavior rather than blocking
// traffic because of a cache outage.
func (l *Limiter) Check(ctx context.Context, agentID string) Result {
	key := keyPrefix + agentID

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Error("rate limit check failed", "agent_id", agentID, "error", err)
		return Result{Allowed: true, Remaining: l.config.RequestsPerWindow}
	}

	count := incr.Val()
	if ttl.Val() == -1 {
		if err := l.client.Expire(ctx, key, l.config.Window).Err(); err != nil {
			l.logger.Error("failed to set rate limit window expiry", "agent_id", agentID, "error", err)
		}
	}

	remaining := int(int64(l.config.RequestsPerWindow) - count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(l.config.RequestsPerWindow),
		Remaining: remaining,
	}
}

// Info reports the current window state for agentID without incrementing
// it. Supplements spec.md §4.3 with the introspection the reference
// implementation exposes via get_rate_limit_info, useful for a status
// endpoint or CLI diagnostic.
func (l *Limiter) Info(ctx context.Context, agentID string) Info {
	key := keyPrefix + agentID

	pipe := l.client.TxPipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		l.logger.Error("rate limit info lookup failed", "agent_id", agentID, "error", err)
		return Info{}
	}

	current, _ := get.Int()
	remaining := l.config.RequestsPerWindow - current
	if remaining < 0 {
		remaining = 0
	}
	resetIn := int(ttl.Val() / time.Second)
	if resetIn < 0 {
		resetIn = 0
	}

	return Info{
		AgentID:         agentID,
		CurrentRequests: current,
		Limit:           l.config.RequestsPerWindow,
		Remaining:       remaining,
		ResetInSeconds:  resetIn,
		WindowSeconds:   int(l.config.Window / time.Second),
	}
}
