// Package config holds the gateway's top-level configuration tree: the
// cache backend, rate limiter, policy engine thresholds, circuit breaker
// and approval webhook settings, and the server/logging basics every
// component's constructor takes a slice of.
package config

import "time"

// Config is the top-level Sentinel Gateway configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Cache         CacheConfig          `yaml:"cache"`
	RateLimit     RateLimitConfig      `yaml:"rate_limit"`
	Engine        CircuitBreakerConfig `yaml:"engine"`
	Approval      ApprovalConfig       `yaml:"approval"`
	PII           PIIConfig            `yaml:"pii"`
	Audit         AuditConfig          `yaml:"audit"`
	PoliciesFile  string               `yaml:"policies_file"`
	WatchPolicies bool                 `yaml:"watch_policies"`
}

// ServerConfig controls process-level basics: listen address (owned by the
// out-of-scope HTTP surface, spec.md §1, but configured here so one file
// drives the whole deployment), logging, and the gateway's current mode.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	Mode     string `yaml:"mode"` // SHADOW or ENFORCE, see gateway.ParseGatewayMode
}

// CacheConfig controls the PolicyCache backend (spec.md §4.1).
type CacheConfig struct {
	Driver        string        `yaml:"driver"` // "redis" or "sqlite"
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	SQLitePath    string        `yaml:"sqlite_path"`
	TTL           time.Duration `yaml:"ttl"`
}

// DefaultCacheConfig matches spec.md §6: policy_cache_ttl = 300s.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Driver:     "sqlite",
		RedisAddr:  "localhost:6379",
		SQLitePath: "./sentinel-policy-cache.db",
		TTL:        300 * time.Second,
	}
}

// RateLimitConfig controls the per-agent fixed-window limiter (spec.md §4.3).
type RateLimitConfig struct {
	RedisAddr         string        `yaml:"redis_addr"`
	RedisPassword     string        `yaml:"redis_password"`
	RedisDB           int           `yaml:"redis_db"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
}

// DefaultRateLimitConfig matches spec.md §6: rate_limit_requests = 1000,
// rate_limit_window_seconds = 60.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RedisAddr:         "localhost:6379",
		RequestsPerWindow: 1000,
		Window:            60 * time.Second,
	}
}

// CircuitBreakerConfig controls the PolicyEngine's score-to-decision
// thresholds (spec.md §4.4 step 6).
type CircuitBreakerConfig struct {
	BlockThreshold    float64 `yaml:"block_threshold"`
	ApprovalThreshold float64 `yaml:"approval_threshold"`
}

// DefaultCircuitBreakerConfig matches spec.md §6:
// risk_score_block_threshold = 1.0, risk_score_approval_threshold = 0.8.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{BlockThreshold: 1.0, ApprovalThreshold: 0.8}
}

// ApprovalConfig controls the breaker's approval record store and webhook
// dispatch (spec.md §4.5, §6).
type ApprovalConfig struct {
	StoreDriver   string        `yaml:"store_driver"` // "redis" or "sqlite"
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	SQLitePath    string        `yaml:"sqlite_path"`
	TTL           time.Duration `yaml:"ttl"`
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookSecret  string        `yaml:"webhook_secret"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
}

// DefaultApprovalConfig matches spec.md §6: approval_ttl = 24h,
// approval_webhook_timeout = 5.0s.
func DefaultApprovalConfig() ApprovalConfig {
	return ApprovalConfig{
		StoreDriver:    "sqlite",
		SQLitePath:     "./sentinel-approvals.db",
		TTL:            24 * time.Hour,
		WebhookTimeout: 5 * time.Second,
	}
}

// PIIConfig controls the scanner's enabled entity set (spec.md §4.2).
type PIIConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Entities []string `yaml:"entities"` // empty = pii.DefaultEntities
}

// DefaultPIIConfig enables scanning with the full default entity set.
func DefaultPIIConfig() PIIConfig {
	return PIIConfig{Enabled: true}
}

// AuditConfig controls the peripheral audit sink (spec.md §1: named here
// only as an extension point, not a spec-mandated component).
type AuditConfig struct {
	Driver     string `yaml:"driver"` // "sqlite" or "" (disabled)
	SQLitePath string `yaml:"sqlite_path"`
}

// DefaultAuditConfig disables the audit sink by default -- it's an
// extension point, not something every deployment needs wired in.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{}
}

// DefaultConfig returns a config with sensible defaults for zero-config
// startup, matching every spec.md §6 tunable.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "info",
			Mode:     "ENFORCE",
		},
		Cache:         DefaultCacheConfig(),
		RateLimit:     DefaultRateLimitConfig(),
		Engine:        DefaultCircuitBreakerConfig(),
		Approval:      DefaultApprovalConfig(),
		PII:           DefaultPIIConfig(),
		Audit:         DefaultAuditConfig(),
		PoliciesFile:  "./policies.yaml",
		WatchPolicies: true,
	}
}
