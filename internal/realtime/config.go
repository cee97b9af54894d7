// Package realtime implements the per-connection state machine, the
// supervision strategy, and the request/push pipelines: the core of the
// engine.
package realtime

import (
	"github.com/ashureev/realtime-engine/internal/audit"
	"github.com/ashureev/realtime-engine/internal/authsession"
)

// AuthConfig enables the auth gate and auth.login.
type AuthConfig struct {
	// Validate authenticates a login token. Required to enable auth.login.
	Validate authsession.Validator
	// Required controls whether the auth gate is enforced (nil or true)
	// or merely advisory (false).
	Required *bool
}

// RateLimitConfig enables the per-connection sliding-window request quota.
type RateLimitConfig struct {
	Limit    int
	WindowMs int
}

// HeartbeatConfig tunes ping cadence and liveness timeout.
type HeartbeatConfig struct {
	IntervalMs int
	TimeoutMs  int
}

// BackpressureConfig bounds how much outstanding write volume a connection
// may carry before pushes are silently dropped.
type BackpressureConfig struct {
	HighWaterMark int64
}

// AuditConfig configures the audit ring buffer.
type AuditConfig struct {
	Tiers      []audit.Tier
	MaxEntries int
	OnEntry    audit.Sink
}

// AdmissionConfig bounds the rate at which the supervisor accepts and spawns
// workers for new transports — a system-wide safety valve distinct from the
// per-connection RateLimitConfig above.
type AdmissionConfig struct {
	// PerSecond is the sustained accept rate; 0 disables the limiter.
	PerSecond float64
	// Burst is the maximum burst of simultaneous accepts.
	Burst int
}

// Config is the full set of options the engine recognizes.
type Config struct {
	// Store is required: the capability exposing bucket CRUD, query
	// evaluation, and subscribe/unsubscribe.
	Store Capability
	// Rules is optional; its absence yields RULES_NOT_AVAILABLE for
	// rules.* operations.
	Rules Capability

	Auth        *AuthConfig
	Permissions authsession.PermissionChecker

	RateLimit *RateLimitConfig

	Heartbeat    HeartbeatConfig
	Backpressure BackpressureConfig
	Audit        AuditConfig
	Admission    AdmissionConfig

	Host          string
	Port          int
	GracePeriodMs int
}

// resolveConfig fills in the documented defaults.
func resolveConfig(cfg Config) Config {
	if cfg.Heartbeat.IntervalMs <= 0 {
		cfg.Heartbeat.IntervalMs = 30_000
	}
	if cfg.Heartbeat.TimeoutMs <= 0 {
		cfg.Heartbeat.TimeoutMs = 60_000
	}
	if cfg.Backpressure.HighWaterMark <= 0 {
		cfg.Backpressure.HighWaterMark = 1 << 20 // 1MB
	}
	if cfg.Audit.MaxEntries <= 0 {
		cfg.Audit.MaxEntries = 10_000
	}
	if len(cfg.Audit.Tiers) == 0 {
		cfg.Audit.Tiers = []audit.Tier{audit.TierAdmin}
	}
	// GracePeriodMs default is 0 (immediate), already the zero value.
	return cfg
}

// authRequired resolves whether the auth gate is enforced.
func (cfg *Config) authRequired() bool {
	if cfg.Auth == nil {
		return false
	}
	if cfg.Auth.Required == nil {
		return true
	}
	return *cfg.Auth.Required
}
