package ratelimit

import (
	"math"
	"time"
)

// Algorithm selects the rate limiting strategy for a policy.
type Algorithm string

const (
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmFixedWindow   Algorithm = "fixed_window"
	// AlgorithmSlidingWindowCounter is a planned refinement; it currently
	// behaves as sliding_window.
	AlgorithmSlidingWindowCounter Algorithm = "sliding_window_counter"
)

// Scope describes what a policy's identifier refers to.
type Scope string

const (
	ScopeGlobal      Scope = "global"
	ScopePerUser     Scope = "per_user"
	ScopePerIP       Scope = "per_ip"
	ScopePerEndpoint Scope = "per_endpoint"
	ScopeCustom      Scope = "custom"
)

// Identity carries the per-request values scoped policies key their
// counters on.
type Identity struct {
	IP       string
	User     string
	Endpoint string
}

// For resolves the counter identifier for a scope. Global policies share
// one identifier across all callers; user and endpoint scopes fall back
// to the client IP when the corresponding value is absent.
func (id Identity) For(scope Scope) string {
	switch scope {
	case ScopeGlobal:
		return GlobalIdentifier
	case ScopePerUser:
		if id.User != "" {
			return id.User
		}
		return id.IP
	case ScopePerEndpoint:
		if id.Endpoint != "" {
			return id.Endpoint
		}
		return id.IP
	default:
		return id.IP
	}
}

// GlobalIdentifier keys the counters of every ScopeGlobal policy, so a
// global limit bounds aggregate traffic rather than each caller.
const GlobalIdentifier = "global"

// Result is the overall outcome of a check.
type Result string

const (
	ResultAllowed Result = "allowed"
	ResultWarning Result = "warning"
	ResultDenied  Result = "denied"
)

// Unlimited is the quota reported for allow-listed identifiers and
// unregistered policies.
const Unlimited = int64(math.MaxInt64)

// Config is a named, registered rate limit policy. Immutable after
// registration except via AddConfig with the same name.
type Config struct {
	Name              string        `json:"name"`
	Algorithm         Algorithm     `json:"algorithm"`
	Scope             Scope         `json:"scope"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	BurstSize         int64         `json:"burst_size"`
	WindowSize        time.Duration `json:"window_size"`
	// WarningThreshold is the fraction of the limit below which an
	// allowed check reports warning instead of allowed.
	WarningThreshold float64       `json:"warning_threshold"`
	BlockDuration    time.Duration `json:"block_duration"`
	AllowList        []string      `json:"allow_list,omitempty"`
	DenyList         []string      `json:"deny_list,omitempty"`
}

// limit is the effective request ceiling for window algorithms: the
// burst size caps requests-per-window when it is the tighter bound.
func (c Config) limit() int64 {
	window := c.WindowSize
	if window <= 0 {
		window = time.Minute
	}
	max := int64(c.RequestsPerSecond * window.Seconds())
	if max < 1 {
		max = 1
	}
	if c.BurstSize > 0 && c.BurstSize < max {
		max = c.BurstSize
	}
	return max
}

// Check is the per-request evaluation result. Computed fresh on every
// check and never persisted.
type Check struct {
	Policy       string        `json:"policy"`
	Result       Result        `json:"result"`
	Limit        int64         `json:"limit"`
	Remaining    int64         `json:"remaining"`
	ResetTime    time.Time     `json:"reset_time"`
	RetryAfter   time.Duration `json:"retry_after,omitempty"`
	BlockedUntil time.Time     `json:"blocked_until,omitempty"`
	// Reason carries a diagnostic when the check could not be fully
	// enforced (fail-open).
	Reason string `json:"reason,omitempty"`
}

// Allowed reports whether the request may proceed.
func (c Check) Allowed() bool {
	return c.Result != ResultDenied
}

// DefaultConfigs is the fixed initial policy set registered at startup.
func DefaultConfigs() []Config {
	return []Config{
		{
			Name:              "global_api",
			Algorithm:         AlgorithmTokenBucket,
			Scope:             ScopeGlobal,
			RequestsPerSecond: 1000,
			BurstSize:         2000,
			WindowSize:        time.Minute,
			WarningThreshold:  0.1,
			BlockDuration:     time.Minute,
		},
		{
			Name:              "per_user",
			Algorithm:         AlgorithmSlidingWindow,
			Scope:             ScopePerUser,
			RequestsPerSecond: 10,
			BurstSize:         20,
			WindowSize:        time.Minute,
			WarningThreshold:  0.2,
			BlockDuration:     5 * time.Minute,
		},
		{
			Name:              "per_ip",
			Algorithm:         AlgorithmSlidingWindow,
			Scope:             ScopePerIP,
			RequestsPerSecond: 50,
			BurstSize:         100,
			WindowSize:        time.Minute,
			WarningThreshold:  0.2,
			BlockDuration:     10 * time.Minute,
		},
		{
			Name:              "ai_decision",
			Algorithm:         AlgorithmTokenBucket,
			Scope:             ScopeCustom,
			RequestsPerSecond: 5,
			BurstSize:         10,
			WindowSize:        time.Minute,
			WarningThreshold:  0.3,
			BlockDuration:     time.Minute,
		},
		{
			Name:              "workflow_execution",
			Algorithm:         AlgorithmFixedWindow,
			Scope:             ScopeCustom,
			RequestsPerSecond: 2,
			BurstSize:         5,
			WindowSize:        time.Minute,
			WarningThreshold:  0.3,
			BlockDuration:     time.Minute,
		},
		{
			Name:              "service_call",
			Algorithm:         AlgorithmTokenBucket,
			Scope:             ScopePerEndpoint,
			RequestsPerSecond: 100,
			BurstSize:         200,
			WindowSize:        time.Minute,
			WarningThreshold:  0.1,
			BlockDuration:     time.Minute,
		},
	}
}
