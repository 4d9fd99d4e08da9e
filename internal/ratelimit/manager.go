package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/monitoring"
	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/store"
)

const (
	tokenBucketKeyFmt   = "rate_limit:token_bucket:%s:%s"
	slidingWindowKeyFmt = "rate_limit:sliding_window:%s:%s"
	fixedWindowKeyFmt   = "rate_limit:fixed_window:%s:%s:%d"
)

// Stats is a snapshot of the engine's counters.
type Stats struct {
	Checks   uint64 `json:"checks"`
	Allowed  uint64 `json:"allowed"`
	Denied   uint64 `json:"denied"`
	FailOpen uint64 `json:"fail_open"`
}

// Manager evaluates rate limit checks against registered policies using
// a distributed counter store. Constructed explicitly and injected;
// there is no package-level instance.
type Manager struct {
	store   store.CounterStore
	metrics *monitoring.Metrics
	logger  *zap.Logger

	mu      sync.RWMutex
	configs map[string]Config

	checks   uint64
	allowed  uint64
	denied   uint64
	failOpen uint64
}

// NewManager creates a manager with the default policy set registered.
// metrics may be nil.
func NewManager(st store.CounterStore, metrics *monitoring.Metrics, logger *zap.Logger) *Manager {
	m := &Manager{
		store:   st,
		metrics: metrics,
		logger:  logger,
		configs: make(map[string]Config),
	}
	for _, cfg := range DefaultConfigs() {
		m.configs[cfg.Name] = cfg
	}
	return m
}

// AddConfig registers or replaces a named policy.
func (m *Manager) AddConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Name] = cfg
}

// GetConfig returns a registered policy.
func (m *Manager) GetConfig(name string) (Config, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[name]
	return cfg, ok
}

// Check evaluates whether the identifier may proceed under the named
// policy. An unregistered policy means no limit, not deny-everything.
// On store errors the check fails open: availability is prioritized over
// strict enforcement, and the result carries a diagnostic reason.
func (m *Manager) Check(ctx context.Context, policy, identifier string) Check {
	atomic.AddUint64(&m.checks, 1)

	cfg, ok := m.GetConfig(policy)
	if !ok {
		return m.finish(unlimitedCheck(policy))
	}

	now := time.Now()

	if contains(cfg.DenyList, identifier) {
		block := cfg.BlockDuration
		if block <= 0 {
			block = time.Hour
		}
		return m.finish(Check{
			Policy:       policy,
			Result:       ResultDenied,
			Limit:        cfg.limit(),
			Remaining:    0,
			ResetTime:    now.Add(block),
			RetryAfter:   block,
			BlockedUntil: now.Add(block),
		})
	}

	if contains(cfg.AllowList, identifier) {
		return m.finish(unlimitedCheck(policy))
	}

	// The caller identity drives the allow and deny lists above; a global
	// policy then shares one set of counters across all callers.
	if cfg.Scope == ScopeGlobal {
		identifier = GlobalIdentifier
	}

	var (
		check Check
		err   error
	)
	switch cfg.Algorithm {
	case AlgorithmTokenBucket:
		check, err = m.checkTokenBucket(ctx, cfg, identifier, now)
	case AlgorithmSlidingWindow, AlgorithmSlidingWindowCounter:
		check, err = m.checkSlidingWindow(ctx, cfg, identifier, now)
	case AlgorithmFixedWindow:
		check, err = m.checkFixedWindow(ctx, cfg, identifier, now)
	default:
		// Unknown algorithm resolves to permissive, not to an error.
		m.logger.Warn("unknown rate limit algorithm, allowing",
			zap.String("policy", cfg.Name),
			zap.String("algorithm", string(cfg.Algorithm)),
		)
		return m.finish(unlimitedCheck(policy))
	}

	if err != nil {
		atomic.AddUint64(&m.failOpen, 1)
		if m.metrics != nil {
			m.metrics.RecordRateLimitFailOpen()
			m.metrics.RecordStoreError(string(cfg.Algorithm))
		}
		m.logger.Warn("rate limit store unavailable, failing open",
			zap.String("policy", policy),
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		open := unlimitedCheck(policy)
		open.Reason = fmt.Sprintf("store unavailable, failing open: %v", err)
		return m.finish(open)
	}

	if check.Result != ResultDenied && cfg.WarningThreshold > 0 {
		if float64(check.Remaining) < cfg.WarningThreshold*float64(check.Limit) {
			check.Result = ResultWarning
		}
	}

	return m.finish(check)
}

// CheckMultiple evaluates several policies for one logical request and
// denies if any denies. On success the returned check is the one with
// the least remaining capacity, so response headers reflect the binding
// constraint.
func (m *Manager) CheckMultiple(ctx context.Context, identifier string, policies ...string) Check {
	return m.checkEach(ctx, policies, func(Scope) string { return identifier })
}

// CheckScoped is CheckMultiple with the identifier resolved per policy
// from its scope, so one call can combine a global limit with per-IP and
// per-user limits for the same request.
func (m *Manager) CheckScoped(ctx context.Context, identity Identity, policies ...string) Check {
	return m.checkEach(ctx, policies, identity.For)
}

func (m *Manager) checkEach(ctx context.Context, policies []string, resolve func(Scope) string) Check {
	var tightest Check
	tightest.Remaining = Unlimited
	first := true

	for _, policy := range policies {
		scope := ScopeCustom
		if cfg, ok := m.GetConfig(policy); ok {
			scope = cfg.Scope
		}
		check := m.Check(ctx, policy, resolve(scope))
		if check.Result == ResultDenied {
			return check
		}
		if first || check.Remaining < tightest.Remaining {
			tightest = check
			first = false
		}
	}

	if first {
		return unlimitedCheck("")
	}
	return tightest
}

// Reset clears all stored counters for a (policy, identifier) pair
// across every algorithm's key namespace. Administrative override.
func (m *Manager) Reset(ctx context.Context, policy, identifier string) error {
	cfg, ok := m.GetConfig(policy)
	window := time.Minute
	if ok && cfg.WindowSize > 0 {
		window = cfg.WindowSize
	}
	if ok && cfg.Scope == ScopeGlobal {
		identifier = GlobalIdentifier
	}

	now := time.Now()
	current := windowStart(now, window)
	keys := []string{
		fmt.Sprintf(tokenBucketKeyFmt, policy, identifier),
		fmt.Sprintf(slidingWindowKeyFmt, policy, identifier),
		fmt.Sprintf(fixedWindowKeyFmt, policy, identifier, current.Unix()),
		fmt.Sprintf(fixedWindowKeyFmt, policy, identifier, current.Add(-window).Unix()),
	}
	return m.store.Delete(ctx, keys...)
}

// Metrics returns a snapshot of the engine's counters.
func (m *Manager) Metrics() Stats {
	return Stats{
		Checks:   atomic.LoadUint64(&m.checks),
		Allowed:  atomic.LoadUint64(&m.allowed),
		Denied:   atomic.LoadUint64(&m.denied),
		FailOpen: atomic.LoadUint64(&m.failOpen),
	}
}

func (m *Manager) checkTokenBucket(ctx context.Context, cfg Config, identifier string, now time.Time) (Check, error) {
	capacity := cfg.BurstSize
	if capacity < 1 {
		capacity = 1
	}
	refill := cfg.RequestsPerSecond
	if refill <= 0 {
		refill = 1
	}

	// Idle buckets expire once they would have fully refilled.
	ttl := time.Duration(2*float64(capacity)/refill) * time.Second
	if ttl < time.Minute {
		ttl = time.Minute
	}

	key := fmt.Sprintf(tokenBucketKeyFmt, cfg.Name, identifier)
	res, err := m.store.TakeToken(ctx, key, capacity, refill, ttl, now)
	if err != nil {
		return Check{}, err
	}

	remaining := int64(math.Floor(res.Remaining))
	check := Check{
		Policy:    cfg.Name,
		Limit:     capacity,
		Remaining: remaining,
		ResetTime: now.Add(secondsToDuration(float64(capacity-remaining) / refill)),
	}
	if res.Allowed {
		check.Result = ResultAllowed
		return check, nil
	}

	check.Result = ResultDenied
	deficit := 1 - res.Remaining
	if deficit < 0 {
		deficit = 1
	}
	check.RetryAfter = ceilSeconds(deficit / refill)
	return check, nil
}

func (m *Manager) checkSlidingWindow(ctx context.Context, cfg Config, identifier string, now time.Time) (Check, error) {
	window := cfg.WindowSize
	if window <= 0 {
		window = time.Minute
	}
	max := cfg.limit()

	key := fmt.Sprintf(slidingWindowKeyFmt, cfg.Name, identifier)
	res, err := m.store.SlidingWindowAdmit(ctx, key, window, max, now)
	if err != nil {
		return Check{}, err
	}

	check := Check{
		Policy:    cfg.Name,
		Limit:     max,
		Remaining: max - res.Count,
	}
	if check.Remaining < 0 {
		check.Remaining = 0
	}

	if res.Allowed {
		check.Result = ResultAllowed
		check.ResetTime = now.Add(window)
		return check, nil
	}

	check.Result = ResultDenied
	reset := now.Add(window)
	if !res.Oldest.IsZero() {
		reset = res.Oldest.Add(window)
	}
	check.ResetTime = reset
	check.RetryAfter = ceilSeconds(reset.Sub(now).Seconds())
	return check, nil
}

func (m *Manager) checkFixedWindow(ctx context.Context, cfg Config, identifier string, now time.Time) (Check, error) {
	window := cfg.WindowSize
	if window <= 0 {
		window = time.Minute
	}
	max := cfg.limit()

	start := windowStart(now, window)
	boundary := start.Add(window)
	key := fmt.Sprintf(fixedWindowKeyFmt, cfg.Name, identifier, start.Unix())

	res, err := m.store.FixedWindowIncr(ctx, key, boundary.Sub(now), max)
	if err != nil {
		return Check{}, err
	}

	check := Check{
		Policy:    cfg.Name,
		Limit:     max,
		Remaining: max - res.Count,
		ResetTime: boundary,
	}
	if check.Remaining < 0 {
		check.Remaining = 0
	}

	if res.Allowed {
		check.Result = ResultAllowed
		return check, nil
	}

	check.Result = ResultDenied
	check.RetryAfter = ceilSeconds(boundary.Sub(now).Seconds())
	return check, nil
}

// finish records the outcome in counters and metrics.
func (m *Manager) finish(check Check) Check {
	if check.Result == ResultDenied {
		atomic.AddUint64(&m.denied, 1)
	} else {
		atomic.AddUint64(&m.allowed, 1)
	}
	if m.metrics != nil && check.Policy != "" {
		m.metrics.RecordRateLimitCheck(check.Policy, string(check.Result))
	}
	return check
}

func unlimitedCheck(policy string) Check {
	return Check{
		Policy:    policy,
		Result:    ResultAllowed,
		Limit:     Unlimited,
		Remaining: Unlimited,
		ResetTime: time.Now(),
	}
}

func windowStart(now time.Time, window time.Duration) time.Time {
	secs := int64(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Unix((now.Unix()/secs)*secs, 0)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ceilSeconds rounds up to whole seconds so Retry-After is never zero
// for a denied request.
func ceilSeconds(s float64) time.Duration {
	if s <= 0 {
		return time.Second
	}
	return time.Duration(math.Ceil(s)) * time.Second
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
