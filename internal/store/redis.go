package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/resilience"
	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/shared/id"
)

const (
	spanKeyPrefix = "span:"
	traceSetFmt   = "trace:%s:spans"
)

// Options configures the Redis client.
type Options struct {
	Addr     string
	Password string
	DB       int
	// OpTimeout bounds every store operation.
	OpTimeout time.Duration
	// ConnectRetries is the number of ping retries at startup.
	ConnectRetries uint64
}

// Client is a Redis-backed Store. All operations carry a bounded timeout
// and run through a circuit breaker so a store outage surfaces as a fast
// error rather than a pile-up of blocked callers.
type Client struct {
	rdb     *redis.Client
	timeout time.Duration
	breaker *resilience.Breaker
	logger  *zap.Logger
}

// Connect creates a Redis client and verifies connectivity with
// exponential backoff.
func Connect(opts Options, logger *zap.Logger) (*Client, error) {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 2 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), opts.OpTimeout)
		defer cancel()
		return rdb.Ping(ctx).Err()
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), opts.ConnectRetries)
	if err := backoff.Retry(ping, policy); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	breaker := resilience.New("redis", resilience.Settings{
		Timeout: 10 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("store circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		rdb:     rdb,
		timeout: opts.OpTimeout,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// do runs fn with a bounded timeout inside the circuit breaker.
func (c *Client) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.breaker.Do(func() error {
		opCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return fn(opCtx)
	})
}

// SaveSpan stores a serialized span with a TTL bounding storage growth.
func (c *Client) SaveSpan(ctx context.Context, spanID string, data []byte, ttl time.Duration) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.rdb.Set(ctx, spanKeyPrefix+spanID, data, ttl).Err()
	})
}

// GetSpan loads a serialized span by ID.
func (c *Client) GetSpan(ctx context.Context, spanID string) ([]byte, error) {
	var data []byte
	notFound := false
	err := c.do(ctx, func(ctx context.Context) error {
		b, err := c.rdb.Get(ctx, spanKeyPrefix+spanID).Bytes()
		if err == redis.Nil {
			// Missing key is an answer, not a store failure.
			notFound = true
			return nil
		}
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, ErrNotFound
	}
	return data, nil
}

// AddSpanToTrace indexes a span ID under its trace and refreshes the
// index TTL.
func (c *Client) AddSpanToTrace(ctx context.Context, traceID, spanID string, ttl time.Duration) error {
	key := fmt.Sprintf(traceSetFmt, traceID)
	return c.do(ctx, func(ctx context.Context) error {
		pipe := c.rdb.TxPipeline()
		pipe.SAdd(ctx, key, spanID)
		pipe.Expire(ctx, key, ttl)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// TraceSpanIDs returns the span IDs indexed under a trace. A missing
// index yields an empty slice.
func (c *Client) TraceSpanIDs(ctx context.Context, traceID string) ([]string, error) {
	var members []string
	err := c.do(ctx, func(ctx context.Context) error {
		m, err := c.rdb.SMembers(ctx, fmt.Sprintf(traceSetFmt, traceID)).Result()
		if err != nil {
			return err
		}
		members = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// tokenBucketScript refills then takes one token in a single round trip.
// Returns {allowed, tokens} with tokens encoded as a string to preserve
// the fraction.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local tokens = tonumber(bucket[1])
local last = tonumber(bucket[2])
if tokens == nil or last == nil then
  tokens = capacity
  last = now
end

local elapsed = now - last
if elapsed < 0 then
  elapsed = 0
end
tokens = tokens + elapsed * refill
if tokens > capacity then
  tokens = capacity
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HMSET', KEYS[1], 'tokens', tostring(tokens), 'last_refill', tostring(now))
redis.call('EXPIRE', KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

// TakeToken executes the token bucket script atomically.
func (c *Client) TakeToken(ctx context.Context, key string, capacity int64, refillPerSec float64, ttl time.Duration, now time.Time) (TokenResult, error) {
	var res TokenResult
	err := c.do(ctx, func(ctx context.Context) error {
		raw, err := tokenBucketScript.Run(ctx, c.rdb, []string{key},
			capacity,
			formatFloat(refillPerSec),
			formatFloat(epochSeconds(now)),
			int64(ttl.Seconds()),
		).Result()
		if err != nil {
			return err
		}
		reply, ok := raw.([]interface{})
		if !ok || len(reply) != 2 {
			return fmt.Errorf("unexpected token bucket reply: %v", raw)
		}
		res.Allowed = toInt64(reply[0]) == 1
		res.Remaining = toFloat64(reply[1])
		return nil
	})
	return res, err
}

// slidingWindowScript evicts expired timestamps, counts survivors, and
// admits by inserting the current timestamp when under the limit.
// Returns {allowed, count, oldest}.
var slidingWindowScript = redis.NewScript(`
local window = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
if count < max then
  redis.call('ZADD', KEYS[1], tostring(now), member)
  redis.call('EXPIRE', KEYS[1], ttl)
  return {1, count + 1, '0'}
end

local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local score = '0'
if oldest[2] then
  score = oldest[2]
end
return {0, count, score}
`)

// SlidingWindowAdmit executes the sliding window script atomically.
func (c *Client) SlidingWindowAdmit(ctx context.Context, key string, window time.Duration, max int64, now time.Time) (WindowResult, error) {
	var res WindowResult
	err := c.do(ctx, func(ctx context.Context) error {
		member := fmt.Sprintf("%d-%s", now.UnixNano(), id.Default().GenerateString())
		raw, err := slidingWindowScript.Run(ctx, c.rdb, []string{key},
			formatFloat(window.Seconds()),
			max,
			formatFloat(epochSeconds(now)),
			member,
			int64(window.Seconds())+1,
		).Result()
		if err != nil {
			return err
		}
		reply, ok := raw.([]interface{})
		if !ok || len(reply) != 3 {
			return fmt.Errorf("unexpected sliding window reply: %v", raw)
		}
		res.Allowed = toInt64(reply[0]) == 1
		res.Count = toInt64(reply[1])
		if oldest := toFloat64(reply[2]); oldest > 0 {
			res.Oldest = timeFromEpochSeconds(oldest)
		}
		return nil
	})
	return res, err
}

// fixedWindowScript increments the window counter and rolls back on
// overflow so denied requests do not inflate the count.
// Returns {allowed, count}.
var fixedWindowScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ttl)
end
if count > max then
  redis.call('DECR', KEYS[1])
  return {0, count - 1}
end
return {1, count}
`)

// FixedWindowIncr executes the fixed window script atomically.
func (c *Client) FixedWindowIncr(ctx context.Context, key string, ttl time.Duration, max int64) (CounterResult, error) {
	var res CounterResult
	err := c.do(ctx, func(ctx context.Context) error {
		ttlSecs := int64(ttl.Seconds())
		if ttlSecs < 1 {
			ttlSecs = 1
		}
		raw, err := fixedWindowScript.Run(ctx, c.rdb, []string{key}, max, ttlSecs).Result()
		if err != nil {
			return err
		}
		reply, ok := raw.([]interface{})
		if !ok || len(reply) != 2 {
			return fmt.Errorf("unexpected fixed window reply: %v", raw)
		}
		res.Allowed = toInt64(reply[0]) == 1
		res.Count = toInt64(reply[1])
		return nil
	})
	return res, err
}

// Delete removes keys across the rate-limit namespaces.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.do(ctx, func(ctx context.Context) error {
		return c.rdb.Del(ctx, keys...).Err()
	})
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func timeFromEpochSeconds(s float64) time.Time {
	sec := int64(s)
	nsec := int64((s - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case int64:
		return float64(n)
	default:
		return 0
	}
}
