package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySpanRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.SaveSpan(ctx, "span_1", []byte(`{"op":"a"}`), time.Minute))

	data, err := m.GetSpan(ctx, "span_1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"op":"a"}`), data)

	_, err = m.GetSpan(ctx, "span_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTraceIndex(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.AddSpanToTrace(ctx, "trace_1", "span_a", time.Minute))
	require.NoError(t, m.AddSpanToTrace(ctx, "trace_1", "span_b", time.Minute))
	require.NoError(t, m.AddSpanToTrace(ctx, "trace_1", "span_a", time.Minute)) // set semantics

	ids, err := m.TraceSpanIDs(ctx, "trace_1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"span_a", "span_b"}, ids)

	ids, err = m.TraceSpanIDs(ctx, "trace_unknown")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTokenBucketConservation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()

	// Starting full with capacity 5, exactly 5 consecutive takes succeed.
	for i := 0; i < 5; i++ {
		res, err := m.TakeToken(ctx, "tb", 5, 1.0, time.Minute, base)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "take %d should be admitted", i+1)
	}

	res, err := m.TakeToken(ctx, "tb", 5, 1.0, time.Minute, base)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "bucket exhausted")

	// Two seconds of refill at 1 token/s admits exactly two more.
	later := base.Add(2 * time.Second)
	for i := 0; i < 2; i++ {
		res, err = m.TakeToken(ctx, "tb", 5, 1.0, time.Minute, later)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "refilled take %d should be admitted", i+1)
	}
	res, err = m.TakeToken(ctx, "tb", 5, 1.0, time.Minute, later)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestTokenBucketRefillCapped(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()

	_, err := m.TakeToken(ctx, "tb", 3, 10.0, time.Minute, base)
	require.NoError(t, err)

	// A long idle period refills to capacity, never beyond.
	later := base.Add(time.Hour)
	allowed := 0
	for i := 0; i < 10; i++ {
		res, err := m.TakeToken(ctx, "tb", 3, 10.0, time.Minute, later)
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}

func TestSlidingWindowBoundary(t *testing.T) {
	tests := []struct {
		name   string
		offset []time.Duration // request offsets within the window
	}{
		{
			name:   "burst at start",
			offset: []time.Duration{0, 0, 0},
		},
		{
			name:   "spread evenly",
			offset: []time.Duration{0, 3 * time.Second, 6 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := NewMemory()
			base := time.Now()

			// Exactly max requests are admitted within the window
			// regardless of distribution.
			for i, off := range tt.offset {
				res, err := m.SlidingWindowAdmit(ctx, "sw", 10*time.Second, 3, base.Add(off))
				require.NoError(t, err)
				assert.True(t, res.Allowed, "request %d should be admitted", i+1)
			}

			res, err := m.SlidingWindowAdmit(ctx, "sw", 10*time.Second, 3, base.Add(7*time.Second))
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Equal(t, base.Unix(), res.Oldest.Unix(), "oldest survivor drives retry computation")

			// Once the oldest entry leaves the window, one slot opens.
			res, err = m.SlidingWindowAdmit(ctx, "sw", 10*time.Second, 3, base.Add(10*time.Second+time.Millisecond))
			require.NoError(t, err)
			assert.True(t, res.Allowed)
		})
	}
}

func TestFixedWindowNoInflationOnDeny(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 2; i++ {
		res, err := m.FixedWindowIncr(ctx, "fw", time.Minute, 2)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	// Denied increments roll back so the counter stays at max.
	for i := 0; i < 3; i++ {
		res, err := m.FixedWindowIncr(ctx, "fw", time.Minute, 2)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, int64(2), res.Count)
	}
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()

	_, err := m.TakeToken(ctx, "tb", 1, 0.001, time.Minute, base)
	require.NoError(t, err)
	res, err := m.TakeToken(ctx, "tb", 1, 0.001, time.Minute, base)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	require.NoError(t, m.Delete(ctx, "tb"))

	res, err = m.TakeToken(ctx, "tb", 1, 0.001, time.Minute, base)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "delete restores a full bucket")
}
