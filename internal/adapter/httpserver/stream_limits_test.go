package httpserver

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamLimits_PerIP(t *testing.T) {
	limits := NewStreamLimits(clockwork.NewFakeClock(), 2, 100, 100)

	ok, _ := limits.Acquire("1.1.1.1")
	require.True(t, ok)
	ok, _ = limits.Acquire("1.1.1.1")
	require.True(t, ok)

	ok, reason := limits.Acquire("1.1.1.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)
	assert.Equal(t, 2, limits.Count("1.1.1.1"))

	ok, _ = limits.Acquire("2.2.2.2")
	assert.True(t, ok)

	limits.Release("1.1.1.1")
	ok, _ = limits.Acquire("1.1.1.1")
	assert.True(t, ok)
}

func TestStreamLimits_ReleaseRemovesEntry(t *testing.T) {
	limits := NewStreamLimits(clockwork.NewFakeClock(), 5, 100, 100)

	ok, _ := limits.Acquire("1.1.1.1")
	require.True(t, ok)
	limits.Release("1.1.1.1")
	limits.Release("1.1.1.1")

	assert.Equal(t, 0, limits.Count("1.1.1.1"))
	assert.Empty(t, limits.perIP.ips)
}

func TestStreamLimits_ConnectRate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limits := NewStreamLimits(clock, 100, 1, 2)

	for range 2 {
		ok, _ := limits.Acquire("1.1.1.1")
		require.True(t, ok)
	}

	ok, reason := limits.Acquire("1.1.1.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonRate, reason)
	assert.Equal(t, 2, limits.Count("1.1.1.1"), "rate rejection does not take a slot")

	clock.Advance(time.Second)
	ok, _ = limits.Acquire("1.1.1.1")
	assert.True(t, ok)
}

func TestStreamLimits_IdleLimitersExpire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limits := NewStreamLimits(clock, 100, 1, 1)

	ok, _ := limits.Acquire("1.1.1.1")
	require.True(t, ok)
	assert.Equal(t, 1, limits.rate.size())

	clock.Advance(limiterIdleExpiry + limiterCleanupInterval)
	ok, _ = limits.Acquire("2.2.2.2")
	require.True(t, ok)

	assert.Equal(t, 1, limits.rate.size(), "idle limiter for 1.1.1.1 is dropped")
}
