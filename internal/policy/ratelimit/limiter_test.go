package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_000, 0)
	l := New(Config{RPS: 1, Burst: 2})
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("10.0.0.1"))
	require.True(t, l.Allow("10.0.0.1"))
	require.False(t, l.Allow("10.0.0.1"), "burst exhausted")

	now = now.Add(time.Second)
	require.True(t, l.Allow("10.0.0.1"), "one token refilled")
}

func TestLimiterClientsAreIndependent(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_000, 0)
	l := New(Config{RPS: 1, Burst: 1})
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	require.True(t, l.Allow("b"), "client b should not be blocked by a")
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("client"))
	}
}

func TestLimiterEvictsIdleClients(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_000, 0)
	l := New(Config{RPS: 1, Burst: 1, IdleTTL: time.Minute})
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	require.Equal(t, 2, l.Len())

	now = now.Add(2 * time.Minute)
	l.Allow("c")
	require.Equal(t, 1, l.Len())
}
