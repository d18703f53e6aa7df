package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowConsumesCapacityThenRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewWithClock(func() time.Time { return now })

	assert.True(t, l.Allow("telegram", 1, 1))
	assert.False(t, l.Allow("telegram", 1, 1))

	now = now.Add(500 * time.Millisecond)
	assert.False(t, l.Allow("telegram", 1, 1))

	now = now.Add(500 * time.Millisecond)
	assert.True(t, l.Allow("telegram", 1, 1))
}

func TestKeysAreIndependent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewWithClock(func() time.Time { return now })

	assert.True(t, l.Allow("a", 1, 1))
	assert.True(t, l.Allow("b", 1, 1))
	assert.False(t, l.Allow("a", 1, 1))
}

func TestWaitBlocksUntilTokenAvailable(t *testing.T) {
	l := New()
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "k", 1, 20))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "k", 1, 20))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWaitHonoursContext(t *testing.T) {
	l := New()
	require.True(t, l.Allow("k", 1, 0.01))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "k", 1, 0.01)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
