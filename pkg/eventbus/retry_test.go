package eventbus

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Next(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
	}
	failure := errors.New("boom")

	delay, ok := policy.Next(1, failure)
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, delay)

	delay, ok = policy.Next(2, failure)
	require.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, delay)

	_, ok = policy.Next(3, failure)
	assert.False(t, ok)
}

func TestRetryPolicy_PermanentErrors(t *testing.T) {
	policy := DefaultRetryPolicy()

	_, ok := policy.Next(1, backoff.Permanent(errors.New("missing state")))
	assert.False(t, ok)

	wrapped := fmt.Errorf("node processor: %w", backoff.Permanent(errors.New("missing state")))
	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsPermanent(errors.New("transient")))
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	claimed, err := ledger.Claim(ctx, "exec-1-node-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = ledger.Claim(ctx, "exec-1-node-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, ledger.Release(ctx, "exec-1-node-1"))

	claimed, err = ledger.Claim(ctx, "exec-1-node-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	cancelled, err := ledger.IsCancelled(ctx, "exec-1")
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, ledger.Cancel(ctx, "exec-1", time.Minute))

	cancelled, err = ledger.IsCancelled(ctx, "exec-1")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestMemoryScheduler_DueInOrder(t *testing.T) {
	ctx := context.Background()
	scheduler := NewMemoryScheduler()
	now := time.Now()

	require.NoError(t, scheduler.Schedule(ctx, Envelope{UUID: "late"}, now.Add(time.Hour)))
	require.NoError(t, scheduler.Schedule(ctx, Envelope{UUID: "second"}, now.Add(-time.Second)))
	require.NoError(t, scheduler.Schedule(ctx, Envelope{UUID: "first"}, now.Add(-time.Minute)))

	due, err := scheduler.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "first", due[0].UUID)
	assert.Equal(t, "second", due[1].UUID)
	assert.Equal(t, 1, scheduler.Len())

	due, err = scheduler.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
