package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() *RetryPolicy {
	return &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryWithBackoff_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), testPolicy(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	}, IsTransientError)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_DoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	permanent := errors.New("InvalidParameterValue: bad cidr")
	err := RetryWithBackoff(context.Background(), testPolicy(), func() error {
		calls++
		return permanent
	}, IsTransientError)

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), testPolicy(), func() error {
		calls++
		return errors.New("throttled: rate exceeded")
	}, IsTransientError)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
	assert.Equal(t, 4, calls)
}

func TestRetryWithBackoff_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithBackoff(ctx, &RetryPolicy{MaxRetries: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}, func() error {
		calls++
		cancel()
		return errors.New("i/o timeout")
	}, IsTransientError)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoffDelay_BoundedByBaseAndMax(t *testing.T) {
	base := 10 * time.Millisecond
	max := 80 * time.Millisecond

	for attempt := 0; attempt < 5; attempt++ {
		for i := 0; i < 50; i++ {
			delay := backoffDelay(attempt, base, max)
			assert.GreaterOrEqual(t, delay, base, "jitter must never drop below the base delay")
			assert.LessOrEqual(t, delay, max)
		}
	}
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(errors.New("Throttling: Rate exceeded")))
	assert.True(t, IsTransientError(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransientError(errors.New("dial tcp: i/o timeout")))
	assert.False(t, IsTransientError(errors.New("InvalidInstanceID.NotFound")))
	assert.False(t, IsTransientError(nil))
}
