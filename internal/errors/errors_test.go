package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := E(KindConflict, "memory.create", "duplicate title %q", "note")
	assert.Equal(t, KindConflict, KindOf(err))

	wrapped := fmt.Errorf("outer context: %w", err)
	assert.Equal(t, KindConflict, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindInternal, "op", nil))
}

func TestIsKindMatchesThroughChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindStorageUnavailable, "storage.ping", cause)

	assert.True(t, IsKind(err, KindStorageUnavailable))
	assert.False(t, IsKind(err, KindTimeout))
	assert.True(t, errors.Is(err, cause))
}

func TestDegraded(t *testing.T) {
	assert.True(t, Degraded(TimeoutError("search.vector", time.Second, 2*time.Second)))
	assert.True(t, Degraded(E(KindCircuitOpen, "cache.l2", "open")))
	assert.True(t, Degraded(E(KindEmbeddingUnavailable, "embed", "down")))
	assert.False(t, Degraded(E(KindInvalidArgument, "search", "empty query")))
}

func TestWithDeadlineExpires(t *testing.T) {
	err := WithDeadline(context.Background(), "slow.op", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "slow.op", e.Op)
	assert.Equal(t, 10*time.Millisecond, e.Timeout)
	assert.GreaterOrEqual(t, e.Elapsed, 10*time.Millisecond)
}

func TestWithDeadlinePassesThroughSuccess(t *testing.T) {
	err := WithDeadline(context.Background(), "fast.op", time.Second, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestWithDeadlineParentCancellationNotReclassified(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithDeadline(ctx, "op", time.Second, func(ctx context.Context) error {
		return ctx.Err()
	})
	require.Error(t, err)
	assert.NotEqual(t, KindTimeout, KindOf(err))
}
