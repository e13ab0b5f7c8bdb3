package storage_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomcast/internal/storage"
)

// flakyBackend fails writes while failing is set and counts calls.
type flakyBackend struct {
	storage.Memory
	failing atomic.Bool
	calls   atomic.Int32
	block   chan struct{}
}

func (f *flakyBackend) Write(ctx context.Context, data []byte) error {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.failing.Load() {
		return errors.New("disk on fire")
	}
	return f.Memory.Write(ctx, data)
}

func TestGuard_PassesThrough(t *testing.T) {
	next := &flakyBackend{}
	g := storage.Guard(next, storage.GuardOptions{Timeout: time.Second, FailureThreshold: 3, ResetTimeout: time.Minute})

	require.NoError(t, g.Write(ctx, []byte("a")))
	got, err := g.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)

	require.NoError(t, g.Archive(ctx, []byte("bad")))
	assert.Len(t, next.Archived(), 1)

	require.NoError(t, g.Delete(ctx))
	assert.NoError(t, g.Close())
}

func TestGuard_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &flakyBackend{}
	next.failing.Store(true)
	g := storage.Guard(next, storage.GuardOptions{FailureThreshold: 2, ResetTimeout: time.Minute})

	assert.Error(t, g.Write(ctx, []byte("a")))
	assert.Error(t, g.Write(ctx, []byte("a")))

	err := g.Write(ctx, []byte("a"))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), next.calls.Load(), "open breaker must not reach the backend")
}

func TestGuard_NotExistIsNotAFailure(t *testing.T) {
	next := &flakyBackend{}
	g := storage.Guard(next, storage.GuardOptions{FailureThreshold: 1, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := g.Read(ctx)
		assert.ErrorIs(t, err, storage.ErrNotExist)
	}
	require.NoError(t, g.Write(ctx, []byte("ok")))
}

func TestGuard_Timeout(t *testing.T) {
	next := &flakyBackend{block: make(chan struct{})}
	g := storage.Guard(next, storage.GuardOptions{Timeout: 20 * time.Millisecond})

	start := time.Now()
	err := g.Write(ctx, []byte("slow"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

// stallBackend ignores ctx and blocks writes until release is closed.
type stallBackend struct {
	storage.Memory
	release chan struct{}
}

func (s *stallBackend) Write(_ context.Context, data []byte) error {
	<-s.release
	return s.Memory.Write(context.Background(), data)
}

func TestGuard_TimeoutWithBackendIgnoringContext(t *testing.T) {
	next := &stallBackend{release: make(chan struct{})}
	g := storage.Guard(next, storage.GuardOptions{Timeout: 50 * time.Millisecond})

	start := time.Now()
	err := g.Write(ctx, []byte("stalled"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	// Later calls wait behind the stalled one and time out too.
	err = g.Write(ctx, []byte("next"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(next.release)
	require.Eventually(t, func() bool {
		return g.Write(ctx, []byte("after")) == nil
	}, time.Second, 10*time.Millisecond)

	got, err := g.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), got)
}

func TestGuard_StalledCallsOpenBreaker(t *testing.T) {
	next := &stallBackend{release: make(chan struct{})}
	defer close(next.release)
	g := storage.Guard(next, storage.GuardOptions{
		Timeout:          20 * time.Millisecond,
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	})

	assert.ErrorIs(t, g.Write(ctx, []byte("a")), context.DeadlineExceeded)
	assert.ErrorIs(t, g.Write(ctx, []byte("b")), context.DeadlineExceeded)

	start := time.Now()
	assert.ErrorIs(t, g.Write(ctx, []byte("c")), gobreaker.ErrOpenState)
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}
