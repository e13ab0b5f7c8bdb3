package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// GuardOptions configures Guard.
type GuardOptions struct {
	// Name identifies the breaker in logs.
	Name string

	// Timeout bounds every backend call. Zero disables the per-call deadline.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Zero disables the breaker.
	FailureThreshold uint32

	// ResetTimeout is how long the breaker stays open before a trial call.
	ResetTimeout time.Duration

	Logger *slog.Logger
}

// Guarded wraps a Backend so that no call can stall the caller: each call
// runs under a deadline, and after repeated failures a circuit breaker
// rejects calls immediately with gobreaker.ErrOpenState until the reset
// timeout passes.
type Guarded struct {
	next    Backend
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	// slot admits one backend call at a time, including abandoned ones, so
	// a late write can never land after a newer one.
	slot chan struct{}
}

// Guard wraps next with a per-call timeout and a circuit breaker.
func Guard(next Backend, opts GuardOptions) *Guarded {
	g := &Guarded{next: next, timeout: opts.Timeout, slot: make(chan struct{}, 1)}
	if opts.FailureThreshold == 0 {
		return g
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "storage"
	}
	threshold := opts.FailureThreshold

	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     opts.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotExist)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("storage circuit breaker state changed",
				slog.String("backend", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return g
}

func (g *Guarded) Read(ctx context.Context) ([]byte, error) {
	return g.run(ctx, g.next.Read)
}

func (g *Guarded) Write(ctx context.Context, data []byte) error {
	_, err := g.run(ctx, func(ctx context.Context) ([]byte, error) {
		return nil, g.next.Write(ctx, data)
	})
	return err
}

func (g *Guarded) Delete(ctx context.Context) error {
	_, err := g.run(ctx, func(ctx context.Context) ([]byte, error) {
		return nil, g.next.Delete(ctx)
	})
	return err
}

// Archive forwards to the wrapped backend when it supports archiving.
func (g *Guarded) Archive(ctx context.Context, data []byte) error {
	a, ok := g.next.(Archiver)
	if !ok {
		return nil
	}
	_, err := g.run(ctx, func(ctx context.Context) ([]byte, error) {
		return nil, a.Archive(ctx, data)
	})
	return err
}

// Close closes the wrapped backend if it holds resources.
func (g *Guarded) Close() error {
	if c, ok := g.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (g *Guarded) run(ctx context.Context, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	if g.cb == nil {
		return g.await(ctx, fn)
	}
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.await(ctx, fn)
	})
	data, _ := v.([]byte)
	return data, err
}

type result struct {
	data []byte
	err  error
}

// await runs fn on its own goroutine and gives up when ctx ends, so a
// backend that ignores ctx cannot hold the caller past its deadline. The
// abandoned call finishes in the background and its result is discarded.
func (g *Guarded) await(ctx context.Context, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("storage busy: %w", ctx.Err())
	}

	done := make(chan result, 1)
	go func() {
		defer func() { <-g.slot }()
		data, err := fn(ctx)
		done <- result{data: data, err: err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("storage call abandoned: %w", ctx.Err())
	}
}

var (
	_ Backend  = (*Guarded)(nil)
	_ Archiver = (*Guarded)(nil)
)
