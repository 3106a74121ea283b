// Package lock serializes work on the same theme package. Locks are keyed by
// package id, honour context cancellation and are re-entrant through the
// context: code running under a context that already holds a key may take the
// same key again without blocking.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLocked is returned by TryAcquire when the key is held elsewhere
var ErrLocked = errors.New("package is locked by another operation")

type heldKey struct{ key string }

// Registry hands out one lock per key
type Registry struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewRegistry creates an empty lock registry
func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]chan struct{})}
}

func (r *Registry) slot(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		r.slots[key] = ch
	}
	return ch
}

// Held reports whether ctx already holds key
func Held(ctx context.Context, key string) bool {
	return ctx.Value(heldKey{key}) != nil
}

// Acquire blocks until key is free or ctx is done. It returns a context that
// carries the held key and a release function. When ctx already holds key the
// call returns immediately with a no-op release.
func (r *Registry) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	if Held(ctx, key) {
		return ctx, func() {}, nil
	}

	ch := r.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return ctx, nil, fmt.Errorf("waiting for lock on %s: %w", key, ctx.Err())
	}

	return r.held(ctx, key, ch)
}

// TryAcquire is Acquire without waiting: it fails with ErrLocked when key is
// already held by someone else.
func (r *Registry) TryAcquire(ctx context.Context, key string) (context.Context, func(), error) {
	if Held(ctx, key) {
		return ctx, func() {}, nil
	}

	ch := r.slot(key)
	select {
	case ch <- struct{}{}:
	default:
		return ctx, nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}

	return r.held(ctx, key, ch)
}

func (r *Registry) held(ctx context.Context, key string, ch chan struct{}) (context.Context, func(), error) {
	var once sync.Once
	release := func() {
		once.Do(func() { <-ch })
	}
	return context.WithValue(ctx, heldKey{key}, true), release, nil
}
