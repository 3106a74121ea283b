package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireSerializesSameKey(t *testing.T) {
	r := NewRegistry()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, err := r.Acquire(context.Background(), "dawn")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	r := NewRegistry()

	_, releaseA, err := r.TryAcquire(context.Background(), "theme-a")
	require.NoError(t, err)
	defer releaseA()

	_, releaseB, err := r.TryAcquire(context.Background(), "theme-b")
	require.NoError(t, err)
	releaseB()
}

func TestTryAcquireLocked(t *testing.T) {
	r := NewRegistry()

	_, release, err := r.TryAcquire(context.Background(), "dawn")
	require.NoError(t, err)

	_, _, err = r.TryAcquire(context.Background(), "dawn")
	assert.ErrorIs(t, err, ErrLocked)

	release()
	release() // releasing twice is harmless

	_, release, err = r.TryAcquire(context.Background(), "dawn")
	require.NoError(t, err)
	release()
}

func TestReentrantThroughContext(t *testing.T) {
	r := NewRegistry()

	ctx, release, err := r.Acquire(context.Background(), "dawn")
	require.NoError(t, err)
	defer release()
	assert.True(t, Held(ctx, "dawn"))
	assert.False(t, Held(ctx, "other"))

	inner, innerRelease, err := r.TryAcquire(ctx, "dawn")
	require.NoError(t, err)
	innerRelease()
	assert.True(t, Held(inner, "dawn"))

	// the outer hold survives the inner release
	_, _, err = r.TryAcquire(context.Background(), "dawn")
	assert.ErrorIs(t, err, ErrLocked)
}

func TestAcquireHonoursContext(t *testing.T) {
	r := NewRegistry()

	_, release, err := r.Acquire(context.Background(), "dawn")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err = r.Acquire(ctx, "dawn")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
