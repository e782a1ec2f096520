package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerSerializesSameKey(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := locker.Acquire(ctx, "USD|BUY", time.Second)
			require.NoError(t, err)
			defer release()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "at most one holder per key at any time")
}

func TestMemoryLockerIndependentKeys(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	releaseA, err := locker.Acquire(ctx, "USD|BUY", time.Second)
	require.NoError(t, err)
	defer releaseA()

	// A different key must not block.
	done := make(chan struct{})
	go func() {
		releaseB, err := locker.Acquire(ctx, "USD|SELL", time.Second)
		assert.NoError(t, err)
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent key blocked")
	}
}

func TestMemoryLockerContextCancellation(t *testing.T) {
	locker := NewMemoryLocker()

	release, err := locker.Acquire(context.Background(), "EUR|BUY", time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Acquire(ctx, "EUR|BUY", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
}
