package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGoRecoversPanic(t *testing.T) {
	got := make(chan error, 1)
	SafeGo("boom", func() { panic("kaboom") }, func(err error) { got <- err })

	select {
	case err := <-got:
		assert.Contains(t, err.Error(), "boom: panic: kaboom")
	case <-time.After(time.Second):
		t.Fatal("onPanic not called")
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "p1")
			require.NoError(t, err)
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	m := NewKeyedMutex()
	unlock, err := m.Lock(context.Background(), "p1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "p1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := m.Lock(context.Background(), "p2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	assert.Equal(t, 0, m.Len())
}
