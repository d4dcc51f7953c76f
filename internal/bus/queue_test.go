package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePublishAndDrain(t *testing.T) {
	q := NewQueue[int](4)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.TryPublish(i))
	}
	assert.Equal(t, 4, q.Len())

	got := make([]int, 0, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, func(v int) {
			got = append(got, v)
			if len(got) == 4 {
				cancel()
			}
		})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue did not drain")
	}
	assert.Equal(t, []int{0, 1, 2, 3}, got)
}

func TestQueueFullDropsNewest(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.TryPublish(1))
	err := q.TryPublish(2)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestQueueClosedRejectsPublish(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	q.Close()
	q.Close() // idempotent
	assert.ErrorIs(t, q.TryPublish(2), ErrQueueClosed)

	// buffered events still drain after close
	got := 0
	q.Run(context.Background(), func(v int) { got = v })
	assert.Equal(t, 1, got)
}

func TestQueueCloseRacesPublishers(t *testing.T) {
	q := NewQueue[int](64)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := q.TryPublish(1); errors.Is(err, ErrQueueClosed) {
					return
				}
			}
		}()
	}

	var consumed atomic.Uint64
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(context.Background(), func(int) { consumed.Add(1) })
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	wg.Wait()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after close")
	}
	assert.NotZero(t, consumed.Load())
}
