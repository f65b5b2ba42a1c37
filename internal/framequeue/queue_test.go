package framequeue

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camrec/internal/media"
)

func frameN(n int) media.Frame {
	return media.Frame{Data: []byte{byte(n)}, Width: n, Height: 1, Layout: media.LayoutNV21}
}

func TestNew_MinimumCapacity(t *testing.T) {
	q := New(0)
	assert.Equal(t, 1, q.Cap())

	q = New(DefaultCapacity)
	assert.Equal(t, 10, q.Cap())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_FIFO(t *testing.T) {
	q := New(4)
	for i := 0; i < 3; i++ {
		q.Offer(frameN(i))
	}

	for i := 0; i < 3; i++ {
		f, ok := q.Poll(0)
		require.True(t, ok)
		assert.Equal(t, i, f.Width)
	}

	_, ok := q.Poll(0)
	assert.False(t, ok)
}

func TestQueue_DropOldest(t *testing.T) {
	q := New(3)
	for i := 0; i < 7; i++ {
		q.Offer(frameN(i))
	}

	assert.Equal(t, 3, q.Len())
	stats := q.Stats()
	assert.Equal(t, uint64(7), stats.Offered)
	assert.Equal(t, uint64(4), stats.Dropped)

	got := q.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, 4, got[0].Width)
	assert.Equal(t, 5, got[1].Width)
	assert.Equal(t, 6, got[2].Width)
	assert.Equal(t, 0, q.Len())
}

// For any sequence of offers and polls, the queue holds at most N frames and
// they are always the most recent ones offered, oldest first.
func TestQueue_BoundAndRecencyProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		capacity := 1 + rng.Intn(12)
		q := New(capacity)

		var model []int
		next := 0
		for step := 0; step < 100; step++ {
			if rng.Intn(3) > 0 {
				q.Offer(frameN(next))
				model = append(model, next)
				if len(model) > capacity {
					model = model[1:]
				}
				next++
			} else {
				f, ok := q.Poll(0)
				if len(model) == 0 {
					assert.False(t, ok)
					continue
				}
				require.True(t, ok)
				assert.Equal(t, model[0], f.Width)
				model = model[1:]
			}
			require.LessOrEqual(t, q.Len(), capacity)
			require.Equal(t, len(model), q.Len())
		}
	}
}

func TestQueue_PollTimeout(t *testing.T) {
	q := New(2)

	start := time.Now()
	_, ok := q.Poll(20 * time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
}

func TestQueue_PollWakesOnOffer(t *testing.T) {
	q := New(2)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Offer(frameN(9))
	}()

	f, ok := q.Poll(time.Second)
	require.True(t, ok)
	assert.Equal(t, 9, f.Width)
}

func TestQueue_PollContextCancelled(t *testing.T) {
	q := New(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.PollContext(ctx, time.Second)
	assert.False(t, ok)
}

func TestQueue_Close(t *testing.T) {
	q := New(2)
	q.Offer(frameN(1))
	assert.False(t, q.Closed())
	q.Close()
	assert.True(t, q.Closed())
	q.Offer(frameN(2))

	f, ok := q.Poll(time.Second)
	require.True(t, ok)
	assert.Equal(t, 1, f.Width)

	start := time.Now()
	_, ok = q.Poll(time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New(DefaultCapacity)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				q.Offer(frameN(i))
			}
		}()
	}

	done := make(chan struct{})
	polled := 0
	go func() {
		defer close(done)
		for {
			if _, ok := q.Poll(50 * time.Millisecond); !ok {
				return
			}
			polled++
		}
	}()

	wg.Wait()
	<-done

	stats := q.Stats()
	assert.Equal(t, uint64(2000), stats.Offered)
	assert.Equal(t, stats.Offered, stats.Dropped+stats.Polled+uint64(q.Len()))
	assert.LessOrEqual(t, q.Len(), DefaultCapacity)
	assert.Equal(t, uint64(polled), stats.Polled)
}
