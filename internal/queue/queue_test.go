package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAndProcess(t *testing.T) {
	q := New(8, 1)
	done := make(chan Job, 8)
	q.Register(TypeAudit, func(ctx context.Context, job Job) error {
		done <- job
		return nil
	})
	q.Start(context.Background())
	defer q.Stop(time.Second)

	require.True(t, q.Enqueue(TypeAudit, "payload", 1))

	select {
	case job := <-done:
		assert.Equal(t, TypeAudit, job.Type)
		assert.Equal(t, "payload", job.Payload)
		assert.NotEmpty(t, job.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestPriorityOrder(t *testing.T) {
	q := New(8, 1)
	var mu sync.Mutex
	var order []int
	q.Register(TypeAudit, func(ctx context.Context, job Job) error {
		mu.Lock()
		order = append(order, job.Priority)
		mu.Unlock()
		return nil
	})

	// Enqueue before starting workers so the heap orders the whole batch.
	require.True(t, q.Enqueue(TypeAudit, nil, 1))
	require.True(t, q.Enqueue(TypeAudit, nil, 5))
	require.True(t, q.Enqueue(TypeAudit, nil, 3))

	q.Start(context.Background())
	q.Stop(2 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{5, 3, 1}, order)
}

func TestFIFOWithinPriority(t *testing.T) {
	q := New(8, 1)
	var mu sync.Mutex
	var order []any
	q.Register(TypeAudit, func(ctx context.Context, job Job) error {
		mu.Lock()
		order = append(order, job.Payload)
		mu.Unlock()
		return nil
	})

	require.True(t, q.Enqueue(TypeAudit, "a", 1))
	require.True(t, q.Enqueue(TypeAudit, "b", 1))
	require.True(t, q.Enqueue(TypeAudit, "c", 1))

	q.Start(context.Background())
	q.Stop(2 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{"a", "b", "c"}, order)
}

func TestEnqueueFullDropsWithoutBlocking(t *testing.T) {
	q := New(2, 1)
	q.Register(TypeAudit, func(ctx context.Context, job Job) error { return nil })
	// Workers not started: nothing drains.

	assert.True(t, q.Enqueue(TypeAudit, nil, 1))
	assert.True(t, q.Enqueue(TypeAudit, nil, 1))

	start := time.Now()
	assert.False(t, q.Enqueue(TypeAudit, nil, 1))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "full queue must reject, not block")
	assert.Equal(t, int64(1), q.Rejected())
	assert.Equal(t, 2, q.Depth())
}

func TestEnqueueAfterStop(t *testing.T) {
	q := New(8, 1)
	q.Register(TypeAudit, func(ctx context.Context, job Job) error { return nil })
	q.Start(context.Background())
	q.Stop(time.Second)

	assert.False(t, q.Enqueue(TypeAudit, nil, 1))
	assert.Equal(t, int64(1), q.Rejected())
}

func TestHandlerErrorCountedNotPropagated(t *testing.T) {
	q := New(8, 1)
	q.Register(TypeAudit, func(ctx context.Context, job Job) error {
		return errors.New("boom")
	})
	q.Start(context.Background())

	require.True(t, q.Enqueue(TypeAudit, nil, 1))
	q.Stop(2 * time.Second)

	assert.Equal(t, int64(1), q.Processed())
	assert.Equal(t, int64(1), q.Failed())
}

func TestHandlerPanicRecovered(t *testing.T) {
	q := New(8, 1)
	ran := make(chan struct{}, 1)
	q.Register(TypeAudit, func(ctx context.Context, job Job) error {
		panic("boom")
	})
	q.Register(TypeRetention, func(ctx context.Context, job Job) error {
		ran <- struct{}{}
		return nil
	})
	q.Start(context.Background())
	defer q.Stop(time.Second)

	require.True(t, q.Enqueue(TypeAudit, nil, 5))
	require.True(t, q.Enqueue(TypeRetention, nil, 1))

	select {
	case <-ran:
		// worker survived the panic and kept draining
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
	assert.Equal(t, int64(1), q.Failed())
}

func TestUnknownTypeCountedFailed(t *testing.T) {
	q := New(8, 1)
	q.Start(context.Background())

	require.True(t, q.Enqueue(Type("mystery"), nil, 1))
	q.Stop(2 * time.Second)

	assert.Equal(t, int64(1), q.Failed())
}

func TestStopDrainsQueued(t *testing.T) {
	q := New(16, 2)
	var processed sync.WaitGroup
	processed.Add(10)
	q.Register(TypeAudit, func(ctx context.Context, job Job) error {
		processed.Done()
		return nil
	})

	for i := 0; i < 10; i++ {
		require.True(t, q.Enqueue(TypeAudit, i, 1))
	}
	q.Start(context.Background())
	q.Stop(5 * time.Second)

	done := make(chan struct{})
	go func() {
		processed.Wait()
		close(done)
	}()
	select {
	case <-done:
		assert.Equal(t, int64(10), q.Processed())
	case <-time.After(time.Second):
		t.Fatal("Stop returned before draining queued jobs")
	}
}
