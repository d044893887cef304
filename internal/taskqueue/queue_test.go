package taskqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ReturnsResultsInOrder(t *testing.T) {
	tasks := make([]Task[int], 10)
	for i := range tasks {
		n := i
		tasks[i] = func(ctx context.Context) (int, error) {
			return n * n, nil
		}
	}

	results, err := Run(context.Background(), 3, tasks)
	require.NoError(t, err)
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, i*i, r)
	}
}

func TestRun_RespectsConcurrencyLimit(t *testing.T) {
	var current, peak atomic.Int32
	tasks := make([]Task[struct{}], 10)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (struct{}, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return struct{}{}, nil
		}
	}

	_, err := Run(context.Background(), 4, tasks)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.Greater(t, peak.Load(), int32(1), "tasks should actually overlap")
}

func TestRun_FirstErrorStopsNewTasks(t *testing.T) {
	boom := errors.New("boom")
	var started atomic.Int32
	tasks := make([]Task[struct{}], 10)
	for i := range tasks {
		n := i
		tasks[i] = func(ctx context.Context) (struct{}, error) {
			started.Add(1)
			if n == 1 {
				return struct{}{}, boom
			}
			return struct{}{}, nil
		}
	}

	_, err := Run(context.Background(), 1, tasks)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), started.Load(), "tasks after the failure never start")
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []Task[int]{func(ctx context.Context) (int, error) { return 1, nil }}
	_, err := Run(ctx, 2, tasks)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_EmptyTasks(t *testing.T) {
	results, err := Run[int](context.Background(), 4, nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}
