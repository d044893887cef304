// Package taskqueue runs a fixed set of tasks with bounded concurrency.
package taskqueue

import (
	"context"
	"sync"
	"sync/atomic"
)

// Task produces one result or fails.
type Task[T any] func(ctx context.Context) (T, error)

// Run executes every task with at most limit running concurrently and
// returns results in task order. On the first failure no further tasks are
// started, tasks already in flight run to completion, and the first error is
// returned. A limit below one runs tasks one at a time.
func Run[T any](ctx context.Context, limit int, tasks []Task[T]) ([]T, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	if limit < 1 {
		limit = 1
	}
	workers := min(limit, len(tasks))

	results := make([]T, len(tasks))
	var next atomic.Int64
	var stopped atomic.Bool
	var once sync.Once
	var firstErr error

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if stopped.Load() || ctx.Err() != nil {
					return
				}
				i := int(next.Add(1)) - 1
				if i >= len(tasks) {
					return
				}

				result, err := tasks[i](ctx)
				if err != nil {
					once.Do(func() { firstErr = err })
					stopped.Store(true)
					return
				}
				results[i] = result
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
