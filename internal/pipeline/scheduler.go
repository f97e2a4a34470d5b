package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// Scheduler runs independent work items under a bounded worker pool.
// Admission is a counting semaphore (buffered channel), so a finished worker
// immediately frees a slot for the next pending item without polling.
type Scheduler struct {
	limit int
}

func NewScheduler(limit int) (*Scheduler, error) {
	if limit < 1 {
		return nil, fmt.Errorf("scheduler limit must be >= 1, got %d", limit)
	}
	return &Scheduler{limit: limit}, nil
}

func (s *Scheduler) Limit() int { return s.limit }

// Run executes worker for every item with at most s.limit invocations in
// flight. result[i] always corresponds to items[i], regardless of completion
// order; each worker writes only its own slot, so no locking is needed.
//
// Workers must not panic: failures are captured inside the returned value R.
//
// Cancelling ctx stops admitting new items; in-flight workers are waited for
// and the partial slot set is returned together with ctx.Err(). Slots of
// never-admitted items keep R's zero value.
func Run[T, R any](ctx context.Context, s *Scheduler, items []T, worker func(ctx context.Context, item T) R) ([]R, error) {
	results := make([]R, len(items))
	sem := make(chan struct{}, s.limit)
	var wg sync.WaitGroup

	var runErr error
admit:
	for i := range items {
		// A done context must stop admission even when a semaphore slot is
		// free at the same instant.
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break admit
		default:
		}
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break admit
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(slot int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			results[slot] = worker(ctx, item)
		}(i, items[i])
	}

	wg.Wait()
	return results, runErr
}
