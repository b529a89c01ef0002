package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrNotStarted marks items that were never handed to the job because the
// context was done before a slot became available.
var ErrNotStarted = errors.New("job not started")

// JobError records the failure of a single item.
type JobError struct {
	Index int
	Err   error
}

func (e JobError) Error() string {
	return fmt.Sprintf("job %d: %v", e.Index, e.Err)
}

func (e JobError) Unwrap() error { return e.Err }

// AggregateError is returned by Run when one or more jobs failed. Failures are
// ordered by item index.
type AggregateError struct {
	Total  int
	Errors []JobError
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, je := range e.Errors {
		parts = append(parts, je.Error())
	}
	return fmt.Sprintf("%d of %d jobs failed: %s", len(e.Errors), e.Total, strings.Join(parts, "; "))
}

// Unwrap exposes every individual failure to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	out := make([]error, 0, len(e.Errors))
	for _, je := range e.Errors {
		out = append(out, je)
	}
	return out
}

// Indexes returns the item indexes that failed.
func (e *AggregateError) Indexes() []int {
	out := make([]int, 0, len(e.Errors))
	for _, je := range e.Errors {
		out = append(out, je.Index)
	}
	return out
}

// Job processes a single item.
type Job[T, R any] func(ctx context.Context, index int, item T) (R, error)

// Run executes job for every item with at most limit jobs in flight. A failing
// job never cancels its siblings: every item is attempted and the results slice
// is positionally aligned with items. When any job failed, the returned error
// is an *AggregateError and the results of successful jobs are still present.
func Run[T, R any](ctx context.Context, items []T, limit int, job Job[T, R]) ([]R, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("concurrency limit must be positive, got %d", limit)
	}
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	var (
		mu       sync.Mutex
		failures []JobError
	)
	fail := func(i int, err error) {
		mu.Lock()
		failures = append(failures, JobError{Index: i, Err: err})
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				fail(i, errors.Join(ErrNotStarted, err))
				return nil
			}
			res, err := job(ctx, i, item)
			if err != nil {
				fail(i, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) == 0 {
		return results, nil
	}
	sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })
	return results, &AggregateError{Total: len(items), Errors: failures}
}
