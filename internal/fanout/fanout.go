// Package fanout runs independent tasks concurrently and collects each
// task's result separately, so one failure never cancels its siblings.
package fanout

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of task Index.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Run calls fn for every index in [0, n) with at most limit calls in
// flight (limit <= 0 means unbounded) and waits for all of them. Results
// are returned in index order. A panicking task is reported as an error.
func Run[T any](ctx context.Context, n, limit int, fn func(ctx context.Context, i int) (T, error)) []Result[T] {
	results := make([]Result[T], n)
	if n == 0 {
		return results
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			results[i] = call(ctx, i, fn)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func call[T any](ctx context.Context, i int, fn func(context.Context, int) (T, error)) (res Result[T]) {
	res.Index = i
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task %d panicked: %v", i, r)
		}
	}()
	res.Value, res.Err = fn(ctx, i)
	return res
}
