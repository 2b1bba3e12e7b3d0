package service

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task 并行任务：Key 唯一标识任务（角色名、组合键、分组 ID 等）
type Task[K comparable, V any] struct {
	Key K
	Run func(ctx context.Context) (V, error)
}

// Settled is called once per task, from the task's goroutine, as soon as it finishes.
// Calls therefore arrive in completion order, not submission order.
type Settled[K comparable, V any] func(key K, value V, err error)

// FanOut runs every task concurrently, waits for all of them to settle and returns
// the successful results keyed by task identity. A failed task simply has no entry;
// siblings are never cancelled and nothing is retried.
//
// Tasks not yet started when ctx is done are skipped and reported as failed.
func FanOut[K comparable, V any](ctx context.Context, tasks []Task[K, V], onSettled Settled[K, V]) map[K]V {
	var (
		mu      sync.Mutex
		results = make(map[K]V, len(tasks))
		g       errgroup.Group
	)
	for _, t := range tasks {
		g.Go(func() error {
			var (
				v   V
				err error
			)
			if cerr := ctx.Err(); cerr != nil {
				err = cerr
			} else {
				v, err = runTask(ctx, t)
			}
			if err == nil {
				mu.Lock()
				results[t.Key] = v
				mu.Unlock()
			}
			if onSettled != nil {
				onSettled(t.Key, v, err)
			}
			// never propagate: one failure must not mark the group failed
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runTask turns a panicking task into an ordinary failure.
func runTask[K comparable, V any](ctx context.Context, t Task[K, V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %v panicked: %v", t.Key, r)
		}
	}()
	return t.Run(ctx)
}
