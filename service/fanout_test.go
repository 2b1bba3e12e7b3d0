package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// 属性：k 个任务失败时，结果恰好缺少这 k 个 key，其余 n-k 个都在；每个任务恰好 settle 一次
func TestProperty_FanOut_FailedTasksHaveNoKey(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		fail := make([]bool, n)
		boom := make([]bool, n)
		for i := range fail {
			fail[i] = rapid.Bool().Draw(rt, "fail")
			boom[i] = fail[i] && rapid.Bool().Draw(rt, "panic")
		}

		tasks := make([]Task[int, int], n)
		for i := range tasks {
			tasks[i] = Task[int, int]{Key: i, Run: func(ctx context.Context) (int, error) {
				if boom[i] {
					panic("boom")
				}
				if fail[i] {
					return 0, errors.New("failed")
				}
				return i * 10, nil
			}}
		}

		var settled sync.Map
		var calls atomic.Int32
		got := FanOut(context.Background(), tasks, func(k int, v int, err error) {
			calls.Add(1)
			settled.Store(k, err)
		})

		assert.Equal(rt, int32(n), calls.Load())
		for i := 0; i < n; i++ {
			v, ok := got[i]
			assert.Equal(rt, !fail[i], ok, "key %d", i)
			if ok {
				assert.Equal(rt, i*10, v)
			}
			errAny, _ := settled.Load(i)
			assert.Equal(rt, fail[i], errAny != nil)
		}
	})
}

func TestFanOut_RunsTasksConcurrently(t *testing.T) {
	const n = 5
	var started sync.WaitGroup
	started.Add(n)
	all := make(chan struct{})
	go func() {
		started.Wait()
		close(all)
	}()

	tasks := make([]Task[int, bool], n)
	for i := range tasks {
		tasks[i] = Task[int, bool]{Key: i, Run: func(ctx context.Context) (bool, error) {
			started.Done()
			// every task waits for its siblings: only possible if they run at the same time
			select {
			case <-all:
				return true, nil
			case <-time.After(2 * time.Second):
				return false, errors.New("siblings never started")
			}
		}}
	}
	got := FanOut(context.Background(), tasks, nil)
	assert.Len(t, got, n)
}

func TestFanOut_CanceledContextSkipsTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	var errs []error
	var mu sync.Mutex
	tasks := []Task[string, int]{
		{Key: "a", Run: func(context.Context) (int, error) { ran.Add(1); return 1, nil }},
		{Key: "b", Run: func(context.Context) (int, error) { ran.Add(1); return 2, nil }},
	}
	got := FanOut(ctx, tasks, func(_ string, _ int, err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	assert.Empty(t, got)
	assert.Zero(t, ran.Load())
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
