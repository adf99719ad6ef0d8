package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()
	assert.GreaterOrEqual(t, cfg.MaxWorkers, 2)
	assert.LessOrEqual(t, cfg.MaxWorkers, 8)
	assert.Equal(t, 3, cfg.WithWorkers(3).MaxWorkers)
	assert.Equal(t, time.Second, cfg.WithTimeout(time.Second).Timeout)
}

func TestWorkerPool_ExecuteFunc(t *testing.T) {
	pool := NewWorkerPool[int, int](PoolConfig{MaxWorkers: 3})

	inputs := []int{1, 2, 3, 4, 5, 6, 7}
	results := pool.ExecuteFunc(context.Background(), inputs, func(ctx context.Context, input int) (int, error) {
		return input * 2, nil
	})

	require.Len(t, results, len(inputs))
	for i, r := range results {
		assert.Equal(t, inputs[i], r.Input)
		assert.Equal(t, inputs[i]*2, r.Result)
		assert.NoError(t, r.Error)
	}
}

func TestWorkerPool_Empty(t *testing.T) {
	pool := NewWorkerPool[int, int](PoolConfig{})
	assert.Nil(t, pool.ExecuteFunc(context.Background(), nil, func(ctx context.Context, input int) (int, error) {
		return input, nil
	}))
}

func TestWorkerPool_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	results := NewWorkerPool[int, int](PoolConfig{MaxWorkers: 2}).ExecuteFunc(ctx, []int{1, 2, 3}, func(ctx context.Context, input int) (int, error) {
		calls.Add(1)
		return input, nil
	})

	assert.Zero(t, calls.Load())
	for _, r := range results {
		assert.ErrorIs(t, r.Error, context.Canceled)
	}
}

func TestWorkerPool_Timeout(t *testing.T) {
	pool := NewWorkerPool[int, int](PoolConfig{MaxWorkers: 1, Timeout: 20 * time.Millisecond})
	results := pool.ExecuteFunc(context.Background(), []int{1, 2}, func(ctx context.Context, input int) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	for _, r := range results {
		assert.ErrorIs(t, r.Error, context.DeadlineExceeded)
	}
}

func TestMapReduce(t *testing.T) {
	sum := func(mapped []int) int {
		total := 0
		for _, v := range mapped {
			total += v
		}
		return total
	}
	square := func(ctx context.Context, item int) (int, error) {
		return item * item, nil
	}

	t.Run("sums squares", func(t *testing.T) {
		result, err := MapReduce(context.Background(), []int{1, 2, 3, 4, 5}, DefaultPoolConfig(), square, sum)
		require.NoError(t, err)
		assert.Equal(t, 55, result)
	})

	t.Run("empty input", func(t *testing.T) {
		result, err := MapReduce(context.Background(), nil, DefaultPoolConfig(), square, sum)
		require.NoError(t, err)
		assert.Zero(t, result)
	})

	t.Run("mapper error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := MapReduce(context.Background(), []int{1, 2}, DefaultPoolConfig(), func(ctx context.Context, item int) (int, error) {
			if item == 2 {
				return 0, boom
			}
			return item, nil
		}, sum)
		assert.ErrorIs(t, err, boom)
	})
}

func TestForEach(t *testing.T) {
	t.Run("all succeed", func(t *testing.T) {
		var sum atomic.Int64
		processed, err := ForEach(context.Background(), []int{1, 2, 3, 4, 5}, DefaultPoolConfig(), func(ctx context.Context, item int) error {
			sum.Add(int64(item))
			return nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 5, processed)
		assert.EqualValues(t, 15, sum.Load())
	})

	t.Run("reports lowest failing item", func(t *testing.T) {
		processed, err := ForEach(context.Background(), []int{1, 2, 3, 4}, PoolConfig{MaxWorkers: 4}, func(ctx context.Context, item int) error {
			if item%2 == 0 {
				return errors.New("even")
			}
			return nil
		})
		assert.EqualError(t, err, "even")
		assert.EqualValues(t, 2, processed)
	})
}

func BenchmarkWorkerPool(b *testing.B) {
	pool := NewWorkerPool[int, int](DefaultPoolConfig())
	inputs := make([]int, 1000)
	for i := range inputs {
		inputs[i] = i
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.ExecuteFunc(context.Background(), inputs, func(ctx context.Context, input int) (int, error) {
			return input * 2, nil
		})
	}
}
