// Package parallel provides generic parallel processing utilities.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// PoolConfig configures the worker pool behavior.
type PoolConfig struct {
	// MaxWorkers is the maximum number of concurrent workers.
	// Default: min(runtime.NumCPU(), 8)
	MaxWorkers int

	// Timeout bounds the whole operation. Zero means no timeout.
	Timeout time.Duration
}

// DefaultPoolConfig returns a default pool configuration.
func DefaultPoolConfig() PoolConfig {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	if workers < 2 {
		workers = 2
	}
	return PoolConfig{MaxWorkers: workers}
}

// WithWorkers returns a new config with the specified number of workers.
func (c PoolConfig) WithWorkers(n int) PoolConfig {
	c.MaxWorkers = n
	return c
}

// WithTimeout returns a new config with the specified timeout.
func (c PoolConfig) WithTimeout(d time.Duration) PoolConfig {
	c.Timeout = d
	return c
}

// TaskResult holds the result of one input.
type TaskResult[T any, R any] struct {
	Input    T
	Result   R
	Error    error
	Duration time.Duration
}

// WorkerPool runs one function over a slice of inputs with bounded concurrency.
type WorkerPool[T any, R any] struct {
	config PoolConfig
}

// NewWorkerPool creates a new worker pool with the given configuration.
func NewWorkerPool[T any, R any](config PoolConfig) *WorkerPool[T, R] {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultPoolConfig().MaxWorkers
	}
	return &WorkerPool[T, R]{config: config}
}

// ExecuteFunc applies fn to every input. Results keep the input order.
// Inputs not started before ctx is done carry ctx.Err().
func (p *WorkerPool[T, R]) ExecuteFunc(ctx context.Context, inputs []T, fn func(ctx context.Context, input T) (R, error)) []TaskResult[T, R] {
	if len(inputs) == 0 {
		return nil
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	results := make([]TaskResult[T, R], len(inputs))
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < min(p.config.MaxWorkers, len(inputs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexes {
				res := &results[idx]
				res.Input = inputs[idx]
				if err := ctx.Err(); err != nil {
					res.Error = err
					continue
				}
				start := time.Now()
				res.Result, res.Error = fn(ctx, inputs[idx])
				res.Duration = time.Since(start)
			}
		}()
	}

	for i := range inputs {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return results
}

// MapReduce applies a map function to each item in parallel and reduces the
// results in input order.
func MapReduce[T any, M any, R any](
	ctx context.Context,
	items []T,
	config PoolConfig,
	mapper func(ctx context.Context, item T) (M, error),
	reducer func(mapped []M) R,
) (R, error) {
	var zero R
	if len(items) == 0 {
		return reducer(nil), nil
	}

	results := NewWorkerPool[T, M](config).ExecuteFunc(ctx, items, mapper)
	mapped := make([]M, len(results))
	for i, r := range results {
		if r.Error != nil {
			return zero, r.Error
		}
		mapped[i] = r.Result
	}
	return reducer(mapped), nil
}

// ForEach executes fn for each item in parallel.
// It returns the number of items processed successfully and the error of the
// lowest-indexed failing item.
func ForEach[T any](
	ctx context.Context,
	items []T,
	config PoolConfig,
	fn func(ctx context.Context, item T) error,
) (processed int64, firstError error) {
	results := NewWorkerPool[T, struct{}](config).ExecuteFunc(ctx, items, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
	for _, r := range results {
		if r.Error != nil {
			if firstError == nil {
				firstError = r.Error
			}
			continue
		}
		processed++
	}
	return processed, firstError
}
