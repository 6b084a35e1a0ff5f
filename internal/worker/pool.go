// Package worker provides a bounded pool that fetches basemap tiles in parallel.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/MeKo-Tech/countrymap/internal/tile"
)

// Fetcher loads the image bytes for one tile.
type Fetcher interface {
	Fetch(ctx context.Context, coords tile.Coords) ([]byte, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, coords tile.Coords) ([]byte, error)

// Fetch calls f(ctx, coords).
func (f FetcherFunc) Fetch(ctx context.Context, coords tile.Coords) ([]byte, error) {
	return f(ctx, coords)
}

// Task represents a single tile fetch.
type Task struct {
	Coords tile.Coords
}

// Result represents the outcome of a tile fetch.
type Result struct {
	Task    Task
	Data    []byte
	Err     error
	Elapsed time.Duration
}

// ProgressFunc is called after each task completes.
type ProgressFunc func(completed, total, failed int)

// Config configures the worker pool.
type Config struct {
	Workers    int
	Fetcher    Fetcher
	OnProgress ProgressFunc
}

// Pool manages parallel tile fetching.
type Pool struct {
	workers    int
	fetcher    Fetcher
	onProgress ProgressFunc
}

// New creates a new worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		fetcher:    cfg.Fetcher,
		onProgress: cfg.OnProgress,
	}
}

// Workers returns the configured concurrency.
func (p *Pool) Workers() int {
	return p.workers
}

// Run executes all tasks and returns exactly one result per task.
// Tasks are processed in parallel by the configured number of workers.
// The function blocks until all tasks complete or the context is cancelled;
// tasks skipped because of cancellation report ctx.Err().
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	taskCh := make(chan Task, len(tasks))
	resultCh := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, taskCh, resultCh)
		}()
	}

	// Tasks never handed to a worker still get a result carrying ctx.Err(), so
	// callers can release everything they queued.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(taskCh)
		for i, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				for _, unsent := range tasks[i:] {
					resultCh <- Result{Task: unsent, Err: ctx.Err()}
				}
				return
			}
		}
	}()

	results := make([]Result, 0, len(tasks))
	done := make(chan struct{})

	go func() {
		completed, failed := 0, 0
		for result := range resultCh {
			results = append(results, result)

			completed++
			if result.Err != nil {
				failed++
			}

			if p.onProgress != nil {
				p.onProgress(completed, len(tasks), failed)
			}
		}
		close(done)
	}()

	wg.Wait()
	close(resultCh)
	<-done

	return results
}

// worker processes tasks from the task channel and sends results to the result channel.
func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result) {
	for task := range tasks {
		if err := ctx.Err(); err != nil {
			results <- Result{Task: task, Err: err}
			continue
		}

		start := time.Now()
		data, err := p.fetcher.Fetch(ctx, task.Coords)

		results <- Result{
			Task:    task,
			Data:    data,
			Err:     err,
			Elapsed: time.Since(start),
		}
	}
}
