package jda

import (
	"context"
	"runtime"
	"sync"
)

// maxWorkers sets the maximum number of concurrently running workers.
const maxWorkers = 64

// workerCount limits the requested number of workers to maxWorkers,
// falling back to the number of CPUs for non positive values.
func workerCount(n int) int {
	if n <= 0 || n > maxWorkers {
		n = runtime.NumCPU()
	}
	return n
}

// parallel calls fn for every index in [0, n) on a pool of workers. Every index
// is handled by exactly one call, so fn may write to the i-th slot of a result
// slice without locking. It stops handing out indices once ctx is cancelled and
// returns the context error in that case.
func parallel(ctx context.Context, n, workers int, fn func(i int)) error {
	workers = workerCount(workers)
	if workers > n {
		workers = n
	}

	jobs := make(chan int)
	go func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}
	wg.Wait()

	return ctx.Err()
}
