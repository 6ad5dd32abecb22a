package executor

import (
	"context"
	"runtime"
	"sync"

	"github.com/cockroachdb/errors"
)

// WorkerPool runs independent units of work on a bounded set of
// goroutines. Partition pair tasks are scheduled through it.
type WorkerPool struct {
	workerCount int
}

// NewWorkerPool creates a new worker pool
// workerCount: number of worker goroutines (0 = use NumCPU)
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	return &WorkerPool{
		workerCount: workerCount,
	}
}

// GetWorkerCount returns the number of worker goroutines
func (p *WorkerPool) GetWorkerCount() int {
	return p.workerCount
}

// ExecuteParallel runs operation on every input and returns the results in
// input order.
//
// A failing operation does not stop its siblings: every input runs to
// completion, then the error of the lowest failing index is returned.
func ExecuteParallel[In, Out any](
	ctx context.Context,
	p *WorkerPool,
	inputs []In,
	operation func(context.Context, In) (Out, error),
) ([]Out, error) {
	if len(inputs) == 0 {
		return []Out{}, nil
	}

	results := make([]Out, len(inputs))
	errs := make([]error, len(inputs))

	jobs := make(chan int, len(inputs))
	for i := range inputs {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < min(p.workerCount, len(inputs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx], errs[idx] = operation(ctx, inputs[idx])
			}
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "parallel execution failed at index %d", i)
		}
	}
	return results, nil
}
