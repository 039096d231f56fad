package task

import (
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"go.uber.org/multierr"
)

// Pool fans data-parallel work out to long-lived workers. Workers are reused
// across frames; each ParallelFor call joins on its own WaitGroup because the
// pool's Wait blocks until workers idle-exit.
type Pool struct {
	workers worker.DynamicWorkerPool
	chunk   int
}

// NewPool starts a pool of n workers. chunk is the default number of items
// per submitted task.
func NewPool(n, queue, chunk int, idle time.Duration) *Pool {
	if chunk <= 0 {
		chunk = 256
	}
	if queue <= 0 {
		queue = 256
	}
	return &Pool{
		workers: worker.NewDynamicWorkerPool(n, queue, idle),
		chunk:   chunk,
	}
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers.GetMaxWorkers() }

// ParallelFor calls fn over [0, n) split into chunks and waits for every
// chunk. Errors from all chunks are combined. Every chunk runs once
// submitted; if any chunk panicked, the first panic value is re-raised on
// the calling goroutine after the others finish.
func (p *Pool) ParallelFor(n int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	if n <= p.chunk {
		return fn(0, n)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     error
		panicked any
	)
	id := 0
	for lo := 0; lo < n; lo += p.chunk {
		hi := min(lo+p.chunk, n)
		wg.Add(1)
		p.workers.SubmitTask(worker.Task{
			ID:      id,
			Payload: [2]int{lo, hi},
			Do: func() (any, error) {
				defer wg.Done()
				r, err := call(fn, lo, hi)
				if err != nil || r != nil {
					mu.Lock()
					errs = multierr.Append(errs, err)
					if panicked == nil {
						panicked = r
					}
					mu.Unlock()
				}
				return nil, err
			},
		})
		id++
	}
	wg.Wait()
	if panicked != nil {
		panic(panicked)
	}
	return errs
}

// Close stops the workers. Queued tasks are abandoned.
func (p *Pool) Close() {
	p.workers.Stop()
}

// call runs one chunk on a worker and hands back what it panicked with.
func call(fn func(lo, hi int) error, lo, hi int) (recovered any, err error) {
	defer func() {
		recovered = recover()
	}()
	return nil, fn(lo, hi)
}
