package biosecure

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// workerJob is a unit of crypto work submitted to the pool
type workerJob struct {
	fn   func() ([]byte, error)
	done chan workerResult
}

type workerResult struct {
	out []byte
	err error
}

// workerPool runs crypto work on a fixed set of goroutines so that unwrap and
// AEAD operations never run on the caller's goroutine.
type workerPool struct {
	jobs      chan workerJob
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// newWorkerPool starts n workers. If n <= 0, runtime.NumCPU() is used.
func newWorkerPool(n int) *workerPool {
	if n <= 0 {
		n = runtime.NumCPU()
	}

	p := &workerPool{
		jobs:   make(chan workerJob),
		closed: make(chan struct{}),
	}

	for w := 0; w < n; w++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.closed:
			return
		case job := <-p.jobs:
			job.done <- execute(job.fn)
		}
	}
}

// execute runs fn, converting a panic into an error
func execute(fn func() ([]byte, error)) (res workerResult) {
	defer func() {
		if r := recover(); r != nil {
			res = workerResult{err: fmt.Errorf("panic in crypto worker: %v", r)}
		}
	}()

	out, err := fn()
	return workerResult{out: out, err: err}
}

// Run submits fn and waits for its result. A cancelled ctx returns ctx.Err()
// without waiting for a job that is already running.
func (p *workerPool) Run(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	job := workerJob{fn: fn, done: make(chan workerResult, 1)}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, ErrClosed
	case p.jobs <- job:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-job.done:
		return res.out, res.err
	}
}

// Close stops the workers. Jobs submitted afterwards return ErrClosed.
func (p *workerPool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()
}
