// Pool design derived from go-highway's hwy/contrib/workerpool.
// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package swapsort

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Dispatcher runs a data-parallel job over the index domain [0, n).
// fn receives contiguous [start, end) ranges; ranges never overlap.
// Future.Wait is the barrier: no output of the job may be read before it
// returns.
type Dispatcher interface {
	Submit(n int, fn func(start, end int)) Future
	Workers() int
	Close()
}

type Future interface {
	Wait()
}

type doneFuture struct{}

func (doneFuture) Wait() {}

// Serial runs every job inline on the calling goroutine.
type Serial struct{}

func (Serial) Submit(n int, fn func(start, end int)) Future {
	if n > 0 {
		fn(0, n)
	}
	return doneFuture{}
}

func (Serial) Workers() int { return 1 }
func (Serial) Close()       {}

// job is one submitted range split into equal contiguous chunks. Whoever
// holds the job claims chunks until none are left, so a late worker finds
// nothing to do and the submitter never waits on an idle queue.
type job struct {
	fn     func(start, end int)
	n      int
	size   int
	chunks int32
	claim  atomic.Int32
	left   sync.WaitGroup
}

func (j *job) run() {
	for {
		c := int(j.claim.Add(1) - 1)
		if c >= int(j.chunks) {
			return
		}
		start := c * j.size
		j.fn(start, min(start+j.size, j.n))
		j.left.Done()
	}
}

func (j *job) Wait() { j.left.Wait() }

// Pool is a persistent worker pool. Workers are spawned once and reused for
// every dispatch of a run.
type Pool struct {
	workers int
	jobs    chan *job

	mu      sync.RWMutex // Submit sends under RLock; Close takes Lock
	closed  bool
	stopped sync.WaitGroup
}

// NewPool starts a pool with the given number of workers.
// If workers <= 0, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		workers: workers,
		jobs:    make(chan *job, workers),
	}
	p.stopped.Add(workers)
	for range workers {
		go func() {
			defer p.stopped.Done()
			for j := range p.jobs {
				j.run()
			}
		}()
	}
	return p
}

func (p *Pool) Workers() int { return p.workers }

// Close stops the workers after queued jobs have drained and waits for
// them to exit. Safe to call twice, and concurrently with Submit: jobs
// submitted after Close run on the caller.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.stopped.Wait()
}

// Submit splits [0, n) into one contiguous chunk per worker, wakes workers
// for all chunks but one and claims chunks itself before returning. The
// returned Future completes when the last chunk has run.
func (p *Pool) Submit(n int, fn func(start, end int)) Future {
	if n <= 0 {
		return doneFuture{}
	}
	chunks := min(p.workers, n)
	if chunks == 1 {
		fn(0, n)
		return doneFuture{}
	}
	j := &job{fn: fn, n: n, size: (n + chunks - 1) / chunks}
	// Rounding the size up can leave trailing chunks empty.
	j.chunks = int32((n + j.size - 1) / j.size)
	j.left.Add(int(j.chunks))

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		j.run()
		return j
	}
	for range j.chunks - 1 {
		p.jobs <- j
	}
	p.mu.RUnlock()
	j.run()
	return j
}

// parallelFor submits and waits.
func parallelFor(d Dispatcher, n int, fn func(start, end int)) {
	d.Submit(n, fn).Wait()
}
