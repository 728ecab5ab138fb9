// Package pool implements a fixed-size worker pool that consumes a FIFO
// queue of pending resumption thunks. Each worker is a goroutine pinned
// to its own OS thread for the pool's lifetime, giving "worker thread" a
// literal meaning in this Go port.
package pool

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/fathomlabs/taskrun/pkg/logging"
)

// Pool manages a fixed set of worker goroutines that dequeue and run
// resumption thunks in FIFO order.
type Pool struct {
	logger *logging.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	running bool

	wg sync.WaitGroup

	dequeued uint64 // atomic-free; only touched under mu, read via Snapshot
}

// New starts n worker goroutines and returns the running pool. n is
// chosen by the caller (e.g. runtime.NumCPU()).
func New(n int, logger *logging.Logger) *Pool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	p := &Pool{logger: logger, running: true}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}

	return p
}

// workerLoop is the body of one worker goroutine: wait for work or
// shutdown, dequeue, run, repeat.
func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tag := fmt.Sprintf("worker-%d", id)
	log := p.logger.WithTag(tag)

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && p.running {
			p.cond.Wait()
		}
		if !p.running {
			p.mu.Unlock()
			return
		}
		fn := p.queue[0]
		p.queue = p.queue[1:]
		p.dequeued++
		p.mu.Unlock()

		log.Debugf("dequeued continuation")
		fn()
	}
}

// Enqueue places fn at the tail of the FIFO and wakes one waiting
// worker. It never fails: queue insertion is infallible given adequate
// memory, matching this runtime's error model (§4.3).
//
// Enqueue has no knowledge of tasks; the task package builds the
// continuation-resuming thunk it passes here.
func (p *Pool) Enqueue(fn func()) {
	p.mu.Lock()
	p.queue = append(p.queue, fn)
	p.mu.Unlock()
	p.cond.Signal()
}

// Close shuts the pool down: it stops accepting new progress on the
// current queue contents, broadcasts to wake every worker, and joins
// all worker goroutines.
//
// Close does NOT drain the remaining queue (see design notes on pool
// shutdown): any thunk still queued when Close is called may never run.
// Callers must arrange that all outstanding work has completed before
// calling Close.
func (p *Pool) Close() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

// Stats reports a snapshot of pool queue depth and worker count, used by
// the status surface (pkg/status).
type Stats struct {
	Workers  int
	Pending  int
	Dequeued uint64
}

// Snapshot returns the pool's current statistics.
func (p *Pool) Snapshot(workerCount int) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers:  workerCount,
		Pending:  len(p.queue),
		Dequeued: p.dequeued,
	}
}
