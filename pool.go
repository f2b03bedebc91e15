// pool.go - bounded concurrent command pool
//
// Adapted from the workpool.go worker-pool abstraction: workers are
// long-lived goroutines that pull work from a channel and invoke a
// caller-defined function. The teacher's WorkPool[Work] closes
// permanently the moment Wait() is called, which is too little for
// spec.md §4.6's Concurrent pool: callers must be able to Join() a
// batch of submissions and then keep submitting more. So this file
// layers two things on top of the teacher's shape:
//
//   - workerPool[Work]: the teacher's pool, kept close to its original
//     form (fixed goroutines, FIFO channel, harvested errors, single
//     permanent Close/Wait).
//   - Concurrent: the spec's public pool. It owns one workerPool per
//     its lifetime but replaces "Wait() closes forever" with a
//     reusable Join() barrier (a plain sync.WaitGroup counting
//     in-flight submissions) and reserves permanent shutdown for End().
package walk

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// workerPool is the teacher's generic worker-pool shape, unchanged in
// spirit: nworkers goroutines drain a channel and invoke fp once per
// item, errors are harvested into a mutex-guarded slice, and Wait() is a
// one-shot, terminal join.
type workerPool[Work any] struct {
	stopped atomic.Bool
	wg      sync.WaitGroup
	ch      chan Work

	mu   sync.Mutex
	errs []error
}

// record appends err (if non-nil) to the harvested errors. It is
// synchronous and safe to call from any worker goroutine; callers that
// need a happens-before relationship between "error recorded" and
// "unit of work accounted for done" (e.g. Concurrent's Join barrier)
// must call record before signalling completion, not after.
func (wp *workerPool[Work]) record(err error) {
	if err == nil {
		return
	}
	wp.mu.Lock()
	wp.errs = append(wp.errs, err)
	wp.mu.Unlock()
}

func newWorkerPool[Work any](nworkers int, fp func(i int, w Work) error) *workerPool[Work] {
	if nworkers <= 0 {
		nworkers = runtime.NumCPU()
	}

	wp := &workerPool[Work]{
		ch: make(chan Work, nworkers),
	}

	wp.wg.Add(nworkers)
	for i := 0; i < nworkers; i++ {
		go func(i int, fp func(i int, w Work) error) {
			defer func() {
				if e := recover(); e != nil {
					wp.record(fmt.Errorf("pool: panic: %v", e))
				}
				wp.wg.Done()
			}()

			for w := range wp.ch {
				wp.record(fp(i, w))
			}
		}(i, fp)
	}

	return wp
}

// submit enqueues one unit of work. The pool must not have been closed.
func (wp *workerPool[Work]) submit(w Work) {
	if wp.stopped.Load() {
		panic("pool: worker stopped")
	}
	wp.ch <- w
}

// drainErrors returns the errors harvested since the last drainErrors
// call (joined with errors.Join), and resets the harvest for the next
// round. Safe to call while the pool is still accepting work.
func (wp *workerPool[Work]) drainErrors() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if len(wp.errs) == 0 {
		return nil
	}
	err := errors.Join(wp.errs...)
	wp.errs = nil
	return err
}

// closeAndWait closes the work channel, waits for every worker to
// drain, and returns the joined harvested errors. It is terminal: the
// pool cannot be reused afterwards.
func (wp *workerPool[Work]) closeAndWait() error {
	if wp.stopped.Swap(true) {
		panic("pool: already closed")
	}
	close(wp.ch)
	wp.wg.Wait()

	return wp.drainErrors()
}

// ErrPoolEnded is returned by Submit after End has been called.
var ErrPoolEnded = errors.New("walk: pool has ended")

// Concurrent is the bounded worker pool of spec.md §4.6: commands are
// taken from the queue in FIFO submission order (completion order is
// unconstrained), errors from individual commands accumulate and are
// raised at the next Join or End, and a single failure does not stop
// other in-flight or queued commands unless FailFast is set.
type Concurrent struct {
	eng      *Engine
	inner    *workerPool[CommandRequest]
	inflight sync.WaitGroup

	ended    atomic.Bool
	failFast atomic.Bool
	aborted  atomic.Bool
}

// NewConcurrent constructs a pool of numThreads workers sharing eng's
// hash cache and preload-shim build state. If numThreads <= 0, the
// number of logical CPUs is used.
func NewConcurrent(eng *Engine, numThreads int) *Concurrent {
	c := &Concurrent{eng: eng}
	c.inner = newWorkerPool(numThreads, c.runOne)
	return c
}

// SetFailFast controls whether a failing command causes subsequently
// dequeued (not yet started) commands to be skipped rather than run.
// In-flight commands are never interrupted (spec.md §5: cancellation
// is not part of the core contract).
func (c *Concurrent) SetFailFast(v bool) {
	c.failFast.Store(v)
}

// runOne is invoked by the inner workerPool for each dequeued request.
// It records any error and signals inflight completion itself, in that
// order, so that Join's WaitGroup can never observe "done" before the
// error it produced has been recorded (the two are decoupled across
// workerPool.record and Concurrent.inflight, so ordering must be
// enforced explicitly rather than relied upon from defer ordering).
func (c *Concurrent) runOne(_ int, req CommandRequest) error {
	var err error
	if !(c.failFast.Load() && c.aborted.Load()) {
		_, err = Run(context.Background(), c.eng, req)
		if err != nil && c.failFast.Load() {
			c.aborted.Store(true)
		}
	}

	c.inner.record(err)
	c.inflight.Done()
	return nil
}

// Submit enqueues req for execution by one of the pool's workers. It
// does not block the caller beyond the channel's buffering; the queue
// may apply backpressure once the buffer is full.
func (c *Concurrent) Submit(req CommandRequest) error {
	if c.ended.Load() {
		return ErrPoolEnded
	}
	c.inflight.Add(1)
	c.inner.submit(req)
	return nil
}

// Join blocks until every request submitted before this call has
// completed, then returns the joined errors (if any) accumulated
// since the last Join or End. Further submissions are permitted
// afterwards.
func (c *Concurrent) Join() error {
	c.inflight.Wait()
	return c.inner.drainErrors()
}

// End performs a permanent shutdown: it waits for in-flight work to
// drain, stops accepting new submissions, and returns any errors
// accumulated since the last Join. It is an error to call End
// more than once or to Submit after End.
func (c *Concurrent) End() error {
	if c.ended.Swap(true) {
		panic("walk: pool already ended")
	}
	c.inflight.Wait()
	return c.inner.closeAndWait()
}
