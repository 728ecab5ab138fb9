// Package task implements the runtime's asynchronous value: a Task[T] is
// a handle onto a goroutine-backed computation that eventually produces a
// T, together with the Yield point a task body uses to suspend itself
// onto a pool.
//
// The original design is a C++20 coroutine: a task body suspends at an
// co_await expression and is resumed later, possibly on a different
// thread, by whichever party completes the awaited value. Go has no
// language-level coroutines, so this port gives every task body its own
// goroutine (a stackful, runtime-scheduled green thread) instead of a
// compiler-generated coroutine frame. "Suspension" becomes a goroutine
// blocking on a channel; "resumption" becomes a send to that channel,
// carried out by whichever goroutine (main, another task, or a pool
// worker) completes the value being awaited. See SPEC_FULL.md §2.1.
package task

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/fathomlabs/taskrun/pkg/logging"
	"github.com/fathomlabs/taskrun/pkg/pool"
)

// FaultError wraps a panic recovered from a task body, together with the
// stack trace captured at the point of recovery. A FaultError is never
// returned to a caller: it is only ever handed to a Logger's Fatal method,
// since an unhandled task fault is unconditionally fatal in this runtime
// (§7).
type FaultError struct {
	Value any
	Stack []byte
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("task fault: %v", e.Value)
}

// state is the shared completion cell backing a Task[T]: a mutex guards
// the completion flag, the result slot, and the list of continuations
// waiting on this task. It plays the role the original's reference
// counted TaskState plays, minus the manual reference counting — Go's
// garbage collector frees a state once nothing reachable still holds a
// *state, so this port keeps no reference counter at all.
type state[T any] struct {
	mu            sync.Mutex
	complete      bool
	result        T
	continuations []func(T)
}

func (s *state[T]) finish(result T) {
	s.mu.Lock()
	conts := s.continuations
	s.continuations = nil
	s.result = result
	s.complete = true
	s.mu.Unlock()

	for _, c := range conts {
		c(result)
	}
}

// onComplete registers cont to run with the task's result once it
// completes. If the task has already completed by the time onComplete
// acquires the lock, cont is invoked immediately, after the lock is
// released. The completion test and the registration happen under the
// same lock that guards the completion flag and the continuation list
// (the "lost race" check from §3.2: readiness-testing and
// continuation-registration must be one atomic critical section).
func (s *state[T]) onComplete(cont func(T)) {
	s.mu.Lock()
	if s.complete {
		result := s.result
		s.mu.Unlock()
		cont(result)
		return
	}
	s.continuations = append(s.continuations, cont)
	s.mu.Unlock()
}

// Task is a handle onto a value of type T that is computed
// asynchronously. Copying a Task is cheap and safe: every copy shares the
// same underlying state, and every copy may be awaited independently
// (§3.4 "shared task, multiple awaiters").
type Task[T any] struct {
	s *state[T]
}

// Yield is the suspension point passed into a task body. A task body
// calls y.Schedule to move itself onto a pool worker, or uses the
// package-level Await function to wait on another Task without blocking
// its caller's OS thread any longer than the underlying goroutine park
// requires.
type Yield struct {
	logger *logging.Logger
}

// New starts fn on its own goroutine and returns a Task handle for its
// eventual result. name is used only for logging (tagged "task:<name>").
func New[T any](name string, logger *logging.Logger, fn func(y *Yield) T) Task[T] {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &state[T]{}
	y := &Yield{logger: logger.WithTag("task:" + name)}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Fatal("unrecovered task fault", map[string]interface{}{
					"task":  name,
					"fault": (&FaultError{Value: r, Stack: debug.Stack()}).Error(),
				})
			}
		}()
		result := fn(y)
		s.finish(result)
	}()

	return Task[T]{s: s}
}

// NewE starts fn, which may itself fail, and returns a Task[Result[T]].
// Use this when a task body's failure should be observable by its
// awaiters rather than fatal to the whole process; Await on a
// Task[Result[T]] hands the caller a Result to branch on instead of
// crashing.
func NewE[T any](name string, logger *logging.Logger, fn func(y *Yield) (T, error)) Task[Result[T]] {
	return New(name, logger, func(y *Yield) Result[T] {
		v, err := fn(y)
		return Result[T]{Value: v, Err: err}
	})
}

// Result carries a task's fallible outcome to its awaiters.
type Result[T any] struct {
	Value T
	Err   error
}

// Void stands in for a task whose only interesting effect is completion,
// not a return value (C++ Task<void>).
type Void struct{}

// Background starts fn, whose only purpose is its side effect, discarding
// its result. Equivalent to New with a func(y *Yield) Void body.
func Background(name string, logger *logging.Logger, fn func(y *Yield)) Task[Void] {
	return New(name, logger, func(y *Yield) Void {
		fn(y)
		return Void{}
	})
}

// Await blocks the calling goroutine until t completes and returns its
// result. Await is the free-function form the narrative design's
// `co_await`/`y.Await(t)` phrasing takes in real Go: a method cannot
// introduce the additional type parameter T that Await needs, so it is a
// package-level generic function taking the Yield explicitly instead of
// a method on Yield.
func Await[T any](y *Yield, t Task[T]) T {
	ch := make(chan T, 1)
	t.s.onComplete(func(result T) {
		ch <- result
	})
	return <-ch
}

// Schedule moves the calling task body onto pool p: it enqueues a
// resumption thunk and blocks the calling goroutine until that thunk
// runs on a pool worker, which logs the dequeue under its own worker tag.
// The statements following Schedule then continue on the task's own
// goroutine (still logging through the task's Yield logger), not on the
// worker goroutine itself.
func (y *Yield) Schedule(p *pool.Pool) {
	done := make(chan struct{})
	p.Enqueue(func() {
		close(done)
	})
	<-done
}

// SyncWait blocks the calling goroutine — which need not itself be a
// task body — until t completes, and returns its result. This is the
// runtime's entry point from ordinary synchronous code (e.g. main) into
// the task graph; unlike Await it takes no Yield, since the caller is not
// itself suspending a task.
func SyncWait[T any](t Task[T]) T {
	ch := make(chan T, 1)
	t.s.onComplete(func(result T) {
		ch <- result
	})
	return <-ch
}
