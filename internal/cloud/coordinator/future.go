package coordinator

import (
	"context"
	"sync"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
)

type futureState int

const (
	statePending futureState = iota
	stateRunning
	stateDone
)

// Future is the pending result of a submitted operation.
type Future[T any] struct {
	done chan struct{}

	mu       sync.Mutex
	state    futureState
	val      T
	err      error
	onCancel func()
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done. Giving up on the
// wait does not cancel the operation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel cancels the operation if it has not started yet, in which case the
// future resolves with cloud.ErrCancelled and Cancel returns true. A running
// or finished operation is not affected.
func (f *Future[T]) Cancel() bool {
	return f.cancelWith(cloud.ErrCancelled)
}

func (f *Future[T]) cancelWith(err error) bool {
	f.mu.Lock()
	if f.state != statePending {
		f.mu.Unlock()
		return false
	}
	f.state = stateDone
	f.err = err
	hook := f.onCancel
	f.mu.Unlock()

	close(f.done)
	if hook != nil {
		hook()
	}
	return true
}

// start moves the future from pending to running. It returns false if the
// future was cancelled first.
func (f *Future[T]) start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != statePending {
		return false
	}
	f.state = stateRunning
	return true
}

func (f *Future[T]) resolve(val T, err error) {
	f.mu.Lock()
	if f.state == stateDone {
		f.mu.Unlock()
		return
	}
	f.state = stateDone
	f.val = val
	f.err = err
	f.mu.Unlock()
	close(f.done)
}
