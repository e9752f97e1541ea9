package coordinator

import (
	"time"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/reconcile"
)

// Op names a coordinated operation.
type Op string

const (
	OpPublish     Op = "publish"
	OpUnpublish   Op = "unpublish"
	OpIsPublished Op = "is_published"
	OpReconcile   Op = "reconcile"
)

// Event describes one operation. Waited is the time spent queued; Elapsed
// and Err are only set on OperationFinished.
type Event struct {
	Op      Op
	Key     string
	Waited  time.Duration
	Elapsed time.Duration
	Err     error
}

// Observer is notified of operation progress. Calls come from worker
// goroutines and must not block.
type Observer interface {
	OperationStarted(ev Event)
	OperationFinished(ev Event)
	Reconciled(result *reconcile.Result)
}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) OperationStarted(ev Event) {
	for _, o := range m {
		o.OperationStarted(ev)
	}
}

func (m MultiObserver) OperationFinished(ev Event) {
	for _, o := range m {
		o.OperationFinished(ev)
	}
}

func (m MultiObserver) Reconciled(result *reconcile.Result) {
	for _, o := range m {
		o.Reconciled(result)
	}
}

type nopObserver struct{}

func (nopObserver) OperationStarted(Event)       {}
func (nopObserver) OperationFinished(Event)      {}
func (nopObserver) Reconciled(*reconcile.Result) {}
