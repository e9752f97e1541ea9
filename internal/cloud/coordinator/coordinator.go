// Package coordinator serializes publish operations per item and bounds how
// many remote operations run at once.
//
// Every submitted operation is queued under a key: the item id for
// Publish, Unpublish and IsPublished, and ReconcileKey for every Reconcile.
// Operations with the same key run one after another in submission order;
// operations with different keys run concurrently, at most MaxConcurrency
// at a time. Queues are created on first use and dropped when they drain.
//
// Methods never block. Each returns a Future. An operation that has not
// started can be cancelled with Future.Cancel or by cancelling the context
// it was submitted with. A started operation always runs to completion, so
// an unpublish queued behind a publish starts only after the publish has
// saved or failed.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/publish"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/reconcile"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// Publisher runs publish operations. *publish.Machine implements it.
type Publisher interface {
	Publish(ctx context.Context, item *schema.TodoItem) (*schema.Record, error)
	Unpublish(ctx context.Context, item *schema.TodoItem) (publish.Deleted, error)
	IsPublished(ctx context.Context, item *schema.TodoItem) (bool, error)
}

// Reconciler runs reconciliation passes. *reconcile.Engine implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, scope remote.Scope) (*reconcile.Result, error)
}

// Config holds configuration for the coordinator.
type Config struct {
	// MaxConcurrency bounds the number of operations running at once.
	MaxConcurrency int

	// Observer is notified of every operation. Optional.
	Observer Observer

	// Logger for coordinator activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency: 4,
		Logger:         log.New(os.Stderr, "[coordinator] ", log.LstdFlags),
	}
}

// Stats is a snapshot of the coordinator's queues.
type Stats struct {
	Keys    int `json:"keys"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

type task struct {
	op       Op
	key      string
	queuedAt time.Time
	ctx      context.Context

	begin func() bool
	abort func(err error)
	run   func(ctx context.Context) error
}

type keyQueue struct {
	tasks []*task
}

// Coordinator schedules operations on a Publisher and a Reconciler.
type Coordinator struct {
	pub      Publisher
	rec      Reconciler
	sem      *semaphore.Weighted
	observer Observer
	logger   *log.Logger

	mu      sync.Mutex
	queues  map[string]*keyQueue
	queued  int
	closed  bool
	running atomic.Int64
	wg      sync.WaitGroup
}

// New creates a coordinator with default configuration.
func New(pub Publisher, rec Reconciler) *Coordinator {
	return NewWithConfig(pub, rec, DefaultConfig())
}

// NewWithConfig creates a coordinator with custom configuration. rec may be
// nil if Reconcile is never called.
func NewWithConfig(pub Publisher, rec Reconciler, config *Config) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	limit := config.MaxConcurrency
	if limit <= 0 {
		limit = DefaultConfig().MaxConcurrency
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[coordinator] ", log.LstdFlags)
	}
	var observer Observer = nopObserver{}
	if config.Observer != nil {
		observer = config.Observer
	}

	return &Coordinator{
		pub:      pub,
		rec:      rec,
		sem:      semaphore.NewWeighted(int64(limit)),
		observer: observer,
		logger:   logger,
		queues:   make(map[string]*keyQueue),
	}
}

// Publish queues a publish of item. The item is copied at submission.
func (c *Coordinator) Publish(ctx context.Context, item *schema.TodoItem) *Future[*schema.Record] {
	snap := snapshot(item)
	return submit(c, ctx, OpPublish, itemKey(item), func(ctx context.Context) (*schema.Record, error) {
		return c.pub.Publish(ctx, snap)
	})
}

// Unpublish queues an unpublish of item.
func (c *Coordinator) Unpublish(ctx context.Context, item *schema.TodoItem) *Future[publish.Deleted] {
	snap := snapshot(item)
	return submit(c, ctx, OpUnpublish, itemKey(item), func(ctx context.Context) (publish.Deleted, error) {
		return c.pub.Unpublish(ctx, snap)
	})
}

// IsPublished queues a probe of item. It is ordered with the publish
// operations on the same item.
func (c *Coordinator) IsPublished(ctx context.Context, item *schema.TodoItem) *Future[bool] {
	snap := snapshot(item)
	return submit(c, ctx, OpIsPublished, itemKey(item), func(ctx context.Context) (bool, error) {
		return c.pub.IsPublished(ctx, snap)
	})
}

// Reconcile queues a reconciliation pass. Passes never overlap, whatever
// their scope: each one diffs against the mirror as the previous pass left it.
func (c *Coordinator) Reconcile(ctx context.Context, scope remote.Scope) *Future[*reconcile.Result] {
	return submit(c, ctx, OpReconcile, ReconcileKey, func(ctx context.Context) (*reconcile.Result, error) {
		if c.rec == nil {
			return nil, fmt.Errorf("no reconciler configured")
		}
		result, err := c.rec.Reconcile(ctx, scope)
		if err == nil {
			c.observer.Reconciled(result)
		}
		return result, err
	})
}

// ReconcileKey is the queue key shared by all reconciliation passes.
const ReconcileKey = "reconcile:mirror"

// Stats returns a snapshot of the queues.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Keys:    len(c.queues),
		Queued:  c.queued,
		Running: int(c.running.Load()),
	}
}

// Close stops accepting operations and waits for queued ones to finish.
// Operations submitted after Close resolve with cloud.ErrClosed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func itemKey(item *schema.TodoItem) string {
	if item == nil {
		return ""
	}
	return item.ID
}

func snapshot(item *schema.TodoItem) *schema.TodoItem {
	if item == nil {
		return nil
	}
	cp := *item
	return &cp
}

func submit[T any](c *Coordinator, ctx context.Context, op Op, key string, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	if err := ctx.Err(); err != nil {
		f.cancelWith(fmt.Errorf("%w: %w", cloud.ErrCancelled, err))
		return f
	}

	tctx, cancel := context.WithCancel(ctx)
	f.onCancel = cancel
	stop := context.AfterFunc(ctx, func() {
		f.cancelWith(fmt.Errorf("%w: %w", cloud.ErrCancelled, ctx.Err()))
	})

	t := &task{
		op:       op,
		key:      key,
		queuedAt: time.Now(),
		ctx:      tctx,
		begin: func() bool {
			if !f.start() {
				return false
			}
			stop()
			return true
		},
		abort: func(err error) {
			f.cancelWith(err)
		},
		run: func(ctx context.Context) error {
			defer cancel()
			val, err := fn(ctx)
			f.resolve(val, err)
			return err
		},
	}

	if err := c.enqueue(t); err != nil {
		stop()
		cancel()
		var zero T
		f.resolve(zero, err)
	}
	return f
}

func (c *Coordinator) enqueue(t *task) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return cloud.ErrClosed
	}

	q, ok := c.queues[t.key]
	if !ok {
		q = &keyQueue{}
		c.queues[t.key] = q
		c.wg.Add(1)
		go c.drain(t.key, q)
	}
	q.tasks = append(q.tasks, t)
	c.queued++
	return nil
}

// drain runs the tasks of one key in order and removes the queue once it
// is empty.
func (c *Coordinator) drain(key string, q *keyQueue) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		if len(q.tasks) == 0 {
			delete(c.queues, key)
			c.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		c.queued--
		c.mu.Unlock()

		c.execute(t)
	}
}

func (c *Coordinator) execute(t *task) {
	ev := Event{Op: t.op, Key: t.key}

	if err := c.sem.Acquire(t.ctx, 1); err != nil {
		t.abort(fmt.Errorf("%w: %w", cloud.ErrCancelled, err))
		ev.Waited = time.Since(t.queuedAt)
		ev.Err = cloud.ErrCancelled
		c.observer.OperationFinished(ev)
		return
	}
	defer c.sem.Release(1)

	ev.Waited = time.Since(t.queuedAt)
	if !t.begin() {
		ev.Err = cloud.ErrCancelled
		c.observer.OperationFinished(ev)
		return
	}

	c.running.Add(1)
	defer c.running.Add(-1)

	c.observer.OperationStarted(ev)
	start := time.Now()
	// a started operation is never preempted
	err := t.run(context.WithoutCancel(t.ctx))
	ev.Elapsed = time.Since(start)
	ev.Err = err
	if err != nil {
		c.logger.Printf("%s %s failed: %v", t.op, t.key, err)
	}
	c.observer.OperationFinished(ev)
}
