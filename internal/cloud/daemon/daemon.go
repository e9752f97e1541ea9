package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/coordinator"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/reconcile"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote"
)

// Scheduler queues reconciliation passes. *coordinator.Coordinator
// implements it.
type Scheduler interface {
	Reconcile(ctx context.Context, scope remote.Scope) *coordinator.Future[*reconcile.Result]
}

// Config holds configuration for the daemon.
type Config struct {
	// ReconcileInterval is how often every scope is reconciled.
	// Zero disables periodic passes.
	ReconcileInterval time.Duration

	// DebounceInterval is how long record changes must settle before they
	// trigger a pass. This batches rapid updates together.
	DebounceInterval time.Duration

	// RecordsDir is watched for changes when set (dir backend only).
	RecordsDir string

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReconcileInterval: 30 * time.Second,
		DebounceInterval:  250 * time.Millisecond,
		Logger:            log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon keeps the mirror of a set of scopes reconciled.
type Daemon struct {
	sched  Scheduler
	scopes []remote.Scope
	config *Config

	watcher       *RecordWatcher
	changeQueue   map[string]time.Time // record id -> last event
	changeQueueMu sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]*coordinator.Future[*reconcile.Result]

	passes atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon that reconciles scopes through sched. Use Start to
// begin.
func New(sched Scheduler, scopes []remote.Scope, config *Config) (*Daemon, error) {
	if sched == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	d := &Daemon{
		sched:       sched,
		scopes:      scopes,
		config:      config,
		changeQueue: make(map[string]time.Time),
		inflight:    make(map[string]*coordinator.Future[*reconcile.Result]),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	if config.RecordsDir != "" {
		w, err := NewRecordWatcher()
		if err != nil {
			return nil, err
		}
		d.watcher = w
	}
	return d, nil
}

// Start runs an initial pass over every scope, then watches and reconciles
// until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	d.TriggerAll()

	if d.watcher != nil {
		if err := d.watcher.Start(d.config.RecordsDir); err != nil {
			return err
		}
		d.config.Logger.Printf("Watching: %s", d.config.RecordsDir)

		d.wg.Add(2)
		go d.watchRecordEvents()
		go d.processChangeQueue()
	}

	if d.config.ReconcileInterval > 0 {
		d.wg.Add(1)
		go d.reconcilePeriodically()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down and waits for its goroutines. Passes already
// queued on the scheduler are left to finish there.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Passes returns the number of passes the daemon has queued.
func (d *Daemon) Passes() int64 {
	return d.passes.Load()
}

// TriggerAll queues a pass for every scope that has none pending. It
// reports whether every scope got a new pass.
func (d *Daemon) TriggerAll() bool {
	all := true
	for _, scope := range d.scopes {
		if !d.trigger(scope) {
			all = false
		}
	}
	return all
}

func (d *Daemon) trigger(scope remote.Scope) bool {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()

	key := scope.String()
	if f, ok := d.inflight[key]; ok {
		select {
		case <-f.Done():
		default:
			return false
		}
	}

	f := d.sched.Reconcile(d.ctx, scope)
	d.inflight[key] = f
	d.passes.Add(1)

	d.wg.Add(1)
	go d.report(scope, f)
	return true
}

func (d *Daemon) report(scope remote.Scope, f *coordinator.Future[*reconcile.Result]) {
	defer d.wg.Done()

	select {
	case <-f.Done():
	case <-d.ctx.Done():
		return
	}

	result, err := f.Wait(context.Background())
	if err != nil {
		d.config.Logger.Printf("Error reconciling %s: %v", scope, err)
		return
	}
	if result.Changed() > 0 {
		d.config.Logger.Printf("Reconciled %s: +%d ~%d -%d",
			scope, result.Inserted, result.Updated, result.Deleted)
	}
}

func (d *Daemon) reconcilePeriodically() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.TriggerAll()
		}
	}
}

// watchRecordEvents queues record changes for debounced processing.
func (d *Daemon) watchRecordEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("Record event: %s %s", ev.Op, ev.RecordID)
			d.queueChange(ev.RecordID)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(recordID string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[recordID] = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges triggers a pass once every queued change has
// settled. Changes stay queued while a pass is still pending, so nothing
// is lost to a pass that already read the remote set.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	if len(d.changeQueue) == 0 {
		return
	}

	now := time.Now()
	for _, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			return
		}
	}

	d.config.Logger.Printf("Processing %d record changes", len(d.changeQueue))
	if d.TriggerAll() {
		clear(d.changeQueue)
	}
}
