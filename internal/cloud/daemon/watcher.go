package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new record file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing record file was rewritten.
	OpModify
	// OpDelete indicates a record file was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RecordEvent is a change to one record file in the shared directory.
type RecordEvent struct {
	// RecordID is the file name without the .json extension.
	RecordID string
	// Path is the path of the file that changed.
	Path string
	Op   EventOp
}

// RecordWatcher watches a dirstore records directory for changes.
// Temporary files written during atomic saves are ignored; the rename that
// completes a save shows up as a create of the record file.
type RecordWatcher struct {
	watcher *fsnotify.Watcher
	events  chan RecordEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewRecordWatcher creates a watcher. It emits nothing until Start.
func NewRecordWatcher() (*RecordWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &RecordWatcher{
		watcher: watcher,
		events:  make(chan RecordEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir.
func (rw *RecordWatcher) Start(dir string) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := rw.watcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch records directory %s: %w", abs, err)
	}
	rw.dir = abs

	rw.running = true
	rw.wg.Add(1)
	go rw.processEvents()

	return nil
}

// Stop stops watching and closes the event channels. It blocks until the
// event loop has exited.
func (rw *RecordWatcher) Stop() error {
	rw.mu.Lock()
	if !rw.running {
		rw.mu.Unlock()
		return nil
	}
	rw.running = false
	rw.mu.Unlock()

	close(rw.done)

	if err := rw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	rw.wg.Wait()

	close(rw.events)
	close(rw.errors)

	return nil
}

// Events returns the channel of record events. It is closed by Stop.
func (rw *RecordWatcher) Events() <-chan RecordEvent {
	return rw.events
}

// Errors returns the channel of watcher errors. It is closed by Stop.
func (rw *RecordWatcher) Errors() <-chan error {
	return rw.errors
}

// IsRunning returns true if the watcher is currently running.
func (rw *RecordWatcher) IsRunning() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.running
}

func (rw *RecordWatcher) processEvents() {
	defer rw.wg.Done()

	for {
		select {
		case <-rw.done:
			return

		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}

			if ev, ok := rw.convertEvent(event); ok {
				select {
				case rw.events <- ev:
				case <-rw.done:
					return
				}
			}

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case rw.errors <- err:
			case <-rw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event to a RecordEvent. Events for
// anything other than a record file directly in the watched directory are
// dropped.
func (rw *RecordWatcher) convertEvent(event fsnotify.Event) (RecordEvent, bool) {
	name := filepath.Base(event.Name)
	if !schema.IsRecordFile(name) {
		return RecordEvent{}, false
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil || filepath.Dir(abs) != rw.dir {
		return RecordEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return RecordEvent{}, false
	}

	return RecordEvent{
		RecordID: strings.TrimSuffix(name, ".json"),
		Path:     event.Name,
		Op:       op,
	}, true
}
