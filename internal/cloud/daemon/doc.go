// Package daemon keeps the local mirror reconciled in the background.
//
// The daemon:
//  1. Queues a reconciliation pass for every configured scope on start
//  2. Repeats the passes every ReconcileInterval
//  3. With the dir backend, watches the shared records directory and queues
//     passes once changes have settled for DebounceInterval
//  4. Handles graceful shutdown
//
// Passes go through the coordinator, so a daemon pass never overlaps a pass
// for the same scope started from the CLI. A scope with a pass still pending
// is not queued again.
//
// Usage:
//
//	d, err := daemon.New(coord, []remote.Scope{remote.AllRecords()}, &daemon.Config{
//	    ReconcileInterval: 30 * time.Second,
//	    DebounceInterval:  250 * time.Millisecond,
//	    RecordsDir:        store.RecordsDir(),
//	})
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx) // blocks until ctx is cancelled
package daemon
