// Package publish drives the publish and unpublish protocol for one item.
//
// Publishing probes the remote store before writing: an existing record is
// updated in place and a missing one is created, so publishing twice never
// duplicates a record. Probing for IsPublished never creates anything.
//
//	Idle -> Probing -> {Found | New | Missing} -> Merging -> Saved | Failed
//	Idle -> Deleting -> Deleted | Failed
//
// A Machine holds no per-item state; callers serialize operations on the
// same item (see the coordinator package).
package publish

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/codec"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// Machine runs publish operations against a remote store.
type Machine struct {
	store   remote.Store
	codec   *codec.Codec
	logger  *log.Logger
	observe PhaseFunc
}

// Option configures a Machine.
type Option func(*Machine)

// WithPhaseObserver reports every phase transition to fn.
func WithPhaseObserver(fn PhaseFunc) Option {
	return func(m *Machine) { m.observe = fn }
}

// NewMachine creates a Machine. If logger is nil, a default logger is used.
func NewMachine(store remote.Store, c *codec.Codec, logger *log.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = log.New(os.Stderr, "[publish] ", log.LstdFlags)
	}
	m := &Machine{store: store, codec: c, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) enter(id string, p Phase) {
	if m.observe != nil {
		m.observe(id, p)
	}
}

// lookup fetches the record with the given id. A missing record is
// reported as (nil, nil).
func (m *Machine) lookup(ctx context.Context, id string) (*schema.Record, error) {
	m.enter(id, PhaseProbing)
	rec, err := m.store.Fetch(ctx, id)
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// Probe looks up the remote counterpart of item. A missing record yields New
// with an empty draft when createIfMissing is set, and Missing otherwise.
// Any error other than not-found is returned as is.
func (m *Machine) Probe(ctx context.Context, item *schema.TodoItem, createIfMissing bool) (State, error) {
	id, err := item.RemoteRecordID()
	if err != nil {
		return nil, err
	}
	if createIfMissing {
		w, err := m.probeWritable(ctx, id)
		if err != nil {
			return nil, err
		}
		return w, nil
	}

	rec, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	var s State = Missing{ID: id, Cause: remote.NotFound(id)}
	if rec != nil {
		s = Found{Record: rec}
	}
	m.enter(id, phaseOf(s))
	return s, nil
}

// probeWritable probes with creation enabled, which can only end in Found
// or New.
func (m *Machine) probeWritable(ctx context.Context, id string) (writable, error) {
	rec, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	var w writable = New{Draft: schema.NewRecord(schema.RecordType, id)}
	if rec != nil {
		w = Found{Record: rec}
	}
	m.enter(id, phaseOf(w))
	return w, nil
}

// Publish merges item into its remote record, creating the record if it does
// not exist, and returns the saved record. Remote fields the item does not
// declare are preserved.
func (m *Machine) Publish(ctx context.Context, item *schema.TodoItem) (*schema.Record, error) {
	id, err := item.RemoteRecordID()
	if err != nil {
		return nil, err
	}

	target, err := m.probeWritable(ctx, id)
	if err != nil {
		m.enter(id, PhaseFailed)
		return nil, &cloud.PublishFailedError{RecordID: id, Cause: fmt.Errorf("probe: %w", err)}
	}

	m.enter(id, PhaseMerging)
	merged := m.codec.Merge(target.base(), item)

	saved, err := m.store.Save(ctx, merged)
	if err != nil {
		m.enter(id, PhaseFailed)
		return nil, &cloud.PublishFailedError{RecordID: id, Cause: err}
	}

	m.enter(id, PhaseSaved)
	if _, created := target.(New); created {
		m.logger.Printf("Created remote record %s", id)
	}
	return saved, nil
}

// Unpublish deletes the remote record of item. A record that is already
// gone counts as deleted.
func (m *Machine) Unpublish(ctx context.Context, item *schema.TodoItem) (Deleted, error) {
	id, err := item.RemoteRecordID()
	if err != nil {
		return Deleted{}, err
	}

	m.enter(id, PhaseDeleting)
	if err := m.store.Delete(ctx, id); err != nil {
		if !remote.IsNotFound(err) {
			m.enter(id, PhaseFailed)
			return Deleted{}, &cloud.UnpublishFailedError{RecordID: id, Cause: err}
		}
		m.logger.Printf("Remote record %s already deleted", id)
	}

	m.enter(id, PhaseDeleted)
	return Deleted{ID: id}, nil
}

// IsPublished reports whether item has a remote record. It never creates one.
func (m *Machine) IsPublished(ctx context.Context, item *schema.TodoItem) (bool, error) {
	s, err := m.Probe(ctx, item, false)
	if err != nil {
		id, _ := item.RemoteRecordID()
		return false, fmt.Errorf("failed to probe record %s: %w", id, err)
	}
	_, found := s.(Found)
	return found, nil
}
