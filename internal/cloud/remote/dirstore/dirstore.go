// Package dirstore is a remote record store kept in a shared directory.
//
// Each record is one JSON file, <root>/records/<id>.json, in the record wire
// form. Writes go through a temp file and a rename, so concurrent readers
// (other processes, or a file watcher) only ever see complete records.
// The directory can live on any shared filesystem or be synced by a tool
// outside this program.
package dirstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// RecordsSubdir is the directory under the root that holds record files.
const RecordsSubdir = "records"

// Store is a directory-backed remote store bound to one account.
type Store struct {
	dir     string
	account string
	logger  *log.Logger

	// serializes read-modify-write of a save within this process
	mu  sync.Mutex
	now func() time.Time
}

var _ remote.Store = (*Store)(nil)

// New opens a store rooted at root, creating the records directory if needed.
// If logger is nil, a default logger is used.
func New(root, account string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[dirstore] ", log.LstdFlags)
	}
	dir := filepath.Join(root, RecordsSubdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create records directory: %w", err)
	}
	return &Store{dir: dir, account: account, logger: logger, now: time.Now}, nil
}

// RecordsDir returns the directory holding record files.
func (s *Store) RecordsDir() string {
	return s.dir
}

func (s *Store) path(id string) (string, error) {
	if err := schema.ValidateRecordID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Fetch reads one record file.
func (s *Store) Fetch(ctx context.Context, id string) (*schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}

	rec, err := schema.ReadRecordFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, remote.NotFound(id)
		}
		return nil, err
	}
	return rec, nil
}

// Save writes a record file, keeping the creator of an existing record.
func (s *Store) Save(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.Fetch(ctx, rec.ID)
	if err != nil && !remote.IsNotFound(err) {
		return nil, fmt.Errorf("failed to read existing record %s: %w", rec.ID, err)
	}

	stored := remote.Stamp(rec, existing, s.account, s.now())
	if err := schema.WriteRecordFile(s.dir, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// Delete removes a record file.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(id)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return remote.NotFound(id)
		}
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// Query reads every record file and filters it. Files holding an invalid
// record are skipped; any other read failure fails the query.
func (s *Store) Query(ctx context.Context, q remote.Query) ([]*schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := schema.ReadAllRecordFiles(s.dir, s.logger)
	if err != nil {
		return nil, err
	}
	return q.Filter(records), nil
}
