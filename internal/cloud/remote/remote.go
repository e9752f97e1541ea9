// Package remote defines the remote record store consumed by the sync engine
// and helpers shared by its implementations.
//
// Implementations:
//   - memstore: in-process store with per-account clients, for tests and load tests
//   - dirstore: one JSON file per record in a shared directory
//   - s3store: one JSON object per record in an S3 bucket
//
// All implementations return an error wrapping cloud.ErrRecordNotFound when a
// record does not exist, and stamp CreatorID and ModifiedAt on save.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// Store is the remote record store.
type Store interface {
	// Fetch returns the record with the given identifier.
	Fetch(ctx context.Context, id string) (*schema.Record, error)

	// Save creates or replaces a record (last write wins) and returns the
	// stored version.
	Save(ctx context.Context, rec *schema.Record) (*schema.Record, error)

	// Delete removes the record with the given identifier.
	Delete(ctx context.Context, id string) error

	// Query returns every record matching q.
	Query(ctx context.Context, q Query) ([]*schema.Record, error)
}

// Scope selects whose records a query returns.
type Scope struct {
	// Creator restricts the query to one creator. Empty means all records.
	Creator string
}

// AllRecords is the scope of every public record.
func AllRecords() Scope { return Scope{} }

// CreatorScope is the scope of one creator's records.
func CreatorScope(creatorID string) Scope { return Scope{Creator: creatorID} }

// IsAll reports whether the scope covers every creator.
func (s Scope) IsAll() bool { return s.Creator == "" }

// String returns a stable key for the scope, e.g. "all" or "creator:_abc".
func (s Scope) String() string {
	if s.IsAll() {
		return "all"
	}
	return "creator:" + s.Creator
}

// ParseScope is the inverse of Scope.String.
func ParseScope(s string) (Scope, error) {
	switch {
	case s == "" || s == "all":
		return AllRecords(), nil
	case len(s) > len("creator:") && s[:len("creator:")] == "creator:":
		return CreatorScope(s[len("creator:"):]), nil
	default:
		return Scope{}, fmt.Errorf("invalid scope %q (want \"all\" or \"creator:<id>\")", s)
	}
}

// Query describes a record query.
type Query struct {
	RecordType string
	Scope      Scope
	Sort       []SortOrder
}

// TodoQuery returns the query for published todo records in scope.
func TodoQuery(scope Scope, sort ...SortOrder) Query {
	return Query{RecordType: schema.RecordType, Scope: scope, Sort: sort}
}

// Matches reports whether rec satisfies the type and scope of the query.
func (q Query) Matches(rec *schema.Record) bool {
	if q.RecordType != "" && rec.Type != q.RecordType {
		return false
	}
	if !q.Scope.IsAll() && rec.CreatorID != q.Scope.Creator {
		return false
	}
	return true
}

// Filter returns the records matching q, sorted by q.Sort.
func (q Query) Filter(records []*schema.Record) []*schema.Record {
	out := make([]*schema.Record, 0, len(records))
	for _, rec := range records {
		if q.Matches(rec) {
			out = append(out, rec)
		}
	}
	SortRecords(out, q.Sort)
	return out
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, cloud.ErrRecordNotFound)
}

// NotFound returns an error for a missing record.
func NotFound(id string) error {
	return fmt.Errorf("record %s: %w", id, cloud.ErrRecordNotFound)
}

// Stamp prepares rec for storage. The creator of an existing record is kept;
// a new record is attributed to account. The modification time is set to now.
func Stamp(rec, existing *schema.Record, account string, now time.Time) *schema.Record {
	out := rec.Clone()
	if existing != nil && existing.CreatorID != "" {
		out.CreatorID = existing.CreatorID
	} else {
		out.CreatorID = account
	}
	out.ModifiedAt = now.UTC()
	return out
}
