package reconcile

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/codec"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/identity"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// MirrorStore is the local side of a pass. *db.DB implements it.
type MirrorStore interface {
	// ListMirror returns the rows of one creator, or all rows when
	// creatorID is empty.
	ListMirror(ctx context.Context, creatorID string) ([]*schema.MirrorItem, error)

	// ApplyMirrorBatch commits every mutation or none.
	ApplyMirrorBatch(ctx context.Context, muts []schema.MirrorMutation) error
}

// IdentityResolver resolves creator ids to display identities.
// *identity.Resolver implements it.
type IdentityResolver interface {
	ResolveBatch(ctx context.Context, ids []string) (map[string]identity.Identity, error)
}

// Result describes a completed pass.
type Result struct {
	Scope remote.Scope

	Inserted  int
	Updated   int
	Deleted   int
	Unchanged int

	// Skipped counts fetched records created by the signed-in account.
	Skipped int

	// Items is the mirror of the scope after the pass, in listing order.
	Items []*schema.MirrorItem

	// Identities maps creator ids to resolved identities. Ids that did not
	// resolve are absent.
	Identities map[string]identity.Identity

	// IdentityErr is set when identity resolution failed as a whole.
	IdentityErr error
}

// Changed returns the number of rows the pass wrote or removed.
func (r *Result) Changed() int {
	return r.Inserted + r.Updated + r.Deleted
}

// Label returns the display name of a creator, or the raw id when it did
// not resolve.
func (r *Result) Label(creatorID string) string {
	return identity.Label(creatorID, r.Identities)
}

// Engine runs reconciliation passes.
type Engine struct {
	store    remote.Store
	mirror   MirrorStore
	codec    *codec.Codec
	resolver IdentityResolver
	logger   *log.Logger
	now      func() time.Time
}

// New creates an engine. resolver may be nil, in which case passes skip
// identity resolution. If logger is nil, a default logger is used.
func New(store remote.Store, mirror MirrorStore, c *codec.Codec, resolver IdentityResolver, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Engine{
		store:    store,
		mirror:   mirror,
		codec:    c,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// Reconcile runs one pass for scope. See the package documentation for the
// failure semantics.
func (e *Engine) Reconcile(ctx context.Context, scope remote.Scope) (*Result, error) {
	records, err := e.store.Query(ctx, remote.TodoQuery(scope, remote.PublicListing()...))
	if err != nil {
		return nil, &cloud.ReconciliationAbortedError{Scope: scope.String(), Cause: err}
	}

	existing, err := e.mirror.ListMirror(ctx, scope.Creator)
	if err != nil {
		return nil, &cloud.ReconciliationAbortedError{Scope: scope.String(), Cause: err}
	}

	result := &Result{Scope: scope}
	muts, items := e.diff(records, existing, result)

	if len(muts) > 0 {
		if err := e.mirror.ApplyMirrorBatch(ctx, muts); err != nil {
			return nil, &cloud.LocalCommitFailedError{Scope: scope.String(), Cause: err}
		}
	}

	schema.SortMirror(items)
	result.Items = items

	e.logger.Printf("Reconciled %s: inserted=%d updated=%d deleted=%d unchanged=%d",
		scope, result.Inserted, result.Updated, result.Deleted, result.Unchanged)

	e.resolveCreators(ctx, result)
	return result, nil
}

// diff computes the mutations that turn existing into the mirror of
// records, and the resulting rows.
func (e *Engine) diff(records []*schema.Record, existing []*schema.MirrorItem, result *Result) ([]schema.MirrorMutation, []*schema.MirrorItem) {
	now := e.now().UTC()

	fetched := make(map[string]*schema.Record, len(records))
	order := make([]string, 0, len(records))
	for _, rec := range records {
		if e.codec.IsOwn(rec) {
			result.Skipped++
			continue
		}
		if _, dup := fetched[rec.ID]; !dup {
			order = append(order, rec.ID)
		}
		fetched[rec.ID] = rec
	}

	var (
		muts  []schema.MirrorMutation
		items = make([]*schema.MirrorItem, 0, len(fetched))
	)

	for _, row := range existing {
		rec, ok := fetched[row.RecordID]
		if !ok {
			muts = append(muts, schema.DeleteMirror(row.RecordID))
			result.Deleted++
			continue
		}
		delete(fetched, row.RecordID)

		updated := *row
		if e.codec.ApplyToMirror(&updated, rec) {
			updated.SyncedAt = now
			muts = append(muts, schema.UpdateMirror(&updated))
			result.Updated++
		} else {
			result.Unchanged++
		}
		items = append(items, &updated)
	}

	for _, id := range order {
		rec, ok := fetched[id]
		if !ok {
			continue
		}
		row := e.codec.DecodeMirror(rec)
		row.SyncedAt = now
		muts = append(muts, schema.InsertMirror(row))
		items = append(items, row)
		result.Inserted++
	}

	return muts, items
}

// resolveCreators looks up the display identities of the creators in
// result. Failures are recorded on result and logged, never returned.
func (e *Engine) resolveCreators(ctx context.Context, result *Result) {
	result.Identities = make(map[string]identity.Identity)
	if e.resolver == nil || len(result.Items) == 0 {
		return
	}

	ids := make([]string, 0, len(result.Items))
	for _, row := range result.Items {
		ids = append(ids, row.CreatorID)
	}

	resolved, err := e.resolver.ResolveBatch(ctx, ids)
	if err != nil {
		e.logger.Printf("WARNING: identity resolution for %s failed: %v", result.Scope, err)
		result.IdentityErr = err
		return
	}
	result.Identities = resolved
}
