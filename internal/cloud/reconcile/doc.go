// Package reconcile brings the local mirror into agreement with the remote
// record set of a scope.
//
// Overview
//
// A pass runs one remote query, diffs the result against the mirror rows of
// the same scope and commits every insert, update and delete as one batch:
//
//	remote.Store.Query(scope)   → fetched records, indexed by id
//	MirrorStore.ListMirror      → existing rows, indexed by id
//	                                   ↓
//	                                 diff
//	                                   ↓
//	MirrorStore.ApplyMirrorBatch (single transaction)
//	                                   ↓
//	identity.Resolver.ResolveBatch (best effort)
//
// Failure semantics
//
// A failed query aborts the pass before the mirror is read or written and is
// reported as *cloud.ReconciliationAbortedError. A failed commit is reported
// as *cloud.LocalCommitFailedError; the store rolls the batch back, so the
// mirror is never half reconciled. Identity resolution never fails the pass:
// its error is carried in Result.IdentityErr and Result.Label falls back to
// the raw creator id.
//
// Records created by the signed-in account are never mirrored.
//
// Usage
//
//	engine := reconcile.New(store, database, codec, resolver, nil)
//	result, err := engine.Reconcile(ctx, remote.AllRecords())
//	if err != nil {
//	    return err
//	}
//	for _, row := range result.Items {
//	    fmt.Println(result.Label(row.CreatorID), row.Title)
//	}
package reconcile
