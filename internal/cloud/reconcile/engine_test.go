package reconcile

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/codec"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/db"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/identity"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote/dirstore"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote/memstore"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

var (
	syncTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type fakeResolver struct {
	people map[string]identity.Identity
	err    error
	calls  [][]string
}

func (f *fakeResolver) ResolveBatch(ctx context.Context, ids []string) (map[string]identity.Identity, error) {
	f.calls = append(f.calls, ids)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]identity.Identity)
	for _, id := range ids {
		if p, ok := f.people[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// failingMirror lets reads through and fails every batch.
type failingMirror struct {
	MirrorStore
	err error
}

func (f failingMirror) ApplyMirrorBatch(ctx context.Context, muts []schema.MirrorMutation) error {
	return f.err
}

type fixture struct {
	srv      *memstore.Server
	db       *db.DB
	resolver *fakeResolver
	engine   *Engine
}

func setup(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "todo.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	quiet := log.New(io.Discard, "", 0)
	f := &fixture{
		srv: memstore.NewServer(),
		db:  database,
		resolver: &fakeResolver{people: map[string]identity.Identity{
			"_ada": {UserID: "_ada", GivenName: "Ada", FamilyName: "Lovelace"},
		}},
	}
	f.engine = New(f.srv.Client("_me"), database, codec.New("_me", quiet), f.resolver, quiet)
	f.engine.now = func() time.Time { return syncTime }
	return f
}

func (f *fixture) seedRemote(id, creator, title string) {
	rec := schema.NewRecord(schema.RecordType, id)
	rec.CreatorID = creator
	rec.ModifiedAt = baseTime
	rec.Set("CD_title", schema.String(title))
	rec.Set("CD_createDate", schema.Timestamp(baseTime))
	f.srv.Put(rec)
}

func (f *fixture) seedMirror(t *testing.T, id, creator, title string) {
	t.Helper()
	row := &schema.MirrorItem{
		RecordID:   id,
		CreatorID:  creator,
		Content:    schema.Content{Title: title, CreateDate: baseTime},
		ModifiedAt: baseTime,
		SyncedAt:   baseTime,
	}
	if err := f.db.UpsertMirror(context.Background(), row); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) mirror(t *testing.T) map[string]*schema.MirrorItem {
	t.Helper()
	rows, err := f.db.ListMirror(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]*schema.MirrorItem, len(rows))
	for _, r := range rows {
		out[r.RecordID] = r
	}
	return out
}

func TestReconcile_Convergence(t *testing.T) {
	f := setup(t)
	f.seedMirror(t, "A", "_ada", "gone")
	f.seedMirror(t, "B", "_ada", "old")
	f.seedRemote("B", "_ada", "new")
	f.seedRemote("C", "_bob", "fresh")

	result, err := f.engine.Reconcile(context.Background(), remote.AllRecords())
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	got := f.mirror(t)
	if len(got) != 2 || got["A"] != nil {
		t.Fatalf("mirror = %v, want exactly B and C", got)
	}
	if got["B"].Title != "new" {
		t.Errorf("B title = %q, want new", got["B"].Title)
	}
	if got["C"].Title != "fresh" || got["C"].CreatorID != "_bob" {
		t.Errorf("C = %+v", got["C"])
	}
	if !got["C"].SyncedAt.Equal(syncTime) || !got["B"].SyncedAt.Equal(syncTime) {
		t.Errorf("SyncedAt not stamped: B=%v C=%v", got["B"].SyncedAt, got["C"].SyncedAt)
	}

	if result.Inserted != 1 || result.Updated != 1 || result.Deleted != 1 || result.Unchanged != 0 {
		t.Errorf("counts = %+v", result)
	}
	if len(result.Items) != 2 || result.Items[0].RecordID != "C" {
		t.Errorf("Items not in listing order: %v", result.Items)
	}
}

func TestReconcile_SecondPassIsNoop(t *testing.T) {
	f := setup(t)
	f.seedRemote("B", "_ada", "b")
	f.seedRemote("C", "_bob", "c")

	if _, err := f.engine.Reconcile(context.Background(), remote.AllRecords()); err != nil {
		t.Fatal(err)
	}
	f.engine.now = func() time.Time { return syncTime.Add(time.Hour) }

	result, err := f.engine.Reconcile(context.Background(), remote.AllRecords())
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed() != 0 || result.Unchanged != 2 {
		t.Errorf("second pass counts = %+v, want 2 unchanged", result)
	}
	for id, row := range f.mirror(t) {
		if !row.SyncedAt.Equal(syncTime) {
			t.Errorf("row %s rewritten on a no-op pass", id)
		}
	}
}

func TestReconcile_SkipsOwnRecords(t *testing.T) {
	f := setup(t)
	f.seedRemote("mine", "_me", "my todo")
	f.seedRemote("theirs", "_ada", "their todo")

	result, err := f.engine.Reconcile(context.Background(), remote.AllRecords())
	if err != nil {
		t.Fatal(err)
	}
	got := f.mirror(t)
	if got["mine"] != nil || got["theirs"] == nil {
		t.Errorf("mirror = %v, want only theirs", got)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
}

func TestReconcile_CreatorScope(t *testing.T) {
	f := setup(t)
	f.seedMirror(t, "bob-1", "_bob", "untouched")
	f.seedMirror(t, "ada-old", "_ada", "stale")
	f.seedRemote("ada-new", "_ada", "a")
	f.seedRemote("bob-2", "_bob", "not in scope")

	result, err := f.engine.Reconcile(context.Background(), remote.CreatorScope("_ada"))
	if err != nil {
		t.Fatal(err)
	}

	got := f.mirror(t)
	want := []string{"ada-new", "bob-1"}
	var ids []string
	for _, id := range []string{"ada-new", "ada-old", "bob-1", "bob-2"} {
		if got[id] != nil {
			ids = append(ids, id)
		}
	}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("mirror ids = %v, want %v", ids, want)
	}
	if result.Deleted != 1 || result.Inserted != 1 {
		t.Errorf("counts = %+v", result)
	}
	for _, row := range result.Items {
		if row.CreatorID != "_ada" {
			t.Errorf("Items contains %s from %s", row.RecordID, row.CreatorID)
		}
	}
}

func TestReconcile_AbortLeavesMirrorUntouched(t *testing.T) {
	f := setup(t)
	f.seedMirror(t, "A", "_ada", "a")
	f.seedMirror(t, "B", "_bob", "b")
	before, _ := f.db.ListMirror(context.Background(), "")

	boom := errors.New("network down")
	f.srv.Intercept(func(ctx context.Context, call memstore.Call) error {
		if call.Op == memstore.OpQuery {
			return boom
		}
		return nil
	})

	_, err := f.engine.Reconcile(context.Background(), remote.AllRecords())
	var abortErr *cloud.ReconciliationAbortedError
	if !errors.As(err, &abortErr) || !errors.Is(err, boom) {
		t.Fatalf("Reconcile() error = %v, want ReconciliationAbortedError", err)
	}
	if abortErr.Scope != "all" {
		t.Errorf("Scope = %q, want all", abortErr.Scope)
	}

	after, _ := f.db.ListMirror(context.Background(), "")
	if !reflect.DeepEqual(before, after) {
		t.Errorf("mirror changed after aborted pass:\nbefore %+v\nafter  %+v", before, after)
	}
	if len(f.resolver.calls) != 0 {
		t.Error("identity resolution ran after an aborted pass")
	}
}

func TestReconcile_UnreadableRecordAborts(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	quiet := log.New(io.Discard, "", 0)

	root := t.TempDir()
	ada, err := dirstore.New(root, "_ada", quiet)
	if err != nil {
		t.Fatal(err)
	}
	me, err := dirstore.New(root, "_me", quiet)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"A", "B"} {
		rec := schema.NewRecord(schema.RecordType, id)
		rec.Set("CD_title", schema.String(id))
		if _, err := ada.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	f.engine.store = me

	if _, err := f.engine.Reconcile(ctx, remote.AllRecords()); err != nil {
		t.Fatalf("first Reconcile() error: %v", err)
	}
	if got := len(f.mirror(t)); got != 2 {
		t.Fatalf("mirror has %d rows, want 2", got)
	}

	// A still exists remotely but can no longer be read
	path := filepath.Join(me.RecordsDir(), "A.json")
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(t.TempDir(), path); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	result, err := f.engine.Reconcile(ctx, remote.AllRecords())
	var abortErr *cloud.ReconciliationAbortedError
	if !errors.As(err, &abortErr) {
		t.Fatalf("Reconcile() = %+v, %v; want ReconciliationAbortedError", result, err)
	}
	if _, ok := f.mirror(t)["A"]; !ok {
		t.Error("mirror row A was deleted by an aborted pass")
	}
}

func TestReconcile_CommitFailure(t *testing.T) {
	f := setup(t)
	f.seedRemote("A", "_ada", "a")

	boom := errors.New("disk full")
	f.engine.mirror = failingMirror{MirrorStore: f.db, err: boom}

	_, err := f.engine.Reconcile(context.Background(), remote.AllRecords())
	var commitErr *cloud.LocalCommitFailedError
	if !errors.As(err, &commitErr) || !errors.Is(err, boom) {
		t.Fatalf("Reconcile() error = %v, want LocalCommitFailedError", err)
	}
	if !cloud.IsFatal(err) {
		t.Error("commit failure should be fatal")
	}
}

func TestReconcile_Identities(t *testing.T) {
	f := setup(t)
	f.seedRemote("A", "_ada", "a")
	f.seedRemote("A2", "_ada", "a2")
	f.seedRemote("C", "_carl", "c")

	result, err := f.engine.Reconcile(context.Background(), remote.AllRecords())
	if err != nil {
		t.Fatal(err)
	}
	if result.IdentityErr != nil {
		t.Errorf("IdentityErr = %v", result.IdentityErr)
	}
	if len(f.resolver.calls) != 1 {
		t.Fatalf("ResolveBatch called %d times, want 1", len(f.resolver.calls))
	}

	tests := []struct {
		creator string
		want    string
	}{
		{"_ada", "Ada Lovelace"},
		{"_carl", "_carl"},
	}
	for _, tt := range tests {
		if got := result.Label(tt.creator); got != tt.want {
			t.Errorf("Label(%s) = %q, want %q", tt.creator, got, tt.want)
		}
	}
}

func TestReconcile_IdentityFailureIsBestEffort(t *testing.T) {
	f := setup(t)
	f.seedRemote("A", "_ada", "a")
	boom := errors.New("discovery failed")
	f.resolver.err = &cloud.IdentityQueryFailedError{Cause: boom}

	result, err := f.engine.Reconcile(context.Background(), remote.AllRecords())
	if err != nil {
		t.Fatalf("Reconcile() error = %v, want nil", err)
	}
	if !errors.Is(result.IdentityErr, boom) {
		t.Errorf("IdentityErr = %v, want cause", result.IdentityErr)
	}
	if result.Label("_ada") != "_ada" {
		t.Errorf("Label() = %q, want raw id fallback", result.Label("_ada"))
	}
	if len(f.mirror(t)) != 1 {
		t.Error("mirror rows should be committed despite identity failure")
	}
}

func TestReconcile_MistypedFieldKeepsDefault(t *testing.T) {
	f := setup(t)
	rec := schema.NewRecord(schema.RecordType, "X")
	rec.CreatorID = "_ada"
	rec.Set("CD_title", schema.String("ok"))
	rec.Set("CD_done", schema.String("yes"))
	f.srv.Put(rec)

	if _, err := f.engine.Reconcile(context.Background(), remote.AllRecords()); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	row := f.mirror(t)["X"]
	if row == nil || row.Title != "ok" || row.Done {
		t.Errorf("row = %+v, want title ok and done false", row)
	}
}
