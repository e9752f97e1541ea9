package identity

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// fakeService records batch calls and serves a fixed set of identities.
type fakeService struct {
	mu      sync.Mutex
	people  map[string]Identity
	me      *Identity
	meErr   error
	err     error
	batches [][]string
	alls    int
}

func (f *fakeService) DiscoverBatch(ctx context.Context, ids []string) (map[string]Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), ids...))
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]Identity)
	for _, id := range ids {
		if p, ok := f.people[id]; ok {
			out[id] = p
		}
	}
	// a real service may return more than was asked for
	out["_stranger"] = Identity{UserID: "_stranger"}
	return out, nil
}

func (f *fakeService) DiscoverAll(ctx context.Context) ([]Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alls++
	if f.err != nil {
		return nil, f.err
	}
	var out []Identity
	for _, p := range f.people {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeService) CurrentAccountIdentity(ctx context.Context) (*Identity, error) {
	return f.me, f.meErr
}

func newFake() *fakeService {
	return &fakeService{people: map[string]Identity{
		"_me":    {UserID: "_me", GivenName: "Me", FamilyName: "Myself"},
		"_ada":   {UserID: "_ada", GivenName: "Ada", FamilyName: "Lovelace"},
		"_grace": {UserID: "_grace", Nickname: "grace"},
	}}
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestDisplayName(t *testing.T) {
	tests := []struct {
		ident Identity
		want  string
	}{
		{Identity{UserID: "_1", GivenName: "Ada", FamilyName: "Lovelace"}, "Ada Lovelace"},
		{Identity{UserID: "_1", GivenName: "Ada"}, "Ada"},
		{Identity{UserID: "_1", FamilyName: "Lovelace"}, "Lovelace"},
		{Identity{UserID: "_1", Nickname: "ada"}, "ada"},
		{Identity{UserID: "_1"}, "_1"},
	}

	for _, tt := range tests {
		if got := tt.ident.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%+v) = %q, want %q", tt.ident, got, tt.want)
		}
	}
}

func TestLabel(t *testing.T) {
	resolved := map[string]Identity{"_ada": {UserID: "_ada", GivenName: "Ada"}}
	if got := Label("_ada", resolved); got != "Ada" {
		t.Errorf("Label() = %q, want Ada", got)
	}
	if got := Label("_unknown", resolved); got != "_unknown" {
		t.Errorf("Label() fallback = %q, want raw id", got)
	}
}

func TestResolveBatch_DedupesAndFilters(t *testing.T) {
	svc := newFake()
	r := NewResolver(svc, StaticSession{ID: "_me"}, quietLogger())

	got, err := r.ResolveBatch(context.Background(), []string{"_ada", "_ada", "", "_nobody", "_grace", "_ada"})
	if err != nil {
		t.Fatalf("ResolveBatch() error: %v", err)
	}

	if len(svc.batches) != 1 {
		t.Fatalf("service called %d times, want exactly one batch", len(svc.batches))
	}
	if want := []string{"_ada", "_nobody", "_grace"}; !reflect.DeepEqual(svc.batches[0], want) {
		t.Errorf("batch = %v, want %v", svc.batches[0], want)
	}

	if len(got) != 2 {
		t.Errorf("result = %v, want _ada and _grace only", got)
	}
	if _, ok := got["_nobody"]; ok {
		t.Error("unresolved id must be absent")
	}
	if _, ok := got["_stranger"]; ok {
		t.Error("ids that were not requested must be absent")
	}
}

func TestResolveBatch_CurrentAccountMarker(t *testing.T) {
	svc := newFake()
	r := NewResolver(svc, StaticSession{ID: "_me"}, quietLogger())

	got, err := r.ResolveBatch(context.Background(), []string{schema.CurrentAccountMarker, "_me"})
	if err != nil {
		t.Fatalf("ResolveBatch() error: %v", err)
	}
	if want := []string{"_me"}; !reflect.DeepEqual(svc.batches[0], want) {
		t.Errorf("batch = %v, want %v", svc.batches[0], want)
	}
	if got[schema.CurrentAccountMarker].DisplayName() != "Me Myself" {
		t.Errorf("marker resolved to %+v", got[schema.CurrentAccountMarker])
	}
}

func TestResolveBatch_Unavailable(t *testing.T) {
	svc := newFake()
	svc.err = errors.New("should not be called")
	r := NewResolver(svc, StaticSession{}, quietLogger())

	got, err := r.ResolveBatch(context.Background(), []string{"_ada"})
	if err != nil {
		t.Fatalf("ResolveBatch() while signed out error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("result = %v, want empty", got)
	}
	if len(svc.batches) != 0 {
		t.Error("service must not be called while signed out")
	}

	all, err := r.ResolveAll(context.Background())
	if err != nil || len(all) != 0 || svc.alls != 0 {
		t.Errorf("ResolveAll() while signed out = %v, %v (calls %d)", all, err, svc.alls)
	}
}

func TestResolveBatch_EmptyInputSkipsCall(t *testing.T) {
	svc := newFake()
	r := NewResolver(svc, StaticSession{ID: "_me"}, quietLogger())

	got, err := r.ResolveBatch(context.Background(), []string{"", ""})
	if err != nil || len(got) != 0 {
		t.Errorf("ResolveBatch() = %v, %v", got, err)
	}
	if len(svc.batches) != 0 {
		t.Error("empty input must not call the service")
	}
}

func TestResolveBatch_WholeFailure(t *testing.T) {
	svc := newFake()
	svc.err = errors.New("network unreachable")
	r := NewResolver(svc, StaticSession{ID: "_me"}, quietLogger())

	_, err := r.ResolveBatch(context.Background(), []string{"_ada"})
	var idErr *cloud.IdentityQueryFailedError
	if !errors.As(err, &idErr) {
		t.Fatalf("error = %v, want IdentityQueryFailedError", err)
	}
	if !errors.Is(err, svc.err) {
		t.Error("cause should be unwrappable")
	}
	if !cloud.IsRetryable(err) {
		t.Error("identity failures should be retryable")
	}
}

func TestResolveAll_ExcludesSelf(t *testing.T) {
	tests := []struct {
		name    string
		session string
		me      *Identity
		meErr   error
	}{
		{name: "session id", session: "_me"},
		{name: "service reports self under another id", session: "_session", me: &Identity{UserID: "_me"}},
		{name: "current account lookup fails", session: "_me", meErr: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFake()
			svc.me, svc.meErr = tt.me, tt.meErr
			r := NewResolver(svc, StaticSession{ID: tt.session}, quietLogger())

			all, err := r.ResolveAll(context.Background())
			if err != nil {
				t.Fatalf("ResolveAll() error: %v", err)
			}
			var ids []string
			for _, p := range all {
				ids = append(ids, p.UserID)
			}
			if want := []string{"_ada", "_grace"}; !reflect.DeepEqual(ids, want) {
				t.Errorf("ResolveAll() = %v, want %v", ids, want)
			}
		})
	}
}

func TestResolveAll_Failure(t *testing.T) {
	svc := newFake()
	svc.err = errors.New("offline")
	r := NewResolver(svc, StaticSession{ID: "_me"}, quietLogger())

	var idErr *cloud.IdentityQueryFailedError
	if _, err := r.ResolveAll(context.Background()); !errors.As(err, &idErr) {
		t.Errorf("ResolveAll() error = %v, want IdentityQueryFailedError", err)
	}
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "people.yaml")

	content := `people:
  - id: _ada
    given_name: Ada
    family_name: Lovelace
  - id: _me
    nickname: me
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	dir, err := LoadDirectory(path, StaticSession{ID: "_me"})
	if err != nil {
		t.Fatalf("LoadDirectory() error: %v", err)
	}

	batch, err := dir.DiscoverBatch(ctx, []string{"_ada", "_zed"})
	if err != nil {
		t.Fatalf("DiscoverBatch() error: %v", err)
	}
	if len(batch) != 1 || batch["_ada"].DisplayName() != "Ada Lovelace" {
		t.Errorf("DiscoverBatch() = %v", batch)
	}

	me, err := dir.CurrentAccountIdentity(ctx)
	if err != nil || me == nil || me.Nickname != "me" {
		t.Errorf("CurrentAccountIdentity() = %+v, %v", me, err)
	}

	if err := dir.Add(Identity{UserID: "_zed", GivenName: "Zed"}); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := dir.Add(Identity{}); err == nil {
		t.Error("Add() without id should fail")
	}
	if err := dir.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	reloaded, err := LoadDirectory(path, StaticSession{ID: "_me"})
	if err != nil {
		t.Fatalf("LoadDirectory() after save error: %v", err)
	}
	all, err := reloaded.DiscoverAll(ctx)
	if err != nil {
		t.Fatalf("DiscoverAll() error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("DiscoverAll() = %d identities, want 3", len(all))
	}

	// the resolver removes the signed-in account from the directory listing
	people, err := NewResolver(reloaded, StaticSession{ID: "_me"}, quietLogger()).ResolveAll(ctx)
	if err != nil {
		t.Fatalf("ResolveAll() error: %v", err)
	}
	if len(people) != 2 {
		t.Errorf("ResolveAll() = %v, want 2 people", people)
	}
}

func TestDirectory_SignedOut(t *testing.T) {
	dir, err := LoadDirectory(filepath.Join(t.TempDir(), "missing.yaml"), StaticSession{})
	if err != nil {
		t.Fatalf("LoadDirectory() of missing file error: %v", err)
	}
	if _, err := dir.DiscoverAll(context.Background()); !errors.Is(err, cloud.ErrSessionUnavailable) {
		t.Errorf("DiscoverAll() error = %v, want ErrSessionUnavailable", err)
	}
	me, err := dir.CurrentAccountIdentity(context.Background())
	if err != nil || me != nil {
		t.Errorf("CurrentAccountIdentity() = %v, %v; want nil, nil", me, err)
	}
}

func TestLoadDirectory_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.yaml")
	if err := os.WriteFile(path, []byte("people:\n  - given_name: NoID\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDirectory(path, StaticSession{ID: "_me"}); err == nil {
		t.Error("LoadDirectory() should reject an entry without id")
	}
}
