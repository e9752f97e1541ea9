package publish

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/codec"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote/memstore"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

type phaseLog struct {
	mu     sync.Mutex
	phases []Phase
}

func (p *phaseLog) observe(_ string, phase Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases = append(p.phases, phase)
}

func (p *phaseLog) reset() []Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.phases
	p.phases = nil
	return out
}

func setupMachine(t *testing.T) (*Machine, *memstore.Server, *phaseLog) {
	t.Helper()
	srv := memstore.NewServer()
	quiet := log.New(io.Discard, "", 0)
	phases := &phaseLog{}
	m := NewMachine(srv.Client("_me"), codec.New("_me", quiet), quiet, WithPhaseObserver(phases.observe))
	return m, srv, phases
}

func sampleItem() *schema.TodoItem {
	return &schema.TodoItem{
		ID: "t-1",
		Content: schema.Content{
			Title:      "Call plumber",
			Details:    "kitchen sink",
			CreateDate: time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC),
		},
		Published: true,
	}
}

func assertFieldsMatch(t *testing.T, rec *schema.Record, item *schema.TodoItem) {
	t.Helper()
	want := codec.New("", log.New(io.Discard, "", 0)).ToRemoteFields(item)
	for name, v := range want {
		if got, ok := rec.Get(name); !ok || !got.Equal(v) {
			t.Errorf("field %s = %#v, want %#v", name, got, v)
		}
	}
}

func TestPublish_Idempotent(t *testing.T) {
	ctx := context.Background()
	m, srv, phases := setupMachine(t)
	item := sampleItem()

	first, err := m.Publish(ctx, item)
	if err != nil {
		t.Fatalf("first Publish() error: %v", err)
	}
	if got, want := phases.reset(), []Phase{PhaseProbing, PhaseNew, PhaseMerging, PhaseSaved}; !reflect.DeepEqual(got, want) {
		t.Errorf("first publish phases = %v, want %v", got, want)
	}

	item.Title = "Call plumber again"
	second, err := m.Publish(ctx, item)
	if err != nil {
		t.Fatalf("second Publish() error: %v", err)
	}
	if got, want := phases.reset(), []Phase{PhaseProbing, PhaseFound, PhaseMerging, PhaseSaved}; !reflect.DeepEqual(got, want) {
		t.Errorf("second publish phases = %v, want %v", got, want)
	}

	if first.ID != second.ID || first.ID != item.ID {
		t.Errorf("record ids = %q, %q, want both %q", first.ID, second.ID, item.ID)
	}
	if srv.Len() != 1 {
		t.Errorf("store holds %d records, want exactly 1", srv.Len())
	}

	stored, _ := srv.Get(item.ID)
	assertFieldsMatch(t, stored, item)
	if stored.Type != schema.RecordType {
		t.Errorf("record type = %q, want %q", stored.Type, schema.RecordType)
	}
	if stored.CreatorID != "_me" {
		t.Errorf("CreatorID = %q, want _me", stored.CreatorID)
	}
}

func TestProbe_Trichotomy(t *testing.T) {
	ctx := context.Background()
	m, srv, _ := setupMachine(t)
	item := sampleItem()

	s, err := m.Probe(ctx, item, false)
	if err != nil {
		t.Fatalf("Probe() error: %v", err)
	}
	missing, ok := s.(Missing)
	if !ok {
		t.Fatalf("Probe(createIfMissing=false) = %T, want Missing", s)
	}
	if !errors.Is(missing.Cause, cloud.ErrRecordNotFound) || missing.RecordID() != "t-1" {
		t.Errorf("Missing = %+v", missing)
	}

	s, err = m.Probe(ctx, item, true)
	if err != nil {
		t.Fatalf("Probe() error: %v", err)
	}
	draft, ok := s.(New)
	if !ok {
		t.Fatalf("Probe(createIfMissing=true) = %T, want New", s)
	}
	if draft.RecordID() != "t-1" || len(draft.Draft.Fields) != 0 {
		t.Errorf("New draft = %+v", draft.Draft)
	}
	if srv.Len() != 0 {
		t.Error("probing must never create a record")
	}

	if _, err := m.Publish(ctx, item); err != nil {
		t.Fatal(err)
	}
	s, err = m.Probe(ctx, item, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(Found); !ok {
		t.Errorf("Probe() after publish = %T, want Found", s)
	}
}

func TestIsPublished(t *testing.T) {
	ctx := context.Background()
	m, srv, _ := setupMachine(t)
	item := sampleItem()

	published, err := m.IsPublished(ctx, item)
	if err != nil {
		t.Fatalf("IsPublished() error: %v", err)
	}
	if published {
		t.Error("IsPublished() = true before publishing")
	}
	if srv.Len() != 0 {
		t.Fatal("IsPublished() created a record")
	}

	if _, err := m.Publish(ctx, item); err != nil {
		t.Fatal(err)
	}
	if published, err = m.IsPublished(ctx, item); err != nil || !published {
		t.Errorf("IsPublished() after publish = %v, %v", published, err)
	}
	if srv.Len() != 1 {
		t.Errorf("store holds %d records, want 1", srv.Len())
	}
}

func TestPublish_PreservesExtraFields(t *testing.T) {
	ctx := context.Background()
	m, srv, _ := setupMachine(t)
	item := sampleItem()

	existing := schema.NewRecord(schema.RecordType, item.ID)
	existing.CreatorID = "_me"
	existing.Set("CD_title", schema.String("old"))
	existing.Set("CD_priority", schema.Int64(2))
	srv.Put(existing)

	saved, err := m.Publish(ctx, item)
	if err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if v, ok := saved.Get("CD_priority"); !ok || !v.Equal(schema.Int64(2)) {
		t.Errorf("extra field = %#v, %v; want preserved", v, ok)
	}
	assertFieldsMatch(t, saved, item)
}

func TestPublish_Failures(t *testing.T) {
	boom := errors.New("service unavailable")

	tests := []struct {
		name   string
		failOn memstore.Op
		phases []Phase
	}{
		{"probe fails", memstore.OpFetch, []Phase{PhaseProbing, PhaseFailed}},
		{"save fails", memstore.OpSave, []Phase{PhaseProbing, PhaseNew, PhaseMerging, PhaseFailed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, srv, phases := setupMachine(t)
			srv.Intercept(func(ctx context.Context, call memstore.Call) error {
				if call.Op == tt.failOn {
					return boom
				}
				return nil
			})

			_, err := m.Publish(context.Background(), sampleItem())
			var pubErr *cloud.PublishFailedError
			if !errors.As(err, &pubErr) {
				t.Fatalf("Publish() error = %v, want PublishFailedError", err)
			}
			if pubErr.RecordID != "t-1" || !errors.Is(err, boom) {
				t.Errorf("PublishFailedError = %+v", pubErr)
			}
			if got := phases.reset(); !reflect.DeepEqual(got, tt.phases) {
				t.Errorf("phases = %v, want %v", got, tt.phases)
			}
			if srv.Len() != 0 {
				t.Error("failed publish left a record behind")
			}
		})
	}
}

func TestPublish_NoRemoteCounterpart(t *testing.T) {
	m, _, phases := setupMachine(t)
	item := sampleItem()
	item.ID = ""

	if _, err := m.Publish(context.Background(), item); !errors.Is(err, cloud.ErrNoRemoteCounterpart) {
		t.Errorf("Publish() error = %v, want ErrNoRemoteCounterpart", err)
	}
	if _, err := m.Unpublish(context.Background(), item); !errors.Is(err, cloud.ErrNoRemoteCounterpart) {
		t.Errorf("Unpublish() error = %v, want ErrNoRemoteCounterpart", err)
	}
	if _, err := m.IsPublished(context.Background(), item); !errors.Is(err, cloud.ErrNoRemoteCounterpart) {
		t.Errorf("IsPublished() error = %v, want ErrNoRemoteCounterpart", err)
	}
	if got := phases.reset(); len(got) != 0 {
		t.Errorf("phases = %v, want none", got)
	}
}

func TestUnpublish(t *testing.T) {
	ctx := context.Background()
	m, srv, phases := setupMachine(t)
	item := sampleItem()

	if _, err := m.Publish(ctx, item); err != nil {
		t.Fatal(err)
	}
	phases.reset()

	deleted, err := m.Unpublish(ctx, item)
	if err != nil {
		t.Fatalf("Unpublish() error: %v", err)
	}
	if deleted.RecordID() != item.ID {
		t.Errorf("Deleted = %+v", deleted)
	}
	if srv.Len() != 0 {
		t.Error("record still present after unpublish")
	}
	if got, want := phases.reset(), []Phase{PhaseDeleting, PhaseDeleted}; !reflect.DeepEqual(got, want) {
		t.Errorf("phases = %v, want %v", got, want)
	}

	// already gone
	if _, err := m.Unpublish(ctx, item); err != nil {
		t.Errorf("second Unpublish() error = %v, want nil", err)
	}
}

func TestUnpublish_Failure(t *testing.T) {
	m, srv, _ := setupMachine(t)
	boom := errors.New("forbidden")
	srv.Intercept(func(ctx context.Context, call memstore.Call) error {
		if call.Op == memstore.OpDelete {
			return boom
		}
		return nil
	})

	_, err := m.Unpublish(context.Background(), sampleItem())
	var unpubErr *cloud.UnpublishFailedError
	if !errors.As(err, &unpubErr) || !errors.Is(err, boom) {
		t.Errorf("Unpublish() error = %v, want UnpublishFailedError wrapping cause", err)
	}
}

func TestIsPublished_ProbeError(t *testing.T) {
	m, srv, _ := setupMachine(t)
	boom := errors.New("timeout")
	srv.Intercept(func(ctx context.Context, call memstore.Call) error { return boom })

	if _, err := m.IsPublished(context.Background(), sampleItem()); !errors.Is(err, boom) {
		t.Errorf("IsPublished() error = %v, want cause", err)
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseMerging.String() != "merging" || Phase(99).String() != "unknown" {
		t.Errorf("Phase.String() = %q, %q", PhaseMerging, Phase(99))
	}
}
