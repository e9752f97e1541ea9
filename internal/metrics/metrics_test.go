package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/coordinator"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/reconcile"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestObserver(t *testing.T) {
	m := New()

	ok := coordinator.Event{Op: coordinator.OpPublish, Key: "t-1", Waited: time.Millisecond, Elapsed: 10 * time.Millisecond}
	m.OperationStarted(ok)
	m.OperationFinished(ok)

	failed := coordinator.Event{Op: coordinator.OpUnpublish, Key: "t-1", Err: errors.New("boom")}
	m.OperationStarted(failed)
	m.OperationFinished(failed)

	m.OperationFinished(coordinator.Event{Op: coordinator.OpPublish, Key: "t-2", Err: cloud.ErrCancelled})

	m.Reconciled(&reconcile.Result{Inserted: 2, Updated: 1, IdentityErr: errors.New("offline")})

	body := scrape(t, m)
	for _, want := range []string{
		`cloudtodo_sync_operations_total{op="publish",result="ok"} 1`,
		`cloudtodo_sync_operations_total{op="unpublish",result="error"} 1`,
		`cloudtodo_sync_operations_total{op="publish",result="cancelled"} 1`,
		`cloudtodo_sync_operations_in_flight 0`,
		`cloudtodo_reconcile_mirror_rows_total{change="inserted"} 2`,
		`cloudtodo_reconcile_mirror_rows_total{change="updated"} 1`,
		`cloudtodo_reconcile_identity_failures_total 1`,
		`cloudtodo_sync_operation_duration_seconds_count{op="publish"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ResultOK},
		{errors.New("x"), ResultError},
		{cloud.ErrCancelled, ResultCancelled},
	}
	for _, tt := range tests {
		if got := resultLabel(tt.err); got != tt.want {
			t.Errorf("resultLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
