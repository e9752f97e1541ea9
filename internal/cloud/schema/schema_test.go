package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
)

func TestTodoItem_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		item    TodoItem
		wantErr string
	}{
		{
			name: "valid item",
			item: TodoItem{ID: "t-1", Content: Content{Title: "Buy milk", CreateDate: now}},
		},
		{
			name:    "missing id",
			item:    TodoItem{Content: Content{Title: "Buy milk", CreateDate: now}},
			wantErr: "id is required",
		},
		{
			name:    "missing title",
			item:    TodoItem{ID: "t-1", Content: Content{CreateDate: now}},
			wantErr: "title is required",
		},
		{
			name:    "title too long",
			item:    TodoItem{ID: "t-1", Content: Content{Title: strings.Repeat("x", 501), CreateDate: now}},
			wantErr: "title must be 500 characters or less",
		},
		{
			name:    "missing create date",
			item:    TodoItem{ID: "t-1", Content: Content{Title: "Buy milk"}},
			wantErr: "create_date is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewTodo(t *testing.T) {
	a := NewTodo("Write report", "quarterly")
	b := NewTodo("Write report", "quarterly")

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("NewTodo() ids = %q, %q, want distinct non-empty ids", a.ID, b.ID)
	}
	if err := a.Validate(); err != nil {
		t.Errorf("NewTodo() produced invalid item: %v", err)
	}
	if a.Published {
		t.Error("NewTodo() item should not be published")
	}
}

func TestTodoItem_RemoteRecordID(t *testing.T) {
	item := &TodoItem{ID: "t-42"}
	id, err := item.RemoteRecordID()
	if err != nil {
		t.Fatalf("RemoteRecordID() error: %v", err)
	}
	if id != "t-42" {
		t.Errorf("RemoteRecordID() = %q, want t-42", id)
	}

	_, err = (&TodoItem{}).RemoteRecordID()
	if !errors.Is(err, cloud.ErrNoRemoteCounterpart) {
		t.Errorf("RemoteRecordID() on empty id error = %v, want ErrNoRemoteCounterpart", err)
	}

	var nilItem *TodoItem
	if _, err := nilItem.RemoteRecordID(); !errors.Is(err, cloud.ErrNoRemoteCounterpart) {
		t.Errorf("RemoteRecordID() on nil item error = %v, want ErrNoRemoteCounterpart", err)
	}
}

func TestContentFields(t *testing.T) {
	want := map[string]Kind{
		"CD_title":      KindString,
		"CD_details":    KindString,
		"CD_done":       KindBool,
		"CD_createDate": KindTimestamp,
	}
	if len(ContentFields) != len(want) {
		t.Fatalf("len(ContentFields) = %d, want %d", len(ContentFields), len(want))
	}
	for _, f := range ContentFields {
		kind, ok := want[f.Remote]
		if !ok {
			t.Errorf("unexpected remote field %q", f.Remote)
			continue
		}
		if f.Type != kind {
			t.Errorf("field %s type = %v, want %v", f.Remote, f.Type, kind)
		}
		if f.Remote != RemoteName(f.Local) {
			t.Errorf("field %s remote name = %q, want %q", f.Local, f.Remote, RemoteName(f.Local))
		}
	}

	if _, ok := LookupField("published"); ok {
		t.Error("publish flag must not be a remote field")
	}
}

func TestValue_Equal(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same string", String("a"), String("a"), true},
		{"different string", String("a"), String("b"), false},
		{"string vs bool", String("true"), Bool(true), false},
		{"same bool", Bool(false), Bool(false), true},
		{"same instant other zone", Timestamp(ts), Timestamp(ts.In(time.FixedZone("X", 3600))), true},
		{"different instant", Timestamp(ts), Timestamp(ts.Add(time.Nanosecond)), false},
		{"int", Int64(7), Int64(7), true},
		{"unsupported", Unsupported("BYTES", json.RawMessage(`"AAE="`)), Unsupported("BYTES", json.RawMessage(`"AAE="`)), true},
		{"unsupported tag differs", Unsupported("BYTES", json.RawMessage(`1`)), Unsupported("ASSET", json.RawMessage(`1`)), false},
		{"unsupported ignores layout", Unsupported("ASSET", json.RawMessage("{\n  \"size\": 12\n}")), Unsupported("ASSET", json.RawMessage(`{"size":12}`)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("%#v.Equal(%#v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestValue_JSON(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)

	tests := []struct {
		name  string
		value Value
		wire  string
	}{
		{"string", String("hello"), `{"type":"STRING","value":"hello"}`},
		{"bool", Bool(true), `{"type":"BOOLEAN","value":true}`},
		{"timestamp", Timestamp(ts), `{"type":"TIMESTAMP","value":"2024-03-01T12:00:00.123456789Z"}`},
		{"int64", Int64(-3), `{"type":"INT64","value":-3}`},
		{"unsupported", Unsupported("LOCATION", json.RawMessage(`{"lat":1}`)), `{"type":"LOCATION","value":{"lat":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.value)
			if err != nil {
				t.Fatalf("Marshal() error: %v", err)
			}
			if string(data) != tt.wire {
				t.Errorf("Marshal() = %s, want %s", data, tt.wire)
			}

			var got Value
			if err := json.Unmarshal([]byte(tt.wire), &got); err != nil {
				t.Fatalf("Unmarshal() error: %v", err)
			}
			if !got.Equal(tt.value) {
				t.Errorf("Unmarshal() = %#v, want %#v", got, tt.value)
			}
		})
	}

	if _, err := json.Marshal(Value{}); err == nil {
		t.Error("Marshal() of invalid value should fail")
	}

	var v Value
	if err := json.Unmarshal([]byte(`{"type":"BOOLEAN","value":"yes"}`), &v); err == nil {
		t.Error("Unmarshal() of mistyped BOOLEAN should fail")
	}
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	rec := NewRecord(RecordType, "r-1")
	rec.Set("CD_title", String("a"))

	cp := rec.Clone()
	cp.Set("CD_title", String("b"))
	cp.Set("extra", Bool(true))

	if v, _ := rec.Get("CD_title"); !v.Equal(String("a")) {
		t.Errorf("original title changed to %#v", v)
	}
	if _, ok := rec.Get("extra"); ok {
		t.Error("original gained a field set on the clone")
	}
}

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rec     *Record
		wantErr bool
	}{
		{"valid", NewRecord(RecordType, "r-1"), false},
		{"empty id", NewRecord(RecordType, ""), true},
		{"path separator", NewRecord(RecordType, "../evil"), true},
		{"dot dot", NewRecord(RecordType, ".."), true},
		{"missing type", NewRecord("", "r-1"), true},
		{"invalid field", &Record{ID: "r-1", Type: RecordType, Fields: map[string]Value{"x": {}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecordJSONRoundTrip(t *testing.T) {
	modified := time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC)
	created := time.Date(2023, 1, 2, 3, 4, 5, 600, time.UTC)

	rec := NewRecord(RecordType, "r-7")
	rec.CreatorID = "_abc123"
	rec.ModifiedAt = modified
	rec.Set("CD_title", String("Pick up keys"))
	rec.Set("CD_done", Bool(false))
	rec.Set("CD_createDate", Timestamp(created))
	rec.Set("CD_photo", Unsupported("ASSET", json.RawMessage(`{"size":12}`)))

	data, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord() error: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("wire form is not JSON: %v", err)
	}
	if raw["recordName"] != "r-7" || raw["recordType"] != RecordType {
		t.Errorf("wire form header = %v/%v", raw["recordName"], raw["recordType"])
	}

	got, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord() error: %v", err)
	}
	if got.ID != rec.ID || got.Type != rec.Type || got.CreatorID != rec.CreatorID {
		t.Errorf("DecodeRecord() header = %+v, want %+v", got, rec)
	}
	if !got.ModifiedAt.Equal(modified) {
		t.Errorf("ModifiedAt = %v, want %v", got.ModifiedAt, modified)
	}
	if len(got.Fields) != len(rec.Fields) {
		t.Fatalf("len(Fields) = %d, want %d", len(got.Fields), len(rec.Fields))
	}
	for name, want := range rec.Fields {
		if v := got.Fields[name]; !v.Equal(want) {
			t.Errorf("field %s = %#v, want %#v", name, v, want)
		}
	}
}

func TestWriteAndReadRecordFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "records")

	rec := NewRecord(RecordType, "r-1")
	rec.Set("CD_title", String("hello"))

	if err := WriteRecordFile(dir, rec); err != nil {
		t.Fatalf("WriteRecordFile() error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "r-1.json" {
		t.Fatalf("records dir = %v, want only r-1.json", entries)
	}

	got, err := ReadRecordFile(filepath.Join(dir, "r-1.json"))
	if err != nil {
		t.Fatalf("ReadRecordFile() error: %v", err)
	}
	if v, _ := got.Get("CD_title"); !v.Equal(String("hello")) {
		t.Errorf("title = %#v, want hello", v)
	}

	if err := WriteRecordFile(dir, NewRecord(RecordType, "")); err == nil {
		t.Error("WriteRecordFile() should reject a record without id")
	}
}

func TestReadAllRecordFiles(t *testing.T) {
	dir := t.TempDir()

	for _, id := range []string{"a", "b"} {
		if err := WriteRecordFile(dir, NewRecord(RecordType, id)); err != nil {
			t.Fatalf("WriteRecordFile(%s) error: %v", id, err)
		}
	}
	// invalid, temp, and unrelated files are skipped
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".c.123.tmp"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	records, err := ReadAllRecordFiles(dir, log.New(&logs, "", 0))
	if err != nil {
		t.Fatalf("ReadAllRecordFiles() error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("ReadAllRecordFiles() returned %d records, want 2", len(records))
	}
	if !strings.Contains(logs.String(), "WARNING: skipping invalid record file broken.json") {
		t.Errorf("missing skip warning, got %q", logs.String())
	}

	records, err = ReadAllRecordFiles(filepath.Join(dir, "missing"), nil)
	if err != nil {
		t.Fatalf("ReadAllRecordFiles() on missing dir error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("ReadAllRecordFiles() on missing dir = %d records, want 0", len(records))
	}
}

func TestReadAllRecordFiles_ReadErrorFails(t *testing.T) {
	dir := t.TempDir()
	if err := WriteRecordFile(dir, NewRecord(RecordType, "a")); err != nil {
		t.Fatal(err)
	}
	// reading a directory through a record-named link fails with EISDIR
	if err := os.Symlink(t.TempDir(), filepath.Join(dir, "b.json")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	records, err := ReadAllRecordFiles(dir, nil)
	if err == nil {
		t.Fatalf("ReadAllRecordFiles() = %d records, want an error", len(records))
	}
	if errors.Is(err, ErrInvalidRecord) {
		t.Errorf("read failure reported as invalid record: %v", err)
	}
}

func TestDecodeRecord_Invalid(t *testing.T) {
	for _, data := range []string{"{", `{"recordName":""}`} {
		if _, err := DecodeRecord([]byte(data)); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("DecodeRecord(%q) error = %v, want ErrInvalidRecord", data, err)
		}
	}
}

func TestSortMirror(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []*MirrorItem{
		{RecordID: "1", CreatorID: "alice", Content: Content{CreateDate: base}},
		{RecordID: "2", CreatorID: "bob", Content: Content{CreateDate: base}},
		{RecordID: "3", CreatorID: "alice", Content: Content{CreateDate: base.Add(time.Hour)}},
	}

	SortMirror(items)

	var got []string
	for _, it := range items {
		got = append(got, it.RecordID)
	}
	if strings.Join(got, ",") != "2,3,1" {
		t.Errorf("SortMirror() order = %v, want [2 3 1]", got)
	}
}

func TestMirrorItem_SameContent(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &MirrorItem{RecordID: "r", CreatorID: "c", Content: Content{Title: "x", CreateDate: ts}, SyncedAt: ts}
	b := *a
	b.SyncedAt = ts.Add(time.Hour)

	if !a.SameContent(&b) {
		t.Error("SameContent() should ignore SyncedAt")
	}
	b.Done = true
	if a.SameContent(&b) {
		t.Error("SameContent() should detect a changed done flag")
	}
}
