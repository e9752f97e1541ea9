package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Record is a snapshot of a remote record. Records fetched from a store are
// values at a point in time; mutate a Clone, never the fetched copy.
type Record struct {
	ID         string
	Type       string
	Fields     map[string]Value
	CreatorID  string
	ModifiedAt time.Time
}

// ErrInvalidRecord marks record data that cannot be decoded or fails
// validation. Reading it again will not help.
var ErrInvalidRecord = errors.New("invalid record")

// NewRecord returns an empty draft record.
func NewRecord(recordType, id string) *Record {
	return &Record{
		ID:     id,
		Type:   recordType,
		Fields: make(map[string]Value),
	}
}

// Get returns the named field.
func (r *Record) Get(name string) (Value, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Set stores a field value, allocating the field map if needed.
func (r *Record) Set(name string, v Value) {
	if r.Fields == nil {
		r.Fields = make(map[string]Value)
	}
	r.Fields[name] = v
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Fields = make(map[string]Value, len(r.Fields))
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	return &cp
}

// Validate checks that the record can be stored.
func (r *Record) Validate() error {
	if err := ValidateRecordID(r.ID); err != nil {
		return err
	}
	if r.Type == "" {
		return fmt.Errorf("record type is required")
	}
	for name, v := range r.Fields {
		if name == "" {
			return fmt.Errorf("field name is required")
		}
		if v.Kind() == KindInvalid {
			return fmt.Errorf("field %s has no value", name)
		}
	}
	return nil
}

// ValidateRecordID rejects identifiers that cannot be used as a file or
// object name.
func ValidateRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("record id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("record id must be 255 characters or less (got %d)", len(id))
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("record id %q contains a path separator", id)
	}
	return nil
}

// Filename returns the canonical filename for this record: {id}.json
func (r *Record) Filename() string {
	return r.ID + ".json"
}

type recordJSON struct {
	RecordName string           `json:"recordName"`
	RecordType string           `json:"recordType"`
	Fields     map[string]Value `json:"fields"`
	Created    *createdJSON     `json:"created,omitempty"`
	Modified   *modifiedJSON    `json:"modified,omitempty"`
}

type createdJSON struct {
	UserRecordName string `json:"userRecordName"`
}

type modifiedJSON struct {
	Timestamp string `json:"timestamp"`
}

// MarshalJSON encodes the record in its wire form.
func (r Record) MarshalJSON() ([]byte, error) {
	w := recordJSON{
		RecordName: r.ID,
		RecordType: r.Type,
		Fields:     r.Fields,
	}
	if w.Fields == nil {
		w.Fields = map[string]Value{}
	}
	if r.CreatorID != "" {
		w.Created = &createdJSON{UserRecordName: r.CreatorID}
	}
	if !r.ModifiedAt.IsZero() {
		w.Modified = &modifiedJSON{Timestamp: r.ModifiedAt.UTC().Format(time.RFC3339Nano)}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form of a record.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	rec := Record{
		ID:     w.RecordName,
		Type:   w.RecordType,
		Fields: w.Fields,
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]Value)
	}
	if w.Created != nil {
		rec.CreatorID = w.Created.UserRecordName
	}
	if w.Modified != nil && w.Modified.Timestamp != "" {
		t, err := time.Parse(time.RFC3339Nano, w.Modified.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to parse modified timestamp: %w", err)
		}
		rec.ModifiedAt = t
	}

	*r = rec
	return nil
}

// DecodeRecord parses and validates a record in wire form.
func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: failed to parse: %w", ErrInvalidRecord, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return &rec, nil
}

// EncodeRecord validates a record and returns its indented wire form.
func EncodeRecord(rec *Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("cannot encode invalid record: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
	}
	return data, nil
}

// ReadRecordFile reads and parses a record JSON file from the given path.
func ReadRecordFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file %s: %w", path, err)
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("record file %s: %w", path, err)
	}
	return rec, nil
}

// WriteRecordFile writes a record to dir/{id}.json. The file is written to a
// temporary name first and renamed into place so readers never see a
// partial record.
func WriteRecordFile(dir string, rec *Record) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create records directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+rec.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for record %s: %w", rec.ID, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write record %s: %w", rec.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close record %s: %w", rec.ID, err)
	}

	path := filepath.Join(dir, rec.Filename())
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to write record file %s: %w", path, err)
	}
	return nil
}

// ReadAllRecordFiles reads every record file in dir. A missing directory is
// an empty set. Files holding an invalid record are logged and skipped; any
// other read failure is returned, since a partial set would look like
// deleted records. If logger is nil, skips are not reported.
func ReadAllRecordFiles(dir string, logger *log.Logger) ([]*Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Record{}, nil
		}
		return nil, fmt.Errorf("failed to read records directory: %w", err)
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !IsRecordFile(entry.Name()) {
			continue
		}

		rec, err := ReadRecordFile(filepath.Join(dir, entry.Name()))
		switch {
		case err == nil:
			records = append(records, rec)
		case errors.Is(err, fs.ErrNotExist):
			// deleted between ReadDir and ReadFile
		case errors.Is(err, ErrInvalidRecord):
			if logger != nil {
				logger.Printf("WARNING: skipping invalid record file %s: %v", entry.Name(), err)
			}
		default:
			return nil, err
		}
	}

	return records, nil
}

// IsRecordFile reports whether name looks like a record file rather than a
// temp file or something unrelated.
func IsRecordFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}
