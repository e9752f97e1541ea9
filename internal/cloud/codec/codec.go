// Package codec converts todo content to and from remote record fields.
//
// The mapping is a static table: each declared field has a remote name and a
// type, and decoding checks the remote value against that type. Mismatched
// or unsupported values are skipped with a warning and the local field keeps
// its zero value. Nothing in this package performs I/O beyond logging.
package codec

import (
	"log"
	"os"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// binding ties a field spec to accessors on schema.Content.
type binding struct {
	spec schema.FieldSpec

	// get returns the value to send and whether it is present
	get func(c *schema.Content) (schema.Value, bool)
	// set stores v; it is only called with a value of spec.Type
	set func(c *schema.Content, v schema.Value)
}

var bindings = []binding{
	{
		spec: field(schema.FieldTitle),
		get:  func(c *schema.Content) (schema.Value, bool) { return schema.String(c.Title), true },
		set: func(c *schema.Content, v schema.Value) {
			c.Title, _ = v.AsString()
		},
	},
	{
		spec: field(schema.FieldDetails),
		get:  func(c *schema.Content) (schema.Value, bool) { return schema.String(c.Details), true },
		set: func(c *schema.Content, v schema.Value) {
			c.Details, _ = v.AsString()
		},
	},
	{
		spec: field(schema.FieldDone),
		get:  func(c *schema.Content) (schema.Value, bool) { return schema.Bool(c.Done), true },
		set: func(c *schema.Content, v schema.Value) {
			c.Done, _ = v.AsBool()
		},
	},
	{
		spec: field(schema.FieldCreateDate),
		get: func(c *schema.Content) (schema.Value, bool) {
			if c.CreateDate.IsZero() {
				return schema.Value{}, false
			}
			return schema.Timestamp(c.CreateDate), true
		},
		set: func(c *schema.Content, v schema.Value) {
			c.CreateDate, _ = v.AsTime()
		},
	},
}

func field(local string) schema.FieldSpec {
	spec, ok := schema.LookupField(local)
	if !ok {
		panic("codec: undeclared field " + local)
	}
	return spec
}

// Codec maps between local items and remote records for one signed-in account.
type Codec struct {
	currentAccount string
	logger         *log.Logger
}

// New creates a codec. currentAccount is the remote identifier of the
// signed-in account and may be empty when signed out. If logger is nil,
// warnings go to stderr.
func New(currentAccount string, logger *log.Logger) *Codec {
	if logger == nil {
		logger = log.New(os.Stderr, "[codec] ", log.LstdFlags)
	}
	return &Codec{
		currentAccount: currentAccount,
		logger:         logger,
	}
}

// CurrentAccount returns the account identifier the codec substitutes.
func (c *Codec) CurrentAccount() string {
	return c.currentAccount
}

// ToRemoteFields returns the remote fields for every declared field of item
// that has a value. An unset creation date is not sent.
func (c *Codec) ToRemoteFields(item *schema.TodoItem) map[string]schema.Value {
	fields := make(map[string]schema.Value, len(bindings))
	for _, b := range bindings {
		v, ok := b.get(&item.Content)
		if !ok {
			continue
		}
		if v.Kind() != b.spec.Type {
			c.logger.Printf("WARNING: field %s of %s has type %v, declared %v; skipped",
				b.spec.Local, item.ID, v.Kind(), b.spec.Type)
			continue
		}
		fields[b.spec.Remote] = v
	}
	return fields
}

// Merge overwrites the fields of rec with the fields of item and returns the
// result as a new record. Fields on rec that item does not declare are left
// untouched. rec itself is not modified.
func (c *Codec) Merge(rec *schema.Record, item *schema.TodoItem) *schema.Record {
	merged := rec.Clone()
	if merged.Type == "" {
		merged.Type = schema.RecordType
	}
	for name, v := range c.ToRemoteFields(item) {
		merged.Set(name, v)
	}
	return merged
}

// DecodeContent reads the declared fields from rec. Absent fields keep their
// zero value; mistyped fields are skipped with a warning.
func (c *Codec) DecodeContent(rec *schema.Record) schema.Content {
	var content schema.Content
	for _, b := range bindings {
		v, ok := rec.Get(b.spec.Remote)
		if !ok {
			continue
		}
		if v.Kind() != b.spec.Type {
			c.logger.Printf("WARNING: record %s field %s has type %v, want %v; skipped",
				rec.ID, b.spec.Remote, v.Kind(), b.spec.Type)
			continue
		}
		b.set(&content, v)
	}
	return content
}

// DecodeTodo builds a local item draft from a remote record. The record
// exists remotely, so the draft is marked published.
func (c *Codec) DecodeTodo(rec *schema.Record) *schema.TodoItem {
	return &schema.TodoItem{
		ID:        rec.ID,
		Content:   c.DecodeContent(rec),
		Published: true,
		UpdatedAt: rec.ModifiedAt,
	}
}

// DecodeMirror builds a mirror row from a remote record.
func (c *Codec) DecodeMirror(rec *schema.Record) *schema.MirrorItem {
	return &schema.MirrorItem{
		RecordID:   rec.ID,
		CreatorID:  c.OwnerTag(rec.CreatorID),
		Content:    c.DecodeContent(rec),
		ModifiedAt: rec.ModifiedAt,
	}
}

// ApplyToMirror refreshes row from rec and reports whether anything changed.
// The row keeps its SyncedAt.
func (c *Codec) ApplyToMirror(row *schema.MirrorItem, rec *schema.Record) bool {
	fresh := c.DecodeMirror(rec)
	fresh.SyncedAt = row.SyncedAt
	if row.SameContent(fresh) {
		return false
	}
	*row = *fresh
	return true
}

// OwnerTag returns the creator identifier to store locally, substituting
// schema.CurrentAccountMarker for the signed-in account.
func (c *Codec) OwnerTag(creatorID string) string {
	if c.currentAccount != "" && creatorID == c.currentAccount {
		return schema.CurrentAccountMarker
	}
	return creatorID
}

// IsOwn reports whether a record was created by the signed-in account.
func (c *Codec) IsOwn(rec *schema.Record) bool {
	return c.OwnerTag(rec.CreatorID) == schema.CurrentAccountMarker
}
