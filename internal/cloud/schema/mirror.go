package schema

import (
	"sort"
	"time"
)

// MirrorItem is a read-only local copy of another user's published record.
// It is written only by reconciliation.
type MirrorItem struct {
	RecordID  string `json:"record_id" yaml:"record_id"`
	CreatorID string `json:"creator_id" yaml:"creator_id"`
	Content   `yaml:",inline"`

	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`
	SyncedAt   time.Time `json:"synced_at" yaml:"synced_at"`
}

// SameContent reports whether two rows carry identical synced values.
// SyncedAt is bookkeeping and is ignored.
func (m *MirrorItem) SameContent(o *MirrorItem) bool {
	return m.RecordID == o.RecordID &&
		m.CreatorID == o.CreatorID &&
		m.Title == o.Title &&
		m.Details == o.Details &&
		m.Done == o.Done &&
		m.CreateDate.Equal(o.CreateDate) &&
		m.ModifiedAt.Equal(o.ModifiedAt)
}

// SortMirror orders rows by creator descending, then creation date
// descending, then record id for a stable listing.
func SortMirror(items []*MirrorItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.CreatorID != b.CreatorID {
			return a.CreatorID > b.CreatorID
		}
		if !a.CreateDate.Equal(b.CreateDate) {
			return a.CreateDate.After(b.CreateDate)
		}
		return a.RecordID < b.RecordID
	})
}

// MutationOp is the kind of change a MirrorMutation applies.
type MutationOp int

const (
	MutationInsert MutationOp = iota
	MutationUpdate
	MutationDelete
)

func (op MutationOp) String() string {
	switch op {
	case MutationInsert:
		return "insert"
	case MutationUpdate:
		return "update"
	case MutationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// MirrorMutation is one change in a reconciliation batch. Item is set for
// inserts and updates; deletes only need RecordID.
type MirrorMutation struct {
	Op       MutationOp
	RecordID string
	Item     *MirrorItem
}

// InsertMirror returns an insert mutation for item.
func InsertMirror(item *MirrorItem) MirrorMutation {
	return MirrorMutation{Op: MutationInsert, RecordID: item.RecordID, Item: item}
}

// UpdateMirror returns an update mutation for item.
func UpdateMirror(item *MirrorItem) MirrorMutation {
	return MirrorMutation{Op: MutationUpdate, RecordID: item.RecordID, Item: item}
}

// DeleteMirror returns a delete mutation for the row with recordID.
func DeleteMirror(recordID string) MirrorMutation {
	return MirrorMutation{Op: MutationDelete, RecordID: recordID}
}
