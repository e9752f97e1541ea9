package remote

import (
	"sort"
	"strings"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// Pseudo-fields that sort on record metadata instead of a field value.
const (
	SortModified = "@modified"
	SortCreator  = "@creator"
)

// SortOrder is one key of a query sort.
type SortOrder struct {
	Field      string
	Descending bool
}

// Ascending sorts by field, smallest first.
func Ascending(field string) SortOrder { return SortOrder{Field: field} }

// Descending sorts by field, largest first.
func Descending(field string) SortOrder { return SortOrder{Field: field, Descending: true} }

// PublicListing is the default order of the public listing: creator
// descending, then creation date descending.
func PublicListing() []SortOrder {
	return []SortOrder{
		Descending(SortCreator),
		Descending(schema.RemoteName(schema.FieldCreateDate)),
	}
}

// SortRecords sorts records in place by the given keys. Records equal on
// every key are ordered by identifier. Missing field values sort first in
// ascending order.
func SortRecords(records []*schema.Record, orders []SortOrder) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		for _, o := range orders {
			c := compareKey(a, b, o.Field)
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return a.ID < b.ID
	})
}

func compareKey(a, b *schema.Record, field string) int {
	switch field {
	case SortModified:
		return a.ModifiedAt.Compare(b.ModifiedAt)
	case SortCreator:
		return strings.Compare(a.CreatorID, b.CreatorID)
	}

	va, okA := a.Get(field)
	vb, okB := b.Get(field)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return compareValues(va, vb)
}

func compareValues(a, b schema.Value) int {
	if a.Kind() != b.Kind() {
		return cmpInt(int64(a.Kind()), int64(b.Kind()))
	}
	switch a.Kind() {
	case schema.KindString:
		sa, _ := a.AsString()
		sb, _ := b.AsString()
		return strings.Compare(sa, sb)
	case schema.KindBool:
		ba, _ := a.AsBool()
		bb, _ := b.AsBool()
		return cmpInt(boolInt(ba), boolInt(bb))
	case schema.KindTimestamp:
		ta, _ := a.AsTime()
		tb, _ := b.AsTime()
		return ta.Compare(tb)
	case schema.KindInt64:
		ia, _ := a.AsInt64()
		ib, _ := b.AsInt64()
		return cmpInt(ia, ib)
	default:
		return 0
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
