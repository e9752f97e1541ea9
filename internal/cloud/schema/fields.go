package schema

// RecordType is the remote record type of a published todo item.
const RecordType = "CD_TodoItem"

// FieldPrefix is prepended to a local field name to form the remote field name.
const FieldPrefix = "CD_"

// CurrentAccountMarker replaces a creator identifier that belongs to the
// signed-in account. Ownership checks compare against the marker, never
// against the session-scoped account identifier.
const CurrentAccountMarker = "__defaultOwner__"

// Local field names of the shared todo content.
const (
	FieldTitle      = "title"
	FieldDetails    = "details"
	FieldDone       = "done"
	FieldCreateDate = "createDate"
)

// FieldSpec binds a local field to its remote name and declared type.
type FieldSpec struct {
	Local  string
	Remote string
	Type   Kind
}

// RemoteName returns the remote field name for a local field name.
func RemoteName(local string) string {
	return FieldPrefix + local
}

// ContentFields is the field table for todo content, in declaration order.
// The publish flag is local state and is deliberately absent.
var ContentFields = []FieldSpec{
	{Local: FieldTitle, Remote: RemoteName(FieldTitle), Type: KindString},
	{Local: FieldDetails, Remote: RemoteName(FieldDetails), Type: KindString},
	{Local: FieldDone, Remote: RemoteName(FieldDone), Type: KindBool},
	{Local: FieldCreateDate, Remote: RemoteName(FieldCreateDate), Type: KindTimestamp},
}

// LookupField returns the spec for a local field name.
func LookupField(local string) (FieldSpec, bool) {
	for _, f := range ContentFields {
		if f.Local == local {
			return f, true
		}
	}
	return FieldSpec{}, false
}
