package publish

import "github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"

// State is the result of probing the remote store for one item. It is one
// of Found, New, Missing or Deleted. States are produced and consumed within
// a single operation and are never cached.
type State interface {
	// RecordID is the remote identifier the state refers to.
	RecordID() string
	state()
}

// Found means the remote record exists.
type Found struct {
	Record *schema.Record
}

// New means the record does not exist and a draft was prepared for creation.
type New struct {
	Draft *schema.Record
}

// Missing means the record does not exist and creation was not requested.
type Missing struct {
	ID    string
	Cause error
}

// Deleted means the remote record no longer exists after an unpublish.
type Deleted struct {
	ID string
}

func (s Found) RecordID() string   { return s.Record.ID }
func (s New) RecordID() string     { return s.Draft.ID }
func (s Missing) RecordID() string { return s.ID }
func (s Deleted) RecordID() string { return s.ID }

func (Found) state()   {}
func (New) state()     {}
func (Missing) state() {}
func (Deleted) state() {}

// writable is a state a publish can merge into. Only Found and New
// implement it, so a publish never has to handle Missing.
type writable interface {
	State
	base() *schema.Record
}

func (s Found) base() *schema.Record { return s.Record }
func (s New) base() *schema.Record   { return s.Draft }

// Phase is a step of the publish or unpublish protocol.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseProbing
	PhaseFound
	PhaseNew
	PhaseMissing
	PhaseMerging
	PhaseSaved
	PhaseFailed
	PhaseDeleting
	PhaseDeleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseProbing:
		return "probing"
	case PhaseFound:
		return "found"
	case PhaseNew:
		return "new"
	case PhaseMissing:
		return "missing"
	case PhaseMerging:
		return "merging"
	case PhaseSaved:
		return "saved"
	case PhaseFailed:
		return "failed"
	case PhaseDeleting:
		return "deleting"
	case PhaseDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// PhaseFunc observes phase transitions. It runs synchronously on the
// operation's goroutine and must not block.
type PhaseFunc func(recordID string, phase Phase)

func phaseOf(s State) Phase {
	switch s.(type) {
	case Found:
		return PhaseFound
	case New:
		return PhaseNew
	case Missing:
		return PhaseMissing
	case Deleted:
		return PhaseDeleted
	}
	return PhaseIdle
}
