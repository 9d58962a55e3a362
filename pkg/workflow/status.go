// Package workflow implements the collection status state machine (C5):
// validating status transitions, enforcing editor/reviewer group
// membership, and naming which tracking fields an accepted transition
// stamps. Per the tagged-variants design note (§9), status is a closed enum
// with an explicit "absent" sentinel rather than a free string.
package workflow

// Status is the closed set of values collection.status can hold.
type Status int

const (
	// Absent means the collection metadata has no status field at all —
	// the initial state before any write touches it.
	Absent Status = iota
	WorkInProgress
	ToReview
	ToSign
	ToResign
	ToRefresh
	ToRollback
	Signed
)

var statusNames = map[Status]string{
	Absent:         "",
	WorkInProgress: "work-in-progress",
	ToReview:       "to-review",
	ToSign:         "to-sign",
	ToResign:       "to-resign",
	ToRefresh:      "to-refresh",
	ToRollback:     "to-rollback",
	Signed:         "signed",
}

func (s Status) String() string { return statusNames[s] }

// ParseStatus validates a raw status string from posted data. An empty
// string parses as Absent (used only for "no status field present", never
// as a value a caller may PATCH to).
func ParseStatus(raw string) (Status, bool) {
	for s, name := range statusNames {
		if name == raw {
			return s, true
		}
	}
	return Absent, false
}

// TrackingFields names the (who, when) field pairs stamped on an accepted
// transition, per §4.4's update_source_status rule.
type TrackingFields struct {
	EditBy          bool
	ReviewRequestBy bool
	ReviewBy        bool
	SignatureBy     bool
}

// fieldsFor returns which tracking fields a transition into target stamps,
// per §4.4: "WIP ⇒ last_edit_{by,date}; to-review ⇒
// last_review_request_{by,date}; signed ⇒ last_review_{by,date} (unless old
// status was already signed — refresh) and last_signature_{by,date}".
func fieldsFor(target Status, previous Status) TrackingFields {
	switch target {
	case WorkInProgress:
		return TrackingFields{EditBy: true}
	case ToReview:
		return TrackingFields{ReviewRequestBy: true}
	case Signed:
		f := TrackingFields{SignatureBy: true}
		if previous != Signed {
			f.ReviewBy = true
		}
		return f
	default:
		return TrackingFields{}
	}
}
