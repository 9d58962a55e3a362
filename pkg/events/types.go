package events

import "github.com/Kinto/kinto-signer/pkg/resourcemap"

// ReviewEventType is one of the four typed review events named in §4.8.
type ReviewEventType int

const (
	ReviewRequested ReviewEventType = iota
	ReviewRejected
	ReviewApproved
	ReviewCanceled
)

var reviewEventNames = map[ReviewEventType]string{
	ReviewRequested: "ReviewRequested",
	ReviewRejected:  "ReviewRejected",
	ReviewApproved:  "ReviewApproved",
	ReviewCanceled:  "ReviewCanceled",
}

func (t ReviewEventType) String() string { return reviewEventNames[t] }

// ReviewEvent carries {request, payload, impacted_objects, resource,
// original_event} per §4.8; Approved and Canceled additionally carry
// ChangesCount.
type ReviewEvent struct {
	Type            ReviewEventType
	Principal       string
	Payload         Payload
	ImpactedObjects []Impacted
	Resource        *resourcemap.Resource
	OriginalEvent   interface{}
	// ChangesCount is set only for ReviewApproved/ReviewCanceled. nil
	// elsewhere.
	ChangesCount *int
}
