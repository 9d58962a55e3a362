package events

import "github.com/Kinto/kinto-signer/pkg/workflow"

// TransitionRejected wraps a rejected workflow.Result into an error the
// host adapter maps to the corresponding HTTP status (§7: InvalidPostedData
// → 400, Forbidden → 403).
type TransitionRejected struct {
	Code    workflow.Code
	Message string
}

func (e *TransitionRejected) Error() string { return e.Message }
