package workflow

// PluginPrincipal is the engine's synthetic identity (§4.5's "recursivity
// guard"). Writes attributed to it bypass the tracking-field check and are
// never themselves subject to Validate — the orchestrator (C6) short-
// circuits before calling into this package at all when it sees this
// principal, which is what invariant 6 requires.
const PluginPrincipal = "plugin:kinto-signer"

// Request describes one end-user attempt to change collection status,
// carrying everything Validate needs to decide accept/reject without
// reaching back into storage.
type Request struct {
	// CurrentStatus is the collection's status before this write; HadStatus
	// distinguishes "status was explicitly Absent" from "no status field
	// existed yet" for the "cannot remove status" rule.
	CurrentStatus Status
	HadStatus     bool

	// RequestedStatus/StatusRemoved describe the posted change: exactly one
	// of RequestedStatus (with StatusPresent=true) or StatusRemoved is the
	// caller's intent.
	StatusPresent   bool
	RequestedStatus Status
	StatusRemoved   bool

	// TrackingFieldsTouched is true if the posted data includes any of the
	// last_edit_by/last_review_request_by/last_review_by/last_signature_by
	// (or corresponding _date) keys.
	TrackingFieldsTouched bool

	Principal           string
	EffectivePrincipals  []string
	LastReviewRequestBy  string

	GroupCheckEnabled bool
	EditorsGroupURI   string
	ReviewersGroupURI string

	ToReviewEnabled bool
}

// Code enumerates the HTTP-ish outcome of a rejected transition, translated
// to an actual status code by the host adapter.
type Code int

const (
	OK Code = iota
	BadRequest
	Forbidden
)

// Result is the accept/reject-with-code-and-message value Validate returns,
// per the "exceptions to result types" design note (§9).
type Result struct {
	Accepted bool
	Code     Code
	Message  string
	// NextStatus is the status the collection should move to if Accepted.
	NextStatus Status
	Fields     TrackingFields
}

func reject(code Code, message string) Result {
	return Result{Accepted: false, Code: code, Message: message}
}

// Validate implements the hard rules and DAG in §4.5. It never mutates
// anything; callers apply Result themselves.
func Validate(req Request) Result {
	if req.Principal == PluginPrincipal {
		// The engine's own writes are never subject to end-user validation;
		// in practice the orchestrator never calls Validate for them, but
		// Validate accepts unconditionally as a defensive fallback.
		return Result{Accepted: true, NextStatus: req.RequestedStatus, Fields: fieldsFor(req.RequestedStatus, req.CurrentStatus)}
	}

	if req.TrackingFieldsTouched {
		return reject(BadRequest, "Cannot write tracking fields")
	}

	if req.StatusRemoved {
		if req.HadStatus {
			return reject(BadRequest, "Cannot remove status")
		}
		return Result{Accepted: true, NextStatus: Absent}
	}

	if !req.StatusPresent {
		// No status key in posted data at all: a plain record/metadata
		// write on a collection with no prior status enters
		// work-in-progress (§3 "Created" / the "(absent) -> WIP" edge);
		// once a status exists, a write that doesn't touch status at all
		// is not a status transition and Validate is not the right check
		// (the demotion-to-WIP-on-record-write rule lives in the
		// orchestrator, not here).
		if !req.HadStatus {
			return Result{Accepted: true, NextStatus: WorkInProgress, Fields: fieldsFor(WorkInProgress, req.CurrentStatus)}
		}
		return Result{Accepted: true, NextStatus: req.CurrentStatus}
	}

	target := req.RequestedStatus

	if target == Signed {
		return reject(BadRequest, "Cannot set status to 'signed'")
	}

	switch target {
	case WorkInProgress, ToReview, ToSign, ToResign, ToRefresh, ToRollback:
		// known statuses, fall through to transition-specific checks
	default:
		return reject(BadRequest, "Unknown status")
	}

	switch target {
	case ToReview:
		if req.GroupCheckEnabled && !principalIn(req.EffectivePrincipals, req.EditorsGroupURI) {
			return reject(Forbidden, "Not in editors group")
		}
		return Result{Accepted: true, NextStatus: ToReview, Fields: fieldsFor(ToReview, req.CurrentStatus)}

	case WorkInProgress:
		return Result{Accepted: true, NextStatus: WorkInProgress, Fields: fieldsFor(WorkInProgress, req.CurrentStatus)}

	case ToSign:
		isRefresh := req.CurrentStatus == Signed
		if req.ToReviewEnabled && req.CurrentStatus != ToReview && !isRefresh {
			return reject(BadRequest, "Collection not reviewed")
		}
		if req.ToReviewEnabled && !isRefresh && req.LastReviewRequestBy != "" && req.Principal == req.LastReviewRequestBy {
			return reject(Forbidden, "Editor cannot review")
		}
		if req.GroupCheckEnabled && !isRefresh && !principalIn(req.EffectivePrincipals, req.ReviewersGroupURI) {
			return reject(Forbidden, "Not in reviewers group")
		}
		return Result{Accepted: true, NextStatus: Signed, Fields: fieldsFor(Signed, req.CurrentStatus)}

	case ToResign, ToRefresh:
		return Result{Accepted: true, NextStatus: Signed, Fields: fieldsFor(Signed, req.CurrentStatus)}

	case ToRollback:
		return Result{Accepted: true, NextStatus: Signed}
	}

	return reject(BadRequest, "Unknown status")
}

func principalIn(principals []string, target string) bool {
	if target == "" {
		return false
	}
	for _, p := range principals {
		if p == target {
			return true
		}
	}
	return false
}
