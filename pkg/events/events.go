// Package events implements the Event Listeners / Orchestrator (C6) and the
// review-event types and capability-facing data it produces (C8). It
// subscribes to the host's three notification kinds (record-changed,
// collection-changed, collection-deleted), routes them through the resource
// map (C3), drives the workflow state machine (C5) and the Updater (C4),
// and buffers review events for emission only after the host commits.
//
// Grounded on _examples/original_source/kinto_signer/listeners.py: the split
// between sign_collection_data (status == to-sign dispatches the updater)
// and check_collection_status (the DAG/authorization checks) is collapsed
// here into one dispatch path per notification, since this package owns
// both the validation call and the effect.
package events

import (
	"context"

	"github.com/Kinto/kinto-signer/pkg/resourcemap"
	"github.com/Kinto/kinto-signer/pkg/signer"
	"github.com/Kinto/kinto-signer/pkg/store"
	"github.com/Kinto/kinto-signer/pkg/updater"
	"github.com/Kinto/kinto-signer/pkg/workflow"
)

// Payload mirrors the host notification payload shape named in §6:
// {bucket_id, collection_id, action, user_id, uri, timestamp}.
type Payload struct {
	BucketID     string
	CollectionID string
	Action       string
	UserID       string
	URI          string
	Timestamp    int64
}

// Impacted is one {old?, new} pair from the host's impacted_objects list.
type Impacted struct {
	Old store.Object // nil on create
	New store.Object
}

// ChangeNotification is what the host delivers to each subscription point.
type ChangeNotification struct {
	Payload             Payload
	Impacted            []Impacted
	Principal           string
	EffectivePrincipals []string
	// OriginalEvent is an opaque passthrough of whatever the host's own
	// event object is, carried onto queued ReviewEvents unexamined.
	OriginalEvent interface{}
}

// SignerLookup resolves the signer instance registered for a source URI.
// Satisfied by pkg/registry.SignerRegistry; kept as a narrow interface here so
// this package does not import the registry.
type SignerLookup interface {
	SignerForSource(sourceURI string) (signer.Signer, error)
}

// EventSink is the host's event bus, invoked only after a successful
// commit (§4.6 point 3).
type EventSink interface {
	Publish(ctx context.Context, e ReviewEvent) error
}

// Orchestrator is the per-process C6 component. One Orchestrator serves all
// configured resources; Resources must not change after construction (§5:
// "the resource map is immutable after init").
type Orchestrator struct {
	Resources   *resourcemap.Map
	Signers     SignerLookup
	Storage     store.Storage
	Permissions store.Permissions

	CacheInvalidator updater.CacheInvalidator
	Notifier         updater.Notifier

	// buffer is request-bound state (§5): one Orchestrator value is reused
	// across requests only if the caller drains (Flush) or clears
	// (Discard) it between them.
	buffer []ReviewEvent
}

func New(resources *resourcemap.Map, signers SignerLookup, st store.Storage, perms store.Permissions) *Orchestrator {
	return &Orchestrator{Resources: resources, Signers: signers, Storage: st, Permissions: perms}
}

func (o *Orchestrator) updaterFor(source, destination resourcemap.Endpoint) (*updater.Updater, error) {
	s, err := o.Signers.SignerForSource(source.URI())
	if err != nil {
		return nil, err
	}
	u := updater.New(source, destination, s, o.Storage, o.Permissions)
	u.CacheInvalidator = o.CacheInvalidator
	u.Notifier = o.Notifier
	return u, nil
}

func (o *Orchestrator) queue(e ReviewEvent) { o.buffer = append(o.buffer, e) }

// Flush drains the queued review events and publishes each, in queued
// order, via sink. Call this only from the host's before-commit hook.
func (o *Orchestrator) Flush(ctx context.Context, sink EventSink) error {
	pending := o.buffer
	o.buffer = nil
	for _, e := range pending {
		if err := sink.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops queued review events without publishing them, for a rolled
// back or cancelled request (§4.6 point 3, §5 "Cancellation/timeout").
func (o *Orchestrator) Discard() { o.buffer = nil }

// Pending reports how many review events are currently queued, for tests
// and diagnostics.
func (o *Orchestrator) Pending() int { return len(o.buffer) }

// HandleRecordChanged implements §4.6 dispatch rule 1: a record write on a
// source collection demotes its status to work-in-progress.
func (o *Orchestrator) HandleRecordChanged(ctx context.Context, n ChangeNotification) error {
	if n.Principal == workflow.PluginPrincipal {
		return nil
	}
	resource := o.lookup(n.Payload.BucketID, n.Payload.CollectionID)
	if resource == nil {
		return nil
	}
	u, err := o.updaterFor(resource.Source, resource.Destination)
	if err != nil {
		return err
	}
	return u.UpdateSourceStatus(ctx, workflow.WorkInProgress, n.Principal, workflow.Absent)
}

// HandleCollectionChanged implements §4.6 dispatch rule 2: validate the
// requested status transition and, if accepted, invoke the matching
// Updater operation. Each impacted object is processed independently (the
// REDESIGN note on batch requests: "per-line batch composition... each
// sub-request as an independent collection-change event").
func (o *Orchestrator) HandleCollectionChanged(ctx context.Context, n ChangeNotification) error {
	resource := o.lookup(n.Payload.BucketID, n.Payload.CollectionID)
	if resource == nil {
		return nil
	}
	if n.Principal == workflow.PluginPrincipal {
		return nil
	}
	for _, impacted := range n.Impacted {
		if err := o.handleOneCollectionChange(ctx, resource, n, impacted); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) handleOneCollectionChange(ctx context.Context, resource *resourcemap.Resource, n ChangeNotification, impacted Impacted) error {
	oldStatus, hadStatus := objectStatus(impacted.Old)
	trackingTouched := trackingFieldsTouched(impacted.Old, impacted.New)

	newRaw, statusPresent := impacted.New["status"]
	if statusPresent {
		newStr, _ := newRaw.(string)
		// Idempotent re-PUT of the same status is not a transition attempt
		// (grounded on listeners.py's check_collection_status: "if
		// old_status == new_status: continue"); only tracking-field
		// tampering is still rejected.
		if hadStatus && newStr == oldStatus.String() {
			if trackingTouched {
				return &TransitionRejected{Code: workflow.BadRequest, Message: "Cannot write tracking fields"}
			}
			return nil
		}
	}

	req := workflow.Request{
		CurrentStatus:         oldStatus,
		HadStatus:             hadStatus,
		TrackingFieldsTouched: trackingTouched,
		Principal:             n.Principal,
		EffectivePrincipals:   n.EffectivePrincipals,
		LastReviewRequestBy:   stringField(impacted.Old, "last_review_request_by"),
		GroupCheckEnabled:     resource.GroupCheckEnabled,
		EditorsGroupURI:       resource.EditorsGroup,
		ReviewersGroupURI:     resource.ReviewersGroup,
		ToReviewEnabled:       resource.ToReviewEnabled,
	}

	if !statusPresent {
		if _, hadOld := impacted.Old["status"]; hadOld {
			req.StatusRemoved = true
		}
	} else {
		newStr, ok := newRaw.(string)
		if !ok {
			return &TransitionRejected{Code: workflow.BadRequest, Message: "Unknown status"}
		}
		parsed, ok := workflow.ParseStatus(newStr)
		if !ok {
			return &TransitionRejected{Code: workflow.BadRequest, Message: "Unknown status"}
		}
		req.StatusPresent = true
		req.RequestedStatus = parsed
	}

	result := workflow.Validate(req)
	if !result.Accepted {
		return &TransitionRejected{Code: result.Code, Message: result.Message}
	}

	return o.dispatch(ctx, resource, req, n, impacted)
}

func (o *Orchestrator) dispatch(ctx context.Context, resource *resourcemap.Resource, req workflow.Request, n ChangeNotification, impacted Impacted) error {
	u, err := o.updaterFor(resource.Source, resource.Destination)
	if err != nil {
		return err
	}

	base := ReviewEvent{
		Principal:       n.Principal,
		Payload:         n.Payload,
		ImpactedObjects: []Impacted{impacted},
		Resource:        resource,
		OriginalEvent:   n.OriginalEvent,
	}

	switch req.RequestedStatus {
	case workflow.ToReview:
		if err := u.UpdateSourceStatus(ctx, workflow.ToReview, n.Principal, req.CurrentStatus); err != nil {
			return err
		}
		// Preview collection (GLOSSARY): mirrored and signed at to-review
		// time so reviewers can fetch a stable view ahead of approval.
		if err := o.refreshPreview(ctx, resource, n.Principal); err != nil {
			return err
		}
		base.Type = ReviewRequested
		o.queue(base)
		return nil

	case workflow.WorkInProgress:
		if err := u.UpdateSourceStatus(ctx, workflow.WorkInProgress, n.Principal, req.CurrentStatus); err != nil {
			return err
		}
		if req.CurrentStatus == workflow.ToReview {
			base.Type = ReviewRejected
			o.queue(base)
		}
		return nil

	case workflow.ToSign:
		pushed, err := u.SignAndUpdateDestination(ctx, updater.SignOptions{
			Principal:            n.Principal,
			NextSourceStatus:     workflow.Signed,
			PreviousSourceStatus: req.CurrentStatus,
			PushRecords:          true,
		})
		if err != nil {
			return err
		}
		base.Type = ReviewApproved
		base.ChangesCount = &pushed
		o.queue(base)
		return nil

	case workflow.ToResign, workflow.ToRefresh:
		return u.RefreshSignature(ctx, n.Principal, workflow.Signed)

	case workflow.ToRollback:
		changed, err := u.RollbackChanges(ctx)
		if err != nil {
			return err
		}
		if changed > 0 {
			base.Type = ReviewCanceled
			base.ChangesCount = &changed
			o.queue(base)
		}
		if _, err := u.SignAndUpdateDestination(ctx, updater.SignOptions{
			Principal:        n.Principal,
			NextSourceStatus: workflow.Signed,
			PushRecords:      true,
		}); err != nil {
			return err
		}
		// Rollback replaces the source with the destination's copy, so the
		// preview (if any) must be refreshed from it and re-signed too.
		return o.refreshPreview(ctx, resource, n.Principal)
	}
	return nil
}

// refreshPreview mirrors the source's current records onto the preview
// endpoint (GLOSSARY: "Preview collection") and re-signs it, when the
// resource configures one. It never drives the source status: the preview
// is a read-only side mirror for reviewers, not a review-workflow target.
func (o *Orchestrator) refreshPreview(ctx context.Context, resource *resourcemap.Resource, principal string) error {
	if resource.Preview == nil {
		return nil
	}
	u, err := o.updaterFor(resource.Source, *resource.Preview)
	if err != nil {
		return err
	}
	_, err = u.SignAndUpdateDestination(ctx, updater.SignOptions{
		Principal:              principal,
		PushRecords:            true,
		SkipSourceStatusUpdate: true,
	})
	return err
}

// HandleCollectionDeleted implements §4.7's deletion lifecycle: empty the
// preview (if configured) and the destination, then re-sign each with
// pushRecords=false and no source status mutation, leaving an empty,
// freshly-signed destination.
func (o *Orchestrator) HandleCollectionDeleted(ctx context.Context, n ChangeNotification) error {
	resource := o.lookup(n.Payload.BucketID, n.Payload.CollectionID)
	if resource == nil {
		return nil
	}
	targets := []resourcemap.Endpoint{resource.Destination}
	if resource.Preview != nil {
		targets = append(targets, *resource.Preview)
	}
	for _, target := range targets {
		if err := o.Storage.DeleteAll(ctx, "record", store.Parent{Bucket: target.Bucket, Collection: target.Collection}, true); err != nil {
			return err
		}
		u, err := o.updaterFor(resource.Source, target)
		if err != nil {
			return err
		}
		if _, err := u.SignAndUpdateDestination(ctx, updater.SignOptions{
			Principal:              workflow.PluginPrincipal,
			PushRecords:            false,
			SkipSourceStatusUpdate: true,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) lookup(bucket, collection string) *resourcemap.Resource {
	return o.Resources.Lookup(bucket, collection)
}

func objectStatus(o store.Object) (workflow.Status, bool) {
	if o == nil {
		return workflow.Absent, false
	}
	raw, ok := o["status"].(string)
	if !ok {
		return workflow.Absent, false
	}
	status, ok := workflow.ParseStatus(raw)
	return status, ok
}

func stringField(o store.Object, key string) string {
	if o == nil {
		return ""
	}
	v, _ := o[key].(string)
	return v
}

func trackingFieldsTouched(old, new store.Object) bool {
	for _, key := range updater.TrackingFieldKeys {
		var oldVal, newVal interface{}
		if old != nil {
			oldVal = old[key]
		}
		if new != nil {
			newVal = new[key]
		}
		if oldVal != newVal {
			return true
		}
	}
	return false
}
