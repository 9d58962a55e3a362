// Package updater implements the Updater (C4): the component that signs a
// source collection's record set and pushes the result to its destination.
//
// Grounded on the teacher's registry/store wiring conventions and on
// _examples/original_source/kinto_signer/updater.py's LocalUpdater, whose
// method names and ordering this package follows closely (sign_and_update_
// destination's seven numbered steps, the mirroring contract's clock-skew
// guard, the tracking-field stamping rules in update_source_status).
package updater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kinto/kinto-signer/pkg/canonical"
	"github.com/Kinto/kinto-signer/pkg/resourcemap"
	"github.com/Kinto/kinto-signer/pkg/signer"
	"github.com/Kinto/kinto-signer/pkg/store"
	"github.com/Kinto/kinto-signer/pkg/workflow"
)

const (
	fieldStatus              = "status"
	fieldLastEditBy           = "last_edit_by"
	fieldLastEditDate         = "last_edit_date"
	fieldLastReviewRequestBy  = "last_review_request_by"
	fieldLastReviewRequestDate = "last_review_request_date"
	fieldLastReviewBy         = "last_review_by"
	fieldLastReviewDate       = "last_review_date"
	fieldLastSignatureBy      = "last_signature_by"
	fieldLastSignatureDate    = "last_signature_date"
)

// TrackingFieldKeys names every tracking-field key a non-plugin principal is
// forbidden from writing (§4.5's hard rule), shared with pkg/events which
// diffs posted collection metadata against these keys.
var TrackingFieldKeys = []string{
	fieldLastEditBy, fieldLastEditDate,
	fieldLastReviewRequestBy, fieldLastReviewRequestDate,
	fieldLastReviewBy, fieldLastReviewDate,
	fieldLastSignatureBy, fieldLastSignatureDate,
}

// destinationUIAttributes are copied from the source collection's metadata
// onto the destination's, but only if not already set there (§4.4 step 5).
var destinationUIAttributes = []string{"sort", "displayFields", "attachment"}

// ErrClockSkew is returned by PushRecordsToDestination when the destination
// collection's timestamp is somehow ahead of the source's, which the
// mirroring contract (§4.4) treats as a storage backend misconfiguration
// (non-UTC clock) rather than a recoverable condition.
var ErrClockSkew = errors.New("updater: destination timestamp ahead of source")

// CacheInvalidator is the optional cache-invalidation hook (§6), implemented
// by pkg/cache. A nil CacheInvalidator on Updater disables invalidation.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, bucket, collection string, timestamp int64) error
}

// Notification describes one record or collection change pushed to the
// destination or source, for an optional observer (webhooks, audit log).
type Notification struct {
	ResourceName string // "record" or "collection"
	Action       string // "create", "update" or "delete"
	Parent       store.Parent
	New          store.Object
	Old          store.Object
}

// Notifier receives Notifications. A nil Notifier on Updater is a no-op.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Updater signs and pushes one (source, destination) resource pair, per
// §4.4's "constructed per (source, destination, signer, storage, permission)
// tuple".
type Updater struct {
	Source      resourcemap.Endpoint
	Destination resourcemap.Endpoint

	Signer      signer.Signer
	Storage     store.Storage
	Permissions store.Permissions

	CacheInvalidator CacheInvalidator
	Notifier         Notifier

	// Now defaults to time.Now; overridable for deterministic tests.
	Now func() time.Time
}

// New builds an Updater for one source/destination pair.
func New(source, destination resourcemap.Endpoint, s signer.Signer, st store.Storage, perms store.Permissions) *Updater {
	return &Updater{
		Source:      source,
		Destination: destination,
		Signer:      s,
		Storage:     st,
		Permissions: perms,
		Now:         time.Now,
	}
}

func (u *Updater) now() time.Time {
	if u.Now != nil {
		return u.Now()
	}
	return time.Now()
}

func (u *Updater) notify(ctx context.Context, n Notification) {
	if u.Notifier != nil {
		u.Notifier.Notify(ctx, n)
	}
}

// CreateDestination ensures the destination bucket/collection exist,
// writable by principal and publicly (Everyone) readable, per §4.4 step 1
// and the teacher's create_destination: "not writable by anyone [but the
// current user] and readable by everyone".
func (u *Updater) CreateDestination(ctx context.Context, principal string) error {
	bucketParent := store.Parent{}
	if _, err := u.Storage.Get(ctx, "bucket", bucketParent, u.Destination.Bucket); errors.Is(err, store.ErrNotFound) {
		if _, err := u.Storage.Create(ctx, "bucket", bucketParent, store.Object{"id": u.Destination.Bucket}); err != nil {
			return fmt.Errorf("updater: create destination bucket: %w", err)
		}
		if err := u.Permissions.ReplaceObjectPermissions(ctx, u.Destination.URI(), map[string][]string{
			"write": {principal},
		}); err != nil {
			return fmt.Errorf("updater: set destination bucket permissions: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("updater: get destination bucket: %w", err)
	}

	collParent := store.Parent{Bucket: u.Destination.Bucket}
	if _, err := u.Storage.Get(ctx, "collection", collParent, u.Destination.Collection); errors.Is(err, store.ErrNotFound) {
		if _, err := u.Storage.Create(ctx, "collection", collParent, store.Object{"id": u.Destination.Collection}); err != nil {
			return fmt.Errorf("updater: create destination collection: %w", err)
		}
		collectionURI := fmt.Sprintf("/buckets/%s/collections/%s", u.Destination.Bucket, u.Destination.Collection)
		if err := u.Permissions.ReplaceObjectPermissions(ctx, collectionURI, map[string][]string{
			"read": {"system.Everyone"},
		}); err != nil {
			return fmt.Errorf("updater: set destination collection permissions: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("updater: get destination collection: %w", err)
	}
	return nil
}

// getRecords returns a resource's records (including tombstones), optionally
// filtered to last_modified > sinceTimestamp, sorted ascending by
// last_modified, plus the resource's collection timestamp. When the
// resource holds no records and no tombstones and emptyZero is true, the
// returned timestamp is 0 rather than a fabricated value.
func (u *Updater) getRecords(ctx context.Context, e resourcemap.Endpoint, sinceTimestamp int64, emptyZero bool) ([]store.Object, int64, error) {
	parent := store.Parent{Bucket: e.Bucket, Collection: e.Collection}
	filters := store.Filters{}
	if sinceTimestamp > 0 {
		filters.GTLastModified = sinceTimestamp
	}
	records, _, err := u.Storage.GetAll(ctx, "record", parent, filters, true)
	if err != nil {
		return nil, 0, fmt.Errorf("updater: list records: %w", err)
	}
	if len(records) == 0 && emptyZero {
		return records, 0, nil
	}
	ts, err := u.Storage.CollectionTimestamp(ctx, "record", parent)
	if err != nil {
		return nil, 0, fmt.Errorf("updater: collection timestamp: %w", err)
	}
	return records, ts, nil
}

// GetSourceRecords returns source records with last_modified > since.
func (u *Updater) GetSourceRecords(ctx context.Context, since int64) ([]store.Object, int64, error) {
	return u.getRecords(ctx, u.Source, since, true)
}

// GetDestinationRecords returns all destination records.
func (u *Updater) GetDestinationRecords(ctx context.Context) ([]store.Object, int64, error) {
	return u.getRecords(ctx, u.Destination, 0, false)
}

// PushRecordsToDestination mirrors source records newer than the
// destination's timestamp onto the destination: tombstones delete (missing
// on the destination is treated as success), everything else upserts. It
// returns the number of records actually pushed (created, updated or
// deleted), for §4.8's `changes_count` on the resulting review event.
// Implements §4.4's "Mirroring contract".
func (u *Updater) PushRecordsToDestination(ctx context.Context) (int, error) {
	_, destTimestamp, err := u.GetDestinationRecords(ctx)
	if err != nil {
		return 0, err
	}
	newRecords, sourceTimestamp, err := u.GetSourceRecords(ctx, destTimestamp)
	if err != nil {
		return 0, err
	}
	if sourceTimestamp != 0 && destTimestamp != 0 && destTimestamp > sourceTimestamp {
		return 0, ErrClockSkew
	}

	destParent := store.Parent{Bucket: u.Destination.Bucket, Collection: u.Destination.Collection}
	pushed := 0
	for _, record := range newRecords {
		id := record.ID()
		before, err := u.Storage.Get(ctx, "record", destParent, id)
		hadBefore := err == nil
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return pushed, fmt.Errorf("updater: get destination record %q: %w", id, err)
		}

		if record.Deleted() {
			deleted, err := u.Storage.Delete(ctx, "record", destParent, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return pushed, fmt.Errorf("updater: delete destination record %q: %w", id, err)
			}
			u.notify(ctx, Notification{ResourceName: "record", Action: "delete", Parent: destParent, New: deleted, Old: before})
			pushed++
			continue
		}

		var saved store.Object
		var action string
		if !hadBefore {
			saved, err = u.Storage.Create(ctx, "record", destParent, record)
			action = "create"
		} else {
			saved, err = u.Storage.Update(ctx, "record", destParent, id, record)
			action = "update"
		}
		if err != nil {
			return pushed, fmt.Errorf("updater: %s destination record %q: %w", action, id, err)
		}
		u.notify(ctx, Notification{ResourceName: "record", Action: action, Parent: destParent, New: saved, Old: before})
		pushed++
	}
	return pushed, nil
}

// SetDestinationSignature writes bundle onto the destination collection's
// metadata, copying sort/displayFields/attachment from sourceAttributes
// when present there and absent on the destination (§4.4 step 5).
func (u *Updater) SetDestinationSignature(ctx context.Context, bundle signer.Bundle, sourceAttributes store.Object) error {
	collParent := store.Parent{Bucket: u.Destination.Bucket}
	current, err := u.Storage.Get(ctx, "collection", collParent, u.Destination.Collection)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("updater: get destination collection: %w", err)
	}

	updated := store.Object{}
	for k, v := range current {
		if k == "last_modified" {
			continue
		}
		updated[k] = v
	}
	updated["id"] = u.Destination.Collection
	updated["signature"] = map[string]interface{}(bundle)
	for _, attr := range destinationUIAttributes {
		if _, already := updated[attr]; already {
			continue
		}
		if v, ok := sourceAttributes[attr]; ok {
			updated[attr] = v
		}
	}

	saved, err := u.Storage.Update(ctx, "collection", collParent, u.Destination.Collection, updated)
	if err != nil {
		return fmt.Errorf("updater: write destination signature: %w", err)
	}
	u.notify(ctx, Notification{ResourceName: "collection", Action: "update", Parent: collParent, New: saved, Old: current})
	return nil
}

// SignOptions configures SignAndUpdateDestination.
type SignOptions struct {
	Principal        string
	SourceAttributes store.Object
	// NextSourceStatus is the source status to transition into after
	// signing. Absent means "do not touch the source status".
	NextSourceStatus workflow.Status
	// SkipSourceStatusUpdate, when true, leaves the source status
	// untouched even though NextSourceStatus is Signed (the zero value is
	// indistinguishable from Absent otherwise).
	SkipSourceStatusUpdate bool
	PreviousSourceStatus   workflow.Status
	PushRecords            bool
}

// SignAndUpdateDestination implements §4.4's sign_and_update_destination:
// ensure the destination exists, optionally mirror records onto it, sign
// the destination's record set, write the bundle, move the source status
// forward and invalidate the cache. It returns the number of records pushed
// to the destination (0 when opts.PushRecords is false), for §4.8's
// `changes_count` on the resulting review event.
func (u *Updater) SignAndUpdateDestination(ctx context.Context, opts SignOptions) (int, error) {
	if err := u.CreateDestination(ctx, opts.Principal); err != nil {
		return 0, err
	}
	pushed := 0
	if opts.PushRecords {
		var err error
		pushed, err = u.PushRecordsToDestination(ctx)
		if err != nil {
			return pushed, err
		}
	}

	records, timestamp, err := u.GetDestinationRecords(ctx)
	if err != nil {
		return pushed, err
	}
	payload, err := canonical.Encode(toCanonicalRecords(records), timestamp)
	if err != nil {
		return pushed, fmt.Errorf("updater: encode destination records: %w", err)
	}
	bundle, err := u.Signer.Sign(ctx, payload)
	if err != nil {
		return pushed, fmt.Errorf("updater: sign: %w", err)
	}

	if err := u.SetDestinationSignature(ctx, bundle, opts.SourceAttributes); err != nil {
		return pushed, err
	}

	if !opts.SkipSourceStatusUpdate {
		if err := u.UpdateSourceStatus(ctx, opts.NextSourceStatus, opts.Principal, opts.PreviousSourceStatus); err != nil {
			return pushed, err
		}
	}

	if u.CacheInvalidator != nil {
		if err := u.CacheInvalidator.Invalidate(ctx, u.Destination.Bucket, u.Destination.Collection, timestamp); err != nil {
			return pushed, fmt.Errorf("updater: cache invalidation: %w", err)
		}
	}
	return pushed, nil
}

// RefreshSignature re-signs the current destination record set without
// mirroring, per §4.4's refresh_signature: review-tracking fields are not
// touched, only last_signature_{by,date} and the source status.
func (u *Updater) RefreshSignature(ctx context.Context, principal string, nextSourceStatus workflow.Status) error {
	records, timestamp, err := u.GetDestinationRecords(ctx)
	if err != nil {
		return err
	}
	payload, err := canonical.Encode(toCanonicalRecords(records), timestamp)
	if err != nil {
		return fmt.Errorf("updater: encode destination records: %w", err)
	}
	bundle, err := u.Signer.Sign(ctx, payload)
	if err != nil {
		return fmt.Errorf("updater: sign: %w", err)
	}
	if err := u.SetDestinationSignature(ctx, bundle, store.Object{}); err != nil {
		return err
	}

	return u.updateSourceAttributes(ctx, map[string]interface{}{
		fieldStatus:           nextSourceStatus.String(),
		fieldLastSignatureBy:  principal,
		fieldLastSignatureDate: u.now().UTC().Format(time.RFC3339),
	})
}

// RollbackChanges discards pending source edits by replacing the source
// record set with a copy of the destination's, and returns the number of
// records effectively changed (created, updated or deleted on the source)
// so the caller can suppress a ReviewCanceled event when nothing changed
// (§4.4). Refreshing a preview from the destination, when one is
// configured, is the caller's responsibility: it runs a second Updater
// scoped to (source, preview).
func (u *Updater) RollbackChanges(ctx context.Context) (int, error) {
	destRecords, _, err := u.GetDestinationRecords(ctx)
	if err != nil {
		return 0, err
	}
	sourceRecords, _, err := u.getRecords(ctx, u.Source, 0, false)
	if err != nil {
		return 0, err
	}

	destByID := make(map[string]store.Object, len(destRecords))
	for _, r := range destRecords {
		if !r.Deleted() {
			destByID[r.ID()] = r
		}
	}
	sourceByID := make(map[string]store.Object, len(sourceRecords))
	for _, r := range sourceRecords {
		if !r.Deleted() {
			sourceByID[r.ID()] = r
		}
	}

	sourceParent := store.Parent{Bucket: u.Source.Bucket, Collection: u.Source.Collection}
	changed := 0

	for id, destRec := range destByID {
		srcRec, exists := sourceByID[id]
		if exists && sameData(srcRec, destRec) {
			continue
		}
		restored := store.Object{}
		for k, v := range destRec {
			if k == "last_modified" {
				continue
			}
			restored[k] = v
		}
		var err error
		if exists {
			_, err = u.Storage.Update(ctx, "record", sourceParent, id, restored)
		} else {
			_, err = u.Storage.Create(ctx, "record", sourceParent, restored)
		}
		if err != nil {
			return changed, fmt.Errorf("updater: restore source record %q: %w", id, err)
		}
		changed++
	}

	for id := range sourceByID {
		if _, ok := destByID[id]; ok {
			continue
		}
		if _, err := u.Storage.Delete(ctx, "record", sourceParent, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return changed, fmt.Errorf("updater: delete stray source record %q: %w", id, err)
		}
		changed++
	}

	return changed, nil
}

// UpdateSourceReviewRequestBy stamps last_review_request_{by,date} without
// changing status, mirroring the teacher's update_source_review_request_by.
func (u *Updater) UpdateSourceReviewRequestBy(ctx context.Context, principal string) error {
	return u.updateSourceAttributes(ctx, map[string]interface{}{
		fieldLastReviewRequestBy:   principal,
		fieldLastReviewRequestDate: u.now().UTC().Format(time.RFC3339),
	})
}

// UpdateSourceStatus mutates the source collection's status and stamps the
// tracking fields appropriate to the target status, per §4.4's
// update_source_status: WIP stamps last_edit_{by,date}; to-review stamps
// last_review_request_{by,date}; signed stamps last_signature_{by,date} and,
// unless oldStatus was already Signed (a refresh), last_review_{by,date}.
func (u *Updater) UpdateSourceStatus(ctx context.Context, status workflow.Status, principal string, oldStatus workflow.Status) error {
	now := u.now().UTC().Format(time.RFC3339)
	attrs := map[string]interface{}{fieldStatus: status.String()}

	switch status {
	case workflow.WorkInProgress:
		attrs[fieldLastEditBy] = principal
		attrs[fieldLastEditDate] = now
	case workflow.ToReview:
		attrs[fieldLastReviewRequestBy] = principal
		attrs[fieldLastReviewRequestDate] = now
	case workflow.Signed:
		if oldStatus != workflow.Signed {
			attrs[fieldLastReviewBy] = principal
			attrs[fieldLastReviewDate] = now
		}
		attrs[fieldLastSignatureBy] = principal
		attrs[fieldLastSignatureDate] = now
	}
	return u.updateSourceAttributes(ctx, attrs)
}

func (u *Updater) updateSourceAttributes(ctx context.Context, attrs map[string]interface{}) error {
	collParent := store.Parent{Bucket: u.Source.Bucket}
	current, err := u.Storage.Get(ctx, "collection", collParent, u.Source.Collection)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("updater: get source collection: %w", err)
	}

	updated := store.Object{}
	for k, v := range current {
		if k == "last_modified" {
			continue
		}
		updated[k] = v
	}
	updated["id"] = u.Source.Collection
	for k, v := range attrs {
		updated[k] = v
	}

	saved, err := u.Storage.Update(ctx, "collection", collParent, u.Source.Collection, updated)
	if err != nil {
		return fmt.Errorf("updater: update source attributes: %w", err)
	}
	u.notify(ctx, Notification{ResourceName: "collection", Action: "update", Parent: collParent, New: saved, Old: current})
	return nil
}

func toCanonicalRecords(objects []store.Object) []canonical.Record {
	records := make([]canonical.Record, len(objects))
	for i, o := range objects {
		records[i] = canonical.Record(o)
	}
	return records
}

// sameData reports whether a and b carry identical fields, ignoring
// last_modified (which always differs once a record moves stores).
func sameData(a, b store.Object) bool {
	if len(a) != len(b) {
		// last_modified may or may not be present on either side; compare
		// by key set excluding it instead of bailing out on count alone.
	}
	ak := withoutLastModified(a)
	bk := withoutLastModified(b)
	if len(ak) != len(bk) {
		return false
	}
	for k, v := range ak {
		bv, ok := bk[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

func withoutLastModified(o store.Object) map[string]interface{} {
	out := make(map[string]interface{}, len(o))
	for k, v := range o {
		if k == "last_modified" {
			continue
		}
		out[k] = v
	}
	return out
}
