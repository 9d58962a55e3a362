package events

import (
	"context"
	"testing"

	kintosigner "github.com/Kinto/kinto-signer/pkg/signer"
	"github.com/Kinto/kinto-signer/pkg/resourcemap"
	"github.com/Kinto/kinto-signer/pkg/store"
	"github.com/Kinto/kinto-signer/pkg/workflow"
	"github.com/stretchr/testify/require"
)

type memKeyLoader struct{ privPEM, pubPEM []byte }

func (m *memKeyLoader) LoadPrivateKeyPEM(ctx context.Context) ([]byte, error) { return m.privPEM, nil }
func (m *memKeyLoader) LoadPublicKeyPEM(ctx context.Context) ([]byte, error)  { return m.pubPEM, nil }

type staticSignerLookup struct {
	s kintosigner.Signer
}

func (l staticSignerLookup) SignerForSource(sourceURI string) (kintosigner.Signer, error) {
	return l.s, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Memory) {
	t.Helper()
	privPEM, pubPEM, err := kintosigner.GenerateKeyPair()
	require.NoError(t, err)
	s := kintosigner.NewLocalECDSA(&memKeyLoader{privPEM: privPEM, pubPEM: pubPEM}, "https://example.invalid/chain.pem")

	m, err := resourcemap.Parse("bid/cid;bid/cid-signed")
	require.NoError(t, err)

	mem := store.NewMemory()
	o := New(m, staticSignerLookup{s: s}, mem, mem)
	return o, mem
}

type capturingSink struct {
	events []ReviewEvent
}

func (c *capturingSink) Publish(ctx context.Context, e ReviewEvent) error {
	c.events = append(c.events, e)
	return nil
}

func TestHandleCollectionChanged_ToReviewQueuesReviewRequested(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)

	err := o.HandleCollectionChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: "account:alice",
		Impacted: []Impacted{{
			Old: store.Object{"id": "cid"},
			New: store.Object{"id": "cid", "status": "to-review"},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, o.Pending())

	sink := &capturingSink{}
	require.NoError(t, o.Flush(ctx, sink))
	require.Len(t, sink.events, 1)
	require.Equal(t, ReviewRequested, sink.events[0].Type)
	require.Equal(t, 0, o.Pending())
}

func TestHandleCollectionChanged_ToSignRunsUpdaterAndQueuesApproved(t *testing.T) {
	ctx := context.Background()
	o, mem := newTestOrchestrator(t)

	sourceParent := store.Parent{Bucket: "bid", Collection: "cid"}
	_, err := mem.Create(ctx, "record", sourceParent, store.Object{"id": "r1"})
	require.NoError(t, err)

	err = o.HandleCollectionChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: "account:bob",
		Impacted: []Impacted{{
			Old: store.Object{"id": "cid", "status": "to-review"},
			New: store.Object{"id": "cid", "status": "to-sign"},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, o.Pending())

	destParent := store.Parent{Bucket: "bid", Collection: "cid-signed"}
	r1, err := mem.Get(ctx, "record", destParent, "r1")
	require.NoError(t, err)
	require.Equal(t, "r1", r1["id"])

	sourceColl, err := mem.Get(ctx, "collection", store.Parent{Bucket: "bid"}, "cid")
	require.NoError(t, err)
	require.Equal(t, "signed", sourceColl["status"])

	sink := &capturingSink{}
	require.NoError(t, o.Flush(ctx, sink))
	require.Len(t, sink.events, 1)
	require.Equal(t, ReviewApproved, sink.events[0].Type)
	require.NotNil(t, sink.events[0].ChangesCount)
	require.Equal(t, 1, *sink.events[0].ChangesCount)
}

func TestHandleCollectionChanged_RejectsManualSignedStatus(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)

	err := o.HandleCollectionChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: "account:alice",
		Impacted: []Impacted{{
			Old: store.Object{"id": "cid"},
			New: store.Object{"id": "cid", "status": "signed"},
		}},
	})
	var rejected *TransitionRejected
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, workflow.BadRequest, rejected.Code)
	require.Equal(t, 0, o.Pending())
}

func TestHandleCollectionChanged_SameStatusRePutIsNoop(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)

	err := o.HandleCollectionChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: "account:alice",
		Impacted: []Impacted{{
			Old: store.Object{"id": "cid", "status": "work-in-progress", "title": "old"},
			New: store.Object{"id": "cid", "status": "work-in-progress", "title": "new"},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 0, o.Pending())
}

func TestHandleCollectionChanged_TrackingFieldTamperRejected(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)

	err := o.HandleCollectionChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: "account:mallory",
		Impacted: []Impacted{{
			Old: store.Object{"id": "cid", "status": "work-in-progress"},
			New: store.Object{"id": "cid", "status": "work-in-progress", "last_signature_by": "account:mallory"},
		}},
	})
	var rejected *TransitionRejected
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "Cannot write tracking fields", rejected.Message)
}

func TestHandleCollectionChanged_ToReviewToWIPQueuesReviewRejected(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)

	err := o.HandleCollectionChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: "account:alice",
		Impacted: []Impacted{{
			Old: store.Object{"id": "cid", "status": "to-review"},
			New: store.Object{"id": "cid", "status": "work-in-progress"},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, o.Pending())

	sink := &capturingSink{}
	require.NoError(t, o.Flush(ctx, sink))
	require.Equal(t, ReviewRejected, sink.events[0].Type)
}

func TestHandleRecordChanged_DemotesToWorkInProgress(t *testing.T) {
	ctx := context.Background()
	o, mem := newTestOrchestrator(t)
	_, err := mem.Create(ctx, "collection", store.Parent{Bucket: "bid"}, store.Object{"id": "cid", "status": "signed"})
	require.NoError(t, err)

	err = o.HandleRecordChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: "account:alice",
	})
	require.NoError(t, err)

	coll, err := mem.Get(ctx, "collection", store.Parent{Bucket: "bid"}, "cid")
	require.NoError(t, err)
	require.Equal(t, "work-in-progress", coll["status"])
	require.Equal(t, "account:alice", coll["last_edit_by"])
}

func TestHandleRecordChanged_PluginPrincipalShortCircuits(t *testing.T) {
	ctx := context.Background()
	o, mem := newTestOrchestrator(t)
	_, err := mem.Create(ctx, "collection", store.Parent{Bucket: "bid"}, store.Object{"id": "cid", "status": "signed"})
	require.NoError(t, err)

	err = o.HandleRecordChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: workflow.PluginPrincipal,
	})
	require.NoError(t, err)

	coll, err := mem.Get(ctx, "collection", store.Parent{Bucket: "bid"}, "cid")
	require.NoError(t, err)
	require.Equal(t, "signed", coll["status"]) // untouched
}

func TestHandleCollectionChanged_RollbackQueuesCanceledOnlyWhenChanged(t *testing.T) {
	ctx := context.Background()
	o, mem := newTestOrchestrator(t)
	sourceParent := store.Parent{Bucket: "bid", Collection: "cid"}

	_, err := mem.Create(ctx, "record", sourceParent, store.Object{"id": "r1", "value": "v1"})
	require.NoError(t, err)
	require.NoError(t, o.HandleCollectionChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: "account:bob",
		Impacted: []Impacted{{
			Old: store.Object{"id": "cid", "status": "to-review"},
			New: store.Object{"id": "cid", "status": "to-sign"},
		}},
	}))
	o.Discard()

	// No pending edits: rollback should be a no-op, no ReviewCanceled queued.
	err = o.HandleCollectionChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: "account:carol",
		Impacted: []Impacted{{
			Old: store.Object{"id": "cid", "status": "signed"},
			New: store.Object{"id": "cid", "status": "to-rollback"},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 0, o.Pending())
}

func newTestOrchestratorWithPreview(t *testing.T) (*Orchestrator, *store.Memory) {
	t.Helper()
	privPEM, pubPEM, err := kintosigner.GenerateKeyPair()
	require.NoError(t, err)
	s := kintosigner.NewLocalECDSA(&memKeyLoader{privPEM: privPEM, pubPEM: pubPEM}, "https://example.invalid/chain.pem")

	m, err := resourcemap.Parse("bid/cid;bid/cid-preview;bid/cid-signed")
	require.NoError(t, err)

	mem := store.NewMemory()
	o := New(m, staticSignerLookup{s: s}, mem, mem)
	return o, mem
}

// TestHandleCollectionChanged_ToReviewSignsPreviewCollection covers the
// GLOSSARY's "Preview collection" contract: a to-review transition mirrors
// and signs the configured preview alongside the source status update.
func TestHandleCollectionChanged_ToReviewSignsPreviewCollection(t *testing.T) {
	ctx := context.Background()
	o, mem := newTestOrchestratorWithPreview(t)
	sourceParent := store.Parent{Bucket: "bid", Collection: "cid"}

	_, err := mem.Create(ctx, "record", sourceParent, store.Object{"id": "r1"})
	require.NoError(t, err)
	_, err = mem.Create(ctx, "record", sourceParent, store.Object{"id": "r2"})
	require.NoError(t, err)

	require.NoError(t, o.HandleCollectionChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: "account:alice",
		Impacted: []Impacted{{
			Old: store.Object{"id": "cid"},
			New: store.Object{"id": "cid", "status": "to-review"},
		}},
	}))

	previewParent := store.Parent{Bucket: "bid", Collection: "cid-preview"}
	r1, err := mem.Get(ctx, "record", previewParent, "r1")
	require.NoError(t, err)
	require.Equal(t, "r1", r1["id"])

	previewColl, err := mem.Get(ctx, "collection", store.Parent{Bucket: "bid"}, "cid-preview")
	require.NoError(t, err)
	require.NotNil(t, previewColl["signature"])

	// The source status transition itself must not be diverted onto the
	// preview: the source still moves to to-review, not some preview status.
	sourceColl, err := mem.Get(ctx, "collection", store.Parent{Bucket: "bid"}, "cid")
	require.NoError(t, err)
	require.Equal(t, "to-review", sourceColl["status"])
}

// TestHandleCollectionChanged_RollbackRefreshesPreviewCollection covers
// §4.4's rollback_changes(): the preview must be refreshed from the
// restored destination copy and re-signed, not left stale.
func TestHandleCollectionChanged_RollbackRefreshesPreviewCollection(t *testing.T) {
	ctx := context.Background()
	o, mem := newTestOrchestratorWithPreview(t)
	sourceParent := store.Parent{Bucket: "bid", Collection: "cid"}

	_, err := mem.Create(ctx, "record", sourceParent, store.Object{"id": "r1", "value": "v1"})
	require.NoError(t, err)
	require.NoError(t, o.HandleCollectionChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: "account:bob",
		Impacted: []Impacted{{
			Old: store.Object{"id": "cid", "status": "to-review"},
			New: store.Object{"id": "cid", "status": "to-sign"},
		}},
	}))
	o.Discard()

	// Pending edit never reviewed: rollback must discard it and refresh
	// the preview from the destination's last signed copy.
	_, err = mem.Update(ctx, "record", sourceParent, "r1", store.Object{"id": "r1", "value": "tampered"})
	require.NoError(t, err)

	require.NoError(t, o.HandleCollectionChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: "account:carol",
		Impacted: []Impacted{{
			Old: store.Object{"id": "cid", "status": "signed"},
			New: store.Object{"id": "cid", "status": "to-rollback"},
		}},
	}))

	previewParent := store.Parent{Bucket: "bid", Collection: "cid-preview"}
	r1, err := mem.Get(ctx, "record", previewParent, "r1")
	require.NoError(t, err)
	require.Equal(t, "v1", r1["value"])
}

func TestHandleCollectionDeleted_EmptiesAndResignsDestination(t *testing.T) {
	ctx := context.Background()
	o, mem := newTestOrchestrator(t)
	sourceParent := store.Parent{Bucket: "bid", Collection: "cid"}
	destParent := store.Parent{Bucket: "bid", Collection: "cid-signed"}

	_, err := mem.Create(ctx, "record", sourceParent, store.Object{"id": "r1"})
	require.NoError(t, err)
	require.NoError(t, o.HandleCollectionChanged(ctx, ChangeNotification{
		Payload:   Payload{BucketID: "bid", CollectionID: "cid"},
		Principal: "account:bob",
		Impacted: []Impacted{{
			Old: store.Object{"id": "cid", "status": "to-review"},
			New: store.Object{"id": "cid", "status": "to-sign"},
		}},
	}))
	o.Discard()

	require.NoError(t, o.HandleCollectionDeleted(ctx, ChangeNotification{
		Payload: Payload{BucketID: "bid", CollectionID: "cid"},
	}))

	_, err = mem.Get(ctx, "record", destParent, "r1")
	require.ErrorIs(t, err, store.ErrNotFound)

	destColl, err := mem.Get(ctx, "collection", store.Parent{Bucket: "bid"}, "cid-signed")
	require.NoError(t, err)
	require.NotNil(t, destColl["signature"])
}
