package hostadapter

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Kinto/kinto-signer/pkg/auditlog"
	"github.com/Kinto/kinto-signer/pkg/capabilities"
	"github.com/Kinto/kinto-signer/pkg/events"
	"github.com/Kinto/kinto-signer/pkg/recordschema"
	"github.com/Kinto/kinto-signer/pkg/registry"
	"github.com/Kinto/kinto-signer/pkg/signer"
	"github.com/Kinto/kinto-signer/pkg/store"
	"github.com/Kinto/kinto-signer/pkg/workflow"
)

// Server is the demo HTTP host: it owns the storage writes a real Kinto
// viewset would perform, then feeds the resulting before/after snapshots
// into the orchestrator exactly as the original's Pyramid subscribers do
// post-commit.
type Server struct {
	Orchestrator *events.Orchestrator
	Storage      store.Storage
	Signers      *registry.SignerRegistry
	Sink         events.EventSink
	Descriptor   *capabilities.Descriptor

	// Validator and Audit are optional; a nil value skips the check/log.
	Validator *recordschema.Validator
	Audit     *auditlog.Logger
}

// Handler builds the routed, JWT-protected http.Handler.
func (s *Server) Handler(extractor *PrincipalExtractor) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleCapabilities)
	mux.HandleFunc("GET /__heartbeat__", s.handleHeartbeat)
	mux.HandleFunc("PATCH /buckets/{bid}/collections/{cid}", s.handleCollectionPatch)
	mux.HandleFunc("DELETE /buckets/{bid}/collections/{cid}", s.handleCollectionDelete)
	mux.HandleFunc("PUT /buckets/{bid}/collections/{cid}/records/{rid}", s.handleRecordPut)
	mux.HandleFunc("DELETE /buckets/{bid}/collections/{cid}/records/{rid}", s.handleRecordDelete)
	return extractor.Middleware(mux)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Descriptor)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	results := s.Signers.Heartbeat(r.Context())
	ok := true
	for _, healthy := range results {
		if !healthy {
			ok = false
			break
		}
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"signer": results, "success": ok})
}

func (s *Server) handleCollectionPatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bid, cid := r.PathValue("bid"), r.PathValue("cid")
	principal, _ := PrincipalFromContext(ctx)

	var patch store.Object
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	patch["id"] = cid

	parent := store.Parent{Bucket: bid}
	old, err := s.Storage.Get(ctx, "collection", parent, cid)
	if errors.Is(err, store.ErrNotFound) {
		old = store.Object{"id": cid}
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	merged := mergeObject(old, patch)
	newObj, err := s.Storage.Update(ctx, "collection", parent, cid, merged)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	dispatchErr := s.Orchestrator.HandleCollectionChanged(ctx, events.ChangeNotification{
		Payload:   events.Payload{BucketID: bid, CollectionID: cid},
		Principal: principal,
		Impacted:  []events.Impacted{{Old: old, New: newObj}},
	})
	if dispatchErr != nil {
		if s.Audit != nil {
			var rejected *events.TransitionRejected
			if errors.As(dispatchErr, &rejected) {
				s.Audit.TransitionRejected(ctx, bid, cid, principal, toStatus(patch), rejected.Message)
			}
		}
		s.writeDispatchError(w, dispatchErr)
		return
	}
	if s.Audit != nil {
		s.Audit.TransitionRequested(ctx, bid, cid, principal, toStatus(old), toStatus(newObj))
	}

	if err := s.Orchestrator.Flush(ctx, s.Sink); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newObj)
}

func toStatus(obj store.Object) string {
	s, _ := obj["status"].(string)
	return s
}

func (s *Server) handleCollectionDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bid, cid := r.PathValue("bid"), r.PathValue("cid")

	if _, err := s.Storage.Delete(ctx, "collection", store.Parent{Bucket: bid}, cid); err != nil && !errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.Orchestrator.HandleCollectionDeleted(ctx, events.ChangeNotification{
		Payload: events.Payload{BucketID: bid, CollectionID: cid},
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecordPut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bid, cid, rid := r.PathValue("bid"), r.PathValue("cid"), r.PathValue("rid")
	principal, _ := PrincipalFromContext(ctx)

	var body store.Object
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	body["id"] = rid

	if s.Validator != nil {
		if err := s.Validator.ValidateRecord(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	parent := store.Parent{Bucket: bid, Collection: cid}
	var newObj store.Object
	var err error
	if _, getErr := s.Storage.Get(ctx, "record", parent, rid); errors.Is(getErr, store.ErrNotFound) {
		newObj, err = s.Storage.Create(ctx, "record", parent, body)
	} else {
		newObj, err = s.Storage.Update(ctx, "record", parent, rid, body)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.Orchestrator.HandleRecordChanged(ctx, events.ChangeNotification{
		Payload:   events.Payload{BucketID: bid, CollectionID: cid},
		Principal: principal,
	}); err != nil {
		s.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newObj)
}

func (s *Server) handleRecordDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bid, cid, rid := r.PathValue("bid"), r.PathValue("cid"), r.PathValue("rid")
	principal, _ := PrincipalFromContext(ctx)

	if _, err := s.Storage.Delete(ctx, "record", store.Parent{Bucket: bid, Collection: cid}, rid); err != nil && !errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.Orchestrator.HandleRecordChanged(ctx, events.ChangeNotification{
		Payload:   events.Payload{BucketID: bid, CollectionID: cid},
		Principal: principal,
	}); err != nil {
		s.writeDispatchError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	var rejected *events.TransitionRejected
	if errors.As(err, &rejected) {
		status := http.StatusBadRequest
		if rejected.Code == workflow.Forbidden {
			status = http.StatusForbidden
		}
		http.Error(w, rejected.Message, status)
		return
	}
	var unavailable *signer.ErrUnavailable
	if errors.As(err, &unavailable) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func mergeObject(old, patch store.Object) store.Object {
	merged := make(store.Object, len(old)+len(patch))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
