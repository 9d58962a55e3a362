// Package store defines the storage and permission backend contracts the
// engine consumes from the host (§6), plus a concurrency-safe in-memory
// implementation and two durable SQL-backed implementations.
//
// Grounded on the teacher's pkg/registry/registry.go (in-memory
// sync.RWMutex-guarded map pattern) for Memory, and pkg/store/receipt_store.go
// (database/sql query pattern) for Postgres/SQLite.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get/Delete when the object does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrUnicity is returned by Create when an object with the same id already
// exists under the same parent.
var ErrUnicity = errors.New("store: object already exists")

// Object is an arbitrary JSON-shaped record or collection metadata bag.
// Every Object carries at least "id" and "last_modified", enforced by
// callers rather than this package (records may be validated further by
// pkg/recordschema before they reach storage).
type Object map[string]interface{}

func (o Object) ID() string {
	v, _ := o["id"].(string)
	return v
}

func (o Object) Deleted() bool {
	v, _ := o["deleted"].(bool)
	return v
}

// Parent scopes a kind of object: "record" parents are (bucket, collection);
// "collection"/"group" parents are (bucket, "").
type Parent struct {
	Bucket     string
	Collection string
}

// Filters restricts get_all results. Currently only "last_modified greater
// than" is needed by the mirroring contract (§4.4); this is intentionally
// narrow rather than a generic query DSL, matching what the updater actually
// uses.
type Filters struct {
	GTLastModified int64 // 0 means unset
}

// Storage is the host-provided persistence contract (§6). Implementations
// must be safe for concurrent use: the engine assumes per-row serialization
// on update of the same object, but does not itself lock across calls.
type Storage interface {
	Get(ctx context.Context, kind string, parent Parent, id string) (Object, error)
	Create(ctx context.Context, kind string, parent Parent, obj Object) (Object, error)
	Update(ctx context.Context, kind string, parent Parent, id string, obj Object) (Object, error)
	Delete(ctx context.Context, kind string, parent Parent, id string) (Object, error)
	// GetAll returns objects matching filters, sorted ascending by
	// last_modified (the only sort order the updater requires), and the
	// total object count. includeDeleted surfaces tombstones.
	GetAll(ctx context.Context, kind string, parent Parent, filters Filters, includeDeleted bool) ([]Object, int, error)
	CollectionTimestamp(ctx context.Context, kind string, parent Parent) (int64, error)
	DeleteAll(ctx context.Context, kind string, parent Parent, withDeleted bool) error
}

// Permissions is the host-provided ACL contract (§6).
type Permissions interface {
	ReplaceObjectPermissions(ctx context.Context, uri string, perms map[string][]string) error
	AddPrincipalToACE(ctx context.Context, uri, perm, principal string) error
	CheckPermission(ctx context.Context, principals []string, required Required) (bool, error)
}

// Required names the permission being checked: the URI of the object and
// the permission name (e.g. "write", "group:create").
type Required struct {
	URI        string
	Permission string
}
