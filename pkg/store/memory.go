package store

import (
	"context"
	"sort"
	"sync"
)

type objectKey struct {
	kind   string
	parent Parent
	id     string
}

// Memory is a concurrency-safe in-memory Storage+Permissions implementation
// for tests and single-process demos, grounded on the teacher's
// pkg/registry/registry.go sync.RWMutex-guarded map pattern.
type Memory struct {
	mu      sync.RWMutex
	objects map[objectKey]Object
	clock   int64 // monotonically increasing, stands in for the host's timestamp generator
	perms   map[string]map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		objects: make(map[objectKey]Object),
		perms:   make(map[string]map[string][]string),
	}
}

func (m *Memory) nextTimestamp() int64 {
	m.clock++
	return m.clock
}

func (m *Memory) Get(ctx context.Context, kind string, parent Parent, id string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[objectKey{kind, parent, id}]
	if !ok || obj.Deleted() {
		return nil, ErrNotFound
	}
	return cloneObject(obj), nil
}

func (m *Memory) Create(ctx context.Context, kind string, parent Parent, obj Object) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := obj.ID()
	key := objectKey{kind, parent, id}
	if existing, ok := m.objects[key]; ok && !existing.Deleted() {
		return nil, ErrUnicity
	}
	stored := cloneObject(obj)
	stored["last_modified"] = m.nextTimestamp()
	m.objects[key] = stored
	return cloneObject(stored), nil
}

func (m *Memory) Update(ctx context.Context, kind string, parent Parent, id string, obj Object) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := cloneObject(obj)
	stored["id"] = id
	stored["last_modified"] = m.nextTimestamp()
	m.objects[objectKey{kind, parent, id}] = stored
	return cloneObject(stored), nil
}

func (m *Memory) Delete(ctx context.Context, kind string, parent Parent, id string) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := objectKey{kind, parent, id}
	existing, ok := m.objects[key]
	if !ok || existing.Deleted() {
		return nil, ErrNotFound
	}
	tombstone := Object{
		"id":            id,
		"deleted":       true,
		"last_modified": m.nextTimestamp(),
	}
	m.objects[key] = tombstone
	return cloneObject(tombstone), nil
}

func (m *Memory) GetAll(ctx context.Context, kind string, parent Parent, filters Filters, includeDeleted bool) ([]Object, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Object
	for key, obj := range m.objects {
		if key.kind != kind || key.parent != parent {
			continue
		}
		if obj.Deleted() && !includeDeleted {
			continue
		}
		lm, _ := obj["last_modified"].(int64)
		if filters.GTLastModified != 0 && lm <= filters.GTLastModified {
			continue
		}
		out = append(out, cloneObject(obj))
	}
	sort.Slice(out, func(i, j int) bool {
		li, _ := out[i]["last_modified"].(int64)
		lj, _ := out[j]["last_modified"].(int64)
		return li < lj
	})
	return out, len(out), nil
}

func (m *Memory) CollectionTimestamp(ctx context.Context, kind string, parent Parent) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max int64
	for key, obj := range m.objects {
		if key.kind != kind || key.parent != parent {
			continue
		}
		if lm, _ := obj["last_modified"].(int64); lm > max {
			max = lm
		}
	}
	return max, nil
}

// DeleteAll tombstones every live object under parent. When withDeleted is
// true, existing tombstones are purged outright rather than kept around.
func (m *Memory) DeleteAll(ctx context.Context, kind string, parent Parent, withDeleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, obj := range m.objects {
		if key.kind != kind || key.parent != parent {
			continue
		}
		if obj.Deleted() {
			if withDeleted {
				delete(m.objects, key)
			}
			continue
		}
		m.objects[key] = Object{
			"id":            key.id,
			"deleted":       true,
			"last_modified": m.nextTimestamp(),
		}
	}
	return nil
}

func (m *Memory) ReplaceObjectPermissions(ctx context.Context, uri string, perms map[string][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cloned := make(map[string][]string, len(perms))
	for k, v := range perms {
		cloned[k] = append([]string(nil), v...)
	}
	m.perms[uri] = cloned
	return nil
}

func (m *Memory) AddPrincipalToACE(ctx context.Context, uri, perm, principal string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.perms[uri] == nil {
		m.perms[uri] = map[string][]string{}
	}
	for _, p := range m.perms[uri][perm] {
		if p == principal {
			return nil
		}
	}
	m.perms[uri][perm] = append(m.perms[uri][perm], principal)
	return nil
}

func (m *Memory) CheckPermission(ctx context.Context, principals []string, required Required) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.perms[required.URI][required.Permission] {
		for _, caller := range principals {
			if p == caller || p == "system.Everyone" {
				return true, nil
			}
		}
	}
	return false, nil
}

func cloneObject(o Object) Object {
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}
