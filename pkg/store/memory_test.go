package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	parent := Parent{Bucket: "bid", Collection: "cid"}

	created, err := m.Create(ctx, "record", parent, Object{"id": "r1", "foo": "bar"})
	require.NoError(t, err)
	assert.Equal(t, "bar", created["foo"])

	got, err := m.Get(ctx, "record", parent, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID())

	_, err = m.Update(ctx, "record", parent, "r1", Object{"id": "r1", "foo": "baz"})
	require.NoError(t, err)
	got, err = m.Get(ctx, "record", parent, "r1")
	require.NoError(t, err)
	assert.Equal(t, "baz", got["foo"])

	_, err = m.Delete(ctx, "record", parent, "r1")
	require.NoError(t, err)
	_, err = m.Get(ctx, "record", parent, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_CreateRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	parent := Parent{Bucket: "bid", Collection: "cid"}

	_, err := m.Create(ctx, "record", parent, Object{"id": "r1"})
	require.NoError(t, err)
	_, err = m.Create(ctx, "record", parent, Object{"id": "r1"})
	assert.ErrorIs(t, err, ErrUnicity)
}

func TestMemory_GetAllFiltersTombstonesByDefault(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	parent := Parent{Bucket: "bid", Collection: "cid"}

	_, err := m.Create(ctx, "record", parent, Object{"id": "r1"})
	require.NoError(t, err)
	_, err = m.Create(ctx, "record", parent, Object{"id": "r2"})
	require.NoError(t, err)
	_, err = m.Delete(ctx, "record", parent, "r1")
	require.NoError(t, err)

	live, count, err := m.GetAll(ctx, "record", parent, Filters{}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "r2", live[0].ID())

	withTombstones, count, err := m.GetAll(ctx, "record", parent, Filters{}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, withTombstones, 2)
}

func TestMemory_GetAllOrdersByLastModifiedAscending(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	parent := Parent{Bucket: "bid", Collection: "cid"}

	_, err := m.Create(ctx, "record", parent, Object{"id": "a"})
	require.NoError(t, err)
	_, err = m.Create(ctx, "record", parent, Object{"id": "b"})
	require.NoError(t, err)

	all, _, err := m.GetAll(ctx, "record", parent, Filters{}, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	lmA, _ := all[0]["last_modified"].(int64)
	lmB, _ := all[1]["last_modified"].(int64)
	assert.Less(t, lmA, lmB)
}

func TestMemory_DeleteAllTombstonesLiveObjects(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	parent := Parent{Bucket: "bid", Collection: "cid"}
	_, err := m.Create(ctx, "record", parent, Object{"id": "a"})
	require.NoError(t, err)

	require.NoError(t, m.DeleteAll(ctx, "record", parent, false))
	_, count, err := m.GetAll(ctx, "record", parent, Filters{}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = m.Get(ctx, "record", parent, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_PermissionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	uri := "/buckets/bid/collections/cid"

	require.NoError(t, m.AddPrincipalToACE(ctx, uri, "write", "account:alice"))
	ok, err := m.CheckPermission(ctx, []string{"account:alice"}, Required{URI: uri, Permission: "write"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.CheckPermission(ctx, []string{"account:bob"}, Required{URI: uri, Permission: "write"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_ReplaceObjectPermissions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	uri := "/buckets/bid/collections/cid"

	require.NoError(t, m.ReplaceObjectPermissions(ctx, uri, map[string][]string{"read": {"system.Everyone"}}))
	ok, err := m.CheckPermission(ctx, []string{"account:anyone"}, Required{URI: uri, Permission: "read"})
	require.NoError(t, err)
	assert.True(t, ok)
}
