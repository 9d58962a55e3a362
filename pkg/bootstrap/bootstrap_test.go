package bootstrap

import (
	"context"
	"testing"

	"github.com/Kinto/kinto-signer/pkg/resourcemap"
	"github.com/Kinto/kinto-signer/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResource(t *testing.T) *resourcemap.Resource {
	t.Helper()
	m, err := resourcemap.Parse("bid/cid;bid/cid-preview;bid/cid-signed")
	require.NoError(t, err)
	r := m.All()[0]
	require.NoError(t, resourcemap.ResolveSettings(r, resourcemap.Settings{
		"signer.group_check_enabled": "true",
	}))
	return r
}

func TestBootstrapSource_CreatesGroupsAndGrantsWrite(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	b := New(mem, mem)
	r := testResource(t)

	require.NoError(t, b.BootstrapSource(ctx, r, "account:alice", true))

	editors, err := mem.Get(ctx, "group", store.Parent{Bucket: "bid"}, "editors")
	require.NoError(t, err)
	assert.Contains(t, editors["members"], "account:alice")

	_, err = mem.Get(ctx, "group", store.Parent{Bucket: "bid"}, "reviewers")
	require.NoError(t, err)

	ok, err := mem.CheckPermission(ctx, []string{"/buckets/bid/groups/editors"}, store.Required{
		URI: "/buckets/bid/collections/cid", Permission: "write",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mem.CheckPermission(ctx, []string{"/buckets/bid/groups/reviewers"}, store.Required{
		URI: "/buckets/bid/collections/cid", Permission: "write",
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBootstrapSource_SkipsGroupsWhenCallerCannotCreate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	b := New(mem, mem)
	r := testResource(t)

	require.NoError(t, b.BootstrapSource(ctx, r, "account:alice", false))

	_, err := mem.Get(ctx, "group", store.Parent{Bucket: "bid"}, "editors")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBootstrapSource_ProvisionsDestinationAndPreview(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	b := New(mem, mem)
	r := testResource(t)

	require.NoError(t, b.BootstrapSource(ctx, r, "account:alice", true))

	destColl, err := mem.Get(ctx, "collection", store.Parent{Bucket: "bid"}, "cid-signed")
	require.NoError(t, err)
	assert.Equal(t, "cid-signed", destColl["id"])

	previewColl, err := mem.Get(ctx, "collection", store.Parent{Bucket: "bid"}, "cid-preview")
	require.NoError(t, err)
	assert.Equal(t, "cid-preview", previewColl["id"])

	ok, err := mem.CheckPermission(ctx, []string{"system.Everyone"}, store.Required{
		URI: "/buckets/bid/collections/cid-signed", Permission: "read",
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBootstrapSource_IdempotentOnSecondCall(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	b := New(mem, mem)
	r := testResource(t)

	require.NoError(t, b.BootstrapSource(ctx, r, "account:alice", true))
	require.NoError(t, b.BootstrapSource(ctx, r, "account:bob", true))

	editors, err := mem.Get(ctx, "group", store.Parent{Bucket: "bid"}, "editors")
	require.NoError(t, err)
	members, _ := editors["members"].([]string)
	assert.ElementsMatch(t, []string{"account:alice", "account:bob"}, members)
}
