package resourcemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_LegacyTwoItem(t *testing.T) {
	m, err := Parse("bid/cid;bid/cid-signed")
	require.NoError(t, err)
	r := m.Lookup("bid", "cid")
	require.NotNil(t, r)
	assert.Equal(t, "bid", r.Destination.Bucket)
	assert.Equal(t, "cid-signed", r.Destination.Collection)
	assert.Nil(t, r.Preview)
}

func TestParse_CanonicalThreeItemWithArrow(t *testing.T) {
	m, err := Parse("/buckets/bid/collections/cid -> /buckets/bid/collections/preview -> /buckets/bid/collections/signed")
	require.NoError(t, err)
	r := m.Lookup("bid", "cid")
	require.NotNil(t, r)
	require.NotNil(t, r.Preview)
	assert.Equal(t, "preview", r.Preview.Collection)
	assert.Equal(t, "signed", r.Destination.Collection)
}

func TestParse_BucketWideMaterializesOnLookup(t *testing.T) {
	m, err := Parse("/buckets/bid;/buckets/bid-signed")
	require.NoError(t, err)
	r := m.Lookup("bid", "anything")
	require.NotNil(t, r)
	assert.Equal(t, "anything", r.Source.Collection)
	assert.Equal(t, "anything", r.Destination.Collection)
}

func TestParse_RejectsMalformedItemCount(t *testing.T) {
	_, err := Parse("bid/cid")
	require.Error(t, err)
	assert.IsType(t, &ConfigError{}, err)
}

func TestParse_RejectsInvalidBucketID(t *testing.T) {
	_, err := Parse("b!d/cid;b!d/cid2")
	require.Error(t, err)
}

func TestParse_RejectsMixedPerBucketPerCollection(t *testing.T) {
	_, err := Parse("/buckets/bid;/buckets/bid2/collections/cid")
	require.Error(t, err)
}

func TestParse_RejectsSourceEqualsDestination(t *testing.T) {
	_, err := Parse("bid/cid;bid/cid")
	require.Error(t, err)
}

func TestParse_RejectsRepeatedSource(t *testing.T) {
	_, err := Parse("bid/cid;bid/dst1\nbid/cid;bid/dst2")
	require.Error(t, err)
}

func TestParse_RejectsRepeatedDestination(t *testing.T) {
	_, err := Parse("bid/cid1;bid/dst\nbid/cid2;bid/dst")
	require.Error(t, err)
}

func TestParse_RejectsURIInMultipleRoles(t *testing.T) {
	_, err := Parse("bid/a;bid/b\nbid/b;bid/c")
	require.Error(t, err)
}

func TestParse_MultipleLines(t *testing.T) {
	m, err := Parse("bid/a;bid/a-signed\nbid/b;bid/b-signed")
	require.NoError(t, err)
	assert.Len(t, m.All(), 2)
}

func TestResolveSettings_PrefixFallback(t *testing.T) {
	m, err := Parse("bid/cid;bid/cid-signed")
	require.NoError(t, err)
	r := m.Lookup("bid", "cid")

	settings := Settings{
		"signer.signer_backend":            "local_ecdsa",
		"signer.bid_cid.signer_backend":    "autograph",
		"signer.group_check_enabled":       "true",
		"signer.bid.editors_group":         "bid-editors",
	}
	require.NoError(t, ResolveSettings(r, settings))
	assert.Equal(t, "autograph", r.SignerBackend)
	assert.True(t, r.GroupCheckEnabled)
	assert.Equal(t, "bid-editors", r.EditorsGroup)
}

func TestResolveSettings_GroupPlaceholderDefaultsToLiteralOnBucketWide(t *testing.T) {
	m, err := Parse("/buckets/bid;/buckets/bid-signed")
	require.NoError(t, err)
	r := m.Lookup("bid", "")
	settings := Settings{"signer.editors_group": "{bucket_id}-{collection_id}-editors"}
	require.NoError(t, ResolveSettings(r, settings))
	assert.Equal(t, "bid-{collection_id}-editors", r.EditorsGroup)
}

func TestSignerSetting_PerCollectionOverride(t *testing.T) {
	source := Endpoint{Bucket: "bid", Collection: "cid"}
	settings := Settings{
		"signer.ecdsa.private_key":         "/etc/global.pem",
		"signer.bid_cid.ecdsa.private_key": "/etc/cid.pem",
	}
	assert.Equal(t, "/etc/cid.pem", SignerSetting(settings, source, "ecdsa.private_key", ""))
}
