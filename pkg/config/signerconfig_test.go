package config_test

import (
	"testing"

	"github.com/Kinto/kinto-signer/pkg/config"
	"github.com/Kinto/kinto-signer/pkg/resourcemap"
	"github.com/stretchr/testify/require"
)

func TestResolveSignerConfig_SplitsByBackend(t *testing.T) {
	m, err := resourcemap.Parse("bid/cid;bid/cid-signed")
	require.NoError(t, err)

	settings := resourcemap.Settings{
		"signer.bid_cid.signer_backend":     "autograph",
		"signer.bid_cid.autograph.server_url": "https://autograph.example.invalid",
		"signer.bid_cid.autograph.hawk_id":    "hawk-id",
		"signer.bid_cid.autograph.hawk_secret": "hawk-secret",
	}
	for _, r := range m.All() {
		require.NoError(t, resourcemap.ResolveSettings(r, settings))
	}

	keyLocations, remoteCredentials := config.ResolveSignerConfig(m, settings)
	require.Empty(t, keyLocations)
	require.Len(t, remoteCredentials, 1)

	creds := remoteCredentials["/buckets/bid/collections/cid"]
	require.Equal(t, "https://autograph.example.invalid", creds.ServerURL)
	require.Equal(t, "hawk-id", creds.HawkID)
}

func TestResolveSignerConfig_DefaultsToECDSA(t *testing.T) {
	m, err := resourcemap.Parse("bid/cid;bid/cid-signed")
	require.NoError(t, err)

	settings := resourcemap.Settings{
		"signer.bid_cid.ecdsa.private_key": "/keys/bid-cid.priv.pem",
		"signer.bid_cid.ecdsa.public_key":  "/keys/bid-cid.pub.pem",
	}
	for _, r := range m.All() {
		require.NoError(t, resourcemap.ResolveSettings(r, settings))
	}

	keyLocations, remoteCredentials := config.ResolveSignerConfig(m, settings)
	require.Empty(t, remoteCredentials)
	require.Equal(t, "/keys/bid-cid.priv.pem", keyLocations["/buckets/bid/collections/cid"].PrivateKeyLoc)
}
