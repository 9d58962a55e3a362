package registry

import (
	"context"
	"os"
	"testing"

	"github.com/Kinto/kinto-signer/pkg/resourcemap"
	kintosigner "github.com/Kinto/kinto-signer/pkg/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKeyLoader struct{ privPEM, pubPEM []byte }

func (m *memKeyLoader) LoadPrivateKeyPEM(ctx context.Context) ([]byte, error) { return m.privPEM, nil }
func (m *memKeyLoader) LoadPublicKeyPEM(ctx context.Context) ([]byte, error)  { return m.pubPEM, nil }

func newTestSigner(t *testing.T) kintosigner.Signer {
	t.Helper()
	priv, pub, err := kintosigner.GenerateKeyPair()
	require.NoError(t, err)
	return kintosigner.NewLocalECDSA(&memKeyLoader{privPEM: priv, pubPEM: pub}, "")
}

func TestSignerRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewSignerRegistry()
	s := newTestSigner(t)
	reg.Register("/buckets/bid/collections/cid", s)

	got, err := reg.SignerForSource("/buckets/bid/collections/cid")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = reg.SignerForSource("/buckets/other/collections/x")
	assert.ErrorIs(t, err, ErrSignerNotConfigured)
}

func TestSignerRegistry_HeartbeatFansOut(t *testing.T) {
	reg := NewSignerRegistry()
	reg.Register("/buckets/bid/collections/a", newTestSigner(t))
	reg.Register("/buckets/bid/collections/b", newTestSigner(t))

	results := reg.Heartbeat(context.Background())
	require.Len(t, results, 2)
	assert.True(t, results["/buckets/bid/collections/a"])
	assert.True(t, results["/buckets/bid/collections/b"])
}

func TestBuild_InstantiatesLocalECDSASigners(t *testing.T) {
	priv, pub, err := kintosigner.GenerateKeyPair()
	require.NoError(t, err)

	privPath := writeTempFile(t, priv)
	pubPath := writeTempFile(t, pub)

	m, err := resourcemap.Parse("bid/cid;bid/cid-signed")
	require.NoError(t, err)

	reg, err := Build(m, map[string]KeyLocations{
		"/buckets/bid/collections/cid": {PrivateKeyLoc: privPath, PublicKeyLoc: pubPath},
	}, nil)
	require.NoError(t, err)

	s, err := reg.SignerForSource("/buckets/bid/collections/cid")
	require.NoError(t, err)
	assert.True(t, s.Heartbeat(context.Background()))
}

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "kinto-signer-key-*.pem")
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}
