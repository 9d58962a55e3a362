package signer

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKeyLoader struct {
	privPEM, pubPEM []byte
}

func (m *memKeyLoader) LoadPrivateKeyPEM(ctx context.Context) ([]byte, error) {
	return m.privPEM, nil
}

func (m *memKeyLoader) LoadPublicKeyPEM(ctx context.Context) ([]byte, error) {
	return m.pubPEM, nil
}

func newTestSigner(t *testing.T) *LocalECDSA {
	t.Helper()
	privPEM, pubPEM, err := GenerateKeyPair()
	require.NoError(t, err)
	return NewLocalECDSA(&memKeyLoader{privPEM: privPEM, pubPEM: pubPEM}, "https://example.invalid/chain.pem")
}

func TestLocalECDSA_SignVerifyRoundTrip(t *testing.T) {
	s := newTestSigner(t)
	payload := []byte(`{"data":[],"last_modified":"123"}`)

	bundle, err := s.Sign(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, bundle.HasMandatoryFields())
	assert.Equal(t, "sha384", bundle.HashAlgorithm())
	assert.Equal(t, "rs_base64", bundle.SignatureEncoding())
	assert.Contains(t, bundle.ContentSignature(), "p384ecdsa=")

	require.NoError(t, s.Verify(context.Background(), payload, bundle))
}

func TestLocalECDSA_VerifyFailsOnTamperedPayload(t *testing.T) {
	s := newTestSigner(t)
	payload := []byte(`{"data":[],"last_modified":"123"}`)

	bundle, err := s.Sign(context.Background(), payload)
	require.NoError(t, err)

	err = s.Verify(context.Background(), []byte(`{"data":[],"last_modified":"124"}`), bundle)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestLocalECDSA_VerifyFailsOnWrongKey(t *testing.T) {
	s := newTestSigner(t)
	other := newTestSigner(t)
	payload := []byte(`{"data":[],"last_modified":"123"}`)

	bundle, err := s.Sign(context.Background(), payload)
	require.NoError(t, err)

	err = other.Verify(context.Background(), payload, bundle)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestLocalECDSA_VerifyRejectsMissingFields(t *testing.T) {
	s := newTestSigner(t)
	err := s.Verify(context.Background(), []byte("x"), Bundle{"signature": "abc"})
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestLocalECDSA_Base64URLEncoding(t *testing.T) {
	s := newTestSigner(t)
	payload := []byte(`{"data":[],"last_modified":"1"}`)

	bundle, err := s.Sign(context.Background(), payload)
	require.NoError(t, err)

	// Re-encode as rs_base64url and confirm Verify still accepts it.
	sigBytes, err := base64.StdEncoding.DecodeString(bundle.Signature())
	require.NoError(t, err)
	urlBundle := Bundle{
		"signature":          base64.URLEncoding.EncodeToString(sigBytes),
		"hash_algorithm":     "sha384",
		"signature_encoding": "rs_base64url",
	}
	require.NoError(t, s.Verify(context.Background(), payload, urlBundle))
}

func TestLocalECDSA_Heartbeat(t *testing.T) {
	s := newTestSigner(t)
	assert.True(t, s.Heartbeat(context.Background()))
}
