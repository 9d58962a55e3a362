package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
)

// p384ByteLen is the fixed-width byte size of each of r and s for P-384
// (384 bits rounded up to bytes).
const p384ByteLen = 48

// KeyLoader fetches PEM-encoded PKCS#8 key material on demand. It is
// satisfied structurally by pkg/keystore's Loader implementations; this
// package only depends on the two methods it needs, to avoid an import
// cycle and to keep the signer testable with an in-memory fake.
type KeyLoader interface {
	LoadPrivateKeyPEM(ctx context.Context) ([]byte, error)
	LoadPublicKeyPEM(ctx context.Context) ([]byte, error)
}

// LocalECDSA signs with NIST P-384 / SHA-384, raw r||s encoding, per §4.2.
// The key is reloaded from Keys on every Sign/Verify call rather than
// cached, so that rotating the backing file/object takes effect without a
// process restart (§5).
type LocalECDSA struct {
	Keys KeyLoader
	// X5U is the certificate chain URL advertised in the bundle; may be
	// empty, matching the reference Python implementation.
	X5U string
}

func NewLocalECDSA(keys KeyLoader, x5u string) *LocalECDSA {
	return &LocalECDSA{Keys: keys, X5U: x5u}
}

func (s *LocalECDSA) Sign(ctx context.Context, payload []byte) (Bundle, error) {
	pemBytes, err := s.Keys.LoadPrivateKeyPEM(ctx)
	if err != nil {
		return nil, fmt.Errorf("localecdsa: load private key: %w", err)
	}
	priv, err := parsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("localecdsa: parse private key: %w", err)
	}

	digest := hashWithPrefix(payload)
	r, sVal, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("localecdsa: sign: %w", err)
	}

	sigBytes, err := concatRS(r, sVal)
	if err != nil {
		return nil, fmt.Errorf("localecdsa: encode signature: %w", err)
	}
	enc := base64.StdEncoding.EncodeToString(sigBytes)

	return Bundle{
		"signature":          enc,
		"hash_algorithm":     "sha384",
		"signature_encoding": "rs_base64",
		"x5u":                s.X5U,
		"content-signature":  fmt.Sprintf("x5u=%s;p384ecdsa=%s", s.X5U, enc),
	}, nil
}

func (s *LocalECDSA) Verify(ctx context.Context, payload []byte, bundle Bundle) error {
	if !bundle.HasMandatoryFields() {
		return fmt.Errorf("localecdsa: %w: missing mandatory fields", ErrBadSignature)
	}
	if bundle.HashAlgorithm() != "sha384" {
		return fmt.Errorf("localecdsa: unsupported hash_algorithm %q", bundle.HashAlgorithm())
	}

	r, sVal, err := DecodeRS(bundle)
	if err != nil {
		return err
	}

	pemBytes, err := s.Keys.LoadPublicKeyPEM(ctx)
	if err != nil {
		return fmt.Errorf("localecdsa: load public key: %w", err)
	}
	pub, err := parsePublicKey(pemBytes)
	if err != nil {
		return fmt.Errorf("localecdsa: parse public key: %w", err)
	}

	digest := hashWithPrefix(payload)
	if !ecdsa.Verify(pub, digest[:], r, sVal) {
		return fmt.Errorf("localecdsa: %w", ErrBadSignature)
	}
	return nil
}

func (s *LocalECDSA) Heartbeat(ctx context.Context) bool {
	return RunHeartbeat(ctx, s)
}

func hashWithPrefix(payload []byte) [48]byte {
	prefixed := append([]byte(ContentSignaturePrefix), payload...)
	return sha512.Sum384(prefixed)
}

// DecodeRS decodes a bundle's signature field into its raw (r, s)
// components, dispatching on signature_encoding. It is exported so other
// backends (pkg/signer/autograph) that share the same rs_base64/rs_base64url
// wire format can reuse the decode logic.
func DecodeRS(bundle Bundle) (r, s *big.Int, err error) {
	var sigBytes []byte
	switch bundle.SignatureEncoding() {
	case "rs_base64":
		sigBytes, err = base64.StdEncoding.DecodeString(bundle.Signature())
	case "rs_base64url":
		sigBytes, err = base64.URLEncoding.DecodeString(bundle.Signature())
	default:
		return nil, nil, fmt.Errorf("signer: unsupported signature_encoding %q", bundle.SignatureEncoding())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("signer: decode signature: %w", err)
	}
	if len(sigBytes) != 2*p384ByteLen {
		return nil, nil, fmt.Errorf("signer: %w: unexpected signature length %d", ErrBadSignature, len(sigBytes))
	}
	r = new(big.Int).SetBytes(sigBytes[:p384ByteLen])
	s = new(big.Int).SetBytes(sigBytes[p384ByteLen:])
	return r, s, nil
}

// HashPayload returns the SHA-384 digest of payload prefixed with
// ContentSignaturePrefix, the quantity every backend signs and verifies.
func HashPayload(payload []byte) [48]byte {
	return hashWithPrefix(payload)
}

// ParseECDSAPublicKeyPEM parses a PEM-wrapped PKIX-encoded P-384 public key.
// pkg/signer/autograph does not use it: it reads the public key from the
// x5u leaf certificate instead.
func ParseECDSAPublicKeyPEM(pemBytes []byte) (*ecdsa.PublicKey, error) {
	return parsePublicKey(pemBytes)
}

func concatRS(r, s *big.Int) ([]byte, error) {
	out := make([]byte, 2*p384ByteLen)
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	if len(rBytes) > p384ByteLen || len(sBytes) > p384ByteLen {
		return nil, fmt.Errorf("r/s overflow p384 field width")
	}
	copy(out[p384ByteLen-len(rBytes):p384ByteLen], rBytes)
	copy(out[2*p384ByteLen-len(sBytes):], sBytes)
	return out, nil
}

func parsePrivateKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("PEM does not contain an ECDSA private key")
	}
	if priv.Curve != elliptic.P384() {
		return nil, fmt.Errorf("key is not on the P-384 curve")
	}
	return priv, nil
}

func parsePublicKey(pemBytes []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("PEM does not contain an ECDSA public key")
	}
	if pub.Curve != elliptic.P384() {
		return nil, fmt.Errorf("key is not on the P-384 curve")
	}
	return pub, nil
}

// GenerateKeyPair creates a fresh P-384 key pair PEM-encoded as PKCS#8
// (private) and PKIX (public), for bootstrapping/tests.
func GenerateKeyPair() (privPEM, pubPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privPEM, pubPEM, nil
}
