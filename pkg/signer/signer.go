// Package signer defines the pluggable signer abstraction (C2): produce and
// verify detached signatures over the bytes produced by pkg/canonical, and
// report backend health. Two implementations exist: this package's
// LocalECDSA (NIST P-384, synchronous, key reloaded from disk per call) and
// pkg/signer/autograph's remote HAWK-authenticated backend.
package signer

import (
	"context"
	"errors"
	"fmt"
)

// ContentSignaturePrefix is prepended to every payload before hashing, as
// Autograph (the reference remote signer) does.
const ContentSignaturePrefix = "Content-Signature:\x00"

// Bundle is the opaque signature bundle stored on the destination
// collection's metadata. Every backend is expected to produce at least
// "signature", "hash_algorithm" and "signature_encoding"; local ECDSA adds
// "x5u" and "content-signature".
type Bundle map[string]interface{}

func (b Bundle) str(key string) string {
	v, _ := b[key].(string)
	return v
}

// Signature returns the base64-encoded raw signature bytes.
func (b Bundle) Signature() string { return b.str("signature") }

// HashAlgorithm returns the hash algorithm name (e.g. "sha384").
func (b Bundle) HashAlgorithm() string { return b.str("hash_algorithm") }

// SignatureEncoding returns the signature encoding (e.g. "rs_base64").
func (b Bundle) SignatureEncoding() string { return b.str("signature_encoding") }

// X5U returns the certificate chain URL, which may be empty.
func (b Bundle) X5U() string { return b.str("x5u") }

// ContentSignature returns the "x5u=...;p384ecdsa=..." header value.
func (b Bundle) ContentSignature() string { return b.str("content-signature") }

// HasMandatoryFields reports whether the bundle carries at least the three
// fields required to attempt verification.
func (b Bundle) HasMandatoryFields() bool {
	return b.Signature() != "" && b.HashAlgorithm() != "" && b.SignatureEncoding() != ""
}

// ErrBadSignature is returned by Verify when the signature does not match
// the payload. It is never surfaced directly to end users (§7); it is used
// by self-tests and Heartbeat.
var ErrBadSignature = errors.New("signer: bad signature")

// ErrUnavailable wraps a remote signer failure (timeout, non-2xx response).
// The engine maps this to a 503 and aborts the enclosing transaction (§7).
type ErrUnavailable struct {
	Backend string
	Err     error
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("signer: %s backend unavailable: %v", e.Backend, e.Err)
}

func (e *ErrUnavailable) Unwrap() error { return e.Err }

// Signer produces and verifies detached signatures over canonical bytes.
type Signer interface {
	// Sign returns a signature bundle over payload.
	Sign(ctx context.Context, payload []byte) (Bundle, error)
	// Verify returns ErrBadSignature if bundle does not validate against
	// payload, or a plain error for malformed/unsupported bundle fields.
	Verify(ctx context.Context, payload []byte, bundle Bundle) error
	// Heartbeat signs a fixed probe payload and checks the bundle shape.
	// Any error, including ErrBadSignature, yields false.
	Heartbeat(ctx context.Context) bool
}

// heartbeatProbe is the fixed string every backend signs for a heartbeat.
const heartbeatProbe = "kinto-signer-heartbeat"

// RunHeartbeat signs and verifies heartbeatProbe against s, returning false
// on any error. LocalECDSA's Heartbeat calls this; pkg/signer/autograph's
// Heartbeat checks the bundle shape of a signed probe and does not verify it.
func RunHeartbeat(ctx context.Context, s Signer) bool {
	bundle, err := s.Sign(ctx, []byte(heartbeatProbe))
	if err != nil {
		return false
	}
	if !bundle.HasMandatoryFields() {
		return false
	}
	return s.Verify(ctx, []byte(heartbeatProbe), bundle) == nil
}
