package autograph

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/Kinto/kinto-signer/pkg/signer"
)

// Signer is the remote HAWK-authenticated backend (§4.2, §6). It holds no
// key material: every call is an HTTP round trip to the configured
// Autograph-compatible server.
type Signer struct {
	ServerURL  string
	HawkID     string
	HawkSecret string

	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// New builds a Signer. requestsPerSecond <= 0 disables client-side rate
// limiting.
func New(serverURL, hawkID, hawkSecret string, requestsPerSecond float64) *Signer {
	s := &Signer{
		ServerURL:  serverURL,
		HawkID:     hawkID,
		HawkSecret: hawkSecret,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	if requestsPerSecond > 0 {
		s.Limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return s
}

type signRequest struct {
	Input string `json:"input"`
}

func (s *Signer) Sign(ctx context.Context, payload []byte) (signer.Bundle, error) {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return nil, &signer.ErrUnavailable{Backend: "autograph", Err: err}
		}
	}

	reqBody, err := json.Marshal([]signRequest{{Input: base64.StdEncoding.EncodeToString(payload)}})
	if err != nil {
		return nil, fmt.Errorf("autograph: encode request: %w", err)
	}

	endpoint, err := url.JoinPath(s.ServerURL, "sign", "data")
	if err != nil {
		return nil, fmt.Errorf("autograph: build endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("autograph: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("autograph: parse endpoint: %w", err)
	}
	host, port := splitHostPort(u)
	ts := time.Now().Unix()
	nonce, err := newNonce()
	if err != nil {
		return nil, fmt.Errorf("autograph: %w", err)
	}
	req.Header.Set("Authorization", hawkHeader(
		hawkCredentials{ID: s.HawkID, Key: s.HawkSecret},
		http.MethodPost, host, port, u.RequestURI(), reqBody, ts, nonce,
	))

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, &signer.ErrUnavailable{Backend: "autograph", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &signer.ErrUnavailable{Backend: "autograph", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &signer.ErrUnavailable{
			Backend: "autograph",
			Err:     fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var bundles []signer.Bundle
	if err := json.Unmarshal(body, &bundles); err != nil {
		return nil, &signer.ErrUnavailable{Backend: "autograph", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(bundles) == 0 {
		return nil, &signer.ErrUnavailable{Backend: "autograph", Err: fmt.Errorf("empty response")}
	}
	return coerceBundle(bundles[0]), nil
}

// coerceBundle fills in hash_algorithm/signature_encoding when the remote
// server omits them, matching the reference client's leniency.
func coerceBundle(b signer.Bundle) signer.Bundle {
	if b.HashAlgorithm() == "" {
		b["hash_algorithm"] = "sha384"
	}
	if b.SignatureEncoding() == "" {
		b["signature_encoding"] = "rs_base64"
	}
	return b
}

// Verify fetches the leaf certificate from bundle's x5u and checks the
// signature against its embedded public key, the same mechanism browsers use
// to validate Content-Signature headers.
func (s *Signer) Verify(ctx context.Context, payload []byte, bundle signer.Bundle) error {
	if !bundle.HasMandatoryFields() {
		return fmt.Errorf("autograph: %w: missing mandatory fields", signer.ErrBadSignature)
	}
	if bundle.X5U() == "" {
		return fmt.Errorf("autograph: bundle has no x5u to verify against")
	}

	pub, err := s.fetchLeafPublicKey(ctx, bundle.X5U())
	if err != nil {
		return fmt.Errorf("autograph: %w", err)
	}

	r, sVal, err := signer.DecodeRS(bundle)
	if err != nil {
		return err
	}

	digest := signer.HashPayload(payload)
	if !ecdsa.Verify(pub, digest[:], r, sVal) {
		return fmt.Errorf("autograph: %w", signer.ErrBadSignature)
	}
	return nil
}

func (s *Signer) fetchLeafPublicKey(ctx context.Context, x5u string) (*ecdsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x5u, nil)
	if err != nil {
		return nil, fmt.Errorf("build x5u request: %w", err)
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch x5u: %w", err)
	}
	defer resp.Body.Close()

	chain, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read x5u body: %w", err)
	}

	block, _ := pem.Decode(chain)
	if block == nil {
		return nil, fmt.Errorf("x5u did not contain a PEM certificate")
	}
	return parseLeafCertPublicKey(block.Bytes)
}

func parseLeafCertPublicKey(der []byte) (*ecdsa.PublicKey, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse leaf certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("leaf certificate does not carry an ECDSA public key")
	}
	return pub, nil
}

func (s *Signer) Heartbeat(ctx context.Context) bool {
	bundle, err := s.Sign(ctx, []byte("kinto-signer-heartbeat"))
	return err == nil && bundle.HasMandatoryFields()
}

func splitHostPort(u *url.URL) (host, port string) {
	host = u.Hostname()
	port = u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return host, port
}
