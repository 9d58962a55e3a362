// Package registry holds the process-wide registry of signer instances
// (one per configured source URI) and aggregates their heartbeats, per
// §5's "Shared resources": "the process registry holds one signer instance
// per configured source URI (read-mostly after init)".
//
// Grounded on the teacher's pkg/registry/registry.go sync.RWMutex-guarded
// map pattern (same shape as pkg/store.Memory), repurposed from a
// pack/canary rollout registry to a signer-instance registry. The teacher's
// Registry/InMemoryRegistry/PackRegistry/PostgresRegistry types, which
// address pack marketplace publishing, are not part of this package;
// DESIGN.md records why they were removed.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Kinto/kinto-signer/pkg/keystore"
	"github.com/Kinto/kinto-signer/pkg/resourcemap"
	"github.com/Kinto/kinto-signer/pkg/signer"
	"github.com/Kinto/kinto-signer/pkg/signer/autograph"
)

// ErrSignerNotConfigured is returned by SignerForSource when no resource in
// the map claims the given source URI.
var ErrSignerNotConfigured = errors.New("registry: no signer configured for source")

// SignerRegistry is the process-wide map of source URI -> signer instance.
// Safe for concurrent use; immutable after Build (§5: "the resource map is
// immutable after init").
type SignerRegistry struct {
	mu      sync.RWMutex
	signers map[string]signer.Signer
}

func NewSignerRegistry() *SignerRegistry {
	return &SignerRegistry{signers: make(map[string]signer.Signer)}
}

// Register wires a signer instance to a source URI. Exposed directly for
// tests and hosts that construct signers themselves; Build is the
// settings-driven path.
func (r *SignerRegistry) Register(sourceURI string, s signer.Signer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signers[sourceURI] = s
}

// SignerForSource implements pkg/events.SignerLookup.
func (r *SignerRegistry) SignerForSource(sourceURI string) (signer.Signer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.signers[sourceURI]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSignerNotConfigured, sourceURI)
	}
	return s, nil
}

// Heartbeat fans out to every registered signer and reports each one's
// health keyed by source URI, the "heartbeats['signer']" aggregate the
// original registers once and fans out internally.
func (r *SignerRegistry) Heartbeat(ctx context.Context) map[string]bool {
	r.mu.RLock()
	snapshot := make(map[string]signer.Signer, len(r.signers))
	for uri, s := range r.signers {
		snapshot[uri] = s
	}
	r.mu.RUnlock()

	results := make(map[string]bool, len(snapshot))
	for uri, s := range snapshot {
		results[uri] = s.Heartbeat(ctx)
	}
	return results
}

// KeyLocations names where a local_ecdsa resource's key material lives,
// resolved by pkg/config from the signer.<prefix>.ecdsa.* settings.
type KeyLocations struct {
	PrivateKeyLoc string
	PublicKeyLoc  string
	Passphrase    string
}

// RemoteCredentials names an autograph resource's HAWK credentials and
// rate limit. pkg/config resolves ServerURL, HawkID and HawkSecret from
// signer.<prefix>.autograph.* settings and leaves RequestsPerSecond at zero;
// Build uses 10 requests per second when it is zero or negative.
type RemoteCredentials struct {
	ServerURL         string
	HawkID            string
	HawkSecret        string
	RequestsPerSecond float64
}

// Build instantiates one signer per Resource in m and registers it keyed by
// the resource's Source URI, per §4.2's signer_backend selector
// ("local_ecdsa" or "autograph") and §6's scoped settings. keyLocations and
// remoteCredentials are keyed by Source URI too, already resolved by the
// caller (pkg/config) via resourcemap.SignerSetting's prefix-fallback.
func Build(m *resourcemap.Map, keyLocations map[string]KeyLocations, remoteCredentials map[string]RemoteCredentials) (*SignerRegistry, error) {
	reg := NewSignerRegistry()
	for _, r := range m.All() {
		sourceURI := r.Source.URI()
		switch r.SignerBackend {
		case "", "local_ecdsa":
			loc, ok := keyLocations[sourceURI]
			if !ok {
				return nil, fmt.Errorf("registry: no ecdsa key locations configured for %s", sourceURI)
			}
			loader, err := keystore.NewLoader(loc.PrivateKeyLoc, loc.PublicKeyLoc, loc.Passphrase)
			if err != nil {
				return nil, fmt.Errorf("registry: %s: %w", sourceURI, err)
			}
			reg.Register(sourceURI, signer.NewLocalECDSA(loader, ""))
		case "autograph":
			creds, ok := remoteCredentials[sourceURI]
			if !ok {
				return nil, fmt.Errorf("registry: no autograph credentials configured for %s", sourceURI)
			}
			rps := creds.RequestsPerSecond
			if rps <= 0 {
				rps = 10
			}
			reg.Register(sourceURI, autograph.New(creds.ServerURL, creds.HawkID, creds.HawkSecret, rps))
		default:
			return nil, fmt.Errorf("registry: unknown signer_backend %q for %s", r.SignerBackend, sourceURI)
		}
	}
	return reg, nil
}
