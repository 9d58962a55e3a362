package config

import (
	"github.com/Kinto/kinto-signer/pkg/registry"
	"github.com/Kinto/kinto-signer/pkg/resourcemap"
)

// ResolveSignerConfig walks every resource in m and resolves its
// signer_backend's key material or remote credentials from settings, via
// resourcemap.SignerSetting's prefix fallback. The resulting maps are keyed
// by source URI, exactly as registry.Build expects.
func ResolveSignerConfig(m *resourcemap.Map, settings resourcemap.Settings) (map[string]registry.KeyLocations, map[string]registry.RemoteCredentials) {
	keyLocations := make(map[string]registry.KeyLocations)
	remoteCredentials := make(map[string]registry.RemoteCredentials)

	for _, r := range m.All() {
		sourceURI := r.Source.URI()
		switch r.SignerBackend {
		case "autograph":
			remoteCredentials[sourceURI] = registry.RemoteCredentials{
				ServerURL:  resourcemap.SignerSetting(settings, r.Source, "autograph.server_url", ""),
				HawkID:     resourcemap.SignerSetting(settings, r.Source, "autograph.hawk_id", ""),
				HawkSecret: resourcemap.SignerSetting(settings, r.Source, "autograph.hawk_secret", ""),
			}
		default:
			keyLocations[sourceURI] = registry.KeyLocations{
				PrivateKeyLoc: resourcemap.SignerSetting(settings, r.Source, "ecdsa.private_key", ""),
				PublicKeyLoc:  resourcemap.SignerSetting(settings, r.Source, "ecdsa.public_key", ""),
				Passphrase:    resourcemap.SignerSetting(settings, r.Source, "ecdsa.passphrase", ""),
			}
		}
	}

	return keyLocations, remoteCredentials
}
