package config

import (
	"fmt"
	"os"

	"github.com/Kinto/kinto-signer/pkg/resourcemap"
	"gopkg.in/yaml.v3"
)

// LoadSettingsFile reads the signer.* settings tree from a YAML file and
// returns it as a resourcemap.Settings map, keyed exactly as the dotted
// "signer.bid_cid.signer_backend" strings resourcemap.ResolveSettings
// expects. This mirrors Pyramid's flat .ini settings dict, letting one
// YAML document stand in for the whole settings namespace instead of a
// nested Go struct per concern.
//
// Grounded on the teacher's profile_loader.go (os.ReadFile + yaml.Unmarshal
// + fmt.Errorf wrapping), trimmed of its jurisdiction/compliance fields.
func LoadSettingsFile(path string) (resourcemap.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load settings file %q: %w", path, err)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse settings file %q: %w", path, err)
	}

	return resourcemap.Settings(raw), nil
}
