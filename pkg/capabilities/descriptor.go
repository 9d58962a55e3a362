// Package capabilities builds the JSON capability descriptor the host
// publishes at its root endpoint (§4.8, §6), and exposes the shared
// TransitionDAG-wide review-state vocabulary to the descriptor's global
// to_review_enabled/group_check_enabled defaults.
//
// Grounded on the original kinto_signer.__init__.py's add_api_capability
// call: it passes resources.values() straight through, relying on the fact
// that a Resource never carries a private key or HAWK secret (those stay in
// settings). Descriptor and ResourceView mirror that same trimmed shape.
package capabilities

import (
	"fmt"

	"github.com/Kinto/kinto-signer/pkg/resourcemap"
	"github.com/Masterminds/semver/v3"
)

// ResourceView is one configured resource, stripped of signer_backend and
// any key/credential material, for external advertisement.
type ResourceView struct {
	Source            string `json:"source"`
	Preview           string `json:"preview,omitempty"`
	Destination       string `json:"destination"`
	EditorsGroup      string `json:"editors_group"`
	ReviewersGroup    string `json:"reviewers_group"`
	ToReviewEnabled   bool   `json:"to_review_enabled"`
	GroupCheckEnabled bool   `json:"group_check_enabled"`
}

// Descriptor is the JSON object published at the host's root endpoint
// (§6's "Capability endpoint").
type Descriptor struct {
	Description       string         `json:"description"`
	URL               string         `json:"url"`
	Version           string         `json:"version"`
	ToReviewEnabled   bool           `json:"to_review_enabled"`
	GroupCheckEnabled bool           `json:"group_check_enabled"`
	EditorsGroup      string         `json:"editors_group"`
	ReviewersGroup    string         `json:"reviewers_group"`
	Resources         []ResourceView `json:"resources"`
}

// Build assembles the descriptor from the parsed, settings-resolved resource
// map. version must be a valid semver string; global* are the
// server-wide defaults (the "signer." prefix with no bucket/collection
// override), used when no resource overrides them.
func Build(m *resourcemap.Map, description, url, version string, globalToReview, globalGroupCheck bool, globalEditorsGroup, globalReviewersGroup string) (*Descriptor, error) {
	if _, err := semver.NewVersion(version); err != nil {
		return nil, fmt.Errorf("capabilities: invalid version %q: %w", version, err)
	}

	d := &Descriptor{
		Description:       description,
		URL:               url,
		Version:           version,
		ToReviewEnabled:   globalToReview,
		GroupCheckEnabled: globalGroupCheck,
		EditorsGroup:      globalEditorsGroup,
		ReviewersGroup:    globalReviewersGroup,
	}

	for _, r := range m.All() {
		view := ResourceView{
			Source:            r.Source.URI(),
			Destination:       r.Destination.URI(),
			EditorsGroup:      r.EditorsGroup,
			ReviewersGroup:    r.ReviewersGroup,
			ToReviewEnabled:   r.ToReviewEnabled,
			GroupCheckEnabled: r.GroupCheckEnabled,
		}
		if r.Preview != nil {
			view.Preview = r.Preview.URI()
		}
		d.Resources = append(d.Resources, view)
	}
	return d, nil
}
