// Package resourcemap parses the signer.resources setting (C3) into a
// validated mapping of source -> [preview ->] destination triples, and
// resolves per-resource settings by prefix fallback (§4.2's "Selection").
//
// Grounded on the original kinto_signer.utils.parse_resources grammar
// (bucket/collection items split by a fixed separator), generalized to the
// full grammar specified for this implementation: "->" or ";" separators,
// legacy "bucket/collection" or canonical "/buckets/<bid>/collections/<cid>"
// endpoint forms, and 2- or 3-item lines.
package resourcemap

import (
	"fmt"
	"regexp"
	"strings"
)

// ConfigError is raised when signer.resources (or a setting derived from it)
// is invalid. The engine fails to start rather than run with a partial map.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// Endpoint identifies a bucket, and optionally a specific collection within
// it. Collection == "" means "every collection in this bucket".
type Endpoint struct {
	Bucket     string
	Collection string
}

// URI renders the canonical /buckets/<bid>[/collections/<cid>] form.
func (e Endpoint) URI() string {
	if e.Collection == "" {
		return fmt.Sprintf("/buckets/%s", e.Bucket)
	}
	return fmt.Sprintf("/buckets/%s/collections/%s", e.Bucket, e.Collection)
}

func (e Endpoint) bucketWide() bool { return e.Collection == "" }

// Resource is one parsed triple, plus the resolved scoped settings (§6)
// filled in later by ResolveSettings.
type Resource struct {
	Source      Endpoint
	Preview     *Endpoint // nil if this triple had no preview
	Destination Endpoint

	SignerBackend     string
	ReviewersGroup    string
	EditorsGroup      string
	ToReviewEnabled   bool
	GroupCheckEnabled bool
}

// Map is the immutable, validated result of parsing signer.resources (§5:
// "The resource map is immutable after init").
type Map struct {
	bySource []*Resource
}

var idRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Parse validates and parses raw (the newline-separated triple list) per the
// grammar in §4.3.
func Parse(raw string) (*Map, error) {
	m := &Map{}

	sourceURIs := map[string]bool{}
	destURIs := map[string]bool{}
	previewURIs := map[string]bool{}
	anyURI := map[string]string{} // uri -> role, to catch cross-role collisions

	lines := splitNonEmptyLines(raw)
	for _, line := range lines {
		items := splitItems(line)
		if len(items) != 2 && len(items) != 3 {
			return nil, configErrorf("resource line must have 2 or 3 items, got %d: %q", len(items), line)
		}

		endpoints := make([]Endpoint, len(items))
		for i, item := range items {
			ep, err := parseEndpoint(item)
			if err != nil {
				return nil, configErrorf("invalid endpoint %q in line %q: %v", item, line, err)
			}
			endpoints[i] = ep
		}

		bucketWideCount := 0
		for _, ep := range endpoints {
			if ep.bucketWide() {
				bucketWideCount++
			}
		}
		if bucketWideCount != 0 && bucketWideCount != len(endpoints) {
			return nil, configErrorf("line %q mixes per-bucket and per-collection endpoints", line)
		}

		r := &Resource{}
		if len(endpoints) == 2 {
			r.Source, r.Destination = endpoints[0], endpoints[1]
		} else {
			r.Source, r.Destination = endpoints[0], endpoints[2]
			preview := endpoints[1]
			r.Preview = &preview
		}

		if r.Source.URI() == r.Destination.URI() {
			return nil, configErrorf("line %q: source equals destination", line)
		}
		if r.Preview != nil && r.Preview.URI() == r.Source.URI() {
			return nil, configErrorf("line %q: source equals preview", line)
		}
		if r.Preview != nil && r.Preview.URI() == r.Destination.URI() {
			return nil, configErrorf("line %q: preview equals destination", line)
		}

		if sourceURIs[r.Source.URI()] {
			return nil, configErrorf("line %q: repeated source URI %s", line, r.Source.URI())
		}
		sourceURIs[r.Source.URI()] = true

		if destURIs[r.Destination.URI()] {
			return nil, configErrorf("line %q: repeated destination URI %s", line, r.Destination.URI())
		}
		destURIs[r.Destination.URI()] = true

		if r.Preview != nil {
			if previewURIs[r.Preview.URI()] {
				return nil, configErrorf("line %q: repeated preview URI %s", line, r.Preview.URI())
			}
			previewURIs[r.Preview.URI()] = true
		}

		for _, ep := range endpoints {
			if existingRole, ok := anyURI[ep.URI()]; ok {
				return nil, configErrorf("line %q: URI %s already used as %s", line, ep.URI(), existingRole)
			}
		}
		anyURI[r.Source.URI()] = "source"
		anyURI[r.Destination.URI()] = "destination"
		if r.Preview != nil {
			anyURI[r.Preview.URI()] = "preview"
		}

		m.bySource = append(m.bySource, r)
	}

	return m, nil
}

func splitNonEmptyLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// splitItems splits a resource line on ";" or "->", both accepted (§4.3).
func splitItems(line string) []string {
	normalized := strings.ReplaceAll(line, "->", ";")
	parts := strings.Split(normalized, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseEndpoint(item string) (Endpoint, error) {
	if strings.HasPrefix(item, "/buckets/") {
		return parseCanonicalEndpoint(item)
	}
	return parseLegacyEndpoint(item)
}

func parseLegacyEndpoint(item string) (Endpoint, error) {
	parts := strings.Split(item, "/")
	if len(parts) != 2 {
		return Endpoint{}, fmt.Errorf("expected bucket/collection, got %q", item)
	}
	ep := Endpoint{Bucket: parts[0], Collection: parts[1]}
	return ep, validateEndpointIDs(ep)
}

func parseCanonicalEndpoint(item string) (Endpoint, error) {
	parts := strings.Split(strings.Trim(item, "/"), "/")
	switch len(parts) {
	case 2: // buckets/<bid>
		if parts[0] != "buckets" {
			return Endpoint{}, fmt.Errorf("expected /buckets/<bid>[/collections/<cid>], got %q", item)
		}
		ep := Endpoint{Bucket: parts[1]}
		return ep, validateEndpointIDs(ep)
	case 4: // buckets/<bid>/collections/<cid>
		if parts[0] != "buckets" || parts[2] != "collections" {
			return Endpoint{}, fmt.Errorf("expected /buckets/<bid>/collections/<cid>, got %q", item)
		}
		ep := Endpoint{Bucket: parts[1], Collection: parts[3]}
		return ep, validateEndpointIDs(ep)
	default:
		return Endpoint{}, fmt.Errorf("expected /buckets/<bid>[/collections/<cid>], got %q", item)
	}
}

func validateEndpointIDs(ep Endpoint) error {
	if !idRe.MatchString(ep.Bucket) {
		return fmt.Errorf("invalid bucket id %q", ep.Bucket)
	}
	if ep.Collection != "" && !idRe.MatchString(ep.Collection) {
		return fmt.Errorf("invalid collection id %q", ep.Collection)
	}
	return nil
}

// Lookup resolves the resource governing a (bucket, collection) source URI:
// exact-collection match first, else a bucket-wide match with the specific
// collection id materialized into a copy (§4.6 step 1). Returns nil if no
// resource covers this source.
func (m *Map) Lookup(bucket, collection string) *Resource {
	for _, r := range m.bySource {
		if r.Source.Bucket == bucket && r.Source.Collection == collection {
			return r
		}
	}
	for _, r := range m.bySource {
		if r.Source.Bucket == bucket && r.Source.bucketWide() {
			return materializeForCollection(r, collection)
		}
	}
	return nil
}

// materializeForCollection returns a copy of a bucket-wide resource with the
// source (and, symmetrically, destination/preview) collection id filled in,
// per __init__.py's per-collection signer-key materialization.
func materializeForCollection(r *Resource, collection string) *Resource {
	clone := *r
	clone.Source = Endpoint{Bucket: r.Source.Bucket, Collection: collection}
	clone.Destination = Endpoint{Bucket: r.Destination.Bucket, Collection: collection}
	if r.Preview != nil {
		preview := Endpoint{Bucket: r.Preview.Bucket, Collection: collection}
		clone.Preview = &preview
	}
	return &clone
}

// All returns every parsed resource (bucket-wide entries are NOT
// materialized), for capability advertisement and settings resolution.
func (m *Map) All() []*Resource {
	out := make([]*Resource, len(m.bySource))
	copy(out, m.bySource)
	return out
}
