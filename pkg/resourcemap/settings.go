package resourcemap

import "strings"

// Settings is the flat string-keyed settings map the host hands the engine
// (mirroring Pyramid's settings dict); values are looked up by exact key.
type Settings map[string]string

// Prefixes returns, most-specific first, the settings key prefixes that
// apply to a resource's source endpoint, matching __init__.py's
// collection_wide/bucket_wide/server_wide prefix list.
func Prefixes(source Endpoint) []string {
	prefixes := []string{"signer."}
	if source.Bucket != "" {
		prefixes = append([]string{"signer." + source.Bucket + "."}, prefixes...)
	}
	if source.Collection != "" {
		collectionWide := "signer." + source.Bucket + "_" + source.Collection + "."
		prefixes = append([]string{collectionWide}, prefixes...)
	}
	return prefixes
}

// FirstMatching tries every prefix, most-specific first, for key and returns
// the first value found, else defaultValue. This is the "resolution MUST try
// every prefix for every option" rule in §4.2.
func FirstMatching(settings Settings, prefixes []string, key, defaultValue string) string {
	for _, prefix := range prefixes {
		if v, ok := settings[prefix+key]; ok {
			return v
		}
	}
	return defaultValue
}

const defaultSignerBackend = "local_ecdsa"

// ResolveSettings fills in a Resource's scoped settings (signer_backend,
// reviewers_group, editors_group, to_review_enabled, group_check_enabled)
// by prefix fallback, resolving the {collection_id}/{bucket_id} placeholders
// in group names per __init__.py.
func ResolveSettings(r *Resource, settings Settings) error {
	prefixes := Prefixes(r.Source)

	r.SignerBackend = FirstMatching(settings, prefixes, "signer_backend", defaultSignerBackend)
	r.ToReviewEnabled = asBool(FirstMatching(settings, prefixes, "to_review_enabled", "false"))
	r.GroupCheckEnabled = asBool(FirstMatching(settings, prefixes, "group_check_enabled", "false"))

	reviewersGroup := FirstMatching(settings, prefixes, "reviewers_group", "reviewers")
	editorsGroup := FirstMatching(settings, prefixes, "editors_group", "editors")

	collectionID := r.Source.Collection
	if collectionID == "" {
		collectionID = "{collection_id}"
	}
	r.ReviewersGroup = resolveGroupPlaceholder(reviewersGroup, r.Source.Bucket, collectionID)
	r.EditorsGroup = resolveGroupPlaceholder(editorsGroup, r.Source.Bucket, collectionID)
	return nil
}

func resolveGroupPlaceholder(template, bucketID, collectionID string) string {
	out := strings.ReplaceAll(template, "{bucket_id}", bucketID)
	out = strings.ReplaceAll(out, "{collection_id}", collectionID)
	return out
}

func asBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// SignerSetting resolves a per-signer-backend scoped setting such as
// "ecdsa.private_key" or "autograph.server_url" for source, by the same
// prefix discipline.
func SignerSetting(settings Settings, source Endpoint, key, defaultValue string) string {
	return FirstMatching(settings, Prefixes(source), key, defaultValue)
}
