// Package bootstrap provisions the groups and collections a resource needs
// before it can be signed (§4.7's "When a source collection is created").
// It owns the group/permission half of that lifecycle; the destination and
// preview collection half is delegated to pkg/updater.Updater.CreateDestination,
// which already implements the "ensure bucket/collection exist, owned by the
// calling principal, read: [Everyone]" rule for any (source, target) pair.
//
// Grounded on the original kinto_signer.__init__.py includeme hook, which
// wires a "on_collection_created" subscriber doing exactly this group setup
// before any record ever reaches the updater.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kinto/kinto-signer/pkg/resourcemap"
	"github.com/Kinto/kinto-signer/pkg/store"
	"github.com/Kinto/kinto-signer/pkg/updater"
)

// Bootstrapper provisions groups and destination/preview collections for a
// resourcemap.Resource ahead of its first sign.
type Bootstrapper struct {
	Storage     store.Storage
	Permissions store.Permissions
}

func New(st store.Storage, perms store.Permissions) *Bootstrapper {
	return &Bootstrapper{Storage: st, Permissions: perms}
}

// BootstrapSource ensures editors/reviewers groups exist for r's source
// bucket and carry the write grants described in §4.7, then ensures the
// destination (and preview, if configured) collections exist. principal is
// the caller who created the source collection; callerCanCreateGroups
// reports whether that principal holds group:create on the source bucket,
// or is the bucket's owner (the host resolves this, since "owner" is a
// host permission concept this package has no independent way to check).
func (b *Bootstrapper) BootstrapSource(ctx context.Context, r *resourcemap.Resource, principal string, callerCanCreateGroups bool) error {
	if r.GroupCheckEnabled && callerCanCreateGroups {
		if err := b.ensureGroups(ctx, r, principal); err != nil {
			return err
		}
	}

	destUpdater := updater.New(r.Source, r.Destination, nil, b.Storage, b.Permissions)
	if err := destUpdater.CreateDestination(ctx, principal); err != nil {
		return fmt.Errorf("bootstrap: destination: %w", err)
	}

	if r.Preview != nil {
		previewUpdater := updater.New(r.Source, *r.Preview, nil, b.Storage, b.Permissions)
		if err := previewUpdater.CreateDestination(ctx, principal); err != nil {
			return fmt.Errorf("bootstrap: preview: %w", err)
		}
	}
	return nil
}

// ensureGroups creates the editors and reviewers groups under the source
// bucket if absent, adds principal as an editors-group member, restricts
// write-permission on each group to principal alone, and grants both
// groups write-permission on the source collection.
func (b *Bootstrapper) ensureGroups(ctx context.Context, r *resourcemap.Resource, principal string) error {
	if err := b.ensureGroup(ctx, r.Source.Bucket, r.EditorsGroup, principal, true); err != nil {
		return fmt.Errorf("bootstrap: editors group: %w", err)
	}
	if err := b.ensureGroup(ctx, r.Source.Bucket, r.ReviewersGroup, principal, false); err != nil {
		return fmt.Errorf("bootstrap: reviewers group: %w", err)
	}

	collectionURI := r.Source.URI()
	editorsPrincipal := groupPrincipal(r.Source.Bucket, r.EditorsGroup)
	reviewersPrincipal := groupPrincipal(r.Source.Bucket, r.ReviewersGroup)
	if err := b.Permissions.AddPrincipalToACE(ctx, collectionURI, "write", editorsPrincipal); err != nil {
		return fmt.Errorf("bootstrap: grant editors write on source: %w", err)
	}
	if err := b.Permissions.AddPrincipalToACE(ctx, collectionURI, "write", reviewersPrincipal); err != nil {
		return fmt.Errorf("bootstrap: grant reviewers write on source: %w", err)
	}
	return nil
}

func (b *Bootstrapper) ensureGroup(ctx context.Context, bucket, groupID, principal string, addAsMember bool) error {
	parent := store.Parent{Bucket: bucket}
	obj, err := b.Storage.Get(ctx, "group", parent, groupID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		members := []string{}
		if addAsMember {
			members = []string{principal}
		}
		obj, err = b.Storage.Create(ctx, "group", parent, store.Object{"id": groupID, "members": members})
		if err != nil {
			return err
		}
	case err != nil:
		return err
	case addAsMember:
		if !hasMember(obj, principal) {
			members := append(membersOf(obj), principal)
			obj, err = b.Storage.Update(ctx, "group", parent, groupID, store.Object{"id": groupID, "members": members})
			if err != nil {
				return err
			}
		}
	}

	groupURI := fmt.Sprintf("/buckets/%s/groups/%s", bucket, groupID)
	return b.Permissions.ReplaceObjectPermissions(ctx, groupURI, map[string][]string{
		"write": {principal},
	})
}

func groupPrincipal(bucket, groupID string) string {
	return fmt.Sprintf("/buckets/%s/groups/%s", bucket, groupID)
}

func membersOf(o store.Object) []string {
	raw, _ := o["members"].([]string)
	if raw != nil {
		return raw
	}
	if ifaces, ok := o["members"].([]interface{}); ok {
		out := make([]string, 0, len(ifaces))
		for _, v := range ifaces {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func hasMember(o store.Object, principal string) bool {
	for _, m := range membersOf(o) {
		if m == principal {
			return true
		}
	}
	return false
}
