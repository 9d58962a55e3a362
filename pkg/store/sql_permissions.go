package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// permissions is stored as one JSON-blob row per object URI, mirroring how
// objects holds one JSON-blob row per (kind, bucket, collection, id): the
// permission map shape (map[string][]string) doesn't benefit from a
// normalized schema at this scale.
const postgresPermissionsSchema = `
CREATE TABLE IF NOT EXISTS permissions (
	uri TEXT PRIMARY KEY,
	data JSONB NOT NULL
);`

const sqlitePermissionsSchema = `
CREATE TABLE IF NOT EXISTS permissions (
	uri TEXT PRIMARY KEY,
	data TEXT NOT NULL
);`

func (s *SQLStore) migratePermissions(ctx context.Context) error {
	schema := postgresPermissionsSchema
	if s.dialect.placeholder(1) == "?" {
		schema = sqlitePermissionsSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate permissions schema: %w", err)
	}
	return nil
}

func (s *SQLStore) loadPermissions(ctx context.Context, uri string) (map[string][]string, error) {
	query := fmt.Sprintf(`SELECT data FROM permissions WHERE uri=%s`, s.ph(1))
	var raw string
	err := s.db.QueryRowContext(ctx, query, uri).Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load permissions: %w", err)
	}
	perms := map[string][]string{}
	if err := json.Unmarshal([]byte(raw), &perms); err != nil {
		return nil, fmt.Errorf("store: unmarshal permissions: %w", err)
	}
	return perms, nil
}

func (s *SQLStore) savePermissions(ctx context.Context, uri string, perms map[string][]string) error {
	data, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("store: marshal permissions: %w", err)
	}
	upsert := "ON CONFLICT (uri) DO UPDATE SET data = EXCLUDED.data"
	if s.dialect.placeholder(1) == "?" {
		upsert = "ON CONFLICT (uri) DO UPDATE SET data = excluded.data"
	}
	query := fmt.Sprintf(`INSERT INTO permissions (uri, data) VALUES (%s, %s) %s`, s.ph(1), s.ph(2), upsert)
	if _, err := s.db.ExecContext(ctx, query, uri, string(data)); err != nil {
		return fmt.Errorf("store: save permissions: %w", err)
	}
	return nil
}

func (s *SQLStore) ReplaceObjectPermissions(ctx context.Context, uri string, perms map[string][]string) error {
	cloned := make(map[string][]string, len(perms))
	for k, v := range perms {
		cloned[k] = append([]string(nil), v...)
	}
	return s.savePermissions(ctx, uri, cloned)
}

func (s *SQLStore) AddPrincipalToACE(ctx context.Context, uri, perm, principal string) error {
	perms, err := s.loadPermissions(ctx, uri)
	if err != nil {
		return err
	}
	for _, p := range perms[perm] {
		if p == principal {
			return nil
		}
	}
	perms[perm] = append(perms[perm], principal)
	return s.savePermissions(ctx, uri, perms)
}

func (s *SQLStore) CheckPermission(ctx context.Context, principals []string, required Required) (bool, error) {
	perms, err := s.loadPermissions(ctx, required.URI)
	if err != nil {
		return false, err
	}
	for _, p := range perms[required.Permission] {
		for _, caller := range principals {
			if p == caller || p == "system.Everyone" {
				return true, nil
			}
		}
	}
	return false, nil
}
