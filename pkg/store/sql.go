package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// sqlDialect isolates the two differences between Postgres and SQLite that
// this package's queries care about: positional placeholder syntax and the
// upsert clause, mirroring how the teacher keeps PostgresReceiptStore and
// SQLiteReceiptStore as near-identical siblings.
type sqlDialect struct {
	placeholder func(pos int) string
	upsert      string // appended after the VALUES(...) clause of an INSERT
}

var postgresDialect = sqlDialect{
	placeholder: func(pos int) string { return fmt.Sprintf("$%d", pos) },
	upsert:      "ON CONFLICT (kind, bucket, collection, id) DO UPDATE SET data = EXCLUDED.data, last_modified = EXCLUDED.last_modified",
}

var sqliteDialect = sqlDialect{
	placeholder: func(pos int) string { return "?" },
	upsert:      "ON CONFLICT (kind, bucket, collection, id) DO UPDATE SET data = excluded.data, last_modified = excluded.last_modified",
}

// SQLStore is a durable Storage implementation shared by Postgres and
// SQLite, grounded on pkg/store/receipt_store.go's database/sql query
// pattern. Objects are stored as a single JSON blob column plus the id/kind/
// parent/last_modified/deleted columns needed for filtering and sorting.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewPostgresStore wraps db (expected to use github.com/lib/pq) and
// migrates the objects table if absent.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: postgresDialect}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("store: migrate postgres schema: %w", err)
	}
	if err := s.migratePermissions(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps db (expected to use modernc.org/sqlite) and migrates
// the objects table if absent.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: sqliteDialect}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("store: migrate sqlite schema: %w", err)
	}
	if err := s.migratePermissions(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS objects (
	kind TEXT NOT NULL,
	bucket TEXT NOT NULL,
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	deleted BOOLEAN NOT NULL DEFAULT FALSE,
	last_modified BIGINT NOT NULL,
	data JSONB NOT NULL,
	PRIMARY KEY (kind, bucket, collection, id)
);`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS objects (
	kind TEXT NOT NULL,
	bucket TEXT NOT NULL,
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0,
	last_modified INTEGER NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (kind, bucket, collection, id)
);`

func (s *SQLStore) ph(pos int) string { return s.dialect.placeholder(pos) }

func (s *SQLStore) Get(ctx context.Context, kind string, parent Parent, id string) (Object, error) {
	query := fmt.Sprintf(`SELECT data, last_modified, deleted FROM objects WHERE kind=%s AND bucket=%s AND collection=%s AND id=%s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	row := s.db.QueryRowContext(ctx, query, kind, parent.Bucket, parent.Collection, id)
	obj, deleted, err := scanObject(row)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, ErrNotFound
	}
	return obj, nil
}

func (s *SQLStore) Create(ctx context.Context, kind string, parent Parent, obj Object) (Object, error) {
	id := obj.ID()
	existing, err := s.Get(ctx, kind, parent, id)
	if err == nil && existing != nil {
		return nil, ErrUnicity
	}

	ts, err := s.bumpClock(ctx, kind, parent)
	if err != nil {
		return nil, err
	}
	stored := cloneObject(obj)
	stored["last_modified"] = ts
	if err := s.upsertRow(ctx, kind, parent, id, stored, false); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *SQLStore) Update(ctx context.Context, kind string, parent Parent, id string, obj Object) (Object, error) {
	ts, err := s.bumpClock(ctx, kind, parent)
	if err != nil {
		return nil, err
	}
	stored := cloneObject(obj)
	stored["id"] = id
	stored["last_modified"] = ts
	if err := s.upsertRow(ctx, kind, parent, id, stored, false); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *SQLStore) Delete(ctx context.Context, kind string, parent Parent, id string) (Object, error) {
	existing, err := s.Get(ctx, kind, parent, id)
	if err != nil {
		return nil, err
	}
	_ = existing
	ts, err := s.bumpClock(ctx, kind, parent)
	if err != nil {
		return nil, err
	}
	tombstone := Object{"id": id, "deleted": true, "last_modified": ts}
	if err := s.upsertRow(ctx, kind, parent, id, tombstone, true); err != nil {
		return nil, err
	}
	return tombstone, nil
}

func (s *SQLStore) upsertRow(ctx context.Context, kind string, parent Parent, id string, obj Object, deleted bool) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("store: marshal object: %w", err)
	}
	lm, _ := obj["last_modified"].(int64)
	query := fmt.Sprintf(`INSERT INTO objects (kind, bucket, collection, id, deleted, last_modified, data)
		VALUES (%s, %s, %s, %s, %s, %s, %s) %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.dialect.upsert)
	_, err = s.db.ExecContext(ctx, query, kind, parent.Bucket, parent.Collection, id, deleted, lm, string(data))
	if err != nil {
		return fmt.Errorf("store: upsert: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAll(ctx context.Context, kind string, parent Parent, filters Filters, includeDeleted bool) ([]Object, int, error) {
	query := fmt.Sprintf(`SELECT data, last_modified, deleted FROM objects WHERE kind=%s AND bucket=%s AND collection=%s`,
		s.ph(1), s.ph(2), s.ph(3))
	args := []interface{}{kind, parent.Bucket, parent.Collection}
	pos := 4
	if !includeDeleted {
		query += " AND deleted = false"
	}
	if filters.GTLastModified != 0 {
		query += fmt.Sprintf(" AND last_modified > %s", s.ph(pos))
		args = append(args, filters.GTLastModified)
		pos++
	}
	query += " ORDER BY last_modified ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: get_all: %w", err)
	}
	defer rows.Close()

	var out []Object
	for rows.Next() {
		obj, _, err := scanObjectRows(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, len(out), nil
}

func (s *SQLStore) CollectionTimestamp(ctx context.Context, kind string, parent Parent) (int64, error) {
	query := fmt.Sprintf(`SELECT COALESCE(MAX(last_modified), 0) FROM objects WHERE kind=%s AND bucket=%s AND collection=%s`,
		s.ph(1), s.ph(2), s.ph(3))
	var max int64
	if err := s.db.QueryRowContext(ctx, query, kind, parent.Bucket, parent.Collection).Scan(&max); err != nil {
		return 0, fmt.Errorf("store: collection_timestamp: %w", err)
	}
	return max, nil
}

func (s *SQLStore) DeleteAll(ctx context.Context, kind string, parent Parent, withDeleted bool) error {
	if withDeleted {
		query := fmt.Sprintf(`DELETE FROM objects WHERE kind=%s AND bucket=%s AND collection=%s`, s.ph(1), s.ph(2), s.ph(3))
		_, err := s.db.ExecContext(ctx, query, kind, parent.Bucket, parent.Collection)
		return err
	}
	ts, err := s.bumpClock(ctx, kind, parent)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE objects SET deleted = true, last_modified = %s, data = %s WHERE kind=%s AND bucket=%s AND collection=%s AND deleted = false`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	data, _ := json.Marshal(Object{"deleted": true})
	_, err = s.db.ExecContext(ctx, query, ts, string(data), kind, parent.Bucket, parent.Collection)
	return err
}

// bumpClock returns a timestamp guaranteed greater than the collection's
// current one, standing in for the host's monotonic timestamp generator.
func (s *SQLStore) bumpClock(ctx context.Context, kind string, parent Parent) (int64, error) {
	cur, err := s.CollectionTimestamp(ctx, kind, parent)
	if err != nil {
		return 0, err
	}
	return cur + 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanObject(row rowScanner) (Object, bool, error) {
	var data string
	var lastModified int64
	var deleted bool
	if err := row.Scan(&data, &lastModified, &deleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}
	var obj Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, false, fmt.Errorf("store: unmarshal object: %w", err)
	}
	obj["last_modified"] = lastModified
	return obj, deleted, nil
}

func scanObjectRows(rows *sql.Rows) (Object, bool, error) {
	return scanObject(rows)
}
