package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockSQLiteStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS objects")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS permissions")).WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLiteStore(context.Background(), db)
	require.NoError(t, err)
	return s, mock
}

func TestSQLStore_GetReturnsNotFoundOnNoRows(t *testing.T) {
	s, mock := newMockSQLiteStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data, last_modified, deleted FROM objects")).
		WillReturnRows(sqlmock.NewRows([]string{"data", "last_modified", "deleted"}))

	_, err := s.Get(context.Background(), "record", Parent{Bucket: "bid", Collection: "cid"}, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetReturnsNotFoundOnTombstone(t *testing.T) {
	s, mock := newMockSQLiteStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data, last_modified, deleted FROM objects")).
		WillReturnRows(sqlmock.NewRows([]string{"data", "last_modified", "deleted"}).
			AddRow(`{"id":"r1","deleted":true}`, 5, true))

	_, err := s.Get(context.Background(), "record", Parent{Bucket: "bid", Collection: "cid"}, "r1")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CreateChecksUnicityThenInserts(t *testing.T) {
	s, mock := newMockSQLiteStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT data, last_modified, deleted FROM objects")).
		WillReturnRows(sqlmock.NewRows([]string{"data", "last_modified", "deleted"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(last_modified), 0)")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(0)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO objects")).WillReturnResult(sqlmock.NewResult(1, 1))

	obj, err := s.Create(context.Background(), "record", Parent{Bucket: "bid", Collection: "cid"}, Object{"id": "r1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), obj["last_modified"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CollectionTimestamp(t *testing.T) {
	s, mock := newMockSQLiteStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(last_modified), 0)")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(42)))

	ts, err := s.CollectionTimestamp(context.Background(), "record", Parent{Bucket: "bid", Collection: "cid"})
	require.NoError(t, err)
	require.Equal(t, int64(42), ts)
	require.NoError(t, mock.ExpectationsWereMet())
}
