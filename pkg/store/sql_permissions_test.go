package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestSQLStore_AddPrincipalToACE_CreatesRowWhenAbsent(t *testing.T) {
	s, mock := newMockSQLiteStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM permissions")).
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO permissions")).WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.AddPrincipalToACE(context.Background(), "/buckets/bid/collections/cid", "write", "account:alice")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_AddPrincipalToACE_SkipsDuplicateWrite(t *testing.T) {
	s, mock := newMockSQLiteStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM permissions")).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(`{"write":["account:alice"]}`))

	err := s.AddPrincipalToACE(context.Background(), "/buckets/bid/collections/cid", "write", "account:alice")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CheckPermission_MatchesPrincipalOrEveryone(t *testing.T) {
	s, mock := newMockSQLiteStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM permissions")).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(`{"read":["system.Everyone"]}`))

	ok, err := s.CheckPermission(context.Background(), []string{"account:bob"}, Required{URI: "/buckets/bid/collections/cid", Permission: "read"})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CheckPermission_FalseWhenNoRow(t *testing.T) {
	s, mock := newMockSQLiteStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM permissions")).
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	ok, err := s.CheckPermission(context.Background(), []string{"account:bob"}, Required{URI: "/buckets/bid/collections/cid", Permission: "write"})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
