// Package sqltest opens a migrated in-memory sqlite database for tests.
package sqltest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jwalitptl/towndir/internal/repository/postgres"
)

var seq atomic.Int64

// New returns a fresh schema per call. One connection keeps every query on
// the same in-memory database.
func New(t testing.TB) *sqlx.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:towndir_%d?mode=memory&cache=shared", seq.Add(1))
	db, err := sqlx.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, postgres.Migrate(context.Background(), db))
	return db
}
