package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/stateindex/internal/entry"
)

// createTestStore opens a fresh SQLite store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), Config{Driver: "sqlite3", DSN: path}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var genesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// blockTime returns a deterministic block timestamp, one minute per height.
func blockTime(height int64) time.Time {
	return genesis.Add(time.Duration(height) * time.Minute)
}

func version(address, key string, height int64, v entry.Value) entry.Entry {
	return entry.New(address, key, height, blockTime(height), v)
}

func tombstone(address, key string, height int64) Tombstone {
	return Tombstone{Address: address, Key: key, Height: height, BlockTimestamp: blockTime(height)}
}

func ptr[T any](v T) *T {
	return &v
}

// countRows returns the number of rows in table matching an optional
// predicate.
func countRows(t *testing.T, s *Store, table, where string, args ...any) int {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	require.NoError(t, s.db.QueryRow(query, args...).Scan(&n))
	return n
}
