package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"typeddag/internal/closure"
)

var (
	typeA = closure.TypeVector{1, 0}
	typeB = closure.TypeVector{0, 1}
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "closure.db"), Options{
		Schema: closure.DefaultSchema("a", "b"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type backend struct {
	name string
	open func(t *testing.T) *DB
}

// testBackends returns SQLite with the window strategy, plus PostgreSQL and
// MySQL (counter strategy) when their DSNs are provided. Each external
// backend gets a fresh table that is dropped afterwards.
func testBackends() []backend {
	backends := []backend{{name: "sqlite-window", open: setupTestDB}}

	external := []struct {
		name, env, strategy string
	}{
		{"postgres-window", "TYPEDDAG_TEST_POSTGRES_DSN", closure.StrategyWindow},
		{"mysql-counter", "TYPEDDAG_TEST_MYSQL_DSN", closure.StrategyCounter},
	}
	for _, ext := range external {
		dsn := os.Getenv(ext.env)
		if dsn == "" {
			continue
		}
		strategy := ext.strategy
		backends = append(backends, backend{name: ext.name, open: func(t *testing.T) *DB {
			t.Helper()
			schema := closure.DefaultSchema("a", "b")
			schema.Table = "edges_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

			db, err := Open(context.Background(), dsn, Options{Schema: schema, RankStrategy: strategy})
			require.NoError(t, err)
			t.Cleanup(func() {
				db.Exec("DROP TABLE " + schema.Table)
				db.Close()
			})
			return db
		}})
	}
	return backends
}

func forEachBackend(t *testing.T, fn func(t *testing.T, db *DB)) {
	for _, b := range testBackends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func mustCreate(t *testing.T, db *DB, from, to int64, types closure.TypeVector) *closure.Edge {
	t.Helper()
	e, err := db.CreateEdge(context.Background(), from, to, types)
	require.NoError(t, err)
	return e
}

func mustDelete(t *testing.T, db *DB, id int64) {
	t.Helper()
	_, err := db.DeleteEdge(context.Background(), id)
	require.NoError(t, err)
}

func pathCount(t *testing.T, db *DB, from, to int64, types closure.TypeVector) int64 {
	t.Helper()
	comps, err := db.Compositions(context.Background(), from, to)
	require.NoError(t, err)
	for _, c := range comps {
		if c.Types.Equal(types) {
			return c.Count
		}
	}
	return 0
}

func totalRows(t *testing.T, db *DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+db.Schema().Table).Scan(&n))
	return n
}

func requireConsistent(t *testing.T, db *DB) {
	t.Helper()
	report, err := db.Verify(context.Background())
	require.NoError(t, err)
	require.Truef(t, report.OK(), "closure mismatches: %+v", report.Mismatches)
}
