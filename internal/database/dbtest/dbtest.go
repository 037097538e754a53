// Package dbtest opens the integration-test database. Tests that need
// Postgres call Open and are skipped when no database is configured.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/primal-host/primal-pages/internal/database"
	"github.com/primal-host/primal-pages/internal/idgen"
)

// EnvURL names the variable holding the test connection string.
const EnvURL = "PRIMAL_PAGES_TEST_DATABASE_URL"

// Open connects to the test database, bootstrapping the schema, or
// skips the test when EnvURL is unset.
func Open(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skipf("%s not set", EnvURL)
	}
	db, err := database.Open(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

// Tenant returns a fresh tenant id so tests never see each other's rows.
func Tenant() string {
	return "t-" + idgen.New()
}

// InsertPage writes a bare draft page and returns its id.
func InsertPage(t *testing.T, db *database.DB, tenantID, authorID string, parentID *string) string {
	t.Helper()
	id := idgen.New()
	_, err := db.Pool.Exec(context.Background(),
		`INSERT INTO posts (id, tenant_id, parent_id, author_id, slug) VALUES ($1, $2, $3, $4, $5)`,
		id, tenantID, parentID, authorID, idgen.Slug(),
	)
	require.NoError(t, err)
	return id
}
