// Package test contains shared helpers for exercising storage against
// every supported database backend.
package test

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/lib/pq"

	"github.com/marginalia-wiki/marginalia/setup/config"
)

type DBType int

const (
	DBTypeSQLite DBType = iota
	DBTypePostgres
)

// PostgresEnvVar names the connection string used for the optional
// postgres run. Without it only sqlite is exercised.
const PostgresEnvVar = "MARGINALIA_TEST_POSTGRES_URI"

// PrepareDBConnectionString returns a connection string for the given
// database type, plus a close function which wipes whatever was
// created.
func PrepareDBConnectionString(t *testing.T, dbType DBType) (config.DataSource, func()) {
	t.Helper()

	if dbType == DBTypeSQLite {
		dbName := filepath.Join(t.TempDir(), "test.db")
		return config.DataSource(fmt.Sprintf("file:%s", dbName)), func() {
			_ = os.Remove(dbName)
		}
	}

	baseURI := os.Getenv(PostgresEnvVar)
	if baseURI == "" {
		t.Skipf("set %s to run postgres tests", PostgresEnvVar)
	}

	// Create a throwaway database so parallel packages don't collide.
	dbName := fmt.Sprintf("marginalia_test_%d", rand.Int63()) // nolint:gosec
	db, err := sql.Open("postgres", baseURI)
	if err != nil {
		t.Fatalf("failed to connect to postgres: %s", err)
	}
	if _, err = db.Exec(fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))); err != nil {
		t.Fatalf("failed to create test database: %s", err)
	}

	connStr := fmt.Sprintf("%s dbname=%s", baseURI, dbName)
	return config.DataSource(connStr), func() {
		_, _ = db.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s", pq.QuoteIdentifier(dbName)))
		_ = db.Close()
	}
}

// WithAllDatabases runs the given test twice, once per database
// backend. Postgres is skipped unless configured in the environment.
func WithAllDatabases(t *testing.T, testFn func(t *testing.T, dbType DBType)) {
	dbs := map[string]DBType{
		"sqlite":   DBTypeSQLite,
		"postgres": DBTypePostgres,
	}
	for name, dbType := range dbs {
		dbt := dbType
		t.Run(name, func(tt *testing.T) {
			tt.Parallel()
			testFn(tt, dbt)
		})
	}
}
