package storage

import (
	"fmt"

	"github.com/marginalia-wiki/marginalia/internal/sqlutil"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage/postgres"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage/sqlite3"
	"github.com/marginalia-wiki/marginalia/setup/config"
)

// NewModerationDatabase opens a database connection to the moderation store.
func NewModerationDatabase(conMan *sqlutil.Connections, dbProperties *config.DatabaseOptions) (Database, error) {
	switch {
	case dbProperties.ConnectionString.IsSQLite():
		return sqlite3.NewDatabase(conMan, dbProperties)
	case dbProperties.ConnectionString.IsPostgres():
		return postgres.NewDatabase(conMan, dbProperties)
	default:
		return nil, fmt.Errorf("unexpected database type: %s", dbProperties.ConnectionString)
	}
}
