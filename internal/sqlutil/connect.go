package sqlutil

import (
	"database/sql"
	"fmt"

	"github.com/marginalia-wiki/marginalia/setup/config"
)

// Connections hands out database connections, reusing the global
// connection pool when a component does not configure its own database.
type Connections struct {
	globalConfig config.DatabaseOptions
	db           *sql.DB
	writer       Writer
}

func NewConnectionManager(globalConfig config.DatabaseOptions) *Connections {
	return &Connections{
		globalConfig: globalConfig,
	}
}

// Connection opens (or reuses) a database for the given options. If the
// component options carry no connection string, the global database is
// shared instead.
func (c *Connections) Connection(dbProperties *config.DatabaseOptions) (*sql.DB, Writer, error) {
	if dbProperties.ConnectionString == "" {
		if c.globalConfig.ConnectionString == "" {
			return nil, nil, fmt.Errorf("no database connections configured")
		}
		dbProperties = &c.globalConfig
	}
	if c.db != nil && dbProperties.ConnectionString == c.globalConfig.ConnectionString {
		return c.db, c.writer, nil
	}
	db, writer, err := Open(dbProperties)
	if err != nil {
		return nil, nil, err
	}
	if dbProperties.ConnectionString == c.globalConfig.ConnectionString {
		c.db, c.writer = db, writer
	}
	return db, writer, nil
}

// Open a database handle for the given options. SQLite connections are
// capped to a single connection and get an exclusive writer.
func Open(dbProperties *config.DatabaseOptions) (*sql.DB, Writer, error) {
	var driverName string
	var writer Writer
	cs := string(dbProperties.ConnectionString)
	switch {
	case dbProperties.ConnectionString.IsSQLite():
		driverName = "sqlite3"
		writer = NewExclusiveWriter()
		cs = sqliteDSN(cs)
	case dbProperties.ConnectionString.IsPostgres():
		driverName = "postgres"
		writer = NewDummyWriter()
	default:
		return nil, nil, fmt.Errorf("unexpected database type: %s", dbProperties.ConnectionString)
	}
	db, err := sql.Open(driverName, cs)
	if err != nil {
		return nil, nil, err
	}
	if driverName == "sqlite3" {
		// A single connection stops SQLITE_BUSY surfacing from
		// overlapping writes on separate connections.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if dbProperties.MaxOpenConns() > 0 {
			db.SetMaxOpenConns(dbProperties.MaxOpenConns())
		}
		if dbProperties.MaxIdleConns() > 0 {
			db.SetMaxIdleConns(dbProperties.MaxIdleConns())
		}
		db.SetConnMaxLifetime(dbProperties.ConnMaxLifetime())
	}
	return db, writer, nil
}

// sqliteDSN enables foreign keys and a sane busy timeout on file: URIs
// that do not already carry query parameters.
func sqliteDSN(cs string) string {
	if len(cs) > len("file:") {
		for _, r := range cs {
			if r == '?' {
				return cs
			}
		}
	}
	return cs + "?_busy_timeout=10000&_fk=on"
}
