package config

import (
	"strings"
	"time"
)

// DataSource is a database connection string, either a file: URI for
// SQLite or a postgres:// / postgresql:// URI for PostgreSQL.
type DataSource string

func (d DataSource) IsSQLite() bool {
	return strings.HasPrefix(string(d), "file:")
}

func (d DataSource) IsPostgres() bool {
	return strings.HasPrefix(string(d), "postgres:") ||
		strings.HasPrefix(string(d), "postgresql:")
}

type DatabaseOptions struct {
	// The connection string, file:filename.db or postgres://server....
	ConnectionString DataSource `yaml:"connection_string"`
	// Maximum open connections to the DB (0 = use default, negative means unlimited)
	MaxOpenConnections int `yaml:"max_open_conns"`
	// Maximum idle connections to the DB (0 = use default, negative means unlimited)
	MaxIdleConnections int `yaml:"max_idle_conns"`
	// maximum amount of time (in seconds) a connection may be reused
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime"`
}

func (d *DatabaseOptions) Defaults(conns int) {
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = conns
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 2
	}
	if d.ConnMaxLifetimeSeconds == 0 {
		d.ConnMaxLifetimeSeconds = -1
	}
}

// MaxIdleConns returns maximum idle connections to the DB
func (d DatabaseOptions) MaxIdleConns() int {
	return d.MaxIdleConnections
}

// MaxOpenConns returns maximum open connections to the DB
func (d DatabaseOptions) MaxOpenConns() int {
	return d.MaxOpenConnections
}

// ConnMaxLifetime returns maximum amount of time a connection may be reused
func (d DatabaseOptions) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetimeSeconds) * time.Second
}
