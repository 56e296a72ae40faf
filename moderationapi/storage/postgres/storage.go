package postgres

import (
	"context"

	"github.com/marginalia-wiki/marginalia/internal/sqlutil"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage/postgres/deltas"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage/shared"
	"github.com/marginalia-wiki/marginalia/setup/config"
	_ "github.com/lib/pq"
)

// NewDatabase opens a postgres moderation database.
func NewDatabase(conMan *sqlutil.Connections, dbProperties *config.DatabaseOptions) (*shared.Database, error) {
	db, writer, err := conMan.Connection(dbProperties)
	if err != nil {
		return nil, err
	}
	pending, err := NewPostgresPendingTable(db)
	if err != nil {
		return nil, err
	}
	blocks, err := NewPostgresBlocksTable(db)
	if err != nil {
		return nil, err
	}
	auditLog, err := NewPostgresAuditLogTable(db)
	if err != nil {
		return nil, err
	}
	m := sqlutil.NewMigrator(db)
	m.AddMigrations(sqlutil.Migration{
		Version: "moderationapi: pending provenance columns",
		Up:      deltas.UpPendingProvenance,
		Down:    deltas.DownPendingProvenance,
	})
	if err := m.Up(context.Background()); err != nil {
		return nil, err
	}
	return &shared.Database{
		DB:       db,
		Writer:   writer,
		Pending:  pending,
		Blocks:   blocks,
		AuditLog: auditLog,
	}, nil
}
