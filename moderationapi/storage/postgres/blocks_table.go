package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/marginalia-wiki/marginalia/internal/sqlutil"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage/tables"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

const blocksSchema = `
CREATE TABLE IF NOT EXISTS moderation_blocks (
    author_id BIGINT NOT NULL,
    author_name TEXT NOT NULL,
    blocked_by_id BIGINT NOT NULL,
    blocked_by_name TEXT NOT NULL,
    blocked_ts BIGINT NOT NULL,
    PRIMARY KEY (author_id, author_name)
);
`

const insertBlockSQL = `INSERT INTO moderation_blocks
	(author_id, author_name, blocked_by_id, blocked_by_name, blocked_ts)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (author_id, author_name) DO NOTHING`

const deleteBlockSQL = "DELETE FROM moderation_blocks WHERE author_id = $1 AND author_name = $2"

const selectBlockedSQL = "SELECT 1 FROM moderation_blocks WHERE author_id = $1 AND author_name = $2"

type blocksStatements struct {
	insertBlockStmt   *sql.Stmt
	deleteBlockStmt   *sql.Stmt
	selectBlockedStmt *sql.Stmt
}

func NewPostgresBlocksTable(db *sql.DB) (tables.Blocks, error) {
	if _, err := db.Exec(blocksSchema); err != nil {
		return nil, err
	}
	s := &blocksStatements{}
	return s, sqlutil.StatementList{
		{&s.insertBlockStmt, insertBlockSQL},
		{&s.deleteBlockStmt, deleteBlockSQL},
		{&s.selectBlockedStmt, selectBlockedSQL},
	}.Prepare(db)
}

func (s *blocksStatements) InsertBlock(
	ctx context.Context, txn *sql.Tx, author types.UserRef, by types.UserRef, ts time.Time,
) (bool, error) {
	stmt := sqlutil.TxStmt(txn, s.insertBlockStmt)
	result, err := stmt.ExecContext(ctx, author.ID, author.Name, by.ID, by.Name, ts.UTC().UnixMilli())
	if err != nil {
		return false, err
	}
	return changedAnyRows(result)
}

func (s *blocksStatements) DeleteBlock(
	ctx context.Context, txn *sql.Tx, author types.UserRef,
) (bool, error) {
	stmt := sqlutil.TxStmt(txn, s.deleteBlockStmt)
	result, err := stmt.ExecContext(ctx, author.ID, author.Name)
	if err != nil {
		return false, err
	}
	return changedAnyRows(result)
}

func (s *blocksStatements) SelectBlocked(
	ctx context.Context, txn *sql.Tx, author types.UserRef,
) (bool, error) {
	stmt := sqlutil.TxStmt(txn, s.selectBlockedStmt)
	var one int
	err := stmt.QueryRowContext(ctx, author.ID, author.Name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
