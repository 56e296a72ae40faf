package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/marginalia-wiki/marginalia/internal/sqlutil"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage/tables"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

const auditLogSchema = `
CREATE TABLE IF NOT EXISTS moderation_audit_log (
    id BIGSERIAL PRIMARY KEY,
    action TEXT NOT NULL,
    reviewer_id BIGINT NOT NULL,
    reviewer_name TEXT NOT NULL,
    namespace INTEGER NOT NULL,
    title TEXT NOT NULL,
    change_id BIGINT NOT NULL DEFAULT 0,
    revision_id BIGINT NOT NULL DEFAULT 0,
    ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS moderation_audit_log_ts_idx ON moderation_audit_log(ts DESC, id DESC);
`

const insertLogEntrySQL = `INSERT INTO moderation_audit_log
	(action, reviewer_id, reviewer_name, namespace, title, change_id, revision_id, ts)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id`

const selectRecentLogEntriesSQL = `SELECT id, action, reviewer_id, reviewer_name, namespace, title,
	change_id, revision_id, ts
	FROM moderation_audit_log ORDER BY ts DESC, id DESC LIMIT $1`

type auditLogStatements struct {
	insertLogEntryStmt         *sql.Stmt
	selectRecentLogEntriesStmt *sql.Stmt
}

func NewPostgresAuditLogTable(db *sql.DB) (tables.AuditLog, error) {
	if _, err := db.Exec(auditLogSchema); err != nil {
		return nil, err
	}
	s := &auditLogStatements{}
	return s, sqlutil.StatementList{
		{&s.insertLogEntryStmt, insertLogEntrySQL},
		{&s.selectRecentLogEntriesStmt, selectRecentLogEntriesSQL},
	}.Prepare(db)
}

func (s *auditLogStatements) InsertLogEntry(
	ctx context.Context, txn *sql.Tx, entry *types.LogEntry,
) (int64, error) {
	stmt := sqlutil.TxStmt(txn, s.insertLogEntryStmt)
	var id int64
	err := stmt.QueryRowContext(ctx,
		string(entry.Action), entry.Reviewer.ID, entry.Reviewer.Name,
		entry.Target.Namespace, entry.Target.Title,
		entry.ChangeID, entry.RevisionID, entry.Timestamp.UTC().UnixMilli(),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *auditLogStatements) SelectRecentLogEntries(
	ctx context.Context, txn *sql.Tx, limit int,
) ([]*types.LogEntry, error) {
	stmt := sqlutil.TxStmt(txn, s.selectRecentLogEntriesStmt)
	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, err
	}
	defer sqlutil.CloseAndLogIfError(ctx, rows, "SelectRecentLogEntries: rows.close() failed")
	var result []*types.LogEntry
	for rows.Next() {
		var (
			entry  types.LogEntry
			action string
			ts     int64
		)
		if err := rows.Scan(&entry.ID, &action, &entry.Reviewer.ID, &entry.Reviewer.Name,
			&entry.Target.Namespace, &entry.Target.Title,
			&entry.ChangeID, &entry.RevisionID, &ts); err != nil {
			return nil, err
		}
		entry.Action = types.LogAction(action)
		entry.Timestamp = time.UnixMilli(ts).UTC()
		result = append(result, &entry)
	}
	return result, rows.Err()
}
