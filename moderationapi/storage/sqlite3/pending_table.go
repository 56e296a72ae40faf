package sqlite3

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/marginalia-wiki/marginalia/internal/sqlutil"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage/tables"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

const pendingSchema = `
CREATE TABLE IF NOT EXISTS moderation_pending (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    author_id INTEGER NOT NULL,
    author_name TEXT NOT NULL,
    namespace INTEGER NOT NULL,
    title TEXT NOT NULL,
    dest_namespace INTEGER NOT NULL DEFAULT 0,
    dest_title TEXT NOT NULL DEFAULT '',
    base_revision INTEGER NOT NULL,
    content TEXT NOT NULL,
    old_length INTEGER NOT NULL,
    new_length INTEGER NOT NULL,
    summary TEXT NOT NULL,
    minor_edit BOOLEAN NOT NULL DEFAULT 0,
    bot_edit BOOLEAN NOT NULL DEFAULT 0,
    new_page BOOLEAN NOT NULL DEFAULT 0,
    submitted_ts INTEGER NOT NULL,
    rejected BOOLEAN NOT NULL DEFAULT 0,
    rejected_by_id INTEGER,
    rejected_by_name TEXT,
    rejected_auto BOOLEAN NOT NULL DEFAULT 0,
    rejected_batch BOOLEAN NOT NULL DEFAULT 0,
    rejected_ts INTEGER,
    conflict BOOLEAN NOT NULL DEFAULT 0,
    merged_revision INTEGER NOT NULL DEFAULT 0,
    preloadable BOOLEAN NOT NULL DEFAULT 1,
    preload_key TEXT NOT NULL,
    ip TEXT NOT NULL DEFAULT '',
    forwarded_for TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '',
    stash_key TEXT NOT NULL DEFAULT ''
);

-- At most one preloadable row per (identity, target). Racing inserts on
-- this index are converted by the builder into in-place updates.
CREATE UNIQUE INDEX IF NOT EXISTS moderation_pending_preload_idx
    ON moderation_pending(preload_key, namespace, title) WHERE preloadable;

CREATE INDEX IF NOT EXISTS moderation_pending_folder_idx
    ON moderation_pending(rejected, submitted_ts);

CREATE INDEX IF NOT EXISTS moderation_pending_author_idx
    ON moderation_pending(author_id, author_name);
`

const pendingColumns = `id, kind, author_id, author_name, namespace, title, dest_namespace, dest_title,
	base_revision, content, old_length, new_length, summary, minor_edit, bot_edit, new_page,
	submitted_ts, rejected, rejected_by_id, rejected_by_name, rejected_auto, rejected_batch, rejected_ts,
	conflict, merged_revision, preloadable, preload_key, ip, forwarded_for, user_agent, tags, stash_key`

const insertPendingSQL = `INSERT INTO moderation_pending (kind, author_id, author_name, namespace, title,
	dest_namespace, dest_title, base_revision, content, old_length, new_length, summary,
	minor_edit, bot_edit, new_page, submitted_ts, rejected, rejected_by_id, rejected_by_name,
	rejected_auto, rejected_batch, rejected_ts, conflict, merged_revision, preloadable, preload_key,
	ip, forwarded_for, user_agent, tags, stash_key)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
	$20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)`

const updatePendingContentSQL = `UPDATE moderation_pending
	SET content = ?2, new_length = ?3, summary = ?4, submitted_ts = ?5, minor_edit = ?6, bot_edit = ?7,
	    ip = ?8, forwarded_for = ?9, user_agent = ?10, tags = ?11
	WHERE id = ?1 AND preloadable AND merged_revision = 0`

const selectPendingByIDSQL = "SELECT " + pendingColumns + " FROM moderation_pending WHERE id = $1"

const selectPreloadableSQL = "SELECT " + pendingColumns + ` FROM moderation_pending
	WHERE preload_key = $1 AND namespace = $2 AND title = $3 AND preloadable`

const selectPendingByAuthorSQL = "SELECT " + pendingColumns + ` FROM moderation_pending
	WHERE author_id = $1 AND author_name = $2
	  AND NOT rejected AND NOT conflict AND merged_revision = 0
	ORDER BY id ASC`

const selectPendingListSQL = "SELECT " + pendingColumns + ` FROM moderation_pending
	WHERE rejected = $1 AND merged_revision = 0
	ORDER BY submitted_ts DESC, id DESC
	LIMIT $2`

const selectLatestPendingTimestampSQL = `SELECT MAX(submitted_ts) FROM moderation_pending WHERE NOT rejected`

const deletePendingSQL = "DELETE FROM moderation_pending WHERE id = $1"

const markRejectedSQL = `UPDATE moderation_pending
	SET rejected = 1, rejected_by_id = ?2, rejected_by_name = ?3, rejected_batch = ?4,
	    rejected_ts = ?5, preloadable = 0
	WHERE id = ?1 AND NOT rejected AND merged_revision = 0`

const markBatchRejectedSQL = `UPDATE moderation_pending
	SET rejected = 1, rejected_by_id = ?3, rejected_by_name = ?4, rejected_batch = 1,
	    rejected_ts = ?5, preloadable = 0
	WHERE author_id = ?1 AND author_name = ?2
	  AND NOT rejected AND NOT conflict AND merged_revision = 0`

const markConflictSQL = `UPDATE moderation_pending
	SET conflict = 1
	WHERE id = $1 AND NOT conflict AND merged_revision = 0`

const markMergedSQL = `UPDATE moderation_pending
	SET merged_revision = ?2, preloadable = 0
	WHERE id = ?1 AND conflict AND merged_revision = 0`

type pendingStatements struct {
	db                               *sql.DB
	insertPendingStmt                *sql.Stmt
	updatePendingContentStmt         *sql.Stmt
	selectPendingByIDStmt            *sql.Stmt
	selectPreloadableStmt            *sql.Stmt
	selectPendingByAuthorStmt        *sql.Stmt
	selectPendingListStmt            *sql.Stmt
	selectLatestPendingTimestampStmt *sql.Stmt
	deletePendingStmt                *sql.Stmt
	markRejectedStmt                 *sql.Stmt
	markBatchRejectedStmt            *sql.Stmt
	markConflictStmt                 *sql.Stmt
	markMergedStmt                   *sql.Stmt
}

func NewSQLitePendingTable(db *sql.DB) (tables.Pending, error) {
	if _, err := db.Exec(pendingSchema); err != nil {
		return nil, err
	}
	s := &pendingStatements{db: db}
	return s, sqlutil.StatementList{
		{&s.insertPendingStmt, insertPendingSQL},
		{&s.updatePendingContentStmt, updatePendingContentSQL},
		{&s.selectPendingByIDStmt, selectPendingByIDSQL},
		{&s.selectPreloadableStmt, selectPreloadableSQL},
		{&s.selectPendingByAuthorStmt, selectPendingByAuthorSQL},
		{&s.selectPendingListStmt, selectPendingListSQL},
		{&s.selectLatestPendingTimestampStmt, selectLatestPendingTimestampSQL},
		{&s.deletePendingStmt, deletePendingSQL},
		{&s.markRejectedStmt, markRejectedSQL},
		{&s.markBatchRejectedStmt, markBatchRejectedSQL},
		{&s.markConflictStmt, markConflictSQL},
		{&s.markMergedStmt, markMergedSQL},
	}.Prepare(db)
}

func (s *pendingStatements) InsertPending(
	ctx context.Context, txn *sql.Tx, change *types.PendingChange,
) (int64, error) {
	stmt := sqlutil.TxStmt(txn, s.insertPendingStmt)
	// SQLite doesn't support RETURNING, so use the rowid instead
	result, err := stmt.ExecContext(ctx, insertPendingArgs(change)...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *pendingStatements) UpdatePendingContent(
	ctx context.Context, txn *sql.Tx, id int64, upd tables.PendingUpdate,
) (bool, error) {
	stmt := sqlutil.TxStmt(txn, s.updatePendingContentStmt)
	result, err := stmt.ExecContext(ctx, id,
		upd.Content, upd.NewLength, upd.Summary, upd.Timestamp.UTC().UnixMilli(),
		upd.MinorEdit, upd.BotEdit, upd.IP, upd.ForwardedFor, upd.UserAgent,
		joinTags(upd.Tags),
	)
	if err != nil {
		return false, err
	}
	return changedAnyRows(result)
}

func (s *pendingStatements) SelectPendingByID(
	ctx context.Context, txn *sql.Tx, id int64,
) (*types.PendingChange, error) {
	stmt := sqlutil.TxStmt(txn, s.selectPendingByIDStmt)
	return scanPendingChange(stmt.QueryRowContext(ctx, id))
}

func (s *pendingStatements) SelectPreloadable(
	ctx context.Context, txn *sql.Tx, preloadKey string, target types.TargetRef,
) (*types.PendingChange, error) {
	stmt := sqlutil.TxStmt(txn, s.selectPreloadableStmt)
	return scanPendingChange(stmt.QueryRowContext(ctx, preloadKey, target.Namespace, target.Title))
}

func (s *pendingStatements) SelectPendingByAuthor(
	ctx context.Context, txn *sql.Tx, author types.UserRef,
) ([]*types.PendingChange, error) {
	stmt := sqlutil.TxStmt(txn, s.selectPendingByAuthorStmt)
	rows, err := stmt.QueryContext(ctx, author.ID, author.Name)
	if err != nil {
		return nil, err
	}
	defer sqlutil.CloseAndLogIfError(ctx, rows, "SelectPendingByAuthor: rows.close() failed")
	return scanPendingChanges(rows)
}

func (s *pendingStatements) SelectPendingList(
	ctx context.Context, txn *sql.Tx, rejected bool, limit int,
) ([]*types.PendingChange, error) {
	stmt := sqlutil.TxStmt(txn, s.selectPendingListStmt)
	rows, err := stmt.QueryContext(ctx, rejected, limit)
	if err != nil {
		return nil, err
	}
	defer sqlutil.CloseAndLogIfError(ctx, rows, "SelectPendingList: rows.close() failed")
	return scanPendingChanges(rows)
}

func (s *pendingStatements) SelectLatestPendingTimestamp(
	ctx context.Context, txn *sql.Tx,
) (time.Time, error) {
	stmt := sqlutil.TxStmt(txn, s.selectLatestPendingTimestampStmt)
	var ts sql.NullInt64
	if err := stmt.QueryRowContext(ctx).Scan(&ts); err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), nil
}

func (s *pendingStatements) DeletePending(
	ctx context.Context, txn *sql.Tx, id int64,
) (bool, error) {
	stmt := sqlutil.TxStmt(txn, s.deletePendingStmt)
	result, err := stmt.ExecContext(ctx, id)
	if err != nil {
		return false, err
	}
	return changedAnyRows(result)
}

func (s *pendingStatements) MarkRejected(
	ctx context.Context, txn *sql.Tx, id int64, by types.UserRef, batch bool, ts time.Time,
) (bool, error) {
	stmt := sqlutil.TxStmt(txn, s.markRejectedStmt)
	result, err := stmt.ExecContext(ctx, id, by.ID, by.Name, batch, ts.UTC().UnixMilli())
	if err != nil {
		return false, err
	}
	return changedAnyRows(result)
}

func (s *pendingStatements) MarkBatchRejectedByAuthor(
	ctx context.Context, txn *sql.Tx, author types.UserRef, by types.UserRef, ts time.Time,
) (int64, error) {
	stmt := sqlutil.TxStmt(txn, s.markBatchRejectedStmt)
	result, err := stmt.ExecContext(ctx, author.ID, author.Name, by.ID, by.Name, ts.UTC().UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *pendingStatements) MarkConflict(
	ctx context.Context, txn *sql.Tx, id int64,
) (bool, error) {
	stmt := sqlutil.TxStmt(txn, s.markConflictStmt)
	result, err := stmt.ExecContext(ctx, id)
	if err != nil {
		return false, err
	}
	return changedAnyRows(result)
}

func (s *pendingStatements) MarkMerged(
	ctx context.Context, txn *sql.Tx, id int64, revision int64,
) (bool, error) {
	stmt := sqlutil.TxStmt(txn, s.markMergedStmt)
	result, err := stmt.ExecContext(ctx, id, revision)
	if err != nil {
		return false, err
	}
	return changedAnyRows(result)
}

func changedAnyRows(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func insertPendingArgs(c *types.PendingChange) []interface{} {
	var rejectedByID, rejectedTS sql.NullInt64
	var rejectedByName sql.NullString
	if c.RejectedBy != nil {
		rejectedByID = sql.NullInt64{Int64: c.RejectedBy.ID, Valid: true}
		rejectedByName = sql.NullString{String: c.RejectedBy.Name, Valid: true}
	}
	if c.RejectedAt != nil {
		rejectedTS = sql.NullInt64{Int64: c.RejectedAt.UTC().UnixMilli(), Valid: true}
	}
	return []interface{}{
		string(c.Kind), c.Author.ID, c.Author.Name, c.Target.Namespace, c.Target.Title,
		c.Dest.Namespace, c.Dest.Title, c.BaseRevision, c.Content, c.OldLength, c.NewLength,
		c.Summary, c.MinorEdit, c.BotEdit, c.NewPage, c.Timestamp.UTC().UnixMilli(),
		c.Rejected, rejectedByID, rejectedByName, c.RejectedAuto, c.RejectedBatch, rejectedTS,
		c.Conflict, c.MergedRevision, c.Preloadable, c.PreloadKey,
		c.IP, c.ForwardedFor, c.UserAgent, joinTags(c.Tags), c.StashKey,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPendingChange(row rowScanner) (*types.PendingChange, error) {
	var (
		c              types.PendingChange
		kind           string
		submittedTS    int64
		rejectedByID   sql.NullInt64
		rejectedByName sql.NullString
		rejectedTS     sql.NullInt64
		tags           string
	)
	err := row.Scan(
		&c.ID, &kind, &c.Author.ID, &c.Author.Name, &c.Target.Namespace, &c.Target.Title,
		&c.Dest.Namespace, &c.Dest.Title, &c.BaseRevision, &c.Content, &c.OldLength, &c.NewLength,
		&c.Summary, &c.MinorEdit, &c.BotEdit, &c.NewPage, &submittedTS,
		&c.Rejected, &rejectedByID, &rejectedByName, &c.RejectedAuto, &c.RejectedBatch, &rejectedTS,
		&c.Conflict, &c.MergedRevision, &c.Preloadable, &c.PreloadKey,
		&c.IP, &c.ForwardedFor, &c.UserAgent, &tags, &c.StashKey,
	)
	if err != nil {
		return nil, err
	}
	c.Kind = types.ChangeKind(kind)
	c.Timestamp = time.UnixMilli(submittedTS).UTC()
	if rejectedByID.Valid {
		c.RejectedBy = &types.UserRef{ID: rejectedByID.Int64, Name: rejectedByName.String}
	}
	if rejectedTS.Valid {
		t := time.UnixMilli(rejectedTS.Int64).UTC()
		c.RejectedAt = &t
	}
	c.Tags = splitTags(tags)
	return &c, nil
}

func scanPendingChanges(rows *sql.Rows) ([]*types.PendingChange, error) {
	var result []*types.PendingChange
	for rows.Next() {
		change, err := scanPendingChange(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, change)
	}
	return result, rows.Err()
}

func joinTags(tags []string) string {
	return strings.Join(tags, "\n")
}

func splitTags(tags string) []string {
	if tags == "" {
		return nil
	}
	return strings.Split(tags, "\n")
}
