package tables

import (
	"context"
	"database/sql"
	"time"

	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

// PendingUpdate is the set of fields replaced when a later edit by the
// same author folds into an existing preloadable row.
type PendingUpdate struct {
	Content      string
	NewLength    int64
	Summary      string
	Timestamp    time.Time
	MinorEdit    bool
	BotEdit      bool
	IP           string
	ForwardedFor string
	UserAgent    string
	Tags         []string
}

// Pending is the moderation queue table. All state transitions are
// single-statement conditional updates so that two racing reviewers
// cannot both win: the loser sees "zero rows changed".
type Pending interface {
	// InsertPending inserts a fully built row and returns its id.
	// A unique-violation on the preloadable index is returned as-is for
	// the caller to convert into an update.
	InsertPending(ctx context.Context, txn *sql.Tx, change *types.PendingChange) (int64, error)

	// UpdatePendingContent replaces the queued content of a preloadable
	// row in place. Returns false if the row is gone or not preloadable
	// any more.
	UpdatePendingContent(ctx context.Context, txn *sql.Tx, id int64, upd PendingUpdate) (bool, error)

	// SelectPendingByID loads one row, or sql.ErrNoRows.
	SelectPendingByID(ctx context.Context, txn *sql.Tx, id int64) (*types.PendingChange, error)

	// SelectPreloadable finds the single preloadable row for an
	// (identity, target) pair, or sql.ErrNoRows.
	SelectPreloadable(ctx context.Context, txn *sql.Tx, preloadKey string, target types.TargetRef) (*types.PendingChange, error)

	// SelectPendingByAuthor snapshots the author's currently pending
	// rows (not rejected, not conflicting, not merged) in submission
	// order. Batches iterate this snapshot only.
	SelectPendingByAuthor(ctx context.Context, txn *sql.Tx, author types.UserRef) ([]*types.PendingChange, error)

	// SelectPendingList lists rows for the pending or rejected folder,
	// newest first with an explicit id tie-break.
	SelectPendingList(ctx context.Context, txn *sql.Tx, rejected bool, limit int) ([]*types.PendingChange, error)

	// SelectLatestPendingTimestamp returns the newest submission time
	// among non-rejected rows, or zero time when the queue is empty.
	SelectLatestPendingTimestamp(ctx context.Context, txn *sql.Tx) (time.Time, error)

	// DeletePending removes a row, reporting whether it still existed.
	DeletePending(ctx context.Context, txn *sql.Tx, id int64) (bool, error)

	// MarkRejected transitions a non-rejected, non-merged row to
	// rejected. Manual rejections also clear preloadability; automatic
	// ones keep it so blocked authors cannot probe for the block.
	MarkRejected(ctx context.Context, txn *sql.Tx, id int64, by types.UserRef, batch bool, ts time.Time) (bool, error)

	// MarkBatchRejectedByAuthor rejects the author's whole pending set
	// in one statement, returning how many rows changed.
	MarkBatchRejectedByAuthor(ctx context.Context, txn *sql.Tx, author types.UserRef, by types.UserRef, ts time.Time) (int64, error)

	// MarkConflict transitions a live row to the conflict state.
	MarkConflict(ctx context.Context, txn *sql.Tx, id int64) (bool, error)

	// MarkMerged records the revision a reviewer merged the row into.
	// Only conflicting, unmerged rows qualify.
	MarkMerged(ctx context.Context, txn *sql.Tx, id int64, revision int64) (bool, error)
}

// Blocks is the standing author-block list consulted by the builder.
type Blocks interface {
	// InsertBlock is idempotent: blocking an already blocked author
	// reports false with no error.
	InsertBlock(ctx context.Context, txn *sql.Tx, author types.UserRef, by types.UserRef, ts time.Time) (bool, error)
	// DeleteBlock is idempotent in the same way.
	DeleteBlock(ctx context.Context, txn *sql.Tx, author types.UserRef) (bool, error)
	SelectBlocked(ctx context.Context, txn *sql.Tx, author types.UserRef) (bool, error)
}

// AuditLog records every reviewer action.
type AuditLog interface {
	InsertLogEntry(ctx context.Context, txn *sql.Tx, entry *types.LogEntry) (int64, error)
	SelectRecentLogEntries(ctx context.Context, txn *sql.Tx, limit int) ([]*types.LogEntry, error)
}
