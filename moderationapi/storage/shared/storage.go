package shared

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/marginalia-wiki/marginalia/internal/sqlutil"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage/tables"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

// Database combines the moderation tables over either backend. Writes go
// through the Writer so SQLite sees at most one writer at a time.
type Database struct {
	DB       *sql.DB
	Writer   sqlutil.Writer
	Pending  tables.Pending
	Blocks   tables.Blocks
	AuditLog tables.AuditLog
}

// InsertChange stores a fully built pending change and fills in its id.
// A unique violation on the preloadable index is returned untranslated
// for the builder to recover from.
func (d *Database) InsertChange(ctx context.Context, change *types.PendingChange) error {
	return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		id, err := d.Pending.InsertPending(ctx, txn, change)
		if err != nil {
			return err
		}
		change.ID = id
		return nil
	})
}

// UpdateChangeInPlace folds a newer edit into an existing preloadable row.
func (d *Database) UpdateChangeInPlace(ctx context.Context, id int64, upd tables.PendingUpdate) (bool, error) {
	var updated bool
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		var err error
		updated, err = d.Pending.UpdatePendingContent(ctx, txn, id, upd)
		return err
	})
	return updated, err
}

// GetChange loads one row. Returns nil without error when the row does
// not exist; approval callers translate that into their not-found error.
func (d *Database) GetChange(ctx context.Context, id int64) (*types.PendingChange, error) {
	change, err := d.Pending.SelectPendingByID(ctx, nil, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return change, err
}

// FindPreloadable returns the author's still-pending edit on this page,
// or nil.
func (d *Database) FindPreloadable(ctx context.Context, preloadKey string, target types.TargetRef) (*types.PendingChange, error) {
	change, err := d.Pending.SelectPreloadable(ctx, nil, preloadKey, target)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return change, err
}

// PendingByAuthor snapshots the author's currently pending set in
// submission order. Rows queued after the snapshot is taken are not
// part of the batch.
func (d *Database) PendingByAuthor(ctx context.Context, author types.UserRef) ([]*types.PendingChange, error) {
	return d.Pending.SelectPendingByAuthor(ctx, nil, author)
}

// ListChanges returns the pending or rejected folder, newest first.
func (d *Database) ListChanges(ctx context.Context, rejected bool, limit int) ([]*types.PendingChange, error) {
	return d.Pending.SelectPendingList(ctx, nil, rejected, limit)
}

// LatestPendingTimestamp is the newest submission time across the
// pending folder, for the "new pending changes" indicator.
func (d *Database) LatestPendingTimestamp(ctx context.Context) (time.Time, error) {
	return d.Pending.SelectLatestPendingTimestamp(ctx, nil)
}

// DeleteChange removes a row, reporting whether it still existed. The
// second of two concurrent approvals sees false here.
func (d *Database) DeleteChange(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		var err error
		deleted, err = d.Pending.DeletePending(ctx, txn, id)
		return err
	})
	return deleted, err
}

func (d *Database) MarkRejected(ctx context.Context, id int64, by types.UserRef, batch bool, ts time.Time) (bool, error) {
	var changed bool
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		var err error
		changed, err = d.Pending.MarkRejected(ctx, txn, id, by, batch, ts)
		return err
	})
	return changed, err
}

func (d *Database) MarkBatchRejectedByAuthor(ctx context.Context, author types.UserRef, by types.UserRef, ts time.Time) (int64, error) {
	var changed int64
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		var err error
		changed, err = d.Pending.MarkBatchRejectedByAuthor(ctx, txn, author, by, ts)
		return err
	})
	return changed, err
}

func (d *Database) MarkConflict(ctx context.Context, id int64) (bool, error) {
	var changed bool
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		var err error
		changed, err = d.Pending.MarkConflict(ctx, txn, id)
		return err
	})
	return changed, err
}

func (d *Database) MarkMerged(ctx context.Context, id int64, revision int64) (bool, error) {
	var changed bool
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		var err error
		changed, err = d.Pending.MarkMerged(ctx, txn, id, revision)
		return err
	})
	return changed, err
}

// BlockAuthor is idempotent: blocking a blocked author reports changed
// == false with no error.
func (d *Database) BlockAuthor(ctx context.Context, author types.UserRef, by types.UserRef, ts time.Time) (bool, error) {
	var changed bool
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		var err error
		changed, err = d.Blocks.InsertBlock(ctx, txn, author, by, ts)
		return err
	})
	return changed, err
}

func (d *Database) UnblockAuthor(ctx context.Context, author types.UserRef) (bool, error) {
	var changed bool
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		var err error
		changed, err = d.Blocks.DeleteBlock(ctx, txn, author)
		return err
	})
	return changed, err
}

func (d *Database) IsAuthorBlocked(ctx context.Context, author types.UserRef) (bool, error) {
	return d.Blocks.SelectBlocked(ctx, nil, author)
}

func (d *Database) AddLogEntry(ctx context.Context, entry *types.LogEntry) error {
	return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		id, err := d.AuditLog.InsertLogEntry(ctx, txn, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		return nil
	})
}

func (d *Database) RecentLogEntries(ctx context.Context, limit int) ([]*types.LogEntry, error) {
	return d.AuditLog.SelectRecentLogEntries(ctx, nil, limit)
}
