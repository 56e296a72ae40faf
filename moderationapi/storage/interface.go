package storage

import (
	"context"
	"time"

	"github.com/marginalia-wiki/marginalia/moderationapi/storage/tables"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

// Database is the moderation store. All state transitions are
// conditional single-statement writes: the bool results report whether
// the row was actually in a state that allowed the transition.
type Database interface {
	InsertChange(ctx context.Context, change *types.PendingChange) error
	UpdateChangeInPlace(ctx context.Context, id int64, upd tables.PendingUpdate) (bool, error)
	GetChange(ctx context.Context, id int64) (*types.PendingChange, error)
	FindPreloadable(ctx context.Context, preloadKey string, target types.TargetRef) (*types.PendingChange, error)
	PendingByAuthor(ctx context.Context, author types.UserRef) ([]*types.PendingChange, error)
	ListChanges(ctx context.Context, rejected bool, limit int) ([]*types.PendingChange, error)
	LatestPendingTimestamp(ctx context.Context) (time.Time, error)
	DeleteChange(ctx context.Context, id int64) (bool, error)

	MarkRejected(ctx context.Context, id int64, by types.UserRef, batch bool, ts time.Time) (bool, error)
	MarkBatchRejectedByAuthor(ctx context.Context, author types.UserRef, by types.UserRef, ts time.Time) (int64, error)
	MarkConflict(ctx context.Context, id int64) (bool, error)
	MarkMerged(ctx context.Context, id int64, revision int64) (bool, error)

	BlockAuthor(ctx context.Context, author types.UserRef, by types.UserRef, ts time.Time) (bool, error)
	UnblockAuthor(ctx context.Context, author types.UserRef) (bool, error)
	IsAuthorBlocked(ctx context.Context, author types.UserRef) (bool, error)

	AddLogEntry(ctx context.Context, entry *types.LogEntry) error
	RecentLogEntries(ctx context.Context, limit int) ([]*types.LogEntry, error)
}
