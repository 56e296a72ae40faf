package consequence

import (
	"context"
	"time"

	"github.com/tidwall/sjson"

	"github.com/marginalia-wiki/marginalia/moderationapi/api"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage/tables"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

// InsertPending inserts a new queue row. Fills Result.RowID. A unique
// violation on the preloadable index propagates untranslated; the
// builder recovers by retrying as an update.
type InsertPending struct {
	Change *types.PendingChange
}

func (c InsertPending) Apply(ctx context.Context, deps *Deps) (Result, error) {
	if err := deps.DB.InsertChange(ctx, c.Change); err != nil {
		return Result{}, err
	}
	return Result{RowID: c.Change.ID}, nil
}

// UpdatePending folds newer content into an existing preloadable row.
// Fills Result.Changed.
type UpdatePending struct {
	ID     int64
	Update tables.PendingUpdate
}

func (c UpdatePending) Apply(ctx context.Context, deps *Deps) (Result, error) {
	changed, err := deps.DB.UpdateChangeInPlace(ctx, c.ID, c.Update)
	return Result{Changed: changed}, err
}

// DeletePending removes a row after approval. Fills Result.Changed;
// false means another reviewer already approved it.
type DeletePending struct {
	ID int64
}

func (c DeletePending) Apply(ctx context.Context, deps *Deps) (Result, error) {
	changed, err := deps.DB.DeleteChange(ctx, c.ID)
	return Result{Changed: changed}, err
}

// RejectOne marks a single row rejected. Fills Result.Changed.
type RejectOne struct {
	ID    int64
	By    types.UserRef
	Batch bool
	At    time.Time
}

func (c RejectOne) Apply(ctx context.Context, deps *Deps) (Result, error) {
	changed, err := deps.DB.MarkRejected(ctx, c.ID, c.By, c.Batch, c.At)
	return Result{Changed: changed}, err
}

// RejectBatch rejects the author's whole pending set. Fills Result.Count.
type RejectBatch struct {
	Author types.UserRef
	By     types.UserRef
	At     time.Time
}

func (c RejectBatch) Apply(ctx context.Context, deps *Deps) (Result, error) {
	count, err := deps.DB.MarkBatchRejectedByAuthor(ctx, c.Author, c.By, c.At)
	return Result{Count: count, Changed: count > 0}, err
}

// MarkAsConflict flags a row whose base revision went stale during
// approval. Fills Result.Changed.
type MarkAsConflict struct {
	ID int64
}

func (c MarkAsConflict) Apply(ctx context.Context, deps *Deps) (Result, error) {
	changed, err := deps.DB.MarkConflict(ctx, c.ID)
	return Result{Changed: changed}, err
}

// MarkAsMerged records the revision a reviewer merged a conflicting row
// into, making the row terminal. Fills Result.Changed.
type MarkAsMerged struct {
	ID       int64
	Revision int64
}

func (c MarkAsMerged) Apply(ctx context.Context, deps *Deps) (Result, error) {
	changed, err := deps.DB.MarkMerged(ctx, c.ID, c.Revision)
	return Result{Changed: changed}, err
}

// WriteLogEntry appends one audit-log row. Fills Result.RowID.
type WriteLogEntry struct {
	Entry types.LogEntry
}

func (c WriteLogEntry) Apply(ctx context.Context, deps *Deps) (Result, error) {
	entry := c.Entry
	if err := deps.DB.AddLogEntry(ctx, &entry); err != nil {
		return Result{}, err
	}
	return Result{RowID: entry.ID}, nil
}

// NotifyReviewers emails the configured reviewers that a new change is
// waiting. Sending is best-effort from the caller's point of view, but
// the consequence itself reports delivery errors.
type NotifyReviewers struct {
	Target   types.TargetRef
	ChangeID int64
}

func (c NotifyReviewers) Apply(ctx context.Context, deps *Deps) (Result, error) {
	cfg := deps.Notifications
	if cfg == nil || !cfg.Enabled {
		return Result{Noop: true}, nil
	}
	body := "A new change is awaiting moderation.\n\n" + c.machineSummary() + "\n"
	err := deps.Mailer.Send(ctx, cfg.To, cfg.Subject, body)
	return Result{}, err
}

// machineSummary is a JSON trailer some review tooling parses out of
// the notification mail.
func (c NotifyReviewers) machineSummary() string {
	summary, _ := sjson.Set("{}", "change_id", c.ChangeID)
	summary, _ = sjson.Set(summary, "namespace", c.Target.Namespace)
	summary, _ = sjson.Set(summary, "title", c.Target.Title)
	return summary
}

// InvalidatePendingTime drops the cached most-recent-pending timestamp.
type InvalidatePendingTime struct{}

func (c InvalidatePendingTime) Apply(ctx context.Context, deps *Deps) (Result, error) {
	deps.Caches.InvalidatePendingTimestamp()
	return Result{}, nil
}

// BlockAuthor adds a standing block. Idempotent: blocking an already
// blocked author fills Result.Noop instead of failing, because the
// desired end state is already reached.
type BlockAuthor struct {
	Author types.UserRef
	By     types.UserRef
	At     time.Time
}

func (c BlockAuthor) Apply(ctx context.Context, deps *Deps) (Result, error) {
	changed, err := deps.DB.BlockAuthor(ctx, c.Author, c.By, c.At)
	return Result{Changed: changed, Noop: !changed}, err
}

// UnblockAuthor removes a standing block, idempotently.
type UnblockAuthor struct {
	Author types.UserRef
}

func (c UnblockAuthor) Apply(ctx context.Context, deps *Deps) (Result, error) {
	changed, err := deps.DB.UnblockAuthor(ctx, c.Author)
	return Result{Changed: changed, Noop: !changed}, err
}

// ApplyEdit replays a queued edit through the normal save pipeline with
// the original request's metadata. Fills Result.Save.
type ApplyEdit struct {
	Change *types.PendingChange
	// FeedTime is the approval time, used only by live change feeds.
	FeedTime time.Time
}

func (c ApplyEdit) Apply(ctx context.Context, deps *Deps) (Result, error) {
	result, err := deps.Pipeline.Save(ctx, api.SaveRequest{
		Target:       c.Change.Target,
		Content:      c.Change.Content,
		Summary:      c.Change.Summary,
		BaseRevision: c.Change.BaseRevision,
		Author:       c.Change.Author,
		MinorEdit:    c.Change.MinorEdit,
		BotEdit:      c.Change.BotEdit,
		Overrides:    replayOverrides(c.Change, c.FeedTime),
	})
	return Result{Save: result}, err
}

// ApplyMove replays a queued rename. Fills Result.Save.
type ApplyMove struct {
	Change   *types.PendingChange
	FeedTime time.Time
}

func (c ApplyMove) Apply(ctx context.Context, deps *Deps) (Result, error) {
	result, err := deps.Pipeline.Move(ctx, api.MoveRequest{
		From:      c.Change.Target,
		To:        c.Change.Dest,
		Summary:   c.Change.Summary,
		Author:    c.Change.Author,
		Overrides: replayOverrides(c.Change, c.FeedTime),
	})
	return Result{Save: result}, err
}

// ApplyUpload replays a queued upload, publishing the stashed file.
// Fills Result.Save.
type ApplyUpload struct {
	Change   *types.PendingChange
	FeedTime time.Time
}

func (c ApplyUpload) Apply(ctx context.Context, deps *Deps) (Result, error) {
	result, err := deps.Pipeline.Upload(ctx, api.UploadRequest{
		Target:    c.Change.Target,
		StashKey:  c.Change.StashKey,
		Content:   c.Change.Content,
		Summary:   c.Change.Summary,
		Author:    c.Change.Author,
		Overrides: replayOverrides(c.Change, c.FeedTime),
	})
	return Result{Save: result}, err
}

// SaveMerged saves a reviewer's manually resolved text as the
// reviewer's own edit. No overrides: a merge is a fresh edit, not a
// replay. Fills Result.Save.
type SaveMerged struct {
	Target   types.TargetRef
	Content  string
	Summary  string
	Reviewer types.UserRef
}

func (c SaveMerged) Apply(ctx context.Context, deps *Deps) (Result, error) {
	result, err := deps.Pipeline.Save(ctx, api.SaveRequest{
		Target:  c.Target,
		Content: c.Content,
		Summary: c.Summary,
		Author:  c.Reviewer,
	})
	return Result{Save: result}, err
}

// replayOverrides scopes the original request's metadata to one
// pipeline call. The revision appears in history at the original
// submission time; only the change feed uses the approval time.
func replayOverrides(change *types.PendingChange, feedTime time.Time) api.SaveOverrides {
	return api.SaveOverrides{
		Timestamp:     change.Timestamp,
		IP:            change.IP,
		ForwardedFor:  change.ForwardedFor,
		UserAgent:     change.UserAgent,
		Tags:          change.Tags,
		FeedTimestamp: feedTime,
	}
}
