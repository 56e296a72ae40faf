// Package api defines the interfaces the moderation core offers to the
// rest of the platform, and the collaborator interfaces it consumes.
package api

import (
	"context"
	"time"

	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

// ModerationAPI is what the core offers outward. Expected business
// failures come back as the typed errors in the types package; batch
// operations collect per-row failures as data instead.
type ModerationAPI interface {
	// Approve replays a queued change through the normal save path and
	// deletes the row on success.
	Approve(ctx context.Context, id int64, reviewer Reviewer) (ApproveResult, error)
	// Reject marks a queued change rejected, keeping the row.
	Reject(ctx context.Context, id int64, reviewer Reviewer) error
	// ApproveAll approves every currently pending change by the author,
	// in a safe deterministic order. Per-row failures do not abort the
	// batch.
	ApproveAll(ctx context.Context, author types.UserRef, reviewer Reviewer) (BatchResult, error)
	// RejectAll rejects every currently pending change by the author.
	RejectAll(ctx context.Context, author types.UserRef, reviewer Reviewer) (int64, error)
	// Merge saves a manually resolved content blob for a conflicting
	// change as the reviewer's own edit. The row becomes terminal with
	// the created revision recorded on it.
	Merge(ctx context.Context, id int64, reviewer Reviewer, resolvedContent string) (int64, error)
	// Block and Unblock maintain the standing-block list used for
	// auto-rejection. Both are idempotent: reaching the desired state
	// is success, noop reports whether anything changed.
	Block(ctx context.Context, author types.UserRef, reviewer Reviewer) (noop bool, err error)
	Unblock(ctx context.Context, author types.UserRef, reviewer Reviewer) (noop bool, err error)
}

// Reviewer is the trusted user performing a moderation action.
type Reviewer struct {
	User types.UserRef
	// CanSkipModeration is true for reviewers whose own edits bypass
	// the queue. Merging requires this, since a merge is effectively a
	// direct edit.
	CanSkipModeration bool
}

// ApproveStatus describes the three outcomes of an approval.
type ApproveStatus int

const (
	// ApproveApplied: replay succeeded, the row was deleted.
	ApproveApplied ApproveStatus = iota
	// ApproveConflict: the target changed since the base revision. The
	// row survives, marked conflicting, for manual merge.
	ApproveConflict
	// ApproveNoChange: the queued text is byte-identical to the current
	// content, so the action was converted into a rejection.
	ApproveNoChange
)

type ApproveResult struct {
	Status ApproveStatus `json:"status"`
	// RevisionID is the revision created by a successful replay.
	RevisionID int64 `json:"revision_id,omitempty"`
}

// BatchResult collects the independent per-row outcomes of ApproveAll.
type BatchResult struct {
	Approved []int64         `json:"approved"`
	Failed   map[int64]error `json:"-"`
}

// SaveOutcome is the documented result set of the platform's normal
// save operation.
type SaveOutcome int

const (
	SaveSuccess SaveOutcome = iota
	// SaveConflict: the base revision is no longer the latest.
	SaveConflict
	// SaveNoChange: saving would not change the page at all.
	SaveNoChange
)

type SaveResult struct {
	Outcome SaveOutcome
	// RevisionID of the newly created revision, for SaveSuccess.
	RevisionID int64
}

// SaveOverrides carries the metadata the save pipeline would otherwise
// stamp with current values. The revision so created appears in history
// at the original submission time; only live change feeds use the
// approval time.
type SaveOverrides struct {
	Timestamp    time.Time
	IP           string
	ForwardedFor string
	UserAgent    string
	Tags         []string
	// FeedTimestamp is the approval time, surfaced in change feeds so
	// watchers see the change now rather than retroactively in the past.
	FeedTimestamp time.Time
}

type SaveRequest struct {
	Target       types.TargetRef
	Content      string
	Summary      string
	BaseRevision int64
	Author       types.UserRef
	MinorEdit    bool
	BotEdit      bool
	Overrides    SaveOverrides
}

type MoveRequest struct {
	From      types.TargetRef
	To        types.TargetRef
	Summary   string
	Author    types.UserRef
	Overrides SaveOverrides
}

type UploadRequest struct {
	Target    types.TargetRef
	StashKey  string
	Content   string
	Summary   string
	Author    types.UserRef
	Overrides SaveOverrides
}

// SavePipeline is the platform's normal content-save path. The replay
// scope drives it with the original request's metadata. Anything outside
// the documented outcomes is returned as an error and treated as an
// upstream failure.
type SavePipeline interface {
	Save(ctx context.Context, req SaveRequest) (SaveResult, error)
	Move(ctx context.Context, req MoveRequest) (SaveResult, error)
	Upload(ctx context.Context, req UploadRequest) (SaveResult, error)
}

// UserResolver re-resolves author identity at approval time, tolerating
// accounts renamed or deleted since the change was queued.
type UserResolver interface {
	ResolveUser(ctx context.Context, ref types.UserRef) (types.UserRef, error)
}

// InterceptionPolicy decides whether an operation must be queued at all.
// Supplied by the platform; the core never decides this itself.
type InterceptionPolicy interface {
	ShouldIntercept(ctx context.Context, author types.UserRef, target types.TargetRef, kind types.ChangeKind) bool
}
