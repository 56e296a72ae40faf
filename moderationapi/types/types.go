package types

import (
	"time"
)

// ChangeKind is the closed set of operations the moderation queue can
// hold. Uploads are a variant of edits carrying a stash reference.
type ChangeKind string

const (
	KindEdit   ChangeKind = "edit"
	KindMove   ChangeKind = "move"
	KindUpload ChangeKind = "upload"
)

// UserRef identifies an author or reviewer. ID is zero for anonymous
// users, in which case Name carries their network identity. Display
// names are resolved fresh at approval time, never trusted from the row.
type UserRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// IsAnonymous is true for users without a registered account.
func (u UserRef) IsAnonymous() bool {
	return u.ID == 0
}

// TargetRef names a page by namespace and title.
type TargetRef struct {
	Namespace int    `json:"namespace"`
	Title     string `json:"title"`
}

func (t TargetRef) Equal(other TargetRef) bool {
	return t.Namespace == other.Namespace && t.Title == other.Title
}

// PendingChange is one row of the moderation queue: a queued, not yet
// applied edit, page move or upload awaiting review. All derived fields
// are computed before the row is first written; rows are never stored
// half-built.
type PendingChange struct {
	ID   int64      `json:"id"`
	Kind ChangeKind `json:"kind"`

	Author UserRef   `json:"author"`
	Target TargetRef `json:"target"`
	// Dest is only meaningful for move rows: the new name of the page.
	Dest TargetRef `json:"dest,omitempty"`

	// BaseRevision is the revision this change was computed against,
	// used for conflict detection at replay time.
	BaseRevision int64 `json:"base_revision"`

	// Content is the full resulting text after the change, not a delta.
	Content   string `json:"content"`
	OldLength int64  `json:"old_length"`
	NewLength int64  `json:"new_length"`
	Summary   string `json:"summary"`

	MinorEdit bool `json:"minor_edit"`
	BotEdit   bool `json:"bot_edit"`
	NewPage   bool `json:"new_page"`

	// Timestamp is the original submission time. Replay stamps the
	// approved revision with this value, not the approval time.
	Timestamp time.Time `json:"timestamp"`

	// Moderation state. A row with MergedRevision set is terminal.
	Rejected      bool       `json:"rejected"`
	RejectedBy    *UserRef   `json:"rejected_by,omitempty"`
	RejectedAuto  bool       `json:"rejected_auto"`
	RejectedBatch bool       `json:"rejected_batch"`
	RejectedAt    *time.Time `json:"rejected_at,omitempty"`
	Conflict      bool       `json:"conflict"`
	// MergedRevision is the revision a reviewer manually merged this
	// change into, or zero.
	MergedRevision int64 `json:"merged_revision,omitempty"`

	// Preloadable rows may be silently replaced in place by a later
	// edit from the same author to the same page. Auto-rejected rows
	// stay preloadable so their author cannot tell they were
	// short-circuited.
	Preloadable bool `json:"preloadable"`
	// PreloadKey finds "my own still-pending edit on this page" without
	// requiring login: a stable token per author identity.
	PreloadKey string `json:"-"`

	// Request provenance, replayed into the save pipeline on approval.
	IP           string   `json:"ip,omitempty"`
	ForwardedFor string   `json:"forwarded_for,omitempty"`
	UserAgent    string   `json:"user_agent,omitempty"`
	Tags         []string `json:"tags,omitempty"`

	// StashKey references the staged file store. Only set for uploads.
	StashKey string `json:"stash_key,omitempty"`
}

// CanReapprove reports whether a rejected change is still inside the
// re-approval window at the given instant. The boundary is inclusive.
func (c *PendingChange) CanReapprove(now time.Time, grace time.Duration) bool {
	if !c.Rejected {
		return true
	}
	if c.RejectedAt == nil {
		return false
	}
	return now.Sub(*c.RejectedAt) <= grace
}

// LogAction is the audit-log entry type.
type LogAction string

const (
	LogApprove    LogAction = "approve"
	LogApproveAll LogAction = "approveall"
	LogReject     LogAction = "reject"
	LogRejectAll  LogAction = "rejectall"
	LogMerge      LogAction = "merge"
	LogBlock      LogAction = "block"
	LogUnblock    LogAction = "unblock"
)

// LogEntry is one row of the moderation audit log.
type LogEntry struct {
	ID        int64     `json:"id"`
	Action    LogAction `json:"action"`
	Reviewer  UserRef   `json:"reviewer"`
	Target    TargetRef `json:"target"`
	ChangeID  int64     `json:"change_id,omitempty"`
	// RevisionID records the revision created by an approval replay.
	RevisionID int64     `json:"revision_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
