package types

import (
	"errors"
)

// Expected business failures are returned as typed errors so callers can
// map them onto their own presentation. The engine never formats
// user-facing text.
var (
	// ErrNotFound: the row id does not exist. Also what the second of
	// two concurrent approvals sees, since the first deletes the row.
	ErrNotFound = errors.New("moderation: change not found")

	// ErrAlreadyMerged: the row is terminal, nothing more can happen to it.
	ErrAlreadyMerged = errors.New("moderation: change already merged")

	// ErrAlreadyRejected: Reject on a row that is rejected already.
	ErrAlreadyRejected = errors.New("moderation: change already rejected")

	// ErrRejectedTooLongAgo: Approve on a rejected row outside the
	// configured re-approval window.
	ErrRejectedTooLongAgo = errors.New("moderation: change was rejected too long ago to approve")

	// ErrConflict: the replay found newer revisions under the target.
	// The row survives, flagged for manual merge.
	ErrConflict = errors.New("moderation: change conflicts with a newer revision")

	// ErrNotConflicting: Merge on a row that is not in conflict.
	ErrNotConflicting = errors.New("moderation: change has no conflict to merge")

	// ErrPermissionDenied: the reviewer lacks the trust level required
	// for this action (merging requires the right to bypass moderation).
	ErrPermissionDenied = errors.New("moderation: reviewer is not allowed to perform this action")
)

// IsInvalidState reports whether an error is a state-machine rejection
// rather than a missing row or an infrastructure failure.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrAlreadyMerged) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAlreadyRejected) ||
		errors.Is(err, ErrRejectedTooLongAgo) ||
		errors.Is(err, ErrNotConflicting)
}
