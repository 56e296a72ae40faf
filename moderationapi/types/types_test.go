package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanReapprove(t *testing.T) {
	grace := 14 * 24 * time.Hour
	rejectedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	pending := &PendingChange{}
	assert.True(t, pending.CanReapprove(rejectedAt, grace), "non-rejected changes are always approvable")

	rejected := &PendingChange{Rejected: true, RejectedAt: &rejectedAt}
	assert.True(t, rejected.CanReapprove(rejectedAt.Add(grace-time.Second), grace))
	assert.True(t, rejected.CanReapprove(rejectedAt.Add(grace), grace), "the window boundary is inclusive")
	assert.False(t, rejected.CanReapprove(rejectedAt.Add(grace+time.Second), grace))

	legacy := &PendingChange{Rejected: true}
	assert.False(t, legacy.CanReapprove(rejectedAt, grace), "rejected rows without a timestamp are terminal")
}

func TestIsInvalidState(t *testing.T) {
	assert.True(t, IsInvalidState(ErrAlreadyMerged))
	assert.True(t, IsInvalidState(ErrAlreadyRejected))
	assert.True(t, IsInvalidState(ErrRejectedTooLongAgo))
	assert.True(t, IsInvalidState(ErrConflict))
	assert.True(t, IsInvalidState(ErrNotConflicting))
	assert.False(t, IsInvalidState(ErrNotFound))
	assert.False(t, IsInvalidState(ErrPermissionDenied))
	assert.False(t, IsInvalidState(nil))
}

func TestUserRefIsAnonymous(t *testing.T) {
	assert.True(t, UserRef{Name: "198.51.100.7"}.IsAnonymous())
	assert.False(t, UserRef{ID: 7, Name: "Alice"}.IsAnonymous())
}
