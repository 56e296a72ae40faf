// Package engine implements the moderation decision core: the state
// machine behind approve, reject, merge and the standing-block list.
// The engine reads storage directly but performs every write and every
// pipeline call through its consequence manager.
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/marginalia-wiki/marginalia/moderationapi/api"
	"github.com/marginalia-wiki/marginalia/moderationapi/consequence"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

// Engine is constructed with all of its collaborators. There is no
// package-level instance; callers own the wiring.
type Engine struct {
	db    storage.Database
	mgr   consequence.Manager
	users api.UserResolver

	// rejectedGrace is how long after rejection an Approve is still
	// accepted. The boundary is inclusive.
	rejectedGrace time.Duration

	clock func() time.Time
}

func NewEngine(db storage.Database, mgr consequence.Manager, users api.UserResolver, rejectedGrace time.Duration) *Engine {
	return &Engine{
		db:            db,
		mgr:           mgr,
		users:         users,
		rejectedGrace: rejectedGrace,
		clock:         time.Now,
	}
}

// WithClock substitutes the time source, for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Approve replays one queued change through the save pipeline. The row
// is re-read fresh so the decision always runs against current state,
// and the terminal delete is conditional, so of two concurrent
// approvals exactly one applies.
func (e *Engine) Approve(ctx context.Context, id int64, reviewer api.Reviewer) (api.ApproveResult, error) {
	now := e.clock().UTC()

	change, err := e.loadForApproval(ctx, id, now)
	if err != nil {
		return api.ApproveResult{}, err
	}

	status, revision, err := e.replay(ctx, change, reviewer, now)
	if err != nil {
		return api.ApproveResult{}, err
	}
	return api.ApproveResult{Status: status, RevisionID: revision}, nil
}

// loadForApproval fetches the row and applies the preconditions shared
// by Approve and by each row of ApproveAll.
func (e *Engine) loadForApproval(ctx context.Context, id int64, now time.Time) (*types.PendingChange, error) {
	change, err := e.db.GetChange(ctx, id)
	if err != nil {
		return nil, err
	}
	if change == nil {
		return nil, types.ErrNotFound
	}
	if change.MergedRevision != 0 {
		return nil, types.ErrAlreadyMerged
	}
	if !change.CanReapprove(now, e.rejectedGrace) {
		return nil, types.ErrRejectedTooLongAgo
	}
	return change, nil
}

// replay drives the pipeline for one change and settles the row
// according to the outcome.
func (e *Engine) replay(ctx context.Context, change *types.PendingChange, reviewer api.Reviewer, now time.Time) (api.ApproveStatus, int64, error) {
	if e.users != nil {
		author, err := e.users.ResolveUser(ctx, change.Author)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "resolving author of change %d", change.ID)
		}
		change.Author = author
	}

	result, err := e.mgr.Add(ctx, applyConsequence(change, now))
	if err != nil {
		// The pipeline failed outside its documented outcomes. The row
		// is left untouched and the failure surfaces to the reviewer.
		return 0, 0, errors.Wrapf(err, "replaying change %d", change.ID)
	}

	switch result.Save.Outcome {
	case api.SaveSuccess:
		res, err := e.mgr.Add(ctx, consequence.DeletePending{ID: change.ID})
		if err != nil {
			return 0, 0, err
		}
		if !res.Changed {
			// A concurrent approval already deleted the row. That
			// approval owns the audit entry; this one lost the race and
			// must not claim a second application.
			logrus.WithContext(ctx).WithField("change_id", change.ID).
				Warn("Approved change was already deleted by a concurrent approval")
			return 0, 0, types.ErrNotFound
		}
		e.mgr.Add(ctx, consequence.WriteLogEntry{Entry: types.LogEntry{ // nolint:errcheck
			Action:     types.LogApprove,
			Reviewer:   reviewer.User,
			Target:     change.Target,
			ChangeID:   change.ID,
			RevisionID: result.Save.RevisionID,
			Timestamp:  now,
		}})
		e.mgr.Add(ctx, consequence.InvalidatePendingTime{}) // nolint:errcheck
		return api.ApproveApplied, result.Save.RevisionID, nil

	case api.SaveConflict:
		if _, err := e.mgr.Add(ctx, consequence.MarkAsConflict{ID: change.ID}); err != nil {
			return 0, 0, err
		}
		return api.ApproveConflict, 0, nil

	case api.SaveNoChange:
		// The queued text is byte-identical to what the page already
		// says, so there is nothing to apply. The intent was still
		// handled, so the row becomes a rejection rather than a
		// surprise error.
		res, err := e.mgr.Add(ctx, consequence.RejectOne{
			ID: change.ID,
			By: reviewer.User,
			At: now,
		})
		if err != nil {
			return 0, 0, err
		}
		if !res.Changed {
			// The conditional reject lost to a concurrent transition.
			// Re-read to report which one.
			current, err := e.db.GetChange(ctx, change.ID)
			if err != nil {
				return 0, 0, err
			}
			if current == nil {
				return 0, 0, types.ErrNotFound
			}
			return 0, 0, types.ErrAlreadyRejected
		}
		e.mgr.Add(ctx, consequence.WriteLogEntry{Entry: types.LogEntry{ // nolint:errcheck
			Action:    types.LogReject,
			Reviewer:  reviewer.User,
			Target:    change.Target,
			ChangeID:  change.ID,
			Timestamp: now,
		}})
		e.mgr.Add(ctx, consequence.InvalidatePendingTime{}) // nolint:errcheck
		return api.ApproveNoChange, 0, nil

	default:
		return 0, 0, errors.Errorf("save pipeline returned unknown outcome %d", result.Save.Outcome)
	}
}

// Reject marks one row rejected. The transition is a conditional write,
// so a concurrent reject or merge makes this report the state it lost to.
func (e *Engine) Reject(ctx context.Context, id int64, reviewer api.Reviewer) error {
	now := e.clock().UTC()

	change, err := e.db.GetChange(ctx, id)
	if err != nil {
		return err
	}
	if change == nil {
		return types.ErrNotFound
	}
	if change.MergedRevision != 0 {
		return types.ErrAlreadyMerged
	}
	if change.Rejected {
		return types.ErrAlreadyRejected
	}

	res, err := e.mgr.Add(ctx, consequence.RejectOne{ID: id, By: reviewer.User, At: now})
	if err != nil {
		return err
	}
	if !res.Changed {
		return types.ErrAlreadyRejected
	}
	e.mgr.Add(ctx, consequence.WriteLogEntry{Entry: types.LogEntry{ // nolint:errcheck
		Action:    types.LogReject,
		Reviewer:  reviewer.User,
		Target:    change.Target,
		ChangeID:  id,
		Timestamp: now,
	}})
	e.mgr.Add(ctx, consequence.InvalidatePendingTime{}) // nolint:errcheck
	return nil
}

// ApproveAll approves the author's currently pending changes, in an
// order that keeps intra-batch dependencies safe. Each row succeeds or
// fails on its own; one bad row never aborts the rest.
func (e *Engine) ApproveAll(ctx context.Context, author types.UserRef, reviewer api.Reviewer) (api.BatchResult, error) {
	now := e.clock().UTC()

	pending, err := e.db.PendingByAuthor(ctx, author)
	if err != nil {
		return api.BatchResult{}, err
	}
	Order(pending)

	result := api.BatchResult{Failed: map[int64]error{}}
	for _, change := range pending {
		status, _, err := e.replay(ctx, change, reviewer, now)
		switch {
		case err != nil:
			result.Failed[change.ID] = err
		case status == api.ApproveConflict:
			result.Failed[change.ID] = types.ErrConflict
		default:
			result.Approved = append(result.Approved, change.ID)
		}
	}

	if len(result.Approved) > 0 {
		e.mgr.Add(ctx, consequence.WriteLogEntry{Entry: types.LogEntry{ // nolint:errcheck
			Action:    types.LogApproveAll,
			Reviewer:  reviewer.User,
			Target:    types.TargetRef{Title: author.Name},
			Timestamp: now,
		}})
	}
	return result, nil
}

// RejectAll rejects the author's whole pending set in one conditional
// statement. Rows that turned conflicting or merged meanwhile are left
// alone.
func (e *Engine) RejectAll(ctx context.Context, author types.UserRef, reviewer api.Reviewer) (int64, error) {
	now := e.clock().UTC()

	res, err := e.mgr.Add(ctx, consequence.RejectBatch{Author: author, By: reviewer.User, At: now})
	if err != nil {
		return 0, err
	}
	if res.Count > 0 {
		e.mgr.Add(ctx, consequence.WriteLogEntry{Entry: types.LogEntry{ // nolint:errcheck
			Action:    types.LogRejectAll,
			Reviewer:  reviewer.User,
			Target:    types.TargetRef{Title: author.Name},
			Timestamp: now,
		}})
		e.mgr.Add(ctx, consequence.InvalidatePendingTime{}) // nolint:errcheck
	}
	return res.Count, nil
}

// Merge saves the reviewer's manually resolved text as the reviewer's
// own edit and records the resulting revision on the conflicting row,
// which makes the row terminal. Merging is a direct edit, so it is only
// open to reviewers whose own edits bypass the queue.
func (e *Engine) Merge(ctx context.Context, id int64, reviewer api.Reviewer, resolvedContent string) (int64, error) {
	if !reviewer.CanSkipModeration {
		return 0, types.ErrPermissionDenied
	}
	now := e.clock().UTC()

	change, err := e.db.GetChange(ctx, id)
	if err != nil {
		return 0, err
	}
	if change == nil {
		return 0, types.ErrNotFound
	}
	if change.MergedRevision != 0 {
		return 0, types.ErrAlreadyMerged
	}
	if !change.Conflict {
		return 0, types.ErrNotConflicting
	}

	saved, err := e.mgr.Add(ctx, consequence.SaveMerged{
		Target:   change.Target,
		Content:  resolvedContent,
		Summary:  change.Summary,
		Reviewer: reviewer.User,
	})
	if err != nil {
		return 0, errors.Wrapf(err, "saving merged content for change %d", id)
	}
	if saved.Save.Outcome != api.SaveSuccess {
		return 0, errors.Errorf("merged save for change %d did not produce a revision", id)
	}

	res, err := e.mgr.Add(ctx, consequence.MarkAsMerged{ID: id, Revision: saved.Save.RevisionID})
	if err != nil {
		return 0, err
	}
	if !res.Changed {
		// The merged text is saved either way; only the bookkeeping
		// raced. The reviewer gets the revision that exists.
		logrus.WithContext(ctx).WithField("change_id", id).
			Warn("Merged change was resolved concurrently, revision saved twice")
	}
	e.mgr.Add(ctx, consequence.WriteLogEntry{Entry: types.LogEntry{ // nolint:errcheck
		Action:     types.LogMerge,
		Reviewer:   reviewer.User,
		Target:     change.Target,
		ChangeID:   id,
		RevisionID: saved.Save.RevisionID,
		Timestamp:  now,
	}})
	e.mgr.Add(ctx, consequence.InvalidatePendingTime{}) // nolint:errcheck
	return saved.Save.RevisionID, nil
}

// Block adds a standing block. Idempotent: blocking an already blocked
// author succeeds with noop=true and writes no second audit entry.
func (e *Engine) Block(ctx context.Context, author types.UserRef, reviewer api.Reviewer) (bool, error) {
	now := e.clock().UTC()
	res, err := e.mgr.Add(ctx, consequence.BlockAuthor{Author: author, By: reviewer.User, At: now})
	if err != nil {
		return false, err
	}
	if !res.Noop {
		e.mgr.Add(ctx, consequence.WriteLogEntry{Entry: types.LogEntry{ // nolint:errcheck
			Action:    types.LogBlock,
			Reviewer:  reviewer.User,
			Target:    types.TargetRef{Title: author.Name},
			Timestamp: now,
		}})
	}
	return res.Noop, nil
}

// Unblock removes a standing block, idempotently.
func (e *Engine) Unblock(ctx context.Context, author types.UserRef, reviewer api.Reviewer) (bool, error) {
	now := e.clock().UTC()
	res, err := e.mgr.Add(ctx, consequence.UnblockAuthor{Author: author})
	if err != nil {
		return false, err
	}
	if !res.Noop {
		e.mgr.Add(ctx, consequence.WriteLogEntry{Entry: types.LogEntry{ // nolint:errcheck
			Action:    types.LogUnblock,
			Reviewer:  reviewer.User,
			Target:    types.TargetRef{Title: author.Name},
			Timestamp: now,
		}})
	}
	return res.Noop, nil
}
