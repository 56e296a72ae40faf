package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-wiki/marginalia/internal/caching"
	"github.com/marginalia-wiki/marginalia/internal/email"
	"github.com/marginalia-wiki/marginalia/moderationapi/api"
	"github.com/marginalia-wiki/marginalia/moderationapi/consequence"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
	"github.com/marginalia-wiki/marginalia/test"
)

var (
	alice  = types.UserRef{ID: 7, Name: "Alice"}
	mod    = api.Reviewer{User: types.UserRef{ID: 1, Name: "Moderator"}}
	admin  = api.Reviewer{User: types.UserRef{ID: 2, Name: "Admin"}, CanSkipModeration: true}
	gnomes = types.TargetRef{Namespace: 0, Title: "Garden gnomes"}
)

// fakePipeline answers save calls from a per-title script and records
// every request it sees.
type fakePipeline struct {
	mu           sync.Mutex
	saves        []api.SaveRequest
	moves        []api.MoveRequest
	uploads      []api.UploadRequest
	calls        []string
	outcomes     map[string]api.SaveOutcome
	failures     map[string]error
	nextRevision int64
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		outcomes:     map[string]api.SaveOutcome{},
		failures:     map[string]error{},
		nextRevision: 100,
	}
}

func (p *fakePipeline) result(title string) (api.SaveResult, error) {
	p.calls = append(p.calls, title)
	if err := p.failures[title]; err != nil {
		return api.SaveResult{}, err
	}
	outcome := p.outcomes[title]
	if outcome != api.SaveSuccess {
		return api.SaveResult{Outcome: outcome}, nil
	}
	p.nextRevision++
	return api.SaveResult{Outcome: api.SaveSuccess, RevisionID: p.nextRevision}, nil
}

func (p *fakePipeline) Save(ctx context.Context, req api.SaveRequest) (api.SaveResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves = append(p.saves, req)
	return p.result(req.Target.Title)
}

func (p *fakePipeline) Move(ctx context.Context, req api.MoveRequest) (api.SaveResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves = append(p.moves, req)
	return p.result(req.From.Title)
}

func (p *fakePipeline) Upload(ctx context.Context, req api.UploadRequest) (api.SaveResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads = append(p.uploads, req)
	return p.result(req.Target.Title)
}

func newEngineWith(t *testing.T, db *test.MemStorage, pl api.SavePipeline, users api.UserResolver) *Engine {
	t.Helper()
	caches, err := caching.NewRistrettoCache(1024*1024, time.Hour, false)
	require.NoError(t, err)
	mgr := consequence.NewLiveManager(&consequence.Deps{
		DB:       db,
		Caches:   caches,
		Mailer:   email.NoopSender{},
		Pipeline: pl,
	})
	return NewEngine(db, mgr, users, 14*24*time.Hour)
}

func newTestEngine(t *testing.T) (*Engine, *test.MemStorage, *fakePipeline) {
	t.Helper()
	db := test.NewMemStorage()
	pipeline := newFakePipeline()
	return newEngineWith(t, db, pipeline, nil), db, pipeline
}

func queueChange(t *testing.T, db *test.MemStorage, change *types.PendingChange) *types.PendingChange {
	t.Helper()
	require.NoError(t, db.InsertChange(context.Background(), change))
	return change
}

func pendingEdit(title string) *types.PendingChange {
	return &types.PendingChange{
		Kind:         types.KindEdit,
		Author:       alice,
		Target:       types.TargetRef{Namespace: 0, Title: title},
		BaseRevision: 41,
		Content:      "Lorem ipsum dolor sit amet.",
		Summary:      "expand intro",
		Timestamp:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Preloadable:  true,
		PreloadKey:   "user:7",
		IP:           "198.51.100.7",
		ForwardedFor: "203.0.113.5",
		UserAgent:    "Mozilla/5.0 (test)",
		Tags:         []string{"mobile edit"},
	}
}

func TestApproveApplied(t *testing.T) {
	e, db, pipeline := newTestEngine(t)
	ctx := context.Background()
	change := queueChange(t, db, pendingEdit("Garden gnomes"))

	result, err := e.Approve(ctx, change.ID, mod)
	require.NoError(t, err)
	assert.Equal(t, api.ApproveApplied, result.Status)
	assert.EqualValues(t, 101, result.RevisionID)

	// The replay carries the original request byte for byte, with the
	// original submission metadata, not the reviewer's.
	require.Len(t, pipeline.saves, 1)
	replayed := pipeline.saves[0]
	assert.Equal(t, change.Content, replayed.Content)
	assert.Equal(t, change.Author, replayed.Author)
	assert.Equal(t, change.BaseRevision, replayed.BaseRevision)
	assert.True(t, change.Timestamp.Equal(replayed.Overrides.Timestamp))
	assert.Equal(t, change.IP, replayed.Overrides.IP)
	assert.Equal(t, change.ForwardedFor, replayed.Overrides.ForwardedFor)
	assert.Equal(t, change.UserAgent, replayed.Overrides.UserAgent)
	assert.Equal(t, change.Tags, replayed.Overrides.Tags)
	assert.True(t, replayed.Overrides.FeedTimestamp.After(change.Timestamp))

	// The row is gone and the approval is on the audit log.
	got, err := db.GetChange(ctx, change.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	entries := db.LogEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, types.LogApprove, entries[0].Action)
	assert.EqualValues(t, 101, entries[0].RevisionID)
}

// interferingPipeline runs a scripted interference while the save is in
// flight, standing in for a concurrent reviewer acting on the same row.
type interferingPipeline struct {
	*fakePipeline
	during func(ctx context.Context) error
}

func (p *interferingPipeline) Save(ctx context.Context, req api.SaveRequest) (api.SaveResult, error) {
	if err := p.during(ctx); err != nil {
		return api.SaveResult{}, err
	}
	return p.fakePipeline.Save(ctx, req)
}

func TestApproveLosesRaceToConcurrentApproval(t *testing.T) {
	db := test.NewMemStorage()
	ctx := context.Background()
	change := queueChange(t, db, pendingEdit("Garden gnomes"))

	// The other reviewer's approval lands while this save is in flight,
	// so the conditional delete finds nothing.
	pipeline := &interferingPipeline{
		fakePipeline: newFakePipeline(),
		during: func(ctx context.Context) error {
			_, err := db.DeleteChange(ctx, change.ID)
			return err
		},
	}
	e := newEngineWith(t, db, pipeline, nil)

	_, err := e.Approve(ctx, change.ID, mod)
	assert.ErrorIs(t, err, types.ErrNotFound)

	// The winning approval owns the audit trail; the loser must not
	// record a second application.
	assert.Empty(t, db.LogEntries())
}

func TestApproveNoChangeLosesRace(t *testing.T) {
	t.Run("row deleted concurrently", func(t *testing.T) {
		db := test.NewMemStorage()
		ctx := context.Background()
		change := queueChange(t, db, pendingEdit("Garden gnomes"))

		pipeline := &interferingPipeline{
			fakePipeline: newFakePipeline(),
			during: func(ctx context.Context) error {
				_, err := db.DeleteChange(ctx, change.ID)
				return err
			},
		}
		pipeline.outcomes["Garden gnomes"] = api.SaveNoChange
		e := newEngineWith(t, db, pipeline, nil)

		_, err := e.Approve(ctx, change.ID, mod)
		assert.ErrorIs(t, err, types.ErrNotFound)
		assert.Empty(t, db.LogEntries())
	})

	t.Run("row rejected concurrently", func(t *testing.T) {
		db := test.NewMemStorage()
		ctx := context.Background()
		change := queueChange(t, db, pendingEdit("Garden gnomes"))

		pipeline := &interferingPipeline{
			fakePipeline: newFakePipeline(),
			during: func(ctx context.Context) error {
				_, err := db.MarkRejected(ctx, change.ID, mod.User, false, time.Now().UTC())
				return err
			},
		}
		pipeline.outcomes["Garden gnomes"] = api.SaveNoChange
		e := newEngineWith(t, db, pipeline, nil)

		_, err := e.Approve(ctx, change.ID, mod)
		assert.ErrorIs(t, err, types.ErrAlreadyRejected)
		assert.Empty(t, db.LogEntries())
	})
}

// resolverFunc adapts a function to api.UserResolver.
type resolverFunc func(ctx context.Context, ref types.UserRef) (types.UserRef, error)

func (f resolverFunc) ResolveUser(ctx context.Context, ref types.UserRef) (types.UserRef, error) {
	return f(ctx, ref)
}

func TestApproveResolvesAuthorIdentity(t *testing.T) {
	db := test.NewMemStorage()
	ctx := context.Background()
	change := queueChange(t, db, pendingEdit("Garden gnomes"))

	pipeline := newFakePipeline()
	renamed := types.UserRef{ID: 7, Name: "Alice the Elder"}
	e := newEngineWith(t, db, pipeline, resolverFunc(func(ctx context.Context, ref types.UserRef) (types.UserRef, error) {
		require.Equal(t, alice, ref)
		return renamed, nil
	}))

	_, err := e.Approve(ctx, change.ID, mod)
	require.NoError(t, err)

	// The replay is attributed to the author's current identity, not
	// the one captured at submission time.
	require.Len(t, pipeline.saves, 1)
	assert.Equal(t, renamed, pipeline.saves[0].Author)
}

func TestApproveIsNotIdempotent(t *testing.T) {
	e, db, _ := newTestEngine(t)
	ctx := context.Background()
	change := queueChange(t, db, pendingEdit("Garden gnomes"))

	_, err := e.Approve(ctx, change.ID, mod)
	require.NoError(t, err)

	_, err = e.Approve(ctx, change.ID, mod)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestApproveConflict(t *testing.T) {
	e, db, pipeline := newTestEngine(t)
	ctx := context.Background()
	change := queueChange(t, db, pendingEdit("Garden gnomes"))
	pipeline.outcomes["Garden gnomes"] = api.SaveConflict

	result, err := e.Approve(ctx, change.ID, mod)
	require.NoError(t, err)
	assert.Equal(t, api.ApproveConflict, result.Status)

	// The row survives, flagged for manual merge.
	got, err := db.GetChange(ctx, change.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Conflict)

	// A retry without merging just conflicts again.
	result, err = e.Approve(ctx, change.ID, mod)
	require.NoError(t, err)
	assert.Equal(t, api.ApproveConflict, result.Status)
}

func TestApproveNoChangeBecomesRejection(t *testing.T) {
	e, db, pipeline := newTestEngine(t)
	ctx := context.Background()
	change := queueChange(t, db, pendingEdit("Garden gnomes"))
	pipeline.outcomes["Garden gnomes"] = api.SaveNoChange

	result, err := e.Approve(ctx, change.ID, mod)
	require.NoError(t, err)
	assert.Equal(t, api.ApproveNoChange, result.Status)

	got, err := db.GetChange(ctx, change.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Rejected)
	entries := db.LogEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, types.LogReject, entries[0].Action)
}

func TestUpstreamFailureLeavesRowIntact(t *testing.T) {
	e, db, pipeline := newTestEngine(t)
	ctx := context.Background()
	change := queueChange(t, db, pendingEdit("Garden gnomes"))
	pipeline.failures["Garden gnomes"] = errors.New("platform exploded")

	_, err := e.Approve(ctx, change.ID, mod)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform exploded")

	got, err := db.GetChange(ctx, change.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Rejected)
	assert.False(t, got.Conflict)
	assert.Empty(t, db.LogEntries())
}

func TestRejectThenApproveWindow(t *testing.T) {
	grace := 14 * 24 * time.Hour
	rejectedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("inside the window, boundary inclusive", func(t *testing.T) {
		e, db, _ := newTestEngine(t)
		ctx := context.Background()
		change := queueChange(t, db, pendingEdit("Garden gnomes"))
		require.NoError(t, e.Reject(ctx, change.ID, mod))

		// Pin the reject timestamp, then move the clock to the exact
		// edge of the window.
		got, err := db.GetChange(ctx, change.ID)
		require.NoError(t, err)
		edge := got.RejectedAt.Add(grace)
		e.WithClock(func() time.Time { return edge })

		result, err := e.Approve(ctx, change.ID, mod)
		require.NoError(t, err)
		assert.Equal(t, api.ApproveApplied, result.Status)
	})

	t.Run("outside the window", func(t *testing.T) {
		e, db, _ := newTestEngine(t)
		ctx := context.Background()
		change := queueChange(t, db, pendingEdit("Garden gnomes"))
		e.WithClock(func() time.Time { return rejectedAt })
		require.NoError(t, e.Reject(ctx, change.ID, mod))

		e.WithClock(func() time.Time { return rejectedAt.Add(grace + time.Second) })
		_, err := e.Approve(ctx, change.ID, mod)
		assert.ErrorIs(t, err, types.ErrRejectedTooLongAgo)
	})
}

func TestRejectTwice(t *testing.T) {
	e, db, _ := newTestEngine(t)
	ctx := context.Background()
	change := queueChange(t, db, pendingEdit("Garden gnomes"))

	require.NoError(t, e.Reject(ctx, change.ID, mod))
	assert.ErrorIs(t, e.Reject(ctx, change.ID, mod), types.ErrAlreadyRejected)
	assert.ErrorIs(t, e.Reject(ctx, change.ID+1000, mod), types.ErrNotFound)
}

func TestMerge(t *testing.T) {
	e, db, pipeline := newTestEngine(t)
	ctx := context.Background()
	change := queueChange(t, db, pendingEdit("Garden gnomes"))
	pipeline.outcomes["Garden gnomes"] = api.SaveConflict

	result, err := e.Approve(ctx, change.ID, mod)
	require.NoError(t, err)
	require.Equal(t, api.ApproveConflict, result.Status)

	// Merging is a direct edit, so it needs the bypass right.
	_, err = e.Merge(ctx, change.ID, mod, "resolved text")
	assert.ErrorIs(t, err, types.ErrPermissionDenied)

	pipeline.outcomes["Garden gnomes"] = api.SaveSuccess
	revision, err := e.Merge(ctx, change.ID, admin, "resolved text")
	require.NoError(t, err)
	assert.NotZero(t, revision)

	// The merged save is the reviewer's own edit: no replay overrides.
	saved := pipeline.saves[len(pipeline.saves)-1]
	assert.Equal(t, admin.User, saved.Author)
	assert.Equal(t, "resolved text", saved.Content)
	assert.True(t, saved.Overrides.Timestamp.IsZero())

	got, err := db.GetChange(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, revision, got.MergedRevision)

	// The row is terminal now.
	_, err = e.Merge(ctx, change.ID, admin, "again")
	assert.ErrorIs(t, err, types.ErrAlreadyMerged)
	_, err = e.Approve(ctx, change.ID, admin)
	assert.ErrorIs(t, err, types.ErrAlreadyMerged)
}

func TestMergeRequiresConflict(t *testing.T) {
	e, db, _ := newTestEngine(t)
	ctx := context.Background()
	change := queueChange(t, db, pendingEdit("Garden gnomes"))

	_, err := e.Merge(ctx, change.ID, admin, "resolved text")
	assert.ErrorIs(t, err, types.ErrNotConflicting)
}

func TestApproveAllOrderAndIndependence(t *testing.T) {
	e, db, pipeline := newTestEngine(t)
	ctx := context.Background()

	move := pendingEdit("Move me")
	move.Kind = types.KindMove
	move.Dest = types.TargetRef{Title: "Moved"}
	move.Preloadable = false
	queueChange(t, db, move)

	edit := pendingEdit("Edit me")
	queueChange(t, db, edit)

	upload := pendingEdit("Upload me")
	upload.Kind = types.KindUpload
	upload.StashKey = "stash-1"
	upload.Preloadable = false
	queueChange(t, db, upload)

	broken := pendingEdit("Broken")
	queueChange(t, db, broken)
	pipeline.failures["Broken"] = errors.New("save exploded")

	result, err := e.ApproveAll(ctx, alice, mod)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int64{move.ID, edit.ID, upload.ID}, result.Approved)
	require.Contains(t, result.Failed, broken.ID)

	// Uploads apply before edits, moves last.
	assert.Equal(t, []string{"Upload me", "Edit me", "Broken", "Move me"}, pipeline.calls)

	// The failed row is still pending for another attempt.
	got, err := db.GetChange(ctx, broken.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Rejected)
}

func TestRejectAll(t *testing.T) {
	e, db, _ := newTestEngine(t)
	ctx := context.Background()

	queueChange(t, db, pendingEdit("Page one"))
	queueChange(t, db, pendingEdit("Page two"))
	conflicting := pendingEdit("Conflicted")
	queueChange(t, db, conflicting)
	_, err := db.MarkConflict(ctx, conflicting.ID)
	require.NoError(t, err)

	count, err := e.RejectAll(ctx, alice, mod)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	got, err := db.GetChange(ctx, conflicting.ID)
	require.NoError(t, err)
	assert.False(t, got.Rejected, "conflicting rows are spared from batch rejection")

	entries := db.LogEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, types.LogRejectAll, entries[0].Action)

	// A second sweep finds nothing and logs nothing.
	count, err = e.RejectAll(ctx, alice, mod)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Len(t, db.LogEntries(), 1)
}

func TestBlockUnblockIdempotent(t *testing.T) {
	e, db, _ := newTestEngine(t)
	ctx := context.Background()

	noop, err := e.Block(ctx, alice, mod)
	require.NoError(t, err)
	assert.False(t, noop)

	noop, err = e.Block(ctx, alice, mod)
	require.NoError(t, err)
	assert.True(t, noop)

	// One block, one audit entry, however many times it is repeated.
	entries := db.LogEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, types.LogBlock, entries[0].Action)

	noop, err = e.Unblock(ctx, alice, mod)
	require.NoError(t, err)
	assert.False(t, noop)
	noop, err = e.Unblock(ctx, alice, mod)
	require.NoError(t, err)
	assert.True(t, noop)
	assert.Len(t, db.LogEntries(), 2)
}

func TestBlockDistinguishesAuthorsSharingName(t *testing.T) {
	e, db, _ := newTestEngine(t)
	ctx := context.Background()
	namesake := types.UserRef{ID: 8, Name: alice.Name}

	_, err := e.Block(ctx, alice, mod)
	require.NoError(t, err)

	blocked, err := db.IsAuthorBlocked(ctx, alice)
	require.NoError(t, err)
	assert.True(t, blocked)

	blocked, err = db.IsAuthorBlocked(ctx, namesake)
	require.NoError(t, err)
	assert.False(t, blocked, "a block binds the account, not the display name")
}
