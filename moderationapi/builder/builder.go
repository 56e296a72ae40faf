// Package builder assembles new pending-change rows from intercepted
// operations. All derived fields are computed up front: a row is written
// exactly once, fully built.
package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/marginalia-wiki/marginalia/internal/sqlutil"
	"github.com/marginalia-wiki/marginalia/ip"
	"github.com/marginalia-wiki/marginalia/moderationapi/consequence"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage/tables"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

// Builder intercepts content operations into the moderation queue.
// Reads go straight to storage; every write is requested through the
// consequence manager.
type Builder struct {
	db    storage.Database
	mgr   consequence.Manager
	clock func() time.Time
}

func NewBuilder(db storage.Database, mgr consequence.Manager) *Builder {
	return &Builder{
		db:    db,
		mgr:   mgr,
		clock: time.Now,
	}
}

// WithClock substitutes the time source, for tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// EditInput describes an intercepted edit. Content is the full
// resulting page text the contributor produced against the live page.
type EditInput struct {
	Author types.UserRef
	Target types.TargetRef

	Content      string
	OldLength    int64
	Summary      string
	BaseRevision int64

	// Section is set for section-scoped edits: "new" to append, or the
	// zero-based section index that was edited. SectionText then holds
	// just the replacement text of that section.
	Section     string
	SectionText string

	MinorEdit bool
	BotEdit   bool
	NewPage   bool

	// IdentityToken ties anonymous authors to their own queued edits
	// across requests. Empty means no prior token; one is issued.
	IdentityToken string

	Provenance ip.Provenance
	Tags       []string
}

// MoveInput describes an intercepted page rename.
type MoveInput struct {
	Author        types.UserRef
	From          types.TargetRef
	To            types.TargetRef
	Summary       string
	IdentityToken string
	Provenance    ip.Provenance
	Tags          []string
}

// UploadInput describes an intercepted file upload. The file bytes stay
// in the platform's stash; the queue row carries only the reference and
// the description-page text.
type UploadInput struct {
	Author        types.UserRef
	Target        types.TargetRef
	StashKey      string
	Content       string
	Summary       string
	IdentityToken string
	Provenance    ip.Provenance
	Tags          []string
}

// QueueEdit intercepts an edit. If the author already has a preloadable
// row on this page the new content folds into it in place, so two
// successive edits by the same unreviewed author survive as one row.
func (b *Builder) QueueEdit(ctx context.Context, input EditInput) (*types.PendingChange, error) {
	preloadKey := b.preloadKey(input.Author, input.IdentityToken)

	existing, err := b.db.FindPreloadable(ctx, preloadKey, input.Target)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return b.foldIntoExisting(ctx, existing, input)
	}

	change, err := b.buildEditRow(ctx, input, preloadKey)
	if err != nil {
		return nil, err
	}
	if _, err := b.mgr.Add(ctx, consequence.InsertPending{Change: change}); err != nil {
		if !sqlutil.IsUniqueConstraintViolationErr(err) {
			return nil, err
		}
		// Lost a race against another submission by the same author.
		// The preloadable row now exists, so retry as an update.
		logrus.WithContext(ctx).WithFields(logrus.Fields{
			"title":     input.Target.Title,
			"namespace": input.Target.Namespace,
		}).Debug("Preloadable insert raced, retrying as update")
		existing, err = b.db.FindPreloadable(ctx, preloadKey, input.Target)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("preloadable row vanished after unique violation")
		}
		return b.foldIntoExisting(ctx, existing, input)
	}

	b.afterQueue(ctx, change)
	return change, nil
}

// QueueMove intercepts a page rename. Moves never fold: each rename is
// its own row, applied last in any batch.
func (b *Builder) QueueMove(ctx context.Context, input MoveInput) (*types.PendingChange, error) {
	now := b.clock().UTC()
	change := &types.PendingChange{
		Kind:         types.KindMove,
		Author:       input.Author,
		Target:       input.From,
		Dest:         input.To,
		Summary:      input.Summary,
		Timestamp:    now,
		Preloadable:  false,
		PreloadKey:   b.preloadKey(input.Author, input.IdentityToken),
		IP:           input.Provenance.IP,
		ForwardedFor: input.Provenance.ForwardedFor,
		UserAgent:    input.Provenance.UserAgent,
		Tags:         input.Tags,
	}
	if err := b.applyStandingBlock(ctx, change); err != nil {
		return nil, err
	}
	if _, err := b.mgr.Add(ctx, consequence.InsertPending{Change: change}); err != nil {
		return nil, err
	}
	b.afterQueue(ctx, change)
	return change, nil
}

// QueueUpload intercepts a file upload.
func (b *Builder) QueueUpload(ctx context.Context, input UploadInput) (*types.PendingChange, error) {
	now := b.clock().UTC()
	change := &types.PendingChange{
		Kind:         types.KindUpload,
		Author:       input.Author,
		Target:       input.Target,
		StashKey:     input.StashKey,
		Content:      input.Content,
		NewLength:    int64(len(input.Content)),
		Summary:      input.Summary,
		Timestamp:    now,
		NewPage:      true,
		Preloadable:  false,
		PreloadKey:   b.preloadKey(input.Author, input.IdentityToken),
		IP:           input.Provenance.IP,
		ForwardedFor: input.Provenance.ForwardedFor,
		UserAgent:    input.Provenance.UserAgent,
		Tags:         input.Tags,
	}
	if err := b.applyStandingBlock(ctx, change); err != nil {
		return nil, err
	}
	if _, err := b.mgr.Add(ctx, consequence.InsertPending{Change: change}); err != nil {
		return nil, err
	}
	b.afterQueue(ctx, change)
	return change, nil
}

func (b *Builder) buildEditRow(ctx context.Context, input EditInput, preloadKey string) (*types.PendingChange, error) {
	now := b.clock().UTC()
	change := &types.PendingChange{
		Kind:         types.KindEdit,
		Author:       input.Author,
		Target:       input.Target,
		BaseRevision: input.BaseRevision,
		Content:      input.Content,
		OldLength:    input.OldLength,
		NewLength:    int64(len(input.Content)),
		Summary:      input.Summary,
		MinorEdit:    input.MinorEdit,
		BotEdit:      input.BotEdit,
		NewPage:      input.NewPage,
		Timestamp:    now,
		Preloadable:  true,
		PreloadKey:   preloadKey,
		IP:           input.Provenance.IP,
		ForwardedFor: input.Provenance.ForwardedFor,
		UserAgent:    input.Provenance.UserAgent,
		Tags:         input.Tags,
	}
	if err := b.applyStandingBlock(ctx, change); err != nil {
		return nil, err
	}
	return change, nil
}

// applyStandingBlock auto-rejects changes by blocked authors. The row
// is created already rejected, and stays preloadable for edits, so the
// author sees the exact same behaviour as anyone else and cannot probe
// for the block.
func (b *Builder) applyStandingBlock(ctx context.Context, change *types.PendingChange) error {
	blocked, err := b.db.IsAuthorBlocked(ctx, change.Author)
	if err != nil {
		return err
	}
	if blocked {
		now := change.Timestamp
		change.Rejected = true
		change.RejectedAuto = true
		change.RejectedAt = &now
	}
	return nil
}

// foldIntoExisting replaces the queued content of the author's pending
// row on this page. Section edits are recomputed against the queued
// text, not the live page, so both of two sequential section edits
// survive.
func (b *Builder) foldIntoExisting(ctx context.Context, existing *types.PendingChange, input EditInput) (*types.PendingChange, error) {
	content := input.Content
	if input.Section != "" {
		var err error
		content, err = replaceSection(existing.Content, input.Section, input.SectionText)
		if err != nil {
			return nil, err
		}
	}
	now := b.clock().UTC()
	upd := tables.PendingUpdate{
		Content:      content,
		NewLength:    int64(len(content)),
		Summary:      input.Summary,
		Timestamp:    now,
		MinorEdit:    input.MinorEdit,
		BotEdit:      input.BotEdit,
		IP:           input.Provenance.IP,
		ForwardedFor: input.Provenance.ForwardedFor,
		UserAgent:    input.Provenance.UserAgent,
		Tags:         input.Tags,
	}
	result, err := b.mgr.Add(ctx, consequence.UpdatePending{ID: existing.ID, Update: upd})
	if err != nil {
		return nil, err
	}
	if !result.Changed {
		// The row was approved or rejected between lookup and update.
		// Queue the edit as a brand new change instead.
		fresh := input
		fresh.Section, fresh.SectionText = "", ""
		fresh.Content = content
		return b.QueueEdit(ctx, fresh)
	}
	b.mgr.Add(ctx, consequence.InvalidatePendingTime{}) // nolint:errcheck

	updated := *existing
	updated.Content = content
	updated.NewLength = upd.NewLength
	updated.Summary = upd.Summary
	updated.Timestamp = now
	updated.MinorEdit = upd.MinorEdit
	updated.BotEdit = upd.BotEdit
	updated.IP = upd.IP
	updated.ForwardedFor = upd.ForwardedFor
	updated.UserAgent = upd.UserAgent
	updated.Tags = upd.Tags
	return &updated, nil
}

// afterQueue fires the post-insert consequences: the pending-time cache
// is always invalidated; reviewers are only notified about changes that
// are actually reviewable.
func (b *Builder) afterQueue(ctx context.Context, change *types.PendingChange) {
	b.mgr.Add(ctx, consequence.InvalidatePendingTime{}) // nolint:errcheck
	if !change.Rejected {
		if _, err := b.mgr.Add(ctx, consequence.NotifyReviewers{
			Target:   change.Target,
			ChangeID: change.ID,
		}); err != nil {
			logrus.WithContext(ctx).WithError(err).Warn("Failed to send reviewer notification")
		}
	}
}

// preloadKey derives the token that finds "my own still-pending edit on
// this page". Registered users key by account id; anonymous authors get
// an opaque session token.
func (b *Builder) preloadKey(author types.UserRef, token string) string {
	if !author.IsAnonymous() {
		return fmt.Sprintf("user:%d", author.ID)
	}
	if token != "" {
		return token
	}
	return "anon:" + uuid.NewString()
}
