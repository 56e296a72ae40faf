package test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/marginalia-wiki/marginalia/moderationapi/storage/tables"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

// MemStorage is an in-memory storage.Database with the same transition
// semantics as the SQL implementations, for tests that don't need a
// real database.
type MemStorage struct {
	mu      sync.Mutex
	nextID  int64
	changes map[int64]*types.PendingChange
	blocks  map[string]bool
	log     []*types.LogEntry
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		nextID:  1,
		changes: map[int64]*types.PendingChange{},
		blocks:  map[string]bool{},
	}
}

func blockKey(author types.UserRef) string {
	// Same composite key as the SQL block tables, so two distinct
	// authors sharing a display name never alias.
	return fmt.Sprintf("%d/%s", author.ID, author.Name)
}

func (s *MemStorage) InsertChange(ctx context.Context, change *types.PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if change.Preloadable {
		// Enforce the partial unique index the SQL backends carry.
		for _, existing := range s.changes {
			if existing.Preloadable && existing.PreloadKey == change.PreloadKey && existing.Target.Equal(change.Target) {
				return sqlite3.Error{
					Code:         sqlite3.ErrConstraint,
					ExtendedCode: sqlite3.ErrConstraintUnique,
				}
			}
		}
	}
	cp := *change
	cp.ID = s.nextID
	s.nextID++
	s.changes[cp.ID] = &cp
	change.ID = cp.ID
	return nil
}

func (s *MemStorage) UpdateChangeInPlace(ctx context.Context, id int64, upd tables.PendingUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	change, ok := s.changes[id]
	if !ok || !change.Preloadable || change.MergedRevision != 0 {
		return false, nil
	}
	change.Content = upd.Content
	change.NewLength = upd.NewLength
	change.Summary = upd.Summary
	change.Timestamp = upd.Timestamp
	change.MinorEdit = upd.MinorEdit
	change.BotEdit = upd.BotEdit
	change.IP = upd.IP
	change.ForwardedFor = upd.ForwardedFor
	change.UserAgent = upd.UserAgent
	change.Tags = upd.Tags
	return true, nil
}

func (s *MemStorage) GetChange(ctx context.Context, id int64) (*types.PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	change, ok := s.changes[id]
	if !ok {
		return nil, nil
	}
	cp := *change
	return &cp, nil
}

func (s *MemStorage) FindPreloadable(ctx context.Context, preloadKey string, target types.TargetRef) (*types.PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, change := range s.changes {
		if change.Preloadable && change.PreloadKey == preloadKey && change.Target.Equal(target) {
			cp := *change
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemStorage) PendingByAuthor(ctx context.Context, author types.UserRef) ([]*types.PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.PendingChange
	for _, change := range s.changes {
		if change.Author == author && !change.Rejected && !change.Conflict && change.MergedRevision == 0 {
			cp := *change
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStorage) ListChanges(ctx context.Context, rejected bool, limit int) ([]*types.PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.PendingChange
	for _, change := range s.changes {
		if change.Rejected == rejected && change.MergedRevision == 0 {
			cp := *change
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStorage) LatestPendingTimestamp(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	for _, change := range s.changes {
		if !change.Rejected && change.MergedRevision == 0 && change.Timestamp.After(latest) {
			latest = change.Timestamp
		}
	}
	return latest, nil
}

func (s *MemStorage) DeleteChange(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.changes[id]; !ok {
		return false, nil
	}
	delete(s.changes, id)
	return true, nil
}

func (s *MemStorage) MarkRejected(ctx context.Context, id int64, by types.UserRef, batch bool, ts time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	change, ok := s.changes[id]
	if !ok || change.Rejected || change.MergedRevision != 0 {
		return false, nil
	}
	change.Rejected = true
	change.RejectedBy = &by
	change.RejectedBatch = batch
	change.RejectedAt = &ts
	change.Preloadable = false
	return true, nil
}

func (s *MemStorage) MarkBatchRejectedByAuthor(ctx context.Context, author types.UserRef, by types.UserRef, ts time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, change := range s.changes {
		if change.Author == author && !change.Rejected && !change.Conflict && change.MergedRevision == 0 {
			change.Rejected = true
			change.RejectedBy = &by
			change.RejectedBatch = true
			change.RejectedAt = &ts
			change.Preloadable = false
			count++
		}
	}
	return count, nil
}

func (s *MemStorage) MarkConflict(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	change, ok := s.changes[id]
	if !ok || change.Conflict || change.MergedRevision != 0 {
		return false, nil
	}
	change.Conflict = true
	return true, nil
}

func (s *MemStorage) MarkMerged(ctx context.Context, id int64, revision int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	change, ok := s.changes[id]
	if !ok || !change.Conflict || change.MergedRevision != 0 {
		return false, nil
	}
	change.MergedRevision = revision
	return true, nil
}

func (s *MemStorage) BlockAuthor(ctx context.Context, author types.UserRef, by types.UserRef, ts time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocks[blockKey(author)] {
		return false, nil
	}
	s.blocks[blockKey(author)] = true
	return true, nil
}

func (s *MemStorage) UnblockAuthor(ctx context.Context, author types.UserRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.blocks[blockKey(author)] {
		return false, nil
	}
	delete(s.blocks, blockKey(author))
	return true, nil
}

func (s *MemStorage) IsAuthorBlocked(ctx context.Context, author types.UserRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[blockKey(author)], nil
}

func (s *MemStorage) AddLogEntry(ctx context.Context, entry *types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.log) + 1)
	cp := *entry
	s.log = append(s.log, &cp)
	return nil
}

func (s *MemStorage) RecentLogEntries(ctx context.Context, limit int) ([]*types.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.LogEntry, 0, len(s.log))
	for i := len(s.log) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := *s.log[i]
		out = append(out, &cp)
	}
	return out, nil
}

// LogEntries returns a copy of everything logged so far, oldest first.
func (s *MemStorage) LogEntries() []*types.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.LogEntry, 0, len(s.log))
	for _, entry := range s.log {
		cp := *entry
		out = append(out, &cp)
	}
	return out
}
