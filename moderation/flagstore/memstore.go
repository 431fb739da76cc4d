package flagstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fernwood/warden/content"
)

// MemFlagStore is an in-memory FlagStore, for tests and local development.
// Same transition semantics as the gorm implementation, with the store lock
// standing in for the row-level compare-and-swap.
type MemFlagStore struct {
	lk     sync.Mutex
	nextID uint
	flags  map[uint]*FlagRecord
	byKey  map[string]uint
}

var _ FlagStore = (*MemFlagStore)(nil)

func NewMemFlagStore() *MemFlagStore {
	return &MemFlagStore{
		nextID: 1,
		flags:  make(map[uint]*FlagRecord),
		byKey:  make(map[string]uint),
	}
}

func (s *MemFlagStore) CreateFlag(ctx context.Context, t content.ContentType, contentID, authorID, reason string) (*FlagRecord, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	key := content.Key(t, contentID)
	if _, ok := s.byKey[key]; ok {
		return nil, ErrAlreadyFlagged
	}

	rec := &FlagRecord{
		ID:          s.nextID,
		ContentType: t,
		ContentID:   contentID,
		AuthorID:    authorID,
		Reason:      reason,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	s.nextID++
	s.flags[rec.ID] = rec
	s.byKey[key] = rec.ID

	out := *rec
	return &out, nil
}

func (s *MemFlagStore) Get(ctx context.Context, id uint) (*FlagRecord, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	rec, ok := s.flags[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *MemFlagStore) Approve(ctx context.Context, id uint, adminID string) (*FlagRecord, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	rec, ok := s.flags[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != StatusPending {
		return nil, ErrInvalidTransition
	}
	now := time.Now().UTC()
	rec.Status = StatusApproved
	rec.ResolvedAt = &now
	rec.ResolvedBy = adminID

	out := *rec
	return &out, nil
}

func (s *MemFlagStore) Reject(ctx context.Context, id uint, adminID, rejectionReason string) (*FlagRecord, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	rec, ok := s.flags[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != StatusPending {
		return nil, ErrInvalidTransition
	}
	if rejectionReason == "" {
		rejectionReason = rec.Reason
	}
	now := time.Now().UTC()
	rec.Status = StatusRejected
	rec.RejectionReason = rejectionReason
	rec.ResolvedAt = &now
	rec.ResolvedBy = adminID

	out := *rec
	return &out, nil
}

// sorted newest-first, as the gorm store queries it
func (s *MemFlagStore) snapshot(match func(*FlagRecord) bool) []*FlagRecord {
	var out []*FlagRecord
	for _, rec := range s.flags {
		if match(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func paginate(recs []*FlagRecord, page, limit int) []*FlagRecord {
	page, limit = ClampPage(page, limit)
	start := (page - 1) * limit
	if start >= len(recs) {
		return []*FlagRecord{}
	}
	end := start + limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[start:end]
}

func (s *MemFlagStore) List(ctx context.Context, filter ListFilter, page, limit int) ([]*FlagRecord, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	recs := s.snapshot(func(r *FlagRecord) bool {
		if filter.Status != "" && r.Status != filter.Status {
			return false
		}
		if filter.ContentType != "" && r.ContentType != filter.ContentType {
			return false
		}
		return true
	})
	return paginate(recs, page, limit), nil
}

func (s *MemFlagStore) ListByAuthor(ctx context.Context, authorID string, page, limit int) ([]*FlagRecord, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	recs := s.snapshot(func(r *FlagRecord) bool {
		return r.AuthorID == authorID
	})
	return paginate(recs, page, limit), nil
}

func (s *MemFlagStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	out := make(map[string]int64)
	for _, rec := range s.flags {
		out[rec.Status]++
	}
	return out, nil
}

func (s *MemFlagStore) CountByType(ctx context.Context) (map[string]int64, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	out := make(map[string]int64)
	for _, rec := range s.flags {
		out[string(rec.ContentType)]++
	}
	return out, nil
}

func (s *MemFlagStore) RecentFlagged(ctx context.Context, n int) ([]*FlagRecord, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	if n <= 0 {
		n = 10
	}
	recs := s.snapshot(func(r *FlagRecord) bool {
		return r.Status == StatusPending
	})
	if len(recs) > n {
		recs = recs[:n]
	}
	return recs, nil
}
