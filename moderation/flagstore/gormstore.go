package flagstore

import (
	"context"
	"errors"
	"time"

	"github.com/fernwood/warden/content"

	"gorm.io/gorm"
)

type GormFlag struct {
	gorm.Model
	ContentType     string `gorm:"uniqueIndex:idx_flag_content"`
	ContentID       string `gorm:"uniqueIndex:idx_flag_content"`
	AuthorID        string `gorm:"index"`
	Reason          string
	Status          string `gorm:"index"`
	RejectionReason string
	ResolvedAt      *time.Time
	ResolvedBy      string
}

// GormFlagStore is a gorm-backed implementation of the FlagStore interface.
type GormFlagStore struct {
	db *gorm.DB
}

var _ FlagStore = (*GormFlagStore)(nil)

func NewGormFlagStore(db *gorm.DB) (*GormFlagStore, error) {
	if err := db.AutoMigrate(&GormFlag{}); err != nil {
		return nil, err
	}
	return &GormFlagStore{db: db}, nil
}

func (f *GormFlag) record() *FlagRecord {
	return &FlagRecord{
		ID:              f.ID,
		ContentType:     content.ContentType(f.ContentType),
		ContentID:       f.ContentID,
		AuthorID:        f.AuthorID,
		Reason:          f.Reason,
		Status:          f.Status,
		RejectionReason: f.RejectionReason,
		CreatedAt:       f.CreatedAt,
		ResolvedAt:      f.ResolvedAt,
		ResolvedBy:      f.ResolvedBy,
	}
}

func (s *GormFlagStore) CreateFlag(ctx context.Context, t content.ContentType, contentID, authorID, reason string) (*FlagRecord, error) {
	dbf := &GormFlag{
		ContentType: string(t),
		ContentID:   contentID,
		AuthorID:    authorID,
		Reason:      reason,
		Status:      StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(dbf).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyFlagged
		}
		return nil, err
	}
	return dbf.record(), nil
}

func (s *GormFlagStore) Get(ctx context.Context, id uint) (*FlagRecord, error) {
	var dbf GormFlag
	if err := s.db.WithContext(ctx).First(&dbf, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return dbf.record(), nil
}

// resolve performs the compare-and-swap transition out of pending. A zero
// RowsAffected means either the flag doesn't exist or it was already
// resolved; a followup read distinguishes the two.
func (s *GormFlagStore) resolve(ctx context.Context, id uint, updates map[string]interface{}) (*FlagRecord, error) {
	res := s.db.WithContext(ctx).Model(&GormFlag{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var dbf GormFlag
		if err := s.db.WithContext(ctx).First(&dbf, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		return nil, ErrInvalidTransition
	}
	return s.Get(ctx, id)
}

func (s *GormFlagStore) Approve(ctx context.Context, id uint, adminID string) (*FlagRecord, error) {
	now := time.Now().UTC()
	return s.resolve(ctx, id, map[string]interface{}{
		"status":      StatusApproved,
		"resolved_at": &now,
		"resolved_by": adminID,
	})
}

func (s *GormFlagStore) Reject(ctx context.Context, id uint, adminID, rejectionReason string) (*FlagRecord, error) {
	if rejectionReason == "" {
		existing, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		rejectionReason = existing.Reason
	}
	now := time.Now().UTC()
	return s.resolve(ctx, id, map[string]interface{}{
		"status":           StatusRejected,
		"rejection_reason": rejectionReason,
		"resolved_at":      &now,
		"resolved_by":      adminID,
	})
}

func (s *GormFlagStore) List(ctx context.Context, filter ListFilter, page, limit int) ([]*FlagRecord, error) {
	page, limit = ClampPage(page, limit)

	q := s.db.WithContext(ctx).Model(&GormFlag{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.ContentType != "" {
		q = q.Where("content_type = ?", string(filter.ContentType))
	}

	var dbfs []*GormFlag
	if err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&dbfs).Error; err != nil {
		return nil, err
	}
	out := make([]*FlagRecord, len(dbfs))
	for i, dbf := range dbfs {
		out[i] = dbf.record()
	}
	return out, nil
}

func (s *GormFlagStore) ListByAuthor(ctx context.Context, authorID string, page, limit int) ([]*FlagRecord, error) {
	page, limit = ClampPage(page, limit)

	var dbfs []*GormFlag
	err := s.db.WithContext(ctx).
		Where("author_id = ?", authorID).
		Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&dbfs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*FlagRecord, len(dbfs))
	for i, dbf := range dbfs {
		out[i] = dbf.record()
	}
	return out, nil
}

type countRow struct {
	Key   string
	Count int64
}

func (s *GormFlagStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []countRow
	err := s.db.WithContext(ctx).Model(&GormFlag{}).
		Select("status as key, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Count
	}
	return out, nil
}

func (s *GormFlagStore) CountByType(ctx context.Context) (map[string]int64, error) {
	var rows []countRow
	err := s.db.WithContext(ctx).Model(&GormFlag{}).
		Select("content_type as key, count(*) as count").
		Group("content_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Count
	}
	return out, nil
}

func (s *GormFlagStore) RecentFlagged(ctx context.Context, n int) ([]*FlagRecord, error) {
	if n <= 0 {
		n = 10
	}
	var dbfs []*GormFlag
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("created_at DESC").
		Limit(n).
		Find(&dbfs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*FlagRecord, len(dbfs))
	for i, dbf := range dbfs {
		out[i] = dbf.record()
	}
	return out, nil
}
