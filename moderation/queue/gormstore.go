package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fernwood/warden/content"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Gormjob struct {
	contentType content.ContentType
	contentID   string
	authorID    string

	lk         sync.Mutex
	text       string
	state      string
	attempt    int
	lastError  string
	retryAfter *time.Time
	enqueuedAt time.Time

	dbj *GormDBJob
	db  *gorm.DB
}

type GormDBJob struct {
	gorm.Model
	JobID       string `gorm:"index"`
	ContentType string `gorm:"uniqueIndex:idx_job_content"`
	ContentID   string `gorm:"uniqueIndex:idx_job_content"`
	AuthorID    string
	Text        string
	State       string `gorm:"index"`
	Attempt     int
	LastError   string
	RetryAfter  *time.Time
}

// Gormstore is a gorm-backed implementation of the Store interface. Jobs are
// cached in memory and persisted on every state change, so the queue
// survives restarts.
type Gormstore struct {
	lk   sync.RWMutex
	jobs map[string]*Gormjob
	db   *gorm.DB
}

var _ Store = (*Gormstore)(nil)

func NewGormstore(db *gorm.DB) (*Gormstore, error) {
	if err := db.AutoMigrate(&GormDBJob{}); err != nil {
		return nil, err
	}
	return &Gormstore{
		jobs: make(map[string]*Gormjob),
		db:   db,
	}, nil
}

// LoadJobs hydrates the in-memory cache from the database. Jobs left in
// "processing" by a crashed worker are reset to enqueued for redispatch.
func (s *Gormstore) LoadJobs(ctx context.Context) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	limit := 20_000
	offset := 0
	for {
		var dbjobs []*GormDBJob
		if err := s.db.Limit(limit).Offset(offset).Find(&dbjobs).Error; err != nil {
			return err
		}
		if len(dbjobs) == 0 {
			break
		}
		offset += len(dbjobs)

		for i := range dbjobs {
			dbj := dbjobs[i]
			if dbj.State == StateProcessing {
				dbj.State = StateEnqueued
				if err := s.db.Save(dbj).Error; err != nil {
					return err
				}
			}
			s.jobs[content.Key(content.ContentType(dbj.ContentType), dbj.ContentID)] = hydrate(dbj, s.db)
		}
	}
	return nil
}

func hydrate(dbj *GormDBJob, db *gorm.DB) *Gormjob {
	return &Gormjob{
		contentType: content.ContentType(dbj.ContentType),
		contentID:   dbj.ContentID,
		authorID:    dbj.AuthorID,
		text:        dbj.Text,
		state:       dbj.State,
		attempt:     dbj.Attempt,
		lastError:   dbj.LastError,
		retryAfter:  dbj.RetryAfter,
		enqueuedAt:  dbj.CreatedAt,

		dbj: dbj,
		db:  db,
	}
}

func (s *Gormstore) Enqueue(ctx context.Context, t content.ContentType, contentID, authorID, text string) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	key := content.Key(t, contentID)
	if j, ok := s.jobs[key]; ok {
		return j.reenqueue(ctx, text)
	}

	dbj := &GormDBJob{
		JobID:       uuid.NewString(),
		ContentType: string(t),
		ContentID:   contentID,
		AuthorID:    authorID,
		Text:        text,
		State:       StateEnqueued,
	}
	if err := s.db.WithContext(ctx).Create(dbj).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// row exists but wasn't cached; load it instead
			return s.loadIntoCacheLocked(ctx, key, t, contentID)
		}
		return errors.Join(ErrQueueUnavailable, err)
	}

	j := hydrate(dbj, s.db)
	j.enqueuedAt = time.Now().UTC()
	s.jobs[key] = j
	jobsEnqueued.Inc()
	return nil
}

// reenqueue resets a terminal job for re-screening; live jobs are left
// alone (the no-op that deduplicates producer retries).
func (j *Gormjob) reenqueue(ctx context.Context, text string) error {
	j.lk.Lock()
	defer j.lk.Unlock()

	switch j.state {
	case StateEnqueued, StateProcessing:
		return nil
	}

	j.state = StateEnqueued
	j.attempt = 0
	j.lastError = ""
	j.retryAfter = nil
	j.text = text
	j.enqueuedAt = time.Now().UTC()

	j.dbj.State = StateEnqueued
	j.dbj.Attempt = 0
	j.dbj.LastError = ""
	j.dbj.RetryAfter = nil
	j.dbj.Text = text
	if err := j.db.WithContext(ctx).Save(j.dbj).Error; err != nil {
		return errors.Join(ErrQueueUnavailable, err)
	}
	jobsEnqueued.Inc()
	return nil
}

func (s *Gormstore) loadIntoCacheLocked(ctx context.Context, key string, t content.ContentType, contentID string) error {
	var dbj GormDBJob
	if err := s.db.WithContext(ctx).
		First(&dbj, "content_type = ? AND content_id = ?", string(t), contentID).Error; err != nil {
		return errors.Join(ErrQueueUnavailable, err)
	}
	s.jobs[key] = hydrate(&dbj, s.db)
	return nil
}

func (s *Gormstore) GetJob(ctx context.Context, t content.ContentType, contentID string) (Job, error) {
	s.lk.RLock()
	j, ok := s.jobs[content.Key(t, contentID)]
	s.lk.RUnlock()
	if ok {
		return j, nil
	}

	var dbj GormDBJob
	err := s.db.WithContext(ctx).
		First(&dbj, "content_type = ? AND content_id = ?", string(t), contentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	s.lk.Lock()
	defer s.lk.Unlock()
	// racing load; keep the first one in
	if exist, ok := s.jobs[content.Key(t, contentID)]; ok {
		return exist, nil
	}
	j = hydrate(&dbj, s.db)
	s.jobs[content.Key(t, contentID)] = j
	return j, nil
}

func (s *Gormstore) GetNextEnqueuedJob(ctx context.Context) (Job, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()

	now := time.Now()
	for _, j := range s.jobs {
		j.lk.Lock()
		ready := j.state == StateEnqueued && (j.retryAfter == nil || now.After(*j.retryAfter))
		j.lk.Unlock()
		if ready {
			return j, nil
		}
	}
	return nil, nil
}

func (s *Gormstore) ListByState(ctx context.Context, state string, limit int) ([]Job, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()

	out := []Job{}
	for _, j := range s.jobs {
		if j.State() == state {
			out = append(out, j)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (j *Gormjob) ID() string                       { return j.dbj.JobID }
func (j *Gormjob) ContentType() content.ContentType { return j.contentType }
func (j *Gormjob) ContentID() string                { return j.contentID }
func (j *Gormjob) AuthorID() string                 { return j.authorID }

func (j *Gormjob) Text() string {
	j.lk.Lock()
	defer j.lk.Unlock()
	return j.text
}

func (j *Gormjob) EnqueuedAt() time.Time {
	j.lk.Lock()
	defer j.lk.Unlock()
	return j.enqueuedAt
}

func (j *Gormjob) Attempt() int {
	j.lk.Lock()
	defer j.lk.Unlock()
	return j.attempt
}

func (j *Gormjob) State() string {
	j.lk.Lock()
	defer j.lk.Unlock()
	return j.state
}

func (j *Gormjob) LastError() string {
	j.lk.Lock()
	defer j.lk.Unlock()
	return j.lastError
}

func (j *Gormjob) SetState(ctx context.Context, state string) error {
	j.lk.Lock()
	defer j.lk.Unlock()

	j.state = state

	j.dbj.State = state
	return j.db.WithContext(ctx).Save(j.dbj).Error
}

func (j *Gormjob) Fail(ctx context.Context, reason string) (string, error) {
	j.lk.Lock()
	defer j.lk.Unlock()

	j.attempt++
	j.lastError = reason
	if j.attempt >= MaxAttempts {
		j.state = StateDeadLetter
		j.retryAfter = nil
	} else {
		next := time.Now().Add(computeExponentialBackoff(j.attempt))
		j.retryAfter = &next
		j.state = StateEnqueued
	}

	j.dbj.State = j.state
	j.dbj.Attempt = j.attempt
	j.dbj.LastError = j.lastError
	j.dbj.RetryAfter = j.retryAfter
	return j.state, j.db.WithContext(ctx).Save(j.dbj).Error
}
