package queue

import (
	"context"
	"sync"
	"time"

	"github.com/fernwood/warden/content"

	"github.com/google/uuid"
)

// Memjob is an in-memory moderation job.
type Memjob struct {
	id          string
	contentType content.ContentType
	contentID   string
	authorID    string

	lk         sync.Mutex
	text       string
	enqueuedAt time.Time
	state      string
	attempt    int
	lastError  string
	retryAfter *time.Time
}

// Memstore is an in-memory implementation of the Store interface, for tests
// and local development.
type Memstore struct {
	lk   sync.RWMutex
	jobs map[string]*Memjob
}

var _ Store = (*Memstore)(nil)

func NewMemstore() *Memstore {
	return &Memstore{
		jobs: make(map[string]*Memjob),
	}
}

func (s *Memstore) Enqueue(ctx context.Context, t content.ContentType, contentID, authorID, text string) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	key := content.Key(t, contentID)
	if j, ok := s.jobs[key]; ok {
		j.lk.Lock()
		defer j.lk.Unlock()
		switch j.state {
		case StateEnqueued, StateProcessing:
			// live job, the new submission rides along with it
			return nil
		default:
			// terminal; reset for re-screening
			j.state = StateEnqueued
			j.attempt = 0
			j.lastError = ""
			j.retryAfter = nil
			j.text = text
			j.enqueuedAt = time.Now().UTC()
			jobsEnqueued.Inc()
			return nil
		}
	}

	s.jobs[key] = &Memjob{
		id:          uuid.NewString(),
		contentType: t,
		contentID:   contentID,
		authorID:    authorID,
		text:        text,
		enqueuedAt:  time.Now().UTC(),
		state:       StateEnqueued,
	}
	jobsEnqueued.Inc()
	return nil
}

func (s *Memstore) GetJob(ctx context.Context, t content.ContentType, contentID string) (Job, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()

	j, ok := s.jobs[content.Key(t, contentID)]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j, nil
}

func (s *Memstore) GetNextEnqueuedJob(ctx context.Context) (Job, error) {
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

func (s *Memstore) ListByState(ctx context.Context, state string, limit int) ([]Job, error) {
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

func (j *Memjob) ID() string                       { return j.id }
func (j *Memjob) ContentType() content.ContentType { return j.contentType }
func (j *Memjob) ContentID() string                { return j.contentID }
func (j *Memjob) AuthorID() string                 { return j.authorID }
func (j *Memjob) Text() string {
	j.lk.Lock()
	defer j.lk.Unlock()
	return j.text
}

func (j *Memjob) EnqueuedAt() time.Time {
	j.lk.Lock()
	defer j.lk.Unlock()
	return j.enqueuedAt
}

func (j *Memjob) Attempt() int {
	j.lk.Lock()
	defer j.lk.Unlock()
	return j.attempt
}

func (j *Memjob) State() string {
	j.lk.Lock()
	defer j.lk.Unlock()
	return j.state
}

func (j *Memjob) LastError() string {
	j.lk.Lock()
	defer j.lk.Unlock()
	return j.lastError
}

func (j *Memjob) SetState(ctx context.Context, state string) error {
	j.lk.Lock()
	defer j.lk.Unlock()
	j.state = state
	return nil
}

func (j *Memjob) Fail(ctx context.Context, reason string) (string, error) {
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
	return j.state, nil
}
