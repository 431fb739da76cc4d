// Package queue holds moderation jobs between content submission and a
// terminal screening outcome, and runs the worker pool that drains them.
//
// There is at most one live job per content item: re-enqueueing the same
// (type, id) while a job is queued or processing is a no-op. Combined with
// the single dispatch loop, this serializes processing per content item,
// which is what upholds the at-most-one-flag invariant under concurrent
// workers.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/fernwood/warden/content"
)

var (
	// StateEnqueued is the state of a job awaiting dispatch (including jobs
	// scheduled for a retry).
	StateEnqueued = "enqueued"
	// StateProcessing is the state of a job claimed by a worker.
	StateProcessing = "processing"
	// StateFlagged is the terminal state of a job whose verdict was toxic.
	StateFlagged = "flagged"
	// StateCleared is the terminal state of a job whose verdict was clean,
	// whose content was deleted before processing, or whose flag already
	// existed.
	StateCleared = "cleared"
	// StateDeadLetter is the terminal state of a job that exhausted retries.
	// Held for inspection, never redispatched.
	StateDeadLetter = "dead_letter"
)

// MaxAttempts is the number of processing attempts before a job is
// dead-lettered.
var MaxAttempts = 5

// BackoffBase is the first retry delay; each further attempt doubles it.
var BackoffBase = 2 * time.Second

func computeExponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * BackoffBase
}

// ErrJobNotFound is returned for unknown content keys.
var ErrJobNotFound = errors.New("job not found")

// ErrQueueUnavailable indicates the backing store could not record the job.
// Content publication proceeds regardless; callers log and move on.
var ErrQueueUnavailable = errors.New("moderation queue unavailable")

// Job is a queued moderation task for one piece of content.
type Job interface {
	ID() string
	ContentType() content.ContentType
	ContentID() string
	AuthorID() string
	Text() string
	EnqueuedAt() time.Time
	Attempt() int
	State() string
	LastError() string

	SetState(ctx context.Context, state string) error
	// Fail records a failed attempt: the job is rescheduled with exponential
	// backoff, or dead-lettered once MaxAttempts is reached. Returns the
	// resulting state.
	Fail(ctx context.Context, reason string) (string, error)
}

// Store is the durable intake for moderation jobs.
type Store interface {
	// Enqueue records a job for the given content. Enqueueing content which
	// already has a live job is a no-op.
	Enqueue(ctx context.Context, t content.ContentType, contentID, authorID, text string) error
	GetJob(ctx context.Context, t content.ContentType, contentID string) (Job, error)
	// GetNextEnqueuedJob returns a dispatchable job, or nil when the queue
	// is drained. Only the worker dispatch loop calls this.
	GetNextEnqueuedJob(ctx context.Context) (Job, error)
	ListByState(ctx context.Context, state string, limit int) ([]Job, error)
}
