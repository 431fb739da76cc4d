// Package flagstore persists moderation flags and enforces their lifecycle.
//
// A flag is created once per piece of content (the store enforces the
// at-most-one invariant) and moves pending -> approved or pending ->
// rejected exactly once. Flags are never deleted; resolved records remain as
// the audit trail.
package flagstore

import (
	"context"
	"errors"
	"time"

	"github.com/fernwood/warden/content"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// ErrAlreadyFlagged is returned by CreateFlag when a flag already exists for
// the content. The worker absorbs this silently; it is the idempotency guard.
var ErrAlreadyFlagged = errors.New("content already flagged")

// ErrNotFound is returned for unknown flag IDs.
var ErrNotFound = errors.New("flag not found")

// ErrInvalidTransition is returned when resolving a flag that is not
// pending. A retried or double-clicked admin action lands here rather than
// double-applying.
var ErrInvalidTransition = errors.New("flag is not pending")

type FlagRecord struct {
	ID              uint                `json:"id"`
	ContentType     content.ContentType `json:"contentType"`
	ContentID       string              `json:"contentId"`
	AuthorID        string              `json:"authorId"`
	Reason          string              `json:"reason"`
	Status          string              `json:"status"`
	RejectionReason string              `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	ResolvedAt      *time.Time          `json:"resolvedAt,omitempty"`
	ResolvedBy      string              `json:"resolvedBy,omitempty"`
}

// ListFilter narrows List queries; zero values mean "any".
type ListFilter struct {
	Status      string
	ContentType content.ContentType
}

// FlagStore is the single source of truth for flag state. Status transitions
// are compare-and-swap on the pending status, so concurrent admin actions on
// the same record cannot both succeed.
type FlagStore interface {
	CreateFlag(ctx context.Context, t content.ContentType, contentID, authorID, reason string) (*FlagRecord, error)
	Get(ctx context.Context, id uint) (*FlagRecord, error)
	Approve(ctx context.Context, id uint, adminID string) (*FlagRecord, error)
	// Reject marks the flag rejected; rejectionReason falls back to the
	// flag's original reason when empty.
	Reject(ctx context.Context, id uint, adminID, rejectionReason string) (*FlagRecord, error)
	List(ctx context.Context, filter ListFilter, page, limit int) ([]*FlagRecord, error)
	ListByAuthor(ctx context.Context, authorID string, page, limit int) ([]*FlagRecord, error)

	// read-side rollups for the stats aggregator
	CountByStatus(ctx context.Context) (map[string]int64, error)
	CountByType(ctx context.Context) (map[string]int64, error)
	RecentFlagged(ctx context.Context, n int) ([]*FlagRecord, error)
}

// ClampPage normalizes page/limit values shared by both implementations.
func ClampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 25
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
