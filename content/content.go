// Package content defines the boundary with the CRUD layer which owns posts,
// comments, and reviews. The moderation core only ever reads content through
// the Source interface; creation, editing, and deletion live elsewhere.
package content

import (
	"context"
	"errors"
)

type ContentType string

const (
	TypeComment ContentType = "comment"
	TypeReview  ContentType = "review"
)

// ErrNotFound is returned by Source when the referenced content does not
// exist (including content deleted by its author after submission).
var ErrNotFound = errors.New("content not found")

// ContentRef identifies a piece of user content being screened. Immutable
// once created; read-only to the moderation core.
type ContentRef struct {
	Type     ContentType `json:"contentType"`
	ID       string      `json:"contentId"`
	AuthorID string      `json:"authorId"`
	PostID   string      `json:"postId,omitempty"`
	Text     string      `json:"text"`
}

// Key is the idempotency key for a piece of content: at most one moderation
// flag and at most one live queue job exist per key.
func (r *ContentRef) Key() string {
	return Key(r.Type, r.ID)
}

func Key(t ContentType, id string) string {
	return string(t) + "/" + id
}

func (t ContentType) Valid() bool {
	return t == TypeComment || t == TypeReview
}

// Source is the read-side contract with the CRUD layer. Get returns
// ErrNotFound for unknown or deleted content; the worker uses this at dequeue
// time to short-circuit jobs whose content has since been deleted.
type Source interface {
	Get(ctx context.Context, t ContentType, id string) (*ContentRef, error)
}
