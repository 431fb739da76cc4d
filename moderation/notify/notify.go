// Package notify delivers moderation events to content owners. Delivery is
// at-least-once and strictly side-channel: a failed delivery is logged and
// counted, never allowed to affect flag state or an admin's request.
package notify

import (
	"context"
)

type Event string

const (
	EventFlagged  Event = "flagged"
	EventApproved Event = "approved"
	EventRejected Event = "rejected"
)

// EventContext carries the details interpolated into the notification
// template.
type EventContext struct {
	ContentType     string `json:"contentType"`
	ContentID       string `json:"contentId"`
	Reason          string `json:"reason,omitempty"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}

// Notifier informs a user about a moderation event. Implementations must
// tolerate duplicate deliveries for the same event.
type Notifier interface {
	Notify(ctx context.Context, userID string, event Event, info EventContext) error
}

// Preferences reads the per-user emailNotification flag, owned by the user
// profile service.
type Preferences interface {
	EmailEnabled(ctx context.Context, userID string) (bool, error)
}

// Mailer is the boundary with the external email capability.
type Mailer interface {
	SendEmail(ctx context.Context, userID, templateID string, templateContext map[string]string) error
}

func templateForEvent(event Event) string {
	switch event {
	case EventFlagged:
		return "moderation-content-flagged"
	case EventApproved:
		return "moderation-flag-approved"
	case EventRejected:
		return "moderation-flag-rejected"
	default:
		return "moderation-generic"
	}
}
