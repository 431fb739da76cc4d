package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	lk       sync.Mutex
	sent     []sendEmailRequest
	failures int
}

func (m *fakeMailer) SendEmail(ctx context.Context, userID, templateID string, templateContext map[string]string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("smtp relay unavailable")
	}
	m.sent = append(m.sent, sendEmailRequest{UserID: userID, TemplateID: templateID, Context: templateContext})
	return nil
}

func (m *fakeMailer) sentCount() int {
	m.lk.Lock()
	defer m.lk.Unlock()
	return len(m.sent)
}

func TestDispatcherDelivers(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	mailer := &fakeMailer{}
	prefs := NewMemPreferences()
	d := NewDispatcher(mailer, prefs, nil)

	err := d.Notify(ctx, "user1", EventFlagged, EventContext{
		ContentType: "comment",
		ContentID:   "c1",
		Reason:      "Flagged for: Insult (91%)",
	})
	require.NoError(t, err)
	require.Equal(t, 1, mailer.sentCount())
	assert.Equal("moderation-content-flagged", mailer.sent[0].TemplateID)
	assert.Equal("Flagged for: Insult (91%)", mailer.sent[0].Context["reason"])
}

func TestDispatcherRespectsPreference(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	mailer := &fakeMailer{}
	prefs := NewMemPreferences()
	prefs.SetEmailEnabled("user1", false)
	d := NewDispatcher(mailer, prefs, nil)

	// opted-out user: recorded no-op, not an error
	err := d.Notify(ctx, "user1", EventApproved, EventContext{ContentType: "comment", ContentID: "c1"})
	assert.NoError(err)
	assert.Equal(0, mailer.sentCount())
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	mailer := &fakeMailer{failures: 2}
	d := NewDispatcher(mailer, NewMemPreferences(), nil)
	d.InitialInterval = time.Millisecond
	d.MaxElapsed = 10 * time.Second

	err := d.Notify(ctx, "user1", EventRejected, EventContext{
		ContentType:     "review",
		ContentID:       "r1",
		RejectionReason: "spam",
	})
	require.NoError(t, err)
	require.Equal(t, 1, mailer.sentCount())
	assert.Equal("moderation-flag-rejected", mailer.sent[0].TemplateID)
	assert.Equal("spam", mailer.sent[0].Context["rejectionReason"])
}

func TestDispatcherGivesUpEventually(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	mailer := &fakeMailer{failures: 1000}
	d := NewDispatcher(mailer, NewMemPreferences(), nil)
	d.InitialInterval = time.Millisecond
	d.MaxElapsed = 50 * time.Millisecond

	err := d.Notify(ctx, "user1", EventFlagged, EventContext{ContentType: "comment", ContentID: "c1"})
	assert.Error(err)
	assert.Equal(0, mailer.sentCount())
}
