package moderation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fernwood/warden/auth"
	"github.com/fernwood/warden/content"
	"github.com/fernwood/warden/moderation/classifier"
	"github.com/fernwood/warden/moderation/flagstore"
	"github.com/fernwood/warden/moderation/notify"
	"github.com/fernwood/warden/moderation/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClassifier struct {
	lk      sync.Mutex
	results map[string]*classifier.ClassificationResult
	err     error
	calls   int
}

func (c *fixedClassifier) Analyze(ctx context.Context, text string) (*classifier.ClassificationResult, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.calls++
	if err := classifier.ValidateText(text); err != nil {
		return nil, err
	}
	if c.err != nil {
		return nil, c.err
	}
	if res, ok := c.results[text]; ok {
		return res, nil
	}
	return &classifier.ClassificationResult{SentimentScore: 0.5, AnalyzedAt: time.Now()}, nil
}

func (c *fixedClassifier) callCount() int {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.calls
}

type recordedEvent struct {
	userID string
	event  notify.Event
	info   notify.EventContext
}

type recordingNotifier struct {
	lk     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, userID string, event notify.Event, info notify.EventContext) error {
	n.lk.Lock()
	defer n.lk.Unlock()
	n.events = append(n.events, recordedEvent{userID: userID, event: event, info: info})
	return nil
}

func (n *recordingNotifier) snapshot() []recordedEvent {
	n.lk.Lock()
	defer n.lk.Unlock()
	return append([]recordedEvent{}, n.events...)
}

// waitForEvents polls for asynchronous owner notifications.
func (n *recordingNotifier) waitForEvents(t *testing.T, count int) []recordedEvent {
	t.Helper()
	for i := 0; i < 200; i++ {
		if evs := n.snapshot(); len(evs) >= count {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d notifications, have %d", count, len(n.snapshot()))
	return nil
}

type testEnv struct {
	engine   *Engine
	cls      *fixedClassifier
	flags    *flagstore.MemFlagStore
	jobs     *queue.Memstore
	source   *content.MemSource
	notifier *recordingNotifier

	lk          sync.Mutex
	invalidated int
}

func newTestEnv() *testEnv {
	env := &testEnv{
		cls:      &fixedClassifier{results: make(map[string]*classifier.ClassificationResult)},
		flags:    flagstore.NewMemFlagStore(),
		jobs:     queue.NewMemstore(),
		source:   content.NewMemSource(),
		notifier: &recordingNotifier{},
	}
	env.engine = &Engine{
		Classifier: env.cls,
		Flags:      env.flags,
		Queue:      env.jobs,
		Content:    env.source,
		Notifier:   env.notifier,
		Invalidate: func(ctx context.Context) {
			env.lk.Lock()
			env.invalidated++
			env.lk.Unlock()
		},
	}
	return env
}

func (env *testEnv) submit(t *testing.T, ref *content.ContentRef) queue.Job {
	t.Helper()
	ctx := context.Background()
	env.source.Put(ref)
	require.NoError(t, env.engine.EnqueueContent(ctx, ref))
	job, err := env.jobs.GetNextEnqueuedJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func (env *testEnv) invalidations() int {
	env.lk.Lock()
	defer env.lk.Unlock()
	return env.invalidated
}

func TestProcessJobFlagsToxicContent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	text := "I hate you, you are a worthless idiot"
	env.cls.results[text] = &classifier.ClassificationResult{
		SentimentScore: -0.9,
		Categories:     []classifier.Category{{Name: "Insult", Confidence: 0.91}},
	}

	job := env.submit(t, &content.ContentRef{
		Type: content.TypeComment, ID: "c1", AuthorID: "author1", Text: text,
	})

	state, err := env.engine.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(queue.StateFlagged, state)

	recs, err := env.flags.List(ctx, flagstore.ListFilter{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(flagstore.StatusPending, recs[0].Status)
	assert.Equal("Flagged for: Insult (91%)", recs[0].Reason)
	assert.Equal("author1", recs[0].AuthorID)

	evs := env.notifier.waitForEvents(t, 1)
	assert.Equal("author1", evs[0].userID)
	assert.Equal(notify.EventFlagged, evs[0].event)
	assert.Equal("c1", evs[0].info.ContentID)
	assert.Equal(1, env.invalidations())
}

func TestProcessJobClearsCleanContent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	job := env.submit(t, &content.ContentRef{
		Type: content.TypeReview, ID: "r1", AuthorID: "author2",
		Text: "Great product, works exactly as described",
	})

	state, err := env.engine.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(queue.StateCleared, state)

	recs, err := env.flags.List(ctx, flagstore.ListFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Empty(recs)
	assert.Empty(env.notifier.snapshot())
}

func TestProcessJobClearsDeletedContent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	job := env.submit(t, &content.ContentRef{
		Type: content.TypeComment, ID: "c2", AuthorID: "author1", Text: "whatever",
	})
	env.source.Delete(content.TypeComment, "c2")

	state, err := env.engine.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(queue.StateCleared, state)
	assert.Zero(env.cls.callCount())
}

func TestProcessJobAbsorbsExistingFlag(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	text := "you absolute moron"
	env.cls.results[text] = &classifier.ClassificationResult{
		Categories: []classifier.Category{{Name: "Insult", Confidence: 0.85}},
	}
	_, err := env.flags.CreateFlag(ctx, content.TypeComment, "c3", "author1", "Flagged for: Insult (85%)")
	require.NoError(t, err)

	job := env.submit(t, &content.ContentRef{
		Type: content.TypeComment, ID: "c3", AuthorID: "author1", Text: text,
	})

	state, err := env.engine.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(queue.StateFlagged, state)

	recs, err := env.flags.List(ctx, flagstore.ListFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Len(recs, 1)
	assert.Empty(env.notifier.snapshot())
}

func TestProcessJobRetriesOnClassifierOutage(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()
	env.cls.err = classifier.ErrUnavailable

	job := env.submit(t, &content.ContentRef{
		Type: content.TypeComment, ID: "c4", AuthorID: "author1", Text: "some text",
	})

	state, err := env.engine.ProcessJob(ctx, job)
	assert.ErrorIs(err, classifier.ErrUnavailable)
	assert.Empty(state)

	recs, err := env.flags.List(ctx, flagstore.ListFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Empty(recs)
}

func TestProcessJobClearsUnclassifiableText(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	job := env.submit(t, &content.ContentRef{
		Type: content.TypeComment, ID: "c5", AuthorID: "author1", Text: "",
	})

	state, err := env.engine.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(queue.StateCleared, state)
}

func TestPreviewMatchesWorkerPath(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	env := newTestEnv()
	kw := classifier.NewKeywordClassifier()
	env.engine.Classifier = kw
	env.cls = nil

	text := "I hate you, you are a worthless idiot"
	preview, err := env.engine.PreviewCheck(ctx, text)
	require.NoError(t, err)
	require.True(t, preview.IsToxic)

	env.source.Put(&content.ContentRef{Type: content.TypeComment, ID: "c6", AuthorID: "author1", Text: text})
	require.NoError(t, env.engine.EnqueueContent(ctx, &content.ContentRef{
		Type: content.TypeComment, ID: "c6", AuthorID: "author1", Text: text,
	}))
	job, err := env.jobs.GetNextEnqueuedJob(ctx)
	require.NoError(t, err)

	state, err := env.engine.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(queue.StateFlagged, state)

	recs, err := env.flags.List(ctx, flagstore.ListFilter{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(preview.Reason, recs[0].Reason)
}

func TestPreviewInvalidInput(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv()

	_, err := env.engine.PreviewCheck(context.Background(), "")
	assert.ErrorIs(err, classifier.ErrInvalidInput)
}

func TestApproveFlagAuthorization(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	flag, err := env.flags.CreateFlag(ctx, content.TypeComment, "c7", "author1", "Flagged for: Threat (80%)")
	require.NoError(t, err)

	_, err = env.engine.ApproveFlag(ctx, nil, flag.ID)
	assert.ErrorIs(err, auth.ErrNoPrincipal)

	user := &auth.Principal{UserID: "user1", Role: auth.RoleUser}
	_, err = env.engine.ApproveFlag(ctx, user, flag.ID)
	assert.ErrorIs(err, auth.ErrForbidden)

	admin := &auth.Principal{UserID: "admin1", Role: auth.RoleAdmin}
	rec, err := env.engine.ApproveFlag(ctx, admin, flag.ID)
	require.NoError(t, err)
	assert.Equal(flagstore.StatusApproved, rec.Status)
	assert.Equal("admin1", rec.ResolvedBy)

	// second resolution attempt must not double-apply
	_, err = env.engine.ApproveFlag(ctx, admin, flag.ID)
	assert.ErrorIs(err, flagstore.ErrInvalidTransition)

	evs := env.notifier.waitForEvents(t, 1)
	assert.Len(evs, 1)
	assert.Equal(notify.EventApproved, evs[0].event)
	assert.Equal("author1", evs[0].userID)
}

func TestRejectFlagDefaultsReason(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	env := newTestEnv()

	flag, err := env.flags.CreateFlag(ctx, content.TypeReview, "r2", "author2", "Flagged for: Spam (75%)")
	require.NoError(t, err)

	admin := &auth.Principal{UserID: "admin1", Role: auth.RoleAdmin}
	rec, err := env.engine.RejectFlag(ctx, admin, flag.ID, "")
	require.NoError(t, err)
	assert.Equal(flagstore.StatusRejected, rec.Status)
	assert.Equal("Flagged for: Spam (75%)", rec.RejectionReason)

	evs := env.notifier.waitForEvents(t, 1)
	assert.Equal(notify.EventRejected, evs[0].event)
	assert.Equal("Flagged for: Spam (75%)", evs[0].info.RejectionReason)
}

type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, t content.ContentType, contentID, authorID, text string) error {
	return queue.ErrQueueUnavailable
}
func (failingQueue) GetJob(ctx context.Context, t content.ContentType, contentID string) (queue.Job, error) {
	return nil, queue.ErrJobNotFound
}
func (failingQueue) GetNextEnqueuedJob(ctx context.Context) (queue.Job, error) {
	return nil, queue.ErrQueueUnavailable
}
func (failingQueue) ListByState(ctx context.Context, state string, limit int) ([]queue.Job, error) {
	return nil, queue.ErrQueueUnavailable
}

func TestEnqueueFailOpen(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	env := newTestEnv()
	env.engine.Queue = failingQueue{}

	ref := &content.ContentRef{Type: content.TypeComment, ID: "c8", AuthorID: "author1", Text: "hi"}

	// default posture: outage is absorbed, publication proceeds
	assert.NoError(env.engine.EnqueueContent(ctx, ref))

	env.engine.FailClosed = true
	assert.ErrorIs(env.engine.EnqueueContent(ctx, ref), queue.ErrQueueUnavailable)
}
