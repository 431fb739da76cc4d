// Package moderation is the core of the warden pipeline: it turns
// classification results into verdicts, drives queued jobs to a terminal
// outcome, and applies admin resolutions to flags.
package moderation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fernwood/warden/auth"
	"github.com/fernwood/warden/content"
	"github.com/fernwood/warden/moderation/classifier"
	"github.com/fernwood/warden/moderation/flagstore"
	"github.com/fernwood/warden/moderation/notify"
	"github.com/fernwood/warden/moderation/queue"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("moderation")

// notifyTimeout bounds the background delivery of a single owner
// notification, including the dispatcher's retries.
var notifyTimeout = 5 * time.Minute

type Engine struct {
	Logger     *slog.Logger
	Classifier classifier.Classifier
	Flags      flagstore.FlagStore
	Queue      queue.Store
	Content    content.Source
	Notifier   notify.Notifier

	// Slack, when set, mirrors new flags to the ops channel.
	Slack *notify.SlackNotifier

	// Invalidate, when set, is called after every flag mutation so read-side
	// rollups pick the change up promptly.
	Invalidate func(ctx context.Context)

	// FailClosed makes EnqueueContent surface queue outages to the caller
	// instead of swallowing them. Default is fail-open: content publication
	// never waits on the moderation pipeline.
	FailClosed bool
}

func (e *Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) invalidate(ctx context.Context) {
	if e.Invalidate != nil {
		e.Invalidate(ctx)
	}
}

// PreviewCheck classifies text synchronously and returns the verdict that
// the worker path would reach for the same text. Nothing is persisted.
func (e *Engine) PreviewCheck(ctx context.Context, text string) (*Verdict, error) {
	ctx, span := tracer.Start(ctx, "PreviewCheck")
	defer span.End()

	res, err := e.Classifier.Analyze(ctx, text)
	if err != nil {
		if !errors.Is(err, classifier.ErrInvalidInput) {
			classifierErrors.WithLabelValues("preview").Inc()
		}
		return nil, err
	}
	verdict := Decide(res)
	previewsChecked.WithLabelValues(outcomeLabel(verdict.IsToxic)).Inc()
	return &verdict, nil
}

// EnqueueContent records a moderation job for newly submitted content.
// Duplicate submissions for content with a live job are no-ops. A queue
// outage is logged and absorbed unless the engine is configured fail-closed.
func (e *Engine) EnqueueContent(ctx context.Context, ref *content.ContentRef) error {
	ctx, span := tracer.Start(ctx, "EnqueueContent")
	defer span.End()

	if !ref.Type.Valid() {
		return content.ErrNotFound
	}
	if err := e.Queue.Enqueue(ctx, ref.Type, ref.ID, ref.AuthorID, ref.Text); err != nil {
		enqueueFailures.Inc()
		e.log().Error("failed to enqueue content for moderation",
			"contentType", ref.Type, "contentID", ref.ID, "err", err)
		if e.FailClosed {
			return err
		}
		return nil
	}
	return nil
}

// ProcessJob screens one queued job and returns its terminal state. A
// returned error means the attempt failed transiently and the worker should
// retry the job.
func (e *Engine) ProcessJob(ctx context.Context, job queue.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "ProcessJob")
	defer span.End()

	log := e.log().With("contentType", job.ContentType(), "contentID", job.ContentID())

	// content deleted between submission and dequeue is not screened
	if _, err := e.Content.Get(ctx, job.ContentType(), job.ContentID()); err != nil {
		if errors.Is(err, content.ErrNotFound) {
			log.Info("content deleted before screening, clearing job")
			return queue.StateCleared, nil
		}
		return "", err
	}

	res, err := e.Classifier.Analyze(ctx, job.Text())
	if err != nil {
		if errors.Is(err, classifier.ErrInvalidInput) {
			log.Warn("content text not classifiable, clearing job", "err", err)
			return queue.StateCleared, nil
		}
		classifierErrors.WithLabelValues("worker").Inc()
		return "", err
	}

	verdict := Decide(res)
	if !verdict.IsToxic {
		return queue.StateCleared, nil
	}

	flag, err := e.Flags.CreateFlag(ctx, job.ContentType(), job.ContentID(), job.AuthorID(), verdict.Reason)
	if err != nil {
		if errors.Is(err, flagstore.ErrAlreadyFlagged) {
			log.Info("content already flagged, discarding duplicate verdict")
			return queue.StateFlagged, nil
		}
		return "", err
	}

	flagsCreated.Inc()
	log.Info("flag created", "flagID", flag.ID, "reason", flag.Reason)
	e.invalidate(ctx)
	e.notifyOwner(flag, notify.EventFlagged)
	if e.Slack != nil {
		if err := e.Slack.SendFlagCreated(ctx, string(flag.ContentType), flag.ContentID, flag.AuthorID, flag.Reason); err != nil {
			log.Warn("failed to post flag to slack", "err", err)
		}
	}
	return queue.StateFlagged, nil
}

// ApproveFlag resolves a pending flag as a confirmed violation. Admin only.
func (e *Engine) ApproveFlag(ctx context.Context, p *auth.Principal, flagID uint) (*flagstore.FlagRecord, error) {
	ctx, span := tracer.Start(ctx, "ApproveFlag")
	defer span.End()

	if p == nil {
		return nil, auth.ErrNoPrincipal
	}
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}

	rec, err := e.Flags.Approve(ctx, flagID, p.UserID)
	if err != nil {
		return nil, err
	}
	flagsResolved.WithLabelValues(flagstore.StatusApproved).Inc()
	e.log().Info("flag approved", "flagID", rec.ID, "adminID", p.UserID)
	e.invalidate(ctx)
	e.notifyOwner(rec, notify.EventApproved)
	return rec, nil
}

// RejectFlag resolves a pending flag as a false positive. Admin only. The
// rejection is informational: the original verdict and reason stay on the
// record for audit.
func (e *Engine) RejectFlag(ctx context.Context, p *auth.Principal, flagID uint, rejectionReason string) (*flagstore.FlagRecord, error) {
	ctx, span := tracer.Start(ctx, "RejectFlag")
	defer span.End()

	if p == nil {
		return nil, auth.ErrNoPrincipal
	}
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}

	rec, err := e.Flags.Reject(ctx, flagID, p.UserID, rejectionReason)
	if err != nil {
		return nil, err
	}
	flagsResolved.WithLabelValues(flagstore.StatusRejected).Inc()
	e.log().Info("flag rejected", "flagID", rec.ID, "adminID", p.UserID)
	e.invalidate(ctx)
	e.notifyOwner(rec, notify.EventRejected)
	return rec, nil
}

// notifyOwner hands the event to the dispatcher in the background. The
// dispatcher retries on its own; a delivery that still fails is logged there
// and never bubbles back into flag state or an admin's request.
func (e *Engine) notifyOwner(rec *flagstore.FlagRecord, event notify.Event) {
	if e.Notifier == nil {
		return
	}
	info := notify.EventContext{
		ContentType:     string(rec.ContentType),
		ContentID:       rec.ContentID,
		Reason:          rec.Reason,
		RejectionReason: rec.RejectionReason,
	}
	userID := rec.AuthorID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.Notifier.Notify(ctx, userID, event, info); err != nil {
			e.log().Error("owner notification failed",
				"userID", userID, "event", event, "err", err)
		}
	}()
}

func outcomeLabel(toxic bool) string {
	if toxic {
		return "toxic"
	}
	return "clean"
}
