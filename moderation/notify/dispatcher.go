package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Dispatcher is the production Notifier: it checks the owner's notification
// preference, then hands the event to the mailer, retrying transient send
// failures with exponential backoff.
type Dispatcher struct {
	Mailer Mailer
	Prefs  Preferences
	Logger *slog.Logger

	// MaxElapsed bounds the total time spent retrying one delivery;
	// InitialInterval is the first retry delay.
	MaxElapsed      time.Duration
	InitialInterval time.Duration

	prefCache *lru.LRU[string, bool]
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(mailer Mailer, prefs Preferences, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Mailer:          mailer,
		Prefs:           prefs,
		Logger:          logger.With("source", "notify_dispatcher"),
		MaxElapsed:      time.Minute,
		InitialInterval: time.Second,
		prefCache:       lru.NewLRU[string, bool](10_000, nil, 5*time.Minute),
	}
}

func (d *Dispatcher) emailEnabled(ctx context.Context, userID string) (bool, error) {
	if v, ok := d.prefCache.Get(userID); ok {
		return v, nil
	}
	enabled, err := d.Prefs.EmailEnabled(ctx, userID)
	if err != nil {
		return false, err
	}
	d.prefCache.Add(userID, enabled)
	return enabled, nil
}

func (d *Dispatcher) Notify(ctx context.Context, userID string, event Event, info EventContext) error {
	log := d.Logger.With("userID", userID, "event", string(event), "contentKey", info.ContentType+"/"+info.ContentID)

	enabled, err := d.emailEnabled(ctx, userID)
	if err != nil {
		// can't read the preference; deliver anyway rather than drop
		log.Warn("failed to read notification preference, sending anyway", "err", err)
		enabled = true
	}
	if !enabled {
		log.Info("notification skipped, user opted out")
		notificationsSkipped.Inc()
		return nil
	}

	templateCtx := map[string]string{
		"contentType": info.ContentType,
		"contentId":   info.ContentID,
		"reason":      info.Reason,
	}
	if info.RejectionReason != "" {
		templateCtx["rejectionReason"] = info.RejectionReason
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.InitialInterval
	policy.MaxElapsedTime = d.MaxElapsed

	err = backoff.Retry(func() error {
		return d.Mailer.SendEmail(ctx, userID, templateForEvent(event), templateCtx)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		log.Error("notification delivery failed after retries", "err", err)
		notificationsFailed.Inc()
		return err
	}

	notificationsSent.Inc()
	log.Debug("notification delivered")
	return nil
}
