package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsSent = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_notifications_sent_total",
	Help: "The total number of moderation notifications delivered",
})

var notificationsSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_notifications_skipped_total",
	Help: "The total number of moderation notifications skipped due to user preference",
})

var notificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_notifications_failed_total",
	Help: "The total number of moderation notifications that failed after retries",
})
