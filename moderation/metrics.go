package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var previewsChecked = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_previews_checked_total",
	Help: "Number of synchronous preview checks, by verdict outcome.",
}, []string{"outcome"})

var flagsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_flags_created_total",
	Help: "Number of moderation flags created.",
})

var flagsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_flags_resolved_total",
	Help: "Number of flags resolved by an admin, by resolution.",
}, []string{"resolution"})

var classifierErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_classifier_errors_total",
	Help: "Number of failed classifier calls, by call path.",
}, []string{"path"})

var enqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_enqueue_failures_total",
	Help: "Number of content submissions the queue failed to record.",
})
