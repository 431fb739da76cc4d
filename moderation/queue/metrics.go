package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_queue_jobs_enqueued_total",
	Help: "The total number of moderation jobs enqueued",
})

var jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_queue_jobs_processed_total",
	Help: "The total number of moderation jobs reaching a terminal state",
}, []string{"worker_name", "outcome"})

var jobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_queue_job_retries_total",
	Help: "The total number of moderation job attempts that failed and were rescheduled",
}, []string{"worker_name"})

var jobsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_queue_jobs_dead_lettered_total",
	Help: "The total number of moderation jobs dead-lettered after exhausting retries",
}, []string{"worker_name"})
