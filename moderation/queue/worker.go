package queue

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/semaphore"
)

var tracer = otel.Tracer("moderation-queue")

// ProcessFunc screens one job and returns its terminal outcome
// (StateFlagged or StateCleared). A returned error means the attempt failed
// and the job should be rescheduled.
type ProcessFunc func(ctx context.Context, job Job) (string, error)

// Worker dispatches enqueued moderation jobs to a bounded pool of
// goroutines. A single dispatch loop claims jobs, so the same job is never
// processed concurrently.
type Worker struct {
	Name    string
	Store   Store
	Process ProcessFunc

	// Parallel bounds the number of jobs in flight.
	Parallel int
	// PollInterval is how long the dispatch loop idles when the queue is
	// drained.
	PollInterval time.Duration
	// OnDeadLetter, if set, is called after a job exhausts its retries.
	OnDeadLetter func(job Job)

	stop chan chan struct{}
}

type WorkerOptions struct {
	Parallel     int
	PollInterval time.Duration
}

func DefaultWorkerOptions() *WorkerOptions {
	return &WorkerOptions{
		Parallel:     4,
		PollInterval: time.Second,
	}
}

func NewWorker(name string, store Store, process ProcessFunc, opts *WorkerOptions) *Worker {
	if opts == nil {
		opts = DefaultWorkerOptions()
	}
	return &Worker{
		Name:         name,
		Store:        store,
		Process:      process,
		Parallel:     opts.Parallel,
		PollInterval: opts.PollInterval,
		stop:         make(chan chan struct{}, 1),
	}
}

// Start runs the dispatch loop. Expects to be run in its own goroutine.
func (w *Worker) Start() {
	ctx := context.Background()

	log := slog.With("source", "moderation_worker", "name", w.Name)
	log.Info("starting moderation worker")

	sem := semaphore.NewWeighted(int64(w.Parallel))

	for {
		select {
		case stopped := <-w.stop:
			log.Info("stopping moderation worker")
			sem.Acquire(ctx, int64(w.Parallel))
			close(stopped)
			return
		default:
		}

		job, err := w.Store.GetNextEnqueuedJob(ctx)
		if err != nil {
			log.Error("failed to get next enqueued job", "err", err)
			time.Sleep(w.PollInterval)
			continue
		} else if job == nil {
			time.Sleep(w.PollInterval)
			continue
		}

		// claim before dispatch; the single claim loop means no job is ever
		// handed to two goroutines
		if err := job.SetState(ctx, StateProcessing); err != nil {
			log.Error("failed to claim job", "err", err, "contentKey", jobKey(job))
			continue
		}

		sem.Acquire(ctx, 1)
		go func(j Job) {
			defer sem.Release(1)
			w.handleJob(ctx, j)
		}(job)
	}
}

// Stop shuts down the dispatch loop and waits for in-flight jobs.
func (w *Worker) Stop(ctx context.Context) error {
	log := slog.With("source", "moderation_worker", "name", w.Name)
	log.Info("stopping moderation worker")
	stopped := make(chan struct{})
	w.stop <- stopped
	select {
	case <-stopped:
		log.Info("moderation worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) handleJob(ctx context.Context, job Job) {
	ctx, span := tracer.Start(ctx, "handleJob")
	defer span.End()

	start := time.Now()
	log := slog.With("source", "moderation_worker", "name", w.Name, "contentKey", jobKey(job), "attempt", job.Attempt())

	outcome, err := w.Process(ctx, job)
	if err != nil {
		state, ferr := job.Fail(ctx, err.Error())
		if ferr != nil {
			log.Error("failed to record job failure", "err", ferr)
			return
		}
		if state == StateDeadLetter {
			log.Error("moderation job dead-lettered", "err", err, "attempts", job.Attempt())
			jobsDeadLettered.WithLabelValues(w.Name).Inc()
			jobsProcessed.WithLabelValues(w.Name, StateDeadLetter).Inc()
			if w.OnDeadLetter != nil {
				w.OnDeadLetter(job)
			}
		} else {
			log.Warn("moderation job attempt failed, rescheduled", "err", err)
			jobRetries.WithLabelValues(w.Name).Inc()
		}
		return
	}

	if err := job.SetState(ctx, outcome); err != nil {
		log.Error("failed to set job outcome", "err", err, "outcome", outcome)
		return
	}
	jobsProcessed.WithLabelValues(w.Name, outcome).Inc()
	log.Info("moderation job processed", "outcome", outcome, "duration", time.Since(start))
}

func jobKey(j Job) string {
	return string(j.ContentType()) + "/" + j.ContentID()
}
