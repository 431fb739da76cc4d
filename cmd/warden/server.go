package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fernwood/warden/auth"
	"github.com/fernwood/warden/content"
	"github.com/fernwood/warden/moderation"
	"github.com/fernwood/warden/moderation/cachestore"
	"github.com/fernwood/warden/moderation/classifier"
	"github.com/fernwood/warden/moderation/flagstore"
	"github.com/fernwood/warden/moderation/notify"
	"github.com/fernwood/warden/moderation/queue"
	"github.com/fernwood/warden/moderation/stats"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	slogecho "github.com/samber/slog-echo"
	"gorm.io/gorm"
)

type Server struct {
	logger *slog.Logger
	echo   *echo.Echo
	httpd  *http.Server

	engine *moderation.Engine
	jobs   queue.Store
	worker *queue.Worker
	stats  *stats.Aggregator
	cron   *cron.Cron
}

type Config struct {
	Logger              *slog.Logger
	Bind                string
	RedisURL            string
	ClassifierHost      string
	ClassifierAPIKey    string
	ClassifierRateLimit int
	ContentHost         string
	MailerHost          string
	UserHost            string
	SlackWebhookURL     string
	JWTSecret           string
	ParallelWorkers     int
	FailClosed          bool
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	flags, err := flagstore.NewGormFlagStore(db)
	if err != nil {
		return nil, err
	}
	jobs, err := queue.NewGormstore(db)
	if err != nil {
		return nil, err
	}
	if err := jobs.LoadJobs(context.Background()); err != nil {
		return nil, err
	}

	var cache cachestore.CacheStore
	if config.RedisURL != "" {
		csh, err := cachestore.NewRedisCacheStore(config.RedisURL, 30*time.Second)
		if err != nil {
			return nil, err
		}
		cache = csh
	} else {
		cache = cachestore.NewMemCacheStore(5_000, 30*time.Second)
	}

	var cls classifier.Classifier
	if config.ClassifierHost != "" {
		opts := classifier.DefaultHTTPClassifierOptions()
		opts.RequestsPerSecond = config.ClassifierRateLimit
		opts.Logger = logger
		cls = classifier.NewHTTPClassifier(config.ClassifierHost, config.ClassifierAPIKey, opts)
	} else {
		logger.Info("no classifier host configured, using local keyword classifier")
		cls = classifier.NewKeywordClassifier()
	}

	var notifier notify.Notifier
	if config.MailerHost != "" {
		var prefs notify.Preferences
		if config.UserHost != "" {
			prefs = notify.NewHTTPPreferences(config.UserHost)
		} else {
			prefs = notify.NewMemPreferences()
		}
		notifier = notify.NewDispatcher(notify.NewHTTPMailer(config.MailerHost), prefs, logger)
	} else {
		logger.Info("no mailer host configured, owner notifications disabled")
	}

	var slack *notify.SlackNotifier
	if config.SlackWebhookURL != "" {
		slack = &notify.SlackNotifier{SlackWebhookURL: config.SlackWebhookURL}
	}

	agg := stats.NewAggregator(flags, cache, logger)

	engine := &moderation.Engine{
		Logger:     logger,
		Classifier: cls,
		Flags:      flags,
		Queue:      jobs,
		Content:    content.NewHTTPSource(config.ContentHost),
		Notifier:   notifier,
		Slack:      slack,
		Invalidate: agg.Invalidate,
		FailClosed: config.FailClosed,
	}

	workerOpts := queue.DefaultWorkerOptions()
	if config.ParallelWorkers > 0 {
		workerOpts.Parallel = config.ParallelWorkers
	}
	worker := queue.NewWorker("warden", jobs, engine.ProcessJob, workerOpts)

	srv := &Server{
		logger: logger,
		engine: engine,
		jobs:   jobs,
		worker: worker,
		stats:  agg,
		cron:   cron.New(),
	}

	if slack != nil {
		worker.OnDeadLetter = func(job queue.Job) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := slack.SendDeadLetter(ctx, string(job.ContentType()), job.ContentID(), job.Attempt(), job.LastError()); err != nil {
				logger.Warn("failed to post dead-letter to slack", "err", err)
			}
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(auth.Middleware([]byte(config.JWTSecret)))
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.HandleHealthCheck)
	e.POST("/moderation/preview", srv.HandlePreview)
	e.POST("/moderation/submit", srv.HandleSubmit)
	e.GET("/moderation/flags", srv.HandleListFlags)
	e.GET("/users/:userID/flags", srv.HandleUserFlags)
	e.POST("/admin/flags/:flagID/approve", srv.HandleApproveFlag)
	e.POST("/admin/flags/:flagID/reject", srv.HandleRejectFlag)
	e.GET("/admin/stats", srv.HandleStats)
	e.GET("/admin/deadletter", srv.HandleDeadLetter)

	srv.echo = e
	srv.httpd = &http.Server{
		Handler:        e,
		Addr:           config.Bind,
		ReadTimeout:    time.Minute,
		WriteTimeout:   time.Minute,
		MaxHeaderBytes: 1 * (1024 * 1024),
	}

	// periodic visibility into the dead-letter backlog
	srv.cron.AddFunc("@every 10m", srv.reportDeadLetterBacklog)
	// keep the admin summary warm between dashboard loads
	srv.cron.AddFunc("@every 5m", srv.warmStatsCache)

	return srv, nil
}

// Run starts the worker pool, cron jobs, and API listener, then blocks until
// an OS exit signal triggers a graceful shutdown.
func (srv *Server) Run(ctx context.Context) error {
	go srv.worker.Start()
	srv.cron.Start()

	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		srv.logger.Info("received OS exit signal", "signal", sig.String())
	case <-ctx.Done():
	}

	return srv.Shutdown()
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv.cron.Stop()
	if err := srv.httpd.Shutdown(ctx); err != nil {
		srv.logger.Error("HTTP server shutdown error", "err", err)
	}
	// waits for in-flight moderation jobs
	return srv.worker.Stop(ctx)
}

func (srv *Server) reportDeadLetterBacklog() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dead, err := srv.jobs.ListByState(ctx, queue.StateDeadLetter, 0)
	if err != nil {
		srv.logger.Error("failed to list dead-letter jobs", "err", err)
		return
	}
	if len(dead) > 0 {
		srv.logger.Warn("dead-letter backlog pending inspection", "count", len(dead))
	}
}

func (srv *Server) warmStatsCache() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := srv.stats.Summary(ctx); err != nil {
		srv.logger.Warn("failed to refresh stats summary", "err", err)
	}
}
