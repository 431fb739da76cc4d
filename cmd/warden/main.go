package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/fernwood/warden/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "content moderation pipeline daemon",
		Version: versioninfo.Short(),
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the moderation service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/warden/warden.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   40,
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for the summary/preference cache; in-memory caches when empty",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":8700",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":8701",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "classifier-host",
			Usage:   "method, hostname, and port of the text classification vendor; keyword classifier when empty",
			EnvVars: []string{"WARDEN_CLASSIFIER_HOST"},
		},
		&cli.StringFlag{
			Name:    "classifier-api-key",
			EnvVars: []string{"WARDEN_CLASSIFIER_API_KEY"},
		},
		&cli.IntFlag{
			Name:    "classifier-rate-limit",
			Usage:   "max analysis requests per second to the vendor",
			Value:   20,
			EnvVars: []string{"WARDEN_CLASSIFIER_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "content-host",
			Usage:   "method, hostname, and port of the platform's internal content API",
			Value:   "http://localhost:8600",
			EnvVars: []string{"WARDEN_CONTENT_HOST"},
		},
		&cli.StringFlag{
			Name:    "mailer-host",
			Usage:   "method, hostname, and port of the email webhook; owner notifications disabled when empty",
			EnvVars: []string{"WARDEN_MAILER_HOST"},
		},
		&cli.StringFlag{
			Name:    "user-host",
			Usage:   "method, hostname, and port of the user profile service (notification preferences)",
			EnvVars: []string{"WARDEN_USER_HOST"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack incoming webhook for ops notifications",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:     "jwt-secret",
			Usage:    "HMAC secret shared with the identity service for principal tokens",
			Required: true,
			EnvVars:  []string{"WARDEN_JWT_SECRET"},
		},
		&cli.IntFlag{
			Name:    "parallel-workers",
			Usage:   "max moderation jobs processed concurrently",
			Value:   4,
			EnvVars: []string{"WARDEN_PARALLEL_WORKERS"},
		},
		&cli.BoolFlag{
			Name:    "fail-closed",
			Usage:   "surface queue outages to content submitters instead of absorbing them",
			EnvVars: []string{"WARDEN_FAIL_CLOSED"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		// Enable OTLP HTTP exporter
		// For relevant environment variables:
		// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
		// At a minimum, you need to set
		// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
		if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
			slog.Info("setting up trace exporter", "endpoint", ep)
			exp, err := otlptracehttp.New(cctx.Context)
			if err != nil {
				log.Fatal("failed to create trace exporter", "error", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := exp.Shutdown(ctx); err != nil {
					slog.Error("failed to shutdown trace exporter", "error", err)
				}
			}()

			tp := tracesdk.NewTracerProvider(
				tracesdk.WithBatcher(exp),
				tracesdk.WithResource(resource.NewWithAttributes(
					semconv.SchemaURL,
					semconv.ServiceNameKey.String("warden"),
					attribute.String("env", os.Getenv("ENVIRONMENT")),         // DataDog
					attribute.String("environment", os.Getenv("ENVIRONMENT")), // Others
					attribute.Int64("ID", 1),
				)),
			)
			otel.SetTracerProvider(tp)
		}

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}

		srv, err := NewServer(db, Config{
			Logger:              logger,
			Bind:                cctx.String("bind"),
			RedisURL:            cctx.String("redis-url"),
			ClassifierHost:      cctx.String("classifier-host"),
			ClassifierAPIKey:    cctx.String("classifier-api-key"),
			ClassifierRateLimit: cctx.Int("classifier-rate-limit"),
			ContentHost:         cctx.String("content-host"),
			MailerHost:          cctx.String("mailer-host"),
			UserHost:            cctx.String("user-host"),
			SlackWebhookURL:     cctx.String("slack-webhook-url"),
			JWTSecret:           cctx.String("jwt-secret"),
			ParallelWorkers:     cctx.Int("parallel-workers"),
			FailClosed:          cctx.Bool("fail-closed"),
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		return srv.Run(cctx.Context)
	},
}
