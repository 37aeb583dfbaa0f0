// Package main provides the caseflow reconciliation worker: it consumes
// the redis change feed and runs the periodic safety-net sweep over open
// sub-process runs.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/caseflow/caseflow/pkg/cmd"
	"github.com/caseflow/caseflow/pkg/eventbus"
	"github.com/caseflow/caseflow/pkg/log"
	"github.com/caseflow/caseflow/pkg/otelhelper"
	"github.com/caseflow/caseflow/pkg/reconciler"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func main() {
	logger := log.WithModule("reconciler")

	command := &cli.Command{
		Name:                  "caseflow-reconciler",
		Usage:                 "Reconcile sub-process and request completion",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the reconciliation change feed (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "sweep-interval",
				Usage:   "Cron spec for the completion sweep",
				Value:   "@every 1m",
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export reconciliation spans over OTLP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Caseflow Reconciler")

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				if err := store.Close(context.Background()); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var tracer trace.Tracer = noop.NewTracerProvider().Tracer("caseflow-reconciler")

			if command.Bool("tracing") {
				t, err := otelhelper.NewTracer(ctx, "caseflow-reconciler")
				if err != nil {
					logger.WarnContext(ctx, "tracer initialization failed, continuing untraced", "error", err)
				} else {
					tracer = t
				}
			}

			emitter := eventbus.NewEmitter(eventBus, logger)
			rec := reconciler.NewReconciler(store, emitter, logger)

			sweeper := reconciler.NewSweeper(rec, store.RunRepository(), logger)
			if err := sweeper.Start(ctx, command.String("sweep-interval")); err != nil {
				return err
			}
			defer sweeper.Stop()

			redisURL := command.String("redis-url")
			if redisURL == "" {
				logger.InfoContext(ctx, "no redis URL configured, running sweep only")
				<-ctx.Done()

				return nil
			}

			queue := reconciler.NewQueue(cmd.NewRedisClient(redisURL), logger)
			defer func() {
				if err := queue.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close reconciliation queue", "error", err)
				}
			}()

			err := queue.Consume(ctx, func(ctx context.Context, subProcessRunID string) error {
				ctx, span := otelhelper.StartSpan(ctx, tracer, "reconcile_subprocess_run",
					attribute.String(otelhelper.SubProcessRunIDKey, subProcessRunID))
				defer span.End()

				_, err := rec.ReconcileSubProcessRun(ctx, subProcessRunID)
				if err != nil {
					otelhelper.SetError(span, err)
				}

				return err
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
