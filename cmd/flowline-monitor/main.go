// Package main provides the Flowline SLA monitor service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/flowlineio/flowline/pkg/audit"
	"github.com/flowlineio/flowline/pkg/cmd"
	"github.com/flowlineio/flowline/pkg/log"
	"github.com/flowlineio/flowline/pkg/otelhelper"
	"github.com/flowlineio/flowline/pkg/sla"
)

const leaseTTL = 5 * time.Minute

func main() {
	command := &cli.Command{
		Name:                  "flowline-monitor",
		Usage:                 "Scan running workflow instances for SLA breaches",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "monitor-id",
				Aliases: []string{"id"},
				Usage:   "Custom monitor ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("MONITOR_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the scan lease, single scanner when unset",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression for the breach scan",
				Value:   "* * * * *",
				Sources: cli.EnvVars("MONITOR_SCHEDULE"),
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

			monitorID := command.String("monitor-id")
			if monitorID == "" {
				monitorID = fmt.Sprintf("monitor-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("flowline-monitor").With("monitor_id", monitorID)

			logger.InfoContext(ctx, "Initializing Flowline SLA monitor")

			if _, err := otelhelper.NewTracer(ctx, "flowline-monitor"); err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "flowline-monitor", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			auditTrail := audit.NewTrail(logger)
			if err := auditTrail.Register(eventBus); err != nil {
				return fmt.Errorf("failed to register audit trail: %w", err)
			}

			if err := eventBus.Subscribe(ctx); err != nil {
				return fmt.Errorf("failed to subscribe to workflow events: %w", err)
			}

			leaser, err := newLeaser(command.String("redis-url"), monitorID)
			if err != nil {
				return err
			}

			monitor, err := sla.NewMonitor(
				persistence.InstanceRepository(),
				eventBus,
				leaser,
				logger,
				command.String("schedule"),
			)
			if err != nil {
				return err
			}

			if err := monitor.Start(ctx); err != nil {
				return err
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

			sig := <-signals
			logger.InfoContext(ctx, "Received signal, shutting down", "signal", sig.String())

			monitor.Stop(ctx)

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func newLeaser(redisURL, monitorID string) (sla.Leaser, error) {
	if redisURL == "" {
		return sla.NoopLeaser{}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	return sla.NewRedisLeaser(redis.NewClient(opts), monitorID, leaseTTL), nil
}
