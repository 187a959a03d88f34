// Package sla scans running instances for missed due dates and flags
// breaches exactly once.
package sla

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowlineio/flowline/pkg/eventbus"
	"github.com/flowlineio/flowline/pkg/events"
	"github.com/flowlineio/flowline/pkg/persistence"
)

// Monitor periodically checks running instances against their due dates.
// A breach sets the SLABreached flag once; the flag never resets and breached
// instances are excluded from later scans.
type Monitor struct {
	instances persistence.InstanceRepository
	publisher eventbus.EventPublisher
	leaser    Leaser
	logger    *slog.Logger
	cronExpr  string
	cron      *cron.Cron
}

func NewMonitor(
	instances persistence.InstanceRepository,
	publisher eventbus.EventPublisher,
	leaser Leaser,
	logger *slog.Logger,
	cronExpr string,
) (*Monitor, error) {
	if cronExpr == "" {
		cronExpr = "* * * * *"
	}

	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return nil, fmt.Errorf("invalid monitor schedule: %w", err)
	}

	if leaser == nil {
		leaser = NoopLeaser{}
	}

	return &Monitor{
		instances: instances,
		publisher: publisher,
		leaser:    leaser,
		logger:    logger.With("module", "sla_monitor"),
		cronExpr:  cronExpr,
	}, nil
}

// Start schedules the scan loop. Scans skip when a previous round is still
// running or another replica holds the lease.
func (m *Monitor) Start(ctx context.Context) error {
	m.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := m.cron.AddFunc(m.cronExpr, func() {
		m.run(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule SLA scan: %w", err)
	}

	m.cron.Start()
	m.logger.InfoContext(ctx, "SLA monitor started", "schedule", m.cronExpr)

	return nil
}

func (m *Monitor) Stop(ctx context.Context) {
	if m.cron != nil {
		m.cron.Stop()
	}

	m.logger.InfoContext(ctx, "SLA monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	acquired, err := m.leaser.Acquire(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to acquire scan lease", "error", err)

		return
	}

	if !acquired {
		m.logger.DebugContext(ctx, "Another replica holds the scan lease")

		return
	}

	defer func() {
		err := m.leaser.Release(ctx)
		if err != nil {
			m.logger.WarnContext(ctx, "Failed to release scan lease", "error", err)
		}
	}()

	breached, err := m.CheckBreaches(ctx, time.Now().UTC())
	if err != nil {
		m.logger.ErrorContext(ctx, "SLA scan failed", "error", err)

		return
	}

	if breached > 0 {
		m.logger.InfoContext(ctx, "SLA scan flagged breaches", "count", breached)
	}
}

// CheckBreaches flags every running, unbreached instance whose due date lies
// before now. Flagging is idempotent: an instance already flagged is never
// selected again, so SLABreachedAt keeps its first value.
func (m *Monitor) CheckBreaches(ctx context.Context, now time.Time) (int, error) {
	overdue, err := m.instances.ListRunningDueBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue instances: %w", err)
	}

	breached := 0

	for _, instance := range overdue {
		instance.SLABreached = true
		instance.SLABreachedAt = &now

		err = m.instances.Update(ctx, instance)
		if err != nil {
			if persistence.IsVersionConflict(err) {
				// A concurrent transition won the race; the next scan
				// re-evaluates the instance if it is still running.
				m.logger.DebugContext(ctx, "Skipping instance after version conflict",
					"instance_id", instance.ID,
				)

				continue
			}

			return breached, fmt.Errorf("failed to flag breach on instance %s: %w", instance.ID, err)
		}

		breached++

		m.publish(ctx, instance.ID, events.SLABreachDetected{
			BaseEvent:  events.NewBaseEvent(events.SLABreachDetectedEvent, instance.ID),
			DueDate:    *instance.DueDate,
			DetectedAt: now,
			OverdueMs:  now.Sub(*instance.DueDate).Milliseconds(),
		})

		m.logger.WarnContext(ctx, "SLA breach detected",
			"instance_id", instance.ID,
			"due_date", instance.DueDate,
		)
	}

	return breached, nil
}

func (m *Monitor) publish(ctx context.Context, key string, event eventbus.Event) {
	if m.publisher == nil {
		return
	}

	err := m.publisher.Publish(ctx, key, event)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err,
		)
	}
}
