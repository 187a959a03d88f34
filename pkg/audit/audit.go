// Package audit consumes workflow events and writes a structured audit trail.
package audit

import (
	"context"
	"log/slog"

	"github.com/flowlineio/flowline/pkg/eventbus"
	"github.com/flowlineio/flowline/pkg/events"
)

// Trail logs every workflow event it receives. Each record carries the event
// type, instance ID and the event-specific fields, so the log stream doubles
// as a flat audit history of the system.
type Trail struct {
	logger *slog.Logger
}

func NewTrail(logger *slog.Logger) *Trail {
	return &Trail{
		logger: logger.With("module", "audit"),
	}
}

// Register attaches the trail to every workflow event type on the bus.
// Subscribe must still be called on the bus to start consumption.
func (t *Trail) Register(subscriber eventbus.EventSubscriber) error {
	eventTypes := []events.EventType{
		events.InstanceCreatedEvent,
		events.InstanceStartedEvent,
		events.InstanceCompletedEvent,
		events.InstanceFailedEvent,
		events.InstanceCancelledEvent,
		events.StepStartedEvent,
		events.StepCompletedEvent,
		events.StepFailedEvent,
		events.StepSkippedEvent,
		events.ApprovalRequestedEvent,
		events.ApprovalDecidedEvent,
		events.ApprovalDelegatedEvent,
		events.SLABreachDetectedEvent,
	}

	for _, eventType := range eventTypes {
		if err := subscriber.Handle(eventType, t.record); err != nil {
			return err
		}
	}

	return nil
}

func (t *Trail) record(ctx context.Context, event interface{}) error {
	switch e := event.(type) {
	case *events.InstanceCreated:
		t.log(ctx, e.BaseEvent, "definition_id", e.DefinitionID, "initiated_by", e.InitiatedBy, "step_count", e.StepCount)
	case *events.InstanceStarted:
		t.log(ctx, e.BaseEvent, "definition_id", e.DefinitionID, "initiated_by", e.InitiatedBy)
	case *events.InstanceCompleted:
		t.log(ctx, e.BaseEvent, "duration_ms", e.DurationMs, "steps_completed", e.StepsCompleted, "steps_skipped", e.StepsSkipped)
	case *events.InstanceFailed:
		t.log(ctx, e.BaseEvent, "step_id", e.StepID, "error", e.Error)
	case *events.InstanceCancelled:
		t.log(ctx, e.BaseEvent, "reason", e.Reason, "cancelled_by", e.CancelledBy)
	case *events.StepStarted:
		t.log(ctx, e.BaseEvent, "step_id", e.StepID, "node_id", e.NodeID, "kind", e.Kind)
	case *events.StepCompleted:
		t.log(ctx, e.BaseEvent, "step_id", e.StepID, "node_id", e.NodeID, "duration_ms", e.DurationMs)
	case *events.StepFailed:
		t.log(ctx, e.BaseEvent, "step_id", e.StepID, "node_id", e.NodeID, "error", e.Error)
	case *events.StepSkipped:
		t.log(ctx, e.BaseEvent, "step_id", e.StepID, "node_id", e.NodeID, "reason", e.Reason)
	case *events.ApprovalRequested:
		t.log(ctx, e.BaseEvent, "request_id", e.RequestID, "step_id", e.StepID, "approver_id", e.ApproverID)
	case *events.ApprovalDecided:
		t.log(ctx, e.BaseEvent, "request_id", e.RequestID, "step_id", e.StepID, "approver_id", e.ApproverID, "status", e.Status)
	case *events.ApprovalDelegated:
		t.log(ctx, e.BaseEvent, "request_id", e.RequestID, "from_approver", e.FromApprover, "to_approver", e.ToApprover)
	case *events.SLABreachDetected:
		t.log(ctx, e.BaseEvent, "due_date", e.DueDate, "overdue_ms", e.OverdueMs)
	default:
		t.logger.WarnContext(ctx, "Unknown audit event", "event", event)
	}

	return nil
}

func (t *Trail) log(ctx context.Context, base events.BaseEvent, args ...any) {
	args = append([]any{
		"event_id", base.ID,
		"event_type", base.Type,
		"instance_id", base.InstanceID,
		"occurred_at", base.Timestamp,
	}, args...)

	t.logger.InfoContext(ctx, "Audit event", args...)
}
