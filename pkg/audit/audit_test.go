package audit_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlineio/flowline/pkg/audit"
	"github.com/flowlineio/flowline/pkg/channels/gochannel"
	"github.com/flowlineio/flowline/pkg/eventbus"
	"github.com/flowlineio/flowline/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(slog.Default()))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestTrail_RecordsWorkflowEvents(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))
	bus := newTestBus(t)

	trail := audit.NewTrail(logger)
	require.NoError(t, trail.Register(bus))
	require.NoError(t, bus.Subscribe(ctx))

	created := events.InstanceCreated{
		BaseEvent:    events.NewBaseEvent(events.InstanceCreatedEvent, "inst-1"),
		DefinitionID: "def-1",
		InitiatedBy:  "user-1",
		StepCount:    3,
	}
	require.NoError(t, bus.Publish(ctx, "inst-1", created))

	breach := events.SLABreachDetected{
		BaseEvent:  events.NewBaseEvent(events.SLABreachDetectedEvent, "inst-2"),
		DueDate:    time.Now().Add(-time.Hour),
		DetectedAt: time.Now(),
		OverdueMs:  3600000,
	}
	require.NoError(t, bus.Publish(ctx, "inst-2", breach))

	output := buf.String()
	assert.Contains(t, output, "instance.created")
	assert.Contains(t, output, "inst-1")
	assert.Contains(t, output, "definition_id=def-1")
	assert.Contains(t, output, "sla.breach.detected")
	assert.Contains(t, output, "inst-2")
}

func TestTrail_RecordsApprovalChain(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))
	bus := newTestBus(t)

	trail := audit.NewTrail(logger)
	require.NoError(t, trail.Register(bus))
	require.NoError(t, bus.Subscribe(ctx))

	requested := events.ApprovalRequested{
		BaseEvent:  events.NewBaseEvent(events.ApprovalRequestedEvent, "inst-1"),
		RequestID:  "req-1",
		StepID:     "step-1",
		ApproverID: "manager-1",
	}
	require.NoError(t, bus.Publish(ctx, "inst-1", requested))

	delegated := events.ApprovalDelegated{
		BaseEvent:    events.NewBaseEvent(events.ApprovalDelegatedEvent, "inst-1"),
		RequestID:    "req-1",
		NewRequestID: "req-2",
		StepID:       "step-1",
		FromApprover: "manager-1",
		ToApprover:   "director-1",
	}
	require.NoError(t, bus.Publish(ctx, "inst-1", delegated))

	output := buf.String()
	assert.Contains(t, output, "approval.requested")
	assert.Contains(t, output, "approval.delegated")
	assert.Contains(t, output, "from_approver=manager-1")
	assert.Contains(t, output, "to_approver=director-1")
}
