// Package events defines event types and structures for workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowlineio/flowline/pkg/models"
)

type EventType string

// Kafka topic for all workflow events.
const Topic = "flowline.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Instance lifecycle events.
	InstanceCreatedEvent   EventType = "instance.created"
	InstanceStartedEvent   EventType = "instance.started"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceFailedEvent    EventType = "instance.failed"
	InstanceCancelledEvent EventType = "instance.cancelled"

	// Step lifecycle events.
	StepStartedEvent   EventType = "step.started"
	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
	StepSkippedEvent   EventType = "step.skipped"

	// Approval events.
	ApprovalRequestedEvent EventType = "approval.requested"
	ApprovalDecidedEvent   EventType = "approval.decided"
	ApprovalDelegatedEvent EventType = "approval.delegated"

	// SLA events.
	SLABreachDetectedEvent EventType = "sla.breach.detected"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"instance_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type InstanceCreated struct {
	BaseEvent

	DefinitionID string `json:"definition_id"`
	InitiatedBy  string `json:"initiated_by"`
	StepCount    int    `json:"step_count"`
}

func (e InstanceCreated) GetType() EventType {
	return InstanceCreatedEvent
}

type InstanceStarted struct {
	BaseEvent

	DefinitionID string `json:"definition_id"`
	InitiatedBy  string `json:"initiated_by"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type InstanceCompleted struct {
	BaseEvent

	DurationMs     int64 `json:"duration_ms"`
	StepsCompleted int   `json:"steps_completed"`
	StepsSkipped   int   `json:"steps_skipped"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceFailed struct {
	BaseEvent

	StepID     string `json:"step_id"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

func (e InstanceFailed) GetType() EventType {
	return InstanceFailedEvent
}

type InstanceCancelled struct {
	BaseEvent

	Reason       string `json:"reason"`
	CancelledBy  string `json:"cancelled_by"`
	StepsSkipped int    `json:"steps_skipped"`
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}

// Step lifecycle events

type StepStarted struct {
	BaseEvent

	StepID string          `json:"step_id"`
	NodeID string          `json:"node_id"`
	Kind   models.StepKind `json:"kind"`
}

func (e StepStarted) GetType() EventType {
	return StepStartedEvent
}

type StepCompleted struct {
	BaseEvent

	StepID     string         `json:"step_id"`
	NodeID     string         `json:"node_id"`
	Result     map[string]any `json:"result,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	StepID     string `json:"step_id"`
	NodeID     string `json:"node_id"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

type StepSkipped struct {
	BaseEvent

	StepID string `json:"step_id"`
	NodeID string `json:"node_id"`
	Reason string `json:"reason,omitempty"`
}

func (e StepSkipped) GetType() EventType {
	return StepSkippedEvent
}

// Approval events

type ApprovalRequested struct {
	BaseEvent

	RequestID  string     `json:"request_id"`
	StepID     string     `json:"step_id"`
	ApproverID string     `json:"approver_id"`
	DueDate    *time.Time `json:"due_date,omitempty"`
}

func (e ApprovalRequested) GetType() EventType {
	return ApprovalRequestedEvent
}

type ApprovalDecided struct {
	BaseEvent

	RequestID  string                `json:"request_id"`
	StepID     string                `json:"step_id"`
	ApproverID string                `json:"approver_id"`
	Status     models.ApprovalStatus `json:"status"`
	Reason     string                `json:"reason,omitempty"`
}

func (e ApprovalDecided) GetType() EventType {
	return ApprovalDecidedEvent
}

type ApprovalDelegated struct {
	BaseEvent

	RequestID    string `json:"request_id"`
	NewRequestID string `json:"new_request_id"`
	StepID       string `json:"step_id"`
	FromApprover string `json:"from_approver"`
	ToApprover   string `json:"to_approver"`
}

func (e ApprovalDelegated) GetType() EventType {
	return ApprovalDelegatedEvent
}

// SLA events

type SLABreachDetected struct {
	BaseEvent

	DueDate    time.Time `json:"due_date"`
	DetectedAt time.Time `json:"detected_at"`
	OverdueMs  int64     `json:"overdue_ms"`
}

func (e SLABreachDetected) GetType() EventType {
	return SLABreachDetectedEvent
}

func NewBaseEvent(eventType EventType, instanceID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
		Metadata:   make(map[string]any),
	}
}
