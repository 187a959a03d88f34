// Package engine drives workflow instances through their lifecycle: it
// snapshots definition graphs into step instances, advances eligible steps,
// applies approval decisions and handles cancellation.
//
// All instance writes go through the optimistic version check of the
// persistence layer. A lost race is retried once against a fresh copy; a
// cancellation observed on reload discards the in-flight result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowlineio/flowline/pkg/eventbus"
	"github.com/flowlineio/flowline/pkg/events"
	"github.com/flowlineio/flowline/pkg/executor"
	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/persistence"
)

var (
	// ErrInstanceTerminal is returned when an operation targets an instance
	// that already completed, failed or was cancelled.
	ErrInstanceTerminal = errors.New("instance is in a terminal state")

	// ErrInstanceNotPending is returned when starting an instance twice.
	ErrInstanceNotPending = errors.New("instance has already been started")

	// ErrStepNotWaiting is returned when an approval decision targets a step
	// that is not blocked on approval.
	ErrStepNotWaiting = errors.New("step is not waiting for approval")
)

// StepExecutor runs a single step and reports the outcome.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, instance *models.WorkflowInstance, step *models.StepInstance) executor.StepResult
}

// Engine coordinates instance state transitions.
type Engine struct {
	definitions persistence.DefinitionRepository
	instances   persistence.InstanceRepository
	approvals   persistence.ApprovalRepository
	executor    StepExecutor
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

func NewEngine(
	definitions persistence.DefinitionRepository,
	instances persistence.InstanceRepository,
	approvals persistence.ApprovalRepository,
	stepExecutor StepExecutor,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		definitions: definitions,
		instances:   instances,
		approvals:   approvals,
		executor:    stepExecutor,
		publisher:   publisher,
		logger:      logger.With("module", "engine"),
	}
}

// CreateInstanceRequest carries the parameters for instantiating a workflow.
type CreateInstanceRequest struct {
	DefinitionID string
	Name         string
	Priority     string
	InitiatedBy  string
	DueDate      *time.Time
}

// CreateInstance snapshots the definition graph into a pending instance.
// The graph is validated before any step is materialized, so a cyclic or
// inconsistent definition never produces an instance.
func (e *Engine) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*models.WorkflowInstance, error) {
	definition, err := e.definitions.GetByID(ctx, req.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}

	if definition == nil {
		return nil, persistence.NewDefinitionError("CreateInstance", req.DefinitionID, persistence.ErrDefinitionNotFound)
	}

	err = definition.ValidateGraph()
	if err != nil {
		return nil, fmt.Errorf("definition graph is invalid: %w", err)
	}

	name := req.Name
	if name == "" {
		name = definition.Name
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	instanceID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate instance ID: %w", err)
	}

	instance := &models.WorkflowInstance{
		ID:           instanceID.String(),
		DefinitionID: definition.ID,
		Name:         name,
		Status:       models.InstanceStatusPending,
		Priority:     priority,
		InitiatedBy:  req.InitiatedBy,
		DueDate:      req.DueDate,
	}

	instance.Steps, err = snapshotSteps(instance.ID, definition)
	if err != nil {
		return nil, err
	}

	err = e.instances.Create(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to persist instance: %w", err)
	}

	e.publish(ctx, instance.ID, events.InstanceCreated{
		BaseEvent:    events.NewBaseEvent(events.InstanceCreatedEvent, instance.ID),
		DefinitionID: definition.ID,
		InitiatedBy:  instance.InitiatedBy,
		StepCount:    len(instance.Steps),
	})

	e.logger.InfoContext(ctx, "Instance created",
		"instance_id", instance.ID,
		"definition_id", definition.ID,
		"steps", len(instance.Steps),
	)

	return instance, nil
}

// snapshotSteps materializes each definition node into a step instance,
// rewriting node-level dependencies into step IDs through a remap table.
func snapshotSteps(instanceID string, definition *models.WorkflowDefinition) ([]*models.StepInstance, error) {
	remap := make(map[string]string, len(definition.Nodes))

	for _, node := range definition.Nodes {
		stepID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate step ID: %w", err)
		}

		remap[node.ID] = stepID.String()
	}

	steps := make([]*models.StepInstance, 0, len(definition.Nodes))

	for _, node := range definition.Nodes {
		step := &models.StepInstance{
			ID:         remap[node.ID],
			InstanceID: instanceID,
			NodeID:     node.ID,
			Name:       node.Name,
			Kind:       node.Kind,
			Status:     models.StepStatusPending,
			Optional:   node.Optional,
		}

		if node.Config != nil {
			step.Config = make(map[string]any, len(node.Config))
			for key, value := range node.Config {
				step.Config[key] = value
			}
		}

		if len(node.DependsOn) > 0 {
			step.DependsOn = make([]string, 0, len(node.DependsOn))
			for _, dep := range node.DependsOn {
				step.DependsOn = append(step.DependsOn, remap[dep])
			}
		}

		if node.FailOnError != nil {
			failOnError := *node.FailOnError
			step.FailOnError = &failOnError
		}

		steps = append(steps, step)
	}

	return steps, nil
}

// StartInstance moves a pending instance to running and advances it.
func (e *Engine) StartInstance(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	instance, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status.Terminal() {
		return nil, ErrInstanceTerminal
	}

	if instance.Status != models.InstanceStatusPending {
		return nil, ErrInstanceNotPending
	}

	instance.Status = models.InstanceStatusRunning

	err = e.instances.Update(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to start instance: %w", err)
	}

	e.publish(ctx, instance.ID, events.InstanceStarted{
		BaseEvent:    events.NewBaseEvent(events.InstanceStartedEvent, instance.ID),
		DefinitionID: instance.DefinitionID,
		InitiatedBy:  instance.InitiatedBy,
	})

	e.logger.InfoContext(ctx, "Instance started", "instance_id", instance.ID)

	return e.advance(ctx, instance)
}

// CancelInstance moves a non-terminal instance to cancelled and skips every
// step that has not reached a terminal state. In-flight step results lose
// the version race against this write and are discarded.
func (e *Engine) CancelInstance(ctx context.Context, instanceID, reason, cancelledBy string) (*models.WorkflowInstance, error) {
	instance, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status.Terminal() {
		return nil, ErrInstanceTerminal
	}

	skipped := cancelSteps(instance, reason)
	instance.Status = models.InstanceStatusCancelled
	instance.CancelReason = reason

	err = e.instances.Update(ctx, instance)
	if persistence.IsVersionConflict(err) {
		// Lost a race with a step commit; reload and cancel the fresh copy.
		instance, err = e.loadInstance(ctx, instanceID)
		if err != nil {
			return nil, err
		}

		if instance.Status.Terminal() {
			return nil, ErrInstanceTerminal
		}

		skipped = cancelSteps(instance, reason)
		instance.Status = models.InstanceStatusCancelled
		instance.CancelReason = reason

		err = e.instances.Update(ctx, instance)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to cancel instance: %w", err)
	}

	e.closeApprovalRequests(ctx, instance, "instance cancelled: "+reason)

	e.publish(ctx, instance.ID, events.InstanceCancelled{
		BaseEvent:    events.NewBaseEvent(events.InstanceCancelledEvent, instance.ID),
		Reason:       reason,
		CancelledBy:  cancelledBy,
		StepsSkipped: skipped,
	})

	e.logger.InfoContext(ctx, "Instance cancelled",
		"instance_id", instance.ID,
		"reason", reason,
		"steps_skipped", skipped,
	)

	return instance, nil
}

// closeApprovalRequests cancels the active approval request of every skipped
// approval step, so no request is left pending on a step that can no longer
// be decided.
func (e *Engine) closeApprovalRequests(ctx context.Context, instance *models.WorkflowInstance, reason string) {
	if e.approvals == nil {
		return
	}

	now := time.Now().UTC()

	for _, step := range instance.Steps {
		if step.Kind != models.StepKindApproval || step.Status != models.StepStatusSkipped {
			continue
		}

		request, err := e.approvals.GetActiveByStep(ctx, step.ID)
		if err != nil {
			e.logger.WarnContext(ctx, "Failed to look up approval request for skipped step",
				"instance_id", instance.ID,
				"step_id", step.ID,
				"error", err,
			)

			continue
		}

		if request == nil {
			continue
		}

		request.Status = models.ApprovalStatusCancelled
		request.DecidedAt = &now
		request.Reason = reason

		if err := e.approvals.Save(ctx, request); err != nil {
			e.logger.WarnContext(ctx, "Failed to cancel approval request",
				"instance_id", instance.ID,
				"request_id", request.ID,
				"error", err,
			)
		}
	}
}

func cancelSteps(instance *models.WorkflowInstance, reason string) int {
	now := time.Now().UTC()
	skipped := 0

	for _, step := range instance.Steps {
		if step.Status.Terminal() {
			continue
		}

		step.Status = models.StepStatusSkipped
		step.ErrorMessage = "instance cancelled: " + reason
		step.FinishedAt = &now
		skipped++
	}

	return skipped
}

// ResolveApprovalStep applies a human decision to a step blocked on approval.
// An approved step completes and the instance advances; a rejected step is
// treated like a step failure, honoring the optional-step policy.
func (e *Engine) ResolveApprovalStep(ctx context.Context, instanceID, stepID string, approved bool, reason string) (*models.WorkflowInstance, error) {
	instance, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status.Terminal() {
		return nil, ErrInstanceTerminal
	}

	step, ok := instance.Step(stepID)
	if !ok {
		return nil, persistence.NewInstanceError("ResolveApprovalStep", instanceID, persistence.ErrStepNotFound)
	}

	if step.Kind != models.StepKindApproval || step.Status != models.StepStatusRunning {
		return nil, ErrStepNotWaiting
	}

	now := time.Now().UTC()

	if approved {
		step.Status = models.StepStatusCompleted
		step.Result = map[string]any{"approved": true}
		step.FinishedAt = &now

		err = e.instances.Update(ctx, instance)
		if err != nil {
			return nil, fmt.Errorf("failed to record approval: %w", err)
		}

		e.publish(ctx, instance.ID, events.StepCompleted{
			BaseEvent: events.NewBaseEvent(events.StepCompletedEvent, instance.ID),
			StepID:    step.ID,
			NodeID:    step.NodeID,
			Result:    step.Result,
		})

		return e.advance(ctx, instance)
	}

	errorMessage := "approval rejected"
	if reason != "" {
		errorMessage += ": " + reason
	}

	return e.failStep(ctx, instance, step, errors.New(errorMessage))
}

// Advance re-evaluates a running instance, used after external state changes.
func (e *Engine) Advance(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	instance, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	return e.advance(ctx, instance)
}

func (e *Engine) loadInstance(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	instance, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}

	if instance == nil {
		return nil, persistence.NewInstanceError("loadInstance", instanceID, persistence.ErrInstanceNotFound)
	}

	return instance, nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err,
		)
	}
}
