// Package executor runs individual workflow steps according to their kind.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/otelhelper"
	"github.com/flowlineio/flowline/pkg/protocol"
)

// Outcome classifies the immediate result of executing a step.
type Outcome int

const (
	// OutcomeCompleted means the step finished and successors may run.
	OutcomeCompleted Outcome = iota
	// OutcomeFailed means the step errored; the engine applies the
	// optional-step policy.
	OutcomeFailed
	// OutcomeWaiting means the step blocks on an external decision and
	// stays running until it arrives.
	OutcomeWaiting
)

// StepResult is what a single execution attempt produced.
type StepResult struct {
	Outcome Outcome
	Result  map[string]any
	Err     error
}

// ActionRegistry builds actions from step configurations.
type ActionRegistry interface {
	CreateAction(actionType string, config map[string]any) (protocol.Action, error)
}

// ApprovalRequester opens an approval request for a blocking step.
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, instance *models.WorkflowInstance, step *models.StepInstance) error
}

// Executor dispatches steps to their kind-specific behavior. Approval steps
// block on a human decision; automation and notification steps run an action
// from the registry.
type Executor struct {
	registry  ActionRegistry
	approvals ApprovalRequester
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewExecutor(registry ActionRegistry, approvals ApprovalRequester, logger *slog.Logger) *Executor {
	return &Executor{
		registry:  registry,
		approvals: approvals,
		tracer:    otel.Tracer("flowline.executor"),
		logger:    logger.With("module", "executor"),
	}
}

// ExecuteStep runs one step and reports the outcome. It never mutates the
// instance; status transitions belong to the engine.
func (e *Executor) ExecuteStep(ctx context.Context, instance *models.WorkflowInstance, step *models.StepInstance) StepResult {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "executor.execute_step",
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepKindKey, string(step.Kind)),
	)
	defer span.End()

	logger := e.logger.With(
		"instance_id", instance.ID,
		"step_id", step.ID,
		"step_kind", step.Kind,
	)

	result := e.executeByKind(ctx, instance, step, logger)
	if result.Err != nil {
		otelhelper.SetError(span, result.Err,
			attribute.String(otelhelper.StepIDKey, step.ID),
		)
	}

	return result
}

func (e *Executor) executeByKind(ctx context.Context, instance *models.WorkflowInstance, step *models.StepInstance, logger *slog.Logger) StepResult {
	switch step.Kind {
	case models.StepKindApproval:
		return e.executeApproval(ctx, instance, step, logger)
	case models.StepKindAutomation:
		return e.executeAutomation(ctx, instance, step, logger)
	case models.StepKindNotification:
		return e.executeNotification(ctx, instance, step, logger)
	default:
		return StepResult{
			Outcome: OutcomeFailed,
			Err:     fmt.Errorf("unknown step kind '%s'", step.Kind),
		}
	}
}

func (e *Executor) executeApproval(ctx context.Context, instance *models.WorkflowInstance, step *models.StepInstance, logger *slog.Logger) StepResult {
	err := e.approvals.RequestApproval(ctx, instance, step)
	if err != nil {
		return StepResult{
			Outcome: OutcomeFailed,
			Err:     fmt.Errorf("failed to open approval request: %w", err),
		}
	}

	logger.InfoContext(ctx, "Step is waiting for approval")

	return StepResult{Outcome: OutcomeWaiting}
}

func (e *Executor) executeAutomation(ctx context.Context, instance *models.WorkflowInstance, step *models.StepInstance, logger *slog.Logger) StepResult {
	result, err := e.runAction(ctx, instance, step, "http_call", logger)
	if err != nil {
		return StepResult{Outcome: OutcomeFailed, Err: err}
	}

	return StepResult{Outcome: OutcomeCompleted, Result: result}
}

// executeNotification completes the step even when delivery fails, unless
// the node opted in to fail_on_error.
func (e *Executor) executeNotification(ctx context.Context, instance *models.WorkflowInstance, step *models.StepInstance, logger *slog.Logger) StepResult {
	result, err := e.runAction(ctx, instance, step, "notify", logger)
	if err != nil {
		if step.FailOnError != nil && *step.FailOnError {
			return StepResult{Outcome: OutcomeFailed, Err: err}
		}

		logger.WarnContext(ctx, "Notification delivery failed", "error", err)

		return StepResult{
			Outcome: OutcomeCompleted,
			Result:  map[string]any{"delivered": false, "error": err.Error()},
		}
	}

	return StepResult{Outcome: OutcomeCompleted, Result: result}
}

func (e *Executor) runAction(ctx context.Context, instance *models.WorkflowInstance, step *models.StepInstance, defaultAction string, logger *slog.Logger) (map[string]any, error) {
	actionType := defaultAction
	if configured, ok := step.Config["action"].(string); ok && configured != "" {
		actionType = configured
	}

	action, err := e.registry.CreateAction(actionType, step.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create action '%s': %w", actionType, err)
	}

	executionCtx := models.ExecutionContext{
		ID:          instance.ID + "/" + step.ID,
		InstanceID:  instance.ID,
		StepID:      step.ID,
		NodeID:      step.NodeID,
		InitiatedBy: instance.InitiatedBy,
		StepResults: collectStepResults(instance),
	}

	result, err := action.Execute(ctx, executionCtx, logger)
	if err != nil {
		return nil, fmt.Errorf("action '%s' failed: %w", actionType, err)
	}

	return result, nil
}

// collectStepResults exposes finished predecessor results to the running
// action, keyed by node ID.
func collectStepResults(instance *models.WorkflowInstance) map[string]any {
	results := make(map[string]any)

	for _, step := range instance.Steps {
		if step.Status == models.StepStatusCompleted && step.Result != nil {
			results[step.NodeID] = step.Result
		}
	}

	return results
}
