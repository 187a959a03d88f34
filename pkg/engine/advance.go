package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/flowlineio/flowline/pkg/events"
	"github.com/flowlineio/flowline/pkg/executor"
	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/persistence"
)

const maxConflictRetries = 3

// advance runs eligible steps until the instance blocks on an approval,
// reaches a terminal state, or runs out of eligible work. Steps execute one
// at a time in dependency order.
func (e *Engine) advance(ctx context.Context, instance *models.WorkflowInstance) (*models.WorkflowInstance, error) {
	conflicts := 0

	for {
		if instance.Status != models.InstanceStatusRunning {
			return instance, nil
		}

		step := nextEligibleStep(instance)
		if step == nil {
			return e.finalize(ctx, instance)
		}

		now := time.Now().UTC()
		step.Status = models.StepStatusRunning
		step.StartedAt = &now

		err := e.instances.Update(ctx, instance)
		if persistence.IsVersionConflict(err) {
			conflicts++
			if conflicts > maxConflictRetries {
				return nil, fmt.Errorf("failed to advance instance %s: %w", instance.ID, err)
			}

			// Concurrent mutation; re-derive from the fresh copy.
			instance, err = e.loadInstance(ctx, instance.ID)
			if err != nil {
				return nil, err
			}

			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to mark step running: %w", err)
		}

		e.publish(ctx, instance.ID, events.StepStarted{
			BaseEvent: events.NewBaseEvent(events.StepStartedEvent, instance.ID),
			StepID:    step.ID,
			NodeID:    step.NodeID,
			Kind:      step.Kind,
		})

		result := e.executor.ExecuteStep(ctx, instance, step)

		switch result.Outcome {
		case executor.OutcomeWaiting:
			// The step stays running until the external decision arrives.
			continue

		case executor.OutcomeCompleted:
			instance, err = e.completeStep(ctx, instance, step, result.Result)
			if err != nil {
				return nil, err
			}

		case executor.OutcomeFailed:
			return e.failStep(ctx, instance, step, result.Err)
		}
	}
}

// nextEligibleStep picks the first pending step whose predecessors all
// reached a terminal-success state. Snapshot order preserves the definition's
// authoring order among equally eligible steps.
func nextEligibleStep(instance *models.WorkflowInstance) *models.StepInstance {
	for _, step := range instance.Steps {
		if instance.StepEligible(step) {
			return step
		}
	}

	return nil
}

func (e *Engine) completeStep(ctx context.Context, instance *models.WorkflowInstance, step *models.StepInstance, result map[string]any) (*models.WorkflowInstance, error) {
	now := time.Now().UTC()
	startedAt := step.StartedAt

	step.Status = models.StepStatusCompleted
	step.Result = result
	step.FinishedAt = &now

	err := e.instances.Update(ctx, instance)
	if persistence.IsVersionConflict(err) {
		// A concurrent write won the race. Reload; if the instance left the
		// running state the result is discarded, otherwise re-apply it.
		fresh, loadErr := e.loadInstance(ctx, instance.ID)
		if loadErr != nil {
			return nil, loadErr
		}

		if fresh.Status != models.InstanceStatusRunning {
			e.logger.InfoContext(ctx, "Discarding step result after concurrent transition",
				"instance_id", instance.ID,
				"step_id", step.ID,
				"instance_status", fresh.Status,
			)

			return fresh, nil
		}

		freshStep, ok := fresh.Step(step.ID)
		if !ok {
			return nil, persistence.NewInstanceError("completeStep", instance.ID, persistence.ErrStepNotFound)
		}

		freshStep.Status = models.StepStatusCompleted
		freshStep.Result = result
		freshStep.StartedAt = startedAt
		freshStep.FinishedAt = &now

		instance = fresh
		err = e.instances.Update(ctx, instance)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to complete step: %w", err)
	}

	e.publish(ctx, instance.ID, events.StepCompleted{
		BaseEvent:  events.NewBaseEvent(events.StepCompletedEvent, instance.ID),
		StepID:     step.ID,
		NodeID:     step.NodeID,
		Result:     result,
		DurationMs: durationMs(startedAt, now),
	})

	return instance, nil
}

// failStep applies the failure policy for a step: optional steps are recorded
// as skipped with the error captured and the instance continues; a required
// step fails the whole instance and the remaining pending steps are skipped.
func (e *Engine) failStep(ctx context.Context, instance *models.WorkflowInstance, step *models.StepInstance, stepErr error) (*models.WorkflowInstance, error) {
	now := time.Now().UTC()

	errorMessage := "step failed"
	if stepErr != nil {
		errorMessage = stepErr.Error()
	}

	if step.Optional {
		step.Status = models.StepStatusSkipped
		step.ErrorMessage = errorMessage
		step.FinishedAt = &now

		err := e.instances.Update(ctx, instance)
		if err != nil {
			return nil, fmt.Errorf("failed to skip optional step: %w", err)
		}

		e.publish(ctx, instance.ID, events.StepSkipped{
			BaseEvent: events.NewBaseEvent(events.StepSkippedEvent, instance.ID),
			StepID:    step.ID,
			NodeID:    step.NodeID,
			Reason:    errorMessage,
		})

		e.logger.WarnContext(ctx, "Optional step failed, continuing",
			"instance_id", instance.ID,
			"step_id", step.ID,
			"error", errorMessage,
		)

		return e.advance(ctx, instance)
	}

	step.Status = models.StepStatusFailed
	step.ErrorMessage = errorMessage
	step.FinishedAt = &now

	// Steps that never became eligible are closed out; steps already in
	// flight (a sibling branch waiting on an approval) keep running and the
	// instance only turns failed once they reach their own terminal state.
	for _, remaining := range instance.Steps {
		if remaining.Status == models.StepStatusPending {
			remaining.Status = models.StepStatusSkipped
			remaining.ErrorMessage = "instance failed before step became eligible"
			remaining.FinishedAt = &now
		}
	}

	err := e.instances.Update(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to record step failure: %w", err)
	}

	e.publish(ctx, instance.ID, events.StepFailed{
		BaseEvent:  events.NewBaseEvent(events.StepFailedEvent, instance.ID),
		StepID:     step.ID,
		NodeID:     step.NodeID,
		Error:      errorMessage,
		DurationMs: durationMs(step.StartedAt, now),
	})

	e.logger.ErrorContext(ctx, "Step failed",
		"instance_id", instance.ID,
		"step_id", step.ID,
		"error", errorMessage,
	)

	return e.finalize(ctx, instance)
}

// finalize evaluates a running instance with no eligible steps: it stays
// running while any step is still in flight, turns failed once a failed step
// has no in-flight siblings left, and completes once every step reached a
// terminal-success state.
func (e *Engine) finalize(ctx context.Context, instance *models.WorkflowInstance) (*models.WorkflowInstance, error) {
	completed := 0
	skipped := 0

	var failedStep *models.StepInstance

	for _, step := range instance.Steps {
		switch step.Status {
		case models.StepStatusRunning, models.StepStatusPending:
			// Blocked on an approval or an unfinished predecessor.
			return instance, nil
		case models.StepStatusCompleted:
			completed++
		case models.StepStatusSkipped:
			skipped++
		case models.StepStatusFailed:
			if failedStep == nil {
				failedStep = step
			}
		}
	}

	now := time.Now().UTC()

	if failedStep != nil {
		instance.Status = models.InstanceStatusFailed

		err := e.instances.Update(ctx, instance)
		if err != nil {
			return nil, fmt.Errorf("failed to fail instance: %w", err)
		}

		e.publish(ctx, instance.ID, events.InstanceFailed{
			BaseEvent:  events.NewBaseEvent(events.InstanceFailedEvent, instance.ID),
			StepID:     failedStep.ID,
			Error:      failedStep.ErrorMessage,
			DurationMs: durationMs(&instance.CreatedAt, now),
		})

		e.logger.ErrorContext(ctx, "Instance failed",
			"instance_id", instance.ID,
			"step_id", failedStep.ID,
			"error", failedStep.ErrorMessage,
		)

		return instance, nil
	}

	instance.Status = models.InstanceStatusCompleted

	err := e.instances.Update(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to complete instance: %w", err)
	}

	e.publish(ctx, instance.ID, events.InstanceCompleted{
		BaseEvent:      events.NewBaseEvent(events.InstanceCompletedEvent, instance.ID),
		DurationMs:     durationMs(&instance.CreatedAt, now),
		StepsCompleted: completed,
		StepsSkipped:   skipped,
	})

	e.logger.InfoContext(ctx, "Instance completed",
		"instance_id", instance.ID,
		"steps_completed", completed,
		"steps_skipped", skipped,
	)

	return instance, nil
}

func durationMs(from *time.Time, to time.Time) int64 {
	if from == nil {
		return 0
	}

	return to.Sub(*from).Milliseconds()
}
