package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlineio/flowline/pkg/executor"
	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/persistence/file"
)

type stubExecutor struct {
	failNodes map[string]bool
	executed  []string
}

func (s *stubExecutor) ExecuteStep(_ context.Context, _ *models.WorkflowInstance, step *models.StepInstance) executor.StepResult {
	s.executed = append(s.executed, step.NodeID)

	if step.Kind == models.StepKindApproval {
		return executor.StepResult{Outcome: executor.OutcomeWaiting}
	}

	if s.failNodes[step.NodeID] {
		return executor.StepResult{
			Outcome: executor.OutcomeFailed,
			Err:     errors.New("action exploded"),
		}
	}

	return executor.StepResult{
		Outcome: executor.OutcomeCompleted,
		Result:  map[string]any{"node": step.NodeID},
	}
}

func newTestEngine(t *testing.T, stub *stubExecutor) (*Engine, *file.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	eng := NewEngine(
		store.DefinitionRepository(),
		store.InstanceRepository(),
		store.ApprovalRepository(),
		stub,
		nil,
		slog.Default(),
	)

	return eng, store
}

// diamondDefinition builds approve-style graph: A -> (B, C) -> D.
func diamondDefinition(t *testing.T, store *file.Persistence, mutate func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	t.Helper()

	definition := &models.WorkflowDefinition{
		ID:         "def-1",
		Name:       "Purchase approval",
		Visibility: models.VisibilityPrivate,
		OwnerID:    "user-1",
		Nodes: []*models.DefinitionNode{
			{ID: "A", Name: "Validate request", Kind: models.StepKindAutomation},
			{ID: "B", Name: "Check budget", Kind: models.StepKindAutomation, DependsOn: []string{"A"}},
			{ID: "C", Name: "Check vendor", Kind: models.StepKindAutomation, DependsOn: []string{"A"}},
			{ID: "D", Name: "Notify requester", Kind: models.StepKindNotification, DependsOn: []string{"B", "C"}},
		},
	}

	if mutate != nil {
		mutate(definition)
	}

	require.NoError(t, store.DefinitionRepository().Save(t.Context(), definition))

	return definition
}

func TestCreateInstance_SnapshotsGraph(t *testing.T) {
	stub := &stubExecutor{}
	eng, store := newTestEngine(t, stub)
	diamondDefinition(t, store, nil)

	instance, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		DefinitionID: "def-1",
		InitiatedBy:  "user-1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusPending, instance.Status)
	assert.Equal(t, "Purchase approval", instance.Name)
	assert.Equal(t, models.PriorityNormal, instance.Priority)
	require.Len(t, instance.Steps, 4)

	// Dependencies are rewritten from node IDs to step IDs.
	stepA, ok := instance.StepByNode("A")
	require.True(t, ok)
	stepD, ok := instance.StepByNode("D")
	require.True(t, ok)

	assert.Empty(t, stepA.DependsOn)
	assert.Len(t, stepD.DependsOn, 2)
	assert.NotContains(t, stepD.DependsOn, "B")

	for _, step := range instance.Steps {
		assert.Equal(t, models.StepStatusPending, step.Status)
		assert.Equal(t, instance.ID, step.InstanceID)
	}
}

func TestCreateInstance_RejectsCyclicDefinition(t *testing.T) {
	stub := &stubExecutor{}
	eng, store := newTestEngine(t, stub)
	diamondDefinition(t, store, func(d *models.WorkflowDefinition) {
		d.Nodes[0].DependsOn = []string{"D"}
	})

	_, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		DefinitionID: "def-1",
		InitiatedBy:  "user-1",
	})
	require.ErrorIs(t, err, models.ErrCyclicGraph)
}

func TestCreateInstance_UnknownDefinition(t *testing.T) {
	stub := &stubExecutor{}
	eng, _ := newTestEngine(t, stub)

	_, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		DefinitionID: "missing",
		InitiatedBy:  "user-1",
	})
	require.Error(t, err)
}

func TestStartInstance_RunsToCompletion(t *testing.T) {
	stub := &stubExecutor{}
	eng, store := newTestEngine(t, stub)
	diamondDefinition(t, store, nil)

	created, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		DefinitionID: "def-1",
		InitiatedBy:  "user-1",
	})
	require.NoError(t, err)

	instance, err := eng.StartInstance(t.Context(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.InDelta(t, 100.0, instance.Progress(), 0.01)

	for _, step := range instance.Steps {
		assert.Equal(t, models.StepStatusCompleted, step.Status)
		assert.NotNil(t, step.StartedAt)
		assert.NotNil(t, step.FinishedAt)
	}

	// Dependency order: A runs first, D last.
	require.Len(t, stub.executed, 4)
	assert.Equal(t, "A", stub.executed[0])
	assert.Equal(t, "D", stub.executed[3])
}

func TestStartInstance_Twice(t *testing.T) {
	stub := &stubExecutor{}
	eng, store := newTestEngine(t, stub)
	diamondDefinition(t, store, nil)

	created, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		DefinitionID: "def-1",
		InitiatedBy:  "user-1",
	})
	require.NoError(t, err)

	_, err = eng.StartInstance(t.Context(), created.ID)
	require.NoError(t, err)

	_, err = eng.StartInstance(t.Context(), created.ID)
	require.ErrorIs(t, err, ErrInstanceTerminal)
}

func TestRequiredStepFailure_FailsInstance(t *testing.T) {
	stub := &stubExecutor{failNodes: map[string]bool{"B": true}}
	eng, store := newTestEngine(t, stub)
	diamondDefinition(t, store, nil)

	created, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		DefinitionID: "def-1",
		InitiatedBy:  "user-1",
	})
	require.NoError(t, err)

	instance, err := eng.StartInstance(t.Context(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusFailed, instance.Status)

	stepB, _ := instance.StepByNode("B")
	assert.Equal(t, models.StepStatusFailed, stepB.Status)
	assert.Contains(t, stepB.ErrorMessage, "action exploded")

	// Steps that never became eligible are closed out as skipped.
	stepD, _ := instance.StepByNode("D")
	assert.Equal(t, models.StepStatusSkipped, stepD.Status)
}

func TestRequiredStepFailure_WaitsForRunningApproval(t *testing.T) {
	stub := &stubExecutor{failNodes: map[string]bool{"risky": true}}
	eng, store := newTestEngine(t, stub)

	// Two independent root branches: a human gate and an automation that
	// fails. The gate starts first, so it is already waiting when the
	// failure lands.
	definition := &models.WorkflowDefinition{
		ID:         "def-par",
		Name:       "Parallel rollout",
		Visibility: models.VisibilityPrivate,
		OwnerID:    "user-1",
		Nodes: []*models.DefinitionNode{
			{ID: "gate", Name: "Release sign-off", Kind: models.StepKindApproval},
			{ID: "risky", Name: "Deploy canary", Kind: models.StepKindAutomation},
		},
	}
	require.NoError(t, store.DefinitionRepository().Save(t.Context(), definition))

	created, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		DefinitionID: "def-par",
		InitiatedBy:  "user-1",
	})
	require.NoError(t, err)

	instance, err := eng.StartInstance(t.Context(), created.ID)
	require.NoError(t, err)

	// The failure is recorded but the instance stays running while the
	// gate is still undecided.
	assert.Equal(t, models.InstanceStatusRunning, instance.Status)

	riskyStep, _ := instance.StepByNode("risky")
	assert.Equal(t, models.StepStatusFailed, riskyStep.Status)

	gateStep, _ := instance.StepByNode("gate")
	assert.Equal(t, models.StepStatusRunning, gateStep.Status)

	// The gate can still be decided; only then does the instance fail.
	instance, err = eng.ResolveApprovalStep(t.Context(), instance.ID, gateStep.ID, true, "")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusFailed, instance.Status)

	gateStep, _ = instance.StepByNode("gate")
	assert.Equal(t, models.StepStatusCompleted, gateStep.Status)
}

func TestOptionalStepFailure_InstanceStillCompletes(t *testing.T) {
	stub := &stubExecutor{failNodes: map[string]bool{"B": true}}
	eng, store := newTestEngine(t, stub)
	diamondDefinition(t, store, func(d *models.WorkflowDefinition) {
		d.Nodes[1].Optional = true
	})

	created, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		DefinitionID: "def-1",
		InitiatedBy:  "user-1",
	})
	require.NoError(t, err)

	instance, err := eng.StartInstance(t.Context(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)

	stepB, _ := instance.StepByNode("B")
	assert.Equal(t, models.StepStatusSkipped, stepB.Status)
	assert.Contains(t, stepB.ErrorMessage, "action exploded")

	// The skipped predecessor still unblocked its successor.
	stepD, _ := instance.StepByNode("D")
	assert.Equal(t, models.StepStatusCompleted, stepD.Status)
}

func approvalDefinition(t *testing.T, store *file.Persistence) {
	t.Helper()

	definition := &models.WorkflowDefinition{
		ID:         "def-appr",
		Name:       "Expense approval",
		Visibility: models.VisibilityPrivate,
		OwnerID:    "user-1",
		Nodes: []*models.DefinitionNode{
			{ID: "prepare", Name: "Prepare report", Kind: models.StepKindAutomation},
			{ID: "approve", Name: "Manager approval", Kind: models.StepKindApproval, DependsOn: []string{"prepare"}},
			{ID: "notify", Name: "Notify requester", Kind: models.StepKindNotification, DependsOn: []string{"approve"}},
		},
	}

	require.NoError(t, store.DefinitionRepository().Save(t.Context(), definition))
}

func TestApprovalStep_BlocksUntilApproved(t *testing.T) {
	stub := &stubExecutor{}
	eng, store := newTestEngine(t, stub)
	approvalDefinition(t, store)

	created, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		DefinitionID: "def-appr",
		InitiatedBy:  "user-1",
	})
	require.NoError(t, err)

	instance, err := eng.StartInstance(t.Context(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusRunning, instance.Status)

	approvalStep, _ := instance.StepByNode("approve")
	assert.Equal(t, models.StepStatusRunning, approvalStep.Status)

	notifyStep, _ := instance.StepByNode("notify")
	assert.Equal(t, models.StepStatusPending, notifyStep.Status)

	instance, err = eng.ResolveApprovalStep(t.Context(), instance.ID, approvalStep.ID, true, "")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)

	approvalStep, _ = instance.StepByNode("approve")
	assert.Equal(t, models.StepStatusCompleted, approvalStep.Status)
	assert.Equal(t, map[string]any{"approved": true}, approvalStep.Result)
}

func TestApprovalStep_RejectionFailsInstance(t *testing.T) {
	stub := &stubExecutor{}
	eng, store := newTestEngine(t, stub)
	approvalDefinition(t, store)

	created, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		DefinitionID: "def-appr",
		InitiatedBy:  "user-1",
	})
	require.NoError(t, err)

	instance, err := eng.StartInstance(t.Context(), created.ID)
	require.NoError(t, err)

	approvalStep, _ := instance.StepByNode("approve")

	instance, err = eng.ResolveApprovalStep(t.Context(), instance.ID, approvalStep.ID, false, "budget exceeded")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusFailed, instance.Status)

	approvalStep, _ = instance.StepByNode("approve")
	assert.Equal(t, models.StepStatusFailed, approvalStep.Status)
	assert.Contains(t, approvalStep.ErrorMessage, "budget exceeded")
}

func TestResolveApprovalStep_NotWaiting(t *testing.T) {
	stub := &stubExecutor{}
	eng, store := newTestEngine(t, stub)
	approvalDefinition(t, store)

	created, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		DefinitionID: "def-appr",
		InitiatedBy:  "user-1",
	})
	require.NoError(t, err)

	instance, err := eng.StartInstance(t.Context(), created.ID)
	require.NoError(t, err)

	prepareStep, _ := instance.StepByNode("prepare")

	_, err = eng.ResolveApprovalStep(t.Context(), instance.ID, prepareStep.ID, true, "")
	require.ErrorIs(t, err, ErrStepNotWaiting)
}

func TestCancelInstance_SkipsOpenSteps(t *testing.T) {
	stub := &stubExecutor{}
	eng, store := newTestEngine(t, stub)
	approvalDefinition(t, store)

	created, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		DefinitionID: "def-appr",
		InitiatedBy:  "user-1",
	})
	require.NoError(t, err)

	instance, err := eng.StartInstance(t.Context(), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusRunning, instance.Status)

	approvalStep, _ := instance.StepByNode("approve")

	instance, err = eng.CancelInstance(t.Context(), instance.ID, "no longer needed", "user-1")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCancelled, instance.Status)
	assert.Equal(t, "no longer needed", instance.CancelReason)

	// The running approval and the pending notification both end skipped;
	// the finished step is untouched.
	for _, step := range instance.Steps {
		if step.NodeID == "prepare" {
			assert.Equal(t, models.StepStatusCompleted, step.Status)

			continue
		}

		assert.Equal(t, models.StepStatusSkipped, step.Status)
		assert.Contains(t, step.ErrorMessage, "no longer needed")
	}

	// Decisions after cancellation are rejected.
	_, err = eng.ResolveApprovalStep(t.Context(), instance.ID, approvalStep.ID, true, "")
	require.ErrorIs(t, err, ErrInstanceTerminal)

	_, err = eng.CancelInstance(t.Context(), instance.ID, "again", "user-1")
	require.ErrorIs(t, err, ErrInstanceTerminal)
}

func TestCancelInstance_ClosesApprovalRequest(t *testing.T) {
	stub := &stubExecutor{}
	eng, store := newTestEngine(t, stub)
	approvalDefinition(t, store)

	created, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		DefinitionID: "def-appr",
		InitiatedBy:  "user-1",
	})
	require.NoError(t, err)

	instance, err := eng.StartInstance(t.Context(), created.ID)
	require.NoError(t, err)

	approvalStep, _ := instance.StepByNode("approve")

	request := &models.ApprovalRequest{
		ID:          "req-1",
		InstanceID:  instance.ID,
		StepID:      approvalStep.ID,
		ApproverID:  "manager-1",
		Status:      models.ApprovalStatusPending,
		RequestedAt: time.Now().UTC(),
	}
	require.NoError(t, store.ApprovalRepository().Save(t.Context(), request))

	_, err = eng.CancelInstance(t.Context(), instance.ID, "budget freeze", "user-1")
	require.NoError(t, err)

	// The open request is closed alongside its skipped step.
	request, err = store.ApprovalRepository().GetByID(t.Context(), "req-1")
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalStatusCancelled, request.Status)
	assert.NotNil(t, request.DecidedAt)
	assert.Contains(t, request.Reason, "budget freeze")

	// And it no longer shows up as the step's active request.
	active, err := store.ApprovalRepository().GetActiveByStep(t.Context(), approvalStep.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}
