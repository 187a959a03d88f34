package web_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlineio/flowline/pkg/engine"
	"github.com/flowlineio/flowline/pkg/executor"
	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/persistence/file"
	"github.com/flowlineio/flowline/pkg/registry"
	"github.com/flowlineio/flowline/pkg/services"
	"github.com/flowlineio/flowline/pkg/web"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	app, _ := setupTestStack(t)

	return app
}

func setupTestStack(t *testing.T) (*fiber.App, *file.Persistence) {
	t.Helper()

	logger := slog.Default()
	persistence := file.NewPersistence(t.TempDir())
	actionRegistry := registry.NewDefaultRegistry(logger)

	definitionService := services.NewDefinition(persistence)
	templateService := services.NewTemplate(persistence)
	approvalService := services.NewApproval(persistence, nil, logger)

	stepExecutor := executor.NewExecutor(actionRegistry, approvalService, logger)
	workflowEngine := engine.NewEngine(
		persistence.DefinitionRepository(),
		persistence.InstanceRepository(),
		persistence.ApprovalRepository(),
		stepExecutor,
		nil,
		logger,
	)
	approvalService.SetResolver(workflowEngine)

	handlers := web.NewAPIHandlers(
		definitionService,
		templateService,
		approvalService,
		workflowEngine,
		persistence.InstanceRepository(),
		validator.New(validator.WithRequiredStructEnabled()),
		actionRegistry,
	)

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return app, persistence
}

func doJSON(t *testing.T, app *fiber.App, method, path string, reqBody any) (int, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if reqBody != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(reqBody))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, body
}

func notificationNode(id, name string, dependsOn ...string) *models.DefinitionNode {
	return &models.DefinitionNode{
		ID:        id,
		Name:      name,
		Kind:      models.StepKindNotification,
		Config:    map[string]any{"message": name + " done"},
		DependsOn: dependsOn,
	}
}

func notifyOnlyDefinition(name, visibility string) web.CreateDefinitionRequest {
	return web.CreateDefinitionRequest{
		Name:       name,
		Visibility: visibility,
		OwnerID:    "owner-1",
		Nodes: []*models.DefinitionNode{
			notificationNode("first", "First"),
			notificationNode("second", "Second", "first"),
		},
	}
}

func approvalDefinition(name string) web.CreateDefinitionRequest {
	return web.CreateDefinitionRequest{
		Name:       name,
		Visibility: "private",
		OwnerID:    "owner-1",
		Nodes: []*models.DefinitionNode{
			notificationNode("prepare", "Prepare"),
			{
				ID:        "approve",
				Name:      "Manager approval",
				Kind:      models.StepKindApproval,
				Config:    map[string]any{"approver_id": "manager-1"},
				DependsOn: []string{"prepare"},
			},
			notificationNode("announce", "Announce", "approve"),
		},
	}
}

func createDefinition(t *testing.T, app *fiber.App, req web.CreateDefinitionRequest) models.WorkflowDefinition {
	t.Helper()

	status, body := doJSON(t, app, http.MethodPost, "/definitions", req)
	require.Equal(t, http.StatusCreated, status, string(body))

	var definition models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &definition))

	return definition
}

func createInstance(t *testing.T, app *fiber.App, definitionID, initiatedBy string) web.InstanceResponse {
	t.Helper()

	status, body := doJSON(t, app, http.MethodPost, "/instances", web.CreateInstanceRequest{
		DefinitionID: definitionID,
		InitiatedBy:  initiatedBy,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var instance web.InstanceResponse
	require.NoError(t, json.Unmarshal(body, &instance))

	return instance
}

func TestAPIHandlers_CreateDefinition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name:           "successful creation",
			requestBody:    notifyOnlyDefinition("Expense Report", "private"),
			expectedStatus: http.StatusCreated,
		},
		{
			name: "missing name",
			requestBody: web.CreateDefinitionRequest{
				OwnerID: "owner-1",
				Nodes:   []*models.DefinitionNode{notificationNode("a", "A")},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing owner",
			requestBody: web.CreateDefinitionRequest{
				Name:  "Expense Report",
				Nodes: []*models.DefinitionNode{notificationNode("a", "A")},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "no nodes",
			requestBody: web.CreateDefinitionRequest{
				Name:    "Expense Report",
				OwnerID: "owner-1",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "cyclic graph rejected",
			requestBody: web.CreateDefinitionRequest{
				Name:    "Cyclic",
				OwnerID: "owner-1",
				Nodes: []*models.DefinitionNode{
					notificationNode("a", "A", "b"),
					notificationNode("b", "B", "a"),
				},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)

			status, body := doJSON(t, app, http.MethodPost, "/definitions", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.expectedStatus == http.StatusCreated {
				var definition models.WorkflowDefinition
				require.NoError(t, json.Unmarshal(body, &definition))
				assert.NotEmpty(t, definition.ID)
				assert.Equal(t, 1, definition.Version)
				assert.Equal(t, models.VisibilityPrivate, definition.Visibility)
			}
		})
	}
}

func TestAPIHandlers_GetDefinition(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	definition := createDefinition(t, app, notifyOnlyDefinition("Expense Report", "private"))

	status, body := doJSON(t, app, http.MethodGet, "/definitions/"+definition.ID, nil)
	require.Equal(t, http.StatusOK, status)

	var fetched models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, definition.ID, fetched.ID)
	assert.Equal(t, "Expense Report", fetched.Name)

	status, _ = doJSON(t, app, http.MethodGet, "/definitions/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_GetTemplates_ListsPublicOnly(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	public := createDefinition(t, app, notifyOnlyDefinition("Onboarding", "public"))
	createDefinition(t, app, notifyOnlyDefinition("Internal Only", "private"))

	status, body := doJSON(t, app, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, status)

	var result struct {
		Templates  []*models.WorkflowDefinition `json:"templates"`
		TotalCount int                          `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	require.Len(t, result.Templates, 1)
	assert.Equal(t, public.ID, result.Templates[0].ID)
	assert.Equal(t, 1, result.TotalCount)
}

func TestAPIHandlers_UseTemplate(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	template := createDefinition(t, app, notifyOnlyDefinition("Onboarding", "public"))

	status, body := doJSON(t, app, http.MethodPost, "/templates/"+template.ID+"/use", web.UseTemplateRequest{
		UserID: "user-2",
		Name:   "My Onboarding",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var clone models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &clone))
	assert.NotEqual(t, template.ID, clone.ID)
	assert.Equal(t, "My Onboarding", clone.Name)
	assert.Equal(t, models.VisibilityPrivate, clone.Visibility)
	assert.Equal(t, "user-2", clone.OwnerID)
	assert.Equal(t, 1, clone.Version)
	assert.Zero(t, clone.UsageCount)
	require.Len(t, clone.Nodes, len(template.Nodes))

	for i, node := range clone.Nodes {
		assert.NotEqual(t, template.Nodes[i].ID, node.ID)
	}

	// The source template records the use.
	status, body = doJSON(t, app, http.MethodGet, "/definitions/"+template.ID, nil)
	require.Equal(t, http.StatusOK, status)

	var source models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &source))
	assert.Equal(t, int64(1), source.UsageCount)
}

func TestAPIHandlers_UseTemplate_PrivateRequiresOwner(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	private := createDefinition(t, app, notifyOnlyDefinition("Internal Only", "private"))

	status, _ := doJSON(t, app, http.MethodPost, "/templates/"+private.ID+"/use", web.UseTemplateRequest{
		UserID: "intruder",
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = doJSON(t, app, http.MethodPost, "/templates/"+private.ID+"/use", web.UseTemplateRequest{
		UserID: "owner-1",
	})
	assert.Equal(t, http.StatusCreated, status)

	status, _ = doJSON(t, app, http.MethodPost, "/templates/missing/use", web.UseTemplateRequest{
		UserID: "user-2",
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_CreateInstance(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	definition := createDefinition(t, app, notifyOnlyDefinition("Expense Report", "private"))

	instance := createInstance(t, app, definition.ID, "user-1")
	assert.Equal(t, models.InstanceStatusPending, instance.Status)
	assert.Equal(t, models.PriorityNormal, instance.Priority)
	assert.Len(t, instance.Steps, 2)
	assert.Zero(t, instance.Progress)

	status, _ := doJSON(t, app, http.MethodPost, "/instances", web.CreateInstanceRequest{
		DefinitionID: "missing",
		InitiatedBy:  "user-1",
	})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, app, http.MethodPost, "/instances", web.CreateInstanceRequest{
		DefinitionID: definition.ID,
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_CreateInstance_InvalidStoredGraph(t *testing.T) {
	t.Parallel()

	app, persistence := setupTestStack(t)

	// A definition that slipped past authoring validation (imported data,
	// older format) is still rejected as a client error at instantiation.
	cyclic := &models.WorkflowDefinition{
		ID:         "def-cyclic",
		Name:       "Cyclic",
		Visibility: models.VisibilityPrivate,
		OwnerID:    "owner-1",
		Nodes: []*models.DefinitionNode{
			notificationNode("a", "A", "b"),
			notificationNode("b", "B", "a"),
		},
	}
	require.NoError(t, persistence.DefinitionRepository().Save(t.Context(), cyclic))

	status, body := doJSON(t, app, http.MethodPost, "/instances", web.CreateInstanceRequest{
		DefinitionID: cyclic.ID,
		InitiatedBy:  "user-1",
	})
	assert.Equal(t, http.StatusBadRequest, status, string(body))
}

func TestAPIHandlers_StartInstance_RunsToCompletion(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	definition := createDefinition(t, app, notifyOnlyDefinition("Expense Report", "private"))
	instance := createInstance(t, app, definition.ID, "user-1")

	status, body := doJSON(t, app, http.MethodPost, "/instances/"+instance.ID+"/start", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var started web.InstanceResponse
	require.NoError(t, json.Unmarshal(body, &started))
	assert.Equal(t, models.InstanceStatusCompleted, started.Status)
	assert.InDelta(t, 100, started.Progress, 0.01)

	// A completed instance cannot start again.
	status, _ = doJSON(t, app, http.MethodPost, "/instances/"+instance.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPIHandlers_GetInstances_Filters(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	definition := createDefinition(t, app, notifyOnlyDefinition("Expense Report", "private"))

	first := createInstance(t, app, definition.ID, "user-1")
	createInstance(t, app, definition.ID, "user-2")

	status, body := doJSON(t, app, http.MethodPost, "/instances/"+first.ID+"/start", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = doJSON(t, app, http.MethodGet, "/instances?status=pending", nil)
	require.Equal(t, http.StatusOK, status)

	var result struct {
		Instances   []web.InstanceResponse `json:"instances"`
		TotalCount  int64                  `json:"total_count"`
		HasNextPage bool                   `json:"has_next_page"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	require.Len(t, result.Instances, 1)
	assert.Equal(t, "user-2", result.Instances[0].InitiatedBy)
	assert.Equal(t, int64(1), result.TotalCount)
	assert.False(t, result.HasNextPage)

	status, _ = doJSON(t, app, http.MethodGet, "/instances?sla_breached=banana", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_GetInstance(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	definition := createDefinition(t, app, notifyOnlyDefinition("Expense Report", "private"))
	instance := createInstance(t, app, definition.ID, "user-1")

	status, body := doJSON(t, app, http.MethodGet, "/instances/"+instance.ID, nil)
	require.Equal(t, http.StatusOK, status)

	var fetched web.InstanceResponse
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, instance.ID, fetched.ID)

	status, _ = doJSON(t, app, http.MethodGet, "/instances/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_CancelInstance(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	definition := createDefinition(t, app, notifyOnlyDefinition("Expense Report", "private"))
	instance := createInstance(t, app, definition.ID, "user-1")

	status, body := doJSON(t, app, http.MethodPost, "/instances/"+instance.ID+"/cancel", web.CancelInstanceRequest{
		Reason:      "duplicate request",
		CancelledBy: "user-1",
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var cancelled web.InstanceResponse
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)
	assert.Equal(t, "duplicate request", cancelled.CancelReason)

	// Cancelling twice conflicts, a missing reason is a validation error.
	status, _ = doJSON(t, app, http.MethodPost, "/instances/"+instance.ID+"/cancel", web.CancelInstanceRequest{
		Reason:      "again",
		CancelledBy: "user-1",
	})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = doJSON(t, app, http.MethodPost, "/instances/"+instance.ID+"/cancel", web.CancelInstanceRequest{
		CancelledBy: "user-1",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func listApprovals(t *testing.T, app *fiber.App, query string) []web.ApprovalResponse {
	t.Helper()

	status, body := doJSON(t, app, http.MethodGet, "/approvals"+query, nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var result struct {
		Approvals []web.ApprovalResponse `json:"approvals"`
	}
	require.NoError(t, json.Unmarshal(body, &result))

	return result.Approvals
}

func TestAPIHandlers_ApprovalFlow(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	definition := createDefinition(t, app, approvalDefinition("Purchase Order"))
	instance := createInstance(t, app, definition.ID, "user-1")

	status, body := doJSON(t, app, http.MethodPost, "/instances/"+instance.ID+"/start", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var started web.InstanceResponse
	require.NoError(t, json.Unmarshal(body, &started))
	require.Equal(t, models.InstanceStatusRunning, started.Status)

	approvals := listApprovals(t, app, "?approver_id=manager-1")
	require.Len(t, approvals, 1)
	request := approvals[0]
	assert.Equal(t, models.ApprovalStatusPending, request.Status)
	assert.Equal(t, instance.ID, request.InstanceID)

	// The wrong approver cannot decide.
	status, _ = doJSON(t, app, http.MethodPost, "/approvals/"+request.ID+"/decide", web.DecideApprovalRequest{
		ApproverID: "someone-else",
		Approved:   true,
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = doJSON(t, app, http.MethodPost, "/approvals/"+request.ID+"/decide", web.DecideApprovalRequest{
		ApproverID: "manager-1",
		Approved:   true,
		Comments:   "vendor already cleared",
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var decided web.ApprovalResponse
	require.NoError(t, json.Unmarshal(body, &decided))
	assert.Equal(t, models.ApprovalStatusApproved, decided.Status)
	require.NotNil(t, decided.DecidedAt)
	assert.Equal(t, "vendor already cleared", decided.Comments)

	// Approval unblocks the rest of the workflow.
	status, body = doJSON(t, app, http.MethodGet, "/instances/"+instance.ID, nil)
	require.Equal(t, http.StatusOK, status)

	var final web.InstanceResponse
	require.NoError(t, json.Unmarshal(body, &final))
	assert.Equal(t, models.InstanceStatusCompleted, final.Status)

	// A decided request rejects further decisions.
	status, _ = doJSON(t, app, http.MethodPost, "/approvals/"+request.ID+"/decide", web.DecideApprovalRequest{
		ApproverID: "manager-1",
		Approved:   false,
	})
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPIHandlers_RejectionFailsInstance(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	definition := createDefinition(t, app, approvalDefinition("Purchase Order"))
	instance := createInstance(t, app, definition.ID, "user-1")

	status, body := doJSON(t, app, http.MethodPost, "/instances/"+instance.ID+"/start", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	approvals := listApprovals(t, app, fmt.Sprintf("?instance_id=%s", instance.ID))
	require.Len(t, approvals, 1)

	status, body = doJSON(t, app, http.MethodPost, "/approvals/"+approvals[0].ID+"/decide", web.DecideApprovalRequest{
		ApproverID: "manager-1",
		Approved:   false,
		Reason:     "budget exceeded",
	})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = doJSON(t, app, http.MethodGet, "/instances/"+instance.ID, nil)
	require.Equal(t, http.StatusOK, status)

	var final web.InstanceResponse
	require.NoError(t, json.Unmarshal(body, &final))
	assert.Equal(t, models.InstanceStatusFailed, final.Status)
}

func TestAPIHandlers_DelegateApproval(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	definition := createDefinition(t, app, approvalDefinition("Purchase Order"))
	instance := createInstance(t, app, definition.ID, "user-1")

	status, body := doJSON(t, app, http.MethodPost, "/instances/"+instance.ID+"/start", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	approvals := listApprovals(t, app, "?approver_id=manager-1")
	require.Len(t, approvals, 1)
	original := approvals[0]

	// Self-delegation is rejected.
	status, _ = doJSON(t, app, http.MethodPost, "/approvals/"+original.ID+"/delegate", web.DelegateApprovalRequest{
		FromApprover: "manager-1",
		ToApprover:   "manager-1",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doJSON(t, app, http.MethodPost, "/approvals/"+original.ID+"/delegate", web.DelegateApprovalRequest{
		FromApprover: "manager-1",
		ToApprover:   "director-1",
		Comments:     "on leave this week",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var delegated web.ApprovalResponse
	require.NoError(t, json.Unmarshal(body, &delegated))
	assert.Equal(t, "director-1", delegated.ApproverID)
	assert.Equal(t, models.ApprovalStatusPending, delegated.Status)
	require.NotNil(t, delegated.DelegatedFrom)
	assert.Equal(t, original.ID, *delegated.DelegatedFrom)

	// The delegate's decision resumes the workflow.
	status, body = doJSON(t, app, http.MethodPost, "/approvals/"+delegated.ID+"/decide", web.DecideApprovalRequest{
		ApproverID: "director-1",
		Approved:   true,
	})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = doJSON(t, app, http.MethodGet, "/instances/"+instance.ID, nil)
	require.Equal(t, http.StatusOK, status)

	var final web.InstanceResponse
	require.NoError(t, json.Unmarshal(body, &final))
	assert.Equal(t, models.InstanceStatusCompleted, final.Status)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := doJSON(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var health struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health.Status)
}
