// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/flowlineio/flowline/pkg/engine"
	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/persistence"
	"github.com/flowlineio/flowline/pkg/registry"
	"github.com/flowlineio/flowline/pkg/services"
)

type APIHandlers struct {
	definitionService *services.Definition
	templateService   *services.Template
	approvalService   *services.Approval
	engine            *engine.Engine
	instances         persistence.InstanceRepository
	validator         *validator.Validate
	registry          *registry.Registry
}

func NewAPIHandlers(
	definitionService *services.Definition,
	templateService *services.Template,
	approvalService *services.Approval,
	workflowEngine *engine.Engine,
	instances persistence.InstanceRepository,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		definitionService: definitionService,
		templateService:   templateService,
		approvalService:   approvalService,
		engine:            workflowEngine,
		instances:         instances,
		validator:         validator,
		registry:          registry,
	}
}

// RegisterRoutes mounts every API route on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	app.Post("/definitions", h.CreateDefinition)
	app.Get("/definitions/:id", h.GetDefinition)

	app.Get("/templates", h.GetTemplates)
	app.Post("/templates/:id/use", h.UseTemplate)

	app.Post("/instances", h.CreateInstance)
	app.Get("/instances", h.GetInstances)
	app.Get("/instances/:id", h.GetInstance)
	app.Post("/instances/:id/start", h.StartInstance)
	app.Post("/instances/:id/cancel", h.CancelInstance)

	app.Get("/approvals", h.GetApprovals)
	app.Post("/approvals/:id/decide", h.DecideApproval)
	app.Post("/approvals/:id/delegate", h.DelegateApproval)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryErr := h.registry.HealthCheck(c.Context())
	repositoryCheck, repOk := h.definitionService.HealthCheck(c.Context())

	registryCheck := "Registry is healthy"
	if registryErr != nil {
		registryCheck = "Registry is unhealthy: " + registryErr.Error()
	}

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if registryErr == nil && repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	var req CreateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition := &models.WorkflowDefinition{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Industry:    req.Industry,
		Tags:        req.Tags,
		Visibility:  models.Visibility(req.Visibility),
		OwnerID:     req.OwnerID,
		Nodes:       req.Nodes,
	}

	created, err := h.definitionService.SaveDefinition(c.Context(), definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	definition, err := h.definitionService.GetDefinition(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	req := services.ListTemplatesRequest{
		Search:   c.Query("search"),
		Category: c.Query("category"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit parameter")
		}

		req.Limit = limit
	}

	templates, err := h.templateService.ListTemplates(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"templates":   templates,
		"total_count": len(templates),
	})
}

func (h *APIHandlers) UseTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	var req UseTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	clone, err := h.templateService.UseTemplate(c.Context(), services.UseTemplateRequest{
		TemplateID: id,
		UserID:     req.UserID,
		Name:       req.Name,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(clone)
}

func (h *APIHandlers) CreateInstance(c fiber.Ctx) error {
	var req CreateInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.CreateInstance(c.Context(), engine.CreateInstanceRequest{
		DefinitionID: req.DefinitionID,
		Name:         req.Name,
		Priority:     req.Priority,
		InitiatedBy:  req.InitiatedBy,
		DueDate:      req.DueDate,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformInstanceResponse(instance))
}

func (h *APIHandlers) GetInstances(c fiber.Ctx) error {
	opts := persistence.ListInstancesOptions{
		InitiatedBy: c.Query("initiated_by"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.InstanceStatus(statusStr)
		opts.Status = &status
	}

	if breachedStr := c.Query("sla_breached"); breachedStr != "" {
		breached, err := strconv.ParseBool(breachedStr)
		if err != nil {
			return badRequest(c, "Invalid sla_breached parameter")
		}

		opts.SLABreached = &breached
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit parameter")
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return badRequest(c, "Invalid offset parameter")
		}

		opts.Offset = offset
	}

	result, err := h.instances.List(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	instances := make([]InstanceResponse, 0, len(result.Instances))
	for _, instance := range result.Instances {
		instances = append(instances, TransformInstanceResponse(instance))
	}

	return c.JSON(fiber.Map{
		"instances":     instances,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
	})
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := h.instances.GetByID(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	if instance == nil {
		return notFound(c, "workflow instance not found")
	}

	return c.JSON(TransformInstanceResponse(instance))
}

func (h *APIHandlers) StartInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := h.engine.StartInstance(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformInstanceResponse(instance))
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	var req CancelInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.CancelInstance(c.Context(), id, req.Reason, req.CancelledBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformInstanceResponse(instance))
}

func (h *APIHandlers) GetApprovals(c fiber.Ctx) error {
	req := services.ListApprovalsRequest{
		ApproverID: c.Query("approver_id"),
		InstanceID: c.Query("instance_id"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ApprovalStatus(statusStr)
		req.Status = &status
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit parameter")
		}

		req.Limit = limit
	}

	var overdueOnly bool

	if overdueStr := c.Query("overdue"); overdueStr != "" {
		overdue, err := strconv.ParseBool(overdueStr)
		if err != nil {
			return badRequest(c, "Invalid overdue parameter")
		}

		overdueOnly = overdue
	}

	requests, err := h.approvalService.ListApprovals(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	now := time.Now().UTC()

	approvals := make([]ApprovalResponse, 0, len(requests))

	for _, request := range requests {
		if overdueOnly && !request.Overdue(now) {
			continue
		}

		approvals = append(approvals, TransformApprovalResponse(request, now))
	}

	return c.JSON(fiber.Map{
		"approvals":   approvals,
		"total_count": len(approvals),
	})
}

func (h *APIHandlers) DecideApproval(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Approval request ID is required")
	}

	var req DecideApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	request, err := h.approvalService.Decide(c.Context(), id, req.ApproverID, req.Approved, req.Reason, req.Comments)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformApprovalResponse(request, time.Now().UTC()))
}

func (h *APIHandlers) DelegateApproval(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Approval request ID is required")
	}

	var req DelegateApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	delegated, err := h.approvalService.Delegate(c.Context(), id, req.FromApprover, req.ToApprover, req.Comments)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformApprovalResponse(delegated, time.Now().UTC()))
}
