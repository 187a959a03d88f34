// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"time"

	"github.com/flowlineio/flowline/pkg/models"
)

// CreateDefinitionRequest represents the request body for authoring a new
// workflow definition.
type CreateDefinitionRequest struct {
	Name        string                   `json:"name"        validate:"required,min=3"`
	Description string                   `json:"description"`
	Category    string                   `json:"category"`
	Industry    string                   `json:"industry"`
	Tags        []string                 `json:"tags"`
	Visibility  string                   `json:"visibility"  validate:"omitempty,oneof=public private"`
	OwnerID     string                   `json:"owner_id"    validate:"required"`
	Nodes       []*models.DefinitionNode `json:"nodes"       validate:"required,min=1,dive"`
}

// UseTemplateRequest represents the request body for cloning a template.
type UseTemplateRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Name   string `json:"name,omitempty"`
}

// CreateInstanceRequest represents the request body for instantiating a
// workflow definition.
type CreateInstanceRequest struct {
	DefinitionID string     `json:"definition_id" validate:"required"`
	Name         string     `json:"name,omitempty"`
	Priority     string     `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`
	InitiatedBy  string     `json:"initiated_by"  validate:"required"`
	DueDate      *time.Time `json:"due_date,omitempty"`
}

// CancelInstanceRequest represents the request body for cancelling an instance.
type CancelInstanceRequest struct {
	Reason      string `json:"reason"       validate:"required"`
	CancelledBy string `json:"cancelled_by" validate:"required"`
}

// DecideApprovalRequest represents the request body for an approval decision.
type DecideApprovalRequest struct {
	ApproverID string `json:"approver_id" validate:"required"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
	Comments   string `json:"comments,omitempty"`
}

// DelegateApprovalRequest represents the request body for delegating an
// approval to another approver.
type DelegateApprovalRequest struct {
	FromApprover string `json:"from_approver" validate:"required"`
	ToApprover   string `json:"to_approver"   validate:"required"`
	Comments     string `json:"comments,omitempty"`
}

// InstanceResponse decorates an instance with its derived progress.
type InstanceResponse struct {
	*models.WorkflowInstance

	Progress float64 `json:"progress"`
}

// TransformInstanceResponse computes the read-time fields of an instance.
func TransformInstanceResponse(instance *models.WorkflowInstance) InstanceResponse {
	return InstanceResponse{
		WorkflowInstance: instance,
		Progress:         instance.Progress(),
	}
}

// ApprovalResponse decorates an approval request with its read-time overdue
// flag.
type ApprovalResponse struct {
	*models.ApprovalRequest

	Overdue bool `json:"overdue"`
}

// TransformApprovalResponse computes the read-time fields of a request.
func TransformApprovalResponse(request *models.ApprovalRequest, now time.Time) ApprovalResponse {
	return ApprovalResponse{
		ApprovalRequest: request,
		Overdue:         request.Overdue(now),
	}
}
