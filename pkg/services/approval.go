package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowlineio/flowline/pkg/eventbus"
	"github.com/flowlineio/flowline/pkg/events"
	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/persistence"
)

// StepResolver applies an approval decision back to the owning instance.
// Satisfied by the engine; injected after construction because the engine's
// executor depends on this service for opening requests.
type StepResolver interface {
	ResolveApprovalStep(ctx context.Context, instanceID, stepID string, approved bool, reason string) (*models.WorkflowInstance, error)
}

// Approval manages the lifecycle of approval requests: opening them when an
// approval step starts, recording decisions and handling delegation chains.
type Approval struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	resolver    StepResolver
	logger      *slog.Logger
}

// NewApproval creates a new approval service.
func NewApproval(persistence persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Approval {
	return &Approval{
		persistence: persistence,
		publisher:   publisher,
		logger:      logger.With("module", "approval"),
	}
}

// SetResolver wires the engine in once both sides exist.
func (s *Approval) SetResolver(resolver StepResolver) {
	s.resolver = resolver
}

// RequestApproval opens an approval request for a step entering the waiting
// state. A step holds at most one active request at a time.
func (s *Approval) RequestApproval(ctx context.Context, instance *models.WorkflowInstance, step *models.StepInstance) error {
	approverID, _ := step.Config["approver_id"].(string)
	if approverID == "" {
		return ErrApproverRequired
	}

	active, err := s.persistence.ApprovalRepository().GetActiveByStep(ctx, step.ID)
	if err != nil {
		return fmt.Errorf("failed to check active approvals: %w", err)
	}

	if active != nil {
		return ErrApprovalAlreadyActive
	}

	request := &models.ApprovalRequest{
		InstanceID:  instance.ID,
		StepID:      step.ID,
		ApproverID:  approverID,
		Status:      models.ApprovalStatusPending,
		RequestedAt: time.Now().UTC(),
		DueDate:     approvalDueDate(step.Config),
	}

	err = s.persistence.ApprovalRepository().Save(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to save approval request: %w", err)
	}

	s.publish(ctx, instance.ID, events.ApprovalRequested{
		BaseEvent:  events.NewBaseEvent(events.ApprovalRequestedEvent, instance.ID),
		RequestID:  request.ID,
		StepID:     step.ID,
		ApproverID: approverID,
		DueDate:    request.DueDate,
	})

	s.logger.InfoContext(ctx, "Approval requested",
		"instance_id", instance.ID,
		"step_id", step.ID,
		"approver_id", approverID,
	)

	return nil
}

// approvalDueDate derives the request deadline from the step configuration.
func approvalDueDate(config map[string]any) *time.Time {
	hours, ok := config["due_hours"].(float64)
	if !ok || hours <= 0 {
		return nil
	}

	due := time.Now().UTC().Add(time.Duration(hours * float64(time.Hour)))

	return &due
}

// Decide records an approve or reject decision and resolves the blocked step.
// Only the assigned approver may decide, and a decided request is immutable.
// Reason feeds the step outcome on rejection; comments are free-form notes
// kept on the request itself.
func (s *Approval) Decide(ctx context.Context, requestID, approverID string, approved bool, reason, comments string) (*models.ApprovalRequest, error) {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if request.Status.Terminal() {
		return nil, ErrApprovalAlreadyDecided
	}

	if request.ApproverID != approverID {
		return nil, ErrNotAuthorized
	}

	now := time.Now().UTC()

	if approved {
		request.Status = models.ApprovalStatusApproved
	} else {
		request.Status = models.ApprovalStatusRejected
	}

	request.DecidedAt = &now
	request.Reason = reason
	request.Comments = comments

	err = s.persistence.ApprovalRepository().Save(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to save decision: %w", err)
	}

	s.publish(ctx, request.InstanceID, events.ApprovalDecided{
		BaseEvent:  events.NewBaseEvent(events.ApprovalDecidedEvent, request.InstanceID),
		RequestID:  request.ID,
		StepID:     request.StepID,
		ApproverID: approverID,
		Status:     request.Status,
		Reason:     reason,
	})

	if s.resolver != nil {
		_, err = s.resolver.ResolveApprovalStep(ctx, request.InstanceID, request.StepID, approved, reason)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve approval step: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "Approval decided",
		"request_id", request.ID,
		"status", request.Status,
	)

	return request, nil
}

// Delegate closes the current request as delegated and opens a fresh pending
// request for the new approver, back-linked through DelegatedFrom.
func (s *Approval) Delegate(ctx context.Context, requestID, fromApprover, toApprover, comments string) (*models.ApprovalRequest, error) {
	if toApprover == "" {
		return nil, ErrApproverRequired
	}

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if request.Status.Terminal() {
		return nil, ErrApprovalAlreadyDecided
	}

	if request.ApproverID != fromApprover {
		return nil, ErrNotAuthorized
	}

	if request.ApproverID == toApprover {
		return nil, ErrSelfDelegation
	}

	now := time.Now().UTC()
	request.Status = models.ApprovalStatusDelegated
	request.DecidedAt = &now
	request.Comments = comments

	err = s.persistence.ApprovalRepository().Save(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to close delegated request: %w", err)
	}

	delegated := &models.ApprovalRequest{
		InstanceID:    request.InstanceID,
		StepID:        request.StepID,
		ApproverID:    toApprover,
		Status:        models.ApprovalStatusPending,
		RequestedAt:   now,
		DueDate:       request.DueDate,
		DelegatedFrom: &request.ID,
	}

	err = s.persistence.ApprovalRepository().Save(ctx, delegated)
	if err != nil {
		return nil, fmt.Errorf("failed to open delegated request: %w", err)
	}

	s.publish(ctx, request.InstanceID, events.ApprovalDelegated{
		BaseEvent:    events.NewBaseEvent(events.ApprovalDelegatedEvent, request.InstanceID),
		RequestID:    request.ID,
		NewRequestID: delegated.ID,
		StepID:       request.StepID,
		FromApprover: fromApprover,
		ToApprover:   toApprover,
	})

	s.logger.InfoContext(ctx, "Approval delegated",
		"request_id", request.ID,
		"new_request_id", delegated.ID,
		"to_approver", toApprover,
	)

	return delegated, nil
}

// ListApprovalsRequest filters the approval listing.
type ListApprovalsRequest struct {
	ApproverID string
	InstanceID string
	Status     *models.ApprovalStatus
	Limit      int
}

// ListApprovals returns approval requests matching the filter.
func (s *Approval) ListApprovals(ctx context.Context, req ListApprovalsRequest) ([]*models.ApprovalRequest, error) {
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}

	requests, err := s.persistence.ApprovalRepository().List(ctx, persistence.ListApprovalsOptions{
		ApproverID: req.ApproverID,
		InstanceID: req.InstanceID,
		Status:     req.Status,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}

	return requests, nil
}

// GetApproval returns a single request, or a not-found error.
func (s *Approval) GetApproval(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	return s.loadRequest(ctx, requestID)
}

func (s *Approval) loadRequest(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	request, err := s.persistence.ApprovalRepository().GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load approval request: %w", err)
	}

	if request == nil {
		return nil, persistence.NewApprovalError("loadRequest", requestID, persistence.ErrApprovalNotFound)
	}

	return request, nil
}

func (s *Approval) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.Publish(ctx, key, event)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err,
		)
	}
}
