// Package persistence provides the data storage abstraction layer for
// workflow definitions, instances and approval requests.
package persistence

import (
	"context"
	"time"

	"github.com/flowlineio/flowline/pkg/models"
)

// Persistence bundles the entity repositories behind one backend handle.
type Persistence interface {
	DefinitionRepository() DefinitionRepository
	InstanceRepository() InstanceRepository
	ApprovalRepository() ApprovalRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListTemplatesOptions filters the template listing.
type ListTemplatesOptions struct {
	Search   string
	Category string
	IsPublic *bool
	OwnerID  string
	Limit    int
}

// DefinitionRepository stores workflow definitions and templates.
// GetByID returns (nil, nil) when no definition exists for the ID.
type DefinitionRepository interface {
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	ListTemplates(ctx context.Context, opts ListTemplatesOptions) ([]*models.WorkflowDefinition, error)

	// IncrementUsage atomically bumps the usage counter so concurrent
	// "use template" requests never lose updates.
	IncrementUsage(ctx context.Context, id string) error
}

// ListInstancesOptions filters and paginates the instance listing.
type ListInstancesOptions struct {
	Status      *models.InstanceStatus
	InitiatedBy string
	SLABreached *bool
	Limit       int
	Offset      int
}

// InstanceListResult is a page of instances plus paging metadata.
type InstanceListResult struct {
	Instances   []*models.WorkflowInstance
	TotalCount  int64
	HasNextPage bool
}

// InstanceRepository stores workflow instances and their steps.
// GetByID returns (nil, nil) when no instance exists for the ID.
//
// Update performs a compare-and-set on the instance Version column: the
// stored row is only replaced when its version matches the caller's copy,
// and the version is incremented on success. A lost race surfaces as
// ErrVersionConflict.
type InstanceRepository interface {
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	Create(ctx context.Context, instance *models.WorkflowInstance) error
	Update(ctx context.Context, instance *models.WorkflowInstance) error
	List(ctx context.Context, opts ListInstancesOptions) (*InstanceListResult, error)

	// ListRunningDueBefore returns running instances whose due date elapsed
	// before the cutoff and that are not flagged as breached yet.
	ListRunningDueBefore(ctx context.Context, cutoff time.Time) ([]*models.WorkflowInstance, error)
}

// ListApprovalsOptions filters the approval listing.
type ListApprovalsOptions struct {
	ApproverID string
	InstanceID string
	Status     *models.ApprovalStatus
	Limit      int
}

// ApprovalRepository stores approval requests.
// GetByID returns (nil, nil) when no request exists for the ID.
type ApprovalRepository interface {
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	Save(ctx context.Context, request *models.ApprovalRequest) error
	List(ctx context.Context, opts ListApprovalsOptions) ([]*models.ApprovalRequest, error)

	// GetActiveByStep returns the single non-terminal request for a step,
	// or (nil, nil) when none is pending.
	GetActiveByStep(ctx context.Context, stepID string) (*models.ApprovalRequest, error)
}
