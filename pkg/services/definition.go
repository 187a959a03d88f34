package services

import (
	"context"
	"fmt"

	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/persistence"
)

// Definition is the authoring service for workflow definitions.
type Definition struct {
	persistence persistence.Persistence
}

// NewDefinition creates a new definition service.
func NewDefinition(persistence persistence.Persistence) *Definition {
	return &Definition{persistence: persistence}
}

// HealthCheck checks the health of the persistence layer.
func (s *Definition) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// SaveDefinition validates and persists a workflow definition. The graph is
// checked structurally here, so a cyclic definition is rejected at authoring
// time rather than at instantiation.
func (s *Definition) SaveDefinition(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if definition == nil {
		return nil, ErrDefinitionNil
	}

	if definition.Name == "" {
		return nil, ErrDefinitionNameRequired
	}

	if len(definition.Nodes) == 0 {
		return nil, ErrNodesRequired
	}

	err := definition.ValidateGraph()
	if err != nil {
		return nil, NewValidationError("SaveDefinition", "INVALID_GRAPH", err.Error(),
			fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	if definition.Visibility == "" {
		definition.Visibility = models.VisibilityPrivate
	}

	if definition.Version == 0 {
		definition.Version = 1
	}

	err = s.persistence.DefinitionRepository().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}

	return definition, nil
}

// GetDefinition returns a definition, or a not-found error.
func (s *Definition) GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}

	if definition == nil {
		return nil, persistence.NewDefinitionError("GetDefinition", id, persistence.ErrDefinitionNotFound)
	}

	return definition, nil
}
