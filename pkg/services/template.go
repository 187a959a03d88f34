package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/persistence"
)

// Template handles the shared template catalog: browsing public definitions
// and cloning them into a user's own workspace.
type Template struct {
	persistence persistence.Persistence
}

// NewTemplate creates a new template service.
func NewTemplate(persistence persistence.Persistence) *Template {
	return &Template{persistence: persistence}
}

// ListTemplatesRequest filters the catalog listing.
type ListTemplatesRequest struct {
	Search   string
	Category string
	Limit    int
}

// ListTemplates returns public definitions matching the filter.
func (s *Template) ListTemplates(ctx context.Context, req ListTemplatesRequest) ([]*models.WorkflowDefinition, error) {
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}

	isPublic := true

	templates, err := s.persistence.DefinitionRepository().ListTemplates(ctx, persistence.ListTemplatesOptions{
		Search:   req.Search,
		Category: req.Category,
		IsPublic: &isPublic,
		Limit:    req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	return templates, nil
}

// UseTemplateRequest carries the parameters for cloning a template.
type UseTemplateRequest struct {
	TemplateID string
	UserID     string
	Name       string // Optional override for the cloned definition's name
}

// UseTemplate clones a template into a new private definition owned by the
// requesting user. The clone gets fresh node IDs with dependencies remapped,
// starts at version 1 with a zero usage count, and the source template's
// usage counter is incremented atomically.
func (s *Template) UseTemplate(ctx context.Context, req UseTemplateRequest) (*models.WorkflowDefinition, error) {
	source, err := s.persistence.DefinitionRepository().GetByID(ctx, req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	if source == nil {
		return nil, persistence.NewDefinitionError("UseTemplate", req.TemplateID, persistence.ErrDefinitionNotFound)
	}

	if !source.IsPublic() && source.OwnerID != req.UserID {
		return nil, ErrNotAuthorized
	}

	name := req.Name
	if name == "" {
		name = source.Name
	}

	cloneID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate definition ID: %w", err)
	}

	clone := &models.WorkflowDefinition{
		ID:          cloneID.String(),
		Name:        name,
		Description: source.Description,
		Category:    source.Category,
		Industry:    source.Industry,
		Tags:        append([]string(nil), source.Tags...),
		Visibility:  models.VisibilityPrivate,
		Nodes: source.CloneNodes(func() string {
			return uuid.NewString()
		}),
		Version: 1,
		OwnerID: req.UserID,
	}

	err = s.persistence.DefinitionRepository().Save(ctx, clone)
	if err != nil {
		return nil, fmt.Errorf("failed to save cloned definition: %w", err)
	}

	err = s.persistence.DefinitionRepository().IncrementUsage(ctx, source.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record template usage: %w", err)
	}

	return clone, nil
}
