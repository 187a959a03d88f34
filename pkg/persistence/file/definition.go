package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/persistence"
)

// DefinitionRepository handles workflow definition file operations.
type DefinitionRepository struct {
	root string
	mu   sync.Mutex
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(root string) *DefinitionRepository {
	return &DefinitionRepository{root: root}
}

func (r *DefinitionRepository) dir() string {
	return filepath.Join(r.root, "definitions")
}

func (r *DefinitionRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

// GetByID returns the definition, or (nil, nil) when the ID is unknown.
func (r *DefinitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition

	err := readDocument(r.path(id), &definition)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, persistence.NewDefinitionError("GetByID", id, err)
	}

	return &definition, nil
}

// Save writes the definition document.
func (r *DefinitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	definition.UpdatedAt = time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = definition.UpdatedAt
	}

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewDefinitionError("Save", "", err)
		}

		definition.ID = id.String()
	}

	if err := writeDocument(r.path(definition.ID), definition); err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	return nil
}

// ListTemplates returns definitions matching the filter, most recent first.
func (r *DefinitionRepository) ListTemplates(ctx context.Context, opts persistence.ListTemplatesOptions) ([]*models.WorkflowDefinition, error) {
	ids, err := listDocumentIDs(r.dir())
	if err != nil {
		return nil, err
	}

	matches := make([]*models.WorkflowDefinition, 0)

	for _, id := range ids {
		definition, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if definition == nil {
			continue
		}

		if opts.IsPublic != nil && definition.IsPublic() != *opts.IsPublic {
			continue
		}

		if opts.Category != "" && definition.Category != opts.Category {
			continue
		}

		if opts.OwnerID != "" && definition.OwnerID != opts.OwnerID {
			continue
		}

		if opts.Search != "" && !matchesSearch(definition, opts.Search) {
			continue
		}

		matches = append(matches, definition)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}

	return matches, nil
}

// IncrementUsage bumps the usage counter under the repository lock.
func (r *DefinitionRepository) IncrementUsage(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	definition, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if definition == nil {
		return persistence.NewDefinitionError("IncrementUsage", id, persistence.ErrDefinitionNotFound)
	}

	definition.UsageCount++
	definition.UpdatedAt = time.Now().UTC()

	if err := writeDocument(r.path(id), definition); err != nil {
		return persistence.NewDefinitionError("IncrementUsage", id, err)
	}

	return nil
}

func matchesSearch(definition *models.WorkflowDefinition, search string) bool {
	needle := strings.ToLower(search)

	if strings.Contains(strings.ToLower(definition.Name), needle) {
		return true
	}

	if strings.Contains(strings.ToLower(definition.Description), needle) {
		return true
	}

	for _, tag := range definition.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}

	return false
}
