package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/persistence"
)

// DefinitionRepository handles workflow definition database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

const definitionColumns = `
	id
  , name
  , description
  , category
  , industry
  , tags
  , visibility
  , nodes
  , version
  , usage_count
  , owner_id
  , created_at
  , updated_at
`

// GetByID returns the definition, or (nil, nil) when the ID is unknown.
func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	definition, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan definition: %w", err)
	}

	return definition, nil
}

// Save upserts the definition row.
func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate definition ID: %w", err)
		}

		definition.ID = id.String()
	}

	tagsJSON, err := json.Marshal(definition.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	nodesJSON, err := json.Marshal(definition.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (
			id, name, description, category, industry, tags, visibility,
			nodes, version, usage_count, owner_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			industry = EXCLUDED.industry,
			tags = EXCLUDED.tags,
			visibility = EXCLUDED.visibility,
			nodes = EXCLUDED.nodes,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		definition.ID,
		definition.Name,
		definition.Description,
		definition.Category,
		definition.Industry,
		tagsJSON,
		definition.Visibility,
		nodesJSON,
		definition.Version,
		definition.UsageCount,
		definition.OwnerID,
		definition.CreatedAt,
		definition.UpdatedAt,
	)
	if err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	return nil
}

// ListTemplates returns definitions matching the filter, most recent first.
func (r *DefinitionRepository) ListTemplates(ctx context.Context, opts persistence.ListTemplatesOptions) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE 1=1`
	args := make([]any, 0)

	if opts.IsPublic != nil {
		visibility := models.VisibilityPrivate
		if *opts.IsPublic {
			visibility = models.VisibilityPublic
		}

		args = append(args, visibility)
		query += ` AND visibility = $` + strconv.Itoa(len(args))
	}

	if opts.Category != "" {
		args = append(args, opts.Category)
		query += ` AND category = $` + strconv.Itoa(len(args))
	}

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		query += ` AND owner_id = $` + strconv.Itoa(len(args))
	}

	if opts.Search != "" {
		args = append(args, "%"+opts.Search+"%")
		placeholder := `$` + strconv.Itoa(len(args))
		query += ` AND (name ILIKE ` + placeholder + ` OR description ILIKE ` + placeholder + `)`
	}

	query += ` ORDER BY created_at DESC`

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return definitions, nil
}

// IncrementUsage atomically bumps the usage counter on the database side,
// so concurrent clone requests never lose an update.
func (r *DefinitionRepository) IncrementUsage(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE workflow_definitions SET usage_count = usage_count + 1, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return persistence.NewDefinitionError("IncrementUsage", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewDefinitionError("IncrementUsage", id, err)
	}

	if affected == 0 {
		return persistence.NewDefinitionError("IncrementUsage", id, persistence.ErrDefinitionNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		definition models.WorkflowDefinition
		tagsJSON   []byte
		nodesJSON  []byte
	)

	err := row.Scan(
		&definition.ID,
		&definition.Name,
		&definition.Description,
		&definition.Category,
		&definition.Industry,
		&tagsJSON,
		&definition.Visibility,
		&nodesJSON,
		&definition.Version,
		&definition.UsageCount,
		&definition.OwnerID,
		&definition.CreatedAt,
		&definition.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(tagsJSON, &definition.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}

	if err := json.Unmarshal(nodesJSON, &definition.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	return &definition, nil
}
