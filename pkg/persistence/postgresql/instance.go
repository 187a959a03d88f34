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

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

const instanceColumns = `
	id
  , definition_id
  , name
  , status
  , priority
  , initiated_by
  , due_date
  , sla_breached
  , sla_breached_at
  , cancel_reason
  , version
  , steps
  , created_at
  , updated_at
`

// GetByID returns the instance, or (nil, nil) when the ID is unknown.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

// Create inserts a new instance row at version 1.
func (r *InstanceRepository) Create(ctx context.Context, instance *models.WorkflowInstance) error {
	now := time.Now().UTC()

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now
	instance.Version = 1

	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}

		instance.ID = id.String()
	}

	stepsJSON, err := json.Marshal(instance.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		INSERT INTO workflow_instances (
			id, definition_id, name, status, priority, initiated_by, due_date,
			sla_breached, sla_breached_at, cancel_reason, version, steps,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID,
		instance.DefinitionID,
		instance.Name,
		instance.Status,
		instance.Priority,
		instance.InitiatedBy,
		instance.DueDate,
		instance.SLABreached,
		instance.SLABreachedAt,
		instance.CancelReason,
		instance.Version,
		stepsJSON,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	return nil
}

// Update replaces the stored row through a version compare-and-set. A lost
// race reports persistence.ErrVersionConflict.
func (r *InstanceRepository) Update(ctx context.Context, instance *models.WorkflowInstance) error {
	stepsJSON, err := json.Marshal(instance.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	instance.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE workflow_instances SET
			name = $3,
			status = $4,
			priority = $5,
			due_date = $6,
			sla_breached = $7,
			sla_breached_at = $8,
			cancel_reason = $9,
			steps = $10,
			updated_at = $11,
			version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		instance.ID,
		instance.Version,
		instance.Name,
		instance.Status,
		instance.Priority,
		instance.DueDate,
		instance.SLABreached,
		instance.SLABreachedAt,
		instance.CancelReason,
		stepsJSON,
		instance.UpdatedAt,
	)
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	if affected == 0 {
		// Row missing or version mismatch; disambiguate for the caller.
		existing, err := r.GetByID(ctx, instance.ID)
		if err != nil {
			return persistence.NewInstanceError("Update", instance.ID, err)
		}

		if existing == nil {
			return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceNotFound)
		}

		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrVersionConflict)
	}

	instance.Version++

	return nil
}

// List returns a filtered, paginated page of instances, most recent first.
func (r *InstanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) (*persistence.InstanceListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if opts.Offset < 0 {
		opts.Offset = 0
	}

	where := ` WHERE 1=1`
	args := make([]any, 0)

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where += ` AND status = $` + strconv.Itoa(len(args))
	}

	if opts.InitiatedBy != "" {
		args = append(args, opts.InitiatedBy)
		where += ` AND initiated_by = $` + strconv.Itoa(len(args))
	}

	if opts.SLABreached != nil {
		args = append(args, *opts.SLABreached)
		where += ` AND sla_breached = $` + strconv.Itoa(len(args))
	}

	var totalCount int64

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_instances`+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count instances: %w", err)
	}

	args = append(args, opts.Limit)
	limitPlaceholder := strconv.Itoa(len(args))
	args = append(args, opts.Offset)
	offsetPlaceholder := strconv.Itoa(len(args))

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances` + where +
		` ORDER BY created_at DESC LIMIT $` + limitPlaceholder + ` OFFSET $` + offsetPlaceholder

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return &persistence.InstanceListResult{
		Instances:   instances,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(instances)) < totalCount,
	}, nil
}

// ListRunningDueBefore returns unbreached running instances past their due date.
func (r *InstanceRepository) ListRunningDueBefore(ctx context.Context, cutoff time.Time) ([]*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances
		WHERE status = $1 AND sla_breached = FALSE AND due_date IS NOT NULL AND due_date < $2`

	rows, err := r.db.QueryContext(ctx, query, models.InstanceStatusRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query due instances: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating due instances: %w", err)
	}

	return instances, nil
}

func scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	var (
		instance  models.WorkflowInstance
		stepsJSON []byte
	)

	err := row.Scan(
		&instance.ID,
		&instance.DefinitionID,
		&instance.Name,
		&instance.Status,
		&instance.Priority,
		&instance.InitiatedBy,
		&instance.DueDate,
		&instance.SLABreached,
		&instance.SLABreachedAt,
		&instance.CancelReason,
		&instance.Version,
		&stepsJSON,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &instance.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	return &instance, nil
}
