package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/persistence"
)

// ApprovalRepository handles approval request database operations.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

const approvalColumns = `
	id
  , instance_id
  , step_id
  , approver_id
  , status
  , requested_at
  , due_date
  , decided_at
  , comments
  , reason
  , delegated_from
`

// GetByID returns the approval request, or (nil, nil) when the ID is unknown.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	request, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan approval request: %w", err)
	}

	return request, nil
}

// Save upserts the approval request. The partial unique index on pending
// requests rejects a second active request for the same step.
func (r *ApprovalRepository) Save(ctx context.Context, request *models.ApprovalRequest) error {
	if request.RequestedAt.IsZero() {
		request.RequestedAt = time.Now().UTC()
	}

	if request.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate approval request ID: %w", err)
		}

		request.ID = id.String()
	}

	query := `
		INSERT INTO approval_requests (
			id, instance_id, step_id, approver_id, status, requested_at,
			due_date, decided_at, comments, reason, delegated_from
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			approver_id = EXCLUDED.approver_id,
			status = EXCLUDED.status,
			due_date = EXCLUDED.due_date,
			decided_at = EXCLUDED.decided_at,
			comments = EXCLUDED.comments,
			reason = EXCLUDED.reason
	`

	_, err := r.db.ExecContext(ctx, query,
		request.ID,
		request.InstanceID,
		request.StepID,
		request.ApproverID,
		request.Status,
		request.RequestedAt,
		request.DueDate,
		request.DecidedAt,
		request.Comments,
		request.Reason,
		request.DelegatedFrom,
	)
	if err != nil {
		return persistence.NewApprovalError("Save", request.ID, err)
	}

	return nil
}

// List returns approval requests matching the filter, most recent first.
func (r *ApprovalRepository) List(ctx context.Context, opts persistence.ListApprovalsOptions) ([]*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE 1=1`
	args := make([]any, 0)

	if opts.ApproverID != "" {
		args = append(args, opts.ApproverID)
		query += ` AND approver_id = $` + strconv.Itoa(len(args))
	}

	if opts.InstanceID != "" {
		args = append(args, opts.InstanceID)
		query += ` AND instance_id = $` + strconv.Itoa(len(args))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}

	query += ` ORDER BY requested_at DESC`

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval requests: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	requests := make([]*models.ApprovalRequest, 0)

	for rows.Next() {
		request, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}

		requests = append(requests, request)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating approval requests: %w", err)
	}

	return requests, nil
}

// GetActiveByStep returns the pending request for a step, or (nil, nil) when
// the step has none.
func (r *ApprovalRepository) GetActiveByStep(ctx context.Context, stepID string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests
		WHERE step_id = $1 AND status = $2`

	row := r.db.QueryRowContext(ctx, query, stepID, models.ApprovalStatusPending)

	request, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan approval request: %w", err)
	}

	return request, nil
}

func scanApproval(row rowScanner) (*models.ApprovalRequest, error) {
	var request models.ApprovalRequest

	err := row.Scan(
		&request.ID,
		&request.InstanceID,
		&request.StepID,
		&request.ApproverID,
		&request.Status,
		&request.RequestedAt,
		&request.DueDate,
		&request.DecidedAt,
		&request.Comments,
		&request.Reason,
		&request.DelegatedFrom,
	)
	if err != nil {
		return nil, err
	}

	return &request, nil
}
