package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/persistence"
)

// ApprovalRepository handles approval request file operations.
type ApprovalRepository struct {
	root string
	mu   sync.Mutex
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(root string) *ApprovalRepository {
	return &ApprovalRepository{root: root}
}

func (r *ApprovalRepository) dir() string {
	return filepath.Join(r.root, "approvals")
}

func (r *ApprovalRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

// GetByID returns the request, or (nil, nil) when the ID is unknown.
func (r *ApprovalRepository) GetByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	var request models.ApprovalRequest

	err := readDocument(r.path(id), &request)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, &persistence.ApprovalError{Op: "GetByID", RequestID: id, Err: err}
	}

	return &request, nil
}

// Save writes the request document.
func (r *ApprovalRepository) Save(_ context.Context, request *models.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if request.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return &persistence.ApprovalError{Op: "Save", RequestID: "", Err: err}
		}

		request.ID = id.String()
	}

	if err := writeDocument(r.path(request.ID), request); err != nil {
		return &persistence.ApprovalError{Op: "Save", RequestID: request.ID, Err: err}
	}

	return nil
}

// List returns requests matching the filter, most recent first.
func (r *ApprovalRepository) List(ctx context.Context, opts persistence.ListApprovalsOptions) ([]*models.ApprovalRequest, error) {
	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.ApprovalRequest, 0)

	for _, request := range all {
		if opts.ApproverID != "" && request.ApproverID != opts.ApproverID {
			continue
		}

		if opts.InstanceID != "" && request.InstanceID != opts.InstanceID {
			continue
		}

		if opts.Status != nil && request.Status != *opts.Status {
			continue
		}

		matches = append(matches, request)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].RequestedAt.After(matches[j].RequestedAt)
	})

	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}

	return matches, nil
}

// GetActiveByStep returns the single pending request for the step, if any.
func (r *ApprovalRepository) GetActiveByStep(ctx context.Context, stepID string) (*models.ApprovalRequest, error) {
	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, request := range all {
		if request.StepID == stepID && !request.Status.Terminal() {
			return request, nil
		}
	}

	return nil, nil
}

func (r *ApprovalRepository) loadAll(ctx context.Context) ([]*models.ApprovalRequest, error) {
	ids, err := listDocumentIDs(r.dir())
	if err != nil {
		return nil, err
	}

	requests := make([]*models.ApprovalRequest, 0, len(ids))

	for _, id := range ids {
		request, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if request != nil {
			requests = append(requests, request)
		}
	}

	return requests, nil
}
