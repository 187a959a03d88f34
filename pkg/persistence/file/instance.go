package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/flowlineio/flowline/pkg/models"
	"github.com/flowlineio/flowline/pkg/persistence"
)

// InstanceRepository handles workflow instance file operations. The mutex
// serializes read-modify-write cycles so the version compare-and-set in
// Update behaves like the SQL implementation.
type InstanceRepository struct {
	root string
	mu   sync.Mutex
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(root string) *InstanceRepository {
	return &InstanceRepository{root: root}
}

func (r *InstanceRepository) dir() string {
	return filepath.Join(r.root, "instances")
}

func (r *InstanceRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

// GetByID returns the instance, or (nil, nil) when the ID is unknown.
func (r *InstanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance

	err := readDocument(r.path(id), &instance)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	return &instance, nil
}

// Create writes a new instance document at version 1.
func (r *InstanceRepository) Create(_ context.Context, instance *models.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(r.path(instance.ID)); err == nil {
		return persistence.NewInstanceError("Create", instance.ID, persistence.ErrInstanceAlreadyExists)
	}

	now := time.Now().UTC()

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now
	instance.Version = 1

	if err := writeDocument(r.path(instance.ID), instance); err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	return nil
}

// Update replaces the stored document only when the stored version matches
// the caller's copy, then increments the version.
func (r *InstanceRepository) Update(ctx context.Context, instance *models.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.GetByID(ctx, instance.ID)
	if err != nil {
		return err
	}

	if stored == nil {
		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceNotFound)
	}

	if stored.Version != instance.Version {
		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrVersionConflict)
	}

	instance.Version++
	instance.UpdatedAt = time.Now().UTC()

	if err := writeDocument(r.path(instance.ID), instance); err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

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

	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowInstance, 0)

	for _, instance := range all {
		if opts.Status != nil && instance.Status != *opts.Status {
			continue
		}

		if opts.InitiatedBy != "" && instance.InitiatedBy != opts.InitiatedBy {
			continue
		}

		if opts.SLABreached != nil && instance.SLABreached != *opts.SLABreached {
			continue
		}

		filtered = append(filtered, instance)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	totalCount := int64(len(filtered))

	start := opts.Offset
	if start > len(filtered) {
		start = len(filtered)
	}

	end := start + opts.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return &persistence.InstanceListResult{
		Instances:   filtered[start:end],
		TotalCount:  totalCount,
		HasNextPage: int64(end) < totalCount,
	}, nil
}

// ListRunningDueBefore returns unbreached running instances past their due date.
func (r *InstanceRepository) ListRunningDueBefore(ctx context.Context, cutoff time.Time) ([]*models.WorkflowInstance, error) {
	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	due := make([]*models.WorkflowInstance, 0)

	for _, instance := range all {
		if instance.Status != models.InstanceStatusRunning {
			continue
		}

		if instance.SLABreached || instance.DueDate == nil {
			continue
		}

		if instance.DueDate.Before(cutoff) {
			due = append(due, instance)
		}
	}

	return due, nil
}

func (r *InstanceRepository) loadAll(ctx context.Context) ([]*models.WorkflowInstance, error) {
	ids, err := listDocumentIDs(r.dir())
	if err != nil {
		return nil, err
	}

	instances := make([]*models.WorkflowInstance, 0, len(ids))

	for _, id := range ids {
		instance, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if instance != nil {
			instances = append(instances, instance)
		}
	}

	return instances, nil
}
