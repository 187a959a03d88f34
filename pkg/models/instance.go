package models

import "time"

// InstanceStatus represents the lifecycle state of a workflow instance.
// Transitions move forward only; completed, failed and cancelled are terminal.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

// StepStatus represents the lifecycle state of a step instance.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusFailed    StepStatus = "failed"
)

// Terminal reports whether the step reached a final state.
func (s StepStatus) Terminal() bool {
	return s == StepStatusCompleted || s == StepStatusSkipped || s == StepStatusFailed
}

// TerminalSuccess reports whether the step state unblocks its successors.
func (s StepStatus) TerminalSuccess() bool {
	return s == StepStatusCompleted || s == StepStatusSkipped
}

// Instance priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// StepInstance is one unit of work within a workflow instance. DependsOn
// holds predecessor step IDs snapshotted from the definition graph; a step
// may enter running only when every predecessor is completed or skipped.
type StepInstance struct {
	ID           string         `json:"id"`
	InstanceID   string         `json:"instance_id"`
	NodeID       string         `json:"node_id"`
	Name         string         `json:"name"`
	Kind         StepKind       `json:"kind"`
	Status       StepStatus     `json:"status"`
	DependsOn    []string       `json:"depends_on"`
	Config       map[string]any `json:"config,omitempty"`
	Optional     bool           `json:"optional"`
	FailOnError  *bool          `json:"fail_on_error,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// WorkflowInstance is one execution of a workflow definition. The step graph
// is snapshotted at creation time, so later definition versions never affect
// a live instance. Version is the optimistic-concurrency token checked and
// incremented on every write.
type WorkflowInstance struct {
	ID            string          `json:"id"`
	DefinitionID  string          `json:"definition_id" validate:"required"`
	Name          string          `json:"name"          validate:"required,min=1"`
	Status        InstanceStatus  `json:"status"`
	Priority      string          `json:"priority"      validate:"omitempty,oneof=low normal high urgent"`
	InitiatedBy   string          `json:"initiated_by"  validate:"required"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	SLABreached   bool            `json:"sla_breached"`
	SLABreachedAt *time.Time      `json:"sla_breached_at,omitempty"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
	Version       int64           `json:"version"`
	Steps         []*StepInstance `json:"steps"`
}

// Step returns the step with the given ID.
func (i *WorkflowInstance) Step(id string) (*StepInstance, bool) {
	for _, step := range i.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// StepByNode returns the step instantiated from the given definition node.
func (i *WorkflowInstance) StepByNode(nodeID string) (*StepInstance, bool) {
	for _, step := range i.Steps {
		if step.NodeID == nodeID {
			return step, true
		}
	}

	return nil, false
}

// Progress returns the completion percentage, recomputed on every read so
// dashboards never see a stale stored value.
func (i *WorkflowInstance) Progress() float64 {
	if len(i.Steps) == 0 {
		return 0
	}

	completed := 0

	for _, step := range i.Steps {
		if step.Status == StepStatusCompleted {
			completed++
		}
	}

	return float64(completed) / float64(len(i.Steps)) * 100
}

// StepEligible reports whether a pending step's predecessors all reached a
// terminal-success state. Steps with no predecessors are eligible at once.
func (i *WorkflowInstance) StepEligible(step *StepInstance) bool {
	if step.Status != StepStatusPending {
		return false
	}

	for _, depID := range step.DependsOn {
		dep, ok := i.Step(depID)
		if !ok || !dep.Status.TerminalSuccess() {
			return false
		}
	}

	return true
}
