package models

// ExecutionContext carries the data visible to a step action while it runs.
// StepResults maps node IDs of already finished steps to their results.
type ExecutionContext struct {
	ID          string         `json:"id"`
	InstanceID  string         `json:"instance_id"`
	StepID      string         `json:"step_id"`
	NodeID      string         `json:"node_id"`
	InitiatedBy string         `json:"initiated_by,omitempty"`
	StepResults map[string]any `json:"step_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
