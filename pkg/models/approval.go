package models

import "time"

// ApprovalStatus represents the lifecycle state of an approval request.
// Approved and rejected are final for the request; delegated is also final
// but spawns a new pending request for the delegate.
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusRejected  ApprovalStatus = "rejected"
	ApprovalStatusDelegated ApprovalStatus = "delegated"
	// ApprovalStatusCancelled closes a request whose step was skipped by the
	// engine (instance cancelled) before any decision arrived.
	ApprovalStatusCancelled ApprovalStatus = "cancelled"
)

// Terminal reports whether the request admits no further decisions.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected ||
		s == ApprovalStatusDelegated || s == ApprovalStatusCancelled
}

// ApprovalRequest tracks a pending human sign-off for an approval step.
// At most one non-terminal request exists per step at any time.
// DelegatedFrom back-links to the request this one was delegated from,
// preserving the audit chain.
type ApprovalRequest struct {
	ID            string         `json:"id"`
	InstanceID    string         `json:"instance_id"`
	StepID        string         `json:"step_id"      validate:"required"`
	ApproverID    string         `json:"approver_id"  validate:"required"`
	Status        ApprovalStatus `json:"status"`
	RequestedAt   time.Time      `json:"requested_at"`
	DueDate       *time.Time     `json:"due_date,omitempty"`
	DecidedAt     *time.Time     `json:"decided_at,omitempty"`
	Comments      string         `json:"comments,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	DelegatedFrom *string        `json:"delegated_from,omitempty"`
}

// Overdue reports whether a still-pending request missed its due date.
// Evaluated at read time; nothing is written.
func (a *ApprovalRequest) Overdue(now time.Time) bool {
	return a.Status == ApprovalStatusPending && a.DueDate != nil && a.DueDate.Before(now)
}
