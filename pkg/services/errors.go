// Package services provides the business operations on top of the engine and
// the persistence layer: definition authoring, template usage and approvals.
package services

import (
	"errors"
	"fmt"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest         = errors.New("invalid request")
	ErrDefinitionNameRequired = errors.New("definition name is required")
	ErrNodesRequired          = errors.New("definition must have at least one node")
	ErrDefinitionNil          = errors.New("definition cannot be nil")
	ErrApproverRequired       = errors.New("approver ID is required")
	ErrSelfDelegation         = errors.New("cannot delegate an approval to its current approver")

	// Business Logic Conflicts (409 Conflict).
	ErrApprovalAlreadyDecided = errors.New("approval request has already been decided")
	ErrApprovalAlreadyActive  = errors.New("step already has an active approval request")

	// Authorization Errors (403 Forbidden).
	ErrNotAuthorized = errors.New("not authorized to perform this operation")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrDefinitionNameRequired) ||
		errors.Is(err, ErrNodesRequired) ||
		errors.Is(err, ErrDefinitionNil) ||
		errors.Is(err, ErrApproverRequired) ||
		errors.Is(err, ErrSelfDelegation)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrApprovalAlreadyDecided) ||
		errors.Is(err, ErrApprovalAlreadyActive)
}

// IsAuthorizationError checks if an error should return HTTP 403.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrNotAuthorized)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
