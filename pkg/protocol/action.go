// Package protocol defines the contracts between the engine and pluggable
// step actions.
package protocol

import (
	"context"
	"log/slog"

	"github.com/flowlineio/flowline/pkg/models"
)

// Action is a runnable unit of work behind an automation or notification step.
type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory builds actions from a step's raw configuration and describes
// the configuration it accepts.
type ActionFactory interface {
	Create(config map[string]any) (Action, error)
	ID() string
	Name() string
	Description() string

	// Schema returns the JSON schema the configuration is validated against.
	Schema() map[string]any
}
