package registry

import (
	"log/slog"

	"github.com/flowlineio/flowline/pkg/actions/httpcall"
	"github.com/flowlineio/flowline/pkg/actions/notify"
)

// NewDefaultRegistry builds a registry with the built-in step actions
// registered.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	reg := NewRegistry(logger)
	reg.RegisterAction(httpcall.NewHTTPCallActionFactory())
	reg.RegisterAction(notify.NewNotifyActionFactory())

	return reg
}
