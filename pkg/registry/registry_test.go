package registry

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAction_UnknownType(t *testing.T) {
	reg := NewRegistry(slog.Default())

	_, err := reg.CreateAction("does_not_exist", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestCreateAction_ValidConfig(t *testing.T) {
	reg := NewDefaultRegistry(slog.Default())

	action, err := reg.CreateAction("http_call", map[string]any{
		"url":    "https://example.com/api",
		"method": "POST",
	})
	require.NoError(t, err)
	assert.NotNil(t, action)
}

func TestValidateConfig_MissingRequiredField(t *testing.T) {
	reg := NewDefaultRegistry(slog.Default())

	err := reg.ValidateConfig("http_call", map[string]any{"method": "GET"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}

func TestValidateConfig_RejectsWrongEnum(t *testing.T) {
	reg := NewDefaultRegistry(slog.Default())

	err := reg.ValidateConfig("http_call", map[string]any{
		"url":    "https://example.com",
		"method": "BREW",
	})
	require.Error(t, err)
}

func TestValidateConfig_Notify(t *testing.T) {
	reg := NewDefaultRegistry(slog.Default())

	err := reg.ValidateConfig("notify", map[string]any{
		"message":    "instance finished",
		"recipients": []any{"ops@example.com"},
	})
	require.NoError(t, err)

	err = reg.ValidateConfig("notify", map[string]any{})
	require.Error(t, err)
}

func TestAvailableActions(t *testing.T) {
	reg := NewDefaultRegistry(slog.Default())

	actions := reg.AvailableActions()
	assert.ElementsMatch(t, []string{"http_call", "notify"}, actions)
}

func TestHealthCheck(t *testing.T) {
	empty := NewRegistry(slog.Default())
	require.Error(t, empty.HealthCheck(t.Context()))

	reg := NewDefaultRegistry(slog.Default())
	require.NoError(t, reg.HealthCheck(t.Context()))
}
