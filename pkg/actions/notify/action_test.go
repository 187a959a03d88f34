package notify

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlineio/flowline/pkg/models"
)

func TestNewNotifyAction_RequiresMessage(t *testing.T) {
	_, err := NewNotifyAction(map[string]any{"channel": "ops"})
	require.Error(t, err)
}

func TestNewNotifyAction_ParsesRecipients(t *testing.T) {
	action, err := NewNotifyAction(map[string]any{
		"message":    "done",
		"channel":    "ops",
		"recipients": []any{"a@example.com", "b@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a@example.com", "b@example.com"}, action.Recipients)
	assert.Equal(t, "ops", action.Channel)
}

func TestExecute_ReportsDelivery(t *testing.T) {
	action, err := NewNotifyAction(map[string]any{
		"message":    "instance finished",
		"recipients": []any{"ops@example.com"},
	})
	require.NoError(t, err)

	result, err := action.Execute(t.Context(), models.ExecutionContext{InstanceID: "inst-1"}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, true, result["delivered"])
	assert.Equal(t, "default", result["channel"])
	assert.Equal(t, 1, result["recipients"])
}
