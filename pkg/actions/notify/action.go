// Package notify implements the notification step action. Delivery is a
// structured log record addressed to the configured recipients.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowlineio/flowline/pkg/models"
)

type NotifyAction struct {
	Message    string
	Channel    string
	Recipients []string
}

func NewNotifyAction(config map[string]any) (*NotifyAction, error) {
	message, _ := config["message"].(string)
	if message == "" {
		return nil, fmt.Errorf("notify requires a message")
	}

	channel, _ := config["channel"].(string)
	if channel == "" {
		channel = "default"
	}

	recipients := make([]string, 0)

	if recipientsConfig, exists := config["recipients"]; exists {
		if recipientList, ok := recipientsConfig.([]any); ok {
			for _, recipient := range recipientList {
				if strValue, ok := recipient.(string); ok {
					recipients = append(recipients, strValue)
				}
			}
		}
	}

	return &NotifyAction{
		Message:    message,
		Channel:    channel,
		Recipients: recipients,
	}, nil
}

func (a *NotifyAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "notify", "channel", a.Channel)

	logger.InfoContext(ctx, "Sending notification",
		"message", a.Message,
		"recipients", a.Recipients,
		"instance_id", executionCtx.InstanceID,
	)

	return map[string]any{
		"delivered":  true,
		"channel":    a.Channel,
		"recipients": len(a.Recipients),
	}, nil
}
