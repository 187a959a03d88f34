package notify

import "github.com/flowlineio/flowline/pkg/protocol"

func NewNotifyActionFactory() *NotifyActionFactory {
	return &NotifyActionFactory{}
}

type NotifyActionFactory struct{}

func (f *NotifyActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewNotifyAction(config)
}

func (f *NotifyActionFactory) ID() string {
	return "notify"
}

func (f *NotifyActionFactory) Name() string {
	return "Notify"
}

func (f *NotifyActionFactory) Description() string {
	return "Sends a notification message to the configured channel and recipients."
}

func (f *NotifyActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The notification message",
			},
			"channel": map[string]any{
				"type":    "string",
				"default": "default",
			},
			"recipients": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "string",
				},
			},
		},
		"required": []string{"message"},
	}
}
