package httpcall

import "github.com/flowlineio/flowline/pkg/protocol"

func NewHTTPCallActionFactory() *HTTPCallActionFactory {
	return &HTTPCallActionFactory{}
}

type HTTPCallActionFactory struct{}

func (f *HTTPCallActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewHTTPCallAction(config)
}

func (f *HTTPCallActionFactory) ID() string {
	return "http_call"
}

func (f *HTTPCallActionFactory) Name() string {
	return "HTTP Call"
}

func (f *HTTPCallActionFactory) Description() string {
	return "Performs an HTTP request against an external system and records the response."
}

func (f *HTTPCallActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to call",
			},
			"method": map[string]any{
				"type":    "string",
				"default": "GET",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers to send with the request",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Raw request body",
			},
			"timeout_seconds": map[string]any{
				"type":    "number",
				"minimum": 1,
			},
			"retry": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"attempts": map[string]any{
						"type":    "number",
						"minimum": 1,
					},
					"delay_seconds": map[string]any{
						"type":    "number",
						"minimum": 0,
					},
				},
			},
		},
		"required": []string{"url"},
	}
}
