// Package httpcall implements the automation step action that performs an
// HTTP request against an external system.
package httpcall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flowlineio/flowline/pkg/models"
)

const defaultTimeout = 30 * time.Second

type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// HTTPCallAction performs an HTTP request with bounded retries on transport
// errors and 5xx responses.
type HTTPCallAction struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
	Retry   RetryConfig

	client *http.Client
}

func NewHTTPCallAction(config map[string]any) (*HTTPCallAction, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http call requires a url")
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for key, value := range headersMap {
				if strValue, ok := value.(string); ok {
					headers[key] = strValue
				}
			}
		}
	}

	retry := RetryConfig{Attempts: 1}

	if retryConfig, exists := config["retry"]; exists {
		if retryMap, ok := retryConfig.(map[string]any); ok {
			if attempts, ok := retryMap["attempts"].(float64); ok && attempts >= 1 {
				retry.Attempts = int(attempts)
			}

			if delay, ok := retryMap["delay_seconds"].(float64); ok && delay >= 0 {
				retry.Delay = time.Duration(delay) * time.Second
			}
		}
	}

	timeout := defaultTimeout
	if timeoutSeconds, ok := config["timeout_seconds"].(float64); ok && timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	return &HTTPCallAction{
		Method:  strings.ToUpper(method),
		URL:     url,
		Headers: headers,
		Body:    body,
		Timeout: timeout,
		Retry:   retry,
		client:  &http.Client{},
	}, nil
}

func (a *HTTPCallAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "http_call", "method", a.Method, "url", a.URL)
	logger.InfoContext(ctx, "Executing HTTP call")

	var (
		resp    *http.Response
		lastErr error
	)

	for attempt := 1; attempt <= a.Retry.Attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, "Retrying HTTP call", "attempt", attempt, "max_attempts", a.Retry.Attempts)

			select {
			case <-time.After(a.Retry.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, lastErr = a.do(ctx)
		if lastErr != nil {
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < a.Retry.Attempts {
			closeErr := resp.Body.Close()
			if closeErr != nil {
				logger.WarnContext(ctx, "failed to close response body", "error", closeErr)
			}

			lastErr = fmt.Errorf("server error (status %d)", resp.StatusCode)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return nil, fmt.Errorf("all retry attempts failed: %w", lastErr)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			logger.WarnContext(ctx, "failed to close response body", "error", err)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		// Non-JSON responses are passed through as text.
		body = string(bodyBytes)
	}

	logger.InfoContext(ctx, "HTTP call completed", "status_code", resp.StatusCode, "body_length", len(bodyBytes))

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}, nil
}

func (a *HTTPCallAction) do(ctx context.Context) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if a.Body != "" {
		bodyReader = strings.NewReader(a.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, a.Method, a.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range a.Headers {
		req.Header.Set(key, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	return resp, nil
}
