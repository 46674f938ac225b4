// Package notify delivers run completion events to the concept extraction
// collaborator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/jonathan/session-runner/internal/lifecycle"
)

// DefaultTimeout is the HTTP client timeout of a Webhook
const DefaultTimeout = 30 * time.Second

// Error represents a failed delivery.
type Error struct {
	URL        string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("notify error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("notify error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Webhook posts each completion event as JSON to a fixed URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier. client may be nil.
func NewWebhook(rawURL string, client *http.Client) (*Webhook, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &Error{URL: rawURL, Message: "invalid URL", Cause: err}
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Webhook{url: rawURL, client: client}, nil
}

// RunCompleted delivers one event. Any non-2xx response is an error.
func (w *Webhook) RunCompleted(ctx context.Context, event lifecycle.CompletionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode completion event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &Error{URL: w.url, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", event.RunID.String())

	resp, err := w.client.Do(req)
	if err != nil {
		return &Error{URL: w.url, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{URL: w.url, StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	log.Printf("[notify] delivered completion of run %s", event.RunID)
	return nil
}

// Log only records completion events. It is used when no webhook is configured.
type Log struct{}

// RunCompleted logs the event
func (Log) RunCompleted(_ context.Context, event lifecycle.CompletionEvent) error {
	log.Printf("[notify] run %s completed (session %s, %d steps visited)",
		event.RunID, event.SessionID, len(event.StepHistory))
	return nil
}
