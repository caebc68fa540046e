// Package calendar abstracts the scheduling backend used to book visits.
//
// The receptionist only needs event creation; a nil event or an error means
// the booking failed and the caller must fall back to the human contact.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// EventDetails describes the appointment to create.
type EventDetails struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendee    string    `json:"attendee,omitempty"`
}

// Event is the created calendar entry.
type Event struct {
	ID       string `json:"id"`
	HTMLLink string `json:"htmlLink,omitempty"`
}

// Backend creates events on the scheduling backend.
type Backend interface {
	// CreateEvent books the appointment. A nil event or an error means the
	// booking failed.
	CreateEvent(ctx context.Context, details EventDetails) (*Event, error)
}

// HTTPBackend posts events to a calendar bridge endpoint.
type HTTPBackend struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPBackend creates a backend against the given endpoint with a per-call
// timeout.
func NewHTTPBackend(url string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBackend{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// CreateEvent books the appointment via the bridge endpoint.
func (b *HTTPBackend) CreateEvent(ctx context.Context, details EventDetails) (*Event, error) {
	if b.url == "" {
		return nil, fmt.Errorf("calendar endpoint not configured")
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event details: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build calendar request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		slog.Error("Calendar CreateEvent request failed", "error", err)
		return nil, fmt.Errorf("calendar request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Calendar CreateEvent rejected", "status", resp.StatusCode)
		return nil, fmt.Errorf("calendar returned status %d", resp.StatusCode)
	}

	var event Event
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return nil, fmt.Errorf("failed to decode calendar response: %w", err)
	}
	slog.Info("Calendar event created", "id", event.ID)
	return &event, nil
}
