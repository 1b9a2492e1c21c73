package service

import (
	"errors"
	"fmt"

	"github.com/user/routing-gateway/internal/models"
)

// ProviderMissingError means the resolved provider_id has no configured
// endpoint. Surfaced as an immediate client error with no retry and no
// health penalty.
type ProviderMissingError struct {
	ProviderID string
}

func (e *ProviderMissingError) Error() string {
	return fmt.Sprintf("provider not configured: %s", e.ProviderID)
}

// BadRequestError wraps a client-input validation failure.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string { return e.Reason }

// UpstreamStatusError carries a non-2xx upstream response.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
	Kind       models.OutcomeKind
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// ExhaustedError means every candidate in the budget failed.
type ExhaustedError struct {
	Attempted  []string
	LastReason string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all candidates exhausted, last reason: %s", e.LastReason)
}

// ClientAbortError means the client disconnected mid-stream.
type ClientAbortError struct{}

func (e *ClientAbortError) Error() string { return "client disconnected" }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// AsUpstreamStatus extracts an *UpstreamStatusError from err, if any.
func AsUpstreamStatus(err error) (*UpstreamStatusError, bool) {
	var u *UpstreamStatusError
	if errors.As(err, &u) {
		return u, true
	}
	return nil, false
}
