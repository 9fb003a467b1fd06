// ABOUTME: Error types for the assistant, escalation and handoff clients
// ABOUTME: Precondition failures are sentinels, transport failures are typed

package assistant

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned before any network call when required fields are missing
var ErrInvalidRequest = errors.New("invalid assistant request")

// ServiceError reports a transport failure talking to an external service:
// a non-2xx status, a timeout, a connection error or an undecodable body.
// It is never retried by this package.
type ServiceError struct {
	Endpoint   string // "assistant", "escalation" or "handoff"
	StatusCode int    // 0 when no response was received
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s service error: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s service error: %v", e.Endpoint, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// HandoffError reports a failed human-handoff routing attempt.
// Unlike escalation failures it must reach the caller.
type HandoffError struct {
	ChatID string
	Err    error
}

func (e *HandoffError) Error() string {
	return fmt.Sprintf("handoff for chat %s failed: %v", e.ChatID, e.Err)
}

func (e *HandoffError) Unwrap() error {
	return e.Err
}
