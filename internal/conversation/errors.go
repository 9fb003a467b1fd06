// ABOUTME: Error types returned by the conversation service
// ABOUTME: ValidationError maps to 400, PersistenceError to 500

package conversation

import (
	"errors"
	"fmt"
)

var errNoHandoffNotifier = errors.New("no handoff notifier configured")

// ValidationError reports missing or malformed input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PersistenceError reports a document-store failure while recording a turn.
// Attachments uploaded before the failure are left in place.
type PersistenceError struct {
	ConversationID string
	Op             string // "save messages" or "update conversation"
	Err            error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s for conversation %s: %v", e.Op, e.ConversationID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
