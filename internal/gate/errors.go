package gate

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is wrapped by every DeniedError.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrConfirmationRequired is wrapped by ConfirmationRequiredError.
	ErrConfirmationRequired = errors.New("confirmation required")
	// ErrNoSuchConfirmation is returned when resolving an unknown or expired pending request.
	ErrNoSuchConfirmation = errors.New("no such pending confirmation")
)

// DeniedError reports a tool call the gate refused.
type DeniedError struct {
	Agent   string
	Tool    string
	Subject string
	Rule    string
	Reason  string
}

func (e *DeniedError) Error() string {
	msg := fmt.Sprintf("permission denied: %s %s", e.Tool, truncate(e.Subject, 80))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *DeniedError) Unwrap() error { return ErrPermissionDenied }

// ConfirmationRequiredError is returned for an ask decision when no one is
// available to confirm it. Callers may surface Pending and retry after
// approval.
type ConfirmationRequiredError struct {
	Pending *Pending
}

func (e *ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("confirmation required: %s %s: %s",
		e.Pending.Tool, truncate(e.Pending.Subject, 80), e.Pending.Reason)
}

func (e *ConfirmationRequiredError) Unwrap() error { return ErrConfirmationRequired }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
