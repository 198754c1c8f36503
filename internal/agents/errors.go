package agents

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAgent is wrapped by LookupError.
var ErrUnknownAgent = errors.New("unknown agent")

// ParseError reports a malformed agent definition. It is fatal to loading that
// one definition only.
type ParseError struct {
	Name   string
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("parse agent definition %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("parse agent %q (%s): %v", e.Name, e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// LookupError is returned when a requested agent is not in the registry.
type LookupError struct {
	Name        string
	Suggestions []string
}

func (e *LookupError) Error() string {
	msg := fmt.Sprintf("unknown agent %q", e.Name)
	if len(e.Suggestions) > 0 {
		msg += " (did you mean: " + strings.Join(e.Suggestions, ", ") + "?)"
	}
	return msg
}

func (e *LookupError) Unwrap() error { return ErrUnknownAgent }
