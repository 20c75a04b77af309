package service

import (
	"strings"

	"relaychat/model"
)

// ErrNotFound reports a resource that is missing or owned by somebody else.
var ErrNotFound = model.ErrNotFound

// ValidationError is returned for malformed input before any side effect happened.
type ValidationError struct {
	Messages []string
}

func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Messages: messages}
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}
