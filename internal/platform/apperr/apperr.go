// Package apperr defines the failure kinds surfaced by the entity services and
// their translation to HTTP responses.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The zero value is Internal, meaning the failure
// did not originate from a domain rule.
type Kind int

const (
	Internal Kind = iota
	InvalidInput
	NotFound
	Conflict
	InvalidState
	AlreadyGone
)

var kindNames = map[Kind]string{
	Internal:     "internal",
	InvalidInput: "invalid_input",
	NotFound:     "not_found",
	Conflict:     "conflict",
	InvalidState: "invalid_state",
	AlreadyGone:  "already_gone",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Violation is one failed field rule. Field is a dot-path into the payload.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a typed domain failure.
type Error struct {
	Kind       Kind
	Message    string
	Violations []Violation
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error of the given kind that keeps cause in its chain.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Invalid returns an InvalidInput error carrying every collected violation.
func Invalid(violations []Violation) *Error {
	return &Error{Kind: InvalidInput, Message: MsgInvalidPayload, Violations: violations}
}

// MsgInvalidPayload is the message attached to schema failures.
const MsgInvalidPayload = "Dados inválidos"

// KindOf reports the kind of err, or Internal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ViolationsOf returns the field violations attached to err, if any.
func ViolationsOf(err error) []Violation {
	var e *Error
	if errors.As(err, &e) {
		return e.Violations
	}
	return nil
}
