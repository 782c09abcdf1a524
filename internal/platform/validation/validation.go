// Package validation reads untyped JSON payloads field by field and collects
// every rule violation instead of stopping at the first one. Entity packages
// build their schemas on top of it as plain functions.
package validation

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ehr/recordsvc/internal/platform/apperr"
)

// State describes what a payload holds for a field.
type State int

const (
	// Missing means the key is absent.
	Missing State = iota
	// Null means the key is present with an explicit JSON null.
	Null
	// Set means the key holds a value of the expected type.
	Set
	// Invalid means the key holds a value of the wrong type; a violation has
	// already been recorded.
	Invalid
)

// FieldSet is the present-bitmap of a partial update payload.
type FieldSet uint32

// Has reports whether every bit of f is set.
func (s FieldSet) Has(f FieldSet) bool { return f != 0 && s&f == f }

// Add sets the bits of f.
func (s *FieldSet) Add(f FieldSet) { *s |= f }

// Empty reports whether no field is present.
func (s FieldSet) Empty() bool { return s == 0 }

// Reader walks one payload and accumulates violations.
type Reader struct {
	input      map[string]any
	violations []apperr.Violation
}

// NewReader returns a Reader over input. A nil input behaves like {}.
func NewReader(input map[string]any) *Reader {
	if input == nil {
		input = map[string]any{}
	}
	return &Reader{input: input}
}

// Add records a violation on field.
func (r *Reader) Add(field, message string) {
	r.violations = append(r.violations, apperr.Violation{Field: field, Message: message})
}

// Check records message on field when ok is false and returns ok.
func (r *Reader) Check(field string, ok bool, message string) bool {
	if !ok {
		r.Add(field, message)
	}
	return ok
}

// Violations returns what has been collected so far.
func (r *Reader) Violations() []apperr.Violation { return r.violations }

// Err returns an InvalidInput error holding every violation, or nil.
func (r *Reader) Err() error {
	if len(r.violations) == 0 {
		return nil
	}
	return apperr.Invalid(r.violations)
}

// String reads field as a trimmed string. A non-string value records
// typeMessage and yields Invalid.
func (r *Reader) String(field, typeMessage string) (string, State) {
	raw, ok := r.input[field]
	if !ok {
		return "", Missing
	}
	if raw == nil {
		return "", Null
	}
	s, ok := raw.(string)
	if !ok {
		r.Add(field, typeMessage)
		return "", Invalid
	}
	return strings.TrimSpace(s), Set
}

// RawString reads field without trimming. Used for secrets, whose bytes must
// reach the hasher untouched.
func (r *Reader) RawString(field, typeMessage string) (string, State) {
	raw, ok := r.input[field]
	if !ok {
		return "", Missing
	}
	if raw == nil {
		return "", Null
	}
	s, ok := raw.(string)
	if !ok {
		r.Add(field, typeMessage)
		return "", Invalid
	}
	return s, Set
}

// Length checks the rune length of s against [min, max], recording minMessage
// or maxMessage. Both bounds are inclusive.
func (r *Reader) Length(field, s string, min, max int, minMessage, maxMessage string) bool {
	n := utf8.RuneCountInString(s)
	if n < min {
		r.Add(field, minMessage)
		return false
	}
	if n > max {
		r.Add(field, maxMessage)
		return false
	}
	return true
}

var validate = validator.New()

// IsEmail reports whether s has a valid e-mail address form.
func IsEmail(s string) bool {
	return s != "" && validate.Var(s, "required,email") == nil
}

// IsUUIDv4 reports whether s is the canonical textual form of an RFC 4122
// version 4 identifier.
func IsUUIDv4(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && id.Variant() == uuid.RFC4122
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// DateLayout is the accepted calendar date format.
const DateLayout = "2006-01-02"

// IsISODate reports whether s literally matches YYYY-MM-DD.
func IsISODate(s string) bool {
	return isoDate.MatchString(s)
}

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time. It rejects
// calendar-impossible dates such as 2025-02-30.
func ParseDate(s string) (time.Time, bool) {
	if !IsISODate(s) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
