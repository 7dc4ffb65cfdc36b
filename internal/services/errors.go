package services

import (
	"errors"
	"sort"
	"strings"
)

// FieldErrors maps input field names to validation messages. It is returned
// by signup and medicine validation so the API layer can render a
// field-keyed error body.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "invalid fields: " + strings.Join(fields, ", ")
}

// ValidationError carries a single human-readable detail message for
// requests that are malformed as a whole rather than per field.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

// ErrInvalidCredentials is returned for any authentication miss. The message
// deliberately does not reveal which of username, email or password was
// wrong.
var ErrInvalidCredentials = errors.New("Invalid username/email or password")

// ErrAmbiguousEmail is returned when an email resolves to more than one
// account. Uniqueness is expected to prevent this; the case is handled
// explicitly rather than silently picking one.
var ErrAmbiguousEmail = errors.New("Multiple accounts found with this email. Please contact support.")
