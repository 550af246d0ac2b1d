package annotations

import "fmt"

// ErrorKind is the closed set of failure categories the store reports.
// The HTTP layer maps each kind to a status code exactly once.
type ErrorKind int

const (
	// KindValidation marks documents that violate the Web Annotation model.
	KindValidation ErrorKind = iota
	// KindPermission marks requests denied by the access-control rules.
	KindPermission
	// KindNotFound marks operations against unknown or tombstoned ids.
	KindNotFound
	// KindConflict marks self-targeting annotations, duplicate ids on
	// create, and id mismatches on update.
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is the request-scoped error type raised by the annotation core.
type Error struct {
	kind    ErrorKind
	message string
}

func (e *Error) Error() string {
	return e.message
}

// Kind reports the failure category for boundary status mapping.
func (e *Error) Kind() ErrorKind {
	return e.kind
}

func newValidationError(format string, args ...any) error {
	return &Error{kind: KindValidation, message: fmt.Sprintf(format, args...)}
}

func newPermissionError(format string, args ...any) error {
	return &Error{kind: KindPermission, message: fmt.Sprintf(format, args...)}
}

func newNotFoundError(format string, args ...any) error {
	return &Error{kind: KindNotFound, message: fmt.Sprintf(format, args...)}
}

func newConflictError(format string, args ...any) error {
	return &Error{kind: KindConflict, message: fmt.Sprintf(format, args...)}
}
