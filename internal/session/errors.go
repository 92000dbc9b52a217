package session

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so callers can map them to user messaging
// without parsing reason strings.
type Kind string

const (
	KindPermissionDenied   Kind = "permission_denied"
	KindConflict           Kind = "conflict"
	KindInvalidState       Kind = "invalid_state"
	KindNotEligible        Kind = "not_eligible"
	KindNotFound           Kind = "not_found"
	KindConfigurationError Kind = "configuration_error"
)

// Error is a typed engine failure. Reason is human-readable and distinct
// enough to render directly at the boundary.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string { return e.Reason }

// E builds a typed engine error.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or "" when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
