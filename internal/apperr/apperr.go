// Package apperr defines the error taxonomy shared by the page, block,
// content and category packages. Stores wrap these sentinels with
// context; the HTTP layer maps them to status codes with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrVersionConflict = errors.New("version conflict")

	// ErrCategoryRequired is a validation error raised when a subtree
	// restore needs a category and none was chosen.
	ErrCategoryRequired = fmt.Errorf("%w: CATEGORY_REQUIRED", ErrValidation)
)

// Validation returns an error wrapping ErrValidation with a message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an error wrapping ErrNotFound for the given entity.
func NotFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

// Forbidden returns an error wrapping ErrForbidden with a message.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// VersionConflictError reports the authoritative document version when
// an optimistic save is rejected.
type VersionConflictError struct {
	Current  int
	Expected int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, current %d", e.Expected, e.Current)
}

// Is lets errors.Is(err, ErrVersionConflict) match.
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}
