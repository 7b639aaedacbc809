package lifecycle

import (
	"errors"
	"fmt"
)

// ValidationError reports caller-supplied input that fails a precondition.
// It is surfaced synchronously and guarantees no store mutation happened.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// NotFoundError reports an operation against an entity id that does not
// exist in the store.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s does not exist", e.Kind, e.ID)
}

// ErrNoCreateTarget is returned when a create operation runs without any
// enabled creation webhook target. Creation must fail before persisting in
// that case; the external system would never learn about the entity.
var ErrNoCreateTarget = errors.New("no creation webhook target configured")
