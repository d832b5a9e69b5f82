package rbac

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/arbor/pkg/nestedset"
)

var (
	// ErrNotFound is returned when a role, permission or operation does not exist.
	ErrNotFound = errors.New("not found")
	// ErrHasChildren is wrapped in a ConstraintError when a non-leaf node is
	// deleted with the RejectChildren policy.
	ErrHasChildren = nestedset.ErrHasChildren
	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrResourceUnset is returned when the current resource was never set.
	ErrResourceUnset = errors.New("current resource is not set")
)

// StorageError reports a query or connection failure. It is never retried
// by this package.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// InvalidMoveError reports a move that would create a cycle or that names the
// same node as source and target. The tree is left untouched.
type InvalidMoveError struct {
	Source   int64
	Target   int64
	Position nestedset.Position
	Err      error
}

func (e *InvalidMoveError) Error() string {
	return fmt.Sprintf("invalid move of %d to %s of %d: %v", e.Source, e.Position, e.Target, e.Err)
}

func (e *InvalidMoveError) Unwrap() error { return e.Err }

// ConstraintError reports a duplicate assignment, a foreign key violation or
// a delete refused by policy.
type ConstraintError struct {
	Op  string
	Err error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint violation in %s: %v", e.Op, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// ConfigurationError reports a missing or malformed schema mapping. It is
// raised at construction time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// classified reports whether err already belongs to the taxonomy.
func classified(err error) bool {
	var (
		se *StorageError
		me *InvalidMoveError
		ce *ConstraintError
		fe *ConfigurationError
	)
	return errors.As(err, &se) || errors.As(err, &me) || errors.As(err, &ce) || errors.As(err, &fe) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput)
}

// storageErr wraps err as a StorageError unless it is already classified.
func storageErr(op string, err error) error {
	if err == nil || classified(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
