package store

import (
	"errors"
	"fmt"
)

// ErrConflict is matched by every *ConflictError.
var ErrConflict = errors.New("store conflict")

// ConflictKind distinguishes the two retryable failure classes.
type ConflictKind int

const (
	// ConflictUnique is a uniqueness violation, typically two writers
	// creating the same label.
	ConflictUnique ConflictKind = iota + 1
	// ConflictTransient is a lock timeout, serialization failure or
	// dropped connection.
	ConflictTransient
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictUnique:
		return "unique"
	case ConflictTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// ConflictError reports a failure after which the whole unit of work can
// be retried from scratch.
type ConflictError struct {
	Kind ConflictKind
	Err  error
}

// NewConflict wraps err as a conflict of the given kind.
func NewConflict(kind ConflictKind, err error) *ConflictError {
	return &ConflictError{Kind: kind, Err: err}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %v", e.Kind, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConflict) true for every conflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IsConflict reports whether err is retryable.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// ConflictOf returns the conflict kind of err, or 0 when err is not a conflict.
func ConflictOf(err error) ConflictKind {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}
