package domain

import (
	"errors"
	"fmt"
)

// Kind separates failures that abort a construction from failures that are
// logged and skipped.
type Kind uint8

const (
	// KindFatal aborts the operation; callers must not retry.
	KindFatal Kind = iota + 1
	// KindRecoverable marks a skippable condition; the caller logs and continues.
	KindRecoverable
)

func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindRecoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

// Sentinel causes wrapped by Error.
var (
	ErrDuplicateRespondent      = errors.New("duplicate respondent id")
	ErrNegativeRespondentID     = errors.New("negative respondent id")
	ErrEmptyInstanceName        = errors.New("entity instance name is empty")
	ErrCartesianProductTooLarge = errors.New("cartesian product exceeds configured maximum")
	ErrProfileTarget            = errors.New("profile entity type cannot be a data target")
	ErrDimensionMismatch        = errors.New("entity ids do not match field dimensions")
	ErrUnknownEntityType        = errors.New("unknown entity type")
	ErrUnknownSubset            = errors.New("unknown subset")
	ErrMultiEntityQuotaField    = errors.New("quota cell fields cannot be multi-entity")
	ErrInvalidInstanceList      = errors.New("invalid entity instance id list")
)

// Error carries a Kind alongside the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal wraps err as a fatal failure of op.
func Fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// Recoverable wraps err as a skippable failure of op.
func Recoverable(op string, err error) error {
	return &Error{Kind: KindRecoverable, Op: op, Err: err}
}

// KindOf returns the kind of the first Error in err's chain. Errors that were
// never classified are fatal.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// IsFatal reports whether err must abort the caller.
func IsFatal(err error) bool { return err != nil && KindOf(err) == KindFatal }

// IsRecoverable reports whether err may be logged and skipped.
func IsRecoverable(err error) bool { return err != nil && KindOf(err) == KindRecoverable }

// ErrNotFound is returned when a named catalog object does not exist.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
