package ranking

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownStrategy    = errors.New("unknown strategy")
	ErrInvalidDataset     = errors.New("invalid dataset")
	ErrTooFewClasses      = errors.New("need at least two classes")
	ErrNoFiniteImportance = errors.New("no finite importance")
	ErrLengthMismatch     = errors.New("score length does not match feature count")
)

// Error is a strategy failure. It is fatal to the ranking step.
type Error struct {
	Strategy ID
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(id ID, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Strategy: id, Err: err}
}
