package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrCollectionFull is returned when adding beyond a collection's capacity.
	ErrCollectionFull = errors.New("command collection is full")

	// ErrDuplicateKey is returned when a correlation key is registered twice.
	ErrDuplicateKey = errors.New("duplicate command key")

	// ErrInvalidArgument matches every *InvalidArgumentError.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBase matches every *BaseError.
	ErrBase = errors.New("bulk operation failed")
)

// InvalidArgumentError reports caller input rejected before any request.
type InvalidArgumentError struct {
	Method string
	// Index is the position of the offending item, -1 if not item specific.
	Index  int
	Type   string
	Reason string
}

// Error implements the error interface.
func (e *InvalidArgumentError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: invalid argument: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("%s: invalid argument at index %d (%s): %s", e.Method, e.Index, e.Type, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidArgument) hold.
func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// BaseError wraps an unexpected failure while building or decoding a bulk
// operation.
type BaseError struct {
	Method string
	// Index is the position of the affected item, -1 if not item specific.
	Index int
	Err   error
}

// Error implements the error interface.
func (e *BaseError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("%s: item %d: %v", e.Method, e.Index, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *BaseError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrBase) hold.
func (e *BaseError) Is(target error) bool {
	return target == ErrBase
}
