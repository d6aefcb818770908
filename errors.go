package chamber

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexOutOfRange is matched by every *IndexError.
	ErrIndexOutOfRange = errors.New("chamber: index out of range")
	// ErrNotSupported is returned by operations the controller model does
	// not implement.
	ErrNotSupported = errors.New("chamber: not supported by this controller")
	// ErrProgramNotFound is matched by every *ProgramNotFoundError.
	ErrProgramNotFound = errors.New("chamber: program not found")
)

// IndexError reports a loop, event or program number outside [Min, Max].
type IndexError struct {
	What  string
	Index int
	Min   int
	Max   int
}

func (e *IndexError) Error() string {
	if e.Max < e.Min {
		return fmt.Sprintf("chamber: %s %d out of range (none configured)", e.What, e.Index)
	}
	return fmt.Sprintf("chamber: %s %d out of range [%d, %d]", e.What, e.Index, e.Min, e.Max)
}

// Is makes errors.Is(err, ErrIndexOutOfRange) hold.
func (e *IndexError) Is(target error) bool {
	return target == ErrIndexOutOfRange
}

// CheckIndex returns an *IndexError unless min <= n <= max.
func CheckIndex(what string, n, min, max int) error {
	if max < min || n < min || n > max {
		return &IndexError{What: what, Index: n, Min: min, Max: max}
	}
	return nil
}

// FieldError reports a loop field name GetLoop does not know.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("chamber: unknown loop field %q", e.Field)
}

// ProgramNotFoundError reports a program number with no program stored.
type ProgramNotFoundError struct {
	Number int
	Err    error
}

func (e *ProgramNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chamber: program %d not found: %v", e.Number, e.Err)
	}
	return fmt.Sprintf("chamber: program %d not found", e.Number)
}

func (e *ProgramNotFoundError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrProgramNotFound) hold.
func (e *ProgramNotFoundError) Is(target error) bool {
	return target == ErrProgramNotFound
}
