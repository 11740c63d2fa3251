package proc

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessExited is matched by errors.Is for any error caused by the
	// target process having gone away.
	ErrProcessExited = errors.New("process exited")

	// ErrNoCandidates is returned by operations that need a non-empty
	// candidate set.
	ErrNoCandidates = &UserInputError{Msg: "no saved offsets found (try using search <value>)"}

	// ErrUnsupported is returned for operations the current data type
	// cannot perform (refine and set in string mode).
	ErrUnsupported = errors.New("operation not supported for this data type")
)

// ProcessExitedError indicates that the target process is no longer
// running.
type ProcessExitedError struct {
	Pid int
}

func (pe ProcessExitedError) Error() string {
	return fmt.Sprintf("Process %d has exited", pe.Pid)
}

// Is reports ErrProcessExited as a match so callers do not need to know
// the pid.
func (pe ProcessExitedError) Is(target error) bool {
	return target == ErrProcessExited
}

// ParseError is a malformed record in a mapping description.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (pe *ParseError) Error() string {
	return fmt.Sprintf("malformed mapping on line %d: %q (%s)", pe.Line, pe.Text, pe.Reason)
}

// RangeError is returned when a value does not fit the configured width.
type RangeError struct {
	Value string
	Width int
}

func (re *RangeError) Error() string {
	return fmt.Sprintf("value %s does not fit in %d byte(s), try changing the integer width", re.Value, re.Width)
}

// AccessError is an I/O failure against the target's memory.
type AccessError struct {
	Op   string
	Addr uint64
	Len  int
	Err  error
}

func (ae *AccessError) Error() string {
	return fmt.Sprintf("could not %s %d bytes at %#x: %v", ae.Op, ae.Len, ae.Addr, ae.Err)
}

func (ae *AccessError) Unwrap() error {
	return ae.Err
}

// UserInputError is an invalid argument supplied by the user. The
// operation that returned it did nothing.
type UserInputError struct {
	Msg string
}

func (ue *UserInputError) Error() string {
	return ue.Msg
}

func userErrorf(format string, args ...interface{}) error {
	return &UserInputError{Msg: fmt.Sprintf(format, args...)}
}
