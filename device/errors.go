package device

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory is wrapped by errors returned when an allocation would
// exceed the device allocation limit.
var ErrOutOfMemory = errors.New("out of device memory")

// Kind categorizes device errors.
type Kind int

const (
	// KindResource reports an allocation or transfer failure.
	KindResource Kind = iota

	// KindLaunch reports an invalid launch shape or a kernel fault.
	KindLaunch

	// KindArgument reports an invalid argument to a device call.
	KindArgument
)

// String returns the name of the error kind.
func (k Kind) String() string {
	switch k {
	case KindResource:
		return "resource"
	case KindLaunch:
		return "launch"
	case KindArgument:
		return "argument"
	default:
		return "unknown"
	}
}

// Error is a structured device failure.
type Error struct {
	Kind Kind
	Op   string // operation or kernel that failed
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device %s error in %s: %s: %v", e.Kind, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("device %s error in %s: %s", e.Kind, e.Op, e.Msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a device error of kind k.
func IsKind(err error, k Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == k
	}
	return false
}
