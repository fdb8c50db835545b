package hook

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange means the value failed the local range check and the
	// driver was never contacted.
	ErrOutOfRange = errors.New("out of range")
	// ErrChannelUnavailable means the control device could not be opened,
	// usually because the module is not loaded or permissions are missing.
	ErrChannelUnavailable = errors.New("driver channel unavailable")
	// ErrEnableRejected means the driver refused to enable the hook class.
	ErrEnableRejected = errors.New("cannot enable hook")
	// ErrConfigRejected means the driver refused the configure request.
	ErrConfigRejected = errors.New("cannot configure hook")
	// ErrAddressRejected means the driver validated the value and found it
	// invalid.
	ErrAddressRejected = errors.New("address is invalid, check your input")
)

// Error is returned by Client.Apply and Check. Err wraps one of the
// sentinel errors of this package.
type Error struct {
	Kind  Kind
	Value uint64
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
