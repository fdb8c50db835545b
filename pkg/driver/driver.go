// Package driver talks to the piehook kernel driver through its control
// device.
//
// The driver exposes three hook classes (PIE text, stack and heap). Each
// class is switched on with an enable request and then configured with a
// request carrying a Param block that the driver fills in with its verdict.
package driver

import (
	"errors"
	"fmt"
)

// DefaultDevice is the control device created by the piehook module.
const DefaultDevice = "/dev/piehook"

// Class identifies a hook class inside the driver.
type Class uint8

const (
	ClassPIE Class = iota
	ClassStack
	ClassHeap
)

func (c Class) String() string {
	switch c {
	case ClassPIE:
		return "pie"
	case ClassStack:
		return "stack"
	case ClassHeap:
		return "heap"
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// Verb is a configure request understood by the driver.
type Verb uint8

const (
	ConfigPIE Verb = iota
	ConfigStackBase
	ConfigStackOffset
	ConfigHeap
)

func (v Verb) String() string {
	switch v {
	case ConfigPIE:
		return "pie-config"
	case ConfigStackBase:
		return "stack-config-base"
	case ConfigStackOffset:
		return "stack-config-offset"
	case ConfigHeap:
		return "heap-config"
	}
	return fmt.Sprintf("verb(%d)", uint8(v))
}

// Bits the driver sets in Param.Result.
const (
	ResultUnaligned uint32 = 1 << 0
	ResultInvalid   uint32 = 1 << 1
)

// Param is the payload of every configure request. Its layout matches
// struct piehook_param in the driver: the driver reads RndOffset or RndBase
// depending on the verb and writes Result in place.
type Param struct {
	RndOffset uint64
	RndBase   uint64
	Result    uint32
	_         uint32
}

// Channel is an open control handle to the driver. A Channel is owned by a
// single caller and must be closed after use.
type Channel interface {
	// Enable switches on the hook class c.
	Enable(c Class) error
	// Configure sends the configure request v carrying p. On success the
	// driver has filled p.Result.
	Configure(v Verb, p *Param) error
	Close() error
}

// ErrUnsupported is returned by Open on platforms without the driver.
var ErrUnsupported = errors.New("piehook driver is only available on linux")

// OpenError is returned when the control device can not be opened.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("cannot open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}
