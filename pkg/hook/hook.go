// Package hook implements the configuration protocol of the piehook driver.
//
// Every hook kind follows the same exchange: a local range check, opening
// the control device, enabling the hook class, sending the configure
// request and decoding the driver's verdict. A Client keeps no state
// between calls, so the same Client serves live requests and document
// replays.
package hook

import (
	"fmt"

	"github.com/piehook/piectl/pkg/addr"
	"github.com/piehook/piectl/pkg/driver"
)

// Address layout limits enforced before the driver is contacted.
const (
	// TextMin is the lowest text segment base. The driver receives text
	// bases as an offset from this value.
	TextMin uint64 = 0x555555554000
	// StackTopMax is the highest acceptable user stack top.
	StackTopMax uint64 = 0x7ffffffff000
	// HeapOffMax is the largest heap offset from the end of the text area.
	HeapOffMax uint64 = 0x2000000

	// PageMask selects the offset of an address inside its page.
	PageMask uint64 = 0xfff
)

// Kind identifies one of the four hooks.
type Kind uint8

const (
	Text Kind = iota
	StackBase
	StackOffset
	Heap
)

// Kinds lists every hook kind.
var Kinds = []Kind{Text, StackBase, StackOffset, Heap}

// Name returns the key used for k in configuration documents.
func (k Kind) Name() string {
	switch k {
	case Text:
		return "text"
	case StackBase:
		return "stack"
	case StackOffset:
		return "stackmagic"
	case Heap:
		return "heap"
	}
	return fmt.Sprintf("kind%d", uint8(k))
}

func (k Kind) String() string {
	switch k {
	case Text:
		return "text base"
	case StackBase:
		return "stack base"
	case StackOffset:
		return "stack offset"
	case Heap:
		return "heap base"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// label is the tag printed next to the effective value.
func (k Kind) label() string {
	switch k {
	case Text:
		return "TEXT_BASE"
	case StackBase:
		return "STACK_BASE"
	case StackOffset:
		return "STACK_OFFSET"
	case Heap:
		return "HEAP_BASE"
	}
	return "VALUE"
}

// KindByName returns the kind whose document key is name.
func KindByName(name string) (Kind, bool) {
	for _, k := range Kinds {
		if k.Name() == name {
			return k, true
		}
	}
	return 0, false
}

func (k Kind) class() driver.Class {
	switch k {
	case StackBase, StackOffset:
		return driver.ClassStack
	case Heap:
		return driver.ClassHeap
	}
	return driver.ClassPIE
}

func (k Kind) verb() driver.Verb {
	switch k {
	case StackBase:
		return driver.ConfigStackBase
	case StackOffset:
		return driver.ConfigStackOffset
	case Heap:
		return driver.ConfigHeap
	}
	return driver.ConfigPIE
}

// param builds the configure payload for value. Check must have accepted
// value first.
func (k Kind) param(value uint64) driver.Param {
	switch k {
	case Text:
		return driver.Param{RndOffset: value - TextMin}
	case StackBase:
		return driver.Param{RndBase: value}
	}
	return driver.Param{RndOffset: value}
}

// Check reports whether value is acceptable for k without contacting the
// driver. Stack offsets are not checked, they have to be tuned by hand.
func Check(k Kind, value uint64) error {
	var ok bool
	switch k {
	case Text:
		ok = value >= TextMin
	case StackBase:
		ok = value <= StackTopMax
	case StackOffset:
		ok = true
	case Heap:
		ok = value <= HeapOffMax
	default:
		return fmt.Errorf("unknown hook kind %d", uint8(k))
	}
	if !ok {
		return &Error{Kind: k, Value: value, Err: ErrOutOfRange}
	}
	return nil
}

// Result is the driver's verdict on a configure request.
type Result uint8

const (
	Accepted Result = iota
	AcceptedUnaligned
	Rejected
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case AcceptedUnaligned:
		return "accepted-unaligned"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("Result(%d)", uint8(r))
}

// DecodeResult converts the result bits written by the driver. The invalid
// bit wins over the unaligned bit.
func DecodeResult(bits uint32) Result {
	switch {
	case bits&driver.ResultInvalid != 0:
		return Rejected
	case bits&driver.ResultUnaligned != 0:
		return AcceptedUnaligned
	}
	return Accepted
}

// Outcome describes a hook the driver accepted.
type Outcome struct {
	Kind Kind
	// Value is the value requested by the operator.
	Value uint64
	// Base is Value rounded down to its page.
	Base uint64
	// Aligned is false when the driver flagged Value as not page aligned.
	Aligned bool
}

func newOutcome(k Kind, value uint64, aligned bool) Outcome {
	return Outcome{Kind: k, Value: value, Base: value &^ PageMask, Aligned: aligned}
}

func (o Outcome) String() string {
	name := capitalize(o.Kind.String())
	if o.Kind == StackOffset {
		return fmt.Sprintf("%s hooked successfully, %s: %s", name, o.Kind.label(), addr.Format(o.Value))
	}
	if !o.Aligned {
		return fmt.Sprintf("%s hooked, but address is not aligned, %s: %s", name, o.Kind.label(), addr.Format(o.Base))
	}
	return fmt.Sprintf("%s hooked successfully, %s: %s", name, o.Kind.label(), addr.Format(o.Base))
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
