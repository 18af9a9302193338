package api

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tinyrange/ffi/internal/abi"
	"github.com/tinyrange/ffi/internal/ctype"
)

var (
	ErrClosed        = errors.New("ffi: already closed")
	ErrArgumentCount = errors.New("ffi: wrong number of arguments")
	ErrReleased      = errors.New("ffi: function released")
	ErrConvention    = errors.New("ffi: calling convention mismatch")
	ErrRealign       = errors.New("ffi: invalid realign")
	ErrNullPointer   = errors.New("ffi: null pointer")
)

// Option configures an Engine, or a function resolved through one.
type Option interface {
	IsOption()
}

// Error represents an ffi operation error with structured information.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return e.Op + " " + e.Path + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ParameterDescriptor describes one parameter or the return value of a
// function.
type ParameterDescriptor struct {
	Name      string
	Type      *ctype.Type
	Direction ctype.Direction
	Class     abi.Class
}

// FunctionDescriptor is a resolved native function: its types, their
// classification under the engine's calling convention and its entry
// point. It is built once and reused for every call.
type FunctionDescriptor struct {
	Name       string
	Library    *Library
	Addr       uintptr
	Convention abi.Convention

	Ret    ParameterDescriptor
	Params []ParameterDescriptor
	Class  abi.FunctionClass

	// Realign is the alignment floor applied to everything the call lays
	// out, records and arrays behind pointers included. 0 means natural
	// alignment.
	Realign int

	// ScratchSize is the arena space one call needs for its fixed-size
	// slots: every parameter and the return value rounded up to 16 bytes,
	// plus one element behind each out and inout pointer.
	ScratchSize int

	released atomic.Bool
}

func scratchSize(ret ParameterDescriptor, params []ParameterDescriptor, realign int) int {
	n := ctype.AlignUp(ret.Type.SizeAt(realign), ctype.MaxAlign)
	for _, p := range params {
		n += ctype.AlignUp(p.Type.SizeAt(realign), ctype.MaxAlign)
		if p.Direction != ctype.In {
			n += ctype.AlignUp(p.Type.Element.SizeAt(realign), ctype.MaxAlign)
		}
	}
	return n
}

// Release drops the descriptor's reference to its library. The descriptor
// cannot be called afterwards. Release is idempotent.
func (f *FunctionDescriptor) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		return nil
	}
	if f.Library == nil {
		return nil
	}
	return f.Library.release()
}

// Released reports whether Release has been called.
func (f *FunctionDescriptor) Released() bool { return f.released.Load() }

func (f *FunctionDescriptor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s(", f.Ret.Type.Name, f.Name)
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		switch p.Direction {
		case ctype.Out:
			b.WriteString("_Out_ ")
		case ctype.InOut:
			b.WriteString("_Inout_ ")
		}
		b.WriteString(p.Type.Name)
		if p.Name != "" {
			b.WriteString(" " + p.Name)
		}
	}
	b.WriteString(")")
	return b.String()
}
