// Package native loads shared libraries and invokes functions in them.
//
// The marshaling engine hands the invoker fully laid out argument slots and
// a slot for the return value; the invoker moves those bytes into the
// machine registers and stack of the host calling convention.
package native

import (
	"errors"
	"strings"

	"github.com/tinyrange/ffi/internal/abi"
	"github.com/tinyrange/ffi/internal/ctype"
)

var (
	ErrUnsupported = errors.New("native: unsupported on this platform")
	ErrNotFound    = errors.New("native: symbol not found")
	ErrTrampolines = errors.New("native: no free trampoline")
)

// Handle identifies a loaded library.
type Handle uintptr

// Arg is one marshaled value. Slot holds exactly Type.Size bytes in the
// native layout.
type Arg struct {
	Type  *ctype.Type
	Class abi.Class
	Slot  []byte
}

// Call describes one invocation. Ret.Slot receives the return value and is
// empty for void functions.
type Call struct {
	Name       string
	Addr       uintptr
	Convention abi.Convention
	Params     []Arg
	Ret        Arg
}

// Signature renders the call's types as a C-like prototype.
func (c *Call) Signature() string {
	var sb strings.Builder
	if c.Ret.Type != nil {
		sb.WriteString(c.Ret.Type.Name)
	} else {
		sb.WriteString("void")
	}
	sb.WriteString(" (")
	for i, p := range c.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Type.Name)
	}
	sb.WriteString(")")
	return sb.String()
}

// Invoker performs native calls.
type Invoker interface {
	Invoke(c *Call) error
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(c *Call) error

func (f InvokerFunc) Invoke(c *Call) error { return f(c) }

// CallbackFunc handles one call from native code into the host. args holds
// every argument in the native layout of its parameter type; the handler
// writes the return value into ret, which is at least the return type's
// size and zeroed.
type CallbackFunc func(args [][]byte, ret []byte)

// Trampolines hands out native function pointers that forward to host
// handlers. The address returned by Acquire calls fn until release runs.
type Trampolines interface {
	Acquire(sig *ctype.Prototype, fn CallbackFunc) (addr uintptr, release func(), err error)
}
