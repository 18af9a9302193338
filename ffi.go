// Package ffi calls native functions whose signatures are only known at
// runtime. Types are described with C declarations, host values are
// marshaled into native memory following the platform calling convention,
// and results are converted back into host values.
//
// An Engine owns the type registry and resolves functions; a Session owns
// the arena that calls are marshaled into.
package ffi

import (
	"io"
	"log/slog"
	"math/big"

	"github.com/tinyrange/ffi/internal/abi"
	"github.com/tinyrange/ffi/internal/api"
	"github.com/tinyrange/ffi/internal/arena"
	"github.com/tinyrange/ffi/internal/ctype"
	"github.com/tinyrange/ffi/internal/decl"
	"github.com/tinyrange/ffi/internal/hostval"
	"github.com/tinyrange/ffi/internal/marshal"
	"github.com/tinyrange/ffi/internal/native"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from internal packages
// -----------------------------------------------------------------------------

// Engine resolves native functions against a type registry.
type Engine = api.Engine

// Session makes calls using its own arena. It must not be shared between
// goroutines.
type Session = api.Session

// Library is a reference counted shared library.
type Library = api.Library

// FunctionDescriptor is a resolved native function.
type FunctionDescriptor = api.FunctionDescriptor

// ParameterDescriptor describes one parameter of a FunctionDescriptor.
type ParameterDescriptor = api.ParameterDescriptor

// CallContext is the arena scope of one call.
type CallContext = api.CallContext

// Option configures an Engine or a resolved function.
type Option = api.Option

// Error represents an ffi operation error with structured information.
type Error = api.Error

// MarshalError reports a host value that does not match its declared type.
type MarshalError = marshal.Error

// Type describes the native layout of a value.
type Type = ctype.Type

// Registry interns types by name.
type Registry = ctype.Registry

// Field declares one member of a record.
type Field = ctype.Field

// RecordOptions controls record layout.
type RecordOptions = ctype.RecordOptions

// Convention names a calling convention.
type Convention = abi.Convention

// Invoker performs native calls. Replace it to intercept calls.
type Invoker = native.Invoker

// Call is what an Invoker receives.
type Call = native.Call

// Trampolines turns host functions into native function pointers. Replace
// it to intercept callbacks.
type Trampolines = native.Trampolines

// CallbackFunc is what a trampoline runs when native code calls it.
type CallbackFunc = native.CallbackFunc

// Declarations is a parsed declaration file.
type Declarations = decl.File

// Host values.
type (
	Value     = hostval.Value
	Undefined = hostval.Undefined
	Null      = hostval.Null
	Bool      = hostval.Bool
	Number    = hostval.Number
	BigInt    = hostval.BigInt
	String    = hostval.String
	Array     = hostval.Array
	Object    = hostval.Object
	Handle    = hostval.Handle
	Func      = hostval.Func
)

// Parameter directions.
const (
	In    = ctype.In
	Out   = ctype.Out
	InOut = ctype.InOut
)

// Calling conventions.
const (
	SysV    = abi.ConventionSysV
	Win64   = abi.ConventionWin64
	AAPCS64 = abi.ConventionAAPCS64
)

// Common sentinel errors.
var (
	ErrClosed        = api.ErrClosed
	ErrArgumentCount = api.ErrArgumentCount
	ErrReleased      = api.ErrReleased
	ErrConvention    = api.ErrConvention
	ErrRealign       = api.ErrRealign
	ErrNullPointer   = api.ErrNullPointer

	ErrTypeMismatch        = marshal.ErrTypeMismatch
	ErrMissingField        = marshal.ErrMissingField
	ErrArrayLengthMismatch = marshal.ErrArrayLengthMismatch
	ErrUntaggedPointer     = marshal.ErrUntaggedPointer
	ErrNoCallbacks         = marshal.ErrNoCallbacks

	ErrUnknownType = ctype.ErrUnknownType
	ErrOutOfMemory = arena.ErrOutOfMemory
	ErrTrampolines = native.ErrTrampolines

	// ErrUnsupported indicates native calls are not available on this
	// platform. Type layout and marshaling still work.
	ErrUnsupported = native.ErrUnsupported
)

// -----------------------------------------------------------------------------
// Engine Options
// -----------------------------------------------------------------------------

// WithStackSize sets the size in bytes of each session's arena.
func WithStackSize(n int) Option {
	return &stackSizeOption{n: n}
}

type stackSizeOption struct{ n int }

func (*stackSizeOption) IsOption()        {}
func (o *stackSizeOption) StackSize() int { return o.n }

// WithReserve sets how many arena bytes are kept for fixed-size argument
// slots. Strings that would eat into the reserve are copied to the heap.
func WithReserve(n int) Option {
	return &reserveOption{n: n}
}

type reserveOption struct{ n int }

func (*reserveOption) IsOption()      {}
func (o *reserveOption) Reserve() int { return o.n }

// WithConvention classifies for conv instead of the running platform.
func WithConvention(conv Convention) Option {
	return &conventionOption{conv: conv}
}

type conventionOption struct{ conv Convention }

func (*conventionOption) IsOption()                       {}
func (o *conventionOption) CallingConvention() Convention { return o.conv }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return &loggerOption{l: l}
}

type loggerOption struct{ l *slog.Logger }

func (*loggerOption) IsOption()              {}
func (o *loggerOption) Logger() *slog.Logger { return o.l }

// WithInvoker replaces the native call trampoline.
func WithInvoker(inv Invoker) Option {
	return &invokerOption{inv: inv}
}

type invokerOption struct{ inv Invoker }

func (*invokerOption) IsOption()          {}
func (o *invokerOption) Invoker() Invoker { return o.inv }

// WithTrampolines replaces the source of native function pointers for host
// functions passed to callback parameters.
func WithTrampolines(t Trampolines) Option {
	return &trampolinesOption{t: t}
}

type trampolinesOption struct{ t Trampolines }

func (*trampolinesOption) IsOption()                  {}
func (o *trampolinesOption) Trampolines() Trampolines { return o.t }

// WithDebugDump writes a hex dump of every call's argument and return
// memory to w, before and after the call.
func WithDebugDump(w io.Writer) Option {
	return &debugDumpOption{w: w}
}

type debugDumpOption struct{ w io.Writer }

func (*debugDumpOption) IsOption()              {}
func (o *debugDumpOption) DebugDump() io.Writer { return o.w }

// -----------------------------------------------------------------------------
// Function Options
// -----------------------------------------------------------------------------

// WithRealign raises the alignment of every member and element a call lays
// out to at least n, for libraries built with a uniform packing rule. Pass
// it to Library.Func or Engine.NewFunction. n must be a power of two up to
// 16, and must not change the layout of values passed by value.
func WithRealign(n int) Option {
	return &realignOption{n: n}
}

type realignOption struct{ n int }

func (*realignOption) IsOption()      {}
func (o *realignOption) Realign() int { return o.n }

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

// New creates an Engine.
func New(opts ...Option) (*Engine, error) {
	return api.New(opts...)
}

// LoadDeclarations reads a YAML declaration file. Pass the result to
// Engine.Declare.
func LoadDeclarations(path string) (*Declarations, error) {
	return decl.Load(path)
}

// ParseDeclarations parses a YAML declaration document.
func ParseDeclarations(data []byte) (*Declarations, error) {
	return decl.Parse(data)
}

// NewObject returns an empty host object.
func NewObject() *Object { return hostval.NewObject() }

// NewArray returns a host array holding elems.
func NewArray(elems ...Value) *Array { return hostval.NewArray(elems...) }

// NewBigInt returns a host integer holding a copy of v.
func NewBigInt(v *big.Int) BigInt { return hostval.NewBigInt(v) }

// NewHandle returns a pointer value tagged with the name of the type it
// points to.
func NewHandle(addr uintptr, tag string) Handle { return hostval.NewHandle(addr, tag) }

// NewFunc wraps fn as a host function that can be passed to a callback
// parameter. Native code may call it until the call it was passed to
// returns. An error from fn makes that call fail.
func NewFunc(name string, fn func(args ...Value) (Value, error)) *Func {
	return hostval.NewFunc(name, fn)
}

// Equal reports whether two host values are structurally equal. 64-bit
// results come back as BigInt, so compare them with Equal rather than ==.
func Equal(a, b Value) bool { return hostval.Equal(a, b) }
