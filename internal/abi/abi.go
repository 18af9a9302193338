// Package abi classifies function signatures for a native calling
// convention: which parameters travel in general purpose registers, which
// in vector registers, which on the stack, and whether the return value
// comes back through a hidden pointer.
//
// Classification depends only on the type tree and is computed once per
// function. Conventions live in subpackages that register themselves; import
// internal/abi/factory to get all of them.
package abi

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/tinyrange/ffi/internal/ctype"
)

type Convention string

const (
	ConventionInvalid Convention = "invalid"
	ConventionSysV    Convention = "sysv"
	ConventionWin64   Convention = "win64"
	ConventionAAPCS64 Convention = "aapcs64"
)

var (
	ErrUnknownConvention = errors.New("unknown calling convention")
	ErrUnsupportedType   = errors.New("unsupported type")
)

// Class is the classification of one parameter or return value. Which
// fields are meaningful depends on the convention.
type Class struct {
	// Regular marks values that fit a single 1, 2, 4 or 8 byte slot (win64).
	Regular bool
	// Float marks float and double scalars.
	Float bool
	// HFA marks homogeneous floating point aggregates (aapcs64).
	HFA bool

	// RetStack is set on return values written through a hidden pointer
	// supplied by the caller.
	RetStack bool
	// ByRef marks aggregates the caller copies and passes by address.
	ByRef bool
	// Stack marks parameters passed in stack slots instead of registers.
	Stack bool

	GPRCount int
	VecCount int
	// GPRFirst is set when the first eightbyte of a mixed aggregate goes to
	// a general purpose register.
	GPRFirst bool
}

// InRegisters reports whether the value is carried in registers.
func (c Class) InRegisters() bool {
	return !c.Stack && !c.RetStack && (c.GPRCount > 0 || c.VecCount > 0)
}

func (c Class) String() string {
	switch {
	case c.RetStack:
		return "ret-stack"
	case c.Stack && c.ByRef:
		return "stack(ref)"
	case c.Stack:
		return "stack"
	case c.ByRef:
		return fmt.Sprintf("ref(gpr=%d)", c.GPRCount)
	case c.HFA:
		return fmt.Sprintf("hfa(vec=%d)", c.VecCount)
	case c.GPRCount == 0 && c.VecCount == 0:
		return "none"
	}
	return fmt.Sprintf("reg(gpr=%d vec=%d gprFirst=%t)", c.GPRCount, c.VecCount, c.GPRFirst)
}

// FunctionClass is the classification of a whole signature.
type FunctionClass struct {
	Ret    Class
	Params []Class

	// GPRUsed and VecUsed count the argument registers consumed, including
	// a hidden return pointer passed in an argument register.
	GPRUsed int
	VecUsed int
	// StackSlots is the number of 8 byte stack slots the arguments take.
	StackSlots int
}

type Classifier interface {
	Convention() Convention
	DataModel() ctype.DataModel
	ClassifyFunction(ret *ctype.Type, params []*ctype.Type) (FunctionClass, error)
}

var (
	classifiersMu sync.RWMutex
	classifiers   = make(map[Convention]Classifier)
)

// RegisterClassifier makes a convention available to Lookup. It panics when
// the same convention is registered twice so mistakes surface during init.
func RegisterClassifier(c Classifier) {
	if c == nil {
		panic("abi: classifier must be non-nil")
	}
	conv := c.Convention()
	if conv == "" || conv == ConventionInvalid {
		panic("abi: cannot register classifier for invalid convention")
	}

	classifiersMu.Lock()
	defer classifiersMu.Unlock()

	if _, exists := classifiers[conv]; exists {
		panic(fmt.Sprintf("abi: classifier for %s already registered", conv))
	}
	classifiers[conv] = c
}

func Lookup(conv Convention) (Classifier, error) {
	classifiersMu.RLock()
	defer classifiersMu.RUnlock()

	if c, ok := classifiers[conv]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("abi: %w %q (registered: %v)", ErrUnknownConvention, conv, registeredLocked())
}

// Registered returns the registered conventions in sorted order.
func Registered() []Convention {
	classifiersMu.RLock()
	defer classifiersMu.RUnlock()
	return registeredLocked()
}

func registeredLocked() []Convention {
	out := make([]Convention, 0, len(classifiers))
	for conv := range classifiers {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HostConvention returns the convention native code on goos/goarch uses.
func HostConvention(goos, goarch string) Convention {
	switch goarch {
	case "amd64":
		if goos == "windows" {
			return ConventionWin64
		}
		return ConventionSysV
	case "arm64":
		return ConventionAAPCS64
	}
	return ConventionInvalid
}

// Default returns the classifier for the running platform.
func Default() (Classifier, error) {
	conv := HostConvention(runtime.GOOS, runtime.GOARCH)
	if conv == ConventionInvalid {
		return nil, fmt.Errorf("abi: %w for %s/%s", ErrUnknownConvention, runtime.GOOS, runtime.GOARCH)
	}
	return Lookup(conv)
}

// CheckParam rejects types that cannot be passed by value.
func CheckParam(t *ctype.Type) error {
	if t == nil {
		return fmt.Errorf("abi: %w: nil type", ErrUnsupportedType)
	}
	if t.Kind == ctype.Void {
		return fmt.Errorf("abi: %w: void parameter", ErrUnsupportedType)
	}
	if !t.Complete() {
		return fmt.Errorf("abi: %w: incomplete type %s passed by value", ErrUnsupportedType, t.Name)
	}
	return nil
}

// CheckReturn rejects types that cannot be returned by value.
func CheckReturn(t *ctype.Type) error {
	if t == nil {
		return fmt.Errorf("abi: %w: nil return type", ErrUnsupportedType)
	}
	if t.Kind == ctype.Array {
		return fmt.Errorf("abi: %w: array return type %s", ErrUnsupportedType, t.Name)
	}
	if !t.Complete() {
		return fmt.Errorf("abi: %w: incomplete return type %s", ErrUnsupportedType, t.Name)
	}
	return nil
}

// Aligned reports whether every scalar leaf of t sits at a multiple of its
// own alignment. Packed records can break this, which forces memory
// classification on register-based conventions.
func Aligned(t *ctype.Type) bool {
	return t.Walk(func(off int, leaf *ctype.Type) bool {
		return off%leaf.Align == 0
	})
}
