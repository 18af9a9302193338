//go:build darwin || freebsd || linux || netbsd || windows

package native

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/tinyrange/ffi/internal/abi"
	"github.com/tinyrange/ffi/internal/ctype"
)

// maxArgs is the most arguments purego forwards.
const maxArgs = 15

// PuregoInvoker calls native functions through purego. Calls whose values
// all live in general purpose registers go through purego.SyscallN;
// everything else is bound once per signature with purego.RegisterFunc on a
// reflect-built Go function type.
type PuregoInvoker struct {
	mu    sync.Mutex
	funcs map[string]reflect.Value
}

func NewInvoker() Invoker {
	return &PuregoInvoker{funcs: make(map[string]reflect.Value)}
}

func (p *PuregoInvoker) Invoke(c *Call) error {
	if c.Addr == 0 {
		return fmt.Errorf("native: call %s: nil function address", c.Name)
	}
	if args, ok := wordArgs(c); ok {
		if len(args) > maxArgs {
			return fmt.Errorf("native: call %s: %d argument words exceed the limit of %d", c.Name, len(args), maxArgs)
		}
		p.invokeWords(c, args)
		return nil
	}
	if len(c.Params) > maxArgs {
		return fmt.Errorf("native: call %s: %d arguments exceed the limit of %d", c.Name, len(c.Params), maxArgs)
	}
	return p.invokeReflect(c)
}

// isWord reports whether t is a non-floating point scalar that travels in a
// single general purpose register.
func isWord(t *ctype.Type) bool {
	k := t.Kind
	return (k == ctype.Bool || k.IsInteger() || k.IsAddress()) && t.Size <= 8
}

// inGPRs reports whether an aggregate is classified entirely into general
// purpose registers.
func inGPRs(a Arg) bool {
	c := a.Class
	return a.Type.Kind.IsAggregate() && c.GPRCount > 0 && c.VecCount == 0 &&
		!c.Stack && !c.ByRef && !c.RetStack && len(a.Slot) <= 8*c.GPRCount
}

// wordArgs flattens a call whose values all live in general purpose
// registers into register words, in argument order. Aggregates the
// classifier split across registers contribute one word per register; a
// hidden return pointer comes first.
func wordArgs(c *Call) ([]uintptr, bool) {
	var args []uintptr

	switch ret := c.Ret; {
	case ret.Type == nil || ret.Type.Kind == ctype.Void || isWord(ret.Type):
	case ret.Class.RetStack:
		// aapcs64 passes the result address in x8, which SyscallN never sets.
		if c.Convention == abi.ConventionAAPCS64 || len(ret.Slot) == 0 {
			return nil, false
		}
		args = append(args, uintptr(unsafe.Pointer(&ret.Slot[0])))
	case inGPRs(ret) && ret.Class.GPRCount <= 2:
	default:
		return nil, false
	}

	for _, a := range c.Params {
		switch {
		case isWord(a.Type):
			args = append(args, word(a))
		case inGPRs(a):
			var buf [16]byte
			copy(buf[:], a.Slot)
			for i := 0; i < a.Class.GPRCount; i++ {
				args = append(args, uintptr(binary.LittleEndian.Uint64(buf[8*i:])))
			}
		default:
			return nil, false
		}
	}
	return args, true
}

// word loads a slot into a register value, sign extending signed integers.
func word(a Arg) uintptr {
	var buf [8]byte
	copy(buf[:], a.Slot)
	v := binary.LittleEndian.Uint64(buf[:])
	if a.Type.Kind.IsSigned() && a.Type.Size < 8 {
		shift := 64 - 8*uint(a.Type.Size)
		v = uint64(int64(v<<shift) >> shift)
	}
	return uintptr(v)
}

func (p *PuregoInvoker) invokeWords(c *Call, args []uintptr) {
	r1, r2, _ := purego.SyscallN(c.Addr, args...)
	if len(c.Ret.Slot) == 0 || c.Ret.Class.RetStack {
		return
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(r1))
	binary.LittleEndian.PutUint64(buf[8:], uint64(r2))
	copy(c.Ret.Slot, buf[:])
}

func (p *PuregoInvoker) invokeReflect(c *Call) (err error) {
	fn, err := p.bind(c)
	if err != nil {
		return err
	}

	args := make([]reflect.Value, len(c.Params))
	for i, a := range c.Params {
		rt, err := goType(a.Type)
		if err != nil {
			return fmt.Errorf("native: call %s: parameter %d: %w", c.Name, i+1, err)
		}
		args[i] = fromSlot(rt, a.Slot)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("native: call %s: %v", c.Name, r)
		}
	}()
	out := fn.Call(args)
	if len(out) == 1 {
		toSlot(out[0], c.Ret.Slot)
	}
	return nil
}

func (p *PuregoInvoker) bind(c *Call) (fn reflect.Value, err error) {
	key := strconv.FormatUint(uint64(c.Addr), 16) + " " + c.Signature()

	p.mu.Lock()
	defer p.mu.Unlock()
	if fn, ok := p.funcs[key]; ok {
		return fn, nil
	}

	in := make([]reflect.Type, len(c.Params))
	for i, a := range c.Params {
		if in[i], err = goType(a.Type); err != nil {
			return reflect.Value{}, fmt.Errorf("native: bind %s: parameter %d: %w", c.Name, i+1, err)
		}
	}
	var out []reflect.Type
	if c.Ret.Type != nil && c.Ret.Type.Kind != ctype.Void {
		rt, err := goType(c.Ret.Type)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("native: bind %s: return value: %w", c.Name, err)
		}
		out = []reflect.Type{rt}
	}

	ptr := reflect.New(reflect.FuncOf(in, out, false))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("native: bind %s %s: %v", c.Name, c.Signature(), r)
		}
	}()
	purego.RegisterFunc(ptr.Interface(), c.Addr)

	fn = ptr.Elem()
	p.funcs[key] = fn
	return fn, nil
}

// goType maps t to a Go type with an identical memory layout.
func goType(t *ctype.Type) (reflect.Type, error) {
	switch t.Kind {
	case ctype.Bool:
		return reflect.TypeFor[bool](), nil
	case ctype.Int8:
		return reflect.TypeFor[int8](), nil
	case ctype.UInt8:
		return reflect.TypeFor[uint8](), nil
	case ctype.Int16:
		return reflect.TypeFor[int16](), nil
	case ctype.UInt16:
		return reflect.TypeFor[uint16](), nil
	case ctype.Int32:
		return reflect.TypeFor[int32](), nil
	case ctype.UInt32:
		return reflect.TypeFor[uint32](), nil
	case ctype.Int64:
		return reflect.TypeFor[int64](), nil
	case ctype.UInt64:
		return reflect.TypeFor[uint64](), nil
	case ctype.Float32:
		return reflect.TypeFor[float32](), nil
	case ctype.Float64:
		return reflect.TypeFor[float64](), nil
	case ctype.String, ctype.String16, ctype.Pointer:
		return reflect.TypeFor[uintptr](), nil
	case ctype.Array:
		elem, err := goType(t.Element)
		if err != nil {
			return nil, err
		}
		return reflect.ArrayOf(t.Len(), elem), nil
	case ctype.Record:
		fields := make([]reflect.StructField, len(t.Members))
		for i, m := range t.Members {
			ft, err := goType(m.Type)
			if err != nil {
				return nil, err
			}
			fields[i] = reflect.StructField{Name: "F" + strconv.Itoa(i), Type: ft}
		}
		st := reflect.StructOf(fields)
		if int(st.Size()) != t.Size {
			return nil, fmt.Errorf("%s: layout of %d bytes has no Go equivalent (%d)", t.Name, t.Size, st.Size())
		}
		for i, m := range t.Members {
			if int(st.Field(i).Offset) != m.Offset {
				return nil, fmt.Errorf("%s: member %s at offset %d has no Go equivalent", t.Name, m.Name, m.Offset)
			}
		}
		return st, nil
	}
	return nil, fmt.Errorf("%s: %s values cannot be passed", t.Name, t.Kind)
}

func fromSlot(rt reflect.Type, slot []byte) reflect.Value {
	v := reflect.New(rt).Elem()
	copy(unsafe.Slice((*byte)(v.Addr().UnsafePointer()), rt.Size()), slot)
	return v
}

func toSlot(v reflect.Value, slot []byte) {
	tmp := reflect.New(v.Type()).Elem()
	tmp.Set(v)
	copy(slot, unsafe.Slice((*byte)(tmp.Addr().UnsafePointer()), v.Type().Size()))
}
