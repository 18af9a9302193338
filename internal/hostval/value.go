// Package hostval is the dynamically typed value model the engine translates
// to and from native memory. It is a closed set of variants; callers switch
// on the concrete type or use the Is/As helpers.
package hostval

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/iancoleman/orderedmap"
)

type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindBigInt
	KindString
	KindArray
	KindObject
	KindHandle
	KindFunc
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindBigInt:
		return "bigint"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindHandle:
		return "handle"
	case KindFunc:
		return "function"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is implemented by every host value variant.
type Value interface {
	Kind() Kind
	String() string
}

type (
	Undefined struct{}
	Null      struct{}
	Bool      bool
	Number    float64
	String    string
)

func (Undefined) Kind() Kind     { return KindUndefined }
func (Undefined) String() string { return "undefined" }

func (Null) Kind() Kind     { return KindNull }
func (Null) String() string { return "null" }

func (Bool) Kind() Kind       { return KindBool }
func (b Bool) String() string { return strconv.FormatBool(bool(b)) }

func (Number) Kind() Kind { return KindNumber }
func (n Number) String() string {
	return strconv.FormatFloat(float64(n), 'g', -1, 64)
}

func (String) Kind() Kind       { return KindString }
func (s String) String() string { return strconv.Quote(string(s)) }

// BigInt is an arbitrary precision integer. The zero value is 0.
type BigInt struct{ v *big.Int }

func NewBigInt(v *big.Int) BigInt { return BigInt{v: new(big.Int).Set(v)} }

func BigFromInt64(v int64) BigInt   { return BigInt{v: big.NewInt(v)} }
func BigFromUint64(v uint64) BigInt { return BigInt{v: new(big.Int).SetUint64(v)} }

func (BigInt) Kind() Kind { return KindBigInt }

// Int returns a copy of the underlying integer.
func (b BigInt) Int() *big.Int {
	if b.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.v)
}

func (b BigInt) String() string { return b.Int().String() + "n" }

// low64 returns the low 64 bits in two's complement.
func (b BigInt) low64() uint64 {
	if b.v == nil {
		return 0
	}
	if b.v.Sign() >= 0 {
		return new(big.Int).And(b.v, maxUint64).Uint64()
	}
	// -x mod 2^64
	m := new(big.Int).Add(maxUint64, big.NewInt(1))
	r := new(big.Int).Mod(b.v, m)
	return r.Uint64()
}

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

// Handle is an opaque native address tagged with the name of the type it
// points to. An empty tag marks an untyped handle. Handles popped from
// native memory carry the canonical type name ("int32_t", not "int"); a
// pointer parameter also accepts any alias its registry resolves to the
// same type.
type Handle struct {
	Addr uintptr
	Tag  string
}

func NewHandle(addr uintptr, tag string) Handle { return Handle{Addr: addr, Tag: tag} }

func (Handle) Kind() Kind { return KindHandle }
func (h Handle) String() string {
	if h.Tag == "" {
		return fmt.Sprintf("handle(0x%x)", h.Addr)
	}
	return fmt.Sprintf("handle<%s>(0x%x)", h.Tag, h.Addr)
}

// Array is an ordered, mutable list of values.
type Array struct{ elems []Value }

func NewArray(elems ...Value) *Array {
	return &Array{elems: append([]Value(nil), elems...)}
}

// MakeArray returns an array of n undefined values.
func MakeArray(n int) *Array {
	a := &Array{elems: make([]Value, n)}
	for i := range a.elems {
		a.elems[i] = Undefined{}
	}
	return a
}

func (*Array) Kind() Kind { return KindArray }
func (a *Array) Len() int { return len(a.elems) }

func (a *Array) At(i int) Value {
	if i < 0 || i >= len(a.elems) {
		return Undefined{}
	}
	return a.elems[i]
}

// Set stores v at i, growing the array with undefined values when needed.
func (a *Array) Set(i int, v Value) {
	for len(a.elems) <= i {
		a.elems = append(a.elems, Undefined{})
	}
	a.elems[i] = v
}

func (a *Array) Append(v Value) { a.elems = append(a.elems, v) }

func (a *Array) String() string {
	parts := make([]string, len(a.elems))
	for i, e := range a.elems {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Object is a string-keyed record that keeps insertion order.
type Object struct{ m *orderedmap.OrderedMap }

func NewObject() *Object { return &Object{m: orderedmap.New()} }

func (*Object) Kind() Kind { return KindObject }

// Get returns the member called name. Missing members read as Undefined
// with ok false.
func (o *Object) Get(name string) (Value, bool) {
	v, ok := o.m.Get(name)
	if !ok {
		return Undefined{}, false
	}
	return v.(Value), true
}

func (o *Object) Set(name string, v Value) { o.m.Set(name, v) }
func (o *Object) Delete(name string)       { o.m.Delete(name) }
func (o *Object) Keys() []string           { return o.m.Keys() }
func (o *Object) Len() int                 { return len(o.m.Keys()) }

func (o *Object) String() string {
	keys := o.m.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		v, _ := o.Get(k)
		parts[i] = k + ": " + v.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Func is a host function that native code calls through a callback type.
// Its arguments arrive already converted to host values.
type Func struct {
	name string
	fn   func(args ...Value) (Value, error)
}

func NewFunc(name string, fn func(args ...Value) (Value, error)) *Func {
	return &Func{name: name, fn: fn}
}

func (*Func) Kind() Kind       { return KindFunc }
func (f *Func) Name() string   { return f.name }
func (f *Func) String() string { return "function " + f.name }

func (f *Func) Call(args ...Value) (Value, error) { return f.fn(args...) }
