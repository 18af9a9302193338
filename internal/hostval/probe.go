package hostval

import (
	"math"
	"math/big"
)

func IsNumber(v Value) bool { return v.Kind() == KindNumber }
func IsBigInt(v Value) bool { return v.Kind() == KindBigInt }
func IsString(v Value) bool { return v.Kind() == KindString }
func IsArray(v Value) bool  { return v.Kind() == KindArray }
func IsObject(v Value) bool { return v.Kind() == KindObject }
func IsHandle(v Value) bool { return v.Kind() == KindHandle }

// IsNullish reports whether v is null or undefined.
func IsNullish(v Value) bool {
	k := v.Kind()
	return k == KindNull || k == KindUndefined
}

// IsNumeric reports whether v can fill an integer or floating point slot.
func IsNumeric(v Value) bool {
	k := v.Kind()
	return k == KindNumber || k == KindBigInt
}

// AsUint64 returns the low 64 bits of a numeric value in two's complement.
// Numbers are truncated toward zero first.
func AsUint64(v Value) (uint64, bool) {
	switch n := v.(type) {
	case Number:
		f := float64(n)
		switch {
		case math.IsNaN(f):
			return 0, true
		case f < 0:
			if f < math.MinInt64 {
				return 1 << 63, true
			}
			return uint64(int64(f)), true
		case f >= math.MaxUint64:
			return math.MaxUint64, true
		default:
			return uint64(f), true
		}
	case BigInt:
		return n.low64(), true
	case Bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func AsFloat(v Value) (float64, bool) {
	switch n := v.(type) {
	case Number:
		return float64(n), true
	case BigInt:
		f, _ := new(big.Float).SetInt(n.Int()).Float64()
		return f, true
	}
	return 0, false
}

// Truthy follows the usual loose conversion to boolean for the numeric and
// boolean variants.
func Truthy(v Value) (bool, bool) {
	switch n := v.(type) {
	case Bool:
		return bool(n), true
	case Number:
		return n != 0 && !math.IsNaN(float64(n)), true
	case BigInt:
		return n.v != nil && n.v.Sign() != 0, true
	}
	return false, false
}

// TypeName describes v for error messages.
func TypeName(v Value) string {
	if h, ok := v.(Handle); ok && h.Tag != "" {
		return "handle<" + h.Tag + ">"
	}
	return v.Kind().String()
}

// Equal compares two values structurally. Numbers compare by value, so
// NaN is never equal to itself.
func Equal(a, b Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Undefined, Null:
		return true
	case Bool:
		return x == b.(Bool)
	case Number:
		return x == b.(Number)
	case String:
		return x == b.(String)
	case BigInt:
		return x.Int().Cmp(b.(BigInt).Int()) == 0
	case Handle:
		return x == b.(Handle)
	case *Func:
		return x == b.(*Func)
	case *Array:
		y := b.(*Array)
		if x.Len() != y.Len() {
			return false
		}
		for i := range x.elems {
			if !Equal(x.elems[i], y.elems[i]) {
				return false
			}
		}
		return true
	case *Object:
		y := b.(*Object)
		if x.Len() != y.Len() {
			return false
		}
		for _, k := range x.Keys() {
			xv, _ := x.Get(k)
			yv, ok := y.Get(k)
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// ToGo converts v into plain Go values: nil, bool, float64, *big.Int,
// string, Handle, []any and map[string]any.
func ToGo(v Value) any {
	switch x := v.(type) {
	case Undefined, Null:
		return nil
	case Bool:
		return bool(x)
	case Number:
		return float64(x)
	case BigInt:
		return x.Int()
	case String:
		return string(x)
	case Handle, *Func:
		return x
	case *Array:
		out := make([]any, x.Len())
		for i, e := range x.elems {
			out[i] = ToGo(e)
		}
		return out
	case *Object:
		out := make(map[string]any, x.Len())
		for _, k := range x.Keys() {
			e, _ := x.Get(k)
			out[k] = ToGo(e)
		}
		return out
	}
	return nil
}
