package hostval

import (
	"math"
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAsUint64(t *testing.T) {
	tests := []struct {
		in   Value
		want uint64
	}{
		{Number(3), 3},
		{Number(-4), 0xFFFFFFFFFFFFFFFC},
		{Number(2.9), 2},
		{Number(-2.9), 0xFFFFFFFFFFFFFFFE},
		{Number(math.NaN()), 0},
		{BigFromInt64(-1), math.MaxUint64},
		{BigFromUint64(math.MaxUint64), math.MaxUint64},
		{NewBigInt(new(big.Int).Lsh(big.NewInt(1), 64)), 0},
		{Bool(true), 1},
	}
	for _, tt := range tests {
		got, ok := AsUint64(tt.in)
		if !ok || got != tt.want {
			t.Errorf("AsUint64(%s) = %#x, %v; want %#x", tt.in, got, ok, tt.want)
		}
	}
	if _, ok := AsUint64(String("1")); ok {
		t.Error("AsUint64 accepted a string")
	}
}

func TestObjectKeepsOrder(t *testing.T) {
	o := NewObject()
	o.Set("z", Number(1))
	o.Set("a", Number(2))
	o.Set("m", Number(3))
	if diff := cmp.Diff([]string{"z", "a", "m"}, o.Keys()); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
	if v, ok := o.Get("missing"); ok || v.Kind() != KindUndefined {
		t.Errorf("Get(missing) = %v, %v", v, ok)
	}
	if s := o.String(); s != "{z: 1, a: 2, m: 3}" {
		t.Errorf("String() = %q", s)
	}
}

func TestEqualAndToGo(t *testing.T) {
	mk := func() Value {
		o := NewObject()
		o.Set("x", Number(3))
		o.Set("big", BigFromInt64(-7))
		o.Set("list", NewArray(String("a"), Null{}, Bool(true)))
		o.Set("h", NewHandle(0x1000, "Point"))
		return o
	}
	a, b := mk(), mk()
	if !Equal(a, b) {
		t.Fatal("identical objects are not Equal")
	}
	b.(*Object).Set("x", Number(4))
	if Equal(a, b) {
		t.Fatal("different objects are Equal")
	}

	want := map[string]any{
		"x":    3.0,
		"big":  big.NewInt(-7),
		"list": []any{"a", nil, true},
		"h":    Handle{Addr: 0x1000, Tag: "Point"},
	}
	opt := cmp.Comparer(func(x, y *big.Int) bool { return x.Cmp(y) == 0 })
	if diff := cmp.Diff(want, ToGo(a), opt); diff != "" {
		t.Errorf("ToGo (-want +got):\n%s", diff)
	}
}

func TestArraySetGrows(t *testing.T) {
	a := MakeArray(1)
	a.Set(2, Number(5))
	if a.Len() != 3 || a.At(1).Kind() != KindUndefined || a.At(2) != Number(5) {
		t.Fatalf("array = %s", a)
	}
	if a.At(9).Kind() != KindUndefined {
		t.Error("out of range At is not undefined")
	}
}

func TestTypeName(t *testing.T) {
	if got := TypeName(NewHandle(1, "FILE")); got != "handle<FILE>" {
		t.Errorf("TypeName = %q", got)
	}
	if got := TypeName(BigFromInt64(1)); got != "bigint" {
		t.Errorf("TypeName = %q", got)
	}
}
