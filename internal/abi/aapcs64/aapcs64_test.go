package aapcs64

import (
	"testing"

	"github.com/tinyrange/ffi/internal/abi"
	"github.com/tinyrange/ffi/internal/ctype"
)

func define(t *testing.T, r *ctype.Registry, name string, types ...string) *ctype.Type {
	t.Helper()
	fields := make([]ctype.Field, len(types))
	for i, typ := range types {
		fields[i] = ctype.Field{Name: string(rune('a' + i)), Type: r.MustResolve(typ)}
	}
	rec, err := r.DefineRecord(name, fields, ctype.RecordOptions{})
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestIsHFA(t *testing.T) {
	r := ctype.NewRegistry(ctype.LP64)
	vec3, err := r.ArrayOf(r.MustResolve("float"), 3)
	if err != nil {
		t.Fatal(err)
	}
	nested := ctype.Field{Name: "v", Type: vec3}
	withVec, err := r.DefineRecord("WithVec", []ctype.Field{nested, {Name: "w", Type: r.MustResolve("float")}}, ctype.RecordOptions{})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		typ *ctype.Type
		n   int
		ok  bool
	}{
		{define(t, r, "D2", "double", "double"), 2, true},
		{vec3, 3, true},
		{withVec, 4, true},
		{define(t, r, "F5", "float", "float", "float", "float", "float"), 0, false},
		{define(t, r, "FD", "float", "double"), 0, false},
		{define(t, r, "FI", "float", "int"), 0, false},
		{r.MustResolve("double"), 0, false},
	}
	for _, tt := range tests {
		n, ok := IsHFA(tt.typ)
		if ok != tt.ok || (ok && n != tt.n) {
			t.Errorf("IsHFA(%s) = %d, %t; want %d, %t", tt.typ, n, ok, tt.n, tt.ok)
		}
	}
}

func TestClassifyFunction(t *testing.T) {
	r := ctype.NewRegistry(ctype.LP64)
	hfa := define(t, r, "Quad", "double", "double", "double", "double")
	small := define(t, r, "Small", "long", "int")
	big := define(t, r, "Big", "long", "long", "long")

	fc, err := classifier{}.ClassifyFunction(big, []*ctype.Type{hfa, hfa, small, big, r.MustResolve("double")})
	if err != nil {
		t.Fatal(err)
	}
	if !fc.Ret.RetStack {
		t.Errorf("24 byte return = %s, want ret-stack", fc.Ret)
	}

	p := fc.Params
	if !p[0].HFA || p[0].VecCount != 4 {
		t.Errorf("first HFA = %s", p[0])
	}
	if !p[1].HFA || p[1].VecCount != 4 || p[1].Stack {
		t.Errorf("second HFA = %s", p[1])
	}
	if p[2].GPRCount != 2 || !p[2].GPRFirst {
		t.Errorf("Small = %s", p[2])
	}
	if !p[3].ByRef || p[3].GPRCount != 1 {
		t.Errorf("Big = %s, want by reference", p[3])
	}
	if !p[4].Stack || !p[4].Float {
		t.Errorf("double after exhausted vector registers = %+v", p[4])
	}
	want := abi.FunctionClass{GPRUsed: 3, VecUsed: 8, StackSlots: 1}
	if fc.GPRUsed != want.GPRUsed || fc.VecUsed != want.VecUsed || fc.StackSlots != want.StackSlots {
		t.Errorf("used gpr=%d vec=%d stack=%d", fc.GPRUsed, fc.VecUsed, fc.StackSlots)
	}

	fc, err = classifier{}.ClassifyFunction(hfa, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !fc.Ret.HFA || fc.Ret.RetStack {
		t.Errorf("HFA return = %s", fc.Ret)
	}
}
