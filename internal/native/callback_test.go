//go:build ((darwin || freebsd || linux || netbsd) && (amd64 || arm64)) || windows

package native

import (
	"errors"
	"testing"

	"github.com/tinyrange/ffi/internal/ctype"
)

func TestSignatureKeyIgnoresNames(t *testing.T) {
	r := ctype.NewRegistry(ctype.LP64)
	a, err := r.ParsePrototype("int A(const char *s, double x)")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.ParsePrototype("int B(const char *name, double y)")
	if err != nil {
		t.Fatal(err)
	}
	if signatureKey(a) != signatureKey(b) {
		t.Fatalf("keys differ: %q vs %q", signatureKey(a), signatureKey(b))
	}
	if got := signatureKey(a); got != "int32_t (string, double)" {
		t.Fatalf("key = %q", got)
	}
}

func TestCallbackTypes(t *testing.T) {
	r := ctype.NewRegistry(ctype.LP64)
	rec, err := r.DefineRecord("Point", []ctype.Field{{Name: "x", Type: r.MustResolve("int")}}, ctype.RecordOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"int8_t", "uint64_t", "bool", "string", "void *"} {
		rt, err := callbackType(r.MustResolve(name))
		if err != nil || rt.Size() != 8 {
			t.Errorf("callbackType(%s) = %v, %v", name, rt, err)
		}
	}
	if _, err := callbackType(rec); err == nil {
		t.Error("records by value crossed a callback")
	}

	tr := NewTrampolines()
	sig := &ctype.Prototype{Name: "ByValue", Ret: r.MustResolve("void"), Params: []ctype.Param{{Type: rec}}}
	if _, _, err := tr.Acquire(sig, func([][]byte, []byte) {}); err == nil {
		t.Error("Acquire accepted a by-value record parameter")
	} else if errors.Is(err, ErrTrampolines) {
		t.Errorf("unexpected error kind: %v", err)
	}
}
