package ffi_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/tinyrange/ffi"
)

func TestLibcThroughEngine(t *testing.T) {
	e, err := ffi.New()
	if err != nil {
		t.Skipf("no calling convention for this platform: %v", err)
	}
	lib, err := e.Open("libc.so.6")
	if err != nil {
		t.Skipf("libc not available: %v", err)
	}
	abs, err := lib.Func("long labs(long x)")
	if err != nil {
		t.Fatal(err)
	}
	strlen, err := lib.Func("size_t strlen(const char *s)")
	if err != nil {
		t.Fatal(err)
	}
	if err := lib.Close(); err != nil {
		t.Fatal(err)
	}
	if lib.Refs() != 2 {
		t.Fatalf("refs = %d, want 2 (one per function)", lib.Refs())
	}

	s, err := e.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if v, err := s.Call(abs, ffi.Number(-42)); err != nil || !ffi.Equal(v, ffi.NewBigInt(big.NewInt(42))) {
		t.Fatalf("labs(-42) = %v, %v", v, err)
	}
	if v, err := s.Call(strlen, ffi.String("hello, world")); err != nil || !ffi.Equal(v, ffi.NewBigInt(big.NewInt(12))) {
		t.Fatalf("strlen = %v, %v", v, err)
	}

	if err := abs.Release(); err != nil {
		t.Fatal(err)
	}
	if err := strlen.Release(); err != nil {
		t.Fatal(err)
	}
	if lib.Refs() != 0 {
		t.Fatalf("refs after release = %d", lib.Refs())
	}
	if err := lib.Close(); err == nil {
		t.Fatal("second Close succeeded")
	}
}

func TestQsortWithHostComparator(t *testing.T) {
	e, err := ffi.New()
	if err != nil {
		t.Skipf("no calling convention for this platform: %v", err)
	}
	lib, err := e.Open("libc.so.6")
	if err != nil {
		t.Skipf("libc not available: %v", err)
	}
	defer lib.Close()

	if _, err := e.Callback("int Compare(const int *a, const int *b)"); err != nil {
		t.Fatal(err)
	}
	qsort, err := lib.Func("void qsort(_Inout_ int *base, size_t n, size_t size, Compare *cmp)")
	if err != nil {
		t.Fatal(err)
	}
	defer qsort.Release()

	s, err := e.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	elem := e.Registry().MustResolve("int")
	cmp := ffi.NewFunc("cmp", func(args ...ffi.Value) (ffi.Value, error) {
		a, err := s.Decode(args[0].(ffi.Handle), elem)
		if err != nil {
			return nil, err
		}
		b, err := s.Decode(args[1].(ffi.Handle), elem)
		if err != nil {
			return nil, err
		}
		return a.(ffi.Number) - b.(ffi.Number), nil
	})

	values := ffi.NewArray(ffi.Number(5), ffi.Number(-3), ffi.Number(12), ffi.Number(0), ffi.Number(7))
	_, err = s.Call(qsort, values, ffi.Number(values.Len()), ffi.Number(4), cmp)
	if errors.Is(err, ffi.ErrUnsupported) || errors.Is(err, ffi.ErrTrampolines) {
		t.Skipf("callbacks not available: %v", err)
	}
	if err != nil {
		t.Fatal(err)
	}
	want := []ffi.Number{-3, 0, 5, 7, 12}
	for i, w := range want {
		if values.At(i) != w {
			t.Fatalf("sorted[%d] = %v, want %v (%v)", i, values.At(i), w, values)
		}
	}
}
