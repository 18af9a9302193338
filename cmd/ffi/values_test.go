package main

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinyrange/ffi"
	"github.com/tinyrange/ffi/internal/hostval"
)

func TestParseArgs(t *testing.T) {
	args, err := parseArgs(`[1.5, -3, "text", true, null, 0x10, 18446744073709551615, {y: 2, x: 1}, [1, 2], !handle "0x1000:FILE"]`)
	if err != nil {
		t.Fatal(err)
	}
	huge, _ := new(big.Int).SetString("18446744073709551615", 10)
	want := []any{1.5, -3.0, "text", true, nil, 16.0, huge,
		map[string]any{"y": 2.0, "x": 1.0}, []any{1.0, 2.0}, hostval.NewHandle(0x1000, "FILE")}
	got := make([]any, len(args))
	for i, a := range args {
		got[i] = hostval.ToGo(a)
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b *big.Int) bool { return a.Cmp(b) == 0 })); diff != "" {
		t.Fatalf("parseArgs (-want +got):\n%s", diff)
	}

	obj := args[7].(*ffi.Object)
	if diff := cmp.Diff([]string{"y", "x"}, obj.Keys()); diff != "" {
		t.Errorf("mapping order (-want +got):\n%s", diff)
	}
}

func TestParseArgsErrors(t *testing.T) {
	for _, src := range []string{`{a: 1}`, `[1`, `[!handle "nope"]`} {
		if _, err := parseArgs(src); err == nil {
			t.Errorf("parseArgs(%q) succeeded", src)
		}
	}
	if args, err := parseArgs(""); err != nil || len(args) != 0 {
		t.Errorf("empty arguments = %v, %v", args, err)
	}
}

func TestWriteResult(t *testing.T) {
	p := ffi.NewObject()
	p.Set("x", ffi.Number(3))
	p.Set("y", ffi.Number(-4.25))

	var buf bytes.Buffer
	err := writeResult(&buf, []field{
		{"result", ffi.NewHandle(0xbeef, "FILE")},
		{"p", p},
		{"name", ffi.String("42")},
		{"big", ffi.NewBigInt(new(big.Int).Lsh(big.NewInt(1), 60))},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `result: !handle "0xbeef:FILE"
p:
  x: 3
  y: -4.25
name: "42"
big: 1152921504606846976
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("output (-want +got):\n%s", diff)
	}

	// The printed handle parses back to the same value.
	args, err := parseArgs(`[!handle "0xbeef:FILE"]`)
	if err != nil || args[0] != ffi.NewHandle(0xbeef, "FILE") {
		t.Fatalf("handle round trip = %v, %v", args, err)
	}
}
