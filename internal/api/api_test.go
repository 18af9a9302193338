package api

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"

	"github.com/tinyrange/ffi/internal/abi"
	"github.com/tinyrange/ffi/internal/ctype"
	"github.com/tinyrange/ffi/internal/decl"
	"github.com/tinyrange/ffi/internal/hostval"
	"github.com/tinyrange/ffi/internal/marshal"
	"github.com/tinyrange/ffi/internal/native"
)

type testOption struct{ invoker native.Invoker }

func (*testOption) IsOption()                         {}
func (o *testOption) Invoker() native.Invoker         { return o.invoker }
func (*testOption) CallingConvention() abi.Convention { return abi.ConventionSysV }

type dumpOption struct{ w *bytes.Buffer }

func (*dumpOption) IsOption()              {}
func (o *dumpOption) DebugDump() io.Writer { return o.w }

type stackOption struct{ n int }

func (*stackOption) IsOption()        {}
func (o *stackOption) StackSize() int { return o.n }

type reserveOption struct{ n int }

func (*reserveOption) IsOption()      {}
func (o *reserveOption) Reserve() int { return o.n }

func newTestEngine(t *testing.T, inv native.InvokerFunc, opts ...Option) (*Engine, *Session) {
	t.Helper()
	e, err := New(append([]Option{&testOption{invoker: inv}}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s, err := e.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return e, s
}

func mustFunc(t *testing.T, e *Engine, proto string) *FunctionDescriptor {
	t.Helper()
	fn, err := e.NewFunction(proto, 0x1000)
	if err != nil {
		t.Fatalf("NewFunction(%q): %v", proto, err)
	}
	return fn
}

func definePoint(t *testing.T, e *Engine) *ctype.Type {
	t.Helper()
	r := e.Registry()
	point, err := r.DefineRecord("Point", []ctype.Field{
		{Name: "x", Type: r.MustResolve("int")},
		{Name: "y", Type: r.MustResolve("int")},
	}, ctype.RecordOptions{})
	if err != nil {
		t.Fatal(err)
	}
	return point
}

func int32At(b []byte) int32     { return int32(binary.LittleEndian.Uint32(b)) }
func putInt32(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) }

func memoryAt(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

func TestCallScalars(t *testing.T) {
	e, s := newTestEngine(t, func(c *native.Call) error {
		putInt32(c.Ret.Slot, int32At(c.Params[0].Slot)+int32At(c.Params[1].Slot))
		return nil
	})
	add := mustFunc(t, e, "int add(int a, int b)")
	if add.ScratchSize != 48 {
		t.Errorf("ScratchSize = %d, want 48", add.ScratchSize)
	}
	if add.Class.GPRUsed != 2 {
		t.Errorf("GPRUsed = %d", add.Class.GPRUsed)
	}

	v, err := s.Call(add, hostval.Number(40), hostval.Number(2))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v != hostval.Number(42) {
		t.Fatalf("add(40, 2) = %v", v)
	}
	if s.Arena().Used() != 0 || s.Arena().Depth() != 0 {
		t.Fatalf("arena left at %d bytes, depth %d", s.Arena().Used(), s.Arena().Depth())
	}
}

func TestCallRecordByValue(t *testing.T) {
	e, s := newTestEngine(t, func(c *native.Call) error {
		in := c.Params[0].Slot
		copy(c.Ret.Slot[0:4], in[4:8])
		copy(c.Ret.Slot[4:8], in[0:4])
		return nil
	})
	definePoint(t, e)
	swap := mustFunc(t, e, "Point swap(Point p)")

	p := hostval.NewObject()
	p.Set("x", hostval.Number(3))
	p.Set("y", hostval.Number(-4))
	v, err := s.Call(swap, p)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"x": -4.0, "y": 3.0}
	if diff := cmp.Diff(want, hostval.ToGo(v)); diff != "" {
		t.Fatalf("swap (-want +got):\n%s", diff)
	}
}

func TestCallStringArgument(t *testing.T) {
	var seen string
	e, s := newTestEngine(t, func(c *native.Call) error {
		addr := uintptr(binary.LittleEndian.Uint64(c.Params[0].Slot))
		seen = string(marshal.NativeMemory.CString(addr))
		binary.LittleEndian.PutUint64(c.Ret.Slot, uint64(len(seen)))
		return nil
	})
	strlen := mustFunc(t, e, "size_t strlen(const char *s)")

	v, err := s.Call(strlen, hostval.String("héllo"))
	if err != nil {
		t.Fatal(err)
	}
	if seen != "héllo" || !hostval.Equal(v, hostval.BigFromInt64(6)) {
		t.Fatalf("strlen saw %q and returned %v", seen, v)
	}
}

func TestOutAndInOutParameters(t *testing.T) {
	e, s := newTestEngine(t, func(c *native.Call) error {
		for _, p := range c.Params {
			addr := uintptr(binary.LittleEndian.Uint64(p.Slot))
			if addr == 0 {
				continue
			}
			mem := memoryAt(addr, 8)
			putInt32(mem[0:4], int32At(mem[0:4])+10)
			putInt32(mem[4:8], int32At(mem[4:8])+20)
		}
		return nil
	})
	definePoint(t, e)
	move := mustFunc(t, e, "void move(_Out_ Point *fresh, _Inout_ Point *p)")
	if move.ScratchSize != 64 {
		t.Errorf("ScratchSize = %d, want 64", move.ScratchSize)
	}

	fresh := hostval.NewObject()
	p := hostval.NewObject()
	p.Set("x", hostval.Number(1))
	p.Set("y", hostval.Number(2))
	v, err := s.Call(move, fresh, p)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(hostval.Undefined); !ok {
		t.Errorf("void call returned %v", v)
	}
	if diff := cmp.Diff(map[string]any{"x": 10.0, "y": 20.0}, hostval.ToGo(fresh)); diff != "" {
		t.Errorf("out (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]any{"x": 11.0, "y": 22.0}, hostval.ToGo(p)); diff != "" {
		t.Errorf("inout (-want +got):\n%s", diff)
	}

	if _, err := s.Call(move, hostval.Null{}, hostval.Undefined{}); err != nil {
		t.Errorf("null out pointers: %v", err)
	}
	_, err = s.Call(move, hostval.Number(1), p)
	if !errors.Is(err, marshal.ErrTypeMismatch) {
		t.Errorf("number as out record: %v", err)
	}
}

func TestNestedCallsAreLIFO(t *testing.T) {
	var (
		s            *Session
		inner, outer *FunctionDescriptor
		nestedErr    error
	)
	e, s := newTestEngine(t, func(c *native.Call) error {
		x := int32At(c.Params[0].Slot)
		if c.Name == "inner" {
			putInt32(c.Ret.Slot, x*2)
			return nil
		}

		used := s.Arena().Used()
		depth := s.Arena().Depth()

		// A failing nested call must leave nothing behind either.
		if _, err := s.Call(inner, hostval.String("bad")); err == nil {
			nestedErr = errors.New("nested call with a string argument succeeded")
		}
		v, err := s.Call(inner, hostval.Number(float64(x)))
		if err != nil {
			return err
		}
		if s.Arena().Used() != used || s.Arena().Depth() != depth {
			nestedErr = errors.New("nested call did not restore the arena")
		}
		if int32At(c.Params[0].Slot) != x {
			nestedErr = errors.New("nested call clobbered the outer argument")
		}
		putInt32(c.Ret.Slot, int32(v.(hostval.Number))+1)
		return nil
	})
	inner = mustFunc(t, e, "int inner(int x)")
	outer = mustFunc(t, e, "int outer(int x)")

	v, err := s.Call(outer, hostval.Number(20))
	if err != nil {
		t.Fatal(err)
	}
	if nestedErr != nil {
		t.Fatal(nestedErr)
	}
	if v != hostval.Number(41) {
		t.Fatalf("outer(20) = %v", v)
	}
	if s.Arena().Used() != 0 || s.Arena().Depth() != 0 {
		t.Fatalf("arena left at %d bytes, depth %d", s.Arena().Used(), s.Arena().Depth())
	}
}

func TestFailedCallLeavesNoResidue(t *testing.T) {
	invoked := false
	e, s := newTestEngine(t, func(c *native.Call) error {
		invoked = true
		return nil
	})
	definePoint(t, e)
	fn := mustFunc(t, e, "int draw(const char *label, Point *p)")

	p := hostval.NewObject()
	p.Set("x", hostval.Number(1))
	_, err := s.Call(fn, hostval.String(strings.Repeat("x", 100)), p)
	if !errors.Is(err, marshal.ErrMissingField) {
		t.Fatalf("err = %v, want missing field", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Op != "call" || apiErr.Path != "draw" {
		t.Fatalf("err = %#v", err)
	}
	if !strings.Contains(err.Error(), `param 2: missing expected member "y"`) {
		t.Errorf("message = %q", err)
	}
	if invoked {
		t.Error("native function invoked after a marshaling failure")
	}
	if s.Arena().Used() != 0 || s.Arena().BigBlocks() != 0 || s.Arena().Depth() != 0 {
		t.Fatalf("arena residue: %d bytes, %d big blocks, depth %d",
			s.Arena().Used(), s.Arena().BigBlocks(), s.Arena().Depth())
	}
}

func TestInvokerErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	e, s := newTestEngine(t, func(*native.Call) error { return boom })
	fn := mustFunc(t, e, "void f(void)")
	_, err := s.Call(fn)
	if !errors.Is(err, boom) || err.Error() != "call f: boom" {
		t.Fatalf("err = %v", err)
	}
}

func TestArgumentCountAndRelease(t *testing.T) {
	e, s := newTestEngine(t, func(*native.Call) error { return nil })
	fn := mustFunc(t, e, "int f(int a)")
	if _, err := s.Call(fn); !errors.Is(err, ErrArgumentCount) {
		t.Errorf("err = %v, want ErrArgumentCount", err)
	}
	if err := fn.Release(); err != nil {
		t.Fatal(err)
	}
	if err := fn.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := s.Call(fn, hostval.Number(1)); !errors.Is(err, ErrReleased) {
		t.Errorf("err = %v, want ErrReleased", err)
	}
}

func TestLargeCallUsesTemporaryArena(t *testing.T) {
	var (
		s       *Session
		pooled  bool
		tmpSlot uintptr
	)
	e, s := newTestEngine(t, func(c *native.Call) error {
		tmpSlot = uintptr(unsafe.Pointer(&c.Params[0].Slot[0]))
		pooled = s.Arena().Contains(tmpSlot)
		putInt32(c.Ret.Slot, int32At(c.Params[0].Slot[3996:]))
		return nil
	}, &stackOption{n: 4096}, &reserveOption{n: 1024})

	r := e.Registry()
	arr, err := r.ArrayOf(r.MustResolve("int"), 1000)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.DefineRecord("Big", []ctype.Field{{Name: "v", Type: arr}}, ctype.RecordOptions{}); err != nil {
		t.Fatal(err)
	}
	fn := mustFunc(t, e, "int last(Big b)")

	values := hostval.MakeArray(1000)
	for i := range 1000 {
		values.Set(i, hostval.Number(float64(i)))
	}
	big := hostval.NewObject()
	big.Set("v", values)

	v, err := s.Call(fn, big)
	if err != nil {
		t.Fatal(err)
	}
	if v != hostval.Number(999) {
		t.Fatalf("last = %v", v)
	}
	if pooled {
		t.Error("oversized call was marshaled into the pooled arena")
	}
	if s.Arena().Depth() != 0 {
		t.Errorf("pooled arena depth = %d", s.Arena().Depth())
	}
}

func TestDebugDump(t *testing.T) {
	var buf bytes.Buffer
	e, s := newTestEngine(t, func(c *native.Call) error {
		putInt32(c.Ret.Slot, 7)
		return nil
	}, &dumpOption{w: &buf})
	fn := mustFunc(t, e, "int seven(int x)")
	if _, err := s.Call(fn, hostval.Number(258)); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{
		"== call int32_t seven(int32_t x) (pooled arena, depth 1)",
		"== param 1 (int32_t, reg(gpr=1",
		"02 01 00 00",
		"== return int32_t seven(int32_t x)",
		"07 00 00 00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}

func TestSessionClose(t *testing.T) {
	e, err := New(&testOption{invoker: native.InvokerFunc(func(*native.Call) error { return nil })})
	if err != nil {
		t.Fatal(err)
	}
	s, err := e.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close = %v", err)
	}
	fn := mustFunc(t, e, "void f(void)")
	if _, err := s.Call(fn); !errors.Is(err, ErrClosed) {
		t.Fatalf("call on closed session = %v", err)
	}
}

func TestDeclareTypes(t *testing.T) {
	e, s := newTestEngine(t, func(c *native.Call) error {
		mem := c.Params[0].Slot
		putInt32(c.Ret.Slot, int32At(mem)+int32At(mem[4:]))
		return nil
	})
	f, err := decl.Parse([]byte(`
convention: sysv
types:
  - name: Point
    record:
      - {name: x, type: int}
      - {name: y, type: int}
`))
	if err != nil {
		t.Fatal(err)
	}
	funcs, err := e.Declare(f)
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if len(funcs) != 0 {
		t.Fatalf("funcs = %v", funcs)
	}

	fn := mustFunc(t, e, "int sum(Point p)")
	p := hostval.NewObject()
	p.Set("x", hostval.Number(3))
	p.Set("y", hostval.Number(-4))
	if v, err := s.Call(fn, p); err != nil || v != hostval.Number(-1) {
		t.Fatalf("sum = %v, %v", v, err)
	}

	if _, err := e.Declare(f); err != nil {
		t.Fatalf("declaring the same types again: %v", err)
	}

	f.Convention = "win64"
	if _, err := e.Declare(f); !errors.Is(err, ErrConvention) {
		t.Fatalf("Declare with another convention = %v", err)
	}
}

func TestFunctionString(t *testing.T) {
	e, _ := newTestEngine(t, func(*native.Call) error { return nil })
	definePoint(t, e)
	fn := mustFunc(t, e, "double dist(_In_ const Point *a, _Inout_ Point *b)")
	if got := fn.String(); got != "double dist(Point * a, _Inout_ Point * b)" {
		t.Fatalf("String = %q", got)
	}
}

func TestArrayParameters(t *testing.T) {
	e, s := newTestEngine(t, func(c *native.Call) error {
		switch c.Name {
		case "sum":
			values := memoryAt(uintptr(binary.LittleEndian.Uint64(c.Params[0].Slot)), 16)
			var total int32
			for i := range int(int32At(c.Params[1].Slot)) {
				total += int32At(values[4*i:])
			}
			putInt32(c.Ret.Slot, total)
		case "fill":
			mem := memoryAt(uintptr(binary.LittleEndian.Uint64(c.Params[0].Slot)), 12)
			for i := range 3 {
				putInt32(mem[4*i:], int32At(mem[4*i:])+int32(i+1))
			}
		}
		return nil
	})

	sum := mustFunc(t, e, "int sum(const int values[4], int n)")
	if p := sum.Params[0]; p.Type.Kind != ctype.Pointer || p.Class.GPRCount != 1 || p.Class.Stack {
		t.Fatalf("values = %s, class %s", p.Type.Name, p.Class)
	}
	v, err := s.Call(sum, hostval.NewArray(hostval.Number(1), hostval.Number(2), hostval.Number(3)), hostval.Number(3))
	if err != nil || v != hostval.Number(6) {
		t.Fatalf("sum = %v, %v", v, err)
	}

	fill := mustFunc(t, e, "void fill(_Out_ int out[3])")
	out := hostval.MakeArray(3)
	if _, err := s.Call(fill, out); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{1.0, 2.0, 3.0}, hostval.ToGo(out)); diff != "" {
		t.Errorf("out array (-want +got):\n%s", diff)
	}

	bump := mustFunc(t, e, "void fill(_Inout_ int *values)")
	values := hostval.NewArray(hostval.Number(10), hostval.Number(20), hostval.Number(30))
	if _, err := s.Call(bump, values); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{11.0, 22.0, 33.0}, hostval.ToGo(values)); diff != "" {
		t.Errorf("inout array (-want +got):\n%s", diff)
	}

	if _, err := s.Call(fill, hostval.NewObject()); !errors.Is(err, marshal.ErrTypeMismatch) {
		t.Errorf("object as out array: %v", err)
	}
	if _, err := s.Call(sum, hostval.NewHandle(0x2000, "int"), hostval.Number(0)); err != nil {
		t.Errorf("handle tagged with an alias: %v", err)
	}
	if s.Arena().Used() != 0 {
		t.Errorf("arena left at %d bytes", s.Arena().Used())
	}
}

func TestRealign(t *testing.T) {
	var seen []byte
	e, s := newTestEngine(t, func(c *native.Call) error {
		mem := memoryAt(uintptr(binary.LittleEndian.Uint64(c.Params[0].Slot)), 8)
		seen = append(seen[:0], mem...)
		mem[4] = 9
		c.Ret.Slot[0] = mem[0]
		return nil
	})
	r := e.Registry()
	if _, err := r.DefineRecord("Pair", []ctype.Field{
		{Name: "a", Type: r.MustResolve("int8_t")},
		{Name: "b", Type: r.MustResolve("int8_t")},
	}, ctype.RecordOptions{}); err != nil {
		t.Fatal(err)
	}

	fn, err := e.NewFunction("int8_t first(_Inout_ Pair *p)", 0x1000, realignOption(4))
	if err != nil {
		t.Fatal(err)
	}
	if fn.Realign != 4 {
		t.Errorf("Realign = %d, want 4", fn.Realign)
	}
	p := hostval.NewObject()
	p.Set("a", hostval.Number(1))
	p.Set("b", hostval.Number(2))
	v, err := s.Call(fn, p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(seen, []byte{1, 0, 0, 0, 2, 0, 0, 0}) {
		t.Errorf("callee saw % x, want members 4 bytes apart", seen)
	}
	if v != hostval.Number(1) {
		t.Errorf("first = %v", v)
	}
	if diff := cmp.Diff(map[string]any{"a": 1.0, "b": 9.0}, hostval.ToGo(p)); diff != "" {
		t.Errorf("inout (-want +got):\n%s", diff)
	}

	for _, tt := range []struct {
		proto   string
		realign int
	}{
		{"int8_t byValue(Pair p)", 4},
		{"Pair make(int a)", 2},
		{"int8_t first(_Inout_ Pair *p)", 3},
		{"int8_t first(_Inout_ Pair *p)", 32},
	} {
		if _, err := e.NewFunction(tt.proto, 0x1000, realignOption(tt.realign)); !errors.Is(err, ErrRealign) {
			t.Errorf("%s with realign %d: %v", tt.proto, tt.realign, err)
		}
	}
	if _, err := e.NewFunction("int add(int a, int b)", 0x1000, realignOption(8)); err != nil {
		t.Errorf("scalars with realign 8: %v", err)
	}
}

type fakeTrampolines struct {
	fns      map[uintptr]native.CallbackFunc
	next     uintptr
	released int
}

func (f *fakeTrampolines) Acquire(sig *ctype.Prototype, fn native.CallbackFunc) (uintptr, func(), error) {
	f.next += 0x10
	addr := 0xc000 + f.next
	f.fns[addr] = fn
	return addr, func() {
		delete(f.fns, addr)
		f.released++
	}, nil
}

type trampolinesOption struct{ t native.Trampolines }

func (*trampolinesOption) IsOption()                         {}
func (o *trampolinesOption) Trampolines() native.Trampolines { return o.t }

func TestCallbacks(t *testing.T) {
	tr := &fakeTrampolines{fns: make(map[uintptr]native.CallbackFunc)}
	e, s := newTestEngine(t, func(c *native.Call) error {
		cb := tr.fns[uintptr(binary.LittleEndian.Uint64(c.Params[0].Slot))]
		if cb == nil {
			return errors.New("unknown function pointer")
		}
		var total int32
		for i, name := range []string{"a", "b"} {
			text := append([]byte(name), 0)
			nameSlot := make([]byte, 8)
			binary.LittleEndian.PutUint64(nameSlot, uint64(uintptr(unsafe.Pointer(&text[0]))))
			valueSlot := make([]byte, 4)
			putInt32(valueSlot, int32(i+1))
			ret := make([]byte, 8)
			cb([][]byte{nameSlot, valueSlot}, ret)
			runtime.KeepAlive(text)
			total += int32At(ret)
		}
		putInt32(c.Ret.Slot, total)
		return nil
	}, &trampolinesOption{t: tr})

	visit, err := e.Callback("int Visit(const char *name, int value)")
	if err != nil {
		t.Fatal(err)
	}
	each := mustFunc(t, e, "int each(Visit *cb)")
	if each.Params[0].Type != visit {
		t.Fatalf("param type = %s", each.Params[0].Type)
	}

	var names []string
	fn := hostval.NewFunc("visit", func(args ...hostval.Value) (hostval.Value, error) {
		names = append(names, string(args[0].(hostval.String)))
		n, _ := hostval.AsFloat(args[1])
		return hostval.Number(n * 10), nil
	})
	v, err := s.Call(each, fn)
	if err != nil {
		t.Fatal(err)
	}
	if v != hostval.Number(30) {
		t.Errorf("each = %v, want 30", v)
	}
	if diff := cmp.Diff([]string{"a", "b"}, names); diff != "" {
		t.Errorf("callback arguments (-want +got):\n%s", diff)
	}
	if tr.released != 1 || len(tr.fns) != 0 {
		t.Errorf("released %d trampolines, %d still bound", tr.released, len(tr.fns))
	}

	boom := errors.New("boom")
	calls := 0
	failing := hostval.NewFunc("failing", func(args ...hostval.Value) (hostval.Value, error) {
		calls++
		return nil, boom
	})
	if _, err := s.Call(each, failing); !errors.Is(err, boom) {
		t.Errorf("failing callback error = %v", err)
	}
	if calls != 1 {
		t.Errorf("callback ran %d times after failing", calls)
	}

	wrong := hostval.NewFunc("wrong", func(args ...hostval.Value) (hostval.Value, error) {
		return hostval.String("nope"), nil
	})
	if _, err := s.Call(each, wrong); !errors.Is(err, marshal.ErrTypeMismatch) {
		t.Errorf("callback returning a string error = %v", err)
	}
	if s.Arena().Used() != 0 || s.Arena().Depth() != 0 {
		t.Errorf("arena left at %d bytes, depth %d", s.Arena().Used(), s.Arena().Depth())
	}
}

func TestCallbackNestedCall(t *testing.T) {
	tr := &fakeTrampolines{fns: make(map[uintptr]native.CallbackFunc)}
	e, s := newTestEngine(t, func(c *native.Call) error {
		switch c.Name {
		case "twice":
			cb := tr.fns[uintptr(binary.LittleEndian.Uint64(c.Params[0].Slot))]
			ret := make([]byte, 8)
			cb([][]byte{c.Params[1].Slot}, ret)
			putInt32(c.Ret.Slot, int32At(ret))
		case "add":
			putInt32(c.Ret.Slot, int32At(c.Params[0].Slot)+int32At(c.Params[1].Slot))
		}
		return nil
	}, &trampolinesOption{t: tr})

	if _, err := e.Callback("int Step(int x)"); err != nil {
		t.Fatal(err)
	}
	twice := mustFunc(t, e, "int twice(Step cb, int x)")
	add := mustFunc(t, e, "int add(int a, int b)")

	step := hostval.NewFunc("step", func(args ...hostval.Value) (hostval.Value, error) {
		return s.Call(add, args[0], args[0])
	})
	v, err := s.Call(twice, step, hostval.Number(21))
	if err != nil || v != hostval.Number(42) {
		t.Fatalf("twice = %v, %v", v, err)
	}
	if s.Arena().Used() != 0 || s.Arena().Depth() != 0 {
		t.Errorf("arena left at %d bytes, depth %d", s.Arena().Used(), s.Arena().Depth())
	}
}

func TestDecode(t *testing.T) {
	e, s := newTestEngine(t, func(*native.Call) error { return nil })
	point := definePoint(t, e)

	mem := []int32{7, -8}
	v, err := s.Decode(hostval.NewHandle(uintptr(unsafe.Pointer(&mem[0])), "Point"), point)
	runtime.KeepAlive(mem)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"x": 7.0, "y": -8.0}, hostval.ToGo(v)); diff != "" {
		t.Errorf("Decode (-want +got):\n%s", diff)
	}
	if _, err := s.Decode(hostval.NewHandle(0, "Point"), point); !errors.Is(err, ErrNullPointer) {
		t.Errorf("null handle error = %v", err)
	}
	if _, err := s.Decode(hostval.NewHandle(0x1000, ""), e.Registry().MustResolve("void")); !errors.Is(err, ctype.ErrInvalidType) {
		t.Errorf("void decode error = %v", err)
	}
}
