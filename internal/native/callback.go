//go:build ((darwin || freebsd || linux || netbsd) && (amd64 || arm64)) || windows

package native

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/purego"

	"github.com/tinyrange/ffi/internal/ctype"
)

// MaxTrampolines is how many host functions of one callback signature can be
// bound at the same time. purego never frees a callback, so every slot is
// created once and rebound on each use.
const MaxTrampolines = 16

// PuregoTrampolines builds native function pointers with purego.NewCallback.
// Integer, boolean and address values cross as register words; floats keep
// their type so they are read from vector registers.
type PuregoTrampolines struct {
	mu    sync.Mutex
	pools map[string][]*trampoline
}

type trampoline struct {
	addr uintptr
	busy bool
	fn   atomic.Pointer[CallbackFunc]
}

func NewTrampolines() Trampolines {
	return &PuregoTrampolines{pools: make(map[string][]*trampoline)}
}

func (p *PuregoTrampolines) Acquire(sig *ctype.Prototype, fn CallbackFunc) (uintptr, func(), error) {
	key := signatureKey(sig)

	p.mu.Lock()
	defer p.mu.Unlock()
	pool := p.pools[key]
	for _, t := range pool {
		if !t.busy {
			return p.bind(t, fn), p.releaser(t), nil
		}
	}
	if len(pool) >= MaxTrampolines {
		return 0, nil, fmt.Errorf("%w for %s: %d in use", ErrTrampolines, key, len(pool))
	}
	t, err := newTrampoline(sig)
	if err != nil {
		return 0, nil, err
	}
	p.pools[key] = append(pool, t)
	return p.bind(t, fn), p.releaser(t), nil
}

func (p *PuregoTrampolines) bind(t *trampoline, fn CallbackFunc) uintptr {
	t.busy = true
	t.fn.Store(&fn)
	return t.addr
}

func (p *PuregoTrampolines) releaser(t *trampoline) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			t.fn.Store(nil)
			t.busy = false
		})
	}
}

// signatureKey names the types of sig, ignoring parameter names.
func signatureKey(sig *ctype.Prototype) string {
	var sb strings.Builder
	sb.WriteString(sig.Ret.Name)
	sb.WriteString(" (")
	for i, p := range sig.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Type.Name)
	}
	sb.WriteString(")")
	return sb.String()
}

func newTrampoline(sig *ctype.Prototype) (t *trampoline, err error) {
	in := make([]reflect.Type, len(sig.Params))
	for i, p := range sig.Params {
		if in[i], err = callbackType(p.Type); err != nil {
			return nil, fmt.Errorf("native: callback %s: parameter %d: %w", sig.Name, i+1, err)
		}
	}
	var out []reflect.Type
	if sig.Ret.Kind != ctype.Void {
		rt, err := callbackType(sig.Ret)
		if err != nil {
			return nil, fmt.Errorf("native: callback %s: return value: %w", sig.Name, err)
		}
		out = []reflect.Type{rt}
	}

	t = &trampoline{}
	handler := reflect.MakeFunc(reflect.FuncOf(in, out, false), func(args []reflect.Value) []reflect.Value {
		slots := make([][]byte, len(args))
		for i, a := range args {
			slots[i] = make([]byte, max(sig.Params[i].Type.Size, int(a.Type().Size())))
			toSlot(a, slots[i])
			slots[i] = slots[i][:sig.Params[i].Type.Size]
		}
		var ret []byte
		if len(out) == 1 {
			ret = make([]byte, max(sig.Ret.Size, int(out[0].Size())))
		}
		if fn := t.fn.Load(); fn != nil {
			(*fn)(slots, ret)
		}
		if len(out) == 0 {
			return nil
		}
		return []reflect.Value{fromSlot(out[0], ret)}
	})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("native: callback %s: %v", sig.Name, r)
		}
	}()
	t.addr = purego.NewCallback(handler.Interface())
	return t, nil
}

// callbackType maps a callback parameter or result to the Go type purego
// hands over.
func callbackType(t *ctype.Type) (reflect.Type, error) {
	switch k := t.Kind; {
	case k.IsFloat():
		if runtime.GOOS == "windows" {
			return nil, fmt.Errorf("%s: %w: floating point callback values", t.Name, ErrUnsupported)
		}
		return goType(t)
	case k == ctype.Bool || k.IsInteger() || k.IsAddress():
		return reflect.TypeFor[uintptr](), nil
	}
	return nil, fmt.Errorf("%s: %s values cannot cross a callback", t.Name, t.Kind)
}
