package api

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/ffi/internal/abi"
	"github.com/tinyrange/ffi/internal/abi/factory"
	"github.com/tinyrange/ffi/internal/ctype"
	"github.com/tinyrange/ffi/internal/decl"
	"github.com/tinyrange/ffi/internal/native"
)

// Engine ties together a type registry, a calling convention and an
// invoker. Functions are resolved through an Engine and called through one
// of its Sessions.
type Engine struct {
	cfg        engineConfig
	log        *slog.Logger
	reg        *ctype.Registry
	classifier abi.Classifier

	mu   sync.Mutex
	libs map[string]*Library
}

// New creates an Engine. Without a convention option it classifies for
// the running platform.
func New(opts ...Option) (*Engine, error) {
	cfg := parseEngineOptions(opts)

	classifier, err := factory.Classifier(cfg.convention)
	if err != nil {
		return nil, &Error{Op: "new", Err: err}
	}

	return &Engine{
		cfg:        cfg,
		log:        cfg.logger,
		reg:        ctype.NewRegistry(classifier.DataModel()),
		classifier: classifier,
		libs:       make(map[string]*Library),
	}, nil
}

// Registry returns the engine's type registry. Types must be registered
// before functions using them are resolved.
func (e *Engine) Registry() *ctype.Registry { return e.reg }

func (e *Engine) Convention() abi.Convention { return e.classifier.Convention() }

// Library is a shared library opened through an Engine. It is reference
// counted: Open and every function resolved from it hold a reference, and
// the library is unloaded when the last one is released.
type Library struct {
	engine *Engine
	path   string
	handle native.Handle

	mu    sync.Mutex
	refs  int
	opens int // references held by Open
}

// Open loads the library at path, or returns the already loaded one.
func (e *Engine) Open(path string) (*Library, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lib, ok := e.libs[path]; ok {
		lib.mu.Lock()
		lib.refs++
		lib.opens++
		lib.mu.Unlock()
		return lib, nil
	}

	h, err := native.Open(path)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}
	lib := &Library{engine: e, path: path, handle: h, refs: 1, opens: 1}
	e.libs[path] = lib
	e.log.Debug("library loaded", "path", path)
	return lib, nil
}

func (l *Library) Path() string { return l.path }

// Refs returns the number of live references to the library.
func (l *Library) Refs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs
}

// Func resolves a function from its C prototype, for example
// "int atoi(const char *s)". The returned descriptor holds a reference to
// the library until it is released. Options with a Realign method set
// the call's alignment floor.
func (l *Library) Func(prototype string, opts ...Option) (*FunctionDescriptor, error) {
	proto, err := l.engine.reg.ParsePrototype(prototype)
	if err != nil {
		return nil, &Error{Op: "func", Path: l.path, Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs == 0 {
		return nil, &Error{Op: "func", Path: proto.Name, Err: ErrClosed}
	}

	addr, err := native.Symbol(l.handle, proto.Name)
	if err != nil {
		return nil, &Error{Op: "func", Path: proto.Name, Err: err}
	}
	fn, err := l.engine.describe(proto, addr, parseFuncOptions(opts))
	if err != nil {
		return nil, err
	}
	fn.Library = l
	l.refs++
	return fn, nil
}

// Close releases one reference taken by Open. Functions resolved from the
// library keep it loaded until they are released.
func (l *Library) Close() error {
	l.mu.Lock()
	if l.opens == 0 {
		l.mu.Unlock()
		return &Error{Op: "close", Path: l.path, Err: ErrClosed}
	}
	l.opens--
	l.mu.Unlock()
	return l.release()
}

func (l *Library) release() error {
	e := l.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs == 0 {
		return nil
	}
	l.refs--
	if l.refs > 0 {
		return nil
	}

	delete(e.libs, l.path)
	e.log.Debug("library unloaded", "path", l.path)
	if err := native.Close(l.handle); err != nil {
		return &Error{Op: "close", Path: l.path, Err: err}
	}
	return nil
}

// NewFunction describes a function at a raw address, for entry points
// obtained outside of Open.
func (e *Engine) NewFunction(prototype string, addr uintptr, opts ...Option) (*FunctionDescriptor, error) {
	proto, err := e.reg.ParsePrototype(prototype)
	if err != nil {
		return nil, &Error{Op: "func", Err: err}
	}
	return e.describe(proto, addr, parseFuncOptions(opts))
}

// Callback registers a function pointer type from a C prototype such as
// "int Compare(const void *a, const void *b)". Parameters of that type
// accept host functions, which native code can call until the call that
// passed them returns.
func (e *Engine) Callback(prototype string) (*ctype.Type, error) {
	t, err := e.reg.ParseCallback(prototype)
	if err != nil {
		return nil, &Error{Op: "callback", Err: err}
	}
	e.log.Debug("callback type registered", "name", t.Name, "signature", t.Signature.String())
	return t, nil
}

func (e *Engine) describe(proto *ctype.Prototype, addr uintptr, cfg funcConfig) (*FunctionDescriptor, error) {
	fn := &FunctionDescriptor{
		Name:       proto.Name,
		Addr:       addr,
		Convention: e.classifier.Convention(),
		Ret:        ParameterDescriptor{Type: proto.Ret},
		Params:     make([]ParameterDescriptor, len(proto.Params)),
		Realign:    cfg.realign,
	}
	if err := checkRealign(proto, cfg.realign); err != nil {
		return nil, &Error{Op: "func", Path: proto.Name, Err: err}
	}

	types := make([]*ctype.Type, len(proto.Params))
	for i, p := range proto.Params {
		fn.Params[i] = ParameterDescriptor{Name: p.Name, Type: p.Type, Direction: p.Direction}
		types[i] = p.Type
	}

	class, err := e.classifier.ClassifyFunction(proto.Ret, types)
	if err != nil {
		return nil, &Error{Op: "func", Path: proto.Name, Err: err}
	}
	fn.Class = class
	fn.Ret.Class = class.Ret
	for i := range fn.Params {
		fn.Params[i].Class = class.Params[i]
	}
	fn.ScratchSize = scratchSize(fn.Ret, fn.Params, fn.Realign)

	e.log.Debug("function resolved",
		"name", fn.Name,
		"signature", fn.String(),
		"convention", fn.Convention,
		"realign", fn.Realign,
		"ret", class.Ret,
		"gpr", class.GPRUsed,
		"vec", class.VecUsed,
		"stack", class.StackSlots)
	return fn, nil
}

// checkRealign accepts a power of two up to ctype.MaxAlign, or 0. Values
// passed by value are classified with their natural layout, so the floor
// must leave them unchanged.
func checkRealign(proto *ctype.Prototype, realign int) error {
	if realign == 0 {
		return nil
	}
	if realign < 0 || realign > ctype.MaxAlign || realign&(realign-1) != 0 {
		return fmt.Errorf("%w: %d is not a power of two up to %d", ErrRealign, realign, ctype.MaxAlign)
	}
	if !proto.Ret.KeepsLayout(realign) {
		return fmt.Errorf("%w: %d changes the layout of the returned %s", ErrRealign, realign, proto.Ret.Name)
	}
	for i, p := range proto.Params {
		if !p.Type.KeepsLayout(realign) {
			return fmt.Errorf("%w: %d changes the layout of parameter %d (%s)", ErrRealign, realign, i+1, p.Type.Name)
		}
	}
	return nil
}

// Declare registers the types of a declaration file and resolves every
// function it lists, keyed by name. On failure no library stays loaded and
// no function stays resolved; types registered before the failure remain,
// and declaring the same file again reuses them.
func (e *Engine) Declare(f *decl.File) (map[string]*FunctionDescriptor, error) {
	if f.Convention != "" && abi.Convention(f.Convention) != e.Convention() {
		return nil, &Error{Op: "declare",
			Err: fmt.Errorf("%w: file targets %s, engine uses %s", ErrConvention, f.Convention, e.Convention())}
	}
	if err := f.Apply(e.reg); err != nil {
		return nil, &Error{Op: "declare", Err: err}
	}

	funcs := make(map[string]*FunctionDescriptor)
	releaseAll := func() {
		for _, fn := range funcs {
			_ = fn.Release()
		}
	}

	for _, ld := range f.Libraries {
		lib, err := e.Open(ld.Path)
		if err != nil {
			releaseAll()
			return nil, err
		}
		for _, fd := range ld.Functions {
			fn, err := lib.Func(fd.Prototype, realignOption(fd.Realign))
			if err == nil {
				if _, dup := funcs[fn.Name]; dup {
					_ = fn.Release()
					err = &Error{Op: "declare", Path: fn.Name, Err: errors.New("function declared twice")}
				}
			}
			if err != nil {
				_ = lib.Close()
				releaseAll()
				return nil, err
			}
			funcs[fn.Name] = fn
		}
		if err := lib.Close(); err != nil {
			releaseAll()
			return nil, err
		}
	}
	return funcs, nil
}
