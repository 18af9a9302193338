package api

import (
	"fmt"
	"strconv"
	"unsafe"

	"github.com/tinyrange/ffi/internal/arena"
	"github.com/tinyrange/ffi/internal/ctype"
	"github.com/tinyrange/ffi/internal/debug"
	"github.com/tinyrange/ffi/internal/hostval"
	"github.com/tinyrange/ffi/internal/marshal"
	"github.com/tinyrange/ffi/internal/native"
)

// Session owns one arena and makes calls with it. A Session must not be
// used from more than one goroutine at a time; calls made from inside a
// native function (through a callback into the host) nest on the same
// arena.
type Session struct {
	engine *Engine
	arena  *arena.Arena
	pusher *marshal.Pusher
	popper *marshal.Popper
	closed bool
}

func (e *Engine) NewSession() (*Session, error) {
	a, err := arena.New(e.cfg.arena)
	if err != nil {
		return nil, &Error{Op: "session", Err: err}
	}
	return &Session{
		engine: e,
		arena:  a,
		pusher: e.newPusher(a),
		popper: marshal.NewPopper(nil),
	}, nil
}

func (e *Engine) newPusher(a *arena.Arena) *marshal.Pusher {
	p := marshal.NewPusher(a)
	p.SetRegistry(e.reg)
	return p
}

// Arena returns the session's pooled arena.
func (s *Session) Arena() *arena.Arena { return s.arena }

func (s *Session) Close() error {
	if s.closed {
		return &Error{Op: "session", Err: ErrClosed}
	}
	if s.arena.Depth() != 0 {
		return &Error{Op: "session", Err: fmt.Errorf("close with %d calls in progress", s.arena.Depth())}
	}
	s.closed = true
	return s.arena.Close()
}

// Decode reads the value of type t that h points to, for example an
// argument a callback received by pointer.
func (s *Session) Decode(h hostval.Handle, t *ctype.Type) (hostval.Value, error) {
	if h.Addr == 0 {
		return nil, &Error{Op: "decode", Path: t.Name, Err: ErrNullPointer}
	}
	if t.Kind == ctype.Void || !t.Complete() {
		return nil, &Error{Op: "decode", Path: t.Name, Err: ctype.ErrInvalidType}
	}
	return s.popper.Load(h.Addr, t), nil
}

// CallContext is the arena scope of one call. Everything the call
// allocates is discarded by Close, and the host functions it handed to
// native code stop being callable.
type CallContext struct {
	Func  *FunctionDescriptor
	Arena *arena.Arena

	session  *Session
	cp       arena.Checkpoint
	pusher   *marshal.Pusher
	releases []func()
	cbErr    error
	closed   bool
}

// Begin opens the arena scope for a call to fn. A call whose fixed-size
// slots would not leave the configured reserve free in the pooled arena
// gets a temporary arena of its own.
func (s *Session) Begin(fn *FunctionDescriptor) (*CallContext, error) {
	if s.closed {
		return nil, ErrClosed
	}
	a, pusher := s.arena, s.pusher
	cfg := s.engine.cfg.arena
	if need := fn.ScratchSize + cfg.Reserve; need > a.Remaining() {
		tmp, err := arena.NewTemporary(arena.Config{StackSize: need, Reserve: cfg.Reserve})
		if err != nil {
			return nil, err
		}
		s.engine.log.Debug("temporary arena", "func", fn.Name, "size", tmp.Capacity())
		a, pusher = tmp, s.engine.newPusher(tmp)
	}
	a.Enter()
	c := &CallContext{Func: fn, Arena: a, session: s, cp: a.Snapshot(), pusher: pusher}
	pusher.SetCallbacks(c)
	return c, nil
}

// Close rewinds the arena to where the call found it. A temporary arena
// is released once its outermost call has closed.
func (c *CallContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	for i := len(c.releases) - 1; i >= 0; i-- {
		c.releases[i]()
	}
	c.releases = nil
	c.Arena.Restore(c.cp)
	if c.Arena.Leave() == 0 && c.Arena.Temporary() {
		return c.Arena.Close()
	}
	return nil
}

// Call marshals args, invokes fn and converts its return value. Records
// and arrays passed to out and inout parameters are updated in place.
func (s *Session) Call(fn *FunctionDescriptor, args ...hostval.Value) (hostval.Value, error) {
	if fn.Released() {
		return nil, &Error{Op: "call", Path: fn.Name, Err: ErrReleased}
	}
	if len(args) != len(fn.Params) {
		return nil, &Error{Op: "call", Path: fn.Name,
			Err: fmt.Errorf("%w: expected %d, got %d", ErrArgumentCount, len(fn.Params), len(args))}
	}

	ctx, err := s.Begin(fn)
	if err != nil {
		return nil, &Error{Op: "call", Path: fn.Name, Err: err}
	}
	defer ctx.Close()

	v, err := ctx.call(s, args)
	if err != nil {
		s.engine.log.Debug("call failed", "func", fn.Name, "error", err)
		return nil, &Error{Op: "call", Path: fn.Name, Err: err}
	}
	return v, nil
}

// outParam is a record or array behind an out or inout pointer, popped
// back into the caller's value after the call.
type outParam struct {
	obj  *hostval.Object
	arr  *hostval.Array
	typ  *ctype.Type
	data []byte
}

func (c *CallContext) call(s *Session, args []hostval.Value) (hostval.Value, error) {
	fn := c.Func
	realign := fn.Realign
	call := &native.Call{
		Name:       fn.Name,
		Addr:       fn.Addr,
		Convention: fn.Convention,
		Params:     make([]native.Arg, len(fn.Params)),
	}

	var outs []outParam
	for i, p := range fn.Params {
		label := "param " + strconv.Itoa(i+1)
		size := p.Type.SizeAt(realign)
		slot, err := c.Arena.Allocate(max(size, 1), ctype.Floor(p.Type.Align, realign))
		if err != nil {
			return nil, err
		}
		slot.Bytes = slot.Bytes[:size]
		w := marshal.NewWriter(slot.Bytes)

		switch p.Direction {
		case ctype.In:
			err = c.pusher.Push(label, args[i], p.Type, w, realign)
		default:
			var out outParam
			out, err = c.pushOut(label, args[i], p, w, realign)
			if out.obj != nil || out.arr != nil {
				outs = append(outs, out)
			}
		}
		if err != nil {
			return nil, err
		}
		call.Params[i] = native.Arg{Type: p.Type, Class: p.Class, Slot: slot.Bytes}
	}

	call.Ret = native.Arg{Type: fn.Ret.Type, Class: fn.Ret.Class}
	if fn.Ret.Type.Kind != ctype.Void {
		slot, err := c.Arena.Allocate(fn.Ret.Type.SizeAt(realign), ctype.Floor(fn.Ret.Type.Align, realign))
		if err != nil {
			return nil, err
		}
		call.Ret.Slot = slot.Bytes
	}

	c.dump(s, "call", call)
	if err := s.engine.cfg.invoker.Invoke(call); err != nil {
		return nil, err
	}
	c.dump(s, "return", call)
	if c.cbErr != nil {
		return nil, c.cbErr
	}

	for _, out := range outs {
		r := marshal.NewReader(out.data)
		if out.arr != nil {
			s.popper.PopElements(out.arr, r, out.typ, realign)
		} else {
			s.popper.PopInto(out.obj, r, out.typ, realign)
		}
	}
	if fn.Ret.Type.Kind == ctype.Void {
		return hostval.Undefined{}, nil
	}
	return s.popper.Pop(marshal.NewReader(call.Ret.Slot), fn.Ret.Type, realign), nil
}

// pushOut writes the pointer for an out or inout parameter. Records take an
// object and any element type takes an array of them. Inout values are
// copied in; out values start zeroed. Null or undefined passes NULL.
func (c *CallContext) pushOut(label string, v hostval.Value, p ParameterDescriptor, w *marshal.Writer, realign int) (outParam, error) {
	if hostval.IsNullish(v) {
		return outParam{}, w.PutAddr(0)
	}

	elem := p.Type.Element
	out := outParam{typ: elem}
	var blk arena.Block
	var err error
	switch x := v.(type) {
	case *hostval.Object:
		if elem.Kind != ctype.Record {
			return outParam{}, outMismatch(label, "array", v)
		}
		out.obj = x
		if p.Direction == ctype.InOut {
			blk, err = c.pusher.Place(label, x, elem, realign)
		} else {
			blk, err = c.zeroed(label, elem, 1, realign)
		}
	case *hostval.Array:
		out.arr = x
		if p.Direction == ctype.InOut {
			blk, err = c.pusher.PlaceArray(label, x, elem, realign)
		} else {
			blk, err = c.zeroed(label, elem, x.Len(), realign)
		}
	default:
		if elem.Kind == ctype.Record {
			return outParam{}, outMismatch(label, "object", v)
		}
		return outParam{}, outMismatch(label, "array", v)
	}
	if err != nil {
		return outParam{}, err
	}
	out.data = blk.Bytes
	return out, w.PutAddr(blk.Addr)
}

// zeroed allocates room for n elements that native code fills in.
func (c *CallContext) zeroed(label string, elem *ctype.Type, n, realign int) (arena.Block, error) {
	if elem.Kind == ctype.Void || !elem.Complete() {
		return arena.Block{}, &marshal.Error{Kind: marshal.ErrTypeMismatch, Path: label,
			Expected: "complete type", Actual: elem.Name}
	}
	blk, err := c.Arena.Allocate(max(n*elem.StrideAt(realign), 1), ctype.Floor(elem.Align, realign))
	if err != nil {
		return arena.Block{}, err
	}
	clear(blk.Bytes)
	return blk, nil
}

func outMismatch(label, expected string, v hostval.Value) error {
	return &marshal.Error{Kind: marshal.ErrTypeMismatch, Path: label, Expected: expected, Actual: hostval.TypeName(v)}
}

// Trampoline binds fn to a native function pointer of callback type t. The
// pointer stays valid until the call closes.
func (c *CallContext) Trampoline(fn *hostval.Func, t *ctype.Type) (uintptr, error) {
	sig := t.Signature
	addr, release, err := c.session.engine.cfg.trampolines.Acquire(sig, func(args [][]byte, ret []byte) {
		c.dispatch(fn, sig, args, ret)
	})
	if err != nil {
		return 0, err
	}
	c.releases = append(c.releases, release)
	return addr, nil
}

// dispatch runs fn on behalf of native code. The first failure is returned
// by the call once native code is done.
func (c *CallContext) dispatch(fn *hostval.Func, sig *ctype.Prototype, args [][]byte, ret []byte) {
	s := c.session
	defer func() {
		if r := recover(); r != nil {
			c.fail(fmt.Errorf("callback %s: %v", sig.Name, r))
		}
	}()
	if c.cbErr != nil {
		return
	}

	vals := make([]hostval.Value, len(args))
	for i, p := range sig.Params {
		vals[i] = s.popper.Pop(marshal.NewReader(args[i]), p.Type, 0)
	}
	v, err := fn.Call(vals...)
	if err == nil && sig.Ret.Kind != ctype.Void {
		// Calls made by fn rebind the shared pusher.
		c.pusher.SetCallbacks(c)
		err = c.pusher.Push("callback "+sig.Name+" result", v, sig.Ret, marshal.NewWriter(ret), 0)
	}
	if err != nil {
		c.fail(fmt.Errorf("callback %s: %w", sig.Name, err))
	}
}

func (c *CallContext) fail(err error) {
	if c.cbErr == nil {
		c.cbErr = err
		c.session.engine.log.Debug("callback failed", "func", c.Func.Name, "error", err)
	}
}

func (c *CallContext) dump(s *Session, phase string, call *native.Call) {
	if s.engine.cfg.dump == nil {
		return
	}
	p := debug.NewPrinter(s.engine.cfg.dump)
	p.Section("%s %s (%s arena, depth %d)", phase, c.Func, arenaKind(c.Arena), c.Arena.Depth())
	for i, a := range call.Params {
		p.Block(fmt.Sprintf("param %d (%s, %s)", i+1, a.Type.Name, a.Class), slotAddr(a.Slot), a.Slot)
	}
	if len(call.Ret.Slot) > 0 {
		p.Block(fmt.Sprintf("return (%s, %s)", call.Ret.Type.Name, call.Ret.Class), slotAddr(call.Ret.Slot), call.Ret.Slot)
	}
	if err := p.Err(); err != nil {
		s.engine.log.Debug("debug dump failed", "error", err)
	}
}

func arenaKind(a *arena.Arena) string {
	if a.Temporary() {
		return "temporary"
	}
	return "pooled"
}

func slotAddr(slot []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(slot)))
}
