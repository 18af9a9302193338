// Package marshal translates host values to and from the native byte layout
// described by a ctype.Type.
//
// Push walks the type and the value together, writing scalars little-endian
// into a Writer and placing variable-length data (strings, records and
// arrays passed by pointer) in an arena. Pop is the structural mirror and reads a Reader back
// into host values. Both honour an alignment floor, realign, that raises the
// alignment of every member and element in the descent; 0 means no floor.
package marshal

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/tinyrange/ffi/internal/arena"
	"github.com/tinyrange/ffi/internal/ctype"
	"github.com/tinyrange/ffi/internal/hostval"
)

// Callbacks turns host functions into native function pointers. A pointer
// stays valid until the call that requested it returns.
type Callbacks interface {
	Trampoline(fn *hostval.Func, t *ctype.Type) (uintptr, error)
}

// Pusher writes host values into native memory. A Pusher is bound to one
// arena and, like the arena, is not safe for concurrent use.
type Pusher struct {
	arena     *arena.Arena
	path      []string
	utf16     *encoding.Encoder
	reg       *ctype.Registry
	callbacks Callbacks

	stringsOnHeap int
}

func NewPusher(a *arena.Arena) *Pusher {
	return &Pusher{
		arena: a,
		utf16: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder(),
	}
}

// SetRegistry lets pointer parameters accept handles tagged with any alias
// of their element type.
func (p *Pusher) SetRegistry(reg *ctype.Registry) { p.reg = reg }

// SetCallbacks installs the source of native function pointers for host
// functions. Without one, host functions cannot be pushed.
func (p *Pusher) SetCallbacks(c Callbacks) { p.callbacks = c }

// HeapStrings returns how many strings did not fit the stack headroom and
// were copied into the big region.
func (p *Pusher) HeapStrings() int { return p.stringsOnHeap }

// Push writes v as type t at the writer's current offset and advances the
// writer by t.SizeAt(realign). label names the value in error paths.
//
// The writer is not aligned first; callers place it.
func (p *Pusher) Push(label string, v hostval.Value, t *ctype.Type, w *Writer, realign int) error {
	p.path = append(p.path[:0], label)
	return p.push(v, t, w, realign)
}

// Place copies v into a fresh arena block laid out as t and returns the
// block address. It is how records reach native code behind a pointer.
func (p *Pusher) Place(label string, v hostval.Value, t *ctype.Type, realign int) (arena.Block, error) {
	p.path = append(p.path[:0], label)
	return p.place(v, t, realign)
}

// PlaceArray copies the elements of arr one after the other into a fresh
// arena block, each at elem.StrideAt(realign). It is how arrays reach
// native code behind a pointer to their first element.
func (p *Pusher) PlaceArray(label string, arr *hostval.Array, elem *ctype.Type, realign int) (arena.Block, error) {
	p.path = append(p.path[:0], label)
	return p.placeArray(arr, elem, realign)
}

func (p *Pusher) placeArray(arr *hostval.Array, elem *ctype.Type, realign int) (arena.Block, error) {
	if elem.Kind == ctype.Void || !elem.Complete() {
		return arena.Block{}, p.fail(ctype.ErrInvalidType, "complete type", elem.Name)
	}
	stride := elem.StrideAt(realign)
	blk, err := p.arena.Allocate(max(arr.Len()*stride, 1), ctype.Floor(elem.Align, realign))
	if err != nil {
		return arena.Block{}, p.wrap(err)
	}
	w := NewWriter(blk.Bytes)
	depth := len(p.path)
	for i := 0; i < arr.Len(); i++ {
		p.path = append(p.path[:depth], "["+strconv.Itoa(i)+"]")
		w.Seek(i * stride)
		if err := p.push(arr.At(i), elem, w, realign); err != nil {
			return arena.Block{}, err
		}
	}
	p.path = p.path[:depth]
	return blk, nil
}

func (p *Pusher) place(v hostval.Value, t *ctype.Type, realign int) (arena.Block, error) {
	if !t.Complete() {
		return arena.Block{}, p.fail(ctype.ErrInvalidType, "complete type", t.Name)
	}
	blk, err := p.arena.Allocate(max(t.SizeAt(realign), 1), ctype.Floor(t.Align, realign))
	if err != nil {
		return arena.Block{}, err
	}
	if err := p.push(v, t, NewWriter(blk.Bytes), realign); err != nil {
		return arena.Block{}, err
	}
	return blk, nil
}

func (p *Pusher) pathString() string {
	var sb strings.Builder
	for i, s := range p.path {
		if i > 0 && !strings.HasPrefix(s, "[") {
			sb.WriteByte('.')
		}
		sb.WriteString(s)
	}
	return sb.String()
}

func (p *Pusher) fail(kind error, expected, actual string) error {
	return &Error{Kind: kind, Path: p.pathString(), Expected: expected, Actual: actual}
}

func (p *Pusher) mismatch(v hostval.Value, expected string) error {
	return p.fail(ErrTypeMismatch, expected, hostval.TypeName(v))
}

func (p *Pusher) wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", p.pathString(), err)
}

func (p *Pusher) push(v hostval.Value, t *ctype.Type, w *Writer, realign int) error {
	switch k := t.Kind; {
	case k == ctype.Bool:
		b, ok := hostval.Truthy(v)
		if !ok {
			return p.mismatch(v, "boolean")
		}
		var u uint64
		if b {
			u = 1
		}
		return p.wrap(w.PutUint(u, 1))

	case k.IsInteger():
		if !hostval.IsNumeric(v) {
			return p.mismatch(v, "number")
		}
		u, _ := hostval.AsUint64(v)
		return p.wrap(w.PutUint(u, t.Size))

	case k == ctype.Float32:
		f, ok := hostval.AsFloat(v)
		if !ok {
			return p.mismatch(v, "number")
		}
		return p.wrap(w.PutFloat32(float32(f)))

	case k == ctype.Float64:
		f, ok := hostval.AsFloat(v)
		if !ok {
			return p.mismatch(v, "number")
		}
		return p.wrap(w.PutFloat64(f))

	case k == ctype.String || k == ctype.String16:
		addr, err := p.pushString(v, k == ctype.String16)
		if err != nil {
			return err
		}
		return p.wrap(w.PutAddr(addr))

	case k == ctype.Pointer:
		addr, err := p.pointer(v, t, realign)
		if err != nil {
			return err
		}
		return p.wrap(w.PutAddr(addr))

	case k == ctype.Callback:
		addr, err := p.callback(v, t)
		if err != nil {
			return err
		}
		return p.wrap(w.PutAddr(addr))

	case k == ctype.Array:
		return p.pushArray(v, t, w, realign)

	case k == ctype.Record:
		return p.pushRecord(v, t, w, realign)
	}
	return p.fail(ErrTypeMismatch, "value type", t.Name)
}

func (p *Pusher) pushRecord(v hostval.Value, t *ctype.Type, w *Writer, realign int) error {
	obj, ok := v.(*hostval.Object)
	if !ok {
		return p.mismatch(v, "object")
	}
	if !t.Complete() {
		return p.fail(ctype.ErrInvalidType, "complete type", t.Name)
	}

	start := w.Offset()
	depth := len(p.path)
	for _, m := range t.Members {
		p.path = append(p.path[:depth], m.Name)
		mv, ok := obj.Get(m.Name)
		if !ok {
			p.path = p.path[:depth]
			return p.fail(ErrMissingField, m.Name, "")
		}
		w.Align(ctype.Floor(m.Align, realign))
		if err := p.push(mv, m.Type, w, realign); err != nil {
			return err
		}
	}
	p.path = p.path[:depth]
	w.Seek(start + t.SizeAt(realign))
	return nil
}

func (p *Pusher) pushArray(v hostval.Value, t *ctype.Type, w *Writer, realign int) error {
	elem := t.Element
	if s, ok := v.(hostval.String); ok && elem.Kind.IsInteger() && elem.Size <= 2 {
		return p.pushCharArray(string(s), t, w)
	}

	arr, ok := v.(*hostval.Array)
	if !ok {
		return p.mismatch(v, "array")
	}
	if arr.Len() != t.Len() {
		return p.fail(ErrArrayLengthMismatch, strconv.Itoa(t.Len()), strconv.Itoa(arr.Len()))
	}

	start := w.Offset()
	depth := len(p.path)
	align := ctype.Floor(elem.Align, realign)
	for i := 0; i < arr.Len(); i++ {
		p.path = append(p.path[:depth], "["+strconv.Itoa(i)+"]")
		w.Align(align)
		if err := p.push(arr.At(i), elem, w, realign); err != nil {
			return err
		}
	}
	p.path = p.path[:depth]
	w.Seek(start + t.SizeAt(realign))
	return nil
}

// pushCharArray fills a char or char16_t array from a string. The encoded
// text, terminator included, must fit; the rest of the array is zeroed.
func (p *Pusher) pushCharArray(s string, t *ctype.Type, w *Writer) error {
	var enc []byte
	if t.Element.Size == 2 {
		p.utf16.Reset()
		b, err := p.utf16.Bytes([]byte(s))
		if err != nil {
			return p.wrap(err)
		}
		enc = b
	} else {
		enc = []byte(s)
	}
	if len(enc)+t.Element.Size > t.Size {
		return p.fail(ErrArrayLengthMismatch,
			strconv.Itoa(t.Len()), strconv.Itoa(len(enc)/t.Element.Size+1))
	}
	start := w.Offset()
	if err := w.PutBytes(enc); err != nil {
		return p.wrap(err)
	}
	if err := w.PutBytes(make([]byte, t.Size-len(enc))); err != nil {
		return p.wrap(err)
	}
	w.Seek(start + t.Size)
	return nil
}

// pointer resolves the address a pointer slot receives. Records and arrays
// are copied into the arena; a string fills a char or char16_t pointer.
func (p *Pusher) pointer(v hostval.Value, t *ctype.Type, realign int) (uintptr, error) {
	elem := t.Element
	switch x := v.(type) {
	case hostval.Null:
		return 0, nil
	case hostval.Handle:
		if err := p.checkTag(x, t); err != nil {
			return 0, err
		}
		return x.Addr, nil
	case *hostval.Object:
		if t.IsVoidPointer() || elem.Kind != ctype.Record {
			break
		}
		blk, err := p.place(x, elem, realign)
		if err != nil {
			return 0, err
		}
		return blk.Addr, nil
	case *hostval.Array:
		if t.IsVoidPointer() {
			break
		}
		blk, err := p.placeArray(x, elem, realign)
		if err != nil {
			return 0, err
		}
		return blk.Addr, nil
	case hostval.String:
		if t.IsVoidPointer() || !elem.Kind.IsInteger() {
			break
		}
		switch elem.Size {
		case 1:
			return p.copyString(string(x))
		case 2:
			return p.copyString16(string(x))
		}
	}
	return 0, p.mismatch(v, t.Name)
}

// checkTag accepts a handle when its tag names the pointer's element type,
// directly or through an alias. Untyped pointers accept any handle.
func (p *Pusher) checkTag(h hostval.Handle, t *ctype.Type) error {
	if t.IsVoidPointer() {
		return nil
	}
	if h.Tag == "" {
		return p.fail(ErrUntaggedPointer, t.Name, hostval.TypeName(h))
	}
	if !p.names(h.Tag, t.Element) {
		return p.fail(ErrTypeMismatch, t.Name, hostval.TypeName(h))
	}
	return nil
}

// names reports whether tag spells t.
func (p *Pusher) names(tag string, t *ctype.Type) bool {
	if tag == t.Name {
		return true
	}
	if p.reg == nil {
		return false
	}
	rt, err := p.reg.ParseType(tag)
	return err == nil && rt == t
}

// callback resolves the function pointer a callback slot receives. Host
// functions get a trampoline from the installed Callbacks.
func (p *Pusher) callback(v hostval.Value, t *ctype.Type) (uintptr, error) {
	switch x := v.(type) {
	case hostval.Null:
		return 0, nil
	case hostval.Handle:
		if x.Tag == "" {
			return 0, p.fail(ErrUntaggedPointer, t.Name, hostval.TypeName(x))
		}
		if !p.names(x.Tag, t) {
			return 0, p.fail(ErrTypeMismatch, t.Name, hostval.TypeName(x))
		}
		return x.Addr, nil
	case *hostval.Func:
		if p.callbacks == nil {
			return 0, p.fail(ErrNoCallbacks, t.Name, hostval.TypeName(x))
		}
		addr, err := p.callbacks.Trampoline(x, t)
		if err != nil {
			return 0, p.wrap(err)
		}
		return addr, nil
	}
	return 0, p.mismatch(v, t.Name)
}

func (p *Pusher) pushString(v hostval.Value, wide bool) (uintptr, error) {
	switch x := v.(type) {
	case hostval.Null:
		return 0, nil
	case hostval.String:
		if wide {
			return p.copyString16(string(x))
		}
		return p.copyString(string(x))
	}
	if wide {
		return 0, p.mismatch(v, "string16")
	}
	return 0, p.mismatch(v, "string")
}

func (p *Pusher) copyString(s string) (uintptr, error) {
	n := len(s) + 1
	blk, ok := p.arena.TryAllocate(n, 1)
	if !ok {
		var err error
		if blk, err = p.arena.MustAllocate(n, 1); err != nil {
			return 0, p.wrap(err)
		}
		p.stringsOnHeap++
	}
	copy(blk.Bytes, s)
	blk.Bytes[n-1] = 0
	return blk.Addr, nil
}

// copyString16 encodes s as UTF-16LE straight into the stack headroom. When
// the headroom is too small it encodes again to learn the exact length and
// takes a big block of that size.
func (p *Pusher) copyString16(s string) (uintptr, error) {
	scratch := p.arena.Scratch(2)
	if len(scratch.Bytes) >= 2 {
		p.utf16.Reset()
		room := scratch.Bytes[:len(scratch.Bytes)-2]
		nDst, _, err := p.utf16.Transform(room, []byte(s), true)
		if err == nil {
			scratch.Bytes[nDst] = 0
			scratch.Bytes[nDst+1] = 0
			return p.arena.Commit(scratch, nDst+2).Addr, nil
		}
	}

	p.utf16.Reset()
	enc, err := p.utf16.Bytes([]byte(s))
	if err != nil {
		return 0, p.wrap(err)
	}
	blk, err := p.arena.MustAllocate(len(enc)+2, 2)
	if err != nil {
		return 0, p.wrap(err)
	}
	copy(blk.Bytes, enc)
	p.stringsOnHeap++
	return blk.Addr, nil
}
