package marshal

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/tinyrange/ffi/internal/ctype"
	"github.com/tinyrange/ffi/internal/hostval"
)

// Popper reads native memory back into host values.
//
// The layout it reads was produced by this engine, so a mismatch is a bug
// and Pop panics instead of returning an error.
type Popper struct {
	mem   Memory
	utf16 *encoding.Decoder
}

// NewPopper returns a Popper that reads strings through mem. A nil mem
// means NativeMemory.
func NewPopper(mem Memory) *Popper {
	if mem == nil {
		mem = NativeMemory
	}
	return &Popper{
		mem:   mem,
		utf16: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder(),
	}
}

// Pop reads a value of type t at the reader's offset and advances it by
// t.SizeAt(realign).
func (p *Popper) Pop(r *Reader, t *ctype.Type, realign int) hostval.Value {
	switch k := t.Kind; {
	case k == ctype.Void:
		return hostval.Undefined{}

	case k == ctype.Bool:
		return hostval.Bool(r.Uint(1) != 0)

	case k.IsInteger():
		return integer(r.Uint(t.Size), t)

	case k == ctype.Float32:
		return hostval.Number(r.Float32())

	case k == ctype.Float64:
		return hostval.Number(r.Float64())

	case k == ctype.String:
		addr := r.Addr()
		if addr == 0 {
			return hostval.Null{}
		}
		return hostval.String(p.mem.CString(addr))

	case k == ctype.String16:
		addr := r.Addr()
		if addr == 0 {
			return hostval.Null{}
		}
		p.utf16.Reset()
		b, err := p.utf16.Bytes(p.mem.CString16(addr))
		if err != nil {
			panic(fmt.Sprintf("marshal: decode UTF-16 string at 0x%x: %v", addr, err))
		}
		return hostval.String(b)

	case k == ctype.Pointer:
		addr := r.Addr()
		tag := ""
		if !t.IsVoidPointer() {
			tag = t.Element.Name
		}
		return hostval.NewHandle(addr, tag)

	case k == ctype.Callback:
		return hostval.NewHandle(r.Addr(), t.Name)

	case k == ctype.Array:
		start := r.Offset()
		arr := hostval.MakeArray(t.Len())
		align := ctype.Floor(t.Element.Align, realign)
		for i := 0; i < t.Len(); i++ {
			r.Align(align)
			arr.Set(i, p.Pop(r, t.Element, realign))
		}
		r.Seek(start + t.SizeAt(realign))
		return arr

	case k == ctype.Record:
		obj := hostval.NewObject()
		p.PopInto(obj, r, t, realign)
		return obj
	}
	panic(fmt.Sprintf("marshal: cannot pop value of type %s", t.Name))
}

// PopInto reads a record into an existing object, replacing its members.
// Nested records are decoded into the object's existing members when they
// are objects, so callers holding references see the update.
func (p *Popper) PopInto(obj *hostval.Object, r *Reader, t *ctype.Type, realign int) {
	if t.Kind != ctype.Record || !t.Complete() {
		panic(fmt.Sprintf("marshal: PopInto on non-record type %s", t.Name))
	}
	start := r.Offset()
	for _, m := range t.Members {
		r.Align(ctype.Floor(m.Align, realign))
		if m.Type.Kind == ctype.Record {
			if cur, ok := obj.Get(m.Name); ok {
				if inner, ok := cur.(*hostval.Object); ok {
					p.PopInto(inner, r, m.Type, realign)
					continue
				}
			}
		}
		obj.Set(m.Name, p.Pop(r, m.Type, realign))
	}
	r.Seek(start + t.SizeAt(realign))
}

// Load reads a value of type t straight from the memory at addr.
func (p *Popper) Load(addr uintptr, t *ctype.Type) hostval.Value {
	return p.Pop(NewReader(p.mem.Bytes(addr, t.Size)), t, 0)
}

// PopElements reads arr.Len() consecutive elements laid out by PlaceArray
// back into arr. Record elements that are objects are updated in place.
func (p *Popper) PopElements(arr *hostval.Array, r *Reader, elem *ctype.Type, realign int) {
	start := r.Offset()
	stride := elem.StrideAt(realign)
	for i := 0; i < arr.Len(); i++ {
		r.Seek(start + i*stride)
		if inner, ok := arr.At(i).(*hostval.Object); ok && elem.Kind == ctype.Record {
			p.PopInto(inner, r, elem, realign)
			continue
		}
		arr.Set(i, p.Pop(r, elem, realign))
	}
	r.Seek(start + arr.Len()*stride)
}

func integer(u uint64, t *ctype.Type) hostval.Value {
	switch t.Kind {
	case ctype.Int8:
		return hostval.Number(int8(u))
	case ctype.UInt8:
		return hostval.Number(uint8(u))
	case ctype.Int16:
		return hostval.Number(int16(u))
	case ctype.UInt16:
		return hostval.Number(uint16(u))
	case ctype.Int32:
		return hostval.Number(int32(u))
	case ctype.UInt32:
		return hostval.Number(uint32(u))
	case ctype.Int64:
		return hostval.BigFromInt64(int64(u))
	default:
		return hostval.BigFromUint64(u)
	}
}
