package marshal

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tinyrange/ffi/internal/ctype"
)

// Writer is a bounds-checked cursor over a destination buffer. Offsets are
// relative to the start of the buffer, which callers place at an address
// aligned to at least the alignment of the value being written.
type Writer struct {
	buf []byte
	off int
}

func NewWriter(buf []byte) *Writer { return &Writer{buf: buf} }

func (w *Writer) Offset() int   { return w.off }
func (w *Writer) Bytes() []byte { return w.buf }

// Align moves the cursor forward to the next multiple of align.
func (w *Writer) Align(align int) { w.off = ctype.AlignUp(w.off, align) }

// Seek moves the cursor to an absolute offset.
func (w *Writer) Seek(off int) { w.off = off }

func (w *Writer) slot(n int) ([]byte, error) {
	if w.off < 0 || n < 0 || w.off+n > len(w.buf) {
		return nil, fmt.Errorf("marshal: write of %d bytes at offset %d overflows %d byte buffer", n, w.off, len(w.buf))
	}
	return w.buf[w.off : w.off+n], nil
}

// PutUint writes the low size bytes of v, least significant first.
func (w *Writer) PutUint(v uint64, size int) error {
	b, err := w.slot(size)
	if err != nil {
		return err
	}
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	w.off += size
	return nil
}

func (w *Writer) PutFloat32(f float32) error {
	return w.PutUint(uint64(math.Float32bits(f)), 4)
}

func (w *Writer) PutFloat64(f float64) error {
	return w.PutUint(math.Float64bits(f), 8)
}

func (w *Writer) PutAddr(addr uintptr) error {
	return w.PutUint(uint64(addr), ctype.PointerSize)
}

// PutBytes copies p and advances by len(p).
func (w *Writer) PutBytes(p []byte) error {
	b, err := w.slot(len(p))
	if err != nil {
		return err
	}
	copy(b, p)
	w.off += len(p)
	return nil
}

// Reader is the read-side mirror of Writer. Reads past the end of the
// buffer mean the engine computed a wrong layout and panic.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) Offset() int     { return r.off }
func (r *Reader) Align(align int) { r.off = ctype.AlignUp(r.off, align) }
func (r *Reader) Seek(off int)    { r.off = off }

func (r *Reader) take(n int) []byte {
	if r.off < 0 || n < 0 || r.off+n > len(r.buf) {
		panic(fmt.Sprintf("marshal: truncated source: read of %d bytes at offset %d from %d byte buffer", n, r.off, len(r.buf)))
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// Uint reads size bytes, least significant first.
func (r *Reader) Uint(size int) uint64 {
	b := r.take(size)
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (r *Reader) Float32() float32 { return math.Float32frombits(binary.LittleEndian.Uint32(r.take(4))) }
func (r *Reader) Float64() float64 { return math.Float64frombits(binary.LittleEndian.Uint64(r.take(8))) }
func (r *Reader) Addr() uintptr    { return uintptr(r.Uint(ctype.PointerSize)) }
