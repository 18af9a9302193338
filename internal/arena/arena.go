// Package arena implements the scoped allocator that backs argument and
// return value construction for native calls.
//
// An Arena has two regions. The stack region is a fixed block of memory
// handed out with a bump cursor; the last Reserve bytes are kept for
// fixed-size slots so variable-length data such as strings can never starve
// them. The big region holds individually allocated blocks for values that
// do not fit in the stack region's headroom. Both regions are rewound
// together with Snapshot/Restore, which gives nested calls strict LIFO
// discipline.
//
// An Arena is not safe for concurrent use.
package arena

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/tinyrange/ffi/internal/ctype"
)

const (
	DefaultStackSize = 1 << 20
	DefaultReserve   = 32 << 10

	// BaseAlign is the alignment of every region base.
	BaseAlign = 16
)

var ErrOutOfMemory = errors.New("arena: out of memory")

type Config struct {
	// StackSize is the size of the stack region in bytes.
	StackSize int
	// Reserve is the headroom kept free for fixed-size slots.
	Reserve int
}

func (c Config) withDefaults() Config {
	if c.StackSize <= 0 {
		c.StackSize = DefaultStackSize
	}
	if c.Reserve <= 0 {
		c.Reserve = DefaultReserve
	}
	if c.Reserve > c.StackSize {
		c.Reserve = c.StackSize
	}
	c.StackSize = ctype.AlignUp(c.StackSize, BaseAlign)
	return c
}

// Block is one allocation. Bytes aliases the arena memory at Addr.
type Block struct {
	Addr  uintptr
	Bytes []byte
}

// Checkpoint captures both region cursors.
type Checkpoint struct {
	stack int
	big   int
}

type bigBlock struct {
	buf    []byte
	pinner runtime.Pinner
}

type Arena struct {
	cfg Config

	region  []byte
	base    uintptr
	off     int
	release func() error

	big []*bigBlock

	depth     int
	temporary bool
	closed    bool
}

// New maps a stack region of cfg.StackSize bytes.
func New(cfg Config) (*Arena, error) {
	cfg = cfg.withDefaults()
	region, release, err := mapRegion(cfg.StackSize)
	if err != nil {
		return nil, fmt.Errorf("%w: map %d byte stack region: %v", ErrOutOfMemory, cfg.StackSize, err)
	}
	a := &Arena{
		cfg:     cfg,
		region:  region,
		base:    uintptr(unsafe.Pointer(&region[0])),
		release: release,
	}
	if a.base%BaseAlign != 0 {
		_ = release()
		return nil, fmt.Errorf("arena: stack region at 0x%x is not %d-byte aligned", a.base, BaseAlign)
	}
	return a, nil
}

// NewTemporary creates an arena that is released once its outermost call
// context exits.
func NewTemporary(cfg Config) (*Arena, error) {
	a, err := New(cfg)
	if err != nil {
		return nil, err
	}
	a.temporary = true
	return a, nil
}

func (a *Arena) Config() Config     { return a.cfg }
func (a *Arena) Temporary() bool    { return a.temporary }
func (a *Arena) Capacity() int      { return len(a.region) }
func (a *Arena) Used() int          { return a.off }
func (a *Arena) Remaining() int     { return len(a.region) - a.off }
func (a *Arena) BigBlocks() int     { return len(a.big) }
func (a *Arena) Depth() int         { return a.depth }
func (a *Arena) StackBase() uintptr { return a.base }

// Headroom is the number of bytes variable-length data may still take from
// the stack region.
func (a *Arena) Headroom() int {
	return max(0, a.Remaining()-a.cfg.Reserve)
}

// Enter increments the call depth.
func (a *Arena) Enter() int {
	a.depth++
	return a.depth
}

// Leave decrements the call depth and returns the new depth.
func (a *Arena) Leave() int {
	if a.depth == 0 {
		panic("arena: Leave without Enter")
	}
	a.depth--
	return a.depth
}

// Snapshot captures the current cursors of both regions.
func (a *Arena) Snapshot() Checkpoint {
	return Checkpoint{stack: a.off, big: len(a.big)}
}

// Restore rewinds both regions to cp, discarding everything allocated
// since. Restoring to a point ahead of the current cursors breaks LIFO
// order and panics.
func (a *Arena) Restore(cp Checkpoint) {
	if cp.stack > a.off || cp.big > len(a.big) {
		panic(fmt.Sprintf("arena: restore to future checkpoint (stack %d > %d or big %d > %d)",
			cp.stack, a.off, cp.big, len(a.big)))
	}
	a.off = cp.stack
	for i := len(a.big) - 1; i >= cp.big; i-- {
		a.big[i].pinner.Unpin()
		a.big[i] = nil
	}
	a.big = a.big[:cp.big]
}

func (a *Arena) bump(size, align, limit int) (Block, bool) {
	start := ctype.AlignUp(a.off, max(align, 1))
	if size < 0 || start+size > limit {
		return Block{}, false
	}
	a.off = start + size
	b := a.region[start : start+size : start+size]
	clear(b)
	return Block{Addr: a.base + uintptr(start), Bytes: b}, true
}

// TryAllocate takes size bytes from the stack region's headroom, leaving the
// reserve untouched. It fails fast when the headroom is too small.
func (a *Arena) TryAllocate(size, align int) (Block, bool) {
	return a.bump(size, align, len(a.region)-a.cfg.Reserve)
}

// Allocate takes a fixed-size slot from the stack region, reserve included,
// and falls back to the big region when the stack region is exhausted.
func (a *Arena) Allocate(size, align int) (Block, error) {
	if b, ok := a.bump(size, align, len(a.region)); ok {
		return b, nil
	}
	return a.MustAllocate(size, align)
}

// MustAllocate allocates an exact-size block in the big region. The block
// stays valid until a Restore to a checkpoint taken before it.
func (a *Arena) MustAllocate(size, align int) (blk Block, err error) {
	if a.closed {
		return Block{}, fmt.Errorf("arena: allocate on closed arena")
	}
	if size < 0 {
		return Block{}, fmt.Errorf("arena: negative allocation size %d", size)
	}
	align = max(align, BaseAlign)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %d byte block: %v", ErrOutOfMemory, size, r)
		}
	}()

	bb := &bigBlock{buf: make([]byte, size+align)}
	addr := uintptr(unsafe.Pointer(&bb.buf[0]))
	pad := ctype.AlignUp(int(addr%uintptr(align)), align) - int(addr%uintptr(align))
	bb.pinner.Pin(&bb.buf[0])
	a.big = append(a.big, bb)

	b := bb.buf[pad : pad+size : pad+size]
	return Block{Addr: addr + uintptr(pad), Bytes: b}, nil
}

// Scratch exposes the stack region's headroom, aligned to align, without
// moving the cursor. Callers encode into it and then Commit what they used.
func (a *Arena) Scratch(align int) Block {
	start := ctype.AlignUp(a.off, max(align, 1))
	limit := len(a.region) - a.cfg.Reserve
	if start >= limit {
		return Block{Addr: a.base + uintptr(min(start, len(a.region)))}
	}
	return Block{Addr: a.base + uintptr(start), Bytes: a.region[start:limit:limit]}
}

// Commit claims the first n bytes of the block returned by the latest
// Scratch call.
func (a *Arena) Commit(scratch Block, n int) Block {
	start := int(scratch.Addr - a.base)
	if start < a.off || n > len(scratch.Bytes) {
		panic("arena: commit outside of scratch block")
	}
	a.off = start + n
	return Block{Addr: scratch.Addr, Bytes: scratch.Bytes[:n:n]}
}

// Contains reports whether addr points into the stack region or a live big
// block.
func (a *Arena) Contains(addr uintptr) bool {
	if addr >= a.base && addr < a.base+uintptr(len(a.region)) {
		return true
	}
	for _, bb := range a.big {
		start := uintptr(unsafe.Pointer(&bb.buf[0]))
		if addr >= start && addr < start+uintptr(len(bb.buf)) {
			return true
		}
	}
	return false
}

// Close releases every region. Using the arena afterwards is a bug.
func (a *Arena) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.Restore(Checkpoint{})
	a.region = nil
	return a.release()
}
