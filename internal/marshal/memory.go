package marshal

import "unsafe"

// Memory reads data that native code owns.
type Memory interface {
	// Bytes returns a copy of the n bytes at addr.
	Bytes(addr uintptr, n int) []byte
	// CString returns a copy of the bytes at addr up to the first NUL.
	CString(addr uintptr) []byte
	// CString16 returns a copy of the 16-bit units at addr up to the first
	// zero unit, as little-endian bytes.
	CString16(addr uintptr) []byte
}

// NativeMemory dereferences addresses in the current process.
var NativeMemory Memory = nativeMemory{}

type nativeMemory struct{}

func (nativeMemory) Bytes(addr uintptr, n int) []byte {
	if addr == 0 || n <= 0 {
		return nil
	}
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)...)
}

func (nativeMemory) CString(addr uintptr) []byte {
	if addr == 0 {
		return nil
	}
	p := unsafe.Pointer(addr)
	n := 0
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return append([]byte(nil), unsafe.Slice((*byte)(p), n)...)
}

func (nativeMemory) CString16(addr uintptr) []byte {
	if addr == 0 {
		return nil
	}
	p := unsafe.Pointer(addr)
	n := 0
	for *(*uint16)(unsafe.Add(p, 2*n)) != 0 {
		n++
	}
	return append([]byte(nil), unsafe.Slice((*byte)(p), 2*n)...)
}
