//go:build !unix

package arena

import (
	"runtime"
	"unsafe"
)

// mapRegion falls back to pinned Go memory where mmap is unavailable.
func mapRegion(size int) ([]byte, func() error, error) {
	buf := make([]byte, size+BaseAlign)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	pad := int((BaseAlign - addr%BaseAlign) % BaseAlign)

	var pinner runtime.Pinner
	pinner.Pin(&buf[0])

	return buf[pad : pad+size : pad+size], func() error {
		pinner.Unpin()
		return nil
	}, nil
}
