//go:build unix

package arena

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapRegion maps anonymous private memory. Page alignment satisfies
// BaseAlign and the mapping never moves, so addresses handed to native code
// stay valid until release.
func mapRegion(size int) ([]byte, func() error, error) {
	pageSize := unix.Getpagesize()
	allocSize := ((size + pageSize - 1) / pageSize) * pageSize

	mem, err := unix.Mmap(-1, 0, allocSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap stack region: %w", err)
	}
	return mem[:size:size], func() error {
		return unix.Munmap(mem)
	}, nil
}
