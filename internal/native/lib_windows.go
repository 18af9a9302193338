//go:build windows

package native

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func Open(path string) (Handle, error) {
	if path == "" {
		return 0, fmt.Errorf("native: empty library path")
	}
	h, err := windows.LoadLibrary(path)
	if err != nil {
		return 0, fmt.Errorf("native: open %s: %w", path, err)
	}
	return Handle(h), nil
}

func Symbol(h Handle, name string) (uintptr, error) {
	addr, err := windows.GetProcAddress(windows.Handle(h), name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrNotFound, name, err)
	}
	return addr, nil
}

func Close(h Handle) error {
	if err := windows.FreeLibrary(windows.Handle(h)); err != nil {
		return fmt.Errorf("native: close library: %w", err)
	}
	return nil
}
