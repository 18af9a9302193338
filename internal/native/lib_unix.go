//go:build darwin || freebsd || linux || netbsd

package native

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// Open loads the shared library at path. Symbols are resolved eagerly so a
// broken library fails here rather than on first call.
func Open(path string) (Handle, error) {
	if path == "" {
		return 0, fmt.Errorf("native: empty library path")
	}
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return 0, fmt.Errorf("native: open %s: %w", path, err)
	}
	return Handle(h), nil
}

func Symbol(h Handle, name string) (uintptr, error) {
	addr, err := purego.Dlsym(uintptr(h), name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrNotFound, name, err)
	}
	if addr == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return addr, nil
}

func Close(h Handle) error {
	if err := purego.Dlclose(uintptr(h)); err != nil {
		return fmt.Errorf("native: close library: %w", err)
	}
	return nil
}
