//go:build !(((darwin || freebsd || linux || netbsd) && (amd64 || arm64)) || windows)

package native

import "github.com/tinyrange/ffi/internal/ctype"

type unsupportedTrampolines struct{}

func NewTrampolines() Trampolines { return unsupportedTrampolines{} }

func (unsupportedTrampolines) Acquire(*ctype.Prototype, CallbackFunc) (uintptr, func(), error) {
	return 0, nil, ErrUnsupported
}
