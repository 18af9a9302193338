//go:build !(darwin || freebsd || linux || netbsd || windows)

package native

func Open(path string) (Handle, error)              { return 0, ErrUnsupported }
func Symbol(h Handle, name string) (uintptr, error) { return 0, ErrUnsupported }
func Close(h Handle) error                          { return ErrUnsupported }
func NewInvoker() Invoker                           { return InvokerFunc(func(*Call) error { return ErrUnsupported }) }
