//go:build ignore

// This file demonstrates the public API of the ffi package.
// It is excluded from the build and serves as a reference and compile-time check.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tinyrange/ffi"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	e, err := ffi.New(
		ffi.WithStackSize(1<<20),
		ffi.WithReserve(32<<10),
		ffi.WithLogger(slog.Default()),
	)
	if err != nil {
		return fmt.Errorf("new engine: %w", err)
	}

	// Types can be declared in code or loaded from a YAML declaration file.
	reg := e.Registry()
	if _, err := reg.DefineRecord("Point", []ffi.Field{
		{Name: "x", Type: reg.MustResolve("int")},
		{Name: "y", Type: reg.MustResolve("int")},
	}, ffi.RecordOptions{}); err != nil {
		return err
	}

	libm, err := e.Open("libm.so.6")
	if err != nil {
		return err
	}
	cos, err := libm.Func("double cos(double x)")
	if err != nil {
		return err
	}
	defer cos.Release()
	libm.Close()

	s, err := e.NewSession()
	if err != nil {
		return err
	}
	defer s.Close()

	v, err := s.Call(cos, ffi.Number(0))
	if err != nil {
		return err
	}
	fmt.Println("cos(0) =", v)

	// Marshaling errors name the offending value.
	_, err = s.Call(cos, ffi.String("zero"))
	if errors.Is(err, ffi.ErrTypeMismatch) {
		fmt.Println(err)
	}
	return nil
}
