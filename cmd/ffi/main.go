// Command ffi calls functions in shared libraries from the command line.
//
// Types and functions come from a YAML declaration file; arguments are
// given as a YAML flow sequence and the result is printed as YAML.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/tinyrange/ffi"
)

func run() error {
	declPath := flag.String("decl", "", "YAML declaration file (required)")
	call := flag.String("call", "", "name of the function to call")
	args := flag.String("args", "[]", "arguments as a YAML flow sequence, e.g. '[1.5, \"text\", {x: 1, y: 2}]'")
	list := flag.Bool("list", false, "list the declared functions and how their arguments are passed")
	dump := flag.Bool("dump", false, "dump argument and return memory to stderr")
	convention := flag.String("convention", "", "calling convention to classify for (sysv, win64, aapcs64); defaults to the host")
	verbose := flag.Bool("v", false, "enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `ffi - call native functions described by a declaration file

USAGE:
  ffi -decl FILE -call NAME [-args '[...]'] [flags]
  ffi -decl FILE -list

FLAGS:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
ARGUMENTS:
  Numbers, strings, booleans and null map to themselves; sequences become
  arrays and mappings become records. Pointers are written as
  !handle "0x7f001000:FILE" (address and pointee type).

EXAMPLES:
  ffi -decl libm.yaml -call cos -args '[0.5]'
  ffi -decl shapes.yaml -call area -args '[{origin: {x: 0, y: 0}, size: {x: 2, y: 3}}]'
  ffi -decl shapes.yaml -list
`)
	}
	flag.Parse()

	if *declPath == "" || (*call == "" && !*list) {
		flag.Usage()
		os.Exit(1)
	}

	if *verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	decls, err := ffi.LoadDeclarations(*declPath)
	if err != nil {
		return err
	}

	opts := []ffi.Option{
		ffi.WithStackSize(decls.Arena.StackSize),
		ffi.WithReserve(decls.Arena.Reserve),
		ffi.WithLogger(slog.Default()),
	}
	if *convention == "" {
		*convention = decls.Convention
	}
	if *convention != "" {
		opts = append(opts, ffi.WithConvention(ffi.Convention(*convention)))
	}
	if *dump {
		opts = append(opts, ffi.WithDebugDump(os.Stderr))
	}

	engine, err := ffi.New(opts...)
	if err != nil {
		return err
	}
	funcs, err := engine.Declare(decls)
	if err != nil {
		return err
	}
	defer func() {
		for _, fn := range funcs {
			fn.Release()
		}
	}()

	if *list {
		return listFunctions(os.Stdout, engine, funcs)
	}

	fn, ok := funcs[*call]
	if !ok {
		return fmt.Errorf("function %q is not declared in %s", *call, *declPath)
	}
	values, err := parseArgs(*args)
	if err != nil {
		return err
	}

	session, err := engine.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	result, err := session.Call(fn, values...)
	if err != nil {
		return err
	}

	out := []field{{"result", result}}
	for i, p := range fn.Params {
		if p.Direction != ffi.In {
			out = append(out, field{paramName(i, p), values[i]})
		}
	}
	return writeResult(os.Stdout, out)
}

func paramName(i int, p ffi.ParameterDescriptor) string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("param%d", i+1)
}

func listFunctions(w io.Writer, engine *ffi.Engine, funcs map[string]*ffi.FunctionDescriptor) error {
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn := funcs[name]
		fmt.Fprintf(w, "%s\n", fn)
		fmt.Fprintf(w, "  convention %s, %d gpr, %d vector, %d stack slots\n",
			fn.Convention, fn.Class.GPRUsed, fn.Class.VecUsed, fn.Class.StackSlots)
		for i, p := range fn.Params {
			fmt.Fprintf(w, "  %-10s %-20s %s\n", paramName(i, p), p.Type.Name, p.Class)
		}
		fmt.Fprintf(w, "  %-10s %-20s %s\n", "return", fn.Ret.Type.Name, fn.Ret.Class)
		if fn.Realign != 0 {
			fmt.Fprintf(w, "  realign %d\n", fn.Realign)
		}
	}
	fmt.Fprintf(w, "%d functions, %d type names registered\n", len(funcs), engine.Registry().Names())
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ffi: %v\n", err)
		os.Exit(1)
	}
}
