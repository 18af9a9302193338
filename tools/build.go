///usr/bin/true; exec /usr/bin/env go run "$0" "$@"

//go:build ignore

// build cross-compiles the ffi command for every platform that has a
// calling convention.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const PACKAGE_NAME = "github.com/tinyrange/ffi"

type crossBuild struct {
	GOOS   string
	GOARCH string
}

func (cb crossBuild) IsNative() bool {
	return cb.GOOS == runtime.GOOS && cb.GOARCH == runtime.GOARCH
}

func (cb crossBuild) OutputName(name string) string {
	if cb.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(cb.GOOS+"_"+cb.GOARCH, name)
}

// platforms lists the targets with a calling convention: sysv, win64 and
// aapcs64.
var platforms = []crossBuild{
	{"linux", "amd64"},
	{"linux", "arm64"},
	{"darwin", "amd64"},
	{"darwin", "arm64"},
	{"freebsd", "amd64"},
	{"windows", "amd64"},
	{"windows", "arm64"},
}

func goBuild(cb crossBuild, outputDir string, dryRun bool) error {
	output := filepath.Join(outputDir, cb.OutputName("ffi"))
	args := []string{"go", "build", "-trimpath", "-o", output, PACKAGE_NAME + "/cmd/ffi"}

	env := append(os.Environ(), "GOOS="+cb.GOOS, "GOARCH="+cb.GOARCH, "CGO_ENABLED=0")

	fmt.Printf("%s/%s: %s\n", cb.GOOS, cb.GOARCH, strings.Join(args, " "))
	if dryRun {
		return nil
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build %s/%s: %w", cb.GOOS, cb.GOARCH, err)
	}
	return nil
}

func runTests(dryRun bool) error {
	args := []string{"go", "test", "./..."}
	fmt.Println(strings.Join(args, " "))
	if dryRun {
		return nil
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func main() {
	outputDir := flag.String("o", "build", "output directory")
	all := flag.Bool("all", false, "build every supported platform instead of the host only")
	test := flag.Bool("test", false, "run the test suite before building")
	dryRun := flag.Bool("dry-run", false, "show what would be done without executing")
	flag.Parse()

	if *test {
		if err := runTests(*dryRun); err != nil {
			fmt.Fprintf(os.Stderr, "error: tests failed: %v\n", err)
			os.Exit(1)
		}
	}

	built := 0
	for _, cb := range platforms {
		if !*all && !cb.IsNative() {
			continue
		}
		if err := goBuild(cb, *outputDir, *dryRun); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		built++
	}
	if built == 0 {
		fmt.Fprintf(os.Stderr, "error: %s/%s has no calling convention, use -all\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(1)
	}
}
