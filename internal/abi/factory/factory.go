// Package factory registers every calling convention this module knows.
package factory

import (
	"github.com/tinyrange/ffi/internal/abi"

	_ "github.com/tinyrange/ffi/internal/abi/aapcs64"
	_ "github.com/tinyrange/ffi/internal/abi/sysv"
	_ "github.com/tinyrange/ffi/internal/abi/win64"
)

// Classifier returns the classifier for conv, or for the running platform
// when conv is empty.
func Classifier(conv abi.Convention) (abi.Classifier, error) {
	if conv == "" {
		return abi.Default()
	}
	return abi.Lookup(conv)
}
