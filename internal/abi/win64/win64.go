// Package win64 classifies signatures for the Microsoft x64 calling
// convention. Every argument takes one 8 byte slot; the first four slots are
// shadowed by rcx, rdx, r8 and r9 (or xmm0-xmm3 for floating point values).
package win64

import (
	"github.com/tinyrange/ffi/internal/abi"
	"github.com/tinyrange/ffi/internal/ctype"
)

const registerSlots = 4

type classifier struct{}

func init() {
	abi.RegisterClassifier(classifier{})
}

func (classifier) Convention() abi.Convention { return abi.ConventionWin64 }
func (classifier) DataModel() ctype.DataModel { return ctype.LLP64 }

// IsRegular reports whether a value of type t fits a single slot. Anything
// else is copied by the caller and passed by reference.
func IsRegular(t *ctype.Type) bool {
	switch t.Size {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

func classify(t *ctype.Type) abi.Class {
	c := abi.Class{
		Regular: IsRegular(t),
		Float:   t.Kind.IsFloat(),
	}
	switch {
	case c.Float:
		c.VecCount = 1
	case c.Regular:
		c.GPRCount = 1
	default:
		c.ByRef = true
		c.GPRCount = 1
	}
	return c
}

func (classifier) ClassifyFunction(ret *ctype.Type, params []*ctype.Type) (abi.FunctionClass, error) {
	if err := abi.CheckReturn(ret); err != nil {
		return abi.FunctionClass{}, err
	}

	var fc abi.FunctionClass
	slot := 0
	switch {
	case ret.Kind == ctype.Void:
	case IsRegular(ret):
		fc.Ret = classify(ret)
	default:
		// The hidden return pointer takes the first slot.
		fc.Ret = abi.Class{RetStack: true}
		fc.GPRUsed++
		slot++
	}

	fc.Params = make([]abi.Class, len(params))
	for i, p := range params {
		if err := abi.CheckParam(p); err != nil {
			return abi.FunctionClass{}, err
		}
		c := classify(p)
		if slot >= registerSlots {
			c.Stack = true
			c.GPRCount, c.VecCount = 0, 0
			fc.StackSlots++
		} else {
			fc.GPRUsed += c.GPRCount
			fc.VecUsed += c.VecCount
		}
		fc.Params[i] = c
		slot++
	}
	return fc, nil
}
