// Package aapcs64 classifies signatures for the 64-bit Arm procedure call
// standard.
package aapcs64

import (
	"github.com/tinyrange/ffi/internal/abi"
	"github.com/tinyrange/ffi/internal/ctype"
)

const (
	gprArgs = 8 // x0-x7
	vecArgs = 8 // v0-v7

	maxHFAMembers = 4
)

type classifier struct{}

func init() {
	abi.RegisterClassifier(classifier{})
}

func (classifier) Convention() abi.Convention { return abi.ConventionAAPCS64 }
func (classifier) DataModel() ctype.DataModel { return ctype.LP64 }

// IsHFA reports whether t is an aggregate of one to four leaves that all
// share the same floating point type, and returns the leaf count.
func IsHFA(t *ctype.Type) (int, bool) {
	if !t.Kind.IsAggregate() {
		return 0, false
	}
	var kind ctype.Kind
	n := 0
	ok := t.Walk(func(off int, leaf *ctype.Type) bool {
		if !leaf.Kind.IsFloat() || (n > 0 && leaf.Kind != kind) || off != n*leaf.Size {
			return false
		}
		kind = leaf.Kind
		n++
		return n <= maxHFAMembers
	})
	return n, ok && n > 0
}

func classify(t *ctype.Type) abi.Class {
	if t.Kind.IsFloat() {
		return abi.Class{Float: true, VecCount: 1}
	}
	if n, ok := IsHFA(t); ok {
		return abi.Class{HFA: true, VecCount: n}
	}
	if t.Size > 16 {
		return abi.Class{ByRef: true, GPRCount: 1, GPRFirst: true}
	}
	return abi.Class{GPRCount: max(1, (t.Size+7)/8), GPRFirst: true}
}

func (classifier) ClassifyFunction(ret *ctype.Type, params []*ctype.Type) (abi.FunctionClass, error) {
	if err := abi.CheckReturn(ret); err != nil {
		return abi.FunctionClass{}, err
	}

	var fc abi.FunctionClass
	if ret.Kind != ctype.Void {
		rc := classify(ret)
		if rc.ByRef {
			// Written through x8, which is not an argument register.
			rc = abi.Class{RetStack: true}
		}
		fc.Ret = rc
	}

	gpr, vec := gprArgs, vecArgs
	fc.Params = make([]abi.Class, len(params))
	for i, p := range params {
		if err := abi.CheckParam(p); err != nil {
			return abi.FunctionClass{}, err
		}
		c := classify(p)
		switch {
		case c.VecCount > 0 && c.VecCount > vec:
			// Once a floating point argument spills, later ones do too.
			vec = 0
			fc.StackSlots += (p.Size + 7) / 8
			c = abi.Class{Stack: true, Float: c.Float, HFA: c.HFA}
		case c.GPRCount > gpr:
			gpr = 0
			if c.ByRef {
				fc.StackSlots++
			} else {
				fc.StackSlots += (p.Size + 7) / 8
			}
			c = abi.Class{Stack: true, ByRef: c.ByRef}
		default:
			gpr -= c.GPRCount
			vec -= c.VecCount
		}
		fc.Params[i] = c
	}

	fc.GPRUsed = gprArgs - gpr
	fc.VecUsed = vecArgs - vec
	return fc, nil
}
