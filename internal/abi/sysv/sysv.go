// Package sysv classifies signatures for the System V x86-64 calling
// convention used on Linux, the BSDs and macOS.
package sysv

import (
	"github.com/tinyrange/ffi/internal/abi"
	"github.com/tinyrange/ffi/internal/ctype"
)

const (
	gprArgs = 6 // rdi rsi rdx rcx r8 r9
	vecArgs = 8 // xmm0-xmm7
)

type eightbyte uint8

const (
	classNone eightbyte = iota
	classInteger
	classSSE
	classMemory
)

type classifier struct{}

func init() {
	abi.RegisterClassifier(classifier{})
}

func (classifier) Convention() abi.Convention { return abi.ConventionSysV }
func (classifier) DataModel() ctype.DataModel { return ctype.LP64 }

// classify returns the class of each eightbyte of t, or a single
// classMemory when t is passed in memory.
func classify(t *ctype.Type) []eightbyte {
	if t.Size == 0 {
		return nil
	}
	if t.Size > 16 || !abi.Aligned(t) {
		return []eightbyte{classMemory}
	}

	classes := make([]eightbyte, (t.Size+7)/8)
	t.Walk(func(off int, leaf *ctype.Type) bool {
		i := off / 8
		c := classInteger
		if leaf.Kind.IsFloat() {
			c = classSSE
		}
		// INTEGER wins when an eightbyte mixes both.
		if classes[i] == classNone || c == classInteger {
			classes[i] = c
		}
		return true
	})
	for i, c := range classes {
		// Trailing padding eightbytes never carry data.
		if c == classNone {
			classes[i] = classSSE
		}
	}
	return classes
}

func count(classes []eightbyte) abi.Class {
	var c abi.Class
	for i, e := range classes {
		switch e {
		case classInteger:
			c.GPRCount++
			if i == 0 {
				c.GPRFirst = true
			}
		case classSSE:
			c.VecCount++
		}
	}
	c.Float = len(classes) == 1 && c.VecCount == 1
	return c
}

func isMemory(classes []eightbyte) bool {
	return len(classes) == 1 && classes[0] == classMemory
}

func (classifier) ClassifyFunction(ret *ctype.Type, params []*ctype.Type) (abi.FunctionClass, error) {
	if err := abi.CheckReturn(ret); err != nil {
		return abi.FunctionClass{}, err
	}

	var fc abi.FunctionClass
	gpr, vec := gprArgs, vecArgs

	rc := classify(ret)
	if isMemory(rc) {
		fc.Ret = abi.Class{RetStack: true}
		gpr-- // hidden pointer in rdi
	} else {
		fc.Ret = count(rc)
	}

	fc.Params = make([]abi.Class, len(params))
	for i, p := range params {
		if err := abi.CheckParam(p); err != nil {
			return abi.FunctionClass{}, err
		}
		pc := classify(p)
		if isMemory(pc) {
			fc.Params[i] = abi.Class{Stack: true}
			fc.StackSlots += (p.Size + 7) / 8
			continue
		}
		c := count(pc)
		if c.GPRCount > gpr || c.VecCount > vec {
			// Aggregates are never split between registers and stack.
			fc.Params[i] = abi.Class{Stack: true, Float: c.Float}
			fc.StackSlots += len(pc)
			continue
		}
		gpr -= c.GPRCount
		vec -= c.VecCount
		fc.Params[i] = c
	}

	fc.GPRUsed = gprArgs - gpr
	fc.VecUsed = vecArgs - vec
	return fc, nil
}
