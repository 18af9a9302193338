// Package ctype describes native C types: their kind, size, alignment and
// (for records and arrays) their layout. Types are built once, interned by
// name in a Registry, and are read-only afterwards.
package ctype

import (
	"errors"
	"fmt"
	"strings"
)

// MaxAlign is the largest natural alignment any supported platform uses.
const MaxAlign = 16

var (
	ErrUnknownType   = errors.New("unknown type")
	ErrDuplicateType = errors.New("type already defined")
	ErrInvalidType   = errors.New("invalid type")
)

type Kind uint8

const (
	Void Kind = iota
	Bool
	Int8
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Float32
	Float64
	String
	String16
	Pointer
	Array
	Record
	Callback
)

var kindNames = [...]string{
	Void:     "void",
	Bool:     "bool",
	Int8:     "int8",
	UInt8:    "uint8",
	Int16:    "int16",
	UInt16:   "uint16",
	Int32:    "int32",
	UInt32:   "uint32",
	Int64:    "int64",
	UInt64:   "uint64",
	Float32:  "float32",
	Float64:  "float64",
	String:   "string",
	String16: "string16",
	Pointer:  "pointer",
	Array:    "array",
	Record:   "record",
	Callback: "callback",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsInteger reports whether k is one of the fixed-width integer kinds.
func (k Kind) IsInteger() bool { return k >= Int8 && k <= UInt64 }

// IsSigned reports whether k is a signed integer kind.
func (k Kind) IsSigned() bool {
	switch k {
	case Int8, Int16, Int32, Int64:
		return true
	}
	return false
}

func (k Kind) IsFloat() bool { return k == Float32 || k == Float64 }

// IsAddress reports whether values of kind k are passed as a machine address.
func (k Kind) IsAddress() bool {
	return k == String || k == String16 || k == Pointer || k == Callback
}

// IsAggregate reports whether k is laid out from other types.
func (k Kind) IsAggregate() bool { return k == Array || k == Record }

// Member is one field of a record, in layout order.
type Member struct {
	Name string
	Type *Type

	// Align is the alignment the member is placed at. It defaults to the
	// member type's alignment; packed records use 1.
	Align int

	// Offset is the byte offset of the member with no extra alignment floor.
	Offset int
}

// Type describes one native type.
//
// Array length is not stored: it is Size / Element.Size, and constructors
// guarantee Size is an exact multiple of the element size.
type Type struct {
	Name  string
	Kind  Kind
	Size  int
	Align int

	Members   []Member   // Record
	Element   *Type      // Array, Pointer
	Signature *Prototype // Callback

	incomplete bool
}

func (t *Type) String() string { return t.Name }

// Len returns the element count of an array type and 0 for anything else.
func (t *Type) Len() int {
	if t.Kind != Array || t.Element == nil || t.Element.Size == 0 {
		return 0
	}
	return t.Size / t.Element.Size
}

// Complete reports whether the type has a known layout. Forward-declared
// records are incomplete until defined and may only be used behind pointers.
func (t *Type) Complete() bool { return !t.incomplete }

// Member returns the member with the given name.
func (t *Type) Member(name string) (Member, bool) {
	for _, m := range t.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// IsVoidPointer reports whether t is an untyped pointer.
func (t *Type) IsVoidPointer() bool {
	return t.Kind == Pointer && (t.Element == nil || t.Element.Kind == Void)
}

// AlignUp rounds off up to a multiple of align. Alignments below 2 leave off
// untouched.
func AlignUp(off, align int) int {
	if align <= 1 {
		return off
	}
	return (off + align - 1) / align * align
}

// Floor returns the effective alignment of a value with natural alignment
// align under a packing floor.
func Floor(align, realign int) int {
	return max(align, realign)
}

// SizeAt returns the number of bytes t occupies when every member and
// element is placed at max(natural alignment, realign). With realign <= the
// natural alignments it equals t.Size.
func (t *Type) SizeAt(realign int) int {
	if realign <= 1 {
		return t.Size
	}
	switch t.Kind {
	case Record:
		off := 0
		align := t.Align
		for _, m := range t.Members {
			a := Floor(m.Align, realign)
			off = AlignUp(off, a) + m.Type.SizeAt(realign)
			align = max(align, a)
		}
		return AlignUp(off, Floor(align, realign))
	case Array:
		off := 0
		a := Floor(t.Element.Align, realign)
		for i := 0; i < t.Len(); i++ {
			off = AlignUp(off, a) + t.Element.SizeAt(realign)
		}
		return off
	default:
		return t.Size
	}
}

// StrideAt returns the distance between consecutive elements of type t
// placed one after the other under realign.
func (t *Type) StrideAt(realign int) int {
	return AlignUp(t.SizeAt(realign), Floor(t.Align, realign))
}

// KeepsLayout reports whether every member and element of t stays at its
// natural offset under realign.
func (t *Type) KeepsLayout(realign int) bool {
	if realign <= 1 {
		return true
	}
	switch t.Kind {
	case Record:
		off := 0
		for _, m := range t.Members {
			off = AlignUp(off, Floor(m.Align, realign))
			if off != m.Offset || !m.Type.KeepsLayout(realign) {
				return false
			}
			off += m.Type.Size
		}
		return t.SizeAt(realign) == t.Size
	case Array:
		elem := t.Element
		return elem.KeepsLayout(realign) && AlignUp(elem.Size, Floor(elem.Align, realign)) == elem.Size
	default:
		return true
	}
}

// Walk visits every scalar leaf of t (anything that is not a record or an
// array) with its byte offset under the natural layout.
func (t *Type) Walk(fn func(offset int, leaf *Type) bool) bool {
	return t.walk(0, fn)
}

func (t *Type) walk(base int, fn func(int, *Type) bool) bool {
	switch t.Kind {
	case Record:
		for _, m := range t.Members {
			if !m.Type.walk(base+m.Offset, fn) {
				return false
			}
		}
		return true
	case Array:
		for i := 0; i < t.Len(); i++ {
			if !t.Element.walk(base+i*t.Element.Size, fn) {
				return false
			}
		}
		return true
	default:
		return fn(base, t)
	}
}

// HasFloat reports whether any leaf of t is a floating point value.
func (t *Type) HasFloat() bool {
	found := false
	t.Walk(func(_ int, leaf *Type) bool {
		found = leaf.Kind.IsFloat()
		return !found
	})
	return found
}

// Field describes a record member before layout.
type Field struct {
	Name string
	Type *Type

	// Align overrides the member alignment when non-zero.
	Align int
}

// RecordOptions tweak record layout.
type RecordOptions struct {
	// Packed places every member at alignment 1.
	Packed bool
}

func newRecord(name string, fields []Field, opts RecordOptions) (*Type, error) {
	t := &Type{Name: name, Kind: Record}
	if err := t.layout(fields, opts); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Type) layout(fields []Field, opts RecordOptions) error {
	if len(fields) == 0 {
		return fmt.Errorf("ctype: record %s: %w: no members", t.Name, ErrInvalidType)
	}

	members := make([]Member, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	off := 0
	align := 1
	for _, f := range fields {
		switch {
		case f.Name == "":
			return fmt.Errorf("ctype: record %s: %w: unnamed member", t.Name, ErrInvalidType)
		case seen[f.Name]:
			return fmt.Errorf("ctype: record %s: %w: duplicate member %q", t.Name, ErrInvalidType, f.Name)
		case f.Type == nil:
			return fmt.Errorf("ctype: record %s: %w: member %q has no type", t.Name, ErrInvalidType, f.Name)
		case f.Type.Kind == Void || !f.Type.Complete():
			return fmt.Errorf("ctype: record %s: %w: member %q has incomplete type %s", t.Name, ErrInvalidType, f.Name, f.Type.Name)
		case f.Align < 0 || f.Align > MaxAlign || f.Align&(f.Align-1) != 0:
			return fmt.Errorf("ctype: record %s: %w: member %q alignment %d", t.Name, ErrInvalidType, f.Name, f.Align)
		}
		seen[f.Name] = true

		a := f.Type.Align
		if opts.Packed {
			a = 1
		}
		if f.Align != 0 {
			a = f.Align
		}
		off = AlignUp(off, a)
		members = append(members, Member{Name: f.Name, Type: f.Type, Align: a, Offset: off})
		off += f.Type.Size
		align = max(align, a)
	}

	t.Members = members
	t.Align = align
	t.Size = AlignUp(off, align)
	t.incomplete = false
	return nil
}

func newArray(elem *Type, n int) (*Type, error) {
	if elem == nil || elem.Kind == Void || !elem.Complete() {
		return nil, fmt.Errorf("ctype: %w: array of incomplete type", ErrInvalidType)
	}
	if n <= 0 {
		return nil, fmt.Errorf("ctype: %w: array of %s needs a positive length, got %d", ErrInvalidType, elem.Name, n)
	}
	return &Type{
		Name:    fmt.Sprintf("%s[%d]", elem.Name, n),
		Kind:    Array,
		Size:    elem.Size * n,
		Align:   elem.Align,
		Element: elem,
	}, nil
}

func pointerName(elem *Type) string {
	if strings.HasSuffix(elem.Name, "*") {
		return elem.Name + "*"
	}
	return elem.Name + " *"
}

// validate checks the invariants every registered type must hold.
func (t *Type) validate() error {
	if t.Name == "" {
		return fmt.Errorf("ctype: %w: unnamed type", ErrInvalidType)
	}
	if t.Align < 1 || t.Align > MaxAlign || t.Align&(t.Align-1) != 0 {
		return fmt.Errorf("ctype: %s: %w: alignment %d", t.Name, ErrInvalidType, t.Align)
	}
	switch t.Kind {
	case Array:
		if t.Element == nil || t.Element.Size == 0 {
			return fmt.Errorf("ctype: %s: %w: array without element", t.Name, ErrInvalidType)
		}
		if t.Size == 0 || t.Size%t.Element.Size != 0 {
			return fmt.Errorf("ctype: %s: %w: size %d is not a multiple of %s (%d)",
				t.Name, ErrInvalidType, t.Size, t.Element.Name, t.Element.Size)
		}
	case Pointer:
		if t.Element == nil {
			return fmt.Errorf("ctype: %s: %w: pointer without element", t.Name, ErrInvalidType)
		}
	case Callback:
		if t.Signature == nil {
			return fmt.Errorf("ctype: %s: %w: callback without signature", t.Name, ErrInvalidType)
		}
	case Record:
		if t.incomplete {
			return nil
		}
		if t.Size%t.Align != 0 {
			return fmt.Errorf("ctype: %s: %w: size %d not padded to alignment %d", t.Name, ErrInvalidType, t.Size, t.Align)
		}
	}
	return nil
}
