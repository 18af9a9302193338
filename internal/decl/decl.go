// Package decl reads declaration files: YAML documents that describe the
// types and library functions a program wants to call.
//
//	arena: {stackSize: 1048576, reserve: 32768}
//	types:
//	  - name: Point
//	    record:
//	      - {name: x, type: int}
//	      - {name: y, type: int}
//	  - {name: Vec3, array: {of: float, len: 3}}
//	  - {name: FILE, opaque: true}
//	  - {name: Compare, callback: "int (const void *a, const void *b)"}
//	libraries:
//	  - path: libm.so.6
//	    functions:
//	      - "double cos(double x)"
//	      - {prototype: "void fill(Pair *p)", realign: 4}
package decl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/ffi/internal/ctype"
)

var ErrInvalid = errors.New("invalid declaration")

type File struct {
	Arena      ArenaConfig   `yaml:"arena,omitempty"`
	Convention string        `yaml:"convention,omitempty"`
	Types      []TypeDecl    `yaml:"types,omitempty"`
	Libraries  []LibraryDecl `yaml:"libraries,omitempty"`
}

type ArenaConfig struct {
	StackSize int `yaml:"stackSize,omitempty"`
	Reserve   int `yaml:"reserve,omitempty"`
}

// TypeDecl declares one named type. Exactly one of Record, Array, Opaque,
// Alias and Callback is set.
type TypeDecl struct {
	Name string `yaml:"name"`

	Record []FieldDecl `yaml:"record,omitempty"`
	Pack   bool        `yaml:"pack,omitempty"`

	Array *ArrayDecl `yaml:"array,omitempty"`

	Opaque bool   `yaml:"opaque,omitempty"`
	Alias  string `yaml:"alias,omitempty"`

	// Callback is a function prototype; its own name, if any, is replaced
	// by Name.
	Callback string `yaml:"callback,omitempty"`
}

type FieldDecl struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Align int    `yaml:"align,omitempty"`
}

type ArrayDecl struct {
	Of  string `yaml:"of"`
	Len int    `yaml:"len"`
}

type LibraryDecl struct {
	Path      string         `yaml:"path"`
	Functions []FunctionDecl `yaml:"functions"`
}

// FunctionDecl is a prototype, written either as a plain string or as a
// mapping that also sets the call's alignment floor.
type FunctionDecl struct {
	Prototype string `yaml:"prototype"`
	Realign   int    `yaml:"realign,omitempty"`
}

type functionFields FunctionDecl

func (d *FunctionDecl) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*d = FunctionDecl{}
		return n.Decode(&d.Prototype)
	}
	var f functionFields
	if err := n.Decode(&f); err != nil {
		return err
	}
	*d = FunctionDecl(f)
	return nil
}

func (d FunctionDecl) MarshalYAML() (any, error) {
	if d.Realign == 0 {
		return d.Prototype, nil
	}
	return functionFields(d), nil
}

func (d TypeDecl) kinds() int {
	n := 0
	if len(d.Record) > 0 {
		n++
	}
	if d.Array != nil {
		n++
	}
	if d.Opaque {
		n++
	}
	if d.Alias != "" {
		n++
	}
	if d.Callback != "" {
		n++
	}
	return n
}

// Load reads and validates the declaration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("decl: read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("decl: %s: %w", path, err)
	}
	return f, nil
}

func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.Arena.StackSize < 0 || f.Arena.Reserve < 0 {
		return fmt.Errorf("%w: negative arena size", ErrInvalid)
	}
	seen := make(map[string]bool, len(f.Types))
	for i, t := range f.Types {
		if t.Name == "" {
			return fmt.Errorf("%w: type %d has no name", ErrInvalid, i+1)
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: type %s declared twice", ErrInvalid, t.Name)
		}
		seen[t.Name] = true
		if t.kinds() != 1 {
			return fmt.Errorf("%w: type %s must set exactly one of record, array, opaque, alias or callback", ErrInvalid, t.Name)
		}
		if t.Pack && len(t.Record) == 0 {
			return fmt.Errorf("%w: type %s: pack only applies to records", ErrInvalid, t.Name)
		}
		if t.Array != nil && (t.Array.Of == "" || t.Array.Len <= 0) {
			return fmt.Errorf("%w: type %s: array needs an element type and a positive length", ErrInvalid, t.Name)
		}
	}
	for i, lib := range f.Libraries {
		if lib.Path == "" {
			return fmt.Errorf("%w: library %d has no path", ErrInvalid, i+1)
		}
		for j, fd := range lib.Functions {
			if fd.Prototype == "" {
				return fmt.Errorf("%w: library %s: function %d has no prototype", ErrInvalid, lib.Path, j+1)
			}
			if fd.Realign < 0 {
				return fmt.Errorf("%w: library %s: function %d: negative realign", ErrInvalid, lib.Path, j+1)
			}
		}
	}
	return nil
}

// Apply registers the declared types in reg. Records are forward declared
// first, so they may point at each other regardless of order.
func (f *File) Apply(reg *ctype.Registry) error {
	for _, t := range f.Types {
		if len(t.Record) > 0 || t.Opaque {
			if _, err := reg.Opaque(t.Name); err != nil {
				return fmt.Errorf("decl: type %s: %w", t.Name, err)
			}
		}
	}

	for _, t := range f.Types {
		if err := apply(reg, t); err != nil {
			return fmt.Errorf("decl: type %s: %w", t.Name, err)
		}
	}
	return nil
}

func apply(reg *ctype.Registry, t TypeDecl) error {
	switch {
	case t.Opaque:
		return nil

	case len(t.Record) > 0:
		fields := make([]ctype.Field, len(t.Record))
		for i, fd := range t.Record {
			ft, err := reg.ParseType(fd.Type)
			if err != nil {
				return fmt.Errorf("member %s: %w", fd.Name, err)
			}
			fields[i] = ctype.Field{Name: fd.Name, Type: ft, Align: fd.Align}
		}
		_, err := reg.DefineRecord(t.Name, fields, ctype.RecordOptions{Packed: t.Pack})
		return err

	case t.Array != nil:
		elem, err := reg.ParseType(t.Array.Of)
		if err != nil {
			return err
		}
		arr, err := reg.ArrayOf(elem, t.Array.Len)
		if err != nil {
			return err
		}
		return reg.Alias(t.Name, arr.Name)

	case t.Callback != "":
		proto, err := reg.ParsePrototype(t.Callback)
		if i := strings.IndexByte(t.Callback, '('); err != nil && i >= 0 {
			// Unnamed, as in "int (const void *a, const void *b)".
			proto, err = reg.ParsePrototype(t.Callback[:i] + " " + t.Name + t.Callback[i:])
		}
		if err != nil {
			return err
		}
		_, err = reg.DefineCallback(t.Name, proto)
		return err

	default:
		target, err := reg.ParseType(t.Alias)
		if err != nil {
			return err
		}
		return reg.Alias(t.Name, target.Name)
	}
}

// Write encodes f as YAML.
func (f *File) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("decl: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("decl: encode: %w", err)
	}
	return nil
}
