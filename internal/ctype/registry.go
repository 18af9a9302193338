package ctype

import (
	"fmt"
	"sync"
)

// DataModel selects the width of the C types whose size depends on the
// platform ABI.
type DataModel int

const (
	// LP64 is used by 64-bit POSIX systems: long and pointers are 8 bytes.
	LP64 DataModel = iota
	// LLP64 is used by 64-bit Windows: long stays 4 bytes.
	LLP64
)

func (m DataModel) String() string {
	if m == LLP64 {
		return "LLP64"
	}
	return "LP64"
}

// PointerSize is the size and alignment of every address-carrying type.
const PointerSize = 8

// Registry interns types by name. It is filled once when signatures are
// declared and only read afterwards; lookups are safe from any goroutine.
type Registry struct {
	mu    sync.RWMutex
	model DataModel
	types map[string]*Type
}

// NewRegistry returns a registry holding the primitive types and the usual C
// spellings for them.
func NewRegistry(model DataModel) *Registry {
	r := &Registry{model: model, types: make(map[string]*Type)}

	prim := func(name string, kind Kind, size int) *Type {
		align := size
		if align == 0 {
			align = 1
		}
		t := &Type{Name: name, Kind: kind, Size: size, Align: align}
		r.types[name] = t
		return t
	}

	void := prim("void", Void, 0)
	prim("bool", Bool, 1)
	i8 := prim("int8_t", Int8, 1)
	u8 := prim("uint8_t", UInt8, 1)
	i16 := prim("int16_t", Int16, 2)
	u16 := prim("uint16_t", UInt16, 2)
	i32 := prim("int32_t", Int32, 4)
	u32 := prim("uint32_t", UInt32, 4)
	i64 := prim("int64_t", Int64, 8)
	u64 := prim("uint64_t", UInt64, 8)
	f32 := prim("float", Float32, 4)
	f64 := prim("double", Float64, 8)
	str := prim("string", String, PointerSize)
	str16 := prim("string16", String16, PointerSize)

	long, ulong := i64, u64
	if model == LLP64 {
		long, ulong = i32, u32
	}

	aliases := map[string]*Type{
		"_Bool":              r.types["bool"],
		"char":               i8,
		"signed char":        i8,
		"unsigned char":      u8,
		"uchar":              u8,
		"char16_t":           u16,
		"wchar_t":            u16,
		"short":              i16,
		"signed short":       i16,
		"short int":          i16,
		"unsigned short":     u16,
		"unsigned short int": u16,
		"ushort":             u16,
		"int":                i32,
		"signed":             i32,
		"signed int":         i32,
		"unsigned":           u32,
		"unsigned int":       u32,
		"uint":               u32,
		"long":               long,
		"long int":           long,
		"signed long":        long,
		"unsigned long":      ulong,
		"unsigned long int":  ulong,
		"ulong":              ulong,
		"long long":          i64,
		"long long int":      i64,
		"signed long long":   i64,
		"unsigned long long": u64,
		"ulonglong":          u64,
		"int8":               i8,
		"uint8":              u8,
		"int16":              i16,
		"uint16":             u16,
		"int32":              i32,
		"uint32":             u32,
		"int64":              i64,
		"uint64":             u64,
		"intptr_t":           i64,
		"intptr":             i64,
		"uintptr_t":          u64,
		"uintptr":            u64,
		"size_t":             u64,
		"ssize_t":            i64,
		"float32":            f32,
		"float64":            f64,
		"str":                str,
		"str16":              str16,
	}
	for name, t := range aliases {
		r.types[name] = t
	}

	vp := &Type{Name: "void *", Kind: Pointer, Size: PointerSize, Align: PointerSize, Element: void}
	r.types[vp.Name] = vp
	r.types["pointer"] = vp

	return r
}

// Model returns the data model the registry was built for.
func (r *Registry) Model() DataModel { return r.model }

// Resolve returns the type registered under name.
func (r *Registry) Resolve(name string) (*Type, error) {
	r.mu.RLock()
	t, ok := r.types[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ctype: %w %q", ErrUnknownType, name)
	}
	return t, nil
}

// MustResolve is like Resolve but panics when the type is missing. It is
// meant for built-in names.
func (r *Registry) MustResolve(name string) *Type {
	t, err := r.Resolve(name)
	if err != nil {
		panic(err)
	}
	return t
}

// Register adds an already constructed type under its own name.
func (r *Registry) Register(t *Type) error {
	if t == nil {
		return fmt.Errorf("ctype: %w: nil type", ErrInvalidType)
	}
	if err := t.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[t.Name]; exists {
		return fmt.Errorf("ctype: %w: %q", ErrDuplicateType, t.Name)
	}
	r.types[t.Name] = t
	return nil
}

// Alias makes alias resolve to the same descriptor as name.
func (r *Registry) Alias(alias, name string) error {
	t, err := r.Resolve(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, exists := r.types[alias]; exists {
		if existing == t {
			return nil
		}
		return fmt.Errorf("ctype: %w: %q", ErrDuplicateType, alias)
	}
	r.types[alias] = t
	return nil
}

// Opaque forward-declares a record that can be referenced through pointers
// before (or without ever) being defined. Declaring an existing name returns
// the existing type.
func (r *Registry) Opaque(name string) (*Type, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.types[name]; ok {
		if t.Kind != Record {
			return nil, fmt.Errorf("ctype: %w: %q is a %s", ErrDuplicateType, name, t.Kind)
		}
		return t, nil
	}
	t := &Type{Name: name, Kind: Record, Align: 1, incomplete: true}
	r.types[name] = t
	return t, nil
}

// DefineRecord lays out a record and registers it. An opaque declaration of
// the same name is completed in place so pointers created earlier see the
// final layout. Defining a complete record again with the same layout
// returns the existing type.
func (r *Registry) DefineRecord(name string, fields []Field, opts RecordOptions) (*Type, error) {
	if name == "" {
		t, err := newRecord("<anonymous>", fields, opts)
		return t, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.types[name]; ok {
		if existing.Kind != Record {
			return nil, fmt.Errorf("ctype: %w: %q", ErrDuplicateType, name)
		}
		if existing.Complete() {
			t, err := newRecord(name, fields, opts)
			if err != nil {
				return nil, err
			}
			if !sameLayout(existing, t) {
				return nil, fmt.Errorf("ctype: %w: %q with a different layout", ErrDuplicateType, name)
			}
			return existing, nil
		}
		if err := existing.layout(fields, opts); err != nil {
			return nil, err
		}
		return existing, nil
	}

	t, err := newRecord(name, fields, opts)
	if err != nil {
		return nil, err
	}
	r.types[name] = t
	return t, nil
}

func sameLayout(a, b *Type) bool {
	if a.Size != b.Size || a.Align != b.Align || len(a.Members) != len(b.Members) {
		return false
	}
	for i, m := range a.Members {
		if m != b.Members[i] {
			return false
		}
	}
	return true
}

func sameSignature(a, b *Prototype) bool {
	if a.Ret != b.Ret || len(a.Params) != len(b.Params) {
		return false
	}
	for i, p := range a.Params {
		if p.Type != b.Params[i].Type {
			return false
		}
	}
	return true
}

// DefineCallback registers a function pointer type whose values native code
// calls with the signature of proto. The prototype's own name is replaced
// by name. Parameters of a callback are always inputs.
func (r *Registry) DefineCallback(name string, proto *Prototype) (*Type, error) {
	if name == "" {
		return nil, fmt.Errorf("ctype: %w: unnamed callback", ErrInvalidType)
	}
	for i, p := range proto.Params {
		if p.Direction != In {
			return nil, fmt.Errorf("ctype: callback %s: %w: parameter %d is %s", name, ErrInvalidType, i+1, p.Direction)
		}
	}
	sig := *proto
	sig.Name = name
	t := &Type{
		Name:      name,
		Kind:      Callback,
		Size:      PointerSize,
		Align:     PointerSize,
		Signature: &sig,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.types[name]; ok {
		if existing.Kind == Callback && sameSignature(existing.Signature, &sig) {
			return existing, nil
		}
		return nil, fmt.Errorf("ctype: %w: %q", ErrDuplicateType, name)
	}
	r.types[name] = t
	return t, nil
}

// ParseCallback parses a prototype such as "int Compare(const void *a,
// const void *b)" and registers it as a callback type named after the
// function.
func (r *Registry) ParseCallback(src string) (*Type, error) {
	proto, err := r.ParsePrototype(src)
	if err != nil {
		return nil, err
	}
	return r.DefineCallback(proto.Name, proto)
}

// ArrayOf returns the interned array type of n elems.
func (r *Registry) ArrayOf(elem *Type, n int) (*Type, error) {
	t, err := newArray(elem, n)
	if err != nil {
		return nil, err
	}
	return r.intern(t), nil
}

// PointerTo returns the interned pointer type to elem.
func (r *Registry) PointerTo(elem *Type) *Type {
	return r.intern(&Type{
		Name:    pointerName(elem),
		Kind:    Pointer,
		Size:    PointerSize,
		Align:   PointerSize,
		Element: elem,
	})
}

func (r *Registry) intern(t *Type) *Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.types[t.Name]; ok {
		return existing
	}
	r.types[t.Name] = t
	return t
}

// Names returns the number of registered names, aliases included.
func (r *Registry) Names() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
