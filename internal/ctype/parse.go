package ctype

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var ErrSyntax = errors.New("syntax error")

// Direction tells which way data flows through a pointer parameter.
type Direction uint8

const (
	In Direction = iota
	Out
	InOut
)

func (d Direction) String() string {
	switch d {
	case Out:
		return "out"
	case InOut:
		return "inout"
	default:
		return "in"
	}
}

// Param is one parameter of a parsed prototype.
type Param struct {
	Name      string
	Type      *Type
	Direction Direction
}

// Prototype is a parsed C function declaration.
type Prototype struct {
	Name   string
	Ret    *Type
	Params []Param
}

func (p *Prototype) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s(", p.Ret.Name, p.Name)
	for i, param := range p.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		if ann := annotations[param.Direction]; ann != "" {
			b.WriteString(ann + " ")
		}
		b.WriteString(param.Type.Name)
		if param.Name != "" {
			b.WriteString(" " + param.Name)
		}
	}
	b.WriteString(")")
	return b.String()
}

// builtinWords are the keywords that combine into multi-word C type names.
var builtinWords = map[string]bool{
	"unsigned": true,
	"signed":   true,
	"short":    true,
	"long":     true,
	"int":      true,
	"char":     true,
}

var annotations = map[Direction]string{
	Out:   "_Out_",
	InOut: "_Inout_",
}

var directions = map[string]Direction{
	"_In_":    In,
	"_Out_":   Out,
	"_Inout_": InOut,
}

type parser struct {
	reg  *Registry
	src  string
	toks []string
	pos  int
}

func tokenize(src string) ([]string, error) {
	var toks []string
	for i := 0; i < len(src); {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '_' || unicode.IsLetter(c):
			j := i + 1
			for j < len(src) && (src[j] == '_' || unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j]))) {
				j++
			}
			toks = append(toks, src[i:j])
			i = j
		case unicode.IsDigit(c):
			j := i + 1
			for j < len(src) && unicode.IsDigit(rune(src[j])) {
				j++
			}
			toks = append(toks, src[i:j])
			i = j
		case strings.HasPrefix(src[i:], "..."):
			toks = append(toks, "...")
			i += 3
		case strings.ContainsRune("*(),[];", c):
			toks = append(toks, string(c))
			i++
		default:
			return nil, fmt.Errorf("ctype: %w: unexpected character %q in %q", ErrSyntax, c, src)
		}
	}
	return toks, nil
}

func (p *parser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *parser) next() string {
	t := p.peek()
	if t != "" {
		p.pos++
	}
	return t
}

func (p *parser) expect(tok string) error {
	if got := p.next(); got != tok {
		return p.errorf("expected %q, got %q", tok, got)
	}
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("ctype: %w in %q: %s", ErrSyntax, p.src, fmt.Sprintf(format, args...))
}

func isIdent(tok string) bool {
	return tok != "" && (tok[0] == '_' || unicode.IsLetter(rune(tok[0])))
}

// skipDecorations drops qualifiers and calling convention markers that do
// not change the layout. It reports whether a const was seen.
func (p *parser) skipDecorations() bool {
	isConst := false
	for {
		switch tok := p.peek(); {
		case tok == "const":
			isConst = true
		case tok == "volatile", tok == "struct":
		case strings.HasPrefix(tok, "__"):
		default:
			return isConst
		}
		p.pos++
	}
}

// parseType reads a base type followed by any number of '*'.
func (p *parser) parseType() (*Type, error) {
	isConst := p.skipDecorations()

	var words []string
	for builtinWords[p.peek()] {
		words = append(words, p.next())
	}
	if len(words) == 0 {
		tok := p.next()
		if !isIdent(tok) {
			return nil, p.errorf("expected type name, got %q", tok)
		}
		words = append(words, tok)
	}
	name := strings.Join(words, " ")
	if name == "long" && p.peek() == "double" {
		return nil, p.errorf("long double is not supported")
	}

	isConst = p.skipDecorations() || isConst

	base, err := p.reg.Resolve(name)
	if err != nil {
		return nil, err
	}

	stars := 0
	for p.peek() == "*" {
		p.next()
		stars++
		p.skipDecorations()
	}
	if stars == 0 {
		return base, nil
	}

	t := base
	if base.Kind == Callback {
		// "Callback *" spells the same function pointer as "Callback".
		stars--
	}
	if isConst {
		switch name {
		case "char":
			t = p.reg.MustResolve("string")
			stars--
		case "char16_t", "wchar_t":
			t = p.reg.MustResolve("string16")
			stars--
		}
	}
	for ; stars > 0; stars-- {
		t = p.reg.PointerTo(t)
	}
	return t, nil
}

// parseArraySuffix handles "name[N]".
func (p *parser) parseArraySuffix(t *Type) (*Type, error) {
	for p.peek() == "[" {
		p.next()
		n, err := strconv.Atoi(p.next())
		if err != nil {
			return nil, p.errorf("array length: %v", err)
		}
		if err := p.expect("]"); err != nil {
			return nil, err
		}
		if t, err = p.reg.ArrayOf(t, n); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (p *parser) parseParam(index int) (Param, error) {
	dir := In
	if d, ok := directions[p.peek()]; ok {
		dir = d
		p.next()
	}

	t, err := p.parseType()
	if err != nil {
		return Param{}, err
	}

	name := ""
	if isIdent(p.peek()) {
		name = p.next()
	}
	if t, err = p.parseArraySuffix(t); err != nil {
		return Param{}, err
	}
	if t.Kind == Array {
		// Array parameters decay to a pointer to their first element.
		t = p.reg.PointerTo(t.Element)
	}
	if t.Kind == Void {
		return Param{}, p.errorf("parameter %d has type void", index)
	}
	if dir != In && (t.Kind != Pointer || t.IsVoidPointer()) {
		return Param{}, p.errorf("parameter %d: %s only applies to typed pointers, not %s", index, dir, t.Name)
	}
	return Param{Name: name, Type: t, Direction: dir}, nil
}

// ParseType resolves a C type expression such as "const char *" or
// "Point **".
func (r *Registry) ParseType(src string) (*Type, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{reg: r, src: src, toks: toks}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if t, err = p.parseArraySuffix(t); err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, p.errorf("unexpected %q", p.peek())
	}
	return t, nil
}

// ParsePrototype parses a C function declaration such as
//
//	int CallMe(const char *str, _Out_ Point *p)
//
// Parameter directions use the _In_, _Out_ and _Inout_ annotations.
func (r *Registry) ParsePrototype(src string) (*Prototype, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{reg: r, src: src, toks: toks}

	ret, err := p.parseType()
	if err != nil {
		return nil, err
	}
	p.skipDecorations()

	name := p.next()
	if !isIdent(name) {
		return nil, p.errorf("expected function name, got %q", name)
	}
	if err := p.expect("("); err != nil {
		return nil, err
	}

	proto := &Prototype{Name: name, Ret: ret}
	if p.peek() == "void" && p.pos+1 < len(p.toks) && p.toks[p.pos+1] == ")" {
		p.next()
	}
	for p.peek() != ")" {
		if len(proto.Params) > 0 {
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
		if p.peek() == "..." {
			return nil, p.errorf("variadic functions are not supported")
		}
		param, err := p.parseParam(len(proto.Params))
		if err != nil {
			return nil, err
		}
		proto.Params = append(proto.Params, param)
	}
	p.next()
	if p.peek() == ";" {
		p.next()
	}
	if p.pos != len(p.toks) {
		return nil, p.errorf("unexpected %q after parameter list", p.peek())
	}
	return proto, nil
}
