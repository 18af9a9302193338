package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/ffi"
)

const handleTag = "!handle"

// parseArgs decodes a YAML sequence into host values. Mapping keys keep
// their order, which is the order records are matched against.
func parseArgs(src string) ([]ffi.Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	if doc.Kind == 0 {
		return nil, nil
	}
	seq := doc.Content[0]
	if seq.Kind != yaml.SequenceNode {
		return nil, errors.New("parse arguments: expected a sequence such as [1, 2]")
	}
	out := make([]ffi.Value, len(seq.Content))
	for i, n := range seq.Content {
		v, err := fromNode(n)
		if err != nil {
			return nil, fmt.Errorf("parse arguments: argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func fromNode(n *yaml.Node) (ffi.Value, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return fromNode(n.Alias)
	case yaml.SequenceNode:
		arr := ffi.NewArray()
		for _, c := range n.Content {
			v, err := fromNode(c)
			if err != nil {
				return nil, err
			}
			arr.Append(v)
		}
		return arr, nil
	case yaml.MappingNode:
		obj := ffi.NewObject()
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := fromNode(n.Content[i+1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", n.Content[i].Value, err)
			}
			obj.Set(n.Content[i].Value, v)
		}
		return obj, nil
	case yaml.ScalarNode:
		return fromScalar(n)
	}
	return nil, fmt.Errorf("line %d: unsupported YAML node", n.Line)
}

func fromScalar(n *yaml.Node) (ffi.Value, error) {
	switch n.Tag {
	case "!!null":
		return ffi.Null{}, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return ffi.Bool(b), nil
	case "!!int":
		return parseInt(n.Value)
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, err
		}
		return ffi.Number(f), nil
	case handleTag:
		return parseHandle(n.Value)
	}
	return ffi.String(n.Value), nil
}

// parseInt keeps integers that a float64 cannot hold exactly as big
// integers.
func parseInt(s string) (ffi.Value, error) {
	clean := strings.ReplaceAll(s, "_", "")
	i, ok := new(big.Int).SetString(clean, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if i.IsInt64() && math.Abs(float64(i.Int64())) <= 1<<53-1 {
		return ffi.Number(float64(i.Int64())), nil
	}
	return ffi.NewBigInt(i), nil
}

func parseHandle(s string) (ffi.Value, error) {
	addr, tag, _ := strings.Cut(s, ":")
	a, err := strconv.ParseUint(strings.TrimSpace(addr), 0, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	return ffi.NewHandle(uintptr(a), strings.TrimSpace(tag)), nil
}

func toNode(v ffi.Value) *yaml.Node {
	scalar := func(tag, value string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
	}
	switch x := v.(type) {
	case ffi.Bool:
		return scalar("!!bool", strconv.FormatBool(bool(x)))
	case ffi.Number:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return scalar("!!int", strconv.FormatInt(int64(f), 10))
		}
		return scalar("!!float", strconv.FormatFloat(f, 'g', -1, 64))
	case ffi.BigInt:
		return scalar("!!int", x.Int().String())
	case ffi.String:
		return scalar("!!str", string(x))
	case ffi.Handle:
		s := fmt.Sprintf("0x%x", x.Addr)
		if x.Tag != "" {
			s += ":" + x.Tag
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: handleTag, Value: s, Style: yaml.DoubleQuotedStyle}
	case *ffi.Array:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for i := range x.Len() {
			n.Content = append(n.Content, toNode(x.At(i)))
		}
		return n
	case *ffi.Object:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range x.Keys() {
			e, _ := x.Get(k)
			n.Content = append(n.Content, scalar("!!str", k), toNode(e))
		}
		return n
	}
	return scalar("!!null", "null")
}

type field struct {
	name  string
	value ffi.Value
}

func writeResult(w io.Writer, fields []field) error {
	doc := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, f := range fields {
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.name}, toNode(f.value))
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return enc.Close()
}
