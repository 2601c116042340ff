// Package cfgtree implements the loosely-typed, JSON-like configuration
// object tree that backs network descriptions, preset dictionaries, and the
// top-level program cfg. It wraps github.com/antonholmquist/jason, which
// already supplies the uniform typed-getter shape the design calls for, and
// layers a path-based Readv helper plus YAML ingestion on top of it.
package cfgtree

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/antonholmquist/jason"
	"gopkg.in/yaml.v3"

	"github.com/audiograph/flow/internal/ferr"
)

// Node is one node of the cfg tree: a dict, a list, or a scalar leaf.
type Node struct {
	v *jason.Value
}

// NodeFromJason wraps an existing jason.Value.
func NodeFromJason(v *jason.Value) *Node { return &Node{v: v} }

// ParseJSON parses raw JSON bytes into a root Node.
func ParseJSON(data []byte) (*Node, error) {
	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return nil, ferr.Wrap(ferr.Syntax, "", "parse cfg json", err)
	}
	return &Node{v: obj.Value}, nil
}

// ParseYAML parses a YAML document into a root Node. YAML is the on-disk
// format of the program cfg; internally it is normalized to plain
// map[string]any/[]any and re-marshaled to JSON so the rest of the engine
// can read it through the same jason.Value tree regardless of source format.
func ParseYAML(data []byte) (*Node, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, ferr.Wrap(ferr.Syntax, "", "parse cfg yaml", err)
	}
	jsonBytes, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return nil, ferr.Wrap(ferr.Syntax, "", "normalize cfg yaml", err)
	}
	return ParseJSON(jsonBytes)
}

func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalizeYAML(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeYAML(vv)
		}
		return out
	default:
		return t
	}
}

// Kind reports which algebraic alternative this node currently holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindDict
	KindList
)

// Kind classifies the node.
func (n *Node) Kind() Kind {
	if n == nil || n.v == nil {
		return KindNull
	}
	if n.v.IsNull() {
		return KindNull
	}
	if _, err := n.v.Boolean(); err == nil {
		return KindBool
	}
	if _, err := n.v.Number(); err == nil {
		return KindNumber
	}
	if _, err := n.v.String(); err == nil {
		return KindString
	}
	if _, err := n.v.Array(); err == nil {
		return KindList
	}
	if _, err := n.v.Object(); err == nil {
		return KindDict
	}
	return KindNull
}

// Get resolves a dotted path from a dict node ("network.procs.foo").
func (n *Node) Get(path string) (*Node, bool) {
	if n == nil || n.v == nil {
		return nil, false
	}
	obj, err := n.v.Object()
	if err != nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	val, err := obj.GetValue(parts[0])
	if err != nil {
		return nil, false
	}
	cur := &Node{v: val}
	for _, p := range parts[1:] {
		next, ok := cur.Get(p)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Keys returns the dict's keys, in the order jason's underlying map yields
// them (unordered, like the JSON object it mirrors).
func (n *Node) Keys() []string {
	if n == nil || n.v == nil {
		return nil
	}
	obj, err := n.v.Object()
	if err != nil {
		return nil
	}
	m, err := obj.Map()
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// List returns the node's elements if it is a list.
func (n *Node) List() ([]*Node, error) {
	if n == nil || n.v == nil {
		return nil, ferr.New(ferr.NotFound, "nil node")
	}
	arr, err := n.v.Array()
	if err != nil {
		return nil, ferr.Wrap(ferr.TypeMismatch, "", "not a list", err)
	}
	out := make([]*Node, len(arr))
	for i, v := range arr {
		out[i] = &Node{v: v}
	}
	return out, nil
}

// String returns the scalar string value.
func (n *Node) String() (string, error) {
	if n == nil || n.v == nil {
		return "", ferr.New(ferr.NotFound, "nil node")
	}
	s, err := n.v.String()
	if err != nil {
		return "", ferr.Wrap(ferr.TypeMismatch, "", "not a string", err)
	}
	return s, nil
}

// Bool returns the scalar boolean value.
func (n *Node) Bool() (bool, error) {
	if n == nil || n.v == nil {
		return false, ferr.New(ferr.NotFound, "nil node")
	}
	b, err := n.v.Boolean()
	if err != nil {
		return false, ferr.Wrap(ferr.TypeMismatch, "", "not a bool", err)
	}
	return b, nil
}

// Float64 returns the scalar numeric value.
func (n *Node) Float64() (float64, error) {
	if n == nil || n.v == nil {
		return 0, ferr.New(ferr.NotFound, "nil node")
	}
	f, err := n.v.Number()
	if err != nil {
		return 0, ferr.Wrap(ferr.TypeMismatch, "", "not a number", err)
	}
	return f.Float64()
}

// Int64 returns the scalar numeric value truncated to an int64.
func (n *Node) Int64() (int64, error) {
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// Uint returns the scalar numeric value as a non-negative uint.
func (n *Node) Uint() (uint, error) {
	i, err := n.Int64()
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, ferr.New(ferr.TypeMismatch, "negative value for uint field")
	}
	return uint(i), nil
}

// Readv is the uniform typed-read helper the design notes call for: it
// resolves path under n, and if found converts into *out; if not found and
// optional is false, it returns a NotFound error; if not found and optional
// is true, *out is left unmodified and no error is returned.
func Readv[T any](n *Node, path string, optional bool, out *T) error {
	node, ok := n.Get(path)
	if !ok {
		if optional {
			return nil
		}
		return ferr.Newf(ferr.NotFound, "missing required cfg field %q", path)
	}
	switch p := any(out).(type) {
	case *string:
		v, err := node.String()
		if err != nil {
			return err
		}
		*p = v
	case *bool:
		v, err := node.Bool()
		if err != nil {
			return err
		}
		*p = v
	case *int:
		v, err := node.Int64()
		if err != nil {
			return err
		}
		*p = int(v)
	case *uint:
		v, err := node.Uint()
		if err != nil {
			return err
		}
		*p = v
	case *float64:
		v, err := node.Float64()
		if err != nil {
			return err
		}
		*p = v
	case *float32:
		v, err := node.Float64()
		if err != nil {
			return err
		}
		*p = float32(v)
	case *Node:
		*p = *node
	default:
		return ferr.Newf(ferr.InvalidArg, "readv: unsupported target type %T", out)
	}
	return nil
}

// ParseSuffixedLabel splits a trailing-digit suffix off a label, per the
// "label_sfx" convention used throughout proc/var identifiers.
func ParseSuffixedLabel(label string) (base string, sfx int, hasSfx bool) {
	i := len(label)
	for i > 0 && label[i-1] >= '0' && label[i-1] <= '9' {
		i--
	}
	if i == len(label) || i == 0 {
		return label, 0, false
	}
	// Require the character before the digits to be '_' per the convention,
	// else trailing digits are just part of the label (e.g. "osc2").
	if label[i-1] != '_' {
		return label, 0, false
	}
	n, err := strconv.Atoi(label[i:])
	if err != nil {
		return label, 0, false
	}
	return label[:i-1], n, true
}
