// Package recd implements the record type / record model described in
// spec.md §3.2: a named, optionally-grouped field layout plus a flat value
// array, with base-type inheritance via an additive field-index offset.
package recd

import (
	"strings"

	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/value"
)

// Field describes one record field: either a flat value-array index (Index
// >= 0, Group == nil) or a nested group (Group != nil, Index == -1).
type Field struct {
	Label   string
	Doc     string
	Type    value.Tag
	Default *value.Value
	Index   int
	Group   []Field
}

// Type is a named, optionally base-derived record layout.
type Type struct {
	Label string
	Base  *Type
	// BaseOffset is the additive index offset applied to the base type's
	// resolved field indices, shifting them past this type's own field
	// slots in the flat Values/Base addressing scheme (getAbs/setAbs).
	BaseOffset int
	Fields     []Field
}

// NewType builds a record type from a flat field list, optionally deriving
// from base. Field labels must not contain '.' (the group-path separator).
func NewType(label string, base *Type, fields []Field) (*Type, error) {
	for _, f := range fields {
		if strings.Contains(f.Label, ".") {
			return nil, ferr.Newf(ferr.Syntax, "record field %q may not contain '.'", f.Label)
		}
		if f.Default != nil {
			if _, err := value.Convert(*f.Default, f.Type); err != nil {
				return nil, ferr.Wrap(ferr.InvalidArg, "", "default value for field "+f.Label+" not representable in declared type", err)
			}
		}
	}
	t := &Type{Label: label, Fields: fields}
	if base != nil {
		t.Base = base
		t.BaseOffset = len(fields)
	}
	return t, nil
}

// FieldCount returns the additive field count up the base chain.
func (t *Type) FieldCount() int {
	n := len(t.Fields)
	if t.Base != nil {
		n += t.Base.FieldCount()
	}
	return n
}

// HasField reports whether label names a field on t or any base type,
// honoring dotted group paths ("group.sub").
func (t *Type) HasField(label string) bool {
	_, err := t.resolve(label)
	return err == nil
}

// resolve walks a (possibly dotted) field path to its absolute flat index,
// searching this type's own fields first, then the base chain.
func (t *Type) resolve(path string) (int, error) {
	parts := strings.SplitN(path, ".", 2)
	head := parts[0]
	for _, f := range t.Fields {
		if f.Label != head {
			continue
		}
		if len(parts) == 1 {
			if f.Group != nil {
				return 0, ferr.Newf(ferr.InvalidArg, "field %q is a group, not a leaf", path)
			}
			return f.Index, nil
		}
		for _, g := range f.Group {
			if g.Label == parts[1] {
				return g.Index, nil
			}
		}
		return 0, ferr.Newf(ferr.NotFound, "field %q not found in group %q", parts[1], head)
	}
	if t.Base != nil {
		idx, err := t.Base.resolve(path)
		if err != nil {
			return 0, err
		}
		return idx + t.BaseOffset, nil
	}
	return 0, ferr.Newf(ferr.NotFound, "field %q not found", path)
}

// Record is a flat value array optionally chained to a base record, per
// spec.md §3.2. Field index → value mapping is determined entirely by Type.
type Record struct {
	Type   *Type
	Values []value.Value
	Base   *Record
}

// NewRecord allocates a record with defaulted fields.
func NewRecord(t *Type) *Record {
	r := &Record{Type: t, Values: make([]value.Value, len(t.Fields))}
	for i, f := range t.Fields {
		if f.Default != nil {
			r.Values[i] = *f.Default
		}
	}
	if t.Base != nil {
		r.Base = NewRecord(t.Base)
	}
	return r
}

// Get reads the value at a dotted field path.
func (r *Record) Get(path string) (value.Value, error) {
	idx, err := r.Type.resolve(path)
	if err != nil {
		return value.Value{}, err
	}
	return r.getAbs(idx)
}

func (r *Record) getAbs(idx int) (value.Value, error) {
	own := len(r.Values)
	if idx < own {
		return r.Values[idx], nil
	}
	if r.Base == nil {
		return value.Value{}, ferr.Newf(ferr.NotFound, "field index %d out of range", idx)
	}
	return r.Base.getAbs(idx - own)
}

// Set writes v at a dotted field path. v is stored as given; it is not
// converted to the field's declared type.
func (r *Record) Set(path string, v value.Value) error {
	idx, err := r.Type.resolve(path)
	if err != nil {
		return err
	}
	return r.setAbs(idx, v)
}

func (r *Record) setAbs(idx int, v value.Value) error {
	own := len(r.Values)
	if idx < own {
		r.Values[idx] = v
		return nil
	}
	if r.Base == nil {
		return ferr.Newf(ferr.NotFound, "field index %d out of range", idx)
	}
	return r.Base.setAbs(idx-own, v)
}
