package recd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/audiograph/flow/internal/value"
)

func TestNewTypeRejectsDottedFieldLabel(t *testing.T) {
	_, err := NewType("bad", nil, []Field{{Label: "a.b", Type: value.TagFloat64, Index: 0}})
	assert.Error(t, err)
}

func TestNewTypeRejectsDefaultNotConvertibleToFieldType(t *testing.T) {
	badDefault := value.String("not a number")
	_, err := NewType("bad", nil, []Field{{Label: "x", Type: value.TagFloat64, Index: 0, Default: &badDefault}})
	assert.Error(t, err)
}

func TestFieldCountIncludesBaseChain(t *testing.T) {
	base, err := NewType("base", nil, []Field{
		{Label: "a", Type: value.TagFloat64, Index: 0},
		{Label: "b", Type: value.TagFloat64, Index: 1},
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, base.FieldCount())

	derived, err := NewType("derived", base, []Field{
		{Label: "c", Type: value.TagFloat64, Index: 0},
		{Label: "d", Type: value.TagFloat64, Index: 1},
		{Label: "e", Type: value.TagFloat64, Index: 2},
	})
	assert.NoError(t, err)
	assert.Equal(t, 5, derived.FieldCount())
}

func TestRecordGetSetOwnField(t *testing.T) {
	ty, err := NewType("pt", nil, []Field{
		{Label: "x", Type: value.TagFloat64, Index: 0},
		{Label: "y", Type: value.TagFloat64, Index: 1},
	})
	assert.NoError(t, err)

	r := NewRecord(ty)
	assert.NoError(t, r.Set("x", value.Float64(1.5)))
	got, err := r.Get("x")
	assert.NoError(t, err)
	f, _ := got.AsFloat64()
	assert.Equal(t, 1.5, f)
}

// TestRecordGetSetBaseFieldWithUnevenFieldCounts pins down base-field
// resolution when the derived type's own field count differs from the
// base type's, which previously mapped base field reads onto the wrong
// derived-record slot.
func TestRecordGetSetBaseFieldWithUnevenFieldCounts(t *testing.T) {
	base, err := NewType("base", nil, []Field{
		{Label: "a", Type: value.TagFloat64, Index: 0},
		{Label: "b", Type: value.TagFloat64, Index: 1},
	})
	assert.NoError(t, err)

	derived, err := NewType("derived", base, []Field{
		{Label: "c", Type: value.TagFloat64, Index: 0},
		{Label: "d", Type: value.TagFloat64, Index: 1},
		{Label: "e", Type: value.TagFloat64, Index: 2},
	})
	assert.NoError(t, err)

	r := NewRecord(derived)
	assert.NoError(t, r.Set("c", value.Float64(100)))
	assert.NoError(t, r.Set("d", value.Float64(200)))
	assert.NoError(t, r.Set("e", value.Float64(300)))
	assert.NoError(t, r.Set("a", value.Float64(1)))
	assert.NoError(t, r.Set("b", value.Float64(2)))

	for path, want := range map[string]float64{"c": 100, "d": 200, "e": 300, "a": 1, "b": 2} {
		got, err := r.Get(path)
		assert.NoError(t, err)
		f, _ := got.AsFloat64()
		assert.Equal(t, want, f, path)
	}
}

func TestRecordGetSetGrandBaseField(t *testing.T) {
	grandbase, err := NewType("grandbase", nil, []Field{
		{Label: "g0", Type: value.TagFloat64, Index: 0},
		{Label: "g1", Type: value.TagFloat64, Index: 1},
	})
	assert.NoError(t, err)
	base, err := NewType("base", grandbase, []Field{
		{Label: "b0", Type: value.TagFloat64, Index: 0},
		{Label: "b1", Type: value.TagFloat64, Index: 1},
	})
	assert.NoError(t, err)
	derived, err := NewType("derived", base, []Field{
		{Label: "d0", Type: value.TagFloat64, Index: 0},
		{Label: "d1", Type: value.TagFloat64, Index: 1},
		{Label: "d2", Type: value.TagFloat64, Index: 2},
	})
	assert.NoError(t, err)

	r := NewRecord(derived)
	assert.NoError(t, r.Set("g0", value.Float64(9)))
	got, err := r.Get("g0")
	assert.NoError(t, err)
	f, _ := got.AsFloat64()
	assert.Equal(t, 9.0, f)
}

func TestHasFieldHonorsGroupPaths(t *testing.T) {
	ty, err := NewType("withgroup", nil, []Field{
		{Label: "pos", Group: []Field{
			{Label: "x", Type: value.TagFloat64, Index: 0},
			{Label: "y", Type: value.TagFloat64, Index: 1},
		}, Index: -1},
	})
	assert.NoError(t, err)

	assert.True(t, ty.HasField("pos.x"))
	assert.True(t, ty.HasField("pos.y"))
	assert.False(t, ty.HasField("pos.z"))
	assert.False(t, ty.HasField("pos")) // group itself is not a leaf
}

func TestRecordGetUnknownFieldErrors(t *testing.T) {
	ty, err := NewType("empty", nil, nil)
	assert.NoError(t, err)
	r := NewRecord(ty)
	_, err = r.Get("missing")
	assert.Error(t, err)
}

func TestNewRecordAppliesFieldDefaults(t *testing.T) {
	def := value.Float64(42)
	ty, err := NewType("defaulted", nil, []Field{{Label: "x", Type: value.TagFloat64, Index: 0, Default: &def}})
	assert.NoError(t, err)

	r := NewRecord(ty)
	got, err := r.Get("x")
	assert.NoError(t, err)
	f, _ := got.AsFloat64()
	assert.Equal(t, 42.0, f)
}
