package cfgtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseJSONRequiresTopLevelObject(t *testing.T) {
	_, err := ParseJSON([]byte(`[1, 2, 3]`))
	assert.Error(t, err)
}

func TestParseJSONRoundTripsScalarsAndNesting(t *testing.T) {
	n, err := ParseJSON([]byte(`{
		"name": "flow",
		"enabled": true,
		"count": 3,
		"nested": {"deep": {"value": 42}},
		"list": [1, 2, 3]
	}`))
	assert.NoError(t, err)

	name, ok := n.Get("name")
	assert.True(t, ok)
	s, err := name.String()
	assert.NoError(t, err)
	assert.Equal(t, "flow", s)

	enabled, ok := n.Get("enabled")
	assert.True(t, ok)
	b, err := enabled.Bool()
	assert.NoError(t, err)
	assert.True(t, b)

	deep, ok := n.Get("nested.deep.value")
	assert.True(t, ok)
	f, err := deep.Float64()
	assert.NoError(t, err)
	assert.Equal(t, 42.0, f)

	list, ok := n.Get("list")
	assert.True(t, ok)
	items, err := list.List()
	assert.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestGetMissingPathReturnsFalse(t *testing.T) {
	n, err := ParseJSON([]byte(`{"a": {"b": 1}}`))
	assert.NoError(t, err)

	_, ok := n.Get("a.missing")
	assert.False(t, ok)
	_, ok = n.Get("missing")
	assert.False(t, ok)
}

func TestKindClassifiesEveryAlternative(t *testing.T) {
	n, err := ParseJSON([]byte(`{
		"s": "x", "b": true, "num": 1.5, "d": {"k": 1}, "l": [1], "n": null
	}`))
	assert.NoError(t, err)

	cases := map[string]Kind{"s": KindString, "b": KindBool, "num": KindNumber, "d": KindDict, "l": KindList, "n": KindNull}
	for path, want := range cases {
		v, ok := n.Get(path)
		assert.True(t, ok, path)
		assert.Equal(t, want, v.Kind(), path)
	}
}

func TestKeysReturnsAllDictKeys(t *testing.T) {
	n, err := ParseJSON([]byte(`{"a": 1, "b": 2, "c": 3}`))
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, n.Keys())
}

func TestIntUintFloatConversions(t *testing.T) {
	n, err := ParseJSON([]byte(`{"pos": 7, "neg": -3}`))
	assert.NoError(t, err)

	pos, _ := n.Get("pos")
	i, err := pos.Int64()
	assert.NoError(t, err)
	assert.Equal(t, int64(7), i)

	u, err := pos.Uint()
	assert.NoError(t, err)
	assert.Equal(t, uint(7), u)

	neg, _ := n.Get("neg")
	_, err = neg.Uint()
	assert.Error(t, err)
}

func TestReadvOptionalMissingLeavesOutUnchanged(t *testing.T) {
	n, err := ParseJSON([]byte(`{}`))
	assert.NoError(t, err)

	out := "default"
	assert.NoError(t, Readv(n, "missing", true, &out))
	assert.Equal(t, "default", out)
}

func TestReadvRequiredMissingErrors(t *testing.T) {
	n, err := ParseJSON([]byte(`{}`))
	assert.NoError(t, err)

	var out string
	err = Readv(n, "missing", false, &out)
	assert.Error(t, err)
}

func TestReadvConvertsEachSupportedType(t *testing.T) {
	n, err := ParseJSON([]byte(`{"s": "hi", "b": true, "i": 5, "u": 9, "f64": 1.5, "f32": 2.5}`))
	assert.NoError(t, err)

	var s string
	assert.NoError(t, Readv(n, "s", false, &s))
	assert.Equal(t, "hi", s)

	var b bool
	assert.NoError(t, Readv(n, "b", false, &b))
	assert.True(t, b)

	var i int
	assert.NoError(t, Readv(n, "i", false, &i))
	assert.Equal(t, 5, i)

	var u uint
	assert.NoError(t, Readv(n, "u", false, &u))
	assert.Equal(t, uint(9), u)

	var f64 float64
	assert.NoError(t, Readv(n, "f64", false, &f64))
	assert.Equal(t, 1.5, f64)

	var f32 float32
	assert.NoError(t, Readv(n, "f32", false, &f32))
	assert.Equal(t, float32(2.5), f32)
}

func TestReadvRejectsUnsupportedTargetType(t *testing.T) {
	n, err := ParseJSON([]byte(`{"x": 1}`))
	assert.NoError(t, err)

	var out []int
	err = Readv(n, "x", false, &out)
	assert.Error(t, err)
}

func TestParseYAMLNormalizesIntoSameTree(t *testing.T) {
	n, err := ParseYAML([]byte("name: flow\ncount: 3\nnested:\n  deep: 42\n"))
	assert.NoError(t, err)

	name, ok := n.Get("name")
	assert.True(t, ok)
	s, _ := name.String()
	assert.Equal(t, "flow", s)

	deep, ok := n.Get("nested.deep")
	assert.True(t, ok)
	f, _ := deep.Float64()
	assert.Equal(t, 42.0, f)
}

func TestParseSuffixedLabelSplitsTrailingDigits(t *testing.T) {
	base, sfx, ok := ParseSuffixedLabel("gain_3")
	assert.True(t, ok)
	assert.Equal(t, "gain", base)
	assert.Equal(t, 3, sfx)
}

func TestParseSuffixedLabelRequiresUnderscoreBeforeDigits(t *testing.T) {
	base, _, ok := ParseSuffixedLabel("sine2")
	assert.False(t, ok)
	assert.Equal(t, "sine2", base)
}

func TestParseSuffixedLabelRejectsNoDigits(t *testing.T) {
	_, _, ok := ParseSuffixedLabel("gain")
	assert.False(t, ok)
}
