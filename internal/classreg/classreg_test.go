package classreg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/audiograph/flow/internal/cfgtree"
	"github.com/audiograph/flow/internal/value"
)

func noopExec(any) error { return nil }

func TestRegisterRejectsEmptyLabel(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Class{Hooks: Hooks{Exec: noopExec}})
	assert.Error(t, err)
}

func TestRegisterRejectsDuplicateLabel(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Register(&Class{Label: "gain", Hooks: Hooks{Exec: noopExec}}))
	err := r.Register(&Class{Label: "gain", Hooks: Hooks{Exec: noopExec}})
	assert.Error(t, err)
}

func TestRegisterRejectsMissingExecHook(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Class{Label: "gain"})
	assert.Error(t, err)
}

func TestRegisterRejectsProxyOutsideUDP(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Class{
		Label: "gain",
		Hooks: Hooks{Exec: noopExec},
		Vars:  []VarDesc{{Label: "in", ProxyProcLabel: "inner", ProxyVarLabel: "out"}},
	})
	assert.Error(t, err)
}

func TestRegisterRejectsUDPOutFlagOutsideUDP(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Class{
		Label: "gain",
		Hooks: Hooks{Exec: noopExec},
		Vars:  []VarDesc{{Label: "out", Attrs: AttrUDPOut}},
	})
	assert.Error(t, err)
}

func TestLookupFindsRegisteredClass(t *testing.T) {
	r := NewRegistry()
	c := &Class{Label: "gain", Hooks: Hooks{Exec: noopExec}}
	assert.NoError(t, r.Register(c))

	got, ok := r.Lookup("gain")
	assert.True(t, ok)
	assert.Same(t, c, got)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestClassVarDesc(t *testing.T) {
	c := &Class{Vars: []VarDesc{{Label: "amp", TypeMask: value.TagFloat64}}}
	d, ok := c.VarDesc("amp")
	assert.True(t, ok)
	assert.Equal(t, value.TagFloat64, d.TypeMask)

	_, ok = c.VarDesc("missing")
	assert.False(t, ok)
}

func TestLoadDictBuildsClassesFromCfg(t *testing.T) {
	root, err := cfgtree.ParseJSON([]byte(`{
		"gain": {
			"vars": {
				"in": {"type": "float64"},
				"out": {"type": "float64", "attrs": ["notify"]}
			},
			"poly_limit_cnt": 4
		}
	}`))
	assert.NoError(t, err)

	r := NewRegistry()
	hooksFor := func(name string) (Hooks, bool) {
		if name == "gain" {
			return Hooks{Exec: noopExec}, true
		}
		return Hooks{}, false
	}
	assert.NoError(t, LoadDict(r, root, hooksFor))

	c, ok := r.Lookup("gain")
	assert.True(t, ok)
	assert.Equal(t, 4, c.PolyLimit)
	assert.Len(t, c.Vars, 2)

	outDesc, ok := c.VarDesc("out")
	assert.True(t, ok)
	assert.True(t, outDesc.Has(AttrNotify))
}

func TestLoadDictRejectsUnknownVtable(t *testing.T) {
	root, err := cfgtree.ParseJSON([]byte(`{"mystery": {"vars": {}}}`))
	assert.NoError(t, err)

	r := NewRegistry()
	hooksFor := func(string) (Hooks, bool) { return Hooks{}, false }
	err = LoadDict(r, root, hooksFor)
	assert.Error(t, err)
}
