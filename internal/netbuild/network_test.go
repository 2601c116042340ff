package netbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/audiograph/flow/internal/classreg"
	"github.com/audiograph/flow/internal/cfgtree"
	"github.com/audiograph/flow/internal/procinst"
	"github.com/audiograph/flow/internal/recd"
	"github.com/audiograph/flow/internal/value"
	"github.com/audiograph/flow/internal/variable"
)

func noopExecHook(any) error { return nil }

func trackingClass(label string, order *[]string) *classreg.Class {
	return &classreg.Class{
		Label: label,
		Hooks: classreg.Hooks{
			Exec: noopExecHook,
			Create: func(p any) error {
				*order = append(*order, p.(*procinst.Proc).Label())
				return nil
			},
		},
	}
}

func destroyTrackingClass(label string, order *[]string) *classreg.Class {
	return &classreg.Class{
		Label: label,
		Hooks: classreg.Hooks{
			Exec: noopExecHook,
			Destroy: func(p any) error {
				*order = append(*order, p.(*procinst.Proc).Label())
				return nil
			},
		},
	}
}

func TestBuildSingleProcNoStatements(t *testing.T) {
	r := classreg.NewRegistry()
	assert.NoError(t, r.Register(&classreg.Class{Label: "src", Hooks: classreg.Hooks{Exec: noopExecHook}}))

	cfg, err := cfgtree.ParseJSON([]byte(`{"procs": [{"src_0": {"class": "src"}}]}`))
	assert.NoError(t, err)

	nets, err := Build(cfg, r, nil, 1)
	assert.NoError(t, err)
	assert.Len(t, nets, 1)
	assert.Len(t, nets[0].Procs, 1)
	assert.Equal(t, "src", nets[0].Procs[0].Label())
	assert.Equal(t, 0, nets[0].Procs[0].Sfx())
}

func TestBuildDeclarationOrderPreserved(t *testing.T) {
	var order []string
	r := classreg.NewRegistry()
	assert.NoError(t, r.Register(trackingClass("a", &order)))
	assert.NoError(t, r.Register(trackingClass("b", &order)))
	assert.NoError(t, r.Register(trackingClass("c", &order)))

	cfg, err := cfgtree.ParseJSON([]byte(`{
		"procs": [
			{"a_0": {"class": "a"}},
			{"b_0": {"class": "b"}},
			{"c_0": {"class": "c"}}
		]
	}`))
	assert.NoError(t, err)

	nets, err := Build(cfg, r, nil, 1)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, []string{"a", "b", "c"}, procLabels(nets[0]))
}

func procLabels(n *Network) []string {
	out := make([]string, len(n.Procs))
	for i, p := range n.Procs {
		out[i] = p.Label()
	}
	return out
}

func TestBuildPolyLimitSkipsExtraInstances(t *testing.T) {
	r := classreg.NewRegistry()
	assert.NoError(t, r.Register(&classreg.Class{
		Label:     "dup",
		PolyLimit: 2,
		Hooks:     classreg.Hooks{Exec: noopExecHook},
	}))

	cfg, err := cfgtree.ParseJSON([]byte(`{
		"procs": [
			{"dup_0": {"class": "dup"}},
			{"dup_1": {"class": "dup"}},
			{"dup_2": {"class": "dup"}}
		]
	}`))
	assert.NoError(t, err)

	nets, err := Build(cfg, r, nil, 1)
	assert.NoError(t, err)
	assert.Len(t, nets[0].Procs, 2)
	_, ok := nets[0].FindProc("dup", 2)
	assert.False(t, ok)
}

func TestBuildPolyReplicationCreatesOneNetworkPerCount(t *testing.T) {
	r := classreg.NewRegistry()
	assert.NoError(t, r.Register(&classreg.Class{Label: "x", Hooks: classreg.Hooks{Exec: noopExecHook}}))

	cfg, err := cfgtree.ParseJSON([]byte(`{"count": 3, "procs": [{"x": {"class": "x"}}]}`))
	assert.NoError(t, err)

	nets, err := Build(cfg, r, nil, 1)
	assert.NoError(t, err)
	assert.Len(t, nets, 3)
	for i, n := range nets {
		assert.Equal(t, i, n.PolyIdx)
		assert.Equal(t, 3, n.PolyCount)
		assert.Len(t, n.Procs, 1)
		assert.Equal(t, i, n.Procs[0].Sfx())
	}
	assert.Same(t, nets[1], nets[0].PolyLink)
	assert.Same(t, nets[2], nets[1].PolyLink)
	assert.Nil(t, nets[2].PolyLink)
}

func TestBuildRejectsSuffixMismatchWithPolyIdx(t *testing.T) {
	r := classreg.NewRegistry()
	assert.NoError(t, r.Register(&classreg.Class{Label: "x", Hooks: classreg.Hooks{Exec: noopExecHook}}))

	cfg, err := cfgtree.ParseJSON([]byte(`{"count": 2, "procs": [{"x_5": {"class": "x"}}]}`))
	assert.NoError(t, err)

	_, err = Build(cfg, r, nil, 1)
	assert.Error(t, err)
}

func TestNetworkDestroyRunsInReverseOrder(t *testing.T) {
	var order []string
	r := classreg.NewRegistry()
	assert.NoError(t, r.Register(destroyTrackingClass("a", &order)))
	assert.NoError(t, r.Register(destroyTrackingClass("b", &order)))

	cfg, err := cfgtree.ParseJSON([]byte(`{"procs": [{"a_0": {"class": "a"}}, {"b_0": {"class": "b"}}]}`))
	assert.NoError(t, err)

	nets, err := Build(cfg, r, nil, 1)
	assert.NoError(t, err)

	nets[0].Destroy()
	assert.Equal(t, []string{"b", "a"}, order)
	assert.Empty(t, nets[0].Procs)
}

func TestCountProcInstancesAndFindProc(t *testing.T) {
	r := classreg.NewRegistry()
	assert.NoError(t, r.Register(&classreg.Class{Label: "x", Hooks: classreg.Hooks{Exec: noopExecHook}}))

	cfg, err := cfgtree.ParseJSON([]byte(`{"procs": [{"x_0": {"class": "x"}}, {"x_1": {"class": "x"}}]}`))
	assert.NoError(t, err)

	nets, err := Build(cfg, r, nil, 1)
	assert.NoError(t, err)

	assert.Equal(t, 2, nets[0].CountProcInstances("x"))
	p, ok := nets[0].FindProc("x", 1)
	assert.True(t, ok)
	assert.Equal(t, 1, p.Sfx())

	_, ok = nets[0].FindProc("x", 5)
	assert.False(t, ok)
}

func TestBuildRejectsUnknownClass(t *testing.T) {
	r := classreg.NewRegistry()
	cfg, err := cfgtree.ParseJSON([]byte(`{"procs": [{"mystery_0": {"class": "mystery"}}]}`))
	assert.NoError(t, err)

	_, err = Build(cfg, r, nil, 1)
	assert.Error(t, err)
}

func TestResolveNetRootForUnderscoreAndErrorsOnUnknownSubnet(t *testing.T) {
	r := classreg.NewRegistry()
	cfg, err := cfgtree.ParseJSON([]byte(`{"procs": []}`))
	assert.NoError(t, err)

	nets, err := Build(cfg, r, nil, 1)
	assert.NoError(t, err)

	root, err := nets[0].resolveNet("_")
	assert.NoError(t, err)
	assert.Same(t, nets[0], root)

	_, err = nets[0].resolveNet("missing")
	assert.Error(t, err)
}

// TestUDPProcInnerNetworkIsReachableAsNamedSubnet builds a proc whose cfg
// carries a nested "network" (spec.md §4.3 step 4's UDP inner network) and
// checks that a later, sibling proc's in-statement can reach an inner proc's
// variable through "outer.inner_0.out" (§4.3 step 3 / §6.2's net-qualified
// remote side), which requires the outer proc's label to resolve via
// Network.Subnets.
func TestUDPProcInnerNetworkIsReachableAsNamedSubnet(t *testing.T) {
	r := classreg.NewRegistry()
	assert.NoError(t, r.Register(&classreg.Class{
		Label: "container",
		Hooks: classreg.Hooks{Exec: noopExecHook},
	}))
	assert.NoError(t, r.Register(&classreg.Class{
		Label: "leaf",
		Vars:  []classreg.VarDesc{{Label: "out", TypeMask: value.TagFloat64}},
		Hooks: classreg.Hooks{Exec: func(p any) error {
			out := p.(*procinst.Proc).VarByLabel("out", 0, variable.AnyChannel)
			out.Head = value.Float64(9)
			return nil
		}},
	}))
	assert.NoError(t, r.Register(&classreg.Class{
		Label: "reader",
		Vars:  []classreg.VarDesc{{Label: "in", TypeMask: value.TagFloat64}},
		Hooks: classreg.Hooks{Exec: noopExecHook},
	}))

	cfg, err := cfgtree.ParseJSON([]byte(`{
		"procs": [
			{"outer_0": {"class": "container", "network": {"procs": [{"inner_0": {"class": "leaf"}}]}}},
			{"reader_0": {"class": "reader", "in": {"reader_0.in": "outer.inner_0.out"}}}
		]
	}`))
	assert.NoError(t, err)

	nets, err := Build(cfg, r, nil, 1)
	assert.NoError(t, err)

	outer, ok := nets[0].FindProc("outer", 0)
	assert.True(t, ok)
	assert.Same(t, nets[0].Subnets["outer"], outer.InternalNet)

	reader, ok := nets[0].FindProc("reader", 0)
	assert.True(t, ok)
	in := reader.VarByLabel("in", 0, variable.AnyChannel)
	assert.NotNil(t, in)

	inner, ok := outer.InternalNet.FindProc("inner", 0)
	assert.True(t, ok)
	out := inner.VarByLabel("out", 0, variable.AnyChannel)
	assert.Same(t, out, in.Source)
}

// TestBuildRejectsMissingRequiredRecordField covers §8 scenario 6: a proc
// declaring required_fields:["pitch"] on an input record variable, wired to
// a source whose record format lacks that field, fails network validation
// with a NotFound error naming the missing field.
func TestBuildRejectsMissingRequiredRecordField(t *testing.T) {
	noteType, err := recd.NewType("note", nil, []recd.Field{
		{Label: "velocity", Type: value.TagFloat64, Index: 0},
	})
	assert.NoError(t, err)

	r := classreg.NewRegistry()
	assert.NoError(t, r.Register(&classreg.Class{
		Label: "src",
		Vars:  []classreg.VarDesc{{Label: "out", TypeMask: value.TagRecordBuf}},
		Hooks: classreg.Hooks{Exec: noopExecHook, Create: func(p any) error {
			out := p.(*procinst.Proc).VarByLabel("out", 0, variable.AnyChannel)
			out.Head = value.Recordbuf(&value.RecordBuf{Format: noteType})
			return nil
		}},
	}))
	assert.NoError(t, r.Register(&classreg.Class{
		Label: "dst",
		Vars: []classreg.VarDesc{{
			Label:          "in",
			TypeMask:       value.TagRecordBuf,
			Attrs:          classreg.AttrRequiredFields,
			RequiredFields: []string{"pitch"},
		}},
		Hooks: classreg.Hooks{Exec: noopExecHook},
	}))

	cfg, err := cfgtree.ParseJSON([]byte(`{
		"procs": [
			{"src_0": {"class": "src"}},
			{"dst_0": {"class": "dst", "in": {"dst_0.in": "src_0.out"}}}
		]
	}`))
	assert.NoError(t, err)

	_, err = Build(cfg, r, nil, 1)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pitch")
}
