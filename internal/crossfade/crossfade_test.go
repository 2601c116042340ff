package crossfade

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/audiograph/flow/internal/builtins"
	"github.com/audiograph/flow/internal/classreg"
	"github.com/audiograph/flow/internal/cfgtree"
	"github.com/audiograph/flow/internal/netbuild"
	"github.com/audiograph/flow/internal/runtime"
	"github.com/audiograph/flow/internal/value"
	"github.com/audiograph/flow/internal/variable"
)

func emptyNetworkCfg(t *testing.T) *cfgtree.Node {
	t.Helper()
	cfg, err := cfgtree.ParseJSON([]byte(`{"procs": []}`))
	assert.NoError(t, err)
	return cfg
}

func ampRegistryAndCfg(t *testing.T) (*classreg.Registry, *cfgtree.Node) {
	t.Helper()
	r := classreg.NewRegistry()
	err := r.Register(&classreg.Class{
		Label: "amp",
		Vars:  []classreg.VarDesc{{Label: "level", TypeMask: value.TagFloat64, Attrs: classreg.AttrNotify}},
		Hooks: classreg.Hooks{Exec: func(any) error { return nil }},
	})
	assert.NoError(t, err)
	cfg, err := cfgtree.ParseJSON([]byte(`{"procs": [{"amp_0": {"class": "amp"}}]}`))
	assert.NoError(t, err)
	return r, cfg
}

func TestBuildRejectsFewerThanTwoLegs(t *testing.T) {
	r := classreg.NewRegistry()
	_, err := Build(emptyNetworkCfg(t), r, 1, 64, 48000, nil, nil)
	assert.Error(t, err)
}

func TestBuildInitializesFirstLegActiveRestInactive(t *testing.T) {
	r := classreg.NewRegistry()
	c, err := Build(emptyNetworkCfg(t), r, 3, 64, 48000, nil, nil)
	assert.NoError(t, err)
	assert.Len(t, c.Legs, 3)
	assert.Equal(t, Active, c.Legs[0].State)
	assert.Equal(t, 1.0, c.Legs[0].FadeGain)
	for _, leg := range c.Legs[1:] {
		assert.Equal(t, Inactive, leg.State)
		assert.Equal(t, 0.0, leg.FadeGain)
	}
}

func TestBuildAllocatesBuffersPerDeviceLabel(t *testing.T) {
	r := classreg.NewRegistry()
	c, err := Build(emptyNetworkCfg(t), r, 2, 64, 48000, []string{"out"}, map[string]int{"out": 2})
	assert.NoError(t, err)
	assert.Contains(t, c.TopIn, "out")
	assert.Contains(t, c.TopOut, "out")
	assert.Equal(t, 2, c.TopIn["out"].ChannelCount)
	for _, leg := range c.Legs {
		assert.Contains(t, leg.mirrorInBufs, "out")
		assert.Contains(t, leg.outBufs, "out")
	}
}

func TestBeginCrossFadeAdvancesCurrentAndSetsStates(t *testing.T) {
	r := classreg.NewRegistry()
	c, err := Build(emptyNetworkCfg(t), r, 2, 64, 48000, nil, nil)
	assert.NoError(t, err)

	c.BeginCrossFade(100)
	assert.Equal(t, 1, c.CurrentIndex)
	assert.Equal(t, FadingOut, c.Legs[0].State)
	assert.Equal(t, FadingIn, c.Legs[1].State)
	assert.Greater(t, c.Legs[0].rampIncr, 0.0)
	assert.Equal(t, c.Legs[0].rampIncr, c.Legs[1].rampIncr)
}

func TestLegsForDestinationSelectors(t *testing.T) {
	r := classreg.NewRegistry()
	c, err := Build(emptyNetworkCfg(t), r, 2, 64, 48000, nil, nil)
	assert.NoError(t, err)

	assert.Equal(t, []*Leg{c.Legs[0]}, c.legsFor(DestCurrent))
	assert.Equal(t, []*Leg{c.Legs[1]}, c.legsFor(DestNext))
	assert.ElementsMatch(t, c.Legs, c.legsFor(DestAll))
}

func TestSetVarAppliesAcrossSelectedLegs(t *testing.T) {
	registry, cfg := ampRegistryAndCfg(t)
	c, err := Build(cfg, registry, 2, 64, 48000, nil, nil)
	assert.NoError(t, err)

	assert.NoError(t, c.SetVar(DestAll, "amp", 0, "level", 0, variable.AnyChannel, value.Float64(0.75)))

	for _, leg := range c.Legs {
		p, ok := leg.Net.FindProc("amp", 0)
		assert.True(t, ok)
		v := p.VarByLabel("level", 0, variable.AnyChannel)
		f, _ := v.Head.AsFloat64()
		assert.Equal(t, 0.75, f)
	}
}

func TestSetVarRejectsUnknownProc(t *testing.T) {
	r := classreg.NewRegistry()
	c, err := Build(emptyNetworkCfg(t), r, 2, 64, 48000, nil, nil)
	assert.NoError(t, err)

	err = c.SetVar(DestCurrent, "missing", 0, "level", 0, variable.AnyChannel, value.Float64(1))
	assert.Error(t, err)
}

func TestExecCycleRampsFadeOutLegToInactive(t *testing.T) {
	r := classreg.NewRegistry()
	c, err := Build(emptyNetworkCfg(t), r, 2, 8, 48000, []string{"out"}, map[string]int{"out": 1})
	assert.NoError(t, err)

	c.BeginCrossFade(1) // very short fade: large rampIncr, converges in a few cycles

	for i := 0; i < 1000 && (c.Legs[0].State == FadingOut || c.Legs[1].State == FadingIn); i++ {
		err := c.ExecCycle(func(n *netbuild.Network) error { return nil })
		assert.NoError(t, err)
	}
	assert.Equal(t, Inactive, c.Legs[0].State)
	assert.Equal(t, Active, c.Legs[1].State)
	assert.Equal(t, 0.0, c.Legs[0].FadeGain)
	assert.Equal(t, 1.0, c.Legs[1].FadeGain)
}

// TestExecCycleMixesRealAudioFromLegDeviceWiring drives an actual audio_in ->
// audio_out leg network through a cross-fade cycle and checks that the
// mirrored top-level input reaches the mixed top-level output non-zero,
// per §4.7's "deviceA owns the real audio buffers" with §4.8's audio_in/out
// procs doing the reading and writing.
func TestExecCycleMixesRealAudioFromLegDeviceWiring(t *testing.T) {
	r := classreg.NewRegistry()
	assert.NoError(t, builtins.Register(r))
	cfg, err := cfgtree.ParseJSON([]byte(`{
		"procs": [
			{"mic_0": {"class": "audio_in", "args": {"device_label": "mic_dev"}}},
			{"speaker_0": {"class": "audio_out", "args": {"device_label": "spk_dev"}, "in": {"speaker_0.in": "mic_0.out"}}}
		]
	}`))
	assert.NoError(t, err)

	c, err := Build(cfg, r, 2, 4, 48000,
		[]string{"mic_dev", "spk_dev"},
		map[string]int{"mic_dev": 1, "spk_dev": 1})
	assert.NoError(t, err)

	for i := range c.TopIn["mic_dev"].Samples {
		c.TopIn["mic_dev"].Samples[i] = float32(i+1) * 0.1
	}

	err = c.ExecCycle(func(n *netbuild.Network) error {
		eng := runtime.NewEngine(n, runtime.Config{}, nil, nil)
		return eng.ExecCycle()
	})
	assert.NoError(t, err)

	out := c.TopOut["spk_dev"]
	assert.NotEmpty(t, out.Samples)
	allZero := true
	for _, s := range out.Samples {
		if s != 0 {
			allZero = false
			break
		}
	}
	assert.False(t, allZero, "expected mirrored audio_in input to reach the mixed audio_out output")
	for i, s := range out.Samples {
		assert.InDelta(t, c.TopIn["mic_dev"].Samples[i], s, 1e-6)
	}
}
