// Package crossfade implements the cross-fade controller (spec.md §4.7): K≥2
// parallel network replicas with per-network fade state, ramped into and out
// of the mixed top-level output.
package crossfade

import (
	"github.com/audiograph/flow/internal/cfgtree"
	"github.com/audiograph/flow/internal/classreg"
	"github.com/audiograph/flow/internal/device"
	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/netbuild"
	"github.com/audiograph/flow/internal/value"
	"github.com/audiograph/flow/internal/variable"
)

// State is a leg's cross-fade lifecycle state (§4.7).
type State int

const (
	Inactive State = iota
	Active
	FadingIn
	FadingOut
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case FadingIn:
		return "fading_in"
	case FadingOut:
		return "fading_out"
	default:
		return "unknown"
	}
}

// Leg is one of the K independent network replicas.
type Leg struct {
	Net          *netbuild.Network
	State        State
	FadeGain     float64
	rampIncr     float64
	mirrorInBufs map[string]*value.AudioBuf // device label -> mirrored input buffer
	outBufs      map[string]*value.AudioBuf // device label -> this leg's output buffer
	sharedBufs   map[string]*value.AudioBuf // device label -> buffer the leg's own audio_in/audio_out procs read and write
}

// Controller holds K≥2 legs plus the device-facing top-level audio buffers
// (§4.7's "deviceA owns the real audio buffers").
type Controller struct {
	Legs         []*Leg
	CurrentIndex int
	FramesPerCycle int
	SampleRate     float64

	// TopIn/TopOut are the real, device-owned buffers keyed by device label.
	TopIn  map[string]*value.AudioBuf
	TopOut map[string]*value.AudioBuf
}

// Build instantiates K replicas of the same network/class cfg, each with its
// own mirrored audio buffer per external audio device, per §4.7.
func Build(cfg *cfgtree.Node, registry *classreg.Registry, k int, framesPerCycle int, sampleRate float64, deviceLabels []string, deviceChannels map[string]int) (*Controller, error) {
	if k < 2 {
		return nil, ferr.New(ferr.InvalidArg, "cross-fade controller requires k>=2 legs")
	}
	c := &Controller{
		FramesPerCycle: framesPerCycle,
		SampleRate:     sampleRate,
		TopIn:          make(map[string]*value.AudioBuf),
		TopOut:         make(map[string]*value.AudioBuf),
	}
	for _, label := range deviceLabels {
		ch := deviceChannels[label]
		c.TopIn[label] = value.NewAudioBuf(sampleRate, ch, framesPerCycle)
		c.TopOut[label] = value.NewAudioBuf(sampleRate, ch, framesPerCycle)
	}

	for i := 0; i < k; i++ {
		nets, err := netbuild.Build(cfg, registry, nil, 1)
		if err != nil {
			return nil, ferr.Wrap(ferr.OpFailed, "", "building cross-fade leg", err)
		}
		leg := &Leg{
			Net:          nets[0],
			mirrorInBufs: make(map[string]*value.AudioBuf),
			outBufs:      make(map[string]*value.AudioBuf),
			sharedBufs:   make(map[string]*value.AudioBuf),
		}
		reg := device.NewRegistry()
		for _, label := range deviceLabels {
			ch := deviceChannels[label]
			leg.mirrorInBufs[label] = value.NewAudioBuf(sampleRate, ch, framesPerCycle)
			leg.outBufs[label] = value.NewAudioBuf(sampleRate, ch, framesPerCycle)
			buf := value.NewAudioBuf(sampleRate, ch, framesPerCycle)
			leg.sharedBufs[label] = buf
			if err := reg.Add(&legDevice{label: label, buf: buf}); err != nil {
				return nil, ferr.Wrap(ferr.OpFailed, label, "register cross-fade leg device", err)
			}
		}
		for _, p := range leg.Net.Procs {
			p.Ctx = reg
		}
		if i == 0 {
			leg.State = Active
			leg.FadeGain = 1.0
		} else {
			leg.State = Inactive
			leg.FadeGain = 0.0
		}
		c.Legs = append(c.Legs, leg)
	}
	return c, nil
}

// Destination selects which leg(s) a preset/variable operation targets
// (§4.7).
type Destination int

const (
	DestCurrent Destination = iota
	DestNext
	DestAll
)

// next returns the index following cur in the ring of legs.
func (c *Controller) next(cur int) int {
	return (cur + 1) % len(c.Legs)
}

// BeginCrossFade flips current -> fading_out, advances to the next leg
// (fading_in), and computes the per-cycle ramp increment from the requested
// fade length in milliseconds (§4.7).
func (c *Controller) BeginCrossFade(fadeMs float64) {
	cur := c.Legs[c.CurrentIndex]
	cur.State = FadingOut
	fadeSamples := fadeMs / 1000.0 * c.SampleRate
	incr := float64(c.FramesPerCycle) / fadeSamples
	cur.rampIncr = incr

	nextIdx := c.next(c.CurrentIndex)
	nxt := c.Legs[nextIdx]
	nxt.State = FadingIn
	nxt.rampIncr = incr
	c.CurrentIndex = nextIdx
}

// Legs by destination selector, per §4.7.
func (c *Controller) legsFor(d Destination) []*Leg {
	switch d {
	case DestCurrent:
		return []*Leg{c.Legs[c.CurrentIndex]}
	case DestNext:
		return []*Leg{c.Legs[c.next(c.CurrentIndex)]}
	default:
		return c.Legs
	}
}

// ExecCycle runs one cycle of every leg and mixes their ramped output into
// the top-level output buffers (§4.7 steps 1-3).
func (c *Controller) ExecCycle(execLeg func(net *netbuild.Network) error) error {
	for label, in := range c.TopIn {
		for _, leg := range c.Legs {
			copy(leg.mirrorInBufs[label].Samples, in.Samples)
		}
	}
	for _, out := range c.TopOut {
		out.Zero()
	}

	for _, leg := range c.Legs {
		for label, in := range leg.mirrorInBufs {
			copy(leg.sharedBufs[label].Samples, in.Samples)
		}
		if err := execLeg(leg.Net); err != nil {
			return err
		}
		for label, out := range leg.outBufs {
			copy(out.Samples, leg.sharedBufs[label].Samples)
		}
		target := 0.0
		if leg.State == Active || leg.State == FadingIn {
			target = 1.0
		}
		for label, out := range c.TopOut {
			legOut := leg.outBufs[label]
			n := len(legOut.Samples)
			gain := leg.FadeGain
			incr := leg.rampIncr
			for i := 0; i < n; i++ {
				if incr > 0 {
					if gain < target {
						gain += incr / float64(n)
					} else if gain > target {
						gain -= incr / float64(n)
					}
				}
				out.Samples[i] += legOut.Samples[i] * float32(clamp01(gain))
			}
		}
		if incr := leg.rampIncr; incr > 0 {
			if target == 1.0 {
				leg.FadeGain += incr
			} else {
				leg.FadeGain -= incr
			}
			leg.FadeGain = clamp01(leg.FadeGain)
			if leg.State == FadingIn && leg.FadeGain >= 1.0 {
				leg.State = Active
				leg.rampIncr = 0
			}
			if leg.State == FadingOut && leg.FadeGain <= 0.0 {
				leg.State = Inactive
				leg.rampIncr = 0
			}
		}
	}
	return nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// SetVar applies a variable set to every leg selected by dest, by path
// proc_label:sfx.var_label:sfx@ch.
func (c *Controller) SetVar(dest Destination, procLabel string, procSfx int, varLabel string, varSfx, ch int, v value.Value) error {
	for _, leg := range c.legsFor(dest) {
		p, ok := leg.Net.FindProc(procLabel, procSfx)
		if !ok {
			return ferr.Newf(ferr.NotFound, "proc %s:%d not found", procLabel, procSfx)
		}
		vr := p.VarByLabel(varLabel, varSfx, ch)
		if vr == nil {
			return ferr.Newf(ferr.NotFound, "var %s:%d@%d not found", varLabel, varSfx, ch)
		}
		if err := variable.Set(vr, v); err != nil {
			return err
		}
	}
	return nil
}
