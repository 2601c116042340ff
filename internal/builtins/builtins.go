// Package builtins implements the leaf proc classes spec.md §8's end-to-end
// scenarios exercise: const/add/gain/sine_tone/mix numeric and audio
// generators, plus the audio_in/audio_out/midi_in/midi_out special procs
// bound to the external device surface (§4.8).
package builtins

import (
	"math"

	"github.com/audiograph/flow/internal/classreg"
	"github.com/audiograph/flow/internal/device"
	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/procinst"
	"github.com/audiograph/flow/internal/value"
	"github.com/audiograph/flow/internal/variable"
)

func v(label string, mask value.Tag, attrs classreg.Attr) classreg.VarDesc {
	return classreg.VarDesc{Label: label, TypeMask: mask, Attrs: attrs}
}

// Register adds every builtin class to r.
func Register(r *classreg.Registry) error {
	classes := []*classreg.Class{
		constClass(),
		addClass(),
		gainClass(),
		sineToneClass(),
		mixClass(),
		audioInClass(),
		audioOutClass(),
		midiInClass(),
		midiOutClass(),
	}
	for _, c := range classes {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func self(p any) *procinst.Proc { return p.(*procinst.Proc) }

// HooksFor returns the vtable for a builtin class name, for use as the
// hooksFor callback to classreg.LoadDict when a cfg's class_dict supplies
// its own vars/presets for a class whose behavior is one of these builtins.
func HooksFor(name string) (classreg.Hooks, bool) {
	for _, c := range []*classreg.Class{
		constClass(), addClass(), gainClass(), sineToneClass(), mixClass(),
		audioInClass(), audioOutClass(), midiInClass(), midiOutClass(),
	} {
		if c.Label == name {
			return c.Hooks, true
		}
	}
	return classreg.Hooks{}, false
}

// --- const: a constant scalar source, no exec-time work. ---

func constClass() *classreg.Class {
	return &classreg.Class{
		Label: "const",
		Vars: []classreg.VarDesc{
			v("in", value.TagFloat64|value.TagInt, classreg.AttrNotify),
			v("out", value.TagFloat64|value.TagInt, classreg.AttrNotify),
		},
		Hooks: classreg.Hooks{
			Create: func(p any) error {
				pr := self(p)
				in := pr.VarByLabel("in", 0, variable.AnyChannel)
				out := pr.VarByLabel("out", 0, variable.AnyChannel)
				if in == nil || out == nil {
					return nil
				}
				return variable.Set(out, in.Head)
			},
			Notify: func(p any, valueID, ch int) error {
				pr := self(p)
				in := pr.VarByLabel("in", 0, variable.AnyChannel)
				if in == nil || valueID != in.ValueID {
					return nil
				}
				out := pr.VarByLabel("out", 0, ch)
				if out == nil || out.Source != nil {
					return nil
				}
				return variable.Set(out, in.Head)
			},
			Exec: func(p any) error { return nil },
		},
	}
}

// inputLeaves gathers every leaf value feeding a proc's label-named input
// across both fan-in shapes in play: a single "any" variable channelized
// into per-channel ChLink children, and the suffix-sibling "any" variables
// (same label, distinct SfxID) that an indexed in-statement's iteration
// creates on the proc (§4.3 steps 3/8, processStatements -> ensureVar).
func inputLeaves(p *procinst.Proc, label string) []*variable.Variable {
	var leaves []*variable.Variable
	for _, top := range p.Vars() {
		if top.Label != label || top.Ch != variable.AnyChannel {
			continue
		}
		if len(top.ChLink) > 0 {
			leaves = append(leaves, top.ChLink...)
		} else {
			leaves = append(leaves, top)
		}
	}
	return leaves
}

// --- add: out = sum of every leaf value feeding the input variable "in". ---

func addClass() *classreg.Class {
	return &classreg.Class{
		Label: "add",
		Vars: []classreg.VarDesc{
			v("in", value.TagFloat64, 0),
			v("out", value.TagFloat64, classreg.AttrNotify|classreg.AttrRuntime),
		},
		Hooks: classreg.Hooks{
			Create: func(p any) error {
				pr := self(p)
				desc, _ := pr.Class.VarDesc("out")
				out, err := variable.Create(pr, desc, "out", 0, pr.NextValueID(), variable.AnyChannel, nil, 0)
				if err != nil {
					return err
				}
				return pr.AddVar(out)
			},
			Exec: func(p any) error {
				pr := self(p)
				out := pr.VarByLabel("out", 0, variable.AnyChannel)
				if out == nil {
					return nil
				}
				sum := 0.0
				for _, leaf := range inputLeaves(pr, "in") {
					f, err := leaf.Head.AsFloat64()
					if err != nil {
						continue
					}
					sum += f
				}
				return variable.Set(out, value.Float64(sum))
			},
		},
	}
}

// --- gain: out = in * gain, over float64 scalars. ---

func gainClass() *classreg.Class {
	return &classreg.Class{
		Label: "gain",
		Vars: []classreg.VarDesc{
			v("in", value.TagFloat64, 0),
			v("gain", value.TagFloat64, classreg.AttrNotify),
			v("out", value.TagFloat64, classreg.AttrNotify),
		},
		Hooks: classreg.Hooks{
			Exec: func(p any) error {
				pr := self(p)
				in := pr.VarByLabel("in", 0, variable.AnyChannel)
				gain := pr.VarByLabel("gain", 0, variable.AnyChannel)
				out := pr.VarByLabel("out", 0, variable.AnyChannel)
				if in == nil || gain == nil || out == nil {
					return nil
				}
				inF, _ := in.Head.AsFloat64()
				gF, _ := gain.Head.AsFloat64()
				return variable.Set(out, value.Float64(inF*gF))
			},
		},
	}
}

// --- sine_tone: single-channel sine oscillator feeding an audio buffer. ---

type sineState struct {
	phase float64
}

func sineToneClass() *classreg.Class {
	return &classreg.Class{
		Label: "sine_tone",
		Vars: []classreg.VarDesc{
			v("freq", value.TagFloat64, classreg.AttrNotify),
			v("amp", value.TagFloat64, classreg.AttrNotify),
			v("frames_per_cycle", value.TagInt, classreg.AttrInitOnly),
			v("sample_rate", value.TagFloat64, classreg.AttrInitOnly),
			v("out", value.TagAudioBuf, classreg.AttrRuntime),
		},
		Hooks: classreg.Hooks{
			Create: func(p any) error {
				pr := self(p)
				pr.State = &sineState{}
				fpc := readIntVar(pr, "frames_per_cycle", 64)
				sr := readFloatVar(pr, "sample_rate", 48000)
				desc, _ := pr.Class.VarDesc("out")
				outVar, err := variable.Create(pr, desc, "out", 0, pr.NextValueID(), variable.AnyChannel, nil, 0)
				if err != nil {
					return err
				}
				if err := pr.AddVar(outVar); err != nil {
					return err
				}
				outVar.Head = value.Audio(value.NewAudioBuf(sr, 1, fpc))
				pr.MarkManualNotify(outVar)
				return nil
			},
			Exec: func(p any) error {
				pr := self(p)
				st := pr.State.(*sineState)
				freqV := pr.VarByLabel("freq", 0, variable.AnyChannel)
				ampV := pr.VarByLabel("amp", 0, variable.AnyChannel)
				outV := pr.VarByLabel("out", 0, variable.AnyChannel)
				if freqV == nil || ampV == nil || outV == nil {
					return nil
				}
				freq, _ := freqV.Head.AsFloat64()
				amp, _ := ampV.Head.AsFloat64()
				buf, err := outV.Head.AsAudio()
				if err != nil {
					return err
				}
				ch0, err := buf.Channel(0)
				if err != nil {
					return err
				}
				incr := 2 * math.Pi * freq / buf.SampleRate
				for i := range ch0 {
					ch0[i] = float32(amp * math.Sin(st.phase))
					st.phase += incr
					if st.phase > 2*math.Pi {
						st.phase -= 2 * math.Pi
					}
				}
				return nil
			},
		},
	}
}

func readIntVar(p *procinst.Proc, label string, def int) int {
	if vr := p.VarByLabel(label, 0, variable.AnyChannel); vr != nil {
		if i, err := vr.Head.AsInt(); err == nil {
			return int(i)
		}
	}
	return def
}

func readFloatVar(p *procinst.Proc, label string, def float64) float64 {
	if vr := p.VarByLabel(label, 0, variable.AnyChannel); vr != nil {
		if f, err := vr.Head.AsFloat64(); err == nil {
			return f
		}
	}
	return def
}

// --- mix: sums every leaf audio-buffer input into one output buffer. ---

func mixClass() *classreg.Class {
	return &classreg.Class{
		Label: "mix",
		Vars: []classreg.VarDesc{
			v("in", value.TagAudioBuf, 0),
			v("out", value.TagAudioBuf, classreg.AttrRuntime),
		},
		Hooks: classreg.Hooks{
			Exec: func(p any) error {
				pr := self(p)
				out := pr.VarByLabel("out", 0, variable.AnyChannel)
				var sources []*value.AudioBuf
				for _, leaf := range inputLeaves(pr, "in") {
					buf, err := leaf.Head.AsAudio()
					if err == nil && buf != nil {
						sources = append(sources, buf)
					}
				}
				if len(sources) == 0 {
					return nil
				}
				if out == nil {
					desc, _ := pr.Class.VarDesc("out")
					outVar, err := variable.Create(pr, desc, "out", 0, pr.NextValueID(), variable.AnyChannel, nil, 0)
					if err != nil {
						return err
					}
					outVar.Head = value.Audio(value.NewAudioBuf(sources[0].SampleRate, sources[0].ChannelCount, sources[0].FrameCount))
					if err := pr.AddVar(outVar); err != nil {
						return err
					}
					pr.MarkManualNotify(outVar)
					out = outVar
				}
				buf, err := out.Head.AsAudio()
				if err != nil {
					return err
				}
				buf.Zero()
				for _, src := range sources {
					for ch := 0; ch < buf.ChannelCount && ch < src.ChannelCount; ch++ {
						dst, _ := buf.Channel(ch)
						s, _ := src.Channel(ch)
						for i := 0; i < len(dst) && i < len(s); i++ {
							dst[i] += s[i]
						}
					}
				}
				return nil
			},
		},
	}
}

// --- audio_in / audio_out: bind to a named external audio device. ---

func audioInClass() *classreg.Class {
	return &classreg.Class{
		Label: "audio_in",
		Vars: []classreg.VarDesc{
			v("device_label", value.TagString, classreg.AttrInitOnly),
			v("out", value.TagAudioBuf, classreg.AttrRuntime),
		},
		Hooks: classreg.Hooks{
			Create: func(p any) error {
				pr := self(p)
				desc, _ := pr.Class.VarDesc("out")
				outVar, err := variable.Create(pr, desc, "out", 0, pr.NextValueID(), variable.AnyChannel, nil, 0)
				if err != nil {
					return err
				}
				if err := pr.AddVar(outVar); err != nil {
					return err
				}
				pr.MarkManualNotify(outVar)
				return nil
			},
			Exec: func(p any) error {
				pr := self(p)
				reg, ok := pr.Ctx.(*device.Registry)
				if !ok {
					return nil
				}
				label := readStringVar(pr, "device_label")
				d, ok := reg.Find(label)
				if !ok {
					return ferr.Newf(ferr.NotFound, "audio_in: device %q not found", label)
				}
				ad, ok := d.(interface{ AudioBuf() *value.AudioBuf })
				if !ok {
					return nil
				}
				out := pr.VarByLabel("out", 0, variable.AnyChannel)
				out.Head = value.Audio(ad.AudioBuf())
				return nil
			},
		},
	}
}

func audioOutClass() *classreg.Class {
	return &classreg.Class{
		Label: "audio_out",
		Vars: []classreg.VarDesc{
			v("device_label", value.TagString, classreg.AttrInitOnly),
			v("in", value.TagAudioBuf, 0),
		},
		Hooks: classreg.Hooks{
			Exec: func(p any) error {
				pr := self(p)
				reg, ok := pr.Ctx.(*device.Registry)
				if !ok {
					return nil
				}
				in := pr.VarByLabel("in", 0, variable.AnyChannel)
				if in == nil {
					return nil
				}
				src, err := in.Head.AsAudio()
				if err != nil {
					return nil
				}
				label := readStringVar(pr, "device_label")
				d, ok := reg.Find(label)
				if !ok {
					return ferr.Newf(ferr.NotFound, "audio_out: device %q not found", label)
				}
				ad, ok := d.(interface{ AudioBuf() *value.AudioBuf })
				if !ok {
					return nil
				}
				dst := ad.AudioBuf()
				copy(dst.Samples, src.Samples)
				return nil
			},
		},
	}
}

func readStringVar(p *procinst.Proc, label string) string {
	if vr := p.VarByLabel(label, 0, variable.AnyChannel); vr != nil {
		if s, err := vr.Head.AsString(); err == nil {
			return s
		}
	}
	return ""
}

// --- midi_in / midi_out: read/write the consolidated per-cycle MIDI array. ---

func midiInClass() *classreg.Class {
	return &classreg.Class{
		Label: "midi_in",
		Vars: []classreg.VarDesc{
			v("device_label", value.TagString, classreg.AttrInitOnly),
			v("out", value.TagMidiBuf, classreg.AttrRuntime),
		},
		Hooks: classreg.Hooks{
			Create: func(p any) error {
				pr := self(p)
				desc, _ := pr.Class.VarDesc("out")
				outVar, err := variable.Create(pr, desc, "out", 0, pr.NextValueID(), variable.AnyChannel, nil, 0)
				if err != nil {
					return err
				}
				if err := pr.AddVar(outVar); err != nil {
					return err
				}
				pr.MarkManualNotify(outVar)
				return nil
			},
			Exec: func(p any) error {
				pr := self(p)
				reg, ok := pr.Ctx.(*device.Registry)
				if !ok {
					return nil
				}
				label := readStringVar(pr, "device_label")
				d, ok := reg.Find(label)
				if !ok {
					return ferr.Newf(ferr.NotFound, "midi_in: device %q not found", label)
				}
				md, ok := d.(interface{ Messages() []value.MidiMsg })
				if !ok {
					return nil
				}
				out := pr.VarByLabel("out", 0, variable.AnyChannel)
				msgs := md.Messages()
				out.Head = value.Midibuf(&value.MidiBuf{Messages: msgs, Count: len(msgs)})
				return nil
			},
		},
	}
}

func midiOutClass() *classreg.Class {
	return &classreg.Class{
		Label: "midi_out",
		Vars: []classreg.VarDesc{
			v("device_label", value.TagString, classreg.AttrInitOnly),
			v("in", value.TagMidiBuf, 0),
		},
		Hooks: classreg.Hooks{
			Exec: func(p any) error {
				pr := self(p)
				reg, ok := pr.Ctx.(*device.Registry)
				if !ok {
					return nil
				}
				in := pr.VarByLabel("in", 0, variable.AnyChannel)
				if in == nil {
					return nil
				}
				buf, err := in.Head.AsMidiBuf()
				if err != nil {
					return nil
				}
				label := readStringVar(pr, "device_label")
				d, ok := reg.Find(label)
				if !ok {
					return ferr.Newf(ferr.NotFound, "midi_out: device %q not found", label)
				}
				md, ok := d.(interface{ Send(value.MidiMsg) error })
				if !ok {
					return nil
				}
				for i := 0; i < buf.Count && i < len(buf.Messages); i++ {
					if err := md.Send(buf.Messages[i]); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
