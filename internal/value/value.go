// Package value implements the engine's tagged-union Value type and the
// audio/spectral/MIDI/record buffer payloads it can carry.
package value

import (
	"fmt"

	"github.com/audiograph/flow/internal/ferr"
)

// Tag is a bitfield: a Value's Tag names exactly one concrete alternative it
// currently holds, but a Variable's declared type mask may permit several
// (a "runtime-typed" variable).
type Tag uint32

const (
	TagBool Tag = 1 << iota
	TagInt
	TagUint
	TagFloat32
	TagFloat64
	TagString
	TagCfg
	TagMidiMsg
	TagAudioBuf
	TagSpectralBuf
	TagMidiBuf
	TagRecordBuf
)

func (t Tag) String() string {
	names := []struct {
		bit  Tag
		name string
	}{
		{TagBool, "bool"}, {TagInt, "int"}, {TagUint, "uint"},
		{TagFloat32, "float32"}, {TagFloat64, "float64"}, {TagString, "string"},
		{TagCfg, "cfg"}, {TagMidiMsg, "midimsg"}, {TagAudioBuf, "audiobuf"},
		{TagSpectralBuf, "spectralbuf"}, {TagMidiBuf, "midibuf"}, {TagRecordBuf, "recordbuf"},
	}
	out := ""
	for _, n := range names {
		if t&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}

// MidiMsg is a MIDI channel-message triple (status, data1, data2).
type MidiMsg struct {
	Status uint8
	Data1  uint8
	Data2  uint8
}

// Owned reports whether buffer/string payloads of this tag are owned by the
// Value (and must be released) versus borrowed from elsewhere.
func (t Tag) Owned() bool {
	return t == TagString || t == TagAudioBuf || t == TagSpectralBuf
}

// Value is the engine's tagged-union runtime value. Scalars behave by value;
// buffer/string alternatives behave by owning pointer (Owned() == true) or
// borrowed pointer (MIDI/record buffers, cfg nodes).
type Value struct {
	Tag Tag

	b       bool
	i       int32
	u       uint32
	f32     float32
	f64     float64
	str     string
	midi    MidiMsg
	cfg     any // borrowed *cfgtree.Node, untyped here to avoid an import cycle
	audio   *AudioBuf
	spec    *SpectralBuf
	midiBuf *MidiBuf
	recBuf  *RecordBuf
}

func Bool(b bool) Value          { return Value{Tag: TagBool, b: b} }
func Int(i int32) Value          { return Value{Tag: TagInt, i: i} }
func Uint(u uint32) Value        { return Value{Tag: TagUint, u: u} }
func Float32(f float32) Value    { return Value{Tag: TagFloat32, f32: f} }
func Float64(f float64) Value    { return Value{Tag: TagFloat64, f64: f} }
func String(s string) Value      { return Value{Tag: TagString, str: s} }
func Midi(m MidiMsg) Value       { return Value{Tag: TagMidiMsg, midi: m} }
func Cfg(node any) Value         { return Value{Tag: TagCfg, cfg: node} }
func Audio(b *AudioBuf) Value    { return Value{Tag: TagAudioBuf, audio: b} }
func Spectral(b *SpectralBuf) Value { return Value{Tag: TagSpectralBuf, spec: b} }
func Midibuf(b *MidiBuf) Value   { return Value{Tag: TagMidiBuf, midiBuf: b} }
func Recordbuf(b *RecordBuf) Value { return Value{Tag: TagRecordBuf, recBuf: b} }

func (v Value) AsBool() (bool, error) {
	if v.Tag != TagBool {
		return false, ferr.Newf(ferr.TypeMismatch, "value is %s, not bool", v.Tag)
	}
	return v.b, nil
}

func (v Value) AsInt() (int32, error) {
	if v.Tag != TagInt {
		return 0, ferr.Newf(ferr.TypeMismatch, "value is %s, not int", v.Tag)
	}
	return v.i, nil
}

func (v Value) AsUint() (uint32, error) {
	if v.Tag != TagUint {
		return 0, ferr.Newf(ferr.TypeMismatch, "value is %s, not uint", v.Tag)
	}
	return v.u, nil
}

func (v Value) AsFloat32() (float32, error) {
	if v.Tag != TagFloat32 {
		return 0, ferr.Newf(ferr.TypeMismatch, "value is %s, not float32", v.Tag)
	}
	return v.f32, nil
}

func (v Value) AsFloat64() (float64, error) {
	if v.Tag != TagFloat64 {
		return 0, ferr.Newf(ferr.TypeMismatch, "value is %s, not float64", v.Tag)
	}
	return v.f64, nil
}

func (v Value) AsString() (string, error) {
	if v.Tag != TagString {
		return "", ferr.Newf(ferr.TypeMismatch, "value is %s, not string", v.Tag)
	}
	return v.str, nil
}

func (v Value) AsMidi() (MidiMsg, error) {
	if v.Tag != TagMidiMsg {
		return MidiMsg{}, ferr.Newf(ferr.TypeMismatch, "value is %s, not midimsg", v.Tag)
	}
	return v.midi, nil
}

func (v Value) AsCfg() (any, error) {
	if v.Tag != TagCfg {
		return nil, ferr.Newf(ferr.TypeMismatch, "value is %s, not cfg", v.Tag)
	}
	return v.cfg, nil
}

func (v Value) AsAudio() (*AudioBuf, error) {
	if v.Tag != TagAudioBuf {
		return nil, ferr.Newf(ferr.TypeMismatch, "value is %s, not audiobuf", v.Tag)
	}
	return v.audio, nil
}

func (v Value) AsSpectral() (*SpectralBuf, error) {
	if v.Tag != TagSpectralBuf {
		return nil, ferr.Newf(ferr.TypeMismatch, "value is %s, not spectralbuf", v.Tag)
	}
	return v.spec, nil
}

func (v Value) AsMidiBuf() (*MidiBuf, error) {
	if v.Tag != TagMidiBuf {
		return nil, ferr.Newf(ferr.TypeMismatch, "value is %s, not midibuf", v.Tag)
	}
	return v.midiBuf, nil
}

func (v Value) AsRecordBuf() (*RecordBuf, error) {
	if v.Tag != TagRecordBuf {
		return nil, ferr.Newf(ferr.TypeMismatch, "value is %s, not recordbuf", v.Tag)
	}
	return v.recBuf, nil
}

// EltCount returns the element count for buffer-typed values (used by the
// auto-notify rule: a change notification fires only once this is nonzero),
// and -1 for non-buffer types.
func (v Value) EltCount() int {
	switch v.Tag {
	case TagAudioBuf:
		if v.audio == nil {
			return 0
		}
		return v.audio.ChannelCount * v.audio.FrameCount
	case TagSpectralBuf:
		if v.spec == nil {
			return 0
		}
		n := 0
		for _, ch := range v.spec.Channels {
			n += ch.BinCount
		}
		return n
	case TagMidiBuf:
		if v.midiBuf == nil {
			return 0
		}
		return v.midiBuf.Count
	case TagRecordBuf:
		if v.recBuf == nil {
			return 0
		}
		return v.recBuf.Count
	default:
		return -1
	}
}

// Release frees resources owned by v. Borrowed buffers (midi/record) and
// cfg nodes are left untouched; owned buffers/strings are unreferenced so
// the garbage collector can reclaim their backing storage.
func (v *Value) Release() {
	if !v.Tag.Owned() {
		return
	}
	switch v.Tag {
	case TagString:
		v.str = ""
	case TagAudioBuf:
		v.audio = nil
	case TagSpectralBuf:
		v.spec = nil
	}
}

// Equal reports scalar value equality for same-tag values; it is undefined
// (and always false) across differing tags or for buffer-typed values other
// than pointer identity.
func (v Value) Equal(o Value) bool {
	if v.Tag != o.Tag {
		return false
	}
	switch v.Tag {
	case TagBool:
		return v.b == o.b
	case TagInt:
		return v.i == o.i
	case TagUint:
		return v.u == o.u
	case TagFloat32:
		return v.f32 == o.f32
	case TagFloat64:
		return v.f64 == o.f64
	case TagString:
		return v.str == o.str
	case TagMidiMsg:
		return v.midi == o.midi
	case TagAudioBuf:
		return v.audio == o.audio
	case TagSpectralBuf:
		return v.spec == o.spec
	case TagMidiBuf:
		return v.midiBuf == o.midiBuf
	case TagRecordBuf:
		return v.recBuf == o.recBuf
	case TagCfg:
		return v.cfg == o.cfg
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.Tag {
	case TagBool:
		return fmt.Sprintf("%v", v.b)
	case TagInt:
		return fmt.Sprintf("%d", v.i)
	case TagUint:
		return fmt.Sprintf("%d", v.u)
	case TagFloat32:
		return fmt.Sprintf("%g", v.f32)
	case TagFloat64:
		return fmt.Sprintf("%g", v.f64)
	case TagString:
		return v.str
	default:
		return fmt.Sprintf("<%s>", v.Tag)
	}
}
