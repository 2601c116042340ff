// Package snapshot serializes a network's current variable state to JSON,
// for UI consumers and for dumping the preset-pair table (§4.4 step 3, §8
// "preset-pair table length" invariant). Grounded on the teacher's
// internal/storage, which marshals its save-file state through jsoniter
// rather than encoding/json.
package snapshot

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/audiograph/flow/internal/netbuild"
	"github.com/audiograph/flow/internal/value"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// VarState is one variable's scalar state, flattened for JSON output.
// Buffer-typed variables (audio/spectral/MIDI/record) are reported by tag
// only; their payload is not copied into the snapshot.
type VarState struct {
	Proc    string `json:"proc"`
	ProcSfx int    `json:"proc_sfx"`
	Var     string `json:"var"`
	VarSfx  int    `json:"var_sfx"`
	Ch      int    `json:"ch"`
	Tag     string `json:"tag"`
	Value   any    `json:"value,omitempty"`
}

// Dump flattens every proc/var/channel triple in net into a JSON document,
// one VarState per entry in the preset-pair table (§4.4 step 3).
func Dump(net *netbuild.Network) ([]byte, error) {
	var states []VarState
	for _, p := range net.Procs {
		for _, vr := range p.AllVars() {
			states = append(states, VarState{
				Proc:    p.Label(),
				ProcSfx: p.Sfx(),
				Var:     vr.Label,
				VarSfx:  vr.SfxID,
				Ch:      vr.Ch,
				Tag:     vr.Head.Tag.String(),
				Value:   scalarOf(vr.Head),
			})
		}
	}
	return json.MarshalIndent(states, "", "  ")
}

// scalarOf returns a JSON-friendly representation of v's scalar alternatives,
// or nil for buffer/cfg-typed values.
func scalarOf(v value.Value) any {
	switch v.Tag {
	case value.TagBool:
		b, _ := v.AsBool()
		return b
	case value.TagInt:
		i, _ := v.AsInt()
		return i
	case value.TagUint:
		u, _ := v.AsUint()
		return u
	case value.TagFloat32:
		f, _ := v.AsFloat32()
		return f
	case value.TagFloat64:
		f, _ := v.AsFloat64()
		return f
	case value.TagString:
		s, _ := v.AsString()
		return s
	default:
		return nil
	}
}
