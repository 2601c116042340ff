// Package device implements the external device surface (spec.md §4.8): a
// flat devices[] array of audio/midi/serial/socket backends feeding the
// audio_in/out and midi_in/out special procs.
package device

import (
	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/value"
)

// Kind is a device type tag (§4.8).
type Kind int

const (
	KindAudio Kind = iota
	KindMIDI
	KindSerial
	KindSocket
)

// Direction flags a device's allowed data flow.
type Direction int

const (
	DirIn Direction = 1 << iota
	DirOut
)

// Device is one entry in the engine's flat devices[] array (§4.8).
type Device interface {
	Label() string
	Kind() Kind
	Direction() Direction
	// Poll copies any data that arrived since the last cycle into the
	// device's per-cycle payload (audio buffer, MIDI message array). Called
	// once per cycle, before procs exec.
	Poll() error
	// Flush pushes whatever the engine wrote into the device's per-cycle
	// payload (audio buffer, MIDI send queue) out to the backend. Called
	// once per cycle, after procs exec.
	Flush() error
	Close() error
}

// AudioPayload is the per-cycle audio device payload: a buffer shaped
// frames_per_cycle x channel_count (§4.8).
type AudioPayload struct {
	Buf *value.AudioBuf
}

// MIDIPayload is the per-cycle consolidated MIDI message array (§4.8): a
// shared ordered array, its count, its max count, and (for an output
// device) a send-function pointer.
type MIDIPayload struct {
	Messages []value.MidiMsg
	MaxCount int
	Send     func(value.MidiMsg) error
}

// Registry is the flat devices[] array, looked up by label.
type Registry struct {
	devices map[string]Device
}

func NewRegistry() *Registry { return &Registry{devices: make(map[string]Device)} }

func (r *Registry) Add(d Device) error {
	if _, exists := r.devices[d.Label()]; exists {
		return ferr.Newf(ferr.InvalidState, "device %q already registered", d.Label())
	}
	r.devices[d.Label()] = d
	return nil
}

func (r *Registry) Find(label string) (Device, bool) {
	d, ok := r.devices[label]
	return d, ok
}

func (r *Registry) All() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// PollAll polls every registered device, for the start of a cycle.
func (r *Registry) PollAll() error {
	for _, d := range r.devices {
		if err := d.Poll(); err != nil {
			return ferr.Wrap(ferr.OpFailed, d.Label(), "device poll", err)
		}
	}
	return nil
}

// FlushAll flushes every registered device, at the end of a cycle.
func (r *Registry) FlushAll() error {
	for _, d := range r.devices {
		if err := d.Flush(); err != nil {
			return ferr.Wrap(ferr.OpFailed, d.Label(), "device flush", err)
		}
	}
	return nil
}

// CloseAll closes every registered device, at engine shutdown.
func (r *Registry) CloseAll() {
	for _, d := range r.devices {
		_ = d.Close()
	}
}
