package device

import (
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"github.com/smallnest/ringbuffer"

	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/logging"
	"github.com/audiograph/flow/internal/value"
)

// midiMsgSize is the on-wire byte width used to pack a value.MidiMsg into the
// ringbuffer handing messages from the MIDI driver's own callback thread to
// the engine thread (§4.8, §5 "external-device layers may block outside the
// engine... but the engine itself runs to completion each cycle").
const midiMsgSize = 3

// MIDIIn binds a named MIDI input port, per spec.md §4.8's midi_in special
// proc. Incoming messages are pushed onto a lock-protected ring buffer by the
// driver's own callback goroutine and drained once per cycle by Poll.
type MIDIIn struct {
	label string
	port  drivers.In
	stop  func()
	ring  *ringbuffer.RingBuffer
	mu    sync.Mutex

	Payload MIDIPayload
}

// NewMIDIIn opens, for input, the MIDI port that midi.FindInPort returns for
// portName.
func NewMIDIIn(label, portName string, maxMessages int) (*MIDIIn, error) {
	in, err := midi.FindInPort(portName)
	if err != nil {
		return nil, ferr.Wrap(ferr.Unavailable, label, "find MIDI input port", err)
	}
	d := &MIDIIn{label: label, port: in, ring: ringbuffer.New(maxMessages * midiMsgSize)}
	d.ring.SetBlocking(false)
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		var status, d1, d2 uint8
		if msg.GetSysEx(nil) {
			return
		}
		raw := msg.Bytes()
		if len(raw) == 0 {
			return
		}
		status = raw[0]
		if len(raw) > 1 {
			d1 = raw[1]
		}
		if len(raw) > 2 {
			d2 = raw[2]
		}
		buf := []byte{status, d1, d2}
		d.mu.Lock()
		if _, err := d.ring.Write(buf); err != nil {
			logging.Warnf("midi input %s: ring buffer full, dropping message", label)
		}
		d.mu.Unlock()
	})
	if err != nil {
		return nil, ferr.Wrap(ferr.OpFailed, label, "listen on MIDI input port", err)
	}
	d.stop = stop
	return d, nil
}

func (d *MIDIIn) Label() string       { return d.label }
func (d *MIDIIn) Kind() Kind          { return KindMIDI }
func (d *MIDIIn) Direction() Direction { return DirIn }

// Poll drains every whole message currently in the ring buffer into Payload,
// per §4.8's "pointer to a shared ordered message array, its count".
func (d *MIDIIn) Poll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Payload.Messages = d.Payload.Messages[:0]
	buf := make([]byte, midiMsgSize)
	for d.ring.Length() >= midiMsgSize {
		n, err := d.ring.Read(buf)
		if err != nil || n < midiMsgSize {
			break
		}
		d.Payload.Messages = append(d.Payload.Messages, value.MidiMsg{Status: buf[0], Data1: buf[1], Data2: buf[2]})
	}
	return nil
}

func (d *MIDIIn) Flush() error { return nil }

// Messages exposes the device's current per-cycle message batch to the
// midi_in builtin proc.
func (d *MIDIIn) Messages() []value.MidiMsg { return d.Payload.Messages }

func (d *MIDIIn) Close() error {
	if d.stop != nil {
		d.stop()
	}
	return d.port.Close()
}

// MIDIOut binds a named MIDI output port, per §4.8's midi_out special proc.
type MIDIOut struct {
	label   string
	port    drivers.Out
	pending []value.MidiMsg
}

func NewMIDIOut(label, portName string) (*MIDIOut, error) {
	out, err := midi.FindOutPort(portName)
	if err != nil {
		return nil, ferr.Wrap(ferr.Unavailable, label, "find MIDI output port", err)
	}
	if err := out.Open(); err != nil {
		return nil, ferr.Wrap(ferr.OpFailed, label, "open MIDI output port", err)
	}
	return &MIDIOut{label: label, port: out}, nil
}

func (d *MIDIOut) Label() string       { return d.label }
func (d *MIDIOut) Kind() Kind          { return KindMIDI }
func (d *MIDIOut) Direction() Direction { return DirOut }

func (d *MIDIOut) Poll() error { return nil }

// Send queues a message for transmission at the next Flush, implementing the
// send-function pointer in §4.8's MIDIPayload.
func (d *MIDIOut) Send(m value.MidiMsg) error {
	d.pending = append(d.pending, m)
	return nil
}

func (d *MIDIOut) Flush() error {
	for _, m := range d.pending {
		if err := d.port.Send([]byte{m.Status, m.Data1, m.Data2}); err != nil {
			logging.Warnf("midi output %s: send failed: %v", d.label, err)
		}
	}
	d.pending = d.pending[:0]
	return nil
}

func (d *MIDIOut) Close() error { return d.port.Close() }
