package device

import (
	"testing"

	"github.com/smallnest/ringbuffer"
	"github.com/stretchr/testify/assert"

	"github.com/audiograph/flow/internal/value"
)

func TestMIDIInPollDrainsWholeMessagesFromRing(t *testing.T) {
	d := &MIDIIn{label: "in", ring: ringbuffer.New(32 * midiMsgSize)}
	d.ring.SetBlocking(false)

	_, err := d.ring.Write([]byte{0x90, 60, 127})
	assert.NoError(t, err)
	_, err = d.ring.Write([]byte{0x80, 60, 0})
	assert.NoError(t, err)

	assert.NoError(t, d.Poll())
	assert.Equal(t, []value.MidiMsg{
		{Status: 0x90, Data1: 60, Data2: 127},
		{Status: 0x80, Data1: 60, Data2: 0},
	}, d.Payload.Messages)
	assert.Equal(t, KindMIDI, d.Kind())
	assert.Equal(t, DirIn, d.Direction())
}

func TestMIDIInPollLeavesPartialMessageInRing(t *testing.T) {
	d := &MIDIIn{label: "in", ring: ringbuffer.New(32 * midiMsgSize)}
	d.ring.SetBlocking(false)

	_, err := d.ring.Write([]byte{0x90, 60})
	assert.NoError(t, err)

	assert.NoError(t, d.Poll())
	assert.Empty(t, d.Payload.Messages)
	assert.Equal(t, 2, d.ring.Length())
}

func TestMIDIInPollResetsPayloadEachCall(t *testing.T) {
	d := &MIDIIn{label: "in", ring: ringbuffer.New(32 * midiMsgSize)}
	d.ring.SetBlocking(false)

	_, err := d.ring.Write([]byte{0x90, 60, 127})
	assert.NoError(t, err)
	assert.NoError(t, d.Poll())
	assert.Len(t, d.Payload.Messages, 1)

	assert.NoError(t, d.Poll())
	assert.Empty(t, d.Payload.Messages)
}

func TestMIDIOutSendQueuesPendingMessage(t *testing.T) {
	d := &MIDIOut{label: "out"}
	assert.NoError(t, d.Send(value.MidiMsg{Status: 0x90, Data1: 60, Data2: 127}))
	assert.Len(t, d.pending, 1)
	assert.Equal(t, KindMIDI, d.Kind())
	assert.Equal(t, DirOut, d.Direction())
}
