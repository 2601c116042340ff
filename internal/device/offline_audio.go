package device

import (
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/value"
)

// OfflineAudioIn reads a WAV file frame-by-frame as a non-real-time audio
// input device (§4.8, Non-goal "audio file I/O" for the leaf decoder itself;
// this only owns the per-cycle handoff into a Value.AudioBuf).
type OfflineAudioIn struct {
	label string
	dec   *wav.Decoder
	file  *os.File
	buf   *audio.IntBuffer

	Payload AudioPayload
	eof     bool
}

func NewOfflineAudioIn(label, path string, framesPerCycle int) (*OfflineAudioIn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ferr.Wrap(ferr.Unavailable, label, "open wav file", err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, ferr.Newf(ferr.Syntax, "%s is not a valid wav file", path)
	}
	dec.ReadInfo()
	channelCount := int(dec.NumChans)
	d := &OfflineAudioIn{
		label: label,
		dec:   dec,
		file:  f,
		buf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: channelCount, SampleRate: int(dec.SampleRate)},
			Data:   make([]int, framesPerCycle*channelCount),
		},
		Payload: AudioPayload{Buf: value.NewAudioBuf(float64(dec.SampleRate), channelCount, framesPerCycle)},
	}
	return d, nil
}

func (d *OfflineAudioIn) Label() string       { return d.label }
func (d *OfflineAudioIn) Kind() Kind          { return KindAudio }
func (d *OfflineAudioIn) Direction() Direction { return DirIn }

// AudioBuf exposes the device's current per-cycle audio payload to the
// audio_in builtin proc.
func (d *OfflineAudioIn) AudioBuf() *value.AudioBuf { return d.Payload.Buf }

// Poll reads the next frames_per_cycle-sized chunk, de-interleaving into the
// channel-major Value.AudioBuf layout (§3.1). On EOF the buffer is zeroed and
// subsequent calls return the benign EOF kind.
func (d *OfflineAudioIn) Poll() error {
	d.Payload.Buf.Zero()
	if d.eof {
		return ferr.New(ferr.EOF, "offline audio input exhausted")
	}
	n, err := d.dec.PCMBuffer(d.buf)
	if err != nil && err != io.EOF {
		return ferr.Wrap(ferr.OpFailed, d.label, "read wav frames", err)
	}
	frames := n / d.buf.Format.NumChannels
	channelCount := d.buf.Format.NumChannels
	maxVal := float32(int32(1) << 15) // assume 16-bit PCM source depth for normalization
	for ch := 0; ch < channelCount; ch++ {
		dst, _ := d.Payload.Buf.Channel(ch)
		for frame := 0; frame < frames; frame++ {
			dst[frame] = float32(d.buf.Data[frame*channelCount+ch]) / maxVal
		}
	}
	if frames < d.Payload.Buf.FrameCount {
		d.eof = true
	}
	return nil
}

func (d *OfflineAudioIn) Flush() error { return nil }

func (d *OfflineAudioIn) Close() error { return d.file.Close() }

// OfflineAudioOut accumulates written frames and encodes them to a WAV file
// on Close, as a non-real-time audio output device.
type OfflineAudioOut struct {
	label        string
	file         *os.File
	enc          *wav.Encoder
	channelCount int

	Payload AudioPayload
}

func NewOfflineAudioOut(label, path string, channelCount int, sampleRate, framesPerCycle int) (*OfflineAudioOut, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, ferr.Wrap(ferr.OpFailed, label, "create wav file", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channelCount, 1)
	return &OfflineAudioOut{
		label:        label,
		file:         f,
		enc:          enc,
		channelCount: channelCount,
		Payload:      AudioPayload{Buf: value.NewAudioBuf(float64(sampleRate), channelCount, framesPerCycle)},
	}, nil
}

func (d *OfflineAudioOut) Label() string       { return d.label }
func (d *OfflineAudioOut) Kind() Kind          { return KindAudio }
func (d *OfflineAudioOut) Direction() Direction { return DirOut }

// AudioBuf exposes the device's current per-cycle audio payload to the
// audio_out builtin proc.
func (d *OfflineAudioOut) AudioBuf() *value.AudioBuf { return d.Payload.Buf }

func (d *OfflineAudioOut) Poll() error { return nil }

// Flush writes the cycle's output buffer to the WAV encoder, re-interleaving
// from channel-major storage.
func (d *OfflineAudioOut) Flush() error {
	buf := d.Payload.Buf
	ints := make([]int, buf.FrameCount*buf.ChannelCount)
	maxVal := float32(int32(1) << 15)
	for ch := 0; ch < buf.ChannelCount; ch++ {
		src, _ := buf.Channel(ch)
		for frame := 0; frame < buf.FrameCount; frame++ {
			ints[frame*buf.ChannelCount+ch] = int(src[frame] * maxVal)
		}
	}
	ib := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: buf.ChannelCount, SampleRate: int(buf.SampleRate)},
		Data:   ints,
	}
	return d.enc.Write(ib)
}

func (d *OfflineAudioOut) Close() error {
	if err := d.enc.Close(); err != nil {
		d.file.Close()
		return err
	}
	return d.file.Close()
}
