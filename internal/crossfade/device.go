package crossfade

import (
	"github.com/audiograph/flow/internal/device"
	"github.com/audiograph/flow/internal/value"
)

// legDevice is a leg-scoped stand-in for a real device.Device (§4.8): it
// exposes one of a leg's per-label shared audio buffers through the same
// AudioBuf() accessor the audio_in/audio_out builtins type-assert for, so a
// leg's network sees its mirrored input and produces its output without
// ever touching the controller's real device registry.
type legDevice struct {
	label string
	buf   *value.AudioBuf
}

func (d *legDevice) Label() string            { return d.label }
func (d *legDevice) Kind() device.Kind        { return device.KindAudio }
func (d *legDevice) Direction() device.Direction { return device.DirIn | device.DirOut }
func (d *legDevice) Poll() error              { return nil }
func (d *legDevice) Flush() error             { return nil }
func (d *legDevice) Close() error             { return nil }
func (d *legDevice) AudioBuf() *value.AudioBuf { return d.buf }
