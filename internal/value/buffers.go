package value

import "github.com/audiograph/flow/internal/ferr"

// AudioBuf is a channel-major contiguous audio buffer: Samples[ch*FrameCount+frame].
// All audio buffers in one network share FrameCount per cycle (§3.1).
type AudioBuf struct {
	SampleRate   float64
	ChannelCount int
	FrameCount   int
	Samples      []float32
	// Proxy is true when Samples points at externally-owned storage; Release
	// is then a caller responsibility and this buffer never frees it.
	Proxy bool
}

// NewAudioBuf allocates an owned audio buffer.
func NewAudioBuf(sampleRate float64, channelCount, frameCount int) *AudioBuf {
	return &AudioBuf{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		FrameCount:   frameCount,
		Samples:      make([]float32, channelCount*frameCount),
	}
}

// Channel returns the slice of samples for channel ch.
func (a *AudioBuf) Channel(ch int) ([]float32, error) {
	if ch < 0 || ch >= a.ChannelCount {
		return nil, ferr.Newf(ferr.InvalidArg, "channel %d out of range (0..%d)", ch, a.ChannelCount-1)
	}
	start := ch * a.FrameCount
	return a.Samples[start : start+a.FrameCount], nil
}

// Zero clears all samples.
func (a *AudioBuf) Zero() {
	for i := range a.Samples {
		a.Samples[i] = 0
	}
}

// SpectralChannel holds one channel's phase-vocoder analysis frame.
type SpectralChannel struct {
	HopSamples int
	BinCount   int // current bin count, <= MaxBinCount
	MaxBinCount int
	Magnitude  []float32
	Phase      []float32
	Hz         []float32
	Ready      bool // analysis/synthesis framing handshake
}

// SpectralBuf is a per-channel phase-vocoder buffer (§3.1).
type SpectralBuf struct {
	SampleRate   float64
	ChannelCount int
	Channels     []SpectralChannel
	// Proxy is true when the per-channel vectors point at externally-owned
	// storage; this buffer owns no payload in that case.
	Proxy bool
}

// NewSpectralBuf allocates an owned spectral buffer with the given per-channel
// max bin count. SetBinCount must be called (typically from a proc's create)
// before the channel's vectors are usable.
func NewSpectralBuf(sampleRate float64, channelCount, maxBinCount, hopSamples int) *SpectralBuf {
	chans := make([]SpectralChannel, channelCount)
	for i := range chans {
		chans[i] = SpectralChannel{HopSamples: hopSamples, MaxBinCount: maxBinCount}
	}
	return &SpectralBuf{SampleRate: sampleRate, ChannelCount: channelCount, Channels: chans}
}

// SetBinCount sets channel ch's current bin count, (re)allocating its
// magnitude/phase/Hz vectors. Rejected if count exceeds MaxBinCount (§8
// boundary behavior: "current bin count exceeding max bin count → rejected").
func (s *SpectralBuf) SetBinCount(ch, count int) error {
	if ch < 0 || ch >= s.ChannelCount {
		return ferr.Newf(ferr.InvalidArg, "channel %d out of range", ch)
	}
	c := &s.Channels[ch]
	if count > c.MaxBinCount {
		return ferr.Newf(ferr.InvalidArg, "bin count %d exceeds max %d on channel %d", count, c.MaxBinCount, ch)
	}
	c.BinCount = count
	c.Magnitude = make([]float32, count)
	c.Phase = make([]float32, count)
	c.Hz = make([]float32, count)
	return nil
}

// MidiBuf is a borrowed, per-cycle array of MIDI channel messages; no
// ownership of the payload (§3.1).
type MidiBuf struct {
	Messages []MidiMsg // len(Messages) >= Count; Count is the live prefix
	Count    int
}

// RecordFormat describes a record's field layout. It is intentionally a
// narrow interface; the concrete descriptor lives in package recd, but value
// only needs to carry a borrowed pointer to it plus a record count.
type RecordFormat interface {
	FieldCount() int
}

// RecordBuf is a borrowed pointer to records plus a format descriptor and a
// live count bounded by a network-lifetime maximum (§3.1). Consumers must
// copy data they wish to retain past this cycle.
type RecordBuf struct {
	Format   RecordFormat
	Records  []any // borrowed *recd.Record elements, typed any to avoid an import cycle
	Count    int
	MaxCount int
}
