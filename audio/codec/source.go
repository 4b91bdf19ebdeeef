package codec

import (
	"io"
	"math"

	"github.com/ardnew/softaudio/audio"
)

// Source produces interleaved float32 samples in [-1, 1].
type Source interface {
	// SampleRate of the stream in Hz.
	SampleRate() int
	// Channels count (1 = mono, 2 = stereo).
	Channels() int
	// ReadSamples fills dst with interleaved samples and returns the number
	// of values written. It returns io.EOF once exhausted.
	ReadSamples(dst []float32) (int, error)
}

// ToneSource synthesizes a sine wave at any rate.
type ToneSource struct {
	rate      int
	channels  int
	frequency float64
	amplitude float64
	phase     float64
}

// NewToneSource returns a tone of frequency Hz at amplitude (0..1).
func NewToneSource(rate, channels int, frequency, amplitude float64) *ToneSource {
	return &ToneSource{rate: rate, channels: channels, frequency: frequency, amplitude: amplitude}
}

func (t *ToneSource) SampleRate() int { return t.rate }
func (t *ToneSource) Channels() int   { return t.channels }

// ReadSamples never returns EOF.
func (t *ToneSource) ReadSamples(dst []float32) (int, error) {
	step := 2 * math.Pi * t.frequency / float64(t.rate)
	frames := len(dst) / t.channels
	for f := 0; f < frames; f++ {
		v := float32(t.amplitude * math.Sin(t.phase))
		for c := 0; c < t.channels; c++ {
			dst[f*t.channels+c] = v
		}
		t.phase += step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return frames * t.channels, nil
}

// SilenceSource produces zeros.
type SilenceSource struct {
	rate, channels int
}

// NewSilenceSource returns a silent source.
func NewSilenceSource(rate, channels int) *SilenceSource {
	return &SilenceSource{rate: rate, channels: channels}
}

func (s *SilenceSource) SampleRate() int { return s.rate }
func (s *SilenceSource) Channels() int   { return s.channels }

// ReadSamples never returns EOF.
func (s *SilenceSource) ReadSamples(dst []float32) (int, error) {
	clear(dst)
	return len(dst) - len(dst)%s.channels, nil
}

// Clip is decoded audio held in memory.
type Clip struct {
	rate     int
	channels int
	samples  []float32
	pos      int
	loop     bool
}

// NewClip wraps interleaved samples. A looping clip restarts at the end
// instead of returning io.EOF.
func NewClip(rate, channels int, samples []float32, loop bool) *Clip {
	return &Clip{rate: rate, channels: channels, samples: samples, loop: loop}
}

func (c *Clip) SampleRate() int { return c.rate }
func (c *Clip) Channels() int   { return c.channels }

// Len returns the number of interleaved samples.
func (c *Clip) Len() int { return len(c.samples) }

// ReadSamples copies the next samples into dst.
func (c *Clip) ReadSamples(dst []float32) (int, error) {
	if len(c.samples) == 0 {
		return 0, io.EOF
	}
	n := 0
	for n < len(dst) {
		if c.pos == len(c.samples) {
			if !c.loop {
				break
			}
			c.pos = 0
		}
		k := copy(dst[n:], c.samples[c.pos:])
		c.pos += k
		n += k
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Rewind restarts the clip.
func (c *Clip) Rewind() { c.pos = 0 }

// converter reads a Source at a target rate and channel count using
// linear interpolation. Once the source is exhausted it yields silence.
type converter struct {
	src      Source
	rate     int
	channels int

	step   float64
	pos    float64
	prev   []float32
	next   []float32
	frame  []float32
	primed bool
	eof    bool
}

func newConverter(src Source, rate, channels int) *converter {
	sc := src.Channels()
	return &converter{
		src:      src,
		rate:     rate,
		channels: channels,
		step:     float64(src.SampleRate()) / float64(rate),
		prev:     make([]float32, sc),
		next:     make([]float32, sc),
		frame:    make([]float32, sc),
	}
}

func (c *converter) advance() {
	copy(c.prev, c.next)
	if c.eof {
		clear(c.next)
		return
	}
	n, err := c.src.ReadSamples(c.frame)
	if n < len(c.frame) {
		clear(c.frame[n:])
	}
	copy(c.next, c.frame)
	if err != nil {
		c.eof = true
	}
}

// read fills dst with interleaved samples at the target format.
func (c *converter) read(dst []float32) {
	if !c.primed {
		c.advance()
		c.advance()
		c.primed = true
	}
	sc := len(c.prev)
	frames := len(dst) / c.channels
	for f := 0; f < frames; f++ {
		for c.pos >= 1 {
			c.advance()
			c.pos--
		}
		t := float32(c.pos)
		for ch := 0; ch < c.channels; ch++ {
			var v float32
			switch {
			case sc == c.channels:
				v = c.prev[ch] + (c.next[ch]-c.prev[ch])*t
			case sc == 1:
				v = c.prev[0] + (c.next[0]-c.prev[0])*t
			default:
				var a, b float32
				for k := 0; k < sc; k++ {
					a += c.prev[k]
					b += c.next[k]
				}
				a /= float32(sc)
				b /= float32(sc)
				v = a + (b-a)*t
			}
			dst[f*c.channels+ch] = v
		}
		c.pos += c.step
	}
}

// Encoder renders a Source as PCM in a stream format, the way a host
// prepares playback packets.
type Encoder struct {
	conv       *converter
	channels   int
	resolution int
	scratch    []float32
}

// NewEncoder converts src to the rate, channel count and resolution of
// desc as they are when called.
func NewEncoder(src Source, desc *audio.Description) *Encoder {
	return &Encoder{
		conv:       newConverter(src, int(desc.Frequency()), desc.Channels),
		channels:   desc.Channels,
		resolution: desc.Resolution,
	}
}

// Encode fills dst with whole frames at unity gain and returns the number
// of bytes written.
func (e *Encoder) Encode(dst []byte) int {
	n := len(dst) / (e.channels * e.resolution) * e.channels
	if cap(e.scratch) < n {
		e.scratch = make([]float32, n)
	}
	e.conv.read(e.scratch[:n])
	return encodePCM(dst, e.scratch[:n], e.resolution, 1)
}
