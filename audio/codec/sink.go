package codec

import (
	"io"
	"math"
	"sync"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/ardnew/softaudio/audio"
	"github.com/ardnew/softaudio/pkg"
)

// Sink consumes PCM blocks played by a speaker node. Blocks are
// little-endian signed samples in the layout of desc.
type Sink interface {
	Consume(pcm []byte, desc *audio.Description) error
}

// DiscardSink drops every block and counts bytes.
type DiscardSink struct {
	bytes atomic.Uint64
}

// Consume counts the block.
func (d *DiscardSink) Consume(pcm []byte, _ *audio.Description) error {
	d.bytes.Add(uint64(len(pcm)))
	return nil
}

// Bytes returns the number of bytes consumed.
func (d *DiscardSink) Bytes() uint64 { return d.bytes.Load() }

// LevelSink tracks the peak absolute sample value of the blocks it
// receives.
type LevelSink struct {
	mu      sync.Mutex
	peak    float64
	samples int
	scratch []float32
}

// Consume updates the peak.
func (l *LevelSink) Consume(pcm []byte, desc *audio.Description) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := len(pcm) / desc.Resolution
	if cap(l.scratch) < count {
		l.scratch = make([]float32, count)
	}
	s := l.scratch[:count]
	decodePCM(s, pcm, desc.Resolution, 1)
	for _, v := range s {
		l.peak = math.Max(l.peak, math.Abs(float64(v)))
	}
	l.samples += count
	return nil
}

// Peak returns the largest absolute sample seen, in [0, 1].
func (l *LevelSink) Peak() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}

// Samples returns the number of samples seen.
func (l *LevelSink) Samples() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.samples
}

// WAVSink records blocks to a WAV stream. The format is fixed by the first
// block; blocks in a different format are dropped.
type WAVSink struct {
	mu      sync.Mutex
	w       io.WriteSeeker
	enc     *wav.Encoder
	rate    uint32
	chans   int
	res     int
	buf     *goaudio.IntBuffer
	dropped int
}

// NewWAVSink records to w, which is finalized by Close.
func NewWAVSink(w io.WriteSeeker) *WAVSink {
	return &WAVSink{w: w}
}

// Consume appends the block.
func (s *WAVSink) Consume(pcm []byte, desc *audio.Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := desc.Frequency()
	if s.enc == nil {
		s.rate, s.chans, s.res = rate, desc.Channels, desc.Resolution
		s.enc = wav.NewEncoder(s.w, int(rate), s.res*8, s.chans, 1)
		s.buf = &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: s.chans, SampleRate: int(rate)},
			SourceBitDepth: s.res * 8,
		}
	}
	if rate != s.rate || desc.Channels != s.chans || desc.Resolution != s.res {
		s.dropped++
		if s.dropped == 1 {
			pkg.LogWarn(pkg.ComponentCodec, "wav sink format changed, dropping",
				"rate", rate, "recording_rate", s.rate)
		}
		return nil
	}

	count := len(pcm) / s.res
	if cap(s.buf.Data) < count {
		s.buf.Data = make([]int, count)
	}
	s.buf.Data = s.buf.Data[:count]
	shift := 32 - s.res*8
	for i := range count {
		var u uint32
		for b := 0; b < s.res; b++ {
			u |= uint32(pcm[i*s.res+b]) << (8 * b)
		}
		s.buf.Data[i] = int(int32(u<<shift) >> shift)
	}
	return s.enc.Write(s.buf)
}

// Close finalizes the WAV header.
func (s *WAVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return nil
	}
	return s.enc.Close()
}
