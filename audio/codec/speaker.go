package codec

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/softaudio/audio"
	"github.com/ardnew/softaudio/pkg"
	"github.com/ardnew/softaudio/pkg/ring"
)

// Pending commands applied by the next tick.
const (
	cmdExit uint32 = 1 << iota
	cmdChangeFrequency
	cmdStop
)

// DefaultSpeakerVolume is the speaker's volume range in 1/256 dB.
var DefaultSpeakerVolume = audio.VolumeLimits{Min: -6400, Max: 1536, Res: 128}

// Speaker drains the playback ring one millisecond block per Tick and
// hands the block, scaled by the current volume, to a Sink. Control calls
// only post commands; the tick applies them.
type Speaker struct {
	sink   Sink
	limits audio.VolumeLimits

	desc    *audio.Description
	handler audio.EventHandler
	state   atomic.Int32
	cmd     atomic.Uint32
	reader  atomic.Pointer[ring.Reader]

	mute   atomic.Bool
	volume atomic.Int32

	readBytes atomic.Int64
	played    atomic.Uint64
	underruns atomic.Uint64

	// Tick context only.
	injection int
	counter44 int
	block     []byte
	scratch   []float32
}

var _ audio.Speaker = (*Speaker)(nil)

// NewSpeaker creates a speaker feeding sink.
func NewSpeaker(sink Sink) *Speaker {
	return &Speaker{sink: sink, limits: DefaultSpeakerVolume}
}

// Init claims the speaker slot and sizes the injection block.
func (s *Speaker) Init(desc *audio.Description, handler audio.EventHandler) error {
	if err := audio.RegisterSpeaker(s); err != nil {
		return fmt.Errorf("speaker: %w", err)
	}
	s.desc = desc
	s.handler = handler
	s.cmd.Store(0)
	s.initInjection()
	s.setState(audio.StateInitialized)
	return nil
}

func (s *Speaker) initInjection() {
	s.injection = s.desc.MSPacketLength()
	s.counter44 = 0
	s.block = make([]byte, s.desc.MSMaxPacketLength()+s.desc.SampleLength())
}

func (s *Speaker) setState(st audio.State) { s.state.Store(int32(st)) }

// State returns the node state.
func (s *Speaker) State() audio.State { return audio.State(s.state.Load()) }

// VolumeLimits returns the speaker volume range.
func (s *Speaker) VolumeLimits() audio.VolumeLimits { return s.limits }

// Start begins draining r with the description's volume and mute.
func (s *Speaker) Start(r *ring.Reader) error {
	s.reader.Store(r)
	s.cmd.Store(0)
	s.mute.Store(s.desc.Mute())
	s.volume.Store(int32(s.desc.Volume()))
	s.setState(audio.StateStarted)
	pkg.LogDebug(pkg.ComponentCodec, "speaker started", "injection", s.injection)
	return nil
}

// Stop halts draining on the next tick.
func (s *Speaker) Stop() error {
	s.cmd.Or(cmdStop)
	return nil
}

// ChangeFrequency re-derives the block size on the next tick and leaves
// the speaker stopped.
func (s *Speaker) ChangeFrequency() error {
	s.cmd.Or(cmdChangeFrequency)
	return nil
}

// SetMute mutes or unmutes the output.
func (s *Speaker) SetMute(_ uint16, mute bool) error {
	s.mute.Store(mute)
	return nil
}

// SetVolume sets the output gain.
func (s *Speaker) SetVolume(_ uint16, db256 int16) error {
	s.volume.Store(int32(db256))
	return nil
}

// StartReadCount resets the consumed byte counter.
func (s *Speaker) StartReadCount() { s.readBytes.Store(0) }

// ReadCount returns bytes drained since the previous call.
func (s *Speaker) ReadCount() int { return int(s.readBytes.Swap(0)) }

// Played returns the number of blocks drained from the ring.
func (s *Speaker) Played() uint64 { return s.played.Load() }

// Underruns returns the number of ticks that found the ring short.
func (s *Speaker) Underruns() uint64 { return s.underruns.Load() }

// DeInit releases the speaker slot.
func (s *Speaker) DeInit() error {
	if s.State() == audio.StateOff {
		return nil
	}
	s.cmd.Store(cmdExit)
	s.setState(audio.StateOff)
	audio.ClearSpeaker(s)
	return nil
}

func (s *Speaker) emit(ev audio.Event) {
	if s.handler != nil {
		s.handler(ev, audio.NodeSpeaker)
	}
}

// Tick plays one millisecond.
func (s *Speaker) Tick() {
	if s.State() == audio.StateOff {
		return
	}
	pending := s.cmd.Swap(0)
	if pending&cmdExit != 0 {
		return
	}
	switch {
	case pending&cmdChangeFrequency != 0:
		s.setState(audio.StateStopped)
		s.initInjection()
	case pending&cmdStop != 0:
		s.setState(audio.StateStopped)
		pkg.LogDebug(pkg.ComponentCodec, "speaker stopped")
	}

	if s.State() != audio.StateStarted {
		s.silence(s.injection)
		return
	}

	s.emit(audio.EventPacketPlayed)
	length := s.injection
	if s.desc.Frequency() == audio.Frequency44100 {
		if s.counter44 < 9 {
			s.counter44++
		} else {
			s.counter44 = 0
			length += s.desc.SampleLength()
		}
	}

	r := s.reader.Load()
	if r.Filled() < s.injection {
		s.underruns.Add(1)
		s.emit(audio.EventUnderrun)
		s.silence(length)
		return
	}
	n := r.Read(s.block[:length])
	s.readBytes.Add(int64(n))
	s.played.Add(1)

	pcm := s.block[:n]
	s.scratch = applyGain(pcm, s.desc.Resolution, gain(int16(s.volume.Load()), s.mute.Load()), s.scratch)
	s.consume(pcm)
}

func (s *Speaker) silence(length int) {
	pcm := s.block[:length]
	clear(pcm)
	s.consume(pcm)
}

func (s *Speaker) consume(pcm []byte) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Consume(pcm, s.desc); err != nil {
		pkg.LogWarn(pkg.ComponentCodec, "speaker sink failed", "error", err)
	}
}
