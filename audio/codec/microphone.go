package codec

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/softaudio/audio"
	"github.com/ardnew/softaudio/pkg"
	"github.com/ardnew/softaudio/pkg/ring"
)

// DefaultMicrophoneVolume is the microphone's volume range in 1/256 dB.
var DefaultMicrophoneVolume = audio.VolumeLimits{Min: -8192, Max: 8192, Res: 256}

// Microphone fills the recording ring one millisecond block per Tick from
// a Source converted to the stream format.
type Microphone struct {
	src    Source
	limits audio.VolumeLimits

	desc    *audio.Description
	handler audio.EventHandler
	state   atomic.Int32
	cmd     atomic.Uint32
	writer  atomic.Pointer[ring.Writer]

	mute   atomic.Bool
	volume atomic.Int32

	readBytes atomic.Int64
	captured  atomic.Uint64
	overruns  atomic.Uint64

	// Tick context only.
	packet    int
	counter44 int
	conv      *converter
	scratch   []float32
}

var _ audio.Microphone = (*Microphone)(nil)

// NewMicrophone creates a microphone reading src.
func NewMicrophone(src Source) *Microphone {
	return &Microphone{src: src, limits: DefaultMicrophoneVolume}
}

// Init claims the microphone slot and sizes the capture block.
func (m *Microphone) Init(desc *audio.Description, handler audio.EventHandler) error {
	if err := audio.RegisterMicrophone(m); err != nil {
		return fmt.Errorf("microphone: %w", err)
	}
	m.desc = desc
	m.handler = handler
	m.cmd.Store(0)
	m.mute.Store(desc.Mute())
	m.volume.Store(int32(desc.Volume()))
	m.configure()
	m.setState(audio.StateInitialized)
	return nil
}

func (m *Microphone) configure() {
	m.packet = m.desc.MSPacketLength()
	m.counter44 = 0
	m.conv = newConverter(m.src, int(m.desc.Frequency()), m.desc.Channels)
	m.scratch = make([]float32, m.desc.MSMaxPacketLength()/m.desc.Resolution)
}

func (m *Microphone) setState(st audio.State) { m.state.Store(int32(st)) }

// State returns the node state.
func (m *Microphone) State() audio.State { return audio.State(m.state.Load()) }

// VolumeLimits returns the microphone volume range.
func (m *Microphone) VolumeLimits() audio.VolumeLimits { return m.limits }

// Start begins filling w.
func (m *Microphone) Start(w *ring.Writer) error {
	if m.State() != audio.StateStarted {
		m.writer.Store(w)
		m.setState(audio.StateStarted)
		pkg.LogDebug(pkg.ComponentCodec, "microphone started", "packet", m.packet)
	}
	return nil
}

// Stop halts capture.
func (m *Microphone) Stop() error {
	if m.State() == audio.StateStarted {
		m.setState(audio.StateStopped)
	}
	return nil
}

// ChangeFrequency reconfigures capture on the next tick.
func (m *Microphone) ChangeFrequency() error {
	m.cmd.Or(cmdChangeFrequency)
	return nil
}

// SetMute mutes or unmutes capture.
func (m *Microphone) SetMute(_ uint16, mute bool) error {
	m.mute.Store(mute)
	return nil
}

// SetVolume sets the capture gain.
func (m *Microphone) SetVolume(_ uint16, db256 int16) error {
	m.volume.Store(int32(db256))
	return nil
}

// StartReadCount resets the captured byte counter.
func (m *Microphone) StartReadCount() {
	if m.State() == audio.StateStarted {
		m.readBytes.Store(0)
	}
}

// ReadCount returns bytes captured since the previous call.
func (m *Microphone) ReadCount() int {
	if m.State() != audio.StateStarted {
		return 0
	}
	return int(m.readBytes.Swap(0))
}

// Captured returns the number of blocks written to the ring.
func (m *Microphone) Captured() uint64 { return m.captured.Load() }

// Overruns returns the number of ticks that found the ring full.
func (m *Microphone) Overruns() uint64 { return m.overruns.Load() }

// DeInit releases the microphone slot.
func (m *Microphone) DeInit() error {
	if m.State() == audio.StateOff {
		return nil
	}
	_ = m.Stop()
	m.setState(audio.StateOff)
	audio.ClearMicrophone(m)
	return nil
}

func (m *Microphone) emit(ev audio.Event) {
	if m.handler != nil {
		m.handler(ev, audio.NodeMicrophone)
	}
}

// Tick captures one millisecond. At 44.1 kHz every tenth block carries
// one extra frame.
func (m *Microphone) Tick() {
	if m.State() == audio.StateOff {
		return
	}
	if m.cmd.Swap(0)&cmdChangeFrequency != 0 {
		m.configure()
		pkg.LogDebug(pkg.ComponentCodec, "microphone reconfigured", "rate", m.desc.Frequency())
		return
	}
	if m.State() != audio.StateStarted {
		return
	}

	length := m.packet
	if m.desc.Frequency() == audio.Frequency44100 {
		if m.counter44 < 9 {
			m.counter44++
		} else {
			m.counter44 = 0
			length += m.desc.SampleLength()
		}
	}

	w := m.writer.Load()
	if w.Free() <= length {
		m.overruns.Add(1)
		m.emit(audio.EventOverrun)
	}
	scratch := m.scratch[:length/m.desc.Resolution]
	m.conv.read(scratch)
	n := encodePCM(w.Slot()[:length], scratch, m.desc.Resolution,
		gain(int16(m.volume.Load()), m.mute.Load()))
	w.Advance(n)
	m.readBytes.Add(int64(n))
	m.captured.Add(1)
	m.emit(audio.EventPacketReceived)
}
