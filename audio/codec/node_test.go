package codec

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softaudio/audio"
	"github.com/ardnew/softaudio/pkg"
	"github.com/ardnew/softaudio/pkg/ring"
)

type events struct {
	mu  sync.Mutex
	got []audio.Event
}

func (e *events) handle(ev audio.Event, _ audio.NodeKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

func (e *events) count(ev audio.Event) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, g := range e.got {
		if g == ev {
			n++
		}
	}
	return n
}

func newDesc(t *testing.T, freq uint32) *audio.Description {
	t.Helper()
	d, err := audio.NewDescription(freq, 2, 2)
	require.NoError(t, err)
	return d
}

func newRing(t *testing.T, capacity, packet, margin int) *ring.Buffer {
	t.Helper()
	b, err := ring.New(capacity)
	require.NoError(t, err)
	require.NoError(t, b.Init(packet, margin))
	return b
}

// constantPCM returns n bytes of 16-bit samples all equal to v.
func constantPCM(n int, v int16) []byte {
	out := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		binary.LittleEndian.PutUint16(out[i:], uint16(v))
	}
	return out
}

func TestSpeakerDrainsRing(t *testing.T) {
	desc := newDesc(t, 48000)
	sink := &LevelSink{}
	ev := &events{}
	spk := NewSpeaker(sink)
	require.NoError(t, spk.Init(desc, ev.handle))
	t.Cleanup(func() { _ = spk.DeInit() })

	buf := newRing(t, 2048, 192, 196)
	buf.Writer().Write(constantPCM(2*192, 0x4000))

	spk.Tick()
	assert.Equal(t, 96, sink.Samples(), "silence before start")
	assert.Zero(t, sink.Peak())

	require.NoError(t, spk.Start(buf.Reader()))
	spk.StartReadCount()
	spk.Tick()
	spk.Tick()
	assert.Equal(t, 2*192, spk.ReadCount())
	assert.Zero(t, spk.ReadCount())
	assert.InDelta(t, 0.5, sink.Peak(), 1e-3)
	assert.Equal(t, uint64(2), spk.Played())

	spk.Tick()
	assert.Equal(t, 1, ev.count(audio.EventUnderrun))
	assert.Equal(t, uint64(1), spk.Underruns())
	assert.Equal(t, 3, ev.count(audio.EventPacketPlayed))

	require.NoError(t, spk.Stop())
	assert.Equal(t, audio.StateStarted, spk.State(), "stop applies on the next tick")
	spk.Tick()
	assert.Equal(t, audio.StateStopped, spk.State())
	assert.Equal(t, 3, ev.count(audio.EventPacketPlayed))
}

func TestSpeakerSlotIsExclusive(t *testing.T) {
	a, b := NewSpeaker(nil), NewSpeaker(nil)
	require.NoError(t, a.Init(newDesc(t, 48000), nil))
	assert.ErrorIs(t, b.Init(newDesc(t, 48000), nil), pkg.ErrBusy)
	require.NoError(t, a.DeInit())
	require.NoError(t, b.Init(newDesc(t, 48000), nil))
	require.NoError(t, b.DeInit())
	assert.Nil(t, audio.ActiveSpeaker())
}

func TestSpeakerMute(t *testing.T) {
	desc := newDesc(t, 48000)
	desc.SetMute(true)
	sink := &LevelSink{}
	spk := NewSpeaker(sink)
	require.NoError(t, spk.Init(desc, nil))
	t.Cleanup(func() { _ = spk.DeInit() })

	buf := newRing(t, 2048, 192, 196)
	buf.Writer().Write(constantPCM(192, 0x4000))
	require.NoError(t, spk.Start(buf.Reader()))
	spk.Tick()
	assert.Zero(t, sink.Peak())
	assert.Equal(t, uint64(1), spk.Played())
}

func TestSpeaker44100Cycle(t *testing.T) {
	desc := newDesc(t, 44100)
	spk := NewSpeaker(&DiscardSink{})
	require.NoError(t, spk.Init(desc, nil))
	t.Cleanup(func() { _ = spk.DeInit() })

	buf := newRing(t, 4096, 176, 180)
	buf.Writer().Write(constantPCM(10*176+4, 1))
	require.NoError(t, spk.Start(buf.Reader()))
	spk.StartReadCount()
	for range 10 {
		spk.Tick()
	}
	assert.Equal(t, 10*176+4, spk.ReadCount())
	assert.Zero(t, buf.Filled())
	assert.Zero(t, spk.Underruns())
}

func TestSpeakerChangeFrequency(t *testing.T) {
	desc := newDesc(t, 48000)
	sink := &DiscardSink{}
	spk := NewSpeaker(sink)
	require.NoError(t, spk.Init(desc, nil))
	t.Cleanup(func() { _ = spk.DeInit() })
	require.NoError(t, spk.Start(newRing(t, 2048, 192, 196).Reader()))

	desc.SetFrequency(16000)
	require.NoError(t, spk.ChangeFrequency())
	spk.Tick()
	assert.Equal(t, audio.StateStopped, spk.State())
	assert.Equal(t, uint64(64), sink.Bytes())
}

func TestMicrophoneFillsRing(t *testing.T) {
	desc := newDesc(t, 48000)
	ev := &events{}
	mic := NewMicrophone(NewToneSource(48000, 2, 1000, 0.5))
	require.NoError(t, mic.Init(desc, ev.handle))
	t.Cleanup(func() { _ = mic.DeInit() })

	buf := newRing(t, 2048, 192, 192)
	mic.Tick()
	assert.Zero(t, buf.WriteOffset())

	require.NoError(t, mic.Start(buf.Writer()))
	mic.StartReadCount()
	mic.Tick()
	assert.Equal(t, 192, buf.Filled())
	assert.Equal(t, 192, mic.ReadCount())
	assert.Equal(t, 1, ev.count(audio.EventPacketReceived))
	assert.Equal(t, uint64(1), mic.Captured())
	assert.NotEqual(t, make([]byte, 192), buf.Bytes()[:192])

	require.NoError(t, mic.Stop())
	mic.Tick()
	assert.Equal(t, 192, buf.Filled())
	assert.Zero(t, mic.ReadCount())
}

func TestMicrophoneOverrun(t *testing.T) {
	desc := newDesc(t, 48000)
	ev := &events{}
	mic := NewMicrophone(NewSilenceSource(48000, 2))
	require.NoError(t, mic.Init(desc, ev.handle))
	t.Cleanup(func() { _ = mic.DeInit() })

	buf := newRing(t, 1024, 192, 192)
	require.Equal(t, 768, buf.Size())
	require.NoError(t, mic.Start(buf.Writer()))
	for range 3 {
		mic.Tick()
	}
	assert.Zero(t, ev.count(audio.EventOverrun))
	mic.Tick()
	assert.Equal(t, 1, ev.count(audio.EventOverrun))
	assert.Equal(t, uint64(1), mic.Overruns())
}

func TestMicrophone44100Cycle(t *testing.T) {
	desc := newDesc(t, 44100)
	mic := NewMicrophone(NewToneSource(44100, 2, 440, 0.5))
	require.NoError(t, mic.Init(desc, nil))
	t.Cleanup(func() { _ = mic.DeInit() })

	buf := newRing(t, 4096, 176, 180)
	require.NoError(t, mic.Start(buf.Writer()))
	mic.StartReadCount()
	for range 9 {
		mic.Tick()
	}
	assert.Equal(t, 9*176, mic.ReadCount())
	mic.Tick()
	assert.Equal(t, 180, mic.ReadCount())
	assert.Equal(t, 10*176+4, buf.Filled())
	assert.Zero(t, mic.Overruns())
}

func TestMicrophoneMuteAndFrequency(t *testing.T) {
	desc := newDesc(t, 48000)
	mic := NewMicrophone(NewToneSource(48000, 1, 440, 1))
	require.NoError(t, mic.Init(desc, nil))
	t.Cleanup(func() { _ = mic.DeInit() })

	buf := newRing(t, 2048, 192, 192)
	require.NoError(t, mic.Start(buf.Writer()))
	require.NoError(t, mic.SetMute(0, true))
	mic.Tick()
	assert.Equal(t, make([]byte, 192), buf.Bytes()[:192])

	desc.SetFrequency(16000)
	require.NoError(t, mic.ChangeFrequency())
	mic.Tick()
	assert.Equal(t, 192, buf.WriteOffset(), "reconfigure tick writes nothing")
	mic.Tick()
	assert.Equal(t, 192+64, buf.WriteOffset())
}

func TestDummyNodes(t *testing.T) {
	spk := NewDummySpeaker()
	require.NoError(t, spk.Init(nil, nil))
	assert.Equal(t, audio.StateInitialized, spk.State())
	require.NoError(t, spk.Start(nil))
	assert.Equal(t, audio.StateStarted, spk.State())
	require.NoError(t, spk.SetVolume(0, -512))
	require.NoError(t, spk.SetMute(0, true))
	assert.Equal(t, int16(-512), spk.Volume())
	assert.True(t, spk.Mute())
	assert.Equal(t, DefaultSpeakerVolume, spk.VolumeLimits())
	assert.Zero(t, spk.ReadCount())
	require.NoError(t, spk.DeInit())
	assert.Equal(t, audio.StateOff, spk.State())

	mic := NewDummyMicrophone()
	require.NoError(t, mic.Init(nil, nil))
	require.NoError(t, mic.Start(nil))
	require.NoError(t, mic.Stop())
	assert.Equal(t, audio.StateStopped, mic.State())
	assert.Equal(t, DefaultMicrophoneVolume, mic.VolumeLimits())
}

func sessionConfig() audio.SessionConfig {
	return audio.SessionConfig{
		Interface:     1,
		Speed:         audio.SpeedFull,
		Frequencies:   audio.StandardFrequencies,
		Frequency:     48000,
		Channels:      2,
		Resolution:    2,
		BufferSize:    10240,
		FeatureUnitID: 2,
		Volume:        DefaultSpeakerVolume,
	}
}

func TestPlaybackThroughSpeaker(t *testing.T) {
	sink := &LevelSink{}
	spk := NewSpeaker(sink)
	p := audio.NewPlayback(audio.PlaybackConfig{SessionConfig: sessionConfig(), Feedback: true}, spk)
	require.NoError(t, p.Init())
	t.Cleanup(func() { _ = p.DeInit() })
	require.NoError(t, p.SetAlternate(1))

	pkt := constantPCM(192, 0x2000)
	for range 26 {
		slot, err := p.Input().Buffer()
		require.NoError(t, err)
		copy(slot, pkt)
		require.NoError(t, p.Input().DataReceived(len(pkt)))
	}
	require.Equal(t, audio.StateStarted, spk.State())

	spk.Tick()
	assert.InDelta(t, 0.25, sink.Peak(), 1e-3)
	assert.Equal(t, 25*192, p.Buffer().Filled())
}

func TestRecordingThroughMicrophone(t *testing.T) {
	mic := NewMicrophone(NewToneSource(48000, 2, 1000, 0.5))
	r := audio.NewRecording(audio.RecordingConfig{SessionConfig: sessionConfig()}, mic)
	require.NoError(t, r.Init())
	t.Cleanup(func() { _ = r.DeInit() })
	require.NoError(t, r.SetAlternate(1))

	var pkt []byte
	for range 26 {
		mic.Tick()
		r.OnSOF()
		var err error
		pkt, err = r.Output().Buffer()
		require.NoError(t, err)
	}
	assert.Len(t, pkt, 192)
	assert.False(t, bytes.Equal(pkt, make([]byte, 192)))
	assert.True(t, r.Synchronizer().Started())
	assert.Zero(t, r.Stats().Restarts)
}
