package codec

import (
	"sync/atomic"

	"github.com/ardnew/softaudio/audio"
	"github.com/ardnew/softaudio/pkg/ring"
)

// dummyNode tracks state and volume but moves no data.
type dummyNode struct {
	state  atomic.Int32
	mute   atomic.Bool
	volume atomic.Int32
	limits audio.VolumeLimits
}

func (d *dummyNode) Init(_ *audio.Description, _ audio.EventHandler) error {
	d.state.Store(int32(audio.StateInitialized))
	return nil
}

func (d *dummyNode) State() audio.State { return audio.State(d.state.Load()) }

func (d *dummyNode) Stop() error {
	d.state.Store(int32(audio.StateStopped))
	return nil
}

func (d *dummyNode) ChangeFrequency() error {
	if d.State() == audio.StateStarted {
		d.state.Store(int32(audio.StateStopped))
		d.state.Store(int32(audio.StateStarted))
	}
	return nil
}

func (d *dummyNode) SetMute(_ uint16, mute bool) error {
	d.mute.Store(mute)
	return nil
}

func (d *dummyNode) SetVolume(_ uint16, db256 int16) error {
	d.volume.Store(int32(db256))
	return nil
}

// Mute returns the last mute state set.
func (d *dummyNode) Mute() bool { return d.mute.Load() }

// Volume returns the last volume set.
func (d *dummyNode) Volume() int16 { return int16(d.volume.Load()) }

func (d *dummyNode) StartReadCount()                  {}
func (d *dummyNode) ReadCount() int                   { return 0 }
func (d *dummyNode) VolumeLimits() audio.VolumeLimits { return d.limits }

func (d *dummyNode) DeInit() error {
	d.state.Store(int32(audio.StateOff))
	return nil
}

// DummySpeaker is a speaker with no output.
type DummySpeaker struct{ dummyNode }

var _ audio.Speaker = (*DummySpeaker)(nil)

// NewDummySpeaker returns a speaker with the default volume range.
func NewDummySpeaker() *DummySpeaker {
	return &DummySpeaker{dummyNode{limits: DefaultSpeakerVolume}}
}

// Start marks the speaker started.
func (d *DummySpeaker) Start(*ring.Reader) error {
	d.state.Store(int32(audio.StateStarted))
	return nil
}

// DummyMicrophone is a microphone with no input.
type DummyMicrophone struct{ dummyNode }

var _ audio.Microphone = (*DummyMicrophone)(nil)

// NewDummyMicrophone returns a microphone with the default volume range.
func NewDummyMicrophone() *DummyMicrophone {
	return &DummyMicrophone{dummyNode{limits: DefaultMicrophoneVolume}}
}

// Start marks the microphone started.
func (d *DummyMicrophone) Start(*ring.Writer) error {
	d.state.Store(int32(audio.StateStarted))
	return nil
}
