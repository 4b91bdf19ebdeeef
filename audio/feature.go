package audio

import (
	"fmt"
	"sync"
)

// Feature unit control selectors.
const (
	ControlMute   uint8 = 0x01
	ControlVolume uint8 = 0x02
)

// FeatureUnit is the mute and volume control between a USB endpoint node
// and a codec node. Settings received before Start are kept in the
// description and applied when the unit starts.
type FeatureUnit struct {
	id   uint8
	desc *Description

	mu     sync.Mutex
	state  State
	target Controllable

	maxVolume uint16
	minVolume uint16
	resVolume uint16
}

// NewFeatureUnit creates a unit with the given entity ID and volume range.
func NewFeatureUnit(id uint8, limits VolumeLimits) *FeatureUnit {
	return &FeatureUnit{
		id:        id,
		maxVolume: VolumeDB256ToUSB(limits.Max),
		minVolume: VolumeDB256ToUSB(limits.Min),
		resVolume: uint16(limits.Res),
	}
}

// Init binds the unit to the session description.
func (f *FeatureUnit) Init(desc *Description) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.desc = desc
	f.state = StateInitialized
	return nil
}

// ID returns the entity ID addressed by class requests.
func (f *FeatureUnit) ID() uint8 { return f.id }

// State returns the unit state.
func (f *FeatureUnit) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Start binds the codec controls and flushes the stored volume and mute.
func (f *FeatureUnit) Start(target Controllable) error {
	f.mu.Lock()
	f.target = target
	f.state = StateStarted
	vol, mute := f.desc.Volume(), f.desc.Mute()
	f.mu.Unlock()

	if err := target.SetVolume(0, vol); err != nil {
		return fmt.Errorf("feature unit %#02x: %w", f.id, err)
	}
	if err := target.SetMute(0, mute); err != nil {
		return fmt.Errorf("feature unit %#02x: %w", f.id, err)
	}
	return nil
}

// Stop unbinds the codec controls.
func (f *FeatureUnit) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateStopped
	return nil
}

// DeInit releases the unit.
func (f *FeatureUnit) DeInit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateOff
	f.target = nil
	return nil
}

func (f *FeatureUnit) started() Controllable {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateStarted {
		return nil
	}
	return f.target
}

// Mute returns the stored mute state.
func (f *FeatureUnit) Mute(channel uint16) bool {
	return f.desc.Mute()
}

// SetMute stores the mute state and forwards it to the codec when started.
func (f *FeatureUnit) SetMute(channel uint16, mute bool) error {
	f.desc.SetMute(mute)
	if t := f.started(); t != nil {
		return t.SetMute(channel, mute)
	}
	return nil
}

// Volume returns the stored volume in wire format.
func (f *FeatureUnit) Volume(channel uint16) uint16 {
	return VolumeDB256ToUSB(f.desc.Volume())
}

// SetVolume stores a wire-format volume and forwards it to the codec when
// started.
func (f *FeatureUnit) SetVolume(channel uint16, v uint16) error {
	db := VolumeUSBToDB256(v)
	f.desc.SetVolume(db)
	if t := f.started(); t != nil {
		return t.SetVolume(channel, db)
	}
	return nil
}

// MinVolume returns the lowest volume in wire format.
func (f *FeatureUnit) MinVolume() uint16 { return f.minVolume }

// MaxVolume returns the highest volume in wire format.
func (f *FeatureUnit) MaxVolume() uint16 { return f.maxVolume }

// ResVolume returns the volume step in 1/256 dB.
func (f *FeatureUnit) ResVolume() uint16 { return f.resVolume }

// Controls returns the bitmap of supported control selectors as used in
// the feature unit descriptor.
func (f *FeatureUnit) Controls() uint8 {
	return 1<<(ControlMute-1) | 1<<(ControlVolume-1)
}
