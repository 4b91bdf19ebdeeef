package audio

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/softaudio/pkg"
	"github.com/ardnew/softaudio/pkg/ring"
)

// Direction identifies the data flow of a streaming session.
type Direction int

// Stream directions.
const (
	DirectionPlayback  Direction = iota // host to device
	DirectionRecording                  // device to host
)

// String returns the direction name.
func (d Direction) String() string {
	if d == DirectionRecording {
		return "recording"
	}
	return "playback"
}

// ControlCommand is a device-originated control action, such as a button
// press on the board.
type ControlCommand int

// External control commands.
const (
	ControlMuteToggle ControlCommand = iota
)

// Interrupt attributes.
const (
	InterruptAttributeCur uint8 = 0x01
)

// Interrupt is a status change to report to the host on the audio control
// interrupt endpoint.
type Interrupt struct {
	Attribute uint8
	Selector  uint8
	Channel   uint8
	Entity    uint8
	Interface uint8
}

// SessionConfig describes one streaming interface.
type SessionConfig struct {
	// Interface is the AudioStreaming interface number.
	Interface uint8
	// Speed is the bus speed the function is enumerated at.
	Speed Speed
	// Frequencies lists the supported rates, highest first.
	Frequencies FrequencyTable
	// Frequency is the initial rate.
	Frequency uint32
	// Channels is 1 or 2.
	Channels int
	// Resolution is the sample size in bytes, 2 or 3.
	Resolution int
	// BufferSize is the ring buffer capacity in bytes.
	BufferSize int
	// FeatureUnitID is the entity ID of the session's feature unit.
	FeatureUnitID uint8
	// Volume is the feature unit's volume range in 1/256 dB.
	Volume VolumeLimits
}

func (c SessionConfig) validate() error {
	if len(c.Frequencies) == 0 {
		return fmt.Errorf("no frequencies: %w", pkg.ErrInvalidParameter)
	}
	if !c.Frequencies.Contains(c.Frequency) {
		return fmt.Errorf("frequency %d not in table: %w", c.Frequency, pkg.ErrInvalidParameter)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size %d: %w", c.BufferSize, pkg.ErrInvalidParameter)
	}
	return nil
}

// Session is one streaming interface and the node chain behind it.
type Session interface {
	Direction() Direction
	InterfaceNumber() uint8
	Init() error
	DeInit() error
	State() State
	// SetAlternate starts the stream when the host selects an operational
	// alternate setting and stops it on alternate 0.
	SetAlternate(alt uint8) error
	Alternate() uint8
	// SetFrequency applies a host rate request and reports whether the
	// stream must be reopened.
	SetFrequency(freq uint32) bool
	Frequency() uint32
	FeatureUnit() *FeatureUnit
	Description() *Description
	// OnSOF runs the per-frame synchronization step.
	OnSOF()
	// ExternalControl applies a device-originated control and returns the
	// status change to report.
	ExternalControl(cmd ControlCommand) (Interrupt, error)
	Stats() Stats
}

// Stats is a diagnostic snapshot of a session.
type Stats struct {
	Direction string        `json:"direction"`
	Interface uint8         `json:"interface"`
	State     string        `json:"state"`
	Alternate uint8         `json:"alternate"`
	Frequency uint32        `json:"frequency"`
	Overruns  uint64        `json:"overruns"`
	Underruns uint64        `json:"underruns"`
	Restarts  uint64        `json:"restarts"`
	Packets   uint64        `json:"packets"`
	Bytes     uint64        `json:"bytes"`
	Filled    int           `json:"filled"`
	Size      int           `json:"size"`
	Feedback  uint32        `json:"feedback,omitempty"`
	Sync      *SyncSnapshot `json:"sync,omitempty"`
}

// session holds what both directions share.
type session struct {
	cfg     SessionConfig
	desc    *Description
	buf     *ring.Buffer
	feature *FeatureUnit
	state   state
	alt     atomic.Uint32

	overruns  atomic.Uint64
	underruns atomic.Uint64
	restarts  atomic.Uint64
}

func (s *session) setup(dir Direction) error {
	if err := s.cfg.validate(); err != nil {
		return fmt.Errorf("%s session: %w", dir, err)
	}
	desc, err := NewDescription(s.cfg.Frequency, s.cfg.Channels, s.cfg.Resolution)
	if err != nil {
		return fmt.Errorf("%s session: %w", dir, err)
	}
	buf, err := ring.New(s.cfg.BufferSize)
	if err != nil {
		return fmt.Errorf("%s session: %w", dir, err)
	}
	s.desc = desc
	s.buf = buf
	return s.feature.Init(desc)
}

// InterfaceNumber returns the AudioStreaming interface number.
func (s *session) InterfaceNumber() uint8 { return s.cfg.Interface }

// State returns the session state.
func (s *session) State() State { return s.state.Load() }

// Alternate returns the active alternate setting.
func (s *session) Alternate() uint8 { return uint8(s.alt.Load()) }

// Frequency returns the current sampling rate.
func (s *session) Frequency() uint32 { return s.desc.Frequency() }

// FeatureUnit returns the session's feature unit.
func (s *session) FeatureUnit() *FeatureUnit { return s.feature }

// Description returns the stream format.
func (s *session) Description() *Description { return s.desc }

// Buffer returns the session ring buffer.
func (s *session) Buffer() *ring.Buffer { return s.buf }

// setAlternate applies the alternate-setting rule shared by both
// directions using the session's start and stop.
func (s *session) setAlternate(alt uint8, start, stop func() error) error {
	cur := s.Alternate()
	switch {
	case alt == 0 && cur != 0:
		if err := stop(); err != nil {
			return err
		}
	case alt != 0 && cur == 0:
		if err := start(); err != nil {
			return err
		}
	}
	s.alt.Store(uint32(alt))
	return nil
}

func (s *session) externalControl(cmd ControlCommand) (Interrupt, error) {
	switch st := s.State(); st {
	case StateOff, StateError:
		return Interrupt{}, fmt.Errorf("external control in %s: %w", st, pkg.ErrInvalidState)
	}
	switch cmd {
	case ControlMuteToggle:
		if err := s.feature.SetMute(0, !s.desc.Mute()); err != nil {
			return Interrupt{}, err
		}
		return Interrupt{
			Attribute: InterruptAttributeCur,
			Selector:  ControlMute,
			Entity:    s.feature.ID(),
		}, nil
	}
	return Interrupt{}, fmt.Errorf("control command %d: %w", cmd, pkg.ErrNotSupported)
}

func (s *session) countFault(ev Event) {
	if ev == EventOverrun {
		s.overruns.Add(1)
	} else {
		s.underruns.Add(1)
	}
	s.restarts.Add(1)
}

func (s *session) stats(dir Direction) Stats {
	if s.desc == nil {
		return Stats{Direction: dir.String(), Interface: s.cfg.Interface, State: s.State().String()}
	}
	return Stats{
		Direction: dir.String(),
		Interface: s.cfg.Interface,
		State:     s.State().String(),
		Alternate: s.Alternate(),
		Frequency: s.desc.Frequency(),
		Overruns:  s.overruns.Load(),
		Underruns: s.underruns.Load(),
		Restarts:  s.restarts.Load(),
		Filled:    s.buf.Filled(),
		Size:      s.buf.Size(),
	}
}
