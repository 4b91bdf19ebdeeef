package audio

import (
	"sync/atomic"

	"github.com/ardnew/softaudio/pkg/ring"
)

// State is the lifecycle state of a node or a session.
type State int32

// Lifecycle states.
const (
	StateOff State = iota
	StateInitialized
	StateStarted
	StateStopped
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// startable reports whether Start is permitted from s.
func (s State) startable() bool {
	return s == StateInitialized || s == StateStopped
}

// state is an atomically accessed State.
type state struct{ v atomic.Int32 }

func (s *state) Load() State   { return State(s.v.Load()) }
func (s *state) Store(v State) { s.v.Store(int32(v)) }

// Event is a notification raised by a node to its session.
type Event int

// Node events.
const (
	EventBeginOfStream Event = iota
	EventThresholdReached
	EventPacketReceived
	EventPacketPlayed
	EventOverrun
	EventUnderrun
	EventFrequencyChanged
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventBeginOfStream:
		return "begin-of-stream"
	case EventThresholdReached:
		return "threshold-reached"
	case EventPacketReceived:
		return "packet-received"
	case EventPacketPlayed:
		return "packet-played"
	case EventOverrun:
		return "overrun"
	case EventUnderrun:
		return "underrun"
	case EventFrequencyChanged:
		return "frequency-changed"
	default:
		return "unknown"
	}
}

// NodeKind identifies which node of a chain raised an event.
type NodeKind int

// Node kinds.
const (
	NodeUSBInput NodeKind = iota
	NodeUSBOutput
	NodeFeatureUnit
	NodeSpeaker
	NodeMicrophone
)

// String returns the node kind name.
func (k NodeKind) String() string {
	switch k {
	case NodeUSBInput:
		return "usb-input"
	case NodeUSBOutput:
		return "usb-output"
	case NodeFeatureUnit:
		return "feature-unit"
	case NodeSpeaker:
		return "speaker"
	case NodeMicrophone:
		return "microphone"
	default:
		return "unknown"
	}
}

// EventHandler receives node events. Handlers run in the context of the
// node that raised the event and must not block.
type EventHandler func(ev Event, from NodeKind)

// Controllable is the mute and volume surface a codec node exposes to a
// feature unit.
type Controllable interface {
	SetMute(channel uint16, mute bool) error
	SetVolume(channel uint16, db256 int16) error
}

// VolumeLimits describes a node's volume range in 1/256 dB.
type VolumeLimits struct {
	Min, Max, Res int16
}

// codecNode is the part of the codec contract shared by both directions.
type codecNode interface {
	Controllable

	// Init binds the node to the session's description and event handler.
	Init(desc *Description, handler EventHandler) error
	// Stop halts transfers. It may take effect on the next tick.
	Stop() error
	// ChangeFrequency re-derives block sizes from the description.
	ChangeFrequency() error
	// StartReadCount resets the transfer byte counter.
	StartReadCount()
	// ReadCount returns bytes transferred since the previous call.
	ReadCount() int
	// DeInit releases the node.
	DeInit() error
	// State returns the lifecycle state.
	State() State
	// VolumeLimits returns the hardware volume range.
	VolumeLimits() VolumeLimits
}

// Speaker is a codec sink draining a ring buffer.
type Speaker interface {
	codecNode
	Start(r *ring.Reader) error
}

// Microphone is a codec source filling a ring buffer.
type Microphone interface {
	codecNode
	Start(w *ring.Writer) error
}

// ControlUnit is an addressable audio-control entity.
type ControlUnit interface {
	ID() uint8
	Start(target Controllable) error
	Stop() error
	DeInit() error
	State() State
}
