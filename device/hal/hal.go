package hal

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softaudio/pkg"
)

// Speed is the bus speed a HAL negotiated with the host.
type Speed uint8

// Bus speeds.
const (
	SpeedUnknown Speed = iota
	SpeedLow           // 1.5 Mbit/s
	SpeedFull          // 12 Mbit/s, 1 ms frames
	SpeedHigh          // 480 Mbit/s, 125 µs microframes
)

var speedNames = [...]string{"unknown", "low", "full", "high"}

func (s Speed) String() string {
	if int(s) < len(speedNames) {
		return speedNames[s]
	}
	return fmt.Sprintf("speed(%d)", uint8(s))
}

// EndpointConfig is what a HAL needs to program one data endpoint. The
// fields mirror the standard endpoint descriptor.
type EndpointConfig struct {
	Address       uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

// SetupSize is the length of a SETUP packet on the wire.
const SetupSize = 8

// SetupPacket is the eight-byte request that opens a control transfer.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// Decode fills p from the first SetupSize bytes of b.
func (p *SetupPacket) Decode(b []byte) error {
	if len(b) < SetupSize {
		return pkg.ErrSetupPacketTooShort
	}
	*p = SetupPacket{
		RequestType: b[0],
		Request:     b[1],
		Value:       binary.LittleEndian.Uint16(b[2:]),
		Index:       binary.LittleEndian.Uint16(b[4:]),
		Length:      binary.LittleEndian.Uint16(b[6:]),
	}
	return nil
}

// Append appends the wire encoding of p to dst.
func (p SetupPacket) Append(dst []byte) []byte {
	dst = append(dst, p.RequestType, p.Request)
	dst = binary.LittleEndian.AppendUint16(dst, p.Value)
	dst = binary.LittleEndian.AppendUint16(dst, p.Index)
	return binary.LittleEndian.AppendUint16(dst, p.Length)
}

// Controller is the lifecycle and link-state half of a HAL.
type Controller interface {
	// Init acquires the controller. Start attaches to the bus and Stop
	// detaches and releases everything Init acquired.
	Init(ctx context.Context) error
	Start() error
	Stop() error

	// SetAddress latches the address assigned by SET_ADDRESS. The stack
	// calls it after the status stage.
	SetAddress(address uint8) error

	// ConfigureEndpoints replaces the set of active data endpoints. An
	// empty set deconfigures them all.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	IsConnected() bool
	GetSpeed() Speed
	WaitConnect(ctx context.Context) error
	WaitDisconnect(ctx context.Context) error
}

// ControlPipe carries the stages of control transfers on endpoint zero.
//
// For every SETUP packet the stack reads the OUT data stage (if wLength is
// non-zero and the request is host-to-device) with ReadEP0, then answers
// with exactly one of WriteEP0, AckEP0 or StallEP0. After WriteEP0 it
// reads the zero-length status stage with ReadEP0 and an empty buffer.
type ControlPipe interface {
	// ReadSetup blocks for the next SETUP packet. A bus reset is reported
	// as pkg.ErrReset.
	ReadSetup(ctx context.Context, out *SetupPacket) error
	ReadEP0(ctx context.Context, buf []byte) (int, error)
	WriteEP0(ctx context.Context, data []byte) error
	AckEP0() error
	StallEP0() error
}

// DataPipe moves one packet per call on endpoints 1 through 15.
type DataPipe interface {
	Read(ctx context.Context, address uint8, buf []byte) (int, error)
	Write(ctx context.Context, address uint8, data []byte) (int, error)
	Stall(address uint8) error
	ClearStall(address uint8) error
}

// DeviceHAL is the complete contract between the device stack and a USB
// device controller.
type DeviceHAL interface {
	Controller
	ControlPipe
	DataPipe
}

// FrameNotifier is implemented by HALs that observe Start-of-Frame. The
// handler receives the 11-bit frame number once per (micro)frame and must
// not block.
type FrameNotifier interface {
	SetFrameHandler(handler func(frame uint16))
}

// PowerNotifier is implemented by HALs that observe bus suspend and
// resume. The handler runs on the HAL's control goroutine.
type PowerNotifier interface {
	SetPowerHandler(handler func(suspended bool))
}
