package device

import (
	"sync/atomic"

	"github.com/ardnew/softaudio/device/hal"
)

// Endpoint bmAttributes fields.
const (
	EndpointTypeControl     = 0x00
	EndpointTypeIsochronous = 0x01
	EndpointTypeBulk        = 0x02
	EndpointTypeInterrupt   = 0x03

	// Isochronous synchronization type.
	IsoSyncNone     = 0x00
	IsoSyncAsync    = 0x04
	IsoSyncAdaptive = 0x08
	IsoSyncSync     = 0x0C

	// Isochronous usage type.
	IsoUsageData     = 0x00
	IsoUsageFeedback = 0x10
	IsoUsageImplicit = 0x20

	endpointTypeMask = 0x03
	isoUsageMask     = 0x30
)

// Endpoint is a data endpoint declared by an alternate setting.
type Endpoint struct {
	Address       uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8

	// Audio selects the nine-byte descriptor with Refresh and
	// SynchAddress.
	Audio        bool
	Refresh      uint8
	SynchAddress uint8

	// ClassSpecific is emitted right after the endpoint descriptor.
	ClassSpecific []byte

	halted atomic.Bool
	frame  atomic.Uint32
}

// IsIn reports whether data flows device-to-host.
func (e *Endpoint) IsIn() bool { return e.Address&DirectionIn != 0 }

// Type returns the transfer type bits.
func (e *Endpoint) Type() uint8 { return e.Attributes & endpointTypeMask }

func (e *Endpoint) IsIsochronous() bool { return e.Type() == EndpointTypeIsochronous }

func (e *Endpoint) IsInterrupt() bool { return e.Type() == EndpointTypeInterrupt }

// IsFeedback reports whether e is an isochronous explicit feedback
// endpoint.
func (e *Endpoint) IsFeedback() bool {
	return e.IsIsochronous() && e.Attributes&isoUsageMask == IsoUsageFeedback
}

// Halted reports whether the host set ENDPOINT_HALT.
func (e *Endpoint) Halted() bool { return e.halted.Load() }

// FrameNumber returns the frame number of the last Start-of-Frame seen
// while e was active, as reported by SYNCH_FRAME.
func (e *Endpoint) FrameNumber() uint16 { return uint16(e.frame.Load()) }

func (e *Endpoint) descriptor() EndpointDescriptor {
	return EndpointDescriptor{
		Address:       e.Address,
		Attributes:    e.Attributes,
		MaxPacketSize: e.MaxPacketSize,
		Interval:      e.Interval,
		Audio:         e.Audio,
		Refresh:       e.Refresh,
		SynchAddress:  e.SynchAddress,
	}
}

func (e *Endpoint) appendDescriptors(dst []byte) []byte {
	d := e.descriptor()
	return append(d.Append(dst), e.ClassSpecific...)
}

func (e *Endpoint) config() hal.EndpointConfig {
	return hal.EndpointConfig{
		Address:       e.Address,
		Attributes:    e.Attributes,
		MaxPacketSize: e.MaxPacketSize,
		Interval:      e.Interval,
	}
}
