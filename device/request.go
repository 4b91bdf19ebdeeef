package device

import (
	"fmt"

	"github.com/ardnew/softaudio/device/hal"
)

// bmRequestType fields.
const (
	// DirectionIn marks device-to-host requests. It is also the IN bit of an
	// endpoint address.
	DirectionIn  = 0x80
	DirectionOut = 0x00

	TypeStandard = 0x00
	TypeClass    = 0x20
	TypeVendor   = 0x40

	RecipientDevice    = 0x00
	RecipientInterface = 0x01
	RecipientEndpoint  = 0x02
	RecipientOther     = 0x03

	typeMask      = 0x60
	recipientMask = 0x1F
)

// Standard request codes (USB 2.0 table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// FeatureEndpointHalt is the only feature selector the stack accepts.
const FeatureEndpointHalt = 0x00

var standardNames = map[uint8]string{
	RequestGetStatus:        "GET_STATUS",
	RequestClearFeature:     "CLEAR_FEATURE",
	RequestSetFeature:       "SET_FEATURE",
	RequestSetAddress:       "SET_ADDRESS",
	RequestGetDescriptor:    "GET_DESCRIPTOR",
	RequestSetDescriptor:    "SET_DESCRIPTOR",
	RequestGetConfiguration: "GET_CONFIGURATION",
	RequestSetConfiguration: "SET_CONFIGURATION",
	RequestGetInterface:     "GET_INTERFACE",
	RequestSetInterface:     "SET_INTERFACE",
	RequestSynchFrame:       "SYNCH_FRAME",
}

// SetupPacket is a SETUP packet with accessors for its packed fields. It
// converts to and from [hal.SetupPacket] without copying field by field.
type SetupPacket hal.SetupPacket

// In reports whether the data stage, if any, flows device-to-host.
func (p *SetupPacket) In() bool { return p.RequestType&DirectionIn != 0 }

// Type returns TypeStandard, TypeClass or TypeVendor.
func (p *SetupPacket) Type() uint8 { return p.RequestType & typeMask }

// Recipient returns one of the Recipient constants.
func (p *SetupPacket) Recipient() uint8 { return p.RequestType & recipientMask }

// DescriptorType is the high byte of wValue in GET_DESCRIPTOR.
func (p *SetupPacket) DescriptorType() uint8 { return uint8(p.Value >> 8) }

// DescriptorIndex is the low byte of wValue in GET_DESCRIPTOR.
func (p *SetupPacket) DescriptorIndex() uint8 { return uint8(p.Value) }

// Target is the low byte of wIndex: the interface number or endpoint
// address the request is addressed to.
func (p *SetupPacket) Target() uint8 { return uint8(p.Index) }

func (p *SetupPacket) String() string {
	name := fmt.Sprintf("request %#02x", p.Request)
	if s, ok := standardNames[p.Request]; ok && p.Type() == TypeStandard {
		name = s
	}
	dir := "out"
	if p.In() {
		dir = "in"
	}
	return fmt.Sprintf("%s [%s type=%#02x recipient=%d value=%#04x index=%#04x length=%d]",
		name, dir, p.Type(), p.Recipient(), p.Value, p.Index, p.Length)
}

// Requests a host issues while enumerating and configuring a device.

// GetDescriptor reads length bytes of the descriptor of the given type
// and index.
func GetDescriptor(typ, index uint8, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: DirectionIn | TypeStandard | RecipientDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(typ)<<8 | uint16(index),
		Length:      length,
	}
}

// SetAddress assigns a bus address.
func SetAddress(address uint8) SetupPacket {
	return SetupPacket{Request: RequestSetAddress, Value: uint16(address & 0x7F)}
}

// SetConfiguration selects a configuration by bConfigurationValue; zero
// deconfigures.
func SetConfiguration(value uint8) SetupPacket {
	return SetupPacket{Request: RequestSetConfiguration, Value: uint16(value)}
}

// SetInterface selects an alternate setting of an interface.
func SetInterface(iface, alt uint8) SetupPacket {
	return SetupPacket{
		RequestType: RecipientInterface,
		Request:     RequestSetInterface,
		Value:       uint16(alt),
		Index:       uint16(iface),
	}
}

// ClassRequest builds a class-specific request. dir is DirectionIn or
// DirectionOut.
func ClassRequest(dir, recipient, request uint8, value, index, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: dir&DirectionIn | TypeClass | recipient&recipientMask,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}
}
