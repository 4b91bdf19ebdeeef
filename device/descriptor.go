package device

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/ardnew/softaudio/pkg"
)

// Descriptor types.
const (
	DescriptorTypeDevice           = 0x01
	DescriptorTypeConfiguration    = 0x02
	DescriptorTypeString           = 0x03
	DescriptorTypeInterface        = 0x04
	DescriptorTypeEndpoint         = 0x05
	DescriptorTypeDeviceQualifier  = 0x06
	DescriptorTypeOtherSpeedConfig = 0x07
)

// Class codes.
const (
	ClassPerInterface = 0x00
	ClassAudio        = 0x01
	ClassVendor       = 0xFF
)

// Descriptor lengths.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	EndpointDescriptorSize      = 7
	AudioEndpointDescriptorSize = 9 // adds bRefresh and bSynchAddress
	QualifierDescriptorSize     = 10
)

// bmAttributes of a configuration. Bit 7 is reserved and always set.
const (
	ConfigAttrReserved     = 0x80
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// LangIDUSEnglish is the language of every string the device serves.
const LangIDUSEnglish = 0x0409

// USB is the bcdUSB the device reports.
const USB = 0x0200

// checkHeader verifies the bLength and bDescriptorType of b.
func checkHeader(b []byte, typ uint8, size int) error {
	if len(b) < 2 || len(b) < size || int(b[0]) < size {
		return fmt.Errorf("descriptor type %#02x: %d bytes, need %d: %w",
			typ, len(b), size, pkg.ErrDescriptorTooShort)
	}
	if b[1] != typ {
		return fmt.Errorf("descriptor type %#02x, want %#02x: %w",
			b[1], typ, pkg.ErrDescriptorTypeMismatch)
	}
	return nil
}

// SplitDescriptors cuts a concatenation of descriptors, such as a full
// configuration descriptor, at each bLength.
func SplitDescriptors(b []byte) ([][]byte, error) {
	var out [][]byte
	for off := 0; off < len(b); {
		n := int(b[off])
		if n < 2 || off+n > len(b) {
			return out, fmt.Errorf("descriptor at offset %d, length %d: %w",
				off, n, pkg.ErrDescriptorTooShort)
		}
		out = append(out, b[off:off+n])
		off += n
	}
	return out, nil
}

// DeviceDescriptor is the standard device descriptor.
type DeviceDescriptor struct {
	USB               uint16 // bcdUSB
	Class             uint8
	SubClass          uint8
	Protocol          uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	Release           uint16 // bcdDevice
	Manufacturer      uint8  // string indexes
	Product           uint8
	SerialNumber      uint8
	NumConfigurations uint8
}

// Append appends the 18-byte encoding of d to dst.
func (d *DeviceDescriptor) Append(dst []byte) []byte {
	dst = append(dst, DeviceDescriptorSize, DescriptorTypeDevice)
	dst = binary.LittleEndian.AppendUint16(dst, d.USB)
	dst = append(dst, d.Class, d.SubClass, d.Protocol, d.MaxPacketSize0)
	dst = binary.LittleEndian.AppendUint16(dst, d.VendorID)
	dst = binary.LittleEndian.AppendUint16(dst, d.ProductID)
	dst = binary.LittleEndian.AppendUint16(dst, d.Release)
	return append(dst, d.Manufacturer, d.Product, d.SerialNumber, d.NumConfigurations)
}

// appendQualifier appends the device qualifier describing d at the other
// speed.
func (d *DeviceDescriptor) appendQualifier(dst []byte) []byte {
	dst = append(dst, QualifierDescriptorSize, DescriptorTypeDeviceQualifier)
	dst = binary.LittleEndian.AppendUint16(dst, d.USB)
	return append(dst, d.Class, d.SubClass, d.Protocol, d.MaxPacketSize0, d.NumConfigurations, 0)
}

// ParseDeviceDescriptor decodes a device descriptor.
func ParseDeviceDescriptor(b []byte) (DeviceDescriptor, error) {
	if err := checkHeader(b, DescriptorTypeDevice, DeviceDescriptorSize); err != nil {
		return DeviceDescriptor{}, err
	}
	return DeviceDescriptor{
		USB:               binary.LittleEndian.Uint16(b[2:]),
		Class:             b[4],
		SubClass:          b[5],
		Protocol:          b[6],
		MaxPacketSize0:    b[7],
		VendorID:          binary.LittleEndian.Uint16(b[8:]),
		ProductID:         binary.LittleEndian.Uint16(b[10:]),
		Release:           binary.LittleEndian.Uint16(b[12:]),
		Manufacturer:      b[14],
		Product:           b[15],
		SerialNumber:      b[16],
		NumConfigurations: b[17],
	}, nil
}

// ConfigurationDescriptor is the nine-byte head of a configuration.
type ConfigurationDescriptor struct {
	TotalLength   uint16
	NumInterfaces uint8
	Value         uint8
	StringIndex   uint8
	Attributes    uint8
	MaxPower      uint8 // 2 mA units
}

// Append appends the encoding of c to dst.
func (c *ConfigurationDescriptor) Append(dst []byte) []byte {
	dst = append(dst, ConfigurationDescriptorSize, DescriptorTypeConfiguration)
	dst = binary.LittleEndian.AppendUint16(dst, c.TotalLength)
	return append(dst, c.NumInterfaces, c.Value, c.StringIndex, c.Attributes, c.MaxPower)
}

// ParseConfigurationDescriptor decodes the head of a configuration
// descriptor. b may hold the full wTotalLength bytes.
func ParseConfigurationDescriptor(b []byte) (ConfigurationDescriptor, error) {
	if err := checkHeader(b, DescriptorTypeConfiguration, ConfigurationDescriptorSize); err != nil {
		return ConfigurationDescriptor{}, err
	}
	return ConfigurationDescriptor{
		TotalLength:   binary.LittleEndian.Uint16(b[2:]),
		NumInterfaces: b[4],
		Value:         b[5],
		StringIndex:   b[6],
		Attributes:    b[7],
		MaxPower:      b[8],
	}, nil
}

// InterfaceDescriptor describes one alternate setting of an interface.
type InterfaceDescriptor struct {
	Number       uint8
	Alternate    uint8
	NumEndpoints uint8
	Class        uint8
	SubClass     uint8
	Protocol     uint8
	StringIndex  uint8
}

// Append appends the encoding of d to dst.
func (d *InterfaceDescriptor) Append(dst []byte) []byte {
	return append(dst, InterfaceDescriptorSize, DescriptorTypeInterface,
		d.Number, d.Alternate, d.NumEndpoints, d.Class, d.SubClass, d.Protocol, d.StringIndex)
}

// ParseInterfaceDescriptor decodes an interface descriptor.
func ParseInterfaceDescriptor(b []byte) (InterfaceDescriptor, error) {
	if err := checkHeader(b, DescriptorTypeInterface, InterfaceDescriptorSize); err != nil {
		return InterfaceDescriptor{}, err
	}
	return InterfaceDescriptor{
		Number:       b[2],
		Alternate:    b[3],
		NumEndpoints: b[4],
		Class:        b[5],
		SubClass:     b[6],
		Protocol:     b[7],
		StringIndex:  b[8],
	}, nil
}

// EndpointDescriptor is the standard endpoint descriptor, in its audio
// class form when Audio is set.
type EndpointDescriptor struct {
	Address       uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8

	Audio        bool
	Refresh      uint8
	SynchAddress uint8
}

// Size returns 7, or 9 for the audio form.
func (d *EndpointDescriptor) Size() int {
	if d.Audio {
		return AudioEndpointDescriptorSize
	}
	return EndpointDescriptorSize
}

// Append appends the encoding of d to dst.
func (d *EndpointDescriptor) Append(dst []byte) []byte {
	dst = append(dst, byte(d.Size()), DescriptorTypeEndpoint, d.Address, d.Attributes)
	dst = binary.LittleEndian.AppendUint16(dst, d.MaxPacketSize)
	dst = append(dst, d.Interval)
	if d.Audio {
		dst = append(dst, d.Refresh, d.SynchAddress)
	}
	return dst
}

// ParseEndpointDescriptor decodes an endpoint descriptor. A bLength of 9
// selects the audio form.
func ParseEndpointDescriptor(b []byte) (EndpointDescriptor, error) {
	if err := checkHeader(b, DescriptorTypeEndpoint, EndpointDescriptorSize); err != nil {
		return EndpointDescriptor{}, err
	}
	d := EndpointDescriptor{
		Address:       b[2],
		Attributes:    b[3],
		MaxPacketSize: binary.LittleEndian.Uint16(b[4:]),
		Interval:      b[6],
	}
	if b[0] >= AudioEndpointDescriptorSize {
		if len(b) < AudioEndpointDescriptorSize {
			return EndpointDescriptor{}, fmt.Errorf("audio endpoint descriptor: %w", pkg.ErrDescriptorTooShort)
		}
		d.Audio, d.Refresh, d.SynchAddress = true, b[7], b[8]
	}
	return d, nil
}

// appendString appends a string descriptor holding s as UTF-16LE,
// truncated to the 255-byte descriptor limit.
func appendString(dst []byte, s string) []byte {
	units := utf16.Encode([]rune(s))
	units = units[:min(len(units), 126)]
	dst = append(dst, byte(2+2*len(units)), DescriptorTypeString)
	for _, u := range units {
		dst = binary.LittleEndian.AppendUint16(dst, u)
	}
	return dst
}

// appendLanguages appends string descriptor zero.
func appendLanguages(dst []byte, ids ...uint16) []byte {
	dst = append(dst, byte(2+2*len(ids)), DescriptorTypeString)
	for _, id := range ids {
		dst = binary.LittleEndian.AppendUint16(dst, id)
	}
	return dst
}
