package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softaudio/pkg"
)

func TestDeviceDescriptorEncoding(t *testing.T) {
	d := DeviceDescriptor{
		USB:               USB,
		MaxPacketSize0:    64,
		VendorID:          0x1209,
		ProductID:         0xA0D1,
		Release:           0x0100,
		Manufacturer:      1,
		Product:           2,
		SerialNumber:      3,
		NumConfigurations: 1,
	}
	b := d.Append(nil)
	assert.Equal(t, []byte{
		0x12, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 0x40,
		0x09, 0x12, 0xD1, 0xA0, 0x00, 0x01, 0x01, 0x02, 0x03, 0x01,
	}, b)

	got, err := ParseDeviceDescriptor(b)
	require.NoError(t, err)
	assert.Equal(t, d, got)

	q := d.appendQualifier(nil)
	assert.Equal(t, []byte{0x0A, 0x06, 0x00, 0x02, 0x00, 0x00, 0x00, 0x40, 0x01, 0x00}, q)
}

func TestParseErrors(t *testing.T) {
	_, err := ParseDeviceDescriptor([]byte{0x12, 0x01, 0x00})
	assert.ErrorIs(t, err, pkg.ErrDescriptorTooShort)

	_, err = ParseInterfaceDescriptor([]byte{0x09, 0x05, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, pkg.ErrDescriptorTypeMismatch)

	// bLength shorter than the type's fixed part.
	_, err = ParseConfigurationDescriptor([]byte{0x05, 0x02, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, pkg.ErrDescriptorTooShort)

	// Audio form announced but truncated.
	_, err = ParseEndpointDescriptor([]byte{0x09, 0x05, 0x81, 0x05, 0xC4, 0x00, 0x01})
	assert.ErrorIs(t, err, pkg.ErrDescriptorTooShort)
}

func TestEndpointDescriptorForms(t *testing.T) {
	std := EndpointDescriptor{Address: 0x83, Attributes: EndpointTypeInterrupt, MaxPacketSize: 2, Interval: 32}
	b := std.Append(nil)
	require.Len(t, b, EndpointDescriptorSize)
	got, err := ParseEndpointDescriptor(b)
	require.NoError(t, err)
	assert.Equal(t, std, got)

	audio := EndpointDescriptor{
		Address:       0x01,
		Attributes:    EndpointTypeIsochronous | IsoSyncAsync,
		MaxPacketSize: 196,
		Interval:      1,
		Audio:         true,
		SynchAddress:  0x81,
	}
	b = audio.Append(nil)
	assert.Equal(t, []byte{0x09, 0x05, 0x01, 0x05, 0xC4, 0x00, 0x01, 0x00, 0x81}, b)
	got, err = ParseEndpointDescriptor(b)
	require.NoError(t, err)
	assert.Equal(t, audio, got)
}

func TestSplitDescriptors(t *testing.T) {
	iface := InterfaceDescriptor{Number: 1, Alternate: 1, NumEndpoints: 1, Class: ClassAudio, SubClass: 2}
	ep := EndpointDescriptor{Address: 0x82, Attributes: EndpointTypeIsochronous, MaxPacketSize: 192, Interval: 1}
	b := iface.Append(nil)
	b = append(b, 0x07, 0x24, 0x01, 0x01, 0x01, 0x01, 0x00) // class-specific
	b = ep.Append(b)

	parts, err := SplitDescriptors(b)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, byte(0x24), parts[1][1])

	gotIface, err := ParseInterfaceDescriptor(parts[0])
	require.NoError(t, err)
	assert.Equal(t, iface, gotIface)
	gotEP, err := ParseEndpointDescriptor(parts[2])
	require.NoError(t, err)
	assert.Equal(t, ep, gotEP)

	_, err = SplitDescriptors(append(b, 0x09, 0x04, 0x00))
	assert.ErrorIs(t, err, pkg.ErrDescriptorTooShort)
	_, err = SplitDescriptors([]byte{0x00, 0x04})
	assert.ErrorIs(t, err, pkg.ErrDescriptorTooShort)
}

func TestStringDescriptors(t *testing.T) {
	assert.Equal(t, []byte{0x04, 0x03, 0x09, 0x04}, appendLanguages(nil, LangIDUSEnglish))
	assert.Equal(t, []byte{0x08, 0x03, 'U', 0, 'S', 0, 'B', 0}, appendString(nil, "USB"))

	long := make([]rune, 200)
	for i := range long {
		long[i] = 'x'
	}
	b := appendString(nil, string(long))
	assert.Equal(t, byte(254), b[0])
	assert.Len(t, b, 254)
}
