package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softaudio/device/hal"
)

func TestSetupPacketFields(t *testing.T) {
	var raw hal.SetupPacket
	require.NoError(t, raw.Decode([]byte{0xA2, 0x81, 0x00, 0x01, 0x82, 0x00, 0x03, 0x00}))
	p := SetupPacket(raw)

	assert.True(t, p.In())
	assert.Equal(t, uint8(TypeClass), p.Type())
	assert.Equal(t, uint8(RecipientEndpoint), p.Recipient())
	assert.Equal(t, uint8(0x82), p.Target())
	assert.Equal(t, uint8(0x01), p.DescriptorType())
	assert.Equal(t, uint8(0x00), p.DescriptorIndex())
	assert.Equal(t, uint16(3), p.Length)
}

func TestSetupPacketString(t *testing.T) {
	p := GetDescriptor(DescriptorTypeConfiguration, 0, 9)
	assert.Equal(t,
		"GET_DESCRIPTOR [in type=0x00 recipient=0 value=0x0200 index=0x0000 length=9]",
		p.String())

	// Class requests reuse standard codes.
	c := ClassRequest(DirectionOut, RecipientInterface, RequestSetAddress, 0, 1, 0)
	assert.Contains(t, c.String(), "request 0x05 [out type=0x20 recipient=1")
}

func TestRequestConstructors(t *testing.T) {
	tests := []struct {
		name  string
		setup SetupPacket
		wire  []byte
	}{
		{"get device descriptor", GetDescriptor(DescriptorTypeDevice, 0, 18),
			[]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00}},
		{"get string descriptor", GetDescriptor(DescriptorTypeString, 2, 255),
			[]byte{0x80, 0x06, 0x02, 0x03, 0x00, 0x00, 0xFF, 0x00}},
		{"set address masks the top bit", SetAddress(0x85),
			[]byte{0x00, 0x05, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"set configuration", SetConfiguration(1),
			[]byte{0x00, 0x09, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"set interface", SetInterface(2, 1),
			[]byte{0x01, 0x0B, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00}},
		{"class set cur on endpoint", ClassRequest(DirectionOut, RecipientEndpoint, 0x01, 0x0100, 0x01, 3),
			[]byte{0x22, 0x01, 0x00, 0x01, 0x01, 0x00, 0x03, 0x00}},
		{"class get min on interface", ClassRequest(0xFF, RecipientInterface, 0x82, 0x0201, 0x0200, 2),
			[]byte{0xA1, 0x82, 0x01, 0x02, 0x00, 0x02, 0x02, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wire, hal.SetupPacket(tt.setup).Append(nil))
		})
	}
}
