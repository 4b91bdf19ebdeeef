package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softaudio/pkg"
)

func TestPacketLengths(t *testing.T) {
	tests := []struct {
		name               string
		freq               uint32
		sampleLength       int
		speed              Speed
		packet, max, synch int
	}{
		{"48k stereo 16-bit full", 48000, 4, SpeedFull, 192, 192, 196},
		{"44.1k stereo 16-bit full", 44100, 4, SpeedFull, 176, 180, 180},
		{"96k stereo 24-bit full", 96000, 6, SpeedFull, 576, 576, 582},
		{"48k stereo 16-bit high", 48000, 4, SpeedHigh, 24, 24, 28},
		{"16k mono 16-bit full", 16000, 2, SpeedFull, 32, 32, 34},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.packet, PacketLength(tt.freq, tt.sampleLength, tt.speed))
			assert.Equal(t, tt.max, MaxPacketLength(tt.freq, tt.sampleLength, tt.speed))
			assert.Equal(t, tt.synch, SyncPacketLength(tt.freq, tt.sampleLength, tt.speed))
		})
	}
}

func TestMSPacketUsesFullSpeed(t *testing.T) {
	d, err := NewDescription(48000, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 192, d.MSPacketLength())
	assert.Equal(t, 24, d.PacketLength(SpeedHigh))
	assert.Equal(t, 4, d.SampleLength())
}

func TestNewDescription(t *testing.T) {
	d, err := NewDescription(44100, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(44100), d.Frequency())
	assert.Equal(t, uint16(0x0003), d.ChannelMap)
	assert.Equal(t, FormatPCM, d.Format)

	_, err = NewDescription(48000, 3, 2)
	assert.ErrorIs(t, err, pkg.ErrNotSupported)
	_, err = NewDescription(48000, 2, 4)
	assert.ErrorIs(t, err, pkg.ErrNotSupported)
	_, err = NewDescription(0, 2, 2)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)

	mono, err := NewDescription(16000, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), mono.ChannelMap)
}

func TestFrequencyTableNearest(t *testing.T) {
	tests := []struct {
		freq uint32
		want uint32
	}{
		{48000, 48000},
		{50000, 48000},
		{46000, 44100},
		{46050, 48000},
		{250000, 192000},
		{100, 8000},
		{12000, 16000},
	}
	for _, tt := range tests {
		got, ok := StandardFrequencies.Nearest(tt.freq)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got, "Nearest(%d)", tt.freq)
	}

	_, ok := FrequencyTable(nil).Nearest(48000)
	assert.False(t, ok)
}

func TestFrequencyTableContains(t *testing.T) {
	assert.True(t, StandardFrequencies.Contains(44100))
	assert.False(t, StandardFrequencies.Contains(44000))
}

func TestVolumeConversion(t *testing.T) {
	assert.Equal(t, int16(-256), VolumeUSBToDB256(0xFF00))
	assert.Equal(t, int16(-32768), VolumeUSBToDB256(0x8000))
	assert.Equal(t, uint16(0x0180), VolumeDB256ToUSB(384))

	for v := 0; v <= 0xFFFF; v += 0x101 {
		assert.Equal(t, uint16(v), VolumeDB256ToUSB(VolumeUSBToDB256(uint16(v))))
	}
}
