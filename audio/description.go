package audio

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/softaudio/pkg"
)

// Speed is the USB bus speed the function is enumerated at. It determines
// the isochronous service interval and the Start-Of-Frame rate.
type Speed int

// Bus speeds.
const (
	SpeedFull Speed = iota // 1 ms frames
	SpeedHigh              // 125 us micro-frames
)

// String returns the speed name.
func (s Speed) String() string {
	if s == SpeedHigh {
		return "high"
	}
	return "full"
}

// SOFPerSecond returns the number of Start-Of-Frame tokens per second.
func (s Speed) SOFPerSecond() int {
	if s == SpeedHigh {
		return 8000
	}
	return 1000
}

// cycle44 returns the number of packets in one 44.1 kHz cycle, in which
// exactly one packet carries an extra sample frame.
func (s Speed) cycle44() int {
	if s == SpeedHigh {
		return 80
	}
	return 10
}

// Format is the audio data format carried on a streaming interface.
type Format uint16

// Supported formats.
const (
	FormatPCM Format = 0x0001
)

// Frequency44100 is the one standard rate that does not divide evenly into
// 1 ms packets.
const Frequency44100 = 44100

// PacketLength returns the nominal number of bytes per USB packet.
func PacketLength(freq uint32, sampleLength int, speed Speed) int {
	return int(freq) / speed.SOFPerSecond() * sampleLength
}

// MaxPacketLength returns the largest packet at freq, covering rates that
// are not a whole number of frames per packet.
func MaxPacketLength(freq uint32, sampleLength int, speed Speed) int {
	return PacketLength(freq+uint32(speed.SOFPerSecond())-1, sampleLength, speed)
}

// SyncPacketLength returns the largest packet when the stream may carry one
// extra sample frame for rate adaptation.
func SyncPacketLength(freq uint32, sampleLength int, speed Speed) int {
	return MaxPacketLength(freq+1, sampleLength, speed)
}

// MSPacketLength returns the number of bytes per millisecond, which is the
// codec-side transfer unit.
func MSPacketLength(freq uint32, sampleLength int) int {
	return PacketLength(freq, sampleLength, SpeedFull)
}

// MSMaxPacketLength returns the largest per-millisecond block at freq.
func MSMaxPacketLength(freq uint32, sampleLength int) int {
	return MaxPacketLength(freq, sampleLength, SpeedFull)
}

// Description is the stream format shared by every node of a session. The
// control plane writes frequency, volume and mute while the data path
// reads them, so those fields are atomic.
type Description struct {
	Channels   int
	ChannelMap uint16
	Resolution int
	Format     Format

	frequency atomic.Uint32
	volume    atomic.Int32
	mute      atomic.Bool
}

// NewDescription returns a PCM description. Resolution is in bytes per
// sample and must be 2 or 3.
func NewDescription(freq uint32, channels, resolution int) (*Description, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("%d channels: %w", channels, pkg.ErrNotSupported)
	}
	if resolution != 2 && resolution != 3 {
		return nil, fmt.Errorf("%d-byte samples: %w", resolution, pkg.ErrNotSupported)
	}
	if freq == 0 {
		return nil, fmt.Errorf("zero frequency: %w", pkg.ErrInvalidParameter)
	}
	d := &Description{
		Channels:   channels,
		ChannelMap: ChannelMapFor(channels),
		Resolution: resolution,
		Format:     FormatPCM,
	}
	d.frequency.Store(freq)
	return d, nil
}

// ChannelMapFor returns the USB spatial location bitmap (left front, right
// front) for a channel count.
func ChannelMapFor(channels int) uint16 {
	if channels == 1 {
		return 0x0000
	}
	return 0x0003
}

// Frequency returns the current sampling frequency in Hz.
func (d *Description) Frequency() uint32 { return d.frequency.Load() }

// SetFrequency replaces the sampling frequency.
func (d *Description) SetFrequency(freq uint32) { d.frequency.Store(freq) }

// Volume returns the current volume in 1/256 dB.
func (d *Description) Volume() int16 { return int16(d.volume.Load()) }

// SetVolume replaces the volume in 1/256 dB.
func (d *Description) SetVolume(db256 int16) { d.volume.Store(int32(db256)) }

// Mute reports whether the stream is muted.
func (d *Description) Mute() bool { return d.mute.Load() }

// SetMute replaces the mute state.
func (d *Description) SetMute(mute bool) { d.mute.Store(mute) }

// SampleLength returns the number of bytes in one frame of all channels.
func (d *Description) SampleLength() int { return d.Channels * d.Resolution }

// PacketLength returns the nominal USB packet at the current frequency.
func (d *Description) PacketLength(speed Speed) int {
	return PacketLength(d.Frequency(), d.SampleLength(), speed)
}

// MaxPacketLength returns the largest USB packet at the current frequency.
func (d *Description) MaxPacketLength(speed Speed) int {
	return MaxPacketLength(d.Frequency(), d.SampleLength(), speed)
}

// SyncPacketLength returns the largest USB packet when rate adaptation may
// add a frame.
func (d *Description) SyncPacketLength(speed Speed) int {
	return SyncPacketLength(d.Frequency(), d.SampleLength(), speed)
}

// MSPacketLength returns the per-millisecond codec block.
func (d *Description) MSPacketLength() int {
	return MSPacketLength(d.Frequency(), d.SampleLength())
}

// MSMaxPacketLength returns the largest per-millisecond codec block.
func (d *Description) MSMaxPacketLength() int {
	return MSMaxPacketLength(d.Frequency(), d.SampleLength())
}

// FrequencyTable lists supported rates in descending order.
type FrequencyTable []uint32

// StandardFrequencies are the rates advertised by default.
var StandardFrequencies = FrequencyTable{192000, 96000, 48000, 44100, 32000, 16000, 8000}

// Nearest returns the supported rate closest to freq. Requests above or
// below the table clamp to its ends; a request midway between two entries
// resolves to the higher one. It returns false for an empty table.
func (t FrequencyTable) Nearest(freq uint32) (uint32, bool) {
	if len(t) == 0 {
		return 0, false
	}
	if freq >= t[0] {
		return t[0], true
	}
	last := t[len(t)-1]
	if freq <= last {
		return last, true
	}
	for i := 1; i < len(t); i++ {
		if freq >= t[i] {
			if t[i-1]-freq <= freq-t[i] {
				return t[i-1], true
			}
			return t[i], true
		}
	}
	return 0, false
}

// Contains reports whether freq is listed.
func (t FrequencyTable) Contains(freq uint32) bool {
	for _, f := range t {
		if f == freq {
			return true
		}
	}
	return false
}

// Volume wire format. USB Audio 1.0 carries volume as a 16-bit two's
// complement value in 1/256 dB.

// VolumeUSBToDB256 converts a wire volume to signed 1/256 dB.
func VolumeUSBToDB256(v uint16) int16 {
	return int16(v)
}

// VolumeDB256ToUSB converts signed 1/256 dB to the wire format.
func VolumeDB256ToUSB(db256 int16) uint16 {
	return uint16(db256)
}
