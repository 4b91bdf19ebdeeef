package uac

import (
	"encoding/binary"

	"github.com/ardnew/softaudio/audio"
	"github.com/ardnew/softaudio/device"
)

// Class-specific descriptor builders. Each appends one descriptor to dst
// and returns the extended slice.

func appendACHeader(dst []byte, totalLength int, streaming []uint8) []byte {
	dst = append(dst,
		byte(HeaderSizeBase+len(streaming)),
		DescriptorTypeCSInterface,
		SubtypeHeader)
	dst = binary.LittleEndian.AppendUint16(dst, ADCVersion)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(totalLength))
	dst = append(dst, byte(len(streaming)))
	return append(dst, streaming...)
}

func appendInputTerminal(dst []byte, id uint8, terminalType uint16, channels int) []byte {
	dst = append(dst, InputTerminalSize, DescriptorTypeCSInterface, SubtypeInputTerminal, id)
	dst = binary.LittleEndian.AppendUint16(dst, terminalType)
	dst = append(dst, 0, byte(channels))
	dst = binary.LittleEndian.AppendUint16(dst, audio.ChannelMapFor(channels))
	return append(dst, 0, 0)
}

func appendOutputTerminal(dst []byte, id uint8, terminalType uint16, source uint8) []byte {
	dst = append(dst, OutputTerminalSize, DescriptorTypeCSInterface, SubtypeOutputTerminal, id)
	dst = binary.LittleEndian.AppendUint16(dst, terminalType)
	return append(dst, 0, source, 0)
}

// featureUnitSize returns the length of a feature unit descriptor with
// one-byte controls for the master channel and each logical channel.
func featureUnitSize(channels int) int {
	return 7 + channels + 1
}

func appendFeatureUnit(dst []byte, id, source, controls uint8, channels int) []byte {
	dst = append(dst,
		byte(featureUnitSize(channels)),
		DescriptorTypeCSInterface,
		SubtypeFeatureUnit,
		id, source, 1, controls)
	for range channels {
		dst = append(dst, 0)
	}
	return append(dst, 0)
}

func appendASGeneral(dst []byte, terminalLink uint8) []byte {
	dst = append(dst, ASGeneralSize, DescriptorTypeCSInterface, SubtypeASGeneral, terminalLink, 1)
	return binary.LittleEndian.AppendUint16(dst, FormatTagPCM)
}

func appendFormatTypeI(dst []byte, channels, resolution int, freqs audio.FrequencyTable) []byte {
	dst = append(dst,
		byte(FormatTypeISizeBase+FrequencyDataSize*len(freqs)),
		DescriptorTypeCSInterface,
		SubtypeFormatType,
		FormatTypeI,
		byte(channels),
		byte(resolution),
		byte(resolution*8),
		byte(len(freqs)))
	for _, f := range freqs {
		dst = appendFrequency(dst, f)
	}
	return dst
}

func appendCSEndpoint(dst []byte) []byte {
	return append(dst, CSEndpointSize, DescriptorTypeCSEndpoint, SubtypeEPGeneral,
		EndpointAttrSamplingFreq, 0, 0, 0)
}

// appendFrequency appends a 3-byte little-endian sampling rate.
func appendFrequency(dst []byte, freq uint32) []byte {
	return append(dst, byte(freq), byte(freq>>8), byte(freq>>16))
}

func decodeFrequency(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// Layout is the resolved interface numbering and endpoint assignment of a
// function. Zero marks an absent endpoint.
type Layout struct {
	Control   uint8
	Playback  uint8
	Recording uint8

	PlaybackOut uint8
	FeedbackIn  uint8
	RecordingIn uint8
	InterruptIn uint8
}

// newLayout assigns interface numbers starting at first and endpoint
// addresses in order: playback OUT, feedback IN, recording IN, interrupt
// IN.
func newLayout(cfg *Config, first uint8) Layout {
	l := Layout{Control: first}
	next := first + 1
	in := uint8(1)
	if cfg.Playback.Enabled {
		l.Playback = next
		next++
		l.PlaybackOut = EndpointPlaybackOut
		if cfg.Playback.Feedback {
			l.FeedbackIn = device.DirectionIn | in
			in++
		}
	}
	if cfg.Recording.Enabled {
		l.Recording = next
		l.RecordingIn = device.DirectionIn | in
		in++
	}
	if cfg.Interrupt {
		l.InterruptIn = device.DirectionIn | in
	}
	return l
}

// controlDescriptors returns the class-specific AudioControl block: header,
// then terminal, feature unit and terminal for each enabled direction.
func (f *Function) controlDescriptors() []byte {
	var units []byte
	var streaming []uint8
	if c := &f.cfg.Playback; c.Enabled {
		streaming = append(streaming, f.layout.Playback)
		units = appendInputTerminal(units, PlaybackInputTerminalID, TerminalUSBStreaming, c.Channels)
		units = appendFeatureUnit(units, PlaybackFeatureUnitID, PlaybackInputTerminalID,
			f.playback.FeatureUnit().Controls(), c.Channels)
		units = appendOutputTerminal(units, PlaybackOutputTerminalID, TerminalSpeaker, PlaybackFeatureUnitID)
	}
	if c := &f.cfg.Recording.StreamConfig; c.Enabled {
		streaming = append(streaming, f.layout.Recording)
		units = appendInputTerminal(units, RecordingInputTerminalID, TerminalMicrophone, c.Channels)
		units = appendFeatureUnit(units, RecordingFeatureUnitID, RecordingInputTerminalID,
			f.recording.FeatureUnit().Controls(), c.Channels)
		units = appendOutputTerminal(units, RecordingOutputTerminalID, TerminalUSBStreaming, RecordingFeatureUnitID)
	}
	total := HeaderSizeBase + len(streaming) + len(units)
	out := appendACHeader(make([]byte, 0, total), total, streaming)
	return append(out, units...)
}

// streamingDescriptors returns the class-specific block of an operational
// AudioStreaming alternate.
func streamingDescriptors(terminalLink uint8, c *StreamConfig) []byte {
	out := appendASGeneral(nil, terminalLink)
	return appendFormatTypeI(out, c.Channels, c.Resolution, c.table())
}

// ConfigureDevice adds the AudioControl interface and one AudioStreaming
// interface per enabled direction to the builder's current configuration.
// Interfaces are numbered after those already present.
func (f *Function) ConfigureDevice(builder *device.Builder) *device.Builder {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var first uint8
	if config := builder.Configuration(); config != nil {
		first = uint8(config.NumInterfaces())
		f.configValue = config.Value
		config.SetSelfPowered(true)
	}
	f.layout = newLayout(&f.cfg, first)
	speed := f.cfg.AudioSpeed()

	builder.AddInterface(device.ClassAudio, SubclassAudioControl, ProtocolUndefined).
		ClassSpecific(f.controlDescriptors())
	if f.layout.InterruptIn != 0 {
		builder.AddEndpoint(&device.Endpoint{
			Address:       f.layout.InterruptIn,
			Attributes:    device.EndpointTypeInterrupt,
			MaxPacketSize: StatusSize,
			Interval:      InterruptInterval,
			Audio:         true,
		})
	}

	if c := &f.cfg.Playback; c.Enabled {
		attrs := uint8(device.EndpointTypeIsochronous | device.IsoSyncAdaptive)
		maxPacket := audio.MaxPacketLength(c.maxFrequency(), c.sampleLength(), speed)
		if c.Feedback {
			attrs = device.EndpointTypeIsochronous | device.IsoSyncAsync
			maxPacket = audio.SyncPacketLength(c.maxFrequency(), c.sampleLength(), speed)
		}
		builder.AddInterface(device.ClassAudio, SubclassAudioStreaming, ProtocolUndefined).
			AddAlternate(1).
			ClassSpecific(streamingDescriptors(PlaybackInputTerminalID, &c.StreamConfig)).
			AddEndpoint(&device.Endpoint{
				Address:       f.layout.PlaybackOut,
				Attributes:    attrs,
				MaxPacketSize: uint16(maxPacket),
				Interval:      1,
				Audio:         true,
				SynchAddress:  f.layout.FeedbackIn,
				ClassSpecific: appendCSEndpoint(nil),
			})
		if c.Feedback {
			builder.AddEndpoint(&device.Endpoint{
				Address:       f.layout.FeedbackIn,
				Attributes:    device.EndpointTypeIsochronous | device.IsoUsageFeedback,
				MaxPacketSize: audio.FeedbackSize,
				Interval:      1,
				Audio:         true,
				Refresh:       FeedbackRefresh,
			})
		}
	}

	if c := &f.cfg.Recording; c.Enabled {
		maxPacket := audio.MaxPacketLength(c.maxFrequency(), c.sampleLength(), speed)
		if c.syncMode() == audio.SyncNoRemove {
			maxPacket = audio.SyncPacketLength(c.maxFrequency(), c.sampleLength(), speed)
		}
		builder.AddInterface(device.ClassAudio, SubclassAudioStreaming, ProtocolUndefined).
			AddAlternate(1).
			ClassSpecific(streamingDescriptors(RecordingOutputTerminalID, &c.StreamConfig)).
			AddEndpoint(&device.Endpoint{
				Address:       f.layout.RecordingIn,
				Attributes:    device.EndpointTypeIsochronous | device.IsoSyncAsync,
				MaxPacketSize: uint16(maxPacket),
				Interval:      1,
				Audio:         true,
				ClassSpecific: appendCSEndpoint(nil),
			})
	}

	return builder
}
