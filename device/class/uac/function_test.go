package uac

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softaudio/audio"
	"github.com/ardnew/softaudio/device"
	"github.com/ardnew/softaudio/device/hal"
	"github.com/ardnew/softaudio/device/hal/loopback"
	"github.com/ardnew/softaudio/pkg"
)

type harness struct {
	fn    *Function
	h     *loopback.HAL
	host  *loopback.Host
	stack *device.Stack
	ctx   context.Context
}

func startFunction(t *testing.T, cfg Config) *harness {
	t.Helper()
	fn, err := New(cfg)
	require.NoError(t, err)

	builder := device.NewBuilder(0x1209, 0xA0D1).AddConfiguration(1)
	fn.ConfigureDevice(builder)
	dev, err := builder.Build()
	require.NoError(t, err)
	require.NoError(t, fn.AttachToInterfaces(dev))

	h := loopback.New(hal.SpeedFull)
	stack := device.NewStack(dev, h)
	fn.SetStack(stack)
	require.NoError(t, stack.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(func() {
		cancel()
		_ = stack.Stop()
		_ = fn.Close()
		fn.Wait()
	})

	_, err = h.Host().Enumerate(ctx, 3)
	require.NoError(t, err)

	return &harness{fn: fn, h: h, host: h.Host(), stack: stack, ctx: ctx}
}

func (x *harness) unitRequest(t *testing.T, request, unit, selector uint8, data []byte) (int, error) {
	t.Helper()
	setup := device.ClassRequest(request&device.DirectionIn, device.RecipientInterface, request,
		uint16(selector)<<8, uint16(unit)<<8|InterfaceControl, uint16(len(data)))
	return x.host.Control(x.ctx, setup, data)
}

func (x *harness) endpointRequest(t *testing.T, request, endpoint uint8, data []byte) (int, error) {
	t.Helper()
	setup := device.ClassRequest(request&device.DirectionIn, device.RecipientEndpoint, request,
		uint16(EndpointSamplingFreq)<<8, uint16(endpoint), uint16(len(data)))
	return x.host.Control(x.ctx, setup, data)
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, audio.SpeedFull, cfg.AudioSpeed())
	assert.Equal(t, audio.FrequencyTable{48000, 44100, 16000}, cfg.Playback.table())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no streams", func(c *Config) { c.Playback.Enabled = false; c.Recording.Enabled = false }},
		{"bad speed", func(c *Config) { c.Speed = "low" }},
		{"three channels", func(c *Config) { c.Playback.Channels = 3 }},
		{"four byte samples", func(c *Config) { c.Recording.Resolution = 4 }},
		{"rate not in table", func(c *Config) { c.Playback.Frequency = 32000 }},
		{"empty table", func(c *Config) { c.Recording.Frequencies = nil }},
		{"rate too large", func(c *Config) { c.Playback.Frequencies = append(c.Playback.Frequencies, 1<<24) }},
		{"inverted volume", func(c *Config) { c.Playback.VolumeMin, c.Playback.VolumeMax = 10, -10 }},
		{"sync mode", func(c *Config) { c.Recording.SyncMode = "drop" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), pkg.ErrInvalidParameter)
		})
	}
}

func TestNewLayout(t *testing.T) {
	cfg := DefaultConfig()
	l := newLayout(&cfg, 0)
	assert.Equal(t, Layout{
		Control: 0, Playback: 1, Recording: 2,
		PlaybackOut: EndpointPlaybackOut,
		FeedbackIn:  EndpointFeedbackIn,
		RecordingIn: EndpointRecordingIn,
		InterruptIn: EndpointInterruptIn,
	}, l)

	cfg.Playback.Enabled = false
	cfg.Interrupt = false
	l = newLayout(&cfg, 2)
	assert.Equal(t, uint8(2), l.Control)
	assert.Equal(t, uint8(3), l.Recording)
	assert.Equal(t, uint8(0x81), l.RecordingIn)
	assert.Zero(t, l.InterruptIn)
}

func find(descs [][]byte, match func([]byte) bool) []byte {
	for _, d := range descs {
		if match(d) {
			return d
		}
	}
	return nil
}

// alternate returns the descriptors that follow the interface descriptor of
// iface/alt, up to the next interface descriptor.
func alternate(descs [][]byte, iface, alt uint8) [][]byte {
	for i, d := range descs {
		if d[1] != device.DescriptorTypeInterface || d[2] != iface || d[3] != alt {
			continue
		}
		end := i + 1
		for end < len(descs) && descs[end][1] != device.DescriptorTypeInterface {
			end++
		}
		return descs[i+1 : end]
	}
	return nil
}

func TestConfigurationDescriptor(t *testing.T) {
	fn, err := New(DefaultConfig())
	require.NoError(t, err)
	builder := device.NewBuilder(0x1209, 0xA0D1).AddConfiguration(1)
	fn.ConfigureDevice(builder)
	dev, err := builder.Build()
	require.NoError(t, err)

	config := dev.Configuration(1)
	require.NotNil(t, config)
	assert.Equal(t, 3, config.NumInterfaces())
	assert.True(t, config.SelfPowered())

	buf := config.AppendDescriptor(nil)
	assert.Equal(t, len(buf), int(binary.LittleEndian.Uint16(buf[2:4])))
	descs, err := device.SplitDescriptors(buf)
	require.NoError(t, err)

	header := find(descs, func(d []byte) bool {
		return d[1] == DescriptorTypeCSInterface && d[2] == SubtypeHeader
	})
	require.NotNil(t, header)
	assert.Equal(t, uint16(ADCVersion), binary.LittleEndian.Uint16(header[3:5]))
	assert.Equal(t, []byte{2, 1, 2}, header[7:])
	total := int(binary.LittleEndian.Uint16(header[5:7]))
	assert.Equal(t, HeaderSizeBase+2+2*(InputTerminalSize+FeatureUnitSize+OutputTerminalSize), total)

	fu := find(descs, func(d []byte) bool {
		return d[1] == DescriptorTypeCSInterface && d[2] == SubtypeFeatureUnit && d[3] == PlaybackFeatureUnitID
	})
	require.NotNil(t, fu)
	assert.Len(t, fu, FeatureUnitSize)
	assert.Equal(t, uint8(PlaybackInputTerminalID), fu[4])
	assert.Equal(t, uint8(0x03), fu[6])

	// The AudioControl INPUT_TERMINAL shares subtype 2 with FORMAT_TYPE, so
	// look only inside the playback streaming alternate.
	streaming := alternate(descs, 1, 1)
	require.NotEmpty(t, streaming)
	format := find(streaming, func(d []byte) bool {
		return d[1] == DescriptorTypeCSInterface && d[2] == SubtypeFormatType
	})
	require.NotNil(t, format)
	assert.Equal(t, []byte{
		0x11, 0x24, 0x02, 0x01, 0x02, 0x02, 0x10, 0x03,
		0x80, 0xbb, 0x00, 0x44, 0xac, 0x00, 0x80, 0x3e, 0x00,
	}, format)
	assert.Len(t, format, FormatTypeISizeBase+3*FrequencyDataSize)
	assert.Equal(t, []byte{FormatTypeI, 2, 2, 16, 3}, format[3:8])
	assert.Equal(t, uint32(48000), decodeFrequency(format[8:]))
	assert.Equal(t, uint32(16000), decodeFrequency(format[14:]))

	out := find(descs, func(d []byte) bool {
		return d[1] == device.DescriptorTypeEndpoint && d[2] == EndpointPlaybackOut
	})
	require.NotNil(t, out)
	assert.Len(t, out, device.AudioEndpointDescriptorSize)
	assert.Equal(t, uint8(device.EndpointTypeIsochronous|device.IsoSyncAsync), out[3])
	assert.Equal(t, uint16(audio.SyncPacketLength(48000, 4, audio.SpeedFull)), binary.LittleEndian.Uint16(out[4:6]))
	assert.Equal(t, uint8(EndpointFeedbackIn), out[8])

	fb := find(descs, func(d []byte) bool {
		return d[1] == device.DescriptorTypeEndpoint && d[2] == EndpointFeedbackIn
	})
	require.NotNil(t, fb)
	assert.Equal(t, uint16(audio.FeedbackSize), binary.LittleEndian.Uint16(fb[4:6]))
	assert.Equal(t, uint8(FeedbackRefresh), fb[7])

	irq := find(descs, func(d []byte) bool {
		return d[1] == device.DescriptorTypeEndpoint && d[2] == EndpointInterruptIn
	})
	require.NotNil(t, irq)
	assert.Equal(t, uint8(device.EndpointTypeInterrupt), irq[3])

	csEP := find(descs, func(d []byte) bool { return d[1] == DescriptorTypeCSEndpoint })
	require.NotNil(t, csEP)
	assert.Equal(t, []byte{CSEndpointSize, DescriptorTypeCSEndpoint, SubtypeEPGeneral, EndpointAttrSamplingFreq, 0, 0, 0}, csEP)
}

func TestFeatureUnitRequests(t *testing.T) {
	x := startFunction(t, DefaultConfig())

	var b [2]byte
	n, err := x.unitRequest(t, RequestGetCur, PlaybackFeatureUnitID, FeatureMute, b[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, b[0])

	_, err = x.unitRequest(t, RequestSetCur, PlaybackFeatureUnitID, FeatureMute, []byte{1})
	require.NoError(t, err)
	_, err = x.unitRequest(t, RequestGetCur, PlaybackFeatureUnitID, FeatureMute, b[:1])
	require.NoError(t, err)
	assert.Equal(t, byte(1), b[0])
	assert.True(t, x.fn.Playback().Description().Mute())
	assert.IsType(t, unitTarget{}, x.fn.last)

	limits := x.fn.Recording().Microphone().VolumeLimits()
	n, err = x.unitRequest(t, RequestGetMin, RecordingFeatureUnitID, FeatureVolume, b[:])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, limits.Min, int16(binary.LittleEndian.Uint16(b[:])))
	_, err = x.unitRequest(t, RequestGetMax, RecordingFeatureUnitID, FeatureVolume, b[:])
	require.NoError(t, err)
	assert.Equal(t, limits.Max, int16(binary.LittleEndian.Uint16(b[:])))
	_, err = x.unitRequest(t, RequestGetRes, RecordingFeatureUnitID, FeatureVolume, b[:])
	require.NoError(t, err)
	assert.Equal(t, limits.Res, int16(binary.LittleEndian.Uint16(b[:])))

	binary.LittleEndian.PutUint16(b[:], uint16(0xFD00)) // -3 dB
	_, err = x.unitRequest(t, RequestSetCur, RecordingFeatureUnitID, FeatureVolume, b[:])
	require.NoError(t, err)
	clear(b[:])
	_, err = x.unitRequest(t, RequestGetCur, RecordingFeatureUnitID, FeatureVolume, b[:])
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFD00), binary.LittleEndian.Uint16(b[:]))
	assert.Equal(t, int16(-768), x.fn.Recording().Description().Volume())
}

func TestUnsupportedRequestsStall(t *testing.T) {
	x := startFunction(t, DefaultConfig())
	var b [4]byte

	tests := []struct {
		name     string
		request  uint8
		unit     uint8
		selector uint8
		data     []byte
	}{
		{"unknown unit", RequestGetCur, 0x40, FeatureMute, b[:1]},
		{"terminal is not a feature unit", RequestGetCur, PlaybackInputTerminalID, FeatureMute, b[:1]},
		{"unsupported selector", RequestGetCur, PlaybackFeatureUnitID, 0x03, b[:1]},
		{"mute has no range", RequestGetMin, PlaybackFeatureUnitID, FeatureMute, b[:1]},
		{"set range", RequestSetMin, PlaybackFeatureUnitID, FeatureVolume, b[:2]},
		{"short volume", RequestSetCur, PlaybackFeatureUnitID, FeatureVolume, b[:1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := x.unitRequest(t, tt.request, tt.unit, tt.selector, tt.data)
			assert.ErrorIs(t, err, pkg.ErrStall)
		})
	}

	// The control pipe keeps working after a stall.
	_, err := x.unitRequest(t, RequestGetCur, PlaybackFeatureUnitID, FeatureMute, b[:1])
	assert.NoError(t, err)
}

func TestSamplingFrequencyRequests(t *testing.T) {
	x := startFunction(t, DefaultConfig())
	var b [3]byte

	for _, tt := range []struct {
		request uint8
		want    uint32
	}{
		{RequestGetCur, 48000},
		{RequestGetMin, 16000},
		{RequestGetMax, 48000},
	} {
		n, err := x.endpointRequest(t, tt.request, EndpointPlaybackOut, b[:])
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, tt.want, decodeFrequency(b[:]))
	}

	_, err := x.endpointRequest(t, RequestSetCur, EndpointPlaybackOut, appendFrequency(nil, 44100))
	require.NoError(t, err)
	_, err = x.endpointRequest(t, RequestGetCur, EndpointPlaybackOut, b[:])
	require.NoError(t, err)
	assert.Equal(t, uint32(44100), decodeFrequency(b[:]))
	assert.Equal(t, uint32(44100), x.fn.Playback().Frequency())
	assert.IsType(t, endpointTarget{}, x.fn.last)

	// The feedback endpoint has no sampling frequency control.
	_, err = x.endpointRequest(t, RequestGetCur, EndpointFeedbackIn, b[:])
	assert.ErrorIs(t, err, pkg.ErrStall)
	_, err = x.endpointRequest(t, RequestGetRes, EndpointRecordingIn, b[:])
	assert.ErrorIs(t, err, pkg.ErrStall)
}

func TestPlaybackStreaming(t *testing.T) {
	x := startFunction(t, DefaultConfig())
	p := x.fn.Playback()

	require.NoError(t, x.host.SetInterface(x.ctx, 1, 1))
	assert.Equal(t, audio.StateStarted, p.State())

	packet := make([]byte, p.Input().PacketLength())
	for range 4 {
		n, err := x.host.Out(x.ctx, EndpointPlaybackOut, packet)
		require.NoError(t, err)
		assert.Equal(t, len(packet), n)
	}
	require.Eventually(t, func() bool {
		return p.Input().Packets() == 4
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(4*len(packet)), p.Input().Bytes())

	x.host.Frame(1)
	var fb [audio.FeedbackSize]byte
	n, err := x.host.In(x.ctx, EndpointFeedbackIn, fb[:])
	require.NoError(t, err)
	assert.Equal(t, audio.FeedbackSize, n)
	assert.Equal(t, uint32(48000), audio.DecodeFeedback(fb[:]))

	require.NoError(t, x.host.SetInterface(x.ctx, 1, 0))
	assert.Equal(t, audio.StateStopped, p.State())
	assert.Equal(t, uint8(0), p.Alternate())
}

func TestRecordingStreaming(t *testing.T) {
	x := startFunction(t, DefaultConfig())
	r := x.fn.Recording()

	require.NoError(t, x.host.SetInterface(x.ctx, 2, 1))
	assert.Equal(t, audio.StateStarted, r.State())

	buf := make([]byte, 1024)
	for frame := range uint16(3) {
		x.host.Frame(frame)
		n, err := x.host.In(x.ctx, EndpointRecordingIn, buf)
		require.NoError(t, err)
		assert.Equal(t, 48*4, n)
	}

	// A new rate reopens the running stream at the same alternate.
	_, err := x.endpointRequest(t, RequestSetCur, EndpointRecordingIn, appendFrequency(nil, 44100))
	require.NoError(t, err)
	assert.Equal(t, uint8(1), r.Alternate())
	assert.Equal(t, audio.StateStarted, r.State())

	x.host.Frame(3)
	n, err := x.host.In(x.ctx, EndpointRecordingIn, buf)
	require.NoError(t, err)
	assert.Equal(t, 44*4, n)
}

func TestSuspendPausesStreams(t *testing.T) {
	x := startFunction(t, DefaultConfig())
	p, r := x.fn.Playback(), x.fn.Recording()

	require.NoError(t, x.host.SetInterface(x.ctx, 2, 1))
	assert.Equal(t, audio.StateStarted, r.State())

	require.NoError(t, x.host.Suspend(x.ctx))
	assert.Equal(t, device.StateSuspended, x.stack.Device().State())
	assert.Equal(t, uint8(0), r.Alternate())
	assert.Equal(t, audio.StateStopped, r.State())
	assert.Equal(t, uint8(1), x.stack.Device().Interface(2).Current())

	require.NoError(t, x.host.Resume(x.ctx))
	assert.Equal(t, device.StateConfigured, x.stack.Device().State())
	assert.Equal(t, uint8(1), r.Alternate())
	assert.Equal(t, audio.StateStarted, r.State())
	// Playback was closed before the suspend and stays closed.
	assert.Equal(t, uint8(0), p.Alternate())

	x.host.Frame(0)
	buf := make([]byte, 512)
	n, err := x.host.In(x.ctx, EndpointRecordingIn, buf)
	require.NoError(t, err)
	assert.Equal(t, 48*4, n)
}

func TestExternalControlInterrupt(t *testing.T) {
	x := startFunction(t, DefaultConfig())

	require.NoError(t, x.fn.ExternalControl(audio.DirectionPlayback, audio.ControlMuteToggle))

	var status [StatusSize]byte
	n, err := x.host.In(x.ctx, EndpointInterruptIn, status[:])
	require.NoError(t, err)
	assert.Equal(t, StatusSize, n)
	assert.Equal(t, [StatusSize]byte{StatusInterruptPending, PlaybackFeatureUnitID}, status)

	var b [1]byte
	_, err = x.unitRequest(t, RequestGetCur, status[1], FeatureMute, b[:])
	require.NoError(t, err)
	assert.Equal(t, byte(1), b[0])
}

func TestStats(t *testing.T) {
	x := startFunction(t, DefaultConfig())
	stats := x.fn.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "playback", stats[0].Direction)
	assert.Equal(t, uint8(1), stats[0].Interface)
	assert.Equal(t, "recording", stats[1].Direction)
	assert.Equal(t, uint32(48000), stats[1].Frequency)
}

func TestRecordingOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Playback.Enabled = false
	x := startFunction(t, cfg)

	assert.Nil(t, x.fn.Playback())
	require.NoError(t, x.host.SetInterface(x.ctx, 1, 1))
	x.host.Frame(0)
	buf := make([]byte, 512)
	n, err := x.host.In(x.ctx, 0x81, buf)
	require.NoError(t, err)
	assert.Equal(t, 48*4, n)

	err = x.fn.ExternalControl(audio.DirectionPlayback, audio.ControlMuteToggle)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}
