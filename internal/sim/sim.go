package sim

import (
	"context"
	"fmt"
	"math"

	"github.com/sugawarayuuta/sonnet"

	"github.com/ardnew/softaudio/audio"
	"github.com/ardnew/softaudio/audio/codec"
	"github.com/ardnew/softaudio/device"
	"github.com/ardnew/softaudio/device/class/uac"
	"github.com/ardnew/softaudio/device/hal"
	"github.com/ardnew/softaudio/device/hal/loopback"
	"github.com/ardnew/softaudio/pkg"
)

// USB identity of the simulated device.
const (
	VendorID  = 0x1209
	ProductID = 0xA0D1

	deviceAddress = 5
)

// Options configures a simulation run.
type Options struct {
	// Function is the audio function under test.
	Function uac.Config

	// Frames is the number of USB frames (or microframes at high speed)
	// to run.
	Frames int

	// Frequency, when non-zero, is selected on every streaming endpoint
	// with SET_CUR before the interfaces are opened.
	Frequency uint32

	// SpeakerPPM and MicrophonePPM skew the codec clocks against the
	// frame clock.
	SpeakerPPM    float64
	MicrophonePPM float64

	// Playback is what the host plays. Defaults to a 1 kHz tone.
	Playback codec.Source
	// Speaker receives what the device plays. Defaults to a DiscardSink.
	Speaker codec.Sink
	// Microphone is what the device captures. Defaults to a 440 Hz tone.
	Microphone codec.Source
	// Capture receives what the host records. Defaults to a DiscardSink.
	Capture codec.Sink
}

func (o *Options) defaults() {
	if o.Frames <= 0 {
		o.Frames = 1000
	}
	pc, rc := o.Function.Playback, o.Function.Recording
	if o.Playback == nil {
		o.Playback = codec.NewToneSource(int(pc.Frequency), pc.Channels, 1000, 0.5)
	}
	if o.Speaker == nil {
		o.Speaker = &codec.DiscardSink{}
	}
	if o.Microphone == nil {
		o.Microphone = codec.NewToneSource(int(rc.Frequency), rc.Channels, 440, 0.5)
	}
	if o.Capture == nil {
		o.Capture = &codec.DiscardSink{}
	}
}

// Report summarizes a simulation run.
type Report struct {
	Frames int `json:"frames"`

	OutPackets uint64 `json:"out_packets"`
	OutBytes   uint64 `json:"out_bytes"`
	InPackets  uint64 `json:"in_packets"`
	InBytes    uint64 `json:"in_bytes"`

	FeedbackMean float64 `json:"feedback_mean"`
	FeedbackMin  uint32  `json:"feedback_min"`
	FeedbackMax  uint32  `json:"feedback_max"`

	Played    uint64 `json:"played"`
	Captured  uint64 `json:"captured"`
	Overruns  uint64 `json:"overruns"`
	Underruns uint64 `json:"underruns"`

	SyncAdjustments uint64 `json:"sync_adjustments"`

	Sessions []audio.Stats `json:"sessions"`

	feedbackSum   float64
	feedbackCount int
}

func (r *Report) addFeedback(rate uint32) {
	if r.feedbackCount == 0 || rate < r.FeedbackMin {
		r.FeedbackMin = rate
	}
	if rate > r.FeedbackMax {
		r.FeedbackMax = rate
	}
	r.feedbackSum += float64(rate)
	r.feedbackCount++
	r.FeedbackMean = r.feedbackSum / float64(r.feedbackCount)
}

// JSON encodes the report.
func (r *Report) JSON() ([]byte, error) {
	return sonnet.Marshal(r)
}

// Simulator is a device with a host attached through the loopback HAL.
type Simulator struct {
	opts Options

	fn      *uac.Function
	speaker *codec.Speaker
	mic     *codec.Microphone
	hal     *loopback.HAL
	host    *loopback.Host
	stack   *device.Stack
	layout  uac.Layout
	enum    *loopback.Enumeration

	speakerClock codec.Clock
	micClock     codec.Clock
}

// New builds the device and the host side. Nothing runs until Run.
func New(opts Options) (*Simulator, error) {
	opts.defaults()
	if err := opts.Function.Validate(); err != nil {
		return nil, err
	}

	s := &Simulator{
		opts:         opts,
		speaker:      codec.NewSpeaker(opts.Speaker),
		mic:          codec.NewMicrophone(opts.Microphone),
		speakerClock: codec.Clock{PPM: opts.SpeakerPPM},
		micClock:     codec.Clock{PPM: opts.MicrophonePPM},
	}

	fn, err := uac.New(opts.Function, uac.WithSpeaker(s.speaker), uac.WithMicrophone(s.mic))
	if err != nil {
		return nil, err
	}
	s.fn = fn
	return s, nil
}

// Function returns the audio function under simulation.
func (s *Simulator) Function() *uac.Function { return s.fn }

// Run enumerates the device, opens every enabled stream and exchanges
// packets for the configured number of frames.
func (s *Simulator) Run(ctx context.Context) (*Report, error) {
	builder := device.NewBuilder(VendorID, ProductID).
		Strings("softaudio", "Simulated USB Audio", "SIM0001").
		AddConfiguration(1)
	dev, err := s.fn.ConfigureDevice(builder).Build()
	if err != nil {
		return nil, fmt.Errorf("build device: %w", err)
	}
	if err := s.fn.AttachToInterfaces(dev); err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}
	defer func() {
		_ = s.fn.Close()
		s.fn.Wait()
	}()
	s.layout = s.fn.Layout()

	speed := hal.SpeedFull
	if s.opts.Function.AudioSpeed() == audio.SpeedHigh {
		speed = hal.SpeedHigh
	}
	s.hal = loopback.New(speed)
	s.host = s.hal.Host()
	s.stack = device.NewStack(dev, s.hal)
	s.fn.SetStack(s.stack)
	if err := s.stack.Start(ctx); err != nil {
		return nil, fmt.Errorf("start stack: %w", err)
	}
	defer func() { _ = s.stack.Stop() }()

	enum, err := s.host.Enumerate(ctx, deviceAddress)
	if err != nil {
		return nil, fmt.Errorf("enumerate: %w", err)
	}
	s.enum = enum
	pkg.LogInfo(pkg.ComponentSim, "device enumerated",
		"address", deviceAddress,
		"interfaces", enum.Configuration.NumInterfaces)

	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s.exchange(ctx)
}

// open selects the simulated sampling rate and alternate 1 on each
// streaming interface.
func (s *Simulator) open(ctx context.Context) error {
	streams := []struct {
		enabled bool
		iface   uint8
		ep      uint8
	}{
		{s.opts.Function.Playback.Enabled, s.layout.Playback, s.layout.PlaybackOut},
		{s.opts.Function.Recording.Enabled, s.layout.Recording, s.layout.RecordingIn},
	}
	for _, st := range streams {
		if !st.enabled {
			continue
		}
		if _, ok := s.enum.Endpoint(st.ep); !ok {
			return fmt.Errorf("endpoint 0x%02X not described: %w", st.ep, pkg.ErrInvalidEndpoint)
		}
		if s.opts.Frequency != 0 {
			if err := s.setFrequency(ctx, st.ep, s.opts.Frequency); err != nil {
				return fmt.Errorf("endpoint 0x%02X: %w", st.ep, err)
			}
		}
		if err := s.host.SetInterface(ctx, st.iface, 1); err != nil {
			return fmt.Errorf("interface %d: %w", st.iface, err)
		}
	}
	return nil
}

func (s *Simulator) setFrequency(ctx context.Context, ep uint8, freq uint32) error {
	data := []byte{byte(freq), byte(freq >> 8), byte(freq >> 16)}
	setup := device.ClassRequest(device.DirectionOut, device.RecipientEndpoint,
		uac.RequestSetCur, uint16(uac.EndpointSamplingFreq)<<8, uint16(ep), uint16(len(data)))
	_, err := s.host.Control(ctx, setup, data)
	return err
}

// exchange runs the frame loop.
func (s *Simulator) exchange(ctx context.Context) (*Report, error) {
	report := &Report{}
	playback := s.fn.Playback()
	recording := s.fn.Recording()
	sofPerSecond := s.opts.Function.AudioSpeed().SOFPerSecond()
	sofPerMS := sofPerSecond / 1000

	var (
		enc      *codec.Encoder
		outDesc  *audio.Description
		out      []byte
		fraction float64
		nominal  uint32
	)
	if playback != nil {
		outDesc = playback.Description()
		enc = codec.NewEncoder(s.opts.Playback, outDesc)
		out = make([]byte, playback.Input().MaxPacketLength())
		nominal = outDesc.Frequency()
	}
	var (
		in     []byte
		inDesc *audio.Description
	)
	if recording != nil {
		inDesc = recording.Description()
		ep, _ := s.enum.Endpoint(s.layout.RecordingIn)
		in = make([]byte, ep.MaxPacketSize)
	}
	var fb [audio.FeedbackSize]byte

	for frame := range s.opts.Frames {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.host.Frame(uint16(frame))

		if playback != nil {
			rate := nominal
			if s.layout.FeedbackIn != 0 {
				if _, err := s.host.In(ctx, s.layout.FeedbackIn, fb[:]); err != nil {
					return report, fmt.Errorf("feedback: %w", err)
				}
				rate = audio.DecodeFeedback(fb[:])
				report.addFeedback(rate)
			}
			fraction += float64(rate) / float64(sofPerSecond)
			frames := int(math.Floor(fraction))
			fraction -= float64(frames)
			size := min(frames*outDesc.SampleLength(), len(out))
			n := enc.Encode(out[:size])
			if _, err := s.host.Out(ctx, s.layout.PlaybackOut, out[:n]); err != nil {
				return report, fmt.Errorf("playback: %w", err)
			}
			report.OutPackets++
			report.OutBytes += uint64(n)
		}

		if recording != nil {
			n, err := s.host.In(ctx, s.layout.RecordingIn, in)
			if err != nil {
				return report, fmt.Errorf("recording: %w", err)
			}
			report.InPackets++
			report.InBytes += uint64(n)
			if err := s.opts.Capture.Consume(in[:n], inDesc); err != nil {
				return report, fmt.Errorf("capture: %w", err)
			}
		}

		if (frame+1)%sofPerMS == 0 {
			if playback != nil {
				s.speakerClock.Advance(s.speaker)
			}
			if recording != nil {
				s.micClock.Advance(s.mic)
			}
		}
		report.Frames++
	}

	s.finish(report)
	pkg.LogInfo(pkg.ComponentSim, "simulation complete",
		"frames", report.Frames,
		"overruns", report.Overruns,
		"underruns", report.Underruns,
		"feedback", report.FeedbackMean)
	return report, nil
}

func (s *Simulator) finish(report *Report) {
	report.Sessions = s.fn.Stats()
	for _, st := range report.Sessions {
		report.Overruns += st.Overruns
		report.Underruns += st.Underruns
	}
	report.Played = s.speaker.Played()
	report.Captured = s.mic.Captured()
	if r := s.fn.Recording(); r != nil {
		report.SyncAdjustments = r.Synchronizer().Snapshot().Adjustments
	}
}

// Run builds a simulator from opts and runs it once.
func Run(ctx context.Context, opts Options) (*Report, error) {
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx)
}
