package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ardnew/softaudio/audio"
	"github.com/ardnew/softaudio/audio/codec"
	"github.com/ardnew/softaudio/device"
	"github.com/ardnew/softaudio/device/class/uac"
	"github.com/ardnew/softaudio/device/hal"
	"github.com/ardnew/softaudio/device/hal/fifo"
	"github.com/ardnew/softaudio/pkg"
)

const component = pkg.ComponentDevice

// Serve runs the audio function on the FIFO HAL until interrupted. The
// codec nodes tick on the wall clock.
type Serve struct {
	Audio uac.Config  `embed:""`
	Media MediaConfig `embed:"" prefix:"media."`

	Bus           string        `arg:"" help:"Bus directory shared with the host." type:"path"`
	VendorID      uint16        `name:"vid" help:"USB vendor ID." default:"0x1209"`
	ProductID     uint16        `name:"pid" help:"USB product ID." default:"0xA0D1"`
	SpeakerPPM    float64       `name:"speaker-ppm" help:"Speaker clock offset from nominal in ppm."`
	MicrophonePPM float64       `name:"microphone-ppm" help:"Microphone clock offset from nominal in ppm."`
	StatsInterval time.Duration `help:"Log session statistics at this interval (0 disables)." default:"10s"`
}

// Run is called by kong when the serve command is executed.
func (s *Serve) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the device until ctx is done.
func (s *Serve) Serve(ctx context.Context) error {
	if err := s.Audio.Validate(); err != nil {
		return err
	}
	m, err := s.Media.open(&s.Audio)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.close(); err != nil {
			pkg.LogWarn(component, "closing media failed", "error", err)
		}
	}()

	speaker := codec.NewSpeaker(m.speaker)
	mic := codec.NewMicrophone(m.microphone)
	fn, err := uac.New(s.Audio, uac.WithSpeaker(speaker), uac.WithMicrophone(mic))
	if err != nil {
		return err
	}

	builder := device.NewBuilder(s.VendorID, s.ProductID).
		Strings("softaudio", "USB Audio", "0001").
		AddConfiguration(1)
	dev, err := fn.ConfigureDevice(builder).Build()
	if err != nil {
		return fmt.Errorf("build device: %w", err)
	}
	if err := fn.AttachToInterfaces(dev); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer func() {
		_ = fn.Close()
		fn.Wait()
	}()

	h := fifo.New(s.Bus)
	if s.Audio.AudioSpeed() == audio.SpeedHigh {
		h.SetSpeed(hal.SpeedHigh)
	}
	stack := device.NewStack(dev, h)
	fn.SetStack(stack)
	if err := stack.Start(ctx); err != nil {
		return fmt.Errorf("start stack: %w", err)
	}
	defer func() { _ = stack.Stop() }()

	pkg.LogInfo(component, "audio device started",
		"bus", s.Bus,
		"device_dir", h.DeviceDir(),
		"layout", fmt.Sprintf("%+v", fn.Layout()))

	var wg sync.WaitGroup
	for _, c := range activeClocks(s.SpeakerPPM, s.MicrophonePPM) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.clock.Run(ctx, c.ticker); err != nil && !errors.Is(err, context.Canceled) {
				pkg.LogError(pkg.ComponentCodec, "codec clock stopped",
					"node", c.node.String(), "error", err)
			}
		}()
	}

	if s.StatsInterval > 0 {
		tk := time.NewTicker(s.StatsInterval)
		defer tk.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-tk.C:
				logStats(fn.Stats())
			}
		}
	} else {
		<-ctx.Done()
	}

	wg.Wait()
	pkg.LogInfo(component, "audio device stopped")
	return nil
}

type nodeClock struct {
	node   audio.NodeKind
	clock  *codec.Clock
	ticker codec.Ticker
}

// activeClocks pairs each registered codec node that is driven by ticks
// with its own clock.
func activeClocks(speakerPPM, microphonePPM float64) []nodeClock {
	var clocks []nodeClock
	if t, ok := audio.ActiveSpeaker().(codec.Ticker); ok {
		clocks = append(clocks, nodeClock{audio.NodeSpeaker, &codec.Clock{PPM: speakerPPM}, t})
	}
	if t, ok := audio.ActiveMicrophone().(codec.Ticker); ok {
		clocks = append(clocks, nodeClock{audio.NodeMicrophone, &codec.Clock{PPM: microphonePPM}, t})
	}
	return clocks
}

func logStats(stats []audio.Stats) {
	for _, st := range stats {
		pkg.LogInfo(pkg.ComponentSession, "session statistics",
			"direction", st.Direction,
			"state", st.State,
			"frequency", st.Frequency,
			"filled", st.Filled,
			"overruns", st.Overruns,
			"underruns", st.Underruns,
			"feedback", st.Feedback)
	}
}
