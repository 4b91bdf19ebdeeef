package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardnew/softaudio/device/class/uac"
	"github.com/ardnew/softaudio/internal/sim"
	"github.com/ardnew/softaudio/pkg"
)

// Sim runs the device against the in-process host for a fixed number of
// frames and prints the report.
type Sim struct {
	Audio uac.Config  `embed:""`
	Media MediaConfig `embed:"" prefix:"media."`

	Play          string        `help:"Audio file (wav, mp3, ogg) the host plays." type:"path"`
	Capture       string        `help:"WAV file receiving what the host records." type:"path"`
	Frames        int           `help:"Number of USB frames to simulate." default:"5000"`
	Frequency     uint32        `help:"Sampling rate the host selects (0 keeps the initial rate)."`
	SpeakerPPM    float64       `name:"speaker-ppm" help:"Speaker clock offset from the frame clock in ppm."`
	MicrophonePPM float64       `name:"microphone-ppm" help:"Microphone clock offset from the frame clock in ppm."`
	Report        string        `help:"Write the JSON report to this file instead of stdout." type:"path"`
	Timeout       time.Duration `help:"Abort the simulation after this long." default:"1m"`
}

// Run is called by kong when the sim command is executed.
func (s *Sim) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Simulate(ctx, os.Stdout)
}

// Simulate runs the simulation and writes the report to Report, or to out
// when Report is empty.
func (s *Sim) Simulate(ctx context.Context, out io.Writer) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	m, err := s.Media.open(&s.Audio)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.close(); err != nil {
			pkg.LogWarn(pkg.ComponentSim, "closing media failed", "error", err)
		}
	}()
	play, err := openSource(s.Play, s.Media.Loop, 1000, &s.Audio.Playback.StreamConfig)
	if err != nil {
		return err
	}
	capture, err := m.createSink(s.Capture)
	if err != nil {
		return err
	}

	report, err := sim.Run(ctx, sim.Options{
		Function:      s.Audio,
		Frames:        s.Frames,
		Frequency:     s.Frequency,
		SpeakerPPM:    s.SpeakerPPM,
		MicrophonePPM: s.MicrophonePPM,
		Playback:      play,
		Speaker:       m.speaker,
		Microphone:    m.microphone,
		Capture:       capture,
	})
	if err != nil {
		return err
	}

	data, err := report.JSON()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	if s.Report == "" {
		_, err = out.Write(data)
		return err
	}
	return os.WriteFile(s.Report, data, 0o644)
}
