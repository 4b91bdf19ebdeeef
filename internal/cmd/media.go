package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/ardnew/softaudio/audio/codec"
	"github.com/ardnew/softaudio/device/class/uac"
)

// MediaConfig selects what each end of the two streams plays or records.
// Empty source paths synthesize a tone; empty sink paths discard.
type MediaConfig struct {
	Microphone string  `help:"Audio file (wav, mp3, ogg) the microphone captures." type:"path"`
	Tone       float64 `help:"Tone frequency in Hz when no microphone file is given." default:"440"`
	Speaker    string  `help:"WAV file receiving what the speaker plays." type:"path"`
	Loop       bool    `help:"Loop source files." default:"true" negatable:""`
}

// media owns the sources and sinks opened for a run.
type media struct {
	microphone codec.Source
	speaker    codec.Sink
	closers    []func() error
}

func (m *media) close() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// openSource decodes path, or returns a tone in the given stream format.
func openSource(path string, loop bool, tone float64, c *uac.StreamConfig) (codec.Source, error) {
	if path == "" {
		return codec.NewToneSource(int(c.Frequency), c.Channels, tone, 0.5), nil
	}
	clip, err := codec.OpenFile(path, loop)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return clip, nil
}

// createSink creates a WAV file at path and registers its finalizer with
// m, or returns a DiscardSink.
func (m *media) createSink(path string) (codec.Sink, error) {
	if path == "" {
		return &codec.DiscardSink{}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	sink := codec.NewWAVSink(f)
	m.closers = append(m.closers, func() error {
		return errors.Join(sink.Close(), f.Close())
	})
	return sink, nil
}

func (c *MediaConfig) open(cfg *uac.Config) (*media, error) {
	m := &media{}
	src, err := openSource(c.Microphone, c.Loop, c.Tone, &cfg.Recording.StreamConfig)
	if err != nil {
		return nil, err
	}
	m.microphone = src
	if m.speaker, err = m.createSink(c.Speaker); err != nil {
		return nil, err
	}
	return m, nil
}
