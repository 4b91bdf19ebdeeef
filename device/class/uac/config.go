package uac

import (
	"fmt"
	"slices"

	"github.com/ardnew/softaudio/audio"
	"github.com/ardnew/softaudio/pkg"
)

// Config describes the audio function. The struct tags make it usable as
// an embedded kong command block; [DefaultConfig] returns the same values
// for library callers.
type Config struct {
	Speed     string          `help:"Bus speed the descriptors are built for (full or high)." default:"full" enum:"full,high" env:"UACD_SPEED"`
	Interrupt bool            `help:"Expose the audio control interrupt endpoint for status messages." default:"true" negatable:"" env:"UACD_INTERRUPT"`
	Playback  PlaybackConfig  `embed:"" prefix:"playback."`
	Recording RecordingConfig `embed:"" prefix:"recording."`
}

// StreamConfig holds the settings shared by both stream directions.
type StreamConfig struct {
	Enabled     bool     `help:"Include this stream in the function." default:"true" negatable:""`
	Frequencies []uint32 `help:"Supported sampling rates in Hz." default:"48000,44100,16000"`
	Frequency   uint32   `help:"Initial sampling rate in Hz." default:"48000"`
	Channels    int      `help:"Channel count (1 or 2)." default:"2"`
	Resolution  int      `help:"Bytes per sample (2 or 3)." default:"2"`
	BufferSize  int      `help:"Ring buffer capacity in bytes."`
	VolumeMin   int16    `help:"Lowest volume in 1/256 dB."`
	VolumeMax   int16    `help:"Highest volume in 1/256 dB."`
	VolumeRes   int16    `help:"Volume step in 1/256 dB."`
}

// PlaybackConfig configures the host-to-speaker stream.
type PlaybackConfig struct {
	StreamConfig `embed:""`
	Feedback     bool `help:"Use an explicit feedback endpoint (asynchronous)." default:"true" negatable:""`
}

// RecordingConfig configures the microphone-to-host stream.
type RecordingConfig struct {
	StreamConfig `embed:""`
	SyncMode     string `help:"Implicit synchronization mode (no-remove or remove)." default:"no-remove" enum:"no-remove,remove"`
}

// Default ring buffer capacities.
const (
	DefaultPlaybackBufferSize  = 1024 * 10
	DefaultRecordingBufferSize = 1024 * 2
)

// DefaultConfig returns a full-speed stereo 16-bit function with both
// streams, feedback and the interrupt endpoint enabled.
func DefaultConfig() Config {
	stream := StreamConfig{
		Enabled:     true,
		Frequencies: []uint32{48000, 44100, 16000},
		Frequency:   48000,
		Channels:    2,
		Resolution:  2,
	}
	cfg := Config{
		Speed:     "full",
		Interrupt: true,
		Playback:  PlaybackConfig{StreamConfig: stream, Feedback: true},
		Recording: RecordingConfig{StreamConfig: stream, SyncMode: "no-remove"},
	}
	cfg.Recording.Frequencies = slices.Clone(stream.Frequencies)
	return cfg
}

// AudioSpeed returns the configured bus speed.
func (c *Config) AudioSpeed() audio.Speed {
	if c.Speed == "high" {
		return audio.SpeedHigh
	}
	return audio.SpeedFull
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Speed {
	case "", "full", "high":
	default:
		return fmt.Errorf("speed %q: %w", c.Speed, pkg.ErrInvalidParameter)
	}
	if !c.Playback.Enabled && !c.Recording.Enabled {
		return fmt.Errorf("no stream enabled: %w", pkg.ErrInvalidParameter)
	}
	if c.Playback.Enabled {
		if err := c.Playback.validate(); err != nil {
			return fmt.Errorf("playback: %w", err)
		}
	}
	if c.Recording.Enabled {
		if err := c.Recording.validate(); err != nil {
			return fmt.Errorf("recording: %w", err)
		}
		switch c.Recording.SyncMode {
		case "", "no-remove", "remove":
		default:
			return fmt.Errorf("recording sync mode %q: %w", c.Recording.SyncMode, pkg.ErrInvalidParameter)
		}
	}
	return nil
}

func (s *StreamConfig) validate() error {
	if s.Channels != 1 && s.Channels != 2 {
		return fmt.Errorf("channels %d: %w", s.Channels, pkg.ErrInvalidParameter)
	}
	if s.Resolution != 2 && s.Resolution != 3 {
		return fmt.Errorf("resolution %d: %w", s.Resolution, pkg.ErrInvalidParameter)
	}
	if len(s.Frequencies) == 0 || len(s.Frequencies) > MaxFrequencies {
		return fmt.Errorf("%d frequencies: %w", len(s.Frequencies), pkg.ErrInvalidParameter)
	}
	for _, f := range s.Frequencies {
		if f == 0 || f >= 1<<24 {
			return fmt.Errorf("frequency %d: %w", f, pkg.ErrInvalidParameter)
		}
	}
	if !slices.Contains(s.Frequencies, s.Frequency) {
		return fmt.Errorf("frequency %d not in %v: %w", s.Frequency, s.Frequencies, pkg.ErrInvalidParameter)
	}
	if s.BufferSize < 0 {
		return fmt.Errorf("buffer size %d: %w", s.BufferSize, pkg.ErrInvalidParameter)
	}
	if s.VolumeMin > s.VolumeMax {
		return fmt.Errorf("volume range [%d, %d]: %w", s.VolumeMin, s.VolumeMax, pkg.ErrInvalidParameter)
	}
	return nil
}

// table returns the frequencies highest first, as the nodes expect.
func (s *StreamConfig) table() audio.FrequencyTable {
	t := audio.FrequencyTable(slices.Clone(s.Frequencies))
	slices.Sort(t)
	slices.Reverse(t)
	return slices.Compact(t)
}

// maxFrequency returns the highest supported rate.
func (s *StreamConfig) maxFrequency() uint32 {
	return slices.Max(s.Frequencies)
}

func (s *StreamConfig) sampleLength() int { return s.Channels * s.Resolution }

// volume returns the configured range, falling back to the codec's when
// unset.
func (s *StreamConfig) volume(codec audio.VolumeLimits) audio.VolumeLimits {
	if s.VolumeMin == 0 && s.VolumeMax == 0 {
		return codec
	}
	res := s.VolumeRes
	if res <= 0 {
		res = 256
	}
	return audio.VolumeLimits{Min: s.VolumeMin, Max: s.VolumeMax, Res: res}
}

func (s *StreamConfig) bufferSize(fallback int) int {
	if s.BufferSize > 0 {
		return s.BufferSize
	}
	// Room for at least eight milliseconds at the highest rate, plus a
	// packet of margin.
	need := 9 * audio.MSMaxPacketLength(s.maxFrequency(), s.sampleLength())
	return max(fallback, need)
}

func (r *RecordingConfig) syncMode() audio.SyncMode {
	if r.SyncMode == "remove" {
		return audio.SyncRemove
	}
	return audio.SyncNoRemove
}
