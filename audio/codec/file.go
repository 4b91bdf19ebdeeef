package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/ardnew/softaudio/pkg"
)

// Decoding errors.
var (
	ErrNotWavFile      = errors.New("not a valid WAV file")
	ErrUnknownFormat   = errors.New("unknown audio file format")
	ErrUnsupportedBits = errors.New("unsupported bit depth")
)

// Decoder turns an encoded stream into a clip.
type Decoder func(r io.ReadSeeker, loop bool) (*Clip, error)

// decoders maps file extensions to decoders.
var decoders = map[string]Decoder{
	".wav":  DecodeWAV,
	".wave": DecodeWAV,
	".mp3":  DecodeMP3,
	".ogg":  DecodeVorbis,
	".oga":  DecodeVorbis,
}

// OpenFile decodes the audio file at path, choosing the decoder by
// extension.
func OpenFile(path string, loop bool) (*Clip, error) {
	dec, ok := decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	clip, err := dec(f, loop)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	pkg.LogInfo(pkg.ComponentCodec, "audio file loaded", "path", path,
		"rate", clip.SampleRate(), "channels", clip.Channels(), "samples", clip.Len())
	return clip, nil
}

// DecodeWAV reads an integer PCM WAV stream.
func DecodeWAV(r io.ReadSeeker, loop bool) (*Clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrNotWavFile
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	depth := int(d.BitDepth)
	if depth < 8 || depth > 32 {
		return nil, fmt.Errorf("%d bits: %w", depth, ErrUnsupportedBits)
	}
	return NewClip(int(d.SampleRate), int(d.NumChans), intToFloat(buf, depth), loop), nil
}

func intToFloat(buf *goaudio.IntBuffer, depth int) []float32 {
	scale := float32(int64(1) << (depth - 1))
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		if depth == 8 {
			v -= 128
		}
		out[i] = float32(v) / scale
	}
	return out
}

// DecodeMP3 reads an MPEG-1/2 Layer III stream. The decoder always yields
// 16-bit stereo.
func DecodeMP3(r io.ReadSeeker, loop bool) (*Clip, error) {
	d, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, err
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
	}
	return NewClip(d.SampleRate(), 2, samples, loop), nil
}

// DecodeVorbis reads an Ogg Vorbis stream.
func DecodeVorbis(r io.ReadSeeker, loop bool) (*Clip, error) {
	samples, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewClip(format.SampleRate, format.Channels, samples, loop), nil
}
