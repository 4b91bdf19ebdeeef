package codec

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscardSink(t *testing.T) {
	var d DiscardSink
	desc := newDesc(t, 48000)
	require.NoError(t, d.Consume(make([]byte, 192), desc))
	require.NoError(t, d.Consume(make([]byte, 196), desc))
	assert.Equal(t, uint64(388), d.Bytes())
}

func TestLevelSink(t *testing.T) {
	var l LevelSink
	desc := newDesc(t, 48000)
	pcm := constantPCM(8, 0x2000)
	copy(pcm[4:], constantPCM(2, -0x6000))
	require.NoError(t, l.Consume(pcm, desc))
	assert.Equal(t, 4, l.Samples())
	assert.InDelta(t, 0.75, l.Peak(), 1e-3)
}

func TestWAVSinkRecordsAndDecodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	sink := NewWAVSink(f)
	desc := newDesc(t, 48000)
	for range 10 {
		require.NoError(t, sink.Consume(constantPCM(192, 1000), desc))
	}
	require.NoError(t, sink.Consume(constantPCM(176, 1000), newDesc(t, 44100)), "format change is dropped")
	require.NoError(t, sink.Close())
	require.NoError(t, f.Close())

	clip, err := OpenFile(path, false)
	require.NoError(t, err)
	assert.Equal(t, 48000, clip.SampleRate())
	assert.Equal(t, 2, clip.Channels())
	assert.Equal(t, 10*96, clip.Len())

	buf := make([]float32, 4)
	_, err = clip.ReadSamples(buf)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0/32768, buf[0], 1e-6)
}

func TestWAVSinkCloseEmpty(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "empty.wav"))
	require.NoError(t, err)
	defer f.Close()
	assert.NoError(t, NewWAVSink(f).Close())
}

func TestOpenFileRejects(t *testing.T) {
	_, err := OpenFile("clip.flac", false)
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing.wav"), false)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = DecodeWAV(bytes.NewReader([]byte("definitely not RIFF data")), false)
	assert.ErrorIs(t, err, ErrNotWavFile)

	_, err = DecodeVorbis(bytes.NewReader([]byte("definitely not an ogg stream")), false)
	assert.Error(t, err)
}
