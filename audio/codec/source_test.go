package codec

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softaudio/audio"
)

func TestToneSource(t *testing.T) {
	src := NewToneSource(48000, 2, 1000, 0.5)
	buf := make([]float32, 96)
	n, err := src.ReadSamples(buf)
	require.NoError(t, err)
	assert.Equal(t, 96, n)

	peak := float32(0)
	for f := 0; f < 48; f++ {
		assert.Equal(t, buf[2*f], buf[2*f+1])
		peak = max(peak, buf[2*f])
	}
	assert.InDelta(t, 0.5, peak, 1e-3)
	assert.Zero(t, buf[0])
}

func TestSilenceSource(t *testing.T) {
	src := NewSilenceSource(16000, 2)
	buf := []float32{1, 1, 1}
	n, err := src.ReadSamples(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []float32{0, 0, 0}, buf)
}

func TestClip(t *testing.T) {
	c := NewClip(8000, 1, []float32{1, 2, 3}, false)
	buf := make([]float32, 2)

	n, err := c.ReadSamples(buf)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, buf[:n])

	n, err = c.ReadSamples(buf)
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, buf[:n])

	_, err = c.ReadSamples(buf)
	assert.ErrorIs(t, err, io.EOF)

	c.Rewind()
	n, err = c.ReadSamples(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClipLoop(t *testing.T) {
	c := NewClip(8000, 1, []float32{1, 2, 3}, true)
	buf := make([]float32, 7)
	n, err := c.ReadSamples(buf)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, []float32{1, 2, 3, 1, 2, 3, 1}, buf)

	_, err = NewClip(8000, 1, nil, true).ReadSamples(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConverterPassThrough(t *testing.T) {
	src := NewClip(48000, 2, []float32{0.1, -0.1, 0.2, -0.2, 0.3, -0.3}, false)
	conv := newConverter(src, 48000, 2)
	out := make([]float32, 10)
	conv.read(out)
	assert.InDeltaSlice(t, []float64{0.1, -0.1, 0.2, -0.2, 0.3, -0.3, 0, 0, 0, 0}, toFloat64(out), 1e-6)
}

func TestConverterUpmix(t *testing.T) {
	src := NewClip(8000, 1, []float32{0.5, 0.25}, false)
	conv := newConverter(src, 8000, 2)
	out := make([]float32, 4)
	conv.read(out)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0.25, 0.25}, toFloat64(out), 1e-6)
}

func TestConverterDownmix(t *testing.T) {
	src := NewClip(8000, 2, []float32{0.5, 0.1, 0.2, 0.2}, false)
	conv := newConverter(src, 8000, 1)
	out := make([]float32, 2)
	conv.read(out)
	assert.InDeltaSlice(t, []float64{0.3, 0.2}, toFloat64(out), 1e-6)
}

func TestConverterResample(t *testing.T) {
	src := NewClip(8000, 1, []float32{0, 1, 0, 1}, false)

	up := newConverter(src, 16000, 1)
	out := make([]float32, 4)
	up.read(out)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1, 0.5}, toFloat64(out), 1e-6)

	src.Rewind()
	down := newConverter(src, 4000, 1)
	out = make([]float32, 2)
	down.read(out)
	assert.InDeltaSlice(t, []float64{0, 0}, toFloat64(out), 1e-6)
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func TestEncoder(t *testing.T) {
	desc, err := audio.NewDescription(8000, 2, 2)
	require.NoError(t, err)
	enc := NewEncoder(NewClip(8000, 1, []float32{0.5, -0.5, 0.25}, false), desc)

	buf := make([]byte, 13)
	n := enc.Encode(buf)
	assert.Equal(t, 12, n)
	for f := 0; f < 3; f++ {
		l := int16(uint16(buf[4*f]) | uint16(buf[4*f+1])<<8)
		r := int16(uint16(buf[4*f+2]) | uint16(buf[4*f+3])<<8)
		assert.Equal(t, l, r)
	}
	assert.Equal(t, int16(16384), int16(uint16(buf[0])|uint16(buf[1])<<8))
	assert.Equal(t, int16(-16384), int16(uint16(buf[4])|uint16(buf[5])<<8))
}
