package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGain(t *testing.T) {
	assert.Zero(t, gain(0, true))
	assert.InDelta(t, 1.0, gain(0, false), 1e-12)
	assert.InDelta(t, 0.5012, gain(-6*256, false), 1e-4)
	assert.InDelta(t, 10.0, gain(20*256, false), 1e-9)
}

func TestPCMRoundTrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 0.999, -1}
	for _, res := range []int{2, 3} {
		buf := make([]byte, len(samples)*res)
		assert.Equal(t, len(buf), encodePCM(buf, samples, res, 1))

		got := make([]float32, len(samples))
		assert.Equal(t, len(samples), decodePCM(got, buf, res, 1))
		tol := 2 / fullScale(res)
		for i := range samples {
			assert.InDelta(t, samples[i], got[i], tol, "res %d sample %d", res, i)
		}
	}
}

func TestEncodePCMLayout(t *testing.T) {
	buf := make([]byte, 6)
	encodePCM(buf, []float32{-1, 1}, 3, 1)
	// -8388607 and 8388607, little endian.
	assert.Equal(t, []byte{0x01, 0x00, 0x80, 0xFF, 0xFF, 0x7F}, buf)
}

func TestEncodePCMClips(t *testing.T) {
	buf := make([]byte, 4)
	encodePCM(buf, []float32{0.9, -0.9}, 2, 2)
	got := make([]float32, 2)
	decodePCM(got, buf, 2, 1)
	assert.InDelta(t, 1, got[0], 1e-6)
	assert.InDelta(t, -1, got[1], 1e-6)
}

func TestEncodePCMShortBuffer(t *testing.T) {
	buf := make([]byte, 5)
	assert.Equal(t, 4, encodePCM(buf, []float32{0.1, 0.2, 0.3}, 2, 1))
}

func TestApplyGain(t *testing.T) {
	pcm := make([]byte, 4)
	encodePCM(pcm, []float32{0.5, -0.5}, 2, 1)
	applyGain(pcm, 2, 0.5, nil)

	got := make([]float32, 2)
	decodePCM(got, pcm, 2, 1)
	assert.InDelta(t, 0.25, got[0], 1e-4)
	assert.InDelta(t, -0.25, got[1], 1e-4)

	applyGain(pcm, 2, gain(0, true), nil)
	assert.Equal(t, make([]byte, 4), pcm)
}
