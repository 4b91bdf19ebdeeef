package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeFeedback(t *testing.T) {
	tests := []struct {
		rate uint32
		want [FeedbackSize]byte
	}{
		{48000, [FeedbackSize]byte{0x00, 0x00, 0x0C}},
		{44100, [FeedbackSize]byte{0x66, 0x06, 0x0B}},
	}
	for _, tt := range tests {
		var buf [FeedbackSize]byte
		EncodeFeedback(tt.rate, buf[:])
		assert.Equal(t, tt.want, buf, "EncodeFeedback(%d)", tt.rate)
	}
}

func TestFeedbackRoundTrip(t *testing.T) {
	rates := append([]uint32{47000, 47999, 48001, 49000}, StandardFrequencies...)
	for _, rate := range rates {
		var buf [FeedbackSize]byte
		EncodeFeedback(rate, buf[:])
		assert.Equal(t, rate, DecodeFeedback(buf[:]))
	}
}

func TestFeedbackEstimatorFullSpeed(t *testing.T) {
	spk := &fakeCodec{counts: []int{192}}
	e := NewFeedbackEstimator(SpeedFull)

	e.OnSOF(true, spk, 4)
	for range 999 {
		e.OnSOF(true, spk, 4)
	}
	assert.Zero(t, e.Estimated())
	e.OnSOF(true, spk, 4)
	assert.Equal(t, uint32(48000), e.Estimated())

	e.Reset(false)
	assert.Equal(t, uint32(48000), e.Estimated())
	e.Reset(true)
	assert.Zero(t, e.Estimated())
}

func TestFeedbackEstimatorHighSpeed(t *testing.T) {
	spk := &fakeCodec{counts: []int{176}}
	e := NewFeedbackEstimator(SpeedHigh)

	e.OnSOF(true, spk, 4)
	for range 8 * 1000 {
		e.OnSOF(true, spk, 4)
	}
	assert.Equal(t, uint32(44000), e.Estimated())
}

func TestFeedbackEstimatorStopped(t *testing.T) {
	spk := &fakeCodec{counts: []int{192}}
	e := NewFeedbackEstimator(SpeedFull)
	for range 2000 {
		e.OnSOF(false, spk, 4)
	}
	assert.Zero(t, e.Estimated())
}

func TestFeedbackValue(t *testing.T) {
	const size = 8000
	tests := []struct {
		name    string
		started bool
		free    int
		want    uint32
	}{
		{"speaker stopped", false, 0, 48000},
		{"near full", true, size / 4, 47000},
		{"near empty", true, size - size/4, 49000},
		{"centered", true, size / 2, 48000},
	}
	e := NewFeedbackEstimator(SpeedFull)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Value(tt.started, tt.free, size, 48000))
		})
	}
}

func TestFeedbackValuePrefersEstimate(t *testing.T) {
	spk := &fakeCodec{counts: []int{196}}
	e := NewFeedbackEstimator(SpeedFull)
	for range 1001 {
		e.OnSOF(true, spk, 4)
	}
	assert.Equal(t, uint32(49000), e.Value(true, 0, 8000, 48000))
	assert.Equal(t, uint32(48000), e.Value(false, 0, 8000, 48000))
}
