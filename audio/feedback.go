package audio

import (
	"sync"

	"github.com/ardnew/softaudio/pkg"
)

// FeedbackSize is the length of a full-speed explicit feedback packet.
const FeedbackSize = 3

// feedbackAdjust is the rate offset requested from the host while no
// estimate is available and the ring is near empty or near full.
const feedbackAdjust = 1000

// EncodeFeedback packs a rate in Hz into the 10.14 fixed-point samples per
// frame format, least significant byte first. buf must hold at least
// FeedbackSize bytes.
func EncodeFeedback(rate uint32, buf []byte) {
	f := ((uint64(rate) << 13) + 62) / 125
	buf[0] = byte(f >> 2)
	buf[1] = byte(f >> 10)
	buf[2] = byte(f >> 18)
}

// DecodeFeedback returns the rate in Hz carried by a feedback packet,
// rounded to the nearest integer.
func DecodeFeedback(buf []byte) uint32 {
	f := uint64(buf[0])<<2 | uint64(buf[1])<<10 | uint64(buf[2])<<18
	return uint32((f*125 + 1<<12) >> 13)
}

// FeedbackEstimator measures the speaker's consumption rate from its read
// counter, sampled once per millisecond, and converts it into the rate the
// host should send at.
type FeedbackEstimator struct {
	mu    sync.Mutex
	speed Speed

	firstSOF   bool
	microSOF   int
	sofCounter int
	total      int
	estimated  uint32
}

// NewFeedbackEstimator returns an estimator for the given bus speed.
func NewFeedbackEstimator(speed Speed) *FeedbackEstimator {
	return &FeedbackEstimator{speed: speed}
}

// Reset restarts measurement on the next SOF. With clearEstimate the last
// estimate is discarded as well.
func (e *FeedbackEstimator) Reset(clearEstimate bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.firstSOF = false
	if clearEstimate {
		e.estimated = 0
	}
}

// OnSOF advances the estimator by one (micro)frame.
func (e *FeedbackEstimator) OnSOF(started bool, speaker ReadCounter, sampleLength int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !started {
		e.firstSOF = false
		return
	}
	if !e.firstSOF {
		speaker.StartReadCount()
		e.sofCounter = 0
		e.microSOF = 0
		e.total = 0
		e.firstSOF = true
		return
	}
	if e.speed == SpeedHigh {
		if e.microSOF != 7 {
			e.microSOF++
			return
		}
		e.microSOF = 0
	}
	e.total += speaker.ReadCount()
	e.sofCounter++
	if e.sofCounter == 1000 {
		e.estimated = uint32(e.total / sampleLength)
		e.sofCounter = 0
		e.total = 0
		pkg.LogDebug(pkg.ComponentSync, "speaker rate estimated", "hz", e.estimated)
	}
}

// Estimated returns the last measured speaker rate, or 0.
func (e *FeedbackEstimator) Estimated() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estimated
}

// Value returns the rate to report to the host. Without an estimate the
// nominal rate is nudged by the ring occupancy.
func (e *FeedbackEstimator) Value(speakerStarted bool, free, size int, nominal uint32) uint32 {
	if !speakerStarted {
		return nominal
	}
	if est := e.Estimated(); est != 0 {
		return est
	}
	if free <= size>>2 {
		return nominal - feedbackAdjust
	}
	if free >= size-size>>2 {
		return nominal + feedbackAdjust
	}
	return nominal
}
