package audio

import (
	"sync"
	"sync/atomic"

	"github.com/ardnew/softaudio/pkg"
)

// Recording synchronization status flags.
const (
	syncStarted           uint8 = 0x01
	syncNeeded            uint8 = 0x02
	syncMicCounterStarted uint8 = 0x08
	syncSoonOverUnder     uint8 = 0x10
	syncDriftDetected     uint8 = 0x40
)

// watchdogWrites is the number of codec blocks written without a host read
// after which the recording stream is considered stalled.
const watchdogWrites = 4

// ReadCounter reports bytes a codec node has transferred.
type ReadCounter interface {
	StartReadCount()
	ReadCount() int
}

// Synchronizer adapts recording packet sizes so the host consumes samples
// at the rate the microphone produces them. It is driven by SOF: each SOF
// it compares the bytes the microphone wrote with the bytes sent to the
// host and decides whether the next packets carry one frame more or less.
type Synchronizer struct {
	mu    sync.Mutex
	desc  *Description
	speed Speed

	status           uint8
	currentFrequency uint32
	estimatedFreq    uint32
	sampleStep       float64
	fracSum          float64
	samples          int

	writtenThisSecond int
	sofCounter        int
	micUSBDiff        int
	writesWithoutRead int

	packetSize int
	sampleSize int
	tolerance  int
	fillMax    int
	fillMin    int
	fillCenter int

	adjustments atomic.Uint64
}

// NewSynchronizer returns an idle synchronizer for the described stream.
func NewSynchronizer(desc *Description, speed Speed) *Synchronizer {
	return &Synchronizer{desc: desc, speed: speed}
}

// Init resets the estimator for a ring buffer of the given logical size
// and arms it.
func (s *Synchronizer) Init(size, packetLength int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.packetSize = packetLength
	s.sampleSize = s.desc.SampleLength()
	s.fillMax = size * 3 / 4
	s.fillMin = size / 4
	s.fillCenter = size >> 1
	if s.speed == SpeedHigh {
		s.tolerance = packetLength << 2
	} else {
		s.tolerance = packetLength >> 1
	}
	s.currentFrequency = s.desc.Frequency()
	s.estimatedFreq = 0
	s.writesWithoutRead = 0
	s.micUSBDiff = 0
	s.samples = 0
	s.sofCounter = 0
	s.writtenThisSecond = 0
	s.status = syncStarted

	pkg.LogDebug(pkg.ComponentSync, "synchronizer armed",
		"size", size, "packet", packetLength, "rate", s.currentFrequency)
}

// Clear disarms the synchronizer until the next Init.
func (s *Synchronizer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = 0
}

// Started reports whether the synchronizer is armed.
func (s *Synchronizer) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status&syncStarted != 0
}

// OnSOF runs one estimator step. filled is the ring occupancy at this SOF.
func (s *Synchronizer) OnSOF(filled int, mic ReadCounter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status&syncStarted == 0 {
		return
	}
	if s.status&syncMicCounterStarted == 0 {
		mic.StartReadCount()
		s.status |= syncMicCounterStarted
		return
	}

	read := mic.ReadCount()
	s.writtenThisSecond += read
	s.sofCounter++
	if s.sofCounter == s.speed.SOFPerSecond() {
		s.estimatedFreq = uint32(s.writtenThisSecond / s.sampleSize)
		s.sofCounter = 0
		s.writtenThisSecond = 0
		pkg.LogDebug(pkg.ComponentSync, "microphone rate estimated", "hz", s.estimatedFreq)
	}
	s.micUSBDiff += read

	if s.estimatedFreq != 0 {
		s.update(filled)
		return
	}

	switch {
	case s.micUSBDiff >= 2*s.packetSize:
		s.samples = s.sampleSize
	case s.micUSBDiff+2*s.packetSize <= 0:
		s.samples = -s.sampleSize
	case s.micUSBDiff <= s.packetSize && s.micUSBDiff+s.packetSize >= 0:
		s.samples = 0
	}
}

// update applies the fill-level and drift rules once a rate estimate is
// available. The caller holds mu.
func (s *Synchronizer) update(filled int) {
	resync := false
	nominal := s.desc.Frequency()
	perSOF := float64(s.sampleSize) / float64(s.speed.SOFPerSecond())

	if s.status&syncSoonOverUnder == 0 {
		if filled < s.fillMax && filled > s.fillMin {
			if s.micUSBDiff < s.tolerance && s.micUSBDiff > -s.tolerance {
				if s.status&syncDriftDetected == 0 {
					resync = s.estimatedFreq != s.currentFrequency
				} else {
					resync = (s.micUSBDiff <= 0 && s.estimatedFreq < s.currentFrequency) ||
						(s.micUSBDiff >= 0 && s.estimatedFreq > s.currentFrequency)
				}
			} else if (s.micUSBDiff > 0 && s.estimatedFreq > s.currentFrequency) ||
				(s.micUSBDiff < 0 && s.estimatedFreq < s.currentFrequency) {
				resync = true
			} else {
				if s.micUSBDiff > 0 {
					s.currentFrequency++
					if nominal < s.currentFrequency {
						s.sampleStep += perSOF
					} else {
						s.sampleStep -= perSOF
					}
				}
				if s.micUSBDiff < 0 {
					s.currentFrequency--
					if nominal < s.currentFrequency {
						s.sampleStep -= perSOF
					} else {
						s.sampleStep += perSOF
					}
				}
				s.fracSum = float64(s.sampleSize)
				s.status |= syncDriftDetected
			}
		} else {
			if filled >= s.fillMax {
				s.samples = s.sampleSize
			} else {
				s.samples = -s.sampleSize
			}
			s.status |= syncSoonOverUnder
			pkg.LogDebug(pkg.ComponentSync, "fill level outside safe zone",
				"filled", filled, "samples", s.samples)
		}
	} else if (s.samples > 0 && filled >= s.fillCenter) ||
		(s.samples < 0 && filled <= s.fillCenter) {
		resync = true
		s.status &^= syncSoonOverUnder
	}

	if s.status&syncSoonOverUnder != 0 {
		return
	}
	if resync {
		s.currentFrequency = s.estimatedFreq
		diff := int64(nominal) - int64(s.currentFrequency)
		if diff < 0 {
			diff = -diff
		}
		s.sampleStep = float64(diff) * perSOF
		s.status = syncNeeded | syncStarted | syncMicCounterStarted
		s.fracSum = 0
		s.samples = 0
		s.micUSBDiff = 0
	}
	if s.sampleStep != 0 {
		s.fracSum += s.sampleStep
		if s.fracSum > float64(s.sampleSize) {
			if nominal < s.currentFrequency {
				s.samples = s.sampleSize
			} else {
				s.samples = -s.sampleSize
			}
			s.fracSum -= float64(s.sampleSize)
		} else {
			s.samples = 0
		}
	}
}

// SamplesToAdd returns the signed byte count to add to the next packet.
func (s *Synchronizer) SamplesToAdd() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status&syncStarted == 0 {
		return 0
	}
	if s.samples != 0 {
		s.adjustments.Add(1)
	}
	return s.samples
}

// NotifySamplesRead records bytes sent to the host.
func (s *Synchronizer) NotifySamplesRead(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status&syncStarted != 0 {
		s.micUSBDiff -= n
	}
}

// CountWrite records a codec block written to the ring and reports whether
// the host has stopped reading.
func (s *Synchronizer) CountWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writesWithoutRead++
	if s.writesWithoutRead == watchdogWrites {
		s.writesWithoutRead = 0
		s.status = 0
		return true
	}
	return false
}

// CountRead records a host read.
func (s *Synchronizer) CountRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writesWithoutRead = 0
}

// SyncSnapshot is a point-in-time view of the estimator.
type SyncSnapshot struct {
	CurrentFrequency   uint32 `json:"current_frequency"`
	EstimatedFrequency uint32 `json:"estimated_frequency"`
	Samples            int    `json:"samples"`
	Drift              bool   `json:"drift"`
	SoonOverUnder      bool   `json:"soon_over_under"`
	Adjustments        uint64 `json:"adjustments"`
}

// Snapshot returns the estimator state.
func (s *Synchronizer) Snapshot() SyncSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncSnapshot{
		CurrentFrequency:   s.currentFrequency,
		EstimatedFrequency: s.estimatedFreq,
		Samples:            s.samples,
		Drift:              s.status&syncDriftDetected != 0,
		SoonOverUnder:      s.status&syncSoonOverUnder != 0,
		Adjustments:        s.adjustments.Load(),
	}
}
