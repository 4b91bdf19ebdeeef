package audio

import (
	"sync"

	"github.com/ardnew/softaudio/pkg"
)

// There is at most one active codec node per direction in a process, just
// as a board has one speaker DMA and one microphone DMA channel. Codec
// drivers that model hardware claim a slot on Init and release it on
// DeInit.
var active struct {
	mu         sync.Mutex
	speaker    Speaker
	microphone Microphone
}

// RegisterSpeaker claims the speaker slot.
func RegisterSpeaker(s Speaker) error {
	active.mu.Lock()
	defer active.mu.Unlock()
	if active.speaker != nil && active.speaker != s {
		return pkg.ErrBusy
	}
	active.speaker = s
	return nil
}

// ClearSpeaker releases the speaker slot if s holds it.
func ClearSpeaker(s Speaker) {
	active.mu.Lock()
	defer active.mu.Unlock()
	if active.speaker == s {
		active.speaker = nil
	}
}

// ActiveSpeaker returns the registered speaker, or nil.
func ActiveSpeaker() Speaker {
	active.mu.Lock()
	defer active.mu.Unlock()
	return active.speaker
}

// RegisterMicrophone claims the microphone slot.
func RegisterMicrophone(m Microphone) error {
	active.mu.Lock()
	defer active.mu.Unlock()
	if active.microphone != nil && active.microphone != m {
		return pkg.ErrBusy
	}
	active.microphone = m
	return nil
}

// ClearMicrophone releases the microphone slot if m holds it.
func ClearMicrophone(m Microphone) {
	active.mu.Lock()
	defer active.mu.Unlock()
	if active.microphone == m {
		active.microphone = nil
	}
}

// ActiveMicrophone returns the registered microphone, or nil.
func ActiveMicrophone() Microphone {
	active.mu.Lock()
	defer active.mu.Unlock()
	return active.microphone
}
