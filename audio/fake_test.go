package audio

import (
	"sync"

	"github.com/ardnew/softaudio/pkg/ring"
)

// fakeCodec records calls made by sessions and feature units.
type fakeCodec struct {
	mu       sync.Mutex
	state    State
	handler  EventHandler
	reader   *ring.Reader
	writer   *ring.Writer
	mute     bool
	volume   int16
	stops    int
	changes  int
	counts   []int
	countIdx int
}

func (f *fakeCodec) Init(_ *Description, h EventHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.state = StateInitialized
	return nil
}

func (f *fakeCodec) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeCodec) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = StateStopped
	return nil
}

func (f *fakeCodec) ChangeFrequency() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes++
	return nil
}

func (f *fakeCodec) SetMute(_ uint16, mute bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mute = mute
	return nil
}

func (f *fakeCodec) SetVolume(_ uint16, db int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = db
	return nil
}

func (f *fakeCodec) StartReadCount() {}

// ReadCount replays counts in order, repeating the last one.
func (f *fakeCodec) ReadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.counts) == 0 {
		return 0
	}
	if f.countIdx >= len(f.counts) {
		return f.counts[len(f.counts)-1]
	}
	v := f.counts[f.countIdx]
	f.countIdx++
	return v
}

func (f *fakeCodec) DeInit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateOff
	return nil
}

func (f *fakeCodec) VolumeLimits() VolumeLimits { return VolumeLimits{Min: -100, Max: 100, Res: 1} }

type fakeSpeaker struct{ fakeCodec }

func (f *fakeSpeaker) Start(r *ring.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reader = r
	f.state = StateStarted
	return nil
}

type fakeMicrophone struct{ fakeCodec }

func (f *fakeMicrophone) Start(w *ring.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writer = w
	f.state = StateStarted
	return nil
}

// eventLog collects events raised to a handler.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(ev Event, _ NodeKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) count(ev Event) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == ev {
			n++
		}
	}
	return n
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}
