package uac

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softaudio/audio"
	"github.com/ardnew/softaudio/audio/codec"
	"github.com/ardnew/softaudio/device"
	"github.com/ardnew/softaudio/pkg"
)

// Function implements a USB Audio Class 1.0 function: one AudioControl
// interface and up to two AudioStreaming interfaces, each backed by an
// [audio.Session].
type Function struct {
	mutex sync.Mutex

	cfg         Config
	layout      Layout
	configValue uint8
	stack       *device.Stack

	playback  *audio.Playback
	recording *audio.Recording

	control     *device.Interface
	interruptEP *device.Endpoint
	streams     [MaxStreamingIfaces]*stream
	numStreams  int
	attached    bool

	// last is the control most recently addressed by the host.
	last controlEntity

	irqOnce sync.Once
	irqs    chan [StatusSize]byte
}

// stream binds a session to its AudioStreaming interface and endpoints.
type stream struct {
	session audio.Session
	iface   *device.Interface
	dataEP  *device.Endpoint
	syncEP  *device.Endpoint

	// frequencies is the supported rate table, highest first.
	frequencies audio.FrequencyTable

	// feedback caches the rate the feedback endpoint reports.
	feedback atomic.Uint32

	// resume is the alternate to reopen when the bus wakes.
	resume uint8

	// dataTick and syncTick pace the IN loops to Start-of-Frame.
	dataTick chan struct{}
	syncTick chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newStream(s audio.Session) *stream {
	return &stream{
		session:  s,
		dataTick: make(chan struct{}, 1),
		syncTick: make(chan struct{}, 1),
	}
}

// Option configures a Function.
type Option func(*Function)

// WithSpeaker sets the codec node that plays host audio.
func WithSpeaker(s audio.Speaker) Option {
	return func(f *Function) {
		if f.playback != nil {
			f.playback = audio.NewPlayback(f.playbackConfig(s), s)
		}
	}
}

// WithMicrophone sets the codec node that captures audio for the host.
func WithMicrophone(m audio.Microphone) Option {
	return func(f *Function) {
		if f.recording != nil {
			f.recording = audio.NewRecording(f.recordingConfig(m), m)
		}
	}
}

// New creates an audio function. Without [WithSpeaker] or
// [WithMicrophone] the streams use dummy codec nodes.
func New(cfg Config, opts ...Option) (*Function, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Function{
		cfg:  cfg,
		irqs: make(chan [StatusSize]byte, 8),
	}
	// Interface numbers are final only after ConfigureDevice; sessions
	// read them from the layout at Init.
	f.layout = newLayout(&f.cfg, 0)
	if cfg.Playback.Enabled {
		s := codec.NewDummySpeaker()
		f.playback = audio.NewPlayback(f.playbackConfig(s), s)
	}
	if cfg.Recording.Enabled {
		m := codec.NewDummyMicrophone()
		f.recording = audio.NewRecording(f.recordingConfig(m), m)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Function) sessionConfig(c *StreamConfig, iface, unit uint8, fallback int, limits audio.VolumeLimits) audio.SessionConfig {
	return audio.SessionConfig{
		Interface:     iface,
		Speed:         f.cfg.AudioSpeed(),
		Frequencies:   c.table(),
		Frequency:     c.Frequency,
		Channels:      c.Channels,
		Resolution:    c.Resolution,
		BufferSize:    c.bufferSize(fallback),
		FeatureUnitID: unit,
		Volume:        c.volume(limits),
	}
}

func (f *Function) playbackConfig(s audio.Speaker) audio.PlaybackConfig {
	c := &f.cfg.Playback
	return audio.PlaybackConfig{
		SessionConfig: f.sessionConfig(&c.StreamConfig, f.layout.Playback,
			PlaybackFeatureUnitID, DefaultPlaybackBufferSize, s.VolumeLimits()),
		Feedback: c.Feedback,
	}
}

func (f *Function) recordingConfig(m audio.Microphone) audio.RecordingConfig {
	c := &f.cfg.Recording
	return audio.RecordingConfig{
		SessionConfig: f.sessionConfig(&c.StreamConfig, f.layout.Recording,
			RecordingFeatureUnitID, DefaultRecordingBufferSize, m.VolumeLimits()),
		SyncMode: c.syncMode(),
	}
}

// Config returns the function configuration.
func (f *Function) Config() Config { return f.cfg }

// Playback returns the playback session, or nil when disabled.
func (f *Function) Playback() *audio.Playback { return f.playback }

// Recording returns the recording session, or nil when disabled.
func (f *Function) Recording() *audio.Recording { return f.recording }

// Layout returns the interface numbers and endpoint addresses assigned by
// the last ConfigureDevice.
func (f *Function) Layout() Layout {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.layout
}

// SetStack sets the USB stack used for endpoint I/O.
func (f *Function) SetStack(stack *device.Stack) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.stack = stack
}

// AttachToInterfaces installs the function as class driver of the
// interfaces created by [Function.ConfigureDevice] and initializes the
// sessions.
func (f *Function) AttachToInterfaces(dev *device.Device) error {
	config := dev.Configuration(f.configValue)
	if config == nil {
		return fmt.Errorf("configuration %d: %w", f.configValue, pkg.ErrInvalidRequest)
	}

	// Rebuild the sessions if ConfigureDevice moved the interface numbers.
	if f.playback != nil && f.playback.InterfaceNumber() != f.layout.Playback {
		s := f.playback.Speaker()
		f.playback = audio.NewPlayback(f.playbackConfig(s), s)
	}
	if f.recording != nil && f.recording.InterfaceNumber() != f.layout.Recording {
		m := f.recording.Microphone()
		f.recording = audio.NewRecording(f.recordingConfig(m), m)
	}

	numbers := []uint8{f.layout.Control}
	if f.playback != nil {
		numbers = append(numbers, f.layout.Playback)
	}
	if f.recording != nil {
		numbers = append(numbers, f.layout.Recording)
	}
	for _, n := range numbers {
		iface := config.Interface(n)
		if iface == nil {
			return fmt.Errorf("interface %d: %w", n, pkg.ErrInvalidRequest)
		}
		if err := iface.SetClassDriver(f); err != nil {
			return err
		}
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	for _, st := range f.streams[:f.numStreams] {
		if err := st.session.Init(); err != nil {
			return fmt.Errorf("interface %d: %w", st.session.InterfaceNumber(), err)
		}
		f.updateFeedback(st)
	}
	f.attached = true
	return nil
}

// Init binds the function to one of its interfaces.
func (f *Function) Init(iface *device.Interface) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	switch iface.SubClass {
	case SubclassAudioControl:
		f.control = iface
		for _, ep := range iface.Endpoints() {
			if ep.IsIn() && ep.IsInterrupt() {
				f.interruptEP = ep
			}
		}
		return nil

	case SubclassAudioStreaming:
		var session audio.Session
		var freqs audio.FrequencyTable
		switch {
		case f.playback != nil && iface.Number == f.layout.Playback:
			session, freqs = f.playback, f.cfg.Playback.table()
		case f.recording != nil && iface.Number == f.layout.Recording:
			session, freqs = f.recording, f.cfg.Recording.table()
		}
		if session == nil {
			return fmt.Errorf("streaming interface %d: %w", iface.Number, pkg.ErrInvalidParameter)
		}
		if f.streamFor(iface.Number) != nil {
			return nil
		}
		st := newStream(session)
		st.iface = iface
		st.frequencies = freqs
		if alt := iface.Alternate(1); alt != nil {
			for _, ep := range alt.Endpoints() {
				switch {
				case ep.IsFeedback():
					st.syncEP = ep
				case ep.IsIsochronous():
					st.dataEP = ep
				}
			}
		}
		if st.dataEP == nil {
			return fmt.Errorf("streaming interface %d has no data endpoint: %w", iface.Number, pkg.ErrInvalidEndpoint)
		}
		if f.numStreams >= len(f.streams) {
			return pkg.ErrNoMemory
		}
		f.streams[f.numStreams] = st
		f.numStreams++
		pkg.LogDebug(pkg.ComponentClass, "audio streaming interface bound",
			"interface", iface.Number,
			"direction", session.Direction().String(),
			"endpoint", st.dataEP.Address)
		return nil
	}
	return fmt.Errorf("audio subclass %d: %w", iface.SubClass, pkg.ErrNotSupported)
}

func (f *Function) streamFor(number uint8) *stream {
	for _, st := range f.streams[:f.numStreams] {
		if st.iface.Number == number {
			return st
		}
	}
	return nil
}

func (f *Function) streamForEndpoint(address uint8) *stream {
	for _, st := range f.streams[:f.numStreams] {
		if st.dataEP.Address == address {
			return st
		}
	}
	return nil
}

// HandleSetup dispatches class requests addressed to the AudioControl
// interface (feature unit controls) or to a streaming data endpoint
// (sampling frequency).
func (f *Function) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) (int, bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	switch {
	case setup.Recipient() == device.RecipientInterface:
		if f.control == nil || iface.Number != f.control.Number {
			return 0, false, nil
		}
		return f.handleUnitRequest(setup, data)
	case setup.Recipient() == device.RecipientEndpoint:
		return f.handleEndpointRequest(setup, data)
	}
	return 0, false, nil
}

// SetAlternate opens or closes a streaming interface.
func (f *Function) SetAlternate(iface *device.Interface, alt uint8) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	st := f.streamFor(iface.Number)
	if st == nil {
		return nil
	}
	return f.setAlternate(st, alt)
}

func (f *Function) setAlternate(st *stream, alt uint8) error {
	f.stopStream(st)
	if err := st.session.SetAlternate(alt); err != nil {
		return fmt.Errorf("interface %d alternate %d: %w", st.iface.Number, alt, err)
	}
	f.updateFeedback(st)
	if alt != 0 {
		f.startStream(st)
	}
	pkg.LogDebug(pkg.ComponentClass, "audio alternate selected",
		"interface", st.iface.Number, "alternate", alt)
	return nil
}

// Suspend pauses the session of a streaming interface. The selected
// alternate is kept and reopened by Resume.
func (f *Function) Suspend(iface *device.Interface) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	st := f.streamFor(iface.Number)
	if st == nil {
		return
	}
	st.resume = st.session.Alternate()
	if st.resume == 0 {
		return
	}
	if err := f.setAlternate(st, 0); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "suspending stream failed",
			"interface", iface.Number, "error", err)
	}
}

// Resume reopens a streaming interface paused by Suspend.
func (f *Function) Resume(iface *device.Interface) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	st := f.streamFor(iface.Number)
	if st == nil || st.resume == 0 {
		return
	}
	alt := st.resume
	st.resume = 0
	if err := f.setAlternate(st, alt); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "resuming stream failed",
			"interface", iface.Number, "alternate", alt, "error", err)
	}
}

// HandleFrame runs the per-frame synchronization step of every open
// streaming interface and paces its IN endpoints.
func (f *Function) HandleFrame(iface *device.Interface, frame uint16) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	st := f.streamFor(iface.Number)
	if st == nil || st.session.Alternate() == 0 {
		return
	}
	st.session.OnSOF()
	f.updateFeedback(st)
	signal(st.dataTick)
	if st.syncEP != nil {
		signal(st.syncTick)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (f *Function) updateFeedback(st *stream) {
	if p, ok := st.session.(*audio.Playback); ok && p.FeedbackEnabled() && p.State() != audio.StateOff {
		st.feedback.Store(p.FeedbackValue())
	}
}

// ExternalControl applies a device-originated control, such as a mute
// button, to the session of the given direction and reports the change on
// the interrupt endpoint when present.
func (f *Function) ExternalControl(dir audio.Direction, cmd audio.ControlCommand) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var session audio.Session
	for _, st := range f.streams[:f.numStreams] {
		if st.session.Direction() == dir {
			session = st.session
		}
	}
	if session == nil {
		return fmt.Errorf("no %s stream: %w", dir, pkg.ErrInvalidParameter)
	}
	irq, err := session.ExternalControl(cmd)
	if err != nil {
		return err
	}
	f.notify(irq)
	return nil
}

// Stats returns a snapshot of every session.
func (f *Function) Stats() []audio.Stats {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	stats := make([]audio.Stats, 0, f.numStreams)
	for _, st := range f.streams[:f.numStreams] {
		stats = append(stats, st.session.Stats())
	}
	return stats
}

// Close stops streaming and releases the sessions. It is safe to call once
// per interface.
func (f *Function) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if !f.attached {
		return nil
	}
	f.attached = false
	for _, st := range f.streams[:f.numStreams] {
		f.stopStream(st)
		if err := st.session.DeInit(); err != nil {
			pkg.LogWarn(pkg.ComponentClass, "session deinit failed",
				"interface", st.iface.Number, "error", err)
		}
	}
	return nil
}

var (
	_ device.ClassDriver  = (*Function)(nil)
	_ device.FrameHandler = (*Function)(nil)
	_ device.PowerHandler = (*Function)(nil)
)
