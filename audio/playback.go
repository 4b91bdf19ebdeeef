package audio

import (
	"fmt"

	"github.com/ardnew/softaudio/pkg"
)

// PlaybackConfig describes the host-to-speaker stream.
type PlaybackConfig struct {
	SessionConfig
	// Feedback enables the explicit feedback endpoint.
	Feedback bool
}

// Playback streams host audio to a speaker: USB input node, feature unit,
// speaker. Rate synchronization uses an explicit feedback endpoint driven
// by the speaker's measured consumption.
type Playback struct {
	session

	feedbackEnabled bool
	input           *USBInput
	speaker         Speaker
	feedback        *FeedbackEstimator
}

var _ Session = (*Playback)(nil)

// NewPlayback creates a playback session around a speaker node.
func NewPlayback(cfg PlaybackConfig, speaker Speaker) *Playback {
	return &Playback{
		session:         session{cfg: cfg.SessionConfig, feature: NewFeatureUnit(cfg.FeatureUnitID, cfg.Volume)},
		feedbackEnabled: cfg.Feedback,
		input:           NewUSBInput(cfg.Speed, cfg.Frequencies, cfg.Feedback),
		speaker:         speaker,
		feedback:        NewFeedbackEstimator(cfg.Speed),
	}
}

// Direction returns DirectionPlayback.
func (p *Playback) Direction() Direction { return DirectionPlayback }

// Input returns the USB input node.
func (p *Playback) Input() *USBInput { return p.input }

// Speaker returns the codec node.
func (p *Playback) Speaker() Speaker { return p.speaker }

// FeedbackEnabled reports whether the session exposes a feedback endpoint.
func (p *Playback) FeedbackEnabled() bool { return p.feedbackEnabled }

// Init builds the node chain and sizes the ring buffer.
func (p *Playback) Init() error {
	if p.State() != StateOff {
		return fmt.Errorf("playback init in %s: %w", p.State(), pkg.ErrInvalidState)
	}
	if err := p.setup(DirectionPlayback); err != nil {
		return err
	}
	if err := p.input.Init(p.desc, p.handleEvent); err != nil {
		return fmt.Errorf("playback input: %w", err)
	}
	if err := p.speaker.Init(p.desc, p.handleEvent); err != nil {
		p.state.Store(StateError)
		return fmt.Errorf("playback speaker: %w", err)
	}
	if err := p.initBuffer(); err != nil {
		p.state.Store(StateError)
		return err
	}
	p.state.Store(StateInitialized)
	pkg.LogInfo(pkg.ComponentSession, "playback initialized",
		"interface", p.cfg.Interface, "rate", p.desc.Frequency(), "size", p.buf.Size())
	return nil
}

func (p *Playback) initBuffer() error {
	margin := 0
	if maxLen := p.input.MaxPacketLength(); maxLen > p.input.PacketLength() {
		margin = maxLen
	}
	if err := p.buf.Init(p.desc.MSPacketLength(), margin); err != nil {
		return fmt.Errorf("playback buffer: %w", err)
	}
	return nil
}

// Start begins accepting host data. The speaker starts once the ring is
// half full.
func (p *Playback) Start() error {
	if !p.State().startable() {
		return fmt.Errorf("playback start in %s: %w", p.State(), pkg.ErrInvalidState)
	}
	if err := p.input.Start(p.buf, p.buf.Size()/2); err != nil {
		return err
	}
	if err := p.feature.Start(p.speaker); err != nil {
		return err
	}
	p.state.Store(StateStarted)
	pkg.LogDebug(pkg.ComponentSession, "playback started", "interface", p.cfg.Interface)
	return nil
}

// Stop halts the chain.
func (p *Playback) Stop() error {
	_ = p.input.Stop()
	_ = p.feature.Stop()
	_ = p.speaker.Stop()
	p.state.Store(StateStopped)
	pkg.LogDebug(pkg.ComponentSession, "playback stopped", "interface", p.cfg.Interface)
	return nil
}

// DeInit stops the chain if needed and releases every node.
func (p *Playback) DeInit() error {
	if p.State() == StateOff {
		return nil
	}
	if p.State() == StateStarted {
		_ = p.Stop()
	}
	_ = p.speaker.DeInit()
	_ = p.feature.DeInit()
	_ = p.input.DeInit()
	p.state.Store(StateOff)
	return nil
}

// SetAlternate starts or stops the stream.
func (p *Playback) SetAlternate(alt uint8) error {
	return p.setAlternate(alt, p.Start, p.Stop)
}

// SetFrequency applies a host rate request.
func (p *Playback) SetFrequency(freq uint32) bool {
	return p.input.SetFrequency(freq)
}

// OnSOF advances the feedback estimator.
func (p *Playback) OnSOF() {
	p.feedback.OnSOF(p.State() == StateStarted, p.speaker, p.desc.SampleLength())
}

// FeedbackValue returns the rate in Hz to report on the feedback endpoint.
func (p *Playback) FeedbackValue() uint32 {
	return p.feedback.Value(p.speaker.State() == StateStarted,
		p.buf.Free(), p.buf.Size(), p.desc.Frequency())
}

// ExternalControl applies a device-originated control.
func (p *Playback) ExternalControl(cmd ControlCommand) (Interrupt, error) {
	return p.externalControl(cmd)
}

// Stats returns a diagnostic snapshot.
func (p *Playback) Stats() Stats {
	st := p.stats(DirectionPlayback)
	st.Packets = p.input.Packets()
	st.Bytes = p.input.Bytes()
	if p.feedbackEnabled {
		st.Feedback = p.FeedbackValue()
	}
	return st
}

func (p *Playback) handleEvent(ev Event, from NodeKind) {
	switch ev {
	case EventThresholdReached:
		if from != NodeUSBInput {
			return
		}
		if err := p.speaker.Start(p.buf.Reader()); err != nil {
			pkg.LogWarn(pkg.ComponentSession, "speaker start failed", "error", err)
		}
		p.feedback.Reset(false)
		pkg.LogDebug(pkg.ComponentSession, "playback threshold reached", "filled", p.buf.Filled())

	case EventFrequencyChanged:
		_ = p.speaker.ChangeFrequency()
		if err := p.initBuffer(); err != nil {
			pkg.LogError(pkg.ComponentSession, "playback buffer resize failed", "error", err)
			p.state.Store(StateError)
		}
		p.feedback.Reset(true)
		pkg.LogInfo(pkg.ComponentSession, "playback frequency changed", "rate", p.desc.Frequency())

	case EventOverrun, EventUnderrun:
		p.countFault(ev)
		_ = p.speaker.Stop()
		p.feedback.Reset(true)
		if p.State() == StateStarted {
			_ = p.input.Restart()
		}
		pkg.LogDebug(pkg.ComponentSession, "playback "+ev.String(), "from", from.String())
	}
}
