package audio

import (
	"fmt"

	"github.com/ardnew/softaudio/pkg"
)

// RecordingConfig describes the microphone-to-host stream.
type RecordingConfig struct {
	SessionConfig
	// SyncMode selects how rate adaptation alters packets.
	SyncMode SyncMode
}

// Recording streams microphone audio to the host: microphone, feature
// unit, USB output node. Rate synchronization is implicit: packets grow or
// shrink by one frame to track the microphone clock.
type Recording struct {
	session

	output *USBOutput
	mic    Microphone
	sync   *Synchronizer
}

var _ Session = (*Recording)(nil)

// NewRecording creates a recording session around a microphone node.
func NewRecording(cfg RecordingConfig, mic Microphone) *Recording {
	return &Recording{
		session: session{cfg: cfg.SessionConfig, feature: NewFeatureUnit(cfg.FeatureUnitID, cfg.Volume)},
		output:  NewUSBOutput(cfg.Speed, cfg.Frequencies, cfg.SyncMode),
		mic:     mic,
	}
}

// Direction returns DirectionRecording.
func (r *Recording) Direction() Direction { return DirectionRecording }

// Output returns the USB output node.
func (r *Recording) Output() *USBOutput { return r.output }

// Microphone returns the codec node.
func (r *Recording) Microphone() Microphone { return r.mic }

// Synchronizer returns the rate adaptation engine.
func (r *Recording) Synchronizer() *Synchronizer { return r.sync }

// Init builds the node chain and sizes the ring buffer.
func (r *Recording) Init() error {
	if r.State() != StateOff {
		return fmt.Errorf("recording init in %s: %w", r.State(), pkg.ErrInvalidState)
	}
	if err := r.setup(DirectionRecording); err != nil {
		return err
	}
	r.sync = NewSynchronizer(r.desc, r.cfg.Speed)
	if err := r.output.Init(r.desc, r.handleEvent); err != nil {
		return fmt.Errorf("recording output: %w", err)
	}
	r.output.SetAdjuster(r.sync)
	if err := r.mic.Init(r.desc, r.handleEvent); err != nil {
		r.state.Store(StateError)
		return fmt.Errorf("recording microphone: %w", err)
	}
	if err := r.initBuffer(); err != nil {
		r.state.Store(StateError)
		return err
	}
	r.state.Store(StateInitialized)
	pkg.LogInfo(pkg.ComponentSession, "recording initialized",
		"interface", r.cfg.Interface, "rate", r.desc.Frequency(), "size", r.buf.Size())
	return nil
}

// Start begins capturing. IN packets are silence until the ring is half
// full.
func (r *Recording) Start() error {
	if !r.State().startable() {
		return fmt.Errorf("recording start in %s: %w", r.State(), pkg.ErrInvalidState)
	}
	r.buf.Reset()
	r.sync.Clear()
	if err := r.mic.Start(r.buf.Writer()); err != nil {
		return err
	}
	if err := r.feature.Start(r.mic); err != nil {
		return err
	}
	if err := r.output.Start(r.buf); err != nil {
		return err
	}
	r.state.Store(StateStarted)
	pkg.LogDebug(pkg.ComponentSession, "recording started", "interface", r.cfg.Interface)
	return nil
}

// Stop halts the chain.
func (r *Recording) Stop() error {
	_ = r.output.Stop()
	_ = r.feature.Stop()
	_ = r.mic.Stop()
	r.state.Store(StateStopped)
	pkg.LogDebug(pkg.ComponentSession, "recording stopped", "interface", r.cfg.Interface)
	return nil
}

// DeInit stops the chain if needed and releases every node.
func (r *Recording) DeInit() error {
	if r.State() == StateOff {
		return nil
	}
	if r.State() == StateStarted {
		_ = r.Stop()
	}
	_ = r.mic.DeInit()
	_ = r.feature.DeInit()
	_ = r.output.DeInit()
	r.state.Store(StateOff)
	return nil
}

// SetAlternate starts or stops the stream.
func (r *Recording) SetAlternate(alt uint8) error {
	return r.setAlternate(alt, r.Start, r.Stop)
}

// SetFrequency applies a host rate request.
func (r *Recording) SetFrequency(freq uint32) bool {
	return r.output.SetFrequency(freq)
}

// OnSOF advances the rate estimator.
func (r *Recording) OnSOF() {
	if r.State() != StateStarted {
		return
	}
	r.sync.OnSOF(r.buf.Filled(), r.mic)
}

// ExternalControl applies a device-originated control.
func (r *Recording) ExternalControl(cmd ControlCommand) (Interrupt, error) {
	return r.externalControl(cmd)
}

// Stats returns a diagnostic snapshot.
func (r *Recording) Stats() Stats {
	st := r.stats(DirectionRecording)
	st.Packets = r.output.Packets()
	st.Bytes = r.output.Bytes()
	if r.sync != nil {
		snap := r.sync.Snapshot()
		st.Sync = &snap
	}
	return st
}

// initBuffer leaves room past the logical end for the largest microphone
// block and the largest adjusted IN packet.
func (r *Recording) initBuffer() error {
	margin := max(r.desc.MSMaxPacketLength(), r.output.MaxPacketLength())
	if err := r.buf.Init(r.desc.MSPacketLength(), margin); err != nil {
		return fmt.Errorf("recording buffer: %w", err)
	}
	return nil
}

func (r *Recording) resync() {
	r.sync.Init(r.buf.Size(), r.output.PacketLength())
}

func (r *Recording) handleEvent(ev Event, from NodeKind) {
	switch ev {
	case EventFrequencyChanged:
		_ = r.mic.ChangeFrequency()
		if err := r.initBuffer(); err != nil {
			pkg.LogError(pkg.ComponentSession, "recording buffer resize failed", "error", err)
			r.state.Store(StateError)
		}
		r.resync()
		pkg.LogInfo(pkg.ComponentSession, "recording frequency changed", "rate", r.desc.Frequency())

	case EventOverrun, EventUnderrun:
		r.countFault(ev)
		r.buf.Reset()
		r.resync()
		_ = r.output.Restart()
		pkg.LogDebug(pkg.ComponentSession, "recording "+ev.String(), "from", from.String())

	case EventPacketReceived:
		if from != NodeMicrophone {
			return
		}
		if r.sync.CountWrite() {
			r.buf.Reset()
			r.restarts.Add(1)
			_ = r.output.Restart()
			pkg.LogDebug(pkg.ComponentSession, "recording host stalled, restarting")
		}

	case EventPacketPlayed:
		r.sync.CountRead()

	case EventBeginOfStream:
		r.resync()
	}
}
