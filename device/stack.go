package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/softaudio/device/hal"
	"github.com/ardnew/softaudio/pkg"
)

// controlBufferSize bounds the data stage of any control transfer the
// stack serves, in either direction.
const controlBufferSize = 1024

// Stack runs a Device on a HAL.
//
// One goroutine owns endpoint zero. For each SETUP packet it reads the OUT
// data stage, answers standard requests itself and passes class requests
// to the driver of the addressed interface, or of the interface owning the
// addressed endpoint, then completes the status stage. Start-of-Frame and
// suspend/resume events from HALs that report them reach drivers
// implementing FrameHandler and PowerHandler.
type Stack struct {
	dev *Device
	hal hal.DeviceHAL

	mutex   sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	// Owned by the control goroutine.
	setup hal.SetupPacket
	ep0   [controlBufferSize]byte
	resp  []byte
	eps   []hal.EndpointConfig
}

// NewStack binds dev to h. Nothing runs until Start.
func NewStack(dev *Device, h hal.DeviceHAL) *Stack {
	return &Stack{
		dev:  dev,
		hal:  h,
		resp: make([]byte, 0, controlBufferSize),
	}
}

// Device returns the device served by the stack.
func (s *Stack) Device() *Device { return s.dev }

// Context is done once the stack stops. Before Start it is
// context.Background().
func (s *Stack) Context() context.Context {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Start initializes and attaches the HAL and begins serving endpoint zero.
func (s *Stack) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.running {
		return pkg.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := s.hal.Init(ctx); err != nil {
		cancel()
		return fmt.Errorf("hal init: %w", err)
	}
	if n, ok := s.hal.(hal.FrameNotifier); ok {
		n.SetFrameHandler(s.handleFrame)
	}
	if n, ok := s.hal.(hal.PowerNotifier); ok {
		n.SetPowerHandler(s.handlePower)
	}
	if err := s.hal.Start(); err != nil {
		cancel()
		return fmt.Errorf("hal start: %w", err)
	}

	s.dev.setSpeed(s.hal.GetSpeed())
	s.dev.setState(StateDefault)
	s.ctx, s.cancel = ctx, cancel
	s.done = make(chan struct{})
	s.running = true
	go s.serve(ctx, s.done)

	pkg.LogInfo(pkg.ComponentStack, "device stack started",
		"speed", s.dev.Speed().String())
	return nil
}

// Stop returns every interface to alternate 0, detaches the HAL and waits
// for the control goroutine to exit.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mutex.Unlock()

	if c := s.dev.Active(); c != nil {
		c.resetAlternates()
	}
	if n, ok := s.hal.(hal.FrameNotifier); ok {
		n.SetFrameHandler(nil)
	}
	if n, ok := s.hal.(hal.PowerNotifier); ok {
		n.SetPowerHandler(nil)
	}
	err := s.hal.Stop()
	<-done

	pkg.LogInfo(pkg.ComponentStack, "device stack stopped")
	return err
}

// Read receives one packet from the OUT endpoint ep.
func (s *Stack) Read(ctx context.Context, ep *Endpoint, buf []byte) (int, error) {
	if !s.dev.IsConfigured() {
		return 0, pkg.ErrNotConfigured
	}
	return s.hal.Read(ctx, ep.Address, buf)
}

// Write sends one packet on the IN endpoint ep.
func (s *Stack) Write(ctx context.Context, ep *Endpoint, data []byte) (int, error) {
	if !s.dev.IsConfigured() {
		return 0, pkg.ErrNotConfigured
	}
	return s.hal.Write(ctx, ep.Address, data)
}

func (s *Stack) serve(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		err := s.hal.ReadSetup(ctx, &s.setup)
		switch {
		case err == nil:
			setup := SetupPacket(s.setup)
			if err := s.handleSetup(ctx, &setup); err != nil {
				pkg.LogDebug(pkg.ComponentStack, "request stalled",
					"request", setup.String(), "error", err)
				if err := s.hal.StallEP0(); err != nil && ctx.Err() == nil {
					pkg.LogWarn(pkg.ComponentStack, "stall failed", "error", err)
				}
			}
		case ctx.Err() != nil, errors.Is(err, pkg.ErrClosed):
			return
		case errors.Is(err, pkg.ErrReset):
			s.busReset()
		default:
			pkg.LogWarn(pkg.ComponentStack, "reading setup failed", "error", err)
		}
	}
}

// busReset winds down the active configuration and returns the device to
// the default state with no data endpoints.
func (s *Stack) busReset() {
	if c := s.dev.Active(); c != nil {
		c.resetAlternates()
	}
	s.dev.reset()
	s.configureEndpoints()
	pkg.LogDebug(pkg.ComponentStack, "bus reset")
}

func (s *Stack) handleSetup(ctx context.Context, setup *SetupPacket) error {
	var data []byte
	if !setup.In() && setup.Length > 0 {
		n, err := s.hal.ReadEP0(ctx, s.ep0[:min(int(setup.Length), len(s.ep0))])
		if err != nil {
			return fmt.Errorf("data stage: %w", err)
		}
		data = s.ep0[:n]
	}

	switch setup.Type() {
	case TypeStandard:
		resp, err := s.handleStandard(setup)
		if err != nil {
			return err
		}
		if err := s.complete(ctx, setup, resp); err != nil {
			return err
		}
		// SET_ADDRESS takes effect after its status stage.
		if setup.Request == RequestSetAddress && setup.Recipient() == RecipientDevice {
			return s.hal.SetAddress(s.dev.Address())
		}
		return nil

	case TypeClass:
		iface := s.classTarget(setup)
		if iface == nil {
			return fmt.Errorf("no interface for %s: %w", setup, pkg.ErrInvalidRequest)
		}
		driver := iface.Driver()
		if driver == nil {
			return fmt.Errorf("interface %d has no class driver: %w", iface.Number, pkg.ErrInvalidRequest)
		}
		if setup.In() {
			data = s.ep0[:min(int(setup.Length), len(s.ep0))]
		}
		n, handled, err := driver.HandleSetup(iface, setup, data)
		if err != nil {
			return err
		}
		if !handled {
			return fmt.Errorf("%s not handled: %w", setup, pkg.ErrInvalidRequest)
		}
		if setup.In() {
			return s.complete(ctx, setup, data[:n])
		}
		return s.complete(ctx, setup, nil)
	}
	return fmt.Errorf("request type %#02x: %w", setup.Type(), pkg.ErrNotSupported)
}

// classTarget returns the interface a class request is addressed to.
func (s *Stack) classTarget(setup *SetupPacket) *Interface {
	switch setup.Recipient() {
	case RecipientInterface:
		return s.dev.Interface(setup.Target())
	case RecipientEndpoint:
		if c := s.dev.Active(); c != nil {
			iface, _ := c.owner(setup.Target())
			return iface
		}
	}
	return nil
}

// complete sends the IN data stage and reads the status stage, or sends
// the status stage of an OUT request.
func (s *Stack) complete(ctx context.Context, setup *SetupPacket, data []byte) error {
	if !setup.In() {
		return s.hal.AckEP0()
	}
	if err := s.hal.WriteEP0(ctx, data); err != nil {
		return err
	}
	_, err := s.hal.ReadEP0(ctx, s.ep0[:0])
	return err
}

// configureEndpoints programs the HAL with the endpoints of every selected
// alternate and clears their halt state.
func (s *Stack) configureEndpoints() {
	s.eps = s.eps[:0]
	if c := s.dev.Active(); c != nil {
		s.eps = c.endpointConfigs(s.eps)
		for _, i := range c.Interfaces() {
			for _, ep := range i.Endpoints() {
				ep.halted.Store(false)
			}
		}
	}
	if err := s.hal.ConfigureEndpoints(s.eps); err != nil {
		pkg.LogWarn(pkg.ComponentStack, "configuring endpoints failed", "error", err)
	}
}

// handleFrame stamps the frame number on the isochronous endpoints of
// every selected alternate and runs the frame handlers.
func (s *Stack) handleFrame(frame uint16) {
	c := s.dev.Active()
	if c == nil {
		return
	}
	for _, i := range c.Interfaces() {
		for _, ep := range i.Endpoints() {
			if ep.IsIsochronous() {
				ep.frame.Store(uint32(frame))
			}
		}
		if h, ok := i.Driver().(FrameHandler); ok {
			h.HandleFrame(i, frame)
		}
	}
}

// handlePower moves the device in and out of the suspended state and
// tells the class drivers.
func (s *Stack) handlePower(suspended bool) {
	var changed bool
	if suspended {
		changed = s.dev.suspend()
	} else {
		changed = s.dev.wake()
	}
	if !changed {
		return
	}
	pkg.LogInfo(pkg.ComponentStack, "bus power state", "suspended", suspended)

	c := s.dev.Active()
	if c == nil {
		return
	}
	for _, i := range c.Interfaces() {
		h, ok := i.Driver().(PowerHandler)
		if !ok {
			continue
		}
		if suspended {
			h.Suspend(i)
		} else {
			h.Resume(i)
		}
	}
}
