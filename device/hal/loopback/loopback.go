package loopback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softaudio/device/hal"
	"github.com/ardnew/softaudio/pkg"
)

// MaxControlDataSize is the largest data stage a control transfer carries.
const MaxControlDataSize = 512

type setupKind uint8

const (
	kindSetup setupKind = iota
	kindReset
	kindSuspend
	kindResume
)

type setupMsg struct {
	kind  setupKind
	setup hal.SetupPacket
	data  []byte
}

type responseKind uint8

const (
	respData responseKind = iota
	respAck
	respStall
)

type response struct {
	kind responseKind
	data []byte
}

// pipe is a rendezvous between one endpoint's device side and host side.
// The sender offers a slice and waits until the receiver has copied it.
type pipe struct {
	data    chan []byte
	done    chan int
	stalled atomic.Bool
}

func newPipe() *pipe {
	return &pipe{data: make(chan []byte), done: make(chan int)}
}

// HAL is the device side of an in-process bus.
type HAL struct {
	speed hal.Speed

	mutex     sync.RWMutex
	running   bool
	connected atomic.Bool
	address   uint8
	endpoints [32]hal.EndpointConfig
	numEPs    int

	setupCh chan setupMsg
	respCh  chan response
	pipes   [32]*pipe

	pendingOut    [MaxControlDataSize]byte
	pendingOutLen int

	onFrame atomic.Pointer[func(frame uint16)]
	onPower atomic.Pointer[func(suspended bool)]

	connectCh chan struct{}
	disconnCh chan struct{}
	closeCh   chan struct{}

	host Host
}

// New creates a loopback HAL reporting the given speed.
func New(speed hal.Speed) *HAL {
	h := &HAL{
		speed:     speed,
		setupCh:   make(chan setupMsg),
		respCh:    make(chan response),
		connectCh: make(chan struct{}),
		disconnCh: make(chan struct{}),
		closeCh:   make(chan struct{}),
	}
	for i := range h.pipes {
		h.pipes[i] = newPipe()
	}
	h.host.hal = h
	return h
}

// Host returns the host side of the bus.
func (h *HAL) Host() *Host { return &h.host }

// pipeIndex maps an endpoint address to its pipe: 0-15 OUT, 16-31 IN.
func pipeIndex(address uint8) int {
	idx := int(address & 0x0F)
	if address&0x80 != 0 {
		idx += 16
	}
	return idx
}

// Init prepares the HAL.
func (h *HAL) Init(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	select {
	case <-h.closeCh:
		h.closeCh = make(chan struct{})
		h.connectCh = make(chan struct{})
		h.disconnCh = make(chan struct{})
	default:
	}
	return nil
}

// Start connects the device to the host side.
func (h *HAL) Start() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.running {
		return pkg.ErrAlreadyRunning
	}
	h.running = true
	h.connected.Store(true)
	close(h.connectCh)
	pkg.LogDebug(pkg.ComponentHAL, "loopback device connected", "speed", h.speed.String())
	return nil
}

// Stop disconnects the device. Pending host and device operations fail
// with [pkg.ErrClosed].
func (h *HAL) Stop() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if !h.running {
		return nil
	}
	h.running = false
	h.connected.Store(false)
	close(h.disconnCh)
	close(h.closeCh)
	pkg.LogDebug(pkg.ComponentHAL, "loopback device disconnected")
	return nil
}

func (h *HAL) closed() <-chan struct{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.closeCh
}

// SetAddress records the device address.
func (h *HAL) SetAddress(address uint8) error {
	h.mutex.Lock()
	h.address = address
	h.mutex.Unlock()
	return nil
}

// Address returns the last address set by the stack.
func (h *HAL) Address() uint8 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.address
}

// ConfigureEndpoints records the endpoint set. Pipes exist for every
// address regardless, so streaming may begin before the stack reprograms
// the HAL.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.numEPs = copy(h.endpoints[:], endpoints)
	for i := range h.pipes {
		h.pipes[i].stalled.Store(false)
	}
	return nil
}

// Endpoints returns a copy of the configured endpoint set.
func (h *HAL) Endpoints() []hal.EndpointConfig {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return append([]hal.EndpointConfig(nil), h.endpoints[:h.numEPs]...)
}

// ReadSetup waits for the next SETUP packet from the host. Suspend and
// resume signals are handed to the power handler on the way.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	for {
		var msg setupMsg
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.closed():
			return pkg.ErrClosed
		case msg = <-h.setupCh:
		}
		switch msg.kind {
		case kindReset:
			return pkg.ErrReset
		case kindSuspend, kindResume:
			if handler := h.onPower.Load(); handler != nil {
				(*handler)(msg.kind == kindSuspend)
			}
			if err := h.respond(ctx, response{kind: respAck}); err != nil {
				return err
			}
			continue
		}
		*out = msg.setup
		h.mutex.Lock()
		h.pendingOutLen = copy(h.pendingOut[:], msg.data)
		h.mutex.Unlock()
		return nil
	}
}

func (h *HAL) respond(ctx context.Context, r response) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.closed():
		return pkg.ErrClosed
	case h.respCh <- r:
		return nil
	}
}

// WriteEP0 sends the IN data stage of the current control transfer.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	return h.respond(ctx, response{kind: respData, data: append([]byte(nil), data...)})
}

// ReadEP0 returns the OUT data stage delivered with the last SETUP packet.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	n := copy(buf, h.pendingOut[:h.pendingOutLen])
	h.pendingOutLen = 0
	return n, nil
}

// StallEP0 fails the current control transfer.
func (h *HAL) StallEP0() error {
	return h.respond(context.Background(), response{kind: respStall})
}

// AckEP0 completes a control transfer without an IN data stage.
func (h *HAL) AckEP0() error {
	return h.respond(context.Background(), response{kind: respAck})
}

// Read blocks until the host sends a packet to the OUT endpoint.
func (h *HAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	p := h.pipes[pipeIndex(address&0x0F)]
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.closed():
		return 0, pkg.ErrClosed
	case data := <-p.data:
		n := copy(buf, data)
		p.done <- n
		return n, nil
	}
}

// Write blocks until the host reads the packet from the IN endpoint.
func (h *HAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	p := h.pipes[pipeIndex(address|0x80)]
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.closed():
		return 0, pkg.ErrClosed
	case p.data <- data:
		return <-p.done, nil
	}
}

// Stall halts an endpoint until ClearStall or the next ConfigureEndpoints.
func (h *HAL) Stall(address uint8) error {
	h.pipes[pipeIndex(address)].stalled.Store(true)
	return nil
}

// ClearStall resumes a halted endpoint.
func (h *HAL) ClearStall(address uint8) error {
	h.pipes[pipeIndex(address)].stalled.Store(false)
	return nil
}

// IsConnected reports whether the device is attached.
func (h *HAL) IsConnected() bool { return h.connected.Load() }

// GetSpeed returns the bus speed.
func (h *HAL) GetSpeed() hal.Speed { return h.speed }

// WaitConnect blocks until the device is attached.
func (h *HAL) WaitConnect(ctx context.Context) error {
	if h.IsConnected() {
		return nil
	}
	h.mutex.RLock()
	ch := h.connectCh
	h.mutex.RUnlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// WaitDisconnect blocks until the device is detached.
func (h *HAL) WaitDisconnect(ctx context.Context) error {
	if !h.IsConnected() {
		return nil
	}
	h.mutex.RLock()
	ch := h.disconnCh
	h.mutex.RUnlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// SetFrameHandler registers the Start-of-Frame callback.
func (h *HAL) SetFrameHandler(handler func(frame uint16)) {
	if handler == nil {
		h.onFrame.Store(nil)
		return
	}
	h.onFrame.Store(&handler)
}

// SetPowerHandler registers the suspend/resume callback.
func (h *HAL) SetPowerHandler(handler func(suspended bool)) {
	if handler == nil {
		h.onPower.Store(nil)
		return
	}
	h.onPower.Store(&handler)
}

var (
	_ hal.DeviceHAL     = (*HAL)(nil)
	_ hal.FrameNotifier = (*HAL)(nil)
	_ hal.PowerNotifier = (*HAL)(nil)
)
