package fifo

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softaudio/device/hal"
	"github.com/ardnew/softaudio/pkg"
)

// MaxEndpoints is the number of data endpoint numbers, 1 through 15, in
// each direction.
const MaxEndpoints = 15

// MaxPacketSize bounds the payload of one message. It covers the largest
// isochronous packet at full (1023) and high (1024) speed.
const MaxPacketSize = 1024

// MaxControlDataSize is the largest OUT data stage carried in a SETUP
// message.
const MaxControlDataSize = 512

// Message kinds, shared with the host end of the bus.
const (
	msgSetup   = 0x01 // [address, setup(8), OUT data stage...]
	msgData    = 0x02
	msgAck     = 0x03
	msgStall   = 0x05
	msgReset   = 0x12
	msgAddress = 0x13 // [address]
	msgSOF     = 0x14 // [frame_lo, frame_hi]
	msgSuspend = 0x15
	msgResume  = 0x16
)

// headerSize is the kind byte plus the little-endian payload length.
const headerSize = 3

// Bytes written to the connection pipe.
const (
	sigDisconnect = 0x00
	sigConnect    = 0x01
)

// Pipe names inside the device directory. Data endpoints add epN_in and
// epN_out.
const (
	fifoHostToDevice = "host_to_device"
	fifoDeviceToHost = "device_to_host"
	fifoConnection   = "connection"
)

// pollInterval is how long a pipe read waits before checking for
// cancellation.
const pollInterval = 100 * time.Millisecond

// HAL implements [hal.DeviceHAL] over named pipes in a per-device
// directory, busDir/device-{id}/, so several devices can share a bus
// directory and come and go independently.
type HAL struct {
	busDir string

	mutex   sync.RWMutex
	dir     string
	id      string
	ready   bool
	speed   hal.Speed
	address uint8
	active  []hal.EndpointConfig

	conn *os.File // device writes connect/disconnect
	ctrl *os.File // device reads SETUP and bus events
	resp *os.File // device writes control responses
	in   [MaxEndpoints]*os.File
	out  [MaxEndpoints]*os.File

	// halted is indexed by slot: OUT endpoints first, then IN.
	halted [2 * MaxEndpoints]atomic.Bool

	connected atomic.Bool
	onFrame   atomic.Pointer[func(frame uint16)]
	onPower   atomic.Pointer[func(suspended bool)]

	connectCh chan struct{}
	disconnCh chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once

	// rx belongs to ReadSetup; tx is guarded by txMu.
	rx   [MaxPacketSize + headerSize]byte
	txMu sync.Mutex
	tx   [MaxPacketSize + headerSize]byte

	// pendingOut is the data stage of the last SETUP, drained by ReadEP0.
	pendingOut    [MaxControlDataSize]byte
	pendingOutLen int
}

// New returns a full-speed HAL that will live under busDir.
func New(busDir string) *HAL {
	return &HAL{
		busDir:    busDir,
		speed:     hal.SpeedFull,
		connectCh: make(chan struct{}, 1),
		disconnCh: make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
}

// SetSpeed sets the speed reported to the stack. Call before Init.
func (h *HAL) SetSpeed(speed hal.Speed) {
	h.mutex.Lock()
	h.speed = speed
	h.mutex.Unlock()
}

// SetFrameHandler registers the Start-of-Frame callback. A nil handler
// unsubscribes.
func (h *HAL) SetFrameHandler(handler func(frame uint16)) {
	if handler == nil {
		h.onFrame.Store(nil)
		return
	}
	h.onFrame.Store(&handler)
}

// SetPowerHandler registers the suspend/resume callback. A nil handler
// unsubscribes.
func (h *HAL) SetPowerHandler(handler func(suspended bool)) {
	if handler == nil {
		h.onPower.Store(nil)
		return
	}
	h.onPower.Store(&handler)
}

// newDeviceID returns 16 random bytes in hex, shaped as a version 4 UUID.
func newDeviceID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	b[6] = b[6]&0x0f | 0x40
	b[8] = b[8]&0x3f | 0x80
	return hex.EncodeToString(b[:]), nil
}

// Init creates the device directory and opens every pipe in it.
func (h *HAL) Init(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.ready {
		return pkg.ErrAlreadyRunning
	}

	id, err := newDeviceID()
	if err != nil {
		return fmt.Errorf("device id: %w", err)
	}
	h.id = id
	h.dir = filepath.Join(h.busDir, "device-"+id)
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("create device dir: %w", err)
	}

	// Each pipe is opened read-write so neither end blocks waiting for the
	// other.
	pipes := []pipeSpec{
		{fifoConnection, &h.conn},
		{fifoHostToDevice, &h.ctrl},
		{fifoDeviceToHost, &h.resp},
	}
	for i := range MaxEndpoints {
		pipes = append(pipes,
			pipeSpec{fmt.Sprintf("ep%d_in", i+1), &h.in[i]},
			pipeSpec{fmt.Sprintf("ep%d_out", i+1), &h.out[i]})
	}
	for _, p := range pipes {
		if *p.file, err = h.makePipe(p.name); err != nil {
			h.release()
			return err
		}
	}

	h.ready = true
	pkg.LogInfo(pkg.ComponentHAL, "fifo device HAL initialized",
		"busDir", h.busDir, "deviceDir", h.dir)
	return nil
}

type pipeSpec struct {
	name string
	file **os.File
}

func (h *HAL) makePipe(name string) (*os.File, error) {
	path := filepath.Join(h.dir, name)
	_ = os.Remove(path)
	if err := unix.Mkfifo(path, 0o666); err != nil {
		return nil, fmt.Errorf("mkfifo %s: %w", name, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Start announces the device on the connection pipe.
func (h *HAL) Start() error {
	h.mutex.RLock()
	ready, conn := h.ready, h.conn
	h.mutex.RUnlock()
	if !ready {
		return pkg.ErrNotConfigured
	}

	if _, err := conn.Write([]byte{sigConnect}); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "signaling connection failed", "error", err)
	}
	h.connected.Store(true)
	notify(h.connectCh)
	pkg.LogInfo(pkg.ComponentHAL, "fifo device HAL started")
	return nil
}

// Stop announces the disconnect, unblocks every pending call and removes
// the device directory. A stopped HAL cannot be restarted.
func (h *HAL) Stop() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.conn != nil {
		_, _ = h.conn.Write([]byte{sigDisconnect})
	}
	h.connected.Store(false)
	h.closeOnce.Do(func() { close(h.closeCh) })
	// A connect left over from Start must not satisfy a later WaitConnect.
	select {
	case <-h.connectCh:
	default:
	}
	notify(h.disconnCh)

	h.release()
	h.ready = false
	pkg.LogInfo(pkg.ComponentHAL, "fifo device HAL stopped")
	return nil
}

// release closes the pipes and removes the device directory. The caller
// holds the write lock.
func (h *HAL) release() {
	files := []**os.File{&h.conn, &h.ctrl, &h.resp}
	for i := range MaxEndpoints {
		files = append(files, &h.in[i], &h.out[i])
	}
	for _, f := range files {
		if *f != nil {
			_ = (*f).Close()
			*f = nil
		}
	}
	if h.dir != "" {
		_ = os.RemoveAll(h.dir)
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// load reads one of the pipe fields under the lock.
func (h *HAL) load(f **os.File) *os.File {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return *f
}

// SetAddress records the bus address.
func (h *HAL) SetAddress(address uint8) error {
	h.mutex.Lock()
	h.address = address
	h.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "address set", "address", address)
	return nil
}

// Address returns the last address set by the stack or the host.
func (h *HAL) Address() uint8 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.address
}

// ConfigureEndpoints records the active data endpoints and clears their
// halt state. Their pipes exist from Init on.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.active = h.active[:0]
	for _, ep := range endpoints {
		if n := ep.Address & 0x0F; n == 0 || n > MaxEndpoints {
			continue
		}
		h.active = append(h.active, ep)
	}
	for i := range h.halted {
		h.halted[i].Store(false)
	}
	pkg.LogDebug(pkg.ComponentHAL, "endpoints configured", "count", len(h.active))
	return nil
}

// Endpoints returns a copy of the active data endpoints.
func (h *HAL) Endpoints() []hal.EndpointConfig {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return append([]hal.EndpointConfig(nil), h.active...)
}

// ReadSetup returns the next SETUP packet. Bus events on the control pipe
// (address, Start-of-Frame, suspend and resume) are handled on the way; a
// reset is acknowledged and returned as [pkg.ErrReset].
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	f := h.load(&h.ctrl)
	if f == nil {
		return pkg.ErrNotConfigured
	}

	for {
		kind, payload, err := h.receive(ctx, f, h.rx[:])
		if err != nil {
			return err
		}

		switch kind {
		case msgSetup:
			if len(payload) < 1+hal.SetupSize {
				return pkg.ErrSetupPacketTooShort
			}
			// payload[0] is the address the host sent to.
			if err := out.Decode(payload[1:]); err != nil {
				return err
			}
			h.mutex.Lock()
			h.pendingOutLen = copy(h.pendingOut[:], payload[1+hal.SetupSize:])
			h.mutex.Unlock()
			return nil

		case msgReset:
			_ = h.ack()
			pkg.LogDebug(pkg.ComponentHAL, "port reset")
			return pkg.ErrReset

		case msgAddress:
			if len(payload) > 0 {
				h.mutex.Lock()
				h.address = payload[0]
				h.mutex.Unlock()
				_ = h.ack()
			}

		case msgSOF:
			if len(payload) >= 2 {
				if handler := h.onFrame.Load(); handler != nil {
					(*handler)(binary.LittleEndian.Uint16(payload) & 0x07FF)
				}
			}

		case msgSuspend, msgResume:
			if handler := h.onPower.Load(); handler != nil {
				(*handler)(kind == msgSuspend)
			}
			_ = h.ack()

		default:
			pkg.LogWarn(pkg.ComponentHAL, "unexpected message on control pipe", "kind", kind)
		}
	}
}

// WriteEP0 sends the IN data stage as a DATA message.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	f := h.load(&h.resp)
	if f == nil {
		return pkg.ErrNotConfigured
	}
	return h.send(ctx, f, msgData, data)
}

// ReadEP0 returns the OUT data stage that came with the last SETUP
// message, once. Status-stage reads return zero.
func (h *HAL) ReadEP0(_ context.Context, buf []byte) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	n := copy(buf, h.pendingOut[:h.pendingOutLen])
	h.pendingOutLen = 0
	return n, nil
}

// StallEP0 answers the current control transfer with STALL.
func (h *HAL) StallEP0() error {
	f := h.load(&h.resp)
	if f == nil {
		return pkg.ErrNotConfigured
	}
	return h.send(context.Background(), f, msgStall, nil)
}

// AckEP0 completes a control transfer with no IN data stage.
func (h *HAL) AckEP0() error { return h.ack() }

func (h *HAL) ack() error {
	f := h.load(&h.resp)
	if f == nil {
		return pkg.ErrNotConfigured
	}
	return h.send(context.Background(), f, msgAck, nil)
}

// slot maps an endpoint address to its index in halted, or -1.
func slot(address uint8) int {
	n := int(address & 0x0F)
	if n == 0 || n > MaxEndpoints {
		return -1
	}
	if address&0x80 != 0 {
		return MaxEndpoints + n - 1
	}
	return n - 1
}

// Read receives one DATA message from an OUT endpoint.
func (h *HAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	i := slot(address &^ 0x80)
	if i < 0 {
		return 0, pkg.ErrInvalidEndpoint
	}
	if h.halted[i].Load() {
		return 0, pkg.ErrStall
	}
	f := h.load(&h.out[i])
	if f == nil {
		return 0, pkg.ErrInvalidEndpoint
	}
	kind, payload, err := h.receive(ctx, f, buf)
	if err != nil {
		return 0, err
	}
	if kind != msgData {
		return 0, pkg.ErrProtocol
	}
	return len(payload), nil
}

// Write sends one DATA message on an IN endpoint.
func (h *HAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	i := slot(address | 0x80)
	if i < 0 {
		return 0, pkg.ErrInvalidEndpoint
	}
	if h.halted[i].Load() {
		return 0, pkg.ErrStall
	}
	f := h.load(&h.in[i-MaxEndpoints])
	if f == nil {
		return 0, pkg.ErrInvalidEndpoint
	}
	if err := h.send(ctx, f, msgData, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Stall halts an endpoint: Read and Write fail with [pkg.ErrStall] until
// ClearStall or the next ConfigureEndpoints.
func (h *HAL) Stall(address uint8) error {
	i := slot(address)
	if i < 0 {
		return pkg.ErrInvalidEndpoint
	}
	h.halted[i].Store(true)
	pkg.LogDebug(pkg.ComponentHAL, "endpoint halted", "address", address)
	return nil
}

// ClearStall resumes a halted endpoint.
func (h *HAL) ClearStall(address uint8) error {
	i := slot(address)
	if i < 0 {
		return pkg.ErrInvalidEndpoint
	}
	h.halted[i].Store(false)
	return nil
}

// IsConnected reports whether the device is announced on the bus.
func (h *HAL) IsConnected() bool { return h.connected.Load() }

// GetSpeed returns the configured speed.
func (h *HAL) GetSpeed() hal.Speed {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.speed
}

// WaitConnect blocks until Start. After Stop it returns
// [pkg.ErrCancelled].
func (h *HAL) WaitConnect(ctx context.Context) error {
	select {
	case <-h.closeCh:
		return pkg.ErrCancelled
	default:
	}
	if h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.closeCh:
		return pkg.ErrCancelled
	case <-h.connectCh:
		return nil
	}
}

// WaitDisconnect blocks until Stop.
func (h *HAL) WaitDisconnect(ctx context.Context) error {
	if !h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.disconnCh:
		return nil
	case <-h.closeCh:
		return nil
	}
}

// DeviceDir returns the directory holding the device's pipes.
func (h *HAL) DeviceDir() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.dir
}

// UUID returns the identifier in the device directory name.
func (h *HAL) UUID() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.id
}

// interrupted reports cancellation of ctx, or [pkg.ErrClosed] once the HAL
// is stopped.
func (h *HAL) interrupted(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.closeCh:
		return pkg.ErrClosed
	default:
		return nil
	}
}

// readFull fills buf from f, polling so cancellation is noticed.
func (h *HAL) readFull(ctx context.Context, f *os.File, buf []byte) error {
	for n := 0; n < len(buf); {
		if err := h.interrupted(ctx); err != nil {
			return err
		}
		_ = f.SetReadDeadline(time.Now().Add(pollInterval))
		m, err := f.Read(buf[n:])
		n += m
		switch {
		case err == nil, os.IsTimeout(err):
		case errors.Is(err, os.ErrClosed):
			return pkg.ErrClosed
		default:
			return err
		}
	}
	return nil
}

// receive reads one message into buf and returns its kind and payload. A
// payload larger than buf is consumed and reported as
// [pkg.ErrBufferTooSmall] so the pipe stays in step.
func (h *HAL) receive(ctx context.Context, f *os.File, buf []byte) (byte, []byte, error) {
	var hdr [headerSize]byte
	if err := h.readFull(ctx, f, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := int(binary.LittleEndian.Uint16(hdr[1:]))
	if n > len(buf) {
		var skip [64]byte
		for n > 0 {
			m := min(n, len(skip))
			if err := h.readFull(ctx, f, skip[:m]); err != nil {
				return 0, nil, err
			}
			n -= m
		}
		return hdr[0], nil, pkg.ErrBufferTooSmall
	}
	if err := h.readFull(ctx, f, buf[:n]); err != nil {
		return 0, nil, err
	}
	return hdr[0], buf[:n], nil
}

// send writes one message to f.
func (h *HAL) send(ctx context.Context, f *os.File, kind byte, data []byte) error {
	if err := h.interrupted(ctx); err != nil {
		return err
	}
	if len(data) > MaxPacketSize {
		return pkg.ErrBufferTooSmall
	}

	h.txMu.Lock()
	defer h.txMu.Unlock()
	msg := append(h.tx[:0], kind, 0, 0)
	binary.LittleEndian.PutUint16(msg[1:], uint16(len(data)))
	msg = append(msg, data...)
	for len(msg) > 0 {
		n, err := f.Write(msg)
		msg = msg[n:]
		if err != nil {
			return err
		}
	}
	return nil
}

var (
	_ hal.DeviceHAL     = (*HAL)(nil)
	_ hal.FrameNotifier = (*HAL)(nil)
	_ hal.PowerNotifier = (*HAL)(nil)
)
