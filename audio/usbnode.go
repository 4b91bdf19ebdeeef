package audio

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/softaudio/pkg"
	"github.com/ardnew/softaudio/pkg/ring"
)

// Endpoint node flags. A restart is requested lazily from any context and
// applied by the next USB-side call on the node.
const (
	flagRestart uint32 = 1 << iota
	flagBeginOfStream
	flagThreshold
)

// SyncMode selects how recording rate adaptation changes outgoing packets.
type SyncMode int

// Rate adaptation modes.
const (
	// SyncNoRemove only lengthens or shortens packets; buffered samples are
	// never discarded.
	SyncNoRemove SyncMode = iota
	// SyncRemove shortens packets to drop samples and skips read bytes to
	// catch up.
	SyncRemove
)

// String returns the mode name.
func (m SyncMode) String() string {
	if m == SyncRemove {
		return "remove"
	}
	return "no-remove"
}

// SampleAdjuster supplies per-packet rate adaptation to the USB output node.
type SampleAdjuster interface {
	// SamplesToAdd returns the signed number of bytes to add to the next
	// packet.
	SamplesToAdd() int
	// NotifySamplesRead reports bytes consumed from the ring.
	NotifySamplesRead(n int)
}

// usbNode holds the state shared by both endpoint directions. Lengths and
// the description's frequency are only changed from the USB context but
// are read by session event handlers running in the codec context.
type usbNode struct {
	kind    NodeKind
	speed   Speed
	table   FrequencyTable
	desc    *Description
	handler EventHandler
	state   state
	flags   atomic.Uint32

	packetLength    atomic.Int32
	maxPacketLength atomic.Int32

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (n *usbNode) emit(ev Event) {
	if n.handler != nil {
		n.handler(ev, n.kind)
	}
}

// State returns the node state.
func (n *usbNode) State() State { return n.state.Load() }

// PacketLength returns the nominal packet size in bytes.
func (n *usbNode) PacketLength() int { return int(n.packetLength.Load()) }

// MaxPacketLength returns the largest packet the node moves.
func (n *usbNode) MaxPacketLength() int { return int(n.maxPacketLength.Load()) }

// Frequency returns the current sampling frequency.
func (n *usbNode) Frequency() uint32 { return n.desc.Frequency() }

// Packets returns the number of packets moved since Init.
func (n *usbNode) Packets() uint64 { return n.packets.Load() }

// Bytes returns the number of payload bytes moved since Init.
func (n *usbNode) Bytes() uint64 { return n.bytes.Load() }

// Stop halts the node. Further buffer requests fail until restarted.
func (n *usbNode) Stop() error {
	n.state.Store(StateStopped)
	return nil
}

// Restart requests that the next USB-side call discard buffered data and
// resynchronize. It is ignored unless the node is started.
func (n *usbNode) Restart() error {
	if n.state.Load() != StateStarted {
		return fmt.Errorf("%s restart in %s: %w", n.kind, n.State(), pkg.ErrInvalidState)
	}
	n.flags.Store(flagRestart)
	return nil
}

// DeInit releases the node.
func (n *usbNode) DeInit() error {
	n.state.Store(StateOff)
	return nil
}

func (n *usbNode) init(desc *Description, handler EventHandler) {
	n.desc = desc
	n.handler = handler
	n.flags.Store(0)
	n.packets.Store(0)
	n.bytes.Store(0)
	n.packetLength.Store(int32(desc.PacketLength(n.speed)))
}

// resolve picks the table rate for a requested frequency and reports
// whether it differs from the current one. A lookup failure keeps the
// nominal rate.
func (n *usbNode) resolve(freq uint32) (uint32, bool) {
	cur := n.desc.Frequency()
	nearest, ok := n.table.Nearest(freq)
	if !ok {
		nearest = cur
	}
	return nearest, nearest != cur
}

// USBInput receives isochronous OUT packets from the host into the
// session ring buffer.
type USBInput struct {
	usbNode

	feedback  bool
	buf       *ring.Buffer
	w         *ring.Writer
	threshold int
}

// NewUSBInput creates an input node. With feedback enabled the host may
// send one extra frame per packet, so the maximum packet grows accordingly.
func NewUSBInput(speed Speed, table FrequencyTable, feedback bool) *USBInput {
	return &USBInput{
		usbNode:  usbNode{kind: NodeUSBInput, speed: speed, table: table},
		feedback: feedback,
	}
}

// Init binds the node to a description.
func (n *USBInput) Init(desc *Description, handler EventHandler) error {
	n.init(desc, handler)
	n.updateMax()
	n.state.Store(StateInitialized)
	return nil
}

func (n *USBInput) updateMax() {
	if n.feedback {
		n.maxPacketLength.Store(int32(n.desc.SyncPacketLength(n.speed)))
	} else {
		n.maxPacketLength.Store(int32(n.desc.MaxPacketLength(n.speed)))
	}
}

// Start attaches the ring buffer. ThresholdReached is raised once the
// buffer holds at least threshold bytes.
func (n *USBInput) Start(buf *ring.Buffer, threshold int) error {
	if !n.state.Load().startable() {
		return fmt.Errorf("%s start in %s: %w", n.kind, n.State(), pkg.ErrInvalidState)
	}
	n.buf = buf
	n.w = buf.Writer()
	buf.Reset()
	n.flags.Store(0)
	n.threshold = threshold
	n.state.Store(StateStarted)
	return nil
}

// Buffer returns the region the next OUT packet is received into, sized to
// the largest packet the host may send.
func (n *USBInput) Buffer() ([]byte, error) {
	if n.state.Load() != StateStarted {
		return nil, fmt.Errorf("%s buffer in %s: %w", n.kind, n.State(), pkg.ErrInvalidState)
	}
	maxLen := n.MaxPacketLength()
	if n.buf.Free() < maxLen {
		n.emit(EventOverrun)
	}
	if n.flags.Load()&flagRestart != 0 {
		n.flags.Store(0)
		n.buf.Reset()
	}
	slot := n.w.Slot()
	return slot[:min(maxLen, len(slot))], nil
}

// DataReceived commits a packet of length bytes written into the region
// returned by [USBInput.Buffer].
func (n *USBInput) DataReceived(length int) error {
	if n.state.Load() != StateStarted {
		return fmt.Errorf("%s data in %s: %w", n.kind, n.State(), pkg.ErrInvalidState)
	}
	if n.flags.Load()&flagRestart != 0 {
		n.flags.Store(0)
		n.buf.Reset()
		return nil
	}
	n.w.Advance(length)
	n.packets.Add(1)
	n.bytes.Add(uint64(length))

	flags := n.flags.Load()
	if flags&flagBeginOfStream == 0 {
		n.flags.Or(flagBeginOfStream)
		n.emit(EventBeginOfStream)
		return nil
	}
	if flags&flagThreshold == 0 && n.buf.Filled() >= n.threshold {
		n.flags.Or(flagThreshold)
		n.emit(EventThresholdReached)
		return nil
	}
	n.emit(EventPacketReceived)
	return nil
}

// SetFrequency applies a host rate request. It returns whether the stream
// must be restarted for the change to take effect.
func (n *USBInput) SetFrequency(freq uint32) bool {
	if freq == n.desc.Frequency() {
		return false
	}
	nearest, changed := n.resolve(freq)
	if !changed {
		return false
	}
	n.desc.SetFrequency(nearest)
	n.packetLength.Store(int32(n.desc.PacketLength(n.speed)))
	n.updateMax()
	n.emit(EventFrequencyChanged)
	return true
}

// USBOutput sends isochronous IN packets to the host from the session ring
// buffer.
type USBOutput struct {
	usbNode

	mode      SyncMode
	adjuster  SampleAdjuster
	buf       *ring.Buffer
	r         *ring.Reader
	alt       []byte
	counter44 int
}

// NewUSBOutput creates an output node using the given rate adaptation mode.
func NewUSBOutput(speed Speed, table FrequencyTable, mode SyncMode) *USBOutput {
	return &USBOutput{
		usbNode: usbNode{kind: NodeUSBOutput, speed: speed, table: table},
		mode:    mode,
	}
}

// Init binds the node to a description and allocates the silence buffer.
func (n *USBOutput) Init(desc *Description, handler EventHandler) error {
	n.init(desc, handler)
	n.updateMax()
	n.state.Store(StateInitialized)
	return nil
}

// SetAdjuster installs the rate adaptation source. A nil adjuster sends
// nominal packets.
func (n *USBOutput) SetAdjuster(a SampleAdjuster) { n.adjuster = a }

func (n *USBOutput) updateMax() {
	if n.mode == SyncNoRemove {
		n.maxPacketLength.Store(int32(n.desc.SyncPacketLength(n.speed)))
	} else {
		n.maxPacketLength.Store(int32(n.desc.MaxPacketLength(n.speed)))
	}
	n.alt = make([]byte, n.MaxPacketLength())
}

// Start attaches the ring buffer.
func (n *USBOutput) Start(buf *ring.Buffer) error {
	if !n.state.Load().startable() {
		return fmt.Errorf("%s start in %s: %w", n.kind, n.State(), pkg.ErrInvalidState)
	}
	n.buf = buf
	n.r = buf.Reader()
	n.flags.Store(0)
	n.counter44 = 0
	n.state.Store(StateStarted)
	return nil
}

func (n *USBOutput) silence(length int) []byte {
	clear(n.alt)
	return n.alt[:length]
}

// Buffer returns the next IN packet. Until the ring is half full, after an
// underrun and after a restart the packet is silence.
func (n *USBOutput) Buffer() ([]byte, error) {
	if n.state.Load() != StateStarted {
		return nil, fmt.Errorf("%s buffer in %s: %w", n.kind, n.State(), pkg.ErrInvalidState)
	}
	if n.flags.Load()&flagRestart != 0 {
		n.flags.Store(0)
		n.r.Rewind()
		n.counter44 = 0
		return n.silence(n.PacketLength()), nil
	}
	n.emit(EventPacketPlayed)

	length := n.PacketLength()
	maxLen := n.MaxPacketLength()
	if n.desc.Frequency() == Frequency44100 {
		if n.counter44 == n.speed.cycle44()-1 {
			length = maxLen
			n.counter44 = 0
		} else {
			n.counter44++
		}
	}

	if n.flags.Load()&flagBeginOfStream == 0 {
		if n.buf.WriteOffset() < n.buf.Size()/2 {
			return n.silence(length), nil
		}
		n.emit(EventBeginOfStream)
		n.flags.Or(flagBeginOfStream)
	}

	// The adjusted packet, plus any skipped bytes, must already be
	// buffered.
	nominal, adj := length, 0
	if n.adjuster != nil {
		adj = n.adjuster.SamplesToAdd()
		if n.mode == SyncNoRemove {
			length = min(length+adj, maxLen)
		} else if adj < 0 {
			length += adj
		}
	}
	need := length
	if n.mode != SyncNoRemove && adj > 0 {
		need += adj
	}
	if n.buf.Filled() < need {
		n.emit(EventUnderrun)
		return n.silence(nominal), nil
	}

	if n.adjuster != nil {
		if n.mode == SyncNoRemove {
			n.adjuster.NotifySamplesRead(length)
		} else {
			if adj > 0 {
				n.r.Skip(adj)
			}
			n.adjuster.NotifySamplesRead(length + max(adj, 0))
		}
	}

	pkt := n.r.Peek()[:length]
	n.r.Advance(length)
	n.packets.Add(1)
	n.bytes.Add(uint64(length))
	return pkt, nil
}

// SetFrequency applies a host rate request. A request for the current rate
// still reports that a restart is required so the host's reopen resyncs
// the stream.
func (n *USBOutput) SetFrequency(freq uint32) bool {
	if freq == n.desc.Frequency() {
		return true
	}
	nearest, changed := n.resolve(freq)
	if !changed {
		return false
	}
	n.desc.SetFrequency(nearest)
	n.updateMax()
	n.packetLength.Store(int32(n.desc.PacketLength(n.speed)))
	n.emit(EventFrequencyChanged)
	return true
}
