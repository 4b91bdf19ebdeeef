package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/softaudio/device"
	"github.com/ardnew/softaudio/device/hal"
	"github.com/ardnew/softaudio/pkg"
)

// ErrEnumerationFailed is returned when the device answers enumeration with
// short or malformed descriptors.
var ErrEnumerationFailed = errors.New("enumeration failed")

// Host drives the device through the bus: control transfers, frames, bus
// power and endpoint traffic. Control transfers are serialized; endpoint
// traffic and frames may run from other goroutines.
type Host struct {
	hal *HAL

	controlMu sync.Mutex
}

// Control performs a control transfer. For OUT requests data is the data
// stage; for IN requests the response is copied into data. A stalled
// request returns [pkg.ErrStall].
func (h *Host) Control(ctx context.Context, setup device.SetupPacket, data []byte) (int, error) {
	h.controlMu.Lock()
	defer h.controlMu.Unlock()

	msg := setupMsg{kind: kindSetup, setup: hal.SetupPacket(setup)}
	if !setup.In() {
		msg.data = data[:min(len(data), int(setup.Length), MaxControlDataSize)]
	}
	resp, err := h.exchange(ctx, msg)
	if err != nil {
		return 0, err
	}
	switch resp.kind {
	case respStall:
		return 0, pkg.ErrStall
	case respAck:
		return len(msg.data), nil
	default:
		if !setup.In() {
			return 0, pkg.ErrProtocol
		}
		return copy(data, resp.data), nil
	}
}

// exchange sends msg and waits for the device's answer. The caller holds
// controlMu.
func (h *Host) exchange(ctx context.Context, msg setupMsg) (response, error) {
	if err := h.send(ctx, msg); err != nil {
		return response{}, err
	}
	return h.receive(ctx)
}

func (h *Host) send(ctx context.Context, msg setupMsg) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.hal.closed():
		return pkg.ErrClosed
	case h.hal.setupCh <- msg:
		return nil
	}
}

func (h *Host) receive(ctx context.Context) (response, error) {
	select {
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-h.hal.closed():
		return response{}, pkg.ErrClosed
	case r := <-h.hal.respCh:
		return r, nil
	}
}

// Reset signals a bus reset. It returns once the device has observed it.
func (h *Host) Reset(ctx context.Context) error {
	h.controlMu.Lock()
	defer h.controlMu.Unlock()
	return h.send(ctx, setupMsg{kind: kindReset})
}

// Suspend idles the bus. It returns after the device's drivers have been
// told.
func (h *Host) Suspend(ctx context.Context) error {
	return h.power(ctx, kindSuspend)
}

// Resume wakes a suspended bus.
func (h *Host) Resume(ctx context.Context) error {
	return h.power(ctx, kindResume)
}

func (h *Host) power(ctx context.Context, kind setupKind) error {
	h.controlMu.Lock()
	defer h.controlMu.Unlock()
	resp, err := h.exchange(ctx, setupMsg{kind: kind})
	if err != nil {
		return err
	}
	if resp.kind != respAck {
		return pkg.ErrProtocol
	}
	return nil
}

// Frame issues a Start-of-Frame. The device's frame handler runs on the
// calling goroutine.
func (h *Host) Frame(frame uint16) {
	if handler := h.hal.onFrame.Load(); handler != nil {
		(*handler)(frame & 0x07FF)
	}
}

// Out sends one packet to an OUT endpoint and returns the number of bytes
// the device accepted.
func (h *Host) Out(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	p := h.hal.pipes[pipeIndex(endpoint&0x0F)]
	if p.stalled.Load() {
		return 0, pkg.ErrStall
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.hal.closed():
		return 0, pkg.ErrClosed
	case p.data <- data:
		return <-p.done, nil
	}
}

// In receives one packet from an IN endpoint.
func (h *Host) In(ctx context.Context, endpoint uint8, buf []byte) (int, error) {
	p := h.hal.pipes[pipeIndex(endpoint|0x80)]
	if p.stalled.Load() {
		return 0, pkg.ErrStall
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.hal.closed():
		return 0, pkg.ErrClosed
	case data := <-p.data:
		n := copy(buf, data)
		p.done <- n
		return n, nil
	}
}

// Enumeration is what the host learned while enumerating.
type Enumeration struct {
	Device        device.DeviceDescriptor
	Configuration device.ConfigurationDescriptor
	Interfaces    []device.InterfaceDescriptor
	Endpoints     []device.EndpointDescriptor

	// Raw is the full configuration descriptor, class-specific blocks
	// included.
	Raw []byte
}

// Endpoint returns the first descriptor of the endpoint at address.
func (e *Enumeration) Endpoint(address uint8) (device.EndpointDescriptor, bool) {
	for _, ep := range e.Endpoints {
		if ep.Address == address {
			return ep, true
		}
	}
	return device.EndpointDescriptor{}, false
}

// Enumerate runs the standard enumeration sequence: bus reset, the first 8
// bytes of the device descriptor, address assignment, the full device
// descriptor, the configuration descriptor at index 0 and
// SET_CONFIGURATION of that configuration.
func (h *Host) Enumerate(ctx context.Context, address uint8) (*Enumeration, error) {
	if err := h.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	// bMaxPacketSize0 is all a host needs before addressing the device.
	var head [8]byte
	n, err := h.Control(ctx, device.GetDescriptor(device.DescriptorTypeDevice, 0, uint16(len(head))), head[:])
	if err != nil {
		return nil, fmt.Errorf("device descriptor: %w", err)
	}
	if n < len(head) || head[1] != device.DescriptorTypeDevice {
		return nil, ErrEnumerationFailed
	}

	if _, err := h.Control(ctx, device.SetAddress(address), nil); err != nil {
		return nil, fmt.Errorf("set address: %w", err)
	}

	e := &Enumeration{}
	buf := make([]byte, device.DeviceDescriptorSize)
	n, err = h.Control(ctx, device.GetDescriptor(device.DescriptorTypeDevice, 0, uint16(len(buf))), buf)
	if err != nil {
		return nil, fmt.Errorf("device descriptor: %w", err)
	}
	if e.Device, err = device.ParseDeviceDescriptor(buf[:n]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}
	pkg.LogDebug(pkg.ComponentHAL, "device descriptor",
		"vendorID", e.Device.VendorID, "productID", e.Device.ProductID)

	if err := h.readConfiguration(ctx, e); err != nil {
		return nil, err
	}

	value := e.Configuration.Value
	if _, err := h.Control(ctx, device.SetConfiguration(value), nil); err != nil {
		return nil, fmt.Errorf("set configuration %d: %w", value, err)
	}

	pkg.LogDebug(pkg.ComponentHAL, "device enumerated",
		"address", address, "configuration", value,
		"interfaces", len(e.Interfaces), "endpoints", len(e.Endpoints))
	return e, nil
}

// readConfiguration fetches the header of configuration 0 for its
// wTotalLength, then the whole descriptor set, and parses the standard
// descriptors in it.
func (h *Host) readConfiguration(ctx context.Context, e *Enumeration) error {
	buf := make([]byte, device.ConfigurationDescriptorSize)
	n, err := h.Control(ctx, device.GetDescriptor(device.DescriptorTypeConfiguration, 0, uint16(len(buf))), buf)
	if err != nil {
		return fmt.Errorf("configuration descriptor: %w", err)
	}
	head, err := device.ParseConfigurationDescriptor(buf[:n])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}

	buf = make([]byte, head.TotalLength)
	n, err = h.Control(ctx, device.GetDescriptor(device.DescriptorTypeConfiguration, 0, head.TotalLength), buf)
	if err != nil {
		return fmt.Errorf("configuration descriptor: %w", err)
	}
	if n != int(head.TotalLength) {
		return fmt.Errorf("%w: configuration descriptor is %d of %d bytes",
			ErrEnumerationFailed, n, head.TotalLength)
	}
	e.Raw = buf

	descs, err := device.SplitDescriptors(buf)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}
	for _, d := range descs {
		switch d[1] {
		case device.DescriptorTypeConfiguration:
			if e.Configuration, err = device.ParseConfigurationDescriptor(d); err != nil {
				return fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
			}
		case device.DescriptorTypeInterface:
			iface, err := device.ParseInterfaceDescriptor(d)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
			}
			e.Interfaces = append(e.Interfaces, iface)
		case device.DescriptorTypeEndpoint:
			ep, err := device.ParseEndpointDescriptor(d)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
			}
			e.Endpoints = append(e.Endpoints, ep)
		}
	}
	return nil
}

// SetInterface selects an alternate setting.
func (h *Host) SetInterface(ctx context.Context, iface, alt uint8) error {
	if _, err := h.Control(ctx, device.SetInterface(iface, alt), nil); err != nil {
		return fmt.Errorf("set interface %d alt %d: %w", iface, alt, err)
	}
	return nil
}
