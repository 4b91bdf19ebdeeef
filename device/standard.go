package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softaudio/device/hal"
	"github.com/ardnew/softaudio/pkg"
)

// standardRequest serves one chapter 9 request. The returned slice is the
// IN data stage; nil for OUT requests.
type standardRequest func(s *Stack, setup *SetupPacket) ([]byte, error)

type standardKey struct {
	recipient uint8
	request   uint8
}

// standardRequests lists every standard request the stack answers.
// Anything else is stalled, including remote wakeup and test mode, which
// this device does not offer.
var standardRequests = map[standardKey]standardRequest{
	{RecipientDevice, RequestGetStatus}:        (*Stack).getDeviceStatus,
	{RecipientDevice, RequestSetAddress}:       (*Stack).setAddress,
	{RecipientDevice, RequestGetDescriptor}:    (*Stack).getDescriptor,
	{RecipientDevice, RequestGetConfiguration}: (*Stack).getConfiguration,
	{RecipientDevice, RequestSetConfiguration}: (*Stack).setConfiguration,

	{RecipientInterface, RequestGetStatus}:    (*Stack).getInterfaceStatus,
	{RecipientInterface, RequestGetInterface}: (*Stack).getInterface,
	{RecipientInterface, RequestSetInterface}: (*Stack).setInterface,

	{RecipientEndpoint, RequestGetStatus}:    (*Stack).getEndpointStatus,
	{RecipientEndpoint, RequestSetFeature}:   (*Stack).setHalt,
	{RecipientEndpoint, RequestClearFeature}: (*Stack).clearHalt,
	{RecipientEndpoint, RequestSynchFrame}:   (*Stack).synchFrame,
}

func (s *Stack) handleStandard(setup *SetupPacket) ([]byte, error) {
	fn, ok := standardRequests[standardKey{setup.Recipient(), setup.Request}]
	if !ok {
		return nil, fmt.Errorf("unsupported %s: %w", setup, pkg.ErrInvalidRequest)
	}
	return fn(s, setup)
}

func (s *Stack) reply16(v uint16) []byte {
	s.resp = binary.LittleEndian.AppendUint16(s.resp[:0], v)
	return s.resp
}

func (s *Stack) getDeviceStatus(*SetupPacket) ([]byte, error) {
	c := s.dev.Active()
	if c == nil && len(s.dev.configs) > 0 {
		c = s.dev.configs[0]
	}
	var status uint16
	if c != nil && c.SelfPowered() {
		status |= 1
	}
	return s.reply16(status), nil
}

func (s *Stack) setAddress(setup *SetupPacket) ([]byte, error) {
	return nil, s.dev.setAddress(uint8(setup.Value & 0x7F))
}

func (s *Stack) getDescriptor(setup *SetupPacket) ([]byte, error) {
	index := setup.DescriptorIndex()
	out := s.resp[:0]
	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		out = s.dev.Descriptor.Append(out)
	case DescriptorTypeConfiguration:
		s.dev.mutex.RLock()
		var c *Configuration
		if int(index) < len(s.dev.configs) {
			c = s.dev.configs[index]
		}
		s.dev.mutex.RUnlock()
		if c == nil {
			return nil, fmt.Errorf("configuration index %d: %w", index, pkg.ErrInvalidRequest)
		}
		out = c.AppendDescriptor(out)
	case DescriptorTypeString:
		str := s.dev.String(index)
		if str == nil {
			return nil, fmt.Errorf("string %d: %w", index, pkg.ErrInvalidRequest)
		}
		out = append(out, str...)
	case DescriptorTypeDeviceQualifier:
		// Only a high-speed device has another speed to describe.
		if s.dev.Speed() != hal.SpeedHigh {
			return nil, fmt.Errorf("device qualifier at %s speed: %w", s.dev.Speed(), pkg.ErrNotSupported)
		}
		out = s.dev.Descriptor.appendQualifier(out)
	default:
		return nil, fmt.Errorf("descriptor type %#02x: %w", setup.DescriptorType(), pkg.ErrInvalidRequest)
	}
	s.resp = out
	return out[:min(len(out), int(setup.Length))], nil
}

func (s *Stack) getConfiguration(*SetupPacket) ([]byte, error) {
	var value uint8
	if c := s.dev.Active(); c != nil {
		value = c.Value
	}
	s.resp = append(s.resp[:0], value)
	return s.resp, nil
}

func (s *Stack) setConfiguration(setup *SetupPacket) ([]byte, error) {
	prev, err := s.dev.setConfiguration(uint8(setup.Value))
	if err != nil {
		return nil, err
	}
	if prev != nil {
		prev.resetAlternates()
	}
	s.configureEndpoints()
	return nil, nil
}

func (s *Stack) getInterfaceStatus(setup *SetupPacket) ([]byte, error) {
	if s.dev.Interface(setup.Target()) == nil {
		return nil, fmt.Errorf("interface %d: %w", setup.Target(), pkg.ErrInvalidRequest)
	}
	return s.reply16(0), nil
}

func (s *Stack) getInterface(setup *SetupPacket) ([]byte, error) {
	i := s.dev.Interface(setup.Target())
	if i == nil {
		return nil, fmt.Errorf("interface %d: %w", setup.Target(), pkg.ErrInvalidRequest)
	}
	s.resp = append(s.resp[:0], i.Current())
	return s.resp, nil
}

func (s *Stack) setInterface(setup *SetupPacket) ([]byte, error) {
	i := s.dev.Interface(setup.Target())
	if i == nil {
		return nil, fmt.Errorf("interface %d: %w", setup.Target(), pkg.ErrInvalidRequest)
	}
	alt := uint8(setup.Value)
	if err := i.selectAlternate(alt); err != nil {
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentDevice, "alternate selected",
		"interface", i.Number, "alternate", alt)
	s.configureEndpoints()
	return nil, nil
}

// endpoint resolves the endpoint a request is addressed to.
func (s *Stack) endpoint(setup *SetupPacket) (*Endpoint, error) {
	if c := s.dev.Active(); c != nil {
		if _, ep := c.owner(setup.Target()); ep != nil {
			return ep, nil
		}
	}
	return nil, fmt.Errorf("endpoint %#02x: %w", setup.Target(), pkg.ErrInvalidEndpoint)
}

func (s *Stack) getEndpointStatus(setup *SetupPacket) ([]byte, error) {
	if setup.Target()&0x0F == 0 {
		return s.reply16(0), nil
	}
	ep, err := s.endpoint(setup)
	if err != nil {
		return nil, err
	}
	var status uint16
	if ep.Halted() {
		status = 1
	}
	return s.reply16(status), nil
}

func (s *Stack) setHalt(setup *SetupPacket) ([]byte, error) {
	return nil, s.halt(setup, true)
}

func (s *Stack) clearHalt(setup *SetupPacket) ([]byte, error) {
	return nil, s.halt(setup, false)
}

func (s *Stack) halt(setup *SetupPacket, on bool) error {
	if setup.Value != FeatureEndpointHalt {
		return fmt.Errorf("endpoint feature %d: %w", setup.Value, pkg.ErrInvalidRequest)
	}
	ep, err := s.endpoint(setup)
	if err != nil {
		return err
	}
	ep.halted.Store(on)
	if on {
		return s.hal.Stall(ep.Address)
	}
	return s.hal.ClearStall(ep.Address)
}

func (s *Stack) synchFrame(setup *SetupPacket) ([]byte, error) {
	ep, err := s.endpoint(setup)
	if err != nil {
		return nil, err
	}
	if !ep.IsIsochronous() {
		return nil, fmt.Errorf("synch frame on non-isochronous endpoint %#02x: %w", ep.Address, pkg.ErrInvalidRequest)
	}
	return s.reply16(ep.FrameNumber()), nil
}
