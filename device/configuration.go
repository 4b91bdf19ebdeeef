package device

import (
	"encoding/binary"
	"sync"

	"github.com/ardnew/softaudio/device/hal"
	"github.com/ardnew/softaudio/pkg"
)

// Configuration is a set of interfaces selected together by
// SET_CONFIGURATION.
type Configuration struct {
	Value       uint8
	StringIndex uint8
	MaxPower    uint8 // 2 mA units

	mutex      sync.RWMutex
	attributes uint8
	interfaces []*Interface
}

func newConfiguration(value uint8) *Configuration {
	return &Configuration{Value: value, MaxPower: 50, attributes: ConfigAttrReserved}
}

// SetSelfPowered sets or clears the self-powered attribute.
func (c *Configuration) SetSelfPowered(on bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if on {
		c.attributes |= ConfigAttrSelfPowered
	} else {
		c.attributes &^= ConfigAttrSelfPowered
	}
}

// SelfPowered reports the self-powered attribute.
func (c *Configuration) SelfPowered() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.attributes&ConfigAttrSelfPowered != 0
}

// NumInterfaces returns the number of interfaces.
func (c *Configuration) NumInterfaces() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.interfaces)
}

// Interfaces returns the interfaces in order. Callers must not modify the
// slice.
func (c *Configuration) Interfaces() []*Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaces
}

// Interface returns interface n, or nil.
func (c *Configuration) Interface(n uint8) *Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for _, i := range c.interfaces {
		if i.Number == n {
			return i
		}
	}
	return nil
}

func (c *Configuration) addInterface(i *Interface) {
	c.mutex.Lock()
	c.interfaces = append(c.interfaces, i)
	c.mutex.Unlock()
}

// owner returns the interface declaring the endpoint at address in any of
// its alternates, and the endpoint.
func (c *Configuration) owner(address uint8) (*Interface, *Endpoint) {
	for _, i := range c.Interfaces() {
		if ep := i.endpoint(address); ep != nil {
			return i, ep
		}
	}
	return nil, nil
}

// endpointConfigs appends the endpoints of every selected alternate.
func (c *Configuration) endpointConfigs(dst []hal.EndpointConfig) []hal.EndpointConfig {
	for _, i := range c.Interfaces() {
		for _, ep := range i.Endpoints() {
			dst = append(dst, ep.config())
		}
	}
	return dst
}

// AppendDescriptor appends the full configuration descriptor, with
// wTotalLength covering every interface, alternate and class-specific
// block.
func (c *Configuration) AppendDescriptor(dst []byte) []byte {
	c.mutex.RLock()
	head := ConfigurationDescriptor{
		NumInterfaces: uint8(len(c.interfaces)),
		Value:         c.Value,
		StringIndex:   c.StringIndex,
		Attributes:    c.attributes,
		MaxPower:      c.MaxPower,
	}
	ifaces := c.interfaces
	c.mutex.RUnlock()

	start := len(dst)
	dst = head.Append(dst)
	for _, i := range ifaces {
		dst = i.appendDescriptors(dst)
	}
	binary.LittleEndian.PutUint16(dst[start+2:], uint16(len(dst)-start))
	return dst
}

// resetAlternates returns every interface to alternate 0 so class drivers
// release streaming resources.
func (c *Configuration) resetAlternates() {
	for _, i := range c.Interfaces() {
		if i.Current() == 0 {
			continue
		}
		if err := i.selectAlternate(0); err != nil {
			pkg.LogWarn(pkg.ComponentDevice, "alternate reset failed",
				"interface", i.Number, "error", err)
		}
	}
}
