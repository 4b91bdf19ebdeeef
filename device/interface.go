package device

import (
	"fmt"
	"sync"

	"github.com/ardnew/softaudio/pkg"
)

// ClassDriver serves the class requests of the interfaces it is bound to.
type ClassDriver interface {
	// Init is called once when the driver is bound to iface.
	Init(iface *Interface) error

	// HandleSetup serves a class request addressed to iface or to an
	// endpoint it owns. For OUT requests data is the data stage already
	// read; for IN requests it is a wLength buffer to fill, and n is the
	// length to return. Returning handled false, or an error, stalls.
	HandleSetup(iface *Interface, setup *SetupPacket, data []byte) (n int, handled bool, err error)

	// SetAlternate is called before SET_INTERFACE takes effect. An error
	// rejects the alternate.
	SetAlternate(iface *Interface, alt uint8) error

	Close() error
}

// FrameHandler is implemented by class drivers that run once per
// Start-of-Frame. HandleFrame must not block.
type FrameHandler interface {
	HandleFrame(iface *Interface, frame uint16)
}

// PowerHandler is implemented by class drivers that act on bus suspend
// and resume.
type PowerHandler interface {
	Suspend(iface *Interface)
	Resume(iface *Interface)
}

// Alternate is one alternate setting of an interface.
type Alternate struct {
	Number uint8

	// ClassSpecific is emitted after the interface descriptor of this
	// alternate, ahead of its endpoints.
	ClassSpecific []byte

	endpoints []*Endpoint
}

// Endpoints returns the endpoints of the alternate. Callers must not
// modify the slice.
func (a *Alternate) Endpoints() []*Endpoint { return a.endpoints }

// Interface is an interface of a configuration with its alternate
// settings. Alternate 0 always exists.
type Interface struct {
	Number      uint8
	Class       uint8
	SubClass    uint8
	Protocol    uint8
	StringIndex uint8

	mutex   sync.RWMutex
	alts    []*Alternate
	current *Alternate
	driver  ClassDriver
}

func newInterface(number, class, subClass, protocol uint8) *Interface {
	i := &Interface{Number: number, Class: class, SubClass: subClass, Protocol: protocol}
	i.alts = []*Alternate{{Number: 0}}
	i.current = i.alts[0]
	return i
}

// Alternate returns the alternate setting numbered n, or nil.
func (i *Interface) Alternate(n uint8) *Alternate {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.alternate(n)
}

func (i *Interface) alternate(n uint8) *Alternate {
	for _, a := range i.alts {
		if a.Number == n {
			return a
		}
	}
	return nil
}

// Current returns the number of the selected alternate.
func (i *Interface) Current() uint8 {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.current.Number
}

// Endpoints returns the endpoints of the selected alternate.
func (i *Interface) Endpoints() []*Endpoint {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.current.endpoints
}

// endpoint finds address in any alternate, the selected one first.
func (i *Interface) endpoint(address uint8) *Endpoint {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	for _, ep := range i.current.endpoints {
		if ep.Address == address {
			return ep
		}
	}
	for _, a := range i.alts {
		for _, ep := range a.endpoints {
			if ep.Address == address {
				return ep
			}
		}
	}
	return nil
}

// SetClassDriver binds d to the interface and calls d.Init.
func (i *Interface) SetClassDriver(d ClassDriver) error {
	i.mutex.Lock()
	i.driver = d
	i.mutex.Unlock()
	return d.Init(i)
}

// Driver returns the bound class driver, or nil.
func (i *Interface) Driver() ClassDriver {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.driver
}

// selectAlternate switches to alternate n after the class driver accepts
// it.
func (i *Interface) selectAlternate(n uint8) error {
	i.mutex.RLock()
	alt, driver := i.alternate(n), i.driver
	i.mutex.RUnlock()
	if alt == nil {
		return fmt.Errorf("interface %d has no alternate %d: %w", i.Number, n, pkg.ErrInvalidRequest)
	}
	if driver != nil {
		if err := driver.SetAlternate(i, n); err != nil {
			return err
		}
	}
	i.mutex.Lock()
	i.current = alt
	i.mutex.Unlock()
	return nil
}

// appendDescriptors appends every alternate in declaration order, each
// followed by its class-specific block and endpoints.
func (i *Interface) appendDescriptors(dst []byte) []byte {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	for _, a := range i.alts {
		d := InterfaceDescriptor{
			Number:       i.Number,
			Alternate:    a.Number,
			NumEndpoints: uint8(len(a.endpoints)),
			Class:        i.Class,
			SubClass:     i.SubClass,
			Protocol:     i.Protocol,
			StringIndex:  i.StringIndex,
		}
		dst = append(d.Append(dst), a.ClassSpecific...)
		for _, ep := range a.endpoints {
			dst = ep.appendDescriptors(dst)
		}
	}
	return dst
}
