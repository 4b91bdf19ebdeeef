package device

import (
	"fmt"
	"sync"

	"github.com/ardnew/softaudio/device/hal"
	"github.com/ardnew/softaudio/pkg"
)

// State is the USB 2.0 device state (chapter 9.1).
type State uint8

// Device states.
const (
	StateAttached State = iota
	StatePowered
	StateDefault
	StateAddress
	StateConfigured
	StateSuspended
)

var stateNames = [...]string{"attached", "powered", "default", "address", "configured", "suspended"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Device is the USB-visible model of the device: descriptors, strings,
// configurations and the chapter 9 state machine.
type Device struct {
	Descriptor DeviceDescriptor

	mutex   sync.RWMutex
	configs []*Configuration
	active  *Configuration
	strings [][]byte // index 0 holds the language table

	state   State
	resume  State // state to return to on resume
	address uint8
	speed   hal.Speed
}

// State returns the current device state.
func (d *Device) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

// Address returns the assigned bus address.
func (d *Device) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

// Speed returns the speed reported by the HAL at Start.
func (d *Device) Speed() hal.Speed {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.speed
}

// IsConfigured reports whether a configuration is selected. A suspended
// device keeps its configuration.
func (d *Device) IsConfigured() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.active != nil
}

// Suspended reports whether the bus is suspended.
func (d *Device) Suspended() bool { return d.State() == StateSuspended }

// Configuration returns the configuration with the given
// bConfigurationValue, or nil.
func (d *Device) Configuration(value uint8) *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	for _, c := range d.configs {
		if c.Value == value {
			return c
		}
	}
	return nil
}

// Active returns the selected configuration, or nil.
func (d *Device) Active() *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.active
}

// Interface returns interface n of the selected configuration, or nil.
func (d *Device) Interface(n uint8) *Interface {
	if c := d.Active(); c != nil {
		return c.Interface(n)
	}
	return nil
}

// String returns the encoded string descriptor at index, or nil.
func (d *Device) String(index uint8) []byte {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if int(index) >= len(d.strings) {
		return nil
	}
	return d.strings[index]
}

func (d *Device) setSpeed(s hal.Speed) {
	d.mutex.Lock()
	d.speed = s
	d.mutex.Unlock()
}

func (d *Device) setState(s State) {
	d.mutex.Lock()
	prev := d.state
	d.state = s
	d.mutex.Unlock()
	if prev != s {
		pkg.LogDebug(pkg.ComponentDevice, "device state",
			"from", prev.String(), "to", s.String())
	}
}

// reset returns the device to the default state after a bus reset.
func (d *Device) reset() {
	d.mutex.Lock()
	d.address = 0
	d.active = nil
	d.mutex.Unlock()
	d.setState(StateDefault)
}

func (d *Device) setAddress(address uint8) error {
	d.mutex.Lock()
	if d.state != StateDefault && d.state != StateAddress {
		st := d.state
		d.mutex.Unlock()
		return fmt.Errorf("set address in %s state: %w", st, pkg.ErrInvalidState)
	}
	d.address = address
	d.mutex.Unlock()

	if address == 0 {
		d.setState(StateDefault)
	} else {
		d.setState(StateAddress)
	}
	return nil
}

// setConfiguration selects the configuration with the given value, or
// deconfigures on zero. It returns the previously selected configuration.
func (d *Device) setConfiguration(value uint8) (*Configuration, error) {
	var next *Configuration
	if value != 0 {
		if next = d.Configuration(value); next == nil {
			return nil, fmt.Errorf("configuration %d: %w", value, pkg.ErrInvalidRequest)
		}
	}

	d.mutex.Lock()
	if d.state != StateAddress && d.state != StateConfigured {
		st := d.state
		d.mutex.Unlock()
		return nil, fmt.Errorf("set configuration in %s state: %w", st, pkg.ErrInvalidState)
	}
	prev := d.active
	d.active = next
	d.mutex.Unlock()

	if next == nil {
		d.setState(StateAddress)
	} else {
		d.setState(StateConfigured)
	}
	return prev, nil
}

// suspend enters the suspended state. It reports false if the device was
// already suspended.
func (d *Device) suspend() bool {
	d.mutex.Lock()
	if d.state == StateSuspended {
		d.mutex.Unlock()
		return false
	}
	d.resume = d.state
	d.mutex.Unlock()
	d.setState(StateSuspended)
	return true
}

// wake leaves the suspended state. It reports false if the device was not
// suspended.
func (d *Device) wake() bool {
	d.mutex.Lock()
	if d.state != StateSuspended {
		d.mutex.Unlock()
		return false
	}
	next := d.resume
	if next < StateDefault {
		next = StateDefault
	}
	d.mutex.Unlock()
	d.setState(next)
	return true
}
