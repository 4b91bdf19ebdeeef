package device

import (
	"errors"
	"fmt"

	"github.com/ardnew/softaudio/pkg"
)

// Builder assembles a Device. Each Add call descends one level: a
// configuration holds interfaces, an interface holds alternates (alternate
// 0 is implicit) and an alternate holds endpoints. The first error is
// kept and returned by Build.
type Builder struct {
	dev    *Device
	config *Configuration
	iface  *Interface
	alt    *Alternate
	err    error
}

// NewBuilder starts a full-speed USB 2.0 device with the given identity.
func NewBuilder(vendorID, productID uint16) *Builder {
	return &Builder{dev: &Device{
		Descriptor: DeviceDescriptor{
			USB:            USB,
			MaxPacketSize0: 64,
			VendorID:       vendorID,
			ProductID:      productID,
			Release:        0x0100,
		},
		strings: [][]byte{appendLanguages(nil, LangIDUSEnglish)},
	}}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Strings sets the manufacturer, product and serial number strings.
// Empty strings are left out.
func (b *Builder) Strings(manufacturer, product, serial string) *Builder {
	d := b.dev
	for _, s := range []struct {
		text  string
		index *uint8
	}{
		{manufacturer, &d.Descriptor.Manufacturer},
		{product, &d.Descriptor.Product},
		{serial, &d.Descriptor.SerialNumber},
	} {
		if s.text == "" {
			continue
		}
		*s.index = uint8(len(d.strings))
		d.strings = append(d.strings, appendString(nil, s.text))
	}
	return b
}

// AddConfiguration adds a configuration and makes it current.
func (b *Builder) AddConfiguration(value uint8) *Builder {
	if value == 0 {
		return b.fail(fmt.Errorf("configuration value 0 is reserved: %w", pkg.ErrInvalidParameter))
	}
	if b.dev.Configuration(value) != nil {
		return b.fail(fmt.Errorf("configuration %d declared twice: %w", value, pkg.ErrInvalidParameter))
	}
	b.config = newConfiguration(value)
	b.dev.configs = append(b.dev.configs, b.config)
	b.iface, b.alt = nil, nil
	return b
}

// Configuration returns the current configuration, or nil.
func (b *Builder) Configuration() *Configuration { return b.config }

// AddInterface appends an interface, numbered after those already in the
// current configuration, and makes its alternate 0 current.
func (b *Builder) AddInterface(class, subClass, protocol uint8) *Builder {
	if b.config == nil {
		return b.fail(errors.New("interface added before any configuration"))
	}
	b.iface = newInterface(uint8(b.config.NumInterfaces()), class, subClass, protocol)
	b.config.addInterface(b.iface)
	b.alt = b.iface.alts[0]
	return b
}

// AddAlternate appends an alternate setting to the current interface.
func (b *Builder) AddAlternate(n uint8) *Builder {
	if b.iface == nil {
		return b.fail(errors.New("alternate added before any interface"))
	}
	if b.iface.alternate(n) != nil {
		return b.fail(fmt.Errorf("interface %d alternate %d declared twice: %w",
			b.iface.Number, n, pkg.ErrInvalidParameter))
	}
	b.alt = &Alternate{Number: n}
	b.iface.alts = append(b.iface.alts, b.alt)
	return b
}

// ClassSpecific appends class-specific descriptors to the current
// alternate.
func (b *Builder) ClassSpecific(desc []byte) *Builder {
	if b.alt == nil {
		return b.fail(errors.New("class-specific descriptors before any interface"))
	}
	b.alt.ClassSpecific = append(b.alt.ClassSpecific, desc...)
	return b
}

// AddEndpoint appends ep to the current alternate. An address may appear
// once per alternate.
func (b *Builder) AddEndpoint(ep *Endpoint) *Builder {
	if b.alt == nil {
		return b.fail(errors.New("endpoint added before any interface"))
	}
	if ep.Address&0x0F == 0 {
		return b.fail(fmt.Errorf("endpoint %#02x: %w", ep.Address, pkg.ErrInvalidEndpoint))
	}
	for _, e := range b.alt.endpoints {
		if e.Address == ep.Address {
			return b.fail(fmt.Errorf("endpoint %#02x declared twice: %w", ep.Address, pkg.ErrInvalidEndpoint))
		}
	}
	b.alt.endpoints = append(b.alt.endpoints, ep)
	return b
}

// Build returns the device in the powered state.
func (b *Builder) Build() (*Device, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.dev.configs) == 0 {
		return nil, fmt.Errorf("device has no configuration: %w", pkg.ErrInvalidParameter)
	}
	b.dev.Descriptor.NumConfigurations = uint8(len(b.dev.configs))
	b.dev.state = StatePowered
	pkg.LogDebug(pkg.ComponentDevice, "device built",
		"vendorID", b.dev.Descriptor.VendorID,
		"productID", b.dev.Descriptor.ProductID,
		"configurations", len(b.dev.configs))
	return b.dev, nil
}
