// Package device implements the USB device stack that carries the audio
// function.
//
// It is platform-agnostic and talks to a controller, real or simulated,
// through [hal.DeviceHAL] from [github.com/ardnew/softaudio/device/hal].
//
// # Model
//
// A [Builder] assembles the [Device]:
//
//	dev, err := device.NewBuilder(0x1209, 0xA0D1).
//	    Strings("softaudio", "USB Audio", "0001").
//	    AddConfiguration(1).
//	    AddInterface(device.ClassAudio, 1, 0).ClassSpecific(ac).
//	    AddInterface(device.ClassAudio, 2, 0).
//	    AddAlternate(1).ClassSpecific(as).AddEndpoint(&device.Endpoint{...}).
//	    Build()
//
// Every [Interface] starts with alternate 0. Audio streaming interfaces
// keep it empty (zero bandwidth) and declare their endpoints on an
// operational alternate. The configuration descriptor lists each
// alternate followed by its class-specific block, then each endpoint
// followed by its own class-specific block.
//
// # Requests
//
// [Stack] answers the chapter 9 requests itself. Class requests go to the
// [ClassDriver] bound to the addressed interface, or to the interface
// owning the addressed endpoint. SET_CONFIGURATION, SET_INTERFACE and bus
// reset reprogram the HAL with the endpoints of the selected alternates;
// leaving a configuration returns its interfaces to alternate 0 first.
//
// Hosts build requests with [GetDescriptor], [SetAddress],
// [SetConfiguration], [SetInterface] and [ClassRequest], and decode the
// answers with the Parse functions and [SplitDescriptors].
//
// # Events
//
// A HAL implementing [hal.FrameNotifier] drives [FrameHandler] drivers
// once per (micro)frame. A HAL implementing [hal.PowerNotifier] moves the
// device to [StateSuspended] and back, calling [PowerHandler] drivers on
// each transition.
package device
