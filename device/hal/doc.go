// Package hal defines the Hardware Abstraction Layer between the device
// stack and a USB controller.
//
// The device stack implements all USB protocol logic and leaves the HAL to
// move bytes: SETUP packets and data stages on EP0, packets on data
// endpoints, and connection state.
//
// # Interfaces
//
// [DeviceHAL] is the contract every HAL implements:
//
//   - Lifecycle: Init, Start, Stop
//   - Control endpoint: ReadSetup, ReadEP0, WriteEP0, AckEP0, StallEP0
//   - Data endpoints: Read and Write, one packet per call
//   - Connection: IsConnected, GetSpeed, WaitConnect, WaitDisconnect
//
// [FrameNotifier] is optional. A HAL that can observe Start-of-Frame
// tokens implements it so the stack can forward frame numbers to class
// drivers, which isochronous audio needs for feedback and implicit rate
// tracking.
//
// # Implementations
//
// Two HALs ship with the module:
//
//   - [github.com/ardnew/softaudio/device/hal/fifo] exchanges framed
//     messages with an external host process over named pipes.
//   - [github.com/ardnew/softaudio/device/hal/loopback] is an in-process
//     host used by tests and the simulator.
package hal
