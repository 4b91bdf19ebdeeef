// Package fifo implements a [hal.DeviceHAL] over named pipes.
//
// It lets a device stack run in one process while a host simulator drives
// it from another, with no hardware involved.
//
// # Layout
//
// Each device instance creates a unique subdirectory under a shared bus
// directory:
//
//	/tmp/usb-bus/
//	└── device-{uuid}/
//	    ├── connection               # connect/disconnect signal (device → host)
//	    ├── host_to_device           # SETUP and bus events
//	    ├── device_to_host           # control responses
//	    ├── ep1_in, ep1_out          # endpoint 1 data
//	    └── ...                      # up to ep15_in/ep15_out
//
// # Messages
//
// Every message is [type, length_lo, length_hi, payload...].
//
//	0x01 SETUP    [address, setup(8), OUT data stage...]
//	0x02 DATA     packet bytes
//	0x03 ACK
//	0x05 STALL
//	0x12 RESET
//	0x13 ADDRESS  [address]
//	0x14 SOF      [frame_lo, frame_hi]
//	0x15 SUSPEND
//	0x16 RESUME
//
// The OUT data stage of a control write travels with its SETUP message;
// [HAL.ReadEP0] hands it to the stack. SOF messages are delivered to the
// callback registered with [HAL.SetFrameHandler] and SUSPEND/RESUME to the
// one registered with [HAL.SetPowerHandler]. RESET, ADDRESS, SUSPEND and
// RESUME are answered with ACK on device_to_host, the last two once the
// callback returns.
//
// A halted endpoint fails Read and Write with [pkg.ErrStall] until the
// stack clears the halt or reconfigures the endpoints.
//
// # Connection
//
// The device writes 0x01 to the connection FIFO when it is ready and 0x00
// when it goes away, so a host can poll for devices and handle them
// independently.
//
// # Usage
//
//	h := fifo.New("/tmp/usb-bus")
//	h.SetSpeed(hal.SpeedFull)
//
//	builder := device.NewBuilder(0x1209, 0xA0D1).AddConfiguration(1)
//	fn, _ := uac.New(uac.DefaultConfig())
//	fn.ConfigureDevice(builder)
//	dev, _ := builder.Build()
//	fn.AttachToInterfaces(dev)
//
//	stack := device.NewStack(dev, h)
//	fn.SetStack(stack)
//	stack.Start(ctx)
//
//	fmt.Println(h.DeviceDir())
package fifo
