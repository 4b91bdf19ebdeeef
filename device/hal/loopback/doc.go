// Package loopback implements a [hal.DeviceHAL] whose host is in the same
// process.
//
// [HAL] is handed to the device stack; [Host], obtained from [HAL.Host],
// plays the USB host. Every transfer is a rendezvous: [Host.Out] returns
// once the device's Read has copied the packet, and a device Write returns
// once [Host.In] has copied it. A simulator that issues [Host.Frame]
// followed by one packet per streaming endpoint therefore keeps the
// device's streaming goroutines in lockstep with the frame clock, with no
// wall-clock timing involved.
//
//	h := loopback.New(hal.SpeedFull)
//	stack := device.NewStack(dev, h)
//	stack.Start(ctx)
//
//	host := h.Host()
//	host.Enumerate(ctx, 1, buf)
//	host.SetInterface(ctx, 1, 1)
//	host.Frame(0)
//	host.Out(ctx, 0x01, packet)
//
// Control OUT data stages travel with the SETUP packet and are returned by
// [HAL.ReadEP0], matching the fifo HAL.
package loopback
