// Package uac implements a USB Audio Class 1.0 function on top of the
// device stack.
//
// A [Function] exposes a fixed topology: an AudioControl interface with a
// feature unit per direction, a playback AudioStreaming interface (host to
// speaker) and a recording AudioStreaming interface (microphone to host).
// Either stream may be disabled in [Config].
//
//	playback:  IT 0x12 (USB streaming) → FU 0x16 → OT 0x14 (speaker)
//	recording: IT 0x11 (microphone)    → FU 0x15 → OT 0x13 (USB streaming)
//
// # Endpoints
//
//	0x01  playback isochronous OUT, asynchronous when feedback is enabled
//	0x81  playback explicit feedback IN, 10.14 samples per frame, 3 bytes
//	0x82  recording isochronous IN, implicit synchronization
//	0x83  AudioControl status interrupt IN (optional)
//
// IN addresses are assigned in that order, so disabling feedback or
// playback moves the later endpoints down.
//
// # Requests
//
// Feature unit requests go to the AudioControl interface with the unit ID
// in the high byte of wIndex and the control selector in the high byte of
// wValue:
//
//	MUTE    GET_CUR, SET_CUR                     1 byte
//	VOLUME  GET_CUR, GET_MIN, GET_MAX, GET_RES,  2 bytes, 1/256 dB
//	        SET_CUR
//
// Sampling frequency requests go to the data endpoint (low byte of
// wIndex): GET_CUR, GET_MIN, GET_MAX and SET_CUR with a 3-byte rate. When
// a new rate needs the stream reopened and the interface is streaming,
// the function closes and reopens it on the same alternate setting.
// Anything else is stalled.
//
// # Streaming
//
// Selecting alternate 1 starts the session and its endpoint goroutines;
// alternate 0 stops them, and so does a bus suspend until the resume. OUT packets are read as the host sends them. IN
// packets, recording data and feedback, are written once per
// Start-of-Frame, so the HAL must implement hal.FrameNotifier. Each frame
// also runs the sessions' synchronization step.
//
// # Usage
//
//	fn, _ := uac.New(uac.DefaultConfig(),
//	    uac.WithSpeaker(codec.NewSpeaker(&codec.DiscardSink{})))
//
//	builder := device.NewBuilder(0x1209, 0xA0D1).
//	    Strings("softaudio", "USB Audio", "0001").
//	    AddConfiguration(1)
//	fn.ConfigureDevice(builder)
//	dev, _ := builder.Build()
//	fn.AttachToInterfaces(dev)
//
//	stack := device.NewStack(dev, h)
//	fn.SetStack(stack)
//	stack.Start(ctx)
package uac
