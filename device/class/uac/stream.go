package uac

import (
	"context"
	"errors"

	"github.com/ardnew/softaudio/audio"
	"github.com/ardnew/softaudio/pkg"
)

// startStream launches the endpoint goroutines of an open streaming
// interface. Callers hold f.mutex.
func (f *Function) startStream(st *stream) {
	if f.stack == nil {
		pkg.LogWarn(pkg.ComponentClass, "streaming without a stack",
			"interface", st.iface.Number)
		return
	}
	ctx, cancel := context.WithCancel(f.stack.Context())
	st.cancel = cancel

	switch s := st.session.(type) {
	case *audio.Playback:
		st.wg.Add(1)
		go f.receiveLoop(ctx, st, s.Input())
		if st.syncEP != nil {
			st.wg.Add(1)
			go f.feedbackLoop(ctx, st)
		}
	case *audio.Recording:
		st.wg.Add(1)
		go f.transmitLoop(ctx, st, s.Output())
	}
}

// stopStream cancels the endpoint goroutines without waiting for them;
// they take f.mutex before touching the session and exit once they
// observe the cancellation. Callers hold f.mutex.
func (f *Function) stopStream(st *stream) {
	if st.cancel == nil {
		return
	}
	st.cancel()
	st.cancel = nil
}

// Wait blocks until every endpoint goroutine has exited.
func (f *Function) Wait() {
	f.mutex.Lock()
	streams := f.streams[:f.numStreams]
	f.mutex.Unlock()
	for _, st := range streams {
		st.wg.Wait()
	}
}

func streamDone(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, pkg.ErrClosed) || errors.Is(err, pkg.ErrNotConfigured)
}

// receiveLoop moves isochronous OUT packets into the playback ring. The
// packet is read into a private buffer so the ring is only touched under
// the lock.
func (f *Function) receiveLoop(ctx context.Context, st *stream, in *audio.USBInput) {
	defer st.wg.Done()
	scratch := make([]byte, st.dataEP.MaxPacketSize)
	for {
		n, err := f.stack.Read(ctx, st.dataEP, scratch)
		if err != nil {
			if streamDone(ctx, err) {
				return
			}
			pkg.LogDebug(pkg.ComponentClass, "playback read failed", "error", err)
			continue
		}

		f.mutex.Lock()
		if ctx.Err() != nil {
			f.mutex.Unlock()
			return
		}
		buf, err := in.Buffer()
		if err == nil {
			err = in.DataReceived(copy(buf, scratch[:n]))
		}
		f.mutex.Unlock()
		if err != nil {
			pkg.LogDebug(pkg.ComponentClass, "playback packet dropped", "error", err)
		}
	}
}

// transmitLoop sends one recording packet per frame.
func (f *Function) transmitLoop(ctx context.Context, st *stream, out *audio.USBOutput) {
	defer st.wg.Done()
	scratch := make([]byte, st.dataEP.MaxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-st.dataTick:
		}

		f.mutex.Lock()
		if ctx.Err() != nil {
			f.mutex.Unlock()
			// Hand the frame to the loop that replaced this one.
			signal(st.dataTick)
			return
		}
		pkt, err := out.Buffer()
		n := copy(scratch, pkt)
		f.mutex.Unlock()
		if err != nil {
			// The frame still gets a zero-length packet.
			pkg.LogDebug(pkg.ComponentClass, "recording packet unavailable", "error", err)
			n = 0
		}

		if _, err := f.stack.Write(ctx, st.dataEP, scratch[:n]); err != nil {
			if streamDone(ctx, err) {
				return
			}
			pkg.LogDebug(pkg.ComponentClass, "recording write failed", "error", err)
		}
	}
}

// feedbackLoop reports the playback rate on the feedback endpoint once
// per frame.
func (f *Function) feedbackLoop(ctx context.Context, st *stream) {
	defer st.wg.Done()
	var pkt [audio.FeedbackSize]byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-st.syncTick:
		}
		if ctx.Err() != nil {
			signal(st.syncTick)
			return
		}
		audio.EncodeFeedback(st.feedback.Load(), pkt[:])
		if _, err := f.stack.Write(ctx, st.syncEP, pkt[:]); err != nil {
			if streamDone(ctx, err) {
				return
			}
			pkg.LogDebug(pkg.ComponentClass, "feedback write failed", "error", err)
		}
	}
}

// notify queues a status message for the interrupt endpoint. Callers hold
// f.mutex.
func (f *Function) notify(irq audio.Interrupt) {
	if f.interruptEP == nil || f.stack == nil {
		return
	}
	f.irqOnce.Do(func() {
		go f.interruptLoop(f.stack.Context())
	})
	status := [StatusSize]byte{StatusInterruptPending | StatusOriginatorAC, irq.Entity}
	select {
	case f.irqs <- status:
		pkg.LogDebug(pkg.ComponentClass, "status interrupt queued",
			"entity", irq.Entity, "selector", irq.Selector)
	default:
		pkg.LogWarn(pkg.ComponentClass, "status interrupt dropped",
			"entity", irq.Entity)
	}
}

func (f *Function) interruptLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case status := <-f.irqs:
			if _, err := f.stack.Write(ctx, f.interruptEP, status[:]); err != nil {
				if streamDone(ctx, err) {
					return
				}
				pkg.LogDebug(pkg.ComponentClass, "status interrupt failed", "error", err)
			}
		}
	}
}
