package codec

import (
	"context"
	"time"
)

// Ticker is a node driven by a periodic transfer-complete interrupt.
type Ticker interface {
	Tick()
}

// Clock paces a Ticker at a nominal 1 kHz. A positive PPM runs the codec
// fast relative to the host, a negative one slow.
type Clock struct {
	PPM float64

	phase float64
}

// Period returns the tick interval.
func (c *Clock) Period() time.Duration {
	return time.Duration(float64(time.Millisecond) / c.ratio())
}

func (c *Clock) ratio() float64 { return 1 + c.PPM/1e6 }

// Advance accounts for one millisecond of reference time and ticks t as
// many times as the skewed codec clock would have fired in it. It returns
// the number of ticks.
func (c *Clock) Advance(t Ticker) int {
	c.phase += c.ratio()
	n := 0
	for c.phase >= 1 {
		t.Tick()
		c.phase--
		n++
	}
	return n
}

// Run ticks t on the wall clock until ctx is done.
func (c *Clock) Run(ctx context.Context, t Ticker) error {
	tk := time.NewTicker(c.Period())
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			t.Tick()
		}
	}
}
