package codec

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingTicker struct{ n atomic.Int64 }

func (c *countingTicker) Tick() { c.n.Add(1) }

func TestClockAdvance(t *testing.T) {
	tests := []struct {
		name  string
		ppm   float64
		steps int
		want  int64
	}{
		{"nominal", 0, 10, 10},
		{"fast", 500000, 4, 6},
		{"slow", -500000, 4, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Clock{PPM: tt.ppm}
			tk := &countingTicker{}
			for range tt.steps {
				c.Advance(tk)
			}
			assert.Equal(t, tt.want, tk.n.Load())
		})
	}
}

func TestClockPeriod(t *testing.T) {
	assert.Equal(t, time.Millisecond, (&Clock{}).Period())
	assert.Equal(t, 500*time.Microsecond, (&Clock{PPM: 1e6}).Period())
}

func TestClockRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	tk := &countingTicker{}
	err := (&Clock{}).Run(ctx, tk)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, tk.n.Load())
}
