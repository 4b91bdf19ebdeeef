// Package ring implements the fixed-size single-producer/single-consumer
// byte buffer that sits between a USB isochronous endpoint and a codec.
//
// The buffer owns a physical array of Cap bytes, of which the first Size
// bytes form the logical ring. Size is always a whole multiple of the
// packet length it was initialized with. The bytes between Size and Cap
// are a margin that lets the producer write a packet contiguously past the
// end of the ring (the overflow is folded back to the start when the write
// offset advances) and lets the consumer read a packet contiguously past
// the end (the wrapped bytes are mirrored into the margin).
//
// Each offset has exactly one owner. The producer moves wr through a
// [Writer]; the consumer moves rd through a [Reader]. Both offsets are
// atomics so either side may observe the other without locks. [Buffer.Reset]
// is the only operation that touches both and is used for resync after an
// overrun or underrun.
package ring

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/softaudio/pkg"
)

// Buffer is the shared ring storage.
type Buffer struct {
	data []byte
	size atomic.Int64
	wr   atomic.Int64
	_    [48]byte
	rd   atomic.Int64
}

// New allocates a buffer with the given physical capacity. The buffer is
// unusable until [Buffer.Init] is called.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity %d: %w", capacity, pkg.ErrNoMemory)
	}
	return &Buffer{data: make([]byte, capacity)}, nil
}

// Init sets the logical size to the largest multiple of packet that fits in
// the capacity minus margin, and zeroes both offsets.
func (b *Buffer) Init(packet, margin int) error {
	if packet <= 0 || margin < 0 || margin >= len(b.data) {
		return fmt.Errorf("ring init packet=%d margin=%d cap=%d: %w",
			packet, margin, len(b.data), pkg.ErrInvalidParameter)
	}
	size := ((len(b.data) - margin) / packet) * packet
	if size == 0 {
		return fmt.Errorf("ring init packet=%d margin=%d cap=%d: %w",
			packet, margin, len(b.data), pkg.ErrBufferTooSmall)
	}
	b.size.Store(int64(size))
	b.Reset()
	return nil
}

// Reset zeroes both offsets, discarding any buffered data.
func (b *Buffer) Reset() {
	b.rd.Store(0)
	b.wr.Store(0)
}

// Size returns the logical ring size in bytes.
func (b *Buffer) Size() int { return int(b.size.Load()) }

// Cap returns the physical capacity in bytes.
func (b *Buffer) Cap() int { return len(b.data) }

// ReadOffset returns the consumer offset.
func (b *Buffer) ReadOffset() int { return int(b.rd.Load()) }

// WriteOffset returns the producer offset.
func (b *Buffer) WriteOffset() int { return int(b.wr.Load()) }

// Filled returns the number of bytes written but not yet read.
func (b *Buffer) Filled() int {
	wr, rd, size := b.wr.Load(), b.rd.Load(), b.size.Load()
	if wr >= rd {
		return int(wr - rd)
	}
	return int(wr + size - rd)
}

// Free returns the number of bytes that may be written before the producer
// catches up with the consumer.
func (b *Buffer) Free() int {
	wr, rd, size := b.wr.Load(), b.rd.Load(), b.size.Load()
	if wr >= rd {
		return int(rd + size - wr)
	}
	return int(rd - wr)
}

// Bytes exposes the whole physical array. Codec drivers that emulate DMA
// use it to address blocks by offset.
func (b *Buffer) Bytes() []byte { return b.data }

// Writer returns the producer handle.
func (b *Buffer) Writer() *Writer { return &Writer{b} }

// Reader returns the consumer handle.
func (b *Buffer) Reader() *Reader { return &Reader{b} }

// Writer moves the write offset. Only the producer context may use it.
type Writer struct{ b *Buffer }

// Filled returns the number of buffered bytes.
func (w *Writer) Filled() int { return w.b.Filled() }

// Free returns the number of writable bytes.
func (w *Writer) Free() int { return w.b.Free() }

// Size returns the logical ring size.
func (w *Writer) Size() int { return w.b.Size() }

// Slot returns the writable region starting at the write offset. It extends
// through the margin, so a packet of up to Cap-Size bytes always fits.
func (w *Writer) Slot() []byte {
	return w.b.data[w.b.wr.Load():]
}

// Advance commits n bytes written into [Writer.Slot]. Bytes that landed
// past the logical end are folded back to the start of the ring.
func (w *Writer) Advance(n int) {
	b := w.b
	size := b.size.Load()
	wr := b.wr.Load() + int64(n)
	if wr > size {
		wr -= size
		copy(b.data[:wr], b.data[size:size+wr])
	}
	if wr == size {
		wr = 0
	}
	b.wr.Store(wr)
}

// Write copies p to the write offset and advances. The caller must have
// checked Free.
func (w *Writer) Write(p []byte) int {
	n := copy(w.Slot(), p)
	w.Advance(n)
	return n
}

// Reader moves the read offset. Only the consumer context may use it.
type Reader struct{ b *Buffer }

// Filled returns the number of buffered bytes.
func (r *Reader) Filled() int { return r.b.Filled() }

// Free returns the number of writable bytes.
func (r *Reader) Free() int { return r.b.Free() }

// Size returns the logical ring size.
func (r *Reader) Size() int { return r.b.Size() }

// Peek returns the readable region starting at the read offset, extending
// through the margin.
func (r *Reader) Peek() []byte {
	return r.b.data[r.b.rd.Load():]
}

// Advance consumes n bytes returned by [Reader.Peek]. When the read crosses
// the logical end, the bytes the producer wrote at the start of the ring
// are mirrored into the margin so the region just handed out is contiguous.
func (r *Reader) Advance(n int) {
	b := r.b
	size := b.size.Load()
	rd := b.rd.Load() + int64(n)
	if rd > size {
		rd -= size
		copy(b.data[size:size+rd], b.data[:rd])
	}
	if rd == size {
		rd = 0
	}
	b.rd.Store(rd)
}

// Skip discards n bytes without touching the margin.
func (r *Reader) Skip(n int) {
	b := r.b
	size := b.size.Load()
	rd := b.rd.Load() + int64(n)
	for rd >= size && size > 0 {
		rd -= size
	}
	b.rd.Store(rd)
}

// Rewind moves the read offset to the start of the ring without touching
// the write offset.
func (r *Reader) Rewind() {
	r.b.rd.Store(0)
}

// Read copies up to len(p) buffered bytes into p, wrapping at the logical
// end, and returns the count.
func (r *Reader) Read(p []byte) int {
	n := min(len(p), r.Filled())
	if n == 0 {
		return 0
	}
	b := r.b
	size := int(b.size.Load())
	rd := int(b.rd.Load())
	first := size - rd
	if first >= n {
		copy(p[:n], b.data[rd:rd+n])
	} else {
		copy(p[:first], b.data[rd:size])
		copy(p[first:n], b.data[:n-first])
	}
	r.Skip(n)
	return n
}
