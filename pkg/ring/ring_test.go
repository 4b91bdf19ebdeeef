package ring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softaudio/pkg"
)

func TestInit(t *testing.T) {
	tests := []struct {
		name     string
		cap      int
		packet   int
		margin   int
		wantSize int
		wantErr  error
	}{
		{"playback 48k stereo", 10240, 192, 196, 9984, nil},
		{"recording 48k stereo", 2048, 192, 192, 1728, nil},
		{"no margin", 100, 10, 0, 100, nil},
		{"zero packet", 100, 0, 0, 0, pkg.ErrInvalidParameter},
		{"margin exceeds cap", 100, 10, 100, 0, pkg.ErrInvalidParameter},
		{"packet exceeds usable", 100, 64, 40, 0, pkg.ErrBufferTooSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.cap)
			require.NoError(t, err)

			err = b.Init(tt.packet, tt.margin)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, b.Size())
			assert.Zero(t, b.Filled())
			assert.Equal(t, tt.wantSize, b.Free())
		})
	}
}

func TestNewRejectsEmpty(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, pkg.ErrNoMemory)
}

func TestFilledPlusFree(t *testing.T) {
	b, err := New(2048)
	require.NoError(t, err)
	require.NoError(t, b.Init(192, 192))

	w, r := b.Writer(), b.Reader()
	rng := rand.New(rand.NewSource(1))
	chunk := make([]byte, 196)
	out := make([]byte, 196)

	for i := 0; i < 10000; i++ {
		if rng.Intn(2) == 0 {
			n := 188 + rng.Intn(9)
			if w.Free() > n {
				w.Write(chunk[:n])
			}
		} else {
			r.Read(out[:188+rng.Intn(9)])
		}
		require.Equal(t, b.Size(), b.Filled()+b.Free(), "iteration %d", i)
		require.GreaterOrEqual(t, b.WriteOffset(), 0)
		require.Less(t, b.WriteOffset(), b.Size())
		require.GreaterOrEqual(t, b.ReadOffset(), 0)
		require.Less(t, b.ReadOffset(), b.Size())
	}
}

func TestWriterFoldsMargin(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)
	require.NoError(t, b.Init(4, 4))
	require.Equal(t, 12, b.Size())

	w, r := b.Writer(), b.Reader()
	w.Write([]byte("01234567"))
	r.Skip(4)
	n := copy(w.Slot(), "abcdef")
	w.Advance(n)

	assert.Equal(t, 2, b.WriteOffset())
	assert.Equal(t, "ef", string(b.Bytes()[:2]))
	assert.Equal(t, "abcd", string(b.Bytes()[8:12]))
	assert.Equal(t, 10, b.Filled())
}

func TestWriterWrapsAtEnd(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)
	require.NoError(t, b.Init(4, 4))

	w := b.Writer()
	w.Write([]byte("0123"))
	w.Write([]byte("4567"))
	w.Write([]byte("89ab"))
	assert.Equal(t, 0, b.WriteOffset())
}

func TestReaderMirrorsMargin(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)
	require.NoError(t, b.Init(4, 4))

	w, r := b.Writer(), b.Reader()
	w.Write([]byte("01234567"))
	r.Advance(8)
	w.Write([]byte("89ab"))
	w.Write([]byte("xy"))

	pkt := r.Peek()[:6]
	r.Advance(6)

	assert.Equal(t, "89abxy", string(pkt))
	assert.Equal(t, 2, b.ReadOffset())
}

func TestReaderReadWraps(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)
	require.NoError(t, b.Init(4, 4))

	w, r := b.Writer(), b.Reader()
	w.Write([]byte("01234567"))
	out := make([]byte, 8)
	require.Equal(t, 8, r.Read(out))
	w.Write([]byte("89ab"))
	w.Write([]byte("cdef"))

	out = make([]byte, 8)
	n := r.Read(out)
	assert.Equal(t, 8, n)
	assert.Equal(t, "89abcdef", string(out))
	assert.Equal(t, 4, b.ReadOffset())
}

func TestSkipAndReset(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)
	require.NoError(t, b.Init(4, 4))

	w, r := b.Writer(), b.Reader()
	w.Write([]byte("01234567"))
	r.Skip(4)
	assert.Equal(t, 4, b.Filled())

	b.Reset()
	assert.Zero(t, b.Filled())
	assert.Zero(t, b.ReadOffset())
	assert.Zero(t, b.WriteOffset())
}
