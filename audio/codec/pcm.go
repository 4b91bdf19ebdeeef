package codec

import (
	"math"
)

// gain converts a volume in 1/256 dB to a linear factor.
func gain(db256 int16, mute bool) float64 {
	if mute {
		return 0
	}
	return math.Pow(10, float64(db256)/256/20)
}

// fullScale returns the largest positive sample value for a resolution in
// bytes.
func fullScale(resolution int) float64 {
	return float64(int64(1)<<(resolution*8-1)) - 1
}

// encodePCM writes samples as little-endian signed integers of resolution
// bytes, scaled by g and clipped to full scale. It returns bytes written.
func encodePCM(dst []byte, samples []float32, resolution int, g float64) int {
	fs := fullScale(resolution)
	n := 0
	for _, s := range samples {
		if n+resolution > len(dst) {
			break
		}
		v := float64(s) * g
		v = math.Max(-1, math.Min(1, v))
		iv := int32(math.Round(v * fs))
		for b := 0; b < resolution; b++ {
			dst[n+b] = byte(iv >> (8 * b))
		}
		n += resolution
	}
	return n
}

// decodePCM reads little-endian signed samples of resolution bytes into
// dst as floats in [-1, 1], scaled by g. It returns samples decoded.
func decodePCM(dst []float32, src []byte, resolution int, g float64) int {
	fs := fullScale(resolution)
	shift := 32 - resolution*8
	n := 0
	for i := 0; i+resolution <= len(src) && n < len(dst); i += resolution {
		var u uint32
		for b := 0; b < resolution; b++ {
			u |= uint32(src[i+b]) << (8 * b)
		}
		v := int32(u<<shift) >> shift
		dst[n] = float32(float64(v) / fs * g)
		n++
	}
	return n
}

// applyGain rescales PCM in place.
func applyGain(pcm []byte, resolution int, g float64, scratch []float32) []float32 {
	count := len(pcm) / resolution
	if cap(scratch) < count {
		scratch = make([]float32, count)
	}
	scratch = scratch[:count]
	decodePCM(scratch, pcm, resolution, 1)
	encodePCM(pcm, scratch, resolution, g)
	return scratch
}
