package block

import (
	"github.com/cwbudde/algo-vecmath"
)

// Alloc returns a zero-filled channel-major block of the given shape.
func Alloc(channels, frames int) [][]float64 {
	if channels < 1 {
		channels = 1
	}

	if frames < 0 {
		frames = 0
	}

	buf := make([][]float64, channels)
	for ch := range buf {
		buf[ch] = make([]float64, frames)
	}

	return buf
}

// Frames returns the per-channel length of buf, or 0 for an empty block.
func Frames(buf [][]float64) int {
	if len(buf) == 0 {
		return 0
	}

	return len(buf[0])
}

// View returns a sub-block sharing storage with buf, truncated to frames.
// It allocates the channel header; block-path callers use ViewInto instead.
func View(buf [][]float64, frames int) [][]float64 {
	return ViewInto(make([][]float64, len(buf)), buf, frames)
}

// ViewInto fills hdr with frames-length views of buf, reusing hdr's backing
// array, and returns the filled header. Channels beyond hdr's capacity are
// dropped. Callers size hdr once at prepare time so re-slicing per block
// never allocates.
func ViewInto(hdr, buf [][]float64, frames int) [][]float64 {
	channels := len(buf)
	if channels > cap(hdr) {
		channels = cap(hdr)
	}

	hdr = hdr[:channels]
	for ch := range hdr {
		n := frames
		if n > len(buf[ch]) {
			n = len(buf[ch])
		}

		hdr[ch] = buf[ch][:n]
	}

	return hdr
}

// Copy copies src into dst channel by channel, up to the shorter length.
func Copy(dst, src [][]float64) {
	for ch := range dst {
		if ch >= len(src) {
			return
		}

		n := len(dst[ch])
		if len(src[ch]) < n {
			n = len(src[ch])
		}

		copy(dst[ch][:n], src[ch][:n])
	}
}

// Zero sets all samples in buf to 0.
func Zero(buf [][]float64) {
	for ch := range buf {
		for i := range buf[ch] {
			buf[ch][i] = 0
		}
	}
}

// Scale multiplies all samples in buf by gain in place.
func Scale(buf [][]float64, gain float64) {
	for ch := range buf {
		vecmath.ScaleBlock(buf[ch], buf[ch], gain)
	}
}

// Add adds src into dst sample by sample.
func Add(dst, src [][]float64) {
	for ch := range dst {
		if ch >= len(src) {
			return
		}

		vecmath.AddBlockInPlace(dst[ch], src[ch])
	}
}

// AddScaled adds gain*src into dst sample by sample.
func AddScaled(dst, src [][]float64, gain float64) {
	for ch := range dst {
		if ch >= len(src) {
			return
		}

		n := len(dst[ch])
		if len(src[ch]) < n {
			n = len(src[ch])
		}

		for i := 0; i < n; i++ {
			dst[ch][i] += src[ch][i] * gain
		}
	}
}

// PeakAbs returns the largest absolute sample value in buf.
func PeakAbs(buf [][]float64) float64 {
	peak := 0.0

	for ch := range buf {
		for _, v := range buf[ch] {
			if v < 0 {
				v = -v
			}

			if v > peak {
				peak = v
			}
		}
	}

	return peak
}
