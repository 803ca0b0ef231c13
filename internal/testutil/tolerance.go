package testutil

import (
	"math"
	"testing"
)

// RequireBlockFinite fails t if any sample in any channel is NaN or Inf.
func RequireBlockFinite(t *testing.T, buf [][]float64) {
	t.Helper()

	for ch := range buf {
		for i, v := range buf[ch] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("channel %d sample %d: non-finite value %v", ch, i, v)
			}
		}
	}
}

// BlockPeak returns the largest absolute sample across all channels.
func BlockPeak(buf [][]float64) float64 {
	peak := 0.0
	for ch := range buf {
		for _, v := range buf[ch] {
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}
	}

	return peak
}

// RMS returns the root-mean-square level of data, 0 for an empty slice.
func RMS(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range data {
		sum += v * v
	}

	return math.Sqrt(sum / float64(len(data)))
}
