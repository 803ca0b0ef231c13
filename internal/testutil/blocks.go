// Package testutil provides deterministic signals and tolerance checks for
// tests working on channel-major audio blocks.
package testutil

import (
	"math"
	"math/rand"
)

// SilentBlock allocates a zeroed channel-major block.
func SilentBlock(channels, frames int) [][]float64 {
	buf := make([][]float64, channels)
	for ch := range buf {
		buf[ch] = make([]float64, frames)
	}

	return buf
}

// ImpulseBlock allocates a block with a unit impulse at pos in every channel.
func ImpulseBlock(channels, frames, pos int) [][]float64 {
	buf := SilentBlock(channels, frames)
	if pos >= 0 && pos < frames {
		for ch := range buf {
			buf[ch][pos] = 1
		}
	}

	return buf
}

// FillNoise writes the same seeded noise sequence into every channel of buf,
// advancing rng. Correlated channels match how a mono source feeds a stereo
// reverb input.
func FillNoise(buf [][]float64, rng *rand.Rand, amplitude float64) {
	if len(buf) == 0 {
		return
	}

	for i := range buf[0] {
		v := (rng.Float64()*2 - 1) * amplitude
		for ch := range buf {
			buf[ch][i] = v
		}
	}
}

// DeterministicNoise generates seeded white noise.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	rng := rand.New(rand.NewSource(seed))

	out := make([]float64, length)
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}

	return out
}

// DeterministicSine generates a sine wave.
func DeterministicSine(freqHz, sampleRate, amplitude float64, length int) []float64 {
	step := 2 * math.Pi * freqHz / sampleRate

	out := make([]float64, length)
	for i := range out {
		out[i] = amplitude * math.Sin(step*float64(i))
	}

	return out
}
