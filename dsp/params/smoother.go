package params

import (
	"math"
	"math/bits"
)

// Smoother is a one-pole lag toward a target value, advanced one sample at a
// time. Leaf modules use it for per-sample parameter interpolation.
type Smoother struct {
	sampleRate  float64
	timeMs      float64
	target      float64
	current     float64
	coefficient float64
}

// Prepare sets the sample rate and recomputes the lag coefficient.
func (s *Smoother) Prepare(sampleRate float64) {
	if sampleRate <= 0 {
		sampleRate = 48000
	}

	s.sampleRate = sampleRate
	s.updateCoefficient()
}

// SetTimeMs sets the smoothing time constant in milliseconds.
func (s *Smoother) SetTimeMs(timeMs float64) {
	if timeMs < 0 {
		timeMs = 0
	}

	s.timeMs = timeMs
	s.updateCoefficient()
}

// SetTarget sets the value the smoother ramps toward.
func (s *Smoother) SetTarget(v float64) { s.target = v }

// Target returns the current target value.
func (s *Smoother) Target() float64 { return s.target }

// Reset jumps current and target to v without ramping.
func (s *Smoother) Reset(v float64) {
	s.target = v
	s.current = v
}

// Next advances the smoother by one sample and returns the new value.
func (s *Smoother) Next() float64 {
	s.current = s.target + (s.current-s.target)*s.coefficient
	return s.current
}

// Value returns the current value without advancing.
func (s *Smoother) Value() float64 { return s.current }

// Skip advances the smoother by frames samples in one step and returns the
// new value. Block-rate consumers use it so their ramp times stay in real
// time regardless of block size.
func (s *Smoother) Skip(frames int) float64 {
	if frames <= 0 {
		return s.current
	}

	coeff := math.Pow(s.coefficient, float64(frames))
	s.current = s.target + (s.current-s.target)*coeff

	return s.current
}

func (s *Smoother) updateCoefficient() {
	if s.sampleRate <= 0 || s.timeMs <= 0 {
		s.coefficient = 0
		return
	}

	samples := s.timeMs * 0.001 * s.sampleRate
	s.coefficient = math.Exp(-1 / samples)
}

const bankSnapEpsilon = 1e-6

// Bank smooths every engine parameter at block rate. A uint64 bitmask tracks
// which parameters are still ramping so settled parameters cost nothing in
// the block loop.
type Bank struct {
	sampleRate float64
	timeMs     [Count]float64
	target     [Count]float64
	current    [Count]float64
	ramping    uint64
	primed     bool
}

// Prepare sets the sample rate and installs per-parameter smoothing times.
func (b *Bank) Prepare(sampleRate float64) {
	if sampleRate <= 0 {
		sampleRate = 48000
	}

	b.sampleRate = sampleRate

	for i := range b.timeMs {
		b.timeMs[i] = defaultSmoothingMs(ID(i))
	}

	b.primed = false
	b.ramping = 0
}

// SetTarget updates one parameter target. The first call after Prepare (or
// Reset) primes the smoother directly at the target so playback does not
// start with a sweep from zero.
func (b *Bank) SetTarget(id ID, v float64) {
	if !id.Valid() {
		return
	}

	b.target[id] = v

	if !b.primed {
		return
	}

	if math.Abs(b.current[id]-v) > bankSnapEpsilon {
		b.ramping |= 1 << uint(id)
	}
}

// Advance moves every still-ramping parameter toward its target by frames
// samples and returns the resolved values. Settled parameters are skipped via
// the ramping bitmask.
func (b *Bank) Advance(frames int) *[Count]float64 {
	if !b.primed {
		b.current = b.target
		b.ramping = 0
		b.primed = true

		return &b.current
	}

	if b.ramping == 0 {
		return &b.current
	}

	mask := b.ramping
	for mask != 0 {
		id := ID(bits.TrailingZeros64(mask))
		mask &^= 1 << uint(id)

		coeff := b.blockCoefficient(id, frames)
		b.current[id] = b.target[id] + (b.current[id]-b.target[id])*coeff

		if math.Abs(b.current[id]-b.target[id]) <= bankSnapEpsilon {
			b.current[id] = b.target[id]
			b.ramping &^= 1 << uint(id)
		}
	}

	return &b.current
}

// Ramping reports whether id is still moving toward its target.
func (b *Bank) Ramping(id ID) bool {
	if !id.Valid() {
		return false
	}

	return b.ramping&(1<<uint(id)) != 0
}

// Reset clears all state; the next SetTarget/Advance pair primes directly.
func (b *Bank) Reset() {
	b.primed = false
	b.ramping = 0
}

func (b *Bank) blockCoefficient(id ID, frames int) float64 {
	timeMs := b.timeMs[id]
	if timeMs <= 0 || frames <= 0 {
		return 0
	}

	tauSamples := timeMs * 0.001 * b.sampleRate

	return math.Exp(-float64(frames) / tauSamples)
}

// defaultSmoothingMs returns the per-parameter ramp time. The times are tuned
// the same way as the kernel's internal smoothers: slow for loop-critical
// controls, faster for cosmetic ones.
func defaultSmoothingMs(id ID) float64 {
	switch id {
	case Time:
		return 40
	case Mass:
		return 60
	case Gravity:
		return 80
	case Bloom:
		return 40
	case Density, Warp, Drift:
		return 30
	default:
		return 20
	}
}
