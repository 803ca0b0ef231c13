package modmatrix

import (
	"math"
	"math/rand"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

// lorenzAttractor iterates the Lorenz system at block rate. The trajectory is
// deterministic but non-repeating, which makes it a good organic modulation
// source. Outputs are three bipolar axes.
type lorenzAttractor struct {
	x, y, z                   float64
	outputX, outputY, outputZ float64
}

const (
	lorenzSigma = 10.0
	lorenzRho   = 28.0
	lorenzBeta  = 8.0 / 3.0
	lorenzDt    = 0.001

	// Iterations per block, calibrated for ~10ms blocks.
	lorenzIterations = 10
)

func (l *lorenzAttractor) reset() {
	// Start on the attractor, slightly off the unstable origin.
	l.x = 0.1
	l.y = 0
	l.z = 0
	l.outputX = 0
	l.outputY = 0
	l.outputZ = 0
}

func (l *lorenzAttractor) advance() {
	for i := 0; i < lorenzIterations; i++ {
		dx := lorenzSigma * (l.y - l.x)
		dy := l.x*(lorenzRho-l.z) - l.y
		dz := l.x*l.y - lorenzBeta*l.z

		l.x += dx * lorenzDt
		l.y += dy * lorenzDt
		l.z += dz * lorenzDt
	}

	// The trajectory stays roughly within x,y in [-20,20] and z in [0,50].
	l.outputX = core.Clamp(l.x/20, -1, 1)
	l.outputY = core.Clamp(l.y/20, -1, 1)
	l.outputZ = core.Clamp((l.z-25)/25, -1, 1)
}

func (l *lorenzAttractor) value(axis int) float64 {
	switch axis {
	case 0:
		return l.outputX
	case 1:
		return l.outputY
	case 2:
		return l.outputZ
	default:
		return 0
	}
}

// audioFollower tracks the RMS envelope of the input with asymmetric
// attack/release. Output is unipolar [0,1].
type audioFollower struct {
	attackCoeff  float64
	releaseCoeff float64
	envelope     float64
}

func (f *audioFollower) prepare(sampleRate float64) {
	f.attackCoeff = math.Exp(-1 / (sampleRate * 0.01))
	f.releaseCoeff = math.Exp(-1 / (sampleRate * 0.15))
	f.reset()
}

func (f *audioFollower) reset() {
	f.envelope = 0
}

func (f *audioFollower) process(buf [][]float64, frames int) {
	if len(buf) == 0 || frames <= 0 {
		return
	}

	sum := 0.0
	total := 0

	for ch := range buf {
		data := buf[ch]
		if frames < len(data) {
			data = data[:frames]
		}

		for _, s := range data {
			sum += s * s
			total++
		}
	}

	rms := 0.0
	if total > 0 {
		rms = math.Sqrt(sum / float64(total))
	}

	coeff := f.releaseCoeff
	if rms > f.envelope {
		coeff = f.attackCoeff
	}

	f.envelope = coeff*f.envelope + (1-coeff)*rms

	// Boost quiet material and soft-clip hot material for a musical range.
	normalized := f.envelope * 2
	if normalized > 1 {
		normalized = 1 - math.Exp(-(normalized - 1))
	}

	f.envelope = core.Clamp(normalized, 0, 1)
}

func (f *audioFollower) value() float64 { return f.envelope }

// brownianWalk is a bounded random walk with velocity inertia. Output is
// bipolar [-1,1]; boundaries reflect with damping so the walk never sticks to
// a rail.
type brownianWalk struct {
	rng      *rand.Rand
	current  float64
	velocity float64
}

const (
	brownianStep    = 0.03
	brownianInertia = 0.65
)

func (b *brownianWalk) reset() {
	b.current = 0
	b.velocity = 0
}

func (b *brownianWalk) advance() {
	step := b.rng.Float64()*2 - 1

	b.velocity = b.velocity*brownianInertia + step*(1-brownianInertia)
	b.current += b.velocity * brownianStep

	if b.current > 1 {
		b.current = 1 - (b.current-1)*0.5
		b.velocity *= -0.5
	} else if b.current < -1 {
		b.current = -1 + (-1-b.current)*0.5
		b.velocity *= -0.5
	}

	b.current = core.Clamp(b.current, -1, 1)
}

func (b *brownianWalk) value() float64 { return b.current }

// trackerStage classifies the envelope motion of the input.
type trackerStage int

const (
	stageAttack trackerStage = iota
	stageSustain
	stageRelease
)

// envelopeTracker is a multi-stage envelope detector. It blends peak and RMS
// level, classifies rising/stable/falling motion, and applies a stage-specific
// coefficient. Output is unipolar [0,1].
type envelopeTracker struct {
	fastAttackCoeff   float64
	mediumAttackCoeff float64
	releaseCoeff      float64
	envelope          float64
	peak              float64
	stage             trackerStage
}

const trackerThreshold = 0.01

func (t *envelopeTracker) prepare(sampleRate float64) {
	t.fastAttackCoeff = math.Exp(-1 / (sampleRate * 0.005))
	t.mediumAttackCoeff = math.Exp(-1 / (sampleRate * 0.02))
	t.releaseCoeff = math.Exp(-1 / (sampleRate * 0.3))
	t.reset()
}

func (t *envelopeTracker) reset() {
	t.envelope = 0
	t.peak = 0
	t.stage = stageRelease
}

func (t *envelopeTracker) process(buf [][]float64, frames int) {
	if len(buf) == 0 || frames <= 0 {
		return
	}

	peak := 0.0
	sum := 0.0
	total := 0

	for ch := range buf {
		data := buf[ch]
		if frames < len(data) {
			data = data[:frames]
		}

		for _, s := range data {
			a := math.Abs(s)
			if a > peak {
				peak = a
			}

			sum += a * a
			total++
		}
	}

	rms := 0.0
	if total > 0 {
		rms = math.Sqrt(sum / float64(total))
	}

	// Peak emphasizes transients, RMS carries the body.
	instant := peak*0.6 + rms*0.4

	switch {
	case instant > t.envelope+trackerThreshold:
		t.stage = stageAttack
		t.envelope = t.fastAttackCoeff*t.envelope + (1-t.fastAttackCoeff)*instant

		if t.envelope > t.peak {
			t.peak = t.envelope
		}
	case instant > trackerThreshold && math.Abs(instant-t.envelope) < trackerThreshold:
		t.stage = stageSustain
		t.envelope = t.mediumAttackCoeff*t.envelope + (1-t.mediumAttackCoeff)*instant
	default:
		t.stage = stageRelease
		t.envelope = t.releaseCoeff*t.envelope + (1-t.releaseCoeff)*instant
		t.peak *= 0.999
	}

	out := t.envelope * 2.5
	if out > 1 {
		out = 1 - math.Exp(-(out-1)*0.5)
	}

	t.envelope = core.Clamp(out, 0, 1)
}

func (t *envelopeTracker) value() float64 { return t.envelope }

// LFOShape selects the waveform of one user oscillator.
type LFOShape int

const (
	LFOSine LFOShape = iota
	LFOTriangle
	LFOSawUp
	LFOSawDown
	LFOSquare
	LFOSmoothRandom

	lfoShapeCount
)

var lfoShapeNames = [lfoShapeCount]string{
	LFOSine:         "sine",
	LFOTriangle:     "triangle",
	LFOSawUp:        "sawUp",
	LFOSawDown:      "sawDown",
	LFOSquare:       "square",
	LFOSmoothRandom: "smoothRandom",
}

// Valid reports whether s names a defined shape.
func (s LFOShape) Valid() bool { return s >= 0 && s < lfoShapeCount }

func (s LFOShape) String() string {
	if !s.Valid() {
		return "invalid"
	}

	return lfoShapeNames[s]
}

// LookupLFOShape returns the LFOShape for a canonical shape name.
func LookupLFOShape(name string) (LFOShape, bool) {
	for s, n := range lfoShapeNames {
		if n == name {
			return LFOShape(s), true
		}
	}

	return lfoShapeCount, false
}

// LFOConfig tunes one user oscillator. Out-of-range fields are clamped when
// the configuration is installed.
type LFOConfig struct {
	RateHz      float64
	Shape       LFOShape
	PulseWidth  float64
	PhaseOffset float64
}

// lfo is a block-rate low-frequency oscillator. Output is bipolar [-1,1].
// Reconfiguring keeps the running phase so rate and shape edits glide.
type lfo struct {
	cfg LFOConfig
	rng *rand.Rand

	phase        float64
	randomStart  float64
	randomTarget float64
	current      float64
}

func (l *lfo) reset() {
	l.phase = 0
	l.current = 0
	l.randomStart = l.nextRandom()
	l.randomTarget = l.nextRandom()
}

func (l *lfo) nextRandom() float64 {
	return l.rng.Float64()*2 - 1
}

func (l *lfo) advance(sampleRate float64, frames int) {
	if sampleRate <= 0 || frames <= 0 {
		return
	}

	l.phase += l.cfg.RateHz * float64(frames) / sampleRate

	if l.phase >= 1 {
		l.phase -= math.Floor(l.phase)

		// A new segment starts at every wrap.
		if l.cfg.Shape == LFOSmoothRandom {
			l.randomStart = l.randomTarget
			l.randomTarget = l.nextRandom()
		}
	}

	p := l.phase + l.cfg.PhaseOffset
	if p >= 1 {
		p -= math.Floor(p)
	}

	switch l.cfg.Shape {
	case LFOSine:
		l.current = math.Sin(2 * math.Pi * p)
	case LFOTriangle:
		l.current = 2*math.Abs(2*p-1) - 1
	case LFOSawUp:
		l.current = 2*p - 1
	case LFOSawDown:
		l.current = 1 - 2*p
	case LFOSquare:
		if p < l.cfg.PulseWidth {
			l.current = 1
		} else {
			l.current = -1
		}
	case LFOSmoothRandom:
		l.current = l.randomStart + p*(l.randomTarget-l.randomStart)
	default:
		l.current = 0
	}
}

func (l *lfo) value() float64 { return l.current }
