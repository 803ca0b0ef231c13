package chambers

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/delay"
	"github.com/cwbudde/monument/dsp/params"
)

const (
	numLines            = 8
	referenceSampleRate = 48000.0

	maxFeedback      = 0.98
	minFeedbackBase  = 0.35
	maxFeedbackBase  = 0.92
	minDampingBase   = 0.1
	maxDampingBase   = 0.85
	maxLineDamping   = 0.98
	wetCeiling       = 0.95
	freezeCeiling    = 0.9
	freezeRampMs     = 40.0
	gravityCutoffMin = 20.0
	gravityCutoffMax = 200.0

	envelopeMinSeconds = 1.0
	envelopeMaxSeconds = 12.0
	bloomPeakGain      = 0.5
	envelopeThreshold  = 0.01

	driftDepthSamples = 6.0
	driftRateMinHz    = 0.05
	driftRateMaxHz    = 0.4
)

// Delay lengths in samples at 48 kHz. Primes above 5 share no factors with
// 48 kHz and spread from ~50 ms to ~1.23 s for a non-repeating late field.
var lineDelay48k = [numLines]int{2411, 4201, 7001, 11003, 17011, 26003, 39019, 59009}

// Input diffusion delays (48 kHz), 1-5 ms and incommensurate.
var inputDiffuserDelay48k = [2]int{149, 223}

// Late diffusion delays (48 kHz), sub-10 ms, incommensurate across lines.
var lateDiffuserDelay48k = [numLines]int{157, 173, 197, 223, 251, 281, 313, 347}

var dampingOffsets = [numLines]float64{-0.035, -0.025, -0.015, -0.005, 0.005, 0.015, 0.025, 0.035}

var lateCoeffOffsets = [numLines]float64{-0.06, -0.045, -0.03, -0.015, 0.015, 0.03, 0.045, 0.06}

var inputMid = [numLines]float64{1, -1, 1, -1, 1, -1, 1, -1}

var inputSide = [numLines]float64{1, -1, -1, 1, 1, -1, -1, 1}

// Constant-power pan weights per line (no sign flips) so a mono sum keeps
// every tap. Pan positions: {-0.9, 0.9, -0.7, 0.7, -0.5, 0.5, -0.3, 0.3}.
var outputLeft = [numLines]float64{
	0.9969173, 0.0784591, 0.9723699, 0.2334454,
	0.9238795, 0.3826834, 0.8526402, 0.5224986,
}

var outputRight = [numLines]float64{
	0.0784591, 0.9969173, 0.2334454, 0.9723699,
	0.3826834, 0.9238795, 0.5224986, 0.8526402,
}

const outputGain = 0.5 // sum(L^2) == sum(R^2) == 4.0, normalize to unity.

// FreezeState is the kernel's freeze machine position.
type FreezeState int

const (
	FreezeLive FreezeState = iota
	FreezeTransitioning
	FreezeFrozen
)

func (s FreezeState) String() string {
	switch s {
	case FreezeLive:
		return "live"
	case FreezeTransitioning:
		return "transitioning"
	case FreezeFrozen:
		return "frozen"
	default:
		return "invalid"
	}
}

// Chambers is the 8-line feedback delay network at the center of the engine.
// The feedback matrix is a warp-controlled morph between a Hadamard spread
// and a Householder reflection, renormalized to unit spectral norm so loop
// gain stays governed by the feedback coefficient alone.
type Chambers struct {
	sampleRate float64
	maxBlock   int
	channels   int

	lines       [numLines]*delay.Line
	delayLength [numLines]float64
	lowpass     [numLines]float64
	gravityLow  [numLines]float64

	inputDiffusers [2]diffuser
	lateDiffusers  [numLines]diffuser

	timeSm    params.Smoother
	massSm    params.Smoother
	densitySm params.Smoother
	gravitySm params.Smoother
	bloomSm   params.Smoother
	warpSm    params.Smoother
	driftSm   params.Smoother
	primed    bool

	gravityCoeffMin float64
	gravityCoeffMax float64

	freezeTarget float64
	freezeBlend  float64
	freezeStep   float64

	envelopeSeconds float64
	envelopeValue   float64
	envelopeArmed   bool

	driftPhase float64

	warpCacheValue   float64
	warpCacheInvNorm float64
	warpCacheSet     bool
}

// New returns an unprepared kernel with neutral parameter targets.
func New() *Chambers {
	c := &Chambers{}
	c.timeSm.SetTimeMs(40)
	c.massSm.SetTimeMs(60)
	c.densitySm.SetTimeMs(30)
	c.gravitySm.SetTimeMs(80)
	c.bloomSm.SetTimeMs(40)
	c.warpSm.SetTimeMs(30)
	c.driftSm.SetTimeMs(30)

	return c
}

// Prepare sizes the delay network for the sample rate and clears all state.
func (c *Chambers) Prepare(sampleRate float64, maxBlock, channels int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("chambers sample rate must be > 0: %f", sampleRate)
	}

	if maxBlock <= 0 {
		return fmt.Errorf("chambers max block must be > 0: %d", maxBlock)
	}

	if channels <= 0 {
		return fmt.Errorf("chambers channels must be > 0: %d", channels)
	}

	c.sampleRate = sampleRate
	c.maxBlock = maxBlock
	c.channels = channels

	scale := sampleRate / referenceSampleRate

	for i := range c.lines {
		length := math.Max(1, float64(lineDelay48k[i])*scale)
		c.delayLength[i] = length

		size := int(math.Ceil(length+driftDepthSamples*scale)) + 4

		line, err := delay.New(size)
		if err != nil {
			return err
		}

		c.lines[i] = line
	}

	for i := range c.inputDiffusers {
		samples := int(math.Round(float64(inputDiffuserDelay48k[i]) * scale))
		if samples < 1 {
			samples = 1
		}

		if err := c.inputDiffusers[i].prepare(samples); err != nil {
			return err
		}
	}

	for i := range c.lateDiffusers {
		samples := int(math.Round(float64(lateDiffuserDelay48k[i]) * scale))
		if samples < 1 {
			samples = 1
		}

		if err := c.lateDiffusers[i].prepare(samples); err != nil {
			return err
		}
	}

	c.gravityCoeffMin = onePoleCoeffFromHz(gravityCutoffMin, sampleRate)
	c.gravityCoeffMax = onePoleCoeffFromHz(gravityCutoffMax, sampleRate)

	rampSamples := math.Max(1, math.Round(sampleRate*freezeRampMs/1000))
	c.freezeStep = 1 / rampSamples

	c.timeSm.Prepare(sampleRate)
	c.massSm.Prepare(sampleRate)
	c.densitySm.Prepare(sampleRate)
	c.gravitySm.Prepare(sampleRate)
	c.bloomSm.Prepare(sampleRate)
	c.warpSm.Prepare(sampleRate)
	c.driftSm.Prepare(sampleRate)

	c.Reset()

	return nil
}

// Reset clears the delay network and envelope state without touching
// parameter targets.
func (c *Chambers) Reset() {
	c.silentReset()
	c.primed = false
	c.freezeBlend = 0
	c.freezeTarget = 0
	c.driftPhase = 0
}

func (c *Chambers) silentReset() {
	for i := range c.lines {
		if c.lines[i] != nil {
			c.lines[i].Reset()
		}

		c.lowpass[i] = 0
		c.gravityLow[i] = 0
	}

	for i := range c.inputDiffusers {
		c.inputDiffusers[i].reset()
	}

	for i := range c.lateDiffusers {
		c.lateDiffusers[i].reset()
	}

	c.envelopeSeconds = 0
	c.envelopeValue = 1
	c.envelopeArmed = true
}

// Apply installs the block's resolved parameters as smoother targets.
func (c *Chambers) Apply(snap *params.Snapshot) {
	c.timeSm.SetTarget(snap.Get(params.Time))
	c.massSm.SetTarget(snap.Get(params.Mass))
	c.densitySm.SetTarget(snap.Get(params.Density))
	c.gravitySm.SetTarget(snap.Get(params.Gravity))
	c.bloomSm.SetTarget(snap.Get(params.Bloom))
	c.warpSm.SetTarget(snap.Get(params.Warp))
	c.driftSm.SetTarget(snap.Get(params.Drift))

	if snap.Freeze {
		c.freezeTarget = 1
	} else {
		c.freezeTarget = 0
	}
}

// State reports the freeze machine position.
func (c *Chambers) State() FreezeState {
	switch {
	case c.freezeBlend <= 0 && c.freezeTarget == 0:
		return FreezeLive
	case c.freezeBlend >= 1 && c.freezeTarget == 1:
		return FreezeFrozen
	default:
		return FreezeTransitioning
	}
}

// TailSeconds estimates the decay length for the current time target.
func (c *Chambers) TailSeconds() float64 {
	t := core.Clamp(c.timeSm.Target(), 0, 1)
	return lerp(t, envelopeMinSeconds, envelopeMaxSeconds)
}

// FeedbackGain maps the normalized time control onto the per-pass feedback
// coefficient. The result never exceeds the hard safety cap, so loop gain
// through the unit-norm matrix stays below 1 outside of freeze.
func FeedbackGain(timeNorm float64) float64 {
	fb := lerp(core.Clamp(timeNorm, 0, 1), minFeedbackBase, maxFeedbackBase)
	if fb > maxFeedback {
		fb = maxFeedback
	}

	return fb
}

// Process runs the kernel over buf in place. Mono input feeds both matrix
// halves; channels beyond the first two pass through untouched.
func (c *Chambers) Process(buf [][]float64) {
	if len(buf) == 0 || c.sampleRate <= 0 {
		return
	}

	frames := len(buf[0])
	if frames > c.maxBlock {
		frames = c.maxBlock
	}

	left := buf[0]
	var right []float64
	if len(buf) > 1 {
		right = buf[1]
	}

	if !c.primed {
		c.timeSm.Reset(c.timeSm.Target())
		c.massSm.Reset(c.massSm.Target())
		c.densitySm.Reset(c.densitySm.Target())
		c.gravitySm.Reset(c.gravitySm.Target())
		c.bloomSm.Reset(c.bloomSm.Target())
		c.warpSm.Reset(c.warpSm.Target())
		c.driftSm.Reset(c.driftSm.Target())
		c.primed = true
	}

	sampleDt := 1 / c.sampleRate
	scale := c.sampleRate / referenceSampleRate

	for sample := 0; sample < frames; sample++ {
		b := c.freezeBlend
		if b < c.freezeTarget {
			b = math.Min(c.freezeTarget, b+c.freezeStep)
		} else if b > c.freezeTarget {
			b = math.Max(c.freezeTarget, b-c.freezeStep)
		}

		c.freezeBlend = b
		live := 1 - b

		timeNorm := core.Clamp(c.timeSm.Next(), 0, 1)
		massNorm := core.Clamp(c.massSm.Next(), 0, 1)
		densityNorm := core.Clamp(c.densitySm.Next(), 0, 1)
		gravityNorm := core.Clamp(c.gravitySm.Next(), 0, 1)
		bloomNorm := core.Clamp(c.bloomSm.Next(), 0, 1)
		warpNorm := core.Clamp(c.warpSm.Next(), 0, 1)
		driftNorm := core.Clamp(c.driftSm.Next(), 0, 1)

		feedbackLive := FeedbackGain(timeNorm)
		feedback := feedbackLive + b*(1-feedbackLive)

		dampingBase := lerp(massNorm, minDampingBase, maxDampingBase)

		var dampingCoeffs [numLines]float64
		for i := range dampingCoeffs {
			damping := core.Clamp(dampingBase+dampingOffsets[i], 0, maxLineDamping)
			liveCoeff := 1 - damping
			dampingCoeffs[i] = liveCoeff + b*(1-liveCoeff)
		}

		inputGain := lerp(densityNorm, 0.18, 0.32)
		earlyMix := core.Clamp(lerp(densityNorm, 0.45, 0.25), 0, 0.7) * live

		inputCoeff := lerp(densityNorm, 0.12, 0.6)
		lateCoeffBase := lerp(densityNorm, 0.18, 0.7)
		c.inputDiffusers[0].setCoefficient(inputCoeff)
		c.inputDiffusers[1].setCoefficient(inputCoeff)

		for i := range c.lateDiffusers {
			coeff := lateCoeffBase * (1 + lateCoeffOffsets[i])
			c.lateDiffusers[i].setCoefficient(core.Clamp(coeff, 0.05, maxDiffusionCoeff))
		}

		invNorm := c.matrixInvNorm(warpNorm)
		injectionScale := inputGain * invSqrt8 * live
		gravityCoeff := core.Clamp(lerp(gravityNorm, c.gravityCoeffMin, c.gravityCoeffMax), 0, 1)

		inL := left[sample]
		inR := inL
		if right != nil {
			inR = right[sample]
		}

		magnitude := math.Max(math.Abs(inL), math.Abs(inR))
		if b < 1 {
			if magnitude > envelopeThreshold && c.envelopeArmed {
				c.envelopeSeconds = 0
				c.envelopeValue = 1
				c.envelopeArmed = false
			} else if magnitude <= envelopeThreshold {
				c.envelopeArmed = true
			}

			c.envelopeSeconds += sampleDt
		}

		// Input diffusion sits before injection so density builds without
		// touching the feedback topology.
		procL := c.inputDiffusers[0].processSample(inL)
		procR := c.inputDiffusers[1].processSample(inR)
		diffL := inL + live*(procL-inL)
		diffR := inR + live*(procR-inR)

		mid := 0.5 * (diffL + diffR)
		side := 0.5 * (diffL - diffR)

		driftDepth := driftNorm * driftDepthSamples * scale * live
		driftRate := lerp(driftNorm, driftRateMinHz, driftRateMaxHz)

		var out [numLines]float64
		for i := range out {
			mod := 0.0
			if driftDepth > 0 {
				phase := c.driftPhase + float64(i)*(2*math.Pi/numLines)
				mod = driftDepth * 0.5 * (1 + math.Sin(phase))
			}

			out[i] = c.lines[i].ReadFractional(c.delayLength[i] + mod)
		}

		c.driftPhase += 2 * math.Pi * driftRate * sampleDt
		if c.driftPhase >= 2*math.Pi {
			c.driftPhase -= 2 * math.Pi
		}

		mixed := out
		blendMatrix(&mixed, warpNorm, invNorm)

		// Frozen recirculation is the identity: each line feeds itself at
		// unity so captured energy neither grows nor decays.
		var fb [numLines]float64
		for i := range fb {
			fb[i] = mixed[i] + b*(out[i]-mixed[i])
		}

		var lateOut [numLines]float64
		for i := range lateOut {
			processed := c.lateDiffusers[i].processSample(out[i])
			lateOut[i] = out[i] + live*(processed-out[i])
		}

		if b < 1 {
			// Bloom blends plain exponential decay with a plateau that holds
			// the tail up before it falls, so tails can swell before decaying.
			decaySeconds := lerp(timeNorm, envelopeMinSeconds, envelopeMaxSeconds)
			expEnv := math.Exp(-c.envelopeSeconds / decaySeconds)
			plateauFraction := 0.25 + 0.35*bloomNorm
			plateauTime := decaySeconds * plateauFraction

			plateauEnv := 1.0
			if c.envelopeSeconds >= plateauTime {
				plateauEnv = math.Exp(-(c.envelopeSeconds - plateauTime) / decaySeconds)
			}

			bloomGain := 1 + bloomPeakGain*bloomNorm*bloomNorm
			target := expEnv + bloomNorm*(plateauEnv*bloomGain-expEnv)
			c.envelopeValue = core.Clamp(target, 0, 1.5)
		} else {
			c.envelopeValue = 1
		}

		envelope := 1 + live*(c.envelopeValue-1)

		wetL := 0.0
		wetR := 0.0

		for i := range lateOut {
			wetL += lateOut[i] * outputLeft[i]
			wetR += lateOut[i] * outputRight[i]
		}

		wetL = core.Clamp(wetL*outputGain*envelope, -wetCeiling, wetCeiling)
		wetR = core.Clamp(wetR*outputGain*envelope, -wetCeiling, wetCeiling)

		for i := range c.lines {
			injection := (mid*inputMid[i] + side*inputSide[i]) * injectionScale
			writeValue := injection + fb[i]*feedback

			damped := c.lowpass[i] + dampingCoeffs[i]*(writeValue-c.lowpass[i])
			c.lowpass[i] = damped

			// Gravity contains low-end buildup inside the loop, after HF
			// damping; frozen state bypasses it to hold the spectrum.
			gravLow := c.gravityLow[i] + (1-gravityCoeff)*(damped-c.gravityLow[i])
			c.gravityLow[i] = gravLow
			gravityOut := damped - gravLow

			writeSample := damped + live*(gravityOut-damped)
			if b >= 1 {
				writeSample = core.Clamp(writeSample, -freezeCeiling, freezeCeiling)
			}

			c.lines[i].Write(writeSample)
		}

		wetBlend := 1 - earlyMix
		if right != nil {
			left[sample] = inL*earlyMix + wetL*wetBlend
			right[sample] = inR*earlyMix + wetR*wetBlend
		} else {
			left[sample] = mid*earlyMix + (wetL+wetR)*0.5*wetBlend
		}
	}

	c.guardState()
}

// guardState forces a silent reset when the loop state turns non-finite so a
// numeric blowup never propagates NaN into later blocks.
func (c *Chambers) guardState() {
	healthy := true

	for i := range c.lowpass {
		c.lowpass[i] = core.FlushDenormals(c.lowpass[i])
		c.gravityLow[i] = core.FlushDenormals(c.gravityLow[i])

		if math.IsNaN(c.lowpass[i]) || math.IsInf(c.lowpass[i], 0) ||
			math.IsNaN(c.gravityLow[i]) || math.IsInf(c.gravityLow[i], 0) {
			healthy = false
		}
	}

	if !healthy {
		c.silentReset()
	}
}

func (c *Chambers) matrixInvNorm(warp float64) float64 {
	if c.warpCacheSet && math.Abs(warp-c.warpCacheValue) < 1e-3 {
		return c.warpCacheInvNorm
	}

	norm := SpectralNorm(warp)
	if norm <= 0 {
		norm = 1
	}

	c.warpCacheValue = warp
	c.warpCacheInvNorm = 1 / norm
	c.warpCacheSet = true

	return c.warpCacheInvNorm
}

func onePoleCoeffFromHz(cutoffHz, sampleRate float64) float64 {
	omega := 2 * math.Pi * cutoffHz / sampleRate
	return math.Exp(-omega)
}

func lerp(t, lo, hi float64) float64 {
	return lo + (hi-lo)*t
}
