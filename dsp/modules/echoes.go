package modules

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/monument/dsp/params"
)

const (
	echoShortSeconds      = 24.0
	echoLongSeconds       = 180.0
	echoShortDecayDB      = -18.0
	echoLongDecayDB       = -45.0
	echoShortCaptureGain  = 0.35
	echoLongCaptureGain   = 0.002
	echoFreezeCapture     = 0.1
	echoMemoryEpsilon     = 1e-4
	echoCaptureRmsMs      = 250.0
	echoQuietThreshold    = 0.03
	echoIntervalMinSec    = 6.0
	echoIntervalMaxSec    = 18.0
	echoCooldownMinSec    = 2.0
	echoCooldownMaxSec    = 6.0
	echoWidthMinMs        = 200.0
	echoWidthMaxMs        = 800.0
	echoWidthLongMinMs    = 350.0
	echoWidthLongMaxMs    = 900.0
	echoFadeMinSec        = 1.0
	echoFadeMaxSec        = 3.0
	echoHoldMinSec        = 0.5
	echoHoldMaxSec        = 2.0
	echoTargetPeakShort   = 0.012
	echoTargetPeakLong    = 0.008
	echoProbeMin          = 0.0015
	echoSurfaceGainMax    = 0.25
	echoLowpassMaxHz      = 12000.0
	echoLowpassMinHz      = 2500.0
	echoSaturationMax     = 1.6
	echoAgeGainReduction  = 0.35
	echoDriftCentsMax     = 15.0
	echoDriftUpdateMs     = 140.0
	echoDriftSlewMs       = 200.0
	echoSurfaceCandidates = 6
	echoProbeCount        = 12
	echoInjectGain        = 0.25
)

type surfacePhase int

const (
	surfaceIdle surfacePhase = iota
	surfaceFadeIn
	surfaceHold
	surfaceFadeOut
)

// Echoes keeps two long exponentially forgetting recordings of the wet mix
// and, when the room goes quiet, surfaces fragments of them back into the
// input. Older material comes back darker, more saturated, and slightly
// detuned, like a memory that has degraded.
type Echoes struct {
	sampleRate float64
	channels   int
	rng        *rand.Rand

	shortL, shortR []float64
	long           []float64
	shortWrite     int
	longWrite      int
	shortFilled    int
	longFilled     int
	shortForget    float64
	longForget     float64

	memory params.Smoother
	depth  params.Smoother
	decay  params.Smoother
	drift  params.Smoother
	primed bool

	freeze         bool
	captureMemory  float64
	captureRmsCo   float64
	lastCaptureRms float64

	phase            surfacePhase
	usesLong         bool
	centerPos        float64
	widthSamples     int
	playbackPos      float64
	playbackStep     float64
	fadeInSamples    int
	holdSamples      int
	fadeOutSamples   int
	samplesRemaining int
	baseGain         float64
	gain             float64
	gainStep         float64
	cooldownSamples  int
	lowpassL         float64
	lowpassR         float64
	driftCents       float64
	driftTarget      float64
	driftCentsMax    float64
	driftSlewCoeff   float64
	driftUpdateEvery int
	driftUpdateLeft  int
}

// NewEchoes returns a memory stage seeded for deterministic surfacing.
func NewEchoes(seed int64) *Echoes {
	e := &Echoes{rng: rand.New(rand.NewSource(seed))}
	e.memory.SetTimeMs(300)
	e.depth.SetTimeMs(300)
	e.decay.SetTimeMs(450)
	e.drift.SetTimeMs(450)

	return e
}

func (e *Echoes) Prepare(sampleRate float64, maxBlock, channels int) error {
	if sampleRate <= 0 || maxBlock <= 0 {
		return fmt.Errorf("echoes prepare: sampleRate=%f maxBlock=%d", sampleRate, maxBlock)
	}

	if channels < 1 || channels > maxGraphChannels {
		return fmt.Errorf("echoes supports 1..%d channels: %d", maxGraphChannels, channels)
	}

	e.sampleRate = sampleRate
	e.channels = channels

	shortLen := int(math.Round(sampleRate * echoShortSeconds))
	longLen := int(math.Round(sampleRate * echoLongSeconds))

	e.shortL = make([]float64, shortLen)
	e.shortR = make([]float64, shortLen)
	e.long = make([]float64, longLen)

	e.shortForget = forgetFactor(echoShortDecayDB, echoShortSeconds, sampleRate)
	e.longForget = forgetFactor(echoLongDecayDB, echoLongSeconds, sampleRate)
	e.captureRmsCo = math.Exp(-1 / (echoCaptureRmsMs / 1000 * sampleRate))

	e.memory.Prepare(sampleRate)
	e.depth.Prepare(sampleRate)
	e.decay.Prepare(sampleRate)
	e.drift.Prepare(sampleRate)

	e.driftSlewCoeff = math.Exp(-1 / (echoDriftSlewMs / 1000 * sampleRate))
	e.driftUpdateEvery = int(math.Round(sampleRate * echoDriftUpdateMs / 1000))
	if e.driftUpdateEvery < 1 {
		e.driftUpdateEvery = 1
	}

	e.Reset()

	return nil
}

func (e *Echoes) Reset() {
	core.Zero(e.shortL)
	core.Zero(e.shortR)
	core.Zero(e.long)

	e.shortWrite = 0
	e.longWrite = 0
	e.shortFilled = 0
	e.longFilled = 0
	e.lastCaptureRms = 0
	e.captureMemory = 0
	e.primed = false

	e.phase = surfaceIdle
	e.samplesRemaining = 0
	e.cooldownSamples = 0
	e.gain = 0
	e.lowpassL = 0
	e.lowpassR = 0
	e.driftCents = 0
	e.driftTarget = 0
	e.driftUpdateLeft = e.driftUpdateEvery
}

func (e *Echoes) Apply(snap *params.Snapshot) {
	e.memory.SetTarget(snap.Get(params.Memory))
	e.depth.SetTarget(snap.Get(params.MemoryDepth))
	e.decay.SetTarget(snap.Get(params.MemoryDecay))
	e.drift.SetTarget(snap.Get(params.Drift))
	e.freeze = snap.Freeze
}

// Capture folds the wet mix into both memory buffers. The graph calls it
// after the reverberation stages each block; the forget factors make old
// material fade underneath new layers instead of being overwritten.
func (e *Echoes) Capture(wet [][]float64) {
	if e.captureMemory <= echoMemoryEpsilon || len(wet) == 0 || len(e.shortL) == 0 {
		return
	}

	left := wet[0]
	right := left
	if len(wet) > 1 {
		right = wet[1]
	}

	captureScale := core.Clamp(e.captureMemory, 0, 1)
	if e.freeze {
		captureScale *= echoFreezeCapture
	}

	shortGain := echoShortCaptureGain * captureScale
	longGain := echoLongCaptureGain * captureScale

	sumSquares := 0.0

	for i := range left {
		inL := finiteOrZero(left[i])
		inR := finiteOrZero(right[i])
		mono := 0.5 * (inL + inR)

		e.shortL[e.shortWrite] = e.shortL[e.shortWrite]*e.shortForget + inL*shortGain
		e.shortR[e.shortWrite] = e.shortR[e.shortWrite]*e.shortForget + inR*shortGain
		e.long[e.longWrite] = e.long[e.longWrite]*e.longForget + mono*longGain

		sumSquares += mono * mono

		e.shortWrite++
		if e.shortWrite >= len(e.shortL) {
			e.shortWrite = 0
		}

		e.longWrite++
		if e.longWrite >= len(e.long) {
			e.longWrite = 0
		}

		if e.shortFilled < len(e.shortL) {
			e.shortFilled++
		}

		if e.longFilled < len(e.long) {
			e.longFilled++
		}
	}

	if len(left) > 0 {
		rms := math.Sqrt(sumSquares / float64(len(left)))
		e.lastCaptureRms = e.captureRmsCo*e.lastCaptureRms + (1-e.captureRmsCo)*rms
	}
}

func (e *Echoes) Process(buf [][]float64) {
	channels := len(buf)
	if channels > e.channels {
		channels = e.channels
	}

	if channels == 0 || len(e.shortL) == 0 {
		return
	}

	frames := len(buf[0])

	if !e.primed {
		e.memory.Reset(e.memory.Target())
		e.depth.Reset(e.depth.Target())
		e.decay.Reset(e.decay.Target())
		e.drift.Reset(e.drift.Target())
		e.primed = true
	}

	if e.cooldownSamples > 0 {
		e.cooldownSamples -= frames
		if e.cooldownSamples < 0 {
			e.cooldownSamples = 0
		}
	}

	memoryAmount := core.Clamp(e.memory.Next(), 0, 1)
	depth := core.Clamp(e.depth.Next(), 0, 1)
	decayAmount := core.Clamp(e.decay.Next(), 0, 1)
	driftAmount := core.Clamp(e.drift.Next(), 0, 1)

	if !e.freeze {
		e.maybeStartSurface(frames, memoryAmount, depth, decayAmount, driftAmount)
	}

	left := buf[0]
	var right []float64
	if channels > 1 {
		right = buf[1]
	}

	for i := 0; i < frames; i++ {
		if i > 0 {
			memoryAmount = core.Clamp(e.memory.Next(), 0, 1)
			decayAmount = core.Clamp(e.decay.Next(), 0, 1)
			e.depth.Next()
			e.drift.Next()
		}

		e.captureMemory = memoryAmount

		if memoryAmount <= echoMemoryEpsilon {
			e.phase = surfaceIdle
			e.samplesRemaining = 0
			e.gain = 0

			continue
		}

		if e.phase == surfaceIdle || e.freeze {
			continue
		}

		outL, outR := e.renderSurfaceSample(decayAmount)

		left[i] += outL * echoInjectGain
		if right != nil {
			right[i] += outR * echoInjectGain
		}
	}
}

func (e *Echoes) renderSurfaceSample(decayAmount float64) (float64, float64) {
	readPos := e.centerPos + e.playbackPos

	var sampleL, sampleR, age float64
	if e.usesLong {
		mono := readMemory(e.long, e.longWrite, readPos, &age)
		sampleL = mono
		sampleR = mono
	} else {
		sampleL = readMemory(e.shortL, e.shortWrite, readPos, &age)
		sampleR = readMemory(e.shortR, e.shortWrite, readPos, nil)
	}

	ageWeight := core.Clamp(age*(0.35+0.65*decayAmount), 0, 1)

	// Older memories come back duller and more saturated.
	cutoff := echoLowpassMaxHz + ageWeight*(echoLowpassMinHz-echoLowpassMaxHz)
	lowpassCoeff := 1 - math.Exp(-2*math.Pi*cutoff/e.sampleRate)

	e.lowpassL += lowpassCoeff * (sampleL - e.lowpassL)
	e.lowpassR += lowpassCoeff * (sampleR - e.lowpassR)
	sampleL = e.lowpassL
	sampleR = e.lowpassR

	drive := 1 + ageWeight*(echoSaturationMax-1)
	if drive > 1.001 {
		norm := 1 / mathTanh(drive)
		sampleL = mathTanh(drive*sampleL) * norm
		sampleR = mathTanh(drive*sampleR) * norm
	}

	erosion := 1 - echoAgeGainReduction*ageWeight
	if e.usesLong {
		erosion *= 0.9
	}

	gain := e.baseGain * e.gain * erosion
	outL := core.Clamp(sampleL*gain, -1, 1)
	outR := core.Clamp(sampleR*gain, -1, 1)

	if e.driftCentsMax > 0 {
		e.driftUpdateLeft--
		if e.driftUpdateLeft <= 0 {
			e.driftUpdateLeft = e.driftUpdateEvery
			e.driftTarget = (e.rng.Float64()*2 - 1) * e.driftCentsMax
		}

		e.driftCents = e.driftTarget + e.driftSlewCoeff*(e.driftCents-e.driftTarget)
	} else {
		e.driftCents = 0
	}

	driftRatio := math.Pow(2, e.driftCents/1200)
	e.playbackPos += e.playbackStep * driftRatio

	halfWidth := 0.5 * float64(e.widthSamples)
	e.playbackPos = core.Clamp(e.playbackPos, -halfWidth, halfWidth)

	if e.phase == surfaceFadeIn || e.phase == surfaceFadeOut {
		e.gain = core.Clamp(e.gain+e.gainStep, 0, 1)
	}

	e.samplesRemaining--
	if e.samplesRemaining <= 0 {
		e.advanceSurface()
	}

	return outL, outR
}

func (e *Echoes) maybeStartSurface(blockSamples int, memoryAmount, depth, decayAmount, driftAmount float64) {
	if e.phase != surfaceIdle || e.cooldownSamples > 0 {
		return
	}

	if memoryAmount <= echoMemoryEpsilon {
		return
	}

	quietFactor := core.Clamp((echoQuietThreshold-e.lastCaptureRms)/echoQuietThreshold, 0, 1)
	quietWeight := quietFactor * quietFactor
	if quietWeight <= 0 {
		return
	}

	intervalSeconds := echoIntervalMaxSec + memoryAmount*(echoIntervalMinSec-echoIntervalMaxSec)
	blockSeconds := float64(blockSamples) / e.sampleRate
	probability := blockSeconds / intervalSeconds * quietWeight

	if e.rng.Float64() >= probability {
		return
	}

	longBias := depth * depth
	useLong := e.rng.Float64() < longBias

	longReady := e.longFilled >= len(e.long)/4
	shortReady := e.shortFilled >= len(e.shortL)/4

	if useLong && !longReady {
		useLong = false
	}

	if !useLong && !shortReady {
		useLong = longReady
	}

	if !longReady && !shortReady {
		return
	}

	e.startSurface(useLong, memoryAmount, decayAmount, driftAmount)
}

func (e *Echoes) startSurface(useLong bool, memoryAmount, decayAmount, driftAmount float64) {
	e.usesLong = useLong
	e.phase = surfaceFadeIn

	bufferLen := len(e.shortL)
	writePos := e.shortWrite
	filled := e.shortFilled
	widthMinMs, widthMaxMs := echoWidthMinMs, echoWidthMaxMs

	if useLong {
		bufferLen = len(e.long)
		writePos = e.longWrite
		filled = e.longFilled
		widthMinMs, widthMaxMs = echoWidthLongMinMs, echoWidthLongMaxMs
	}

	widthMs := widthMinMs + e.rng.Float64()*(widthMaxMs-widthMinMs)
	e.widthSamples = int(math.Round(widthMs / 1000 * e.sampleRate))
	if e.widthSamples < 1 {
		e.widthSamples = 1
	}

	filledNorm := float64(filled) / float64(bufferLen)
	maxDistance := core.Clamp(filledNorm, 0.2, 0.95)
	minDistance := math.Min(0.1, maxDistance*0.6)

	// Probe a handful of candidate positions and surface the loudest one.
	bestPeak := 0.0
	bestCenter := 0.0

	for candidate := 0; candidate < echoSurfaceCandidates; candidate++ {
		r := e.rng.Float64()
		if useLong {
			r = 1 - (1-r)*(1-r)
		}

		distance := (minDistance + (maxDistance-minDistance)*r) * float64(bufferLen-1)
		center := float64(writePos) - distance
		if center < 0 {
			center += float64(bufferLen)
		}

		probePeak := 0.0
		for p := 0; p < echoProbeCount; p++ {
			t := float64(p) / float64(echoProbeCount-1)
			readPos := center + (t-0.5)*float64(e.widthSamples)

			if useLong {
				v := readMemory(e.long, e.longWrite, readPos, nil)
				probePeak = math.Max(probePeak, math.Abs(v))
			} else {
				l := readMemory(e.shortL, e.shortWrite, readPos, nil)
				r := readMemory(e.shortR, e.shortWrite, readPos, nil)
				probePeak = math.Max(probePeak, math.Max(math.Abs(l), math.Abs(r)))
			}
		}

		if probePeak > bestPeak {
			bestPeak = probePeak
			bestCenter = center
		}
	}

	if bestPeak < echoProbeMin {
		e.phase = surfaceIdle
		e.cooldownSamples = e.randomSamples(echoCooldownMinSec, echoCooldownMaxSec)

		return
	}

	e.centerPos = bestCenter
	e.fadeInSamples = e.randomSamples(echoFadeMinSec, echoFadeMaxSec)
	e.holdSamples = e.randomSamples(echoHoldMinSec, echoHoldMaxSec)
	e.fadeOutSamples = e.randomSamples(echoFadeMinSec, echoFadeMaxSec)
	e.samplesRemaining = e.fadeInSamples

	total := e.fadeInSamples + e.holdSamples + e.fadeOutSamples

	e.gain = 0
	e.gainStep = 1 / float64(e.fadeInSamples)

	targetPeak := echoTargetPeakShort
	if useLong {
		targetPeak = echoTargetPeakLong
	}

	normalization := targetPeak / math.Max(bestPeak, echoProbeMin)
	e.baseGain = core.Clamp(normalization*memoryAmount, 0, echoSurfaceGainMax)
	e.baseGain *= 1 - decayAmount*0.15
	if useLong {
		e.baseGain *= 0.9
	}

	e.playbackPos = -0.5 * float64(e.widthSamples)
	e.playbackStep = float64(e.widthSamples) / float64(total)

	e.lowpassL = 0
	e.lowpassR = 0

	e.driftCents = 0
	e.driftTarget = 0
	e.driftCentsMax = echoDriftCentsMax * driftAmount
	if useLong {
		e.driftCentsMax *= 1.1
	}

	e.driftUpdateLeft = e.driftUpdateEvery
}

func (e *Echoes) advanceSurface() {
	switch e.phase {
	case surfaceFadeIn:
		e.phase = surfaceHold
		e.samplesRemaining = e.holdSamples
		e.gain = 1
		e.gainStep = 0
	case surfaceHold:
		e.phase = surfaceFadeOut
		e.samplesRemaining = e.fadeOutSamples
		e.gainStep = -1 / float64(e.fadeOutSamples)
	default:
		e.phase = surfaceIdle
		e.samplesRemaining = 0
		e.gain = 0
		e.gainStep = 0
		e.cooldownSamples = e.randomSamples(echoCooldownMinSec, echoCooldownMaxSec)
	}
}

func (e *Echoes) randomSamples(minSeconds, maxSeconds float64) int {
	seconds := minSeconds + e.rng.Float64()*(maxSeconds-minSeconds)

	n := int(math.Round(seconds * e.sampleRate))
	if n < 1 {
		n = 1
	}

	return n
}

// readMemory reads the circular buffer at a fractional position with linear
// interpolation. If outAge is non-nil it receives the normalized distance
// behind the write head (0 = just written, 1 = a full buffer ago).
func readMemory(buffer []float64, writePos int, readPos float64, outAge *float64) float64 {
	length := float64(len(buffer))
	if length == 0 {
		return 0
	}

	pos := math.Mod(readPos, length)
	if pos < 0 {
		pos += length
	}

	index0 := int(pos)
	index1 := index0 + 1
	if index1 >= len(buffer) {
		index1 = 0
	}

	frac := pos - float64(index0)
	sample := buffer[index0] + (buffer[index1]-buffer[index0])*frac

	if outAge != nil {
		distance := float64(writePos) - pos
		if distance < 0 {
			distance += length
		}

		*outAge = core.Clamp(distance/length, 0, 1)
	}

	return sample
}

func forgetFactor(targetDB, durationSeconds, sampleRate float64) float64 {
	linear := math.Pow(10, targetDB/20)
	return math.Pow(linear, 1/(durationSeconds*sampleRate))
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}

	return v
}
