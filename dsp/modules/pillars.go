package modules

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/delay"
	"github.com/cwbudde/monument/dsp/params"
)

// PillarMode selects the early reflection palette.
type PillarMode int

const (
	PillarGlass PillarMode = iota
	PillarStone
	PillarFog

	pillarModeCount
)

var pillarModeNames = [pillarModeCount]string{"glass", "stone", "fog"}

func (m PillarMode) String() string {
	if m < 0 || m >= pillarModeCount {
		return "invalid"
	}

	return pillarModeNames[m]
}

// LookupPillarMode returns the mode for a canonical palette name.
func LookupPillarMode(name string) (PillarMode, bool) {
	for m, n := range pillarModeNames {
		if n == name {
			return PillarMode(m), true
		}
	}

	return pillarModeCount, false
}

const (
	pillarMaxTaps         = 32
	pillarMinTaps         = 16
	pillarMaxDelaySeconds = 0.09
	pillarMinTapMs        = 4.0
	pillarMaxTapMs        = 50.0
	pillarTapEnergyTarget = 1.6
	pillarOutputCeiling   = 1.25

	// Tap layouts only change while the input is quiet, so position jumps
	// never land on audible material.
	pillarUpdateThreshold = 0.001
)

// Pillars generates early reflections from a randomized multitap delay.
// Density sets tap count and level, shape compresses or expands the tap
// spacing, warp adds jitter and slow layout mutation, and the mode palette
// colors the cluster.
type Pillars struct {
	sampleRate float64
	channels   int

	lines     [maxGraphChannels]*delay.Line
	maxDelay  float64
	tapCount  int
	tapPos    [pillarMaxTaps]float64
	tapGain   [pillarMaxTaps]float64
	tapCoeff  [pillarMaxTaps]float64
	tapState  [maxGraphChannels][pillarMaxTaps]float64
	posSm     [pillarMaxTaps]params.Smoother
	gainSm    [pillarMaxTaps]params.Smoother
	coeffSm   [pillarMaxTaps]params.Smoother
	layoutSet bool

	density float64
	shape   float64
	warp    float64
	mode    PillarMode

	tapsDirty         bool
	mutationSeed      int
	mutationRemaining int
	rng               *rand.Rand

	modeLowpassCoeff  float64
	modeHighpassCoeff float64
	modeDiffusion     float64
	modeTapGain       float64
	lowState          [maxGraphChannels]float64
	highState         [maxGraphChannels]float64
}

func NewPillars() *Pillars {
	p := &Pillars{
		density:   0.5,
		shape:     0.5,
		tapCount:  pillarMinTaps,
		tapsDirty: true,
		rng:       rand.New(rand.NewSource(0)),
	}

	for i := range p.posSm {
		p.posSm[i].SetTimeMs(500)
		p.gainSm[i].SetTimeMs(15)
		p.coeffSm[i].SetTimeMs(15)
	}

	return p
}

func (p *Pillars) Prepare(sampleRate float64, maxBlock, channels int) error {
	if sampleRate <= 0 || maxBlock <= 0 {
		return fmt.Errorf("pillars prepare: sampleRate=%f maxBlock=%d", sampleRate, maxBlock)
	}

	if channels < 1 || channels > maxGraphChannels {
		return fmt.Errorf("pillars supports 1..%d channels: %d", maxGraphChannels, channels)
	}

	p.sampleRate = sampleRate
	p.channels = channels

	size := int(math.Ceil(sampleRate*pillarMaxDelaySeconds)) + 4
	for ch := 0; ch < channels; ch++ {
		line, err := delay.New(size)
		if err != nil {
			return err
		}

		p.lines[ch] = line
	}

	p.maxDelay = float64(size - 4)

	for i := range p.posSm {
		p.posSm[i].Prepare(sampleRate)
		p.gainSm[i].Prepare(sampleRate)
		p.coeffSm[i].Prepare(sampleRate)
	}

	p.updateModeTuning()
	p.Reset()

	return nil
}

func (p *Pillars) Reset() {
	for ch := 0; ch < p.channels; ch++ {
		if p.lines[ch] != nil {
			p.lines[ch].Reset()
		}

		for t := range p.tapState[ch] {
			p.tapState[ch][t] = 0
		}

		p.lowState[ch] = 0
		p.highState[ch] = 0
	}

	p.tapsDirty = true
	p.layoutSet = false
	p.mutationSeed = 0
	p.mutationRemaining = 0
}

// SetMode selects the reflection palette. Changing it retunes the coloration
// filters and schedules a layout rebuild.
func (p *Pillars) SetMode(mode PillarMode) {
	if mode < PillarGlass || mode > PillarFog {
		return
	}

	if mode != p.mode {
		p.mode = mode
		p.updateModeTuning()
		p.tapsDirty = true
	}
}

func (p *Pillars) Mode() PillarMode { return p.mode }

func (p *Pillars) Apply(snap *params.Snapshot) {
	p.setControl(&p.density, snap.Get(params.Density))
	p.setControl(&p.shape, snap.Get(params.PillarShape))
	p.setControl(&p.warp, snap.Get(params.Warp))
}

func (p *Pillars) setControl(dst *float64, v float64) {
	v = core.Clamp(v, 0, 1)
	if math.Abs(v-*dst) > 1e-3 {
		*dst = v
		p.tapsDirty = true
	}
}

func (p *Pillars) Process(buf [][]float64) {
	channels := len(buf)
	if channels > p.channels {
		channels = p.channels
	}

	if channels == 0 {
		return
	}

	frames := len(buf[0])
	densityScale := 0.25 + p.density*(0.85-0.25)

	// Warp drives a slow mutation clock that reseeds the layout.
	if p.warp > 0 {
		intervalSeconds := 6 - p.warp*4
		interval := int(intervalSeconds * p.sampleRate)
		if interval < 1 {
			interval = 1
		}

		if p.mutationRemaining <= 0 {
			p.mutationRemaining = interval
		}

		p.mutationRemaining -= frames
		if p.mutationRemaining <= 0 {
			p.mutationRemaining = interval
			p.mutationSeed++
			p.tapsDirty = true
		}
	} else {
		p.mutationRemaining = 0
	}

	peak := 0.0
	for ch := 0; ch < channels; ch++ {
		for _, v := range buf[ch] {
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}
	}

	if p.tapsDirty && (peak < pillarUpdateThreshold || !p.layoutSet) {
		p.rebuildTapLayout()
	}

	for i := 0; i < frames; i++ {
		var positions, gains, coeffs [pillarMaxTaps]float64
		for t := 0; t < p.tapCount; t++ {
			positions[t] = p.posSm[t].Next()
			gains[t] = p.gainSm[t].Next()
			coeffs[t] = p.coeffSm[t].Next()
		}

		for ch := 0; ch < channels; ch++ {
			input := buf[ch][i]
			acc := input

			for t := 0; t < p.tapCount; t++ {
				tapIn := p.lines[ch].ReadFractional(positions[t])

				// First-order all-pass per tap for diffusion.
				tapOut := -coeffs[t]*tapIn + p.tapState[ch][t]
				p.tapState[ch][t] = tapIn + coeffs[t]*tapOut

				acc += tapOut * gains[t] * densityScale
			}

			p.lines[ch].Write(input)

			filtered := acc
			if p.modeLowpassCoeff > 0 {
				p.lowState[ch] += p.modeLowpassCoeff * (filtered - p.lowState[ch])
				filtered = p.lowState[ch]
			}

			if p.modeHighpassCoeff > 0 {
				p.highState[ch] += p.modeHighpassCoeff * (filtered - p.highState[ch])
				filtered -= p.highState[ch]
			}

			buf[ch][i] = core.Clamp(filtered, -pillarOutputCeiling, pillarOutputCeiling)
		}
	}
}

func (p *Pillars) rebuildTapLayout() {
	p.tapsDirty = false

	seed := int64(p.density*10000) ^ int64(p.warp*5000) ^
		int64(p.mode)<<6 ^ int64(p.mutationSeed)<<12
	// Reseeding the owned generator keeps rebuilds deterministic without
	// allocating on the audio thread.
	p.rng.Seed(seed)
	rng := p.rng

	baseCount := 22
	switch p.mode {
	case PillarGlass:
		baseCount = 26
	case PillarStone:
		baseCount = 20
	case PillarFog:
		baseCount = 30
	}

	count := int(math.Round(float64(baseCount) + p.density*6))
	if count < pillarMinTaps {
		count = pillarMinTaps
	} else if count > pillarMaxTaps {
		count = pillarMaxTaps
	}

	p.tapCount = count

	warpJitter := p.warp * 0.35

	var gains [pillarMaxTaps]float64
	energy := 0.0

	for t := 0; t < count; t++ {
		position := rng.Float64()
		if warpJitter > 0 {
			position = core.Clamp(position+(rng.Float64()-0.5)*warpJitter, 0, 1)
		}

		shaped := p.shapePosition(position)
		delayMs := pillarMinTapMs + shaped*(pillarMaxTapMs-pillarMinTapMs)
		p.tapPos[t] = core.Clamp(p.sampleRate*delayMs/1000, 2, p.maxDelay)

		gains[t] = (0.08 + rng.Float64()*(0.42-0.08)) * p.modeTapGain
		energy += gains[t] * gains[t]

		p.tapCoeff[t] = 0.05 + rng.Float64()*(p.modeDiffusion-0.05)
	}

	// Keep total tap energy bounded so dense layouts stay at the same level.
	if energy > 0 {
		rms := math.Sqrt(energy)
		if rms > pillarTapEnergyTarget {
			scale := pillarTapEnergyTarget / rms
			for t := 0; t < count; t++ {
				gains[t] *= scale
			}
		}
	}

	copy(p.tapGain[:], gains[:])

	for t := 0; t < count; t++ {
		if !p.layoutSet {
			p.posSm[t].Reset(p.tapPos[t])
			p.gainSm[t].Reset(p.tapGain[t])
			p.coeffSm[t].Reset(p.tapCoeff[t])
		} else {
			p.posSm[t].SetTarget(p.tapPos[t])
			p.gainSm[t].SetTarget(p.tapGain[t])
			p.coeffSm[t].SetTarget(p.tapCoeff[t])
		}
	}

	p.layoutSet = true
}

func (p *Pillars) updateModeTuning() {
	lowpassHz := 10000.0
	highpassHz := 80.0
	p.modeDiffusion = 0.18
	p.modeTapGain = 1.0

	switch p.mode {
	case PillarGlass:
		lowpassHz = 14000
		highpassHz = 60
		p.modeDiffusion = 0.14
		p.modeTapGain = 1.05
	case PillarStone:
		lowpassHz = 7200
		highpassHz = 160
		p.modeDiffusion = 0.22
		p.modeTapGain = 0.85
	case PillarFog:
		lowpassHz = 11000
		highpassHz = 40
		p.modeDiffusion = 0.26
		p.modeTapGain = 0.95
	}

	if p.sampleRate > 0 {
		p.modeLowpassCoeff = 1 - math.Exp(-2*math.Pi*lowpassHz/p.sampleRate)
		p.modeHighpassCoeff = 1 - math.Exp(-2*math.Pi*highpassHz/p.sampleRate)
	}
}

// shapePosition bends the uniform tap distribution: shape below 0.5
// compresses taps toward short delays, above 0.5 expands them outward.
func (p *Pillars) shapePosition(position float64) float64 {
	shape := p.shape*2 - 1

	var exponent float64
	if shape < 0 {
		exponent = 1 + (-shape)*2
	} else {
		exponent = 1 / (1 + shape*1.5)
	}

	return math.Pow(core.Clamp(position, 0, 1), exponent)
}
