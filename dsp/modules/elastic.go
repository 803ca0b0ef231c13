package modules

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
	"github.com/cwbudde/monument/dsp/params"
)

const (
	elasticNumModes      = 8
	elasticMaxDeform     = 0.2
	elasticRoomWidth     = 10.0
	elasticRoomHeight    = 5.0
	elasticRoomDepth     = 15.0
	elasticPressureAlpha = 0.1
)

type roomMode struct {
	baseHz    float64
	currentHz float64
	cachedHz  float64
	filters   [maxGraphChannels]*biquad.Section
}

// Elastic models a hallway whose walls give under acoustic pressure. Input
// level deforms the room, deformation shifts eight rectangular-room modal
// resonances, and the walls relax back at the recovery rate.
type Elastic struct {
	sampleRate float64
	maxBlock   int
	channels   int

	modes       [elasticNumModes]roomMode
	deformation float64
	pressure    float64
	driftPhase  float64

	elasticity      params.Smoother
	recovery        params.Smoother
	absorptionDrift params.Smoother
	nonlinearity    params.Smoother

	scratch [maxGraphChannels][]float64
}

func NewElastic() *Elastic {
	e := &Elastic{}
	e.elasticity.SetTimeMs(100)
	e.recovery.SetTimeMs(200)
	e.absorptionDrift.SetTimeMs(100)
	e.nonlinearity.SetTimeMs(100)

	return e
}

func (e *Elastic) Prepare(sampleRate float64, maxBlock, channels int) error {
	if sampleRate <= 0 || maxBlock <= 0 {
		return fmt.Errorf("elastic prepare: sampleRate=%f maxBlock=%d", sampleRate, maxBlock)
	}

	if channels < 1 || channels > maxGraphChannels {
		return fmt.Errorf("elastic supports 1..%d channels: %d", maxGraphChannels, channels)
	}

	e.sampleRate = sampleRate
	e.maxBlock = maxBlock
	e.channels = channels

	for ch := 0; ch < channels; ch++ {
		e.scratch[ch] = make([]float64, maxBlock)
	}

	e.elasticity.Prepare(sampleRate)
	e.recovery.Prepare(sampleRate)
	e.absorptionDrift.Prepare(sampleRate)
	e.nonlinearity.Prepare(sampleRate)
	e.elasticity.Reset(0.5)
	e.recovery.Reset(0.5)
	e.absorptionDrift.Reset(0.5)
	e.nonlinearity.Reset(0.2)

	e.computeRoomModes()
	e.Reset()

	return nil
}

func (e *Elastic) Reset() {
	e.deformation = 0
	e.pressure = 0
	e.driftPhase = 0

	for i := range e.modes {
		for ch := range e.modes[i].filters {
			if e.modes[i].filters[ch] != nil {
				e.modes[i].filters[ch].Reset()
			}
		}
	}
}

func (e *Elastic) Apply(snap *params.Snapshot) {
	e.elasticity.SetTarget(snap.Get(params.Elasticity))
	e.recovery.SetTarget(snap.Get(params.RecoveryTime))
	e.absorptionDrift.SetTarget(snap.Get(params.AbsorptionDrift))
	e.nonlinearity.SetTarget(snap.Get(params.Nonlinearity))
}

func (e *Elastic) Process(buf [][]float64) {
	channels := len(buf)
	if channels > e.channels {
		channels = e.channels
	}

	if channels == 0 {
		return
	}

	frames := len(buf[0])
	if frames > e.maxBlock {
		frames = e.maxBlock
	}

	e.updateDeformation(buf, channels, frames)
	e.updateModes(frames)

	for i := range e.modes {
		mode := &e.modes[i]

		// Low modes dominate real rooms; gain rolls off with frequency.
		gain := 0.15 / (1 + mode.baseHz/500)

		for ch := 0; ch < channels; ch++ {
			copy(e.scratch[ch][:frames], buf[ch][:frames])
			mode.filters[ch].ProcessBlock(e.scratch[ch][:frames])

			data := buf[ch]
			for s := 0; s < frames; s++ {
				data[s] += e.scratch[ch][s] * gain
			}
		}
	}
}

// DelayScale reports the room-size multiplier downstream delays can follow:
// expansion lengthens the room, compression shortens it.
func (e *Elastic) DelayScale() float64 {
	return 1 + e.deformation
}

func (e *Elastic) computeRoomModes() {
	indices := [elasticNumModes][3]int{
		{1, 0, 0}, {0, 1, 0}, {0, 0, 1},
		{1, 1, 0}, {1, 0, 1}, {0, 1, 1},
		{1, 1, 1}, {2, 0, 0},
	}

	for i := range e.modes {
		nx := float64(indices[i][0]) / elasticRoomWidth
		ny := float64(indices[i][1]) / elasticRoomHeight
		nz := float64(indices[i][2]) / elasticRoomDepth

		hz := speedOfSound / 2 * math.Sqrt(nx*nx+ny*ny+nz*nz)
		hz = core.Clamp(hz, 20, 20000)

		e.modes[i].baseHz = hz
		e.modes[i].currentHz = hz
		e.modes[i].cachedHz = 0

		for ch := 0; ch < e.channels; ch++ {
			if e.modes[i].filters[ch] == nil {
				e.modes[i].filters[ch] = biquad.NewSection(biquad.Coefficients{B0: 1})
			}
		}
	}
}

func (e *Elastic) updateDeformation(buf [][]float64, channels, frames int) {
	sum := 0.0
	count := 0

	for ch := 0; ch < channels; ch++ {
		for s := 0; s < frames; s++ {
			v := buf[ch][s]
			sum += v * v
			count++
		}
	}

	rms := 0.0
	if count > 0 {
		rms = math.Sqrt(sum / float64(count))
	}

	nonlinearity := e.nonlinearity.Skip(frames)
	if nonlinearity > 0.01 {
		compressed := rms / (1 + nonlinearity*rms)
		rms = rms*(1-nonlinearity) + compressed*nonlinearity
	}

	e.pressure = e.pressure*(1-elasticPressureAlpha) + rms*elasticPressureAlpha

	elasticity := e.elasticity.Skip(frames)
	target := core.Clamp(e.pressure*elasticity*2, -elasticMaxDeform, elasticMaxDeform)

	recoverySeconds := 0.1 + e.recovery.Skip(frames)*4.9
	recoveryRate := 1 / (recoverySeconds * e.sampleRate / float64(frames))
	e.deformation += (target - e.deformation) * recoveryRate
	e.deformation = core.Clamp(e.deformation, -elasticMaxDeform, elasticMaxDeform)
}

func (e *Elastic) updateModes(frames int) {
	elasticity := e.elasticity.Value()
	drift := e.absorptionDrift.Skip(frames)
	driftRateHz := 0.01 + drift*0.19

	e.driftPhase += 2 * math.Pi * driftRateHz * float64(frames) / e.sampleRate
	if e.driftPhase >= 2*math.Pi {
		e.driftPhase -= 2 * math.Pi
	}

	driftModulation := math.Sin(e.driftPhase) * drift

	q := core.Clamp(5*(1+driftModulation*0.3), 1, 15)

	for i := range e.modes {
		mode := &e.modes[i]

		multiplier := core.Clamp(1-e.deformation*elasticity*0.5, 0.7, 1.3)
		mode.currentHz = core.Clamp(mode.baseHz*multiplier, 20, 20000)

		if math.Abs(mode.currentHz-mode.cachedHz) <= 0.5 {
			continue
		}

		coeffs := design.Bandpass(mode.currentHz, q, e.sampleRate)
		for ch := 0; ch < e.channels; ch++ {
			mode.filters[ch].Coefficients = coeffs
		}

		mode.cachedHz = mode.currentHz
	}
}
