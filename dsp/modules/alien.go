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
	alienNumBands     = 8
	alienMinParadoxHz = 50.0
	alienMaxParadoxHz = 5000.0
	alienSoftClipKnee = 0.95
)

var alienBandHz = [alienNumBands]float64{100, 200, 400, 800, 1600, 3200, 6400, 12800}

// Alien warps the space in ways no physical room can: a slowly rotating
// all-pass cascade smears the spectrum, a narrow resonance amplifies one
// drifting frequency slightly past unity, and a wandering low-pass absorbs
// energy non-locally. Everything scales with the impossibility degree and
// collapses to a clean bypass at zero.
type Alien struct {
	sampleRate float64
	maxBlock   int
	channels   int

	bands     [alienNumBands][maxGraphChannels]*biquad.Section
	paradox   [maxGraphChannels]*biquad.Section
	absorber  [maxGraphChannels]*biquad.Section
	bandPhase float64

	impossibility params.Smoother
	pitchRate     params.Smoother
	paradoxFreq   params.Smoother
	paradoxGain   params.Smoother

	paradoxHz         float64
	paradoxGainAmount float64
	cachedParadoxHz   float64
	absorptionPhase   float64
	cachedAbsorberHz  float64

	scratch [maxGraphChannels][]float64
}

func NewAlien() *Alien {
	a := &Alien{
		paradoxHz:         500,
		paradoxGainAmount: 1,
	}
	a.impossibility.SetTimeMs(200)
	a.pitchRate.SetTimeMs(150)
	a.paradoxFreq.SetTimeMs(300)
	a.paradoxGain.SetTimeMs(100)

	return a
}

func (a *Alien) Prepare(sampleRate float64, maxBlock, channels int) error {
	if sampleRate <= 0 || maxBlock <= 0 {
		return fmt.Errorf("alien prepare: sampleRate=%f maxBlock=%d", sampleRate, maxBlock)
	}

	if channels < 1 || channels > maxGraphChannels {
		return fmt.Errorf("alien supports 1..%d channels: %d", maxGraphChannels, channels)
	}

	a.sampleRate = sampleRate
	a.maxBlock = maxBlock
	a.channels = channels

	for ch := 0; ch < channels; ch++ {
		a.scratch[ch] = make([]float64, maxBlock)
		a.paradox[ch] = biquad.NewSection(biquad.Coefficients{B0: 1})
		a.absorber[ch] = biquad.NewSection(biquad.Coefficients{B0: 1})

		for band := 0; band < alienNumBands; band++ {
			a.bands[band][ch] = biquad.NewSection(design.Allpass(alienBandHz[band], 0.7071, sampleRate))
		}
	}

	a.impossibility.Prepare(sampleRate)
	a.pitchRate.Prepare(sampleRate)
	a.paradoxFreq.Prepare(sampleRate)
	a.paradoxGain.Prepare(sampleRate)
	a.impossibility.Reset(0)
	a.pitchRate.Reset(0.5)
	a.paradoxFreq.Reset(0.5)
	a.paradoxGain.Reset(0.5)

	a.Reset()

	return nil
}

func (a *Alien) Reset() {
	a.bandPhase = 0
	a.absorptionPhase = 0
	a.cachedParadoxHz = 0
	a.cachedAbsorberHz = 0

	for ch := 0; ch < a.channels; ch++ {
		a.paradox[ch].Reset()
		a.absorber[ch].Reset()

		for band := 0; band < alienNumBands; band++ {
			a.bands[band][ch].Reset()
		}
	}
}

func (a *Alien) Apply(snap *params.Snapshot) {
	a.impossibility.SetTarget(snap.Get(params.ImpossibilityDegree))
	a.pitchRate.SetTarget(snap.Get(params.PitchEvolutionRate))
	a.paradoxFreq.SetTarget(snap.Get(params.ParadoxFrequency))
	a.paradoxGain.SetTarget(snap.Get(params.ParadoxGain))
}

func (a *Alien) Process(buf [][]float64) {
	channels := len(buf)
	if channels > a.channels {
		channels = a.channels
	}

	if channels == 0 {
		return
	}

	frames := len(buf[0])
	if frames > a.maxBlock {
		frames = a.maxBlock
	}

	impossibility := a.impossibility.Skip(frames)
	if impossibility <= 0.01 {
		return
	}

	freq := a.paradoxFreq.Skip(frames)
	logMin := math.Log(alienMinParadoxHz)
	logMax := math.Log(alienMaxParadoxHz)
	a.paradoxHz = math.Exp(logMin + freq*(logMax-logMin))
	a.paradoxGainAmount = 1 + a.paradoxGain.Skip(frames)*0.05

	a.applyPitchEvolution(buf, channels, frames, impossibility)
	a.applyParadoxResonance(buf, channels, frames, impossibility)
	a.applyNonLocalAbsorption(buf, channels, frames, impossibility)
}

func (a *Alien) applyPitchEvolution(buf [][]float64, channels, frames int, impossibility float64) {
	pitchRate := a.pitchRate.Skip(frames)
	if pitchRate < 0.01 {
		return
	}

	lfoRate := 0.01 + pitchRate*0.19
	a.bandPhase += 2 * math.Pi * lfoRate * float64(frames) / a.sampleRate
	if a.bandPhase >= 2*math.Pi {
		a.bandPhase -= 2 * math.Pi
	}

	for band := 0; band < alienNumBands; band++ {
		phaseOffset := float64(band) * math.Pi / 4
		modulation := math.Sin(a.bandPhase + phaseOffset)

		hz := core.Clamp(alienBandHz[band]*(1+modulation*impossibility*0.3), 20, 20000)
		coeffs := design.Allpass(hz, 0.7071, a.sampleRate)

		for ch := 0; ch < channels; ch++ {
			a.bands[band][ch].Coefficients = coeffs
			a.bands[band][ch].ProcessBlock(buf[ch][:frames])
		}
	}

	gain := (1 - pitchRate*0.3*0.5) + pitchRate*0.3
	for ch := 0; ch < channels; ch++ {
		data := buf[ch]
		for s := 0; s < frames; s++ {
			data[s] *= gain
		}
	}
}

func (a *Alien) applyParadoxResonance(buf [][]float64, channels, frames int, impossibility float64) {
	if a.paradoxGainAmount <= 1.001 {
		return
	}

	if math.Abs(a.paradoxHz-a.cachedParadoxHz) > 0.5 {
		q := core.Clamp(5+impossibility*15, 5, 20)
		gainDB := (a.paradoxGainAmount - 1) * 100

		coeffs := design.Peak(a.paradoxHz, gainDB, q, a.sampleRate)
		for ch := 0; ch < a.channels; ch++ {
			a.paradox[ch].Coefficients = coeffs
		}

		a.cachedParadoxHz = a.paradoxHz
	}

	for ch := 0; ch < channels; ch++ {
		data := buf[ch][:frames]
		a.paradox[ch].ProcessBlock(data)

		// The resonance sits above unity gain, so peaks get squashed before
		// they can build up over repeated passes.
		for s, v := range data {
			if math.Abs(v) > alienSoftClipKnee {
				data[s] = alienSoftClipKnee * mathTanh(v/alienSoftClipKnee)
			}
		}
	}
}

func (a *Alien) applyNonLocalAbsorption(buf [][]float64, channels, frames int, impossibility float64) {
	driftRate := 0.02 + impossibility*0.08
	a.absorptionPhase += 2 * math.Pi * driftRate * float64(frames) / a.sampleRate
	if a.absorptionPhase >= 2*math.Pi {
		a.absorptionPhase -= 2 * math.Pi
	}

	absorption := (0.5 + 0.5*math.Sin(a.absorptionPhase)) * impossibility
	cutoffHz := core.Clamp(2000+absorption*8000, 500, 15000)

	if math.Abs(cutoffHz-a.cachedAbsorberHz) > 1 {
		coeffs := design.Lowpass(cutoffHz, 0.7071, a.sampleRate)
		for ch := 0; ch < a.channels; ch++ {
			a.absorber[ch].Coefficients = coeffs
		}

		a.cachedAbsorberHz = cutoffHz
	}

	wet := impossibility * 0.2
	dry := 1 - wet

	for ch := 0; ch < channels; ch++ {
		copy(a.scratch[ch][:frames], buf[ch][:frames])
		a.absorber[ch].ProcessBlock(a.scratch[ch][:frames])

		data := buf[ch]
		for s := 0; s < frames; s++ {
			data[s] = data[s]*dry + a.scratch[ch][s]*wet
		}
	}
}
