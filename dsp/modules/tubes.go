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
	tubesMin     = 5
	tubesMax     = 16
	tubeRayCount = 64

	tubeBaseLengthMeters = 2.0
	tubeBaseDiameterMM   = 25.0
	speedOfSound         = 343.0
)

type tube struct {
	lengthMeters       float64
	diameterMM         float64
	absorptionPerMeter float64
	fundamentalHz      float64
	cachedHz           float64
	energy             float64
	filters            [maxGraphChannels]*biquad.Section
}

// Tubes colors the signal through a bank of resonant pipes. A block-rate ray
// walk distributes energy across the pipes; each energetic pipe band-passes
// the input at its fundamental and the results are mixed back half wet.
type Tubes struct {
	sampleRate float64
	maxBlock   int
	channels   int

	tubes       [tubesMax]tube
	activeCount int
	needsLayout bool

	rayEnergy [tubeRayCount]float64
	rayTube   [tubeRayCount]int
	raysSet   bool

	radiusVariation params.Smoother
	metallic        params.Smoother
	coupling        params.Smoother

	scratch [maxGraphChannels][]float64
	mixed   [maxGraphChannels][]float64
}

func NewTubes() *Tubes {
	t := &Tubes{
		activeCount: 10,
		needsLayout: true,
	}
	t.radiusVariation.SetTimeMs(50)
	t.metallic.SetTimeMs(100)
	t.coupling.SetTimeMs(50)

	return t
}

func (t *Tubes) Prepare(sampleRate float64, maxBlock, channels int) error {
	if sampleRate <= 0 || maxBlock <= 0 {
		return fmt.Errorf("tubes prepare: sampleRate=%f maxBlock=%d", sampleRate, maxBlock)
	}

	if channels < 1 || channels > maxGraphChannels {
		return fmt.Errorf("tubes supports 1..%d channels: %d", maxGraphChannels, channels)
	}

	t.sampleRate = sampleRate
	t.maxBlock = maxBlock
	t.channels = channels

	for ch := 0; ch < channels; ch++ {
		t.scratch[ch] = make([]float64, maxBlock)
		t.mixed[ch] = make([]float64, maxBlock)
	}

	t.radiusVariation.Prepare(sampleRate)
	t.metallic.Prepare(sampleRate)
	t.coupling.Prepare(sampleRate)
	t.radiusVariation.Reset(0.5)
	t.metallic.Reset(0.5)
	t.coupling.Reset(0.5)

	t.needsLayout = true
	t.Reset()

	return nil
}

func (t *Tubes) Reset() {
	for i := range t.tubes {
		t.tubes[i].energy = 0
		for ch := range t.tubes[i].filters {
			if t.tubes[i].filters[ch] != nil {
				t.tubes[i].filters[ch].Reset()
			}
		}
	}

	for i := range t.rayEnergy {
		t.rayEnergy[i] = 0
		t.rayTube[i] = 0
	}

	t.raysSet = false
}

func (t *Tubes) Apply(snap *params.Snapshot) {
	count := tubesMin + int(snap.Get(params.TubeCount)*float64(tubesMax-tubesMin))
	if count < tubesMin {
		count = tubesMin
	} else if count > tubesMax {
		count = tubesMax
	}

	if count != t.activeCount {
		t.activeCount = count
		t.needsLayout = true
	}

	t.radiusVariation.SetTarget(snap.Get(params.RadiusVariation))
	t.metallic.SetTarget(snap.Get(params.MetallicResonance))
	t.coupling.SetTarget(snap.Get(params.CouplingStrength))
}

func (t *Tubes) Process(buf [][]float64) {
	channels := len(buf)
	if channels > t.channels {
		channels = t.channels
	}

	if channels == 0 {
		return
	}

	frames := len(buf[0])
	if frames > t.maxBlock {
		frames = t.maxBlock
	}

	if t.needsLayout {
		t.reconfigure()
		t.needsLayout = false
	}

	t.traceRays(frames)

	for ch := 0; ch < channels; ch++ {
		core.Zero(t.mixed[ch][:frames])
	}

	metallic := t.metallic.Skip(frames)

	for i := 0; i < t.activeCount; i++ {
		tb := &t.tubes[i]
		if tb.energy < 0.001 {
			continue
		}

		t.retuneTube(tb, metallic)

		for ch := 0; ch < channels; ch++ {
			copy(t.scratch[ch][:frames], buf[ch][:frames])
			tb.filters[ch].ProcessBlock(t.scratch[ch][:frames])

			for s := 0; s < frames; s++ {
				t.mixed[ch][s] += t.scratch[ch][s] * tb.energy
			}
		}
	}

	// Half wet: the resonant bank sits beside the dry path, never replaces it.
	for ch := 0; ch < channels; ch++ {
		data := buf[ch]
		for s := 0; s < frames; s++ {
			data[s] = data[s]*0.5 + t.mixed[ch][s]*0.5
		}
	}
}

func (t *Tubes) reconfigure() {
	variation := t.radiusVariation.Target()

	for i := 0; i < t.activeCount; i++ {
		tb := &t.tubes[i]

		angle := float64(i) * math.Pi / float64(t.activeCount)
		tb.lengthMeters = core.Clamp(tubeBaseLengthMeters*(1+variation*math.Sin(angle)), 0.5, 10)
		tb.diameterMM = core.Clamp(tubeBaseDiameterMM*(1+variation*math.Cos(angle)), 5, 50)
		tb.absorptionPerMeter = 0.05 + (50-tb.diameterMM)/50*0.15
		tb.fundamentalHz = speedOfSound / (2 * tb.lengthMeters)
		tb.energy = 0

		for ch := 0; ch < t.channels; ch++ {
			if tb.filters[ch] == nil {
				tb.filters[ch] = biquad.NewSection(biquad.Coefficients{B0: 1})
			}
		}

		tb.cachedHz = 0
	}

	t.raysSet = false
}

func (t *Tubes) retuneTube(tb *tube, metallic float64) {
	// Retune only on audible moves to keep coefficient math off the hot path.
	if math.Abs(tb.fundamentalHz-tb.cachedHz) <= 1 {
		return
	}

	q := 1 + metallic*9
	coeffs := design.Bandpass(tb.fundamentalHz, q, t.sampleRate)

	for ch := 0; ch < t.channels; ch++ {
		tb.filters[ch].Coefficients = coeffs
	}

	tb.cachedHz = tb.fundamentalHz
}

// traceRays walks the ray population one step: absorb, deposit, and with a
// coupling-scaled chance hop to a neighboring pipe. The hash is deterministic
// so two runs trace identically.
func (t *Tubes) traceRays(frames int) {
	if !t.raysSet {
		for ray := range t.rayEnergy {
			t.rayTube[ray] = ray % t.activeCount
			t.rayEnergy[ray] = 1.0 / tubeRayCount
		}

		t.raysSet = true
	}

	for i := 0; i < t.activeCount; i++ {
		t.tubes[i].energy = 0
	}

	coupling := t.coupling.Skip(frames)

	for ray := range t.rayEnergy {
		current := t.rayTube[ray]
		if current >= t.activeCount {
			current = current % t.activeCount
			t.rayTube[ray] = current
		}

		tb := &t.tubes[current]
		energy := t.rayEnergy[ray] * math.Exp(-tb.absorptionPerMeter*tb.lengthMeters)
		tb.energy += energy
		t.rayEnergy[ray] = energy

		if coupling > 0.01 && t.activeCount > 1 {
			jumpProbability := coupling * 0.3

			h := math.Sin(float64(ray)*12.9898 + float64(current)*78.233)
			h -= math.Floor(h)

			if h < jumpProbability {
				direction := 1
				if h < jumpProbability/2 {
					direction = -1
				}

				next := current + direction
				if next < 0 {
					next = t.activeCount - 1
				} else if next >= t.activeCount {
					next = 0
				}

				t.rayTube[ray] = next
			}
		}
	}

	total := 0.0
	for i := 0; i < t.activeCount; i++ {
		total += t.tubes[i].energy
	}

	if total > 0.001 {
		for i := 0; i < t.activeCount; i++ {
			t.tubes[i].energy /= total
		}
	}
}
