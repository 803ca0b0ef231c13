package modules

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/delay"
	"github.com/cwbudde/monument/dsp/params"
)

const (
	weatheringMaxDelaySeconds  = 0.05
	weatheringBaseDelaySeconds = 0.015
	weatheringDepthSeconds     = 0.005
)

// Weathering adds slow pitch motion: a short delay whose read position is
// swept by a sub-hertz sine, mixed back under the dry signal. Warp deepens
// the sweep and raises the wet mix, drift speeds the sweep up.
type Weathering struct {
	sampleRate float64
	channels   int

	lines       [maxGraphChannels]*delay.Line
	baseDelay   float64
	depthBase   float64
	depth       float64
	mix         float64
	lfoPhase    float64
	lfoRateHz   float64
	maxReadable float64
}

func NewWeathering() *Weathering {
	return &Weathering{
		mix:       0.25,
		lfoRateHz: 0.08,
	}
}

func (w *Weathering) Prepare(sampleRate float64, maxBlock, channels int) error {
	if sampleRate <= 0 || maxBlock <= 0 {
		return fmt.Errorf("weathering prepare: sampleRate=%f maxBlock=%d", sampleRate, maxBlock)
	}

	if channels < 1 || channels > maxGraphChannels {
		return fmt.Errorf("weathering supports 1..%d channels: %d", maxGraphChannels, channels)
	}

	w.sampleRate = sampleRate
	w.channels = channels

	size := int(math.Ceil(sampleRate*weatheringMaxDelaySeconds)) + 4
	for ch := 0; ch < channels; ch++ {
		line, err := delay.New(size)
		if err != nil {
			return err
		}

		w.lines[ch] = line
	}

	w.baseDelay = sampleRate * weatheringBaseDelaySeconds
	w.depthBase = sampleRate * weatheringDepthSeconds
	w.depth = w.depthBase
	w.maxReadable = float64(size - 4)

	w.Reset()

	return nil
}

func (w *Weathering) Reset() {
	for ch := 0; ch < w.channels; ch++ {
		if w.lines[ch] != nil {
			w.lines[ch].Reset()
		}
	}

	w.lfoPhase = 0
}

// Apply maps warp onto sweep depth and wet mix, drift onto sweep rate.
func (w *Weathering) Apply(snap *params.Snapshot) {
	warp := snap.Get(params.Warp)
	drift := snap.Get(params.Drift)

	w.depth = w.depthBase * (0.25 + warp*(1.2-0.25))
	w.mix = 0.1 + warp*(0.4-0.1)
	w.lfoRateHz = 0.02 + drift*(0.2-0.02)
}

func (w *Weathering) Process(buf [][]float64) {
	channels := len(buf)
	if channels > w.channels {
		channels = w.channels
	}

	if channels == 0 {
		return
	}

	frames := len(buf[0])
	mix := core.Clamp(w.mix, 0, 1)
	phaseStep := 2 * math.Pi * w.lfoRateHz / w.sampleRate

	for i := 0; i < frames; i++ {
		mod := math.Sin(w.lfoPhase)
		w.lfoPhase += phaseStep
		if w.lfoPhase >= 2*math.Pi {
			w.lfoPhase -= 2 * math.Pi
		}

		delaySamples := core.Clamp(w.baseDelay+w.depth*mod, 1, w.maxReadable)

		for ch := 0; ch < channels; ch++ {
			input := buf[ch][i]
			delayed := w.lines[ch].ReadFractional(delaySamples)
			w.lines[ch].Write(input)
			buf[ch][i] = input*(1-mix) + delayed*mix
		}
	}
}
