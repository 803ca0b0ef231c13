package modules

import (
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
	"github.com/cwbudde/monument/dsp/params"
)

const (
	foundationDCCutoffHz = 20.0
	foundationMaxGainDB  = 12.0
	maxGraphChannels     = 2
)

// Foundation conditions the input before anything else runs: a 20 Hz
// high-pass removes DC and subsonics, then a ramped input gain sets the
// drive into the rest of the chain.
type Foundation struct {
	sampleRate float64
	channels   int

	dcBlocker [maxGraphChannels]*biquad.Section
	gain      params.Smoother
}

func NewFoundation() *Foundation {
	f := &Foundation{}
	f.gain.SetTimeMs(20)

	return f
}

func (f *Foundation) Prepare(sampleRate float64, maxBlock, channels int) error {
	if sampleRate <= 0 || maxBlock <= 0 {
		return fmt.Errorf("foundation prepare: sampleRate=%f maxBlock=%d", sampleRate, maxBlock)
	}

	if channels < 1 || channels > maxGraphChannels {
		return fmt.Errorf("foundation supports 1..%d channels: %d", maxGraphChannels, channels)
	}

	f.sampleRate = sampleRate
	f.channels = channels

	coeffs := design.Highpass(foundationDCCutoffHz, 0.7071, sampleRate)
	for ch := 0; ch < channels; ch++ {
		f.dcBlocker[ch] = biquad.NewSection(coeffs)
	}

	f.gain.Prepare(sampleRate)
	f.gain.Reset(1)

	return nil
}

func (f *Foundation) Reset() {
	for ch := 0; ch < f.channels; ch++ {
		if f.dcBlocker[ch] != nil {
			f.dcBlocker[ch].Reset()
		}
	}
}

// Apply maps the drive control onto input gain: 0.5 is unity, the extremes
// are +/-12 dB.
func (f *Foundation) Apply(snap *params.Snapshot) {
	db := (snap.Get(params.Drive) - 0.5) * 2 * foundationMaxGainDB
	f.gain.SetTarget(core.DBToLinear(db))
}

func (f *Foundation) Process(buf [][]float64) {
	channels := len(buf)
	if channels > f.channels {
		channels = f.channels
	}

	for ch := 0; ch < channels; ch++ {
		f.dcBlocker[ch].ProcessBlock(buf[ch])
	}

	if channels == 0 {
		return
	}

	frames := len(buf[0])
	for i := 0; i < frames; i++ {
		g := f.gain.Next()
		for ch := 0; ch < channels; ch++ {
			buf[ch][i] *= g
		}
	}
}
