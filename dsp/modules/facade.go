package modules

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/monument/dsp/params"
)

const (
	facadeAirCutoffHz = 6500.0
	facadeMinAirGain  = -0.3
	facadeMaxAirGain  = 0.35
	facadeMaxWidth    = 2.0
)

// Facade is the output stage: an "air" high-frequency tilt, mid/side width
// control, and the final output gain. An optional constant-power panner
// collapses the image to a 3D position instead of the width control.
type Facade struct {
	sampleRate float64
	channels   int

	airCoefficient float64
	airState       [maxGraphChannels]float64

	airGain    params.Smoother
	outputGain params.Smoother
	width      float64

	panning   bool
	leftGain  params.Smoother
	rightGain params.Smoother
}

func NewFacade() *Facade {
	f := &Facade{width: 1.1}
	f.airGain.SetTimeMs(10)
	f.outputGain.SetTimeMs(20)
	f.leftGain.SetTimeMs(20)
	f.rightGain.SetTimeMs(20)

	return f
}

func (f *Facade) Prepare(sampleRate float64, maxBlock, channels int) error {
	if sampleRate <= 0 || maxBlock <= 0 {
		return fmt.Errorf("facade prepare: sampleRate=%f maxBlock=%d", sampleRate, maxBlock)
	}

	if channels < 1 || channels > maxGraphChannels {
		return fmt.Errorf("facade supports 1..%d channels: %d", maxGraphChannels, channels)
	}

	f.sampleRate = sampleRate
	f.channels = channels
	f.airCoefficient = 1 - math.Exp(-2*math.Pi*facadeAirCutoffHz/sampleRate)

	f.airGain.Prepare(sampleRate)
	f.outputGain.Prepare(sampleRate)
	f.leftGain.Prepare(sampleRate)
	f.rightGain.Prepare(sampleRate)

	f.airGain.Reset(0)
	f.outputGain.Reset(1)
	f.leftGain.Reset(math.Sqrt2 / 2)
	f.rightGain.Reset(math.Sqrt2 / 2)

	f.Reset()

	return nil
}

func (f *Facade) Reset() {
	for ch := range f.airState {
		f.airState[ch] = 0
	}
}

// Apply maps air, width and mix: width 0..1 spans 0..2 in mid/side terms, mix
// acts as the output gain.
func (f *Facade) Apply(snap *params.Snapshot) {
	air := snap.Get(params.Air)
	f.airGain.SetTarget(facadeMinAirGain + air*(facadeMaxAirGain-facadeMinAirGain))
	f.width = snap.Get(params.Width) * facadeMaxWidth
	f.outputGain.SetTarget(snap.Get(params.Mix))
}

// SetPanning switches between mid/side width (false) and constant-power 3D
// positioning (true).
func (f *Facade) SetPanning(enabled bool) {
	f.panning = enabled
}

// SetSpatialPosition sets the 3D pan target. Azimuth sweeps -90 (left) to
// +90 (right) degrees, elevation attenuates toward +/-90 degrees.
func (f *Facade) SetSpatialPosition(azimuthDeg, elevationDeg float64) {
	azimuthDeg = core.Clamp(azimuthDeg, -90, 90)
	elevationDeg = core.Clamp(elevationDeg, -90, 90)

	panAngle := (azimuthDeg + 90) * math.Pi / 180

	elevationScale := math.Cos(elevationDeg * math.Pi / 180)
	if elevationScale < 0 {
		elevationScale = 0
	}

	f.leftGain.SetTarget(math.Cos(panAngle*0.5) * elevationScale)
	f.rightGain.SetTarget(math.Sin(panAngle*0.5) * elevationScale)
}

func (f *Facade) Process(buf [][]float64) {
	channels := len(buf)
	if channels > f.channels {
		channels = f.channels
	}

	if channels == 0 {
		return
	}

	frames := len(buf[0])

	for i := 0; i < frames; i++ {
		gain := f.airGain.Next()

		for ch := 0; ch < channels; ch++ {
			input := buf[ch][i]
			f.airState[ch] += f.airCoefficient * (input - f.airState[ch])
			high := input - f.airState[ch]
			buf[ch][i] = input + high*gain
		}
	}

	if channels < 2 {
		data := buf[0]
		for i := range data {
			data[i] *= f.outputGain.Next()
		}

		return
	}

	left := buf[0]
	right := buf[1]
	width := core.Clamp(f.width, 0, facadeMaxWidth)

	if f.panning {
		for i := 0; i < frames; i++ {
			mono := 0.5 * (left[i] + right[i])
			gain := f.outputGain.Next()
			left[i] = mono * f.leftGain.Next() * gain
			right[i] = mono * f.rightGain.Next() * gain
		}

		return
	}

	for i := 0; i < frames; i++ {
		mid := 0.5 * (left[i] + right[i])
		side := 0.5 * (left[i] - right[i]) * width
		gain := f.outputGain.Next()
		left[i] = (mid + side) * gain
		right[i] = (mid - side) * gain
	}
}
