package chambers

import (
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/delay"
)

const maxDiffusionCoeff = 0.74

// diffuser is a Schroeder all-pass stage used for input and late diffusion.
// It spreads transient energy in time without coloring the magnitude
// response; coefficients stay below 0.74 for stability headroom.
type diffuser struct {
	line        *delay.Line
	delay       int
	coefficient float64
}

func (d *diffuser) prepare(delaySamples int) error {
	if delaySamples < 1 {
		return fmt.Errorf("diffuser delay must be >= 1 sample: %d", delaySamples)
	}

	line, err := delay.New(delaySamples + 1)
	if err != nil {
		return err
	}

	d.line = line
	d.delay = delaySamples

	return nil
}

func (d *diffuser) setCoefficient(c float64) {
	d.coefficient = core.Clamp(c, -maxDiffusionCoeff, maxDiffusionCoeff)
}

func (d *diffuser) reset() {
	if d.line != nil {
		d.line.Reset()
	}
}

func (d *diffuser) processSample(input float64) float64 {
	if d.line == nil {
		return input
	}

	delayed := d.line.Read(d.delay)
	output := delayed - d.coefficient*input
	d.line.Write(input + d.coefficient*output)

	return output
}
