package modules

import (
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/monument/dsp/params"
)

const (
	buttressMinDrive    = 0.5
	buttressMaxDrive    = 3.0
	buttressFreezeBoost = 1.25
)

// Buttress is the saturating safety stage before the output: a normalized
// tanh shaper whose drive rises with the drive control and hardens slightly
// while frozen, so recirculating energy can never run away downstream.
type Buttress struct {
	drive  float64
	freeze bool
}

func NewButtress() *Buttress {
	return &Buttress{drive: 1.15}
}

func (b *Buttress) Prepare(sampleRate float64, maxBlock, channels int) error {
	if sampleRate <= 0 || maxBlock <= 0 || channels <= 0 {
		return fmt.Errorf("buttress prepare: sampleRate=%f maxBlock=%d channels=%d",
			sampleRate, maxBlock, channels)
	}

	return nil
}

func (b *Buttress) Reset() {}

// Apply maps the drive control onto the shaper range [0.5, 3].
func (b *Buttress) Apply(snap *params.Snapshot) {
	b.drive = buttressMinDrive + snap.Get(params.Drive)*(buttressMaxDrive-buttressMinDrive)
	b.freeze = snap.Freeze
}

func (b *Buttress) Process(buf [][]float64) {
	drive := core.Clamp(b.drive, buttressMinDrive, buttressMaxDrive)
	if b.freeze {
		drive = min(buttressMaxDrive, drive*buttressFreezeBoost)
	}

	// Normalize so unity input maps to unity output at every drive setting.
	norm := mathTanh(drive)
	if norm <= 0 {
		norm = 1
	}

	for ch := range buf {
		data := buf[ch]
		for i, x := range data {
			data[i] = mathTanh(x*drive) / norm
		}
	}
}
