package params

import "github.com/cwbudde/algo-dsp/dsp/core"

// Override supplies absolute per-parameter values that replace the control
// layer, typically from a running sequence.
type Override interface {
	// Value returns the override for id and whether id is automated.
	Value(id ID) (float64, bool)
}

// Offsetter supplies additive bipolar per-parameter offsets, typically from
// the modulation matrix.
type Offsetter interface {
	Offset(id ID) float64
}

// Pipeline resolves the layered control state into one Snapshot per block.
// Precedence, highest first: sequence override, modulation offset, macro
// blend over the raw value. A parameter the sequence automates ignores its
// modulation offset for that block so automation stays exact.
type Pipeline struct {
	mapper MacroMapper
	bank   Bank
}

// Prepare sets the sample rate for the smoothing layer.
func (p *Pipeline) Prepare(sampleRate float64) {
	p.bank.Prepare(sampleRate)
}

// Reset clears smoothing state; the next Resolve primes directly at its
// targets.
func (p *Pipeline) Reset() {
	p.bank.Reset()
}

// Ramping reports whether id is still smoothing toward its target.
func (p *Pipeline) Ramping(id ID) bool {
	return p.bank.Ramping(id)
}

// Resolve computes the Snapshot for one block of frames samples. seq and
// mods may be nil.
func (p *Pipeline) Resolve(raw *Raw, macros Macros, macroAmount float64, freeze bool,
	seq Override, mods Offsetter, frames int, dst *Snapshot,
) {
	macroAmount = core.Clamp(macroAmount, 0, 1)
	targets := p.mapper.Compute(macros)

	var automated uint64

	for i := range raw.Values {
		id := ID(i)
		base := raw.Values[i]

		if macroAmount > 0 && targets.Drives(id) {
			base += (targets.Values[i] - base) * macroAmount
		}

		if seq != nil {
			if v, ok := seq.Value(id); ok {
				base = core.Clamp(v, 0, 1)
				automated |= 1 << uint(i)
			}
		}

		p.bank.SetTarget(id, base)
	}

	values := p.bank.Advance(frames)

	for i := range dst.Values {
		v := values[i]

		if mods != nil && automated&(1<<uint(i)) == 0 {
			v += mods.Offset(ID(i))
		}

		dst.Values[i] = core.Clamp(v, 0, 1)
	}

	dst.Freeze = freeze
}
