package params

import "github.com/cwbudde/algo-dsp/dsp/core"

// Snapshot is the fully resolved parameter state for one block. It is built
// once per block by the Pipeline and passed through the rest of the engine;
// nothing downstream re-reads raw control values.
type Snapshot struct {
	Values [Count]float64
	Freeze bool
}

// Get returns the resolved value for id, or 0 for an invalid id.
func (s *Snapshot) Get(id ID) float64 {
	if !id.Valid() {
		return 0
	}

	return s.Values[id]
}

// Raw holds the unsmoothed per-parameter control values delivered by the
// hosting shim, already normalized to [0,1].
type Raw struct {
	Values [Count]float64
}

// Set stores a raw control value, clamped to [0,1]. Invalid ids are ignored.
func (r *Raw) Set(id ID, v float64) {
	if !id.Valid() {
		return
	}

	r.Values[id] = core.Clamp(v, 0, 1)
}

// Defaults returns neutral raw values: everything at mid-range except the
// stages that default off.
func Defaults() Raw {
	var r Raw
	for i := range r.Values {
		r.Values[i] = 0.5
	}

	r.Values[Memory] = 0
	r.Values[MemoryDepth] = 0.3
	r.Values[MemoryDecay] = 0.5
	r.Values[ImpossibilityDegree] = 0
	r.Values[Nonlinearity] = 0.2

	return r
}
