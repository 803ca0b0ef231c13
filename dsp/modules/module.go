package modules

import "github.com/cwbudde/monument/dsp/params"

// Module is one leaf processing stage of the routing graph. Prepare sizes all
// internal buffers for the maximum block; Process never allocates and handles
// blocks up to that size. Apply installs the block's resolved parameters as
// smoothed targets before Process runs.
type Module interface {
	Prepare(sampleRate float64, maxBlock, channels int) error
	Process(buf [][]float64)
	Apply(snap *params.Snapshot)
	Reset()
}
