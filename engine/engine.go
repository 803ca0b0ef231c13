package engine

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/cwbudde/monument/dsp/block"
	"github.com/cwbudde/monument/dsp/chambers"
	"github.com/cwbudde/monument/dsp/graph"
	"github.com/cwbudde/monument/dsp/modmatrix"
	"github.com/cwbudde/monument/dsp/modules"
	"github.com/cwbudde/monument/dsp/params"
	"github.com/cwbudde/monument/dsp/sequence"
)

// Controls is the per-block control snapshot the hosting shim delivers:
// raw parameter values, macro positions, and the freeze switch.
type Controls struct {
	Raw         params.Raw
	Macros      params.Macros
	MacroAmount float64
	Freeze      bool
}

// DefaultControls returns a neutral control set.
func DefaultControls() Controls {
	return Controls{
		Raw:         params.Defaults(),
		Macros:      params.NeutralMacros(),
		MacroAmount: 0,
	}
}

// State is the structured save/restore representation the shim serializes.
// The engine owns the routing, modulation, and sequence configuration; macro
// values mirror the last control snapshot the audio thread saw.
type State struct {
	Topology    graph.PresetID
	PillarMode  modules.PillarMode
	Macros      params.Macros
	MacroAmount float64
	Connections []modmatrix.Connection
	Sequence    *sequence.Sequence
}

var (
	ErrNotPrepared = errors.New("engine: not prepared")

	// ErrBlockOverrun reports that a previous Process call received more
	// frames than Prepare allocated for. The excess was left untouched at the
	// time; the host should re-prepare with a larger maximum block.
	ErrBlockOverrun = errors.New("engine: block exceeded prepared capacity")
)

// Engine ties the control pipeline, modulation matrix, sequence scheduler,
// and routing graph into one per-block processor. All configuration entry
// points are control-thread safe; Process is the real-time path and never
// allocates, locks, or fails.
type Engine struct {
	sampleRate float64
	maxBlock   int
	channels   int
	prepared   bool

	graph     *graph.Graph
	matrix    *modmatrix.Matrix
	scheduler sequence.Scheduler
	pipeline  params.Pipeline
	snapshot  params.Snapshot

	// Persistent view header, re-sliced per block so Process stays
	// allocation free.
	work [][]float64

	overrun    atomic.Bool
	seenMacros atomicMacros
}

// New builds an engine. The seed drives every stochastic element (modulation
// randomness, memory surfacing, reflection layouts); equal seeds with equal
// inputs render bit-identically.
func New(seed int64) *Engine {
	return &Engine{
		graph:  graph.New(seed),
		matrix: modmatrix.New(seed + 1),
	}
}

// Prepare sizes the whole signal path. It also surfaces a block overrun left
// behind by Process since the last Prepare, as that is a host configuration
// error: fix the block size and call Prepare again.
func (e *Engine) Prepare(sampleRate float64, maxBlock, channels int) error {
	if e.overrun.Swap(false) {
		return fmt.Errorf("%w: prepared for %d frames", ErrBlockOverrun, e.maxBlock)
	}

	if sampleRate <= 0 || maxBlock <= 0 {
		return fmt.Errorf("engine prepare: sampleRate=%f maxBlock=%d", sampleRate, maxBlock)
	}

	if channels < 1 || channels > 2 {
		return fmt.Errorf("engine supports 1..2 channels: %d", channels)
	}

	if err := e.graph.Prepare(sampleRate, maxBlock, channels); err != nil {
		return err
	}

	e.matrix.Prepare(sampleRate)
	e.scheduler.Prepare(sampleRate)
	e.pipeline.Prepare(sampleRate)

	e.sampleRate = sampleRate
	e.maxBlock = maxBlock
	e.channels = channels
	e.work = make([][]float64, channels)
	e.prepared = true

	return nil
}

// Reset clears all signal state but keeps the prepared layout and the
// control configuration.
func (e *Engine) Reset() {
	if !e.prepared {
		return
	}

	e.graph.Reset()
	e.matrix.Reset()
	e.scheduler.Reset()
	e.pipeline.Reset()
}

// Process renders one block in place. A buffer longer than the prepared
// maximum is processed up to capacity; the excess stays untouched and the
// overrun is reported by the next Prepare.
func (e *Engine) Process(buf [][]float64, controls *Controls, tr *sequence.Transport) {
	if !e.prepared || len(buf) == 0 || controls == nil {
		return
	}

	frames := block.Frames(buf)
	if frames > e.maxBlock {
		frames = e.maxBlock

		e.overrun.Store(true)
	}

	if frames == 0 {
		return
	}

	work := block.ViewInto(e.work, buf, frames)

	e.seenMacros.store(controls.Macros, controls.MacroAmount)

	e.scheduler.Process(tr, frames)
	e.matrix.Process(work, frames)
	e.pipeline.Resolve(&controls.Raw, controls.Macros, controls.MacroAmount,
		controls.Freeze, &e.scheduler, e.matrix, frames, &e.snapshot)

	e.graph.Apply(&e.snapshot)
	e.graph.Process(work)
}

// LoadTopology schedules a routing preset switch at the next block boundary.
func (e *Engine) LoadTopology(id graph.PresetID) error {
	if !e.prepared {
		return ErrNotPrepared
	}

	return e.graph.LoadTopology(id)
}

// SetModulationConnections replaces the modulation routing.
func (e *Engine) SetModulationConnections(conns []modmatrix.Connection) error {
	return e.matrix.SetConnections(conns)
}

// SetSequence installs a keyframe timeline; nil stops sequencing.
func (e *Engine) SetSequence(seq *sequence.Sequence) error {
	return e.scheduler.SetSequence(seq)
}

// SetPillarMode selects the early-reflection palette.
func (e *Engine) SetPillarMode(mode modules.PillarMode) {
	e.graph.Pillars().SetMode(mode)
}

// SetBypass toggles one leaf module.
func (e *Engine) SetBypass(id graph.ModuleID, bypassed bool) error {
	return e.graph.SetBypass(id, bypassed)
}

// TailSeconds reports the approximate reverberation tail length for the
// host's pre-roll accounting.
func (e *Engine) TailSeconds() float64 {
	return e.graph.Chambers().TailSeconds()
}

// FreezeState reports the kernel's freeze machine state.
func (e *Engine) FreezeState() chambers.FreezeState {
	return e.graph.Chambers().State()
}

// State captures the engine-owned configuration for save/restore.
func (e *Engine) State() State {
	macros, amount := e.seenMacros.load()

	return State{
		Topology:    e.graph.TargetTopology(),
		PillarMode:  e.graph.Pillars().Mode(),
		Macros:      macros,
		MacroAmount: amount,
		Connections: e.matrix.Connections(),
		Sequence:    e.scheduler.Sequence(),
	}
}

// ApplyState restores a captured configuration. Macro values in the state are
// informational; the shim feeds them back through the per-block controls.
func (e *Engine) ApplyState(st State) error {
	if !e.prepared {
		return ErrNotPrepared
	}

	if err := e.graph.LoadTopology(st.Topology); err != nil {
		return err
	}

	e.graph.Pillars().SetMode(st.PillarMode)

	if err := e.matrix.SetConnections(st.Connections); err != nil {
		return err
	}

	return e.scheduler.SetSequence(st.Sequence)
}

// Release drops real-time readiness. The engine can be prepared again.
func (e *Engine) Release() {
	e.prepared = false
}

// SampleRate reports the prepared sample rate, 0 before Prepare.
func (e *Engine) SampleRate() float64 {
	if !e.prepared {
		return 0
	}

	return e.sampleRate
}

// atomicMacros mirrors the last macro snapshot the audio thread consumed so
// the control thread can read it without a lock.
type atomicMacros struct {
	bits [7]atomic.Uint64
}

func (a *atomicMacros) store(m params.Macros, amount float64) {
	vals := [7]float64{
		m.Material, m.Topology, m.Viscosity, m.Evolution,
		m.ChaosIntensity, m.ElasticityDecay, amount,
	}

	for i, v := range vals {
		a.bits[i].Store(math.Float64bits(v))
	}
}

func (a *atomicMacros) load() (params.Macros, float64) {
	var vals [7]float64
	for i := range vals {
		vals[i] = math.Float64frombits(a.bits[i].Load())
	}

	return params.Macros{
		Material:        vals[0],
		Topology:        vals[1],
		Viscosity:       vals[2],
		Evolution:       vals[3],
		ChaosIntensity:  vals[4],
		ElasticityDecay: vals[5],
	}, vals[6]
}
