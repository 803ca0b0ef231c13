package graph

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/cwbudde/monument/dsp/block"
	"github.com/cwbudde/monument/dsp/chambers"
	"github.com/cwbudde/monument/dsp/modules"
	"github.com/cwbudde/monument/dsp/params"
)

// ModuleID addresses one leaf module in the arena.
type ModuleID int

const (
	ModuleFoundation ModuleID = iota
	ModulePillars
	ModuleChambers
	ModuleWeathering
	ModuleTubes
	ModuleElastic
	ModuleAlien
	ModuleEchoes
	ModuleButtress
	ModuleFacade
	moduleCount
)

var moduleNames = [moduleCount]string{
	"foundation", "pillars", "chambers", "weathering", "tubes",
	"elastic", "alien", "echoes", "buttress", "facade",
}

func (id ModuleID) String() string {
	if id < 0 || id >= moduleCount {
		return "invalid"
	}

	return moduleNames[id]
}

// Valid reports whether id addresses a real module.
func (id ModuleID) Valid() bool { return id >= 0 && id < moduleCount }

// Mode is the combination rule of one routing connection.
type Mode int

const (
	// Series runs the destination on the main buffer after the source.
	Series Mode = iota
	// Parallel runs the destination on a scratch copy of the branch input and
	// sums the result with the connection blend. The first parallel edge of a
	// block captures the branch input and clears the main buffer.
	Parallel
	// ParallelMix runs the destination on a copy of the current main buffer
	// and layers the result on top with the connection blend.
	ParallelMix
	// Feedback injects the source's previous block of output, low-passed and
	// scaled by the feedback gain, into the main buffer at the edge position.
	Feedback
	// Crossfeed mixes each stereo channel toward the mid signal.
	Crossfeed
	// Bypass marks the destination as skipped for this block.
	Bypass
)

var modeNames = [...]string{"series", "parallel", "parallelmix", "feedback", "crossfeed", "bypass"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "invalid"
	}

	return modeNames[m]
}

// Connection is one edge of a routing topology. Feedback edges read
// source-centric: Source names the module whose previous-block output is
// low-passed, scaled by FeedbackGain, and re-injected into the main buffer at
// this edge's list position. Destination records which module the loop feeds
// and is informational on feedback edges.
type Connection struct {
	Source       ModuleID
	Destination  ModuleID
	Mode         Mode
	Blend        float64
	FeedbackGain float64
	Crossfeed    float64
	Enabled      bool
}

const (
	// Feedback edges reject gains at or above this at build time; the block
	// path never re-checks.
	maxFeedbackGain = 0.95

	feedbackLowpassHz = 8000.0
	feedbackGainMs    = 50.0
	switchFadeMs      = 20.0
)

var (
	ErrUnknownModule = errors.New("graph: unknown module id")
	ErrUnknownPreset = errors.New("graph: unknown preset")
	ErrFeedbackGain  = errors.New("graph: feedback gain must be below 0.95")
	ErrSelfLoop      = errors.New("graph: self-loop requires feedback mode")
	ErrNotPrepared   = errors.New("graph: not prepared")
)

type feedbackState struct {
	gain    params.Smoother
	lpCoeff float64
	lpState [2]float64
}

// Topology is one compiled, validated preset: an ordered immutable edge list
// plus the per-edge feedback state it owns.
type Topology struct {
	Name        string
	Connections []Connection

	feedback  []*feedbackState
	fbSources uint32
}

func buildTopology(name string, conns []Connection, sampleRate float64) (*Topology, error) {
	t := &Topology{
		Name:        name,
		Connections: append([]Connection(nil), conns...),
		feedback:    make([]*feedbackState, len(conns)),
	}

	for i := range t.Connections {
		c := &t.Connections[i]

		if !c.Source.Valid() || !c.Destination.Valid() {
			return nil, fmt.Errorf("%w: %s edge %d (%d -> %d)",
				ErrUnknownModule, name, i, c.Source, c.Destination)
		}

		// Bypass edges are markers, not routes; a module trivially "loops"
		// onto itself there.
		if c.Source == c.Destination && c.Mode != Feedback && c.Mode != Bypass {
			return nil, fmt.Errorf("%w: %s edge %d on %s", ErrSelfLoop, name, i, c.Source)
		}

		if c.Mode == Feedback {
			if c.FeedbackGain < 0 || c.FeedbackGain >= maxFeedbackGain {
				return nil, fmt.Errorf("%w: %s edge %d gain %f",
					ErrFeedbackGain, name, i, c.FeedbackGain)
			}

			st := &feedbackState{
				lpCoeff: 1 - math.Exp(-2*math.Pi*feedbackLowpassHz/sampleRate),
			}
			st.gain.SetTimeMs(feedbackGainMs)
			st.gain.Prepare(sampleRate)
			st.gain.Reset(c.FeedbackGain)

			t.feedback[i] = st
			t.fbSources |= 1 << uint(c.Source)
		}
	}

	return t, nil
}

// Graph owns the leaf module arena and executes the active preset topology
// once per block. All buffers are sized in Prepare; Process neither allocates
// nor locks. The control thread talks to the audio thread only through the
// atomic preset target and the atomic bypass mask.
type Graph struct {
	sampleRate float64
	maxBlock   int
	channels   int
	prepared   bool

	mods     [moduleCount]modules.Module
	chambers *chambers.Chambers
	echoes   *modules.Echoes
	pillars  *modules.Pillars
	facade   *modules.Facade
	elastic  *modules.Elastic

	topologies [presetCount]*Topology
	active     PresetID
	target     atomic.Int32
	userBypass atomic.Uint32

	fadeGain float64
	fadeStep float64

	scratch [moduleCount][][]float64
	fbStore [moduleCount][][]float64
	dry     [][]float64

	// Persistent view headers, re-sliced in place per block so Process stays
	// allocation free.
	workView    [][]float64
	scratchView [moduleCount][][]float64

	calls [moduleCount]uint64
}

// New builds the module arena. The seed drives the deterministic stages
// (memory surfacing); equal seeds render identically.
func New(seed int64) *Graph {
	g := &Graph{fadeGain: 1}

	g.chambers = chambers.New()
	g.echoes = modules.NewEchoes(seed)
	g.pillars = modules.NewPillars()
	g.facade = modules.NewFacade()
	g.elastic = modules.NewElastic()

	g.mods[ModuleFoundation] = modules.NewFoundation()
	g.mods[ModulePillars] = g.pillars
	g.mods[ModuleChambers] = g.chambers
	g.mods[ModuleWeathering] = modules.NewWeathering()
	g.mods[ModuleTubes] = modules.NewTubes()
	g.mods[ModuleElastic] = g.elastic
	g.mods[ModuleAlien] = modules.NewAlien()
	g.mods[ModuleEchoes] = g.echoes
	g.mods[ModuleButtress] = modules.NewButtress()
	g.mods[ModuleFacade] = g.facade

	return g
}

// Prepare sizes every buffer, prepares all modules, and compiles the preset
// table. Nothing allocates after it returns.
func (g *Graph) Prepare(sampleRate float64, maxBlock, channels int) error {
	if sampleRate <= 0 || maxBlock <= 0 {
		return fmt.Errorf("graph prepare: sampleRate=%f maxBlock=%d", sampleRate, maxBlock)
	}

	if channels < 1 || channels > 2 {
		return fmt.Errorf("graph supports 1..2 channels: %d", channels)
	}

	g.sampleRate = sampleRate
	g.maxBlock = maxBlock
	g.channels = channels

	for id := ModuleID(0); id < moduleCount; id++ {
		if err := g.mods[id].Prepare(sampleRate, maxBlock, channels); err != nil {
			return fmt.Errorf("prepare %s: %w", id, err)
		}

		g.scratch[id] = block.Alloc(channels, maxBlock)
		g.fbStore[id] = block.Alloc(channels, maxBlock)
		g.scratchView[id] = make([][]float64, channels)
	}

	g.dry = block.Alloc(channels, maxBlock)
	g.workView = make([][]float64, channels)

	if err := g.buildPresets(); err != nil {
		return err
	}

	g.active = PresetTraditionalCathedral
	g.target.Store(int32(g.active))
	g.fadeGain = 1
	g.fadeStep = 1 / (switchFadeMs / 1000 * sampleRate)
	g.prepared = true

	return nil
}

// Reset clears all module and routing state but keeps the prepared layout.
func (g *Graph) Reset() {
	for id := ModuleID(0); id < moduleCount; id++ {
		g.mods[id].Reset()
		block.Zero(g.fbStore[id])
		g.calls[id] = 0
	}

	for _, t := range g.topologies {
		if t == nil {
			continue
		}

		for i, st := range t.feedback {
			if st == nil {
				continue
			}

			st.lpState = [2]float64{}
			st.gain.Reset(t.Connections[i].FeedbackGain)
		}
	}

	g.fadeGain = 1
}

// LoadTopology schedules a preset switch. The audio thread picks the target
// up at the next block boundary and glides the output over the switch, so the
// call is safe from the control thread at any time.
func (g *Graph) LoadTopology(id PresetID) error {
	if !g.prepared {
		return ErrNotPrepared
	}

	if id < 0 || id >= presetCount {
		return fmt.Errorf("%w: %d", ErrUnknownPreset, id)
	}

	g.target.Store(int32(id))

	return nil
}

// ActiveTopology returns the preset the audio thread is currently executing.
func (g *Graph) ActiveTopology() PresetID { return g.active }

// TargetTopology returns the most recently requested preset, which leads
// ActiveTopology while a switch fade is in flight.
func (g *Graph) TargetTopology() PresetID { return PresetID(g.target.Load()) }

// Topology returns the compiled edge list of a preset, for inspection.
func (g *Graph) Topology(id PresetID) (*Topology, error) {
	if id < 0 || id >= presetCount {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPreset, id)
	}

	return g.topologies[id], nil
}

// SetBypass toggles one module's user bypass. Takes effect at the next block.
func (g *Graph) SetBypass(id ModuleID, bypassed bool) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownModule, id)
	}

	for {
		old := g.userBypass.Load()

		next := old &^ (1 << uint(id))
		if bypassed {
			next = old | 1<<uint(id)
		}

		if g.userBypass.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// Chambers exposes the reverberation kernel for tail and freeze queries.
func (g *Graph) Chambers() *chambers.Chambers { return g.chambers }

// Facade exposes the output stage for spatial positioning.
func (g *Graph) Facade() *modules.Facade { return g.facade }

// Pillars exposes the early-reflection stage for palette selection.
func (g *Graph) Pillars() *modules.Pillars { return g.pillars }

// Apply forwards the resolved snapshot to every module at the block boundary.
func (g *Graph) Apply(snap *params.Snapshot) {
	for id := ModuleID(0); id < moduleCount; id++ {
		g.mods[id].Apply(snap)
	}
}

// Process executes the active topology over buf in place.
func (g *Graph) Process(buf [][]float64) {
	if !g.prepared || len(buf) == 0 {
		return
	}

	frames := block.Frames(buf)
	if frames > g.maxBlock {
		frames = g.maxBlock
	}

	work := block.ViewInto(g.workView, buf, frames)

	topo := g.topologies[g.active]

	var ran, byp [moduleCount]bool

	mask := g.userBypass.Load()
	for id := ModuleID(0); id < moduleCount; id++ {
		byp[id] = mask&(1<<uint(id)) != 0
	}

	parallelStarted := false

	for i := range topo.Connections {
		c := &topo.Connections[i]
		if !c.Enabled {
			continue
		}

		switch c.Mode {
		case Bypass:
			byp[c.Destination] = true

		case Series:
			g.run(topo, c.Source, work, &ran, &byp)
			g.run(topo, c.Destination, work, &ran, &byp)

		case Parallel:
			g.run(topo, c.Source, work, &ran, &byp)

			if !parallelStarted {
				parallelStarted = true
				block.Copy(g.dry, work)
				block.Zero(work)
			}

			s := block.ViewInto(g.scratchView[c.Destination], g.scratch[c.Destination], frames)
			block.Copy(s, g.dry)
			g.runBranch(topo, c.Destination, s, &ran, &byp)
			block.AddScaled(work, s, c.Blend)

		case ParallelMix:
			s := block.ViewInto(g.scratchView[c.Destination], g.scratch[c.Destination], frames)
			block.Copy(s, work)
			g.runBranch(topo, c.Destination, s, &ran, &byp)
			block.AddScaled(work, s, c.Blend)

		case Feedback:
			g.injectFeedback(topo.feedback[i], c, work, frames)

		case Crossfeed:
			crossfeed(work, c.Crossfeed)
		}
	}

	// The memory stage listens to whatever leaves the graph.
	g.echoes.Capture(work)

	g.applySwitchFade(work, frames)
}

// run processes a module on the main buffer once per block. Bypassed modules
// are marked as ran so later edges do not resurrect them.
func (g *Graph) run(topo *Topology, id ModuleID, work [][]float64, ran, byp *[moduleCount]bool) {
	if ran[id] {
		return
	}

	ran[id] = true

	if byp[id] {
		return
	}

	g.mods[id].Process(work)
	g.calls[id]++

	if topo.fbSources&(1<<uint(id)) != 0 {
		block.Copy(g.fbStore[id], work)
	}
}

// runBranch is run for parallel branches: the module processes its scratch
// buffer instead of the main one.
func (g *Graph) runBranch(topo *Topology, id ModuleID, s [][]float64, ran, byp *[moduleCount]bool) {
	if ran[id] {
		return
	}

	ran[id] = true

	if byp[id] {
		return
	}

	g.mods[id].Process(s)
	g.calls[id]++

	if topo.fbSources&(1<<uint(id)) != 0 {
		block.Copy(g.fbStore[id], s)
	}
}

func (g *Graph) injectFeedback(st *feedbackState, c *Connection, work [][]float64, frames int) {
	if st == nil {
		return
	}

	gain := st.gain.Skip(frames)
	src := g.fbStore[c.Source]

	for ch := range work {
		if ch >= len(src) || ch >= 2 {
			break
		}

		state := st.lpState[ch]
		from := src[ch]
		to := work[ch]

		for s := 0; s < frames; s++ {
			state += st.lpCoeff * (from[s] - state)
			to[s] += state * gain
		}

		st.lpState[ch] = state
	}
}

func crossfeed(work [][]float64, amount float64) {
	if len(work) < 2 {
		return
	}

	if amount < 0 {
		amount = 0
	} else if amount > 1 {
		amount = 1
	}

	left, right := work[0], work[1]
	for i := range left {
		mid := 0.5 * (left[i] + right[i])
		left[i] = left[i]*(1-amount) + mid*amount
		right[i] = right[i]*(1-amount) + mid*amount
	}
}

// applySwitchFade glides the output gain around a pending preset switch: a
// retargeted preset fades the output down over the switch window, the swap
// happens between blocks at zero gain, and the new topology fades back up.
// The active topology itself only ever changes at a block boundary.
func (g *Graph) applySwitchFade(work [][]float64, frames int) {
	target := PresetID(g.target.Load())

	if target == g.active && g.fadeGain >= 1 {
		return
	}

	fadingOut := target != g.active

	gain := g.fadeGain
	for s := 0; s < frames; s++ {
		if fadingOut {
			gain -= g.fadeStep
			if gain < 0 {
				gain = 0
			}
		} else {
			gain += g.fadeStep
			if gain > 1 {
				gain = 1
			}
		}

		for ch := range work {
			work[ch][s] *= gain
		}
	}

	g.fadeGain = gain

	if fadingOut && g.fadeGain == 0 {
		g.active = target
	}
}

// processCalls reports how many blocks a module has actually processed.
func (g *Graph) processCalls(id ModuleID) uint64 {
	if !id.Valid() {
		return 0
	}

	return g.calls[id]
}
