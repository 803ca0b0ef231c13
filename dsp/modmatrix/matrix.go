package modmatrix

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/monument/dsp/params"
)

// Source identifies one modulation generator.
type Source int

const (
	ChaosAttractor Source = iota
	AudioFollower
	BrownianMotion
	EnvelopeTracker
	// LFO is the user oscillator bank; the connection axis selects one of
	// LFOCount oscillators.
	LFO

	sourceCount
)

var sourceNames = [sourceCount]string{
	ChaosAttractor:  "chaosAttractor",
	AudioFollower:   "audioFollower",
	BrownianMotion:  "brownianMotion",
	EnvelopeTracker: "envelopeTracker",
	LFO:             "lfo",
}

// Valid reports whether s names a defined source.
func (s Source) Valid() bool { return s >= 0 && s < sourceCount }

func (s Source) String() string {
	if !s.Valid() {
		return "invalid"
	}

	return sourceNames[s]
}

// LookupSource returns the Source for a canonical generator name.
func LookupSource(name string) (Source, bool) {
	for s, n := range sourceNames {
		if n == name {
			return Source(s), true
		}
	}

	return sourceCount, false
}

// Axes returns the number of output axes the source produces.
func (s Source) Axes() int {
	switch s {
	case ChaosAttractor:
		return 3
	case LFO:
		return LFOCount
	default:
		return 1
	}
}

// LFOCount is the size of the user oscillator bank.
const LFOCount = 6

const (
	minLFORateHz = 0.01
	maxLFORateHz = 20.0
	minLFOPulse  = 0.05
	maxLFOPulse  = 0.95
)

// Errors reported by connection edits.
var (
	ErrUnknownSource      = errors.New("unknown modulation source")
	ErrUnknownDestination = errors.New("unknown modulation destination")
	ErrUnknownLFO         = errors.New("unknown lfo index")
	ErrUnknownLFOShape    = errors.New("unknown lfo shape")
)

// Connection routes one source axis onto one destination parameter.
type Connection struct {
	Source        Source
	SourceAxis    int
	Destination   params.ID
	Depth         float64
	SmoothingMs   float64
	Probability   float64
	QuantizeSteps int
	Enabled       bool
}

const (
	defaultSmoothingMs = 200.0
	minSmoothingMs     = 20.0
	maxSmoothingMs     = 1000.0
	maxConnections     = 256
	maxQuantizeSteps   = 64
)

// connectionSet is an immutable view handed to the audio thread.
type connectionSet struct {
	conns       []Connection
	smoothingMs [params.Count]float64
}

func emptySet() *connectionSet {
	set := &connectionSet{}
	for i := range set.smoothingMs {
		set.smoothingMs[i] = defaultSmoothingMs
	}

	return set
}

// Matrix evaluates all modulation sources once per block and accumulates
// depth-scaled, gated, smoothed offsets per destination parameter.
//
// Edits happen on the control thread and are published as immutable snapshots
// through an atomic pointer; Process and Offset run on the audio thread and
// never lock.
type Matrix struct {
	sampleRate float64

	chaos    lorenzAttractor
	follower audioFollower
	brownian brownianWalk
	tracker  envelopeTracker
	lfos     [LFOCount]lfo

	lfoActive  atomic.Pointer[[LFOCount]LFOConfig]
	lfoApplied *[LFOCount]LFOConfig

	rng *rand.Rand

	offsets [params.Count]float64

	active       atomic.Pointer[connectionSet]
	resetPending atomic.Bool

	mu     sync.Mutex
	master []Connection
}

// New creates a Matrix. The seed drives the Brownian walk and the probability
// gates; two matrices with equal seeds and inputs produce identical offsets.
func New(seed int64) *Matrix {
	m := &Matrix{
		rng:    rand.New(rand.NewSource(seed)),
		master: make([]Connection, 0, maxConnections),
	}
	m.brownian.rng = m.rng
	for i := range m.lfos {
		m.lfos[i].rng = m.rng
	}

	cfgs := defaultLFOConfigs()
	m.lfoActive.Store(&cfgs)
	m.active.Store(emptySet())

	return m
}

// defaultLFOConfigs spreads the bank across the shapes at slow musical rates.
func defaultLFOConfigs() [LFOCount]LFOConfig {
	return [LFOCount]LFOConfig{
		{RateHz: 0.05, Shape: LFOSine, PulseWidth: 0.5},
		{RateHz: 0.10, Shape: LFOTriangle, PulseWidth: 0.5},
		{RateHz: 0.20, Shape: LFOSawUp, PulseWidth: 0.5},
		{RateHz: 0.35, Shape: LFOSawDown, PulseWidth: 0.5},
		{RateHz: 0.60, Shape: LFOSquare, PulseWidth: 0.5},
		{RateHz: 0.15, Shape: LFOSmoothRandom, PulseWidth: 0.5},
	}
}

// Prepare sets the sample rate and resets all source state.
func (m *Matrix) Prepare(sampleRate float64) {
	if sampleRate <= 0 {
		sampleRate = 48000
	}

	m.sampleRate = sampleRate
	m.follower.prepare(sampleRate)
	m.tracker.prepare(sampleRate)
	m.chaos.reset()
	m.brownian.reset()

	for i := range m.lfos {
		m.lfos[i].reset()
	}

	m.offsets = [params.Count]float64{}
}

// Reset clears source trajectories and smoothed offsets.
func (m *Matrix) Reset() {
	m.chaos.reset()
	m.follower.reset()
	m.brownian.reset()
	m.tracker.reset()

	for i := range m.lfos {
		m.lfos[i].reset()
	}

	m.offsets = [params.Count]float64{}
}

// Process advances every source once for this block and updates the
// per-destination offsets. buf is the block input, used by the audio-reactive
// sources.
func (m *Matrix) Process(buf [][]float64, frames int) {
	if m.resetPending.Swap(false) {
		m.offsets = [params.Count]float64{}
	}

	set := m.active.Load()

	// Pick up a retuned oscillator bank at the block boundary; phase carries
	// across the edit.
	if cfgs := m.lfoActive.Load(); cfgs != m.lfoApplied {
		m.lfoApplied = cfgs
		for i := range m.lfos {
			m.lfos[i].cfg = cfgs[i]
		}
	}

	m.chaos.advance()
	m.follower.process(buf, frames)
	m.brownian.advance()
	m.tracker.process(buf, frames)

	for i := range m.lfos {
		m.lfos[i].advance(m.sampleRate, frames)
	}

	var sums [params.Count]float64

	for i := range set.conns {
		c := &set.conns[i]
		if !c.Enabled {
			continue
		}

		if c.Probability < 1 && m.rng.Float64() > c.Probability {
			continue
		}

		v := m.SourceValue(c.Source, c.SourceAxis)
		if c.QuantizeSteps >= 2 {
			v = quantize(v, c.QuantizeSteps)
		}

		sums[c.Destination] += v * c.Depth
	}

	for i := range m.offsets {
		target := core.Clamp(sums[i], -1, 1)
		coeff := blockCoefficient(set.smoothingMs[i], m.sampleRate, frames)
		m.offsets[i] = target + (m.offsets[i]-target)*coeff
	}
}

// Offset returns the smoothed, accumulated modulation for id, bipolar [-1,1].
func (m *Matrix) Offset(id params.ID) float64 {
	if !id.Valid() {
		return 0
	}

	return m.offsets[id]
}

// SourceValue returns the current raw output of one source axis.
func (m *Matrix) SourceValue(src Source, axis int) float64 {
	switch src {
	case ChaosAttractor:
		return m.chaos.value(axis)
	case AudioFollower:
		return m.follower.value()
	case BrownianMotion:
		return m.brownian.value()
	case EnvelopeTracker:
		return m.tracker.value()
	case LFO:
		if axis < 0 || axis >= LFOCount {
			return 0
		}

		return m.lfos[axis].value()
	default:
		return 0
	}
}

// SetLFOConfig replaces one oscillator's configuration. Rate, pulse width,
// and phase offset are clamped into their valid ranges; the audio thread
// applies the bank at the next block without resetting phase.
func (m *Matrix) SetLFOConfig(index int, cfg LFOConfig) error {
	if index < 0 || index >= LFOCount {
		return fmt.Errorf("%w: %d", ErrUnknownLFO, index)
	}

	if !cfg.Shape.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownLFOShape, int(cfg.Shape))
	}

	cfg.RateHz = core.Clamp(cfg.RateHz, minLFORateHz, maxLFORateHz)
	cfg.PulseWidth = core.Clamp(cfg.PulseWidth, minLFOPulse, maxLFOPulse)
	cfg.PhaseOffset = core.Clamp(cfg.PhaseOffset, 0, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	next := *m.lfoActive.Load()
	next[index] = cfg
	m.lfoActive.Store(&next)

	return nil
}

// LFOConfigs returns the current oscillator bank.
func (m *Matrix) LFOConfigs() [LFOCount]LFOConfig {
	return *m.lfoActive.Load()
}

// SetConnection adds or updates the connection identified by its
// source/destination/axis triple. Out-of-range depth, smoothing, probability,
// and quantization are clamped into their valid ranges.
func (m *Matrix) SetConnection(c Connection) error {
	if !c.Source.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownSource, int(c.Source))
	}

	if !c.Destination.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownDestination, int(c.Destination))
	}

	sanitizeConnection(&c)

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.master {
		if sameRoute(&m.master[i], &c) {
			m.master[i] = c
			m.publishLocked()

			return nil
		}
	}

	if len(m.master) >= maxConnections {
		return fmt.Errorf("connection limit reached (%d)", maxConnections)
	}

	m.master = append(m.master, c)
	m.publishLocked()

	return nil
}

// RemoveConnection deletes the connection identified by the route triple, if
// present.
func (m *Matrix) RemoveConnection(src Source, dest params.ID, axis int) {
	probe := Connection{Source: src, Destination: dest, SourceAxis: axis}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.master {
		if sameRoute(&m.master[i], &probe) {
			m.master = append(m.master[:i], m.master[i+1:]...)
			m.publishLocked()

			return
		}
	}
}

// ClearConnections removes every connection and schedules an offset reset at
// the next block.
func (m *Matrix) ClearConnections() {
	m.mu.Lock()
	m.master = m.master[:0]
	m.publishLocked()
	m.mu.Unlock()

	m.resetPending.Store(true)
}

// SetConnections replaces the whole connection list, for state restore.
func (m *Matrix) SetConnections(conns []Connection) error {
	for i := range conns {
		if !conns[i].Source.Valid() {
			return fmt.Errorf("connection %d: %w: %d", i, ErrUnknownSource, int(conns[i].Source))
		}

		if !conns[i].Destination.Valid() {
			return fmt.Errorf("connection %d: %w: %d", i, ErrUnknownDestination, int(conns[i].Destination))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(conns) > maxConnections {
		conns = conns[:maxConnections]
	}

	m.master = m.master[:0]
	for _, c := range conns {
		sanitizeConnection(&c)
		m.master = append(m.master, c)
	}

	m.publishLocked()

	return nil
}

// Connections returns a copy of the active connection list.
func (m *Matrix) Connections() []Connection {
	set := m.active.Load()

	out := make([]Connection, len(set.conns))
	copy(out, set.conns)

	return out
}

func (m *Matrix) publishLocked() {
	set := emptySet()
	set.conns = make([]Connection, len(m.master))
	copy(set.conns, m.master)

	for i := range set.conns {
		c := &set.conns[i]
		if c.Enabled && c.Destination.Valid() {
			set.smoothingMs[c.Destination] = c.SmoothingMs
		}
	}

	m.active.Store(set)
}

func sanitizeConnection(c *Connection) {
	c.Depth = core.Clamp(c.Depth, -1, 1)
	c.SmoothingMs = core.Clamp(c.SmoothingMs, minSmoothingMs, maxSmoothingMs)
	c.Probability = core.Clamp(c.Probability, 0, 1)

	if c.QuantizeSteps < 0 {
		c.QuantizeSteps = 0
	} else if c.QuantizeSteps > maxQuantizeSteps {
		c.QuantizeSteps = maxQuantizeSteps
	}

	if c.SourceAxis < 0 || c.SourceAxis >= c.Source.Axes() {
		c.SourceAxis = 0
	}
}

func sameRoute(a, b *Connection) bool {
	return a.Source == b.Source && a.Destination == b.Destination && a.SourceAxis == b.SourceAxis
}

// quantize snaps |v| onto steps discrete levels, preserving sign.
func quantize(v float64, steps int) float64 {
	sign := 1.0
	if v < 0 {
		sign = -1
		v = -v
	}

	levels := float64(steps - 1)

	return sign * math.Round(v*levels) / levels
}

func blockCoefficient(timeMs, sampleRate float64, frames int) float64 {
	if timeMs <= 0 || sampleRate <= 0 || frames <= 0 {
		return 0
	}

	tauSamples := timeMs * 0.001 * sampleRate

	return math.Exp(-float64(frames) / tauSamples)
}
