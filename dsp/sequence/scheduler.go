package sequence

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"sync/atomic"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/monument/dsp/params"
)

// Curve selects the interpolation shape toward the next keyframe.
type Curve int

const (
	Linear Curve = iota
	Exponential
	SCurve
	Step

	curveCount
)

// Valid reports whether c names a defined curve.
func (c Curve) Valid() bool { return c >= 0 && c < curveCount }

var curveNames = [curveCount]string{"linear", "exponential", "s-curve", "step"}

func (c Curve) String() string {
	if !c.Valid() {
		return "invalid"
	}

	return curveNames[c]
}

// LookupCurve returns the curve for a canonical name.
func LookupCurve(name string) (Curve, bool) {
	for c, n := range curveNames {
		if n == name {
			return Curve(c), true
		}
	}

	return curveCount, false
}

// PlaybackMode controls what happens at the timeline boundaries.
type PlaybackMode int

const (
	OneShot PlaybackMode = iota
	Loop
	PingPong

	playbackModeCount
)

// Valid reports whether m names a defined playback mode.
func (m PlaybackMode) Valid() bool { return m >= 0 && m < playbackModeCount }

var playbackNames = [playbackModeCount]string{"one-shot", "loop", "ping-pong"}

func (m PlaybackMode) String() string {
	if !m.Valid() {
		return "invalid"
	}

	return playbackNames[m]
}

// LookupPlayback returns the playback mode for a canonical name.
func LookupPlayback(name string) (PlaybackMode, bool) {
	for p, n := range playbackNames {
		if n == name {
			return PlaybackMode(p), true
		}
	}

	return playbackModeCount, false
}

// TimingMode selects the unit keyframe times are expressed in.
type TimingMode int

const (
	Beats TimingMode = iota
	Seconds

	timingModeCount
)

// Valid reports whether m names a defined timing mode.
func (m TimingMode) Valid() bool { return m >= 0 && m < timingModeCount }

var timingNames = [timingModeCount]string{"beats", "seconds"}

func (m TimingMode) String() string {
	if !m.Valid() {
		return "invalid"
	}

	return timingNames[m]
}

// LookupTiming returns the timing mode for a canonical name.
func LookupTiming(name string) (TimingMode, bool) {
	for t, n := range timingNames {
		if n == name {
			return TimingMode(t), true
		}
	}

	return timingModeCount, false
}

// Transport carries the host playback context for tempo-synced timelines.
type Transport struct {
	BPM float64
}

const defaultBPM = 120.0

// Keyframe is one point on the timeline: a position plus a sparse set of
// parameter targets. Parameters a keyframe does not set are not automated
// across its span.
type Keyframe struct {
	Time  float64
	Curve Curve

	values [params.Count]float64
	set    uint64
}

// Set stores a parameter target in the keyframe, clamped to [0,1].
func (k *Keyframe) Set(id params.ID, v float64) {
	if !id.Valid() {
		return
	}

	k.values[id] = core.Clamp(v, 0, 1)
	k.set |= 1 << uint(id)
}

// Lookup returns the target for id and whether the keyframe sets it.
func (k *Keyframe) Lookup(id params.ID) (float64, bool) {
	if !id.Valid() || k.set&(1<<uint(id)) == 0 {
		return 0, false
	}

	return k.values[id], true
}

// Targets returns the automated parameters as a map, for serialization.
func (k *Keyframe) Targets() map[params.ID]float64 {
	out := make(map[params.ID]float64)
	for id := params.ID(0); id < params.Count; id++ {
		if v, ok := k.Lookup(id); ok {
			out[id] = v
		}
	}

	return out
}

// Sequence is a complete timeline: ordered keyframes plus playback settings.
type Sequence struct {
	Name            string
	Keyframes       []Keyframe
	Timing          TimingMode
	Playback        PlaybackMode
	DurationBeats   float64
	DurationSeconds float64
	Enabled         bool
}

// AddKeyframe inserts a keyframe, keeping the list ordered by time.
func (s *Sequence) AddKeyframe(k Keyframe) {
	s.Keyframes = append(s.Keyframes, k)
	sort.SliceStable(s.Keyframes, func(i, j int) bool {
		return s.Keyframes[i].Time < s.Keyframes[j].Time
	})
}

func (s *Sequence) duration() float64 {
	if s.Timing == Beats {
		return s.DurationBeats
	}

	return s.DurationSeconds
}

// ErrInvalidSequence marks sequences rejected by SetSequence.
var ErrInvalidSequence = errors.New("invalid sequence")

// Scheduler advances a timeline against the host transport and emits
// interpolated parameter overrides. The audio thread reads the active
// sequence through an atomic pointer; SetSequence publishes a private copy,
// so control-thread edits never touch live state.
type Scheduler struct {
	sampleRate float64

	active  atomic.Pointer[Sequence]
	applied *Sequence

	seekBits    atomic.Uint64
	seekPending atomic.Bool

	position float64
	forward  bool

	values    [params.Count]float64
	automated uint64
}

// Prepare sets the sample rate and clears playback state.
func (s *Scheduler) Prepare(sampleRate float64) {
	if sampleRate <= 0 {
		sampleRate = 48000
	}

	s.sampleRate = sampleRate
	s.Reset()
}

// Reset rewinds the timeline and clears all overrides.
func (s *Scheduler) Reset() {
	s.position = 0
	s.forward = true
	s.automated = 0
}

// SetSequence validates seq and publishes a copy as the active timeline.
// Playback restarts from the beginning when the audio thread picks it up.
// Passing nil disables the scheduler.
func (s *Scheduler) SetSequence(seq *Sequence) error {
	if seq == nil {
		s.active.Store(nil)
		return nil
	}

	if !seq.Timing.Valid() {
		return fmt.Errorf("%w: timing mode %d", ErrInvalidSequence, int(seq.Timing))
	}

	if !seq.Playback.Valid() {
		return fmt.Errorf("%w: playback mode %d", ErrInvalidSequence, int(seq.Playback))
	}

	if d := seq.duration(); d <= 0 {
		return fmt.Errorf("%w: duration %v", ErrInvalidSequence, d)
	}

	for i := range seq.Keyframes {
		if seq.Keyframes[i].Time < 0 {
			return fmt.Errorf("%w: keyframe %d at negative time %v", ErrInvalidSequence, i, seq.Keyframes[i].Time)
		}

		if !seq.Keyframes[i].Curve.Valid() {
			return fmt.Errorf("%w: keyframe %d curve %d", ErrInvalidSequence, i, int(seq.Keyframes[i].Curve))
		}
	}

	clone := *seq
	clone.Keyframes = make([]Keyframe, len(seq.Keyframes))
	copy(clone.Keyframes, seq.Keyframes)
	sort.SliceStable(clone.Keyframes, func(i, j int) bool {
		return clone.Keyframes[i].Time < clone.Keyframes[j].Time
	})

	s.active.Store(&clone)

	return nil
}

// Sequence returns a detached copy of the active timeline, or nil when none
// is loaded. Edits to the copy only take effect through SetSequence.
func (s *Scheduler) Sequence() *Sequence {
	seq := s.active.Load()
	if seq == nil {
		return nil
	}

	clone := *seq
	clone.Keyframes = make([]Keyframe, len(seq.Keyframes))
	copy(clone.Keyframes, seq.Keyframes)

	return &clone
}

// Seek requests a playback position, applied at the next block boundary.
func (s *Scheduler) Seek(position float64) {
	s.seekBits.Store(math.Float64bits(position))
	s.seekPending.Store(true)
}

// Position returns the current playback position in the active timing unit.
func (s *Scheduler) Position() float64 { return s.position }

// PlayingForward reports the ping-pong direction.
func (s *Scheduler) PlayingForward() bool { return s.forward }

// Process advances the timeline by frames samples and refreshes the
// interpolated overrides. tr may be nil; the default tempo is 120 BPM.
func (s *Scheduler) Process(tr *Transport, frames int) {
	seq := s.active.Load()
	if seq != s.applied {
		s.applied = seq
		s.position = 0
		s.forward = true
	}

	if seq == nil || !seq.Enabled || len(seq.Keyframes) == 0 {
		s.automated = 0
		return
	}

	if s.seekPending.Swap(false) {
		pos := math.Float64frombits(s.seekBits.Load())
		s.position = core.Clamp(pos, 0, seq.duration())
	}

	bpm := defaultBPM
	if tr != nil && tr.BPM > 0 {
		bpm = tr.BPM
	}

	deltaSeconds := float64(frames) / s.sampleRate
	s.advance(seq, deltaSeconds, bpm)
	s.update(seq)
}

// Value returns the current override for id and whether the active timeline
// automates it. Implements the parameter pipeline's Override contract.
func (s *Scheduler) Value(id params.ID) (float64, bool) {
	if !id.Valid() || s.automated&(1<<uint(id)) == 0 {
		return 0, false
	}

	return s.values[id], true
}

func (s *Scheduler) advance(seq *Sequence, deltaSeconds, bpm float64) {
	increment := deltaSeconds
	if seq.Timing == Beats {
		increment = deltaSeconds * bpm / 60
	}

	if !s.forward {
		increment = -increment
	}

	s.position += increment
	duration := seq.duration()

	switch seq.Playback {
	case OneShot:
		s.position = core.Clamp(s.position, 0, duration)
	case Loop:
		for s.position >= duration {
			s.position -= duration
		}

		for s.position < 0 {
			s.position += duration
		}
	case PingPong:
		if s.position >= duration {
			s.position = duration - (s.position - duration)
			s.forward = false
		} else if s.position < 0 {
			s.position = -s.position
			s.forward = true
		}

		s.position = core.Clamp(s.position, 0, duration)
	}
}

func (s *Scheduler) update(seq *Sequence) {
	before, after := bracket(seq.Keyframes, s.position)

	fraction := 0.0
	if before != after {
		span := seq.Keyframes[after].Time - seq.Keyframes[before].Time
		if span > 0 {
			fraction = core.Clamp((s.position-seq.Keyframes[before].Time)/span, 0, 1)
		}
	}

	kb := &seq.Keyframes[before]
	ka := &seq.Keyframes[after]

	s.automated = kb.set | ka.set

	mask := s.automated
	for mask != 0 {
		id := params.ID(bits.TrailingZeros64(mask))
		mask &^= 1 << uint(id)

		vb, okb := kb.Lookup(id)
		va, oka := ka.Lookup(id)

		switch {
		case okb && oka:
			t := applyCurve(fraction, kb.Curve)
			s.values[id] = vb + t*(va-vb)
		case okb:
			s.values[id] = vb
		default:
			s.values[id] = va
		}
	}
}

// bracket returns the keyframe indices surrounding position; positions
// outside the keyframe range hold the nearest keyframe.
func bracket(frames []Keyframe, position float64) (before, after int) {
	last := len(frames) - 1
	if last <= 0 {
		return 0, 0
	}

	if position <= frames[0].Time {
		return 0, 0
	}

	if position >= frames[last].Time {
		return last, last
	}

	for i := 0; i < last; i++ {
		if position >= frames[i].Time && position <= frames[i+1].Time {
			return i, i + 1
		}
	}

	return last, last
}

func applyCurve(t float64, c Curve) float64 {
	t = core.Clamp(t, 0, 1)

	switch c {
	case Exponential:
		return t * t
	case SCurve:
		return t * t * (3 - 2*t)
	case Step:
		if t < 0.5 {
			return 0
		}

		return 1
	default:
		return t
	}
}
