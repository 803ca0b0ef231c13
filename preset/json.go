package preset

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/cwbudde/monument/dsp/graph"
	"github.com/cwbudde/monument/dsp/modmatrix"
	"github.com/cwbudde/monument/dsp/modules"
	"github.com/cwbudde/monument/dsp/params"
	"github.com/cwbudde/monument/dsp/sequence"
	"github.com/cwbudde/monument/engine"
)

// File is the JSON schema for monument presets. All fields are optional;
// absent fields keep their defaults.
type File struct {
	Topology    string         `json:"topology,omitempty"`
	PillarMode  string         `json:"pillar_mode,omitempty"`
	Macros      *MacroSettings `json:"macros,omitempty"`
	MacroAmount *float64       `json:"macro_amount,omitempty"`
	Modulation  []ModSetting   `json:"modulation,omitempty"`
	Sequence    *SequenceFile  `json:"sequence,omitempty"`
}

// MacroSettings is a partial macro override block.
type MacroSettings struct {
	Material        *float64 `json:"material,omitempty"`
	Topology        *float64 `json:"topology,omitempty"`
	Viscosity       *float64 `json:"viscosity,omitempty"`
	Evolution       *float64 `json:"evolution,omitempty"`
	ChaosIntensity  *float64 `json:"chaos_intensity,omitempty"`
	ElasticityDecay *float64 `json:"elasticity_decay,omitempty"`
}

// ModSetting is one modulation routing entry. Source and destination are the
// canonical names from modmatrix and params.
type ModSetting struct {
	Source        string  `json:"source"`
	SourceAxis    int     `json:"source_axis,omitempty"`
	Destination   string  `json:"destination"`
	Depth         float64 `json:"depth"`
	SmoothingMs   float64 `json:"smoothing_ms,omitempty"`
	Probability   float64 `json:"probability,omitempty"`
	QuantizeSteps int     `json:"quantize_steps,omitempty"`
	Enabled       bool    `json:"enabled"`
}

// SequenceFile is a serialized keyframe timeline.
type SequenceFile struct {
	Name            string         `json:"name,omitempty"`
	Timing          string         `json:"timing"`
	Playback        string         `json:"playback"`
	DurationBeats   float64        `json:"duration_beats,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	Enabled         bool           `json:"enabled"`
	Keyframes       []KeyframeFile `json:"keyframes"`
}

// KeyframeFile is one timeline point. Targets maps canonical parameter names
// to normalized values.
type KeyframeFile struct {
	Time    float64            `json:"time"`
	Curve   string             `json:"curve,omitempty"`
	Targets map[string]float64 `json:"targets"`
}

// LoadJSON reads a preset file and resolves it on top of the default state.
func LoadJSON(path string) (engine.State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return engine.State{}, err
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return engine.State{}, fmt.Errorf("preset %s: %w", path, err)
	}

	return ToState(&f)
}

// SaveJSON writes st to path as indented JSON.
func SaveJSON(path string, st engine.State) error {
	b, err := json.MarshalIndent(FromState(st), "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, append(b, '\n'), 0o644)
}

// FromState converts an engine state into the file schema.
func FromState(st engine.State) *File {
	amount := st.MacroAmount
	m := st.Macros

	f := &File{
		Topology:   st.Topology.String(),
		PillarMode: st.PillarMode.String(),
		Macros: &MacroSettings{
			Material:        &m.Material,
			Topology:        &m.Topology,
			Viscosity:       &m.Viscosity,
			Evolution:       &m.Evolution,
			ChaosIntensity:  &m.ChaosIntensity,
			ElasticityDecay: &m.ElasticityDecay,
		},
		MacroAmount: &amount,
	}

	for _, c := range st.Connections {
		f.Modulation = append(f.Modulation, ModSetting{
			Source:        c.Source.String(),
			SourceAxis:    c.SourceAxis,
			Destination:   c.Destination.String(),
			Depth:         c.Depth,
			SmoothingMs:   c.SmoothingMs,
			Probability:   c.Probability,
			QuantizeSteps: c.QuantizeSteps,
			Enabled:       c.Enabled,
		})
	}

	if st.Sequence != nil {
		f.Sequence = fromSequence(st.Sequence)
	}

	return f
}

func fromSequence(seq *sequence.Sequence) *SequenceFile {
	sf := &SequenceFile{
		Name:            seq.Name,
		Timing:          seq.Timing.String(),
		Playback:        seq.Playback.String(),
		DurationBeats:   seq.DurationBeats,
		DurationSeconds: seq.DurationSeconds,
		Enabled:         seq.Enabled,
	}

	for i := range seq.Keyframes {
		k := &seq.Keyframes[i]

		targets := make(map[string]float64)
		for id, v := range k.Targets() {
			targets[id.String()] = v
		}

		sf.Keyframes = append(sf.Keyframes, KeyframeFile{
			Time:    k.Time,
			Curve:   k.Curve.String(),
			Targets: targets,
		})
	}

	return sf
}

// ToState resolves a parsed file on top of the default state.
func ToState(f *File) (engine.State, error) {
	st := engine.State{
		Topology:   graph.PresetTraditionalCathedral,
		PillarMode: modules.PillarGlass,
		Macros:     params.NeutralMacros(),
	}
	if f == nil {
		return st, nil
	}

	if f.Topology != "" {
		id, ok := graph.LookupPreset(f.Topology)
		if !ok {
			return st, fmt.Errorf("unknown topology %q", f.Topology)
		}

		st.Topology = id
	}

	if f.PillarMode != "" {
		mode, ok := modules.LookupPillarMode(f.PillarMode)
		if !ok {
			return st, fmt.Errorf("unknown pillar_mode %q", f.PillarMode)
		}

		st.PillarMode = mode
	}

	if err := applyMacros(&st, f); err != nil {
		return st, err
	}

	for i, ms := range f.Modulation {
		conn, err := toConnection(ms)
		if err != nil {
			return st, fmt.Errorf("modulation[%d]: %w", i, err)
		}

		st.Connections = append(st.Connections, conn)
	}

	if f.Sequence != nil {
		seq, err := toSequence(f.Sequence)
		if err != nil {
			return st, err
		}

		st.Sequence = seq
	}

	return st, nil
}

func applyMacros(st *engine.State, f *File) error {
	if f.Macros != nil {
		fields := []struct {
			name string
			src  *float64
			dst  *float64
		}{
			{"material", f.Macros.Material, &st.Macros.Material},
			{"topology", f.Macros.Topology, &st.Macros.Topology},
			{"viscosity", f.Macros.Viscosity, &st.Macros.Viscosity},
			{"evolution", f.Macros.Evolution, &st.Macros.Evolution},
			{"chaos_intensity", f.Macros.ChaosIntensity, &st.Macros.ChaosIntensity},
			{"elasticity_decay", f.Macros.ElasticityDecay, &st.Macros.ElasticityDecay},
		}
		for _, fl := range fields {
			if fl.src == nil {
				continue
			}

			if *fl.src < 0 || *fl.src > 1 {
				return fmt.Errorf("macros.%s must be in [0,1]: %v", fl.name, *fl.src)
			}

			*fl.dst = *fl.src
		}
	}

	if f.MacroAmount != nil {
		if *f.MacroAmount < 0 || *f.MacroAmount > 1 {
			return fmt.Errorf("macro_amount must be in [0,1]: %v", *f.MacroAmount)
		}

		st.MacroAmount = *f.MacroAmount
	}

	return nil
}

func toConnection(ms ModSetting) (modmatrix.Connection, error) {
	src, ok := modmatrix.LookupSource(ms.Source)
	if !ok {
		return modmatrix.Connection{}, fmt.Errorf("unknown source %q", ms.Source)
	}

	dst, ok := params.Lookup(ms.Destination)
	if !ok {
		return modmatrix.Connection{}, fmt.Errorf("unknown destination %q", ms.Destination)
	}

	if ms.SourceAxis < 0 || ms.SourceAxis >= src.Axes() {
		return modmatrix.Connection{}, fmt.Errorf("source %q has no axis %d", ms.Source, ms.SourceAxis)
	}

	return modmatrix.Connection{
		Source:        src,
		SourceAxis:    ms.SourceAxis,
		Destination:   dst,
		Depth:         ms.Depth,
		SmoothingMs:   ms.SmoothingMs,
		Probability:   ms.Probability,
		QuantizeSteps: ms.QuantizeSteps,
		Enabled:       ms.Enabled,
	}, nil
}

func toSequence(sf *SequenceFile) (*sequence.Sequence, error) {
	timing := sequence.Seconds
	if sf.Timing != "" {
		var ok bool
		if timing, ok = sequence.LookupTiming(sf.Timing); !ok {
			return nil, fmt.Errorf("unknown timing %q", sf.Timing)
		}
	}

	playback := sequence.OneShot
	if sf.Playback != "" {
		var ok bool
		if playback, ok = sequence.LookupPlayback(sf.Playback); !ok {
			return nil, fmt.Errorf("unknown playback %q", sf.Playback)
		}
	}

	seq := &sequence.Sequence{
		Name:            sf.Name,
		Timing:          timing,
		Playback:        playback,
		DurationBeats:   sf.DurationBeats,
		DurationSeconds: sf.DurationSeconds,
		Enabled:         sf.Enabled,
	}

	for i, kf := range sf.Keyframes {
		if kf.Time < 0 {
			return nil, fmt.Errorf("keyframes[%d]: negative time %v", i, kf.Time)
		}

		curve := sequence.Linear
		if kf.Curve != "" {
			var ok bool
			if curve, ok = sequence.LookupCurve(kf.Curve); !ok {
				return nil, fmt.Errorf("keyframes[%d]: unknown curve %q", i, kf.Curve)
			}
		}

		var k sequence.Keyframe
		k.Time = kf.Time
		k.Curve = curve

		names := make([]string, 0, len(kf.Targets))
		for name := range kf.Targets {
			names = append(names, name)
		}

		sort.Strings(names)
		for _, name := range names {
			id, ok := params.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("keyframes[%d]: unknown parameter %q", i, name)
			}

			v := kf.Targets[name]
			if v < 0 || v > 1 {
				return nil, fmt.Errorf("keyframes[%d].%s must be in [0,1]: %v", i, name, v)
			}

			k.Set(id, v)
		}

		seq.AddKeyframe(k)
	}

	return seq, nil
}
