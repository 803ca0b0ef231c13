package preset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/monument/dsp/graph"
	"github.com/cwbudde/monument/dsp/modmatrix"
	"github.com/cwbudde/monument/dsp/modules"
	"github.com/cwbudde/monument/dsp/params"
	"github.com/cwbudde/monument/dsp/sequence"
	"github.com/cwbudde/monument/engine"
)

func writePreset(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "preset.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}

	return path
}

func TestLoadJSONResolvesFullPreset(t *testing.T) {
	path := writePreset(t, `{
  "topology": "organic-breathing",
  "pillar_mode": "stone",
  "macros": {"material": 0.8, "viscosity": 0.2},
  "macro_amount": 0.6,
  "modulation": [
    {
      "source": "chaosAttractor",
      "source_axis": 2,
      "destination": "warp",
      "depth": -0.4,
      "smoothing_ms": 150,
      "enabled": true
    }
  ],
  "sequence": {
    "timing": "seconds",
    "playback": "loop",
    "duration_seconds": 8,
    "enabled": true,
    "keyframes": [
      {"time": 0, "curve": "linear", "targets": {"time": 0.2}},
      {"time": 8, "curve": "s-curve", "targets": {"time": 0.9, "bloom": 0.5}}
    ]
  }
}`)

	st, err := LoadJSON(path)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}

	if st.Topology != graph.PresetOrganicBreathing {
		t.Fatalf("topology = %s", st.Topology)
	}

	if st.PillarMode != modules.PillarStone {
		t.Fatalf("pillar mode = %s", st.PillarMode)
	}

	if st.Macros.Material != 0.8 || st.Macros.Viscosity != 0.2 {
		t.Fatalf("macros mismatch: %+v", st.Macros)
	}

	// Unset macro fields keep their neutral positions.
	if st.Macros.Topology != 0 || st.Macros.ChaosIntensity != 0 {
		t.Fatalf("unset macros moved: %+v", st.Macros)
	}

	if st.MacroAmount != 0.6 {
		t.Fatalf("macro amount = %v", st.MacroAmount)
	}

	if len(st.Connections) != 1 {
		t.Fatalf("connection count = %d", len(st.Connections))
	}

	c := st.Connections[0]
	if c.Source != modmatrix.ChaosAttractor || c.SourceAxis != 2 ||
		c.Destination != params.Warp || c.Depth != -0.4 || !c.Enabled {
		t.Fatalf("connection mismatch: %+v", c)
	}

	if st.Sequence == nil || len(st.Sequence.Keyframes) != 2 {
		t.Fatalf("sequence mismatch: %+v", st.Sequence)
	}

	if st.Sequence.Playback != sequence.Loop || st.Sequence.DurationSeconds != 8 {
		t.Fatalf("sequence playback mismatch: %+v", st.Sequence)
	}

	last := &st.Sequence.Keyframes[1]
	if last.Curve != sequence.SCurve {
		t.Fatalf("curve = %s", last.Curve)
	}

	if v, ok := last.Lookup(params.Bloom); !ok || v != 0.5 {
		t.Fatalf("bloom target = %v, ok=%v", v, ok)
	}
}

func TestLoadJSONDefaults(t *testing.T) {
	path := writePreset(t, `{}`)

	st, err := LoadJSON(path)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}

	if st.Topology != graph.PresetTraditionalCathedral {
		t.Fatalf("default topology = %s", st.Topology)
	}

	if st.PillarMode != modules.PillarGlass {
		t.Fatalf("default pillar mode = %s", st.PillarMode)
	}

	if st.Macros != params.NeutralMacros() {
		t.Fatalf("default macros = %+v", st.Macros)
	}

	if st.Sequence != nil || len(st.Connections) != 0 {
		t.Fatalf("defaults carry extra config: %+v", st)
	}
}

func TestLoadJSONRejectsInvalidFields(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unknown topology", `{"topology": "infinite-spire"}`},
		{"unknown pillar mode", `{"pillar_mode": "marble"}`},
		{"macro out of range", `{"macros": {"material": 1.5}}`},
		{"macro amount out of range", `{"macro_amount": -0.1}`},
		{"unknown mod source", `{"modulation": [{"source": "tides", "destination": "warp"}]}`},
		{"unknown mod destination", `{"modulation": [{"source": "brownianMotion", "destination": "sparkle"}]}`},
		{"axis out of range", `{"modulation": [{"source": "brownianMotion", "source_axis": 1, "destination": "warp"}]}`},
		{"unknown curve", `{"sequence": {"duration_seconds": 4, "keyframes": [{"time": 0, "curve": "bounce", "targets": {"time": 0.5}}]}}`},
		{"negative keyframe time", `{"sequence": {"duration_seconds": 4, "keyframes": [{"time": -1, "targets": {"time": 0.5}}]}}`},
		{"target out of range", `{"sequence": {"duration_seconds": 4, "keyframes": [{"time": 0, "targets": {"time": 2}}]}}`},
		{"unknown target", `{"sequence": {"duration_seconds": 4, "keyframes": [{"time": 0, "targets": {"glitter": 0.5}}]}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writePreset(t, tc.content)
			if _, err := LoadJSON(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	var k0, k1 sequence.Keyframe
	k0.Time = 0
	k0.Set(params.Warp, 0.1)
	k1.Time = 2
	k1.Curve = sequence.Exponential
	k1.Set(params.Warp, 0.7)

	seq := &sequence.Sequence{
		Name:            "sweep",
		Timing:          sequence.Seconds,
		Playback:        sequence.PingPong,
		DurationSeconds: 2,
		Enabled:         true,
	}
	seq.AddKeyframe(k0)
	seq.AddKeyframe(k1)

	st := engine.State{
		Topology:    graph.PresetShimmerInfinity,
		PillarMode:  modules.PillarFog,
		Macros:      params.Macros{Material: 0.3, Viscosity: 0.9},
		MacroAmount: 0.5,
		Connections: []modmatrix.Connection{{
			Source:      modmatrix.EnvelopeTracker,
			Destination: params.Density,
			Depth:       0.25,
			SmoothingMs: 80,
			Probability: 0.9,
			Enabled:     true,
		}},
		Sequence: seq,
	}

	path := filepath.Join(t.TempDir(), "roundtrip.json")
	if err := SaveJSON(path, st); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}

	got, err := LoadJSON(path)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}

	if got.Topology != st.Topology || got.PillarMode != st.PillarMode {
		t.Fatalf("routing mismatch: %+v", got)
	}

	if got.Macros != st.Macros || got.MacroAmount != st.MacroAmount {
		t.Fatalf("macros mismatch: %+v", got)
	}

	if len(got.Connections) != 1 || got.Connections[0] != st.Connections[0] {
		t.Fatalf("connections mismatch: %+v", got.Connections)
	}

	if got.Sequence == nil || got.Sequence.Name != "sweep" ||
		got.Sequence.Playback != sequence.PingPong {
		t.Fatalf("sequence mismatch: %+v", got.Sequence)
	}

	if len(got.Sequence.Keyframes) != 2 {
		t.Fatalf("keyframe count = %d", len(got.Sequence.Keyframes))
	}

	restored := &got.Sequence.Keyframes[1]
	if restored.Curve != sequence.Exponential {
		t.Fatalf("curve = %s", restored.Curve)
	}

	if v, ok := restored.Lookup(params.Warp); !ok || v != 0.7 {
		t.Fatalf("warp target = %v, ok=%v", v, ok)
	}
}
