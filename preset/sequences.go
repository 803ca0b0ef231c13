package preset

import (
	"github.com/cwbudde/monument/dsp/params"
	"github.com/cwbudde/monument/dsp/sequence"
)

// Factory timelines. Each call returns a fresh sequence the caller may edit
// before installing with Engine.SetSequence.

// EvolvingCathedral grows a small room into a massive cathedral over sixteen
// beats and holds the full size across the loop point.
func EvolvingCathedral() *sequence.Sequence {
	seq := &sequence.Sequence{
		Name:          "Evolving Cathedral",
		Timing:        sequence.Beats,
		Playback:      sequence.Loop,
		DurationBeats: 16,
		Enabled:       true,
	}

	steps := []struct {
		beat    float64
		curve   sequence.Curve
		time    float64
		density float64
		mass    float64
		bloom   float64
	}{
		{0, sequence.SCurve, 0.2, 0.3, 0.2, 0.3},
		{4, sequence.SCurve, 0.5, 0.5, 0.4, 0.5},
		{8, sequence.SCurve, 0.75, 0.7, 0.6, 0.7},
		{12, sequence.SCurve, 1.0, 0.9, 0.8, 0.9},
		{16, sequence.Linear, 1.0, 0.9, 0.8, 0.9},
	}

	for _, st := range steps {
		k := sequence.Keyframe{Time: st.beat, Curve: st.curve}
		k.Set(params.Time, st.time)
		k.Set(params.Density, st.density)
		k.Set(params.Mass, st.mass)
		k.Set(params.Bloom, st.bloom)
		seq.AddKeyframe(k)
	}

	return seq
}

// LivingSpace breathes warp, drift, bloom, and gravity over a 32 second loop,
// returning to rest at the boundary so the loop seam stays inaudible.
func LivingSpace() *sequence.Sequence {
	seq := &sequence.Sequence{
		Name:            "Living Space",
		Timing:          sequence.Seconds,
		Playback:        sequence.Loop,
		DurationSeconds: 32,
		Enabled:         true,
	}

	steps := []struct {
		seconds float64
		warp    float64
		drift   float64
		bloom   float64
		gravity float64
	}{
		{0, 0, 0, 0.4, 0.5},
		{8, 0.3, 0.1, 0.6, 0.6},
		{16, 0.4, 0.2, 0.7, 0.7},
		{24, 0.2, 0.1, 0.5, 0.5},
		{32, 0, 0, 0.4, 0.5},
	}

	for _, st := range steps {
		k := sequence.Keyframe{Time: st.seconds, Curve: sequence.SCurve}
		k.Set(params.Warp, st.warp)
		k.Set(params.Drift, st.drift)
		k.Set(params.Bloom, st.bloom)
		k.Set(params.Gravity, st.gravity)
		seq.AddKeyframe(k)
	}

	return seq
}
