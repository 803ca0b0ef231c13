package params

import "github.com/cwbudde/algo-dsp/dsp/core"

// Macros are the six high-level controls exposed to the player. Each one
// fans out to several engine parameters; MacroMapper resolves the overlap.
type Macros struct {
	Material        float64
	Topology        float64
	Viscosity       float64
	Evolution       float64
	ChaosIntensity  float64
	ElasticityDecay float64
}

// NeutralMacros returns macros at their resting positions.
func NeutralMacros() Macros {
	return Macros{
		Material:       0.5,
		Topology:       0,
		Viscosity:      0.5,
		Evolution:      0,
		ChaosIntensity: 0,
	}
}

// MacroMapper translates macros into per-parameter targets. Parameters a
// macro does not reach keep a bit set to false in Driven so the pipeline can
// leave the raw value untouched.
type MacroMapper struct{}

// MacroTargets holds the mapped values plus a mask of parameters the macro
// layer actually drives.
type MacroTargets struct {
	Values [Count]float64
	Driven uint64
}

// Drives reports whether the macro layer produces a target for id.
func (t *MacroTargets) Drives(id ID) bool {
	return id.Valid() && t.Driven&(1<<uint(id)) != 0
}

func (t *MacroTargets) set(id ID, v float64) {
	t.Values[id] = core.Clamp(v, 0, 1)
	t.Driven |= 1 << uint(id)
}

// Compute resolves the full macro fan-out. Overlapping influences are
// weighted sums starting from a neutral base, so each macro pulls its
// parameters proportionally instead of overwriting them.
func (m *MacroMapper) Compute(macros Macros) MacroTargets {
	material := core.Clamp(macros.Material, 0, 1)
	topology := core.Clamp(macros.Topology, 0, 1)
	viscosity := core.Clamp(macros.Viscosity, 0, 1)
	evolution := core.Clamp(macros.Evolution, 0, 1)
	chaos := core.Clamp(macros.ChaosIntensity, 0, 1)
	elasticity := core.Clamp(macros.ElasticityDecay, 0, 1)

	var t MacroTargets

	// Hard material reflects energy, thick viscosity resists it.
	t.set(Time, combineInfluences(0.55,
		lerp(material, 0.3, 0.8),
		lerp(viscosity, 0.6, 0.4),
		0.6, 0.4))

	// Hard surfaces sound darker; thick mediums absorb on top of that.
	t.set(Mass, combineInfluences(0.5,
		lerp(material, 0.2, 0.9),
		lerp(viscosity, 0.0, 0.3),
		0.7, 0.3))

	t.set(Density, lerp(material, 0.25, 0.95))

	t.set(Bloom, evolution)

	t.set(Air, lerp(viscosity, 0.8, 0.2))

	// Topology morphs the feedback matrix directly; chaos destabilizes it.
	t.set(Warp, combineInfluences(0,
		topology,
		lerp(chaos, 0, 0.3),
		0.75, 0.25))

	drift := lerp(topology, 0, 0.4)*0.5 +
		lerp(evolution, 0, 0.35)*0.3 +
		lerp(chaos, 0, 0.5)*0.2
	t.set(Drift, drift)

	t.set(Elasticity, elasticity)

	return t
}

// combineInfluences blends two influences into a base value by normalized
// weights, clamped to [0,1].
func combineInfluences(base, influence1, influence2, weight1, weight2 float64) float64 {
	total := weight1 + weight2
	w1 := weight1 / total
	w2 := weight2 / total

	combined := base + (influence1-base)*w1 + (influence2-base)*w2

	return core.Clamp(combined, 0, 1)
}

func lerp(t, lo, hi float64) float64 {
	return lo + (hi-lo)*t
}
