package params

// ID identifies one engine parameter. All parameters are normalized to [0,1];
// each consuming module maps its own IDs onto physical units.
type ID int

const (
	// Chambers kernel.
	Time ID = iota
	Mass
	Density
	Bloom
	Gravity
	Warp
	Drift

	// Early reflections and output stages.
	PillarShape
	Air
	Width
	Mix
	Drive

	// Memory echo tail.
	Memory
	MemoryDepth
	MemoryDecay

	// Physical coloration stages.
	TubeCount
	RadiusVariation
	MetallicResonance
	CouplingStrength
	Elasticity
	RecoveryTime
	AbsorptionDrift
	Nonlinearity
	ImpossibilityDegree
	PitchEvolutionRate
	ParadoxFrequency
	ParadoxGain

	// Count is the number of parameter IDs. It must stay <= 64 so ramp and
	// override state fits in a single uint64 bitmask.
	Count
)

var idNames = [Count]string{
	Time:                "time",
	Mass:                "mass",
	Density:             "density",
	Bloom:               "bloom",
	Gravity:             "gravity",
	Warp:                "warp",
	Drift:               "drift",
	PillarShape:         "pillarShape",
	Air:                 "air",
	Width:               "width",
	Mix:                 "mix",
	Drive:               "drive",
	Memory:              "memory",
	MemoryDepth:         "memoryDepth",
	MemoryDecay:         "memoryDecay",
	TubeCount:           "tubeCount",
	RadiusVariation:     "radiusVariation",
	MetallicResonance:   "metallicResonance",
	CouplingStrength:    "couplingStrength",
	Elasticity:          "elasticity",
	RecoveryTime:        "recoveryTime",
	AbsorptionDrift:     "absorptionDrift",
	Nonlinearity:        "nonlinearity",
	ImpossibilityDegree: "impossibilityDegree",
	PitchEvolutionRate:  "pitchEvolutionRate",
	ParadoxFrequency:    "paradoxFrequency",
	ParadoxGain:         "paradoxGain",
}

// Valid reports whether id addresses a defined parameter.
func (id ID) Valid() bool {
	return id >= 0 && id < Count
}

// String returns the canonical lower-camel name of the parameter.
func (id ID) String() string {
	if !id.Valid() {
		return "invalid"
	}

	return idNames[id]
}

// Lookup returns the ID for a canonical parameter name.
func Lookup(name string) (ID, bool) {
	for id, n := range idNames {
		if n == name {
			return ID(id), true
		}
	}

	return Count, false
}
