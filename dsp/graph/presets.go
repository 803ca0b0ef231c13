package graph

// PresetID selects one of the shipped routing topologies.
type PresetID int

const (
	PresetTraditionalCathedral PresetID = iota
	PresetMetallicGranular
	PresetElasticFeedbackDream
	PresetParallelWorlds
	PresetShimmerInfinity
	PresetImpossibleChaos
	PresetOrganicBreathing
	PresetMinimalSparse
	presetCount
)

var presetNames = [presetCount]string{
	"traditional-cathedral", "metallic-granular", "elastic-feedback-dream",
	"parallel-worlds", "shimmer-infinity", "impossible-chaos",
	"organic-breathing", "minimal-sparse",
}

func (id PresetID) String() string {
	if id < 0 || id >= presetCount {
		return "invalid"
	}

	return presetNames[id]
}

// PresetCount reports how many topologies ship with the graph.
func PresetCount() int { return int(presetCount) }

// LookupPreset returns the PresetID for a canonical topology name.
func LookupPreset(name string) (PresetID, bool) {
	for id, n := range presetNames {
		if n == name {
			return PresetID(id), true
		}
	}

	return presetCount, false
}

func series(src, dst ModuleID) Connection {
	return Connection{Source: src, Destination: dst, Mode: Series, Enabled: true}
}

func parallel(src, dst ModuleID, blend float64) Connection {
	return Connection{Source: src, Destination: dst, Mode: Parallel, Blend: blend, Enabled: true}
}

func feedback(src, dst ModuleID, gain float64) Connection {
	return Connection{Source: src, Destination: dst, Mode: Feedback, FeedbackGain: gain, Enabled: true}
}

func bypass(dst ModuleID) Connection {
	return Connection{Source: dst, Destination: dst, Mode: Bypass, Enabled: true}
}

func chain(ids ...ModuleID) []Connection {
	conns := make([]Connection, 0, len(ids)-1)
	for i := 1; i < len(ids); i++ {
		conns = append(conns, series(ids[i-1], ids[i]))
	}

	return conns
}

// buildPresets compiles the shipped topology table. Blend weights are chosen
// so preset switches land at comparable loudness: parallel branch weights sum
// to 1, feedback returns stay well below the safety cap.
func (g *Graph) buildPresets() error {
	specs := [presetCount]struct {
		name  string
		conns []Connection
	}{
		// The canonical hall: conditioning, early reflections, the full
		// late tail, slow motion, memory recall, safety, output.
		{presetNames[PresetTraditionalCathedral], chain(
			ModuleFoundation, ModulePillars, ModuleChambers, ModuleWeathering,
			ModuleEchoes, ModuleButtress, ModuleFacade,
		)},

		// Resonant pipes instead of the late tail.
		{presetNames[PresetMetallicGranular], append(
			[]Connection{bypass(ModuleChambers)},
			chain(
				ModuleFoundation, ModulePillars, ModuleTubes, ModuleWeathering,
				ModuleButtress, ModuleFacade,
			)...,
		)},

		// Elastic room inside the chain, with its output fed back into the
		// graph input ahead of the early reflections.
		{presetNames[PresetElasticFeedbackDream], append(
			[]Connection{feedback(ModuleElastic, ModulePillars, 0.3)},
			chain(
				ModuleFoundation, ModulePillars, ModuleElastic, ModuleChambers,
				ModuleAlien, ModuleButtress, ModuleFacade,
			)...,
		)},

		// Three coloration branches in parallel off the conditioned input,
		// summed into the late tail. Branch weights 0.33/0.33/0.34.
		{presetNames[PresetParallelWorlds], []Connection{
			parallel(ModuleFoundation, ModulePillars, 0.33),
			parallel(ModuleFoundation, ModuleTubes, 0.33),
			parallel(ModuleFoundation, ModuleElastic, 0.34),
			series(ModulePillars, ModuleChambers),
			{Source: ModuleChambers, Destination: ModuleButtress, Mode: Crossfeed, Crossfeed: 0.35, Enabled: true},
			series(ModuleChambers, ModuleButtress),
			series(ModuleButtress, ModuleFacade),
		}},

		// Cathedral with the warped stage inside a regenerating loop.
		{presetNames[PresetShimmerInfinity], []Connection{
			series(ModuleFoundation, ModulePillars),
			feedback(ModuleAlien, ModuleChambers, 0.4),
			series(ModulePillars, ModuleChambers),
			series(ModuleChambers, ModuleAlien),
			series(ModuleAlien, ModuleEchoes),
			series(ModuleEchoes, ModuleButtress),
			series(ModuleButtress, ModuleFacade),
		}},

		// Every coloration stage stacked before the tail.
		{presetNames[PresetImpossibleChaos], chain(
			ModuleFoundation, ModulePillars, ModuleAlien, ModuleTubes,
			ModuleChambers, ModuleButtress, ModuleFacade,
		)},

		// Slow organic motion: elastic room and chorus ahead of the tail.
		{presetNames[PresetOrganicBreathing], chain(
			ModuleFoundation, ModulePillars, ModuleElastic, ModuleWeathering,
			ModuleChambers, ModuleEchoes, ModuleButtress, ModuleFacade,
		)},

		// Early reflections only; the heavy stages stay in the chain but
		// bypassed, which is the cheap-CPU configuration.
		{presetNames[PresetMinimalSparse], append(
			[]Connection{bypass(ModuleChambers), bypass(ModuleWeathering)},
			chain(
				ModuleFoundation, ModulePillars, ModuleChambers, ModuleWeathering,
				ModuleButtress, ModuleFacade,
			)...,
		)},
	}

	for id := PresetID(0); id < presetCount; id++ {
		topo, err := buildTopology(specs[id].name, specs[id].conns, g.sampleRate)
		if err != nil {
			return err
		}

		g.topologies[id] = topo
	}

	return nil
}
