package graph

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/monument/dsp/params"
)

const testSampleRate = 48000.0

func preparedGraph(t *testing.T) *Graph {
	t.Helper()

	g := New(1)
	if err := g.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	snap := &params.Snapshot{Values: params.Defaults().Values}
	g.Apply(snap)

	return g
}

func noiseBlock(rng *rand.Rand, channels, frames int, amplitude float64) [][]float64 {
	buf := make([][]float64, channels)
	for ch := range buf {
		buf[ch] = make([]float64, frames)
		for i := range buf[ch] {
			buf[ch][i] = (rng.Float64()*2 - 1) * amplitude
		}
	}

	return buf
}

func TestBuildTopologyRejectsBadEdges(t *testing.T) {
	cases := []struct {
		name string
		conn Connection
		want error
	}{
		{
			"unknown module",
			Connection{Source: ModuleID(99), Destination: ModuleFacade, Mode: Series, Enabled: true},
			ErrUnknownModule,
		},
		{
			"feedback gain at cap",
			Connection{Source: ModuleAlien, Destination: ModuleChambers, Mode: Feedback, FeedbackGain: 0.95, Enabled: true},
			ErrFeedbackGain,
		},
		{
			"series self loop",
			Connection{Source: ModulePillars, Destination: ModulePillars, Mode: Series, Enabled: true},
			ErrSelfLoop,
		},
	}

	for _, tc := range cases {
		_, err := buildTopology(tc.name, []Connection{tc.conn}, testSampleRate)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestFeedbackSelfLoopIsAllowed(t *testing.T) {
	conn := Connection{
		Source: ModuleChambers, Destination: ModuleChambers,
		Mode: Feedback, FeedbackGain: 0.5, Enabled: true,
	}

	if _, err := buildTopology("loop", []Connection{conn}, testSampleRate); err != nil {
		t.Fatalf("feedback self-loop must validate: %v", err)
	}
}

func TestAllPresetsCompileAndCoverEveryModule(t *testing.T) {
	g := preparedGraph(t)

	var seen [moduleCount]bool

	for id := PresetID(0); id < presetCount; id++ {
		topo, err := g.Topology(id)
		if err != nil {
			t.Fatal(err)
		}

		if len(topo.Connections) == 0 {
			t.Fatalf("preset %s has no connections", id)
		}

		for _, c := range topo.Connections {
			seen[c.Source] = true
			seen[c.Destination] = true
		}
	}

	for id := ModuleID(0); id < moduleCount; id++ {
		if !seen[id] {
			t.Fatalf("module %s is unreachable from every preset", id)
		}
	}
}

func TestLoadTopologyValidation(t *testing.T) {
	g := New(1)
	if err := g.LoadTopology(PresetMinimalSparse); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("unprepared load: err = %v", err)
	}

	g = preparedGraph(t)
	if err := g.LoadTopology(PresetID(99)); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("unknown preset: err = %v", err)
	}
}

func TestTopologySwitchFadesThroughZero(t *testing.T) {
	g := preparedGraph(t)
	rng := rand.New(rand.NewSource(5))

	for b := 0; b < 20; b++ {
		g.Process(noiseBlock(rng, 2, 512, 0.5))
	}

	if err := g.LoadTopology(PresetMetallicGranular); err != nil {
		t.Fatal(err)
	}

	switched := false
	for b := 0; b < 50; b++ {
		before := g.ActiveTopology()
		buf := noiseBlock(rng, 2, 512, 0.5)
		g.Process(buf)

		if g.ActiveTopology() != before {
			switched = true

			// The swap happens at the end of the block in which the output
			// faded to silence, so that block must end at zero.
			if buf[0][511] != 0 || buf[1][511] != 0 {
				t.Fatalf("switched with live output, tail sample %v", buf[0][511])
			}
		}
	}

	if !switched {
		t.Fatal("switch never completed")
	}

	if g.ActiveTopology() != PresetMetallicGranular {
		t.Fatalf("active = %s", g.ActiveTopology())
	}

	// The new topology must fade back in.
	peak := 0.0
	for b := 0; b < 50; b++ {
		buf := noiseBlock(rng, 2, 512, 0.5)
		g.Process(buf)

		for _, v := range buf[0] {
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}
	}

	if peak < 1e-3 {
		t.Fatalf("output never recovered after switch, peak %v", peak)
	}
}

func TestBypassSkipsProcessing(t *testing.T) {
	g := preparedGraph(t)
	rng := rand.New(rand.NewSource(6))

	g.Process(noiseBlock(rng, 2, 512, 0.3))

	before := g.processCalls(ModulePillars)
	if before == 0 {
		t.Fatal("pillars should run in the default preset")
	}

	if err := g.SetBypass(ModulePillars, true); err != nil {
		t.Fatal(err)
	}

	for b := 0; b < 5; b++ {
		g.Process(noiseBlock(rng, 2, 512, 0.3))
	}

	if got := g.processCalls(ModulePillars); got != before {
		t.Fatalf("bypassed module still ran: %d calls, had %d", got, before)
	}

	if err := g.SetBypass(ModulePillars, false); err != nil {
		t.Fatal(err)
	}

	g.Process(noiseBlock(rng, 2, 512, 0.3))

	if got := g.processCalls(ModulePillars); got != before+1 {
		t.Fatalf("unbypassed module did not resume: %d calls", got)
	}
}

func TestFeedbackEdgeConverges(t *testing.T) {
	st := &feedbackState{
		lpCoeff: 1 - math.Exp(-2*math.Pi*feedbackLowpassHz/testSampleRate),
	}
	st.gain.SetTimeMs(feedbackGainMs)
	st.gain.Prepare(testSampleRate)
	st.gain.Reset(0.6)

	conn := &Connection{Source: ModuleChambers, FeedbackGain: 0.6}

	g := New(1)
	if err := g.Prepare(testSampleRate, 256, 1); err != nil {
		t.Fatal(err)
	}

	store := g.fbStore[ModuleChambers][0]
	for i := range store {
		store[i] = 1
	}

	energy := func(data []float64) float64 {
		sum := 0.0
		for _, v := range data {
			sum += v * v
		}

		return sum / float64(len(data))
	}

	prev := energy(store[:256])
	work := [][]float64{make([]float64, 256)}

	for k := 1; k <= 12; k++ {
		for i := range work[0] {
			work[0][i] = 0
		}

		g.injectFeedback(st, conn, work, 256)
		copy(store[:256], work[0])

		e := energy(work[0])

		// Tolerance covers the lowpass settling from the previous block's
		// level at the start of each pass.
		bound := prev * 0.6 * 0.6 * 1.1
		if e > bound {
			t.Fatalf("iteration %d: energy %v exceeds g^2 bound %v", k, e, bound)
		}

		prev = e
	}
}

func TestCrossfeedFullAmountCollapsesToMid(t *testing.T) {
	work := [][]float64{{1, 0.5, -0.25}, {-1, 0.5, 0.75}}
	crossfeed(work, 1)

	for i := range work[0] {
		if math.Abs(work[0][i]-work[1][i]) > 1e-12 {
			t.Fatalf("full crossfeed must equalize channels at %d", i)
		}
	}
}

func TestProcessOutputStaysFinite(t *testing.T) {
	for id := PresetID(0); id < presetCount; id++ {
		g := preparedGraph(t)
		if err := g.LoadTopology(id); err != nil {
			t.Fatal(err)
		}

		// Run past the switch fade so the preset under test is live.
		rng := rand.New(rand.NewSource(int64(id) + 100))
		for b := 0; b < 30; b++ {
			g.Process(noiseBlock(rng, 2, 512, 0.5))
		}

		for b := 0; b < 60; b++ {
			buf := noiseBlock(rng, 2, 512, 0.5)
			g.Process(buf)

			for ch := range buf {
				for i, v := range buf[ch] {
					if math.IsNaN(v) || math.IsInf(v, 0) {
						t.Fatalf("preset %s: non-finite output at ch=%d i=%d", id, ch, i)
					}
				}
			}
		}
	}
}
