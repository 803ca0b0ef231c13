package modules

import (
	"math"
	"testing"

	"github.com/cwbudde/monument/dsp/params"
)

func TestTubesEnergyNormalized(t *testing.T) {
	tb := NewTubes()
	if err := tb.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	snap := defaultSnap()
	snap.Values[params.CouplingStrength] = 0.8
	tb.Apply(snap)

	buf := noiseBlocks(9, 2, 512, 1, 0.5)[0]
	tb.Process(buf)

	total := 0.0
	for i := 0; i < tb.activeCount; i++ {
		total += tb.tubes[i].energy
	}

	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("tube energies must normalize to unity, got %f", total)
	}
}

func TestTubesDeterministicRayWalk(t *testing.T) {
	run := func() [][]float64 {
		tb := NewTubes()
		if err := tb.Prepare(testSampleRate, 512, 2); err != nil {
			t.Fatal(err)
		}

		snap := defaultSnap()
		snap.Values[params.TubeCount] = 0.6
		snap.Values[params.CouplingStrength] = 0.9
		tb.Apply(snap)

		blocks := noiseBlocks(21, 2, 512, 10, 0.4)
		for _, buf := range blocks {
			tb.Process(buf)
		}

		return blocks[len(blocks)-1]
	}

	first := run()
	second := run()

	for ch := range first {
		for i := range first[ch] {
			if first[ch][i] != second[ch][i] {
				t.Fatalf("ray walk diverges at ch=%d i=%d", ch, i)
			}
		}
	}
}

func TestTubesCountFollowsControl(t *testing.T) {
	tb := NewTubes()
	if err := tb.Prepare(testSampleRate, 64, 1); err != nil {
		t.Fatal(err)
	}

	snap := defaultSnap()

	snap.Values[params.TubeCount] = 0
	tb.Apply(snap)

	if tb.activeCount != tubesMin {
		t.Fatalf("zero control must select %d tubes, got %d", tubesMin, tb.activeCount)
	}

	snap.Values[params.TubeCount] = 1
	tb.Apply(snap)

	if tb.activeCount != tubesMax {
		t.Fatalf("full control must select %d tubes, got %d", tubesMax, tb.activeCount)
	}
}

func TestTubesFundamentalsFollowLength(t *testing.T) {
	tb := NewTubes()
	if err := tb.Prepare(testSampleRate, 64, 1); err != nil {
		t.Fatal(err)
	}

	tb.Apply(defaultSnap())
	tb.Process(silentBlock(1, 64))

	for i := 0; i < tb.activeCount; i++ {
		want := speedOfSound / (2 * tb.tubes[i].lengthMeters)
		if math.Abs(tb.tubes[i].fundamentalHz-want) > 1e-9 {
			t.Fatalf("tube %d fundamental %f, want %f", i, tb.tubes[i].fundamentalHz, want)
		}
	}
}
