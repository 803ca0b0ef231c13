package modules

import (
	"testing"

	"github.com/cwbudde/monument/dsp/params"
)

func TestAlienBypassesAtZeroImpossibility(t *testing.T) {
	a := NewAlien()
	if err := a.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	a.Apply(defaultSnap())

	buf := noiseBlocks(13, 2, 512, 1, 0.5)[0]

	reference := make([][]float64, len(buf))
	for ch := range buf {
		reference[ch] = append([]float64(nil), buf[ch]...)
	}

	a.Process(buf)

	for ch := range buf {
		for i := range buf[ch] {
			if buf[ch][i] != reference[ch][i] {
				t.Fatalf("zero impossibility must be a clean bypass at ch=%d i=%d", ch, i)
			}
		}
	}
}

func TestAlienOutputStaysBounded(t *testing.T) {
	a := NewAlien()
	if err := a.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	snap := defaultSnap()
	snap.Values[params.ImpossibilityDegree] = 1
	snap.Values[params.ParadoxGain] = 1
	snap.Values[params.PitchEvolutionRate] = 1
	a.Apply(snap)

	blocks := noiseBlocks(29, 2, 512, 200, 1.2)
	for b, buf := range blocks {
		a.Process(buf)
		requireFinite(t, buf)

		// Let the filters settle before holding the clip ceiling against them.
		if b < 20 {
			continue
		}

		if peak := blockPeak(buf); peak > 2.0 {
			t.Fatalf("block %d peak %f escapes the soft clip region", b, peak)
		}
	}
}

func TestAlienParadoxFrequencyMapsLog(t *testing.T) {
	a := NewAlien()
	if err := a.Prepare(testSampleRate, 512, 1); err != nil {
		t.Fatal(err)
	}

	snap := defaultSnap()
	snap.Values[params.ImpossibilityDegree] = 1
	snap.Values[params.ParadoxFrequency] = 0
	snap.Values[params.ParadoxGain] = 1
	a.Apply(snap)

	// Drive the smoothers to their targets.
	for b := 0; b < 500; b++ {
		a.Process(silentBlock(1, 512))
	}

	if a.paradoxHz < alienMinParadoxHz-1 || a.paradoxHz > alienMinParadoxHz+5 {
		t.Fatalf("zero control must settle near %f Hz, got %f", alienMinParadoxHz, a.paradoxHz)
	}

	snap.Values[params.ParadoxFrequency] = 1
	a.Apply(snap)

	for b := 0; b < 500; b++ {
		a.Process(silentBlock(1, 512))
	}

	if a.paradoxHz < alienMaxParadoxHz-50 {
		t.Fatalf("full control must settle near %f Hz, got %f", alienMaxParadoxHz, a.paradoxHz)
	}
}
