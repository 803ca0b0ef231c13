package modules

import (
	"math"
	"testing"

	"github.com/cwbudde/monument/dsp/params"
)

func echoesSnap(memory float64) *params.Snapshot {
	snap := defaultSnap()
	snap.Values[params.Memory] = memory
	snap.Values[params.MemoryDepth] = 0
	snap.Values[params.MemoryDecay] = 0.5
	snap.Values[params.Drift] = 0.5

	return snap
}

func TestEchoesCaptureRequiresMemory(t *testing.T) {
	e := NewEchoes(1)
	if err := e.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	e.Apply(echoesSnap(0))
	e.Process(silentBlock(2, 512))

	for _, buf := range noiseBlocks(31, 2, 512, 20, 0.5) {
		e.Capture(buf)
	}

	for _, v := range e.shortL {
		if v != 0 {
			t.Fatal("memory off must leave the capture buffer untouched")
		}
	}
}

func TestEchoesCaptureLayersAndForgets(t *testing.T) {
	e := NewEchoes(2)
	if err := e.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	e.Apply(echoesSnap(1))
	e.Process(silentBlock(2, 512))

	blocks := noiseBlocks(37, 2, 512, 40, 0.5)
	for _, buf := range blocks {
		e.Capture(buf)
	}

	peak := 0.0
	for _, v := range e.shortL {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}

	if peak <= 0 {
		t.Fatal("capture must write into the short buffer")
	}

	if peak > 1 {
		t.Fatalf("forget factor must keep layered captures bounded, peak %f", peak)
	}

	if e.shortFilled != 40*512 {
		t.Fatalf("filled count = %d, want %d", e.shortFilled, 40*512)
	}
}

func TestEchoesSurfaceLifecycle(t *testing.T) {
	e := NewEchoes(3)
	if err := e.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	e.Apply(echoesSnap(1))
	e.Process(silentBlock(2, 512))

	// Fill well past the quarter-buffer readiness threshold.
	captureBlocks := int(8 * testSampleRate / 512)
	for _, buf := range noiseBlocks(41, 2, 512, captureBlocks, 0.4) {
		e.Capture(buf)
	}

	e.startSurface(false, 1, 0.5, 0.5)

	if e.phase != surfaceFadeIn {
		t.Fatalf("surface did not start, phase %v", e.phase)
	}

	if e.baseGain <= 0 || e.baseGain > echoSurfaceGainMax {
		t.Fatalf("base gain out of range: %f", e.baseGain)
	}

	peak := 0.0
	silentBlocks := int(4 * testSampleRate / 512)
	for b := 0; b < silentBlocks; b++ {
		buf := silentBlock(2, 512)
		e.Process(buf)
		requireFinite(t, buf)

		if p := blockPeak(buf); p > peak {
			peak = p
		}
	}

	if peak <= 1e-7 {
		t.Fatal("a started surface must inject audible material")
	}

	if peak > echoSurfaceGainMax {
		t.Fatalf("surfaced material too loud: %f", peak)
	}
}

func TestEchoesFreezeSuppressesSurfacing(t *testing.T) {
	e := NewEchoes(4)
	if err := e.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	snap := echoesSnap(1)
	snap.Freeze = true
	e.Apply(snap)
	e.Process(silentBlock(2, 512))

	captureBlocks := int(8 * testSampleRate / 512)
	for _, buf := range noiseBlocks(43, 2, 512, captureBlocks, 0.4) {
		e.Capture(buf)
	}

	for b := 0; b < 2000; b++ {
		e.Process(silentBlock(2, 512))
	}

	if e.phase != surfaceIdle {
		t.Fatal("frozen state must not start surfaces")
	}
}

func TestEchoesReadMemoryWrapsAndAges(t *testing.T) {
	buffer := make([]float64, 100)
	for i := range buffer {
		buffer[i] = float64(i)
	}

	var age float64

	v := readMemory(buffer, 10, -0.5, &age)
	want := 0.5*99 + 0.5*0
	if math.Abs(v-want) > 1e-9 {
		t.Fatalf("wrapped read = %f, want %f", v, want)
	}

	readMemory(buffer, 10, 9, &age)
	if math.Abs(age-0.01) > 1e-9 {
		t.Fatalf("one sample behind the head must read age 0.01, got %f", age)
	}

	readMemory(buffer, 10, 11, &age)
	if age < 0.98 {
		t.Fatalf("just ahead of the head must read near a full buffer of age, got %f", age)
	}
}

func TestEchoesForgetFactorMatchesDecayTarget(t *testing.T) {
	factor := forgetFactor(-18, 24, testSampleRate)

	total := math.Pow(factor, 24*testSampleRate)
	wantDB := -18.0

	gotDB := 20 * math.Log10(total)
	if math.Abs(gotDB-wantDB) > 1e-6 {
		t.Fatalf("24 s of forgetting = %f dB, want %f dB", gotDB, wantDB)
	}
}
