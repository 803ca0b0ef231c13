package flatness

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/monument/dsp/chambers"
	"github.com/cwbudde/monument/dsp/params"
	"github.com/cwbudde/monument/internal/testutil"
)

const testSampleRate = 48000.0

func TestWhiteNoiseScoresNearOne(t *testing.T) {
	signal := testutil.DeterministicNoise(1, 0.5, 10*int(testSampleRate))

	res, err := AnalyzeSignal(signal, Config{SampleRate: testSampleRate})
	if err != nil {
		t.Fatal(err)
	}

	if res.Flatness < 0.8 || res.Flatness > 1.0 {
		t.Fatalf("white noise flatness = %v", res.Flatness)
	}

	if res.Frames < 2 {
		t.Fatalf("expected averaged frames, got %d", res.Frames)
	}
}

func TestPureToneScoresNearZero(t *testing.T) {
	signal := testutil.DeterministicSine(1000, testSampleRate, 0.5, 4*int(testSampleRate))

	res, err := AnalyzeSignal(signal, Config{SampleRate: testSampleRate})
	if err != nil {
		t.Fatal(err)
	}

	if res.Flatness > 0.1 {
		t.Fatalf("pure tone flatness = %v", res.Flatness)
	}
}

func TestLowpassedNoiseScoresBelowWhite(t *testing.T) {
	noise := testutil.DeterministicNoise(2, 0.5, 10*int(testSampleRate))

	// One-pole lowpass around 1 kHz.
	coeff := math.Exp(-2 * math.Pi * 1000 / testSampleRate)

	filtered := make([]float64, len(noise))
	state := 0.0
	for i, v := range noise {
		state = v*(1-coeff) + state*coeff
		filtered[i] = state
	}

	cfg := Config{SampleRate: testSampleRate}

	white, err := AnalyzeSignal(noise, cfg)
	if err != nil {
		t.Fatal(err)
	}

	colored, err := AnalyzeSignal(filtered, cfg)
	if err != nil {
		t.Fatal(err)
	}

	if colored.Flatness >= white.Flatness {
		t.Fatalf("lowpassed %v not below white %v", colored.Flatness, white.Flatness)
	}
}

func TestAnalyzeRejectsShortSignal(t *testing.T) {
	if _, err := AnalyzeSignal(make([]float64, 100), Config{SampleRate: testSampleRate}); err == nil {
		t.Fatal("expected error for short signal")
	}
}

func TestNewRejectsMissingSampleRate(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without a sample rate")
	}
}

// renderKernelNoise drives the reverberation kernel with seeded noise at a
// fixed matrix blend and returns the mono output.
func renderKernelNoise(t *testing.T, warp float64) []float64 {
	t.Helper()

	const block = 512

	c := chambers.New()
	if err := c.Prepare(testSampleRate, block, 2); err != nil {
		t.Fatal(err)
	}

	snap := params.Snapshot{Values: params.Defaults().Values}
	snap.Values[params.Warp] = warp
	c.Apply(&snap)

	rng := rand.New(rand.NewSource(77))
	blocks := 10 * int(testSampleRate) / block
	out := make([]float64, 0, blocks*block)

	buf := testutil.SilentBlock(2, block)
	for b := 0; b < blocks; b++ {
		testutil.FillNoise(buf, rng, 0.25)

		c.Process(buf)
		out = append(out, buf[0]...)
	}

	// Drop the first second so the tank is fully charged.
	return out[int(testSampleRate):]
}

func TestMatrixBlendExtremesChangeFlatness(t *testing.T) {
	cfg := Config{SampleRate: testSampleRate}

	lo, err := AnalyzeSignal(renderKernelNoise(t, 0), cfg)
	if err != nil {
		t.Fatal(err)
	}

	hi, err := AnalyzeSignal(renderKernelNoise(t, 1), cfg)
	if err != nil {
		t.Fatal(err)
	}

	for _, r := range []Result{lo, hi} {
		if r.Flatness <= 0 || r.Flatness > 1 || math.IsNaN(r.Flatness) {
			t.Fatalf("flatness out of range: %+v", r)
		}
	}

	if diff := math.Abs(lo.Flatness - hi.Flatness); diff < 1e-6 {
		t.Fatalf("blend extremes indistinguishable: %v vs %v", lo.Flatness, hi.Flatness)
	}
}
