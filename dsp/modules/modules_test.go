package modules

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/monument/dsp/params"
)

const testSampleRate = 48000.0

func defaultSnap() *params.Snapshot {
	raw := params.Defaults()
	return &params.Snapshot{Values: raw.Values}
}

func noiseBlocks(seed int64, channels, frames, blocks int, amplitude float64) [][][]float64 {
	rng := rand.New(rand.NewSource(seed))

	out := make([][][]float64, blocks)
	for b := range out {
		out[b] = make([][]float64, channels)
		for ch := range out[b] {
			out[b][ch] = make([]float64, frames)
			for i := range out[b][ch] {
				out[b][ch][i] = (rng.Float64()*2 - 1) * amplitude
			}
		}
	}

	return out
}

func silentBlock(channels, frames int) [][]float64 {
	buf := make([][]float64, channels)
	for ch := range buf {
		buf[ch] = make([]float64, frames)
	}

	return buf
}

func blockPeak(buf [][]float64) float64 {
	peak := 0.0
	for ch := range buf {
		for _, v := range buf[ch] {
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}
	}

	return peak
}

func requireFinite(t *testing.T, buf [][]float64) {
	t.Helper()

	for ch := range buf {
		for i, v := range buf[ch] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("non-finite sample at ch=%d i=%d: %v", ch, i, v)
			}
		}
	}
}

func TestFoundationRemovesDC(t *testing.T) {
	f := NewFoundation()
	if err := f.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	f.Apply(defaultSnap())

	var buf [][]float64
	for b := 0; b < 200; b++ {
		buf = silentBlock(2, 512)
		for ch := range buf {
			for i := range buf[ch] {
				buf[ch][i] = 1
			}
		}

		f.Process(buf)
	}

	sum := 0.0
	for _, v := range buf[0] {
		sum += v
	}

	mean := sum / float64(len(buf[0]))
	if math.Abs(mean) > 0.01 {
		t.Fatalf("DC not removed, residual mean %f", mean)
	}
}

func TestFoundationDriveMapsToGain(t *testing.T) {
	f := NewFoundation()
	if err := f.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	snap := defaultSnap()
	snap.Values[params.Drive] = 1
	f.Apply(snap)

	want := math.Pow(10, 12.0/20)
	if got := f.gain.Target(); math.Abs(got-want) > 1e-6 {
		t.Fatalf("gain target = %f, want %f", got, want)
	}

	snap.Values[params.Drive] = 0.5
	f.Apply(snap)

	if got := f.gain.Target(); math.Abs(got-1) > 1e-9 {
		t.Fatalf("mid drive should be unity, got %f", got)
	}
}

func TestButtressUnityAndBounded(t *testing.T) {
	b := NewButtress()
	if err := b.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	b.Apply(defaultSnap())

	buf := [][]float64{{1, -1, 10, -10, 0}}
	b.Process(buf)

	// Default drive is 1.75; normalization makes unity input map to unity.
	if math.Abs(buf[0][0]-1) > 1e-9 || math.Abs(buf[0][1]+1) > 1e-9 {
		t.Fatalf("unity input not preserved: %v %v", buf[0][0], buf[0][1])
	}

	bound := 1 / math.Tanh(1.75)
	if math.Abs(buf[0][2]) > bound+1e-9 || math.Abs(buf[0][3]) > bound+1e-9 {
		t.Fatalf("overdriven samples exceed bound %f: %v %v", bound, buf[0][2], buf[0][3])
	}

	if buf[0][4] != 0 {
		t.Fatalf("zero input should stay zero, got %v", buf[0][4])
	}
}

func TestButtressFreezeHardensDrive(t *testing.T) {
	b := NewButtress()
	if err := b.Prepare(testSampleRate, 512, 1); err != nil {
		t.Fatal(err)
	}

	snap := defaultSnap()
	b.Apply(snap)

	soft := [][]float64{{0.5}}
	b.Process(soft)

	snap.Freeze = true
	b.Apply(snap)

	hard := [][]float64{{0.5}}
	b.Process(hard)

	if hard[0][0] <= soft[0][0] {
		t.Fatalf("frozen shaping should push mid levels up: %v vs %v", hard[0][0], soft[0][0])
	}
}

func TestFacadeZeroWidthCollapsesToMono(t *testing.T) {
	f := NewFacade()
	if err := f.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	snap := defaultSnap()
	snap.Values[params.Width] = 0
	f.Apply(snap)

	buf := noiseBlocks(11, 2, 512, 1, 0.5)[0]
	f.Process(buf)

	for i := range buf[0] {
		if math.Abs(buf[0][i]-buf[1][i]) > 1e-12 {
			t.Fatalf("zero width should produce identical channels at %d: %v vs %v",
				i, buf[0][i], buf[1][i])
		}
	}
}

func TestFacadePanningHardLeft(t *testing.T) {
	f := NewFacade()
	if err := f.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	snap := defaultSnap()
	snap.Values[params.Mix] = 1
	f.Apply(snap)
	f.SetPanning(true)
	f.SetSpatialPosition(-90, 0)

	var buf [][]float64
	for b := 0; b < 50; b++ {
		buf = silentBlock(2, 512)
		for i := range buf[0] {
			buf[0][i] = 0.5
			buf[1][i] = 0.5
		}

		f.Process(buf)
	}

	if math.Abs(buf[1][511]) > 1e-3 {
		t.Fatalf("hard left pan should silence the right channel, got %v", buf[1][511])
	}

	if math.Abs(buf[0][511]) < 0.1 {
		t.Fatalf("hard left pan should keep the left channel, got %v", buf[0][511])
	}
}

func TestWeatheringMixStaysUnderDry(t *testing.T) {
	w := NewWeathering()
	if err := w.Prepare(testSampleRate, 512, 2); err != nil {
		t.Fatal(err)
	}

	snap := defaultSnap()
	snap.Values[params.Warp] = 1
	snap.Values[params.Drift] = 1
	w.Apply(snap)

	blocks := noiseBlocks(7, 2, 512, 100, 0.8)
	for _, buf := range blocks {
		w.Process(buf)
		requireFinite(t, buf)

		if peak := blockPeak(buf); peak > 1.0+1e-9 {
			t.Fatalf("weathered peak exceeds input bound: %f", peak)
		}
	}
}

func TestWeatheringFirstSampleIsDryScaled(t *testing.T) {
	w := NewWeathering()
	if err := w.Prepare(testSampleRate, 64, 1); err != nil {
		t.Fatal(err)
	}

	snap := defaultSnap()
	snap.Values[params.Warp] = 1
	w.Apply(snap)

	buf := silentBlock(1, 64)
	buf[0][0] = 1

	w.Process(buf)

	// The delay line is empty, so the first sample is the dry share alone.
	want := 1 - 0.4
	if math.Abs(buf[0][0]-want) > 1e-9 {
		t.Fatalf("first sample = %f, want %f", buf[0][0], want)
	}
}
