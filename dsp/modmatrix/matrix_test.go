package modmatrix

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/monument/dsp/block"
	"github.com/cwbudde/monument/dsp/params"
)

const testBlock = 512

func noiseBlock(rng *rand.Rand, channels, frames int) [][]float64 {
	buf := block.Alloc(channels, frames)
	for ch := range buf {
		for i := range buf[ch] {
			buf[ch][i] = rng.Float64()*2 - 1
		}
	}

	return buf
}

func TestSourcesStayBoundedOverLongRuns(t *testing.T) {
	m := New(1)
	m.Prepare(48000)

	if err := m.SetConnection(Connection{
		Source: ChaosAttractor, Destination: params.Warp,
		Depth: 1, SmoothingMs: 50, Probability: 1, Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(7))
	buf := noiseBlock(rng, 2, testBlock)

	for blockIdx := 0; blockIdx < 10000; blockIdx++ {
		m.Process(buf, testBlock)

		for axis := 0; axis < 3; axis++ {
			if v := m.SourceValue(ChaosAttractor, axis); v < -1 || v > 1 {
				t.Fatalf("block %d: chaos axis %d out of range: %v", blockIdx, axis, v)
			}
		}

		for _, src := range []Source{AudioFollower, BrownianMotion, EnvelopeTracker} {
			if v := m.SourceValue(src, 0); v < -1 || v > 1 {
				t.Fatalf("block %d: %v out of range: %v", blockIdx, src, v)
			}
		}

		for id := params.ID(0); id < params.Count; id++ {
			if v := m.Offset(id); v < -1 || v > 1 {
				t.Fatalf("block %d: offset %v out of range: %v", blockIdx, id, v)
			}
		}
	}
}

func TestFollowerTracksLevel(t *testing.T) {
	m := New(1)
	m.Prepare(48000)

	loud := block.Alloc(2, testBlock)
	for ch := range loud {
		for i := range loud[ch] {
			loud[ch][i] = 0.5
		}
	}

	silent := block.Alloc(2, testBlock)

	for i := 0; i < 100; i++ {
		m.Process(loud, testBlock)
	}

	peak := m.SourceValue(AudioFollower, 0)
	if peak < 0.5 {
		t.Fatalf("follower must rise on sustained input: got %v", peak)
	}

	for i := 0; i < 300; i++ {
		m.Process(silent, testBlock)
	}

	if got := m.SourceValue(AudioFollower, 0); got > peak*0.1 {
		t.Fatalf("follower must release on silence: got %v after peak %v", got, peak)
	}
}

func TestProbabilityGateStatistics(t *testing.T) {
	m := New(42)
	m.Prepare(48000)

	if err := m.SetConnection(Connection{
		Source: BrownianMotion, Destination: params.Drift,
		Depth: 1, SmoothingMs: 20, Probability: 0.3, Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}

	silent := block.Alloc(1, 1)

	// Huge frame counts collapse the offset smoother onto its target, so a
	// nonzero offset means the gate fired this block.
	const frames = 1 << 20
	const blocks = 10000

	active := 0
	for i := 0; i < blocks; i++ {
		m.Process(silent, frames)

		if math.Abs(m.Offset(params.Drift)) > 1e-12 {
			active++
		}
	}

	rate := float64(active) / blocks
	if rate < 0.25 || rate > 0.35 {
		t.Fatalf("activation rate: got %v, want 0.3 +- 0.05", rate)
	}
}

func TestQuantizeSnapsToSteps(t *testing.T) {
	cases := []struct {
		in    float64
		steps int
		want  float64
	}{
		{0.0, 2, 0},
		{0.6, 2, 1},
		{0.4, 2, 0},
		{-0.6, 2, -1},
		{0.5, 3, 0.5},
		{0.7, 3, 0.5},
		{0.8, 3, 1},
	}

	for _, tc := range cases {
		if got := quantize(tc.in, tc.steps); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("quantize(%v, %d): got %v, want %v", tc.in, tc.steps, got, tc.want)
		}
	}
}

func TestDeterministicWithEqualSeeds(t *testing.T) {
	build := func() *Matrix {
		m := New(99)
		m.Prepare(48000)

		if err := m.SetConnection(Connection{
			Source: BrownianMotion, Destination: params.Warp,
			Depth: 0.5, SmoothingMs: 100, Probability: 0.7, Enabled: true,
		}); err != nil {
			t.Fatal(err)
		}

		return m
	}

	a := build()
	b := build()

	rng := rand.New(rand.NewSource(3))
	buf := noiseBlock(rng, 2, testBlock)

	for i := 0; i < 500; i++ {
		a.Process(buf, testBlock)
		b.Process(buf, testBlock)

		if a.Offset(params.Warp) != b.Offset(params.Warp) {
			t.Fatalf("block %d: offsets diverged: %v vs %v", i, a.Offset(params.Warp), b.Offset(params.Warp))
		}
	}
}

func TestConnectionEditsTakeEffect(t *testing.T) {
	m := New(5)
	m.Prepare(48000)

	rng := rand.New(rand.NewSource(11))
	buf := noiseBlock(rng, 2, testBlock)

	for i := 0; i < 50; i++ {
		m.Process(buf, testBlock)
	}

	if m.Offset(params.Time) != 0 {
		t.Fatal("no connections must mean zero offset")
	}

	if err := m.SetConnection(Connection{
		Source: AudioFollower, Destination: params.Time,
		Depth: 0.8, SmoothingMs: 50, Probability: 1, Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 200; i++ {
		m.Process(buf, testBlock)
	}

	if m.Offset(params.Time) <= 0 {
		t.Fatal("connection must produce a positive offset on loud input")
	}

	m.RemoveConnection(AudioFollower, params.Time, 0)

	for i := 0; i < 500; i++ {
		m.Process(buf, testBlock)
	}

	if got := m.Offset(params.Time); math.Abs(got) > 0.01 {
		t.Fatalf("offset must decay after removal: got %v", got)
	}
}

func TestLFOShapesTrackPhase(t *testing.T) {
	// 1 Hz at 48 kHz with 480-frame blocks advances phase 0.01 per block, so
	// 25 blocks land exactly on the quarter cycle.
	cases := []struct {
		name  string
		shape LFOShape
		want  float64
	}{
		{"sine", LFOSine, 1},
		{"triangle", LFOTriangle, 0},
		{"saw up", LFOSawUp, -0.5},
		{"saw down", LFOSawDown, 0.5},
		{"square", LFOSquare, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := New(1)
			m.Prepare(48000)

			if err := m.SetLFOConfig(0, LFOConfig{RateHz: 1, Shape: tc.shape, PulseWidth: 0.5}); err != nil {
				t.Fatal(err)
			}

			buf := block.Alloc(1, 480)
			for b := 0; b < 25; b++ {
				m.Process(buf, 480)
			}

			if got := m.SourceValue(LFO, 0); math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("value at quarter cycle: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLFOBankStaysBounded(t *testing.T) {
	m := New(3)
	m.Prepare(48000)

	buf := block.Alloc(1, testBlock)
	for b := 0; b < 5000; b++ {
		m.Process(buf, testBlock)

		for axis := 0; axis < LFOCount; axis++ {
			v := m.SourceValue(LFO, axis)
			if v < -1 || v > 1 || math.IsNaN(v) {
				t.Fatalf("block %d: lfo %d out of range: %v", b, axis, v)
			}
		}
	}
}

func TestLFOConnectionDrivesOffset(t *testing.T) {
	m := New(5)
	m.Prepare(48000)

	if err := m.SetLFOConfig(0, LFOConfig{RateHz: 2, Shape: LFOSine, PulseWidth: 0.5}); err != nil {
		t.Fatal(err)
	}

	if err := m.SetConnection(Connection{
		Source: LFO, Destination: params.Warp,
		Depth: 1, SmoothingMs: 20, Probability: 1, Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}

	buf := block.Alloc(1, testBlock)

	peak := 0.0
	for b := 0; b < 200; b++ {
		m.Process(buf, testBlock)

		if v := math.Abs(m.Offset(params.Warp)); v > peak {
			peak = v
		}
	}

	if peak < 0.3 {
		t.Fatalf("lfo modulation too weak: peak offset %v", peak)
	}
}

func TestSetLFOConfigValidation(t *testing.T) {
	m := New(1)
	m.Prepare(48000)

	if err := m.SetLFOConfig(-1, LFOConfig{RateHz: 1}); err == nil {
		t.Fatal("negative index must be rejected")
	}

	if err := m.SetLFOConfig(LFOCount, LFOConfig{RateHz: 1}); err == nil {
		t.Fatal("out-of-range index must be rejected")
	}

	if err := m.SetLFOConfig(0, LFOConfig{RateHz: 1, Shape: LFOShape(99)}); err == nil {
		t.Fatal("unknown shape must be rejected")
	}

	if err := m.SetLFOConfig(2, LFOConfig{RateHz: 500, Shape: LFOSquare, PulseWidth: 2, PhaseOffset: -3}); err != nil {
		t.Fatal(err)
	}

	got := m.LFOConfigs()[2]
	if got.RateHz != maxLFORateHz || got.PulseWidth != maxLFOPulse || got.PhaseOffset != 0 {
		t.Fatalf("config not sanitized: %+v", got)
	}
}

func TestSetConnectionValidation(t *testing.T) {
	m := New(1)
	m.Prepare(48000)

	if err := m.SetConnection(Connection{Source: Source(99), Destination: params.Time}); err == nil {
		t.Fatal("unknown source must be rejected")
	}

	if err := m.SetConnection(Connection{Source: ChaosAttractor, Destination: params.Count}); err == nil {
		t.Fatal("unknown destination must be rejected")
	}

	if err := m.SetConnection(Connection{
		Source: ChaosAttractor, Destination: params.Warp,
		Depth: 5, SmoothingMs: 2, Probability: 3, QuantizeSteps: 1000, Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}

	conns := m.Connections()
	if len(conns) != 1 {
		t.Fatalf("expected one connection, got %d", len(conns))
	}

	c := conns[0]
	if c.Depth != 1 || c.SmoothingMs != minSmoothingMs || c.Probability != 1 || c.QuantizeSteps != maxQuantizeSteps {
		t.Fatalf("connection not sanitized: %+v", c)
	}
}

func TestSetConnectionsReplacesList(t *testing.T) {
	m := New(1)
	m.Prepare(48000)

	if err := m.SetConnections([]Connection{
		{Source: ChaosAttractor, SourceAxis: 1, Destination: params.Warp, Depth: 0.3, SmoothingMs: 100, Probability: 1, Enabled: true},
		{Source: BrownianMotion, Destination: params.Drift, Depth: -0.2, SmoothingMs: 100, Probability: 1, Enabled: true},
	}); err != nil {
		t.Fatal(err)
	}

	if got := len(m.Connections()); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	m.ClearConnections()
	m.Process(block.Alloc(1, 16), 16)

	if got := len(m.Connections()); got != 0 {
		t.Fatalf("expected empty list, got %d", got)
	}

	for id := params.ID(0); id < params.Count; id++ {
		if m.Offset(id) != 0 {
			t.Fatalf("clear must reset offsets, %v = %v", id, m.Offset(id))
		}
	}
}
