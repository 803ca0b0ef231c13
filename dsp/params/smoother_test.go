package params

import (
	"math"
	"testing"
)

func TestSmootherConvergesToTarget(t *testing.T) {
	var s Smoother
	s.Prepare(48000)
	s.SetTimeMs(10)
	s.Reset(0)
	s.SetTarget(1)

	var v float64
	for i := 0; i < 48000; i++ {
		v = s.Next()
	}

	if math.Abs(v-1) > 1e-9 {
		t.Fatalf("smoother did not converge: got %v", v)
	}
}

func TestSmootherZeroTimeSnaps(t *testing.T) {
	var s Smoother
	s.Prepare(48000)
	s.SetTimeMs(0)
	s.Reset(0)
	s.SetTarget(0.7)

	if got := s.Next(); got != 0.7 {
		t.Fatalf("zero-time smoother must snap: got %v", got)
	}
}

func TestSmootherSkipMatchesRepeatedNext(t *testing.T) {
	var a, b Smoother
	for _, s := range []*Smoother{&a, &b} {
		s.Prepare(48000)
		s.SetTimeMs(25)
		s.Reset(0.2)
		s.SetTarget(0.8)
	}

	var stepped float64
	for i := 0; i < 512; i++ {
		stepped = a.Next()
	}

	if skipped := b.Skip(512); math.Abs(skipped-stepped) > 1e-12 {
		t.Fatalf("Skip(512) = %v, stepped = %v", skipped, stepped)
	}
}

func TestBankPrimesAtFirstAdvance(t *testing.T) {
	var b Bank
	b.Prepare(48000)
	b.SetTarget(Time, 0.9)

	values := b.Advance(128)
	if values[Time] != 0.9 {
		t.Fatalf("first Advance must prime at target: got %v", values[Time])
	}

	if b.Ramping(Time) {
		t.Fatal("primed parameter must not ramp")
	}
}

func TestBankRampsAndSettles(t *testing.T) {
	var b Bank
	b.Prepare(48000)
	b.SetTarget(Mix, 0)
	b.Advance(128)

	b.SetTarget(Mix, 1)
	if !b.Ramping(Mix) {
		t.Fatal("target change must start a ramp")
	}

	first := b.Advance(128)[Mix]
	if first <= 0 || first >= 1 {
		t.Fatalf("ramp must move strictly toward target: got %v", first)
	}

	for i := 0; i < 200 && b.Ramping(Mix); i++ {
		b.Advance(128)
	}

	if b.Ramping(Mix) {
		t.Fatal("ramp never settled")
	}

	if got := b.Advance(128)[Mix]; got != 1 {
		t.Fatalf("settled value must equal target: got %v", got)
	}
}

func TestBankSkipsSettledParameters(t *testing.T) {
	var b Bank
	b.Prepare(48000)

	for i := ID(0); i < Count; i++ {
		b.SetTarget(i, 0.5)
	}

	b.Advance(64)

	b.SetTarget(Warp, 0.9)
	b.Advance(64)

	for i := ID(0); i < Count; i++ {
		if i == Warp {
			continue
		}

		if b.Ramping(i) {
			t.Fatalf("%v must not ramp when only warp changed", i)
		}
	}
}
