package switcher

import "testing"

func TestSampler(t *testing.T) {
	t.Parallel()

	if _, ok := NewSampler(0, 1).Sample(5); ok {
		t.Error("rate 0 sampled a request")
	}
	if _, ok := NewSampler(1, 1).Sample(1); ok {
		t.Error("a single candidate was sampled")
	}
	var nilSampler *Sampler
	if _, ok := nilSampler.Sample(3); ok {
		t.Error("nil sampler sampled a request")
	}

	always := NewSampler(2, 1)
	if always.Rate() != 1 {
		t.Errorf("Rate() = %v, want clamped to 1", always.Rate())
	}
	seen := map[int]bool{}
	for range 200 {
		idx, ok := always.Sample(4)
		if !ok || idx < 1 || idx > 3 {
			t.Fatalf("Sample(4) = %d, %v", idx, ok)
		}
		seen[idx] = true
	}
	if len(seen) != 3 {
		t.Errorf("variants chosen = %v, want all of 1..3", seen)
	}
}

func TestSamplerRateAndDeterminism(t *testing.T) {
	t.Parallel()

	a, b := NewSampler(0.3, 42), NewSampler(0.3, 42)
	hits := 0
	for range 10000 {
		ia, oka := a.Sample(3)
		ib, okb := b.Sample(3)
		if ia != ib || oka != okb {
			t.Fatal("samplers with the same seed diverged")
		}
		if oka {
			hits++
		}
	}
	if hits < 2500 || hits > 3500 {
		t.Errorf("sampled %d of 10000, want about 3000", hits)
	}
}
