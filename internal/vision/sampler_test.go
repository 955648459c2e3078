package vision

import "testing"

func TestNewFrameSampler_RejectsInvalidRate(t *testing.T) {
	for _, rate := range []int{0, -1, -10} {
		if _, err := NewFrameSampler(rate); err == nil {
			t.Errorf("expected error for rate %d", rate)
		}
	}
}

func TestFrameSampler_RateOneProcessesEverything(t *testing.T) {
	s, err := NewFrameSampler(1)
	if err != nil {
		t.Fatal(err)
	}
	for n := uint64(1); n <= 100; n++ {
		if !s.ShouldProcess(n) {
			t.Fatalf("rate 1 should process every frame, rejected %d", n)
		}
	}
}

func TestFrameSampler_RateTenIsExact(t *testing.T) {
	s, err := NewFrameSampler(10)
	if err != nil {
		t.Fatal(err)
	}
	processed := 0
	for n := uint64(1); n <= 100; n++ {
		got := s.ShouldProcess(n)
		want := n%10 == 0
		if got != want {
			t.Errorf("counter %d: got %v want %v", n, got, want)
		}
		if got {
			processed++
		}
	}
	if processed != 10 {
		t.Errorf("expected exactly 10 of 100 counters sampled, got %d", processed)
	}
}
