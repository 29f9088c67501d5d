package quota

import (
	"math"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestNew_NilUsesDefault(t *testing.T) {
	tr := New(nil, DefaultMaxExperiences)
	if tr.Unlimited() {
		t.Fatal("expected finite tracker for nil limit")
	}
	if got := tr.Remaining(); got != DefaultMaxExperiences {
		t.Errorf("Remaining() = %d, want %d", got, DefaultMaxExperiences)
	}
}

func TestNew_ZeroMeansUnlimited(t *testing.T) {
	tr := New(intPtr(0), DefaultMaxExperiences)
	if !tr.Unlimited() {
		t.Fatal("expected unlimited tracker for limit 0")
	}

	// LimitReached stays false no matter how much is consumed.
	for i := 0; i < 10000; i++ {
		tr.Consume(1)
	}
	if tr.LimitReached() {
		t.Error("LimitReached() = true for unlimited tracker")
	}
	if got := tr.Remaining(); got != math.MaxInt {
		t.Errorf("Remaining() = %d, want math.MaxInt", got)
	}
}

func TestNew_NegativeFallsBackToDefault(t *testing.T) {
	tr := New(intPtr(-5), 7)
	if got := tr.Remaining(); got != 7 {
		t.Errorf("Remaining() = %d, want 7", got)
	}
}

func TestTracker_FiniteLimit(t *testing.T) {
	tr := New(intPtr(3), DefaultMaxExperiences)

	for i := 0; i < 3; i++ {
		if tr.LimitReached() {
			t.Fatalf("LimitReached() = true after %d of 3 consumed", i)
		}
		tr.Consume(1)
	}

	if !tr.LimitReached() {
		t.Error("LimitReached() = false after consuming the full budget")
	}
	if got := tr.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}

	// Over-consumption must not produce a negative remaining budget.
	tr.Consume(1)
	if got := tr.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d after over-consumption, want 0", got)
	}
	if got := tr.Consumed(); got != 4 {
		t.Errorf("Consumed() = %d, want 4", got)
	}
}
