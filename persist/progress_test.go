package persist

import "testing"

func TestProgressTracker_NeverMovesBackwards(t *testing.T) {
	var reported []int
	p := newProgressTracker(func(percent int) { reported = append(reported, percent) })

	p.set(0)
	p.set(30)
	p.set(20) // stale update from a slower goroutine
	p.set(90)
	p.set(100)

	want := []int{0, 30, 30, 90, 100}
	if len(reported) != len(want) {
		t.Fatalf("reported = %v, want %v", reported, want)
	}
	for i := range want {
		if reported[i] != want[i] {
			t.Fatalf("reported = %v, want %v", reported, want)
		}
	}
}

func TestProgressTracker_NilCallback(t *testing.T) {
	p := newProgressTracker(nil)
	p.set(50) // must not panic
}

func TestStepProgress_MapsBytesOntoSpan(t *testing.T) {
	var last int
	tracker := newProgressTracker(func(percent int) { last = percent })
	step := newStepProgress(tracker, 30, 90, 100)

	step.add(50)
	if last != 60 {
		t.Errorf("after half the bytes: %d, want 60", last)
	}
	step.add(50)
	if last != 90 {
		t.Errorf("after all bytes: %d, want 90", last)
	}
	// Overshoot clamps to the step's upper bound.
	step.add(10)
	if last != 90 {
		t.Errorf("after overshoot: %d, want 90", last)
	}
}

func TestStepProgress_ZeroTotal(t *testing.T) {
	tracker := newProgressTracker(nil)
	step := newStepProgress(tracker, 30, 90, 0)
	step.add(10) // must not divide by zero
}
