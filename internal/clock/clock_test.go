package clock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := &RealClock{}

	before := time.Now()
	actual := clock.Now()
	after := time.Now()

	if actual.Before(before) || actual.After(after) {
		t.Errorf("RealClock.Now() returned time outside expected range: got %v, expected between %v and %v", actual, before, after)
	}
}

func TestFakeClock_Now(t *testing.T) {
	fixedTime := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewFakeClock(fixedTime)

	first := clock.Now()
	second := clock.Now()

	if !first.Equal(fixedTime) || !second.Equal(fixedTime) {
		t.Errorf("FakeClock.Now() should return the fixed time %v: first=%v, second=%v", fixedTime, first, second)
	}
}

func TestFakeClock_Advance(t *testing.T) {
	initialTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(initialTime)

	clock.Advance(1 * time.Hour)
	clock.Advance(30 * time.Minute)

	expectedTime := initialTime.Add(90 * time.Minute)
	if actual := clock.Now(); !actual.Equal(expectedTime) {
		t.Errorf("After advances, Now() = %v, want %v", actual, expectedTime)
	}
}
