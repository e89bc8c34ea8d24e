package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)
	if !clock.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", clock.Now(), start)
	}

	clock.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !clock.Now().Equal(want) {
		t.Errorf("after Advance, Now() = %v, want %v", clock.Now(), want)
	}

	later := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	clock.Set(later)
	if !clock.Now().Equal(later) {
		t.Errorf("after Set, Now() = %v, want %v", clock.Now(), later)
	}
}

func TestMockTicker_FiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(50 * time.Millisecond)

	select {
	case <-ticker.C():
		t.Fatal("ticker fired before the clock advanced")
	default:
	}

	clock.Advance(50 * time.Millisecond)
	select {
	case tick := <-ticker.C():
		if want := start.Add(50 * time.Millisecond); !tick.Equal(want) {
			t.Errorf("tick = %v, want %v", tick, want)
		}
	default:
		t.Fatal("ticker did not fire after Advance")
	}
}

func TestMockTicker_Stop(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()
	clock.Advance(5 * time.Second)

	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
}
