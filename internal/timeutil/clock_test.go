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
	case <-time.After(100 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_NowAndSet(t *testing.T) {
	fixed := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(fixed)
	if !clock.Now().Equal(fixed) {
		t.Errorf("Now() = %v, want %v", clock.Now(), fixed)
	}

	later := fixed.Add(26 * time.Hour)
	clock.Set(later)
	if !clock.Now().Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", clock.Now(), later)
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Advance(time.Hour)

	if want := start.Add(time.Hour); !clock.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", clock.Now(), want)
	}
}

func TestMockClock_SleepIsRecorded(t *testing.T) {
	clock := NewMockClock(time.Now())
	clock.Sleep(time.Second)
	clock.Sleep(2 * time.Second)

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("got %d sleeps, want 2", len(sleeps))
	}
	if sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("sleeps = %v, want [1s 2s]", sleeps)
	}
}

func TestMockClock_TickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(time.Minute)

	select {
	case <-ticker.C():
		t.Error("ticker fired before its interval")
	default:
	}

	clock.Advance(time.Minute)
	select {
	case <-ticker.C():
	default:
		t.Error("ticker did not fire after first interval")
	}

	// One advance spanning several intervals delivers a single buffered
	// tick, like time.Ticker under a slow receiver.
	clock.Advance(5 * time.Minute)
	select {
	case <-ticker.C():
	default:
		t.Error("ticker did not fire after multi-interval advance")
	}
	select {
	case <-ticker.C():
		t.Error("ticker delivered more than one buffered tick")
	default:
	}
}

func TestMockTicker_Stop(t *testing.T) {
	clock := NewMockClock(time.Now())
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()
	clock.Advance(5 * time.Second)

	select {
	case <-ticker.C():
		t.Error("stopped ticker should not tick")
	default:
	}
}

func TestMockTicker_Trigger(t *testing.T) {
	clock := NewMockClock(time.Now())
	ticker := clock.NewTicker(time.Hour).(*MockTicker)
	now := clock.Now()
	ticker.Trigger(now)

	select {
	case received := <-ticker.C():
		if !received.Equal(now) {
			t.Errorf("tick = %v, want %v", received, now)
		}
	default:
		t.Error("Trigger did not send a tick")
	}
}

func TestMockTicker_Reset(t *testing.T) {
	clock := NewMockClock(time.Now())
	ticker := clock.NewTicker(time.Second).(*MockTicker)
	ticker.Stop()
	ticker.Reset(time.Minute)

	if ticker.stopped {
		t.Error("ticker should not be stopped after Reset")
	}
	if ticker.interval != time.Minute {
		t.Errorf("interval = %v, want 1m", ticker.interval)
	}
}
