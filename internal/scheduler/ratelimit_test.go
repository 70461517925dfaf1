package scheduler

import (
	"testing"
	"time"
)

func TestRateWindow_EnforcesLimit(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var w rateWindow

	for i := 0; i < 3; i++ {
		if !w.allow(now, 3) {
			t.Fatalf("fire %d denied under limit", i)
		}
		w.record(now)
	}
	if w.allow(now, 3) {
		t.Error("fourth fire allowed over limit")
	}
}

func TestRateWindow_SlidesOverAnHour(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var w rateWindow

	w.record(now)
	w.record(now.Add(30 * time.Minute))

	if w.allow(now.Add(40*time.Minute), 2) {
		t.Error("expected denial with both events inside the window")
	}

	// The first event ages out.
	later := now.Add(61 * time.Minute)
	if !w.allow(later, 2) {
		t.Error("expected allowance after oldest event left the window")
	}
}

func TestRateWindow_SkipsDoNotCount(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var w rateWindow

	w.record(now)
	// Denied attempts call allow but never record.
	for i := 0; i < 10; i++ {
		w.allow(now, 1)
	}
	if len(w.events) != 1 {
		t.Errorf("events = %d, want 1 (denials must not accumulate)", len(w.events))
	}
}

func TestRateWindow_ZeroLimitIsUnlimited(t *testing.T) {
	t.Parallel()

	now := time.Now()
	var w rateWindow
	for i := 0; i < 100; i++ {
		if !w.allow(now, 0) {
			t.Fatal("zero limit must never deny")
		}
		w.record(now)
	}
}
