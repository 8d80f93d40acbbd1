package engine

import (
	"testing"
	"time"

	"autotrader/internal/config"
)

func mustWindow(t *testing.T, cfg config.TimeWindowConfig) *Window {
	t.Helper()
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	window, err := ParseWindow(cfg)
	if err != nil {
		t.Fatalf("ParseWindow returned error: %v", err)
	}
	if window == nil {
		t.Fatalf("expected enabled window")
	}
	return window
}

func TestParseWindow_DisabledWhenUnset(t *testing.T) {
	window, err := ParseWindow(config.TimeWindowConfig{})
	if err != nil {
		t.Fatalf("ParseWindow returned error: %v", err)
	}
	if window != nil {
		t.Errorf("expected nil window for empty config")
	}
}

func TestParseWindow_RejectsBadConfig(t *testing.T) {
	cases := []config.TimeWindowConfig{
		{Start: "25:00", End: "10:00"},
		{Start: "09:61", End: "10:00"},
		{Start: "nine", End: "10:00"},
		{Start: "09:00", End: "09:00"},
		{Start: "09:00", End: "10:00", Timezone: "Not/AZone"},
		{Start: "09:00", End: "10:00", Days: []string{"monday"}},
	}
	for _, cfg := range cases {
		if _, err := ParseWindow(cfg); err == nil {
			t.Errorf("expected error for %+v", cfg)
		}
	}
}

func TestWindowContains_SameDay(t *testing.T) {
	window := mustWindow(t, config.TimeWindowConfig{Start: "09:00", End: "15:30"})

	cases := []struct {
		hour, minute int
		want         bool
	}{
		{9, 0, true},
		{10, 0, true},
		{15, 29, true},
		{15, 30, false},
		{16, 0, false},
	}
	for _, tc := range cases {
		at := time.Date(2026, 8, 25, tc.hour, tc.minute, 0, 0, time.UTC)
		if got := window.Contains(at); got != tc.want {
			t.Errorf("Contains(%02d:%02d) = %v, want %v", tc.hour, tc.minute, got, tc.want)
		}
	}
}

func TestWindowContains_Overnight(t *testing.T) {
	window := mustWindow(t, config.TimeWindowConfig{Start: "22:00", End: "05:30"})

	cases := []struct {
		hour, minute int
		want         bool
	}{
		{23, 0, true},
		{4, 0, true},
		{5, 29, true},
		{5, 30, false},
		{6, 0, false},
		{12, 0, false},
		{22, 0, true},
	}
	for _, tc := range cases {
		at := time.Date(2026, 8, 25, tc.hour, tc.minute, 0, 0, time.UTC)
		if got := window.Contains(at); got != tc.want {
			t.Errorf("Contains(%02d:%02d) = %v, want %v", tc.hour, tc.minute, got, tc.want)
		}
	}
}

func TestWindowContains_RespectsTimezone(t *testing.T) {
	window := mustWindow(t, config.TimeWindowConfig{
		Start:    "09:00",
		End:      "15:30",
		Timezone: "America/New_York",
	})

	// 2026-08-25 14:00 UTC 是纽约时间 10:00。
	inside := time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)

	if !window.Contains(inside) {
		t.Errorf("expected 14:00 UTC inside New York trading hours")
	}
	if window.Contains(outside) {
		t.Errorf("expected 08:00 UTC outside New York trading hours")
	}
}

func TestWindowContains_FiltersWeekdays(t *testing.T) {
	window := mustWindow(t, config.TimeWindowConfig{
		Start: "09:00",
		End:   "15:30",
		Days:  []string{"mon", "tue", "wed", "thu", "fri"},
	})

	tuesday := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	saturday := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	if !window.Contains(tuesday) {
		t.Errorf("expected Tuesday 10:00 inside weekday window")
	}
	if window.Contains(saturday) {
		t.Errorf("expected Saturday 10:00 outside weekday window")
	}
}

func TestWindowContains_OvernightAttributesToStartDay(t *testing.T) {
	window := mustWindow(t, config.TimeWindowConfig{
		Start: "22:00",
		End:   "05:30",
		Days:  []string{"mon"},
	})

	// 2026-08-24 是周一，周二凌晨属于周一晚开始的窗口。
	mondayNight := time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)
	tuesdayEarly := time.Date(2026, 8, 25, 4, 0, 0, 0, time.UTC)
	tuesdayNight := time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC)

	if !window.Contains(mondayNight) {
		t.Errorf("expected Monday 23:00 inside Monday overnight window")
	}
	if !window.Contains(tuesdayEarly) {
		t.Errorf("expected Tuesday 04:00 attributed to Monday's window")
	}
	if window.Contains(tuesdayNight) {
		t.Errorf("expected Tuesday 23:00 outside Monday-only window")
	}
}

func TestWindowNextStart(t *testing.T) {
	window := mustWindow(t, config.TimeWindowConfig{Start: "22:00", End: "05:30"})

	from := time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)
	start, ok := window.NextStart(from)
	if !ok {
		t.Fatalf("expected next start to exist")
	}
	want := time.Date(2026, 8, 25, 22, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("NextStart = %v, want %v", start, want)
	}

	from = time.Date(2026, 8, 25, 22, 30, 0, 0, time.UTC)
	start, ok = window.NextStart(from)
	if !ok {
		t.Fatalf("expected next start to exist")
	}
	want = time.Date(2026, 8, 26, 22, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("NextStart past today's start = %v, want %v", start, want)
	}
}

func TestWindowNextStart_SkipsDisallowedDays(t *testing.T) {
	window := mustWindow(t, config.TimeWindowConfig{
		Start: "09:00",
		End:   "15:30",
		Days:  []string{"mon"},
	})

	// 从周二出发，下一个窗口开始在下周一。
	from := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	start, ok := window.NextStart(from)
	if !ok {
		t.Fatalf("expected next start to exist")
	}
	want := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("NextStart = %v, want %v", start, want)
	}
}

func TestWindowDeferBudget(t *testing.T) {
	window := mustWindow(t, config.TimeWindowConfig{
		Start:           "09:00",
		End:             "15:30",
		OnOutside:       "defer",
		MaxDelaySeconds: 3600,
	})

	now := time.Date(2026, 8, 25, 16, 0, 0, 0, time.UTC)
	start, ok := window.NextStart(now)
	if !ok {
		t.Fatalf("expected next start to exist")
	}

	delay := start.Sub(now)
	if delay <= window.MaxDelay() {
		t.Errorf("expected 16:00 deferral (%v) to exceed one-hour budget", delay)
	}
	if window.Skip() {
		t.Errorf("expected defer mode, not skip")
	}
}
