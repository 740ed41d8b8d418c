package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	attempts := 0
	perm := errors.New("bad request")

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(perm)
	})

	if !errors.Is(err, perm) {
		t.Fatalf("Retry returned %v, want %v", err, perm)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Second, func() error {
		return errors.New("transient error")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry returned %v, want context.Canceled", err)
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait returned error: %v", err)
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("Wait #%d returned error: %v", i, err)
		}
	}
}

func TestNewLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "warn", "text")

	log.Info("hidden")
	log.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "k=v") {
		t.Errorf("warn record missing from text output: %q", out)
	}
	if ParseLevel("nonsense") != slog.LevelInfo {
		t.Error("ParseLevel should default to info")
	}
}

func TestTradingCalendarAlign(t *testing.T) {
	cal := NewTradingCalendar(domain.Timeframe1h)
	ts := time.Date(2024, 3, 1, 10, 37, 12, 0, time.UTC)

	if got, want := cal.align(ts), time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("align = %v, want %v", got, want)
	}
}

func TestTradingCalendarExpectedBars(t *testing.T) {
	cal := NewTradingCalendar(domain.Timeframe1h)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := cal.ExpectedBars(start, start.Add(24*time.Hour)); got != 24 {
		t.Errorf("ExpectedBars(1 day) = %d, want 24", got)
	}
	if got := cal.ExpectedBars(start.Add(30*time.Minute), start.Add(3*time.Hour)); got != 2 {
		t.Errorf("ExpectedBars(unaligned) = %d, want 2", got)
	}
	if got := cal.ExpectedBars(start, start); got != 0 {
		t.Errorf("ExpectedBars(empty) = %d, want 0", got)
	}
}

func TestTradingCalendarGaps(t *testing.T) {
	cal := NewTradingCalendar(domain.Timeframe1h)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []domain.Bar{
		{Timestamp: base},
		{Timestamp: base.Add(time.Hour)},
		{Timestamp: base.Add(4 * time.Hour)},
		{Timestamp: base.Add(5 * time.Hour)},
	}

	gaps := cal.Gaps(bars)
	if len(gaps) != 1 {
		t.Fatalf("Gaps returned %d gaps, want 1", len(gaps))
	}
	if gaps[0].Missing != 2 {
		t.Errorf("gap Missing = %d, want 2", gaps[0].Missing)
	}
	if !gaps[0].After.Equal(base.Add(time.Hour)) || !gaps[0].Before.Equal(base.Add(4*time.Hour)) {
		t.Errorf("gap bounds = %v..%v", gaps[0].After, gaps[0].Before)
	}

	if gaps := cal.Gaps(bars[:2]); len(gaps) != 0 {
		t.Errorf("contiguous series reported %d gaps", len(gaps))
	}
}

func TestTradingCalendarGapsToleratesDrift(t *testing.T) {
	cal := NewTradingCalendar(domain.Timeframe1d)
	base := time.Date(2024, 11, 1, 4, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	// Daily bars anchored to a local midnight shift by an hour across DST.
	drifted := []domain.Bar{
		{Timestamp: base},
		{Timestamp: base.Add(day)},
		{Timestamp: base.Add(2*day + time.Hour)},
		{Timestamp: base.Add(3*day + time.Hour)},
		{Timestamp: base.Add(4*day + time.Hour)},
	}
	if gaps := cal.Gaps(drifted); len(gaps) != 0 {
		t.Errorf("drifted series reported gaps %+v, want none", gaps)
	}

	// A drifted step that also skips a day is still one missing bar.
	skipped := []domain.Bar{{Timestamp: base}, {Timestamp: base.Add(2*day + time.Hour)}}
	gaps := cal.Gaps(skipped)
	if len(gaps) != 1 || gaps[0].Missing != 1 {
		t.Errorf("gaps = %+v, want one gap of 1 bar", gaps)
	}
}
