package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestTracker(t *testing.T) {
	t.Run("counts outcomes", func(t *testing.T) {
		tracker := NewTracker()
		tracker.SetTotal(4)

		tracker.StartItem("v1")
		tracker.SetCurrentPercent(40)
		if s := tracker.GetStatus(); s.CurrentItem != "v1" || s.CurrentPercent != 40 {
			t.Errorf("unexpected in-flight status %+v", s)
		}
		tracker.AddSuccess()
		tracker.AddFailed()
		tracker.AddSkipped()
		tracker.AddInvalid()

		s := tracker.GetStatus()
		if s.ProcessedItems != 4 || s.SuccessItems != 1 || s.FailedItems != 1 || s.SkippedItems != 1 || s.InvalidItems != 1 {
			t.Errorf("unexpected counts %+v", s)
		}
		if s.CurrentItem != "" {
			t.Errorf("expected no in-flight item, got %s", s.CurrentItem)
		}
		if got := tracker.GetProgressPercent(); got != 100 {
			t.Errorf("expected 100%%, got %v", got)
		}
	})

	t.Run("zero total", func(t *testing.T) {
		if got := NewTracker().GetProgressPercent(); got != 0 {
			t.Errorf("expected 0, got %v", got)
		}
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "calculating..."},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{2*time.Hour + time.Minute + time.Second, "2h1m1s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestDisplay(t *testing.T) {
	tracker := NewTracker()
	tracker.SetTotal(2)
	tracker.AddSuccess()

	var out bytes.Buffer
	display := NewDisplay(tracker, time.Hour, &out)
	display.Start()
	display.Stop()
	display.Stop()

	if !strings.Contains(out.String(), "Uploaded:      1") {
		t.Errorf("final summary missing, got %q", out.String())
	}
}

func TestGenerateProgressBar(t *testing.T) {
	if got := generateProgressBar(150, 10); got != "[##########] 100.0%" {
		t.Errorf("unexpected bar %q", got)
	}
	if got := generateProgressBar(-5, 4); got != "[----] 0.0%" {
		t.Errorf("unexpected bar %q", got)
	}
}
