package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Display periodically prints pass progress
type Display struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewDisplay creates a new progress display writing to out
func NewDisplay(tracker *Tracker, interval time.Duration, out io.Writer) *Display {
	if out == nil {
		out = os.Stdout
	}
	return &Display{
		tracker:  tracker,
		interval: interval,
		out:      out,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the display and prints the final summary. Safe to call more than once.
func (d *Display) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		<-d.doneCh
	})
}

func (d *Display) displayLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(d.out, strings.Join(d.generateDisplay(d.tracker.GetStatus()), "\n"))
		case <-d.stopCh:
			fmt.Fprintln(d.out, strings.Join(d.generateFinalDisplay(d.tracker.GetStatus()), "\n"))
			return
		}
	}
}

// generateDisplay generates the progress display lines
func (d *Display) generateDisplay(status Status) []string {
	percent := d.tracker.GetProgressPercent()
	lines := []string{
		"",
		fmt.Sprintf("Items: %d/%d %s", status.ProcessedItems, status.TotalItems, generateProgressBar(percent, 30)),
		fmt.Sprintf("  uploaded %d, failed %d, already done %d, invalid %d",
			status.SuccessItems, status.FailedItems, status.SkippedItems, status.InvalidItems),
	}

	if status.CurrentItem != "" {
		lines = append(lines, fmt.Sprintf("Current: %s %s", status.CurrentItem, generateProgressBar(status.CurrentPercent, 30)))
	}

	lines = append(lines, fmt.Sprintf("Elapsed: %s  Remaining: %s",
		FormatDuration(time.Since(status.StartTime)), FormatDuration(status.ETA)))

	return lines
}

// generateFinalDisplay generates the final completion display
func (d *Display) generateFinalDisplay(status Status) []string {
	return []string{
		"",
		"Pass complete",
		strings.Repeat("=", 40),
		fmt.Sprintf("Rows visited:  %d", status.ProcessedItems),
		fmt.Sprintf("Uploaded:      %d", status.SuccessItems),
		fmt.Sprintf("Failed:        %d", status.FailedItems),
		fmt.Sprintf("Already done:  %d", status.SkippedItems),
		fmt.Sprintf("Invalid rows:  %d", status.InvalidItems),
		fmt.Sprintf("Elapsed:       %s", FormatDuration(time.Since(status.StartTime))),
		"",
	}
}

// generateProgressBar generates a visual progress bar
func generateProgressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	bar := strings.Repeat("#", filled) + strings.Repeat("-", width-filled)

	return fmt.Sprintf("[%s] %.1f%%", bar, percent)
}

// IsTerminalSupported checks if stdout is an interactive terminal
func IsTerminalSupported() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
