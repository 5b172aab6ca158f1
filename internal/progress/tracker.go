package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the current pass status
type Status struct {
	TotalItems     int64
	ProcessedItems int64 // every row visited: success, failed, skipped or invalid
	SuccessItems   int64
	FailedItems    int64
	SkippedItems   int64
	InvalidItems   int64
	CurrentItem    string
	CurrentPercent float64
	StartTime      time.Time
	LastUpdateTime time.Time
	ETA            time.Duration
}

// Tracker tracks pass progress
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{
		status: Status{
			StartTime:      now,
			LastUpdateTime: now,
		},
	}
}

// SetTotal sets the total number of items
func (t *Tracker) SetTotal(items int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.TotalItems = items
}

// StartItem records the item now in flight
func (t *Tracker) StartItem(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.CurrentItem = id
	t.status.CurrentPercent = 0
	t.status.LastUpdateTime = time.Now()
}

// SetCurrentPercent records upload progress of the in-flight item
func (t *Tracker) SetCurrentPercent(percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.CurrentPercent = percent
	t.status.LastUpdateTime = time.Now()
}

// AddSuccess increments successful items
func (t *Tracker) AddSuccess() {
	t.record(func(s *Status) { s.SuccessItems++ }, true)
}

// AddFailed increments failed items
func (t *Tracker) AddFailed() {
	t.record(func(s *Status) { s.FailedItems++ }, true)
}

// AddSkipped increments items skipped because they were already completed
func (t *Tracker) AddSkipped() {
	t.record(func(s *Status) { s.SkippedItems++ }, false)
}

// AddInvalid increments rows that could not be parsed
func (t *Tracker) AddInvalid() {
	t.record(func(s *Status) { s.InvalidItems++ }, false)
}

func (t *Tracker) record(fn func(*Status), attempted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn(&t.status)
	t.status.ProcessedItems++
	if attempted {
		t.status.CurrentItem = ""
		t.status.CurrentPercent = 0
	}
	now := time.Now()
	t.status.LastUpdateTime = now
	t.calculateETA(now)
}

// calculateETA estimates remaining time from the average time per attempted item
// (must be called with lock held)
func (t *Tracker) calculateETA(now time.Time) {
	attempted := t.status.SuccessItems + t.status.FailedItems
	remaining := t.status.TotalItems - t.status.ProcessedItems
	if attempted == 0 || remaining <= 0 {
		t.status.ETA = 0
		return
	}
	perItem := now.Sub(t.status.StartTime) / time.Duration(attempted)
	t.status.ETA = perItem * time.Duration(remaining)
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// GetProgressPercent returns the share of rows visited
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.TotalItems == 0 {
		return 0
	}

	return float64(t.status.ProcessedItems) / float64(t.status.TotalItems) * 100
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "calculating..."
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	} else {
		return fmt.Sprintf("%ds", seconds)
	}
}
