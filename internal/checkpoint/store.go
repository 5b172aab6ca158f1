package checkpoint

import (
	"errors"
	"time"
)

// ErrNegativeCursor is returned when the cursor would move below zero
var ErrNegativeCursor = errors.New("cursor must not be negative")

// FailedUpload records one failed attempt. An id may appear many times.
type FailedUpload struct {
	UniqueID  string `json:"uniqueId"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// State is the persisted resume checkpoint
type State struct {
	ProcessedIDs     []string       `json:"processedIds"`
	LastProcessedRow int            `json:"lastProcessedRow"`
	FailedUploads    []FailedUpload `json:"failedUploads"`
}

// NewState returns an empty state
func NewState() State {
	return State{
		ProcessedIDs:  []string{},
		FailedUploads: []FailedUpload{},
	}
}

// Store defines the interface for progress persistence.
// Every mutating method has persisted the change when it returns nil.
type Store interface {
	// State returns a copy of the current state
	State() State
	IsCompleted(id string) bool
	RecordSuccess(id string) error
	RecordFailure(id, reason string) error
	AdvanceCursor(position int) error
	// ResetFailures clears the failure list, removes the failed ids from the
	// completed set and returns the distinct failed ids in first-failure order.
	ResetFailures() ([]string, error)
	// Reset discards all progress
	Reset() error

	Close() error
}

func (s State) clone() State {
	c := State{
		ProcessedIDs:     make([]string, len(s.ProcessedIDs)),
		LastProcessedRow: s.LastProcessedRow,
		FailedUploads:    make([]FailedUpload, len(s.FailedUploads)),
	}
	copy(c.ProcessedIDs, s.ProcessedIDs)
	copy(c.FailedUploads, s.FailedUploads)
	return c
}

// normalize fills nil slices, drops duplicate processed ids and clamps the cursor
func (s State) normalize() State {
	if s.FailedUploads == nil {
		s.FailedUploads = []FailedUpload{}
	}
	seen := make(map[string]struct{}, len(s.ProcessedIDs))
	ids := make([]string, 0, len(s.ProcessedIDs))
	for _, id := range s.ProcessedIDs {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	s.ProcessedIDs = ids
	if s.LastProcessedRow < 0 {
		s.LastProcessedRow = 0
	}
	return s
}

// distinctFailedIDs returns each failed id once, in first-failure order
func distinctFailedIDs(failures []FailedUpload) []string {
	seen := make(map[string]struct{}, len(failures))
	ids := make([]string, 0, len(failures))
	for _, f := range failures {
		if _, ok := seen[f.UniqueID]; ok {
			continue
		}
		seen[f.UniqueID] = struct{}{}
		ids = append(ids, f.UniqueID)
	}
	return ids
}

func timestamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339Nano)
}
