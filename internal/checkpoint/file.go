package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// ErrLocked is returned when another process holds the progress file
var ErrLocked = errors.New("progress file is locked by another process")

// FileStore implements Store on a JSON file
type FileStore struct {
	mu        sync.Mutex
	path      string
	lock      *flock.Flock
	state     State
	completed map[string]struct{}
	now       func() time.Time
	logger    *zap.Logger
}

// NewFileStore opens the progress file at path, taking an exclusive lock on path+".lock".
// A missing or unreadable file yields an empty state.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create progress directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock progress file: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	s := &FileStore{
		path:   path,
		lock:   lock,
		now:    time.Now,
		logger: logger,
	}
	s.commit(Load(path, logger))
	return s, nil
}

// Load reads the state at path. It never fails: a missing, unreadable or corrupt file is an empty state.
func Load(path string, logger *zap.Logger) State {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Progress file unreadable, starting empty", zap.String("path", path), zap.Error(err))
		}
		return NewState()
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn("Progress file corrupt, starting empty", zap.String("path", path), zap.Error(err))
		return NewState()
	}
	return state.normalize()
}

// State returns a copy of the current state
func (s *FileStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// IsCompleted reports whether id finished successfully
func (s *FileStore) IsCompleted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[id]
	return ok
}

// RecordSuccess adds id to the completed set
func (s *FileStore) RecordSuccess(id string) error {
	return s.mutate(func(st *State) {
		if !slices.Contains(st.ProcessedIDs, id) {
			st.ProcessedIDs = append(st.ProcessedIDs, id)
		}
	})
}

// RecordFailure appends a failed attempt stamped with the current time
func (s *FileStore) RecordFailure(id, reason string) error {
	return s.mutate(func(st *State) {
		st.FailedUploads = append(st.FailedUploads, FailedUpload{
			UniqueID:  id,
			Error:     reason,
			Timestamp: timestamp(s.now()),
		})
	})
}

// AdvanceCursor sets the resume cursor. Moving backwards is allowed.
func (s *FileStore) AdvanceCursor(position int) error {
	if position < 0 {
		return ErrNegativeCursor
	}
	return s.mutate(func(st *State) {
		st.LastProcessedRow = position
	})
}

// ResetFailures clears failures and makes every failed id eligible again
func (s *FileStore) ResetFailures() ([]string, error) {
	var ids []string
	err := s.mutate(func(st *State) {
		ids = distinctFailedIDs(st.FailedUploads)
		st.ProcessedIDs = slices.DeleteFunc(st.ProcessedIDs, func(id string) bool {
			return slices.Contains(ids, id)
		})
		st.FailedUploads = []FailedUpload{}
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Reset discards all progress
func (s *FileStore) Reset() error {
	return s.mutate(func(st *State) {
		*st = NewState()
	})
}

// Close releases the file lock
func (s *FileStore) Close() error {
	return s.lock.Unlock()
}

// mutate applies fn to a copy of the state, persists the copy and only then makes it current
func (s *FileStore) mutate(fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	fn(&next)

	if err := s.save(next); err != nil {
		return err
	}
	s.commit(next)
	return nil
}

func (s *FileStore) commit(state State) {
	s.state = state
	s.completed = make(map[string]struct{}, len(state.ProcessedIDs))
	for _, id := range state.ProcessedIDs {
		s.completed[id] = struct{}{}
	}
}

// save writes atomically via temp file and fsync
func (s *FileStore) save(state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp progress file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp progress file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp progress file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp progress file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace progress file: %w", err)
	}
	return nil
}
