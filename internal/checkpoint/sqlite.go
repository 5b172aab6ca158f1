package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite. The state is read once at open and
// mirrored in memory after every committed transaction, so reads never hit the database.
type SQLiteStore struct {
	mu        sync.Mutex
	db        *sql.DB
	lock      *flock.Flock
	closed    bool
	state     State
	completed map[string]struct{}
	now       func() time.Time
}

// NewSQLiteStore opens the progress database at dbPath, taking an exclusive lock on dbPath+".lock".
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create progress directory: %w", err)
		}
	}

	lock := flock.New(dbPath + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock progress database: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dbPath)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One orchestrator drives the store, a single connection keeps writes ordered
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:   db,
		lock: lock,
		now:  time.Now,
	}
	if err := store.createTables(); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	state, err := readState(db)
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}
	store.commit(state.normalize())

	return store, nil
}

// ReadSQLite reads the progress database at dbPath read-only and without the run lock.
// A missing database is an empty state and is not created.
func ReadSQLite(dbPath string) (State, error) {
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewState(), nil
		}
		return State{}, fmt.Errorf("failed to stat progress database: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(60000)", dbPath))
	if err != nil {
		return State{}, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	state, err := readState(db)
	if err != nil {
		return State{}, fmt.Errorf("failed to read progress: %w", err)
	}
	return state.normalize(), nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS processed_ids (
		unique_id TEXT PRIMARY KEY,
		processed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS failed_uploads (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		unique_id TEXT NOT NULL,
		error TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cursor (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_processed_row INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_failed_uploads_unique_id ON failed_uploads(unique_id);
	`

	_, err := s.db.Exec(query)
	return err
}

func readState(db *sql.DB) (State, error) {
	state := NewState()

	rows, err := db.Query(`SELECT unique_id FROM processed_ids ORDER BY rowid`)
	if err != nil {
		return state, err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return state, err
		}
		state.ProcessedIDs = append(state.ProcessedIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return state, err
	}

	rows, err = db.Query(`SELECT unique_id, error, timestamp FROM failed_uploads ORDER BY seq`)
	if err != nil {
		return state, err
	}
	for rows.Next() {
		var f FailedUpload
		if err := rows.Scan(&f.UniqueID, &f.Error, &f.Timestamp); err != nil {
			rows.Close()
			return state, err
		}
		state.FailedUploads = append(state.FailedUploads, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return state, err
	}

	err = db.QueryRow(`SELECT last_processed_row FROM cursor WHERE id = 1`).Scan(&state.LastProcessedRow)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return state, err
	}

	return state, nil
}

// State returns a copy of the current state
func (s *SQLiteStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// IsCompleted reports whether id finished successfully
func (s *SQLiteStore) IsCompleted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[id]
	return ok
}

// RecordSuccess adds id to the completed set
func (s *SQLiteStore) RecordSuccess(id string) error {
	return s.mutate(func(st *State) {
		if !slices.Contains(st.ProcessedIDs, id) {
			st.ProcessedIDs = append(st.ProcessedIDs, id)
		}
	}, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO processed_ids (unique_id, processed_at) VALUES (?, ?)
			ON CONFLICT(unique_id) DO NOTHING`, id, s.now().UTC())
		return err
	})
}

// RecordFailure appends a failed attempt stamped with the current time
func (s *SQLiteStore) RecordFailure(id, reason string) error {
	ts := timestamp(s.now())
	return s.mutate(func(st *State) {
		st.FailedUploads = append(st.FailedUploads, FailedUpload{UniqueID: id, Error: reason, Timestamp: ts})
	}, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO failed_uploads (unique_id, error, timestamp) VALUES (?, ?, ?)`,
			id, reason, ts)
		return err
	})
}

// AdvanceCursor sets the resume cursor. Moving backwards is allowed.
func (s *SQLiteStore) AdvanceCursor(position int) error {
	if position < 0 {
		return ErrNegativeCursor
	}
	return s.mutate(func(st *State) {
		st.LastProcessedRow = position
	}, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO cursor (id, last_processed_row) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET last_processed_row = excluded.last_processed_row`, position)
		return err
	})
}

// ResetFailures clears failures and makes every failed id eligible again
func (s *SQLiteStore) ResetFailures() ([]string, error) {
	var ids []string
	err := s.mutate(func(st *State) {
		ids = distinctFailedIDs(st.FailedUploads)
		st.ProcessedIDs = slices.DeleteFunc(st.ProcessedIDs, func(id string) bool {
			return slices.Contains(ids, id)
		})
		st.FailedUploads = []FailedUpload{}
	}, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM processed_ids WHERE unique_id IN (SELECT unique_id FROM failed_uploads)`); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM failed_uploads`)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Reset discards all progress
func (s *SQLiteStore) Reset() error {
	return s.mutate(func(st *State) {
		*st = NewState()
	}, func(tx *sql.Tx) error {
		for _, table := range []string{"processed_ids", "failed_uploads", "cursor"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return err
			}
		}
		return nil
	})
}

// mutate applies fn to a copy of the state, runs write in a transaction and
// makes the copy current only after the commit
func (s *SQLiteStore) mutate(fn func(*State), write func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("database store is closed")
	}

	next := s.state.clone()
	fn(&next)

	if err := s.withTx(write); err != nil {
		return err
	}
	s.commit(next)
	return nil
}

func (s *SQLiteStore) commit(state State) {
	s.state = state
	s.completed = make(map[string]struct{}, len(state.ProcessedIDs))
	for _, id := range state.ProcessedIDs {
		s.completed[id] = struct{}{}
	}
}

// withTx runs fn in a transaction with retry on busy
func (s *SQLiteStore) withTx(fn func(*sql.Tx) error) error {
	return s.retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback() // This will be ignored if Commit() succeeds

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isSQLiteBusyError(err) {
			return err
		}
		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}
	return err
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection and releases the lock
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}
