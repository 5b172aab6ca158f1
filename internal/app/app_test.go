package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"drive2youtube/internal/checkpoint"
	"drive2youtube/internal/config"
	"drive2youtube/internal/storage"

	"go.uber.org/zap"
)

type fakeWorkSource struct {
	rows [][]string
	err  error
}

func (f *fakeWorkSource) FetchRows(ctx context.Context, sourceID, rng string) ([][]string, error) {
	return f.rows, f.err
}

type fakeSource struct {
	downloads []string
}

func (f *fakeSource) Locate(reference string) (string, error) {
	if strings.HasPrefix(reference, "bad") {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidReference, reference)
	}
	return "loc-" + reference, nil
}

func (f *fakeSource) Download(ctx context.Context, locator, dst string) error {
	f.downloads = append(f.downloads, locator)
	return os.WriteFile(dst, []byte("video bytes"), 0o644)
}

type fakeDestination struct {
	failures map[string]error
	uploads  []string
	missing  []string
	onUpload func(title string)
}

func (f *fakeDestination) Upload(ctx context.Context, path string, meta storage.Metadata, onProgress storage.ProgressFunc) (string, error) {
	if _, err := os.Stat(path); err != nil {
		f.missing = append(f.missing, meta.Title)
	}
	if f.onUpload != nil {
		f.onUpload(meta.Title)
	}
	onProgress.Report(50)
	if err := f.failures[meta.Title]; err != nil {
		return "", err
	}
	onProgress.Report(100)
	f.uploads = append(f.uploads, meta.Title)
	return "yt-" + meta.Title, nil
}

type harness struct {
	migrator *Migrator
	store    checkpoint.Store
	source   *fakeSource
	dest     *fakeDestination
	work     *fakeWorkSource
	delays   []time.Duration
	tempDir  string
	cfg      *config.Config
}

func row(id string) []string {
	return []string{"ref-" + id, id, "description of " + id, "tag1,tag2", id}
}

var header = []string{"Link", "Title", "Description", "Tags", "ID"}

func newHarness(t *testing.T, rows ...[]string) *harness {
	t.Helper()

	dir := t.TempDir()
	store, err := checkpoint.NewFileStore(filepath.Join(dir, "progress.json"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.WorkList.SourceID = "sheet"
	cfg.Migration.TempDir = filepath.Join(dir, "scratch")
	cfg.Migration.ShowProgress = false

	h := &harness{
		store:   store,
		source:  &fakeSource{},
		dest:    &fakeDestination{failures: map[string]error{}},
		work:    &fakeWorkSource{rows: append([][]string{header}, rows...)},
		tempDir: cfg.Migration.TempDir,
		cfg:     cfg,
	}

	h.migrator = NewWithCollaborators(cfg, Collaborators{
		WorkSource:  h.work,
		Source:      h.source,
		Destination: h.dest,
		Store:       store,
	}, zap.NewNop())
	h.migrator.progressOut = io.Discard
	h.migrator.sleep = func(ctx context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return ctx.Err()
	}
	return h
}

func (h *harness) resetCalls() {
	h.dest.uploads = nil
	h.source.downloads = nil
	h.delays = nil
}

func failureIDs(state checkpoint.State) []string {
	ids := []string{}
	for _, f := range state.FailedUploads {
		ids = append(ids, f.UniqueID)
	}
	return ids
}

func TestRunSuccessThenFailure(t *testing.T) {
	h := newHarness(t, row("v1"), row("v2"))
	h.dest.failures["v2"] = errors.New("quota exceeded")

	if err := h.migrator.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	state := h.store.State()
	if !reflect.DeepEqual(state.ProcessedIDs, []string{"v1"}) {
		t.Errorf("expected completed [v1], got %v", state.ProcessedIDs)
	}
	if state.LastProcessedRow != 2 {
		t.Errorf("expected cursor 2, got %d", state.LastProcessedRow)
	}
	if len(state.FailedUploads) != 1 || state.FailedUploads[0].UniqueID != "v2" || state.FailedUploads[0].Error != "quota exceeded" {
		t.Errorf("unexpected failures %+v", state.FailedUploads)
	}
	if len(h.delays) != 2 {
		t.Errorf("expected a delay after each attempt, got %d", len(h.delays))
	}

	// the failed id stays eligible on the next plain pass
	h.resetCalls()
	delete(h.dest.failures, "v2")
	if err := h.migrator.Run(context.Background()); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	if !reflect.DeepEqual(h.dest.uploads, []string{"v2"}) {
		t.Errorf("expected only v2 uploaded, got %v", h.dest.uploads)
	}
	state = h.store.State()
	if !reflect.DeepEqual(state.ProcessedIDs, []string{"v1", "v2"}) {
		t.Errorf("expected completed [v1 v2], got %v", state.ProcessedIDs)
	}
	if state.LastProcessedRow != 3 {
		t.Errorf("expected cursor 3, got %d", state.LastProcessedRow)
	}
	if len(state.FailedUploads) != 1 {
		t.Errorf("failure history should be kept, got %+v", state.FailedUploads)
	}
}

func TestRunIdempotentResume(t *testing.T) {
	h := newHarness(t, row("v1"), row("v2"), row("v3"))

	if err := h.migrator.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(h.dest.uploads) != 3 {
		t.Fatalf("expected 3 uploads, got %v", h.dest.uploads)
	}

	h.resetCalls()
	if err := h.migrator.Run(context.Background()); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if len(h.dest.uploads) != 0 || len(h.source.downloads) != 0 {
		t.Errorf("second pass transferred again: uploads=%v downloads=%v", h.dest.uploads, h.source.downloads)
	}
	if len(h.delays) != 0 {
		t.Errorf("expected no delay on skips, got %v", h.delays)
	}
}

func TestRunSkipsInvalidAndDuplicateRows(t *testing.T) {
	h := newHarness(t,
		[]string{"ref", "short"},
		row("v1"),
		[]string{"", "", "", "", ""},
		row("v1"),
		[]string{"ref", "T", "", "", "v9"},
	)

	if err := h.migrator.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !reflect.DeepEqual(h.dest.uploads, []string{"v1"}) {
		t.Errorf("expected single upload of v1, got %v", h.dest.uploads)
	}
	if len(h.delays) != 1 {
		t.Errorf("expected one delay, got %d", len(h.delays))
	}
	state := h.store.State()
	if len(state.FailedUploads) != 0 {
		t.Errorf("invalid rows must not be recorded, got %+v", state.FailedUploads)
	}
	if state.LastProcessedRow != 3 {
		t.Errorf("expected cursor 3, got %d", state.LastProcessedRow)
	}
	if h.delays[0] != 2*time.Second {
		t.Errorf("expected default delay, got %v", h.delays[0])
	}
}

func TestRunHeaderIsNeverProcessed(t *testing.T) {
	h := newHarness(t)
	h.work.rows = [][]string{row("h0"), row("v1")}

	if err := h.migrator.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !reflect.DeepEqual(h.dest.uploads, []string{"v1"}) {
		t.Errorf("expected header row skipped, got %v", h.dest.uploads)
	}
}

func TestRunResumesFromCursor(t *testing.T) {
	h := newHarness(t, row("v1"), row("v2"), row("v3"))
	if err := h.store.AdvanceCursor(3); err != nil {
		t.Fatal(err)
	}

	if err := h.migrator.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !reflect.DeepEqual(h.dest.uploads, []string{"v3"}) {
		t.Errorf("expected rows before the cursor to be skipped, got %v", h.dest.uploads)
	}
}

func TestRunFailureDoesNotAdvanceCursor(t *testing.T) {
	h := newHarness(t, row("v1"))
	h.dest.failures["v1"] = errors.New("boom")

	if err := h.migrator.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := h.store.State().LastProcessedRow; got != 0 {
		t.Errorf("expected cursor untouched, got %d", got)
	}
	if h.store.IsCompleted("v1") {
		t.Error("failed item marked completed")
	}
}

func TestRunCleansScratchOnUploadFailure(t *testing.T) {
	h := newHarness(t, row("v1"), row("v2"))
	h.dest.failures["v1"] = errors.New("upload rejected")

	if err := h.migrator.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(h.dest.missing) != 0 {
		t.Errorf("scratch file missing during upload for %v", h.dest.missing)
	}
	entries, err := os.ReadDir(h.tempDir)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch files left behind: %v", entries)
	}
	state := h.store.State()
	if len(state.FailedUploads) != 1 || state.FailedUploads[0].Error != "upload rejected" {
		t.Errorf("expected the upload error to be surfaced, got %+v", state.FailedUploads)
	}
}

func TestRunInvalidReference(t *testing.T) {
	h := newHarness(t, []string{"bad-link", "T", "D", "", "v1"})

	if err := h.migrator.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(h.source.downloads) != 0 {
		t.Errorf("download attempted for unresolvable reference")
	}
	state := h.store.State()
	if len(state.FailedUploads) != 1 || !strings.Contains(state.FailedUploads[0].Error, "invalid source reference") {
		t.Errorf("expected invalid reference failure, got %+v", state.FailedUploads)
	}
	if len(h.delays) != 1 {
		t.Errorf("a failed attempt still waits, got %d delays", len(h.delays))
	}
}

func TestRunFatalListError(t *testing.T) {
	h := newHarness(t)
	h.work.err = errors.New("sheets unavailable")

	err := h.migrator.Run(context.Background())
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("expected ErrFatal, got %v", err)
	}
	if !strings.Contains(err.Error(), "sheets unavailable") {
		t.Errorf("cause lost: %v", err)
	}
	if state := h.store.State(); len(state.ProcessedIDs) != 0 || len(state.FailedUploads) != 0 {
		t.Errorf("state changed on fatal error: %+v", state)
	}
}

func TestRunEmptyWorkList(t *testing.T) {
	h := newHarness(t)
	h.work.rows = nil

	if err := h.migrator.Run(context.Background()); err != nil {
		t.Errorf("expected nil error for empty work list, got %v", err)
	}
}

func TestRunDryRun(t *testing.T) {
	h := newHarness(t, row("v1"), row("v2"))
	h.cfg.Migration.DryRun = true

	if err := h.migrator.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(h.dest.uploads) != 0 || len(h.source.downloads) != 0 {
		t.Errorf("dry run transferred: %v %v", h.dest.uploads, h.source.downloads)
	}
	if state := h.store.State(); len(state.ProcessedIDs) != 0 || state.LastProcessedRow != 0 {
		t.Errorf("dry run changed state: %+v", state)
	}
}

func TestRunInterrupted(t *testing.T) {
	h := newHarness(t, row("v1"), row("v2"))
	ctx, cancel := context.WithCancel(context.Background())
	h.migrator.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := h.migrator.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !reflect.DeepEqual(h.dest.uploads, []string{"v1"}) {
		t.Errorf("expected only the in-flight item to finish, got %v", h.dest.uploads)
	}
	if !h.store.IsCompleted("v1") {
		t.Error("in-flight item not recorded before stopping")
	}
}

func TestRunInterruptedMidTransferIsNotRecorded(t *testing.T) {
	h := newHarness(t, row("v1"))
	ctx, cancel := context.WithCancel(context.Background())
	h.dest.onUpload = func(string) { cancel() }
	h.dest.failures["v1"] = context.Canceled

	if err := h.migrator.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if state := h.store.State(); len(state.FailedUploads) != 0 {
		t.Errorf("interrupted item recorded as failure: %+v", state.FailedUploads)
	}
}

func TestRetryFailed(t *testing.T) {
	h := newHarness(t, row("v1"), row("v2"), row("v3"))
	h.dest.failures["v1"] = errors.New("quota exceeded")

	if err := h.migrator.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := h.store.State().LastProcessedRow; got != 4 {
		t.Fatalf("expected cursor past v3, got %d", got)
	}

	h.resetCalls()
	delete(h.dest.failures, "v1")
	if err := h.migrator.RetryFailed(context.Background()); err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}

	if !reflect.DeepEqual(h.dest.uploads, []string{"v1"}) {
		t.Errorf("expected exactly the failed id retried, got %v", h.dest.uploads)
	}
	state := h.store.State()
	if len(state.FailedUploads) != 0 {
		t.Errorf("expected failures cleared, got %+v", state.FailedUploads)
	}
	for _, id := range []string{"v1", "v2", "v3"} {
		if !h.store.IsCompleted(id) {
			t.Errorf("%s not completed", id)
		}
	}
}

func TestRetryFailedClearsBeforePass(t *testing.T) {
	h := newHarness(t, row("v1"), row("v2"))
	h.dest.failures["v2"] = errors.New("quota exceeded")
	if err := h.migrator.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// the retried item fails again: only the new attempt is in the history
	h.resetCalls()
	if err := h.migrator.RetryFailed(context.Background()); err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	state := h.store.State()
	if got := failureIDs(state); !reflect.DeepEqual(got, []string{"v2"}) {
		t.Errorf("expected one fresh failure for v2, got %v", got)
	}
	if !reflect.DeepEqual(h.dest.uploads, []string(nil)) {
		t.Errorf("completed ids must not be uploaded again, got %v", h.dest.uploads)
	}
}

func TestExecuteResetProgress(t *testing.T) {
	h := newHarness(t, row("v1"))
	if err := h.store.RecordSuccess("v1"); err != nil {
		t.Fatal(err)
	}
	if err := h.store.AdvanceCursor(2); err != nil {
		t.Fatal(err)
	}
	h.cfg.Migration.ResetProgress = true

	if err := h.migrator.Execute(context.Background()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !reflect.DeepEqual(h.dest.uploads, []string{"v1"}) {
		t.Errorf("expected v1 migrated again after reset, got %v", h.dest.uploads)
	}
}

func TestExecuteRetryMode(t *testing.T) {
	h := newHarness(t, row("v1"))
	if err := h.store.RecordFailure("v1", "earlier"); err != nil {
		t.Fatal(err)
	}
	h.cfg.Migration.RetryFailed = true

	if err := h.migrator.Execute(context.Background()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if state := h.store.State(); len(state.FailedUploads) != 0 || !h.store.IsCompleted("v1") {
		t.Errorf("unexpected state after retry: %+v", state)
	}
}

func TestCloseStopsMetricsServer(t *testing.T) {
	h := newHarness(t, row("v1"))
	h.cfg.Migration.MetricsAddr = "127.0.0.1:0"

	if err := h.migrator.Execute(context.Background()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if err := h.migrator.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- h.migrator.Metrics().StartServer("127.0.0.1:0") }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server still accepted a start after Close")
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("zero delay: %v", err)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("short delay: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
