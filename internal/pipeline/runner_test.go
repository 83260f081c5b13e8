package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voice2action/voice2action/internal/stage"
	"github.com/voice2action/voice2action/internal/storage"
	"github.com/voice2action/voice2action/internal/types"
)

type fakeTranscriber struct {
	text  string
	err   error
	calls atomic.Int32
	block chan struct{}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path, filename string) (string, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.text, f.err
}

type fakeAnalyzer struct {
	analysis *types.Analysis
	err      error
	calls    atomic.Int32
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, transcript, analysisType string) (*types.Analysis, error) {
	f.calls.Add(1)
	return f.analysis, f.err
}

type fakeExporter struct {
	outcomes map[string]types.ExportOutcome
	calls    atomic.Int32
}

func (f *fakeExporter) Export(ctx context.Context, jobID string, targets []string) (map[string]types.ExportOutcome, error) {
	f.calls.Add(1)
	return f.outcomes, nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewStore(db)
}

func createJob(t *testing.T, store *storage.Store, id string) string {
	t.Helper()
	tempPath := filepath.Join(t.TempDir(), id+".wav")
	if err := os.WriteFile(tempPath, []byte("RIFFfake"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(id, "meeting.wav", types.AnalysisMeeting, tempPath); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tempPath
}

func waitTerminal(t *testing.T, store *storage.Store, id string) *types.JobRecord {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.Get(id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if types.IsTerminal(rec.Status) {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func sampleAnalysis() *types.Analysis {
	return &types.Analysis{
		Summary: "Planning meeting.",
		Tasks: []types.Task{
			{Description: "Send minutes", Deadline: types.Unspecified, Assignee: "Ana", Priority: types.PriorityMedium},
		},
		KeyPoints: []string{"deadline moved"},
		Decisions: []string{"weekly cadence"},
	}
}

func TestPipelineSuccess(t *testing.T) {
	store := newTestStore(t)
	tempPath := createJob(t, store, "j1")

	transcriber := &fakeTranscriber{text: "we agreed to move the deadline to next friday"}
	analyzer := &fakeAnalyzer{analysis: sampleAnalysis()}
	runner := NewRunner(store, transcriber, analyzer, nil, nil, 2)

	if !runner.Launch("j1") {
		t.Fatal("Launch returned false for idle job")
	}
	rec := waitTerminal(t, store, "j1")

	if rec.Status != types.StatusCompleted {
		t.Fatalf("status = %s, error = %q", rec.Status, rec.Error)
	}
	if rec.Progress != 100 {
		t.Fatalf("progress = %d, want 100", rec.Progress)
	}
	if rec.Transcript == "" || rec.TranscriptChars == 0 {
		t.Fatal("transcript not stored")
	}
	if rec.Analysis == nil || len(rec.Analysis.Tasks) != 1 {
		t.Fatalf("analysis = %+v", rec.Analysis)
	}
	if rec.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Fatal("temp file not removed after completion")
	}
}

func TestPipelineProgressNeverRegresses(t *testing.T) {
	store := newTestStore(t)
	createJob(t, store, "j1")

	transcriber := &fakeTranscriber{text: "a perfectly reasonable transcript for analysis"}
	analyzer := &fakeAnalyzer{analysis: sampleAnalysis()}
	runner := NewRunner(store, transcriber, analyzer, nil, nil, 1)
	runner.Launch("j1")

	last := -1
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.Get("j1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.Progress < last {
			t.Fatalf("progress regressed: %d -> %d", last, rec.Progress)
		}
		last = rec.Progress
		if types.IsTerminal(rec.Status) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("job never finished")
}

func TestPipelineShortTranscriptFails(t *testing.T) {
	store := newTestStore(t)
	tempPath := createJob(t, store, "j1")

	transcriber := &fakeTranscriber{text: "uh."}
	analyzer := &fakeAnalyzer{analysis: sampleAnalysis()}
	runner := NewRunner(store, transcriber, analyzer, nil, nil, 1)
	runner.Launch("j1")

	rec := waitTerminal(t, store, "j1")
	if rec.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if rec.Error == "" {
		t.Fatal("failed job must carry a descriptive error")
	}
	if rec.Analysis != nil {
		t.Fatal("short transcript must not reach analysis")
	}
	if analyzer.calls.Load() != 0 {
		t.Fatal("analyzer invoked for unusable transcript")
	}
	if rec.Progress != progressTranscribing {
		t.Fatalf("progress = %d, want frozen at %d", rec.Progress, progressTranscribing)
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Fatal("temp file not removed after failure")
	}
}

func TestPipelineTranscriptionErrorFails(t *testing.T) {
	store := newTestStore(t)
	createJob(t, store, "j1")

	transcriber := &fakeTranscriber{err: stage.Permanent("audio is corrupt", nil)}
	analyzer := &fakeAnalyzer{analysis: sampleAnalysis()}
	runner := NewRunner(store, transcriber, analyzer, nil, nil, 1)
	runner.Launch("j1")

	rec := waitTerminal(t, store, "j1")
	if rec.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if rec.Progress != progressTranscribing {
		t.Fatalf("progress = %d, want %d", rec.Progress, progressTranscribing)
	}
	if rec.Transcript != "" {
		t.Fatal("failed transcription must not store a transcript")
	}
	if rec.CompletedAt == nil {
		t.Fatal("terminal failure must set completed_at")
	}
}

func TestPipelineAnalysisErrorFails(t *testing.T) {
	store := newTestStore(t)
	createJob(t, store, "j1")

	transcriber := &fakeTranscriber{text: "a long enough transcript for the analyzer"}
	analyzer := &fakeAnalyzer{err: errors.New("model unavailable")}
	runner := NewRunner(store, transcriber, analyzer, nil, nil, 1)
	runner.Launch("j1")

	rec := waitTerminal(t, store, "j1")
	if rec.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if rec.Transcript == "" {
		t.Fatal("transcript from the successful stage must survive the failure")
	}
	if rec.Progress != progressAnalyzing {
		t.Fatalf("progress = %d, want frozen at %d", rec.Progress, progressAnalyzing)
	}
}

func TestPipelineSingleFlight(t *testing.T) {
	store := newTestStore(t)
	createJob(t, store, "j1")

	transcriber := &fakeTranscriber{
		text:  "we agreed to move the deadline to next friday",
		block: make(chan struct{}),
	}
	analyzer := &fakeAnalyzer{analysis: sampleAnalysis()}
	runner := NewRunner(store, transcriber, analyzer, nil, nil, 4)

	if !runner.Launch("j1") {
		t.Fatal("first launch rejected")
	}
	// Give the first unit time to enter the transcriber.
	deadline := time.Now().Add(time.Second)
	for transcriber.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if runner.Launch("j1") {
		t.Fatal("second launch for an active job must be a no-op")
	}
	if !runner.IsActive("j1") {
		t.Fatal("job should be active while blocked in transcription")
	}

	close(transcriber.block)
	waitTerminal(t, store, "j1")

	if transcriber.calls.Load() != 1 {
		t.Fatalf("transcriber calls = %d, want 1", transcriber.calls.Load())
	}
}

func TestPipelineAutoExport(t *testing.T) {
	store := newTestStore(t)
	createJob(t, store, "j1")

	transcriber := &fakeTranscriber{text: "we agreed to move the deadline to next friday"}
	analyzer := &fakeAnalyzer{analysis: sampleAnalysis()}
	exporter := &fakeExporter{outcomes: map[string]types.ExportOutcome{
		"document": {Status: types.ExportSuccess, Locator: "https://docs.example/d1"},
	}}
	runner := NewRunner(store, transcriber, analyzer, exporter, []string{"document"}, 1)
	runner.Launch("j1")

	rec := waitTerminal(t, store, "j1")
	if rec.Status != types.StatusCompleted {
		t.Fatalf("status = %s, error = %q", rec.Status, rec.Error)
	}
	if exporter.calls.Load() != 1 {
		t.Fatalf("exporter calls = %d, want 1", exporter.calls.Load())
	}
}

func TestPipelinePanicIsIsolated(t *testing.T) {
	store := newTestStore(t)
	createJob(t, store, "j1")

	transcriber := &panickyTranscriber{}
	analyzer := &fakeAnalyzer{analysis: sampleAnalysis()}
	runner := NewRunner(store, transcriber, analyzer, nil, nil, 1)
	runner.Launch("j1")

	rec := waitTerminal(t, store, "j1")
	if rec.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if rec.Error == "" {
		t.Fatal("panic must surface as a job error")
	}
	deadline := time.Now().Add(time.Second)
	for runner.IsActive("j1") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if runner.IsActive("j1") {
		t.Fatal("panicked unit must release the job id")
	}
}

type panickyTranscriber struct{}

func (p *panickyTranscriber) Transcribe(ctx context.Context, path, filename string) (string, error) {
	panic("adapter bug")
}
