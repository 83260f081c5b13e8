package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/voice2action/voice2action/internal/stage"
	"github.com/voice2action/voice2action/internal/storage"
	"github.com/voice2action/voice2action/internal/types"
)

// minTranscriptChars is the shortest transcript accepted as real speech.
// Anything below it fails the transcription stage permanently.
const minTranscriptChars = 10

// Progress checkpoints per stage boundary.
const (
	progressTranscribing = 10
	progressAnalyzing    = 50
	progressExporting    = 75
	progressDone         = 100
)

// Exporter publishes a finished job to a set of named targets. Wired to
// the export coordinator; declared here so tests can stub it.
type Exporter interface {
	Export(ctx context.Context, jobID string, targets []string) (map[string]types.ExportOutcome, error)
}

// Runner drives each job through transcription and analysis as one
// detached unit of work. Jobs run concurrently, bounded by a semaphore;
// at most one unit per job id is ever active.
type Runner struct {
	store       *storage.Store
	transcriber stage.Transcriber
	analyzer    stage.Analyzer

	exporter    Exporter
	autoExports []string

	sem chan struct{}

	mu     sync.Mutex
	active map[string]struct{}
}

// NewRunner creates a runner processing at most maxConcurrent jobs at
// once. exporter may be nil when no automatic export is configured.
func NewRunner(store *storage.Store, transcriber stage.Transcriber, analyzer stage.Analyzer,
	exporter Exporter, autoExports []string, maxConcurrent int) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Runner{
		store:       store,
		transcriber: transcriber,
		analyzer:    analyzer,
		exporter:    exporter,
		autoExports: autoExports,
		sem:         make(chan struct{}, maxConcurrent),
		active:      make(map[string]struct{}),
	}
}

// Launch starts the pipeline for a job in the background. A second
// launch while the first is active is a no-op; the caller observes the
// in-progress state through the store instead of starting a duplicate
// run.
func (r *Runner) Launch(jobID string) bool {
	r.mu.Lock()
	if _, running := r.active[jobID]; running {
		r.mu.Unlock()
		log.Printf("Job %s already running, ignoring duplicate launch", jobID)
		return false
	}
	r.active[jobID] = struct{}{}
	r.mu.Unlock()

	go r.run(jobID)
	return true
}

// IsActive reports whether a pipeline unit currently owns the job.
func (r *Runner) IsActive(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[jobID]
	return ok
}

func (r *Runner) run(jobID string) {
	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	defer func() {
		r.mu.Lock()
		delete(r.active, jobID)
		r.mu.Unlock()
	}()

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("PANIC processing job %s: %v\n%s", jobID, rec, string(debug.Stack()))
			r.fail(jobID, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	r.process(jobID)
}

func (r *Runner) process(jobID string) {
	ctx := context.Background()

	rec, err := r.store.Get(jobID)
	if err != nil {
		log.Printf("Job %s: cannot load record: %v", jobID, err)
		return
	}
	tempPath := rec.TempPath
	defer r.removeTempFile(jobID, tempPath)

	// Stage 1: transcription
	if _, err := r.store.Update(jobID, transition(types.StatusTranscribing, progressTranscribing)); err != nil {
		log.Printf("Job %s: transition to transcribing failed: %v", jobID, err)
		return
	}

	log.Printf("Job %s: starting transcription of %s", jobID, rec.Filename)
	transcript, err := r.transcriber.Transcribe(ctx, tempPath, rec.Filename)
	if err != nil {
		log.Printf("Job %s: transcription failed: %v", jobID, err)
		r.fail(jobID, "transcription failed: "+err.Error())
		return
	}

	transcript = strings.TrimSpace(transcript)
	if len(transcript) < minTranscriptChars {
		log.Printf("Job %s: transcript too short (%d chars)", jobID, len(transcript))
		r.fail(jobID, fmt.Sprintf(
			"transcription produced no usable speech (%d chars, minimum %d)",
			len(transcript), minTranscriptChars))
		return
	}

	if _, err := r.store.Update(jobID, func(j *types.JobRecord) error {
		j.Status = types.StatusAnalyzing
		j.Progress = progressAnalyzing
		j.Transcript = transcript
		j.TranscriptChars = len(transcript)
		return nil
	}); err != nil {
		log.Printf("Job %s: transition to analyzing failed: %v", jobID, err)
		return
	}
	log.Printf("Job %s: transcription completed (%d chars)", jobID, len(transcript))

	// Stage 2: analysis
	analysis, err := r.analyzer.Analyze(ctx, transcript, rec.AnalysisType)
	if err != nil {
		log.Printf("Job %s: analysis failed: %v", jobID, err)
		r.fail(jobID, "analysis failed: "+err.Error())
		return
	}

	autoExport := r.exporter != nil && len(r.autoExports) > 0

	if _, err := r.store.Update(jobID, func(j *types.JobRecord) error {
		j.Analysis = analysis
		if autoExport {
			j.Status = types.StatusExporting
			j.Progress = progressExporting
		} else {
			j.Status = types.StatusCompleted
			j.Progress = progressDone
			now := time.Now().UTC()
			j.CompletedAt = &now
		}
		return nil
	}); err != nil {
		log.Printf("Job %s: saving analysis failed: %v", jobID, err)
		return
	}
	log.Printf("Job %s: analysis completed (%d tasks)", jobID, len(analysis.Tasks))

	if !autoExport {
		log.Printf("Job %s: pipeline completed", jobID)
		return
	}

	// Stage 3: automatic export. Target failures stay isolated in the
	// outcome map and never fail the job.
	if _, err := r.exporter.Export(ctx, jobID, r.autoExports); err != nil {
		log.Printf("Job %s: automatic export skipped: %v", jobID, err)
	}

	if _, err := r.store.Update(jobID, func(j *types.JobRecord) error {
		j.Status = types.StatusCompleted
		j.Progress = progressDone
		now := time.Now().UTC()
		j.CompletedAt = &now
		return nil
	}); err != nil {
		log.Printf("Job %s: final transition failed: %v", jobID, err)
		return
	}
	log.Printf("Job %s: pipeline completed with automatic export", jobID)
}

// fail marks the job terminally failed. Progress keeps its last
// successful value; the record is flushed to the durable store before
// the unit exits.
func (r *Runner) fail(jobID, message string) {
	if _, err := r.store.Update(jobID, func(j *types.JobRecord) error {
		j.Status = types.StatusFailed
		j.Error = message
		now := time.Now().UTC()
		j.CompletedAt = &now
		return nil
	}); err != nil {
		log.Printf("Job %s: recording failure state failed: %v", jobID, err)
	}
}

// removeTempFile releases the uploaded audio exactly once. Failures are
// logged, never surfaced.
func (r *Runner) removeTempFile(jobID, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("Job %s: failed to remove temp file %s: %v", jobID, path, err)
	}
}

func transition(status string, progress int) func(*types.JobRecord) error {
	return func(j *types.JobRecord) error {
		j.Status = status
		j.Progress = progress
		return nil
	}
}
