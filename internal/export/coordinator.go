package export

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/voice2action/voice2action/internal/storage"
	"github.com/voice2action/voice2action/internal/types"
)

// Known export target names.
const (
	TargetDocument     = "document"
	TargetSpreadsheet  = "spreadsheet"
	TargetTicketSystem = "ticket-system"
)

// ErrNotReady is returned when export is requested before the job has
// a completed analysis.
var ErrNotReady = errors.New("job has no completed analysis to export")

// Target publishes one job result to one external destination and
// returns a locator (URL or id) for the created artifact. Targets are
// not safe to call twice for the same job; the coordinator tracks
// outcomes per record instead.
type Target interface {
	Name() string
	// RequiresTasks marks targets that only make sense when the
	// analysis extracted at least one task.
	RequiresTasks() bool
	Export(ctx context.Context, job *types.JobRecord) (locator string, err error)
}

// Coordinator fans a completed job out to the requested targets. One
// failing target never aborts its siblings or the request.
type Coordinator struct {
	store   *storage.Store
	timeout time.Duration

	mu      sync.Mutex
	targets map[string]Target
	jobs    map[string]*sync.Mutex
}

// NewCoordinator creates an empty coordinator; targets are registered
// at startup depending on which credentials are configured.
func NewCoordinator(store *storage.Store, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Coordinator{
		store:   store,
		timeout: timeout,
		targets: make(map[string]Target),
		jobs:    make(map[string]*sync.Mutex),
	}
}

// Register makes a target available by its name.
func (c *Coordinator) Register(t Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[t.Name()] = t
}

// Available lists the registered target names.
func (c *Coordinator) Available() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.targets))
	for name := range c.targets {
		names = append(names, name)
	}
	return names
}

func (c *Coordinator) jobLock(jobID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.jobs[jobID]
	if !ok {
		lock = &sync.Mutex{}
		c.jobs[jobID] = lock
	}
	return lock
}

// Export publishes the job to each requested target independently and
// returns the per-target outcomes. A target already recorded as
// successful is reported skipped rather than re-invoked. Outcomes are
// merged into the job record atomically and never shrink it.
func (c *Coordinator) Export(ctx context.Context, jobID string, names []string) (map[string]types.ExportOutcome, error) {
	// One export batch per job at a time, so two concurrent requests
	// cannot both see a target as not-yet-exported and invoke it twice.
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := c.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Analysis == nil ||
		(job.Status != types.StatusCompleted && job.Status != types.StatusExporting) {
		return nil, ErrNotReady
	}

	outcomes := make(map[string]types.ExportOutcome, len(names))
	var (
		outMu sync.Mutex
		wg    sync.WaitGroup
	)

	record := func(name string, outcome types.ExportOutcome) {
		outMu.Lock()
		outcomes[name] = outcome
		outMu.Unlock()
	}

	for _, name := range names {
		prior, exported := job.Exports[name]
		if exported && prior.Status == types.ExportSuccess {
			record(name, types.ExportOutcome{
				Status:  types.ExportSkipped,
				Locator: prior.Locator,
				Reason:  "already exported",
			})
			continue
		}

		c.mu.Lock()
		target, known := c.targets[name]
		c.mu.Unlock()
		if !known {
			record(name, types.ExportOutcome{
				Status: types.ExportFailed,
				Reason: "unknown export target",
			})
			continue
		}

		if target.RequiresTasks() && len(job.Analysis.Tasks) == 0 {
			record(name, types.ExportOutcome{
				Status: types.ExportSkipped,
				Reason: "no tasks",
			})
			continue
		}

		wg.Add(1)
		go func(name string, target Target) {
			defer wg.Done()
			record(name, c.invoke(ctx, target, job))
		}(name, target)
	}
	wg.Wait()

	if _, err := c.store.Update(jobID, func(j *types.JobRecord) error {
		if j.Exports == nil {
			j.Exports = make(map[string]types.ExportOutcome, len(outcomes))
		}
		for name, outcome := range outcomes {
			// A recorded success is final; never downgrade it.
			if existing, ok := j.Exports[name]; ok && existing.Status == types.ExportSuccess {
				continue
			}
			j.Exports[name] = outcome
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return outcomes, nil
}

func (c *Coordinator) invoke(ctx context.Context, target Target, job *types.JobRecord) types.ExportOutcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	locator, err := target.Export(ctx, job)
	if err != nil {
		log.Printf("Job %s: export to %s failed: %v", job.ID, target.Name(), err)
		return types.ExportOutcome{Status: types.ExportFailed, Reason: err.Error()}
	}

	log.Printf("Job %s: exported to %s: %s", job.ID, target.Name(), locator)
	return types.ExportOutcome{Status: types.ExportSuccess, Locator: locator}
}
