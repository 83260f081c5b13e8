package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voice2action/voice2action/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Create("j1", "meeting.wav", types.AnalysisMeeting, "/tmp/j1.wav")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Status != types.StatusQueued || rec.Progress != 0 {
		t.Fatalf("new record = %s/%d, want queued/0", rec.Status, rec.Progress)
	}

	got, err := store.Get("j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Filename != "meeting.wav" || got.AnalysisType != types.AnalysisMeeting {
		t.Fatalf("got = %+v", got)
	}
}

func TestCreateDuplicate(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Create("j1", "a.wav", types.AnalysisMeeting, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create("j1", "b.wav", types.AnalysisMeeting, ""); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestGetUnknown(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdatePersistsAndSurvivesCacheEviction(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("j1", "meeting.wav", types.AnalysisMeeting, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Now().UTC()
	_, err := store.Update("j1", func(j *types.JobRecord) error {
		j.Status = types.StatusCompleted
		j.Progress = 100
		j.Transcript = "we discussed the quarterly roadmap in detail"
		j.TranscriptChars = len(j.Transcript)
		j.Analysis = &types.Analysis{
			Summary: "Roadmap discussion.",
			Tasks: []types.Task{
				{Description: "Draft roadmap doc", Deadline: "2026-09-15", Assignee: "Kim", Priority: types.PriorityHigh},
			},
			KeyPoints: []string{"Q4 scope is frozen"},
			Decisions: []string{"hire one more engineer"},
		}
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Terminal records are evicted from the cache; this read comes
	// from the durable layer.
	got, err := store.Get("j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.StatusCompleted || got.Progress != 100 {
		t.Fatalf("got = %s/%d", got.Status, got.Progress)
	}
	if got.Analysis == nil || len(got.Analysis.Tasks) != 1 {
		t.Fatalf("analysis not round-tripped: %+v", got.Analysis)
	}
	if got.Analysis.Tasks[0].Assignee != "Kim" {
		t.Fatalf("task = %+v", got.Analysis.Tasks[0])
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not persisted")
	}
}

func TestUpdateUnknown(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Update("missing", func(j *types.JobRecord) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateIsAtomicUnderConcurrency(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("j1", "meeting.wav", types.AnalysisMeeting, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update("j1", func(j *types.JobRecord) error {
				j.Progress++
				return nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := store.Get("j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Progress != writers {
		t.Fatalf("progress = %d, want %d (lost update)", got.Progress, writers)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("j1", "meeting.wav", types.AnalysisMeeting, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	snap, err := store.Get("j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	snap.Status = "corrupted"
	snap.Filename = "changed"

	got, _ := store.Get("j1")
	if got.Status != types.StatusQueued || got.Filename != "meeting.wav" {
		t.Fatal("mutating a snapshot leaked into the store")
	}
}

func TestListOrderAndPagination(t *testing.T) {
	store := newTestStore(t)

	for i, id := range []string{"j1", "j2", "j3"} {
		if _, err := store.Create(id, id+".wav", types.AnalysisMeeting, ""); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
		// Distinct created_at values so the ordering is deterministic.
		created := time.Now().UTC().Add(time.Duration(i) * time.Second)
		if _, err := store.db.db.Exec(`UPDATE jobs SET created_at = ? WHERE id = ?`, created, id); err != nil {
			t.Fatalf("backdate %s: %v", id, err)
		}
	}

	all, err := store.List(10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != "j3" || all[2].ID != "j1" {
		t.Fatalf("list order = %+v, want most recent first", all)
	}

	page, err := store.List(1, 1)
	if err != nil {
		t.Fatalf("List page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "j2" {
		t.Fatalf("page = %+v, want [j2]", page)
	}
}

func TestSearchSnippets(t *testing.T) {
	store := newTestStore(t)

	long := strings.Repeat("budget planning discussion ", 20)
	for id, transcript := range map[string]string{
		"j1": "short note about the budget",
		"j2": long,
		"j3": "completely unrelated topic",
	} {
		if _, err := store.Create(id, id+".wav", types.AnalysisMeeting, ""); err != nil {
			t.Fatalf("Create: %v", err)
		}
		tr := transcript
		if _, err := store.Update(id, func(j *types.JobRecord) error {
			j.Transcript = tr
			j.TranscriptChars = len(tr)
			return nil
		}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	hits, err := store.Search("budget", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	for _, hit := range hits {
		if hit.ID == "j2" {
			if len(hit.Snippet) != snippetLimit+3 || !strings.HasSuffix(hit.Snippet, "...") {
				t.Fatalf("long snippet not truncated: %d chars", len(hit.Snippet))
			}
		}
		if hit.ID == "j1" && strings.HasSuffix(hit.Snippet, "...") {
			t.Fatal("short snippet should not carry a truncation marker")
		}
	}
}

func TestDeleteCascades(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("j1", "meeting.wav", types.AnalysisMeeting, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Update("j1", func(j *types.JobRecord) error {
		j.Transcript = "some searchable transcript text"
		j.Analysis = &types.Analysis{
			Summary: "s",
			Tasks:   []types.Task{{Description: "d", Deadline: "unspecified", Assignee: "unspecified", Priority: types.PriorityMedium}},
		}
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := store.Delete("j1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := store.Get("j1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	if hits, _ := store.Search("searchable", 10); len(hits) != 0 {
		t.Fatalf("deleted job still searchable: %+v", hits)
	}
	if all, _ := store.List(10, 0); len(all) != 0 {
		t.Fatalf("deleted job still listed: %+v", all)
	}

	var taskRows int
	if err := store.db.db.QueryRow(`SELECT COUNT(*) FROM extracted_tasks WHERE job_id = 'j1'`).Scan(&taskRows); err != nil {
		t.Fatalf("count task rows: %v", err)
	}
	if taskRows != 0 {
		t.Fatalf("task rows not cascaded: %d", taskRows)
	}

	if err := store.Delete("j1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"j1", "j2"} {
		if _, err := store.Create(id, id+".wav", types.AnalysisMeeting, ""); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := store.Update("j1", func(j *types.JobRecord) error {
		j.Status = types.StatusCompleted
		j.Progress = 100
		j.Transcript = "ten chars!"
		j.TranscriptChars = 10
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalJobs != 2 {
		t.Fatalf("total = %d, want 2", stats.TotalJobs)
	}
	if stats.ByStatus[types.StatusCompleted] != 1 || stats.ByStatus[types.StatusQueued] != 1 {
		t.Fatalf("by_status = %+v", stats.ByStatus)
	}
	if stats.AvgTranscriptLength != 10 {
		t.Fatalf("avg length = %f, want 10", stats.AvgTranscriptLength)
	}

	var histogramTotal int
	for _, count := range stats.Last7Days {
		histogramTotal += count
	}
	if histogramTotal != 2 {
		t.Fatalf("7-day histogram = %+v, want 2 entries total", stats.Last7Days)
	}
}
