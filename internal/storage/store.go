package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/voice2action/voice2action/internal/types"
)

var (
	// ErrNotFound is returned for ids unknown to both cache and database.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyExists is returned when creating a job with a taken id.
	ErrAlreadyExists = errors.New("job already exists")
)

// Store is the single shared resource between pipeline units and API
// handlers. The SQLite database is the source of truth; an in-memory
// cache mirrors in-flight jobs for low-latency polling. Every mutation
// goes through Update, which holds a per-id critical section and
// flushes to the database before returning, so readers of either layer
// always see a consistent snapshot of a real transition.
type Store struct {
	db *DB

	mu    sync.RWMutex
	cache map[string]*types.JobRecord
	locks map[string]*sync.Mutex
}

// NewStore wraps the durable database with the transient cache.
func NewStore(db *DB) *Store {
	return &Store{
		db:    db,
		cache: make(map[string]*types.JobRecord),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

// Create registers a new queued job and persists it immediately.
func (s *Store) Create(id, filename, analysisType, tempPath string) (*types.JobRecord, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	rec := &types.JobRecord{
		ID:           id,
		Filename:     filename,
		Status:       types.StatusQueued,
		Progress:     0,
		AnalysisType: analysisType,
		TempPath:     tempPath,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.db.InsertJob(rec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[id] = rec.Clone()
	s.mu.Unlock()

	return rec.Clone(), nil
}

// Get returns a snapshot of a job, preferring the in-flight cache.
func (s *Store) Get(id string) (*types.JobRecord, error) {
	s.mu.RLock()
	cached, ok := s.cache[id]
	if ok {
		snapshot := cached.Clone()
		s.mu.RUnlock()
		return snapshot, nil
	}
	s.mu.RUnlock()

	return s.db.GetJob(id)
}

// Update applies mutate to the record under the per-id critical
// section and flushes the result to the database before returning.
// Terminal records are evicted from the cache; the database serves
// them from then on.
func (s *Store) Update(id string, mutate func(*types.JobRecord) error) (*types.JobRecord, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.cache[id]
	var rec *types.JobRecord
	if ok {
		rec = current.Clone()
	}
	s.mu.RUnlock()

	if rec == nil {
		var err error
		rec, err = s.db.GetJob(id)
		if err != nil {
			return nil, err
		}
	}

	if err := mutate(rec); err != nil {
		return nil, err
	}

	if err := s.db.SaveJob(rec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if types.IsTerminal(rec.Status) {
		delete(s.cache, id)
	} else {
		s.cache[id] = rec.Clone()
	}
	s.mu.Unlock()

	return rec.Clone(), nil
}

// List returns paginated job summaries, most recent first.
func (s *Store) List(limit, offset int) ([]types.JobSummary, error) {
	return s.db.ListJobs(limit, offset)
}

// Search finds jobs by transcript substring.
func (s *Store) Search(query string, limit int) ([]types.SearchHit, error) {
	return s.db.SearchTranscripts(query, limit)
}

// Stats returns aggregate job statistics.
func (s *Store) Stats() (*types.Stats, error) {
	return s.db.Stats()
}

// Delete removes a job from both layers, cascading to task rows.
func (s *Store) Delete(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	err := s.db.DeleteJob(id)

	s.mu.Lock()
	_, cached := s.cache[id]
	delete(s.cache, id)
	delete(s.locks, id)
	s.mu.Unlock()

	if errors.Is(err, ErrNotFound) && cached {
		return nil
	}
	return err
}

// Ping reports database reachability for health checks.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// ActiveCount returns how many jobs are currently in flight.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
