package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voice2action/voice2action/internal/types"
)

// DB is the durable job store backed by SQLite. It is the source of
// truth across process restarts.
type DB struct {
	db *sql.DB
}

// NewDB opens (and if necessary initializes) the job database.
func NewDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		analysis_type TEXT,
		transcript_text TEXT,
		transcript_chars INTEGER,
		analysis_json TEXT,
		exports_json TEXT,
		error TEXT,
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS extracted_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		description TEXT,
		deadline TEXT,
		assignee TEXT,
		priority TEXT,
		FOREIGN KEY (job_id) REFERENCES jobs (id)
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_job_id ON extracted_tasks(job_id);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	return &DB{db: db}, nil
}

// InsertJob creates the initial row for a new job.
func (d *DB) InsertJob(rec *types.JobRecord) error {
	query := `
	INSERT INTO jobs (id, filename, status, progress, analysis_type, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.Exec(query, rec.ID, rec.Filename, rec.Status, rec.Progress,
		rec.AnalysisType, rec.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert job: %v", err)
	}
	return nil
}

// SaveJob writes the full current state of a job, replacing its
// normalized task rows when an analysis is present. Runs in one
// transaction so readers never observe a half-written record.
func (d *DB) SaveJob(rec *types.JobRecord) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	var analysisJSON, exportsJSON sql.NullString
	if rec.Analysis != nil {
		raw, err := json.Marshal(rec.Analysis)
		if err != nil {
			return fmt.Errorf("failed to marshal analysis: %v", err)
		}
		analysisJSON = sql.NullString{String: string(raw), Valid: true}
	}
	if len(rec.Exports) > 0 {
		raw, err := json.Marshal(rec.Exports)
		if err != nil {
			return fmt.Errorf("failed to marshal exports: %v", err)
		}
		exportsJSON = sql.NullString{String: string(raw), Valid: true}
	}

	var completedAt any
	if rec.CompletedAt != nil {
		completedAt = *rec.CompletedAt
	}

	res, err := tx.Exec(`
	UPDATE jobs SET filename = ?, status = ?, progress = ?, analysis_type = ?,
		transcript_text = ?, transcript_chars = ?, analysis_json = ?,
		exports_json = ?, error = ?, completed_at = ?
	WHERE id = ?`,
		rec.Filename, rec.Status, rec.Progress, rec.AnalysisType,
		rec.Transcript, rec.TranscriptChars, analysisJSON,
		exportsJSON, rec.Error, completedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if rec.Analysis != nil {
		if _, err := tx.Exec(`DELETE FROM extracted_tasks WHERE job_id = ?`, rec.ID); err != nil {
			return fmt.Errorf("failed to clear task rows: %v", err)
		}
		for _, task := range rec.Analysis.Tasks {
			if _, err := tx.Exec(`
			INSERT INTO extracted_tasks (job_id, description, deadline, assignee, priority)
			VALUES (?, ?, ?, ?, ?)`,
				rec.ID, task.Description, task.Deadline, task.Assignee, task.Priority); err != nil {
				return fmt.Errorf("failed to insert task row: %v", err)
			}
		}
	}

	return tx.Commit()
}

// GetJob loads a complete job record by id.
func (d *DB) GetJob(id string) (*types.JobRecord, error) {
	row := d.db.QueryRow(`
	SELECT id, filename, status, progress, analysis_type, transcript_text,
		transcript_chars, analysis_json, exports_json, error, created_at, completed_at
	FROM jobs WHERE id = ?`, id)

	rec, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.JobRecord, error) {
	var (
		rec                       types.JobRecord
		analysisType, transcript  sql.NullString
		analysisJSON, exportsJSON sql.NullString
		errText                   sql.NullString
		transcriptChars           sql.NullInt64
		completedAt               sql.NullTime
	)

	err := row.Scan(&rec.ID, &rec.Filename, &rec.Status, &rec.Progress,
		&analysisType, &transcript, &transcriptChars, &analysisJSON,
		&exportsJSON, &errText, &rec.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %v", err)
	}

	rec.AnalysisType = analysisType.String
	rec.Transcript = transcript.String
	rec.TranscriptChars = int(transcriptChars.Int64)
	rec.Error = errText.String
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	if analysisJSON.Valid && analysisJSON.String != "" {
		var analysis types.Analysis
		if err := json.Unmarshal([]byte(analysisJSON.String), &analysis); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis: %v", err)
		}
		rec.Analysis = &analysis
	}
	if exportsJSON.Valid && exportsJSON.String != "" {
		exports := map[string]types.ExportOutcome{}
		if err := json.Unmarshal([]byte(exportsJSON.String), &exports); err != nil {
			return nil, fmt.Errorf("failed to unmarshal exports: %v", err)
		}
		rec.Exports = exports
	}

	return &rec, nil
}

// ListJobs returns job summaries, most recent first.
func (d *DB) ListJobs(limit, offset int) ([]types.JobSummary, error) {
	rows, err := d.db.Query(`
	SELECT id, filename, status, created_at, completed_at, analysis_json IS NOT NULL
	FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %v", err)
	}
	defer rows.Close()

	summaries := []types.JobSummary{}
	for rows.Next() {
		var (
			s           types.JobSummary
			completedAt sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.Filename, &s.Status, &s.CreatedAt,
			&completedAt, &s.HasAnalysis); err != nil {
			return nil, fmt.Errorf("failed to scan job summary: %v", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			s.CompletedAt = &t
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// snippetLimit bounds the transcript excerpt returned by search.
const snippetLimit = 200

// SearchTranscripts finds jobs whose transcript contains the query
// substring, returning bounded snippets.
func (d *DB) SearchTranscripts(query string, limit int) ([]types.SearchHit, error) {
	rows, err := d.db.Query(`
	SELECT id, filename, transcript_text, created_at
	FROM jobs
	WHERE transcript_text LIKE ? AND transcript_text IS NOT NULL
	ORDER BY created_at DESC LIMIT ?`, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search transcripts: %v", err)
	}
	defer rows.Close()

	hits := []types.SearchHit{}
	for rows.Next() {
		var (
			hit        types.SearchHit
			transcript string
		)
		if err := rows.Scan(&hit.ID, &hit.Filename, &transcript, &hit.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %v", err)
		}
		hit.Snippet = makeSnippet(transcript)
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func makeSnippet(transcript string) string {
	if len(transcript) > snippetLimit {
		return transcript[:snippetLimit] + "..."
	}
	return transcript
}

// DeleteJob removes a job and its normalized task rows in one
// transaction. Returns ErrNotFound when the id is unknown.
func (d *DB) DeleteJob(id string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM extracted_tasks WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task rows: %v", err)
	}
	res, err := tx.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// Stats aggregates job counts and a 7-day creation histogram.
func (d *DB) Stats() (*types.Stats, error) {
	stats := &types.Stats{
		ByStatus:  map[string]int{},
		Last7Days: map[string]int{},
	}

	if err := d.db.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&stats.TotalJobs); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %v", err)
	}

	rows, err := d.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to group by status: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %v", err)
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	since := time.Now().AddDate(0, 0, -7)
	dayRows, err := d.db.Query(`
	SELECT DATE(created_at), COUNT(*) FROM jobs
	WHERE created_at > ? GROUP BY DATE(created_at)`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to build histogram: %v", err)
	}
	defer dayRows.Close()
	for dayRows.Next() {
		var (
			day   string
			count int
		)
		if err := dayRows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("failed to scan histogram row: %v", err)
		}
		stats.Last7Days[day] = count
	}
	if err := dayRows.Err(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := d.db.QueryRow(`
	SELECT AVG(transcript_chars) FROM jobs WHERE transcript_chars IS NOT NULL`).Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to average transcript length: %v", err)
	}
	stats.AvgTranscriptLength = avg.Float64

	return stats, nil
}

// Ping verifies the database is reachable.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
