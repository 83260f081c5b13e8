package types

import "time"

// Job status values, in pipeline order
const (
	StatusQueued       = "queued"
	StatusTranscribing = "transcribing"
	StatusAnalyzing    = "analyzing"
	StatusExporting    = "exporting"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// Task priority levels
const (
	PriorityHigh   = "High"
	PriorityMedium = "Medium"
	PriorityLow    = "Low"
)

// Unspecified marks a task field the model could not extract.
const Unspecified = "unspecified"

// Export outcome states
const (
	ExportSuccess = "success"
	ExportSkipped = "skipped"
	ExportFailed  = "failed"
)

// Analysis type selectors accepted on upload
const (
	AnalysisMeeting   = "meeting"
	AnalysisSales     = "sales"
	AnalysisInterview = "interview"
)

// IsTerminal reports whether a status allows no further transitions.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// JobRecord is one audio-upload-to-result unit of work.
type JobRecord struct {
	ID              string                   `json:"job_id"`
	Filename        string                   `json:"filename"`
	Status          string                   `json:"status"`
	Progress        int                      `json:"progress"`
	AnalysisType    string                   `json:"analysis_type,omitempty"`
	Transcript      string                   `json:"transcript,omitempty"`
	TranscriptChars int                      `json:"transcript_chars,omitempty"`
	Analysis        *Analysis                `json:"analysis,omitempty"`
	Exports         map[string]ExportOutcome `json:"exports,omitempty"`
	Error           string                   `json:"error,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	CompletedAt     *time.Time               `json:"completed_at,omitempty"`

	// TempPath points at the uploaded audio while the pipeline runs.
	// Never serialized, removed exactly once on terminal transition.
	TempPath string `json:"-"`
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (j *JobRecord) Clone() *JobRecord {
	cp := *j
	if j.Analysis != nil {
		cp.Analysis = j.Analysis.Clone()
	}
	if j.Exports != nil {
		cp.Exports = make(map[string]ExportOutcome, len(j.Exports))
		for k, v := range j.Exports {
			cp.Exports[k] = v
		}
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Analysis is the structured result of the language-model stage.
type Analysis struct {
	Summary   string   `json:"summary"`
	Tasks     []Task   `json:"tasks"`
	KeyPoints []string `json:"key_points"`
	Decisions []string `json:"decisions"`
}

// Clone returns a deep copy of the analysis.
func (a *Analysis) Clone() *Analysis {
	cp := *a
	cp.Tasks = append([]Task(nil), a.Tasks...)
	cp.KeyPoints = append([]string(nil), a.KeyPoints...)
	cp.Decisions = append([]string(nil), a.Decisions...)
	return &cp
}

// Task is one action item extracted from the transcript.
type Task struct {
	Description string `json:"description"`
	Deadline    string `json:"deadline"`
	Assignee    string `json:"assignee"`
	Priority    string `json:"priority"`
}

// ExportOutcome records the result of publishing a job to one target.
type ExportOutcome struct {
	Status  string `json:"status"`
	Locator string `json:"locator,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// JobSummary is the list-view projection of a job.
type JobSummary struct {
	ID          string     `json:"job_id"`
	Filename    string     `json:"filename"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	HasAnalysis bool       `json:"has_analysis"`
}

// SearchHit is one transcript search result with a bounded snippet.
type SearchHit struct {
	ID        string    `json:"job_id"`
	Filename  string    `json:"filename"`
	Snippet   string    `json:"snippet"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats aggregates job counts for the dashboard.
type Stats struct {
	TotalJobs           int            `json:"total_jobs"`
	ByStatus            map[string]int `json:"by_status"`
	Last7Days           map[string]int `json:"last_7_days"`
	AvgTranscriptLength float64        `json:"avg_transcript_length"`
}
