package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/voice2action/voice2action/internal/types"
)

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// JiraTarget creates one ticket per extracted task in a Jira project.
type JiraTarget struct {
	baseURL    string
	email      string
	apiToken   string
	projectKey string
	httpClient *http.Client
}

// NewJiraTarget builds the ticket-system export target.
func NewJiraTarget(baseURL, email, apiToken, projectKey string) (*JiraTarget, error) {
	if strings.TrimSpace(baseURL) == "" || strings.TrimSpace(apiToken) == "" {
		return nil, errors.New("jira url and api token are required")
	}
	if projectKey == "" {
		projectKey = "V2A"
	}
	return &JiraTarget{
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		apiToken:   apiToken,
		projectKey: projectKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (t *JiraTarget) Name() string        { return TargetTicketSystem }
func (t *JiraTarget) RequiresTasks() bool { return true }

// Export creates an issue per task. A failing task does not stop the
// remaining ones; the export fails only when no issue was created.
func (t *JiraTarget) Export(ctx context.Context, job *types.JobRecord) (string, error) {
	var created []string
	for _, task := range job.Analysis.Tasks {
		key, err := t.createIssue(ctx, job, task)
		if err != nil {
			log.Printf("Job %s: jira issue for %q failed: %v", job.ID, task.Description, err)
			continue
		}
		created = append(created, key)
	}

	if len(created) == 0 {
		return "", fmt.Errorf("no jira issues could be created for %d tasks", len(job.Analysis.Tasks))
	}

	urls := make([]string, len(created))
	for i, key := range created {
		urls[i] = fmt.Sprintf("%s/browse/%s", t.baseURL, key)
	}
	return strings.Join(urls, ", "), nil
}

func (t *JiraTarget) createIssue(ctx context.Context, job *types.JobRecord, task types.Task) (string, error) {
	summary := task.Description
	if summary == "" {
		summary = "Action item from " + job.Filename
	}
	if len(summary) > 255 {
		summary = summary[:255]
	}

	description := fmt.Sprintf(
		"Source: Voice2Action recording %q\n\n%s\n\nAssignee: %s\nPriority: %s",
		job.Filename, task.Description, task.Assignee, task.Priority)

	fields := map[string]any{
		"project":     map[string]string{"key": t.projectKey},
		"summary":     summary,
		"description": description,
		"issuetype":   map[string]string{"name": "Task"},
		"priority":    map[string]string{"name": task.Priority},
	}
	if isoDate.MatchString(task.Deadline) {
		fields["duedate"] = task.Deadline
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(map[string]any{"fields": fields}); err != nil {
		return "", fmt.Errorf("encode issue payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/rest/api/2/issue", body)
	if err != nil {
		return "", fmt.Errorf("create issue request: %w", err)
	}
	req.SetBasicAuth(t.email, t.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("jira request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("jira api error: status %d body %s", resp.StatusCode, string(raw))
	}

	var issue struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return "", fmt.Errorf("decode issue response: %w", err)
	}
	if issue.Key == "" {
		return "", errors.New("jira returned no issue key")
	}
	return issue.Key, nil
}
