package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/voice2action/voice2action/internal/types"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIClient implements Transcriber and Analyzer against the OpenAI API.
type OpenAIClient struct {
	apiKey          string
	baseURL         string
	transcribeModel string
	analysisModel   string

	transcribeTimeout time.Duration
	analysisTimeout   time.Duration
	retryAttempts     int

	httpClient *http.Client
}

// OpenAIConfig carries the tunables for the OpenAI adapters.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	AnalysisModel   string

	TranscribeTimeout time.Duration
	AnalysisTimeout   time.Duration
	RetryAttempts     int
}

// NewOpenAIClient creates the adapter pair for transcription and analysis.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = "whisper-1"
	}
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = "gpt-4o-mini"
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 120 * time.Second
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = 60 * time.Second
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	return &OpenAIClient{
		apiKey:            cfg.APIKey,
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		transcribeModel:   cfg.TranscribeModel,
		analysisModel:     cfg.AnalysisModel,
		transcribeTimeout: cfg.TranscribeTimeout,
		analysisTimeout:   cfg.AnalysisTimeout,
		retryAttempts:     cfg.RetryAttempts,
		httpClient:        &http.Client{},
	}, nil
}

// Transcribe uploads the audio file to the transcription endpoint and
// returns the recognized text.
func (c *OpenAIClient) Transcribe(ctx context.Context, path, filename string) (string, error) {
	var text string
	err := retry(ctx, c.retryAttempts, sleepBackoff, func() error {
		var err error
		text, err = c.transcribeOnce(ctx, path, filename)
		return err
	})
	return text, err
}

func (c *OpenAIClient) transcribeOnce(ctx context.Context, path, filename string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", Permanent("open audio file", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", Permanent("create multipart file", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", Permanent("copy audio data", err)
	}
	if err := writer.WriteField("model", c.transcribeModel); err != nil {
		return "", Permanent("write model field", err)
	}
	if err := writer.Close(); err != nil {
		return "", Permanent("close multipart writer", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.transcribeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", Permanent("create transcription request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Transient("transcription request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", apiError("transcription", resp)
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", Permanent("decode transcription response", err)
	}

	return strings.TrimSpace(payload.Text), nil
}

// analysisSchema is the JSON shape the model is instructed to return.
const analysisSchema = `{
  "summary": "short summary of the recording (2-3 sentences)",
  "tasks": [
    {
      "description": "what has to be done",
      "deadline": "YYYY-MM-DD or \"unspecified\"",
      "assignee": "name or \"unspecified\"",
      "priority": "High/Medium/Low"
    }
  ],
  "key_points": ["key point 1", "key point 2"],
  "decisions": ["decision 1", "decision 2"]
}`

// analysisFocus adds a per-type angle on top of the shared schema.
var analysisFocus = map[string]string{
	types.AnalysisMeeting:   "You analyze business meetings. Extract action items, key discussion points and decisions made.",
	types.AnalysisSales:     "You analyze sales calls. Summarize the deal state, list follow-up tasks, customer objections as key points and commitments as decisions.",
	types.AnalysisInterview: "You analyze job interviews. Summarize the candidate, list follow-up tasks, observed competencies as key points and hiring conclusions as decisions.",
}

// Analyze sends the transcript through the chat completion endpoint and
// parses the structured result. A response that is not valid JSON of the
// required shape is a permanent failure, not an empty analysis.
func (c *OpenAIClient) Analyze(ctx context.Context, transcript, analysisType string) (*types.Analysis, error) {
	var analysis *types.Analysis
	err := retry(ctx, c.retryAttempts, sleepBackoff, func() error {
		var err error
		analysis, err = c.analyzeOnce(ctx, transcript, analysisType)
		return err
	})
	return analysis, err
}

func (c *OpenAIClient) analyzeOnce(ctx context.Context, transcript, analysisType string) (*types.Analysis, error) {
	focus, ok := analysisFocus[analysisType]
	if !ok {
		focus = analysisFocus[types.AnalysisMeeting]
	}

	systemPrompt := focus + " Respond with JSON only, exactly this shape:\n" +
		analysisSchema + "\nUse only information present in the transcript."

	payload := map[string]any{
		"model": c.analysisModel,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": "Transcript:\n\n" + transcript},
		},
		"temperature": 0.3,
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return nil, Permanent("encode analysis payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.analysisTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", buf)
	if err != nil {
		return nil, Permanent("create analysis request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Transient("analysis request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, apiError("analysis", resp)
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, Permanent("decode analysis response", err)
	}
	if len(response.Choices) == 0 {
		return nil, Permanent("analysis returned no choices", nil)
	}

	return ParseAnalysis(response.Choices[0].Message.Content)
}

// ParseAnalysis extracts the structured analysis from raw model output.
// Markdown code fences are tolerated; anything else malformed is permanent.
func ParseAnalysis(raw string) (*types.Analysis, error) {
	clean := StripFences(raw)

	var analysis types.Analysis
	if err := json.Unmarshal([]byte(clean), &analysis); err != nil {
		return nil, Permanent("model output is not valid analysis JSON", err)
	}
	if strings.TrimSpace(analysis.Summary) == "" {
		return nil, Permanent("model output misses required summary", nil)
	}

	for i := range analysis.Tasks {
		normalizeTask(&analysis.Tasks[i])
	}
	return &analysis, nil
}

// StripFences removes a surrounding markdown code block, if present.
func StripFences(raw string) string {
	clean := strings.TrimSpace(raw)
	if strings.HasPrefix(clean, "```json") {
		clean = clean[len("```json"):]
	} else if strings.HasPrefix(clean, "```") {
		clean = clean[len("```"):]
	}
	clean = strings.TrimSuffix(strings.TrimSpace(clean), "```")
	return strings.TrimSpace(clean)
}

func normalizeTask(t *types.Task) {
	t.Description = strings.TrimSpace(t.Description)
	if strings.TrimSpace(t.Deadline) == "" {
		t.Deadline = types.Unspecified
	}
	if strings.TrimSpace(t.Assignee) == "" {
		t.Assignee = types.Unspecified
	}
	switch t.Priority {
	case types.PriorityHigh, types.PriorityMedium, types.PriorityLow:
	default:
		t.Priority = types.PriorityMedium
	}
}

func apiError(op string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fromHTTP(op, resp.StatusCode, apiErr.Error.Message)
	}
	return fromHTTP(op, resp.StatusCode, string(body))
}

func sleepBackoff(attempt int) {
	wait := time.Duration(attempt*attempt) * time.Second
	log.Printf("Transient stage failure, retrying in %s", wait)
	time.Sleep(wait)
}
