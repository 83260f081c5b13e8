package handlers

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/voice2action/voice2action/internal/pipeline"
	"github.com/voice2action/voice2action/internal/storage"
	"github.com/voice2action/voice2action/internal/types"
)

// supportedAudioExts lists upload formats the transcription service accepts.
var supportedAudioExts = map[string]struct{}{
	".mp3": {}, ".wav": {}, ".m4a": {}, ".ogg": {},
	".flac": {}, ".webm": {}, ".aac": {}, ".wma": {},
}

// ValidAudioFormat checks the upload filename extension.
func ValidAudioFormat(filename string) bool {
	_, ok := supportedAudioExts[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// UploadHandler accepts audio uploads and launches the pipeline.
type UploadHandler struct {
	store     *storage.Store
	runner    *pipeline.Runner
	tempDir   string
	maxSizeMB int
}

// NewUploadHandler creates the upload handler.
func NewUploadHandler(store *storage.Store, runner *pipeline.Runner, tempDir string, maxSizeMB int) *UploadHandler {
	return &UploadHandler{
		store:     store,
		runner:    runner,
		tempDir:   tempDir,
		maxSizeMB: maxSizeMB,
	}
}

// Handle validates the upload, creates the job record and returns the
// job id immediately; processing continues in the background.
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("audio")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "No audio file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	if file.Size == 0 {
		return c.Status(400).JSON(fiber.Map{
			"error": "Uploaded file is empty",
			"code":  "ERR_EMPTY_FILE",
		})
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}

	if !ValidAudioFormat(file.Filename) {
		return c.Status(400).JSON(fiber.Map{
			"error": "Unsupported audio format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	analysisType := c.FormValue("analysis_type")
	switch analysisType {
	case "":
		analysisType = types.AnalysisMeeting
	case types.AnalysisMeeting, types.AnalysisSales, types.AnalysisInterview:
	default:
		return c.Status(400).JSON(fiber.Map{
			"error": "Unknown analysis type",
			"code":  "ERR_INVALID_ANALYSIS_TYPE",
		})
	}

	jobID := uuid.New().String()
	tempPath := filepath.Join(h.tempDir, jobID+filepath.Ext(file.Filename))

	if err := c.SaveFile(file, tempPath); err != nil {
		log.Printf("Failed to save uploaded file: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	rec, err := h.store.Create(jobID, file.Filename, analysisType, tempPath)
	if err != nil {
		os.Remove(tempPath)
		log.Printf("Failed to create job record: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to create job",
			"code":  "ERR_CREATE_FAILED",
		})
	}

	h.runner.Launch(jobID)

	return c.JSON(fiber.Map{
		"job_id":     jobID,
		"status":     rec.Status,
		"status_url": "/api/status/" + jobID,
		"job_url":    "/api/jobs/" + jobID,
		"created_at": rec.CreatedAt,
	})
}
