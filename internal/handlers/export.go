package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/voice2action/voice2action/internal/export"
	"github.com/voice2action/voice2action/internal/storage"
	"github.com/voice2action/voice2action/internal/types"
)

// ExportHandler triggers on-demand export of a completed job.
type ExportHandler struct {
	store       *storage.Store
	coordinator *export.Coordinator
}

// NewExportHandler creates the export handler.
func NewExportHandler(store *storage.Store, coordinator *export.Coordinator) *ExportHandler {
	return &ExportHandler{store: store, coordinator: coordinator}
}

// ExportRequest is the body of POST /api/export.
type ExportRequest struct {
	JobID   string   `json:"job_id"`
	Targets []string `json:"targets"`
}

// Handle fans the job out to the requested targets and returns the
// per-target outcome map.
func (h *ExportHandler) Handle(c *fiber.Ctx) error {
	var req ExportRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}
	if req.JobID == "" || len(req.Targets) == 0 {
		return c.Status(400).JSON(fiber.Map{
			"error": "job_id and targets are required",
			"code":  "ERR_MISSING_FIELDS",
		})
	}

	rec, err := h.store.Get(req.JobID)
	if err != nil {
		return jobError(c, err)
	}
	if rec.Status == types.StatusFailed {
		return c.Status(400).JSON(fiber.Map{
			"error": "Job failed: " + rec.Error,
			"code":  "ERR_JOB_FAILED",
		})
	}
	if rec.Status != types.StatusCompleted {
		return c.Status(400).JSON(fiber.Map{
			"error": "Job not completed yet",
			"code":  "ERR_NOT_COMPLETED",
		})
	}

	outcomes, err := h.coordinator.Export(c.Context(), req.JobID, req.Targets)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return jobError(c, err)
		}
		if errors.Is(err, export.ErrNotReady) {
			return c.Status(400).JSON(fiber.Map{
				"error": "Job has no analysis to export",
				"code":  "ERR_NOT_READY",
			})
		}
		log.Printf("Export for job %s failed: %v", req.JobID, err)
		return c.Status(500).JSON(fiber.Map{"error": "Export failed"})
	}

	return c.JSON(fiber.Map{
		"job_id":  req.JobID,
		"exports": outcomes,
	})
}
