package handlers

import (
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/voice2action/voice2action/internal/storage"
	"github.com/voice2action/voice2action/internal/types"
)

const (
	defaultListLimit   = 50
	maxListLimit       = 200
	defaultSearchLimit = 20
)

// JobsHandler serves the read-only job views and deletion.
type JobsHandler struct {
	store *storage.Store
}

// NewJobsHandler creates the jobs handler.
func NewJobsHandler(store *storage.Store) *JobsHandler {
	return &JobsHandler{store: store}
}

// Status returns the light polling view without heavy payloads.
func (h *JobsHandler) Status(c *fiber.Ctx) error {
	rec, err := h.store.Get(c.Params("id"))
	if err != nil {
		return jobError(c, err)
	}

	resp := fiber.Map{
		"job_id":     rec.ID,
		"filename":   rec.Filename,
		"status":     rec.Status,
		"progress":   rec.Progress,
		"complete":   types.IsTerminal(rec.Status),
		"created_at": rec.CreatedAt,
	}
	if rec.Error != "" {
		resp["error"] = rec.Error
	}
	if rec.CompletedAt != nil {
		resp["completed_at"] = rec.CompletedAt
	}
	return c.JSON(resp)
}

// Get returns the full job view including transcript, analysis and
// export outcomes.
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	rec, err := h.store.Get(c.Params("id"))
	if err != nil {
		return jobError(c, err)
	}
	return c.JSON(rec)
}

// Transcript returns only the transcript of a job.
func (h *JobsHandler) Transcript(c *fiber.Ctx) error {
	rec, err := h.store.Get(c.Params("id"))
	if err != nil {
		return jobError(c, err)
	}
	return c.JSON(fiber.Map{
		"job_id":     rec.ID,
		"transcript": rec.Transcript,
		"characters": rec.TranscriptChars,
	})
}

// Analysis returns only the structured analysis of a job; 404 when the
// analysis stage has not produced one.
func (h *JobsHandler) Analysis(c *fiber.Ctx) error {
	rec, err := h.store.Get(c.Params("id"))
	if err != nil {
		return jobError(c, err)
	}
	if rec.Analysis == nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Analysis not found",
			"code":  "ERR_NO_ANALYSIS",
		})
	}
	return c.JSON(fiber.Map{
		"job_id":   rec.ID,
		"analysis": rec.Analysis,
	})
}

// List returns paginated job summaries, most recent first.
func (h *JobsHandler) List(c *fiber.Ctx) error {
	limit := queryInt(c, "limit", defaultListLimit, maxListLimit)
	offset := queryInt(c, "offset", 0, 1<<30)

	summaries, err := h.store.List(limit, offset)
	if err != nil {
		log.Printf("List jobs failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to list jobs"})
	}
	return c.JSON(summaries)
}

// Search finds jobs by transcript substring and returns bounded snippets.
func (h *JobsHandler) Search(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Query parameter is required",
			"code":  "ERR_NO_QUERY",
		})
	}
	limit := queryInt(c, "limit", defaultSearchLimit, maxListLimit)

	hits, err := h.store.Search(query, limit)
	if err != nil {
		log.Printf("Search failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Search failed"})
	}
	return c.JSON(fiber.Map{
		"query":   query,
		"results": hits,
		"count":   len(hits),
	})
}

// Stats returns aggregate counts and the 7-day creation histogram.
func (h *JobsHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.store.Stats()
	if err != nil {
		log.Printf("Stats failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to compute statistics"})
	}
	return c.JSON(fiber.Map{
		"statistics": stats,
		"timestamp":  time.Now().UTC(),
	})
}

// Delete removes a job and its extracted task rows.
func (h *JobsHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.store.Delete(id); err != nil {
		return jobError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Job " + id + " deleted"})
}

func jobError(c *fiber.Ctx, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{
			"error": "Job not found",
			"code":  "ERR_NOT_FOUND",
		})
	}
	log.Printf("Job lookup failed: %v", err)
	return c.Status(500).JSON(fiber.Map{"error": "Internal error"})
}

func queryInt(c *fiber.Ctx, name string, def, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
