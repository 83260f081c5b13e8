package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/voice2action/voice2action/internal/storage"
	"github.com/voice2action/voice2action/internal/types"
)

// pollInterval is how often progress snapshots are pushed to a
// websocket subscriber.
const pollInterval = 500 * time.Millisecond

// ProgressHandler streams job status over a websocket until the job
// reaches a terminal state.
type ProgressHandler struct {
	store *storage.Store
}

// NewProgressHandler creates the websocket progress handler.
func NewProgressHandler(store *storage.Store) *ProgressHandler {
	return &ProgressHandler{store: store}
}

type progressFrame struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Complete bool   `json:"complete"`
	Error    string `json:"error,omitempty"`
}

// Handle pushes one snapshot immediately and then every poll interval,
// closing the connection after the terminal frame.
func (h *ProgressHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	jobID := c.Params("id")
	var lastStatus string
	var lastProgress int

	for {
		rec, err := h.store.Get(jobID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.WriteJSON(map[string]string{"error": "job not found"})
			} else {
				log.Printf("Progress stream for %s failed: %v", jobID, err)
			}
			return
		}

		if rec.Status != lastStatus || rec.Progress != lastProgress {
			frame := progressFrame{
				JobID:    rec.ID,
				Status:   rec.Status,
				Progress: rec.Progress,
				Complete: types.IsTerminal(rec.Status),
				Error:    rec.Error,
			}
			if err := c.WriteJSON(frame); err != nil {
				return
			}
			lastStatus = rec.Status
			lastProgress = rec.Progress
		}

		if types.IsTerminal(rec.Status) {
			return
		}
		time.Sleep(pollInterval)
	}
}
