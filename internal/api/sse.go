package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mp3forge/backend/internal/db"
	apperrors "github.com/mp3forge/backend/internal/errors"
	"github.com/mp3forge/backend/internal/progress"
)

const sseKeepaliveInterval = 30 * time.Second

type ProgressHandlers struct {
	repo *db.JobRepository
	pub  *progress.Publisher
}

func NewProgressHandlers(repo *db.JobRepository, pub *progress.Publisher) *ProgressHandlers {
	return &ProgressHandlers{repo: repo, pub: pub}
}

// Stream handles GET /api/v1/progress/{job_id} as Server-Sent Events.
// The client first receives a snapshot of the job, then live events
// until the job reaches a terminal state.
func (h *ProgressHandlers) Stream(w http.ResponseWriter, r *http.Request) error {
	jobID := r.PathValue("job_id")

	j, err := h.repo.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, db.ErrJobNotFound) {
			return apperrors.JobNotFound()
		}
		return apperrors.DatabaseError("failed to load job").WithCause(err)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		return apperrors.InternalError("streaming not supported")
	}

	// Subscribe before the snapshot so no event falls in the gap.
	sub := h.pub.Subscribe(jobID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, progress.ConnectedEvent(j)); err != nil {
		return nil
	}
	flusher.Flush()

	// A job that already finished gets its final event and the
	// stream ends; there is nothing to wait for.
	if j.IsTerminal() {
		writeSSE(w, progress.JobCompletedEvent(j))
		flusher.Flush()
		return nil
	}

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return nil

		case e, open := <-sub.Events():
			if !open {
				return nil
			}
			if err := writeSSE(w, e); err != nil {
				return nil
			}
			flusher.Flush()
			if e.IsTerminal() {
				return nil
			}

		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, e *progress.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}
