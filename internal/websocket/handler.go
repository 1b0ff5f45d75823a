package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mp3forge/backend/internal/db"
	"github.com/mp3forge/backend/internal/logger"
	"github.com/mp3forge/backend/internal/progress"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Configure allowed origins for production
		return true
	},
}

// Handler handles WebSocket connections for progress feeds.
type Handler struct {
	hub  *Hub
	pub  *progress.Publisher
	repo *db.JobRepository
	log  *logger.Logger

	mu         sync.Mutex
	forwarders map[string]bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, pub *progress.Publisher, repo *db.JobRepository) *Handler {
	return &Handler{
		hub:        hub,
		pub:        pub,
		repo:       repo,
		log:        logger.Default().WithComponent("websocket"),
		forwarders: make(map[string]bool),
	}
}

// ServeWS handles GET /api/v1/ws/progress/{job_id}. The client first
// receives a snapshot of the job, then live events until the job is
// terminal.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	j, err := h.repo.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, db.ErrJobNotFound) {
			http.Error(w, `{"code":"JOB_NOT_FOUND","message":"job not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"code":"DATABASE_ERROR","message":"failed to load job"}`, http.StatusInternalServerError)
		return
	}

	// Start the feed forwarder before upgrading so no event falls in
	// the gap between snapshot and live events.
	h.ensureForwarder(jobID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
		return
	}

	client := NewClient(h.hub, conn, jobID)
	h.hub.register <- client

	// Snapshot goes directly to this client, not through the hub.
	if snapshot, err := json.Marshal(progress.ConnectedEvent(j)); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, snapshot)
	}

	// A terminal job gets its final event immediately.
	if j.IsTerminal() {
		client.send <- progress.JobCompletedEvent(j)
	}

	go client.WritePump()
	go client.ReadPump()
}

// ensureForwarder starts one goroutine per job that pumps the local
// feed into the hub. It exits when the feed closes.
func (h *Handler) ensureForwarder(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.forwarders[jobID] {
		return
	}
	h.forwarders[jobID] = true

	sub := h.pub.Subscribe(jobID)
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.forwarders, jobID)
			h.mu.Unlock()
		}()
		for e := range sub.Events() {
			h.hub.Broadcast(e)
		}
	}()
}

// GetHub returns the hub instance for external access.
func (h *Handler) GetHub() *Hub {
	return h.hub
}
