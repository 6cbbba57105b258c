package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/clinrel/clinrel-go/internal/db"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsPollInterval is how often job state is pushed to a progress subscriber.
const wsPollInterval = 500 * time.Millisecond

// handleJobProgress streams job state over a websocket until the job reaches
// a terminal status or the client goes away.
func (s *Server) handleJobProgress(c *gin.Context) {
	id := c.Param("id")

	if _, err := s.jobs.GetJob(c.Request.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		} else {
			s.logger.Error("failed to get job", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get job"})
		}
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	// Drain client frames so pings and close messages are processed. The
	// read loop also tells us when the client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()

	for {
		job, err := s.jobs.GetJob(c.Request.Context(), id)
		if err != nil {
			s.logger.Error("websocket job poll failed", "job_id", id, "error", err)
			return
		}

		if err := ws.WriteJSON(viewOf(job)); err != nil {
			return
		}
		if job.Status.Terminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status))
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}

		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
