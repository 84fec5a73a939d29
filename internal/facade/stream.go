package facade

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codeforge/orchestrator/internal/logging"
)

// upgrader accepts same-origin and cross-origin callers alike: the facade
// has no browser session state to protect against CSRF, only the bearer of
// a jobId, so origin checking buys nothing (SPEC_FULL.md Part D).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const streamPollInterval = 500 * time.Millisecond

// HandleStream implements GET /orchestrate/{jobId}/stream (SPEC_FULL.md Part
// D's supplemented streaming status feature): upgrades to a WebSocket and
// pushes a statusResponse on the first poll and then whenever the job's
// state or iteration changes (polled every streamPollInterval), until the job
// reaches a terminal state or the client disconnects.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, err := s.manager.Status(jobID); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", logging.Fields{"job_id": jobID, "error": err.Error()})
		return
	}
	defer conn.Close()

	// A reader goroutine is required so the connection notices the peer
	// closing or sending a close frame; this handler never expects inbound
	// application messages.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	var lastIteration int
	var lastState string
	first := true
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			j, err := s.manager.Status(jobID)
			if err != nil {
				return
			}
			if !first && string(j.State) == lastState && j.Iteration == lastIteration {
				continue
			}
			first = false
			lastState = string(j.State)
			lastIteration = j.Iteration

			if err := conn.WriteJSON(toStatusResponse(j)); err != nil {
				return
			}
			if j.State.IsTerminal() {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}
		}
	}
}
