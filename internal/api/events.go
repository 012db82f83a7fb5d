package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/stoker/internal/model"
)

// handleKeepaliveEvents streams a task's keepalive events as SSE.
func (s *Server) handleKeepaliveEvents(w http.ResponseWriter, r *http.Request) {
	key := model.TaskKey(chi.URLParam(r, "account"), chi.URLParam(r, "name"))

	if _, ok := s.keeper.Task(key); !ok {
		s.writeError(w, http.StatusNotFound, "keepalive task not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe is safe even if the task ended between the existence check
	// above and this call — Subscribe on a closed topic returns a closed
	// channel, causing the loop below to exit immediately.
	ch, unsub := s.keeper.Broker().Subscribe(key)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Task ended; send explicit done event before closing.
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode keepalive event", "error", err)
				continue
			}
			if err := writeSSEEvent(w, ev.Type, string(payload)); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
