package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	eventBuffer       = 64
	keepAliveInterval = 25 * time.Second
)

// handleEvents streams gallery events as server-sent events. The first
// event is a "snapshot" of the whole gallery.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// subscribe before the snapshot so nothing falls between the two
	events, cancel := s.genUC.Gallery().Subscribe(eventBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "snapshot", s.snapshot()); err != nil {
		return
	}
	flusher.Flush()

	tick := time.NewTicker(keepAliveInterval)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.baseCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, string(ev.Type), toEventView(ev)); err != nil {
				s.log.Debug().Err(err).Msg("event stream closed")
				return
			}
			flusher.Flush()
		case <-tick.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}
