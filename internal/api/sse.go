package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/checkmate-ai/checkmate-server/internal/models"
)

// sseWriter frames normalized stream chunks as server-sent events:
// content chunks as `data: {"content":...}`, a terminal error as
// `data: {"error":...}` and terminal success as the literal
// `data: [DONE]`. Headers are written lazily on the first event so the
// handler can still answer with a plain status code for pre-stream
// failures.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu      sync.Mutex
	started bool
}

func newSSEWriter(w http.ResponseWriter, flusher http.Flusher) *sseWriter {
	return &sseWriter{w: w, flusher: flusher}
}

// Started reports whether any event reached the wire.
func (s *sseWriter) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *sseWriter) Emit(chunk models.StreamChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.started = true
	}

	var payload string
	switch chunk.Kind {
	case models.ChunkContent:
		b, err := json.Marshal(struct {
			Content string `json:"content"`
		}{chunk.Content})
		if err != nil {
			return err
		}
		payload = string(b)
	case models.ChunkError:
		b, err := json.Marshal(struct {
			Error string `json:"error"`
		}{chunk.Err})
		if err != nil {
			return err
		}
		payload = string(b)
	case models.ChunkDone:
		payload = "[DONE]"
	default:
		return fmt.Errorf("unknown chunk kind %d", chunk.Kind)
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
