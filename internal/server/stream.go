package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// eventWriter writes server-sent events and flushes after each one.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (e *eventWriter) send(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

type deltaEvent struct {
	Text string `json:"text"`
}

// handleChatStream answers like handleChat but streams the reply as "delta" events,
// followed by a single "done" event carrying the answered turn or an "error" event.
// A write failure on the client connection aborts generation.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, CodeInternal, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sse := &eventWriter{w: w, flusher: flusher}
	turn, err := s.deps.Answerer.AnswerStream(r.Context(), req.SessionID, req.Message, func(d string) error {
		return sse.send("delta", deltaEvent{Text: d})
	})
	if err != nil {
		status, code := classify(err)
		if status >= 500 {
			s.logger.Error("chat stream failed", zap.String("session", req.SessionID), zap.Error(err))
		}
		_ = sse.send("error", errorResponse{Success: false, Error: err.Error(), ErrorCode: code})
		return
	}
	if err := sse.send("done", turn); err != nil {
		s.logger.Warn("chat stream: client gone before done", zap.String("session", req.SessionID), zap.Error(err))
	}
}
