// Package sse implements the server-sent-events framing used by the chat
// and simulation endpoints. Every frame is `data: {"type":T,"data":D}\n\n`.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/veracitylab/factgate/pkg/models"
)

// Emitter receives stream events. The dispatcher writes through this so
// tests can capture the event sequence without an HTTP connection.
type Emitter interface {
	Emit(event models.StreamEvent)
}

// Stream writes SSE frames to an HTTP response, flushing after every event.
// Events after done are dropped: done terminates the turn.
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu   sync.Mutex
	done bool
}

// New prepares the response for streaming and returns the stream. It fails
// when the writer cannot flush, since unflushed SSE is unusable.
func New(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Stream{w: w, flusher: flusher}, nil
}

// Emit writes one frame and flushes. Marshal failures drop the frame: a
// malformed payload must not corrupt the stream.
func (s *Stream) Emit(event models.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flusher.Flush()
	if event.Type == models.EventDone {
		s.done = true
	}
}

// Token emits a progress-prose frame.
func Token(e Emitter, content, sessionID string) {
	e.Emit(models.StreamEvent{Type: models.EventToken, Data: models.TokenPayload{
		Content: content, SessionID: sessionID,
	}})
}

// Stage emits a stage transition frame.
func Stage(e Emitter, stage string, status models.PhaseStatus, payload any) {
	e.Emit(models.StreamEvent{Type: models.EventStage, Data: models.StagePayload{
		Stage: stage, Status: status, Payload: payload,
	}})
}

// Message emits the terminal assistant message.
func Message(e Emitter, msg *models.Message) {
	e.Emit(models.StreamEvent{Type: models.EventMessage, Data: msg})
}

// Error emits a fatal error frame. The caller still owes a done frame.
func Error(e Emitter, message string) {
	e.Emit(models.StreamEvent{Type: models.EventError, Data: models.ErrorPayload{Message: message}})
}

// Done emits the terminal frame of a turn.
func Done(e Emitter) {
	e.Emit(models.StreamEvent{Type: models.EventDone, Data: map[string]any{}})
}

// Recorder is a test Emitter that captures the event sequence.
type Recorder struct {
	mu     sync.Mutex
	Events []models.StreamEvent
}

func (r *Recorder) Emit(event models.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, event)
}

// Types returns the event type sequence.
func (r *Recorder) Types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]models.EventType, len(r.Events))
	for i, ev := range r.Events {
		types[i] = ev.Type
	}
	return types
}
