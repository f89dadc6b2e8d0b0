package models

// EventType is the closed set of SSE event envelope types.
type EventType string

const (
	EventToken   EventType = "token"
	EventStage   EventType = "stage"
	EventMessage EventType = "message"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// StreamEvent is one SSE frame: `data: {"type": T, "data": D}\n\n`.
type StreamEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// TokenPayload carries incremental progress prose.
type TokenPayload struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
}

// StagePayload marks a stage transition.
type StagePayload struct {
	Stage   string      `json:"stage"`
	Status  PhaseStatus `json:"status"`
	Detail  string      `json:"detail,omitempty"`
	Payload any         `json:"payload,omitempty"`
}

// ErrorPayload carries a fatal turn error.
type ErrorPayload struct {
	Message string `json:"message"`
}
