package models

import "time"

// Session meta keys used across the dispatcher and stores. Meta is a
// string-keyed bag with per-key partial updates so independent subsystems
// (budget counters, cache keys, record binding, phase buckets) can evolve
// without schema changes.
const (
	MetaRecordID      = "record_id"
	MetaBoundRecordID = "bound_record_id"
	MetaToolCallCount = "tool_call_count"
	MetaLLMCallCount  = "llm_call_count"
	MetaInputTextHash = "input_text_hash"
	MetaPhaseBuckets  = "phase_payload_buckets"
	MetaCachePrefix   = "session_cache_" // session_cache_<tool> = {key, ts}
)

// Session is a chat session. Meta holds the additive per-session state.
type Session struct {
	SessionID string         `json:"session_id"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Meta      map[string]any `json:"meta"`
}

// MessageAction is a suggested follow-up rendered with an assistant message.
type MessageAction struct {
	Type    string `json:"type"` // link | command
	Label   string `json:"label"`
	Href    string `json:"href,omitempty"`
	Command string `json:"command,omitempty"`
}

// MessageReference is a cited source attached to an assistant message.
type MessageReference struct {
	Title       string `json:"title"`
	Href        string `json:"href"`
	Description string `json:"description,omitempty"`
}

// Message is a single chat message within a session.
type Message struct {
	MessageID  string             `json:"message_id"`
	SessionID  string             `json:"session_id"`
	Role       string             `json:"role"` // user | assistant | system
	Content    string             `json:"content"`
	Actions    []MessageAction    `json:"actions,omitempty"`
	References []MessageReference `json:"references,omitempty"`
	Meta       map[string]any     `json:"meta,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)
