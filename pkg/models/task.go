package models

import "time"

// PhaseStatus is the lifecycle state of one pipeline phase.
type PhaseStatus string

const (
	PhaseIdle     PhaseStatus = "idle"
	PhaseRunning  PhaseStatus = "running"
	PhaseDone     PhaseStatus = "done"
	PhaseFailed   PhaseStatus = "failed"
	PhaseCanceled PhaseStatus = "canceled"
)

// Pipeline phase names, in execution order.
const (
	PhaseRisk      = "risk"
	PhaseClaims    = "claims"
	PhaseEvidence  = "evidence_search"
	PhaseSummarize = "evidence_summarize"
	PhaseAlign     = "evidence_align"
	PhaseReport    = "report"
	PhaseSimulate  = "simulate"
	PhaseContent   = "content"
)

// Task is one pipeline run. Phases tracks the last known status of each
// phase; it is eventually consistent with the latest snapshot per phase.
type Task struct {
	TaskID    string                 `json:"task_id"`
	InputText string                 `json:"input_text"`
	Phases    map[string]PhaseStatus `json:"phases"`
	Meta      map[string]any         `json:"meta,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// PhaseSnapshot is the persisted state of one (task, phase) pair. Writes
// UPSERT on the composite key; the latest write wins.
type PhaseSnapshot struct {
	TaskID       string         `json:"task_id"`
	Phase        string         `json:"phase"`
	Status       PhaseStatus    `json:"status"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DurationMS   int64          `json:"duration_ms,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}
