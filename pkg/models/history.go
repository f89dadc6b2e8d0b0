package models

import "time"

// FeedbackStatus is the user verdict attached to a history record.
type FeedbackStatus string

const (
	FeedbackAccurate           FeedbackStatus = "accurate"
	FeedbackInaccurate         FeedbackStatus = "inaccurate"
	FeedbackEvidenceIrrelevant FeedbackStatus = "evidence_irrelevant"
)

// HistoryRecord is an append-only analysis record. Scalar fields are frozen
// at insert; feedback, simulation, and content are additive attachments.
type HistoryRecord struct {
	ID               string         `json:"id"`
	CreatedAt        time.Time      `json:"created_at"`
	InputText        string         `json:"input_text"`
	RiskLabel        RiskLabel      `json:"risk_label"`
	RiskScore        int            `json:"risk_score"`
	DetectedScenario Scenario       `json:"detected_scenario"`
	EvidenceDomains  []string       `json:"evidence_domains"`
	Report           *Report        `json:"report"`
	DetectData       map[string]any `json:"detect_data,omitempty"`
	Simulation       map[string]any `json:"simulation,omitempty"`
	Content          map[string]any `json:"content,omitempty"`
	FeedbackStatus   FeedbackStatus `json:"feedback_status,omitempty"`
	FeedbackNote     string         `json:"feedback_note,omitempty"`
}
