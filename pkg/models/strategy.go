package models

// ComplexityLevel classifies how involved the input text is.
type ComplexityLevel string

const (
	ComplexitySimple  ComplexityLevel = "simple"
	ComplexityMedium  ComplexityLevel = "medium"
	ComplexityComplex ComplexityLevel = "complex"
)

// Strategy holds the per-turn pipeline knobs derived from the risk snapshot.
// It is attached to the snapshot and travels unchanged through every
// downstream stage of the same turn.
type Strategy struct {
	MaxClaims           int             `json:"max_claims"` // 2..8
	ComplexityLevel     ComplexityLevel `json:"complexity_level"`
	EvidencePerClaim    int             `json:"evidence_per_claim"`
	SummaryTargetMin    int             `json:"summary_target_min"`
	SummaryTargetMax    int             `json:"summary_target_max"`
	EnableSummarization bool            `json:"enable_summarization"`

	// News gate.
	IsNews           bool    `json:"is_news"`
	NewsConfidence   float64 `json:"news_confidence"`
	DetectedTextType string  `json:"detected_text_type"`
	NewsReason       string  `json:"news_reason,omitempty"`
}

// RiskSnapshot is the output of the risk stage: a preliminary score plus the
// strategy for the rest of the turn.
type RiskSnapshot struct {
	PreliminaryScore int      `json:"preliminary_score"`
	RiskTerms        []string `json:"risk_terms,omitempty"`
	Scenario         Scenario `json:"scenario"`
	Strategy         Strategy `json:"strategy"`
}
