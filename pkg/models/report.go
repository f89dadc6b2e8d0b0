package models

// RiskLevel buckets the numeric risk score. Lower scores mean higher risk.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLabel is the user-facing verdict paired one-to-one with a RiskLevel.
type RiskLabel string

const (
	LabelCredible       RiskLabel = "credible"
	LabelNeedsContext   RiskLabel = "needs_context"
	LabelSuspicious     RiskLabel = "suspicious"
	LabelLikelyMisinfo  RiskLabel = "likely_misinformation"
)

// Scenario classifies the topic domain of the analyzed text.
type Scenario string

const (
	ScenarioHealth     Scenario = "health"
	ScenarioGovernance Scenario = "governance"
	ScenarioSecurity   Scenario = "security"
	ScenarioMedia      Scenario = "media"
	ScenarioTechnology Scenario = "technology"
	ScenarioEducation  Scenario = "education"
	ScenarioGeneral    Scenario = "general"
)

// LevelForScore maps a score to its band: >=75 low, 55-74 medium,
// 35-54 high, below 35 critical.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= 75:
		return RiskLow
	case score >= 55:
		return RiskMedium
	case score >= 35:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// LabelForScore maps a score to the verdict label for its band.
func LabelForScore(score int) RiskLabel {
	switch LevelForScore(score) {
	case RiskLow:
		return LabelCredible
	case RiskMedium:
		return LabelNeedsContext
	case RiskHigh:
		return LabelSuspicious
	default:
		return LabelLikelyMisinfo
	}
}

// ClampScore clamps a score into [0,100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ClaimReport is the per-claim section of a report.
type ClaimReport struct {
	Claim       Claim      `json:"claim"`
	Evidences   []Evidence `json:"evidences"`
	FinalStance Stance     `json:"final_stance"`
	Notes       string     `json:"notes,omitempty"`
}

// Report is the final verdict for one analysis run.
type Report struct {
	RiskScore        int           `json:"risk_score"`
	RiskLevel        RiskLevel     `json:"risk_level"`
	RiskLabel        RiskLabel     `json:"risk_label"`
	DetectedScenario Scenario      `json:"detected_scenario"`
	EvidenceDomains  []string      `json:"evidence_domains"`
	Summary          string        `json:"summary"`
	SuspiciousPoints []string      `json:"suspicious_points"`
	ClaimReports     []ClaimReport `json:"claim_reports"`
}
