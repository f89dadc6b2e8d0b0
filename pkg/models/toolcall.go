package models

// ToolCall is a parsed user turn: a whitelisted tool name plus per-tool
// validated arguments (a tagged variant with one validator per tag).
type ToolCall struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`

	// Clarify is set when intent parsing could not pick a tool and the
	// dispatcher should emit the disambiguation help message.
	Clarify bool `json:"clarify,omitempty"`
}

// Tool names. The whitelist in pkg/guardrails is derived from this set.
const (
	ToolAnalyze      = "analyze"
	ToolLoadHistory  = "load_history"
	ToolWhy          = "why"
	ToolList         = "list"
	ToolMoreEvidence = "more_evidence"
	ToolRewrite      = "rewrite"
	ToolHelp         = "help"
	ToolCompare      = "compare"
	ToolDeepDive     = "deep_dive"
	ToolExport       = "export"
	ToolClaimsOnly   = "claims_only"
	ToolEvidenceOnly = "evidence_only"
	ToolAlignOnly    = "align_only"
	ToolReportOnly   = "report_only"
	ToolSimulate     = "simulate"
	ToolContentGen   = "content_generate"
)
