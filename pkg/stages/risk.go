// Package stages implements the pipeline stage engines. Every engine has
// an LM path and a rule fallback; the rule behavior is normative and the
// LM result is normalized into the same shape.
package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/llm"
	"github.com/veracitylab/factgate/pkg/models"
)

// RiskEngine produces the risk snapshot and the per-turn strategy.
type RiskEngine struct {
	lm  llm.Caller
	cfg *config.Config
}

// NewRiskEngine creates a RiskEngine.
func NewRiskEngine(lm llm.Caller, cfg *config.Config) *RiskEngine {
	return &RiskEngine{lm: lm, cfg: cfg}
}

const riskSystemPrompt = `你是虚假信息风险评估助手。对输入文本进行初步风险评估，严格输出 JSON：
{"preliminary_score": 0-100 的整数（越低风险越高）, "risk_terms": [命中的风险词], "scenario": "health|governance|security|media|technology|education|general", "is_news": true/false, "news_confidence": 0-1, "detected_text_type": "news|opinion|chat|ad|other", "news_reason": "简短理由"}`

// Snapshot computes the risk snapshot for a turn. LM failures and the
// disabled toggle both land on the rule path.
func (e *RiskEngine) Snapshot(ctx context.Context, text string) *models.RiskSnapshot {
	var snap *models.RiskSnapshot
	if e.cfg.Toggles.Risk && e.lm != nil {
		snap = e.snapshotLM(ctx, text)
	}
	if snap == nil {
		snap = e.snapshotRule(text)
	}
	snap.Strategy = e.deriveStrategy(text, snap)
	return snap
}

func (e *RiskEngine) snapshotLM(ctx context.Context, text string) *models.RiskSnapshot {
	obj := e.lm.CallJSON(ctx, llm.Request{
		System:     riskSystemPrompt,
		User:       text,
		TraceLabel: "risk.snapshot",
	})
	if obj == nil {
		return nil
	}

	snap := &models.RiskSnapshot{
		PreliminaryScore: models.ClampScore(intField(obj, "preliminary_score", 55)),
		Scenario:         normalizeScenario(stringField(obj, "scenario")),
	}
	for _, v := range sliceField(obj, "risk_terms") {
		if s, ok := v.(string); ok && s != "" {
			snap.RiskTerms = append(snap.RiskTerms, s)
		}
	}
	return snap
}

// snapshotRule scores by risk-term density: each hit costs 8 points from a
// neutral 60, floored at 20.
func (e *RiskEngine) snapshotRule(text string) *models.RiskSnapshot {
	score := 60
	var hits []string
	lower := strings.ToLower(text)
	for _, term := range riskTerms {
		if strings.Contains(lower, strings.ToLower(term)) {
			hits = append(hits, term)
			score -= 8
		}
	}
	if score < 20 {
		score = 20
	}
	return &models.RiskSnapshot{
		PreliminaryScore: score,
		RiskTerms:        hits,
		Scenario:         detectScenario([]string{text}),
	}
}

// deriveStrategy computes the per-turn knobs from text complexity and the
// preliminary risk score. The strategy travels unchanged through every
// downstream stage of the same turn.
func (e *RiskEngine) deriveStrategy(text string, snap *models.RiskSnapshot) models.Strategy {
	runeLen := len([]rune(text))
	sentences := len(splitSentences(text))

	var complexity models.ComplexityLevel
	var maxClaims int
	switch {
	case runeLen < 120 && sentences <= 3:
		complexity = models.ComplexitySimple
		maxClaims = 2
	case runeLen < 600:
		complexity = models.ComplexityMedium
		maxClaims = 4
	default:
		complexity = models.ComplexityComplex
		maxClaims = 8
	}
	if maxClaims > e.cfg.Claims.MaxItems {
		maxClaims = e.cfg.Claims.MaxItems
	}
	if maxClaims < 2 {
		maxClaims = 2
	}

	// Lower score = higher risk = more evidence per claim.
	var evidencePerClaim int
	switch models.LevelForScore(snap.PreliminaryScore) {
	case models.RiskLow:
		evidencePerClaim = 3
	case models.RiskMedium:
		evidencePerClaim = 5
	case models.RiskHigh:
		evidencePerClaim = 7
	default:
		evidencePerClaim = 10
	}

	strat := models.Strategy{
		MaxClaims:           maxClaims,
		ComplexityLevel:     complexity,
		EvidencePerClaim:    evidencePerClaim,
		SummaryTargetMin:    2,
		SummaryTargetMax:    3,
		EnableSummarization: e.cfg.Toggles.EvidenceSummary && complexity != models.ComplexitySimple,
	}

	strat.IsNews, strat.NewsConfidence, strat.DetectedTextType, strat.NewsReason = newsGate(text)
	return strat
}

// newsGate heuristically classifies whether the text reads like news.
func newsGate(text string) (bool, float64, string, string) {
	confidence := 0.3
	var reasons []string
	if containsAny(text, []string{"报道", "消息称", "记者", "通讯社", "according to", "reported"}) {
		confidence += 0.3
		reasons = append(reasons, "含新闻报道用语")
	}
	if containsAny(text, officialTerms) {
		confidence += 0.2
		reasons = append(reasons, "提及官方信源")
	}
	if containsAny(text, riskTerms) {
		confidence -= 0.1
		reasons = append(reasons, "夹带煽动用语")
	}
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	isNews := confidence >= 0.5
	textType := "other"
	if isNews {
		textType = "news"
	} else if containsAny(text, []string{"我觉得", "我认为", "i think", "i believe"}) {
		textType = "opinion"
	}
	return isNews, confidence, textType, strings.Join(reasons, "；")
}

func normalizeScenario(raw string) models.Scenario {
	switch models.Scenario(strings.ToLower(strings.TrimSpace(raw))) {
	case models.ScenarioHealth, models.ScenarioGovernance, models.ScenarioSecurity,
		models.ScenarioMedia, models.ScenarioTechnology, models.ScenarioEducation:
		return models.Scenario(strings.ToLower(strings.TrimSpace(raw)))
	default:
		return models.ScenarioGeneral
	}
}

// Field helpers shared across stage engines: LM JSON comes back as
// map[string]any with float64 numbers.

func stringField(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

func intField(obj map[string]any, key string, def int) int {
	switch v := obj[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func floatField(obj map[string]any, key string, def float64) float64 {
	switch v := obj[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func boolField(obj map[string]any, key string) bool {
	v, _ := obj[key].(bool)
	return v
}

func sliceField(obj map[string]any, key string) []any {
	if v, ok := obj[key].([]any); ok {
		return v
	}
	return nil
}

func mapField(obj map[string]any, key string) map[string]any {
	if v, ok := obj[key].(map[string]any); ok {
		return v
	}
	return nil
}

func indentJSON(items []string) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	return b.String()
}
