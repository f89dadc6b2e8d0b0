package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/llm"
	"github.com/veracitylab/factgate/pkg/models"
)

// ReportEngine assembles the final verdict from claims and aligned evidence.
type ReportEngine struct {
	lm  llm.Caller
	cfg *config.Config
}

// NewReportEngine creates a ReportEngine.
func NewReportEngine(lm llm.Caller, cfg *config.Config) *ReportEngine {
	return &ReportEngine{lm: lm, cfg: cfg}
}

// Build derives the deterministic report, then lets an optional LM pass
// replace the summary and suspicious points. The numeric score, level, and
// label are never LM-controlled.
func (e *ReportEngine) Build(ctx context.Context, claims []models.Claim, evidenceByClaim map[string][]models.Evidence) *models.Report {
	report := e.buildDeterministic(claims, evidenceByClaim)
	if e.cfg.Toggles.Report && e.lm != nil {
		e.overlayLM(ctx, report)
	}
	return report
}

// buildDeterministic scores from a base of 55: support adds 6, refute costs
// 12, insufficient costs 4. Refuted and unsupported claims each emit a
// suspicious point.
func (e *ReportEngine) buildDeterministic(claims []models.Claim, evidenceByClaim map[string][]models.Evidence) *models.Report {
	score := 55
	var points []string
	claimReports := make([]models.ClaimReport, 0, len(claims))
	domainSet := map[string]bool{}

	for i, claim := range claims {
		evidences := evidenceByClaim[claim.ClaimID]
		final := finalStance(evidences)
		switch final {
		case models.StanceSupport:
			score += 6
		case models.StanceRefute:
			score -= 12
			points = append(points, fmt.Sprintf("claim %d refuted by evidence", i+1))
		default:
			score -= 4
			points = append(points, fmt.Sprintf("claim %d lacks supporting evidence", i+1))
		}
		for _, ev := range evidences {
			if ev.Domain != "" {
				domainSet[ev.Domain] = true
			}
		}
		claimReports = append(claimReports, models.ClaimReport{
			Claim:       claim,
			Evidences:   evidences,
			FinalStance: final,
		})
	}

	score = models.ClampScore(score)
	if len(points) == 0 {
		points = append(points, "none notable, keep monitoring")
	}

	domains := make([]string, 0, len(domainSet))
	for d := range domainSet {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var scenarioTexts []string
	for i, claim := range claims {
		if i == 3 {
			break
		}
		scenarioTexts = append(scenarioTexts, claim.ClaimText)
	}

	return &models.Report{
		RiskScore:        score,
		RiskLevel:        models.LevelForScore(score),
		RiskLabel:        models.LabelForScore(score),
		DetectedScenario: detectScenario(scenarioTexts),
		EvidenceDomains:  domains,
		Summary:          templateSummary(score, len(claims)),
		SuspiciousPoints: points,
		ClaimReports:     claimReports,
	}
}

// finalStance aggregates evidence stances for a claim by confidence-weighted
// vote; refute wins ties over support, everything else is insufficient.
func finalStance(evidences []models.Evidence) models.Stance {
	votes := map[models.Stance]float64{}
	for _, ev := range evidences {
		weight := ev.AlignmentConfidence
		if weight == 0 {
			weight = ev.SourceWeight
		}
		if weight == 0 {
			weight = 0.3
		}
		votes[ev.Stance] += weight
	}
	if votes[models.StanceRefute] > 0 && votes[models.StanceRefute] >= votes[models.StanceSupport] {
		return models.StanceRefute
	}
	if votes[models.StanceSupport] > votes[models.StanceInsufficient] {
		return models.StanceSupport
	}
	return models.StanceInsufficient
}

// templateSummary is the deterministic fallback summary keyed on the score.
func templateSummary(score, claimCount int) string {
	var verdict string
	switch models.LevelForScore(score) {
	case models.RiskLow:
		verdict = "整体可信，未发现明显虚假信号。"
	case models.RiskMedium:
		verdict = "部分主张缺乏充分证据，建议结合上下文理解。"
	case models.RiskHigh:
		verdict = "多项主张存疑，存在误导风险，请谨慎传播。"
	default:
		verdict = "多项主张被权威信源反驳，大概率为虚假信息。"
	}
	return fmt.Sprintf("共核查 %d 条主张，综合风险评分 %d。%s", claimCount, score, verdict)
}

const reportPrompt = `你是核查报告撰写助手。基于给定的评分与主张核查结论，改写报告摘要与可疑点，严格输出 JSON：
{"summary": "报告摘要", "suspicious_points": ["可疑点1"], "claim_conclusions": ["主张1的结论"]}
不要改变评分或立场结论。`

// overlayLM lets the LM rewrite the prose fields in place. Failures leave
// the deterministic report untouched.
func (e *ReportEngine) overlayLM(ctx context.Context, report *models.Report) {
	var lines []string
	for i, cr := range report.ClaimReports {
		lines = append(lines, fmt.Sprintf("主张%d：%s（结论：%s）", i+1, cr.Claim.ClaimText, cr.FinalStance))
	}
	obj := e.lm.CallJSON(ctx, llm.Request{
		System: reportPrompt,
		User: fmt.Sprintf("评分：%d（%s/%s）\n%s\n当前摘要：%s",
			report.RiskScore, report.RiskLevel, report.RiskLabel,
			strings.Join(lines, "\n"), report.Summary),
		TraceLabel: "report.overlay",
	})
	if obj == nil {
		return
	}

	if summary := stringField(obj, "summary"); summary != "" {
		report.Summary = summary
	}
	var points []string
	for _, v := range sliceField(obj, "suspicious_points") {
		if s, ok := v.(string); ok && s != "" {
			points = append(points, s)
		}
	}
	if len(points) > 0 {
		report.SuspiciousPoints = points
	}
	for i, v := range sliceField(obj, "claim_conclusions") {
		if i >= len(report.ClaimReports) {
			break
		}
		if s, ok := v.(string); ok && s != "" {
			report.ClaimReports[i].Notes = s
		}
	}
}
