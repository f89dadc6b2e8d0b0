package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/veracitylab/factgate/pkg/models"
	"github.com/veracitylab/factgate/pkg/sse"
	"github.com/veracitylab/factgate/pkg/stages"
	"github.com/veracitylab/factgate/pkg/store"
)

const (
	recordMissingMessage = "未找到对应的分析记录，请先执行 /analyze，或用 /list 查看历史记录。"
	reuseClaimsNotice    = "复用 session 的 claims\n"
	autoClaimsNotice     = "自动执行主张抽取前置阶段\n"
)

// execute runs PLAN and EXECUTE for the parsed tool and returns the
// terminal assistant message.
func (d *Dispatcher) execute(ctx context.Context, t *turn) *models.Message {
	switch t.call.ToolName {
	case models.ToolAnalyze:
		return d.runAnalyze(ctx, t)
	case models.ToolClaimsOnly:
		return d.runClaimsOnly(ctx, t)
	case models.ToolEvidenceOnly:
		return d.runEvidenceOnly(ctx, t)
	case models.ToolAlignOnly:
		return d.runAlignOnly(ctx, t)
	case models.ToolReportOnly:
		return d.runReportOnly(ctx, t)
	case models.ToolWhy:
		return d.runWhy(ctx, t)
	case models.ToolList:
		return d.runList(ctx, t)
	case models.ToolLoadHistory:
		return d.runLoadHistory(ctx, t)
	case models.ToolMoreEvidence:
		return d.runMoreEvidence(ctx, t)
	case models.ToolDeepDive:
		return d.runDeepDive(ctx, t)
	case models.ToolExport:
		return d.runExport(ctx, t)
	case models.ToolCompare:
		return d.runCompare(ctx, t)
	case models.ToolRewrite:
		return d.runRewrite(ctx, t)
	case models.ToolContentGen:
		return d.runContentGenerate(ctx, t)
	case models.ToolSimulate:
		return d.runSimulate(ctx, t)
	default:
		return d.runHelp(t)
	}
}

// pipelineState carries the artifacts of an analyze-style chain.
type pipelineState struct {
	text     string
	snapshot *models.RiskSnapshot
	claims   []models.Claim
	evidence map[string][]models.Evidence
	report   *models.Report
}

func (d *Dispatcher) runAnalyze(ctx context.Context, t *turn) *models.Message {
	state := &pipelineState{text: argString(t.call, "text")}
	if !d.stageRisk(ctx, t, state) ||
		!d.stageClaims(ctx, t, state) ||
		!d.stageEvidenceSearch(ctx, t, state) ||
		!d.stageEvidenceAlign(ctx, t, state) ||
		!d.stageReport(ctx, t, state) {
		return nil
	}
	return d.reportMessage(ctx, t, state)
}

func (d *Dispatcher) runClaimsOnly(ctx context.Context, t *turn) *models.Message {
	state := &pipelineState{text: argString(t.call, "text")}
	if !d.stageRisk(ctx, t, state) || !d.stageClaims(ctx, t, state) {
		return nil
	}

	var lines []string
	for _, c := range state.claims {
		lines = append(lines, fmt.Sprintf("%s. %s", c.ClaimID, c.ClaimText))
	}
	return &models.Message{
		Role:    models.RoleAssistant,
		Content: fmt.Sprintf("共抽取 %d 条主张：\n%s", len(state.claims), strings.Join(lines, "\n")),
		Actions: []models.MessageAction{
			{Type: "command", Label: "检索证据", Command: "/evidence_only " + state.text},
		},
	}
}

func (d *Dispatcher) runEvidenceOnly(ctx context.Context, t *turn) *models.Message {
	state := &pipelineState{text: argString(t.call, "text")}
	if !d.ensureClaims(ctx, t, state) {
		return nil
	}
	if !d.stageEvidenceSearch(ctx, t, state) || !d.stageEvidenceAlign(ctx, t, state) {
		return nil
	}

	total := 0
	for _, evs := range state.evidence {
		total += len(evs)
	}
	return &models.Message{
		Role:    models.RoleAssistant,
		Content: fmt.Sprintf("已为 %d 条主张检索并判定 %d 条证据。", len(state.claims), total),
		Actions: []models.MessageAction{
			{Type: "command", Label: "生成报告", Command: "/report_only " + state.text},
		},
	}
}

func (d *Dispatcher) runAlignOnly(ctx context.Context, t *turn) *models.Message {
	state := &pipelineState{text: argString(t.call, "text")}
	if !d.ensureClaims(ctx, t, state) || !d.ensureEvidence(ctx, t, state) {
		return nil
	}
	if !d.stageEvidenceAlign(ctx, t, state) {
		return nil
	}
	return &models.Message{
		Role:    models.RoleAssistant,
		Content: fmt.Sprintf("已完成 %d 条主张的证据立场判定。", len(state.claims)),
	}
}

func (d *Dispatcher) runReportOnly(ctx context.Context, t *turn) *models.Message {
	state := &pipelineState{text: argString(t.call, "text")}
	if !d.ensureClaims(ctx, t, state) || !d.ensureEvidence(ctx, t, state) {
		return nil
	}
	if !d.stageReport(ctx, t, state) {
		return nil
	}
	return d.reportMessage(ctx, t, state)
}

// ensureClaims reuses session-cached claims for the same input text, or
// auto-runs the claims prerequisite. Auto-inserted stages count against
// budgets like user-requested ones.
func (d *Dispatcher) ensureClaims(ctx context.Context, t *turn, state *pipelineState) bool {
	if bucket, ok := d.bucketGet(t.session, inputHash(state.text), models.PhaseClaims); ok {
		if claims, strat, ok := decodeClaimsPayload(bucket); ok {
			sse.Token(t.out, reuseClaimsNotice, t.session.SessionID)
			state.claims = claims
			state.snapshot = &models.RiskSnapshot{Strategy: strat}
			return true
		}
	}
	sse.Token(t.out, autoClaimsNotice, t.session.SessionID)
	return d.stageRisk(ctx, t, state) && d.stageClaims(ctx, t, state)
}

// ensureEvidence reuses bucketed aligned evidence or runs the search stage.
func (d *Dispatcher) ensureEvidence(ctx context.Context, t *turn, state *pipelineState) bool {
	if bucket, ok := d.bucketGet(t.session, inputHash(state.text), models.PhaseEvidence); ok {
		if evidence, ok := decodeEvidencePayload(bucket); ok {
			state.evidence = evidence
			return true
		}
	}
	return d.stageEvidenceSearch(ctx, t, state)
}

func (d *Dispatcher) stageRisk(ctx context.Context, t *turn, state *pipelineState) bool {
	return d.runStage(ctx, t, models.PhaseRisk, func() (map[string]any, error) {
		state.snapshot = t.orch.RunRisk(ctx, state.text)
		return map[string]any{
			"preliminary_score": state.snapshot.PreliminaryScore,
			"scenario":          state.snapshot.Scenario,
			"strategy":          state.snapshot.Strategy,
		}, nil
	})
}

func (d *Dispatcher) stageClaims(ctx context.Context, t *turn, state *pipelineState) bool {
	ok := d.runStage(ctx, t, models.PhaseClaims, func() (map[string]any, error) {
		state.claims = t.orch.RunClaims(ctx, state.text, state.snapshot.Strategy)
		return map[string]any{"claims": state.claims, "strategy": state.snapshot.Strategy}, nil
	})
	if ok {
		d.bucketPut(ctx, t.session, inputHash(state.text), models.PhaseClaims, map[string]any{
			"claims": state.claims, "strategy": state.snapshot.Strategy,
		})
		sse.Token(t.out, "- 主张抽取：完成\n", t.session.SessionID)
	}
	return ok
}

func (d *Dispatcher) stageEvidenceSearch(ctx context.Context, t *turn, state *pipelineState) bool {
	return d.runStage(ctx, t, models.PhaseEvidence, func() (map[string]any, error) {
		state.evidence = t.orch.RetrieveEvidence(ctx, state.claims, state.snapshot.Strategy)
		return map[string]any{"evidence": state.evidence}, nil
	})
}

func (d *Dispatcher) stageEvidenceAlign(ctx context.Context, t *turn, state *pipelineState) bool {
	ok := d.runStage(ctx, t, models.PhaseAlign, func() (map[string]any, error) {
		state.evidence = t.orch.AlignEvidence(ctx, state.claims, state.evidence)
		return map[string]any{"evidence": state.evidence}, nil
	})
	if ok {
		d.bucketPut(ctx, t.session, inputHash(state.text), models.PhaseEvidence, map[string]any{
			"evidence": state.evidence,
		})
	}
	return ok
}

func (d *Dispatcher) stageReport(ctx context.Context, t *turn, state *pipelineState) bool {
	return d.runStage(ctx, t, models.PhaseReport, func() (map[string]any, error) {
		state.report = t.orch.RunReport(ctx, state.claims, state.evidence)
		return map[string]any{"report": state.report}, nil
	})
}

// reportMessage persists the history record and builds the terminal analyze
// message. The record id binds into the session meta for follow-up tools.
func (d *Dispatcher) reportMessage(ctx context.Context, t *turn, state *pipelineState) *models.Message {
	rec, err := d.history.Insert(ctx, &models.HistoryRecord{
		InputText:        state.text,
		RiskLabel:        state.report.RiskLabel,
		RiskScore:        state.report.RiskScore,
		DetectedScenario: state.report.DetectedScenario,
		EvidenceDomains:  state.report.EvidenceDomains,
		Report:           state.report,
	})
	meta := map[string]any{}
	if err != nil {
		d.logger.Warn("failed to insert history record", "error", err)
	} else {
		meta["record_id"] = rec.ID
		if _, err := d.sessions.UpdateMeta(ctx, t.session.SessionID, map[string]any{
			models.MetaRecordID:      rec.ID,
			models.MetaInputTextHash: inputHash(state.text),
		}); err != nil {
			d.logger.Warn("failed to bind record to session", "error", err)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "核查结论：%s（风险评分 %d，%s）\n", labelText(state.report.RiskLabel),
		state.report.RiskScore, state.report.RiskLevel)
	b.WriteString(state.report.Summary)
	if len(state.report.SuspiciousPoints) > 0 {
		b.WriteString("\n可疑点：\n")
		for _, p := range state.report.SuspiciousPoints {
			b.WriteString("- " + p + "\n")
		}
	}

	msg := &models.Message{
		Role:    models.RoleAssistant,
		Content: b.String(),
		Meta:    meta,
	}
	if rec != nil && err == nil {
		msg.Actions = []models.MessageAction{
			{Type: "command", Label: "查看判定原因", Command: "/why " + rec.ID},
			{Type: "command", Label: "舆情推演", Command: "/simulate " + rec.ID},
			{Type: "command", Label: "生成应对内容", Command: "/content_generate " + rec.ID},
		}
	}
	return msg
}

func (d *Dispatcher) runWhy(ctx context.Context, t *turn) *models.Message {
	rec, msg := d.loadRecord(ctx, t)
	if msg != nil {
		return msg
	}

	var b strings.Builder
	fmt.Fprintf(&b, "记录 %s 判定为「%s」（评分 %d），依据：\n", rec.ID, labelText(rec.RiskLabel), rec.RiskScore)
	for _, p := range rec.Report.SuspiciousPoints {
		b.WriteString("- " + p + "\n")
	}
	for _, cr := range rec.Report.ClaimReports {
		fmt.Fprintf(&b, "- %s：%s\n", cr.Claim.ClaimID, stanceText(cr.FinalStance))
	}
	return &models.Message{Role: models.RoleAssistant, Content: b.String()}
}

func (d *Dispatcher) runList(ctx context.Context, t *turn) *models.Message {
	limit := argInt(t.call, "limit", 10)
	records, err := d.history.List(ctx, limit)
	if err != nil {
		d.logger.Warn("failed to list history", "error", err)
		return &models.Message{Role: models.RoleAssistant, Content: "历史记录查询失败，请稍后重试。"}
	}
	if len(records) == 0 {
		return &models.Message{Role: models.RoleAssistant, Content: "暂无可用的历史记录。"}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "最近 %d 条分析记录：\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(&b, "- %s [%s %d] %s\n", rec.ID, labelText(rec.RiskLabel), rec.RiskScore,
			store.DeriveTitle(rec.InputText))
	}
	return &models.Message{Role: models.RoleAssistant, Content: b.String()}
}

func (d *Dispatcher) runLoadHistory(ctx context.Context, t *turn) *models.Message {
	rec, msg := d.loadRecord(ctx, t)
	if msg != nil {
		return msg
	}
	if _, err := d.sessions.UpdateMeta(ctx, t.session.SessionID, map[string]any{
		models.MetaBoundRecordID: rec.ID,
	}); err != nil {
		d.logger.Warn("failed to bind history record", "error", err)
	}
	return &models.Message{
		Role: models.RoleAssistant,
		Content: fmt.Sprintf("已载入记录 %s：%s（%s，评分 %d）",
			rec.ID, store.DeriveTitle(rec.InputText), labelText(rec.RiskLabel), rec.RiskScore),
		Actions: []models.MessageAction{
			{Type: "command", Label: "查看判定原因", Command: "/why " + rec.ID},
		},
	}
}

func (d *Dispatcher) runMoreEvidence(ctx context.Context, t *turn) *models.Message {
	rec, msg := d.loadRecord(ctx, t)
	if msg != nil {
		return msg
	}

	claims := recordClaims(rec, argString(t.call, "claim_id"))
	if len(claims) == 0 {
		return &models.Message{Role: models.RoleAssistant, Content: "该记录没有可补充证据的主张。"}
	}

	// Widen the fan-out beyond the original run.
	strat := models.Strategy{EvidencePerClaim: d.cfg.Search.TopK + 3, MaxClaims: len(claims)}
	state := &pipelineState{text: rec.InputText, snapshot: &models.RiskSnapshot{Strategy: strat}, claims: claims}
	if !d.stageEvidenceSearch(ctx, t, state) || !d.stageEvidenceAlign(ctx, t, state) {
		return nil
	}

	total := 0
	for _, evs := range state.evidence {
		total += len(evs)
	}
	return &models.Message{
		Role:    models.RoleAssistant,
		Content: fmt.Sprintf("已为记录 %s 补充检索 %d 条证据。", rec.ID, total),
	}
}

func (d *Dispatcher) runDeepDive(ctx context.Context, t *turn) *models.Message {
	rec, msg := d.loadRecord(ctx, t)
	if msg != nil {
		return msg
	}
	claims := recordClaims(rec, argString(t.call, "claim_id"))
	if len(claims) == 0 {
		return &models.Message{Role: models.RoleAssistant, Content: "未找到指定的主张。"}
	}
	claim := claims[0]

	strat := models.Strategy{EvidencePerClaim: 10, MaxClaims: 1}
	state := &pipelineState{text: rec.InputText, snapshot: &models.RiskSnapshot{Strategy: strat}, claims: []models.Claim{claim}}
	if !d.stageEvidenceSearch(ctx, t, state) || !d.stageEvidenceAlign(ctx, t, state) {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "主张「%s」深入核查结果：\n", claim.ClaimText)
	for _, ev := range state.evidence[claim.ClaimID] {
		fmt.Fprintf(&b, "- [%s] %s（%s）\n", stanceText(ev.Stance), ev.Title, ev.Source)
	}
	return &models.Message{Role: models.RoleAssistant, Content: b.String()}
}

func (d *Dispatcher) runExport(ctx context.Context, t *turn) *models.Message {
	rec, msg := d.loadRecord(ctx, t)
	if msg != nil {
		return msg
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &models.Message{Role: models.RoleAssistant, Content: "导出失败：记录序列化错误。"}
	}
	return &models.Message{
		Role:    models.RoleAssistant,
		Content: fmt.Sprintf("记录 %s 导出：\n```json\n%s\n```", rec.ID, data),
	}
}

func (d *Dispatcher) runCompare(ctx context.Context, t *turn) *models.Message {
	state := &pipelineState{text: argString(t.call, "text")}
	if !d.stageRisk(ctx, t, state) || !d.stageClaims(ctx, t, state) {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "新文本初步风险评分 %d，抽取主张 %d 条。", state.snapshot.PreliminaryScore, len(state.claims))
	if id := metaString(t.session.Meta, models.MetaRecordID); id != "" {
		if rec, err := d.history.Get(ctx, id); err == nil {
			fmt.Fprintf(&b, "\n对比已有记录 %s：%s（评分 %d）。", rec.ID, labelText(rec.RiskLabel), rec.RiskScore)
			if diff := state.snapshot.PreliminaryScore - rec.RiskScore; diff > 10 {
				b.WriteString("新文本的初步风险明显更低。")
			} else if diff < -10 {
				b.WriteString("新文本的初步风险明显更高。")
			} else {
				b.WriteString("两者风险水平接近。")
			}
		}
	}
	return &models.Message{Role: models.RoleAssistant, Content: b.String()}
}

func (d *Dispatcher) runRewrite(ctx context.Context, t *turn) *models.Message {
	rec, msg := d.loadRecord(ctx, t)
	if msg != nil {
		return msg
	}
	style := argString(t.call, "style")
	content := t.orch.RunContent(ctx, stages.ContentInput{
		Report:     rec.Report,
		Simulation: rec.Simulation,
		InputText:  rec.InputText,
		Style:      style,
	})

	text := clarificationForStyle(content, style)
	return &models.Message{
		Role:    models.RoleAssistant,
		Content: fmt.Sprintf("改写结果（%s）：\n%s", style, text),
	}
}

func (d *Dispatcher) runContentGenerate(ctx context.Context, t *turn) *models.Message {
	rec, msg := d.loadRecord(ctx, t)
	if msg != nil {
		return msg
	}
	if rec.Report == nil {
		// Simulation alone is not enough context to write clarifications.
		return &models.Message{Role: models.RoleAssistant, Content: "该记录缺少核查报告，无法生成应对内容。"}
	}

	var content map[string]any
	ok := d.runStage(ctx, t, models.PhaseContent, func() (map[string]any, error) {
		content = t.orch.RunContent(ctx, stages.ContentInput{
			Report:     rec.Report,
			Simulation: rec.Simulation,
			InputText:  rec.InputText,
			Style:      argString(t.call, "style"),
		})
		return map[string]any{"content": content}, nil
	})
	if !ok {
		return nil
	}
	if err := d.history.AttachContent(ctx, rec.ID, content); err != nil {
		d.logger.Warn("failed to attach content", "record_id", rec.ID, "error", err)
	}

	return &models.Message{
		Role:    models.RoleAssistant,
		Content: fmt.Sprintf("已为记录 %s 生成应对内容：\n%s", rec.ID, clarificationForStyle(content, "short")),
	}
}

func (d *Dispatcher) runSimulate(ctx context.Context, t *turn) *models.Message {
	rec, msg := d.loadRecord(ctx, t)
	if msg != nil {
		return msg
	}

	in := stages.SimulationInput{
		Report:          rec.Report,
		InputText:       rec.InputText,
		Platform:        argString(t.call, "platform"),
		TimeWindowHours: argInt(t.call, "time_window_hours", 24),
	}

	var simulation map[string]any
	ok := d.runStage(ctx, t, models.PhaseSimulate, func() (map[string]any, error) {
		simulation = t.orch.RunSimulation(ctx, in, func(subStage string, payload map[string]any) {
			sse.Stage(t.out, "simulate."+subStage, models.PhaseDone, payload)
		})
		return map[string]any{"simulation": simulation}, nil
	})
	if !ok {
		return nil
	}
	if err := d.history.AttachSimulation(ctx, rec.ID, simulation); err != nil {
		d.logger.Warn("failed to attach simulation", "record_id", rec.ID, "error", err)
	}

	summary := ""
	if sug, ok := simulation["suggestion"].(map[string]any); ok {
		summary, _ = sug["summary"].(string)
	}
	return &models.Message{
		Role:    models.RoleAssistant,
		Content: fmt.Sprintf("记录 %s 的舆情推演完成。%s", rec.ID, summary),
	}
}

func (d *Dispatcher) runHelp(t *turn) *models.Message {
	var b strings.Builder
	if t.call.Clarify {
		b.WriteString("我不确定你的意图，可以试试下面的命令：\n")
	}
	b.WriteString("可用命令：\n" +
		"- /analyze <文本> 完整核查\n" +
		"- /claims_only <文本> 仅抽取主张\n" +
		"- /evidence_only <文本> 仅检索证据\n" +
		"- /report_only <文本> 生成报告\n" +
		"- /list [数量] 查看历史记录\n" +
		"- /why [记录ID] 查看判定原因\n" +
		"- /simulate <记录ID> 舆情推演\n" +
		"- /content_generate <记录ID> 生成应对内容\n" +
		"长文本可直接粘贴，系统会自动核查。")
	return &models.Message{Role: models.RoleAssistant, Content: b.String()}
}

// loadRecord resolves the record_id argument; the second return value is a
// ready error message when the record cannot serve the turn.
func (d *Dispatcher) loadRecord(ctx context.Context, t *turn) (*models.HistoryRecord, *models.Message) {
	id := argString(t.call, "record_id")
	rec, err := d.history.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		// A bound record may have been deleted; lookups tolerate absence.
		return nil, &models.Message{Role: models.RoleAssistant, Content: recordMissingMessage}
	}
	if err != nil {
		d.logger.Warn("failed to load history record", "record_id", id, "error", err)
		return nil, &models.Message{Role: models.RoleAssistant, Content: "记录读取失败，请稍后重试。"}
	}
	return rec, nil
}

func recordClaims(rec *models.HistoryRecord, claimID string) []models.Claim {
	if rec.Report == nil {
		return nil
	}
	var claims []models.Claim
	for _, cr := range rec.Report.ClaimReports {
		if claimID == "" || cr.Claim.ClaimID == claimID {
			claims = append(claims, cr.Claim)
		}
	}
	return claims
}

func clarificationForStyle(content map[string]any, style string) string {
	clarification, ok := content["clarification"].(map[string]any)
	if !ok {
		return ""
	}
	key := "short"
	switch style {
	case "formal", "neutral":
		key = "medium"
	case "friendly", "casual":
		key = "short"
	}
	if text, ok := clarification[key].(string); ok && text != "" {
		return text
	}
	text, _ := clarification["short"].(string)
	return text
}

func labelText(label models.RiskLabel) string {
	switch label {
	case models.LabelCredible:
		return "基本可信"
	case models.LabelNeedsContext:
		return "需要上下文"
	case models.LabelSuspicious:
		return "可疑"
	case models.LabelLikelyMisinfo:
		return "疑似虚假信息"
	}
	return string(label)
}

func stanceText(stance models.Stance) string {
	switch stance {
	case models.StanceSupport:
		return "证据支持"
	case models.StanceRefute:
		return "证据反驳"
	}
	return "证据不足"
}

func argString(call models.ToolCall, key string) string {
	if v, ok := call.Args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(call models.ToolCall, key string, def int) int {
	switch v := call.Args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// bucketGet reads a phase payload bucket for an input hash.
func (d *Dispatcher) bucketGet(sess *models.Session, hash, phase string) (map[string]any, bool) {
	buckets, ok := sess.Meta[models.MetaPhaseBuckets].(map[string]any)
	if !ok {
		return nil, false
	}
	byPhase, ok := buckets[hash].(map[string]any)
	if !ok {
		return nil, false
	}
	payload, ok := byPhase[phase].(map[string]any)
	return payload, ok
}

// bucketPut merges one phase payload into the session's bucket map. The
// whole bucket key updates atomically under the session's meta lock.
func (d *Dispatcher) bucketPut(ctx context.Context, sess *models.Session, hash, phase string, payload map[string]any) {
	buckets, ok := sess.Meta[models.MetaPhaseBuckets].(map[string]any)
	if !ok {
		buckets = map[string]any{}
	}
	byPhase, ok := buckets[hash].(map[string]any)
	if !ok {
		byPhase = map[string]any{}
	}
	byPhase[phase] = normalizeJSON(payload)
	buckets[hash] = byPhase

	updated, err := d.sessions.UpdateMeta(ctx, sess.SessionID, map[string]any{
		models.MetaPhaseBuckets: buckets,
	})
	if err != nil {
		d.logger.Warn("failed to store phase bucket", "phase", phase, "error", err)
		return
	}
	sess.Meta = updated.Meta
}

// normalizeJSON round-trips a value through JSON so bucket payloads read
// back with the same shape whether they came from memory or the database.
func normalizeJSON(v map[string]any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func decodeClaimsPayload(payload map[string]any) ([]models.Claim, models.Strategy, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, models.Strategy{}, false
	}
	var decoded struct {
		Claims   []models.Claim  `json:"claims"`
		Strategy models.Strategy `json:"strategy"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil || len(decoded.Claims) == 0 {
		return nil, models.Strategy{}, false
	}
	return decoded.Claims, decoded.Strategy, true
}

func decodeEvidencePayload(payload map[string]any) (map[string][]models.Evidence, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	var decoded struct {
		Evidence map[string][]models.Evidence `json:"evidence"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil || len(decoded.Evidence) == 0 {
		return nil, false
	}
	return decoded.Evidence, true
}
