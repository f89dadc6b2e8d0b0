// Package intent turns raw chat input into a tool call. Slash commands are
// parsed exactly; natural language goes through the analyze heuristic and a
// small set of regex patterns; everything else resolves to help with a
// clarify flag.
package intent

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/veracitylab/factgate/pkg/models"
)

// analyzeLengthThreshold is the natural-language length at which bare text
// is treated as an analyze request.
const analyzeLengthThreshold = 180

// slashCommands maps each slash prefix to its tool. Longer prefixes are
// matched first so /content_generate wins over /content.
var slashCommands = []struct {
	prefix string
	tool   string
}{
	{"/load_history", models.ToolLoadHistory},
	{"/more_evidence", models.ToolMoreEvidence},
	{"/claims_only", models.ToolClaimsOnly},
	{"/evidence_only", models.ToolEvidenceOnly},
	{"/align_only", models.ToolAlignOnly},
	{"/report_only", models.ToolReportOnly},
	{"/content_generate", models.ToolContentGen},
	{"/content_show", models.ToolContentGen},
	{"/content", models.ToolContentGen},
	{"/deep_dive", models.ToolDeepDive},
	{"/simulate", models.ToolSimulate},
	{"/compare", models.ToolCompare},
	{"/rewrite", models.ToolRewrite},
	{"/analyze", models.ToolAnalyze},
	{"/export", models.ToolExport},
	{"/list", models.ToolList},
	{"/help", models.ToolHelp},
	{"/why", models.ToolWhy},
}

// nlPatterns are natural-language intent patterns, tried in order.
var nlPatterns = []struct {
	re   *regexp.Regexp
	tool string
}{
	{regexp.MustCompile(`(?i)why|为什么.*判定|为何.*判定|判定.*原因`), models.ToolWhy},
	{regexp.MustCompile(`(?i)对比|比较|compare`), models.ToolCompare},
	{regexp.MustCompile(`补充.*证据|更多证据|再找.*证据`), models.ToolMoreEvidence},
	{regexp.MustCompile(`生成.*应对|生成.*澄清|生成.*辟谣`), models.ToolContentGen},
	{regexp.MustCompile(`模拟.*舆情|舆情.*推演`), models.ToolSimulate},
	{regexp.MustCompile(`(?i)怎么用|帮助|使用说明|help`), models.ToolHelp},
	{regexp.MustCompile(`历史记录|查看记录|之前的分析`), models.ToolList},
}

// SessionMeta is the subset of session state the parser consults for
// argument fallbacks.
type SessionMeta struct {
	RecordID      string
	BoundRecordID string
}

// Parse resolves raw input to a tool call. The decision order is slash
// prefix, analyze heuristic, natural-language patterns, then help+clarify.
func Parse(raw string, meta SessionMeta) models.ToolCall {
	text := strings.TrimSpace(raw)

	// Leading "//" escapes the slash: treat as literal text.
	if strings.HasPrefix(text, "//") {
		return applyFallbacks(analyzeOrClarify(strings.TrimPrefix(text, "/")), meta)
	}

	if strings.HasPrefix(text, "/") {
		return applyFallbacks(parseSlash(text), meta)
	}

	if len([]rune(text)) >= analyzeLengthThreshold {
		return applyFallbacks(models.ToolCall{
			ToolName: models.ToolAnalyze,
			Args:     map[string]any{"text": text},
		}, meta)
	}

	for _, p := range nlPatterns {
		if p.re.MatchString(text) {
			call := models.ToolCall{ToolName: p.tool, Args: map[string]any{"text": text}}
			call = moreEvidenceGuard(call, text)
			return applyFallbacks(call, meta)
		}
	}

	return applyFallbacks(models.ToolCall{
		ToolName: models.ToolHelp,
		Args:     map[string]any{"clarify": true},
		Clarify:  true,
	}, meta)
}

func analyzeOrClarify(text string) models.ToolCall {
	if strings.TrimSpace(text) == "" {
		return models.ToolCall{ToolName: models.ToolHelp, Args: map[string]any{"clarify": true}, Clarify: true}
	}
	return models.ToolCall{ToolName: models.ToolAnalyze, Args: map[string]any{"text": text}}
}

func parseSlash(text string) models.ToolCall {
	for _, cmd := range slashCommands {
		if text != cmd.prefix && !strings.HasPrefix(text, cmd.prefix+" ") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(text, cmd.prefix))
		call := models.ToolCall{ToolName: cmd.tool, Args: map[string]any{}}
		fillArgs(&call, payload)
		return moreEvidenceGuard(call, payload)
	}
	// Unknown slash command.
	return models.ToolCall{ToolName: models.ToolHelp, Args: map[string]any{"clarify": true}, Clarify: true}
}

// fillArgs maps the slash payload onto the tool's argument shape.
func fillArgs(call *models.ToolCall, payload string) {
	fields := strings.Fields(payload)
	switch call.ToolName {
	case models.ToolAnalyze, models.ToolClaimsOnly, models.ToolEvidenceOnly,
		models.ToolAlignOnly, models.ToolReportOnly, models.ToolCompare:
		call.Args["text"] = payload
	case models.ToolLoadHistory, models.ToolWhy, models.ToolExport:
		if len(fields) > 0 {
			call.Args["record_id"] = fields[0]
		}
	case models.ToolDeepDive, models.ToolMoreEvidence:
		if len(fields) > 0 {
			call.Args["record_id"] = fields[0]
		}
		if len(fields) > 1 {
			call.Args["claim_id"] = fields[1]
		}
	case models.ToolRewrite, models.ToolContentGen:
		if len(fields) > 0 {
			call.Args["record_id"] = fields[0]
		}
		if len(fields) > 1 {
			call.Args["style"] = fields[1]
		}
	case models.ToolSimulate:
		if len(fields) > 0 {
			call.Args["record_id"] = fields[0]
		}
		if len(fields) > 1 {
			call.Args["platform"] = fields[1]
		}
		if len(fields) > 2 {
			if hours, err := strconv.Atoi(fields[2]); err == nil {
				call.Args["time_window_hours"] = hours
			}
		}
	case models.ToolList:
		if len(fields) > 0 {
			if limit, err := strconv.Atoi(fields[0]); err == nil {
				call.Args["limit"] = limit
			}
		}
	}
}

// moreEvidenceGuard overrides more_evidence to evidence_only when the text
// carries a long payload after a colon: the user pasted new material rather
// than asking to extend an existing record.
func moreEvidenceGuard(call models.ToolCall, text string) models.ToolCall {
	if call.ToolName != models.ToolMoreEvidence {
		return call
	}
	idx := strings.IndexAny(text, ":：")
	if idx < 0 {
		return call
	}
	_, size := utf8.DecodeRuneInString(text[idx:])
	payload := strings.TrimSpace(text[idx+size:])
	if len([]rune(payload)) < 30 {
		return call
	}
	return models.ToolCall{
		ToolName: models.ToolEvidenceOnly,
		Args:     map[string]any{"text": payload},
	}
}

// applyFallbacks merges session-meta defaults into the parsed call.
func applyFallbacks(call models.ToolCall, meta SessionMeta) models.ToolCall {
	switch call.ToolName {
	case models.ToolWhy, models.ToolDeepDive, models.ToolExport, models.ToolMoreEvidence,
		models.ToolRewrite, models.ToolContentGen, models.ToolSimulate, models.ToolLoadHistory:
		if _, ok := call.Args["record_id"]; !ok {
			if id := firstNonEmpty(meta.RecordID, meta.BoundRecordID); id != "" {
				call.Args["record_id"] = id
			}
		}
	}
	switch call.ToolName {
	case models.ToolRewrite, models.ToolContentGen:
		if _, ok := call.Args["style"]; !ok {
			call.Args["style"] = "short"
		}
	}
	return call
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
