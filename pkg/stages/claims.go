package stages

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/llm"
	"github.com/veracitylab/factgate/pkg/models"
	"github.com/veracitylab/factgate/pkg/textutil"
)

// ClaimEngine extracts checkable claims from input text. Three paths share
// one post-processing pipeline: the single-call default prompt, the
// three-call claimify ladder, and the rule fallback.
type ClaimEngine struct {
	lm  llm.Caller
	cfg *config.Config
}

// NewClaimEngine creates a ClaimEngine.
func NewClaimEngine(lm llm.Caller, cfg *config.Config) *ClaimEngine {
	return &ClaimEngine{lm: lm, cfg: cfg}
}

// Extract returns at least one claim for any non-empty input. LM failures
// fall back to the rule path; a rule path yielding nothing produces a
// single catch-all claim covering the whole input.
func (e *ClaimEngine) Extract(ctx context.Context, text string, strat models.Strategy) []models.Claim {
	maxClaims := strat.MaxClaims
	if maxClaims <= 0 {
		maxClaims = e.cfg.Claims.MaxItems
	}

	var claims []models.Claim
	if e.lm != nil {
		if e.cfg.Claims.Method == "claimify" {
			claims = e.extractClaimify(ctx, text, maxClaims)
		} else {
			claims = e.extractDefault(ctx, text, maxClaims)
		}
	}
	if len(claims) == 0 {
		claims = e.extractRule(text)
	}
	return e.finalize(text, claims, maxClaims)
}

const defaultClaimPrompt = `你是主张抽取助手。从输入文本中抽取可核查的事实主张，严格输出 JSON：
{"claims": [{"claim_text": "主张内容", "entity": "主体", "time": "YYYY-MM-DD 或空", "location": "地点", "value": "数值", "source_sentence": "原句"}]}
只保留可以被证据证实或证伪的陈述，忽略纯观点。`

func (e *ClaimEngine) extractDefault(ctx context.Context, text string, maxClaims int) []models.Claim {
	obj := e.lm.CallJSON(ctx, llm.Request{
		System:     defaultClaimPrompt,
		User:       fmt.Sprintf("最多抽取 %d 条主张。\n\n%s", maxClaims, text),
		TraceLabel: "claims.default",
	})
	if obj == nil {
		return nil
	}
	return parseClaimList(sliceField(obj, "claims"))
}

const (
	claimifySelectPrompt = `你是文本改写助手。将输入文本拆分为独立、消歧后的陈述句，每句可脱离上下文理解。严格输出 JSON：{"sentences": ["句子1", "句子2"]}`
	claimifyDecompPrompt = `你是主张分解助手。将每个句子分解为原子事实主张，严格输出 JSON：
{"claims": [{"claim_text": "主张", "entity": "主体", "time": "YYYY-MM-DD 或空", "location": "地点", "value": "数值", "source_sentence": "来源句"}]}`
	claimifyRankPrompt = `你是主张排序助手。从候选主张中选出最值得核查的若干条，可合并重复项。严格输出 JSON：
{"selected": [{"claim_text": "主张", "source_indices": [1, 2]}]}
source_indices 引用输入列表的序号（从 1 开始）。`
)

// extractClaimify runs the three-call ladder: selection and disambiguation,
// decomposition, then ranking with merge. Any call failing aborts the whole
// ladder so the caller falls back to the rule path.
func (e *ClaimEngine) extractClaimify(ctx context.Context, text string, maxClaims int) []models.Claim {
	selObj := e.lm.CallJSON(ctx, llm.Request{
		System:     claimifySelectPrompt,
		User:       text,
		TraceLabel: "claims.claimify_select",
	})
	if selObj == nil {
		return nil
	}
	var sentences []string
	for _, v := range sliceField(selObj, "sentences") {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			sentences = append(sentences, strings.TrimSpace(s))
		}
	}
	if len(sentences) == 0 {
		return nil
	}

	decompObj := e.lm.CallJSON(ctx, llm.Request{
		System:     claimifyDecompPrompt,
		User:       indentJSON(sentences),
		TraceLabel: "claims.claimify_decompose",
	})
	if decompObj == nil {
		return nil
	}
	decomposed := parseClaimList(sliceField(decompObj, "claims"))
	if len(decomposed) == 0 {
		return nil
	}

	texts := make([]string, len(decomposed))
	for i, c := range decomposed {
		texts[i] = c.ClaimText
	}
	rankObj := e.lm.CallJSON(ctx, llm.Request{
		System:     claimifyRankPrompt,
		User:       fmt.Sprintf("最多保留 %d 条。\n%s", maxClaims, indentJSON(texts)),
		TraceLabel: "claims.claimify_rank",
	})
	if rankObj == nil {
		return nil
	}

	var merged []models.Claim
	for _, v := range sliceField(rankObj, "selected") {
		item, ok := v.(map[string]any)
		if !ok {
			continue
		}
		claim := models.Claim{ClaimText: stringField(item, "claim_text")}
		// Inherit metadata from the first referenced decomposed claim.
		for _, idx := range sliceField(item, "source_indices") {
			if f, ok := idx.(float64); ok {
				i := int(f) - 1
				if i >= 0 && i < len(decomposed) {
					src := decomposed[i]
					claim.Entity = src.Entity
					claim.Time = src.Time
					claim.Location = src.Location
					claim.Value = src.Value
					claim.SourceSentence = src.SourceSentence
					break
				}
			}
		}
		merged = append(merged, claim)
	}
	return merged
}

func parseClaimList(items []any) []models.Claim {
	var claims []models.Claim
	for _, v := range items {
		item, ok := v.(map[string]any)
		if !ok {
			continue
		}
		claims = append(claims, models.Claim{
			ClaimText:      stringField(item, "claim_text"),
			Entity:         stringField(item, "entity"),
			Time:           stringField(item, "time"),
			Location:       stringField(item, "location"),
			Value:          stringField(item, "value"),
			SourceSentence: stringField(item, "source_sentence"),
		})
	}
	return claims
}

var (
	sentenceSplitRE = regexp.MustCompile(`[。！？!?；;\n]+`)
	timeRE          = regexp.MustCompile(`\d{4}[-/年]\d{1,2}[-/月]\d{1,2}日?|\d{4}-\d{2}-\d{2}`)
	valueRE         = regexp.MustCompile(`\d+(?:\.\d+)?\s*[%％万亿千百]?`)
	entityRE        = regexp.MustCompile(`(?:[A-Z][A-Za-z]+(?:\s[A-Z][A-Za-z]+)?)|(?:(?:某|该)?(?:公司|部门|政府|医院|大学|机构|平台)|卫健委|疾控中心|世卫组织|教育部|公安部)`)
	locationRE      = regexp.MustCompile(`(?:北京|上海|广州|深圳|武汉|[\p{Han}]{2,6}(?:省|市|县|区))`)
	opinionRE       = regexp.MustCompile(`^(?:我觉得|我认为|我感觉|个人认为|依我看|i think|i believe|in my opinion)`)
)

func splitSentences(text string) []string {
	var sentences []string
	for _, s := range sentenceSplitRE.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// isNonVerifiable flags first-person opinion with no anchoring number or
// date: nothing a search could confirm or refute.
func isNonVerifiable(sentence string) bool {
	lower := strings.ToLower(strings.TrimSpace(sentence))
	if !opinionRE.MatchString(lower) {
		return false
	}
	return !valueRE.MatchString(sentence) && !timeRE.MatchString(sentence)
}

// extractRule is the deterministic fallback: sentence split, opinion filter,
// regex metadata extraction, check-worthiness scoring.
func (e *ClaimEngine) extractRule(text string) []models.Claim {
	var claims []models.Claim
	for _, sentence := range splitSentences(text) {
		if len([]rune(sentence)) < 8 || isNonVerifiable(sentence) {
			continue
		}
		claim := models.Claim{
			ClaimText:      sentence,
			Entity:         entityRE.FindString(sentence),
			Time:           normalizeDate(timeRE.FindString(sentence)),
			Location:       locationRE.FindString(sentence),
			Value:          valueRE.FindString(sentence),
			SourceSentence: sentence,
		}
		claim.Score = scoreClaim(claim)
		if claim.Score < e.cfg.Claims.MinScore {
			continue
		}
		claims = append(claims, claim)
	}
	sort.SliceStable(claims, func(i, j int) bool { return claims[i].Score > claims[j].Score })
	return claims
}

// scoreClaim rates check-worthiness: each extracted anchor adds weight,
// risk-term phrasing adds more, over-long sentences lose a little.
func scoreClaim(c models.Claim) float64 {
	score := 0.2
	if c.Entity != "" {
		score += 0.2
	}
	if c.Time != "" {
		score += 0.15
	}
	if c.Value != "" {
		score += 0.25
	}
	if c.Location != "" {
		score += 0.1
	}
	if containsAny(c.ClaimText, riskTerms) {
		score += 0.15
	}
	if len([]rune(c.ClaimText)) > 120 {
		score -= 0.08
	}
	return models.Clamp01(score)
}

var dateNormRE = regexp.MustCompile(`(\d{4})[-/年](\d{1,2})[-/月](\d{1,2})日?`)

func normalizeDate(raw string) string {
	m := dateNormRE.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return fmt.Sprintf("%s-%s-%s", m[1], pad2(m[2]), pad2(m[3]))
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// finalize is the shared post-processing: normalize text, dedup by
// normalized key, re-index as c1..cN, cap at maxClaims. An empty result
// becomes one catch-all claim for the whole trimmed input.
func (e *ClaimEngine) finalize(text string, claims []models.Claim, maxClaims int) []models.Claim {
	seen := map[string]bool{}
	out := make([]models.Claim, 0, len(claims))
	for _, c := range claims {
		c.ClaimText = models.NormalizeClaimText(c.ClaimText)
		if c.ClaimText == "" {
			continue
		}
		key := textutil.NormalizeKey(c.ClaimText)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if len(out) == maxClaims {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, models.Claim{
			ClaimText:      models.NormalizeClaimText(text),
			SourceSentence: strings.TrimSpace(text),
			Score:          0.3,
		})
	}
	for i := range out {
		out[i].ClaimID = fmt.Sprintf("c%d", i+1)
	}
	return out
}
