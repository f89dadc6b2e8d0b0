package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/llm"
	"github.com/veracitylab/factgate/pkg/models"
)

// SummarizeEngine merges a claim's evidence list into a few condensed rows.
type SummarizeEngine struct {
	lm  llm.Caller
	cfg *config.Config
}

// NewSummarizeEngine creates a SummarizeEngine.
func NewSummarizeEngine(lm llm.Caller, cfg *config.Config) *SummarizeEngine {
	return &SummarizeEngine{lm: lm, cfg: cfg}
}

const summarizePrompt = `你是证据归并助手。将同一主张下的多条证据合并为少量摘要条目，严格输出 JSON：
{"summaries": [{"summary_text": "摘要", "stance_hint": "support|refute|insufficient", "confidence": 0-1, "source_indices": [1, 2]}]}
source_indices 引用输入证据的序号（从 1 开始）。`

// Merge condenses evidences into 1..SummaryTargetMax merged rows. It is a
// no-op when summarization is off, when fewer than two rows exist, or when
// the list was already summarized. LM failure passes the input through
// unchanged.
func (e *SummarizeEngine) Merge(ctx context.Context, claim models.Claim, evidences []models.Evidence, strat models.Strategy) []models.Evidence {
	if !strat.EnableSummarization || len(evidences) < 2 || e.lm == nil {
		return evidences
	}
	for _, ev := range evidences {
		if ev.SourceType == models.SourceWebSummary {
			return evidences
		}
	}

	lines := make([]string, len(evidences))
	for i, ev := range evidences {
		lines[i] = fmt.Sprintf("[%s] %s：%s", ev.Source, ev.Title, ev.Summary)
	}
	targetMax := strat.SummaryTargetMax
	if targetMax <= 0 {
		targetMax = 3
	}

	obj := e.lm.CallJSON(ctx, llm.Request{
		System:     summarizePrompt,
		User:       fmt.Sprintf("主张：%s\n最多输出 %d 条摘要。\n证据：\n%s", claim.ClaimText, targetMax, indentJSON(lines)),
		TraceLabel: "summarize.merge",
	})
	if obj == nil {
		return evidences
	}

	items := sliceField(obj, "summaries")
	if len(items) == 0 || len(items) > targetMax {
		return evidences
	}

	merged := make([]models.Evidence, 0, len(items))
	for i, v := range items {
		item, ok := v.(map[string]any)
		if !ok {
			return evidences
		}
		summaryText := stringField(item, "summary_text")
		if summaryText == "" {
			return evidences
		}

		sources := resolveSources(evidences, sliceField(item, "source_indices"))
		if len(sources) == 0 {
			sources = evidences
		}
		confidence := models.Clamp01(floatField(item, "confidence", 0.5))

		merged = append(merged, models.Evidence{
			EvidenceID:   fmt.Sprintf("s%d", i+1),
			ClaimID:      claim.ClaimID,
			Title:        sources[0].Title,
			Source:       joinUniqueSources(sources),
			URL:          sources[0].URL,
			PublishedAt:  sources[0].PublishedAt,
			Summary:      summaryText,
			Stance:       models.NormalizeStance(stringField(item, "stance_hint")),
			SourceWeight: mergedWeight(sources, confidence),
			SourceType:   models.SourceWebSummary,
			RetrievedAt:  sources[0].RetrievedAt,
			Domain:       sources[0].Domain,
			RawSnippet:   strings.Join(uniqueURLs(sources, 0), "\n"),
			SourceURLs:   uniqueURLs(sources, 10),
		})
	}
	return merged
}

func resolveSources(evidences []models.Evidence, indices []any) []models.Evidence {
	var sources []models.Evidence
	for _, idx := range indices {
		if f, ok := idx.(float64); ok {
			i := int(f) - 1
			if i >= 0 && i < len(evidences) {
				sources = append(sources, evidences[i])
			}
		}
	}
	return sources
}

// mergedWeight averages the source weights, discounted by LM confidence
// with a 0.3 floor so a shaky summary never zeroes out strong sources.
func mergedWeight(sources []models.Evidence, confidence float64) float64 {
	var sum float64
	for _, ev := range sources {
		sum += ev.SourceWeight
	}
	avg := sum / float64(len(sources))
	factor := confidence
	if factor < 0.3 {
		factor = 0.3
	}
	return models.Clamp01(avg * factor)
}

func joinUniqueSources(sources []models.Evidence) string {
	seen := map[string]bool{}
	var names []string
	for _, ev := range sources {
		if ev.Source != "" && !seen[ev.Source] {
			seen[ev.Source] = true
			names = append(names, ev.Source)
		}
	}
	return strings.Join(names, ", ")
}

// uniqueURLs keeps URLs in insertion order, first occurrence wins; limit 0
// means unbounded.
func uniqueURLs(sources []models.Evidence, limit int) []string {
	seen := map[string]bool{}
	var urls []string
	for _, ev := range sources {
		if ev.URL == "" || seen[ev.URL] {
			continue
		}
		seen[ev.URL] = true
		urls = append(urls, ev.URL)
		if limit > 0 && len(urls) == limit {
			break
		}
	}
	return urls
}
