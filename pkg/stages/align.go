package stages

import (
	"context"
	"fmt"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/llm"
	"github.com/veracitylab/factgate/pkg/models"
	"github.com/veracitylab/factgate/pkg/textutil"
)

// AlignEngine judges the stance of each evidence row against its claim.
type AlignEngine struct {
	lm  llm.Caller
	cfg *config.Config
}

// NewAlignEngine creates an AlignEngine.
func NewAlignEngine(lm llm.Caller, cfg *config.Config) *AlignEngine {
	return &AlignEngine{lm: lm, cfg: cfg}
}

const alignPrompt = `你是立场判定助手。判断证据对主张的立场，严格输出 JSON：
{"stance": "support|refute|insufficient", "confidence": 0-1, "rationale": "一句话理由"}`

// Align annotates one evidence row with stance, confidence, and rationale.
// The LM path is tried when enabled; any failure lands on the rule ladder.
func (e *AlignEngine) Align(ctx context.Context, claim models.Claim, ev models.Evidence) models.Evidence {
	if e.cfg.Toggles.Alignment && e.lm != nil {
		if aligned, ok := e.alignLM(ctx, claim, ev); ok {
			return aligned
		}
	}
	return alignRule(claim, ev)
}

func (e *AlignEngine) alignLM(ctx context.Context, claim models.Claim, ev models.Evidence) (models.Evidence, bool) {
	obj := e.lm.CallJSON(ctx, llm.Request{
		System:     alignPrompt,
		User:       fmt.Sprintf("主张：%s\n证据标题：%s\n证据内容：%s", claim.ClaimText, ev.Title, ev.Summary),
		TraceLabel: "align.stance",
	})
	if obj == nil {
		return ev, false
	}
	raw := stringField(obj, "stance")
	if raw == "" {
		return ev, false
	}
	ev.Stance = models.NormalizeStance(raw)
	ev.AlignmentConfidence = models.Clamp01(floatField(obj, "confidence", 0.5))
	ev.AlignmentRationale = stringField(obj, "rationale")
	return ev, true
}

// alignRule applies the priority ladder. The ordering is normative: the
// first rule that fires wins.
func alignRule(claim models.Claim, ev models.Evidence) models.Evidence {
	evText := ev.Title + " " + ev.Summary
	overlap := textutil.Overlap(claim.ClaimText, evText)
	combined := 0.55*overlap + 0.45*models.Clamp01(ev.SourceWeight)

	switch {
	case containsAny(claim.ClaimText, riskTerms) && containsAny(evText, refuteTerms):
		ev.Stance = models.StanceRefute
		ev.AlignmentConfidence = models.Clamp01(combined + 0.2)
		ev.AlignmentRationale = "主张含风险用语且证据为辟谣内容"
	case containsAny(evText, officialTerms) && overlap >= 0.15:
		ev.Stance = models.StanceSupport
		ev.AlignmentConfidence = models.Clamp01(combined + 0.1)
		ev.AlignmentRationale = "权威信源且与主张重合度较高"
	case overlap < 0.08:
		ev.Stance = models.StanceInsufficient
		ev.AlignmentConfidence = models.Clamp01(combined)
		ev.AlignmentRationale = "证据与主张重合度过低"
	case ev.Stance == models.StanceSupport || ev.Stance == models.StanceRefute:
		// Inherit the heuristic stance from retrieval or summarization.
		ev.AlignmentConfidence = models.Clamp01(combined)
		ev.AlignmentRationale = "沿用检索阶段的初步立场"
	default:
		ev.Stance = models.StanceInsufficient
		if combined > 0.55 {
			combined = 0.55
		}
		ev.AlignmentConfidence = models.Clamp01(combined)
		ev.AlignmentRationale = "无明确支持或反驳信号"
	}
	return ev
}
