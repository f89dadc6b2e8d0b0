package stages

import (
	"context"
	"fmt"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/llm"
	"github.com/veracitylab/factgate/pkg/models"
)

// ContentEngine generates response content bound to a finished report:
// clarification texts, an FAQ, and platform scripts.
type ContentEngine struct {
	lm  llm.Caller
	cfg *config.Config
}

// NewContentEngine creates a ContentEngine.
func NewContentEngine(lm llm.Caller, cfg *config.Config) *ContentEngine {
	return &ContentEngine{lm: lm, cfg: cfg}
}

// ContentInput parameterizes content generation. Simulation is optional;
// Report is required and enforced by the caller.
type ContentInput struct {
	Report     *models.Report
	Simulation map[string]any
	InputText  string
	Style      string // short | medium | long | formal
}

const contentPrompt = `你是辟谣内容撰写助手。基于核查报告生成应对内容，严格输出 JSON：
{"clarification": {"short": "一句话澄清", "medium": "一段话澄清", "long": "完整澄清文章"},
 "faq": [{"question": "常见疑问", "answer": "回答"}],
 "platform_scripts": [{"platform": "weibo|wechat|douyin", "script": "平台话术"}]}`

// Generate produces the content payload. LM failure lands on a template
// deterministic in the report verdict.
func (e *ContentEngine) Generate(ctx context.Context, in ContentInput) map[string]any {
	if e.lm != nil {
		user := fmt.Sprintf("原始信息：%s\n核查结论：%s（评分 %d）\n报告摘要：%s\n风格：%s",
			in.InputText, in.Report.RiskLabel, in.Report.RiskScore, in.Report.Summary, in.Style)
		if obj := e.lm.CallJSON(ctx, llm.Request{
			System:     contentPrompt,
			User:       user,
			TraceLabel: "content.generate",
		}); obj != nil && mapField(obj, "clarification") != nil {
			return obj
		}
	}
	return templateContent(in)
}

func templateContent(in ContentInput) map[string]any {
	verdict := "该信息证据不足，请以权威信源为准。"
	if in.Report.RiskLabel == models.LabelLikelyMisinfo || in.Report.RiskLabel == models.LabelSuspicious {
		verdict = "该信息经核查存在不实成分，请勿轻信转发。"
	} else if in.Report.RiskLabel == models.LabelCredible {
		verdict = "该信息经核查基本属实。"
	}

	medium := fmt.Sprintf("%s%s", verdict, in.Report.Summary)
	long := fmt.Sprintf("%s\n\n核查详情：%s\n\n建议：转发前核实信源，关注官方通报。", verdict, in.Report.Summary)

	return map[string]any{
		"clarification": map[string]any{
			"short":  verdict,
			"medium": medium,
			"long":   long,
		},
		"faq": []map[string]any{
			{"question": "这个消息是真的吗？", "answer": verdict},
			{"question": "应该怎么做？", "answer": "以官方通报为准，不传播未经证实的信息。"},
		},
		"platform_scripts": []map[string]any{
			{"platform": "weibo", "script": "【核查提示】" + verdict},
			{"platform": "wechat", "script": "提醒各位：" + verdict},
		},
	}
}
