package stages

import (
	"context"
	"fmt"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/llm"
	"github.com/veracitylab/factgate/pkg/models"
)

// SimulationEngine runs the four opinion-simulation sub-stages: emotion,
// narratives, flashpoints, suggestion. Each sub-stage emits through the
// callback as soon as it completes.
type SimulationEngine struct {
	lm  llm.Caller
	cfg *config.Config
}

// NewSimulationEngine creates a SimulationEngine.
func NewSimulationEngine(lm llm.Caller, cfg *config.Config) *SimulationEngine {
	return &SimulationEngine{lm: lm, cfg: cfg}
}

// SimulationInput parameterizes a simulation run.
type SimulationInput struct {
	Report          *models.Report
	InputText       string
	Platform        string
	TimeWindowHours int
}

// EmitFunc receives each completed sub-stage payload.
type EmitFunc func(subStage string, payload map[string]any)

var simulationSubStages = []string{"emotion", "narratives", "flashpoints", "suggestion"}

// Run executes the sub-stages in order. LM exhaustion for a sub-stage falls
// back to a payload deterministic in (risk_score, platform, time_window).
func (e *SimulationEngine) Run(ctx context.Context, in SimulationInput, emit EmitFunc) map[string]any {
	if in.TimeWindowHours <= 0 {
		in.TimeWindowHours = 24
	}
	if in.Platform == "" {
		in.Platform = "weibo"
	}

	result := make(map[string]any, len(simulationSubStages))
	for _, sub := range simulationSubStages {
		var payload map[string]any
		if e.cfg.Toggles.Simulation && e.lm != nil {
			payload = e.runLM(ctx, sub, in)
		}
		if payload == nil {
			payload = fallbackPayload(sub, in)
		}
		result[sub] = payload
		if emit != nil {
			emit(sub, payload)
		}
	}
	return result
}

var simulationPrompts = map[string]string{
	"emotion": `你是舆情情绪分析助手。预测该信息传播后的情绪与立场分布，严格输出 JSON：
{"emotions": {"愤怒": 0-1, "担忧": 0-1, "怀疑": 0-1, "平静": 0-1}, "stances": {"相信": 0-1, "质疑": 0-1, "观望": 0-1}, "drivers": ["驱动因素"]}`,
	"narratives": `你是叙事演化分析助手。预测可能出现的传播叙事，严格输出 JSON：
{"narratives": [{"title": "叙事标题", "stance": "叙事立场", "probability": 0-1, "trigger_keywords": ["关键词"], "sample_message": "示例帖子"}]}
所有 probability 之和不超过 1。`,
	"flashpoints": `你是舆情爆点预测助手。预测传播过程中的风险爆点与时间线，严格输出 JSON：
{"flashpoints": ["爆点描述"], "timeline": [{"hour": 小时数, "event": "事件描述"}]}`,
	"suggestion": `你是舆情处置建议助手。给出应对建议，严格输出 JSON：
{"summary": "总体建议", "actions": [{"priority": "urgent|high|medium", "category": "official|media|platform|user", "action": "具体动作"}]}`,
}

func (e *SimulationEngine) runLM(ctx context.Context, subStage string, in SimulationInput) map[string]any {
	user := fmt.Sprintf("信息：%s\n风险评分：%d（%s）\n平台：%s\n时间窗口：%d 小时",
		in.InputText, in.Report.RiskScore, in.Report.RiskLabel, in.Platform, in.TimeWindowHours)
	return e.lm.CallJSON(ctx, llm.Request{
		System:     simulationPrompts[subStage],
		User:       user,
		MaxRetries: e.cfg.LM.MaxRetries,
		RetryDelay: e.cfg.LM.RetryDelay,
		TraceLabel: "simulate." + subStage,
	})
}

// fallbackPayload is fully deterministic in (risk_score, platform,
// time_window_hours) so repeated runs on the same input agree.
func fallbackPayload(subStage string, in SimulationInput) map[string]any {
	score := in.Report.RiskScore
	risky := score < 55
	switch subStage {
	case "emotion":
		if risky {
			return map[string]any{
				"emotions": map[string]any{"愤怒": 0.35, "担忧": 0.3, "怀疑": 0.2, "平静": 0.15},
				"stances":  map[string]any{"相信": 0.4, "质疑": 0.35, "观望": 0.25},
				"drivers":  []string{"信息煽动性强", "缺乏权威信源背书"},
			}
		}
		return map[string]any{
			"emotions": map[string]any{"愤怒": 0.1, "担忧": 0.2, "怀疑": 0.2, "平静": 0.5},
			"stances":  map[string]any{"相信": 0.5, "质疑": 0.2, "观望": 0.3},
			"drivers":  []string{"信息风险较低", "传播动力有限"},
		}
	case "narratives":
		narratives := []map[string]any{{
			"title":            "原始信息扩散",
			"stance":           "传播",
			"probability":      0.5,
			"trigger_keywords": []string{"转发", "扩散"},
			"sample_message":   fmt.Sprintf("在%s上看到的，大家怎么看？", in.Platform),
		}}
		if risky {
			narratives = append(narratives, map[string]any{
				"title":            "质疑与辟谣声音",
				"stance":           "质疑",
				"probability":      0.3,
				"trigger_keywords": []string{"辟谣", "求证"},
				"sample_message":   "这个消息有官方来源吗？",
			})
		}
		return map[string]any{"narratives": narratives}
	case "flashpoints":
		timeline := []map[string]any{
			{"hour": 1, "event": "初始扩散期"},
			{"hour": in.TimeWindowHours / 2, "event": "讨论峰值"},
			{"hour": in.TimeWindowHours, "event": "热度回落"},
		}
		points := []string{"传播量随转发链增长"}
		if risky {
			points = append(points, "若权威信源迟迟不回应，质疑情绪可能升级")
		}
		return map[string]any{"flashpoints": points, "timeline": timeline}
	default: // suggestion
		actions := []map[string]any{
			{"priority": "medium", "category": "platform", "action": "持续监测传播趋势"},
			{"priority": "medium", "category": "user", "action": "提示用户核实信源后再转发"},
		}
		summary := "当前风险可控，保持常规监测。"
		if risky {
			actions = append([]map[string]any{
				{"priority": "urgent", "category": "official", "action": "发布权威通报澄清事实"},
				{"priority": "high", "category": "media", "action": "联动主流媒体转发辟谣内容"},
			}, actions...)
			summary = fmt.Sprintf("风险较高，建议在 %d 小时窗口内尽快权威回应。", in.TimeWindowHours)
		}
		return map[string]any{"summary": summary, "actions": actions}
	}
}
