package stages

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/llm"
	"github.com/veracitylab/factgate/pkg/models"
)

// fakeCaller scripts LM responses by trace label. Missing labels return nil,
// which exercises the rule fallbacks.
type fakeCaller struct {
	responses map[string]map[string]any
	calls     []string
}

func (f *fakeCaller) CallJSON(_ context.Context, req llm.Request) map[string]any {
	f.calls = append(f.calls, req.TraceLabel)
	return f.responses[req.TraceLabel]
}

func testConfig() *config.Config {
	return &config.Config{
		Toggles: config.StageToggles{
			Risk: true, Alignment: true, Report: true, Simulation: true, EvidenceSummary: true,
		},
		Claims: config.ClaimConfig{Method: "default", MaxItems: 6, MinScore: 0.25},
		Search: config.SearchConfig{Enabled: true, TopK: 5},
		LM:     config.LMConfig{MaxRetries: 1},
	}
}

func TestRiskEngine_RulePath(t *testing.T) {
	engine := NewRiskEngine(nil, testConfig())

	t.Run("risky text scores low", func(t *testing.T) {
		snap := engine.Snapshot(context.Background(), "震惊！内部消息称100%真实，必须立即转发。")
		assert.Less(t, snap.PreliminaryScore, 55)
		assert.NotEmpty(t, snap.RiskTerms)
	})

	t.Run("neutral text stays neutral", func(t *testing.T) {
		snap := engine.Snapshot(context.Background(), "今天白天多云，夜间有小雨。")
		assert.Equal(t, 60, snap.PreliminaryScore)
		assert.Empty(t, snap.RiskTerms)
	})

	t.Run("strategy bounds hold", func(t *testing.T) {
		snap := engine.Snapshot(context.Background(), "短文本。")
		assert.GreaterOrEqual(t, snap.Strategy.MaxClaims, 2)
		assert.LessOrEqual(t, snap.Strategy.MaxClaims, 8)
		assert.Equal(t, models.ComplexitySimple, snap.Strategy.ComplexityLevel)
		assert.False(t, snap.Strategy.EnableSummarization)
	})

	t.Run("evidence fan-out widens with risk", func(t *testing.T) {
		risky := engine.Snapshot(context.Background(), "震惊！删前速看，内部消息，100%真实，不转不是中国人！")
		calm := engine.Snapshot(context.Background(), "官方通报称本次演练顺利完成。")
		assert.Greater(t, risky.Strategy.EvidencePerClaim, calm.Strategy.EvidencePerClaim)
	})
}

func TestRiskEngine_LMPathNormalized(t *testing.T) {
	fake := &fakeCaller{responses: map[string]map[string]any{
		"risk.snapshot": {
			"preliminary_score": float64(130),
			"scenario":          "HEALTH",
			"risk_terms":        []any{"震惊"},
		},
	}}
	engine := NewRiskEngine(fake, testConfig())
	snap := engine.Snapshot(context.Background(), "某疫苗导致大量不良反应")
	assert.Equal(t, 100, snap.PreliminaryScore)
	assert.Equal(t, models.ScenarioHealth, snap.Scenario)
	assert.Equal(t, []string{"震惊"}, snap.RiskTerms)
}

func TestClaimEngine_RulePath(t *testing.T) {
	engine := NewClaimEngine(nil, testConfig())
	strat := models.Strategy{MaxClaims: 4}

	t.Run("splits and indexes claims", func(t *testing.T) {
		claims := engine.Extract(context.Background(),
			"某市2024年3月5日报告了120例病例。卫健委发布了最新通报说明情况。", strat)
		require.NotEmpty(t, claims)
		assert.Equal(t, "c1", claims[0].ClaimID)
		for i, c := range claims {
			assert.Equalf(t, claims[i].ClaimID, c.ClaimID, "stable ids")
			assert.NotEmpty(t, c.ClaimText)
		}
	})

	t.Run("extracts metadata anchors", func(t *testing.T) {
		claims := engine.Extract(context.Background(), "北京市2024年3月5日新增病例120例，涉及多家医院。", strat)
		require.NotEmpty(t, claims)
		assert.Equal(t, "2024-03-05", claims[0].Time)
		assert.NotEmpty(t, claims[0].Value)
	})

	t.Run("filters pure opinion", func(t *testing.T) {
		claims := engine.Extract(context.Background(), "我觉得这个说法很不靠谱，完全不能信。", strat)
		// The opinion sentence is filtered; the catch-all covers the input.
		require.Len(t, claims, 1)
		assert.Equal(t, "c1", claims[0].ClaimID)
	})

	t.Run("catch-all on empty extraction", func(t *testing.T) {
		claims := engine.Extract(context.Background(), "短句。", strat)
		require.Len(t, claims, 1)
		assert.Equal(t, "短句。", claims[0].ClaimText)
	})

	t.Run("caps at max claims", func(t *testing.T) {
		text := "第一个城市报告了100例确诊病例。第二个城市报告了200例确诊病例。" +
			"第三个城市报告了300例确诊病例。第四个城市报告了400例确诊病例。" +
			"第五个城市报告了500例确诊病例。第六个城市报告了600例确诊病例。"
		claims := engine.Extract(context.Background(), text, models.Strategy{MaxClaims: 3})
		assert.LessOrEqual(t, len(claims), 3)
	})

	t.Run("dedups repeated sentences", func(t *testing.T) {
		claims := engine.Extract(context.Background(),
			"某地发生了7.0级地震。某地发生了7.0级地震！", strat)
		assert.Len(t, claims, 1)
	})
}

func TestClaimEngine_LMPath(t *testing.T) {
	fake := &fakeCaller{responses: map[string]map[string]any{
		"claims.default": {
			"claims": []any{
				map[string]any{"claim_text": "某市新增120例病例", "time": "2024-03-05"},
				map[string]any{"claim_text": ""},
			},
		},
	}}
	engine := NewClaimEngine(fake, testConfig())
	claims := engine.Extract(context.Background(), "长文本输入", models.Strategy{MaxClaims: 4})
	require.Len(t, claims, 1)
	assert.Equal(t, "c1", claims[0].ClaimID)
	assert.Equal(t, "某市新增120例病例", claims[0].ClaimText)
}

func TestEvidenceEngine_Placeholder(t *testing.T) {
	cfg := testConfig()
	cfg.Search.Enabled = false
	engine := NewEvidenceEngine(nil, cfg, slog.Default())
	claim := models.Claim{ClaimID: "c1", ClaimText: "某主张"}

	evidences := engine.Retrieve(context.Background(), claim, models.Strategy{EvidencePerClaim: 5})
	require.Len(t, evidences, 1)
	assert.Equal(t, models.StanceInsufficient, evidences[0].Stance)
	assert.Equal(t, "c1", evidences[0].ClaimID)
}

func TestHeuristicStance(t *testing.T) {
	claim := models.Claim{ClaimText: "某地疫苗有害"}
	tests := []struct {
		name   string
		ev     models.Evidence
		stance models.Stance
	}{
		{"refute terms win", models.Evidence{Title: "官方辟谣：疫苗有害说法不实", Relevance: 0.9}, models.StanceRefute},
		{"relevant official supports", models.Evidence{Title: "卫健委官方通报疫苗接种情况", Relevance: 0.6}, models.StanceSupport},
		{"low relevance insufficient", models.Evidence{Title: "官方发布会", Relevance: 0.2}, models.StanceInsufficient},
		{"no signals insufficient", models.Evidence{Title: "无关内容", Relevance: 0.9}, models.StanceInsufficient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.stance, heuristicStance(claim, tt.ev))
		})
	}
}

func TestSummarizeEngine_PassThrough(t *testing.T) {
	engine := NewSummarizeEngine(&fakeCaller{}, testConfig())
	claim := models.Claim{ClaimID: "c1", ClaimText: "主张"}
	strat := models.Strategy{EnableSummarization: true, SummaryTargetMax: 3}

	t.Run("single row passes through", func(t *testing.T) {
		in := []models.Evidence{{EvidenceID: "e1"}}
		assert.Equal(t, in, engine.Merge(context.Background(), claim, in, strat))
	})

	t.Run("LM failure passes through", func(t *testing.T) {
		in := []models.Evidence{{EvidenceID: "e1"}, {EvidenceID: "e2"}}
		assert.Equal(t, in, engine.Merge(context.Background(), claim, in, strat))
	})

	t.Run("already summarized passes through", func(t *testing.T) {
		in := []models.Evidence{
			{EvidenceID: "s1", SourceType: models.SourceWebSummary},
			{EvidenceID: "s2", SourceType: models.SourceWebSummary},
		}
		assert.Equal(t, in, engine.Merge(context.Background(), claim, in, strat))
	})

	t.Run("disabled passes through", func(t *testing.T) {
		in := []models.Evidence{{EvidenceID: "e1"}, {EvidenceID: "e2"}}
		assert.Equal(t, in, engine.Merge(context.Background(), claim, in, models.Strategy{}))
	})
}

func TestSummarizeEngine_Merge(t *testing.T) {
	fake := &fakeCaller{responses: map[string]map[string]any{
		"summarize.merge": {
			"summaries": []any{
				map[string]any{
					"summary_text":   "两家权威信源均已辟谣",
					"stance_hint":    "驳斥",
					"confidence":     0.8,
					"source_indices": []any{float64(1), float64(2)},
				},
			},
		},
	}}
	engine := NewSummarizeEngine(fake, testConfig())
	claim := models.Claim{ClaimID: "c1", ClaimText: "主张"}
	in := []models.Evidence{
		{EvidenceID: "e1", Title: "辟谣A", Source: "cdc.gov", URL: "https://cdc.gov/a", SourceWeight: 0.9},
		{EvidenceID: "e2", Title: "辟谣B", Source: "who.int", URL: "https://who.int/b", SourceWeight: 0.7},
		{EvidenceID: "e3", Title: "其他", Source: "who.int", URL: "https://who.int/b", SourceWeight: 0.5},
	}

	out := engine.Merge(context.Background(), claim, in, models.Strategy{EnableSummarization: true, SummaryTargetMax: 3})
	require.Len(t, out, 1)
	ev := out[0]
	assert.Equal(t, "s1", ev.EvidenceID)
	assert.Equal(t, models.SourceWebSummary, ev.SourceType)
	assert.Equal(t, models.StanceRefute, ev.Stance)
	assert.Equal(t, "https://cdc.gov/a", ev.URL)
	assert.Equal(t, "cdc.gov, who.int", ev.Source)
	assert.Equal(t, []string{"https://cdc.gov/a", "https://who.int/b"}, ev.SourceURLs)
	// avg(0.9, 0.7) * 0.8
	assert.InDelta(t, 0.64, ev.SourceWeight, 1e-9)
}

func TestAlignRule_Ladder(t *testing.T) {
	t.Run("risk plus refute terms refutes first", func(t *testing.T) {
		claim := models.Claim{ClaimText: "震惊！某地疫苗致死"}
		ev := models.Evidence{Title: "官方辟谣", Summary: "该消息不实", SourceWeight: 0.9}
		out := alignRule(claim, ev)
		assert.Equal(t, models.StanceRefute, out.Stance)
	})

	t.Run("official terms with overlap supports", func(t *testing.T) {
		claim := models.Claim{ClaimText: "卫健委通报新增病例"}
		ev := models.Evidence{Title: "卫健委官方通报", Summary: "通报新增病例情况", SourceWeight: 0.9}
		out := alignRule(claim, ev)
		assert.Equal(t, models.StanceSupport, out.Stance)
	})

	t.Run("near-zero overlap is insufficient", func(t *testing.T) {
		claim := models.Claim{ClaimText: "abcdef ghijkl"}
		ev := models.Evidence{Title: "完全无关的菜谱", Summary: "红烧肉做法", SourceWeight: 0.9}
		out := alignRule(claim, ev)
		assert.Equal(t, models.StanceInsufficient, out.Stance)
	})

	t.Run("inherits prior stance", func(t *testing.T) {
		claim := models.Claim{ClaimText: "某地新增病例一百例"}
		ev := models.Evidence{Title: "某地新增病例报道", Summary: "记录新增病例数字", SourceWeight: 0.8, Stance: models.StanceSupport}
		out := alignRule(claim, ev)
		assert.Equal(t, models.StanceSupport, out.Stance)
	})

	t.Run("default insufficient caps confidence", func(t *testing.T) {
		claim := models.Claim{ClaimText: "某地新增病例一百例"}
		ev := models.Evidence{Title: "某地新增病例讨论", Summary: "网友讨论新增病例", SourceWeight: 1.0, Stance: models.StanceInsufficient}
		out := alignRule(claim, ev)
		assert.Equal(t, models.StanceInsufficient, out.Stance)
		assert.LessOrEqual(t, out.AlignmentConfidence, 0.55)
	})
}

func TestAlignEngine_LMNormalizesStance(t *testing.T) {
	fake := &fakeCaller{responses: map[string]map[string]any{
		"align.stance": {"stance": "支持", "confidence": 1.7, "rationale": "信源一致"},
	}}
	engine := NewAlignEngine(fake, testConfig())
	out := engine.Align(context.Background(), models.Claim{ClaimText: "x"}, models.Evidence{})
	assert.Equal(t, models.StanceSupport, out.Stance)
	assert.Equal(t, 1.0, out.AlignmentConfidence)
	assert.Equal(t, "信源一致", out.AlignmentRationale)
}

func TestReportEngine_Deterministic(t *testing.T) {
	cfg := testConfig()
	cfg.Toggles.Report = false
	engine := NewReportEngine(nil, cfg)

	claims := []models.Claim{
		{ClaimID: "c1", ClaimText: "疫苗相关主张"},
		{ClaimID: "c2", ClaimText: "另一主张"},
	}
	evidence := map[string][]models.Evidence{
		"c1": {{Stance: models.StanceRefute, AlignmentConfidence: 0.8, Domain: "cdc.gov"}},
		"c2": {{Stance: models.StanceSupport, AlignmentConfidence: 0.7, Domain: "who.int"}},
	}

	report := engine.Build(context.Background(), claims, evidence)
	// 55 - 12 + 6
	assert.Equal(t, 49, report.RiskScore)
	assert.Equal(t, models.RiskHigh, report.RiskLevel)
	assert.Equal(t, models.LabelSuspicious, report.RiskLabel)
	assert.Equal(t, []string{"cdc.gov", "who.int"}, report.EvidenceDomains)
	require.Len(t, report.SuspiciousPoints, 1)
	assert.Contains(t, report.SuspiciousPoints[0], "claim 1")
	assert.Equal(t, models.ScenarioHealth, report.DetectedScenario)
	require.Len(t, report.ClaimReports, 2)
	assert.Equal(t, models.StanceRefute, report.ClaimReports[0].FinalStance)
}

func TestReportEngine_FallbackSuspiciousPoint(t *testing.T) {
	cfg := testConfig()
	cfg.Toggles.Report = false
	engine := NewReportEngine(nil, cfg)

	claims := []models.Claim{{ClaimID: "c1", ClaimText: "主张"}}
	evidence := map[string][]models.Evidence{
		"c1": {{Stance: models.StanceSupport, AlignmentConfidence: 0.9}},
	}
	report := engine.Build(context.Background(), claims, evidence)
	assert.Equal(t, 61, report.RiskScore)
	assert.Equal(t, []string{"none notable, keep monitoring"}, report.SuspiciousPoints)
}

func TestLevelLabelMapping(t *testing.T) {
	tests := []struct {
		score int
		level models.RiskLevel
		label models.RiskLabel
	}{
		{80, models.RiskLow, models.LabelCredible},
		{75, models.RiskLow, models.LabelCredible},
		{60, models.RiskMedium, models.LabelNeedsContext},
		{40, models.RiskHigh, models.LabelSuspicious},
		{10, models.RiskCritical, models.LabelLikelyMisinfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.level, models.LevelForScore(tt.score), "score %d", tt.score)
		assert.Equal(t, tt.label, models.LabelForScore(tt.score), "score %d", tt.score)
	}
}

func TestSimulationEngine_FallbackDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.Toggles.Simulation = false
	engine := NewSimulationEngine(nil, cfg)

	in := SimulationInput{
		Report:          &models.Report{RiskScore: 30, RiskLabel: models.LabelLikelyMisinfo},
		InputText:       "x",
		Platform:        "weibo",
		TimeWindowHours: 24,
	}

	var emitted []string
	first := engine.Run(context.Background(), in, func(sub string, _ map[string]any) {
		emitted = append(emitted, sub)
	})
	second := engine.Run(context.Background(), in, nil)

	assert.Equal(t, []string{"emotion", "narratives", "flashpoints", "suggestion"}, emitted)
	assert.Equal(t, first, second)

	suggestion, ok := first["suggestion"].(map[string]any)
	require.True(t, ok)
	actions, ok := suggestion["actions"].([]map[string]any)
	require.True(t, ok)
	assert.Equal(t, "urgent", actions[0]["priority"])
}

func TestContentEngine_Template(t *testing.T) {
	engine := NewContentEngine(&fakeCaller{}, testConfig())
	out := engine.Generate(context.Background(), ContentInput{
		Report:    &models.Report{RiskLabel: models.LabelSuspicious, RiskScore: 40, Summary: "摘要"},
		InputText: "x",
		Style:     "short",
	})
	clarification, ok := out["clarification"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, clarification["short"], "不实")
	assert.NotEmpty(t, out["faq"])
	assert.NotEmpty(t, out["platform_scripts"])
}

func TestDetectScenario(t *testing.T) {
	assert.Equal(t, models.ScenarioHealth, detectScenario([]string{"疫苗接种与病毒防护"}))
	assert.Equal(t, models.ScenarioSecurity, detectScenario([]string{"警惕新型电信诈骗与钓鱼链接"}))
	assert.Equal(t, models.ScenarioGeneral, detectScenario([]string{"完全中性的句子"}))
}
