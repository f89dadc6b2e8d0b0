package stages

import (
	"strings"

	"github.com/veracitylab/factgate/pkg/models"
)

// Lexicons driving the rule paths. The LM paths use these only indirectly
// (for post-hoc normalization); the rule paths treat them as normative.

// riskTerms mark sensational/urgency phrasing typical of misinformation.
var riskTerms = []string{
	"震惊", "速看", "紧急", "必须转发", "马上转发", "立即转发", "内部消息",
	"100%真实", "绝对真实", "千真万确", "不转不是", "删前速看", "惊人内幕",
	"breaking", "shocking", "must share", "100% true", "insider info",
}

// refuteTerms signal rumor-control or debunking content.
var refuteTerms = []string{
	"辟谣", "谣言", "不实", "虚假", "造谣", "不属实", "系误传", "已证伪",
	"rumor", "debunk", "false claim", "fact check", "misinformation",
}

// officialTerms signal authoritative sources or statements.
var officialTerms = []string{
	"官方", "通报", "声明", "公告", "卫健委", "疾控中心", "政府", "部门回应",
	"新闻发布会", "official", "statement", "announcement", "ministry",
}

// scenarioKeywords drive the keyword vote for detected_scenario.
var scenarioKeywords = map[models.Scenario][]string{
	models.ScenarioHealth:     {"疫苗", "病毒", "疾病", "医院", "健康", "癌症", "药", "感染", "vaccine", "virus", "health", "disease"},
	models.ScenarioGovernance: {"政府", "政策", "官员", "通告", "法规", "补贴", "government", "policy", "regulation"},
	models.ScenarioSecurity:   {"诈骗", "黑客", "泄露", "安全", "钓鱼", "盗刷", "scam", "hack", "breach", "fraud"},
	models.ScenarioMedia:      {"媒体", "报道", "记者", "新闻", "直播", "media", "journalist", "press"},
	models.ScenarioTechnology: {"人工智能", "科技", "技术", "芯片", "算法", "AI", "tech", "chip", "algorithm"},
	models.ScenarioEducation:  {"学校", "考试", "教育", "学生", "高考", "school", "exam", "education", "student"},
}

// containsAny reports whether text contains any of the terms
// (case-insensitive for Latin terms).
func containsAny(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// countMatches counts how many of the terms occur in text.
func countMatches(text string, terms []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			n++
		}
	}
	return n
}

// detectScenario keyword-votes a scenario over the given texts. Ties and
// zero votes fall back to general.
func detectScenario(texts []string) models.Scenario {
	votes := map[models.Scenario]int{}
	for _, text := range texts {
		for scenario, keywords := range scenarioKeywords {
			votes[scenario] += countMatches(text, keywords)
		}
	}
	best := models.ScenarioGeneral
	bestVotes := 0
	// Deterministic iteration: check scenarios in a fixed order.
	for _, scenario := range []models.Scenario{
		models.ScenarioHealth, models.ScenarioGovernance, models.ScenarioSecurity,
		models.ScenarioMedia, models.ScenarioTechnology, models.ScenarioEducation,
	} {
		if votes[scenario] > bestVotes {
			best = scenario
			bestVotes = votes[scenario]
		}
	}
	return best
}
