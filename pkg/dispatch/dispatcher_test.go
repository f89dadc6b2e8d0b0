package dispatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/llm"
	"github.com/veracitylab/factgate/pkg/models"
	"github.com/veracitylab/factgate/pkg/sse"
	"github.com/veracitylab/factgate/pkg/store"
)

// countingCaller records LM calls by trace label and always fails, landing
// every stage on its rule path.
type countingCaller struct {
	calls []string
}

func (c *countingCaller) CallJSON(_ context.Context, req llm.Request) map[string]any {
	c.calls = append(c.calls, req.TraceLabel)
	return nil
}

func (c *countingCaller) countByPrefix(prefix string) int {
	n := 0
	for _, label := range c.calls {
		if len(label) >= len(prefix) && label[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type fixture struct {
	dispatcher *Dispatcher
	sessions   *store.SessionStore
	history    *store.HistoryStore
	tasks      *store.TaskStore
	lm         *countingCaller
	cfg        *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{
		Claims:  config.ClaimConfig{Method: "default", MaxItems: 6, MinScore: 0.25},
		Search:  config.SearchConfig{Enabled: false, TopK: 5},
		Budgets: config.BudgetConfig{ToolMaxCalls: 40, LLMMaxCalls: 120},
		Workers: config.WorkerConfig{ClaimWorkers: 2, AlignWorkers: 2},
		Toggles: config.StageToggles{Risk: true, Alignment: true, Report: true, Simulation: true},
		LM:      config.LMConfig{MaxRetries: 0},
	}

	sessions := store.NewSessionStore(db)
	tasks := store.NewTaskStore(db)
	history := store.NewHistoryStore(db)
	lm := &countingCaller{}

	return &fixture{
		dispatcher: New(lm, nil, sessions, tasks, history, cfg, slog.Default()),
		sessions:   sessions,
		history:    history,
		tasks:      tasks,
		lm:         lm,
		cfg:        cfg,
	}
}

func (f *fixture) newSession(t *testing.T) *models.Session {
	t.Helper()
	sess, err := f.sessions.CreateSession(context.Background(), "")
	require.NoError(t, err)
	return sess
}

func stageSequence(events []models.StreamEvent) []string {
	var out []string
	for _, ev := range events {
		if ev.Type != models.EventStage {
			continue
		}
		payload, ok := ev.Data.(models.StagePayload)
		if !ok || payload.Status != models.PhaseDone {
			continue
		}
		out = append(out, payload.Stage)
	}
	return out
}

func tokenText(events []models.StreamEvent) string {
	var out string
	for _, ev := range events {
		if ev.Type != models.EventToken {
			continue
		}
		if payload, ok := ev.Data.(models.TokenPayload); ok {
			out += payload.Content
		}
	}
	return out
}

func TestDispatch_AnalyzeRiskyPost(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t)
	rec := &sse.Recorder{}

	msg := f.dispatcher.Dispatch(context.Background(), sess.SessionID,
		"/analyze 震惊！内部消息称100%真实，必须立即转发。", rec)

	assert.Equal(t, []string{"risk", "claims", "evidence_search", "evidence_align", "report"},
		stageSequence(rec.Events))

	types := rec.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, models.EventDone, types[len(types)-1])
	assert.Equal(t, models.EventMessage, types[len(types)-2])

	recordID, _ := msg.Meta["record_id"].(string)
	require.NotEmpty(t, recordID)

	stored, err := f.history.Get(context.Background(), recordID)
	require.NoError(t, err)
	assert.Contains(t, []models.RiskLabel{models.LabelSuspicious, models.LabelLikelyMisinfo}, stored.RiskLabel)

	found := false
	for _, p := range stored.Report.SuspiciousPoints {
		if strings.Contains(p, "claim") {
			found = true
		}
	}
	assert.True(t, found, "expected a suspicious point mentioning a claim")

	// The record binds into the session for follow-up tools.
	updated, err := f.sessions.GetSession(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, recordID, updated.Meta[models.MetaRecordID])
}

func TestDispatch_EmptyList(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t)
	rec := &sse.Recorder{}

	msg := f.dispatcher.Dispatch(context.Background(), sess.SessionID, "/list", rec)

	assert.Contains(t, msg.Content, "暂无可用的历史记录")
	messageCount := 0
	for _, ev := range rec.Events {
		if ev.Type == models.EventMessage {
			messageCount++
		}
	}
	assert.Equal(t, 1, messageCount)
}

func TestDispatch_WhyWithoutRecord(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t)
	rec := &sse.Recorder{}

	msg := f.dispatcher.Dispatch(context.Background(), sess.SessionID, "/why", rec)

	assert.Contains(t, msg.Content, "用法：/why")
	assert.Empty(t, f.lm.calls, "no LM calls expected")
}

func TestDispatch_BudgetExhaustion(t *testing.T) {
	f := newFixture(t)
	f.cfg.Budgets.ToolMaxCalls = 1
	sess := f.newSession(t)
	_, err := f.sessions.UpdateMeta(context.Background(), sess.SessionID, map[string]any{
		models.MetaToolCallCount: 1,
	})
	require.NoError(t, err)

	rec := &sse.Recorder{}
	msg := f.dispatcher.Dispatch(context.Background(), sess.SessionID, "/claims_only 测试文本", rec)

	assert.Contains(t, msg.Content, "工具调用已达上限")

	updated, err := f.sessions.GetSession(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, intMeta(updated.Meta, models.MetaLLMCallCount))
	assert.Empty(t, f.lm.calls)
}

func intMeta(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func TestDispatch_EvidenceAutoPrereq(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t)

	first := &sse.Recorder{}
	f.dispatcher.Dispatch(context.Background(), sess.SessionID,
		"/claims_only 某市昨天报告了一百二十例新增病例。", first)

	claimCallsAfterFirst := f.lm.countByPrefix("claims.")

	t.Run("same text reuses session claims", func(t *testing.T) {
		second := &sse.Recorder{}
		f.dispatcher.Dispatch(context.Background(), sess.SessionID,
			"/evidence_only 某市昨天报告了一百二十例新增病例。", second)

		assert.Contains(t, tokenText(second.Events), "复用 session 的 claims")
		assert.Equal(t, claimCallsAfterFirst, f.lm.countByPrefix("claims."),
			"claims LM must not be invoked again")
	})

	t.Run("changed text triggers auto prerequisite", func(t *testing.T) {
		third := &sse.Recorder{}
		f.dispatcher.Dispatch(context.Background(), sess.SessionID,
			"/evidence_only 另一座城市昨天发生了不同的事件。", third)

		assert.Contains(t, tokenText(third.Events), "自动执行主张抽取前置阶段")
		assert.Contains(t, stageSequence(third.Events), "claims")
	})
}

func TestDispatch_HelpClarify(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t)
	rec := &sse.Recorder{}

	msg := f.dispatcher.Dispatch(context.Background(), sess.SessionID, "嗯", rec)
	assert.Contains(t, msg.Content, "可用命令")
	assert.Contains(t, msg.Content, "我不确定你的意图")
}

func TestDispatch_SimulateAttachesToRecord(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t)

	analyze := &sse.Recorder{}
	msg := f.dispatcher.Dispatch(context.Background(), sess.SessionID,
		"/analyze 震惊！内部消息称100%真实，必须立即转发。", analyze)
	recordID, _ := msg.Meta["record_id"].(string)
	require.NotEmpty(t, recordID)

	simulate := &sse.Recorder{}
	f.dispatcher.Dispatch(context.Background(), sess.SessionID, "/simulate "+recordID, simulate)

	stages := stageSequence(simulate.Events)
	assert.Contains(t, stages, "simulate.emotion")
	assert.Contains(t, stages, "simulate.suggestion")
	assert.Contains(t, stages, "simulate")

	stored, err := f.history.Get(context.Background(), recordID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Simulation)
}

func TestDispatch_ContentGenerateCachesResult(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t)

	msg := f.dispatcher.Dispatch(context.Background(), sess.SessionID,
		"/analyze 震惊！内部消息称100%真实，必须立即转发。", &sse.Recorder{})
	recordID, _ := msg.Meta["record_id"].(string)
	require.NotEmpty(t, recordID)

	first := f.dispatcher.Dispatch(context.Background(), sess.SessionID,
		"/content_generate "+recordID, &sse.Recorder{})
	require.NotEmpty(t, first.Content)

	cached := &sse.Recorder{}
	second := f.dispatcher.Dispatch(context.Background(), sess.SessionID,
		"/content_generate "+recordID, cached)
	assert.Equal(t, first.Content, second.Content)
	// A cache hit skips PLAN: no stage events.
	assert.Empty(t, stageSequence(cached.Events))

	stored, err := f.history.Get(context.Background(), recordID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Content)
}

func TestDispatch_LLMBudgetFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.cfg.Budgets.LLMMaxCalls = 0
	sess := f.newSession(t)

	rec := &sse.Recorder{}
	msg := f.dispatcher.Dispatch(context.Background(), sess.SessionID,
		"/analyze 震惊！内部消息称100%真实，必须立即转发。", rec)

	// Over-budget LM calls return nil; every stage lands on its rule path
	// and the turn still completes with a report.
	require.NotNil(t, msg)
	assert.Empty(t, f.lm.calls)
	assert.Contains(t, stageSequence(rec.Events), "report")
}
