// Package dispatch runs one chat turn through the state machine
// PARSE, SANITIZE, BUDGET, CACHE_LOOKUP, PLAN, EXECUTE, PERSIST, EMIT,
// DONE. Any step's failure jumps to the error emit followed by done; no
// turn ends without a terminal message and a done frame.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/engine"
	"github.com/veracitylab/factgate/pkg/guardrails"
	"github.com/veracitylab/factgate/pkg/intent"
	"github.com/veracitylab/factgate/pkg/llm"
	"github.com/veracitylab/factgate/pkg/models"
	"github.com/veracitylab/factgate/pkg/search"
	"github.com/veracitylab/factgate/pkg/sse"
	"github.com/veracitylab/factgate/pkg/store"
)

// Dispatcher executes chat turns. It owns per-session budgets, the
// session-scoped artifact cache, and prerequisite planning; stage work is
// delegated to a per-turn orchestrator built around a budget-gated LM.
type Dispatcher struct {
	lm       llm.Caller
	provider search.Provider
	sessions *store.SessionStore
	tasks    *store.TaskStore
	history  *store.HistoryStore
	cfg      *config.Config
	logger   *slog.Logger
}

// New creates a Dispatcher.
func New(lm llm.Caller, provider search.Provider, sessions *store.SessionStore,
	tasks *store.TaskStore, history *store.HistoryStore, cfg *config.Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		lm:       lm,
		provider: provider,
		sessions: sessions,
		tasks:    tasks,
		history:  history,
		cfg:      cfg,
		logger:   logger,
	}
}

// turn is the per-dispatch working set.
type turn struct {
	session *models.Session
	call    models.ToolCall
	orch    *engine.Orchestrator
	taskID  string
	out     sse.Emitter
	input   string
}

// Dispatch runs one user turn against a session and streams the result.
// The returned message is the terminal assistant message (also emitted).
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, input string, out sse.Emitter) *models.Message {
	sess, err := d.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return d.finishError(ctx, nil, out, "会话不存在或已被删除")
	}

	if _, err := d.sessions.AppendMessage(ctx, &models.Message{
		SessionID: sessionID, Role: models.RoleUser, Content: input,
	}); err != nil {
		d.logger.Warn("failed to persist user message", "session_id", sessionID, "error", err)
	}
	if sess.Title == "" {
		_ = d.sessions.SetTitle(ctx, sessionID, store.DeriveTitle(input))
	}

	// PARSE
	call := intent.Parse(input, intent.SessionMeta{
		RecordID:      metaString(sess.Meta, models.MetaRecordID),
		BoundRecordID: metaString(sess.Meta, models.MetaBoundRecordID),
	})

	// SANITIZE
	result := guardrails.ValidateToolCall(call)
	if !result.IsValid {
		return d.finishMessage(ctx, sess, out, &models.Message{
			SessionID: sessionID,
			Role:      models.RoleAssistant,
			Content:   strings.Join(result.Errors, "\n"),
			Actions:   []models.MessageAction{{Type: "command", Label: "查看帮助", Command: "/help"}},
		})
	}
	call.Args = result.Args
	for _, warning := range result.Warnings {
		sse.Token(out, "提示："+warning+"\n", sessionID)
	}

	// BUDGET
	if !d.consumeToolBudget(ctx, sess) {
		return d.finishMessage(ctx, sess, out, &models.Message{
			SessionID: sessionID,
			Role:      models.RoleAssistant,
			Content:   "工具调用已达上限，请新开会话后重试。",
		})
	}

	// CACHE_LOOKUP
	if cached := d.cacheLookup(sess, call); cached != nil {
		cached.SessionID = sessionID
		return d.finishMessage(ctx, sess, out, cached)
	}

	t := &turn{
		session: sess,
		call:    call,
		orch: engine.New(&budgetCaller{d: d, sessionID: sessionID, inner: d.lm},
			d.provider, d.cfg, d.logger),
		taskID: uuid.New().String(),
		out:    out,
		input:  input,
	}

	// PLAN + EXECUTE + PERSIST
	msg := d.execute(ctx, t)
	if msg == nil {
		return d.finishError(ctx, sess, out, "处理失败，请稍后重试")
	}
	msg.SessionID = sessionID

	d.cacheStore(ctx, sess, call, msg)
	return d.finishMessage(ctx, sess, out, msg)
}

// finishMessage persists and emits the terminal message, then done.
func (d *Dispatcher) finishMessage(ctx context.Context, sess *models.Session, out sse.Emitter, msg *models.Message) *models.Message {
	if sess != nil {
		if saved, err := d.sessions.AppendMessage(ctx, msg); err == nil {
			msg = saved
		} else {
			d.logger.Warn("failed to persist assistant message", "error", err)
		}
	}
	sse.Message(out, msg)
	sse.Done(out)
	return msg
}

// finishError emits error then done; even fatal paths keep the frame order.
func (d *Dispatcher) finishError(ctx context.Context, sess *models.Session, out sse.Emitter, detail string) *models.Message {
	sse.Error(out, detail)
	msg := &models.Message{Role: models.RoleAssistant, Content: detail}
	if sess != nil {
		msg.SessionID = sess.SessionID
		if saved, err := d.sessions.AppendMessage(ctx, msg); err == nil {
			msg = saved
		}
	}
	sse.Done(out)
	return msg
}

// runStage wraps one pipeline stage with SSE stage framing and a phase
// snapshot UPSERT. The payload of a successful stage is persisted for
// resume and cross-tool cache lookups.
func (d *Dispatcher) runStage(ctx context.Context, t *turn, stage string, fn func() (map[string]any, error)) bool {
	sse.Stage(t.out, stage, models.PhaseRunning, nil)
	d.savePhase(ctx, t, stage, models.PhaseSnapshot{Status: models.PhaseRunning})

	start := time.Now()
	payload, err := fn()
	duration := time.Since(start).Milliseconds()

	if err != nil {
		d.savePhase(ctx, t, stage, models.PhaseSnapshot{
			Status: models.PhaseFailed, DurationMS: duration, ErrorMessage: err.Error(),
		})
		sse.Stage(t.out, stage, models.PhaseFailed, nil)
		return false
	}

	d.savePhase(ctx, t, stage, models.PhaseSnapshot{
		Status: models.PhaseDone, DurationMS: duration, Payload: payload,
	})
	sse.Stage(t.out, stage, models.PhaseDone, payload)
	return true
}

func (d *Dispatcher) savePhase(ctx context.Context, t *turn, stage string, snap models.PhaseSnapshot) {
	snap.TaskID = t.taskID
	snap.Phase = stage
	if snap.Payload == nil {
		snap.Payload = map[string]any{}
	}
	snap.Payload["input_text"] = t.input
	if err := d.tasks.SavePhase(ctx, snap); err != nil {
		d.logger.Warn("failed to save phase snapshot",
			"task_id", t.taskID, "phase", stage, "error", err)
	}
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
