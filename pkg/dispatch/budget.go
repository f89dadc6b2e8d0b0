package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/veracitylab/factgate/pkg/llm"
	"github.com/veracitylab/factgate/pkg/models"
)

// consumeToolBudget increments the per-session tool counter and reports
// whether the dispatch may proceed. Exhaustion fails closed before any
// planning happens.
func (d *Dispatcher) consumeToolBudget(ctx context.Context, sess *models.Session) bool {
	count := metaInt(sess.Meta, models.MetaToolCallCount)
	if count >= d.cfg.Budgets.ToolMaxCalls {
		return false
	}
	updated, err := d.sessions.UpdateMeta(ctx, sess.SessionID, map[string]any{
		models.MetaToolCallCount: count + 1,
	})
	if err != nil {
		d.logger.Warn("failed to update tool budget", "session_id", sess.SessionID, "error", err)
		return false
	}
	sess.Meta = updated.Meta
	return true
}

// consumeLLMBudget increments the per-session LM counter; exhaustion fails
// closed before the LM slot is acquired.
func (d *Dispatcher) consumeLLMBudget(ctx context.Context, sessionID string) bool {
	sess, err := d.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return false
	}
	count := metaInt(sess.Meta, models.MetaLLMCallCount)
	if count >= d.cfg.Budgets.LLMMaxCalls {
		d.logger.Warn("session LM budget exhausted", "session_id", sessionID, "count", count)
		return false
	}
	_, err = d.sessions.UpdateMeta(ctx, sessionID, map[string]any{
		models.MetaLLMCallCount: count + 1,
	})
	return err == nil
}

// budgetCaller gates every LM call on the session budget. Over-budget calls
// return nil, which lands the stage on its rule fallback.
type budgetCaller struct {
	d         *Dispatcher
	sessionID string
	inner     llm.Caller
}

func (b *budgetCaller) CallJSON(ctx context.Context, req llm.Request) map[string]any {
	if b.inner == nil {
		return nil
	}
	if !b.d.consumeLLMBudget(ctx, b.sessionID) {
		return nil
	}
	return b.inner.CallJSON(ctx, req)
}

// cachedTools are the tools whose results are re-emitted on a repeat
// invocation with identical arguments within a session.
var cachedTools = map[string]bool{
	models.ToolWhy:        true,
	models.ToolExport:     true,
	models.ToolRewrite:    true,
	models.ToolContentGen: true,
}

// cacheKey is a stable hash of the tool's arguments: key order is fixed so
// equal argument sets always hash alike.
func cacheKey(call models.ToolCall) string {
	keys := make([]string, 0, len(call.Args))
	for k := range call.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(call.ToolName)
	for _, k := range keys {
		v, _ := json.Marshal(call.Args[k])
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.Write(v)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// cacheLookup returns the cached terminal message for an identical previous
// invocation, or nil.
func (d *Dispatcher) cacheLookup(sess *models.Session, call models.ToolCall) *models.Message {
	if !cachedTools[call.ToolName] {
		return nil
	}
	entry, ok := sess.Meta[models.MetaCachePrefix+call.ToolName].(map[string]any)
	if !ok {
		return nil
	}
	if entry["key"] != cacheKey(call) {
		return nil
	}
	raw, err := json.Marshal(entry["message"])
	if err != nil {
		return nil
	}
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	if msg.Content == "" {
		return nil
	}
	msg.MessageID = ""
	return &msg
}

// cacheStore records the terminal message under the tool's cache slot.
func (d *Dispatcher) cacheStore(ctx context.Context, sess *models.Session, call models.ToolCall, msg *models.Message) {
	if !cachedTools[call.ToolName] {
		return
	}
	_, err := d.sessions.UpdateMeta(ctx, sess.SessionID, map[string]any{
		models.MetaCachePrefix + call.ToolName: map[string]any{
			"key":     cacheKey(call),
			"ts":      time.Now().UTC().Format(time.RFC3339),
			"message": msg,
		},
	})
	if err != nil {
		d.logger.Warn("failed to store tool cache", "tool", call.ToolName, "error", err)
	}
}

// inputHash buckets phase payloads by normalized input text.
func inputHash(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:8])
}
