package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/dispatch"
	"github.com/veracitylab/factgate/pkg/engine"
	"github.com/veracitylab/factgate/pkg/store"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Server) {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{
		MaxInputChars: 8000,
		Claims:        config.ClaimConfig{Method: "default", MaxItems: 6, MinScore: 0.25},
		Search:        config.SearchConfig{Enabled: false, TopK: 5},
		Budgets:       config.BudgetConfig{ToolMaxCalls: 40, LLMMaxCalls: 120},
		Workers:       config.WorkerConfig{ClaimWorkers: 2, AlignWorkers: 2},
	}

	sessions := store.NewSessionStore(db)
	tasks := store.NewTaskStore(db)
	history := store.NewHistoryStore(db)
	logger := slog.Default()

	dispatcher := dispatch.New(nil, nil, sessions, tasks, history, cfg, logger)
	orch := engine.New(nil, nil, cfg, logger)
	srv := NewServer(dispatcher, orch, db, sessions, tasks, history, cfg, logger)
	return srv.Router(), srv
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestChat_CreatesSessionAndAnswers(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/chat", map[string]any{"message": "/list"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	sessionID, _ := body["session_id"].(string)
	require.NotEmpty(t, sessionID)
	msg, _ := body["assistant_message"].(map[string]any)
	require.NotNil(t, msg)
	assert.Contains(t, msg["content"], "暂无可用的历史记录")

	// The session is retrievable with both turn messages.
	w = doJSON(t, router, http.MethodGet, "/chat/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode(t, w)
	messages, _ := detail["messages"].([]any)
	assert.Len(t, messages, 2)
}

func TestChat_MissingMessage(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/chat", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.NotEmpty(t, decode(t, w)["detail"])
}

func TestGetSession_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/chat/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "resource not found", decode(t, w)["detail"])
}

func TestChatStream_FramesEndWithDone(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/chat/stream", map[string]any{"message": "/help"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := strings.Split(strings.TrimSuffix(w.Body.String(), "\n\n"), "\n\n")
	require.NotEmpty(t, frames)
	assert.Contains(t, frames[len(frames)-1], `"type":"done"`)
}

func TestDetectClaims(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/detect/claims", map[string]any{
		"text": "某研究机构宣布新药使病例减少了50%。",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	claims, _ := body["claims"].([]any)
	require.NotEmpty(t, claims)
	first, _ := claims[0].(map[string]any)
	assert.Equal(t, "c1", first["claim_id"])
}

func TestDetect_PersistsHistory(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/detect", map[string]any{
		"text": "震惊！内部消息称100%真实，必须立即转发。",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	recordID, _ := body["record_id"].(string)
	require.NotEmpty(t, recordID)
	require.NotNil(t, body["report"])

	w = doJSON(t, router, http.MethodGet, "/history/"+recordID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Feedback round trip: invalid status is a schema violation.
	w = doJSON(t, router, http.MethodPost, "/history/"+recordID+"/feedback",
		map[string]any{"status": "bogus"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, router, http.MethodPost, "/history/"+recordID+"/feedback",
		map[string]any{"status": "accurate", "note": "确认无误"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDetect_EmptyTextRejected(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/detect", map[string]any{"text": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSimulate_UnknownRecord(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/simulate", map[string]any{"record_id": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSimulate_InlineReport(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/simulate", map[string]any{
		"report":     map[string]any{"risk_score": 30, "risk_label": "likely_misinformation"},
		"input_text": "谣言文本",
		"platform":   "weibo",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	sim, _ := body["simulation"].(map[string]any)
	require.NotNil(t, sim)
	for _, key := range []string{"emotion", "narratives", "flashpoints", "suggestion"} {
		assert.Contains(t, sim, key)
	}
}

func TestPipeline_SaveAndLoad(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/pipeline/save-phase", map[string]any{
		"task_id": "task-1",
		"phase":   "risk",
		"status":  "done",
		"payload": map[string]any{"input_text": "样例", "score": 42},
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/pipeline/load-latest?task_id=task-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	phases, _ := body["phases"].([]any)
	require.Len(t, phases, 1)
	snap, _ := phases[0].(map[string]any)
	assert.Equal(t, "risk", snap["phase"])
	assert.Equal(t, "done", snap["status"])
}

func TestPipeline_LoadUnknownTask(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/pipeline/load-latest?task_id=nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
