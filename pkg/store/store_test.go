package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veracitylab/factgate/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSessionStore_CreateGetList(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(newTestDB(t))

	sess, err := store.CreateSession(ctx, "测试会话")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionID)

	got, err := store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "测试会话", got.Title)
	assert.NotNil(t, got.Meta)

	list, err := store.ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_UpdateMetaIsAdditive(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(newTestDB(t))

	sess, err := store.CreateSession(ctx, "")
	require.NoError(t, err)

	_, err = store.UpdateMeta(ctx, sess.SessionID, map[string]any{
		models.MetaToolCallCount: 1,
		models.MetaRecordID:      "rec-1",
	})
	require.NoError(t, err)

	// A second partial patch must not drop existing keys.
	updated, err := store.UpdateMeta(ctx, sess.SessionID, map[string]any{
		models.MetaToolCallCount: 2,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Meta[models.MetaToolCallCount])
	assert.Equal(t, "rec-1", updated.Meta[models.MetaRecordID])
}

func TestSessionStore_UpdatedAtMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(newTestDB(t))

	sess, err := store.CreateSession(ctx, "")
	require.NoError(t, err)

	prev := sess.UpdatedAt
	for i := 0; i < 5; i++ {
		updated, err := store.UpdateMeta(ctx, sess.SessionID, map[string]any{"k": i})
		require.NoError(t, err)
		assert.True(t, updated.UpdatedAt.After(prev),
			"updated_at %v not after %v", updated.UpdatedAt, prev)
		prev = updated.UpdatedAt
	}
}

func TestSessionStore_Messages(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(newTestDB(t))

	sess, err := store.CreateSession(ctx, "")
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, &models.Message{
		SessionID: sess.SessionID,
		Role:      models.RoleUser,
		Content:   "/analyze 某地即将封城",
	})
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, &models.Message{
		SessionID: sess.SessionID,
		Role:      models.RoleAssistant,
		Content:   "分析完成",
		Actions:   []models.MessageAction{{Type: "command", Label: "查看原因", Command: "/why"}},
	})
	require.NoError(t, err)

	msgs, err := store.GetMessages(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	require.Len(t, msgs[1].Actions, 1)
	assert.Equal(t, "/why", msgs[1].Actions[0].Command)

	_, err = store.AppendMessage(ctx, &models.Message{SessionID: sess.SessionID, Role: "robot"})
	assert.Error(t, err)
}

func TestTaskStore_UpsertLaw(t *testing.T) {
	ctx := context.Background()
	store := NewTaskStore(newTestDB(t))

	require.NoError(t, store.SavePhase(ctx, models.PhaseSnapshot{
		TaskID: "T", Phase: "detect", Status: models.PhaseRunning,
	}))
	require.NoError(t, store.SavePhase(ctx, models.PhaseSnapshot{
		TaskID: "T", Phase: "detect", Status: models.PhaseDone,
		DurationMS: 1234,
		Payload:    map[string]any{"result": "ok"},
	}))

	task, snaps, err := store.LoadLatest(ctx, "T")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, models.PhaseDone, snaps[0].Status)
	assert.EqualValues(t, 1234, snaps[0].DurationMS)
	assert.Equal(t, "ok", snaps[0].Payload["result"])
	assert.Equal(t, models.PhaseDone, task.Phases["detect"])
}

func TestTaskStore_PhasesTrackLatestStatus(t *testing.T) {
	ctx := context.Background()
	store := NewTaskStore(newTestDB(t))

	for _, phase := range []string{models.PhaseClaims, models.PhaseEvidence} {
		require.NoError(t, store.SavePhase(ctx, models.PhaseSnapshot{
			TaskID: "T2", Phase: phase, Status: models.PhaseDone,
		}))
	}
	require.NoError(t, store.SavePhase(ctx, models.PhaseSnapshot{
		TaskID: "T2", Phase: models.PhaseReport, Status: models.PhaseFailed,
		ErrorMessage: "rule fallback failed",
	}))

	task, err := store.GetTask(ctx, "T2")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDone, task.Phases[models.PhaseClaims])
	assert.Equal(t, models.PhaseFailed, task.Phases[models.PhaseReport])
}

func TestTaskStore_RejectsUnknownStatus(t *testing.T) {
	store := NewTaskStore(newTestDB(t))
	err := store.SavePhase(context.Background(), models.PhaseSnapshot{
		TaskID: "T", Phase: "detect", Status: "half-done",
	})
	assert.Error(t, err)
}

func TestHistoryStore_InsertAndAttach(t *testing.T) {
	ctx := context.Background()
	store := NewHistoryStore(newTestDB(t))

	rec, err := store.Insert(ctx, &models.HistoryRecord{
		InputText:        "震惊体文本",
		RiskLabel:        models.LabelSuspicious,
		RiskScore:        40,
		DetectedScenario: models.ScenarioHealth,
		EvidenceDomains:  []string{"who.int"},
		Report:           &models.Report{RiskScore: 40, RiskLevel: models.RiskHigh, RiskLabel: models.LabelSuspicious},
	})
	require.NoError(t, err)

	require.NoError(t, store.AttachFeedback(ctx, rec.ID, models.FeedbackAccurate, "看起来对"))
	require.NoError(t, store.AttachSimulation(ctx, rec.ID, map[string]any{"narratives": []any{}}))
	require.NoError(t, store.AttachContent(ctx, rec.ID, map[string]any{"faq": []any{}}))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackAccurate, got.FeedbackStatus)
	assert.Equal(t, "看起来对", got.FeedbackNote)
	assert.NotNil(t, got.Simulation)
	assert.NotNil(t, got.Content)

	// Frozen fields unchanged by attachments.
	assert.Equal(t, 40, got.RiskScore)
	assert.Equal(t, models.LabelSuspicious, got.RiskLabel)

	err = store.AttachFeedback(ctx, "missing", models.FeedbackAccurate, "")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.AttachFeedback(ctx, rec.ID, "excellent", "")
	assert.Error(t, err)
}

func TestHistoryStore_ListOrder(t *testing.T) {
	ctx := context.Background()
	store := NewHistoryStore(newTestDB(t))

	for i := 0; i < 3; i++ {
		_, err := store.Insert(ctx, &models.HistoryRecord{
			InputText: "t",
			RiskLabel: models.LabelCredible,
			Report:    &models.Report{},
		})
		require.NoError(t, err)
	}
	records, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
