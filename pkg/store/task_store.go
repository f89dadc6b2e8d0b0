package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/veracitylab/factgate/pkg/models"
)

// StaleRunningThreshold is how old a `running` snapshot may be before it is
// surfaced as failed on load. A cancelled turn can leave snapshots in
// `running`; this is the recovery rule.
const StaleRunningThreshold = 10 * time.Minute

// TaskStore persists pipeline tasks and their per-phase snapshots.
type TaskStore struct {
	db *DB
}

// NewTaskStore creates a TaskStore on the shared database.
func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

// SavePhase UPSERTs a snapshot on (task_id, phase) and keeps the task row's
// phase map consistent with the latest snapshot status. The task row is
// created on first write.
func (s *TaskStore) SavePhase(ctx context.Context, snap models.PhaseSnapshot) error {
	if snap.TaskID == "" {
		return NewValidationError("task_id", "required")
	}
	if snap.Phase == "" {
		return NewValidationError("phase", "required")
	}
	switch snap.Status {
	case models.PhaseIdle, models.PhaseRunning, models.PhaseDone, models.PhaseFailed, models.PhaseCanceled:
	default:
		return NewValidationError("status", fmt.Sprintf("unknown phase status %q", snap.Status))
	}

	now := nowUTC()
	snap.UpdatedAt = now

	payload, err := marshalOrNil(snap.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	inputText := ""
	if v, ok := snap.Payload["input_text"].(string); ok {
		inputText = v
	}

	// Ensure the task row exists, then merge this phase's status into it.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pipeline_tasks (task_id, created_at, updated_at, input_text, phases_json)
		 VALUES (?, ?, ?, ?, '{}')
		 ON CONFLICT(task_id) DO UPDATE SET updated_at = excluded.updated_at`,
		snap.TaskID, now, now, inputText); err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}

	var phasesJSON string
	if err := tx.QueryRowContext(ctx,
		`SELECT phases_json FROM pipeline_tasks WHERE task_id = ?`, snap.TaskID).Scan(&phasesJSON); err != nil {
		return fmt.Errorf("load task phases: %w", err)
	}
	phases := map[string]models.PhaseStatus{}
	if err := json.Unmarshal([]byte(phasesJSON), &phases); err != nil {
		return fmt.Errorf("decode task phases: %w", err)
	}
	phases[snap.Phase] = snap.Status
	merged, err := json.Marshal(phases)
	if err != nil {
		return fmt.Errorf("encode task phases: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE pipeline_tasks SET phases_json = ?, updated_at = ? WHERE task_id = ?`,
		string(merged), now, snap.TaskID); err != nil {
		return fmt.Errorf("update task phases: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pipeline_phase_snapshots (task_id, phase, status, updated_at, duration_ms, error_message, payload_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id, phase) DO UPDATE SET
		   status = excluded.status,
		   updated_at = excluded.updated_at,
		   duration_ms = excluded.duration_ms,
		   error_message = excluded.error_message,
		   payload_json = excluded.payload_json`,
		snap.TaskID, snap.Phase, string(snap.Status), snap.UpdatedAt,
		nullableInt(snap.DurationMS), nullableString(snap.ErrorMessage), payload); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	return tx.Commit()
}

// LoadLatest returns the task row and one snapshot per phase. Snapshots
// stuck in `running` longer than StaleRunningThreshold are surfaced as
// failed so a resume does not wait on a dead producer.
func (s *TaskStore) LoadLatest(ctx context.Context, taskID string) (*models.Task, []models.PhaseSnapshot, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT phase, status, updated_at, duration_ms, error_message, payload_json
		 FROM pipeline_phase_snapshots WHERE task_id = ? ORDER BY phase ASC`, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	cutoff := nowUTC().Add(-StaleRunningThreshold)
	var snaps []models.PhaseSnapshot
	for rows.Next() {
		snap := models.PhaseSnapshot{TaskID: taskID}
		var duration sql.NullInt64
		var errMsg, payload sql.NullString
		if err := rows.Scan(&snap.Phase, &snap.Status, &snap.UpdatedAt, &duration, &errMsg, &payload); err != nil {
			return nil, nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if duration.Valid {
			snap.DurationMS = duration.Int64
		}
		if errMsg.Valid {
			snap.ErrorMessage = errMsg.String
		}
		if payload.Valid {
			_ = json.Unmarshal([]byte(payload.String), &snap.Payload)
		}
		if snap.Status == models.PhaseRunning && snap.UpdatedAt.Before(cutoff) {
			snap.Status = models.PhaseFailed
			snap.ErrorMessage = "phase abandoned: producer did not complete"
			task.Phases[snap.Phase] = models.PhaseFailed
		}
		snaps = append(snaps, snap)
	}
	return task, snaps, rows.Err()
}

// GetPhase returns a single (task, phase) snapshot.
func (s *TaskStore) GetPhase(ctx context.Context, taskID, phase string) (*models.PhaseSnapshot, error) {
	snap := models.PhaseSnapshot{TaskID: taskID, Phase: phase}
	var duration sql.NullInt64
	var errMsg, payload sql.NullString
	err := s.db.SQL().QueryRowContext(ctx,
		`SELECT status, updated_at, duration_ms, error_message, payload_json
		 FROM pipeline_phase_snapshots WHERE task_id = ? AND phase = ?`, taskID, phase).
		Scan(&snap.Status, &snap.UpdatedAt, &duration, &errMsg, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	if duration.Valid {
		snap.DurationMS = duration.Int64
	}
	if errMsg.Valid {
		snap.ErrorMessage = errMsg.String
	}
	if payload.Valid {
		_ = json.Unmarshal([]byte(payload.String), &snap.Payload)
	}
	return &snap, nil
}

// GetTask loads the task row.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	var phasesJSON string
	var meta sql.NullString
	err := s.db.SQL().QueryRowContext(ctx,
		`SELECT task_id, created_at, updated_at, input_text, phases_json, meta_json
		 FROM pipeline_tasks WHERE task_id = ?`, taskID).
		Scan(&task.TaskID, &task.CreatedAt, &task.UpdatedAt, &task.InputText, &phasesJSON, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if err := json.Unmarshal([]byte(phasesJSON), &task.Phases); err != nil {
		return nil, fmt.Errorf("decode task phases: %w", err)
	}
	if meta.Valid {
		_ = json.Unmarshal([]byte(meta.String), &task.Meta)
	}
	return &task, nil
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// DeleteBefore removes tasks last updated before the cutoff together with
// their phase snapshots. Returns the number of tasks removed.
func (s *TaskStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM pipeline_phase_snapshots WHERE task_id IN
		 (SELECT task_id FROM pipeline_tasks WHERE updated_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("delete old snapshots: %w", err)
	}
	res, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM pipeline_tasks WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
