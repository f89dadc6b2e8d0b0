package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veracitylab/factgate/pkg/models"
)

// HistoryStore persists append-only analysis records. Scalar fields are
// frozen at insert; feedback, simulation, and content attach afterwards.
type HistoryStore struct {
	db *DB
}

// NewHistoryStore creates a HistoryStore on the shared database.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Insert creates a new record. The record id is generated when empty.
func (s *HistoryStore) Insert(ctx context.Context, rec *models.HistoryRecord) (*models.HistoryRecord, error) {
	if rec.Report == nil {
		return nil, NewValidationError("report", "required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = nowUTC()

	reportJSON, err := json.Marshal(rec.Report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	domainsJSON, err := json.Marshal(rec.EvidenceDomains)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence domains: %w", err)
	}
	detect, err := marshalOrNil(rec.DetectData)
	if err != nil {
		return nil, fmt.Errorf("marshal detect data: %w", err)
	}

	_, err = s.db.SQL().ExecContext(ctx,
		`INSERT INTO analysis_history
		   (id, created_at, input_text, risk_label, risk_score, detected_scenario,
		    evidence_domains, report_json, detect_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt, rec.InputText, string(rec.RiskLabel), rec.RiskScore,
		string(rec.DetectedScenario), string(domainsJSON), string(reportJSON), detect)
	if err != nil {
		return nil, fmt.Errorf("insert history record: %w", err)
	}
	return rec, nil
}

// Get loads a record by id.
func (s *HistoryStore) Get(ctx context.Context, id string) (*models.HistoryRecord, error) {
	row := s.db.SQL().QueryRowContext(ctx,
		`SELECT id, created_at, input_text, risk_label, risk_score, detected_scenario,
		        evidence_domains, report_json, detect_json, simulation_json, content_json,
		        feedback_status, feedback_note
		 FROM analysis_history WHERE id = ?`, id)
	return scanHistory(row)
}

// List returns the most recent records.
func (s *HistoryStore) List(ctx context.Context, limit int) ([]*models.HistoryRecord, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT id, created_at, input_text, risk_label, risk_score, detected_scenario,
		        evidence_domains, report_json, detect_json, simulation_json, content_json,
		        feedback_status, feedback_note
		 FROM analysis_history ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []*models.HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AttachFeedback sets the additive feedback fields. Frozen fields are never
// touched.
func (s *HistoryStore) AttachFeedback(ctx context.Context, id string, status models.FeedbackStatus, note string) error {
	switch status {
	case models.FeedbackAccurate, models.FeedbackInaccurate, models.FeedbackEvidenceIrrelevant:
	default:
		return NewValidationError("feedback_status", fmt.Sprintf("unknown status %q", status))
	}
	res, err := s.db.SQL().ExecContext(ctx,
		`UPDATE analysis_history SET feedback_status = ?, feedback_note = ? WHERE id = ?`,
		string(status), note, id)
	if err != nil {
		return fmt.Errorf("attach feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachSimulation attaches a simulation result to a record.
func (s *HistoryStore) AttachSimulation(ctx context.Context, id string, simulation map[string]any) error {
	return s.attachJSON(ctx, id, "simulation_json", simulation)
}

// AttachContent attaches generated response content to a record.
func (s *HistoryStore) AttachContent(ctx context.Context, id string, content map[string]any) error {
	return s.attachJSON(ctx, id, "content_json", content)
}

func (s *HistoryStore) attachJSON(ctx context.Context, id, column string, payload map[string]any) error {
	if payload == nil {
		return NewValidationError(column, "required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", column, err)
	}
	res, err := s.db.SQL().ExecContext(ctx,
		`UPDATE analysis_history SET `+column+` = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return fmt.Errorf("attach %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanHistory(row rowScanner) (*models.HistoryRecord, error) {
	var rec models.HistoryRecord
	var domains, report string
	var detect, simulation, content, fbStatus, fbNote sql.NullString
	err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.InputText, &rec.RiskLabel, &rec.RiskScore,
		&rec.DetectedScenario, &domains, &report, &detect, &simulation, &content,
		&fbStatus, &fbNote)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan history record: %w", err)
	}
	if err := json.Unmarshal([]byte(domains), &rec.EvidenceDomains); err != nil {
		return nil, fmt.Errorf("decode evidence domains: %w", err)
	}
	if err := json.Unmarshal([]byte(report), &rec.Report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if detect.Valid {
		_ = json.Unmarshal([]byte(detect.String), &rec.DetectData)
	}
	if simulation.Valid {
		_ = json.Unmarshal([]byte(simulation.String), &rec.Simulation)
	}
	if content.Valid {
		_ = json.Unmarshal([]byte(content.String), &rec.Content)
	}
	if fbStatus.Valid {
		rec.FeedbackStatus = models.FeedbackStatus(fbStatus.String)
	}
	if fbNote.Valid {
		rec.FeedbackNote = fbNote.String
	}
	return &rec, nil
}

// DeleteBefore removes records created before the cutoff. Session meta may
// keep a record_id pointing at a removed record; lookups tolerate that.
func (s *HistoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM analysis_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
