package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veracitylab/factgate/pkg/models"
)

// metaLockStripes bounds the number of per-session meta mutexes. Two
// sessions may share a stripe; that only costs a little extra contention.
const metaLockStripes = 64

// SessionStore manages chat sessions, their messages, and the additive
// session meta bag.
type SessionStore struct {
	db *DB

	metaLocks [metaLockStripes]sync.Mutex
}

// NewSessionStore creates a SessionStore on the shared database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// CreateSession inserts a new session with an empty meta bag.
func (s *SessionStore) CreateSession(ctx context.Context, title string) (*models.Session, error) {
	now := nowUTC()
	sess := &models.Session{
		SessionID: uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Meta:      map[string]any{},
	}
	_, err := s.db.SQL().ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, title, created_at, updated_at, meta_json)
		 VALUES (?, ?, ?, ?, '{}')`,
		sess.SessionID, sess.Title, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession loads a session by id.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	row := s.db.SQL().QueryRowContext(ctx,
		`SELECT session_id, title, created_at, updated_at, meta_json
		 FROM chat_sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// ListSessions returns the most recently updated sessions.
func (s *SessionStore) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT session_id, title, created_at, updated_at, meta_json
		 FROM chat_sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and its messages.
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMeta applies an additive patch to the session meta bag. Keys in the
// patch overwrite existing keys; keys absent from the patch are preserved.
// The read-modify-write runs inside a per-session critical section so
// concurrent patches to the same session serialize.
func (s *SessionStore) UpdateMeta(ctx context.Context, sessionID string, patch map[string]any) (*models.Session, error) {
	lock := s.metaLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Meta == nil {
		sess.Meta = map[string]any{}
	}
	for k, v := range patch {
		sess.Meta[k] = v
	}

	metaJSON, err := json.Marshal(sess.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}

	// updated_at is monotonic even if the wall clock stalls within the
	// timestamp resolution.
	updated := nowUTC()
	if !updated.After(sess.UpdatedAt) {
		updated = sess.UpdatedAt.Add(time.Millisecond)
	}

	_, err = s.db.SQL().ExecContext(ctx,
		`UPDATE chat_sessions SET meta_json = ?, updated_at = ? WHERE session_id = ?`,
		string(metaJSON), updated, sessionID)
	if err != nil {
		return nil, fmt.Errorf("update meta: %w", err)
	}
	sess.UpdatedAt = updated
	return sess, nil
}

// SetTitle updates the session title (used for auto-titling from the first
// user message).
func (s *SessionStore) SetTitle(ctx context.Context, sessionID, title string) error {
	res, err := s.db.SQL().ExecContext(ctx,
		`UPDATE chat_sessions SET title = ?, updated_at = ? WHERE session_id = ?`,
		title, nowUTC(), sessionID)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage appends a message to a session.
func (s *SessionStore) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg.SessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant && msg.Role != models.RoleSystem {
		return nil, NewValidationError("role", "must be user, assistant, or system")
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	msg.CreatedAt = nowUTC()

	actions, err := marshalOrNil(msg.Actions)
	if err != nil {
		return nil, fmt.Errorf("marshal actions: %w", err)
	}
	references, err := marshalOrNil(msg.References)
	if err != nil {
		return nil, fmt.Errorf("marshal references: %w", err)
	}
	meta, err := marshalOrNil(msg.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}

	_, err = s.db.SQL().ExecContext(ctx,
		`INSERT INTO chat_messages (message_id, session_id, role, content, actions_json, references_json, created_at, meta_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.SessionID, msg.Role, msg.Content, actions, references, msg.CreatedAt, meta)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := s.db.SQL().ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE session_id = ?`,
		msg.CreatedAt, msg.SessionID); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return msg, nil
}

// GetMessages returns a session's messages in insertion order.
func (s *SessionStore) GetMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT message_id, session_id, role, content, actions_json, references_json, created_at, meta_json
		 FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC, message_id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		var actions, references, meta sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &msg.Role, &msg.Content,
			&actions, &references, &msg.CreatedAt, &meta); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if actions.Valid {
			_ = json.Unmarshal([]byte(actions.String), &msg.Actions)
		}
		if references.Valid {
			_ = json.Unmarshal([]byte(references.String), &msg.References)
		}
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &msg.Meta)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func (s *SessionStore) metaLock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &s.metaLocks[h.Sum32()%metaLockStripes]
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var metaJSON string
	err := row.Scan(&sess.SessionID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &sess.Meta); err != nil {
		return nil, fmt.Errorf("decode session meta: %w", err)
	}
	return &sess, nil
}

func marshalOrNil(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if s := string(data); s != "null" && s != "[]" && s != "{}" {
		return s, nil
	}
	return nil, nil
}

// DeriveTitle produces a session title from the first user message.
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) > 24 {
		return string(runes[:24]) + "…"
	}
	return content
}

// DeleteIdleBefore removes sessions whose last update precedes the cutoff,
// along with their messages. Returns the number of sessions removed.
func (s *SessionStore) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM chat_messages WHERE session_id IN
		 (SELECT session_id FROM chat_sessions WHERE updated_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("delete stale messages: %w", err)
	}
	res, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
