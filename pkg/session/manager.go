package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentkube/kroot-orchestrator/pkg/apperrors"
	"github.com/agentkube/kroot-orchestrator/pkg/database"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

const operationTimeout = 5 * time.Second

// Manager persists chat sessions and their messages via the shared database
// client. It replaces an earlier in-memory implementation: sessions now
// survive process restarts, matching models.Session's documented contract.
type Manager struct {
	db *database.Client
}

// NewManager creates a session manager backed by db.
func NewManager(db *database.Client) *Manager {
	return &Manager{db: db}
}

// Create starts a new chat session. Status is always StatusActive at
// creation — a session moves to closed only via explicit Close.
func (m *Manager) Create(httpCtx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(httpCtx, operationTimeout)
	defer cancel()

	now := time.Now().UTC()
	sess := &models.Session{
		SessionID: uuid.New().String(),
		Title:     req.Title,
		Model:     req.Model,
		Status:    models.SessionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := m.db.Sqlx().ExecContext(ctx,
		`INSERT INTO sessions (session_id, title, model, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.SessionID, sess.Title, sess.Model, sess.Status, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", apperrors.ErrInternal, err)
	}

	return sess, nil
}

// Get retrieves a session by ID, optionally loading its messages.
func (m *Manager) Get(httpCtx context.Context, sessionID string, withMessages bool) (*models.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", apperrors.ErrInvalidRequest)
	}

	ctx, cancel := context.WithTimeout(httpCtx, operationTimeout)
	defer cancel()

	var sess models.Session
	err := m.db.Sqlx().GetContext(ctx, &sess,
		`SELECT session_id, title, model, status, created_at, updated_at
		FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("%w: get session: %v", apperrors.ErrInternal, err)
	}

	if withMessages {
		messages, err := m.listMessages(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		sess.Messages = messages
	}

	return &sess, nil
}

// List returns a paginated, filtered view of sessions ordered newest-first.
func (m *Manager) List(httpCtx context.Context, filters models.SessionFilters) (*models.SessionListResponse, error) {
	ctx, cancel := context.WithTimeout(httpCtx, operationTimeout)
	defer cancel()

	limit := filters.Limit
	if limit <= 0 {
		limit = 25
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT session_id, title, model, status, created_at, updated_at FROM sessions`
	countQuery := `SELECT count(*) FROM sessions`
	args := []any{}
	if filters.Status != "" {
		query += ` WHERE status = $1`
		countQuery += ` WHERE status = $1`
		args = append(args, filters.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	var sessions []*models.Session
	if err := m.db.Sqlx().SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", apperrors.ErrInternal, err)
	}

	var total int
	if err := m.db.Sqlx().GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("%w: count sessions: %v", apperrors.ErrInternal, err)
	}

	return &models.SessionListResponse{
		Sessions:   sessions,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// AddMessage appends a message to a session and bumps its updated_at.
func (m *Manager) AddMessage(httpCtx context.Context, sessionID string, req models.AddMessageRequest) (*models.Message, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", apperrors.ErrInvalidRequest)
	}
	if req.Content == "" {
		return nil, fmt.Errorf("%w: message content is required", apperrors.ErrInvalidRequest)
	}

	ctx, cancel := context.WithTimeout(httpCtx, operationTimeout)
	defer cancel()

	tx, err := m.db.Sqlx().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", apperrors.ErrInternal, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM sessions WHERE session_id = $1)`, sessionID); err != nil {
		return nil, fmt.Errorf("%w: check session: %v", apperrors.ErrInternal, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, sessionID)
	}

	msg := &models.Message{
		MessageID: uuid.New().String(),
		SessionID: sessionID,
		Role:      req.Role,
		Content:   req.Content,
		Name:      req.Name,
		CallID:    req.CallID,
		Timestamp: time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, role, content, name, call_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.MessageID, msg.SessionID, msg.Role, msg.Content, msg.Name, msg.CallID, msg.Timestamp); err != nil {
		return nil, fmt.Errorf("%w: insert message: %v", apperrors.ErrInternal, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = $1 WHERE session_id = $2`,
		msg.Timestamp, sessionID); err != nil {
		return nil, fmt.Errorf("%w: touch session: %v", apperrors.ErrInternal, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", apperrors.ErrInternal, err)
	}

	return msg, nil
}

// Close marks a session closed. Closing is idempotent.
func (m *Manager) Close(httpCtx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(httpCtx, operationTimeout)
	defer cancel()

	result, err := m.db.Sqlx().ExecContext(ctx,
		`UPDATE sessions SET status = $1, updated_at = $2 WHERE session_id = $3`,
		models.SessionStatusClosed, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("%w: close session: %v", apperrors.ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: close session: %v", apperrors.ErrInternal, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, sessionID)
	}
	return nil
}

// Delete removes a session and cascades its messages.
func (m *Manager) Delete(httpCtx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(httpCtx, operationTimeout)
	defer cancel()

	result, err := m.db.Sqlx().ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: delete session: %v", apperrors.ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete session: %v", apperrors.ErrInternal, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, sessionID)
	}
	return nil
}

func (m *Manager) listMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	err := m.db.Sqlx().SelectContext(ctx, &messages,
		`SELECT message_id, session_id, role, content, name, call_id, timestamp
		FROM messages WHERE session_id = $1 ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", apperrors.ErrInternal, err)
	}
	return messages, nil
}

// DeleteClosedOlderThan hard-deletes closed sessions (and cascades their
// messages) whose updated_at is older than retentionDays.
func (m *Manager) DeleteClosedOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	result, err := m.db.Sqlx().ExecContext(ctx,
		`DELETE FROM sessions
		WHERE status = $1 AND updated_at < now() - ($2 || ' days')::interval`,
		models.SessionStatusClosed, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("%w: delete old sessions: %v", apperrors.ErrInternal, err)
	}
	return result.RowsAffected()
}
