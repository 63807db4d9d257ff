package session

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkube/kroot-orchestrator/pkg/apperrors"
	"github.com/agentkube/kroot-orchestrator/pkg/database"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	client := database.NewClientFromSqlx(sqlx.NewDb(db, "pgx"))
	return NewManager(client), mock
}

func TestManager_Create_InsertsActiveSession(t *testing.T) {
	mgr, mock := newTestManager(t)

	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(1, 1))

	sess, err := mgr.Create(context.Background(), models.CreateSessionRequest{Title: "debug pod", Model: "claude"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, sess.Status)
	assert.NotEmpty(t, sess.SessionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_Get_NotFoundMapsToErrNotFound(t *testing.T) {
	mgr, mock := newTestManager(t)

	mock.ExpectQuery("SELECT session_id, title, model, status, created_at, updated_at").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "title", "model", "status", "created_at", "updated_at"}))

	_, err := mgr.Get(context.Background(), "missing", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestManager_Get_RejectsEmptyID(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.Get(context.Background(), "", false)
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)
}

func TestManager_Get_LoadsMessagesWhenRequested(t *testing.T) {
	mgr, mock := newTestManager(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT session_id, title, model, status, created_at, updated_at").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "title", "model", "status", "created_at", "updated_at"}).
			AddRow("s-1", "debug pod", "claude", "active", now, now))
	mock.ExpectQuery("SELECT message_id, session_id, role, content, name, call_id, timestamp").
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "session_id", "role", "content", "name", "call_id", "timestamp"}).
			AddRow("m-1", "s-1", "user", "hello", "", "", now))

	sess, err := mgr.Get(context.Background(), "s-1", true)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "hello", sess.Messages[0].Content)
}

func TestManager_AddMessage_RejectsEmptyContent(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.AddMessage(context.Background(), "s-1", models.AddMessageRequest{Role: models.RoleUser})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)
}

func TestManager_AddMessage_NotFoundRollsBackTx(t *testing.T) {
	mgr, mock := newTestManager(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := mgr.AddMessage(context.Background(), "missing", models.AddMessageRequest{Role: models.RoleUser, Content: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_Delete_NotFound(t *testing.T) {
	mgr, mock := newTestManager(t)

	mock.ExpectExec("DELETE FROM sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := mgr.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
