package investigation

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkube/kroot-orchestrator/pkg/database"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

type fakeExecutor struct {
	result *ExecutionResult
}

func (f *fakeExecutor) Execute(ctx context.Context, task *models.Task) *ExecutionResult {
	return f.result
}

type fakeRegistry struct{}

func (fakeRegistry) RegisterTask(string, context.CancelFunc) {}
func (fakeRegistry) UnregisterTask(string)                   {}

func newTestWorker(t *testing.T, executor Executor) (*Worker, *Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewStore(database.NewClientFromSqlx(sqlx.NewDb(db, "pgx")))
	w := newWorker("w-1", "pod-1", store, Config{TaskTimeout: time.Minute}, executor, fakeRegistry{})
	return w, store, mock
}

func TestWorker_PollAndProcess_ClaimsExecutesAndSetsTerminalStatus(t *testing.T) {
	w, _, mock := newTestWorker(t, &fakeExecutor{result: &ExecutionResult{Status: models.TaskStatusCompleted}})
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM tasks").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectBegin()
	rows := sqlmock.NewRows(taskColumns()).AddRow(
		"t-1", "queued", "title", `[]`, "", "", `[]`, `[]`, nil, nil, now, now)
	mock.ExpectQuery("SELECT task_id, status, title").WillReturnRows(rows)
	mock.ExpectExec("UPDATE tasks SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// SetStatus's Get call, then the terminal UPDATE.
	rows2 := sqlmock.NewRows(taskColumns()).AddRow(
		"t-1", "processing", "title", `[]`, "", "", `[]`, `[]`, nil, nil, now, now)
	mock.ExpectQuery("SELECT task_id, status, title").WillReturnRows(rows2)
	mock.ExpectExec("UPDATE tasks SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	err := w.pollAndProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, w.health().TasksProcessed)
}

func TestWorker_PollAndProcess_AtCapacity(t *testing.T) {
	w, _, mock := newTestWorker(t, &fakeExecutor{})
	w.config.MaxConcurrentTasks = 1

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM tasks").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := w.pollAndProcess(context.Background())
	assert.ErrorIs(t, err, ErrAtCapacity)
}

func TestWorker_SynthesizeResult_OnTimeout(t *testing.T) {
	w, _, _ := newTestWorker(t, &fakeExecutor{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	result := w.synthesizeResult(ctx)
	assert.Equal(t, models.TaskStatusFailed, result.Status)
}
