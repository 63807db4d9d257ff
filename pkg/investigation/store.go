package investigation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentkube/kroot-orchestrator/pkg/apperrors"
	"github.com/agentkube/kroot-orchestrator/pkg/database"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

const storeOperationTimeout = 5 * time.Second

// Store persists Task rows. Events and SubTasks round-trip as JSONB blobs
// on the row (pkg/models.Task's documented layout) rather than normalized
// edge tables, so every read/write pays one marshal/unmarshal pass.
type Store struct {
	db *database.Client
}

// NewStore creates a task store backed by db.
func NewStore(db *database.Client) *Store {
	return &Store{db: db}
}

// taskRow mirrors the tasks table; JSON columns are scanned raw and
// decoded separately since models.Task marks them db:"-".
type taskRow struct {
	TaskID    string          `db:"task_id"`
	Status    string          `db:"status"`
	Title     string          `db:"title"`
	Tags      json.RawMessage `db:"tags"`
	Severity  string          `db:"severity"`
	Resolved  string          `db:"resolved"`
	Events    json.RawMessage `db:"events"`
	SubTasks  json.RawMessage `db:"sub_tasks"`
	Request   json.RawMessage `db:"request"`
	FPG       json.RawMessage `db:"fpg"`
	RootCause json.RawMessage `db:"root_cause"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (r *taskRow) toTask() (*models.Task, error) {
	t := &models.Task{
		TaskID:    r.TaskID,
		Status:    models.TaskStatus(r.Status),
		Title:     r.Title,
		Severity:  r.Severity,
		Resolved:  models.Resolved(r.Resolved),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &t.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if len(r.Events) > 0 {
		if err := json.Unmarshal(r.Events, &t.Events); err != nil {
			return nil, fmt.Errorf("unmarshal events: %w", err)
		}
	}
	if len(r.SubTasks) > 0 {
		if err := json.Unmarshal(r.SubTasks, &t.SubTasks); err != nil {
			return nil, fmt.Errorf("unmarshal sub_tasks: %w", err)
		}
	}
	if len(r.Request) > 0 {
		if err := json.Unmarshal(r.Request, &t.Request); err != nil {
			return nil, fmt.Errorf("unmarshal request: %w", err)
		}
	}
	return t, nil
}

// Create inserts a new task in TaskStatusQueued, ready for a pool worker to claim.
func (s *Store) Create(httpCtx context.Context, req models.InvestigationTaskRequest) (*models.Task, error) {
	if req.IsEmpty() {
		return nil, fmt.Errorf("%w: investigation request carries no prompt or context", apperrors.ErrInvalidRequest)
	}

	ctx, cancel := context.WithTimeout(httpCtx, storeOperationTimeout)
	defer cancel()

	now := time.Now().UTC()
	task := &models.Task{
		TaskID:    uuid.New().String(),
		Status:    models.TaskStatusQueued,
		Title:     req.Title,
		Tags:      []string{},
		Resolved:  models.ResolvedUnknown,
		CreatedAt: now,
		UpdatedAt: now,
		Events:    []models.Event{},
		SubTasks:  []models.SubTask{},
		Request:   req,
	}

	tags, err := json.Marshal(task.Tags)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal tags: %v", apperrors.ErrInternal, err)
	}
	events, err := json.Marshal(task.Events)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal events: %v", apperrors.ErrInternal, err)
	}
	subTasks, err := json.Marshal(task.SubTasks)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal sub_tasks: %v", apperrors.ErrInternal, err)
	}
	reqJSON, err := json.Marshal(task.Request)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", apperrors.ErrInternal, err)
	}

	_, err = s.db.Sqlx().ExecContext(ctx,
		`INSERT INTO tasks (task_id, status, title, tags, severity, resolved, events, sub_tasks, request, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		task.TaskID, task.Status, task.Title, tags, task.Severity, task.Resolved, events, subTasks, reqJSON, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: create task: %v", apperrors.ErrInternal, err)
	}

	return task, nil
}

// Get retrieves a task by ID.
func (s *Store) Get(httpCtx context.Context, taskID string) (*models.Task, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: task id is required", apperrors.ErrInvalidRequest)
	}

	ctx, cancel := context.WithTimeout(httpCtx, storeOperationTimeout)
	defer cancel()

	var row taskRow
	err := s.db.Sqlx().GetContext(ctx, &row,
		`SELECT task_id, status, title, tags, severity, resolved, events, sub_tasks, request, fpg, root_cause, created_at, updated_at
		FROM tasks WHERE task_id = $1`, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %s", apperrors.ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("%w: get task: %v", apperrors.ErrInternal, err)
	}

	return row.toTask()
}

// List returns a paginated, filtered view of tasks ordered newest-first.
func (s *Store) List(httpCtx context.Context, filters models.TaskListFilters) ([]*models.Task, int, error) {
	ctx, cancel := context.WithTimeout(httpCtx, storeOperationTimeout)
	defer cancel()

	limit := filters.Limit
	if limit <= 0 {
		limit = 25
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT task_id, status, title, tags, severity, resolved, events, sub_tasks, request, fpg, root_cause, created_at, updated_at FROM tasks`
	countQuery := `SELECT count(*) FROM tasks`
	args := []any{}
	if filters.Status != "" {
		query += ` WHERE status = $1`
		countQuery += ` WHERE status = $1`
		args = append(args, filters.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	var rows []taskRow
	if err := s.db.Sqlx().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("%w: list tasks: %v", apperrors.ErrInternal, err)
	}

	tasks := make([]*models.Task, 0, len(rows))
	for i := range rows {
		task, err := rows[i].toTask()
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", apperrors.ErrInternal, err)
		}
		tasks = append(tasks, task)
	}

	var total int
	if err := s.db.Sqlx().GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("%w: count tasks: %v", apperrors.ErrInternal, err)
	}

	return tasks, total, nil
}

// SetStatus transitions a task's status and bumps updated_at. Returns
// ErrAlreadyTerminal if the task has already reached a terminal status,
// unless force is true (used by cancellation, which may terminate a
// processing task).
func (s *Store) SetStatus(httpCtx context.Context, taskID string, status models.TaskStatus, force bool) error {
	ctx, cancel := context.WithTimeout(httpCtx, storeOperationTimeout)
	defer cancel()

	task, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.IsTerminal() && !force {
		return fmt.Errorf("%w: task %s", apperrors.ErrAlreadyTerminal, taskID)
	}

	_, err = s.db.Sqlx().ExecContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2 WHERE task_id = $3`,
		status, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("%w: set task status: %v", apperrors.ErrInternal, err)
	}
	return nil
}

// AppendEvent appends one event to the task's event log. The sequence is
// assigned as len(existing events)+1, keeping it dense and strictly
// increasing as pkg/models.Event documents.
func (s *Store) AppendEvent(httpCtx context.Context, taskID string, ev models.Event) error {
	ctx, cancel := context.WithTimeout(httpCtx, storeOperationTimeout)
	defer cancel()

	tx, err := s.db.Sqlx().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", apperrors.ErrInternal, err)
	}
	defer func() { _ = tx.Rollback() }()

	var row struct {
		Status string          `db:"status"`
		Events json.RawMessage `db:"events"`
	}
	if err := tx.GetContext(ctx, &row, `SELECT status, events FROM tasks WHERE task_id = $1 FOR UPDATE`, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: task %s", apperrors.ErrNotFound, taskID)
		}
		return fmt.Errorf("%w: load events: %v", apperrors.ErrInternal, err)
	}
	if models.TaskStatus(row.Status) == models.TaskStatusCompleted ||
		models.TaskStatus(row.Status) == models.TaskStatusCancelled ||
		models.TaskStatus(row.Status) == models.TaskStatusFailed {
		return fmt.Errorf("%w: task %s has already reached a terminal status", apperrors.ErrAlreadyTerminal, taskID)
	}
	raw := row.Events

	var events []models.Event
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &events); err != nil {
			return fmt.Errorf("%w: unmarshal events: %v", apperrors.ErrInternal, err)
		}
	}

	ev.Sequence = len(events) + 1
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	events = append(events, ev)

	encoded, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("%w: marshal events: %v", apperrors.ErrInternal, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET events = $1, updated_at = $2 WHERE task_id = $3`,
		encoded, time.Now().UTC(), taskID); err != nil {
		return fmt.Errorf("%w: update events: %v", apperrors.ErrInternal, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", apperrors.ErrInternal, err)
	}
	return nil
}

// ReplayEvents returns every persisted event for taskID in sequence order,
// satisfying pkg/events.Store so a Hub can be backed directly by this store.
func (s *Store) ReplayEvents(httpCtx context.Context, taskID string) ([]models.Event, error) {
	task, err := s.Get(httpCtx, taskID)
	if err != nil {
		return nil, err
	}
	return task.Events, nil
}

// NextSequence returns the sequence number the next AppendEvent call will
// assign, satisfying pkg/events.Store.
func (s *Store) NextSequence(httpCtx context.Context, taskID string) (int, error) {
	task, err := s.Get(httpCtx, taskID)
	if err != nil {
		return 0, err
	}
	return len(task.Events) + 1, nil
}

// AppendSubTask appends a new sub-task record to the task's sub_tasks log.
func (s *Store) AppendSubTask(httpCtx context.Context, taskID string, sub models.SubTask) error {
	return s.mutateSubTasks(httpCtx, taskID, func(subs []models.SubTask) []models.SubTask {
		return append(subs, sub)
	})
}

// UpdateSubTask applies mutate to the sub-task identified by subTaskID and
// persists the result. Returns apperrors.ErrNotFound if no sub-task with
// that ID exists on the task.
func (s *Store) UpdateSubTask(httpCtx context.Context, taskID, subTaskID string, mutate func(*models.SubTask)) error {
	found := false
	err := s.mutateSubTasks(httpCtx, taskID, func(subs []models.SubTask) []models.SubTask {
		for i := range subs {
			if subs[i].SubTaskID == subTaskID {
				mutate(&subs[i])
				found = true
			}
		}
		return subs
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: sub_task %s on task %s", apperrors.ErrNotFound, subTaskID, taskID)
	}
	return nil
}

// mutateSubTasks loads, transforms, and writes back the sub_tasks column
// under a row lock, mirroring AppendEvent's read-modify-write pattern.
func (s *Store) mutateSubTasks(httpCtx context.Context, taskID string, fn func([]models.SubTask) []models.SubTask) error {
	ctx, cancel := context.WithTimeout(httpCtx, storeOperationTimeout)
	defer cancel()

	tx, err := s.db.Sqlx().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", apperrors.ErrInternal, err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw json.RawMessage
	if err := tx.GetContext(ctx, &raw, `SELECT sub_tasks FROM tasks WHERE task_id = $1 FOR UPDATE`, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: task %s", apperrors.ErrNotFound, taskID)
		}
		return fmt.Errorf("%w: load sub_tasks: %v", apperrors.ErrInternal, err)
	}

	var subs []models.SubTask
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &subs); err != nil {
			return fmt.Errorf("%w: unmarshal sub_tasks: %v", apperrors.ErrInternal, err)
		}
	}

	subs = fn(subs)

	encoded, err := json.Marshal(subs)
	if err != nil {
		return fmt.Errorf("%w: marshal sub_tasks: %v", apperrors.ErrInternal, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET sub_tasks = $1, updated_at = $2 WHERE task_id = $3`,
		encoded, time.Now().UTC(), taskID); err != nil {
		return fmt.Errorf("%w: update sub_tasks: %v", apperrors.ErrInternal, err)
	}
	return tx.Commit()
}

// SetKGrootArtifacts persists the final fault propagation graph and root
// cause report produced once an investigation's sub-agent dispatch
// completes, for replay by the task detail view.
func (s *Store) SetKGrootArtifacts(httpCtx context.Context, taskID string, fpg, rootCause any) error {
	ctx, cancel := context.WithTimeout(httpCtx, storeOperationTimeout)
	defer cancel()

	fpgJSON, err := json.Marshal(fpg)
	if err != nil {
		return fmt.Errorf("%w: marshal fpg: %v", apperrors.ErrInternal, err)
	}
	rootCauseJSON, err := json.Marshal(rootCause)
	if err != nil {
		return fmt.Errorf("%w: marshal root_cause: %v", apperrors.ErrInternal, err)
	}

	_, err = s.db.Sqlx().ExecContext(ctx,
		`UPDATE tasks SET fpg = $1, root_cause = $2, updated_at = $3 WHERE task_id = $4`,
		fpgJSON, rootCauseJSON, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("%w: set kgroot artifacts: %v", apperrors.ErrInternal, err)
	}
	return nil
}

// claimNextTask atomically claims the oldest queued task using
// SELECT ... FOR UPDATE SKIP LOCKED, so multiple process replicas can share
// one investigation queue without double-processing (mirrors tarsy's
// claimNextSession).
func (s *Store) claimNextTask(ctx context.Context, podID string) (*models.Task, error) {
	tx, err := s.db.Sqlx().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row taskRow
	err = tx.GetContext(ctx, &row,
		`SELECT task_id, status, title, tags, severity, resolved, events, sub_tasks, request, fpg, root_cause, created_at, updated_at
		FROM tasks WHERE status = $1 ORDER BY created_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED`,
		models.TaskStatusQueued)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTasksAvailable
		}
		return nil, fmt.Errorf("query queued task: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = $1, updated_at = $2 WHERE task_id = $3`,
		models.TaskStatusProcessing, now, row.TaskID); err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	row.Status = string(models.TaskStatusProcessing)
	row.UpdatedAt = now
	return row.toTask()
}

// countProcessing returns the number of tasks currently in TaskStatusProcessing,
// used as a best-effort global capacity check before claiming more work.
func (s *Store) countProcessing(ctx context.Context) (int, error) {
	var count int
	err := s.db.Sqlx().GetContext(ctx, &count, `SELECT count(*) FROM tasks WHERE status = $1`, models.TaskStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("count processing tasks: %w", err)
	}
	return count, nil
}

// DeleteTerminalOlderThan hard-deletes terminal tasks (completed, cancelled,
// failed) whose updated_at is older than retentionDays. Returns the number
// of rows removed.
func (s *Store) DeleteTerminalOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	result, err := s.db.Sqlx().ExecContext(ctx,
		`DELETE FROM tasks
		WHERE status IN ($1, $2, $3) AND updated_at < now() - ($4 || ' days')::interval`,
		models.TaskStatusCompleted, models.TaskStatusCancelled, models.TaskStatusFailed, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("delete old terminal tasks: %w", err)
	}
	return result.RowsAffected()
}
