package investigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// workerStatus mirrors pkg/queue's WorkerStatus.
type workerStatus string

const (
	workerIdle    workerStatus = "idle"
	workerWorking workerStatus = "working"
)

// registry is the subset of WorkerPool a Worker needs for task registration.
type registry interface {
	RegisterTask(taskID string, cancel context.CancelFunc)
	UnregisterTask(taskID string)
}

// Worker polls the store for queued tasks and drives each through an Executor.
type Worker struct {
	id       string
	podID    string
	store    *Store
	config   Config
	executor Executor
	pool     registry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.RWMutex
	status         workerStatus
	currentTaskID  string
	tasksProcessed int
	lastActivity   time.Time
}

func newWorker(id, podID string, store *Store, cfg Config, executor Executor, pool registry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		store:        store,
		config:       cfg,
		executor:     executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       workerIdle,
		lastActivity: time.Now(),
	}
}

func (w *Worker) start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *Worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("investigation worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("investigation worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, investigation worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoTasksAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing task", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *Worker) pollInterval() time.Duration {
	if w.config.PollInterval > 0 {
		return w.config.PollInterval
	}
	return 2 * time.Second
}

// pollAndProcess checks capacity, claims a task, and drives it to completion.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	active, err := w.store.countProcessing(ctx)
	if err != nil {
		return fmt.Errorf("checking active tasks: %w", err)
	}
	if w.config.MaxConcurrentTasks > 0 && active >= w.config.MaxConcurrentTasks {
		return ErrAtCapacity
	}

	task, err := w.store.claimNextTask(ctx, w.podID)
	if err != nil {
		return err
	}

	log := slog.With("task_id", task.TaskID, "worker_id", w.id)
	log.Info("task claimed")

	w.setStatus(workerWorking, task.TaskID)
	defer w.setStatus(workerIdle, "")

	taskCtx, cancelTask := context.WithTimeout(ctx, w.taskTimeout())
	defer cancelTask()

	w.pool.RegisterTask(task.TaskID, cancelTask)
	defer w.pool.UnregisterTask(task.TaskID)

	result := w.executor.Execute(taskCtx, task)
	if result == nil {
		result = w.synthesizeResult(taskCtx)
	}

	if err := w.store.SetStatus(context.Background(), task.TaskID, result.Status, true); err != nil {
		log.Error("failed to set terminal task status", "error", err)
		return err
	}

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	log.Info("task processing complete", "status", result.Status)
	return nil
}

func (w *Worker) taskTimeout() time.Duration {
	if w.config.TaskTimeout > 0 {
		return w.config.TaskTimeout
	}
	return 30 * time.Minute
}

// synthesizeResult builds a safe terminal result when the executor returns
// nil, classifying by how the task context ended.
func (w *Worker) synthesizeResult(ctx context.Context) *ExecutionResult {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &ExecutionResult{Status: models.TaskStatusFailed, Error: fmt.Errorf("task timed out")}
	case errors.Is(ctx.Err(), context.Canceled):
		return &ExecutionResult{Status: models.TaskStatusCancelled, Error: context.Canceled}
	default:
		return &ExecutionResult{Status: models.TaskStatusFailed, Error: fmt.Errorf("executor returned nil result")}
	}
}

func (w *Worker) setStatus(status workerStatus, taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}
