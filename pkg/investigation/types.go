// Package investigation runs the supervisor state machine that drives one
// Task from creation to a terminal status: claiming queued tasks, dispatching
// sub-agent work, and recording progress as Events/SubTasks on the task row.
package investigation

import (
	"context"
	"errors"
	"time"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// Sentinel errors for pool polling, mirroring pkg/queue's ErrNoSessionsAvailable/ErrAtCapacity.
var (
	// ErrNoTasksAvailable indicates no queued tasks are waiting to be claimed.
	ErrNoTasksAvailable = errors.New("no tasks available")

	// ErrAtCapacity indicates the global concurrent investigation limit has been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// Executor owns an entire task's investigation lifecycle once claimed: plan
// generation, sub-agent dispatch, and KGroot root-cause analysis. It writes
// Events/SubTasks progressively via Store during execution; the worker only
// handles claiming, heartbeat, and the terminal status update.
type Executor interface {
	Execute(ctx context.Context, task *models.Task) *ExecutionResult
}

// ExecutionResult is the terminal outcome of one investigation run.
type ExecutionResult struct {
	Status TaskStatus
	Error  error
}

// TaskStatus is a local alias kept distinct from models.TaskStatus so the
// pool package can be grounded independently of the Task JSON-column shape.
type TaskStatus = models.TaskStatus

// PoolHealth reports the worker pool's current state.
type PoolHealth struct {
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveTasks      int            `json:"active_tasks"`
	MaxConcurrent    int            `json:"max_concurrent"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth reports a single worker's current state.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"` // "idle" or "working"
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
	TasksProcessed int       `json:"tasks_processed"`
	LastActivity   time.Time `json:"last_activity"`
}

// Config bounds the pool's concurrency and polling behavior.
type Config struct {
	WorkerCount             int
	MaxConcurrentTasks      int
	TaskTimeout             time.Duration
	HeartbeatInterval       time.Duration
	PollInterval            time.Duration
	OrphanDetectionInterval time.Duration
	OrphanThreshold         time.Duration
}
