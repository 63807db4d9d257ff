// Package models contains the persisted domain entities and their
// request/response shapes.
package models

import "time"

// TaskStatus is the lifecycle status of an investigation task.
type TaskStatus string

const (
	// TaskStatusQueued is the status a task is created with; a pool worker
	// claims it and transitions it to Processing (pkg/investigation).
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusFailed     TaskStatus = "failed"
)

// Resolved captures the tri-state resolution verdict of a task.
type Resolved string

const (
	ResolvedYes     Resolved = "yes"
	ResolvedNo      Resolved = "no"
	ResolvedUnknown Resolved = ""
)

// Task is the persisted record of one investigation, from creation to
// terminal status. Events and SubTasks are stored as JSON blobs on the
// task row (see pkg/database) rather than normalized edge tables — the
// orchestrator is the sole writer of both for the life of the task.
type Task struct {
	TaskID    string     `json:"task_id" db:"task_id"`
	Status    TaskStatus `json:"status" db:"status"`
	Title     string     `json:"title" db:"title"`
	Tags      []string   `json:"tags" db:"-"`
	Severity  string     `json:"severity,omitempty" db:"severity"`
	Resolved  Resolved   `json:"resolved" db:"resolved"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`

	Events   []Event   `json:"events" db:"-"`
	SubTasks []SubTask `json:"sub_tasks" db:"-"`

	// Request is the original investigation input, persisted verbatim so a
	// worker that claims this task later can rebuild agent execution
	// context without the submitting client staying connected.
	Request InvestigationTaskRequest `json:"request" db:"-"`
}

// IsTerminal reports whether the task has reached a status from which no
// further events may be appended.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// InvestigationTaskRequest is the input to starting a new investigation.
type InvestigationTaskRequest struct {
	Title              string         `json:"title"`
	OriginalPrompt     string         `json:"original_prompt"`
	ResourceContext    string         `json:"resource_context,omitempty"`
	LogContext         string         `json:"log_context,omitempty"`
	FreeFormContext    string         `json:"free_form_context,omitempty"`
	ClusterContext     string         `json:"cluster_context,omitempty"`
	SessionMetadata    map[string]any `json:"session_metadata,omitempty"`
}

// IsEmpty reports whether the request carries no prompt and no context at
// all, which the orchestrator rejects with InvalidRequest.
func (r *InvestigationTaskRequest) IsEmpty() bool {
	return r.OriginalPrompt == "" && r.ResourceContext == "" &&
		r.LogContext == "" && r.FreeFormContext == ""
}

// TaskStatusView is the polling response for GET .../status.
type TaskStatusView struct {
	TaskID      string     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskListFilters mirrors the listing filters the HTTP facade accepts.
type TaskListFilters struct {
	Status    string `json:"status,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}
