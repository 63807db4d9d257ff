package models

import "time"

// AgentRole is the fixed set of sub-agent roles the supervisor dispatches to.
type AgentRole string

const (
	AgentDiscovery  AgentRole = "discovery"
	AgentMonitoring AgentRole = "monitoring"
	AgentSecurity   AgentRole = "security"
	AgentLogging    AgentRole = "logging"
	AgentIntegration AgentRole = "integration"
	AgentRootCause  AgentRole = "root_cause"
)

// SubTaskStatus mirrors agent.ExecutionStatus but scoped to one invocation
// recorded on the task.
type SubTaskStatus string

const (
	SubTaskStatusRunning   SubTaskStatus = "running"
	SubTaskStatusCompleted SubTaskStatus = "completed"
	SubTaskStatusFailed    SubTaskStatus = "failed"
	SubTaskStatusCancelled SubTaskStatus = "cancelled"
)

// SubTask is the record of one sub-agent invocation within a task.
type SubTask struct {
	SubTaskID     string        `json:"sub_task_id"`
	Agent         AgentRole     `json:"agent"`
	InputSummary  string        `json:"input_summary"`
	OutputSummary string        `json:"output_summary,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Status        SubTaskStatus `json:"status"`
}
