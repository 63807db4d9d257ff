package agent

import (
	"context"
	"time"

	"github.com/agentkube/kroot-orchestrator/pkg/config"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// ExecutionContext carries all dependencies and state needed by an agent
// during one sub-agent invocation. Created by the investigation supervisor
// for each dispatched role.
type ExecutionContext struct {
	// Identity — a TaskID may have many SubTasks, one per dispatched Role.
	TaskID    string
	SubTaskID string
	Role      models.AgentRole

	// OriginalPrompt and the optional context blocks the request carried in
	// (resource/log/free-form/cluster). Arbitrary text, never parsed.
	OriginalPrompt  string
	ResourceContext string
	LogContext      string
	FreeFormContext string
	ClusterContext  string

	// PriorFindings is the accumulated output of sub-agents dispatched
	// before this one in the same task, in dispatch order.
	PriorFindings []string

	// Configuration (resolved from hierarchy)
	Config *ResolvedAgentConfig

	// Dependencies (injected by the supervisor)
	LLMClient     LLMClient
	ToolExecutor  ToolExecutor
	Recorder      EventRecorder
	PromptBuilder PromptBuilder

	// FailedServers maps serverID → error message for MCP servers that
	// failed to initialize. Used by the prompt builder to warn the LLM.
	FailedServers map[string]string
}

// EventRecorder persists one task's investigation events. Implemented by
// investigation.Store; defined as an interface here to avoid a circular
// import between pkg/agent and pkg/investigation.
type EventRecorder interface {
	AppendEvent(ctx context.Context, taskID string, ev models.Event) error
}

// Backend constants — resolved from iteration strategy via ResolveBackend().
const (
	BackendGoogleNative = "google-native"
	BackendLangChain    = "langchain"
)

// ResolvedAgentConfig is the fully-resolved configuration for an agent execution.
// All hierarchy levels (defaults → chain → stage → agent) have been applied.
type ResolvedAgentConfig struct {
	AgentName          string
	IterationStrategy  config.IterationStrategy
	LLMProvider        *config.LLMProviderConfig
	LLMProviderName    string // The resolved provider key (for observability / DB records)
	MaxIterations      int
	IterationTimeout   time.Duration // Per-iteration timeout (default: 120s)
	MCPServers         []string
	CustomInstructions string
	Backend            string // "google-native" or "langchain" — resolved from iteration strategy
}

// PromptBuilder builds all prompt text for agent controllers.
// Implemented by investigation.promptBuilder; defined as an interface here
// to avoid a circular import between pkg/agent and pkg/investigation.
type PromptBuilder interface {
	BuildReActMessages(execCtx *ExecutionContext, tools []ToolDefinition) []ConversationMessage
	BuildForcedConclusionPrompt(iteration int) string
}
