package investigation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentkube/kroot-orchestrator/pkg/agent"
	"github.com/agentkube/kroot-orchestrator/pkg/apperrors"
	"github.com/agentkube/kroot-orchestrator/pkg/config"
	"github.com/agentkube/kroot-orchestrator/pkg/kgroot"
	"github.com/agentkube/kroot-orchestrator/pkg/llm"
	"github.com/agentkube/kroot-orchestrator/pkg/mcp"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// dispatchOrder is the fixed sequence of sub-agent roles the supervisor
// works through before the mandatory terminal root-cause call.
var dispatchOrder = []models.AgentRole{
	models.AgentDiscovery,
	models.AgentMonitoring,
	models.AgentSecurity,
	models.AgentLogging,
	models.AgentIntegration,
}

// roleTodoContent is the plan item each role's dispatch satisfies, seeded
// into the in-memory todo board before any agent runs.
var roleTodoContent = map[models.AgentRole]string{
	models.AgentDiscovery:   "Discover affected resources and their current state",
	models.AgentMonitoring:  "Review metrics and recent alerting history",
	models.AgentSecurity:    "Check for security-relevant misconfiguration or policy violations",
	models.AgentLogging:     "Collect and correlate application and control-plane logs",
	models.AgentIntegration: "Check upstream/downstream service and network dependencies",
	models.AgentRootCause:   "Synthesize findings into a root cause determination",
}

// Supervisor drives one Task end to end: it builds an in-memory todo board,
// dispatches a sub-agent per role in turn, and closes with a mandatory
// root_cause_analysis call that folds in the KGroot structural analysis.
// Grounded on spec.md §4.1's supervisor algorithm: todo-before-first-action,
// single-in-progress, and a terminal root-cause invocation are its three
// load-bearing invariants.
type Supervisor struct {
	store      *Store
	recorder   agent.EventRecorder
	cfg        *config.Config
	mcpFactory *mcp.ClientFactory

	extractor         *kgroot.Extractor
	correlationEngine *kgroot.CorrelationEngine
	fpgBuilder        *kgroot.FPGBuilder
	rcAnalyzer        *kgroot.RootCauseAnalyzer

	promptBuilder *promptBuilder

	mu         sync.Mutex
	llmClients map[string]agent.LLMClient
}

// NewSupervisor wires a Supervisor from its concrete dependencies. extractor
// may be nil, in which case live Kubernetes event extraction is skipped and
// root-cause analysis runs on whatever KGroot events the dispatched agents'
// tool calls surfaced (none, today — see DESIGN.md).
func NewSupervisor(
	store *Store,
	recorder agent.EventRecorder,
	cfg *config.Config,
	mcpFactory *mcp.ClientFactory,
	extractor *kgroot.Extractor,
) *Supervisor {
	correlationEngine := kgroot.NewCorrelationEngine(nil, kgroot.DefaultCorrelationConfig())
	return &Supervisor{
		store:             store,
		recorder:          recorder,
		cfg:               cfg,
		mcpFactory:        mcpFactory,
		extractor:         extractor,
		correlationEngine: correlationEngine,
		fpgBuilder:        kgroot.NewFPGBuilder(correlationEngine),
		rcAnalyzer:        kgroot.NewRootCauseAnalyzer(nil),
		promptBuilder:     newPromptBuilder(cfg.MCPServerRegistry),
		llmClients:        make(map[string]agent.LLMClient),
	}
}

// Execute satisfies investigation.Executor.
func (s *Supervisor) Execute(ctx context.Context, task *models.Task) *ExecutionResult {
	req := task.Request

	board := newPlanBoard(dispatchOrder)
	s.emitTodoUpdated(ctx, task.TaskID, board)

	_ = s.recorder.AppendEvent(ctx, task.TaskID, models.Event{
		Kind:    models.EventKindInvestigationStarted,
		Reason:  "supervisor",
		Payload: map[string]any{"title": task.Title, "roles": len(dispatchOrder) + 1},
	})

	var priorFindings []string
	var collected []models.KGrootEvent

	for _, role := range dispatchOrder {
		if err := ctx.Err(); err != nil {
			return s.cancelled(ctx, task.TaskID, err)
		}

		board.start(role)
		s.emitTodoUpdated(ctx, task.TaskID, board)

		finding, subErr := s.dispatch(ctx, task.TaskID, role, req, priorFindings)
		if subErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.cancelled(ctx, task.TaskID, ctxErr)
			}
			// A denied tool (recon mode / deny-list) still lets the
			// investigation proceed to completion with reduced coverage;
			// any other sub-agent failure is handled the same way here —
			// the role's todo is cancelled and the next role still runs.
			board.cancel(role, subErr.Error())
			s.emitTodoUpdated(ctx, task.TaskID, board)
			_ = s.recorder.AppendEvent(ctx, task.TaskID, models.Event{
				Kind: models.EventKindError, Reason: apperrors.Kind(subErr), Analysis: subErr.Error(),
				Payload: map[string]any{"role": string(role)},
			})
			continue
		}

		board.complete(role)
		s.emitTodoUpdated(ctx, task.TaskID, board)
		priorFindings = append(priorFindings, fmt.Sprintf("[%s] %s", role, finding))
	}

	if s.extractor != nil {
		collected = s.extractLiveEvents(ctx, req)
	}

	return s.concludeRootCause(ctx, task.TaskID, req, priorFindings, collected, board)
}

// dispatch resolves one role's configuration and dependencies, runs its
// ReAct loop via a fresh BaseAgent, and records the resulting sub-task.
func (s *Supervisor) dispatch(ctx context.Context, taskID string, role models.AgentRole, req models.InvestigationTaskRequest, priorFindings []string) (string, error) {
	resolved, err := agent.ResolveAgentConfig(s.cfg, role)
	if err != nil {
		return "", fmt.Errorf("resolve config for %s: %w", role, err)
	}

	llmClient, err := s.llmClient(resolved.LLMProviderName, resolved.LLMProvider)
	if err != nil {
		return "", fmt.Errorf("llm client for %s: %w", role, err)
	}

	toolExecutor, client, err := s.mcpFactory.CreateToolExecutor(ctx, resolved.MCPServers, nil)
	if err != nil {
		return "", fmt.Errorf("tool executor for %s: %w", role, err)
	}
	defer func() { _ = client.Close() }()

	var execTools agent.ToolExecutor = toolExecutor
	if s.cfg.Defaults.ReconMode {
		execTools = newReconGuardExecutor(toolExecutor, s.cfg.Defaults.MutatingToolDenyList)
	}

	subTaskID := uuid.New().String()
	startedAt := time.Now().UTC()
	_ = s.store.AppendSubTask(ctx, taskID, models.SubTask{
		SubTaskID: subTaskID, Agent: role, InputSummary: req.Title,
		StartedAt: startedAt, Status: models.SubTaskStatusRunning,
	})

	execCtx := &agent.ExecutionContext{
		TaskID: taskID, SubTaskID: subTaskID, Role: role,
		OriginalPrompt: req.OriginalPrompt, ResourceContext: req.ResourceContext,
		LogContext: req.LogContext, FreeFormContext: req.FreeFormContext,
		ClusterContext: req.ClusterContext, PriorFindings: priorFindings,
		Config: resolved, LLMClient: llmClient, ToolExecutor: execTools,
		Recorder: s.recorder, PromptBuilder: s.promptBuilder,
		FailedServers: client.FailedServers(),
	}

	sub := agent.NewBaseAgent(newReActController())
	result, err := sub.Execute(ctx, execCtx)
	if err != nil {
		_ = s.store.UpdateSubTask(ctx, taskID, subTaskID, func(st *models.SubTask) {
			now := time.Now().UTC()
			st.Status = models.SubTaskStatusFailed
			st.CompletedAt = &now
			st.OutputSummary = err.Error()
		})
		return "", err
	}

	status := models.SubTaskStatusCompleted
	if result.Status == agent.ExecutionStatusFailed || result.Status == agent.ExecutionStatusTimedOut {
		status = models.SubTaskStatusFailed
	} else if result.Status == agent.ExecutionStatusCancelled {
		status = models.SubTaskStatusCancelled
	}

	now := time.Now().UTC()
	_ = s.store.UpdateSubTask(ctx, taskID, subTaskID, func(st *models.SubTask) {
		st.Status = status
		st.CompletedAt = &now
		st.OutputSummary = result.FinalAnalysis
	})
	_ = s.recorder.AppendEvent(ctx, taskID, models.Event{
		Kind: models.EventKindAgentPhaseComplete, Reason: string(role),
		Payload: map[string]any{"sub_task_id": subTaskID, "status": status},
	})

	if status != models.SubTaskStatusCompleted {
		if result.Error != nil {
			return "", result.Error
		}
		return "", fmt.Errorf("%s: sub-agent finished with status %s", role, status)
	}
	return result.FinalAnalysis, nil
}

// concludeRootCause runs the terminal root_cause role, folds in the
// structural KGroot analysis when any events were collected, persists the
// artifacts, and emits investigation_complete.
func (s *Supervisor) concludeRootCause(ctx context.Context, taskID string, req models.InvestigationTaskRequest, priorFindings []string, collected []models.KGrootEvent, board *planBoard) *ExecutionResult {
	board.start(models.AgentRootCause)
	s.emitTodoUpdated(ctx, taskID, board)

	finalAnalysis, err := s.dispatch(ctx, taskID, models.AgentRootCause, req, priorFindings)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.cancelled(ctx, taskID, ctxErr)
		}
		board.cancel(models.AgentRootCause, err.Error())
		s.emitTodoUpdated(ctx, taskID, board)
		_ = s.recorder.AppendEvent(ctx, taskID, models.Event{Kind: models.EventKindError, Reason: "root_cause", Analysis: err.Error()})
		finalAnalysis = "root cause synthesis failed: " + err.Error()
	} else {
		board.complete(models.AgentRootCause)
		s.emitTodoUpdated(ctx, taskID, board)
	}

	fpg := kgroot.NewFaultPropagationGraph()
	var rootCauseResult kgroot.RootCauseResult
	if len(collected) > 0 {
		fpg = s.fpgBuilder.BuildFPG(ctx, collected, 5)
		rootCauseResult = s.rcAnalyzer.Analyze(ctx, fpg)
	}

	if err := s.store.SetKGrootArtifacts(ctx, taskID, fpg.ToView(), rootCauseResult); err != nil {
		_ = s.recorder.AppendEvent(ctx, taskID, models.Event{Kind: models.EventKindError, Reason: "kgroot", Analysis: err.Error()})
	}

	_ = s.recorder.AppendEvent(ctx, taskID, models.Event{
		Kind: models.EventKindInvestigationComplete, Reason: "supervisor",
		Payload: map[string]any{
			"report": models.TerminalReport{
				Summary:     finalAnalysis,
				Remediation: remediationSummary(rootCauseResult),
			},
		},
	})

	return &ExecutionResult{Status: models.TaskStatusCompleted}
}

func remediationSummary(result kgroot.RootCauseResult) string {
	if len(result.RootCauses) == 0 {
		return "no structural root cause identified; see agent findings"
	}
	return fmt.Sprintf("%d candidate recommendation(s) from structural analysis", len(result.Recommendations))
}

// extractLiveEvents fetches KGroot events for the resource named in the
// request's session metadata, when present. Resource identification is not
// yet parsed out of free-form prompts, so this only fires when a client
// supplies structured locators alongside the prompt.
func (s *Supervisor) extractLiveEvents(ctx context.Context, req models.InvestigationTaskRequest) []models.KGrootEvent {
	kind, _ := req.SessionMetadata["resource_kind"].(string)
	name, _ := req.SessionMetadata["resource_name"].(string)
	namespace, _ := req.SessionMetadata["namespace"].(string)
	kubecontext, _ := req.SessionMetadata["kubecontext"].(string)
	if kind == "" || name == "" {
		return nil
	}

	events, err := s.extractor.ExtractFromResource(ctx, kind, name, namespace, kubecontext)
	if err != nil {
		return nil
	}
	return kgroot.DeduplicateAndSort(events)
}

func (s *Supervisor) cancelled(ctx context.Context, taskID string, cause error) *ExecutionResult {
	_ = s.recorder.AppendEvent(context.Background(), taskID, models.Event{
		Kind: models.EventKindInvestigationCancelled, Reason: "supervisor", Analysis: cause.Error(),
	})
	return &ExecutionResult{Status: models.TaskStatusCancelled, Error: cause}
}

func (s *Supervisor) emitTodoUpdated(ctx context.Context, taskID string, board *planBoard) {
	_ = s.recorder.AppendEvent(ctx, taskID, models.Event{
		Kind:    models.EventKindTodoUpdated,
		Reason:  "supervisor",
		Payload: map[string]any{"todos": board.snapshot()},
	})
}

// llmClient returns a cached client for providerName, constructing one via
// llm.NewClient on first use. Clients are long-lived for the process, not
// per-investigation, since they hold no per-task state.
func (s *Supervisor) llmClient(providerName string, provider *config.LLMProviderConfig) (agent.LLMClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.llmClients[providerName]; ok {
		return c, nil
	}
	c, err := llm.NewClient(provider)
	if err != nil {
		return nil, err
	}
	s.llmClients[providerName] = c
	return c, nil
}
