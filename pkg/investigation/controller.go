package investigation

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentkube/kroot-orchestrator/pkg/agent"
	"github.com/agentkube/kroot-orchestrator/pkg/config"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// reactController drives one sub-agent's Reason+Act loop: call the LLM,
// either execute the tool call it requests or accept its final answer,
// repeat until conclusion or the iteration budget is exhausted.
type reactController struct{}

func newReActController() *reactController { return &reactController{} }

// finalAnswerMarker is the ReAct format's terminal section header.
const finalAnswerMarker = "Final Answer:"

func (c *reactController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	tools, err := execCtx.ToolExecutor.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	messages := execCtx.PromptBuilder.BuildReActMessages(execCtx, tools)
	state := &agent.IterationState{MaxIterations: execCtx.Config.MaxIterations}
	var usage agent.TokenUsage

	for state.CurrentIteration < state.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state.CurrentIteration++

		text, toolCall, iterUsage, err := c.callOnce(ctx, execCtx, messages, tools)
		accumulate(&usage, iterUsage)
		if err != nil {
			isTimeout := err == context.DeadlineExceeded
			state.RecordFailure(err.Error(), isTimeout)
			if state.ShouldAbortOnTimeouts() {
				return &agent.ExecutionResult{Status: agent.ExecutionStatusFailed, Error: err, TokensUsed: usage}, nil
			}
			messages = append(messages, agent.ConversationMessage{
				Role:    agent.RoleUser,
				Content: fmt.Sprintf("Your last response failed: %s. Please try again.", err),
			})
			continue
		}
		state.RecordSuccess()
		messages = append(messages, agent.ConversationMessage{Role: agent.RoleAssistant, Content: text})

		_ = execCtx.Recorder.AppendEvent(ctx, execCtx.TaskID, models.Event{
			Kind:     models.EventKindAnalysisStep,
			Reason:   string(execCtx.Role),
			Analysis: text,
			Payload:  map[string]any{"sub_task_id": execCtx.SubTaskID, "iteration": state.CurrentIteration},
		})

		if toolCall != nil {
			result, err := execCtx.ToolExecutor.Execute(ctx, *toolCall)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				result = &agent.ToolResult{CallID: toolCall.ID, Name: toolCall.Name, Content: err.Error(), IsError: true}
			}
			messages = append(messages, agent.ConversationMessage{
				Role:       agent.RoleTool,
				Content:    result.Content,
				ToolCallID: result.CallID,
				ToolName:   result.Name,
			})
			continue
		}

		if final, ok := extractFinalAnswer(text); ok {
			return &agent.ExecutionResult{Status: agent.ExecutionStatusCompleted, FinalAnalysis: final, TokensUsed: usage}, nil
		}

		messages = append(messages, agent.ConversationMessage{
			Role:    agent.RoleUser,
			Content: "Continue your investigation, or conclude with \"" + finalAnswerMarker + "\" if you have enough information.",
		})
	}

	return c.forceConclusion(ctx, execCtx, messages, usage)
}

// forceConclusion is invoked once the iteration budget is exhausted: it
// asks the model to conclude with whatever evidence it has gathered, with
// no tools offered so it cannot extend the investigation further.
func (c *reactController) forceConclusion(ctx context.Context, execCtx *agent.ExecutionContext, messages []agent.ConversationMessage, usage agent.TokenUsage) (*agent.ExecutionResult, error) {
	prompt := execCtx.PromptBuilder.BuildForcedConclusionPrompt(execCtx.Config.MaxIterations)
	messages = append(messages, agent.ConversationMessage{Role: agent.RoleUser, Content: prompt})

	text, _, iterUsage, err := c.callOnce(ctx, execCtx, messages, nil)
	accumulate(&usage, iterUsage)
	if err != nil {
		return &agent.ExecutionResult{Status: agent.ExecutionStatusFailed, Error: err, TokensUsed: usage}, nil
	}

	final, ok := extractFinalAnswer(text)
	if !ok {
		final = text
	}
	return &agent.ExecutionResult{Status: agent.ExecutionStatusCompleted, FinalAnalysis: final, TokensUsed: usage}, nil
}

// callOnce makes one LLM call, applying the per-iteration timeout, and
// returns the accumulated text, at most one requested tool call (the
// controller serializes tool calls — 5, parallel_tool_calls = false), and
// token usage for that call.
func (c *reactController) callOnce(ctx context.Context, execCtx *agent.ExecutionContext, messages []agent.ConversationMessage, tools []agent.ToolDefinition) (string, *agent.ToolCall, agent.TokenUsage, error) {
	iterCtx, cancel := context.WithTimeout(ctx, execCtx.Config.IterationTimeout)
	defer cancel()

	chunks, err := execCtx.LLMClient.Generate(iterCtx, &agent.GenerateInput{
		Messages: messages,
		Config:   execCtx.Config.LLMProvider,
		Tools:    tools,
		Backend:  config.LLMBackend(execCtx.Config.Backend),
	})
	if err != nil {
		return "", nil, agent.TokenUsage{}, err
	}

	var sb strings.Builder
	var toolCall *agent.ToolCall
	var usage agent.TokenUsage
	for chunk := range chunks {
		switch v := chunk.(type) {
		case *agent.TextChunk:
			sb.WriteString(v.Content)
		case *agent.ToolCallChunk:
			toolCall = &agent.ToolCall{ID: v.CallID, Name: v.Name, Arguments: v.Arguments}
		case *agent.UsageChunk:
			usage = agent.TokenUsage{InputTokens: v.InputTokens, OutputTokens: v.OutputTokens, TotalTokens: v.TotalTokens, ThinkingTokens: v.ThinkingTokens}
		case *agent.ErrorChunk:
			return sb.String(), nil, usage, fmt.Errorf("llm error: %s", v.Message)
		}
	}
	if iterCtx.Err() != nil {
		return sb.String(), nil, usage, iterCtx.Err()
	}
	return sb.String(), toolCall, usage, nil
}

func accumulate(total *agent.TokenUsage, delta agent.TokenUsage) {
	total.InputTokens += delta.InputTokens
	total.OutputTokens += delta.OutputTokens
	total.TotalTokens += delta.TotalTokens
	total.ThinkingTokens += delta.ThinkingTokens
}

// extractFinalAnswer returns the text following the ReAct format's
// "Final Answer:" marker, if present.
func extractFinalAnswer(text string) (string, bool) {
	idx := strings.Index(text, finalAnswerMarker)
	if idx == -1 {
		return "", false
	}
	return strings.TrimSpace(text[idx+len(finalAnswerMarker):]), true
}
