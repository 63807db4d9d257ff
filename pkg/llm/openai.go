package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openaisdk "github.com/openai/openai-go"

	"github.com/agentkube/kroot-orchestrator/pkg/agent"
)

// openAIClient implements agent.LLMClient against OpenAI-compatible Chat
// Completions endpoints (OpenAI itself, and xAI's OpenAI-compatible API).
type openAIClient struct {
	client *openaisdk.Client
	model  string
}

func (c *openAIClient) Generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.model),
	}

	for _, m := range input.Messages {
		switch m.Role {
		case agent.RoleSystem:
			params.Messages = append(params.Messages, openaisdk.SystemMessage(m.Content))
		case agent.RoleUser:
			params.Messages = append(params.Messages, openaisdk.UserMessage(m.Content))
		case agent.RoleAssistant:
			params.Messages = append(params.Messages, openaisdk.AssistantMessage(m.Content))
		case agent.RoleTool:
			params.Messages = append(params.Messages, openaisdk.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	for _, t := range input.Tools {
		var schema map[string]any
		if t.ParametersSchema != "" {
			if err := json.Unmarshal([]byte(t.ParametersSchema), &schema); err != nil {
				return nil, fmt.Errorf("openai: parse tool schema for %s: %w", t.Name, err)
			}
		}
		params.Tools = append(params.Tools, openaisdk.ChatCompletionToolParam{
			Function: openaisdk.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openaisdk.String(t.Description),
				Parameters:  openaisdk.FunctionParameters(schema),
			},
		})
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan agent.Chunk, 32)
	go func() {
		defer close(ch)

		type pendingCall struct{ id, name, args string }
		pending := map[int64]*pendingCall{}

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					ch <- &agent.TextChunk{Content: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					p, ok := pending[tc.Index]
					if !ok {
						p = &pendingCall{}
						pending[tc.Index] = p
					}
					if tc.ID != "" {
						p.id = tc.ID
					}
					if tc.Function.Name != "" {
						p.name = tc.Function.Name
					}
					p.args += tc.Function.Arguments
				}
				if choice.FinishReason == "tool_calls" {
					for _, p := range pending {
						ch <- &agent.ToolCallChunk{CallID: p.id, Name: p.name, Arguments: p.args}
					}
					pending = map[int64]*pendingCall{}
				}
			}
			if u := chunk.Usage; u.TotalTokens > 0 {
				ch <- &agent.UsageChunk{
					InputTokens:  int(u.PromptTokens),
					OutputTokens: int(u.CompletionTokens),
					TotalTokens:  int(u.TotalTokens),
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- &agent.ErrorChunk{Message: err.Error(), Retryable: true}
		}
	}()

	return ch, nil
}

func (c *openAIClient) Close() error { return nil }
