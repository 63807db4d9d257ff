package llm

import (
	"context"
	"encoding/json"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/agentkube/kroot-orchestrator/pkg/agent"
)

// anthropicClient implements agent.LLMClient against the Anthropic Messages API.
type anthropicClient struct {
	client *anthropicsdk.Client
	model  string
}

func (c *anthropicClient) Generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		MaxTokens: 8192,
	}

	var system string
	var messages []anthropicsdk.MessageParam
	for _, m := range input.Messages {
		switch m.Role {
		case agent.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case agent.RoleUser:
			messages = append(messages, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		case agent.RoleAssistant:
			messages = append(messages, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content)))
		case agent.RoleTool:
			messages = append(messages, anthropicsdk.NewUserMessage(
				anthropicsdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}
	params.Messages = messages

	for _, t := range input.Tools {
		var schema any
		if t.ParametersSchema != "" {
			if err := json.Unmarshal([]byte(t.ParametersSchema), &schema); err != nil {
				return nil, fmt.Errorf("anthropic: parse tool schema for %s: %w", t.Name, err)
			}
		}
		params.Tools = append(params.Tools, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: schema},
			},
		})
	}

	stream := c.client.Messages.NewStreaming(ctx, params)

	ch := make(chan agent.Chunk, 32)
	go func() {
		defer close(ch)

		var acc anthropicsdk.Message
		toolNames := map[int64]string{}
		toolIDs := map[int64]string{}

		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				ch <- &agent.ErrorChunk{Message: err.Error(), Retryable: false}
				return
			}

			switch variant := event.AsAny().(type) {
			case anthropicsdk.ContentBlockStartEvent:
				if tu := variant.ContentBlock.AsAny(); tu != nil {
					if toolUse, ok := tu.(anthropicsdk.ToolUseBlock); ok {
						toolNames[variant.Index] = toolUse.Name
						toolIDs[variant.Index] = toolUse.ID
					}
				}
			case anthropicsdk.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropicsdk.TextDelta:
					ch <- &agent.TextChunk{Content: delta.Text}
				case anthropicsdk.InputJSONDelta:
					// Partial tool-call JSON; surfaced whole once the block closes.
				}
			case anthropicsdk.ContentBlockStopEvent:
				if name, ok := toolNames[variant.Index]; ok {
					args := "{}"
					for _, block := range acc.Content {
						if block.Index == int(variant.Index) {
							if tu, ok := block.AsAny().(anthropicsdk.ToolUseBlock); ok {
								args = string(tu.Input)
							}
						}
					}
					ch <- &agent.ToolCallChunk{CallID: toolIDs[variant.Index], Name: name, Arguments: args}
				}
			case anthropicsdk.MessageDeltaEvent:
				u := variant.Usage
				ch <- &agent.UsageChunk{
					InputTokens:  int(acc.Usage.InputTokens),
					OutputTokens: int(u.OutputTokens),
					TotalTokens:  int(acc.Usage.InputTokens) + int(u.OutputTokens),
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- &agent.ErrorChunk{Message: err.Error(), Retryable: true}
		}
	}()

	return ch, nil
}

func (c *anthropicClient) Close() error { return nil }
