// Package llm provides LLM provider clients satisfying pkg/agent.LLMClient,
// each wrapping a provider's native Go SDK behind a circuit breaker so a
// failing provider stops accepting calls for a cooldown window instead of
// queuing every investigation behind repeated timeouts.
package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sony/gobreaker"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaisdk "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/agentkube/kroot-orchestrator/pkg/agent"
	"github.com/agentkube/kroot-orchestrator/pkg/config"
)

// NewClient builds an agent.LLMClient for the given provider configuration.
// Returns an error for provider types with no Go SDK wired yet (google,
// vertexai — see DESIGN.md).
func NewClient(cfg *config.LLMProviderConfig) (agent.LLMClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm: nil provider config")
	}

	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("llm: environment variable %s is not set", cfg.APIKeyEnv)
		}
	}

	var inner agent.LLMClient
	switch cfg.Type {
	case config.LLMProviderTypeAnthropic:
		opts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(apiKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropicopt.WithBaseURL(cfg.BaseURL))
		}
		client := anthropicsdk.NewClient(opts...)
		inner = &anthropicClient{client: &client, model: cfg.Model}

	case config.LLMProviderTypeOpenAI:
		opts := []openaiopt.RequestOption{openaiopt.WithAPIKey(apiKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openaiopt.WithBaseURL(cfg.BaseURL))
		}
		client := openaisdk.NewClient(opts...)
		inner = &openAIClient{client: &client, model: cfg.Model}

	case config.LLMProviderTypeXAI:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.x.ai/v1"
		}
		client := openaisdk.NewClient(openaiopt.WithAPIKey(apiKey), openaiopt.WithBaseURL(baseURL))
		inner = &openAIClient{client: &client, model: cfg.Model}

	default:
		return nil, fmt.Errorf("llm: provider type %q has no Go SDK wired (native Gemini/VertexAI path is out of scope)", cfg.Type)
	}

	return newBreakeredClient(string(cfg.Type), inner), nil
}

// breakeredClient wraps an agent.LLMClient's stream-establishment call in a
// circuit breaker. Streamed chunks after the call succeeds are not gated —
// the breaker only protects against repeatedly dialing a provider that is
// down, not against a single slow stream.
type breakeredClient struct {
	inner   agent.LLMClient
	breaker *gobreaker.CircuitBreaker
}

func newBreakeredClient(name string, inner agent.LLMClient) *breakeredClient {
	settings := gobreaker.Settings{
		Name:        "llm-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &breakeredClient{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (c *breakeredClient) Generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.inner.Generate(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	return result.(<-chan agent.Chunk), nil
}

func (c *breakeredClient) Close() error { return c.inner.Close() }
