package agent

import (
	"fmt"
	"time"

	"github.com/agentkube/kroot-orchestrator/pkg/config"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

const DefaultMaxIterations = 20

// DefaultIterationTimeout is the default per-iteration timeout.
// Each iteration (LLM call + tool execution) gets its own context.WithTimeout
// derived from the parent task context. This prevents a single stuck
// iteration from consuming the entire investigation budget.
const DefaultIterationTimeout = 120 * time.Second

// ResolveAgentConfig builds the configuration for one dispatched sub-agent
// role, applying the hierarchy: defaults → role's agent definition.
// role is looked up in the agent registry by its string value (e.g.
// "discovery"); an unconfigured role falls back to system defaults.
func ResolveAgentConfig(cfg *config.Config, role models.AgentRole) (*ResolvedAgentConfig, error) {
	defaults := cfg.Defaults

	agentDef, err := cfg.GetAgent(string(role))
	if err != nil {
		agentDef = &config.AgentConfig{}
	}

	backend := agentDef.LLMBackend
	if backend == "" {
		backend = config.LLMBackendLangChain
	}

	providerName := defaults.LLMProvider
	provider, err := cfg.GetLLMProvider(providerName)
	if err != nil {
		return nil, fmt.Errorf("LLM provider %q not found: %w", providerName, err)
	}

	maxIter := resolveMaxIterations(defaults.MaxIterations, agentDef.MaxIterations)

	return &ResolvedAgentConfig{
		AgentName:          string(role),
		LLMProvider:        provider,
		LLMProviderName:    providerName,
		MaxIterations:      maxIter,
		IterationTimeout:   DefaultIterationTimeout,
		MCPServers:         agentDef.MCPServers,
		CustomInstructions: agentDef.CustomInstructions,
		Backend:            string(backend),
	}, nil
}

// resolveMaxIterations returns the last non-nil value from the given
// overrides, falling back to DefaultMaxIterations.
func resolveMaxIterations(overrides ...*int) int {
	maxIter := DefaultMaxIterations
	for _, o := range overrides {
		if o != nil {
			maxIter = *o
		}
	}
	return maxIter
}
