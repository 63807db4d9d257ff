package agent

import (
	"testing"

	"github.com/agentkube/kroot-orchestrator/pkg/config"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func testConfig() *config.Config {
	maxIter20 := 20
	defaults := &config.Defaults{
		LLMProvider:   "google-default",
		MaxIterations: &maxIter20,
	}

	googleProvider := &config.LLMProviderConfig{
		Type:                config.LLMProviderTypeGoogle,
		Model:               "gemini-2.5-pro",
		APIKeyEnv:           "GOOGLE_API_KEY",
		MaxToolResultTokens: 950000,
	}

	agentDef := &config.AgentConfig{
		MCPServers:         []string{"kubernetes-server"},
		CustomInstructions: "You are a Kubernetes discovery agent",
	}

	return &config.Config{
		Defaults: defaults,
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			string(models.AgentDiscovery): agentDef,
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"google-default": googleProvider,
		}),
	}
}

func TestResolveAgentConfig_UsesAgentDefOverrides(t *testing.T) {
	resolved, err := ResolveAgentConfig(testConfig(), models.AgentDiscovery)
	require.NoError(t, err)

	assert.Equal(t, "discovery", resolved.AgentName)
	assert.Equal(t, []string{"kubernetes-server"}, resolved.MCPServers)
	assert.Equal(t, "You are a Kubernetes discovery agent", resolved.CustomInstructions)
	assert.Equal(t, 20, resolved.MaxIterations)
	assert.Equal(t, "google-default", resolved.LLMProviderName)
}

func TestResolveAgentConfig_FallsBackForUnregisteredRole(t *testing.T) {
	resolved, err := ResolveAgentConfig(testConfig(), models.AgentSecurity)
	require.NoError(t, err)

	assert.Equal(t, "security", resolved.AgentName)
	assert.Equal(t, DefaultMaxIterations, resolved.MaxIterations)
	assert.Empty(t, resolved.MCPServers)
}

func TestResolveAgentConfig_PerAgentMaxIterationsOverridesDefault(t *testing.T) {
	cfg := testConfig()
	cfg.AgentRegistry = config.NewAgentRegistry(map[string]*config.AgentConfig{
		string(models.AgentDiscovery): {MaxIterations: intPtr(5)},
	})

	resolved, err := ResolveAgentConfig(cfg, models.AgentDiscovery)
	require.NoError(t, err)
	assert.Equal(t, 5, resolved.MaxIterations)
}

func TestResolveAgentConfig_UnknownLLMProviderErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Defaults.LLMProvider = "does-not-exist"

	_, err := ResolveAgentConfig(cfg, models.AgentDiscovery)
	assert.Error(t, err)
}
