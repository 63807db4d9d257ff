package investigation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/agentkube/kroot-orchestrator/pkg/agent"
	"github.com/agentkube/kroot-orchestrator/pkg/config"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// promptBuilder implements agent.PromptBuilder for the six investigation roles.
// One instance is shared across all sub-agent dispatches in a task.
type promptBuilder struct {
	mcpRegistry *config.MCPServerRegistry
}

func newPromptBuilder(mcpRegistry *config.MCPServerRegistry) *promptBuilder {
	return &promptBuilder{mcpRegistry: mcpRegistry}
}

// generalInstructions is the Tier 1 instruction block shared by every role.
const generalInstructions = `## General SRE Agent Instructions

You are an expert Site Reliability Engineer (SRE) with deep knowledge of:
- Kubernetes and container orchestration
- Cloud infrastructure and services
- Incident response and troubleshooting
- System monitoring and alerting
- GitOps and deployment practices

Analyze the incident thoroughly and provide actionable insights based on:
1. The original report and context
2. Associated runbook procedures, if any
3. Real-time system data from available tools

Always be specific, reference actual data, and provide clear next steps.
Focus on root cause analysis and sustainable solutions.

## Evidence Transparency

Your conclusions MUST be grounded in evidence you actually gathered, not assumptions:

- **Distinguish data sources**: Clearly separate what you learned from tool results vs. what was already in the incident data. Never present incoming context as if it were independently verified.
- **Report tool failures honestly**: If a tool call fails, returns empty results, or returns errors, say so explicitly. Do not silently proceed as if you have the data.
- **Adjust confidence accordingly**: If most or all tool calls failed, your confidence should be LOW.
- **Flag investigation gaps**: When you could not gather critical data, explicitly state what you were unable to verify and why.
- **Never fabricate evidence**: Do not invent details, metrics, or observations that did not appear in tool results or the incident context.`

// roleInstructions supplies a Tier-2 task framing per dispatched role.
var roleInstructions = map[models.AgentRole]string{
	models.AgentDiscovery: "## Your Focus: Discovery\n\n" +
		"Identify the affected Kubernetes resources (pods, deployments, nodes, namespaces) and their current state. " +
		"Establish what changed and when. Do not attempt deep log or security analysis; hand off findings for other roles to build on.",
	models.AgentMonitoring: "## Your Focus: Monitoring\n\n" +
		"Examine metrics, resource utilization, and alerting signals related to the incident. " +
		"Look for thresholds crossed, trends leading up to the incident, and correlated signals across resources.",
	models.AgentSecurity: "## Your Focus: Security\n\n" +
		"Check for RBAC, network policy, admission control, or secret/credential issues that could explain or be implicated in the incident. " +
		"Flag anything suspicious even if it is not the root cause.",
	models.AgentLogging: "## Your Focus: Logging\n\n" +
		"Retrieve and analyze relevant container, control-plane, and event logs. " +
		"Extract error messages, stack traces, and timing that corroborate or refute other agents' findings.",
	models.AgentIntegration: "## Your Focus: Integration\n\n" +
		"Investigate dependencies external to the cluster: upstream services, ingress/load balancers, DNS, and third-party integrations. " +
		"Determine whether the incident originates inside or outside the cluster boundary.",
	models.AgentRootCause: "## Your Focus: Root Cause Synthesis\n\n" +
		"You are the terminal role. Combine every prior role's findings into a single root cause determination. " +
		"You MUST conclude with a structured root cause analysis: root cause, supporting evidence, remediation steps, and preventive measures. " +
		"Do not introduce new investigation threads — synthesize what has already been gathered.",
}

// reactFormatInstructions is the ReAct format contract given to every role.
const reactFormatInstructions = `You are an SRE agent using the ReAct framework to analyze incidents. Reason step by step, act with tools, observe results, and repeat until you identify root cause and resolution steps.

REQUIRED FORMAT:

Thought: [your step-by-step reasoning]
Action: [tool name from available tools]
Action Input: [parameters as key: value pairs]

STOP immediately after Action Input. The system provides Observations.

Continue the cycle. Conclude when you have sufficient information:

Thought: [final reasoning]
Final Answer: [complete structured response]

CRITICAL RULES:
1. Always use colons after headers: "Thought:", "Action:", "Action Input:"
2. Start each section on a NEW LINE
3. Stop after Action Input — never generate fake Observations
4. Parameters: one per line for multiple values, or inline for a single value
5. Conclude when you have actionable insights; perfect information is not required`

// forcedConclusionTemplate is used once an agent hits its iteration limit.
const forcedConclusionTemplate = `You have reached the investigation iteration limit (%d iterations).

Please conclude your investigation by answering the original question based on what you've discovered.

- Use the data and observations you've already gathered
- Perfect information is not required — provide actionable insights from available findings
- If gaps remain, clearly state what you couldn't determine and why

**CRITICAL:** You MUST format your response using the ReAct format:

Thought: [your final reasoning about what you've discovered]
Final Answer: [your complete structured conclusion]

The "Final Answer:" marker is required for proper parsing. Begin your conclusion now.`

// BuildReActMessages composes the system + user messages for one sub-agent dispatch.
func (b *promptBuilder) BuildReActMessages(execCtx *agent.ExecutionContext, tools []agent.ToolDefinition) []agent.ConversationMessage {
	system := b.composeSystemPrompt(execCtx, tools)
	user := b.composeUserPrompt(execCtx)

	return []agent.ConversationMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// BuildForcedConclusionPrompt returns the prompt injected when an agent exhausts its iteration budget.
func (b *promptBuilder) BuildForcedConclusionPrompt(iteration int) string {
	return fmt.Sprintf(forcedConclusionTemplate, iteration)
}

func (b *promptBuilder) composeSystemPrompt(execCtx *agent.ExecutionContext, tools []agent.ToolDefinition) string {
	sections := []string{generalInstructions}

	if instr, ok := roleInstructions[execCtx.Role]; ok {
		sections = append(sections, instr)
	}

	sections = b.appendMCPInstructions(sections, execCtx)
	sections = appendUnavailableServerWarnings(sections, execCtx.FailedServers)

	if execCtx.Config != nil && execCtx.Config.CustomInstructions != "" {
		sections = append(sections, "## Agent-Specific Instructions\n\n"+execCtx.Config.CustomInstructions)
	}

	sections = append(sections, reactFormatInstructions)
	sections = append(sections, "## Available Tools\n\n"+FormatToolDescriptions(tools))

	return strings.Join(sections, "\n\n")
}

func (b *promptBuilder) composeUserPrompt(execCtx *agent.ExecutionContext) string {
	var sb strings.Builder

	sb.WriteString("## Incident Report\n\n")
	sb.WriteString(execCtx.OriginalPrompt)
	sb.WriteString("\n")

	if execCtx.ResourceContext != "" {
		sb.WriteString("\n## Resource Context\n\n")
		sb.WriteString(execCtx.ResourceContext)
		sb.WriteString("\n")
	}
	if execCtx.LogContext != "" {
		sb.WriteString("\n## Log Context\n\n")
		sb.WriteString(execCtx.LogContext)
		sb.WriteString("\n")
	}
	if execCtx.ClusterContext != "" {
		sb.WriteString("\n## Cluster Context\n\n")
		sb.WriteString(execCtx.ClusterContext)
		sb.WriteString("\n")
	}
	if execCtx.FreeFormContext != "" {
		sb.WriteString("\n## Additional Context\n\n")
		sb.WriteString(execCtx.FreeFormContext)
		sb.WriteString("\n")
	}

	if len(execCtx.PriorFindings) > 0 {
		sb.WriteString("\n## Findings From Prior Agents\n\n")
		for i, f := range execCtx.PriorFindings {
			sb.WriteString(fmt.Sprintf("### Finding %d\n\n%s\n\n", i+1, f))
		}
	}

	sb.WriteString("\n## Your Task\n")
	sb.WriteString("Use the available tools to investigate this incident within your assigned focus and provide a root cause analysis, current state assessment, remediation steps, and prevention recommendations.\n")
	sb.WriteString("Be thorough before providing the final answer.")

	return sb.String()
}

func appendUnavailableServerWarnings(sections []string, failedServers map[string]string) []string {
	if len(failedServers) == 0 {
		return sections
	}
	var sb strings.Builder
	sb.WriteString("## Unavailable MCP Servers\n\n")
	sb.WriteString("The following servers failed to initialize and their tools are NOT available:\n")
	keys := make([]string, 0, len(failedServers))
	for k := range failedServers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, serverID := range keys {
		sb.WriteString(fmt.Sprintf("- **%s**: %s\n", serverID, failedServers[serverID]))
	}
	sb.WriteString("\nDo not attempt to use tools from these servers.")
	return append(sections, sb.String())
}

func (b *promptBuilder) appendMCPInstructions(sections []string, execCtx *agent.ExecutionContext) []string {
	if execCtx.Config == nil || b.mcpRegistry == nil {
		return sections
	}
	for _, serverID := range execCtx.Config.MCPServers {
		serverConfig, err := b.mcpRegistry.Get(serverID)
		if err != nil {
			slog.Debug("MCP server not found in registry, skipping instructions",
				"serverID", serverID, "error", err)
			continue
		}
		if serverConfig.Instructions != "" {
			sections = append(sections, "## "+serverID+" Instructions\n\n"+serverConfig.Instructions)
		}
	}
	return sections
}

// FormatToolDescriptions formats tool definitions for ReAct prompt injection,
// including JSON-Schema-derived parameter details for LLM guidance.
func FormatToolDescriptions(tools []agent.ToolDefinition) string {
	if len(tools) == 0 {
		return "No tools available."
	}

	var sb strings.Builder
	for i, tool := range tools {
		sb.WriteString(fmt.Sprintf("%d. **%s**: %s\n", i+1, tool.Name, tool.Description))

		var schema map[string]any
		if tool.ParametersSchema != "" {
			if err := json.Unmarshal([]byte(tool.ParametersSchema), &schema); err != nil {
				slog.Debug("failed to parse tool ParametersSchema", "tool", tool.Name, "error", err)
			}
		}

		params := extractParameters(schema)
		if len(params) > 0 {
			sb.WriteString("    **Parameters**:\n")
			for _, p := range params {
				sb.WriteString("    - ")
				sb.WriteString(p)
				sb.WriteString("\n")
			}
		} else {
			sb.WriteString("    **Parameters**: None\n")
		}

		if i < len(tools)-1 {
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func extractParameters(schema map[string]any) []string {
	if schema == nil {
		return nil
	}

	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if reqList, ok := schema["required"].([]any); ok {
		for _, r := range reqList {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var params []string
	for _, name := range keys {
		prop, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}

		reqLabel := "optional"
		if required[name] {
			reqLabel = "required"
		}
		typeSuffix := ""
		if t, ok := prop["type"].(string); ok {
			typeSuffix = ", " + t
		}

		var parts []string
		parts = append(parts, name, fmt.Sprintf(" (%s%s)", reqLabel, typeSuffix))

		if desc, ok := prop["description"].(string); ok && desc != "" {
			parts = append(parts, ": "+desc)
		}

		var hints []string
		if def, ok := prop["default"]; ok {
			hints = append(hints, fmt.Sprintf("default: %v", def))
		}
		if enum, ok := prop["enum"].([]any); ok {
			vals := make([]string, 0, len(enum))
			for _, v := range enum {
				vals = append(vals, fmt.Sprintf("%q", v))
			}
			hints = append(hints, "choices: ["+strings.Join(vals, ", ")+"]")
		}
		if len(hints) > 0 {
			parts = append(parts, " ["+strings.Join(hints, "; ")+"]")
		}

		params = append(params, strings.Join(parts, ""))
	}

	return params
}
