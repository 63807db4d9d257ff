package investigation

import (
	"context"
	"strings"

	"github.com/agentkube/kroot-orchestrator/pkg/agent"
	"github.com/agentkube/kroot-orchestrator/pkg/apperrors"
)

// defaultMutatingToolVerbs names the tool-name substrings recon mode
// refuses when no explicit deny-list is configured.
var defaultMutatingToolVerbs = []string{
	"delete", "patch", "apply", "create", "update", "scale", "evict", "drain", "exec", "restart", "cordon",
}

// reconGuardExecutor wraps an agent.ToolExecutor, refusing any tool call
// that looks mutating while recon mode is enabled. Read-only tools pass
// through unchanged.
type reconGuardExecutor struct {
	inner    agent.ToolExecutor
	denyList []string
}

func newReconGuardExecutor(inner agent.ToolExecutor, denyList []string) *reconGuardExecutor {
	if len(denyList) == 0 {
		denyList = defaultMutatingToolVerbs
	}
	return &reconGuardExecutor{inner: inner, denyList: denyList}
}

func (r *reconGuardExecutor) Execute(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	lower := strings.ToLower(call.Name)
	for _, verb := range r.denyList {
		if strings.Contains(lower, strings.ToLower(verb)) {
			return nil, apperrors.ErrToolDenied
		}
	}
	return r.inner.Execute(ctx, call)
}

func (r *reconGuardExecutor) ListTools(ctx context.Context) ([]agent.ToolDefinition, error) {
	return r.inner.ListTools(ctx)
}

func (r *reconGuardExecutor) Close() error { return r.inner.Close() }
