package kgroot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

func buildTestFPG(t *testing.T) *FaultPropagationGraph {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []models.KGrootEvent{
		kgEvt("e-mem", "MEMORY_PRESSURE", "pod:web-1", base),
		kgEvt("e-oom", "OOM_KILLED", "pod:web-1", base.Add(5*time.Second)),
		kgEvt("e-crash", "POD_LIFECYCLE_FAILURE", "pod:web-1", base.Add(8*time.Second)),
	}
	builder := NewFPGBuilder(NewCorrelationEngine(nil, DefaultCorrelationConfig()))
	return builder.BuildFPG(context.Background(), events, DefaultMaxAssociatedEvents)
}

func TestRootCauseAnalyzer_MatchesMemoryLeakPattern(t *testing.T) {
	fpg := buildTestFPG(t)
	analyzer := NewRootCauseAnalyzer(nil)

	result := analyzer.Analyze(context.Background(), fpg)
	require.NotNil(t, result.MatchedPattern)
	assert.Equal(t, "MEMORY_LEAK_PATTERN", result.MatchedPattern.PatternName)
	assert.Equal(t, "hybrid_heuristic", result.AnalysisMethod)
	assert.Contains(t, result.Recommendations, "Increase memory limits in pod specification")
}

func TestRootCauseAnalyzer_RanksSingleRootCauseFirst(t *testing.T) {
	fpg := buildTestFPG(t)
	analyzer := NewRootCauseAnalyzer(nil)

	result := analyzer.Analyze(context.Background(), fpg)
	require.Len(t, result.RootCauses, 1)
	assert.Equal(t, "e-mem", result.RootCauses[0].Event.ID)
}

func TestRootCauseAnalyzer_PrimaryChainIsLongestCausalChain(t *testing.T) {
	fpg := buildTestFPG(t)
	analyzer := NewRootCauseAnalyzer(nil)

	result := analyzer.Analyze(context.Background(), fpg)
	require.Len(t, result.FaultPropagationChain, 3)
	assert.Equal(t, "e-mem", result.FaultPropagationChain[0].ID)
	assert.Equal(t, "e-crash", result.FaultPropagationChain[2].ID)
}

func TestRootCauseAnalyzer_NoPatternMatchFallsBackToDefaultRecommendations(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fpg := NewFaultPropagationGraph()
	fpg.AddEvent(kgEvt("e-1", "TOTALLY_UNRECOGNIZED_TYPE", "pod:x", base))
	fpg.RootCauses = []string{"e-1"}

	analyzer := NewRootCauseAnalyzer(nil)
	result := analyzer.Analyze(context.Background(), fpg)

	assert.Nil(t, result.MatchedPattern)
	assert.InDelta(t, 0.5, result.ConfidenceScore, 0.001)
	assert.Equal(t, []string{
		"Review pod logs and events for more details",
		"Check resource quotas and node capacity",
	}, result.Recommendations)
}

func TestRootCauseAnalyzer_EscalatesToLLMWhenStructuralMatchIsWeak(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fpg := NewFaultPropagationGraph()
	fpg.AddEvent(kgEvt("e-1", "TOTALLY_UNRECOGNIZED_TYPE", "pod:x", base))
	fpg.RootCauses = []string{"e-1"}

	matcher := &fakePatternMatcher{
		result: &PatternMatch{PatternName: "CUSTOM_LLM_PATTERN", SimilarityScore: 0.9, MatchedBy: "llm"},
	}
	analyzer := NewRootCauseAnalyzer(matcher)
	result := analyzer.Analyze(context.Background(), fpg)

	require.True(t, matcher.called)
	require.NotNil(t, result.MatchedPattern)
	assert.Equal(t, "CUSTOM_LLM_PATTERN", result.MatchedPattern.PatternName)
	assert.Equal(t, "hybrid_llm", result.AnalysisMethod)
}

func TestComputeGraphDistance_ReturnsSentinelWhenUnreachable(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fpg := NewFaultPropagationGraph()
	fpg.AddEvent(kgEvt("e-1", "A", "pod:x", base))
	fpg.AddEvent(kgEvt("e-2", "B", "pod:y", base.Add(time.Second)))

	assert.Equal(t, unreachableGraphDistance, computeGraphDistance("e-1", "e-2", fpg))
	assert.Equal(t, 0, computeGraphDistance("e-1", "e-1", fpg))
}

type fakePatternMatcher struct {
	called bool
	result *PatternMatch
	err    error
}

func (f *fakePatternMatcher) MatchPattern(_ context.Context, _ *FaultPropagationGraph) (*PatternMatch, error) {
	f.called = true
	return f.result, f.err
}
