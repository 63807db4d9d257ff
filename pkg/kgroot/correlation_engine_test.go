package kgroot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

func evt(abstractType, location string, t time.Time) models.KGrootEvent {
	return models.KGrootEvent{AbstractType: abstractType, Location: location, Timestamp: t}
}

func TestCorrelationEngine_MatchesKnownPattern(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := NewCorrelationEngine(nil, DefaultCorrelationConfig())

	a := evt("OOM_KILLED", "pod:web-1", base)
	b := evt("POD_CRASH_LOOP", "pod:web-1", base.Add(3*time.Second))

	result := engine.ClassifyRelationship(context.Background(), a, b, nil)
	assert.Equal(t, RelationCausal, result.Relation)
	assert.Equal(t, "pattern", result.Method)
	assert.InDelta(t, 0.98, result.Confidence, 0.001)
}

func TestCorrelationEngine_SameLocationImmediateSuccession(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := NewCorrelationEngine(nil, DefaultCorrelationConfig())

	a := evt("SOMETHING_UNKNOWN_A", "pod:x", base)
	b := evt("SOMETHING_UNKNOWN_B", "pod:x", base.Add(2*time.Second))

	result := engine.ClassifyRelationship(context.Background(), a, b, nil)
	assert.Equal(t, RelationCausal, result.Relation)
	assert.Equal(t, "heuristic", result.Method)
	assert.InDelta(t, 0.75, result.Confidence, 0.001)
}

func TestCorrelationEngine_SameLocationShortTermIsSequentialNotEscalated(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := NewCorrelationEngine(nil, DefaultCorrelationConfig())

	a := evt("SOMETHING_UNKNOWN_A", "pod:x", base)
	b := evt("SOMETHING_UNKNOWN_B", "pod:x", base.Add(20*time.Second))

	result := engine.ClassifyRelationship(context.Background(), a, b, nil)
	// confidence 0.6 meets the >= 0.6 escalation threshold, so this
	// heuristic verdict is returned as-is without escalating.
	assert.Equal(t, RelationSequential, result.Relation)
	assert.Equal(t, "heuristic", result.Method)
}

func TestCorrelationEngine_DifferentLocationNoTemporalHeuristicEscalates(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	escalator := &fakeEscalator{
		result: CorrelationResult{Relation: RelationCausal, Confidence: 0.77, Reasoning: "llm says so"},
	}
	engine := NewCorrelationEngine(escalator, DefaultCorrelationConfig())

	a := evt("SOMETHING_UNKNOWN_A", "node:n1", base)
	b := evt("SOMETHING_UNKNOWN_B", "pod:x", base.Add(90*time.Second))

	result := engine.ClassifyRelationship(context.Background(), a, b, nil)
	require.True(t, escalator.called)
	assert.Equal(t, "llm", result.Method)
	assert.Equal(t, RelationCausal, result.Relation)
}

func TestCorrelationEngine_EscalationFailureFallsBackToHeuristic(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	escalator := &fakeEscalator{err: assert.AnError}
	engine := NewCorrelationEngine(escalator, DefaultCorrelationConfig())

	a := evt("SOMETHING_UNKNOWN_A", "node:n1", base)
	b := evt("SOMETHING_UNKNOWN_B", "pod:x", base.Add(90*time.Second))

	result := engine.ClassifyRelationship(context.Background(), a, b, nil)
	require.True(t, escalator.called)
	assert.Equal(t, "heuristic", result.Method)
	assert.Equal(t, RelationNone, result.Relation)
}

func TestCorrelationEngine_NilEscalatorNeverCalledOnLowConfidence(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := NewCorrelationEngine(nil, DefaultCorrelationConfig())

	a := evt("SOMETHING_UNKNOWN_A", "node:n1", base)
	b := evt("SOMETHING_UNKNOWN_B", "pod:x", base.Add(90*time.Second))

	result := engine.ClassifyRelationship(context.Background(), a, b, nil)
	assert.Equal(t, RelationNone, result.Relation)
	assert.Equal(t, "heuristic", result.Method)
}

func TestCorrelationEngine_FindCausalChain_SortsAndReturnsOnlyCausal(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := NewCorrelationEngine(nil, DefaultCorrelationConfig())

	events := []models.KGrootEvent{
		evt("POD_CRASH_LOOP", "pod:web-1", base.Add(3*time.Second)),
		evt("OOM_KILLED", "pod:web-1", base),
		evt("UNRELATED_THING", "pod:other", base.Add(500*time.Second)),
	}

	links := engine.FindCausalChain(context.Background(), events)
	require.Len(t, links, 1)
	assert.Equal(t, "OOM_KILLED", links[0].From.AbstractType)
	assert.Equal(t, "POD_CRASH_LOOP", links[0].To.AbstractType)
}

type fakeEscalator struct {
	called bool
	result CorrelationResult
	err    error
}

func (f *fakeEscalator) ClassifyRelationship(_ context.Context, _, _ models.KGrootEvent, _ []models.KGrootEvent) (CorrelationResult, error) {
	f.called = true
	if f.err != nil {
		return CorrelationResult{}, f.err
	}
	return f.result, nil
}
