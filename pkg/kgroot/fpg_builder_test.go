package kgroot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

func kgEvt(id, abstractType, location string, t time.Time) models.KGrootEvent {
	return models.KGrootEvent{ID: id, AbstractType: abstractType, Location: location, Timestamp: t}
}

func TestFPGBuilder_BuildFPG_LinksKnownPatternChain(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []models.KGrootEvent{
		kgEvt("e-oom", "OOM_KILLED", "pod:web-1", base),
		kgEvt("e-crash", "POD_CRASH_LOOP", "pod:web-1", base.Add(3*time.Second)),
	}

	builder := NewFPGBuilder(NewCorrelationEngine(nil, DefaultCorrelationConfig()))
	fpg := builder.BuildFPG(context.Background(), events, DefaultMaxAssociatedEvents)

	require.Len(t, fpg.Nodes, 2)
	require.Len(t, fpg.Edges, 1)
	assert.Equal(t, "e-oom", fpg.Edges[0].From)
	assert.Equal(t, "e-crash", fpg.Edges[0].To)
	assert.Equal(t, RelationCausal, fpg.Edges[0].Relation)

	require.Len(t, fpg.RootCauses, 1)
	assert.Equal(t, "e-oom", fpg.RootCauses[0])
}

func TestFPGBuilder_BuildFPG_UnrelatedEventIsItsOwnRoot(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []models.KGrootEvent{
		kgEvt("e-1", "SOMETHING_A", "pod:a", base),
		kgEvt("e-2", "SOMETHING_B", "pod:b", base.Add(10*time.Hour)),
	}

	builder := NewFPGBuilder(NewCorrelationEngine(nil, DefaultCorrelationConfig()))
	fpg := builder.BuildFPG(context.Background(), events, DefaultMaxAssociatedEvents)

	assert.Empty(t, fpg.Edges)
	require.Len(t, fpg.RootCauses, 2)
}

func TestFPGBuilder_CausalChains_FollowsFirstCausalEdge(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []models.KGrootEvent{
		kgEvt("e-mem", "MEMORY_PRESSURE", "pod:web-1", base),
		kgEvt("e-oom", "OOM_KILLED", "pod:web-1", base.Add(5*time.Second)),
		kgEvt("e-crash", "POD_CRASH_LOOP", "pod:web-1", base.Add(8*time.Second)),
	}

	builder := NewFPGBuilder(NewCorrelationEngine(nil, DefaultCorrelationConfig()))
	fpg := builder.BuildFPG(context.Background(), events, DefaultMaxAssociatedEvents)

	chains := fpg.CausalChains()
	require.Len(t, chains, 1)
	require.Len(t, chains[0], 3)
	assert.Equal(t, "e-mem", chains[0][0].ID)
	assert.Equal(t, "e-oom", chains[0][1].ID)
	assert.Equal(t, "e-crash", chains[0][2].ID)
}

func TestFPGDepth_MatchesLongestCausalPath(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []models.KGrootEvent{
		kgEvt("e-mem", "MEMORY_PRESSURE", "pod:web-1", base),
		kgEvt("e-oom", "OOM_KILLED", "pod:web-1", base.Add(5*time.Second)),
		kgEvt("e-crash", "POD_CRASH_LOOP", "pod:web-1", base.Add(8*time.Second)),
	}

	builder := NewFPGBuilder(NewCorrelationEngine(nil, DefaultCorrelationConfig()))
	fpg := builder.BuildFPG(context.Background(), events, DefaultMaxAssociatedEvents)

	assert.Equal(t, 3, FPGDepth(fpg))
}

func TestFaultPropagationGraph_ToView_PreservesInsertionOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fpg := NewFaultPropagationGraph()
	fpg.AddEvent(kgEvt("second", "B", "pod:x", base.Add(time.Second)))
	fpg.AddEvent(kgEvt("first", "A", "pod:x", base))

	view := fpg.ToView()
	require.Len(t, view.Nodes, 2)
	assert.Equal(t, "second", view.Nodes[0].ID)
	assert.Equal(t, "first", view.Nodes[1].ID)
}
