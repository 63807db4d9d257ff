package investigation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/agentkube/kroot-orchestrator/pkg/kgroot"
	"github.com/agentkube/kroot-orchestrator/pkg/kgroot/k8sclient"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

func metaWithName(name string) metav1.ObjectMeta {
	return metav1.ObjectMeta{Name: name}
}

// recordingRecorder is a minimal agent.EventRecorder test double that
// keeps every appended event for assertions.
type recordingRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingRecorder) AppendEvent(_ context.Context, _ string, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingRecorder) kinds() []models.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func TestRemediationSummary_NoRootCausesIsGeneric(t *testing.T) {
	got := remediationSummary(kgroot.RootCauseResult{})
	assert.Equal(t, "no structural root cause identified; see agent findings", got)
}

func TestRemediationSummary_WithRootCausesCountsRecommendations(t *testing.T) {
	result := kgroot.RootCauseResult{
		RootCauses:      []kgroot.RankedCause{{}},
		Recommendations: []string{"restart the deployment", "check the PVC"},
	}
	got := remediationSummary(result)
	assert.Equal(t, "2 candidate recommendation(s) from structural analysis", got)
}

func TestSupervisor_Cancelled_EmitsInvestigationCancelledAndReturnsError(t *testing.T) {
	rec := &recordingRecorder{}
	s := &Supervisor{recorder: rec}

	result := s.cancelled(context.Background(), "t-1", context.Canceled)

	assert.Equal(t, models.TaskStatusCancelled, result.Status)
	assert.ErrorIs(t, result.Error, context.Canceled)
	require.Len(t, rec.events, 1)
	assert.Equal(t, models.EventKindInvestigationCancelled, rec.events[0].Kind)
}

func TestSupervisor_EmitTodoUpdated_CarriesFullSnapshot(t *testing.T) {
	rec := &recordingRecorder{}
	s := &Supervisor{recorder: rec}
	board := newPlanBoard(dispatchOrder)
	board.start(dispatchOrder[0])

	s.emitTodoUpdated(context.Background(), "t-1", board)

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, models.EventKindTodoUpdated, ev.Kind)
	todos, ok := ev.Payload["todos"].([]models.Todo)
	require.True(t, ok)
	assert.Len(t, todos, len(dispatchOrder)+1)
}

func TestSupervisor_ExtractLiveEvents_NoLocatorReturnsNil(t *testing.T) {
	s := &Supervisor{extractor: kgroot.NewExtractor(k8sclient.NewFakeClusterAPI())}

	got := s.extractLiveEvents(context.Background(), models.InvestigationTaskRequest{
		SessionMetadata: map[string]any{"namespace": "default"},
	})
	assert.Nil(t, got)
}

func TestSupervisor_ExtractLiveEvents_FetchesAndDeduplicates(t *testing.T) {
	fake := k8sclient.NewFakeClusterAPI().WithEvents("default", "Pod", "payments-api-abc123",
		k8sclient.RawEvent{
			Metadata:       metaWithName("evt-1"),
			Reason:         "BackOff",
			LastTimestamp:  "2026-07-30T10:00:00Z",
			InvolvedObject: k8sclient.InvolvedObject{Kind: "Pod", Name: "payments-api-abc123", Namespace: "default"},
		})
	s := &Supervisor{extractor: kgroot.NewExtractor(fake)}

	got := s.extractLiveEvents(context.Background(), models.InvestigationTaskRequest{
		SessionMetadata: map[string]any{
			"resource_kind": "pod",
			"resource_name": "payments-api-abc123",
			"namespace":     "default",
		},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "k8s_event_evt-1", got[0].ID)
}
