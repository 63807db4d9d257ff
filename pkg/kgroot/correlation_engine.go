package kgroot

import (
	"context"
	"fmt"
	"sort"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// RelationType is the kind of relationship between two ordered events.
type RelationType string

const (
	RelationCausal     RelationType = "causal"
	RelationSequential RelationType = "sequential"
	RelationNone       RelationType = "none"
)

// CorrelationResult is the verdict classify_relationship (Python name)
// produces for an ordered pair of events.
type CorrelationResult struct {
	Relation        RelationType
	Confidence      float64
	Reasoning       string
	Method          string // "heuristic" | "pattern" | "llm"
	TimeDiffSeconds float64
	SameLocation    bool
}

// Causal reports whether the result resolved to a causal link.
func (r CorrelationResult) Causal() bool {
	return r.Relation == RelationCausal
}

// LLMEscalator is the Tier-3 reasoning boundary: a CorrelationEngine
// built without one only ever returns heuristic/pattern verdicts. A
// concrete implementation backed by pkg/llm is wired in by the caller
// that constructs the engine, mirroring the Python engine's optional
// openai_client constructor argument.
type LLMEscalator interface {
	ClassifyRelationship(ctx context.Context, a, b models.KGrootEvent, context []models.KGrootEvent) (CorrelationResult, error)
}

// k8sPattern is one entry of the known-pattern library (Tier 2).
type k8sPattern struct {
	name         string
	fromEvent    string
	toEvent      string
	maxTimeDiff  float64
	sameLocation bool
	confidence   float64
}

// k8sPatterns is the known Kubernetes causal-pattern library, ported
// verbatim (name, thresholds, confidences) from
// correlation_engine.py's _load_k8s_patterns.
var k8sPatterns = []k8sPattern{
	// Resource exhaustion
	{"CPU_TO_MEMORY_PRESSURE", "CPU_SPIKE", "MEMORY_PRESSURE", 30, true, 0.85},
	{"MEMORY_TO_OOM", "MEMORY_PRESSURE", "OOM_KILLED", 10, true, 0.95},
	{"OOM_TO_POD_CRASH", "OOM_KILLED", "POD_LIFECYCLE_FAILURE", 5, true, 0.98},
	{"OOM_TO_CRASH_LOOP", "OOM_KILLED", "POD_CRASH_LOOP", 5, true, 0.98},

	// Image/registry
	{"IMAGE_PULL_TO_CRASH_LOOP", "IMAGE_PULL_FAILURE", "POD_CRASH_LOOP", 2, true, 0.99},
	{"INVALID_IMAGE_TO_PULL_FAILURE", "INVALID_IMAGE_NAME", "IMAGE_PULL_FAILURE", 2, true, 0.95},
	{"REGISTRY_UNAVAILABLE_TO_PULL_FAILURE", "REGISTRY_UNAVAILABLE", "IMAGE_PULL_FAILURE", 5, true, 0.92},

	// Node pressure
	{"NODE_PRESSURE_TO_POD_EVICTED", "NODE_PRESSURE", "POD_EVICTED", 60, false, 0.90},
	{"NODE_NOT_READY_TO_POD_FAILURE", "NODE_NOT_READY", "POD_LIFECYCLE_FAILURE", 30, false, 0.88},
	{"KUBELET_NOT_READY_TO_NODE_NOT_READY", "KUBELET_NOT_READY", "NODE_NOT_READY", 10, true, 0.95},
	{"OUT_OF_DISK_TO_POD_EVICTED", "OUT_OF_DISK", "POD_EVICTED", 30, false, 0.93},

	// Volume/storage
	{"VOLUME_PROVISIONING_TO_BINDING_FAILURE", "VOLUME_PROVISIONING_FAILURE", "VOLUME_BINDING_FAILURE", 10, false, 0.90},
	{"VOLUME_BINDING_TO_MOUNT_FAILURE", "VOLUME_BINDING_FAILURE", "VOLUME_MOUNT_FAILURE", 15, true, 0.92},
	{"VOLUME_MOUNT_TO_POD_PENDING", "VOLUME_MOUNT_FAILURE", "SCHEDULING_FAILURE", 5, true, 0.88},
	{"VOLUME_ATTACH_TO_MOUNT_FAILURE", "VOLUME_ATTACH_FAILURE", "VOLUME_MOUNT_FAILURE", 10, true, 0.90},

	// Network
	{"DNS_TO_CONNECTION_TIMEOUT", "DNS_FAILURE", "HEALTH_CHECK_FAILURE", 15, false, 0.80},
	{"DNS_RESOLUTION_TO_ENDPOINT_FAILURE", "DNS_RESOLUTION_FAILURE", "ENDPOINT_CREATE_FAILURE", 10, false, 0.82},
	{"NETWORK_NOT_READY_TO_DNS_FAILURE", "NETWORK_NOT_READY", "DNS_FAILURE", 20, false, 0.85},
	{"ENDPOINT_CREATE_TO_SERVICE_UNAVAILABLE", "ENDPOINT_CREATE_FAILURE", "HEALTH_CHECK_FAILURE", 10, false, 0.87},

	// Scheduling
	{"INSUFFICIENT_MEMORY_TO_SCHEDULING_FAILURE", "INSUFFICIENT_MEMORY", "SCHEDULING_FAILURE", 5, false, 0.95},
	{"INSUFFICIENT_CPU_TO_SCHEDULING_FAILURE", "INSUFFICIENT_CPU", "SCHEDULING_FAILURE", 5, false, 0.95},
	{"QUOTA_EXCEEDED_TO_RESOURCE_CREATE_FAILURE", "QUOTA_EXCEEDED", "RESOURCE_CREATE_FAILURE", 2, false, 0.93},

	// Health check
	{"LIVENESS_PROBE_TO_POD_RESTART", "LIVENESS_PROBE_FAILURE", "POD_TERMINATION", 10, true, 0.98},
	{"READINESS_PROBE_TO_ENDPOINT_REMOVE", "READINESS_PROBE_FAILURE", "ENDPOINT_UPDATE_FAILURE", 5, false, 0.90},
	{"STARTUP_PROBE_TO_POD_FAILURE", "STARTUP_PROBE_FAILURE", "POD_LIFECYCLE_FAILURE", 30, true, 0.85},

	// Container lifecycle
	{"SANDBOX_CREATE_TO_CONTAINER_CREATE_FAILURE", "POD_SANDBOX_FAILURE", "CONTAINER_CREATE_FAILURE", 5, true, 0.92},
	{"CONFIG_ERROR_TO_CONTAINER_CREATE_FAILURE", "CONFIGURATION_ERROR", "CONTAINER_CREATE_FAILURE", 2, true, 0.95},
	{"CONTAINER_CREATE_TO_CRASH_LOOP", "CONTAINER_CREATE_FAILURE", "POD_CRASH_LOOP", 5, true, 0.90},
	{"RUNTIME_ERROR_TO_POD_CRASH", "CONTAINER_RUNTIME_ERROR", "POD_CRASH_LOOP", 5, true, 0.93},

	// Hooks
	{"PRESTOP_HOOK_TO_FAILED_KILL", "PRESTOP_HOOK_FAILURE", "FAILED_KILL_POD", 30, true, 0.85},
	{"POSTSTART_HOOK_TO_CONTAINER_FAILURE", "POSTSTART_HOOK_FAILURE", "CONTAINER_CREATE_FAILURE", 10, true, 0.88},

	// Security/RBAC
	{"RBAC_TO_RESOURCE_CREATE_FAILURE", "RBAC_PERMISSION_DENIED", "RESOURCE_CREATE_FAILURE", 2, false, 0.95},
	{"SECURITY_CONTEXT_TO_SANDBOX_FAILURE", "SECURITY_CONTEXT_DENIED", "POD_SANDBOX_FAILURE", 5, true, 0.90},

	// Eviction
	{"POD_EVICTED_TO_SCHEDULING_FAILURE", "POD_EVICTED", "SCHEDULING_FAILURE", 10, true, 0.80},
	{"POD_PREEMPTED_TO_SCHEDULING_FAILURE", "POD_PREEMPTED", "SCHEDULING_FAILURE", 10, true, 0.82},
}

// CorrelationConfig holds the tunable thresholds
// _default_config returned as a plain dict.
type CorrelationConfig struct {
	LLMEscalationThreshold       float64
	ImmediateCausationThreshold float64 // seconds
	ShortTermCausationThreshold float64 // seconds
	LongTermThreshold            float64 // seconds, unused by the current heuristic pass but retained for parity
}

// DefaultCorrelationConfig mirrors _default_config's literal values.
func DefaultCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{
		LLMEscalationThreshold:       0.6,
		ImmediateCausationThreshold: 5,
		ShortTermCausationThreshold: 30,
		LongTermThreshold:            300,
	}
}

// CorrelationEngine discovers causal/sequential relationships between
// KGroot events via a three-tier hybrid: known patterns and temporal
// heuristics first, LLM reasoning only when those are inconclusive.
type CorrelationEngine struct {
	escalator LLMEscalator
	config    CorrelationConfig
}

// NewCorrelationEngine builds an engine. escalator may be nil, in
// which case the engine never escalates to Tier 3 and always returns
// its heuristic verdict, same as the Python engine with
// openai_client=None.
func NewCorrelationEngine(escalator LLMEscalator, config CorrelationConfig) *CorrelationEngine {
	return &CorrelationEngine{escalator: escalator, config: config}
}

// ClassifyRelationship runs the three-tier pipeline for one ordered
// event pair. eventA must not be later than eventB; callers that don't
// already have events in chronological order should use
// FindCausalChain instead, which sorts first.
func (c *CorrelationEngine) ClassifyRelationship(ctx context.Context, eventA, eventB models.KGrootEvent, context []models.KGrootEvent) CorrelationResult {
	timeDiff := eventB.Timestamp.Sub(eventA.Timestamp).Seconds()
	sameLocation := eventA.Location == eventB.Location

	heuristic := c.applyHeuristicRules(eventA, eventB, timeDiff, sameLocation)

	if heuristic.Confidence >= c.config.LLMEscalationThreshold {
		return heuristic
	}

	if c.escalator != nil {
		llmResult, err := c.escalator.ClassifyRelationship(ctx, eventA, eventB, context)
		if err == nil {
			llmResult.Method = "llm"
			return llmResult
		}
		// Escalation failed: fall back to the heuristic verdict, same
		// as the Python engine's except-and-fall-back path.
	}

	return heuristic
}

// applyHeuristicRules is Tier 2 (known patterns) followed by Tier 1
// (temporal proximity), mirroring _apply_heuristic_rules's ordering.
func (c *CorrelationEngine) applyHeuristicRules(eventA, eventB models.KGrootEvent, timeDiff float64, sameLocation bool) CorrelationResult {
	for _, pattern := range k8sPatterns {
		if pattern.fromEvent == eventA.AbstractType &&
			pattern.toEvent == eventB.AbstractType &&
			timeDiff <= pattern.maxTimeDiff &&
			(!pattern.sameLocation || sameLocation) {
			return CorrelationResult{
				Relation:        RelationCausal,
				Confidence:      pattern.confidence,
				Reasoning:       fmt.Sprintf("Matched known pattern: %s", pattern.name),
				Method:          "pattern",
				TimeDiffSeconds: timeDiff,
				SameLocation:    sameLocation,
			}
		}
	}

	if sameLocation {
		switch {
		case timeDiff <= c.config.ImmediateCausationThreshold:
			return CorrelationResult{
				Relation:        RelationCausal,
				Confidence:      0.75,
				Reasoning:       fmt.Sprintf("Same location, immediate succession (<%gs)", c.config.ImmediateCausationThreshold),
				Method:          "heuristic",
				TimeDiffSeconds: timeDiff,
				SameLocation:    sameLocation,
			}
		case timeDiff <= c.config.ShortTermCausationThreshold:
			return CorrelationResult{
				Relation:        RelationSequential,
				Confidence:      0.6,
				Reasoning:       fmt.Sprintf("Same location, short time gap (<%gs)", c.config.ShortTermCausationThreshold),
				Method:          "heuristic",
				TimeDiffSeconds: timeDiff,
				SameLocation:    sameLocation,
			}
		}
	}

	return CorrelationResult{
		Relation:        RelationNone,
		Confidence:      0.4,
		Reasoning:       "No heuristic match found",
		Method:          "heuristic",
		TimeDiffSeconds: timeDiff,
		SameLocation:    sameLocation,
	}
}

// CausalLink is one causal edge found by FindCausalChain: the earlier
// event, the later event, and the verdict that connected them.
type CausalLink struct {
	From   models.KGrootEvent
	To     models.KGrootEvent
	Result CorrelationResult
}

// FindCausalChain classifies every ordered pair of events and returns
// the ones the engine judged causal, mirroring find_causal_chain's
// O(n^2) all-pairs sweep over chronologically sorted events.
func (c *CorrelationEngine) FindCausalChain(ctx context.Context, events []models.KGrootEvent) []CausalLink {
	sorted := make([]models.KGrootEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var links []CausalLink
	for i, eventA := range sorted {
		for _, eventB := range sorted[i+1:] {
			result := c.ClassifyRelationship(ctx, eventA, eventB, sorted)
			if result.Causal() {
				links = append(links, CausalLink{From: eventA, To: eventB, Result: result})
			}
		}
	}
	return links
}
