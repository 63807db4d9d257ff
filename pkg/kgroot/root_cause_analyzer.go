package kgroot

import (
	"context"
	"fmt"
	"sort"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// structuralMatchThreshold is the minimum sequence-similarity score a
// structural match needs before _match_by_structure records it as
// relevant at all.
const structuralMatchThreshold = 0.3

// confidentMatchThreshold is the similarity score above which a
// structural match is trusted outright, skipping LLM escalation.
const confidentMatchThreshold = 0.7

// unreachableGraphDistance stands in for "no path found" in
// computeGraphDistance's BFS, mirroring the Python analyzer's literal
// sentinel of 999.
const unreachableGraphDistance = 999

// failurePattern is one entry of the default pattern library: a named
// event-type sequence with a human description and remediation
// recommendations.
type failurePattern struct {
	name            string
	eventSequence   []string
	description     string
	recommendations []string
}

// defaultPatternLibrary is ported entry-for-entry (name, sequence,
// description, recommendations) from
// root_cause_analyzer.py's _load_default_patterns.
var defaultPatternLibrary = []failurePattern{
	{
		name:          "CPU_OVERLOAD_PATTERN",
		eventSequence: []string{"CPU_SPIKE", "MEMORY_PRESSURE", "OOM_KILLED", "POD_LIFECYCLE_FAILURE"},
		description:   "CPU spike leads to memory pressure and OOM kill",
		recommendations: []string{
			"Increase CPU request and limit in pod specification",
			"Review application for CPU-intensive operations",
			"Consider implementing horizontal pod autoscaling",
			"Profile application to identify CPU bottlenecks",
		},
	},
	{
		name:          "MEMORY_LEAK_PATTERN",
		eventSequence: []string{"MEMORY_PRESSURE", "OOM_KILLED", "POD_LIFECYCLE_FAILURE"},
		description:   "Memory leak leading to OOM kill",
		recommendations: []string{
			"Increase memory limits in pod specification",
			"Profile application for memory leaks using heap dumps",
			"Review object lifecycle and garbage collection settings",
		},
	},
	{
		name:          "OOM_CASCADE_PATTERN",
		eventSequence: []string{"OOM_KILLED", "POD_CRASH_LOOP", "DEPLOYMENT_DEGRADED"},
		description:   "OOM kill triggers crash loop affecting deployment",
		recommendations: []string{
			"Increase memory limits significantly",
			"Check for memory-intensive operations during startup",
			"Review application memory configuration (JVM heap, etc.)",
		},
	},
	{
		name:          "IMAGE_PULL_PATTERN",
		eventSequence: []string{"IMAGE_PULL_FAILURE", "POD_CRASH_LOOP"},
		description:   "Image pull failure causes pod to crash loop",
		recommendations: []string{
			"Verify image name and tag are correct",
			"Check image registry authentication and pull secrets",
			"Ensure network connectivity to registry",
		},
	},
	{
		name:          "INVALID_IMAGE_PATTERN",
		eventSequence: []string{"INVALID_IMAGE_NAME", "IMAGE_PULL_FAILURE"},
		description:   "Invalid image name prevents pod from starting",
		recommendations: []string{
			"Correct the image name in deployment specification",
			"Verify image repository URL format",
		},
	},
	{
		name:          "REGISTRY_UNAVAILABLE_PATTERN",
		eventSequence: []string{"REGISTRY_UNAVAILABLE", "IMAGE_PULL_FAILURE"},
		description:   "Registry unavailability blocks image pull",
		recommendations: []string{
			"Check registry service status",
			"Verify network policies allow access to registry",
			"Check DNS resolution for registry domain",
		},
	},
	{
		name:          "VOLUME_MOUNT_FAILURE_PATTERN",
		eventSequence: []string{"VOLUME_PROVISIONING_FAILURE", "VOLUME_BINDING_FAILURE", "VOLUME_MOUNT_FAILURE"},
		description:   "Volume provisioning failure prevents pod mounting",
		recommendations: []string{
			"Check StorageClass configuration and provisioner status",
			"Verify PersistentVolumeClaim matches available PersistentVolumes",
			"Check storage backend availability and capacity",
		},
	},
	{
		name:          "VOLUME_ATTACH_PATTERN",
		eventSequence: []string{"VOLUME_ATTACH_FAILURE", "VOLUME_MOUNT_FAILURE"},
		description:   "Volume attachment failure blocks pod startup",
		recommendations: []string{
			"Check if volume is already attached to another node",
			"Verify CSI driver is running and healthy",
			"Review node capacity for volume attachments",
		},
	},
	{
		name:          "INSUFFICIENT_RESOURCES_PATTERN",
		eventSequence: []string{"INSUFFICIENT_MEMORY", "SCHEDULING_FAILURE"},
		description:   "Insufficient cluster resources prevent scheduling",
		recommendations: []string{
			"Add more nodes to cluster or increase node capacity",
			"Reduce pod resource requests",
			"Enable cluster autoscaling",
		},
	},
	{
		name:          "CPU_SHORTAGE_PATTERN",
		eventSequence: []string{"INSUFFICIENT_CPU", "SCHEDULING_FAILURE"},
		description:   "Insufficient CPU resources block pod scheduling",
		recommendations: []string{
			"Add nodes with more CPU capacity",
			"Reduce CPU requests for the pod",
			"Review CPU resource allocation across cluster",
		},
	},
	{
		name:          "QUOTA_EXCEEDED_PATTERN",
		eventSequence: []string{"QUOTA_EXCEEDED", "RESOURCE_CREATE_FAILURE"},
		description:   "Resource quota prevents pod creation",
		recommendations: []string{
			"Increase resource quota for the namespace",
			"Review and clean up unused resources",
		},
	},
	{
		name:          "DNS_FAILURE_PATTERN",
		eventSequence: []string{"NETWORK_NOT_READY", "DNS_FAILURE", "HEALTH_CHECK_FAILURE"},
		description:   "Network issues cause DNS and health check failures",
		recommendations: []string{
			"Check CoreDNS/kube-dns pods are running",
			"Verify DNS service endpoints",
			"Review network policies affecting DNS",
		},
	},
	{
		name:          "LIVENESS_PROBE_PATTERN",
		eventSequence: []string{"LIVENESS_PROBE_FAILURE", "POD_TERMINATION"},
		description:   "Liveness probe failures trigger pod restarts",
		recommendations: []string{
			"Review liveness probe configuration (timeout, period, threshold)",
			"Ensure application responds to health check endpoint quickly",
			"Consider using startup probe for slow-starting apps",
		},
	},
	{
		name:          "READINESS_PROBE_PATTERN",
		eventSequence: []string{"READINESS_PROBE_FAILURE", "ENDPOINT_UPDATE_FAILURE"},
		description:   "Readiness probe failures remove pod from service",
		recommendations: []string{
			"Adjust readiness probe thresholds",
			"Verify application initialization completes before probe checks",
		},
	},
	{
		name:          "NODE_PRESSURE_PATTERN",
		eventSequence: []string{"NODE_PRESSURE", "POD_EVICTED"},
		description:   "Node pressure causes pod evictions",
		recommendations: []string{
			"Add more nodes to distribute load",
			"Review node resource allocation",
			"Check for resource-intensive pods on affected node",
		},
	},
	{
		name:          "NODE_NOT_READY_PATTERN",
		eventSequence: []string{"KUBELET_NOT_READY", "NODE_NOT_READY"},
		description:   "Node issues cause cascading pod failures",
		recommendations: []string{
			"Check node system resources and health",
			"Review kubelet logs for errors",
			"Consider cordoning and draining the node",
		},
	},
	{
		name:          "DISK_PRESSURE_PATTERN",
		eventSequence: []string{"OUT_OF_DISK", "POD_EVICTED"},
		description:   "Disk pressure causes pod evictions",
		recommendations: []string{
			"Clean up unused images and containers",
			"Increase node disk capacity",
			"Configure image garbage collection",
		},
	},
	{
		name:          "SANDBOX_FAILURE_PATTERN",
		eventSequence: []string{"POD_SANDBOX_FAILURE", "CONTAINER_CREATE_FAILURE"},
		description:   "Pod sandbox creation failure blocks container start",
		recommendations: []string{
			"Check container runtime (containerd/docker) status",
			"Review CNI plugin configuration",
			"Verify network namespace creation",
		},
	},
	{
		name:          "CONFIG_ERROR_PATTERN",
		eventSequence: []string{"CONFIGURATION_ERROR", "CONTAINER_CREATE_FAILURE"},
		description:   "Configuration errors prevent container creation",
		recommendations: []string{
			"Review container security context settings",
			"Verify ConfigMap and Secret references",
			"Check environment variable configuration",
		},
	},
	{
		name:          "RBAC_PERMISSION_PATTERN",
		eventSequence: []string{"RBAC_PERMISSION_DENIED", "RESOURCE_CREATE_FAILURE"},
		description:   "RBAC permissions block resource creation",
		recommendations: []string{
			"Review ServiceAccount permissions",
			"Create appropriate Role or ClusterRole",
			"Verify RoleBinding or ClusterRoleBinding",
		},
	},
	{
		name:          "SECURITY_CONTEXT_PATTERN",
		eventSequence: []string{"SECURITY_CONTEXT_DENIED", "POD_SANDBOX_FAILURE"},
		description:   "Security context violations prevent pod start",
		recommendations: []string{
			"Review PodSecurityPolicy or Pod Security Standards",
			"Adjust securityContext to meet cluster requirements",
		},
	},
}

// PatternMatch is the result of matching an FPG's event-type sequence
// against the pattern library.
type PatternMatch struct {
	PatternName     string
	SimilarityScore float64
	MatchedBy       string // "structure" | "llm"
	Reasoning       string
}

// RankedCause is a root-cause event together with its KGroot Equation
// 3 ranking.
type RankedCause struct {
	Event       models.KGrootEvent
	RankScore   float64
	TimeRank    float64
	DistanceRank float64
	Reasoning   string
}

// RootCauseResult is the final output of one analysis run.
type RootCauseResult struct {
	RootCauses             []RankedCause
	FaultPropagationChain  []models.KGrootEvent
	MatchedPattern         *PatternMatch
	Recommendations        []string
	ConfidenceScore        float64
	AnalysisMethod         string // "hybrid_heuristic" | "hybrid_llm"
}

// LLMPatternMatcher is the Tier-3 seam for pattern matching beyond the
// structural-similarity heuristic, mirroring _match_with_llm's
// (currently unimplemented even in original_source) LLM escalation
// hook. A RootCauseAnalyzer built without one never attempts it.
type LLMPatternMatcher interface {
	MatchPattern(ctx context.Context, fpg *FaultPropagationGraph) (*PatternMatch, error)
}

// RootCauseAnalyzer performs hybrid pattern matching and KGroot
// Equation 3 root-cause ranking over a built FaultPropagationGraph.
type RootCauseAnalyzer struct {
	matcher LLMPatternMatcher
}

// NewRootCauseAnalyzer returns an analyzer. matcher may be nil, in
// which case the analyzer never escalates pattern matching past the
// structural heuristic.
func NewRootCauseAnalyzer(matcher LLMPatternMatcher) *RootCauseAnalyzer {
	return &RootCauseAnalyzer{matcher: matcher}
}

// Analyze runs the full RCA pipeline: match a known pattern (structure
// first, LLM for low-confidence cases), rank root causes by time and
// graph distance to the alarm event, extract the primary propagation
// chain, and generate recommendations.
func (a *RootCauseAnalyzer) Analyze(ctx context.Context, fpg *FaultPropagationGraph) RootCauseResult {
	structuralMatches := a.matchByStructure(fpg)

	var best *PatternMatch
	usedLLM := false

	if len(structuralMatches) > 0 && structuralMatches[0].SimilarityScore > confidentMatchThreshold {
		m := structuralMatches[0]
		best = &m
	} else if a.matcher != nil {
		llmMatch, err := a.matcher.MatchPattern(ctx, fpg)
		if err == nil {
			if llmMatch != nil {
				best = llmMatch
			} else if len(structuralMatches) > 0 {
				m := structuralMatches[0]
				best = &m
			}
			usedLLM = true
		} else if len(structuralMatches) > 0 {
			m := structuralMatches[0]
			best = &m
		}
	} else if len(structuralMatches) > 0 {
		m := structuralMatches[0]
		best = &m
	}

	rankedCauses := a.rankRootCauses(fpg)
	propagationChain := extractPrimaryChain(fpg)
	recommendations := a.generateRecommendations(best, rankedCauses)

	confidence := 0.5
	if best != nil {
		confidence = best.SimilarityScore
	}

	method := "hybrid_heuristic"
	if usedLLM {
		method = "hybrid_llm"
	}

	return RootCauseResult{
		RootCauses:            rankedCauses,
		FaultPropagationChain: propagationChain,
		MatchedPattern:        best,
		Recommendations:       recommendations,
		ConfidenceScore:       confidence,
		AnalysisMethod:        method,
	}
}

// matchByStructure scores every library pattern against the FPG's
// dominant event-type sequence and returns the relevant ones
// (similarity > structuralMatchThreshold), highest similarity first.
func (a *RootCauseAnalyzer) matchByStructure(fpg *FaultPropagationGraph) []PatternMatch {
	sequence := eventTypeSequence(fpg)

	var matches []PatternMatch
	for _, pattern := range defaultPatternLibrary {
		similarity := sequenceSimilarity(sequence, pattern.eventSequence)
		if similarity > structuralMatchThreshold {
			matches = append(matches, PatternMatch{
				PatternName:     pattern.name,
				SimilarityScore: similarity,
				MatchedBy:       "structure",
				Reasoning:       fmt.Sprintf("Event sequence overlap: %.2f", similarity),
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].SimilarityScore > matches[j].SimilarityScore
	})
	return matches
}

// eventTypeSequence returns the dominant causal chain's abstract types,
// falling back to every node's abstract type (in insertion order) when
// the FPG has no causal chains at all.
func eventTypeSequence(fpg *FaultPropagationGraph) []string {
	chains := fpg.CausalChains()
	if len(chains) == 0 {
		types := make([]string, 0, len(fpg.Nodes))
		for _, id := range fpg.nodeOrder {
			types = append(types, fpg.Nodes[id].AbstractType)
		}
		return types
	}

	longest := chains[0]
	for _, chain := range chains[1:] {
		if len(chain) > len(longest) {
			longest = chain
		}
	}

	types := make([]string, 0, len(longest))
	for _, event := range longest {
		types = append(types, event.AbstractType)
	}
	return types
}

// sequenceSimilarity is a Jaccard index over the two sequences' event
// types, ignoring order and repetition.
func sequenceSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	overlap := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			overlap++
		}
	}

	union := make(map[string]struct{}, len(setA)+len(setB))
	for t := range setA {
		union[t] = struct{}{}
	}
	for t := range setB {
		union[t] = struct{}{}
	}

	if len(union) == 0 {
		return 0.0
	}
	return float64(overlap) / float64(len(union))
}

// rankRootCauses scores every root-cause node against KGroot Equation
// 3: e = argmax(Wt*Nt(e) + Wd*Nd(e)), equal-weighted time proximity
// and graph-distance proximity to the alarm event (the most recent
// node in the graph).
func (a *RootCauseAnalyzer) rankRootCauses(fpg *FaultPropagationGraph) []RankedCause {
	if len(fpg.RootCauses) == 0 {
		return nil
	}

	alarmEvent, ok := alarmEvent(fpg)
	if !ok {
		return nil
	}

	ranked := make([]RankedCause, 0, len(fpg.RootCauses))
	for _, rootID := range fpg.RootCauses {
		rootEvent := fpg.Nodes[rootID]

		timeDiff := alarmEvent.Timestamp.Sub(rootEvent.Timestamp).Seconds()
		if timeDiff < 0 {
			timeDiff = -timeDiff
		}
		timeRank := 1.0 / (1.0 + timeDiff)

		graphDistance := computeGraphDistance(rootEvent.ID, alarmEvent.ID, fpg)
		distanceRank := 1.0 / (1.0 + float64(graphDistance))

		rankScore := 0.5*timeRank + 0.5*distanceRank

		ranked = append(ranked, RankedCause{
			Event:        rootEvent,
			RankScore:    rankScore,
			TimeRank:     timeRank,
			DistanceRank: distanceRank,
			Reasoning:    fmt.Sprintf("Time diff: %.1fs, Graph distance: %d", timeDiff, graphDistance),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RankScore > ranked[j].RankScore
	})
	return ranked
}

// alarmEvent returns the most recent event in the graph, the KGroot
// "alarm" that root-cause ranking measures distance from.
func alarmEvent(fpg *FaultPropagationGraph) (models.KGrootEvent, bool) {
	if len(fpg.nodeOrder) == 0 {
		return models.KGrootEvent{}, false
	}

	latest := fpg.Nodes[fpg.nodeOrder[0]]
	for _, id := range fpg.nodeOrder[1:] {
		candidate := fpg.Nodes[id]
		if candidate.Timestamp.After(latest.Timestamp) {
			latest = candidate
		}
	}
	return latest, true
}

// computeGraphDistance is a BFS shortest-path length (in edges, any
// relation type) from sourceID to targetID, returning
// unreachableGraphDistance when no path exists.
func computeGraphDistance(sourceID, targetID string, fpg *FaultPropagationGraph) int {
	if sourceID == targetID {
		return 0
	}

	type queued struct {
		id       string
		distance int
	}

	visited := make(map[string]bool)
	queue := []queued{{id: sourceID, distance: 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.id == targetID {
			return current.distance
		}
		if visited[current.id] {
			continue
		}
		visited[current.id] = true

		for _, edge := range fpg.OutgoingEdges(current.id) {
			if !visited[edge.To] {
				queue = append(queue, queued{id: edge.To, distance: current.distance + 1})
			}
		}
	}

	return unreachableGraphDistance
}

// extractPrimaryChain returns the longest causal chain in the graph,
// or nil if the graph has none.
func extractPrimaryChain(fpg *FaultPropagationGraph) []models.KGrootEvent {
	chains := fpg.CausalChains()
	if len(chains) == 0 {
		return nil
	}

	longest := chains[0]
	for _, chain := range chains[1:] {
		if len(chain) > len(longest) {
			longest = chain
		}
	}
	return longest
}

// generateRecommendations assembles the final recommendation list:
// the matched pattern's canned recommendations, a generic nudge keyed
// on the top root cause's abstract type, and a fallback pair if
// nothing else produced anything.
func (a *RootCauseAnalyzer) generateRecommendations(match *PatternMatch, rankedCauses []RankedCause) []string {
	var recommendations []string

	if match != nil {
		for _, pattern := range defaultPatternLibrary {
			if pattern.name == match.PatternName {
				recommendations = append(recommendations, pattern.recommendations...)
				break
			}
		}
	}

	if len(rankedCauses) > 0 {
		switch rankedCauses[0].Event.AbstractType {
		case "OOM_KILLED":
			recommendations = append(recommendations, "Increase memory limits in pod specification")
		case "CPU_SPIKE":
			recommendations = append(recommendations, "Increase CPU limits or optimize application performance")
		case "IMAGE_PULL_FAILURE":
			recommendations = append(recommendations, "Verify image registry credentials and network connectivity")
		}
	}

	if len(recommendations) == 0 {
		recommendations = append(recommendations,
			"Review pod logs and events for more details",
			"Check resource quotas and node capacity",
		)
	}

	return recommendations
}
