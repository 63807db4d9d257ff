package kgroot

import (
	"context"
	"math"
	"sort"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// DefaultMaxAssociatedEvents bounds how many existing nodes a new
// event is compared against when building an FPG, keeping the build
// near-linear instead of O(n^2) (build_fpg's max_associated_events).
const DefaultMaxAssociatedEvents = 5

// fpgRelationshipThreshold is the minimum confidence build_fpg
// requires before it will record an edge for the best candidate
// relationship found for a new event.
const fpgRelationshipThreshold = 0.5

// FPGEdge is one directed edge in a FaultPropagationGraph.
type FPGEdge struct {
	From     string
	To       string
	Relation RelationType
}

// FaultPropagationGraph is the directed graph FPGBuilder constructs:
// nodes are KGrootEvents keyed by ID, edges record causal/sequential
// links discovered between them, and RootCauses lists the node IDs
// with no incoming causal edge.
type FaultPropagationGraph struct {
	Nodes      map[string]models.KGrootEvent
	nodeOrder  []string
	Edges      []FPGEdge
	RootCauses []string
}

// NewFaultPropagationGraph returns an empty graph.
func NewFaultPropagationGraph() *FaultPropagationGraph {
	return &FaultPropagationGraph{Nodes: make(map[string]models.KGrootEvent)}
}

// AddEvent adds event as a node, recording first-seen order.
func (g *FaultPropagationGraph) AddEvent(event models.KGrootEvent) {
	if _, exists := g.Nodes[event.ID]; !exists {
		g.nodeOrder = append(g.nodeOrder, event.ID)
	}
	g.Nodes[event.ID] = event
}

// AddRelationship records a directed edge between two already-added
// events.
func (g *FaultPropagationGraph) AddRelationship(source, target models.KGrootEvent, relation RelationType) {
	g.Edges = append(g.Edges, FPGEdge{From: source.ID, To: target.ID, Relation: relation})
}

// IncomingEdges returns all edges whose target is eventID.
func (g *FaultPropagationGraph) IncomingEdges(eventID string) []FPGEdge {
	var edges []FPGEdge
	for _, e := range g.Edges {
		if e.To == eventID {
			edges = append(edges, e)
		}
	}
	return edges
}

// OutgoingEdges returns all edges whose source is eventID.
func (g *FaultPropagationGraph) OutgoingEdges(eventID string) []FPGEdge {
	var edges []FPGEdge
	for _, e := range g.Edges {
		if e.From == eventID {
			edges = append(edges, e)
		}
	}
	return edges
}

// CausalChains returns, for each root cause, the chain of events
// reached by following the first causal outgoing edge at each step —
// a single representative path per root, not every path.
func (g *FaultPropagationGraph) CausalChains() [][]models.KGrootEvent {
	var chains [][]models.KGrootEvent
	for _, rootID := range g.RootCauses {
		chain := g.buildChainFromRoot(rootID, map[string]bool{})
		if len(chain) > 0 {
			chains = append(chains, chain)
		}
	}
	return chains
}

func (g *FaultPropagationGraph) buildChainFromRoot(eventID string, visited map[string]bool) []models.KGrootEvent {
	if visited[eventID] {
		return nil
	}
	visited[eventID] = true

	chain := []models.KGrootEvent{g.Nodes[eventID]}

	for _, edge := range g.OutgoingEdges(eventID) {
		if edge.Relation == RelationCausal {
			chain = append(chain, g.buildChainFromRoot(edge.To, visited)...)
			break
		}
	}
	return chain
}

// FPGNodeView and FPGEdgeView are the JSON-ready shapes ToMap
// produces, mirroring to_dict's storage format.
type FPGNodeView struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Location  string         `json:"location"`
	Timestamp string         `json:"timestamp"`
	Severity  string         `json:"severity"`
	Details   map[string]any `json:"details"`
}

type FPGEdgeView struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relation_type"`
}

type FPGView struct {
	Nodes      []FPGNodeView `json:"nodes"`
	Edges      []FPGEdgeView `json:"edges"`
	RootCauses []string      `json:"root_causes"`
}

// ToView renders the graph in insertion order, the Go analogue of
// to_dict.
func (g *FaultPropagationGraph) ToView() FPGView {
	nodes := make([]FPGNodeView, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		event := g.Nodes[id]
		nodes = append(nodes, FPGNodeView{
			ID:        event.ID,
			EventType: event.AbstractType,
			Location:  event.Location,
			Timestamp: event.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
			Severity:  event.Severity,
			Details:   event.Details,
		})
	}

	edges := make([]FPGEdgeView, 0, len(g.Edges))
	for _, e := range g.Edges {
		edges = append(edges, FPGEdgeView{From: e.From, To: e.To, RelationType: string(e.Relation)})
	}

	return FPGView{Nodes: nodes, Edges: edges, RootCauses: g.RootCauses}
}

// FPGBuilder constructs a FaultPropagationGraph using KGroot paper
// Algorithm 1: iteratively add events in chronological order, linking
// each new event to its best-scoring candidate predecessor.
type FPGBuilder struct {
	engine *CorrelationEngine
}

// NewFPGBuilder returns a builder backed by engine.
func NewFPGBuilder(engine *CorrelationEngine) *FPGBuilder {
	return &FPGBuilder{engine: engine}
}

// BuildFPG implements Algorithm 1. maxAssociatedEvents bounds the
// candidate pool considered for each new event; pass
// DefaultMaxAssociatedEvents unless a caller has a specific reason to
// widen or narrow it.
func (b *FPGBuilder) BuildFPG(ctx context.Context, events []models.KGrootEvent, maxAssociatedEvents int) *FaultPropagationGraph {
	sorted := make([]models.KGrootEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	fpg := NewFaultPropagationGraph()

	for _, event := range sorted {
		if len(fpg.Nodes) == 0 {
			fpg.AddEvent(event)
			continue
		}

		source, result, found := b.findBestRelationship(ctx, event, fpg, maxAssociatedEvents)

		fpg.AddEvent(event)

		if found && (result.Relation == RelationCausal || result.Relation == RelationSequential) {
			fpg.AddRelationship(source, event, result.Relation)
		}
	}

	fpg.RootCauses = identifyRootCauses(fpg)
	return fpg
}

// findBestRelationship scores every candidate predecessor for
// newEvent and returns the highest-confidence one, if it clears
// fpgRelationshipThreshold.
func (b *FPGBuilder) findBestRelationship(ctx context.Context, newEvent models.KGrootEvent, fpg *FaultPropagationGraph, maxCandidates int) (models.KGrootEvent, CorrelationResult, bool) {
	candidates := candidateEvents(fpg, newEvent, maxCandidates)
	if len(candidates) == 0 {
		return models.KGrootEvent{}, CorrelationResult{}, false
	}

	allNodes := make([]models.KGrootEvent, 0, len(fpg.Nodes))
	for _, id := range fpg.nodeOrder {
		allNodes = append(allNodes, fpg.Nodes[id])
	}

	bestScore := 0.0
	var bestCandidate models.KGrootEvent
	var bestResult CorrelationResult
	haveBest := false

	for _, candidate := range candidates {
		result := b.engine.ClassifyRelationship(ctx, candidate, newEvent, allNodes)
		if result.Confidence > bestScore {
			bestScore = result.Confidence
			bestCandidate = candidate
			bestResult = result
			haveBest = true
		}
	}

	if haveBest && bestScore > fpgRelationshipThreshold {
		return bestCandidate, bestResult, true
	}
	return models.KGrootEvent{}, CorrelationResult{}, false
}

// candidateEvents selects up to maxCandidates prior events to compare
// newEvent against, preferring the same location, mirroring
// _get_candidate_events.
func candidateEvents(fpg *FaultPropagationGraph, newEvent models.KGrootEvent, maxCandidates int) []models.KGrootEvent {
	all := make([]models.KGrootEvent, 0, len(fpg.Nodes))
	for _, id := range fpg.nodeOrder {
		all = append(all, fpg.Nodes[id])
	}
	sort.SliceStable(all, func(i, j int) bool {
		return math.Abs(all[i].Timestamp.Sub(newEvent.Timestamp).Seconds()) < math.Abs(all[j].Timestamp.Sub(newEvent.Timestamp).Seconds())
	})

	var before []models.KGrootEvent
	for _, e := range all {
		if e.Timestamp.Before(newEvent.Timestamp) {
			before = append(before, e)
		}
	}

	var sameLocation, diffLocation []models.KGrootEvent
	for _, e := range before {
		if e.Location == newEvent.Location {
			sameLocation = append(sameLocation, e)
		} else {
			diffLocation = append(diffLocation, e)
		}
	}

	ordered := append(sameLocation, diffLocation...)
	if len(ordered) > maxCandidates {
		ordered = ordered[:maxCandidates]
	}
	return ordered
}

// identifyRootCauses returns node IDs with no incoming causal edge, in
// node insertion order.
func identifyRootCauses(fpg *FaultPropagationGraph) []string {
	var roots []string
	for _, id := range fpg.nodeOrder {
		hasIncomingCausal := false
		for _, edge := range fpg.IncomingEdges(id) {
			if edge.Relation == RelationCausal {
				hasIncomingCausal = true
				break
			}
		}
		if !hasIncomingCausal {
			roots = append(roots, id)
		}
	}
	return roots
}

// FPGDepth returns the longest causal path length (in nodes) starting
// from any root cause.
func FPGDepth(fpg *FaultPropagationGraph) int {
	maxDepth := 0
	for _, rootID := range fpg.RootCauses {
		depth := pathLengthFromRoot(fpg, rootID, map[string]bool{})
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	return maxDepth
}

func pathLengthFromRoot(fpg *FaultPropagationGraph, eventID string, visited map[string]bool) int {
	if visited[eventID] {
		return 0
	}
	visitedCopy := make(map[string]bool, len(visited)+1)
	for k := range visited {
		visitedCopy[k] = true
	}
	visitedCopy[eventID] = true

	var causalEdges []FPGEdge
	for _, edge := range fpg.OutgoingEdges(eventID) {
		if edge.Relation == RelationCausal {
			causalEdges = append(causalEdges, edge)
		}
	}

	if len(causalEdges) == 0 {
		return 1
	}

	maxChildDepth := 0
	for _, edge := range causalEdges {
		childDepth := pathLengthFromRoot(fpg, edge.To, visitedCopy)
		if childDepth > maxChildDepth {
			maxChildDepth = childDepth
		}
	}
	return 1 + maxChildDepth
}
