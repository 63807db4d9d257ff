package models

// RelationType is the classified relationship between two KGroot events.
type RelationType string

const (
	RelationCausal     RelationType = "causal"
	RelationSequential RelationType = "sequential"
	RelationNone       RelationType = "none"
)

// CorrelationMethod records which tier of the correlation engine produced
// a classification.
type CorrelationMethod string

const (
	MethodHeuristic CorrelationMethod = "heuristic"
	MethodPattern   CorrelationMethod = "pattern"
	MethodLLM       CorrelationMethod = "llm"
)

// CorrelationResult is the output of classifying one ordered pair of
// events.
type CorrelationResult struct {
	Relation   RelationType      `json:"relation"`
	Confidence float64           `json:"confidence"`
	Reasoning  string            `json:"reasoning"`
	Method     CorrelationMethod `json:"method"`
}

// FPGEdge is one directed edge of a Fault Propagation Graph.
type FPGEdge struct {
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	Relation   RelationType      `json:"relation"`
	Confidence float64           `json:"confidence"`
	Reasoning  string            `json:"reasoning,omitempty"`
	Method     CorrelationMethod `json:"method,omitempty"`
}

// FPG is the Fault Propagation Graph: nodes are KGroot Events, edges carry
// a classified relation. Root causes are nodes with zero incoming causal
// edges.
type FPG struct {
	Nodes []KGrootEvent `json:"nodes"`
	Edges []FPGEdge     `json:"edges"`
}

// RankedCause is one root-cause candidate after KGroot Equation 3 ranking.
type RankedCause struct {
	Event      KGrootEvent `json:"event"`
	TimeRank   float64     `json:"time_rank"`
	DistRank   float64     `json:"distance_rank"`
	Score      float64     `json:"score"`
	Confidence float64     `json:"confidence"`
}

// RootCauseMethod records whether the analyzer's final verdict relied on
// the pattern library alone or escalated to LLM verification.
type RootCauseMethod string

const (
	RootCauseHybridHeuristic RootCauseMethod = "hybrid_heuristic"
	RootCauseHybridLLM       RootCauseMethod = "hybrid_llm"
)

// RootCauseReport is the final structured output of the KGroot analyzer.
type RootCauseReport struct {
	RankedCauses           []RankedCause   `json:"ranked_causes"`
	PrimaryPropagationChain []KGrootEvent  `json:"primary_propagation_chain"`
	MatchedPattern         string          `json:"matched_pattern,omitempty"`
	Recommendations        []string        `json:"recommendations"`
	Confidence             float64         `json:"confidence"`
	Method                 RootCauseMethod `json:"method"`
}
