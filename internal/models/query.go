package models

import (
	"fmt"
	"strings"
)

// DefaultTopK is the number of passages retrieved when a request leaves it unset.
const DefaultTopK = 4

// Agent actions.
const (
	ActionRefuse             = "refuse"
	ActionEscalate           = "escalate"
	ActionRetrieveDocument   = "retrieve_document"
	ActionSummarizeProcedure = "summarize_procedure"
)

// Safety decisions.
const (
	SafetyAllow    = "allow"
	SafetyRefuse   = "refuse"
	SafetyEscalate = "escalate"
)

// SafetyDecision is the outcome of classifying user text. Exactly one action is set.
type SafetyDecision struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// QueryRequest is the input of the query operation.
type QueryRequest struct {
	Text            string `json:"text"`
	TopK            int    `json:"top_k,omitempty"`
	AllowGeneration bool   `json:"allow_generation,omitempty"`
}

// Validate checks the request and applies the default top_k when it is zero.
func (q *QueryRequest) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: query text cannot be empty", ErrInvalidArgument)
	}
	if q.TopK < 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidArgument, q.TopK)
	}
	if q.TopK == 0 {
		q.TopK = DefaultTopK
	}
	return nil
}

// AgentResponse is the orchestrator output for one query.
type AgentResponse struct {
	Action    string            `json:"action"`
	Answer    string            `json:"answer"`
	Language  string            `json:"language"`
	Retrieved []RetrievedResult `json:"-"`
	EvalHooks map[string]any    `json:"eval_hooks"`
}

// Sources returns the ordered source identifiers of the retrieved passages.
func (r *AgentResponse) Sources() []string {
	out := make([]string, 0, len(r.Retrieved))
	for _, res := range r.Retrieved {
		out = append(out, res.Source)
	}
	return out
}

// QueryResponse is the wire shape of a query result.
type QueryResponse struct {
	Action           string         `json:"action"`
	Answer           string         `json:"answer"`
	Language         string         `json:"language"`
	RetrievedSources []string       `json:"retrieved_sources"`
	EvalHooks        map[string]any `json:"eval_hooks"`
}

// ToQueryResponse converts r to its wire shape.
func (r *AgentResponse) ToQueryResponse() QueryResponse {
	return QueryResponse{
		Action:           r.Action,
		Answer:           r.Answer,
		Language:         r.Language,
		RetrievedSources: r.Sources(),
		EvalHooks:        r.EvalHooks,
	}
}

// IngestResult reports one ingestion run.
type IngestResult struct {
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	IndexPath string   `json:"index_path"`
	Skipped   []string `json:"skipped,omitempty"`
}
