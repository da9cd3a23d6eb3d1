// Package agent routes one user request through safety screening, retrieval and
// answer composition, emitting an event at every stage transition.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/dalil/internal/eventlog"
	"github.com/hyperjump/dalil/internal/generation"
	"github.com/hyperjump/dalil/internal/langdetect"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/pkg/utils"
)

// Tool selections recorded in events and eval hooks.
const (
	ToolNone             = "none"
	ToolHuman            = "human"
	ToolRetrieve         = "retrieve"
	ToolRetrieveGenerate = "retrieve+generate"
)

// Generation modes recorded in Generate_Response events.
const (
	ModeRefusal    = "refusal"
	ModeEscalation = "escalation"
	ModeExtractive = "extractive"
	ModeGenerative = "generative"
)

// Classifier screens user text.
type Classifier interface {
	Classify(text string) models.SafetyDecision
}

// Retriever returns the top passages for a query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]models.RetrievedResult, error)
}

// LanguageDetector guesses the language code of a text.
type LanguageDetector interface {
	Detect(text string) (string, error)
}

// Observer receives per-request measurements.
type Observer interface {
	ObserveQuery(action string)
	ObserveQueryError(kind string)
	ObserveGeneration(d time.Duration, err error)
}

// Orchestrator handles queries. It is safe for concurrent use when its
// collaborators are.
type Orchestrator struct {
	classifier Classifier
	retriever  Retriever
	generator  generation.Provider
	detector   LanguageDetector
	sink       eventlog.Sink
	observer   Observer
	logger     *zap.Logger
	newID      func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGenerator sets the generation provider used when a request allows generation.
func WithGenerator(g generation.Provider) Option {
	return func(o *Orchestrator) { o.generator = g }
}

// WithDetector overrides the language detector.
func WithDetector(d LanguageDetector) Option {
	return func(o *Orchestrator) { o.detector = d }
}

// WithSink sets the event sink.
func WithSink(s eventlog.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithObserver sets the metrics observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = utils.OrNop(l) }
}

// New returns an Orchestrator. Without WithGenerator every generative request
// fails with ErrGenerationUnavailable.
func New(classifier Classifier, retriever Retriever, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		classifier: classifier,
		retriever:  retriever,
		generator:  generation.Unavailable{},
		detector:   langdetect.New(),
		sink:       eventlog.Nop{},
		logger:     zap.NewNop(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle runs one request to completion. Retrieval and generation failures are
// returned unchanged in kind; language detection never fails the request.
func (o *Orchestrator) Handle(ctx context.Context, req models.QueryRequest) (*models.AgentResponse, error) {
	resp, err := o.handle(ctx, req)
	if o.observer != nil {
		if err != nil {
			o.observer.ObserveQueryError(models.ErrorKind(err))
		} else {
			o.observer.ObserveQuery(resp.Action)
		}
	}
	return resp, err
}

func (o *Orchestrator) handle(ctx context.Context, req models.QueryRequest) (*models.AgentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := o.newID()
	lang := o.language(req.Text)
	o.sink.Emit(eventlog.LogInteraction, map[string]any{
		"interaction_id": id,
		"user_text":      req.Text,
		"language":       lang,
	})

	decision := o.classifier.Classify(req.Text)
	o.sink.Emit(eventlog.SafetyCheck, map[string]any{
		"action": decision.Action,
		"reason": decision.Reason,
	})

	resp := &models.AgentResponse{
		Language:  lang,
		EvalHooks: map[string]any{"interaction_id": id},
	}

	switch decision.Action {
	case models.SafetyRefuse:
		o.decline(resp, ToolNone, "safety_refusal", ModeRefusal)
		resp.Action = models.ActionRefuse
		resp.Answer = RefusalAnswer(decision.Reason)
		return resp, nil
	case models.SafetyEscalate:
		o.decline(resp, ToolHuman, "escalation_trigger", ModeEscalation)
		resp.Action = models.ActionEscalate
		resp.Answer = EscalationAnswer()
		return resp, nil
	}

	tool := ToolRetrieve
	if req.AllowGeneration {
		tool = ToolRetrieveGenerate
	}
	o.sink.Emit(eventlog.ToolSelect, map[string]any{"selected": tool, "top_k": req.TopK})

	results, err := o.retriever.Retrieve(ctx, req.Text, req.TopK)
	if err != nil {
		o.sink.Emit(eventlog.ToolResult, map[string]any{
			"selected": tool,
			"error":    models.ErrorKind(err),
		})
		return nil, fmt.Errorf("retrieve passages: %w", err)
	}
	resp.Retrieved = results
	o.sink.Emit(eventlog.ToolResult, map[string]any{
		"selected":          tool,
		"retrieved_count":   len(results),
		"retrieved_sources": resp.Sources(),
	})

	if !req.AllowGeneration {
		o.sink.Emit(eventlog.GenerateResponse, map[string]any{"mode": ModeExtractive})
		resp.Action = models.ActionRetrieveDocument
		resp.Answer = ExtractiveAnswer(results)
		resp.EvalHooks["after_Tool_Select"] = map[string]any{"selected": ToolRetrieve, "top_k": req.TopK}
		resp.EvalHooks["after_Generate_Response"] = map[string]any{"type": "extractive", "grounded": true}
		return resp, nil
	}

	return o.generate(ctx, req, resp)
}

func (o *Orchestrator) generate(ctx context.Context, req models.QueryRequest, resp *models.AgentResponse) (*models.AgentResponse, error) {
	model := o.generator.Model()
	start := time.Now()
	text, err := o.generator.Generate(ctx, GroundingPrompt(req.Text, resp.Retrieved))
	if o.observer != nil {
		o.observer.ObserveGeneration(time.Since(start), err)
	}
	if err != nil {
		o.sink.Emit(eventlog.GenerateResponse, map[string]any{
			"mode":  ModeGenerative,
			"model": model,
			"error": models.ErrorKind(err),
		})
		o.logger.Warn("Generation failed", zap.String("model", model), zap.Error(err))
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	o.sink.Emit(eventlog.GenerateResponse, map[string]any{"mode": ModeGenerative, "model": model})

	answer := strings.TrimSpace(text)
	fallback := answer == ""
	if fallback {
		o.logger.Debug("Blank generation, using extractive answer", zap.String("model", model))
		answer = ExtractiveAnswer(resp.Retrieved)
	}

	resp.Action = models.ActionSummarizeProcedure
	resp.Answer = answer
	resp.EvalHooks["after_Tool_Select"] = map[string]any{
		"selected": ToolRetrieveGenerate,
		"model":    model,
		"top_k":    req.TopK,
	}
	resp.EvalHooks["after_Generate_Response"] = map[string]any{
		"type":     "llm",
		"grounded": true,
		"fallback": fallback,
	}
	return resp, nil
}

// decline records the tool selection and response mode of a request that is
// answered without retrieval.
func (o *Orchestrator) decline(resp *models.AgentResponse, tool, reason, mode string) {
	o.sink.Emit(eventlog.ToolSelect, map[string]any{"selected": tool, "reason": reason})
	o.sink.Emit(eventlog.GenerateResponse, map[string]any{"mode": mode})
	resp.EvalHooks["after_Tool_Select"] = map[string]any{"selected": tool, "reason": reason}
	resp.EvalHooks["after_Generate_Response"] = map[string]any{"type": mode}
}

func (o *Orchestrator) language(text string) string {
	lang, err := o.detector.Detect(text)
	if err != nil || lang == "" {
		o.logger.Debug("Language undetermined", zap.Error(err))
		return langdetect.Unknown
	}
	return lang
}
